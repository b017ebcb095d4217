package types

import "time"

// Priority is the closed set of priorities an epic or task may carry.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// Priorities lists every valid Priority in display order.
var Priorities = []Priority{PriorityHigh, PriorityMedium, PriorityLow}

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Refinement payload ---------------------------------------------------------------

type Epic struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
}

type UserStory struct {
	ID                 string   `json:"id"`
	EpicID             string   `json:"epicId"`
	Role               string   `json:"role"`
	Goal               string   `json:"goal"`
	Reason             string   `json:"reason"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
}

type Feature struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	UserStoryIDs []string `json:"userStoryIds"`
}

type Task struct {
	ID             string   `json:"id"`
	FeatureID      string   `json:"featureId"`
	Summary        string   `json:"summary"`
	Description    string   `json:"description"`
	EstimatedHours float64  `json:"estimatedHours"`
	Priority       Priority `json:"priority"`
}

// RefinementResult is the unit produced by one oracle call and the unit persisted.
// It is never edited in place; a new refinement yields a new result.
type RefinementResult struct {
	Epics       []Epic      `json:"epics"`
	UserStories []UserStory `json:"userStories"`
	Features    []Feature   `json:"features"`
	Tasks       []Task      `json:"tasks"`
}

// Empty reports whether the result carries no items at all.
func (r RefinementResult) Empty() bool {
	return len(r.Epics) == 0 && len(r.UserStories) == 0 && len(r.Features) == 0 && len(r.Tasks) == 0
}

// TotalHours sums the estimates of every task.
func (r RefinementResult) TotalHours() float64 {
	var total float64
	for _, t := range r.Tasks {
		total += t.EstimatedHours
	}
	return total
}

// Persisted history ----------------------------------------------------------------

// RefinementInput is the raw text a user submitted, shared by all of its revisions.
type RefinementInput struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	RawText          string    `json:"rawText"`
	CreatedAt        time.Time `json:"createdAt"`
	LatestRevisionID string    `json:"latestRevisionId"`
}

// RefinementRevision is one generated result for an input.
type RefinementRevision struct {
	ID        string    `json:"id"`
	InputID   string    `json:"inputId"`
	CreatedAt time.Time `json:"createdAt"`
	RefinementResult
}

// Record is a stored revision flattened together with its input, i.e. one
// persistence row.
type Record struct {
	ID        string           `json:"id"`
	InputID   string           `json:"inputId"`
	UserID    string           `json:"userId"`
	RawText   string           `json:"rawText"`
	Result    RefinementResult `json:"result"`
	CreatedAt time.Time        `json:"createdAt"`
}

func (r Record) Input() RefinementInput {
	return RefinementInput{
		ID:               r.InputID,
		UserID:           r.UserID,
		RawText:          r.RawText,
		CreatedAt:        r.CreatedAt,
		LatestRevisionID: r.ID,
	}
}

func (r Record) Revision() RefinementRevision {
	return RefinementRevision{
		ID:               r.ID,
		InputID:          r.InputID,
		CreatedAt:        r.CreatedAt,
		RefinementResult: r.Result,
	}
}
