package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"refinery/internal/types"
)

var (
	// SuccessColor for successful operations
	SuccessColor = color.New(color.FgGreen, color.Bold)

	// ErrorColor for error messages
	ErrorColor = color.New(color.FgRed, color.Bold)

	// WarningColor for warning messages
	WarningColor = color.New(color.FgYellow, color.Bold)

	// InfoColor for informational messages
	InfoColor = color.New(color.FgCyan, color.Bold)

	// TitleColor for titles and headers
	TitleColor = color.New(color.FgMagenta, color.Bold)

	dimColor = color.New(color.Faint)
)

func printSuccess(w io.Writer, format string, args ...any) {
	SuccessColor.Fprintf(w, "✅ "+format+"\n", args...)
}

func printWarning(w io.Writer, format string, args ...any) {
	WarningColor.Fprintf(w, "⚠️  "+format+"\n", args...)
}

// PrintError writes err and its hint, if any, to w.
func PrintError(w io.Writer, err error) {
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		ErrorColor.Fprintf(w, "❌ %s\n", cliErr.Message)
		if cliErr.Hint != "" {
			InfoColor.Fprintf(w, "ℹ️  %s\n", cliErr.Hint)
		}
		return
	}
	ErrorColor.Fprintf(w, "❌ %v\n", err)
}

func priorityBadge(p types.Priority) string {
	label := "[" + string(p) + "]"
	switch p {
	case types.PriorityHigh:
		return color.New(color.FgRed, color.Bold).Sprint(label)
	case types.PriorityMedium:
		return color.New(color.FgYellow).Sprint(label)
	case types.PriorityLow:
		return color.New(color.FgGreen).Sprint(label)
	}
	return label
}

func hoursBadge(h float64) string {
	return InfoColor.Sprint("[" + strconv.FormatFloat(h, 'f', -1, 64) + "h]")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RenderResult prints a refinement as an outline: stories under their epic,
// tasks under their feature. Items whose reference does not resolve are
// listed under "Unlinked".
func RenderResult(w io.Writer, r types.RefinementResult) {
	if r.Empty() {
		printWarning(w, "The refinement is empty")
		return
	}

	storiesByEpic := make(map[string][]types.UserStory)
	epicIDs := make(map[string]bool, len(r.Epics))
	for _, e := range r.Epics {
		epicIDs[e.ID] = true
	}
	var orphanStories []types.UserStory
	for _, s := range r.UserStories {
		if !epicIDs[s.EpicID] {
			orphanStories = append(orphanStories, s)
			continue
		}
		storiesByEpic[s.EpicID] = append(storiesByEpic[s.EpicID], s)
	}

	TitleColor.Fprintf(w, "🎯 Epics (%d)\n", len(r.Epics))
	for _, e := range r.Epics {
		fmt.Fprintf(w, "%s %s %s\n", priorityBadge(e.Priority), e.Title, dimColor.Sprint("("+e.ID+")"))
		if e.Description != "" {
			fmt.Fprintf(w, "    %s\n", e.Description)
		}
		for _, s := range storiesByEpic[e.ID] {
			renderStory(w, s, "    ")
		}
	}

	tasksByFeature := make(map[string][]types.Task)
	featureIDs := make(map[string]bool, len(r.Features))
	for _, f := range r.Features {
		featureIDs[f.ID] = true
	}
	var orphanTasks []types.Task
	for _, t := range r.Tasks {
		if !featureIDs[t.FeatureID] {
			orphanTasks = append(orphanTasks, t)
			continue
		}
		tasksByFeature[t.FeatureID] = append(tasksByFeature[t.FeatureID], t)
	}

	fmt.Fprintln(w)
	TitleColor.Fprintf(w, "🧩 Features (%d)\n", len(r.Features))
	for _, f := range r.Features {
		fmt.Fprintf(w, "%s %s\n", f.Title, dimColor.Sprint("("+f.ID+")"))
		if len(f.UserStoryIDs) > 0 {
			fmt.Fprintf(w, "    stories: %s\n", strings.Join(f.UserStoryIDs, ", "))
		}
		for _, t := range tasksByFeature[f.ID] {
			renderTask(w, t, "    ")
		}
	}

	if len(orphanStories) > 0 || len(orphanTasks) > 0 {
		fmt.Fprintln(w)
		WarningColor.Fprintln(w, "Unlinked")
		for _, s := range orphanStories {
			renderStory(w, s, "    ")
		}
		for _, t := range orphanTasks {
			renderTask(w, t, "    ")
		}
	}

	fmt.Fprintln(w)
	InfoColor.Fprintf(w, "📊 %d epics, %d stories, %d features, %d tasks, %sh estimated\n",
		len(r.Epics), len(r.UserStories), len(r.Features), len(r.Tasks),
		strconv.FormatFloat(r.TotalHours(), 'f', -1, 64))
}

func renderStory(w io.Writer, s types.UserStory, indent string) {
	fmt.Fprintf(w, "%s• As a %s, I want %s so that %s %s\n", indent, s.Role, s.Goal, s.Reason, dimColor.Sprint("("+s.ID+")"))
	for _, ac := range s.AcceptanceCriteria {
		fmt.Fprintf(w, "%s    ✓ %s\n", indent, ac)
	}
}

func renderTask(w io.Writer, t types.Task, indent string) {
	fmt.Fprintf(w, "%s%s %s %s %s\n", indent, priorityBadge(t.Priority), hoursBadge(t.EstimatedHours), t.Summary, dimColor.Sprint("("+t.ID+")"))
}

// RenderRecords prints one line per stored record, newest first as given.
func RenderRecords(w io.Writer, recs []types.Record) {
	if len(recs) == 0 {
		printWarning(w, "No refinements stored yet")
		return
	}
	for _, rec := range recs {
		fmt.Fprintf(w, "%s  %s  %s\n",
			dimColor.Sprint(rec.CreatedAt.Local().Format(time.DateTime)),
			InfoColor.Sprint(rec.InputID),
			summarize(rec.RawText, 60),
		)
		fmt.Fprintf(w, "    revision %s: %d epics, %d stories, %d features, %d tasks\n",
			rec.ID, len(rec.Result.Epics), len(rec.Result.UserStories), len(rec.Result.Features), len(rec.Result.Tasks))
	}
}

// summarize returns the first line of text cut to limit runes.
func summarize(text string, limit int) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	if r := []rune(line); len(r) > limit {
		return string(r[:limit-1]) + "…"
	}
	return line
}
