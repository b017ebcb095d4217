package oracle

import (
	"fmt"

	"refinery/internal/types"
)

// CheckReferences lists every cross-collection id in r that does not resolve
// within r, in payload order: story epicIds, feature userStoryIds, task
// featureIds.
func CheckReferences(r types.RefinementResult) []*types.DanglingReferenceError {
	epics := make(map[string]struct{}, len(r.Epics))
	for _, e := range r.Epics {
		epics[e.ID] = struct{}{}
	}
	stories := make(map[string]struct{}, len(r.UserStories))
	for _, s := range r.UserStories {
		stories[s.ID] = struct{}{}
	}
	features := make(map[string]struct{}, len(r.Features))
	for _, f := range r.Features {
		features[f.ID] = struct{}{}
	}

	var out []*types.DanglingReferenceError
	for i, s := range r.UserStories {
		if _, ok := epics[s.EpicID]; !ok {
			out = append(out, &types.DanglingReferenceError{
				Path: fmt.Sprintf("userStories[%d].epicId", i), Ref: s.EpicID, Target: "epics",
			})
		}
	}
	for i, f := range r.Features {
		for j, id := range f.UserStoryIDs {
			if _, ok := stories[id]; !ok {
				out = append(out, &types.DanglingReferenceError{
					Path: fmt.Sprintf("features[%d].userStoryIds[%d]", i, j), Ref: id, Target: "userStories",
				})
			}
		}
	}
	for i, t := range r.Tasks {
		if _, ok := features[t.FeatureID]; !ok {
			out = append(out, &types.DanglingReferenceError{
				Path: fmt.Sprintf("tasks[%d].featureId", i), Ref: t.FeatureID, Target: "features",
			})
		}
	}
	return out
}
