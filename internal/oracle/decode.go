package oracle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"refinery/internal/types"
)

// ReferencePolicy decides what a dangling cross-reference does.
type ReferencePolicy int

const (
	// ReferencesStrict fails the decode with DanglingReference.
	ReferencesStrict ReferencePolicy = iota
	// ReferencesWarn logs every dangling reference and accepts the result.
	ReferencesWarn
)

// ParseReferencePolicy accepts "strict" (or "") and "warn".
func ParseReferencePolicy(s string) (ReferencePolicy, error) {
	switch s {
	case "", "strict":
		return ReferencesStrict, nil
	case "warn":
		return ReferencesWarn, nil
	}
	return ReferencesStrict, fmt.Errorf("unknown reference policy %q (want strict or warn)", s)
}

func (p ReferencePolicy) String() string {
	if p == ReferencesWarn {
		return "warn"
	}
	return "strict"
}

// Decoder turns an untrusted oracle answer into a RefinementResult. It holds
// no per-call state and is safe for concurrent use.
type Decoder struct {
	policy ReferencePolicy
	log    *slog.Logger
}

type DecoderOption func(*Decoder)

func WithReferencePolicy(p ReferencePolicy) DecoderOption {
	return func(d *Decoder) { d.policy = p }
}

func WithDecoderLogger(l *slog.Logger) DecoderOption {
	return func(d *Decoder) {
		if l != nil {
			d.log = l
		}
	}
}

func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{policy: ReferencesStrict, log: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode parses and validates raw. It returns either a result satisfying
// every invariant of the data model, or one of MalformedOracleResponse,
// SchemaMismatch or DanglingReference. It never repairs its input.
func (d *Decoder) Decode(raw []byte) (types.RefinementResult, error) {
	var doc any
	if len(bytes.TrimSpace(raw)) == 0 {
		return types.RefinementResult{}, &types.MalformedResponseError{Err: errors.New("empty payload")}
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return types.RefinementResult{}, &types.MalformedResponseError{Err: err}
	}
	if _, ok := doc.(map[string]any); !ok {
		return types.RefinementResult{}, &types.SchemaMismatchError{
			Path:   "$",
			Reason: fmt.Sprintf("expected an object, got %s", jsonKind(doc)),
		}
	}
	if err := checkShape(raw); err != nil {
		return types.RefinementResult{}, err
	}

	var out types.RefinementResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return types.RefinementResult{}, &types.SchemaMismatchError{Path: "$", Reason: err.Error()}
	}
	if err := checkUniqueIDs(out); err != nil {
		return types.RefinementResult{}, err
	}

	dangling := CheckReferences(out)
	if len(dangling) > 0 {
		if d.policy == ReferencesStrict {
			return types.RefinementResult{}, dangling[0]
		}
		for _, ref := range dangling {
			d.log.Warn("accepting dangling reference", "path", ref.Path, "ref", ref.Ref, "target", ref.Target)
		}
	}
	return out, nil
}

// Decode validates raw with a strict default Decoder.
func Decode(raw []byte) (types.RefinementResult, error) {
	return NewDecoder().Decode(raw)
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	}
	return fmt.Sprintf("%T", v)
}

func checkUniqueIDs(r types.RefinementResult) error {
	check := func(collection string, ids []string) error {
		seen := make(map[string]int, len(ids))
		for i, id := range ids {
			if first, dup := seen[id]; dup {
				return &types.SchemaMismatchError{
					Path:   fmt.Sprintf("%s[%d].id", collection, i),
					Reason: fmt.Sprintf("duplicate id %q (first at %s[%d])", id, collection, first),
				}
			}
			seen[id] = i
		}
		return nil
	}
	epicIDs := make([]string, len(r.Epics))
	for i, e := range r.Epics {
		epicIDs[i] = e.ID
	}
	storyIDs := make([]string, len(r.UserStories))
	for i, s := range r.UserStories {
		storyIDs[i] = s.ID
	}
	featureIDs := make([]string, len(r.Features))
	for i, f := range r.Features {
		featureIDs[i] = f.ID
	}
	taskIDs := make([]string, len(r.Tasks))
	for i, t := range r.Tasks {
		taskIDs[i] = t.ID
	}
	for _, c := range []struct {
		name string
		ids  []string
	}{
		{"epics", epicIDs},
		{"userStories", storyIDs},
		{"features", featureIDs},
		{"tasks", taskIDs},
	} {
		if err := check(c.name, c.ids); err != nil {
			return err
		}
	}
	return nil
}
