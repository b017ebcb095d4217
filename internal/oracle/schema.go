package oracle

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"refinery/internal/types"
)

const resultSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["epics", "userStories", "features", "tasks"],
  "additionalProperties": false,
  "properties": {
    "epics":       { "type": "array", "items": { "$ref": "#/definitions/epic" } },
    "userStories": { "type": "array", "items": { "$ref": "#/definitions/userStory" } },
    "features":    { "type": "array", "items": { "$ref": "#/definitions/feature" } },
    "tasks":       { "type": "array", "items": { "$ref": "#/definitions/task" } }
  },
  "definitions": {
    "id":       { "type": "string", "minLength": 1 },
    "priority": { "type": "string", "enum": ["High", "Medium", "Low"] },
    "epic": {
      "type": "object",
      "required": ["id", "title", "description", "priority"],
      "properties": {
        "id":          { "$ref": "#/definitions/id" },
        "title":       { "type": "string" },
        "description": { "type": "string" },
        "priority":    { "$ref": "#/definitions/priority" }
      }
    },
    "userStory": {
      "type": "object",
      "required": ["id", "epicId", "role", "goal", "reason", "acceptanceCriteria"],
      "properties": {
        "id":                 { "$ref": "#/definitions/id" },
        "epicId":             { "$ref": "#/definitions/id" },
        "role":               { "type": "string" },
        "goal":               { "type": "string" },
        "reason":             { "type": "string" },
        "acceptanceCriteria": { "type": "array", "items": { "type": "string" } }
      }
    },
    "feature": {
      "type": "object",
      "required": ["id", "title", "description", "userStoryIds"],
      "properties": {
        "id":           { "$ref": "#/definitions/id" },
        "title":        { "type": "string" },
        "description":  { "type": "string" },
        "userStoryIds": { "type": "array", "items": { "$ref": "#/definitions/id" } }
      }
    },
    "task": {
      "type": "object",
      "required": ["id", "featureId", "summary", "description", "estimatedHours", "priority"],
      "properties": {
        "id":             { "$ref": "#/definitions/id" },
        "featureId":      { "$ref": "#/definitions/id" },
        "summary":        { "type": "string" },
        "description":    { "type": "string" },
        "estimatedHours": { "type": "number", "exclusiveMinimum": 0 },
        "priority":       { "$ref": "#/definitions/priority" }
      }
    }
  }
}`

// collections in payload order; violations are reported in this order.
var collections = []string{"epics", "userStories", "features", "tasks"}

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func resultSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(resultSchemaJSON))
	})
	return schema, schemaErr
}

// checkShape validates raw against the result schema and returns the first
// violation as a *types.SchemaMismatchError, or nil.
func checkShape(raw []byte) error {
	s, err := resultSchema()
	if err != nil {
		return fmt.Errorf("compile result schema: %w", err)
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return &types.SchemaMismatchError{Path: "$", Reason: err.Error()}
	}
	if res.Valid() {
		return nil
	}
	violations := make([]violation, 0, len(res.Errors()))
	for _, re := range res.Errors() {
		violations = append(violations, newViolation(re))
	}
	sort.SliceStable(violations, func(i, j int) bool { return violations[i].less(violations[j]) })
	first := violations[0]
	return &types.SchemaMismatchError{Path: first.path(), Reason: first.reason}
}

type violation struct {
	segments []string
	reason   string
}

func newViolation(re gojsonschema.ResultError) violation {
	field := re.Field()
	var segs []string
	if field != "" && field != "(root)" {
		segs = strings.Split(field, ".")
	}
	switch re.Type() {
	case "required", "additional_property_not_allowed":
		if prop, ok := re.Details()["property"].(string); ok && prop != "" {
			segs = append(segs, prop)
		}
	}
	return violation{segments: segs, reason: re.Description()}
}

func (v violation) path() string {
	if len(v.segments) == 0 {
		return "$"
	}
	var b strings.Builder
	for i, seg := range v.segments {
		if _, err := strconv.Atoi(seg); err == nil && i > 0 {
			b.WriteString("[" + seg + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}

// key orders violations by collection, then item index, then the rest of the path.
func (v violation) key() (rank int, index int, rest string) {
	if len(v.segments) == 0 {
		return -1, -1, ""
	}
	rank = len(collections)
	for i, c := range collections {
		if v.segments[0] == c {
			rank = i
			break
		}
	}
	index = -1
	if len(v.segments) > 1 {
		if n, err := strconv.Atoi(v.segments[1]); err == nil {
			index = n
		}
	}
	return rank, index, strings.Join(v.segments, ".")
}

func (v violation) less(o violation) bool {
	r1, i1, p1 := v.key()
	r2, i2, p2 := o.key()
	if r1 != r2 {
		return r1 < r2
	}
	if i1 != i2 {
		return i1 < i2
	}
	if p1 != p2 {
		return p1 < p2
	}
	return v.reason < o.reason
}
