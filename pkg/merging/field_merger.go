package merging

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Ramsey-B/fern/pkg/models"
)

// FieldMerger resolves the survivor's mergeable fields against one loser.
type FieldMerger struct {
	fields     []string
	notesField string
	delimiter  string
}

// NewFieldMerger creates a FieldMerger. notesField, when listed in fields, is appended rather
// than picked.
func NewFieldMerger(fields []string, notesField, delimiter string) *FieldMerger {
	return &FieldMerger{
		fields:     fields,
		notesField: notesField,
		delimiter:  delimiter,
	}
}

// Plan returns the per-field change log and the partial update to send for the survivor. Both
// are empty when the survivor already holds the best value for every field.
func (m *FieldMerger) Plan(survivor, loser models.Prospect) ([]models.FieldChange, map[string]any) {
	var changes []models.FieldChange
	updates := make(map[string]any)

	for _, field := range m.fields {
		current := survivor.Get(field)
		candidate := loser.Get(field)

		if field == m.notesField {
			merged, changed := m.mergeNotes(current, candidate)
			if changed {
				updates[field] = merged
				changes = append(changes, models.FieldChange{Field: field, From: current, To: merged, Notes: true})
			}
			continue
		}

		best, changed := pickBest(current, candidate)
		if changed {
			updates[field] = best
			changes = append(changes, models.FieldChange{Field: field, From: current, To: best})
		}
	}

	return changes, updates
}

// mergeNotes appends the loser's notes under the delimiter unless they are empty, identical or
// already contained in the survivor's notes.
func (m *FieldMerger) mergeNotes(current, candidate any) (string, bool) {
	mine := strings.TrimSpace(textValue(current))
	theirs := strings.TrimSpace(textValue(candidate))

	if theirs == "" || theirs == mine || strings.Contains(mine, theirs) {
		return "", false
	}
	if mine == "" {
		return theirs, true
	}
	return mine + m.delimiter + theirs, true
}

// pickBest returns the more informative of the survivor's value and the loser's value, and
// whether it differs from the survivor's. The survivor's value wins every tie.
func pickBest(current, candidate any) (any, bool) {
	currentEmpty, candidateEmpty := isEmpty(current), isEmpty(candidate)

	switch {
	case currentEmpty && !candidateEmpty:
		return candidate, true
	case !currentEmpty && !candidateEmpty:
		cs, ok1 := current.(string)
		ls, ok2 := candidate.(string)
		if ok1 && ok2 && utf8.RuneCountInString(ls) > utf8.RuneCountInString(cs) {
			return candidate, true
		}
	}
	return current, false
}

// isEmpty reports whether v carries no information: nil, empty string, zero number, false or an
// empty collection.
func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case bool:
		return !val
	case json.Number:
		f, err := val.Float64()
		return err == nil && f == 0
	case float64:
		return val == 0
	case float32:
		return val == 0
	case int:
		return val == 0
	case int64:
		return val == 0
	case int32:
		return val == 0
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

func textValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
