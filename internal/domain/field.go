package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// FieldKind is the datatype of a custom event field.
// The integer codes are part of the questionnaire import format.
type FieldKind int

const (
	FieldKindStr FieldKind = iota + 1
	FieldKindInt
	FieldKindFloat
	FieldKindBool
	FieldKindDate
	FieldKindDatetime
)

var fieldKindNames = map[FieldKind]string{
	FieldKindStr:      "str",
	FieldKindInt:      "int",
	FieldKindFloat:    "float",
	FieldKindBool:     "bool",
	FieldKindDate:     "date",
	FieldKindDatetime: "datetime",
}

func (k FieldKind) String() string {
	if s, ok := fieldKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("FieldKind(%d)", int(k))
}

func (k FieldKind) Valid() bool {
	_, ok := fieldKindNames[k]
	return ok
}

func ParseFieldKind(s string) (FieldKind, bool) {
	for k, name := range fieldKindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// FieldAssociation names the entity a custom field is attached to.
type FieldAssociation int

const (
	FieldForRegistration FieldAssociation = iota + 1
	FieldForCourse
	FieldForLodgement
)

var fieldAssociationNames = map[FieldAssociation]string{
	FieldForRegistration: "registration",
	FieldForCourse:       "course",
	FieldForLodgement:    "lodgement",
}

func (a FieldAssociation) String() string {
	if s, ok := fieldAssociationNames[a]; ok {
		return s
	}
	return fmt.Sprintf("FieldAssociation(%d)", int(a))
}

func (a FieldAssociation) Valid() bool {
	_, ok := fieldAssociationNames[a]
	return ok
}

func ParseFieldAssociation(s string) (FieldAssociation, bool) {
	for a, name := range fieldAssociationNames {
		if name == s {
			return a, true
		}
	}
	return 0, false
}

// FieldEntry is one allowed value of an enumerated field.
type FieldEntry struct {
	Value string
	Label string
}

// FieldDefinition describes a per-event custom field.
type FieldDefinition struct {
	Name        string
	Kind        FieldKind
	Association FieldAssociation
	Title       string
	// Entries restricts values to an enumeration; nil means free input.
	Entries []FieldEntry
}

var fieldNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// ValidFieldName reports whether name may be used as a custom field name.
func ValidFieldName(name string) bool {
	return fieldNamePattern.MatchString(name)
}

// FieldError reports an invalid custom field value.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

// NormalizeValue checks v against the field kind and entries and returns the
// canonical representation. A nil value is always accepted and clears the field.
func (f FieldDefinition) NormalizeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	out, err := normalizeKind(f.Kind, v)
	if err != nil {
		return nil, &FieldError{Field: f.Name, Reason: err.Error()}
	}
	if f.Entries != nil {
		s := fmt.Sprint(out)
		found := false
		for _, e := range f.Entries {
			if e.Value == s {
				found = true
				break
			}
		}
		if !found {
			return nil, &FieldError{Field: f.Name, Reason: fmt.Sprintf("value %q is not an allowed entry", s)}
		}
	}
	return out, nil
}

func normalizeKind(k FieldKind, v any) (any, error) {
	switch k {
	case FieldKindStr:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string")
		}
		return s, nil
	case FieldKindInt:
		f, ok := NumericValue(v)
		if !ok || f != math.Trunc(f) {
			return nil, fmt.Errorf("expected integer")
		}
		return int64(f), nil
	case FieldKindFloat:
		f, ok := NumericValue(v)
		if !ok {
			return nil, fmt.Errorf("expected number")
		}
		return f, nil
	case FieldKindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean")
		}
		return b, nil
	case FieldKindDate:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected date string")
		}
		d, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("expected date YYYY-MM-DD")
		}
		return d.Format(time.DateOnly), nil
	case FieldKindDatetime:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected datetime string")
		}
		d, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("expected RFC 3339 datetime")
		}
		return d.UTC().Format(time.RFC3339), nil
	default:
		return nil, fmt.Errorf("unknown field kind %d", int(k))
	}
}

// NumericValue extracts a number from the representations produced by JSON
// decoding and by NormalizeValue.
func NumericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// NormalizeFieldValues validates values for the given association against defs.
// Unknown fields and fields of another association are rejected.
func NormalizeFieldValues(defs []FieldDefinition, assoc FieldAssociation, values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for name, v := range values {
		def, ok := findField(defs, name)
		if !ok {
			return nil, &FieldError{Field: name, Reason: "unknown field"}
		}
		if def.Association != assoc {
			return nil, &FieldError{Field: name, Reason: fmt.Sprintf("field belongs to %s", def.Association)}
		}
		nv, err := def.NormalizeValue(v)
		if err != nil {
			return nil, err
		}
		out[name] = nv
	}
	return out, nil
}

func findField(defs []FieldDefinition, name string) (FieldDefinition, bool) {
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return FieldDefinition{}, false
}
