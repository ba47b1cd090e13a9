package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cde-ev/cdedb2-sub001/internal/app/apperr"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

// questionnaireImport is the JSON document accepted by ImportQuestionnaire.
// Kind and association may be given as int code or name; the optional
// *_name keys must agree with an int code given alongside.
type questionnaireImport struct {
	Fields        json.RawMessage `json:"fields"`
	Questionnaire []importedRow   `json:"questionnaire"`
}

type importedField struct {
	Kind            json.RawMessage `json:"kind"`
	KindName        *string         `json:"kind_name"`
	Association     json.RawMessage `json:"association"`
	AssociationName *string         `json:"association_name"`
	Title           string          `json:"title"`
	Entries         [][]string      `json:"entries"`
}

type importedRow struct {
	FieldName    *string `json:"field_name"`
	Title        string  `json:"title"`
	Info         string  `json:"info"`
	ReadOnly     bool    `json:"readonly"`
	DefaultValue *string `json:"default_value"`
}

// ImportResult summarises a questionnaire import.
type ImportResult struct {
	FieldsAdded       []string
	QuestionnaireRows int
}

// ImportQuestionnaire adds custom field definitions and replaces the
// questionnaire. The import is all-or-nothing.
func (s *Service) ImportQuestionnaire(ctx context.Context, actor domain.Persona, id domain.EventID, raw []byte) (ImportResult, error) {
	ev, err := s.orgaEvent(ctx, actor, id)
	if err != nil {
		return ImportResult{}, err
	}

	var doc questionnaireImport
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return ImportResult{}, apperr.Validation("body", "malformed questionnaire import: "+err.Error())
	}

	fields := map[string]importedField{}
	if len(doc.Fields) > 0 && string(doc.Fields) != "null" {
		dup, err := firstDuplicateKey(doc.Fields)
		if err != nil {
			return ImportResult{}, apperr.Validation("fields", "malformed field definitions: "+err.Error())
		}
		if dup != "" {
			return ImportResult{}, apperr.Conflict("DUPLICATE_FIELD", fmt.Sprintf("Field %q is defined twice.", dup))
		}
		fdec := json.NewDecoder(bytes.NewReader(doc.Fields))
		fdec.DisallowUnknownFields()
		if err := fdec.Decode(&fields); err != nil {
			return ImportResult{}, apperr.Validation("fields", "malformed field definitions: "+err.Error())
		}
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	added := make([]domain.FieldDefinition, 0, len(names))
	for _, name := range names {
		if !domain.ValidFieldName(name) {
			return ImportResult{}, apperr.Validation("fields."+name, "field names must match [a-z0-9_]+")
		}
		if _, exists := ev.Field(name); exists {
			return ImportResult{}, apperr.Conflict("DUPLICATE_FIELD", fmt.Sprintf("Field %q already exists.", name))
		}
		def, err := parseImportedField(name, fields[name])
		if err != nil {
			return ImportResult{}, apperr.Validation("fields."+name, err.Error())
		}
		added = append(added, def)
	}
	all := append(append([]domain.FieldDefinition(nil), ev.Fields...), added...)

	rows := ev.Questionnaire
	if doc.Questionnaire != nil {
		rows = make([]domain.QuestionnaireRow, 0, len(doc.Questionnaire))
		for i, r := range doc.Questionnaire {
			row, err := parseImportedRow(all, r)
			if err != nil {
				return ImportResult{}, apperr.Validation(fmt.Sprintf("questionnaire[%d]", i), err.Error())
			}
			rows = append(rows, row)
		}
	}

	ev.Fields = all
	ev.Questionnaire = rows
	if _, err := s.saveEvent(ctx, actor, ev); err != nil {
		return ImportResult{}, err
	}
	return ImportResult{FieldsAdded: names, QuestionnaireRows: len(rows)}, nil
}

// firstDuplicateKey returns the first key repeated in a JSON object.
func firstDuplicateKey(raw json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return "", fmt.Errorf("expected an object")
	}
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		key, ok := tok.(string)
		if !ok {
			return "", fmt.Errorf("expected an object key")
		}
		if seen[key] {
			return key, nil
		}
		seen[key] = true
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return "", err
		}
	}
	return "", nil
}

func parseImportedField(name string, f importedField) (domain.FieldDefinition, error) {
	kind, err := parseEnum(f.Kind, f.KindName, "kind", func(code int) bool {
		return domain.FieldKind(code).Valid()
	}, func(s string) (int, bool) {
		k, ok := domain.ParseFieldKind(s)
		return int(k), ok
	})
	if err != nil {
		return domain.FieldDefinition{}, err
	}
	assoc, err := parseEnum(f.Association, f.AssociationName, "association", func(code int) bool {
		return domain.FieldAssociation(code).Valid()
	}, func(s string) (int, bool) {
		a, ok := domain.ParseFieldAssociation(s)
		return int(a), ok
	})
	if err != nil {
		return domain.FieldDefinition{}, err
	}

	def := domain.FieldDefinition{
		Name:        name,
		Kind:        domain.FieldKind(kind),
		Association: domain.FieldAssociation(assoc),
		Title:       strings.TrimSpace(f.Title),
	}
	if def.Title == "" {
		def.Title = name
	}
	if f.Entries != nil {
		def.Entries = make([]domain.FieldEntry, 0, len(f.Entries))
		seen := make(map[string]bool, len(f.Entries))
		for _, e := range f.Entries {
			if len(e) != 2 {
				return domain.FieldDefinition{}, fmt.Errorf("entries must be [value, label] pairs")
			}
			probe := domain.FieldDefinition{Name: name, Kind: def.Kind}
			v, err := probe.NormalizeValue(entryValue(def.Kind, e[0]))
			if err != nil {
				return domain.FieldDefinition{}, fmt.Errorf("entry %q does not match kind %s", e[0], def.Kind)
			}
			value := fmt.Sprint(v)
			if seen[value] {
				return domain.FieldDefinition{}, fmt.Errorf("duplicate entry %q", e[0])
			}
			seen[value] = true
			def.Entries = append(def.Entries, domain.FieldEntry{Value: value, Label: e[1]})
		}
	}
	return def, nil
}

// entryValue converts an entry string to the value representation of kind.
func entryValue(kind domain.FieldKind, s string) any {
	switch kind {
	case domain.FieldKindInt, domain.FieldKindFloat:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case domain.FieldKindBool:
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return s
}

// parseEnum decodes an int-or-name enum with an optional separate name.
func parseEnum(raw json.RawMessage, name *string, what string, validCode func(int) bool, parseName func(string) (int, bool)) (int, error) {
	fromName := func(s string) (int, error) {
		s = strings.TrimSpace(s)
		// Accept qualified names such as "FieldDatatypes.str".
		if i := strings.LastIndex(s, "."); i >= 0 {
			s = s[i+1:]
		}
		code, ok := parseName(s)
		if !ok {
			return 0, fmt.Errorf("unknown %s %q", what, s)
		}
		return code, nil
	}

	var code int
	have := false
	if len(raw) > 0 && string(raw) != "null" {
		var asInt int
		var asString string
		switch {
		case json.Unmarshal(raw, &asInt) == nil:
			if !validCode(asInt) {
				return 0, fmt.Errorf("unknown %s %d", what, asInt)
			}
			code = asInt
		case json.Unmarshal(raw, &asString) == nil:
			c, err := fromName(asString)
			if err != nil {
				return 0, err
			}
			code = c
		default:
			return 0, fmt.Errorf("%s must be an int or a string", what)
		}
		have = true
	}
	if name != nil {
		c, err := fromName(*name)
		if err != nil {
			return 0, err
		}
		if have && c != code {
			return 0, fmt.Errorf("%s %d and %s_name %q disagree", what, code, what, *name)
		}
		code = c
		have = true
	}
	if !have {
		return 0, fmt.Errorf("%s is required", what)
	}
	return code, nil
}

func parseImportedRow(fields []domain.FieldDefinition, r importedRow) (domain.QuestionnaireRow, error) {
	row := domain.QuestionnaireRow{
		Title:    strings.TrimSpace(r.Title),
		Info:     strings.TrimSpace(r.Info),
		ReadOnly: r.ReadOnly,
	}
	if r.FieldName == nil || *r.FieldName == "" {
		if row.Title == "" && row.Info == "" {
			return domain.QuestionnaireRow{}, fmt.Errorf("text rows need a title or info")
		}
		if r.DefaultValue != nil {
			return domain.QuestionnaireRow{}, fmt.Errorf("text rows cannot have a default value")
		}
		return row, nil
	}
	def, ok := findField(fields, *r.FieldName)
	if !ok {
		return domain.QuestionnaireRow{}, fmt.Errorf("unknown field %q", *r.FieldName)
	}
	if def.Association != domain.FieldForRegistration {
		return domain.QuestionnaireRow{}, fmt.Errorf("field %q is not a registration field", def.Name)
	}
	row.FieldName = def.Name
	if r.DefaultValue != nil {
		if _, err := def.NormalizeValue(entryValue(def.Kind, *r.DefaultValue)); err != nil {
			return domain.QuestionnaireRow{}, fmt.Errorf("default value: %v", err)
		}
		row.DefaultValue = *r.DefaultValue
	}
	return row, nil
}

func findField(defs []domain.FieldDefinition, name string) (domain.FieldDefinition, bool) {
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return domain.FieldDefinition{}, false
}
