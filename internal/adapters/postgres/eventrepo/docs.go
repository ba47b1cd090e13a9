package eventrepo

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

// JSON document shapes of the event aggregate columns.

type partDoc struct {
	ID            string    `json:"id"`
	Shortname     string    `json:"shortname"`
	Title         string    `json:"title"`
	Begin         time.Time `json:"begin"`
	End           time.Time `json:"end"`
	WaitlistField string    `json:"waitlist_field,omitempty"`
}

type trackDoc struct {
	ID         string `json:"id"`
	PartID     string `json:"part_id"`
	Shortname  string `json:"shortname"`
	Title      string `json:"title"`
	NumChoices int    `json:"num_choices"`
}

type entryDoc struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type fieldDoc struct {
	Name        string     `json:"name"`
	Kind        int        `json:"kind"`
	Association int        `json:"association"`
	Title       string     `json:"title,omitempty"`
	Entries     []entryDoc `json:"entries,omitempty"`
}

type questionnaireDoc struct {
	FieldName    string `json:"field_name,omitempty"`
	Title        string `json:"title"`
	Info         string `json:"info,omitempty"`
	ReadOnly     bool   `json:"readonly,omitempty"`
	DefaultValue string `json:"default_value,omitempty"`
}

// eventDocs holds the encoded JSONB columns of an event row.
type eventDocs struct {
	parts, tracks, fields, questionnaire []byte
}

type regPartDoc struct {
	Status      string  `json:"status"`
	LodgementID *string `json:"lodgement_id,omitempty"`
}

type regTrackDoc struct {
	CourseChoices []string `json:"course_choices"`
	CourseID      *string  `json:"course_id,omitempty"`
}

func encodeEventDocs(e domain.Event) (docs eventDocs, err error) {
	pd := make([]partDoc, 0, len(e.Parts))
	for _, p := range e.Parts {
		pd = append(pd, partDoc{
			ID:            string(p.ID),
			Shortname:     p.Shortname,
			Title:         p.Title,
			Begin:         p.Begin.UTC(),
			End:           p.End.UTC(),
			WaitlistField: p.WaitlistField,
		})
	}
	td := make([]trackDoc, 0, len(e.Tracks))
	for _, t := range e.Tracks {
		td = append(td, trackDoc{
			ID:         string(t.ID),
			PartID:     string(t.PartID),
			Shortname:  t.Shortname,
			Title:      t.Title,
			NumChoices: t.NumChoices,
		})
	}
	fd := make([]fieldDoc, 0, len(e.Fields))
	for _, f := range e.Fields {
		doc := fieldDoc{Name: f.Name, Kind: int(f.Kind), Association: int(f.Association), Title: f.Title}
		for _, en := range f.Entries {
			doc.Entries = append(doc.Entries, entryDoc{Value: en.Value, Label: en.Label})
		}
		fd = append(fd, doc)
	}
	qd := make([]questionnaireDoc, 0, len(e.Questionnaire))
	for _, q := range e.Questionnaire {
		qd = append(qd, questionnaireDoc(q))
	}
	if docs.parts, err = json.Marshal(pd); err != nil {
		return eventDocs{}, err
	}
	if docs.tracks, err = json.Marshal(td); err != nil {
		return eventDocs{}, err
	}
	if docs.fields, err = json.Marshal(fd); err != nil {
		return eventDocs{}, err
	}
	if docs.questionnaire, err = json.Marshal(qd); err != nil {
		return eventDocs{}, err
	}
	return docs, nil
}

func decodeEventDocs(e *domain.Event, docs eventDocs) error {
	var pd []partDoc
	if err := json.Unmarshal(docs.parts, &pd); err != nil {
		return err
	}
	var td []trackDoc
	if err := json.Unmarshal(docs.tracks, &td); err != nil {
		return err
	}
	var fd []fieldDoc
	if err := json.Unmarshal(docs.fields, &fd); err != nil {
		return err
	}
	var qd []questionnaireDoc
	if err := json.Unmarshal(docs.questionnaire, &qd); err != nil {
		return err
	}
	for _, q := range qd {
		e.Questionnaire = append(e.Questionnaire, domain.QuestionnaireRow(q))
	}
	for _, p := range pd {
		e.Parts = append(e.Parts, domain.EventPart{
			ID:            domain.PartID(p.ID),
			Shortname:     p.Shortname,
			Title:         p.Title,
			Begin:         p.Begin.UTC(),
			End:           p.End.UTC(),
			WaitlistField: p.WaitlistField,
		})
	}
	for _, t := range td {
		e.Tracks = append(e.Tracks, domain.CourseTrack{
			ID:         domain.TrackID(t.ID),
			PartID:     domain.PartID(t.PartID),
			Shortname:  t.Shortname,
			Title:      t.Title,
			NumChoices: t.NumChoices,
		})
	}
	for _, f := range fd {
		def := domain.FieldDefinition{
			Name:        f.Name,
			Kind:        domain.FieldKind(f.Kind),
			Association: domain.FieldAssociation(f.Association),
			Title:       f.Title,
		}
		for _, en := range f.Entries {
			def.Entries = append(def.Entries, domain.FieldEntry{Value: en.Value, Label: en.Label})
		}
		e.Fields = append(e.Fields, def)
	}
	return nil
}

func encodeRegistrationDocs(r domain.Registration) (parts, tracks []byte, err error) {
	pd := make(map[string]regPartDoc, len(r.Parts))
	for id, p := range r.Parts {
		doc := regPartDoc{Status: string(p.Status)}
		if p.LodgementID != nil {
			v := string(*p.LodgementID)
			doc.LodgementID = &v
		}
		pd[string(id)] = doc
	}
	td := make(map[string]regTrackDoc, len(r.Tracks))
	for id, t := range r.Tracks {
		doc := regTrackDoc{CourseChoices: make([]string, 0, len(t.CourseChoices))}
		for _, c := range t.CourseChoices {
			doc.CourseChoices = append(doc.CourseChoices, string(c))
		}
		if t.CourseID != nil {
			v := string(*t.CourseID)
			doc.CourseID = &v
		}
		td[string(id)] = doc
	}
	if parts, err = json.Marshal(pd); err != nil {
		return nil, nil, err
	}
	if tracks, err = json.Marshal(td); err != nil {
		return nil, nil, err
	}
	return parts, tracks, nil
}

func decodeRegistrationDocs(r *domain.Registration, parts, tracks []byte) error {
	var pd map[string]regPartDoc
	if err := json.Unmarshal(parts, &pd); err != nil {
		return err
	}
	var td map[string]regTrackDoc
	if err := json.Unmarshal(tracks, &td); err != nil {
		return err
	}
	r.Parts = make(map[domain.PartID]domain.RegistrationPart, len(pd))
	for id, doc := range pd {
		p := domain.RegistrationPart{Status: domain.RegistrationPartStatus(doc.Status)}
		if doc.LodgementID != nil {
			v := domain.LodgementID(*doc.LodgementID)
			p.LodgementID = &v
		}
		r.Parts[domain.PartID(id)] = p
	}
	r.Tracks = make(map[domain.TrackID]domain.RegistrationTrack, len(td))
	for id, doc := range td {
		t := domain.RegistrationTrack{}
		for _, c := range doc.CourseChoices {
			t.CourseChoices = append(t.CourseChoices, domain.CourseID(c))
		}
		if doc.CourseID != nil {
			v := domain.CourseID(*doc.CourseID)
			t.CourseID = &v
		}
		r.Tracks[domain.TrackID(id)] = t
	}
	return nil
}

func encodeFields(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	return json.Marshal(m)
}

// decodeFields restores custom field values. Whole numbers come back as
// int64 and other numbers as float64, matching domain.NormalizeValue.
func decodeFields(b []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(b) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	for k, v := range out {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			out[k] = i
			continue
		}
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		out[k] = f
	}
	return out, nil
}
