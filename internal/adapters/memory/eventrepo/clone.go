package eventrepo

import "github.com/cde-ev/cdedb2-sub001/internal/domain"

func cloneEvent(e domain.Event) domain.Event {
	out := e
	out.Orgas = append([]domain.PersonaID(nil), e.Orgas...)
	out.Parts = append([]domain.EventPart(nil), e.Parts...)
	out.Tracks = append([]domain.CourseTrack(nil), e.Tracks...)
	out.Questionnaire = append([]domain.QuestionnaireRow(nil), e.Questionnaire...)
	out.Fields = make([]domain.FieldDefinition, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Entries != nil {
			f.Entries = append([]domain.FieldEntry{}, f.Entries...)
		}
		out.Fields = append(out.Fields, f)
	}
	return out
}

func cloneCourse(c domain.Course) domain.Course {
	out := c
	out.Tracks = append([]domain.TrackID(nil), c.Tracks...)
	out.MinSize = cloneInt(c.MinSize)
	out.MaxSize = cloneInt(c.MaxSize)
	out.Fields = cloneFields(c.Fields)
	return out
}

func cloneLodgement(l domain.Lodgement) domain.Lodgement {
	out := l
	out.Fields = cloneFields(l.Fields)
	return out
}

func cloneRegistration(r domain.Registration) domain.Registration {
	out := r
	out.Parts = make(map[domain.PartID]domain.RegistrationPart, len(r.Parts))
	for id, p := range r.Parts {
		if p.LodgementID != nil {
			v := *p.LodgementID
			p.LodgementID = &v
		}
		out.Parts[id] = p
	}
	out.Tracks = make(map[domain.TrackID]domain.RegistrationTrack, len(r.Tracks))
	for id, t := range r.Tracks {
		t.CourseChoices = append([]domain.CourseID(nil), t.CourseChoices...)
		if t.CourseID != nil {
			v := *t.CourseID
			t.CourseID = &v
		}
		out.Tracks[id] = t
	}
	out.Fields = cloneFields(r.Fields)
	return out
}

func cloneFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
