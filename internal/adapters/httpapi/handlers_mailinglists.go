package httpapi

import (
	"net/http"

	"github.com/cde-ev/cdedb2-sub001/internal/app/mailinglists"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

type createMailinglistRequest struct {
	Title             string                          `json:"title"`
	LocalPart         string                          `json:"localPart"`
	Domain            string                          `json:"domain"`
	Type              domain.MailinglistType          `json:"type"`
	Moderators        []domain.PersonaID              `json:"moderators"`
	EventID           *domain.EventID                 `json:"eventId"`
	RegistrationStati []domain.RegistrationPartStatus `json:"registrationStati"`
	AssemblyID        *domain.AssemblyID              `json:"assemblyId"`
}

func (s *Server) listMailinglists(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.persona(w, r); !ok {
		return
	}
	mls, err := s.Mailinglists.ListMailinglists(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := make([]mailinglistDTO, 0, len(mls))
	for _, ml := range mls {
		out = append(out, mailinglistFromDomain(ml))
	}
	writeJSON(w, http.StatusOK, map[string]any{"mailinglists": out})
}

func (s *Server) createMailinglist(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req createMailinglistRequest
	if !bind(w, r, &req) {
		return
	}
	ml, err := s.Mailinglists.CreateMailinglist(r.Context(), actor, mailinglists.CreateInput{
		Title:             req.Title,
		LocalPart:         req.LocalPart,
		Domain:            req.Domain,
		Type:              req.Type,
		Moderators:        req.Moderators,
		EventID:           req.EventID,
		RegistrationStati: req.RegistrationStati,
		AssemblyID:        req.AssemblyID,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"mailinglist": mailinglistFromDomain(ml)})
}

func (s *Server) getMailinglist(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.persona(w, r); !ok {
		return
	}
	ml, err := s.Mailinglists.GetMailinglist(r.Context(), urlParam[domain.MailinglistID](r, "mailinglistId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mailinglist": mailinglistFromDomain(ml)})
}

type updateMailinglistRequest struct {
	Title             *string                          `json:"title"`
	Moderators        *[]domain.PersonaID              `json:"moderators"`
	IsActive          *bool                            `json:"isActive"`
	RegistrationStati *[]domain.RegistrationPartStatus `json:"registrationStati"`
}

func (s *Server) updateMailinglist(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req updateMailinglistRequest
	if !bind(w, r, &req) {
		return
	}
	ml, err := s.Mailinglists.UpdateMailinglist(r.Context(), actor, urlParam[domain.MailinglistID](r, "mailinglistId"), mailinglists.UpdateInput{
		Title:             req.Title,
		Moderators:        req.Moderators,
		IsActive:          req.IsActive,
		RegistrationStati: req.RegistrationStati,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mailinglist": mailinglistFromDomain(ml)})
}

func (s *Server) myMailinglistStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	st, err := s.Mailinglists.MyStatus(r.Context(), actor, urlParam[domain.MailinglistID](r, "mailinglistId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusFromApp(st))
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	state, err := s.Mailinglists.Subscribe(r.Context(), actor, urlParam[domain.MailinglistID](r, "mailinglistId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	status := http.StatusOK
	if state == domain.SubPending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{"state": state})
}

func (s *Server) unsubscribe(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	if err := s.Mailinglists.Unsubscribe(r.Context(), actor, urlParam[domain.MailinglistID](r, "mailinglistId")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	noContent(w)
}

func (s *Server) listSubscribers(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	subs, err := s.Mailinglists.ListSubscribers(r.Context(), actor, urlParam[domain.MailinglistID](r, "mailinglistId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := make([]subscriptionDTO, 0, len(subs))
	for _, sub := range subs {
		out = append(out, subscriptionDTO{PersonaID: string(sub.PersonaID), State: sub.State, UpdatedAt: sub.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscribers": out})
}

// addSubscriber is the moderator override that subscribes a persona.
func (s *Server) addSubscriber(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	state, err := s.Mailinglists.AddSubscriber(r.Context(), actor, urlParam[domain.MailinglistID](r, "mailinglistId"), urlParam[domain.PersonaID](r, "personaId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": state})
}

func (s *Server) removeSubscriber(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	state, err := s.Mailinglists.RemoveSubscriber(r.Context(), actor, urlParam[domain.MailinglistID](r, "mailinglistId"), urlParam[domain.PersonaID](r, "personaId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": state})
}

type decideRequest struct {
	Accept bool `json:"accept"`
}

func (s *Server) decideSubscriptionRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req decideRequest
	if !bind(w, r, &req) {
		return
	}
	if err := s.Mailinglists.DecideRequest(r.Context(), actor, urlParam[domain.MailinglistID](r, "mailinglistId"), urlParam[domain.PersonaID](r, "personaId"), req.Accept); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	noContent(w)
}

func isListAdmin(p domain.Persona) bool {
	return p.IsAdmin(domain.AdminML) || p.IsAdmin(domain.AdminCore)
}

func (s *Server) syncImplicits(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	if !isListAdmin(actor) {
		writeError(w, r, http.StatusForbidden, "FORBIDDEN", "Only mailing list admins may sync lists.", nil)
		return
	}
	res, err := s.Mailinglists.SyncImplicits(r.Context(), urlParam[domain.MailinglistID](r, "mailinglistId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": res.Added, "removed": res.Removed})
}

// listAddresses is the mail server's view of a list; resolve droids and
// list admins may read it.
func (s *Server) listAddresses(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	allowed := false
	if p.Droid != nil {
		allowed = p.Droid.MayResolve()
	} else if p.Persona != nil {
		allowed = isListAdmin(*p.Persona)
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, "FORBIDDEN", "Not allowed to read list addresses.", nil)
		return
	}
	addrs, err := s.Mailinglists.ResolveAddresses(r.Context(), urlParam[domain.MailinglistID](r, "mailinglistId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"addresses": nonNil(addrs)})
}
