package httpapi

import (
	"net"
	"net/http"

	"github.com/oapi-codegen/nullable"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/cde-ev/cdedb2-sub001/internal/app/personas"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

type loginRequest struct {
	Email    openapi_types.Email `json:"email"`
	Password string              `json:"password"`
}

type loginResponse struct {
	Token   string     `json:"token"`
	Session sessionDTO `json:"session"`
	Persona personaDTO `json:"persona"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !bind(w, r, &req) {
		return
	}
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	res, err := s.Personas.Login(r.Context(), string(req.Email), req.Password, ip)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loginResponse{
		Token:   res.Token,
		Session: sessionFromDomain(res.Session),
		Persona: personaFromDomain(res.Persona),
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok || p.SessionID == "" {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "a session token is required", nil)
		return
	}
	if err := s.Personas.Logout(r.Context(), p.SessionID); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	noContent(w)
}

func (s *Server) logoutAll(w http.ResponseWriter, r *http.Request) {
	me, ok := s.persona(w, r)
	if !ok {
		return
	}
	n, err := s.Personas.LogoutAll(r.Context(), me.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"ended": n})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	me, ok := s.persona(w, r)
	if !ok {
		return
	}
	sessions, err := s.Personas.ListSessions(r.Context(), me.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := make([]sessionDTO, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionFromDomain(sess))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	me, ok := s.persona(w, r)
	if !ok {
		return
	}
	p, err := s.Personas.GetMe(r.Context(), me)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"persona": personaFromDomain(p)})
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	me, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !bind(w, r, &req) {
		return
	}
	if err := s.Personas.ChangePassword(r.Context(), me, req.OldPassword, req.NewPassword); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	noContent(w)
}

type createPersonaRequest struct {
	Email       openapi_types.Email `json:"email"`
	GivenNames  string              `json:"givenNames"`
	FamilyName  string              `json:"familyName"`
	DisplayName string              `json:"displayName"`
	Realms      []string            `json:"realms"`
	AdminRealms []string            `json:"adminRealms"`
	Password    string              `json:"password"`
}

func (s *Server) createPersona(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req createPersonaRequest
	if !bind(w, r, &req) {
		return
	}
	realms, ok := parseRealms(w, r, req.Realms)
	if !ok {
		return
	}
	admins := make([]domain.AdminRealm, 0, len(req.AdminRealms))
	for _, a := range req.AdminRealms {
		ar, valid := domain.ParseAdminRealm(a)
		if !valid {
			writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid adminRealms", map[string]any{"adminRealms": "unknown admin realm " + a})
			return
		}
		admins = append(admins, ar)
	}
	p, err := s.Personas.CreatePersona(r.Context(), actor, personas.CreatePersonaInput{
		Email:       string(req.Email),
		GivenNames:  req.GivenNames,
		FamilyName:  req.FamilyName,
		DisplayName: req.DisplayName,
		Realms:      realms,
		AdminRealms: admins,
		Password:    req.Password,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"persona": personaFromDomain(p)})
}

func parseRealms(w http.ResponseWriter, r *http.Request, in []string) ([]domain.Realm, bool) {
	out := make([]domain.Realm, 0, len(in))
	for _, s := range in {
		realm, ok := domain.ParseRealm(s)
		if !ok {
			writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid realms", map[string]any{"realms": "unknown realm " + s})
			return nil, false
		}
		out = append(out, realm)
	}
	return out, true
}

func (s *Server) searchPersonas(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	ps, err := s.Personas.SearchPersonas(r.Context(), actor, r.URL.Query().Get("q"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := make([]personaDTO, 0, len(ps))
	for _, p := range ps {
		out = append(out, personaFromDomain(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"personas": out})
}

func (s *Server) getPersona(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	p, err := s.Personas.GetPersona(r.Context(), actor, urlParam[domain.PersonaID](r, "personaId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"persona": personaFromDomain(p)})
}

type updatePersonaRequest struct {
	GivenNames  nullable.Nullable[string]              `json:"givenNames,omitempty"`
	FamilyName  nullable.Nullable[string]              `json:"familyName,omitempty"`
	DisplayName nullable.Nullable[string]              `json:"displayName,omitempty"`
	Email       nullable.Nullable[openapi_types.Email] `json:"email,omitempty"`
	IsActive    nullable.Nullable[bool]                `json:"isActive,omitempty"`
}

// optionalFrom converts a decoded tri-state field into the service's Optional.
func optionalFrom[T any, U any](n nullable.Nullable[T], conv func(T) U) personas.Optional[U] {
	switch {
	case !n.IsSpecified():
		return personas.Unspecified[U]()
	case n.IsNull():
		return personas.Null[U]()
	}
	v, err := n.Get()
	if err != nil {
		return personas.Unspecified[U]()
	}
	return personas.Some(conv(v))
}

func same[T any](v T) T { return v }

func (s *Server) updatePersona(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req updatePersonaRequest
	if !bind(w, r, &req) {
		return
	}
	in := personas.UpdatePersonaInput{
		GivenNames:  optionalFrom(req.GivenNames, same[string]),
		FamilyName:  optionalFrom(req.FamilyName, same[string]),
		DisplayName: optionalFrom(req.DisplayName, same[string]),
		Email:       optionalFrom(req.Email, func(e openapi_types.Email) string { return string(e) }),
		IsActive:    optionalFrom(req.IsActive, same[bool]),
	}
	p, err := s.Personas.UpdatePersona(r.Context(), actor, urlParam[domain.PersonaID](r, "personaId"), in)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"persona": personaFromDomain(p)})
}

type setRealmsRequest struct {
	Realms []string `json:"realms"`
}

func (s *Server) setRealms(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req setRealmsRequest
	if !bind(w, r, &req) {
		return
	}
	realms, ok := parseRealms(w, r, req.Realms)
	if !ok {
		return
	}
	p, err := s.Personas.SetRealms(r.Context(), actor, urlParam[domain.PersonaID](r, "personaId"), realms)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"persona": personaFromDomain(p)})
}

func (s *Server) archivePersona(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	p, err := s.Personas.Archive(r.Context(), actor, urlParam[domain.PersonaID](r, "personaId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"persona": personaFromDomain(p)})
}

type resolveRequest struct {
	Emails []string `json:"emails"`
}

type resolvedPersona struct {
	PersonaID string              `json:"personaId"`
	Email     openapi_types.Email `json:"email"`
	FullName  string              `json:"fullName"`
}

// resolvePersonas maps email addresses to personas for the resolve droid.
func (s *Server) resolvePersonas(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	if p.Droid == nil || !p.Droid.MayResolve() {
		writeError(w, r, http.StatusForbidden, "FORBIDDEN", "only the resolve droid may look up personas by email", nil)
		return
	}
	var req resolveRequest
	if !bind(w, r, &req) {
		return
	}
	ps, err := s.Personas.ResolveEmails(r.Context(), req.Emails)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := make([]resolvedPersona, 0, len(ps))
	for _, pp := range ps {
		out = append(out, resolvedPersona{PersonaID: string(pp.ID), Email: openapi_types.Email(pp.Email), FullName: pp.FullName()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"personas": out})
}
