package httpapi

import (
	"net/http"
	"time"

	"github.com/cde-ev/cdedb2-sub001/internal/app/droids"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

type createOrgaTokenRequest struct {
	Title     string    `json:"title"`
	Notes     string    `json:"notes"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type createOrgaTokenResponse struct {
	Token orgaTokenDTO `json:"token"`
	// Header is the X-CdEDB-API-Token value; it is shown only once.
	Header string `json:"header"`
}

func (s *Server) createOrgaToken(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req createOrgaTokenRequest
	if !bind(w, r, &req) {
		return
	}
	created, err := s.Droids.CreateOrgaToken(r.Context(), actor, urlParam[domain.EventID](r, "eventId"), droids.CreateOrgaTokenInput{
		Title:     req.Title,
		Notes:     req.Notes,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createOrgaTokenResponse{
		Token:  orgaTokenFromRepo(created.Token),
		Header: created.Header,
	})
}

func (s *Server) listOrgaTokens(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	toks, err := s.Droids.ListOrgaTokens(r.Context(), actor, urlParam[domain.EventID](r, "eventId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := make([]orgaTokenDTO, 0, len(toks))
	for _, t := range toks {
		out = append(out, orgaTokenFromRepo(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": out})
}

func (s *Server) revokeOrgaToken(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	tok, err := s.Droids.RevokeOrgaToken(r.Context(), actor, urlParam[domain.OrgaTokenID](r, "tokenId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": orgaTokenFromRepo(tok)})
}

func (s *Server) deleteOrgaToken(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	if err := s.Droids.DeleteOrgaToken(r.Context(), actor, urlParam[domain.OrgaTokenID](r, "tokenId")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	noContent(w)
}
