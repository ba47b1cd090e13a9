package httpapi

import (
	"net/http"

	openapi_types "github.com/oapi-codegen/runtime/types"
	"go.uber.org/zap"

	"github.com/cde-ev/cdedb2-sub001/internal/app/genesis"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

type genesisRequest struct {
	Email      openapi_types.Email `json:"email"`
	GivenNames string              `json:"givenNames"`
	FamilyName string              `json:"familyName"`
	Realm      string              `json:"realm"`
	Notes      string              `json:"notes"`
}

type genesisRequestResponse struct {
	Case         genesisCaseDTO `json:"case"`
	ConfirmToken string         `json:"confirmToken,omitempty"`
}

// requestAccount is open to anonymous callers.
func (s *Server) requestAccount(w http.ResponseWriter, r *http.Request) {
	var req genesisRequest
	if !bind(w, r, &req) {
		return
	}
	realm, ok := domain.ParseRealm(req.Realm)
	if !ok {
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid realm", map[string]any{"realm": "unknown realm " + req.Realm})
		return
	}
	c, token, err := s.Genesis.Request(r.Context(), genesis.RequestInput{
		Email:      string(req.Email),
		GivenNames: req.GivenNames,
		FamilyName: req.FamilyName,
		Realm:      realm,
		Notes:      req.Notes,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.log.Info("genesis confirmation pending", zap.String("case_id", string(c.ID)), zap.String("email", c.Email))
	resp := genesisRequestResponse{Case: genesisCaseFromDomain(c)}
	if s.ExposeGenesisTokens {
		resp.ConfirmToken = token
	}
	writeJSON(w, http.StatusAccepted, resp)
}

type confirmRequest struct {
	Token string `json:"token"`
}

func (s *Server) confirmAccount(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !bind(w, r, &req) {
		return
	}
	c, err := s.Genesis.Confirm(r.Context(), req.Token)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"case": genesisCaseFromDomain(c)})
}

func (s *Server) listGenesisCases(w http.ResponseWriter, r *http.Request) {
	reviewer, ok := s.persona(w, r)
	if !ok {
		return
	}
	var states []domain.GenesisState
	for _, st := range r.URL.Query()["state"] {
		states = append(states, domain.GenesisState(st))
	}
	cases, err := s.Genesis.List(r.Context(), reviewer, states...)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := make([]genesisCaseDTO, 0, len(cases))
	for _, c := range cases {
		out = append(out, genesisCaseFromDomain(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"cases": out})
}

func (s *Server) getGenesisCase(w http.ResponseWriter, r *http.Request) {
	reviewer, ok := s.persona(w, r)
	if !ok {
		return
	}
	c, err := s.Genesis.Get(r.Context(), reviewer, urlParam[domain.GenesisCaseID](r, "caseId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"case": genesisCaseFromDomain(c)})
}

func (s *Server) approveGenesisCase(w http.ResponseWriter, r *http.Request) {
	reviewer, ok := s.persona(w, r)
	if !ok {
		return
	}
	c, err := s.Genesis.Approve(r.Context(), reviewer, urlParam[domain.GenesisCaseID](r, "caseId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"case": genesisCaseFromDomain(c)})
}

func (s *Server) rejectGenesisCase(w http.ResponseWriter, r *http.Request) {
	reviewer, ok := s.persona(w, r)
	if !ok {
		return
	}
	c, err := s.Genesis.Reject(r.Context(), reviewer, urlParam[domain.GenesisCaseID](r, "caseId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"case": genesisCaseFromDomain(c)})
}
