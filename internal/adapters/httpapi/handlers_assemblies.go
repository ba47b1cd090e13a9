package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cde-ev/cdedb2-sub001/internal/app/assemblies"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

type createAssemblyRequest struct {
	Shortname   string             `json:"shortname"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	SignupEnd   time.Time          `json:"signupEnd"`
	Presiders   []domain.PersonaID `json:"presiders"`
}

func (s *Server) listAssemblies(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.persona(w, r); !ok {
		return
	}
	as, err := s.Assemblies.ListAssemblies(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := make([]assemblyDTO, 0, len(as))
	for _, a := range as {
		out = append(out, assemblyFromDomain(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"assemblies": out})
}

func (s *Server) createAssembly(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req createAssemblyRequest
	if !bind(w, r, &req) {
		return
	}
	a, err := s.Assemblies.CreateAssembly(r.Context(), actor, assemblies.CreateAssemblyInput{
		Shortname:   req.Shortname,
		Title:       req.Title,
		Description: req.Description,
		SignupEnd:   req.SignupEnd,
		Presiders:   req.Presiders,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"assembly": assemblyFromDomain(a)})
}

func (s *Server) getAssembly(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	id := urlParam[domain.AssemblyID](r, "assemblyId")
	a, err := s.Assemblies.GetAssembly(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	attending, err := s.Assemblies.IsAttendee(r.Context(), actor, id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assembly": assemblyFromDomain(a), "attending": attending})
}

// signup returns the attendee secret exactly once.
func (s *Server) signupAssembly(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	secret, err := s.Assemblies.Signup(r.Context(), actor, urlParam[domain.AssemblyID](r, "assemblyId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"secret": secret})
}

func (s *Server) listAttendees(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	ids, err := s.Assemblies.ListAttendees(r.Context(), actor, urlParam[domain.AssemblyID](r, "assemblyId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attendees": nonNil(ids)})
}

func (s *Server) concludeAssembly(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	a, err := s.Assemblies.Conclude(r.Context(), actor, urlParam[domain.AssemblyID](r, "assemblyId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assembly": assemblyFromDomain(a)})
}

type ballotRequest struct {
	Title            string         `json:"title"`
	Candidates       []candidateDTO `json:"candidates"`
	VoteBegin        time.Time      `json:"voteBegin"`
	VoteEnd          time.Time      `json:"voteEnd"`
	VoteExtensionEnd *time.Time     `json:"voteExtensionEnd"`
	AbsQuorum        int            `json:"absQuorum"`
	Votes            *int           `json:"votes"`
	UseBar           bool           `json:"useBar"`
}

func (b ballotRequest) input() assemblies.BallotInput {
	in := assemblies.BallotInput{
		Title:            b.Title,
		VoteBegin:        b.VoteBegin,
		VoteEnd:          b.VoteEnd,
		VoteExtensionEnd: b.VoteExtensionEnd,
		AbsQuorum:        b.AbsQuorum,
		Votes:            b.Votes,
		UseBar:           b.UseBar,
	}
	for _, c := range b.Candidates {
		in.Candidates = append(in.Candidates, domain.Candidate{Shortname: c.Shortname, Title: c.Title})
	}
	return in
}

func (s *Server) listBallots(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	views, err := s.Assemblies.ListBallots(r.Context(), actor, urlParam[domain.AssemblyID](r, "assemblyId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := make([]ballotDTO, 0, len(views))
	for _, v := range views {
		out = append(out, ballotFromView(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ballots": out})
}

func (s *Server) createBallot(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req ballotRequest
	if !bind(w, r, &req) {
		return
	}
	b, err := s.Assemblies.CreateBallot(r.Context(), actor, urlParam[domain.AssemblyID](r, "assemblyId"), req.input())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ballot": ballotFromDomain(b, domain.BallotUpcoming)})
}

func (s *Server) getBallot(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	v, err := s.Assemblies.GetBallot(r.Context(), actor, urlParam[domain.BallotID](r, "ballotId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ballot": ballotFromView(v)})
}

func (s *Server) updateBallot(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req ballotRequest
	if !bind(w, r, &req) {
		return
	}
	b, err := s.Assemblies.UpdateBallot(r.Context(), actor, urlParam[domain.BallotID](r, "ballotId"), req.input())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ballot": ballotFromDomain(b, domain.BallotUpcoming)})
}

func (s *Server) deleteBallot(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	if err := s.Assemblies.DeleteBallot(r.Context(), actor, urlParam[domain.BallotID](r, "ballotId")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	noContent(w)
}

type voteRequest struct {
	Vote    string   `json:"vote"`
	Choices []string `json:"choices"`
}

func (s *Server) castVote(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	var req voteRequest
	if !bind(w, r, &req) {
		return
	}
	vote, err := s.Assemblies.Vote(r.Context(), actor, urlParam[domain.BallotID](r, "ballotId"), assemblies.VoteInput{
		Vote:    req.Vote,
		Choices: req.Choices,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vote": vote})
}

func (s *Server) myVote(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	vote, err := s.Assemblies.MyVote(r.Context(), actor, urlParam[domain.BallotID](r, "ballotId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vote": vote})
}

func (s *Server) tallyBallot(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	b, err := s.Assemblies.Tally(r.Context(), actor, urlParam[domain.BallotID](r, "ballotId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ballot": ballotFromDomain(b, domain.BallotTallied)})
}

// ballotResult serves the stored result file byte for byte so clients can
// check it against the published hash.
func (s *Server) ballotResult(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.persona(w, r)
	if !ok {
		return
	}
	file, err := s.Assemblies.Result(r.Context(), actor, urlParam[domain.BallotID](r, "ballotId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file)
}

type verifyRequest struct {
	File   json.RawMessage `json:"file"`
	Secret string          `json:"secret"`
}

type verificationDTO struct {
	Recomputed string   `json:"recomputed"`
	Matches    bool     `json:"matches"`
	Problems   []string `json:"problems"`
	OwnVote    *string  `json:"ownVote,omitempty"`
}

// verifyResult recounts a result file; it needs no authentication.
func (s *Server) verifyResult(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !bind(w, r, &req) {
		return
	}
	if len(req.File) == 0 {
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid file", map[string]any{"file": "is required"})
		return
	}
	v, err := assemblies.VerifyResult(req.File, req.Secret)
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid file", map[string]any{"file": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, verificationDTO{
		Recomputed: v.Recomputed,
		Matches:    v.Matches,
		Problems:   nonNil(v.Problems),
		OwnVote:    v.OwnVote,
	})
}
