package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cde-ev/cdedb2-sub001/internal/app/assemblies"
	"github.com/cde-ev/cdedb2-sub001/internal/app/droids"
	"github.com/cde-ev/cdedb2-sub001/internal/app/events"
	"github.com/cde-ev/cdedb2-sub001/internal/app/genesis"
	"github.com/cde-ev/cdedb2-sub001/internal/app/mailinglists"
	"github.com/cde-ev/cdedb2-sub001/internal/app/personas"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/platform/eventkeeper"
	clockport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/clock"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/idempotency"
)

const (
	maxBodyBytes   = 1 << 20
	maxImportBytes = 16 << 20
)

// EventHistory lists the EventKeeper commits of an event.
type EventHistory interface {
	Log(ctx context.Context, eventID string) ([]eventkeeper.Commit, error)
}

// Services bundles the application services the API exposes.
type Services struct {
	Personas     *personas.Service
	Droids       *droids.Service
	Genesis      *genesis.Service
	Events       *events.Service
	Mailinglists *mailinglists.Service
	Assemblies   *assemblies.Service
	// History is optional; without it the history endpoint reports 404.
	History EventHistory
}

// Server holds the HTTP handlers.
type Server struct {
	Services

	// ExposeGenesisTokens returns confirmation tokens in the request
	// response instead of only mailing them. Dev mode only.
	ExposeGenesisTokens bool

	idem idempotency.Store
	clk  clockport.Clock
	log  *zap.Logger
}

func NewServer(svcs Services, idem idempotency.Store, clk clockport.Clock, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{Services: svcs, idem: idem, clk: clk, log: log}
}

// persona returns the calling persona or writes 401.
func (s *Server) persona(w http.ResponseWriter, r *http.Request) (domain.Persona, bool) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok || p.Persona == nil {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "a persona session is required", nil)
		return domain.Persona{}, false
	}
	return *p.Persona, true
}

// principal returns the calling persona or droid or writes 401.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return Principal{}, false
	}
	return p, true
}

var errEmptyBody = errors.New("missing request body")

// decodeJSON strictly decodes the request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON body")
	}
	return nil
}

// bind decodes the body and writes 422 on failure.
func bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "malformed request body", map[string]any{"body": err.Error()})
		return false
	}
	return true
}

// readRaw reads an unparsed body of at most limit bytes.
func readRaw(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "could not read request body", nil)
		return nil, false
	}
	if int64(len(raw)) > limit {
		writeError(w, r, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", fmt.Sprintf("body exceeds %d bytes", limit), nil)
		return nil, false
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "malformed request body", map[string]any{"body": errEmptyBody.Error()})
		return nil, false
	}
	return raw, true
}

func urlParam[T ~string](r *http.Request, name string) T {
	return T(strings.TrimSpace(chi.URLParam(r, name)))
}

func queryBool(r *http.Request, name string) bool {
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get(name))) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func noContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
