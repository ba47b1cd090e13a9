package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	memassemblyrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/assemblyrepo"
	memclock "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/clock"
	memdroidrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/droidrepo"
	memeventrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/eventrepo"
	memgenesisrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/genesisrepo"
	memidempotency "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/idempotency"
	memmlrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/mlrepo"
	mempersonarepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/personarepo"
	memsessionrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/sessionrepo"
	"github.com/cde-ev/cdedb2-sub001/internal/app/assemblies"
	"github.com/cde-ev/cdedb2-sub001/internal/app/droids"
	"github.com/cde-ev/cdedb2-sub001/internal/app/events"
	"github.com/cde-ev/cdedb2-sub001/internal/app/genesis"
	"github.com/cde-ev/cdedb2-sub001/internal/app/mailinglists"
	"github.com/cde-ev/cdedb2-sub001/internal/app/personas"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/platform/auth/sessiontoken"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/personarepo"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	testPassword      = "correct horse battery"
	testResolveSecret = "resolve-secret"
)

type testAPI struct {
	h    http.Handler
	svcs Services
	clk  *memclock.ManualClock
}

type apiOptions struct {
	dev bool
}

// newTestAPI wires every service against memory adapters. Seeded personas:
// admin (core and meta admin), alice and bob (cde members).
func newTestAPI(t *testing.T, opts apiOptions) testAPI {
	t.Helper()
	ctx := context.Background()

	clk := memclock.NewManualClock(testNow)
	personaRepo := mempersonarepo.NewRepo()
	eventRepo := memeventrepo.NewRepo()
	assemblyRepo := memassemblyrepo.NewRepo()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	seed := []personarepo.Persona{
		{ID: "admin", Email: "admin@example.com", GivenNames: "Ada", FamilyName: "Admin", Realms: domain.CloseRealms([]domain.Realm{domain.RealmCde}), AdminRealms: []domain.AdminRealm{domain.AdminCore, domain.AdminMeta}},
		{ID: "alice", Email: "alice@example.com", GivenNames: "Alice", FamilyName: "Tester", Realms: domain.CloseRealms([]domain.Realm{domain.RealmCde})},
		{ID: "bob", Email: "bob@example.com", GivenNames: "Bob", FamilyName: "Tester", Realms: domain.CloseRealms([]domain.Realm{domain.RealmCde})},
	}
	for _, p := range seed {
		p.PasswordHash = string(hash)
		p.IsActive = true
		p.CreatedAt = testNow
		p.UpdatedAt = testNow
		if err := personaRepo.Create(ctx, p); err != nil {
			t.Fatalf("seed persona %s: %v", p.ID, err)
		}
	}

	codec, err := sessiontoken.NewCodec(bytes.Repeat([]byte("k"), 32), time.Hour)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	personaSvc := personas.NewService(personaRepo, memsessionrepo.NewRepo(), codec, clk)
	personaSvc.BcryptCost = bcrypt.MinCost
	droidSvc := droids.NewService(memdroidrepo.NewRepo(), eventRepo, clk, map[string]string{
		droids.StaticResolve: testResolveSecret,
	})

	svcs := Services{
		Personas:     personaSvc,
		Droids:       droidSvc,
		Genesis:      genesis.NewService(memgenesisrepo.NewRepo(), personaRepo, clk, []byte("genesis-secret"), zap.NewNop()),
		Events:       events.NewService(eventRepo, personaRepo, clk, zap.NewNop()),
		Mailinglists: mailinglists.NewService(memmlrepo.NewRepo(), personaRepo, eventRepo, assemblyRepo, clk),
		Assemblies:   assemblies.NewService(assemblyRepo, personaRepo, clk, zap.NewNop()),
	}
	srv := NewServer(svcs, memidempotency.NewStore(), clk, zap.NewNop())

	authMW := NewAuthMiddleware(personaSvc, droidSvc)
	if opts.dev {
		srv.ExposeGenesisTokens = true
		authMW = NewDevAuthMiddleware(personaSvc, personaSvc, droidSvc, "")
	}
	return testAPI{h: NewRouter(srv, authMW), svcs: svcs, clk: clk}
}

func (a testAPI) lookup(t *testing.T, id domain.PersonaID) domain.Persona {
	t.Helper()
	p, err := a.svcs.Personas.Lookup(context.Background(), id)
	if err != nil {
		t.Fatalf("Lookup(%s): %v", id, err)
	}
	return p
}

// do sends a request; headers are given as name, value pairs.
func (a testAPI) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	case []byte:
		r = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if r != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	return rec
}

func as(id domain.PersonaID) []string {
	return []string{DebugPersonaHeader, string(id)}
}

func bearer(token string) []string {
	return []string{"Authorization", "Bearer " + token}
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status=%d want %d body=%s", rec.Code, want, rec.Body.String())
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

func wantErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	wantStatus(t, rec, status)
	er := decodeBody[errorResponse](t, rec)
	if er.Error.Code != code {
		t.Fatalf("code=%q want %q body=%s", er.Error.Code, code, rec.Body.String())
	}
}
