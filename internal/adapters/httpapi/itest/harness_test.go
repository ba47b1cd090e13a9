package itest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/cde-ev/cdedb2-sub001/internal/adapters/httpapi"
	memassemblyrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/assemblyrepo"
	memclock "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/clock"
	memdroidrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/droidrepo"
	memeventrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/eventrepo"
	memgenesisrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/genesisrepo"
	memidempotency "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/idempotency"
	memmlrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/mlrepo"
	mempersonarepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/personarepo"
	memsessionrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/sessionrepo"
	pgassemblyrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/assemblyrepo"
	pgdroidrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/droidrepo"
	pgeventrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/eventrepo"
	pggenesisrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/genesisrepo"
	pgidempotency "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/idempotency"
	pgmlrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/mlrepo"
	pgpersonarepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/personarepo"
	pgsessionrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/sessionrepo"
	postgres_testutil "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/testutil"
	"github.com/cde-ev/cdedb2-sub001/internal/app/assemblies"
	"github.com/cde-ev/cdedb2-sub001/internal/app/droids"
	"github.com/cde-ev/cdedb2-sub001/internal/app/events"
	"github.com/cde-ev/cdedb2-sub001/internal/app/genesis"
	"github.com/cde-ev/cdedb2-sub001/internal/app/mailinglists"
	"github.com/cde-ev/cdedb2-sub001/internal/app/personas"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/platform/auth/sessiontoken"
	assemblyrepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/assemblyrepo"
	droidrepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/droidrepo"
	eventrepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/eventrepo"
	genesisrepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/genesisrepo"
	idempotencyport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/idempotency"
	mlrepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/mlrepo"
	personarepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/personarepo"
	sessionrepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/sessionrepo"
)

type backend string

const (
	backendMemory   backend = "memory"
	backendPostgres backend = "postgres"
)

const itestPassword = "itest-password"

var itestNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func backendsFromEnv(t *testing.T) []backend {
	t.Helper()
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ITEST_BACKEND"))) {
	case "", "memory":
		return []backend{backendMemory}
	case "postgres":
		return []backend{backendPostgres}
	case "all":
		return []backend{backendMemory, backendPostgres}
	default:
		t.Fatalf("unknown ITEST_BACKEND value (expected memory|postgres|all)")
		return nil
	}
}

type repos struct {
	personas   personarepoport.Repository
	sessions   sessionrepoport.Repository
	droids     droidrepoport.Repository
	genesis    genesisrepoport.Repository
	events     eventrepoport.Repository
	ml         mlrepoport.Repository
	assemblies assemblyrepoport.Repository
	idem       idempotencyport.Store
}

func openRepos(t *testing.T, b backend) repos {
	t.Helper()
	switch b {
	case backendPostgres:
		pool := postgres_testutil.OpenMigratedPool(t)
		return repos{
			personas:   pgpersonarepo.NewRepo(pool),
			sessions:   pgsessionrepo.NewRepo(pool),
			droids:     pgdroidrepo.NewRepo(pool),
			genesis:    pggenesisrepo.NewRepo(pool),
			events:     pgeventrepo.NewRepo(pool),
			ml:         pgmlrepo.NewRepo(pool),
			assemblies: pgassemblyrepo.NewRepo(pool),
			idem:       pgidempotency.NewStore(pool),
		}
	case backendMemory:
		return repos{
			personas:   mempersonarepo.NewRepo(),
			sessions:   memsessionrepo.NewRepo(),
			droids:     memdroidrepo.NewRepo(),
			genesis:    memgenesisrepo.NewRepo(),
			events:     memeventrepo.NewRepo(),
			ml:         memmlrepo.NewRepo(),
			assemblies: memassemblyrepo.NewRepo(),
			idem:       memidempotency.NewStore(),
		}
	}
	t.Fatalf("unknown backend: %s", b)
	return repos{}
}

type testServer struct {
	baseURL string
	client  *http.Client
	clk     *memclock.ManualClock
}

// newTestServer seeds three personas (admin, alice, bob) sharing
// itestPassword and serves the API in dev auth mode so requests pick the
// acting persona via X-Debug-Persona. Bearer sessions work as well.
func newTestServer(t *testing.T, b backend) *testServer {
	t.Helper()
	ctx := context.Background()
	r := openRepos(t, b)
	clk := memclock.NewManualClock(itestNow)

	hash, err := bcrypt.GenerateFromPassword([]byte(itestPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	for _, p := range []personarepoport.Persona{
		{ID: "admin", Email: "admin@example.com", GivenNames: "Ada", FamilyName: "Admin", AdminRealms: []domain.AdminRealm{domain.AdminCore}},
		{ID: "alice", Email: "alice@example.com", GivenNames: "Alice", FamilyName: "Tester"},
		{ID: "bob", Email: "bob@example.com", GivenNames: "Bob", FamilyName: "Tester"},
	} {
		p.Realms = domain.CloseRealms([]domain.Realm{domain.RealmCde})
		p.PasswordHash = string(hash)
		p.IsActive = true
		p.CreatedAt = itestNow
		p.UpdatedAt = itestNow
		if err := r.personas.Create(ctx, p); err != nil {
			t.Fatalf("seed %s: %v", p.ID, err)
		}
	}

	codec, err := sessiontoken.NewCodec(bytes.Repeat([]byte("s"), 32), time.Hour)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	personaSvc := personas.NewService(r.personas, r.sessions, codec, clk)
	personaSvc.BcryptCost = bcrypt.MinCost
	droidSvc := droids.NewService(r.droids, r.events, clk, nil)
	api := httpapi.NewServer(httpapi.Services{
		Personas:     personaSvc,
		Droids:       droidSvc,
		Genesis:      genesis.NewService(r.genesis, r.personas, clk, []byte("itest-genesis"), zap.NewNop()),
		Events:       events.NewService(r.events, r.personas, clk, zap.NewNop()),
		Mailinglists: mailinglists.NewService(r.ml, r.personas, r.events, r.assemblies, clk),
		Assemblies:   assemblies.NewService(r.assemblies, r.personas, clk, zap.NewNop()),
	}, r.idem, clk, zap.NewNop())
	api.ExposeGenesisTokens = true

	// An empty default persona keeps anonymous requests anonymous.
	authMW := httpapi.NewDevAuthMiddleware(personaSvc, personaSvc, droidSvc, "")
	srv := httptest.NewServer(httpapi.NewRouter(api, authMW))
	t.Cleanup(srv.Close)

	return &testServer{baseURL: srv.URL, client: srv.Client(), clk: clk}
}

func (s *testServer) url(path string) string {
	if strings.HasPrefix(path, "/") {
		return s.baseURL + path
	}
	return s.baseURL + "/" + path
}

func (s *testServer) doJSON(t *testing.T, method string, path string, persona string, body any, headers ...string) (int, []byte, http.Header) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.url(path), r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if persona != "" {
		req.Header.Set(httpapi.DebugPersonaHeader, persona)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, resp.Header
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func mustUnmarshal[T any](t *testing.T, b []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v\nbody=%s", err, string(b))
	}
	return out
}

func requireStatus(t *testing.T, status int, body []byte, want int) {
	t.Helper()
	if status != want {
		t.Fatalf("status=%d want=%d body=%s", status, want, string(body))
	}
}

func requireErrorCode(t *testing.T, status int, body []byte, wantStatus int, wantCode string) {
	t.Helper()
	requireStatus(t, status, body, wantStatus)
	got := mustUnmarshal[errorResponse](t, body)
	if got.Error.Code != wantCode {
		t.Fatalf("error.code=%q want=%q body=%s", got.Error.Code, wantCode, string(body))
	}
}

func requireHeaderPresent(t *testing.T, h http.Header, key string) {
	t.Helper()
	if strings.TrimSpace(h.Get(key)) == "" {
		t.Fatalf("expected header %q to be present", key)
	}
}

// doRaw posts an unparsed body, as used for imports.
func (s *testServer) doRaw(t *testing.T, method string, path string, persona string, body []byte) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.url(path), bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if persona != "" {
		req.Header.Set(httpapi.DebugPersonaHeader, persona)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}
