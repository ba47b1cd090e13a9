package personas

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/crypto/bcrypt"

	memclock "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/clock"
	mempersonarepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/personarepo"
	memsessionrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/sessionrepo"
	"github.com/cde-ev/cdedb2-sub001/internal/app/apperr"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/platform/auth/sessiontoken"
)

var coreAdmin = domain.Persona{ID: "admin", AdminRealms: []domain.AdminRealm{domain.AdminCore, domain.AdminMeta}}

func newTestService(t *testing.T) (*Service, *memclock.ManualClock) {
	t.Helper()
	clk := memclock.NewManualClock(time.Unix(1_700_000_000, 0).UTC())
	codec, err := sessiontoken.NewCodec([]byte(strings.Repeat("k", 32)), time.Hour)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	svc := NewService(mempersonarepo.NewRepo(), memsessionrepo.NewRepo(), codec, clk)
	svc.BcryptCost = bcrypt.MinCost
	return svc, clk
}

func mustCreate(t *testing.T, svc *Service, email string, realms ...domain.Realm) domain.Persona {
	t.Helper()
	p, err := svc.CreatePersona(context.Background(), coreAdmin, CreatePersonaInput{
		Email:      email,
		GivenNames: "Anton",
		FamilyName: "Armin",
		Realms:     realms,
		Password:   "secret-password",
	})
	if err != nil {
		t.Fatalf("CreatePersona err=%v", err)
	}
	return p
}

func wantAppErr(t *testing.T, err error, status int, code string) {
	t.Helper()
	ae, ok := apperr.As(err)
	if !ok || ae.Status != status || ae.Code != code {
		t.Fatalf("err=%v (type=%T), want %s %d", err, err, code, status)
	}
}

func TestService_CreatePersona_ClosesRealmsAndNormalizes(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	p, err := svc.CreatePersona(context.Background(), coreAdmin, CreatePersonaInput{
		Email:      "anton@example.com",
		GivenNames: "  Anton   Armin ",
		FamilyName: "Administrator",
		Realms:     []domain.Realm{domain.RealmEvent},
	})
	if err != nil {
		t.Fatalf("CreatePersona err=%v", err)
	}
	if p.GivenNames != "Anton Armin" {
		t.Fatalf("givenNames=%q", p.GivenNames)
	}
	if diff := cmp.Diff([]domain.Realm{domain.RealmEvent, domain.RealmML}, p.Realms); diff != "" {
		t.Fatalf("realms mismatch (-want +got):\n%s", diff)
	}
	if !p.IsActive {
		t.Fatalf("expected active persona")
	}
}

func TestService_CreatePersona_Permissions(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	eventAdmin := domain.Persona{ID: "ea", AdminRealms: []domain.AdminRealm{domain.AdminEvent}}

	_, err := svc.CreatePersona(context.Background(), eventAdmin, CreatePersonaInput{
		Email: "a@example.com", GivenNames: "A", FamilyName: "B", Realms: []domain.Realm{domain.RealmCde},
	})
	wantAppErr(t, err, 403, "FORBIDDEN")

	_, err = svc.CreatePersona(context.Background(), eventAdmin, CreatePersonaInput{
		Email: "a@example.com", GivenNames: "A", FamilyName: "B", Realms: []domain.Realm{domain.RealmEvent},
		AdminRealms: []domain.AdminRealm{domain.AdminEvent},
	})
	wantAppErr(t, err, 403, "FORBIDDEN")

	if _, err := svc.CreatePersona(context.Background(), eventAdmin, CreatePersonaInput{
		Email: "a@example.com", GivenNames: "A", FamilyName: "B", Realms: []domain.Realm{domain.RealmEvent},
	}); err != nil {
		t.Fatalf("event admin creating event persona err=%v", err)
	}
}

func TestService_CreatePersona_Validation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	mustCreate(t, svc, "taken@example.com", domain.RealmML)

	tests := []struct {
		name   string
		in     CreatePersonaInput
		status int
		code   string
	}{
		{name: "no realms", in: CreatePersonaInput{Email: "x@example.com", GivenNames: "A", FamilyName: "B"}, status: 422, code: "VALIDATION_ERROR"},
		{name: "bad email", in: CreatePersonaInput{Email: "Name <x@example.com>", GivenNames: "A", FamilyName: "B", Realms: []domain.Realm{domain.RealmML}}, status: 422, code: "VALIDATION_ERROR"},
		{name: "empty family", in: CreatePersonaInput{Email: "x@example.com", GivenNames: "A", FamilyName: "  ", Realms: []domain.Realm{domain.RealmML}}, status: 422, code: "VALIDATION_ERROR"},
		{name: "short password", in: CreatePersonaInput{Email: "x@example.com", GivenNames: "A", FamilyName: "B", Realms: []domain.Realm{domain.RealmML}, Password: "short"}, status: 422, code: "VALIDATION_ERROR"},
		{name: "email taken", in: CreatePersonaInput{Email: "TAKEN@example.com", GivenNames: "A", FamilyName: "B", Realms: []domain.Realm{domain.RealmML}}, status: 409, code: "EMAIL_ALREADY_IN_USE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreatePersona(context.Background(), coreAdmin, tt.in)
			wantAppErr(t, err, tt.status, tt.code)
		})
	}
}

func TestService_UpdatePersona_SelfAndAdmin(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	p := mustCreate(t, svc, "anton@example.com", domain.RealmEvent)

	updated, err := svc.UpdatePersona(context.Background(), p, p.ID, UpdatePersonaInput{
		DisplayName: Some("Toni"),
		FamilyName:  Some(" Armin  Jr "),
	})
	if err != nil {
		t.Fatalf("UpdatePersona self err=%v", err)
	}
	if updated.DisplayName != "Toni" || updated.FamilyName != "Armin Jr" {
		t.Fatalf("updated=%+v", updated)
	}

	_, err = svc.UpdatePersona(context.Background(), p, p.ID, UpdatePersonaInput{Email: Some("new@example.com")})
	wantAppErr(t, err, 403, "FORBIDDEN")

	other := mustCreate(t, svc, "bertalotta@example.com", domain.RealmML)
	_, err = svc.UpdatePersona(context.Background(), other, p.ID, UpdatePersonaInput{GivenNames: Some("X")})
	wantAppErr(t, err, 403, "FORBIDDEN")

	eventAdmin := domain.Persona{ID: "ea", AdminRealms: []domain.AdminRealm{domain.AdminEvent}}
	updated, err = svc.UpdatePersona(context.Background(), eventAdmin, p.ID, UpdatePersonaInput{
		Email:       Some("new@example.com"),
		DisplayName: Null[string](),
	})
	if err != nil {
		t.Fatalf("UpdatePersona admin err=%v", err)
	}
	if updated.Email != "new@example.com" || updated.DisplayName != "" {
		t.Fatalf("updated=%+v", updated)
	}

	_, err = svc.UpdatePersona(context.Background(), eventAdmin, p.ID, UpdatePersonaInput{GivenNames: Null[string]()})
	wantAppErr(t, err, 422, "VALIDATION_ERROR")
}

func TestService_SetRealms_OnlyAdds(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	p := mustCreate(t, svc, "anton@example.com", domain.RealmEvent)

	got, err := svc.SetRealms(context.Background(), coreAdmin, p.ID, []domain.Realm{domain.RealmEvent, domain.RealmAssembly})
	if err != nil {
		t.Fatalf("SetRealms err=%v", err)
	}
	want := []domain.Realm{domain.RealmAssembly, domain.RealmEvent, domain.RealmML}
	if diff := cmp.Diff(want, got.Realms); diff != "" {
		t.Fatalf("realms mismatch (-want +got):\n%s", diff)
	}

	_, err = svc.SetRealms(context.Background(), coreAdmin, p.ID, []domain.Realm{domain.RealmAssembly})
	wantAppErr(t, err, 422, "VALIDATION_ERROR")

	mlAdmin := domain.Persona{ID: "ml", AdminRealms: []domain.AdminRealm{domain.AdminML}}
	_, err = svc.SetRealms(context.Background(), mlAdmin, p.ID, []domain.Realm{domain.RealmCde})
	wantAppErr(t, err, 403, "FORBIDDEN")
}

func TestService_Login_Authenticate_Logout(t *testing.T) {
	t.Parallel()

	svc, clk := newTestService(t)
	p := mustCreate(t, svc, "anton@example.com", domain.RealmCde)

	_, err := svc.Login(context.Background(), "anton@example.com", "wrong-password", "127.0.0.1")
	wantAppErr(t, err, 401, "INVALID_CREDENTIALS")
	_, err = svc.Login(context.Background(), "nobody@example.com", "secret-password", "127.0.0.1")
	wantAppErr(t, err, 401, "INVALID_CREDENTIALS")

	res, err := svc.Login(context.Background(), " ANTON@example.com", "secret-password", "127.0.0.1")
	if err != nil {
		t.Fatalf("Login err=%v", err)
	}
	if res.Persona.ID != p.ID || res.Token == "" {
		t.Fatalf("res=%+v", res)
	}

	clk.Advance(time.Minute)
	got, sid, err := svc.Authenticate(context.Background(), res.Token)
	if err != nil {
		t.Fatalf("Authenticate err=%v", err)
	}
	if got.ID != p.ID || sid != res.Session.ID {
		t.Fatalf("got=%v sid=%v", got.ID, sid)
	}

	if err := svc.Logout(context.Background(), sid); err != nil {
		t.Fatalf("Logout err=%v", err)
	}
	_, _, err = svc.Authenticate(context.Background(), res.Token)
	wantAppErr(t, err, 401, "SESSION_INACTIVE")
}

func TestService_Authenticate_Expired(t *testing.T) {
	t.Parallel()

	svc, clk := newTestService(t)
	mustCreate(t, svc, "anton@example.com", domain.RealmCde)
	res, err := svc.Login(context.Background(), "anton@example.com", "secret-password", "")
	if err != nil {
		t.Fatalf("Login err=%v", err)
	}
	clk.Advance(2 * time.Hour)
	_, _, err = svc.Authenticate(context.Background(), res.Token)
	wantAppErr(t, err, 401, "UNAUTHENTICATED")
}

func TestService_Login_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	svc, clk := newTestService(t)
	svc.MaxSessions = 2
	p := mustCreate(t, svc, "anton@example.com", domain.RealmCde)

	var tokens []string
	for i := 0; i < 3; i++ {
		res, err := svc.Login(context.Background(), "anton@example.com", "secret-password", "")
		if err != nil {
			t.Fatalf("Login %d err=%v", i, err)
		}
		tokens = append(tokens, res.Token)
		clk.Advance(time.Second)
		if i == 1 {
			// Touch the first session so the second becomes least recently used.
			if _, _, err := svc.Authenticate(context.Background(), tokens[0]); err != nil {
				t.Fatalf("Authenticate first err=%v", err)
			}
			clk.Advance(time.Second)
		}
	}

	active, err := svc.ListSessions(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("ListSessions err=%v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active sessions=%d, want 2", len(active))
	}
	if _, _, err := svc.Authenticate(context.Background(), tokens[0]); err != nil {
		t.Fatalf("first session should survive: %v", err)
	}
	_, _, err = svc.Authenticate(context.Background(), tokens[1])
	wantAppErr(t, err, 401, "SESSION_INACTIVE")

	n, err := svc.LogoutAll(context.Background(), p.ID)
	if err != nil || n != 2 {
		t.Fatalf("LogoutAll n=%d err=%v", n, err)
	}
}

func TestService_ChangePassword_EndsSessions(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	p := mustCreate(t, svc, "anton@example.com", domain.RealmCde)
	res, err := svc.Login(context.Background(), "anton@example.com", "secret-password", "")
	if err != nil {
		t.Fatalf("Login err=%v", err)
	}

	err = svc.ChangePassword(context.Background(), p, "not-the-password", "another-password")
	wantAppErr(t, err, 401, "INVALID_CREDENTIALS")

	if err := svc.ChangePassword(context.Background(), p, "secret-password", "another-password"); err != nil {
		t.Fatalf("ChangePassword err=%v", err)
	}
	_, _, err = svc.Authenticate(context.Background(), res.Token)
	wantAppErr(t, err, 401, "SESSION_INACTIVE")
	if _, err := svc.Login(context.Background(), "anton@example.com", "another-password", ""); err != nil {
		t.Fatalf("Login with new password err=%v", err)
	}
}

func TestService_Archive_BlocksLoginAndSearch(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	p := mustCreate(t, svc, "anton@example.com", domain.RealmCde)

	_, err := svc.Archive(context.Background(), p, p.ID)
	wantAppErr(t, err, 403, "FORBIDDEN")

	archived, err := svc.Archive(context.Background(), coreAdmin, p.ID)
	if err != nil {
		t.Fatalf("Archive err=%v", err)
	}
	if !archived.IsArchived || archived.IsActive {
		t.Fatalf("archived=%+v", archived)
	}
	_, err = svc.Login(context.Background(), "anton@example.com", "secret-password", "")
	wantAppErr(t, err, 401, "PERSONA_INACTIVE")

	found, err := svc.SearchPersonas(context.Background(), coreAdmin, "anton")
	if err != nil {
		t.Fatalf("SearchPersonas err=%v", err)
	}
	if len(found) != 0 {
		t.Fatalf("archived persona found: %+v", found)
	}
}

func TestService_SearchPersonas(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	mustCreate(t, svc, "anton@example.com", domain.RealmCde)

	_, err := svc.SearchPersonas(context.Background(), coreAdmin, " an ")
	wantAppErr(t, err, 422, "VALIDATION_ERROR")

	_, err = svc.SearchPersonas(context.Background(), domain.Persona{ID: "x"}, "anton")
	wantAppErr(t, err, 403, "FORBIDDEN")

	found, err := svc.SearchPersonas(context.Background(), coreAdmin, "ANTON armin")
	if err != nil {
		t.Fatalf("SearchPersonas err=%v", err)
	}
	if len(found) != 1 {
		t.Fatalf("found=%d, want 1", len(found))
	}
}

func TestService_ResolveEmails(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	a := mustCreate(t, svc, "anton@example.com", domain.RealmCde)

	got, err := svc.ResolveEmails(context.Background(), []string{"ANTON@example.com", "nobody@example.com", "anton@example.com"})
	if err != nil {
		t.Fatalf("ResolveEmails err=%v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("got=%+v", got)
	}
}

func TestService_Bootstrap(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	created, err := svc.Bootstrap(context.Background(), "root@example.com", "root-password")
	if err != nil || !created {
		t.Fatalf("Bootstrap created=%v err=%v", created, err)
	}
	created, err = svc.Bootstrap(context.Background(), "root@example.com", "root-password")
	if err != nil || created {
		t.Fatalf("second Bootstrap created=%v err=%v", created, err)
	}
	res, err := svc.Login(context.Background(), "root@example.com", "root-password", "")
	if err != nil {
		t.Fatalf("Login err=%v", err)
	}
	if !res.Persona.IsAdmin(domain.AdminCore) {
		t.Fatalf("bootstrap persona is not core admin")
	}
}

func TestService_GetPersona_Visibility(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	p := mustCreate(t, svc, "anton@example.com", domain.RealmEvent)
	other := mustCreate(t, svc, "berta@example.com", domain.RealmML)

	if _, err := svc.GetPersona(context.Background(), p, p.ID); err != nil {
		t.Fatalf("self GetPersona err=%v", err)
	}
	_, err := svc.GetPersona(context.Background(), other, p.ID)
	wantAppErr(t, err, 403, "FORBIDDEN")
	_, err = svc.GetPersona(context.Background(), coreAdmin, "missing")
	wantAppErr(t, err, 404, "PERSONA_NOT_FOUND")

	var ae *apperr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected *apperr.Error")
	}
}
