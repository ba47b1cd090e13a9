package contracttest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	droidrepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/droidrepo"
	genesisrepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/genesisrepo"
	idempotencyport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/idempotency"
	personarepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/personarepo"
	sessionrepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/sessionrepo"
)

type CleanupFunc = func()

type PersonaRepoFactory func(t *testing.T) (personarepoport.Repository, CleanupFunc)
type SessionRepoFactory func(t *testing.T) (sessionrepoport.Repository, CleanupFunc)
type DroidRepoFactory func(t *testing.T) (droidrepoport.Repository, CleanupFunc)
type GenesisRepoFactory func(t *testing.T) (genesisrepoport.Repository, CleanupFunc)
type IdemStoreFactory func(t *testing.T) (idempotencyport.Store, CleanupFunc)

func RunIdempotencyStore(t *testing.T, newStore IdemStoreFactory) {
	t.Helper()
	ctx := context.Background()

	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	fp := idempotencyport.Fingerprint{
		Key:       "k-1",
		Principal: uuid.NewString(),
		Method:    "POST",
		Route:     "/ballots/b-1/vote",
		BodyHash:  "",
	}
	if _, ok, err := store.Get(ctx, fp); err != nil || ok {
		t.Fatalf("expected miss before Put, ok=%v err=%v", ok, err)
	}
	rec := idempotencyport.Record{
		StatusCode:  0,
		ContentType: "text/plain",
		Body:        []byte("hash-abc"),
		CreatedAt:   time.Unix(123, 0).UTC(),
	}
	if err := store.Put(ctx, fp, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := store.Get(ctx, fp)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if string(got.Body) != "hash-abc" || got.ContentType != "text/plain" || got.StatusCode != 0 {
		t.Fatalf("unexpected record: %+v", got)
	}

	// Overwrite semantics.
	rec2 := rec
	rec2.Body = []byte("hash-def")
	if err := store.Put(ctx, fp, rec2); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, ok, err = store.Get(ctx, fp)
	if err != nil || !ok || string(got.Body) != "hash-def" {
		t.Fatalf("expected overwritten record, got ok=%v err=%v body=%q", ok, err, string(got.Body))
	}

	// The principal is part of the fingerprint.
	other := fp
	other.Principal = uuid.NewString()
	if _, ok, err := store.Get(ctx, other); err != nil || ok {
		t.Fatalf("expected miss for other principal, ok=%v err=%v", ok, err)
	}
}

func RunPersonaRepo(t *testing.T, newRepo PersonaRepoFactory) {
	t.Helper()
	ctx := context.Background()

	repo, cleanup := newRepo(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	now := time.Unix(1000, 0).UTC()
	aID := domain.PersonaID(uuid.NewString())
	if err := repo.Create(ctx, personarepoport.Persona{
		ID:          aID,
		Email:       "Anton@example.com",
		GivenNames:  "Anton Armin A.",
		FamilyName:  "Administrator",
		Realms:      domain.CloseRealms([]domain.Realm{domain.RealmCde}),
		AdminRealms: []domain.AdminRealm{domain.AdminCore},
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	got, err := repo.GetByID(ctx, aID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(got.Realms) != 4 || len(got.AdminRealms) != 1 {
		t.Fatalf("realms not persisted: %#v", got)
	}
	if _, err := repo.GetByEmail(ctx, "anton@EXAMPLE.com"); err != nil {
		t.Fatalf("GetByEmail case-insensitive: %v", err)
	}
	if _, err := repo.GetByID(ctx, domain.PersonaID(uuid.NewString())); !errors.Is(err, personarepoport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Email uniqueness.
	err = repo.Create(ctx, personarepoport.Persona{
		ID:         domain.PersonaID(uuid.NewString()),
		Email:      "anton@example.com",
		GivenNames: "Other",
		FamilyName: "Anton",
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if !errors.Is(err, personarepoport.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	bID := domain.PersonaID(uuid.NewString())
	if err := repo.Create(ctx, personarepoport.Persona{
		ID:         bID,
		Email:      "berta@example.com",
		GivenNames: "Bertålotta",
		FamilyName: "Beispiel",
		Realms:     domain.CloseRealms([]domain.Realm{domain.RealmEvent}),
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("Create b: %v", err)
	}
	inactiveID := domain.PersonaID(uuid.NewString())
	if err := repo.Create(ctx, personarepoport.Persona{
		ID:         inactiveID,
		Email:      "charly@example.com",
		GivenNames: "Charly",
		FamilyName: "Clown",
		Realms:     domain.CloseRealms([]domain.Realm{domain.RealmEvent}),
		IsActive:   false,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("Create inactive: %v", err)
	}

	// Deterministic list ordering by family name.
	all, err := repo.List(ctx, true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].ID != aID || all[1].ID != bID || all[2].ID != inactiveID {
		t.Fatalf("unexpected ordering: %#v", all)
	}
	active, err := repo.List(ctx, false)
	if err != nil || len(active) != 2 {
		t.Fatalf("List active: n=%d err=%v", len(active), err)
	}

	byRealm, err := repo.ListByRealm(ctx, domain.RealmEvent)
	if err != nil {
		t.Fatalf("ListByRealm: %v", err)
	}
	if len(byRealm) != 2 {
		t.Fatalf("expected 2 active personas in event realm, got %d", len(byRealm))
	}
	byRealm, err = repo.ListByRealm(ctx, domain.RealmCde)
	if err != nil || len(byRealm) != 1 || byRealm[0].ID != aID {
		t.Fatalf("ListByRealm cde: %#v err=%v", byRealm, err)
	}

	// Search matches all tokens, across names and email.
	res, err := repo.Search(ctx, "ant admin", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 || res[0].ID != aID {
		t.Fatalf("unexpected search result: %#v", res)
	}
	res, err = repo.Search(ctx, "example.com", 2)
	if err != nil || len(res) != 2 {
		t.Fatalf("Search limit: n=%d err=%v", len(res), err)
	}

	// Update with email change frees the old address.
	got.Email = "anton.neu@example.com"
	got.PasswordHash = "$2a$10$abc"
	got.UpdatedAt = now.Add(time.Minute)
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := repo.GetByEmail(ctx, "anton@example.com"); !errors.Is(err, personarepoport.ErrNotFound) {
		t.Fatalf("expected old email to be free, got %v", err)
	}
	updated, err := repo.GetByEmail(ctx, "anton.neu@example.com")
	if err != nil || updated.PasswordHash != "$2a$10$abc" {
		t.Fatalf("GetByEmail after update: %#v err=%v", updated, err)
	}
	got.Email = "berta@example.com"
	if err := repo.Update(ctx, got); !errors.Is(err, personarepoport.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken on update, got %v", err)
	}
}

func RunSessionRepo(t *testing.T, newRepo SessionRepoFactory) {
	t.Helper()
	ctx := context.Background()

	repo, cleanup := newRepo(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	now := time.Unix(5000, 0).UTC()
	personaID := domain.PersonaID(uuid.NewString())
	ids := make([]domain.SessionID, 3)
	for i := range ids {
		ids[i] = domain.SessionID(uuid.NewString())
		at := now.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, domain.Session{
			ID:        ids[i],
			PersonaID: personaID,
			IP:        "127.0.0.1",
			IsActive:  true,
			CreatedAt: at,
			LastSeen:  at,
		}); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	// Touching the oldest session makes it the most recently used.
	if err := repo.Touch(ctx, ids[0], now.Add(time.Hour)); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	active, err := repo.ListActive(ctx, personaID)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 3 || active[0].ID != ids[1] || active[2].ID != ids[0] {
		t.Fatalf("unexpected LRU order: %#v", active)
	}

	if err := repo.Deactivate(ctx, ids[1]); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if err := repo.Touch(ctx, ids[1], now.Add(2*time.Hour)); !errors.Is(err, sessionrepoport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound touching inactive session, got %v", err)
	}
	s, err := repo.Get(ctx, ids[1])
	if err != nil || s.IsActive {
		t.Fatalf("Get deactivated: %#v err=%v", s, err)
	}

	n, err := repo.DeactivateAll(ctx, personaID)
	if err != nil || n != 2 {
		t.Fatalf("DeactivateAll: n=%d err=%v", n, err)
	}
	active, err = repo.ListActive(ctx, personaID)
	if err != nil || len(active) != 0 {
		t.Fatalf("expected no active sessions, got %d err=%v", len(active), err)
	}
	if _, err := repo.Get(ctx, domain.SessionID(uuid.NewString())); !errors.Is(err, sessionrepoport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func RunDroidRepo(t *testing.T, newRepo DroidRepoFactory) {
	t.Helper()
	ctx := context.Background()

	repo, cleanup := newRepo(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	now := time.Unix(7000, 0).UTC()
	eventID := domain.EventID(uuid.NewString())
	first := droidrepoport.OrgaToken{
		ID:         domain.OrgaTokenID(uuid.NewString()),
		EventID:    eventID,
		Title:      "Anmeldungstool",
		SecretHash: "aa",
		CreatedBy:  domain.PersonaID(uuid.NewString()),
		CreatedAt:  now,
		ExpiresAt:  now.Add(24 * time.Hour),
	}
	second := first
	second.ID = domain.OrgaTokenID(uuid.NewString())
	second.Title = "Export"
	second.SecretHash = "bb"
	second.CreatedAt = now.Add(time.Minute)
	for _, tok := range []droidrepoport.OrgaToken{second, first} {
		if err := repo.Create(ctx, tok); err != nil {
			t.Fatalf("Create %s: %v", tok.Title, err)
		}
	}
	if err := repo.Create(ctx, first); !errors.Is(err, droidrepoport.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	list, err := repo.ListByEvent(ctx, eventID)
	if err != nil {
		t.Fatalf("ListByEvent: %v", err)
	}
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatalf("unexpected ordering: %#v", list)
	}

	used := now.Add(30 * time.Minute)
	if err := repo.TouchLastAccess(ctx, first.ID, used); err != nil {
		t.Fatalf("TouchLastAccess: %v", err)
	}
	revoked := now.Add(time.Hour)
	got, err := repo.Revoke(ctx, first.ID, revoked)
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if got.RevokedAt == nil || !got.RevokedAt.Equal(revoked) || got.SecretHash != "aa" {
		t.Fatalf("unexpected token: %#v", got)
	}
	if got.LastAccess == nil || !got.LastAccess.Equal(used) {
		t.Fatalf("revocation lost last access: %#v", got.LastAccess)
	}
	// Revoking again keeps the first revocation time.
	again, err := repo.Revoke(ctx, first.ID, revoked.Add(time.Hour))
	if err != nil || !again.RevokedAt.Equal(revoked) {
		t.Fatalf("second Revoke: %#v err=%v", again.RevokedAt, err)
	}
	// A revoked token is never touched again.
	if err := repo.TouchLastAccess(ctx, first.ID, revoked.Add(time.Minute)); !errors.Is(err, droidrepoport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound touching a revoked token, got %v", err)
	}
	if _, err := repo.Revoke(ctx, domain.OrgaTokenID(uuid.NewString()), revoked); !errors.Is(err, droidrepoport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound revoking unknown token, got %v", err)
	}

	if err := repo.DeleteUnused(ctx, first.ID); !errors.Is(err, droidrepoport.ErrInUse) {
		t.Fatalf("expected ErrInUse, got %v", err)
	}
	if err := repo.DeleteUnused(ctx, second.ID); err != nil {
		t.Fatalf("DeleteUnused: %v", err)
	}
	if _, err := repo.Get(ctx, second.ID); !errors.Is(err, droidrepoport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := repo.DeleteUnused(ctx, second.ID); !errors.Is(err, droidrepoport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func RunGenesisRepo(t *testing.T, newRepo GenesisRepoFactory) {
	t.Helper()
	ctx := context.Background()

	repo, cleanup := newRepo(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	now := time.Unix(9000, 0).UTC()
	stale := domain.GenesisCase{
		ID:         domain.GenesisCaseID(uuid.NewString()),
		Email:      "stale@example.com",
		GivenNames: "Stale",
		FamilyName: "Request",
		Realm:      domain.RealmEvent,
		State:      domain.GenesisUnconfirmed,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	fresh := stale
	fresh.ID = domain.GenesisCaseID(uuid.NewString())
	fresh.Email = "fresh@example.com"
	fresh.CreatedAt = now.Add(2 * time.Hour)
	fresh.UpdatedAt = fresh.CreatedAt
	review := stale
	review.ID = domain.GenesisCaseID(uuid.NewString())
	review.Email = "review@example.com"
	review.State = domain.GenesisToReview
	review.CreatedAt = now.Add(time.Hour)
	review.UpdatedAt = review.CreatedAt
	for _, c := range []domain.GenesisCase{fresh, stale, review} {
		if err := repo.Create(ctx, c); err != nil {
			t.Fatalf("Create %s: %v", c.Email, err)
		}
	}
	if err := repo.Create(ctx, stale); !errors.Is(err, genesisrepoport.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].ID != stale.ID || all[1].ID != review.ID || all[2].ID != fresh.ID {
		t.Fatalf("unexpected ordering: %#v", all)
	}
	toReview, err := repo.List(ctx, domain.GenesisToReview)
	if err != nil || len(toReview) != 1 || toReview[0].ID != review.ID {
		t.Fatalf("List to_review: %#v err=%v", toReview, err)
	}

	found, err := repo.FindOpenByEmail(ctx, "REVIEW@example.com")
	if err != nil || found.ID != review.ID {
		t.Fatalf("FindOpenByEmail: %#v err=%v", found, err)
	}

	reviewer := domain.PersonaID(uuid.NewString())
	review.State = domain.GenesisRejected
	review.Reviewer = &reviewer
	review.UpdatedAt = now.Add(3 * time.Hour)
	if err := repo.Update(ctx, review); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := repo.FindOpenByEmail(ctx, "review@example.com"); !errors.Is(err, genesisrepoport.ErrNotFound) {
		t.Fatalf("expected closed case to be ignored, got %v", err)
	}
	got, err := repo.Get(ctx, review.ID)
	if err != nil || got.Reviewer == nil || *got.Reviewer != reviewer {
		t.Fatalf("Get: %#v err=%v", got, err)
	}

	n, err := repo.DeleteUnconfirmedBefore(ctx, now.Add(90*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("DeleteUnconfirmedBefore: n=%d err=%v", n, err)
	}
	if _, err := repo.Get(ctx, stale.ID); !errors.Is(err, genesisrepoport.ErrNotFound) {
		t.Fatalf("expected stale case to be deleted, got %v", err)
	}
	if _, err := repo.Get(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh case must survive: %v", err)
	}
}
