package contracttest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	mlrepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/mlrepo"
)

type MailinglistRepoFactory func(t *testing.T) (mlrepoport.Repository, CleanupFunc)

func RunMailinglistRepo(t *testing.T, newRepo MailinglistRepoFactory) {
	t.Helper()
	ctx := context.Background()

	repo, cleanup := newRepo(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	now := time.Unix(4000, 0).UTC()
	moderator := domain.PersonaID(uuid.NewString())
	eventID := domain.EventID(uuid.NewString())
	orgas := domain.Mailinglist{
		ID:                domain.MailinglistID(uuid.NewString()),
		Title:             "Orgateam",
		LocalPart:         "pa26-orga",
		Domain:            "lists.example.org",
		Type:              domain.MLEventOrga,
		IsActive:          true,
		Moderators:        []domain.PersonaID{moderator},
		EventID:           &eventID,
		RegistrationStati: []domain.RegistrationPartStatus{domain.RegParticipant},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	announce := domain.Mailinglist{
		ID:        domain.MailinglistID(uuid.NewString()),
		Title:     "Aktivenforum",
		LocalPart: "aktivenforum",
		Domain:    "lists.example.org",
		Type:      domain.MLMemberOptIn,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, ml := range []domain.Mailinglist{orgas, announce} {
		if err := repo.Create(ctx, ml); err != nil {
			t.Fatalf("Create %s: %v", ml.Address(), err)
		}
	}
	clash := announce
	clash.ID = domain.MailinglistID(uuid.NewString())
	clash.LocalPart = "AktivenForum"
	if err := repo.Create(ctx, clash); !errors.Is(err, mlrepoport.ErrAddressTaken) {
		t.Fatalf("expected ErrAddressTaken, got %v", err)
	}

	lists, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(lists) != 2 || lists[0].ID != announce.ID {
		t.Fatalf("unexpected ordering: %#v", lists)
	}
	got, err := repo.Get(ctx, orgas.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.EventID == nil || *got.EventID != eventID || !got.IsModerator(moderator) || len(got.RegistrationStati) != 1 {
		t.Fatalf("unexpected list: %#v", got)
	}

	got.LocalPart = "aktivenforum"
	if err := repo.Save(ctx, got); !errors.Is(err, mlrepoport.ErrAddressTaken) {
		t.Fatalf("expected ErrAddressTaken on save, got %v", err)
	}
	got.LocalPart = "pa26-orgateam"
	got.IsActive = false
	if err := repo.Save(ctx, got); err != nil {
		t.Fatalf("Save: %v", err)
	}

	a := domain.PersonaID(uuid.NewString())
	b := domain.PersonaID(uuid.NewString())
	if err := repo.SetSubscription(ctx, domain.Subscription{MailinglistID: announce.ID, PersonaID: a, State: domain.SubSubscribed, UpdatedAt: now}); err != nil {
		t.Fatalf("SetSubscription a: %v", err)
	}
	if err := repo.SetSubscription(ctx, domain.Subscription{MailinglistID: announce.ID, PersonaID: b, State: domain.SubPending, UpdatedAt: now}); err != nil {
		t.Fatalf("SetSubscription b: %v", err)
	}
	// Upsert semantics.
	if err := repo.SetSubscription(ctx, domain.Subscription{MailinglistID: announce.ID, PersonaID: b, State: domain.SubSubscriptionOverride, UpdatedAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("SetSubscription b again: %v", err)
	}
	sub, err := repo.GetSubscription(ctx, announce.ID, b)
	if err != nil || sub.State != domain.SubSubscriptionOverride {
		t.Fatalf("GetSubscription: %#v err=%v", sub, err)
	}
	subs, err := repo.ListSubscriptions(ctx, announce.ID)
	if err != nil || len(subs) != 2 {
		t.Fatalf("ListSubscriptions: %#v err=%v", subs, err)
	}
	if subs[0].PersonaID > subs[1].PersonaID {
		t.Fatalf("subscriptions not ordered by persona: %#v", subs)
	}
	if err := repo.SetSubscription(ctx, domain.Subscription{MailinglistID: domain.MailinglistID(uuid.NewString()), PersonaID: a, State: domain.SubSubscribed, UpdatedAt: now}); !errors.Is(err, mlrepoport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown list, got %v", err)
	}

	if err := repo.DeleteSubscription(ctx, announce.ID, a); err != nil {
		t.Fatalf("DeleteSubscription: %v", err)
	}
	if _, err := repo.GetSubscription(ctx, announce.ID, a); !errors.Is(err, mlrepoport.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
	if err := repo.DeleteSubscription(ctx, announce.ID, a); !errors.Is(err, mlrepoport.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound on double delete, got %v", err)
	}
}
