package contracttest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	assemblyrepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/assemblyrepo"
)

type AssemblyRepoFactory func(t *testing.T) (assemblyrepoport.Repository, CleanupFunc)

func RunAssemblyRepo(t *testing.T, newRepo AssemblyRepoFactory) {
	t.Helper()
	ctx := context.Background()

	repo, cleanup := newRepo(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	now := time.Unix(6000, 0).UTC()
	presider := domain.PersonaID(uuid.NewString())
	asm := domain.Assembly{
		ID:        domain.AssemblyID(uuid.NewString()),
		Shortname: "mv26",
		Title:     "Mitgliederversammlung 2026",
		SignupEnd: now.Add(48 * time.Hour),
		Presiders: []domain.PersonaID{presider},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateAssembly(ctx, asm); err != nil {
		t.Fatalf("CreateAssembly: %v", err)
	}
	asm.Description = "Jährliche Versammlung"
	if err := repo.SaveAssembly(ctx, asm); err != nil {
		t.Fatalf("SaveAssembly: %v", err)
	}
	got, err := repo.GetAssembly(ctx, asm.ID)
	if err != nil || got.Description != asm.Description || !got.IsPresider(presider) {
		t.Fatalf("GetAssembly: %#v err=%v", got, err)
	}
	all, err := repo.ListAssemblies(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("ListAssemblies: n=%d err=%v", len(all), err)
	}
	if _, err := repo.GetAssembly(ctx, domain.AssemblyID(uuid.NewString())); !errors.Is(err, assemblyrepoport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Attendees.
	voterA := domain.PersonaID(uuid.NewString())
	voterB := domain.PersonaID(uuid.NewString())
	for _, p := range []domain.PersonaID{voterA, voterB} {
		secret := "secret-" + string(p)[:8]
		if err := repo.AddAttendee(ctx, domain.Attendee{AssemblyID: asm.ID, PersonaID: p, Secret: &secret, CreatedAt: now}); err != nil {
			t.Fatalf("AddAttendee: %v", err)
		}
	}
	if err := repo.AddAttendee(ctx, domain.Attendee{AssemblyID: asm.ID, PersonaID: voterA, CreatedAt: now}); !errors.Is(err, assemblyrepoport.ErrAlreadyAttending) {
		t.Fatalf("expected ErrAlreadyAttending, got %v", err)
	}
	att, err := repo.GetAttendee(ctx, asm.ID, voterA)
	if err != nil || att.Secret == nil {
		t.Fatalf("GetAttendee: %#v err=%v", att, err)
	}
	if _, err := repo.GetAttendee(ctx, asm.ID, presider); !errors.Is(err, assemblyrepoport.ErrAttendeeNotFound) {
		t.Fatalf("expected ErrAttendeeNotFound, got %v", err)
	}
	atts, err := repo.ListAttendees(ctx, asm.ID)
	if err != nil || len(atts) != 2 {
		t.Fatalf("ListAttendees: n=%d err=%v", len(atts), err)
	}

	// Ballots ordered by vote begin.
	votes := 1
	ext := now.Add(3 * time.Hour)
	late := domain.Ballot{
		ID:               domain.BallotID(uuid.NewString()),
		AssemblyID:       asm.ID,
		Title:            "Satzungsänderung",
		Candidates:       []domain.Candidate{{Shortname: "ja", Title: "Ja"}, {Shortname: "nein", Title: "Nein"}},
		VoteBegin:        now.Add(time.Hour),
		VoteEnd:          now.Add(2 * time.Hour),
		VoteExtensionEnd: &ext,
		AbsQuorum:        2,
		Votes:            &votes,
		UseBar:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	early := domain.Ballot{
		ID:         domain.BallotID(uuid.NewString()),
		AssemblyID: asm.ID,
		Title:      "Vorstand",
		Candidates: []domain.Candidate{{Shortname: "anton", Title: "Anton"}, {Shortname: "berta", Title: "Berta"}},
		VoteBegin:  now,
		VoteEnd:    now.Add(time.Hour),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, b := range []domain.Ballot{late, early} {
		if err := repo.CreateBallot(ctx, b); err != nil {
			t.Fatalf("CreateBallot %s: %v", b.Title, err)
		}
	}
	ballots, err := repo.ListBallots(ctx, asm.ID)
	if err != nil {
		t.Fatalf("ListBallots: %v", err)
	}
	if len(ballots) != 2 || ballots[0].ID != early.ID || ballots[1].Votes == nil || *ballots[1].Votes != 1 || !ballots[1].UseBar {
		t.Fatalf("unexpected ballots: %#v", ballots)
	}
	if ballots[1].VoteExtensionEnd == nil || !ballots[1].VoteExtensionEnd.Equal(ext) || len(ballots[1].Candidates) != 2 {
		t.Fatalf("ballot payload not persisted: %#v", ballots[1])
	}

	// Votes: the stored record carries no voter reference.
	recA := domain.VoteRecord{BallotID: early.ID, Vote: "anton>berta", Salt: "s1", Hash: "h-a"}
	if replaced, err := repo.CastVote(ctx, voterA, recA, nil); err != nil || replaced {
		t.Fatalf("CastVote a: replaced=%v err=%v", replaced, err)
	}
	recB := domain.VoteRecord{BallotID: early.ID, Vote: "berta>anton", Salt: "s2", Hash: "h-b"}
	byHash := func(h string) assemblyrepoport.VoteMatcher {
		return func(v domain.VoteRecord) bool { return v.Hash == h }
	}
	if replaced, err := repo.CastVote(ctx, voterB, recB, byHash("h-unknown")); err != nil || replaced {
		t.Fatalf("CastVote b: replaced=%v err=%v", replaced, err)
	}
	// Changing a vote replaces the old record.
	recA2 := domain.VoteRecord{BallotID: early.ID, Vote: "anton=berta", Salt: "s3", Hash: "h-c"}
	if replaced, err := repo.CastVote(ctx, voterA, recA2, byHash(recA.Hash)); err != nil || !replaced {
		t.Fatalf("CastVote replace: replaced=%v err=%v", replaced, err)
	}
	if _, err := repo.CastVote(ctx, voterA, domain.VoteRecord{BallotID: "missing", Hash: "h-x"}, nil); !errors.Is(err, assemblyrepoport.ErrBallotNotFound) {
		t.Fatalf("expected ErrBallotNotFound, got %v", err)
	}
	recs, err := repo.ListVotes(ctx, early.ID)
	if err != nil {
		t.Fatalf("ListVotes: %v", err)
	}
	if len(recs) != 2 || recs[0].Hash != "h-b" || recs[1].Hash != "h-c" || recs[1].Vote != "anton=berta" {
		t.Fatalf("unexpected votes: %#v", recs)
	}
	voted, err := repo.HasVoted(ctx, early.ID, voterA)
	if err != nil || !voted {
		t.Fatalf("HasVoted a: %v err=%v", voted, err)
	}
	voted, err = repo.HasVoted(ctx, late.ID, voterA)
	if err != nil || voted {
		t.Fatalf("HasVoted other ballot: %v err=%v", voted, err)
	}
	voters, err := repo.ListVoters(ctx, early.ID)
	if err != nil || len(voters) != 2 {
		t.Fatalf("ListVoters: %#v err=%v", voters, err)
	}

	// Tally result is stored on the ballot.
	early.IsTallied = true
	early.ResultFile = []byte(`{"result":"anton=berta"}`)
	early.ResultHash = "abc"
	if err := repo.SaveBallot(ctx, early); err != nil {
		t.Fatalf("SaveBallot: %v", err)
	}
	tallied, err := repo.GetBallot(ctx, early.ID)
	if err != nil || !tallied.IsTallied || string(tallied.ResultFile) != `{"result":"anton=berta"}` {
		t.Fatalf("GetBallot: %#v err=%v", tallied, err)
	}

	if err := repo.WipeSecrets(ctx, asm.ID); err != nil {
		t.Fatalf("WipeSecrets: %v", err)
	}
	att, err = repo.GetAttendee(ctx, asm.ID, voterB)
	if err != nil || att.Secret != nil {
		t.Fatalf("expected wiped secret: %#v err=%v", att, err)
	}

	if err := repo.DeleteBallot(ctx, late.ID); err != nil {
		t.Fatalf("DeleteBallot: %v", err)
	}
	if _, err := repo.GetBallot(ctx, late.ID); !errors.Is(err, assemblyrepoport.ErrBallotNotFound) {
		t.Fatalf("expected ErrBallotNotFound, got %v", err)
	}
}
