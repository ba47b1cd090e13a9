package assemblies

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	memassemblyrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/assemblyrepo"
	memclock "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/clock"
	mempersonarepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/personarepo"
	"github.com/cde-ev/cdedb2-sub001/internal/app/apperr"
	"github.com/cde-ev/cdedb2-sub001/internal/domain"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/personarepo"
)

var (
	presider = persona("presider", "Petra", domain.AdminAssembly)
	alice    = persona("alice", "Alice")
	bob      = persona("bob", "Bob")
	carol    = persona("carol", "Carol")
	outsider = domain.Persona{ID: "outsider", GivenNames: "Otto", FamilyName: "Tester", Realms: []domain.Realm{domain.RealmEvent}, IsActive: true}
)

var (
	t0         = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signupEnd  = t0.Add(9 * 24 * time.Hour)
	voteBegin  = t0.Add(4 * 24 * time.Hour)
	voteEnd    = voteBegin.Add(24 * time.Hour)
	voteExtEnd = voteEnd.Add(24 * time.Hour)
)

func persona(id, given string, admin ...domain.AdminRealm) domain.Persona {
	return domain.Persona{
		ID:          domain.PersonaID(id),
		Email:       id + "@example.com",
		GivenNames:  given,
		FamilyName:  "Tester",
		Realms:      []domain.Realm{domain.RealmAssembly},
		AdminRealms: admin,
		IsActive:    true,
	}
}

type testEnv struct {
	svc      *Service
	repo     *memassemblyrepo.Repo
	personas *mempersonarepo.Repo
	clk      *memclock.ManualClock
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	personas := mempersonarepo.NewRepo()
	for _, p := range []domain.Persona{presider, alice, bob, carol, outsider} {
		if err := personas.Create(ctx, personarepo.Persona{
			ID:          p.ID,
			Email:       string(p.ID) + "@example.com",
			GivenNames:  p.GivenNames,
			FamilyName:  p.FamilyName,
			Realms:      p.Realms,
			AdminRealms: p.AdminRealms,
			IsActive:    true,
		}); err != nil {
			t.Fatalf("seed persona: %v", err)
		}
	}
	repo := memassemblyrepo.NewRepo()
	clk := memclock.NewManualClock(t0)
	svc := NewService(repo, personas, clk, zap.NewNop())
	var ids, tokens int
	svc.newID = func() string {
		ids++
		return fmt.Sprintf("id-%03d", ids)
	}
	svc.random = func() (string, error) {
		tokens++
		return fmt.Sprintf("tok-%03d", tokens), nil
	}
	return testEnv{svc: svc, repo: repo, personas: personas, clk: clk}
}

func wantAppErr(t *testing.T, err error, status int, code string) {
	t.Helper()
	ae, ok := apperr.As(err)
	if !ok || ae.Status != status || ae.Code != code {
		t.Fatalf("err=%v (type=%T), want %s %d", err, err, code, status)
	}
}

func (e testEnv) assembly(t *testing.T) domain.Assembly {
	t.Helper()
	a, err := e.svc.CreateAssembly(context.Background(), presider, CreateAssemblyInput{
		Shortname: "mv26",
		Title:     "Mitgliederversammlung 2026",
		SignupEnd: signupEnd,
	})
	if err != nil {
		t.Fatalf("CreateAssembly err=%v", err)
	}
	return a
}

func ballotInput() BallotInput {
	ext := voteExtEnd
	return BallotInput{
		Title:            "Satzungsänderung",
		Candidates:       []domain.Candidate{{Shortname: "a", Title: "Annehmen"}, {Shortname: "b", Title: "Vertagen"}},
		VoteBegin:        voteBegin,
		VoteEnd:          voteEnd,
		VoteExtensionEnd: &ext,
		AbsQuorum:        3,
		UseBar:           true,
	}
}

func (e testEnv) ballot(t *testing.T, a domain.Assembly, in BallotInput) domain.Ballot {
	t.Helper()
	b, err := e.svc.CreateBallot(context.Background(), presider, a.ID, in)
	if err != nil {
		t.Fatalf("CreateBallot err=%v", err)
	}
	return b
}

func (e testEnv) signup(t *testing.T, a domain.Assembly, p domain.Persona) string {
	t.Helper()
	secret, err := e.svc.Signup(context.Background(), p, a.ID)
	if err != nil {
		t.Fatalf("Signup(%s) err=%v", p.ID, err)
	}
	return secret
}

func (e testEnv) vote(t *testing.T, p domain.Persona, b domain.Ballot, vote string) string {
	t.Helper()
	got, err := e.svc.Vote(context.Background(), p, b.ID, VoteInput{Vote: vote})
	if err != nil {
		t.Fatalf("Vote(%s, %q) err=%v", p.ID, vote, err)
	}
	return got
}

func TestCreateAssembly_RequiresAdmin(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	_, err := e.svc.CreateAssembly(context.Background(), alice, CreateAssemblyInput{Shortname: "x", Title: "X", SignupEnd: signupEnd})
	wantAppErr(t, err, 403, "FORBIDDEN")

	_, err = e.svc.CreateAssembly(context.Background(), presider, CreateAssemblyInput{Shortname: "x", Title: "X", SignupEnd: signupEnd, Presiders: []domain.PersonaID{"ghost"}})
	wantAppErr(t, err, 422, "VALIDATION_ERROR")
}

func TestSignup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t)
	a := e.assembly(t)

	secret := e.signup(t, a, alice)
	if secret == "" {
		t.Fatalf("empty secret")
	}
	_, err := e.svc.Signup(ctx, alice, a.ID)
	wantAppErr(t, err, 409, "ALREADY_ATTENDING")

	_, err = e.svc.Signup(ctx, outsider, a.ID)
	wantAppErr(t, err, 403, "FORBIDDEN")

	_, err = e.svc.Signup(ctx, bob, "missing")
	wantAppErr(t, err, 404, "ASSEMBLY_NOT_FOUND")

	e.clk.Set(signupEnd)
	_, err = e.svc.Signup(ctx, bob, a.ID)
	wantAppErr(t, err, 409, "SIGNUP_CLOSED")

	attendees, err := e.svc.ListAttendees(ctx, presider, a.ID)
	if err != nil {
		t.Fatalf("ListAttendees err=%v", err)
	}
	if diff := cmp.Diff([]domain.PersonaID{alice.ID}, attendees); diff != "" {
		t.Fatalf("attendees mismatch (-want +got):\n%s", diff)
	}
	_, err = e.svc.ListAttendees(ctx, alice, a.ID)
	wantAppErr(t, err, 403, "FORBIDDEN")
}

func TestCreateBallot_Validation(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	a := e.assembly(t)
	three := 3
	zero := 0

	tests := []struct {
		name  string
		mod   func(*BallotInput)
		field string
	}{
		{"empty title", func(in *BallotInput) { in.Title = " " }, "title"},
		{"no candidates", func(in *BallotInput) { in.Candidates = nil }, "candidates"},
		{"bar as candidate", func(in *BallotInput) { in.Candidates[0].Shortname = domain.BarShortname }, "candidates"},
		{"bad shortname", func(in *BallotInput) { in.Candidates[0].Shortname = "a b" }, "candidates"},
		{"duplicate shortname", func(in *BallotInput) { in.Candidates[1].Shortname = "a" }, "candidates"},
		{"begin in past", func(in *BallotInput) { in.VoteBegin = t0.Add(-time.Hour) }, "voteBegin"},
		{"end before begin", func(in *BallotInput) { in.VoteEnd = in.VoteBegin }, "voteEnd"},
		{"extension before end", func(in *BallotInput) { ext := voteEnd; in.VoteExtensionEnd = &ext }, "voteExtensionEnd"},
		{"extension without quorum", func(in *BallotInput) { in.AbsQuorum = 0 }, "absQuorum"},
		{"too many votes", func(in *BallotInput) { in.Votes = &three }, "votes"},
		{"zero votes", func(in *BallotInput) { in.Votes = &zero }, "votes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := ballotInput()
			in.Candidates = append([]domain.Candidate(nil), in.Candidates...)
			tt.mod(&in)
			_, err := e.svc.CreateBallot(context.Background(), presider, a.ID, in)
			wantAppErr(t, err, 422, "VALIDATION_ERROR")
			ae, _ := apperr.As(err)
			if _, ok := ae.Details[tt.field]; !ok {
				t.Fatalf("details=%v, want field %q", ae.Details, tt.field)
			}
		})
	}

	_, err := e.svc.CreateBallot(context.Background(), alice, a.ID, ballotInput())
	wantAppErr(t, err, 403, "FORBIDDEN")
}

func TestBallot_LockedOnceVotingBegins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t)
	a := e.assembly(t)
	b := e.ballot(t, a, ballotInput())

	in := ballotInput()
	in.Title = "Neuer Titel"
	updated, err := e.svc.UpdateBallot(ctx, presider, b.ID, in)
	if err != nil {
		t.Fatalf("UpdateBallot err=%v", err)
	}
	if updated.Title != "Neuer Titel" {
		t.Fatalf("title=%q", updated.Title)
	}

	e.clk.Set(voteBegin)
	_, err = e.svc.UpdateBallot(ctx, presider, b.ID, in)
	wantAppErr(t, err, 409, "BALLOT_LOCKED")
	err = e.svc.DeleteBallot(ctx, presider, b.ID)
	wantAppErr(t, err, 409, "BALLOT_LOCKED")

	view, err := e.svc.GetBallot(ctx, alice, b.ID)
	if err != nil {
		t.Fatalf("GetBallot err=%v", err)
	}
	if view.Phase != domain.BallotRunning {
		t.Fatalf("phase=%s, want running", view.Phase)
	}
}

func TestDeleteBallot_BeforeBegin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t)
	a := e.assembly(t)
	b := e.ballot(t, a, ballotInput())

	if err := e.svc.DeleteBallot(ctx, presider, b.ID); err != nil {
		t.Fatalf("DeleteBallot err=%v", err)
	}
	_, err := e.svc.GetBallot(ctx, alice, b.ID)
	wantAppErr(t, err, 404, "BALLOT_NOT_FOUND")
}

func TestVote_ReplacesPreviousVote(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t)
	a := e.assembly(t)
	b := e.ballot(t, a, ballotInput())
	e.signup(t, a, alice)

	_, err := e.svc.Vote(ctx, alice, b.ID, VoteInput{Vote: "a>b>_bar_"})
	wantAppErr(t, err, 409, "BALLOT_NOT_RUNNING")

	e.clk.Set(voteBegin)
	_, err = e.svc.Vote(ctx, bob, b.ID, VoteInput{Vote: "a>b>_bar_"})
	wantAppErr(t, err, 403, "FORBIDDEN")
	_, err = e.svc.Vote(ctx, alice, b.ID, VoteInput{Vote: "a>b"})
	wantAppErr(t, err, 422, "VALIDATION_ERROR")
	_, err = e.svc.Vote(ctx, alice, b.ID, VoteInput{Choices: []string{"a"}})
	wantAppErr(t, err, 422, "VALIDATION_ERROR")

	if got := e.vote(t, alice, b, "b=a>_bar_"); got != "a=b>_bar_" {
		t.Fatalf("normalized vote=%q", got)
	}
	e.vote(t, alice, b, "_bar_>b>a")

	votes, err := e.repo.ListVotes(ctx, b.ID)
	if err != nil {
		t.Fatalf("ListVotes err=%v", err)
	}
	if len(votes) != 1 {
		t.Fatalf("len(votes)=%d, want 1", len(votes))
	}
	mine, err := e.svc.MyVote(ctx, alice, b.ID)
	if err != nil {
		t.Fatalf("MyVote err=%v", err)
	}
	if mine != "_bar_>b>a" {
		t.Fatalf("MyVote=%q", mine)
	}
	voted, err := e.repo.HasVoted(ctx, b.ID, alice.ID)
	if err != nil || !voted {
		t.Fatalf("HasVoted=%v err=%v", voted, err)
	}
}

func TestMyVote_NotVoted(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	a := e.assembly(t)
	b := e.ballot(t, a, ballotInput())
	e.signup(t, a, alice)

	_, err := e.svc.MyVote(context.Background(), alice, b.ID)
	wantAppErr(t, err, 404, "VOTE_NOT_FOUND")
}

func TestPhase_ExtensionWhenQuorumMissed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t)
	a := e.assembly(t)
	b := e.ballot(t, a, ballotInput())
	e.signup(t, a, alice)

	e.clk.Set(voteBegin)
	e.vote(t, alice, b, "a>b>_bar_")

	e.clk.Set(voteEnd)
	view, err := e.svc.GetBallot(ctx, alice, b.ID)
	if err != nil {
		t.Fatalf("GetBallot err=%v", err)
	}
	if view.Phase != domain.BallotExtended {
		t.Fatalf("phase=%s, want extended", view.Phase)
	}
	if view.Extended == nil || !*view.Extended {
		t.Fatalf("extension not recorded: %v", view.Extended)
	}
	e.vote(t, alice, b, "b>a>_bar_")

	e.clk.Set(voteExtEnd)
	view, err = e.svc.GetBallot(ctx, alice, b.ID)
	if err != nil {
		t.Fatalf("GetBallot err=%v", err)
	}
	if view.Phase != domain.BallotClosed {
		t.Fatalf("phase=%s, want closed", view.Phase)
	}
	_, err = e.svc.Vote(ctx, alice, b.ID, VoteInput{Vote: "a>b>_bar_"})
	wantAppErr(t, err, 409, "BALLOT_NOT_RUNNING")
}

func TestTallyAndConclude(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t)
	a := e.assembly(t)
	in := ballotInput()
	in.VoteExtensionEnd = nil
	in.AbsQuorum = 0
	b := e.ballot(t, a, in)
	secrets := map[domain.PersonaID]string{}
	for _, p := range []domain.Persona{alice, bob, carol} {
		secrets[p.ID] = e.signup(t, a, p)
	}

	e.clk.Set(voteBegin)
	e.vote(t, alice, b, "a>b>_bar_")
	e.vote(t, bob, b, "b>a>_bar_")
	e.vote(t, carol, b, "a>_bar_>b")

	_, err := e.svc.Tally(ctx, presider, b.ID)
	wantAppErr(t, err, 409, "BALLOT_NOT_CLOSED")
	_, err = e.svc.Conclude(ctx, presider, a.ID)
	wantAppErr(t, err, 409, "BALLOTS_NOT_TALLIED")

	e.clk.Set(voteEnd)
	_, err = e.svc.Tally(ctx, alice, b.ID)
	wantAppErr(t, err, 403, "FORBIDDEN")
	tallied, err := e.svc.Tally(ctx, presider, b.ID)
	if err != nil {
		t.Fatalf("Tally err=%v", err)
	}
	if !tallied.IsTallied || tallied.ResultHash == "" {
		t.Fatalf("ballot not tallied: %+v", tallied)
	}
	_, err = e.svc.Tally(ctx, presider, b.ID)
	wantAppErr(t, err, 409, "ALREADY_TALLIED")

	file, err := e.svc.Result(ctx, bob, b.ID)
	if err != nil {
		t.Fatalf("Result err=%v", err)
	}
	v, err := VerifyResult(file, secrets[carol.ID])
	if err != nil {
		t.Fatalf("VerifyResult err=%v", err)
	}
	if !v.Matches || v.Recomputed != "a>b>_bar_" || len(v.Problems) != 0 {
		t.Fatalf("verification=%+v", v)
	}
	if v.OwnVote == nil || *v.OwnVote != "a>_bar_>b" {
		t.Fatalf("own vote=%v", v.OwnVote)
	}

	concluded, err := e.svc.Conclude(ctx, presider, a.ID)
	if err != nil {
		t.Fatalf("Conclude err=%v", err)
	}
	if concluded.IsActive {
		t.Fatalf("assembly still active")
	}
	_, err = e.svc.MyVote(ctx, alice, b.ID)
	wantAppErr(t, err, 409, "SECRET_WIPED")
	_, err = e.svc.Conclude(ctx, presider, a.ID)
	wantAppErr(t, err, 409, "ASSEMBLY_CONCLUDED")
}

func TestClassicalVote(t *testing.T) {
	t.Parallel()
	two := 2
	b := domain.Ballot{
		Candidates: []domain.Candidate{{Shortname: "a"}, {Shortname: "b"}, {Shortname: "c"}},
		Votes:      &two,
		UseBar:     true,
	}
	tests := []struct {
		name    string
		choices []string
		want    string
		wantErr bool
	}{
		{name: "single", choices: []string{"a"}, want: "a>_bar_=b=c"},
		{name: "two", choices: []string{"c", "a"}, want: "a=c>_bar_=b"},
		{name: "rejection", choices: []string{domain.BarShortname}, want: "_bar_>a=b=c"},
		{name: "abstention", choices: nil, want: "_bar_=a=b=c"},
		{name: "too many", choices: []string{"a", "b", "c"}, wantErr: true},
		{name: "bar with others", choices: []string{"a", domain.BarShortname}, wantErr: true},
		{name: "unknown", choices: []string{"x"}, wantErr: true},
		{name: "twice", choices: []string{"a", "a"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClassicalVote(b, tt.choices)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ClassicalVote(%v)=%q, want error", tt.choices, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ClassicalVote(%v) err=%v", tt.choices, err)
			}
			if got != tt.want {
				t.Fatalf("ClassicalVote(%v)=%q, want %q", tt.choices, got, tt.want)
			}
		})
	}
}

func TestClassicalVote_WithoutBar(t *testing.T) {
	t.Parallel()
	two := 2
	b := domain.Ballot{
		Candidates: []domain.Candidate{{Shortname: "a"}, {Shortname: "b"}},
		Votes:      &two,
	}
	tests := []struct {
		name    string
		choices []string
		want    string
	}{
		{name: "every candidate", choices: []string{"b", "a"}, want: "a=b"},
		{name: "one", choices: []string{"b"}, want: "b>a"},
		{name: "abstention", choices: nil, want: "a=b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClassicalVote(b, tt.choices)
			if err != nil {
				t.Fatalf("ClassicalVote(%v) err=%v", tt.choices, err)
			}
			if got != tt.want {
				t.Fatalf("ClassicalVote(%v)=%q, want %q", tt.choices, got, tt.want)
			}
		})
	}
}

func TestTally_ClassicalAllChosen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t)
	a := e.assembly(t)
	two := 2
	in := ballotInput()
	in.Votes = &two
	in.UseBar = false
	in.AbsQuorum = 0
	in.VoteExtensionEnd = nil
	b := e.ballot(t, a, in)
	e.signup(t, a, alice)
	e.signup(t, a, bob)

	e.clk.Set(voteBegin)
	if _, err := e.svc.Vote(ctx, alice, b.ID, VoteInput{Choices: []string{"a", "b"}}); err != nil {
		t.Fatalf("Vote alice err=%v", err)
	}
	if _, err := e.svc.Vote(ctx, bob, b.ID, VoteInput{Choices: []string{"b"}}); err != nil {
		t.Fatalf("Vote bob err=%v", err)
	}

	e.clk.Set(voteEnd.Add(time.Minute))
	tallied, err := e.svc.Tally(ctx, presider, b.ID)
	if err != nil {
		t.Fatalf("Tally err=%v", err)
	}
	if !tallied.IsTallied {
		t.Fatalf("ballot not tallied")
	}
	v, err := VerifyResult(tallied.ResultFile, "")
	if err != nil {
		t.Fatalf("VerifyResult err=%v", err)
	}
	if !v.Matches || v.Recomputed != "b>a" {
		t.Fatalf("verification=%+v, want b>a", v)
	}
}

func TestTally_VotersUseDisplayNames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t)
	p, err := e.personas.GetByID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("GetByID err=%v", err)
	}
	p.DisplayName = "Ali"
	if err := e.personas.Update(ctx, p); err != nil {
		t.Fatalf("Update err=%v", err)
	}

	a := e.assembly(t)
	in := ballotInput()
	in.AbsQuorum = 0
	in.VoteExtensionEnd = nil
	b := e.ballot(t, a, in)
	e.signup(t, a, alice)
	e.signup(t, a, bob)
	e.clk.Set(voteBegin)
	e.vote(t, alice, b, "a>b>_bar_")
	e.vote(t, bob, b, "b>a>_bar_")

	e.clk.Set(voteEnd.Add(time.Minute))
	tallied, err := e.svc.Tally(ctx, presider, b.ID)
	if err != nil {
		t.Fatalf("Tally err=%v", err)
	}
	var f ResultFile
	if err := json.Unmarshal(tallied.ResultFile, &f); err != nil {
		t.Fatalf("decode result file: %v", err)
	}
	if diff := cmp.Diff([]string{"Ali", "Bob Tester"}, f.Voters); diff != "" {
		t.Fatalf("voters mismatch (-want +got):\n%s", diff)
	}
}

func TestVote_ClassicalRejectsRanking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t)
	a := e.assembly(t)
	one := 1
	in := ballotInput()
	in.Candidates = append(in.Candidates, domain.Candidate{Shortname: "c", Title: "Ablehnen"})
	in.Votes = &one
	b := e.ballot(t, a, in)
	e.signup(t, a, alice)
	e.clk.Set(voteBegin)

	tests := []struct {
		name string
		in   VoteInput
		want string
	}{
		{name: "full ranking", in: VoteInput{Vote: "a>b>c>_bar_"}},
		{name: "too many chosen", in: VoteInput{Vote: "a=b>_bar_=c"}},
		{name: "bar with candidate", in: VoteInput{Vote: "_bar_=a>b=c"}},
		{name: "string and choices", in: VoteInput{Vote: "a>_bar_=b=c", Choices: []string{"a"}}},
		{name: "classical shape", in: VoteInput{Vote: "b>c=a=_bar_"}, want: "b>_bar_=a=c"},
		{name: "abstention", in: VoteInput{Vote: "a=b=c=_bar_"}, want: "_bar_=a=b=c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.svc.Vote(ctx, alice, b.ID, tt.in)
			if tt.want == "" {
				wantAppErr(t, err, 422, "VALIDATION_ERROR")
				return
			}
			if err != nil {
				t.Fatalf("Vote err=%v", err)
			}
			if got != tt.want {
				t.Fatalf("Vote=%q, want %q", got, tt.want)
			}
		})
	}
}

func TestVote_ConcurrentCastsKeepOneVote(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t)
	var salts atomic.Int64
	e.svc.random = func() (string, error) {
		return fmt.Sprintf("salt-%03d", salts.Add(1)), nil
	}
	a := e.assembly(t)
	b := e.ballot(t, a, ballotInput())
	e.signup(t, a, alice)
	e.clk.Set(voteBegin)

	const casts = 16
	var wg sync.WaitGroup
	errs := make(chan error, casts)
	for i := 0; i < casts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vote := "a>b>_bar_"
			if i%2 == 1 {
				vote = "b>a>_bar_"
			}
			if _, err := e.svc.Vote(ctx, alice, b.ID, VoteInput{Vote: vote}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Vote err=%v", err)
	}

	votes, err := e.repo.ListVotes(ctx, b.ID)
	if err != nil {
		t.Fatalf("ListVotes err=%v", err)
	}
	if len(votes) != 1 {
		t.Fatalf("len(votes)=%d, want 1", len(votes))
	}
}

func TestVerifyResult_DetectsTampering(t *testing.T) {
	t.Parallel()
	votes := []CastVote{
		{Vote: "a>b", Salt: "s1", Hash: VoteHash("s1", "secret-1", "a>b")},
		{Vote: "a>b", Salt: "s2", Hash: VoteHash("s2", "secret-2", "a>b")},
		{Vote: "b>a", Salt: "s3", Hash: VoteHash("s3", "secret-3", "b>a")},
	}
	sortCast(votes)
	f := ResultFile{
		ResultVersion: ResultVersion,
		Candidates:    map[string]string{"a": "A", "b": "B"},
		Voters:        []string{"x", "y", "z"},
		VotesCast:     votes,
		Result:        "b>a",
	}
	v, err := VerifyResult(mustJSON(t, f), "secret-3")
	if err != nil {
		t.Fatalf("VerifyResult err=%v", err)
	}
	if v.Matches || v.Recomputed != "a>b" {
		t.Fatalf("verification=%+v, want mismatch with recount a>b", v)
	}
	if v.OwnVote == nil || *v.OwnVote != "b>a" {
		t.Fatalf("own vote=%v", v.OwnVote)
	}

	f.Result = "a>b"
	f.Voters = f.Voters[:2]
	v, err = VerifyResult(mustJSON(t, f), "unknown")
	if err != nil {
		t.Fatalf("VerifyResult err=%v", err)
	}
	if !v.Matches || len(v.Problems) != 1 || v.OwnVote != nil {
		t.Fatalf("verification=%+v, want voter count problem only", v)
	}
}
