package schulze

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func repeat(vote string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = vote
	}
	return out
}

func TestTally_WikipediaExample(t *testing.T) {
	t.Parallel()

	var votes []string
	for _, v := range []struct {
		order string
		n     int
	}{
		{"a>c>b>e>d", 5},
		{"a>d>e>c>b", 5},
		{"b>e>d>a>c", 8},
		{"c>a>b>e>d", 3},
		{"c>a>e>b>d", 7},
		{"c>b>a>d>e", 2},
		{"d>c>e>b>a", 7},
		{"e>b>a>d>c", 8},
	} {
		votes = append(votes, repeat(v.order, v.n)...)
	}

	res, err := Tally([]string{"a", "b", "c", "d", "e"}, votes)
	if err != nil {
		t.Fatalf("Tally err=%v", err)
	}
	if got, want := res.String(), "e>a>c>b>d"; got != want {
		t.Fatalf("result=%q, want %q", got, want)
	}
	if res.Pairwise["a"]["b"] != 20 || res.Pairwise["b"]["a"] != 25 {
		t.Fatalf("pairwise a/b = %d/%d, want 20/25", res.Pairwise["a"]["b"], res.Pairwise["b"]["a"])
	}
	if res.Strength["e"]["d"] != 31 {
		t.Fatalf("strength e->d = %d, want 31", res.Strength["e"]["d"])
	}
}

func TestTally_TiesAndAbstentions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		votes []string
		want  [][]string
	}{
		{name: "no votes", votes: nil, want: [][]string{{"a", "b", "c"}}},
		{name: "only abstentions", votes: []string{"a=b=c", "c=b=a"}, want: [][]string{{"a", "b", "c"}}},
		{name: "unanimous", votes: []string{"b>a>c", "b>a>c"}, want: [][]string{{"b"}, {"a"}, {"c"}}},
		{name: "tie at top", votes: []string{"a>b>c", "b>a>c"}, want: [][]string{{"a", "b"}, {"c"}}},
		{name: "equal ranks count for nobody", votes: []string{"a=b>c", "c>a=b", "a>b=c"}, want: [][]string{{"a"}, {"b", "c"}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := Tally([]string{"a", "b", "c"}, tt.votes)
			if err != nil {
				t.Fatalf("Tally err=%v", err)
			}
			if diff := cmp.Diff(tt.want, res.Tiers); diff != "" {
				t.Fatalf("tiers mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTally_CondorcetCycleIsResolved(t *testing.T) {
	t.Parallel()

	votes := append(repeat("a>b>c", 4), repeat("b>c>a", 3)...)
	votes = append(votes, repeat("c>a>b", 2)...)
	res, err := Tally([]string{"a", "b", "c"}, votes)
	if err != nil {
		t.Fatalf("Tally err=%v", err)
	}
	// a>b (6:3), b>c (7:2), c>a (5:4): the weakest link c>a is dropped.
	if got := res.String(); got != "a>b>c" {
		t.Fatalf("result=%q, want a>b>c", got)
	}
}

func TestTally_RejectsInvalidVotes(t *testing.T) {
	t.Parallel()

	candidates := []string{"a", "b", "c"}
	for _, v := range []string{"a>b", "a>b>c>d", "a>a>b", "a>>b>c", "", "a=b=c="} {
		_, err := Tally(candidates, []string{v})
		var ve *VoteError
		if !errors.As(err, &ve) {
			t.Fatalf("Tally(%q) err=%v, want VoteError", v, err)
		}
	}

	if _, err := Tally(nil, nil); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("err=%v, want ErrNoCandidates", err)
	}
	if _, err := Tally([]string{"a", "a"}, nil); !errors.Is(err, ErrDuplicateCandidate) {
		t.Fatalf("err=%v, want ErrDuplicateCandidate", err)
	}
}

func TestParseVote_RoundTrip(t *testing.T) {
	t.Parallel()

	const vote = "b=a>_bar_>c"
	tiers, err := ParseVote(vote, []string{"a", "b", "c", "_bar_"})
	if err != nil {
		t.Fatalf("ParseVote err=%v", err)
	}
	if got := FormatVote(tiers); got != vote {
		t.Fatalf("FormatVote=%q, want %q", got, vote)
	}
	if !strings.Contains(FormatVote(tiers), "_bar_") {
		t.Fatalf("bar lost")
	}
}
