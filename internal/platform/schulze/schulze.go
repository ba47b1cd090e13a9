// Package schulze implements the Schulze method (winning-votes variant) on
// vote strings of the form "a>b=c>d".
package schulze

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNoCandidates       = errors.New("no candidates")
	ErrDuplicateCandidate = errors.New("duplicate candidate")
)

// VoteError reports a malformed vote string.
type VoteError struct {
	Vote   string
	Reason string
}

func (e *VoteError) Error() string {
	return fmt.Sprintf("invalid vote %q: %s", e.Vote, e.Reason)
}

// ParseVote splits a vote into tiers of equally ranked candidates, most
// preferred first. Every candidate must appear exactly once.
func ParseVote(vote string, candidates []string) ([][]string, error) {
	known := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		known[c] = true
	}
	seen := make(map[string]bool, len(candidates))
	var tiers [][]string
	for _, level := range strings.Split(vote, ">") {
		var tier []string
		for _, c := range strings.Split(level, "=") {
			if c == "" {
				return nil, &VoteError{Vote: vote, Reason: "empty candidate"}
			}
			if !known[c] {
				return nil, &VoteError{Vote: vote, Reason: fmt.Sprintf("unknown candidate %q", c)}
			}
			if seen[c] {
				return nil, &VoteError{Vote: vote, Reason: fmt.Sprintf("candidate %q listed twice", c)}
			}
			seen[c] = true
			tier = append(tier, c)
		}
		tiers = append(tiers, tier)
	}
	if len(seen) != len(candidates) {
		return nil, &VoteError{Vote: vote, Reason: "not all candidates ranked"}
	}
	return tiers, nil
}

// FormatVote is the inverse of ParseVote.
func FormatVote(tiers [][]string) string {
	levels := make([]string, 0, len(tiers))
	for _, t := range tiers {
		levels = append(levels, strings.Join(t, "="))
	}
	return strings.Join(levels, ">")
}

// Result is the outcome of a tally.
type Result struct {
	// Tiers lists the candidates from winner(s) to loser(s); candidates in one tier are tied.
	Tiers [][]string
	// Pairwise[x][y] is the number of votes ranking x strictly above y.
	Pairwise map[string]map[string]int
	// Strength[x][y] is the strength of the strongest path from x to y.
	Strength map[string]map[string]int
}

// String renders the result as a vote string, e.g. "a>b=c".
func (r Result) String() string {
	return FormatVote(r.Tiers)
}

// Winners returns the first tier.
func (r Result) Winners() []string {
	if len(r.Tiers) == 0 {
		return nil
	}
	return append([]string(nil), r.Tiers[0]...)
}

// Tally computes the Schulze ranking of candidates over votes.
func Tally(candidates []string, votes []string) (Result, error) {
	n := len(candidates)
	if n == 0 {
		return Result{}, ErrNoCandidates
	}
	index := make(map[string]int, n)
	for i, c := range candidates {
		if _, dup := index[c]; dup {
			return Result{}, fmt.Errorf("%w: %q", ErrDuplicateCandidate, c)
		}
		index[c] = i
	}

	d := newMatrix(n)
	for _, v := range votes {
		tiers, err := ParseVote(v, candidates)
		if err != nil {
			return Result{}, err
		}
		rank := make([]int, n)
		for level, tier := range tiers {
			for _, c := range tier {
				rank[index[c]] = level
			}
		}
		for x := 0; x < n; x++ {
			for y := 0; y < n; y++ {
				if rank[x] < rank[y] {
					d[x][y]++
				}
			}
		}
	}

	// Winning votes: a link only exists in the direction of the majority.
	p := newMatrix(n)
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			if x != y && d[x][y] > d[y][x] {
				p[x][y] = d[x][y]
			}
		}
	}
	for k := 0; k < n; k++ {
		for x := 0; x < n; x++ {
			if x == k {
				continue
			}
			for y := 0; y < n; y++ {
				if y == k || y == x {
					continue
				}
				if via := min(p[x][k], p[k][y]); via > p[x][y] {
					p[x][y] = via
				}
			}
		}
	}

	remaining := make([]int, n)
	for i := range remaining {
		remaining[i] = i
	}
	var tiers [][]string
	for len(remaining) > 0 {
		var tier, rest []int
		for _, x := range remaining {
			beaten := false
			for _, y := range remaining {
				if p[y][x] > p[x][y] {
					beaten = true
					break
				}
			}
			if beaten {
				rest = append(rest, x)
			} else {
				tier = append(tier, x)
			}
		}
		names := make([]string, 0, len(tier))
		for _, x := range tier {
			names = append(names, candidates[x])
		}
		sort.Strings(names)
		tiers = append(tiers, names)
		remaining = rest
	}

	return Result{
		Tiers:    tiers,
		Pairwise: toMap(candidates, d),
		Strength: toMap(candidates, p),
	}, nil
}

func newMatrix(n int) [][]int {
	m := make([][]int, n)
	for i := range m {
		m[i] = make([]int, n)
	}
	return m
}

func toMap(candidates []string, m [][]int) map[string]map[string]int {
	out := make(map[string]map[string]int, len(candidates))
	for x, cx := range candidates {
		row := make(map[string]int, len(candidates)-1)
		for y, cy := range candidates {
			if x != y {
				row[cy] = m[x][y]
			}
		}
		out[cx] = row
	}
	return out
}
