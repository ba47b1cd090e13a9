package assemblies

import (
	"encoding/json"
	"sort"
	"testing"
)

func sortCast(votes []CastVote) {
	sort.Slice(votes, func(i, j int) bool { return votes[i].Hash < votes[j].Hash })
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestVerifyResult_RejectsUnknownVersion(t *testing.T) {
	t.Parallel()
	if _, err := VerifyResult([]byte(`{"result_version":99}`), ""); err == nil {
		t.Fatalf("want error for unknown version")
	}
	if _, err := VerifyResult([]byte(`not json`), ""); err == nil {
		t.Fatalf("want error for malformed file")
	}
}

func TestVoteHash_DependsOnAllInputs(t *testing.T) {
	t.Parallel()
	base := VoteHash("salt", "secret", "a>b")
	if len(base) != 128 {
		t.Fatalf("len(hash)=%d, want 128 hex chars", len(base))
	}
	for _, h := range []string{
		VoteHash("salt2", "secret", "a>b"),
		VoteHash("salt", "secret2", "a>b"),
		VoteHash("salt", "secret", "b>a"),
	} {
		if h == base {
			t.Fatalf("hash collision for changed input")
		}
	}
}
