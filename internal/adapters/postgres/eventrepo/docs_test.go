package eventrepo

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeFields_RestoresNumericKinds(t *testing.T) {
	in := map[string]any{
		"rank":   int64(3),
		"weight": 2.5,
		"diet":   "veg",
		"paid":   true,
		"none":   nil,
	}
	b, err := encodeFields(in)
	if err != nil {
		t.Fatalf("encodeFields: %v", err)
	}
	got, err := decodeFields(b)
	if err != nil {
		t.Fatalf("decodeFields: %v", err)
	}
	if diff := cmp.Diff(in, got); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
}
