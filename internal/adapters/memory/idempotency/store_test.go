package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/idempotency"
)

func TestStore_PutThenGet(t *testing.T) {
	t.Parallel()

	s := NewStore()
	fp := idempotency.Fingerprint{
		Key:       "k1",
		Principal: "persona-1",
		Method:    "POST",
		Route:     "/ballots/b-1/vote",
		BodyHash:  "abc123",
	}
	rec := idempotency.Record{
		StatusCode:  200,
		ContentType: "application/json",
		Body:        []byte(`{"ok":true}`),
		CreatedAt:   time.Unix(123, 0).UTC(),
	}

	if err := s.Put(context.Background(), fp, rec); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	// Mutating the caller's buffer must not leak into the store.
	rec.Body[0] = 'X'

	got, ok, err := s.Get(context.Background(), fp)
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	if !ok {
		t.Fatalf("Get() ok=false, want true")
	}
	if got.StatusCode != 200 || string(got.Body) != `{"ok":true}` {
		t.Fatalf("Get()=%+v", got)
	}

	other := fp
	other.BodyHash = "different"
	if _, ok, _ := s.Get(context.Background(), other); ok {
		t.Fatalf("Get(other body) ok=true, want false")
	}
}
