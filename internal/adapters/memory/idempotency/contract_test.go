package idempotency

import (
	"testing"

	"github.com/cde-ev/cdedb2-sub001/internal/adapters/contracttest"
	idempotencyport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/idempotency"
)

func TestContract_IdempotencyStore(t *testing.T) {
	contracttest.RunIdempotencyStore(t, func(t *testing.T) (idempotencyport.Store, func()) {
		t.Helper()
		return NewStore(), nil
	})
}
