package personarepo

import (
	"testing"

	"github.com/cde-ev/cdedb2-sub001/internal/adapters/contracttest"
	"github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/testutil"
	personarepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/personarepo"
)

func TestContract_PostgresPersonaRepo(t *testing.T) {
	pool := testutil.OpenMigratedPool(t)

	contracttest.RunPersonaRepo(t, func(t *testing.T) (personarepoport.Repository, func()) {
		t.Helper()
		return NewRepo(pool), nil
	})
}
