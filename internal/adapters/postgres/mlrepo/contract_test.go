package mlrepo

import (
	"testing"

	"github.com/cde-ev/cdedb2-sub001/internal/adapters/contracttest"
	"github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/testutil"
	mlrepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/mlrepo"
)

func TestContract_PostgresMailinglistRepo(t *testing.T) {
	pool := testutil.OpenMigratedPool(t)

	contracttest.RunMailinglistRepo(t, func(t *testing.T) (mlrepoport.Repository, func()) {
		t.Helper()
		return NewRepo(pool), nil
	})
}
