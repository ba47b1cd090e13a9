package eventrepo

import (
	"testing"

	"github.com/cde-ev/cdedb2-sub001/internal/adapters/contracttest"
	"github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/testutil"
	eventrepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/eventrepo"
)

func TestContract_PostgresEventRepo(t *testing.T) {
	pool := testutil.OpenMigratedPool(t)

	contracttest.RunEventRepo(t, func(t *testing.T) (eventrepoport.Repository, func()) {
		t.Helper()
		return NewRepo(pool), nil
	})
}
