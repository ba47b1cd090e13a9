package assemblyrepo

import (
	"testing"

	"github.com/cde-ev/cdedb2-sub001/internal/adapters/contracttest"
	"github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/testutil"
	assemblyrepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/assemblyrepo"
)

func TestContract_PostgresAssemblyRepo(t *testing.T) {
	pool := testutil.OpenMigratedPool(t)

	contracttest.RunAssemblyRepo(t, func(t *testing.T) (assemblyrepoport.Repository, func()) {
		t.Helper()
		return NewRepo(pool), nil
	})
}
