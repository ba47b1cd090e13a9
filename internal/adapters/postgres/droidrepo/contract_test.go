package droidrepo

import (
	"testing"

	"github.com/cde-ev/cdedb2-sub001/internal/adapters/contracttest"
	"github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/testutil"
	droidrepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/droidrepo"
)

func TestContract_PostgresDroidRepo(t *testing.T) {
	pool := testutil.OpenMigratedPool(t)

	contracttest.RunDroidRepo(t, func(t *testing.T) (droidrepoport.Repository, func()) {
		t.Helper()
		return NewRepo(pool), nil
	})
}
