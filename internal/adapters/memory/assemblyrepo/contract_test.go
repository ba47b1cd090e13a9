package assemblyrepo

import (
	"testing"

	"github.com/cde-ev/cdedb2-sub001/internal/adapters/contracttest"
	assemblyrepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/assemblyrepo"
)

func TestContract_AssemblyRepo(t *testing.T) {
	contracttest.RunAssemblyRepo(t, func(t *testing.T) (assemblyrepoport.Repository, func()) {
		t.Helper()
		return NewRepo(), nil
	})
}
