package eventrepo

import (
	"testing"

	"github.com/cde-ev/cdedb2-sub001/internal/adapters/contracttest"
	eventrepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/eventrepo"
)

func TestContract_EventRepo(t *testing.T) {
	contracttest.RunEventRepo(t, func(t *testing.T) (eventrepoport.Repository, func()) {
		t.Helper()
		return NewRepo(), nil
	})
}
