package mlrepo

import (
	"testing"

	"github.com/cde-ev/cdedb2-sub001/internal/adapters/contracttest"
	mlrepoport "github.com/cde-ev/cdedb2-sub001/internal/ports/out/mlrepo"
)

func TestContract_MailinglistRepo(t *testing.T) {
	contracttest.RunMailinglistRepo(t, func(t *testing.T) (mlrepoport.Repository, func()) {
		t.Helper()
		return NewRepo(), nil
	})
}
