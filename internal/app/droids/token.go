package droids

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

// HeaderName carries droid credentials on API requests.
const HeaderName = "X-CdEDB-API-Token"

const tokenPrefix = "CdEDB-"

type Kind string

const (
	KindStatic Kind = "static"
	KindOrga   Kind = "orga"
)

// Static droid names with built-in permissions.
const (
	StaticResolve            = "resolve"
	StaticQuickPartialExport = "quick_partial_export"
)

var errMalformedToken = errors.New("malformed droid token")

// Identity is an authenticated droid.
type Identity struct {
	Kind Kind
	Name string
	// EventID is set for orga droids.
	EventID domain.EventID
}

// Principal names the droid for idempotency and logging.
func (i Identity) Principal() string {
	return "droid:" + string(i.Kind) + "/" + i.Name
}

// FormatToken renders the header value for a droid credential.
func FormatToken(kind Kind, name, secret string) string {
	return fmt.Sprintf("%s%s/%s/%s", tokenPrefix, kind, name, secret)
}

// ParseToken splits a header value of the form CdEDB-<kind>/<name>/<secret>.
func ParseToken(raw string) (Kind, string, string, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(raw), tokenPrefix)
	if !ok {
		return "", "", "", errMalformedToken
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", "", "", errMalformedToken
	}
	switch k := Kind(parts[0]); k {
	case KindStatic, KindOrga:
		return k, parts[1], parts[2], nil
	}
	return "", "", "", errMalformedToken
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func hashesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func newSecret() (string, error) {
	var b [24]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate droid secret: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
