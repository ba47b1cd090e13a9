// Package sessiontoken mints and verifies the signed tokens handed out at login.
package sessiontoken

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

const (
	issuer = "cdedb"
	// MinKeyLen is the minimum HMAC key length in bytes.
	MinKeyLen = 32
)

var ErrInvalidToken = errors.New("invalid session token")

type claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// Codec signs session tokens with HS256. A token carries the persona as
// subject and the session id; session liveness is checked against storage.
type Codec struct {
	key []byte
	ttl time.Duration
}

func NewCodec(key []byte, ttl time.Duration) (*Codec, error) {
	if len(key) < MinKeyLen {
		return nil, fmt.Errorf("session signing key must be at least %d bytes", MinKeyLen)
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	return &Codec{key: append([]byte(nil), key...), ttl: ttl}, nil
}

func (c *Codec) Mint(personaID domain.PersonaID, sessionID domain.SessionID, issuedAt time.Time) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   string(personaID),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(c.ttl)),
		},
		SessionID: string(sessionID),
	})
	s, err := tok.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return s, nil
}

// Parse verifies signature, issuer and expiry at now.
func (c *Codec) Parse(token string, now time.Time) (domain.PersonaID, domain.SessionID, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "", ErrInvalidToken
	}
	var parsed claims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed.Subject == "" || parsed.SessionID == "" {
		return "", "", ErrInvalidToken
	}
	return domain.PersonaID(parsed.Subject), domain.SessionID(parsed.SessionID), nil
}
