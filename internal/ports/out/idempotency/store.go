package idempotency

import (
	"context"
	"time"
)

// Key is the caller-provided idempotency key (Idempotency-Key header).
type Key string

// Fingerprint identifies a request uniquely for idempotency purposes.
//
// Strategy: key + route + principal + request body hash. A record with an empty
// BodyHash stores the hash of the first body seen for the key, so reuse of a key
// with a different payload can be detected.
// Route is the concrete request path (e.g. "/ballots/7f3c…/vote"), so one key
// never spans two resources.
// Principal is the persona ID, or "droid:<name>" for API tokens.
type Fingerprint struct {
	Key       Key
	Principal string
	Method    string
	Route     string
	BodyHash  string
}

// Record is the stored response we can replay for a duplicate request.
type Record struct {
	StatusCode  int
	ContentType string
	Body        []byte
	CreatedAt   time.Time
}

// Store persists idempotency records for replaying safe responses on retries.
type Store interface {
	Get(ctx context.Context, fp Fingerprint) (Record, bool, error)
	Put(ctx context.Context, fp Fingerprint, rec Record) error
}
