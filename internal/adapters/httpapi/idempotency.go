package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/idempotency"
)

const (
	IdempotencyKeyHeader     = "Idempotency-Key"
	IdempotentReplayedHeader = "Idempotent-Replayed"
)

// idempotent replays the stored response of a successful request carrying the
// same Idempotency-Key, principal, resource path and body. Reusing a key
// with a different body on the same resource is a 409.
//
// The first request for a key stores a record with an empty BodyHash whose
// body is the request body hash; the response record is keyed by the full
// fingerprint.
func (s *Server) idempotent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
		p, ok := PrincipalFromContext(r.Context())
		if key == "" || !ok || s.idem == nil {
			next(w, r)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "could not read request body", nil)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		sum := sha256.Sum256(body)
		bodyHash := hex.EncodeToString(sum[:])

		ctx := r.Context()
		metaFP := idempotency.Fingerprint{
			Key:       idempotency.Key(key),
			Principal: p.Name(),
			Method:    r.Method,
			Route:     r.URL.Path,
		}
		meta, found, err := s.idem.Get(ctx, metaFP)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		if found && string(meta.Body) != bodyHash {
			writeError(w, r, http.StatusConflict, "IDEMPOTENCY_KEY_REUSE", "idempotency key reuse with different payload", nil)
			return
		}
		if !found {
			if err := s.idem.Put(ctx, metaFP, idempotency.Record{
				ContentType: "text/plain",
				Body:        []byte(bodyHash),
				CreatedAt:   s.clk.Now(),
			}); err != nil {
				s.writeAppError(w, r, err)
				return
			}
		}

		respFP := metaFP
		respFP.BodyHash = bodyHash
		if rec, ok, err := s.idem.Get(ctx, respFP); err != nil {
			s.writeAppError(w, r, err)
			return
		} else if ok {
			w.Header().Set("Content-Type", rec.ContentType)
			w.Header().Set(IdempotentReplayedHeader, "true")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.Body)
			return
		}

		var buf bytes.Buffer
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(&buf)
		next(ww, r)

		status := ww.Status()
		if status < 200 || status >= 300 {
			return
		}
		if err := s.idem.Put(ctx, respFP, idempotency.Record{
			StatusCode:  status,
			ContentType: ww.Header().Get("Content-Type"),
			Body:        buf.Bytes(),
			CreatedAt:   s.clk.Now(),
		}); err != nil {
			s.log.Warn("store idempotent response", zap.Error(err))
		}
	}
}
