package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	ctxBodyKey           contextKey = "raw_body"
	ctxIdempotencyKeyKey contextKey = "idempotency_key"
)

// IdempotencyHeader carries the client's retry key on mutating requests.
const IdempotencyHeader = "Idempotency-Key"

const (
	DefaultMaxBody    = 1 << 20
	maxIdempotencyKey = 255
)

// BodyFromCtx returns the request body read by CaptureBody.
func BodyFromCtx(ctx context.Context) []byte {
	b, _ := ctx.Value(ctxBodyKey).([]byte)
	return b
}

// IdempotencyKeyFromCtx returns the Idempotency-Key header captured by
// CaptureBody, or "" when the client sent none.
func IdempotencyKeyFromCtx(ctx context.Context) string {
	k, _ := ctx.Value(ctxIdempotencyKeyKey).(string)
	return k
}

// CaptureBody reads the body once (up to maxBytes), stores it and the
// Idempotency-Key header in the context, then replaces r.Body so the
// handler can decode it again. The stored bytes are what the idempotency
// guard hashes.
func CaptureBody(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBody
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if len(key) > maxIdempotencyKey {
				http.Error(w, fmt.Sprintf(`{"error":"%s longer than %d characters"}`, IdempotencyHeader, maxIdempotencyKey), http.StatusBadRequest)
				return
			}

			var bodyBytes []byte
			if r.Body != nil {
				var err error
				bodyBytes, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
				r.Body.Close()
				if err != nil {
					var tooLarge *http.MaxBytesError
					if errors.As(err, &tooLarge) {
						http.Error(w, `{"error":"request body too large"}`, http.StatusRequestEntityTooLarge)
						return
					}
					http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
					return
				}
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			ctx := context.WithValue(r.Context(), ctxBodyKey, bodyBytes)
			if key != "" {
				ctx = context.WithValue(ctx, ctxIdempotencyKeyKey, key)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
