// Package idempotency deduplicates retried mutations by (key, user). The
// record is written in the same unit of work as the mutation it protects.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/captainace/backend/internal/apperr"
	"github.com/captainace/backend/internal/models"
	"github.com/captainace/backend/internal/repository"
)

// Request identifies one guarded call. An empty Key disables deduplication.
// Endpoint is the route pattern and Target the resolved path, so a key
// reused on another route or another entity is a conflict, not a replay.
type Request struct {
	Key      string
	UserID   uuid.UUID
	Endpoint string
	Target   string
	Body     []byte
}

// Do runs exec at most once per (req.Key, req.UserID). A replay of the same
// request returns the stored response without calling exec; a replay on another
// endpoint or target, or with a different body, fails with IdempotencyConflict.
// exec runs inside the same unit of work that stores the record, so a failed
// exec leaves no record.
func Do[T any](ctx context.Context, store repository.Store, req Request, exec func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if req.Key == "" {
		return exec(ctx)
	}

	hash, err := Fingerprint(req)
	if err != nil {
		return zero, apperr.Validation("request body is not valid JSON")
	}

	var result T
	err = store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		stored, err := tx.GetIdempotencyKey(ctx, req.Key, req.UserID)
		switch {
		case err == nil:
			if stored.Endpoint != req.Endpoint || stored.RequestHash != hash {
				return apperr.IdempotencyConflict(req.Key)
			}
			if err := json.Unmarshal(stored.Response, &result); err != nil {
				return fmt.Errorf("decode stored response: %w", err)
			}
			return nil
		case !errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("lookup idempotency key: %w", err)
		}

		out, err := exec(ctx)
		if err != nil {
			return err
		}
		resp, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		err = tx.InsertIdempotencyKey(ctx, &models.IdempotencyKey{
			Key:         req.Key,
			UserID:      req.UserID,
			Endpoint:    req.Endpoint,
			RequestHash: hash,
			Response:    resp,
		})
		if errors.Is(err, repository.ErrDuplicateKey) {
			return apperr.Conflict("request with this idempotency key is already in flight")
		}
		if err != nil {
			return err
		}
		result = out
		return nil
	})
	if err != nil {
		return zero, err
	}
	return result, nil
}

// Fingerprint returns the hex SHA-256 of the endpoint, the target and the
// canonical body.
func Fingerprint(req Request) (string, error) {
	canon, err := Canonicalize(req.Body)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, part := range [][]byte{[]byte(req.Endpoint), []byte(req.Target), canon} {
		h.Write(part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Canonicalize re-encodes a JSON document with sorted object keys and no
// insignificant whitespace. Numbers keep their literal text. An empty body
// canonicalizes to "null".
func Canonicalize(body []byte) ([]byte, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return []byte("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	// encoding/json sorts map keys on output.
	return json.Marshal(v)
}
