package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// IdempotencyKey is unique on (Key, UserID).
type IdempotencyKey struct {
	Key         string          `json:"key"`
	UserID      uuid.UUID       `json:"user_id"`
	Endpoint    string          `json:"endpoint"`
	RequestHash string          `json:"request_hash"`
	Response    json.RawMessage `json:"response"`
	CreatedAt   time.Time       `json:"created_at"`
}
