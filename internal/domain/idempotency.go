package domain

import (
	"time"
)

// IdempotencyRecord is a cached first response for an Idempotency-Key, replayed
// verbatim for 24h. BodyHash guards against key reuse with a different body.
type IdempotencyRecord struct {
	Key        string    `json:"key"`
	ClientID   string    `json:"client_id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	BodyHash   string    `json:"body_hash"`
	StatusCode int       `json:"status_code"`
	Response   []byte    `json:"response"`
	CreatedAt  time.Time `json:"created_at"`
}
