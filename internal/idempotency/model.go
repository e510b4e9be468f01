// Package idempotency stores the responses of retried client writes so that a
// repeated request with the same Idempotency-Key is answered from the first
// outcome instead of being applied twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound is returned when an idempotency key is not found.
	ErrKeyNotFound = errors.New("idempotency key not found")

	// ErrKeyExists is returned when attempting to create a duplicate key.
	ErrKeyExists = errors.New("idempotency key already exists")

	// ErrInvalidKey is returned when the key is invalid.
	ErrInvalidKey = errors.New("invalid idempotency key")

	// ErrKeyTooLong is returned when the key exceeds maximum length.
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length of 64 characters")
)

// MaxKeyLength is the maximum allowed length for an idempotency key.
const MaxKeyLength = 64

// DefaultExpiry is how long a stored response is replayed.
const DefaultExpiry = 24 * time.Hour

// Record is a stored response for one scoped key.
type Record struct {
	Scope        string    `json:"scope"`
	Method       string    `json:"method"`
	Route        string    `json:"route"`
	StatusCode   int       `json:"status_code"`
	ContentType  string    `json:"content_type,omitempty"`
	Body         string    `json:"body"`
	ResponseHash string    `json:"response_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// ValidateKey checks a client supplied key. Keys are printable ASCII.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	for i := 0; i < len(key); i++ {
		if key[i] < 0x21 || key[i] > 0x7e {
			return ErrInvalidKey
		}
	}
	return nil
}

// Scope binds a key to the identity and route that used it, so two callers
// picking the same key never see each other's responses.
func Scope(identity, method, route, key string) string {
	return identity + "|" + method + "|" + route + "|" + key
}

// ComputeResponseHash computes a SHA256 hash of the response body.
func ComputeResponseHash(body string) string {
	hash := sha256.Sum256([]byte(body))
	return hex.EncodeToString(hash[:])
}

// Repository persists idempotent responses.
type Repository interface {
	// Get returns the record for scope, or ErrKeyNotFound.
	Get(ctx context.Context, scope string) (*Record, error)

	// Store saves a record. Returns ErrKeyExists if scope is already taken.
	Store(ctx context.Context, record *Record) error

	// DeleteOlderThan removes records older than age and reports how many.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
