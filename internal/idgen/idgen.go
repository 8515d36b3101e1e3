// Package idgen mints identifiers: random UUIDs for sessions and short
// nanoid-based ids for fragment batches.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// BatchPrefix marks ids minted by this service for fragments that
	// arrived without one.
	BatchPrefix = "batch-"

	batchAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	batchLength   = 10
)

// SessionID returns a new globally unique session identifier.
func SessionID() string {
	return uuid.NewString()
}

// BatchID returns a new batch id such as "batch-Xk3f9QpL2a".
func BatchID() (string, error) {
	id, err := nanoid.Generate(batchAlphabet, batchLength)
	if err != nil {
		return "", fmt.Errorf("generate batch id: %w", err)
	}
	return BatchPrefix + id, nil
}
