// Package cache remembers observation -> session id mappings that the
// resolver already produced. Entries are hints: a miss always falls through
// to the resolver, and nothing here is consulted to prove a session absent.
package cache

import (
	"context"
	"strconv"

	"github.com/alfredjeanlab/sessions/internal/model"
)

// IdentityCache is a best-effort memo of resolved observations.
type IdentityCache interface {
	Get(ctx context.Context, key string) (sessionID string, ok bool)
	Put(ctx context.Context, key, sessionID string)
}

// Key identifies one observation. A repeat of an observation already
// resolved is answered with the session it was given the first time.
func Key(unid model.UnidSession, action model.Action) string {
	return action.String() + "|" + strconv.FormatUint(unid.Timestamp, 10) + "|" + unid.PseudoKey
}

// Noop never hits.
type Noop struct{}

func (Noop) Get(context.Context, string) (string, bool) { return "", false }
func (Noop) Put(context.Context, string, string)        {}

// Tiered consults caches in order. A hit in a later tier is copied into the
// earlier ones; Put writes every tier.
type Tiered []IdentityCache

func (t Tiered) Get(ctx context.Context, key string) (string, bool) {
	for i, c := range t {
		if id, ok := c.Get(ctx, key); ok {
			for _, earlier := range t[:i] {
				earlier.Put(ctx, key, id)
			}
			return id, true
		}
	}
	return "", false
}

func (t Tiered) Put(ctx context.Context, key, sessionID string) {
	for _, c := range t {
		c.Put(ctx, key, sessionID)
	}
}
