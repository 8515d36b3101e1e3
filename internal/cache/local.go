package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Local is a bounded, process-private LRU with per-entry expiry.
type Local struct {
	lru *expirable.LRU[string, string]
}

// NewLocal returns a cache holding at most size entries for ttl each.
// A zero ttl disables expiry.
func NewLocal(size int, ttl time.Duration) *Local {
	return &Local{lru: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (c *Local) Get(_ context.Context, key string) (string, bool) {
	return c.lru.Get(key)
}

func (c *Local) Put(_ context.Context, key, sessionID string) {
	c.lru.Add(key, sessionID)
}

// Len returns the number of live entries.
func (c *Local) Len() int {
	return c.lru.Len()
}
