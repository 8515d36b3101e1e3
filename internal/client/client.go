// Package client provides a transport-agnostic interface for the session
// resolution service and an HTTP/JSON implementation of it.
package client

import (
	"context"

	"github.com/alfredjeanlab/sessions/internal/model"
)

// SessionsClient is the interface the sessiond CLI commands use to talk to a
// running server.
type SessionsClient interface {
	Resolve(ctx context.Context, req *ResolveRequest) (*ResolveResponse, error)
	Attribute(ctx context.Context, g *model.Graph) (*AttributeResponse, error)
	ListSessions(ctx context.Context, pseudoKey string) (*ListSessionsResponse, error)

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// ResolveRequest is a single observation to resolve.
type ResolveRequest struct {
	PseudoKey  string `json:"pseudo_key"`
	Timestamp  uint64 `json:"timestamp"`
	IsCreation bool   `json:"is_creation"`
	// Action, when set, takes precedence over IsCreation.
	Action        string `json:"action,omitempty"`
	ShouldDefault *bool  `json:"should_default,omitempty"`
}

// ResolveResponse carries the resolved session id.
type ResolveResponse struct {
	SessionID string `json:"session_id"`
	Cached    bool   `json:"cached"`
}

// AttributeResponse is the attributed fragment. Error is set when some nodes
// could not be attributed; those are listed in DeadNodeKeys.
type AttributeResponse struct {
	Graph        *model.Graph      `json:"graph"`
	KeyMap       map[string]string `json:"key_map"`
	DeadNodeKeys []string          `json:"dead_node_keys"`
	Error        string            `json:"error,omitempty"`
}

// ListSessionsResponse holds sessions ordered by create time.
type ListSessionsResponse struct {
	Sessions []*model.Session `json:"sessions"`
	Total    int              `json:"total"`
}
