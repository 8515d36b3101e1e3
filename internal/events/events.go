package events

import (
	"context"

	"github.com/alfredjeanlab/sessions/internal/model"
)

// Event topic constants
const (
	TopicFragmentUnidentified = "sessions.fragments.unidentified"
	TopicFragmentIdentified   = "sessions.fragments.identified"
	TopicFragmentDead         = "sessions.fragments.dead"

	// TopicAll matches every topic above.
	TopicAll = "sessions.>"
)

// Event types

// FragmentUnidentified carries a graph fragment whose session-bearing nodes
// still have temporary keys.
type FragmentUnidentified struct {
	BatchID string       `json:"batch_id,omitempty"`
	Graph   *model.Graph `json:"graph"`
}

// FragmentIdentified carries an attributed fragment. Error is set when some
// nodes were dropped; their keys are published separately as FragmentDead.
type FragmentIdentified struct {
	BatchID string            `json:"batch_id"`
	Graph   *model.Graph      `json:"graph"`
	KeyMap  map[string]string `json:"key_map"`
	Error   string            `json:"error,omitempty"`
}

type FragmentDead struct {
	BatchID      string   `json:"batch_id"`
	DeadNodeKeys []string `json:"dead_node_keys"`
	Error        string   `json:"error,omitempty"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// NoopPublisher drops every event. The server uses it when no NATS URL is
// configured, so attribution over HTTP still works without a bus.
type NoopPublisher struct{}

func (*NoopPublisher) Publish(context.Context, string, any) error { return nil }
func (*NoopPublisher) Close() error                               { return nil }

// Message is one payload received from the bus.
type Message struct {
	Topic string
	Data  []byte
}

// Subscriber receives raw fragment payloads from the bus.
type Subscriber interface {
	// Subscribe delivers messages published on topic until ctx is done,
	// then closes the channel. Subscribers sharing a queue group split the
	// stream between them.
	Subscribe(ctx context.Context, topic string) (<-chan Message, error)
	Close() error
}
