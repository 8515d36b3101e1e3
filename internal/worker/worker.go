// Package worker drives attribution from the event bus: it consumes
// unidentified fragments, attributes them and publishes the results.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/alfredjeanlab/sessions/internal/attribution"
	"github.com/alfredjeanlab/sessions/internal/codec"
	"github.com/alfredjeanlab/sessions/internal/events"
	"github.com/alfredjeanlab/sessions/internal/idgen"
	"github.com/alfredjeanlab/sessions/internal/model"
)

// Attributor is the part of attribution.Attributor the worker needs.
type Attributor interface {
	Attribute(ctx context.Context, g *model.Graph) (*attribution.Result, error)
}

// Worker consumes events.TopicFragmentUnidentified and publishes
// events.TopicFragmentIdentified and events.TopicFragmentDead.
type Worker struct {
	attributor Attributor
	publisher  events.Publisher
	codec      codec.Codec
	logger     *slog.Logger
}

// New creates a worker. Payloads are decoded with c, which accepts both
// plain and zstd-framed JSON.
func New(a Attributor, pub events.Publisher, c codec.Codec, logger *slog.Logger) *Worker {
	return &Worker{attributor: a, publisher: pub, codec: c, logger: logger}
}

// HandleFragment attributes one fragment and publishes the outcome. An
// identified fragment is always published, even when some nodes died; the
// dead keys follow on their own topic. The returned error reports a failed
// publish, not a failed node.
func (w *Worker) HandleFragment(ctx context.Context, ev events.FragmentUnidentified) (*attribution.Result, error) {
	if ev.BatchID == "" {
		id, err := idgen.BatchID()
		if err != nil {
			return nil, err
		}
		ev.BatchID = id
	}
	if ev.Graph == nil {
		ev.Graph = model.NewGraph()
	}

	res, attrErr := w.attributor.Attribute(ctx, ev.Graph)

	identified := events.FragmentIdentified{
		BatchID: ev.BatchID,
		Graph:   res.Graph,
		KeyMap:  res.KeyMap,
	}
	if attrErr != nil {
		identified.Error = attrErr.Error()
	}
	if err := w.publisher.Publish(ctx, events.TopicFragmentIdentified, identified); err != nil {
		return res, fmt.Errorf("publish identified fragment %s: %w", ev.BatchID, err)
	}

	if len(res.DeadNodeKeys) > 0 {
		dead := events.FragmentDead{
			BatchID:      ev.BatchID,
			DeadNodeKeys: res.DeadKeys(),
			Error:        identified.Error,
		}
		if err := w.publisher.Publish(ctx, events.TopicFragmentDead, dead); err != nil {
			return res, fmt.Errorf("publish dead nodes %s: %w", ev.BatchID, err)
		}
	}

	w.logger.Info("worker: fragment attributed",
		"batch_id", ev.BatchID,
		"nodes", ev.Graph.Len(),
		"attributed", len(res.KeyMap),
		"dead", len(res.DeadNodeKeys),
	)
	return res, nil
}

// Run handles unidentified fragments one at a time until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, sub events.Subscriber) error {
	msgs, err := sub.Subscribe(ctx, events.TopicFragmentUnidentified)
	if err != nil {
		return fmt.Errorf("worker: subscribe: %w", err)
	}
	w.logger.Info("worker: subscriber started", "topic", events.TopicFragmentUnidentified)

	for msg := range msgs {
		w.handleMessage(ctx, msg)
	}
	w.logger.Info("worker: subscriber stopping")
	return nil
}

// handleMessage decodes and handles one bus message. A panic drops the
// message and leaves the subscription running.
func (w *Worker) handleMessage(ctx context.Context, msg events.Message) {
	defer func() {
		if rv := recover(); rv != nil {
			w.logger.Error("worker: panic handling fragment",
				"topic", msg.Topic,
				"panic", fmt.Sprint(rv),
				"stack", string(debug.Stack()),
			)
		}
	}()

	var ev events.FragmentUnidentified
	if err := w.codec.Unmarshal(msg.Data, &ev); err != nil {
		w.logger.Warn("worker: bad fragment payload", "topic", msg.Topic, "err", err)
		return
	}
	if _, err := w.HandleFragment(ctx, ev); err != nil {
		w.logger.Error("worker: handle fragment", "batch_id", ev.BatchID, "err", err)
	}
}
