// Package attribution rewrites an unidentified graph fragment so that every
// session-bearing node is keyed by the session it belongs to.
package attribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/alfredjeanlab/sessions/internal/cache"
	"github.com/alfredjeanlab/sessions/internal/model"
	"github.com/alfredjeanlab/sessions/internal/resolver"
	"github.com/alfredjeanlab/sessions/internal/retry"
	"github.com/alfredjeanlab/sessions/internal/store"
)

const instrumentationName = "github.com/alfredjeanlab/sessions/internal/attribution"

// Node outcomes recorded on the attribution.nodes counter.
const (
	OutcomeResolved    = "resolved"
	OutcomeCached      = "cached"
	OutcomeDead        = "dead"
	OutcomePassthrough = "passthrough"
)

// Result is the outcome of attributing one fragment. It is always complete
// for the nodes that succeeded, even when Attribute also returns an error.
type Result struct {
	// Graph holds the surviving nodes under their new keys, with edges
	// rewritten accordingly.
	Graph *model.Graph
	// KeyMap maps every renamed node's original key to its session id.
	KeyMap map[string]string
	// DeadNodeKeys names the nodes dropped from Graph.
	DeadNodeKeys map[string]struct{}
}

// DeadKeys returns DeadNodeKeys in sorted order.
func (r *Result) DeadKeys() []string {
	keys := make([]string, 0, len(r.DeadNodeKeys))
	for k := range r.DeadNodeKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Attributor runs the resolver over every node of a fragment.
type Attributor struct {
	store         store.Store
	resolver      *resolver.Resolver
	cache         cache.IdentityCache
	retry         retry.Policy
	shouldDefault bool
	logger        *slog.Logger
	tracer        trace.Tracer
	nodes         metric.Int64Counter
}

// Option configures an Attributor.
type Option func(*Attributor)

// WithCache sets the identity cache. The default never hits.
func WithCache(c cache.IdentityCache) Option {
	return func(a *Attributor) { a.cache = c }
}

// WithRetryPolicy sets the per-node retry policy. Its Retryable field is
// replaced with the store error classifier.
func WithRetryPolicy(p retry.Policy) Option {
	return func(a *Attributor) { a.retry = p }
}

// WithShouldDefault controls whether unmatched last-seen observations open a
// new guessed session. Enabled by default.
func WithShouldDefault(v bool) Option {
	return func(a *Attributor) { a.shouldDefault = v }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Attributor) { a.logger = l }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(a *Attributor) { a.tracer = t }
}

// WithMeter sets the meter for the attribution.nodes counter.
func WithMeter(m metric.Meter) Option {
	return func(a *Attributor) {
		c, err := m.Int64Counter("attribution.nodes",
			metric.WithDescription("Nodes processed by outcome"),
			metric.WithUnit("1"))
		if err == nil {
			a.nodes = c
		}
	}
}

// New returns an Attributor that resolves against s.
func New(s store.Store, r *resolver.Resolver, opts ...Option) *Attributor {
	a := &Attributor{
		store:         s,
		resolver:      r,
		cache:         cache.Noop{},
		retry:         retry.DefaultPolicy,
		shouldDefault: true,
		logger:        slog.Default(),
		tracer:        otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.nodes == nil {
		a.nodes, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("attribution.nodes")
	}
	a.retry.Retryable = Retryable
	return a
}

// Retryable reports whether a per-node failure may succeed on a fresh
// transaction: transient store faults and lost optimistic races.
func Retryable(err error) bool {
	return errors.Is(err, store.ErrUnavailable) ||
		errors.Is(err, store.ErrTransactionFailed) ||
		errors.Is(err, store.ErrPreconditionFailed)
}

// Attribute resolves every node in g. Nodes are processed one at a time; a
// node that cannot be attributed is recorded in DeadNodeKeys and the batch
// continues. The returned error is the first per-node failure, if any, and
// does not invalidate the Result.
func (a *Attributor) Attribute(ctx context.Context, g *model.Graph) (*Result, error) {
	ctx, span := a.tracer.Start(ctx, "attribution.attribute",
		trace.WithAttributes(attribute.Int("graph.nodes", g.Len())))
	defer span.End()

	res := &Result{
		Graph:        model.NewGraph(),
		KeyMap:       make(map[string]string),
		DeadNodeKeys: make(map[string]struct{}),
	}

	var firstErr error
	drop := func(key string, err error) {
		err = fmt.Errorf("attribute node %s: %w", key, err)
		a.logger.Warn("node attribution failed", "node_key", key, "err", err)
		res.DeadNodeKeys[key] = struct{}{}
		a.count(ctx, OutcomeDead)
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, key := range g.Keys() {
		node := g.Nodes[key]
		if err := model.ValidateNode(node); err != nil {
			drop(key, err)
			continue
		}
		// Nodes without sessions keep the key edges refer to.
		if !node.Kind.HasSessions() {
			kept := node.Clone()
			kept.SetKey(key)
			res.Graph.AddNode(kept)
			a.count(ctx, OutcomePassthrough)
			continue
		}

		id, cached, err := a.attributeNode(ctx, node)
		if err != nil {
			drop(key, err)
			continue
		}

		renamed := node.Clone()
		renamed.SetKey(id)
		res.Graph.AddNode(renamed)
		res.KeyMap[key] = id
		if cached {
			a.count(ctx, OutcomeCached)
		} else {
			a.count(ctx, OutcomeResolved)
		}
	}

	res.Graph.Edges = append([]model.Edge(nil), g.Edges...)
	res.Graph.RemapEdges(res.KeyMap, res.DeadNodeKeys)

	span.SetAttributes(
		attribute.Int("graph.attributed", len(res.KeyMap)),
		attribute.Int("graph.dead", len(res.DeadNodeKeys)),
	)
	if firstErr != nil {
		span.SetStatus(codes.Error, firstErr.Error())
	}
	return res, firstErr
}

// attributeNode returns the session id for node.
func (a *Attributor) attributeNode(ctx context.Context, node *model.Node) (id string, cached bool, err error) {
	unid, action, err := node.Identity()
	if err != nil {
		return "", false, err
	}

	return a.Resolve(ctx, action, unid, a.shouldDefault)
}

// Resolve returns the session id for a single observation, consulting the
// cache first. Each attempt runs in its own store transaction.
func (a *Attributor) Resolve(ctx context.Context, action model.Action, unid model.UnidSession, shouldDefault bool) (id string, cached bool, err error) {
	key := cache.Key(unid, action)
	if id, ok := a.cache.Get(ctx, key); ok {
		return id, true, nil
	}

	err = retry.Do(ctx, a.retry, func(ctx context.Context) error {
		return a.store.RunInTransaction(ctx, func(tx store.Store) error {
			var err error
			id, err = a.resolver.WithStore(tx).Resolve(ctx, action, unid, shouldDefault)
			return err
		})
	})
	if err != nil {
		return "", false, err
	}

	a.cache.Put(ctx, key, id)
	return id, false, nil
}

func (a *Attributor) count(ctx context.Context, outcome string) {
	a.nodes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
