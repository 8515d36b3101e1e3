// Package resolver assigns durable session ids to unresolved entity
// observations. For every pseudo key the session table holds a sequence of
// non-overlapping intervals; each observation either lands in an existing
// interval, stretches a guessed one backward, or opens a new one.
//
// The resolver holds no locks. Concurrent writers are reconciled by the
// store: creates are unique per (pseudo_key, create_time) and every other
// write is conditioned on the row version.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/alfredjeanlab/sessions/internal/idgen"
	"github.com/alfredjeanlab/sessions/internal/model"
	"github.com/alfredjeanlab/sessions/internal/store"
)

const instrumentationName = "github.com/alfredjeanlab/sessions/internal/resolver"

// Resolver maps observations onto sessions.
type Resolver struct {
	store     store.Store
	logger    *slog.Logger
	tracer    trace.Tracer
	newID     func() string
	extendEnd bool
	metrics   *metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithTracer sets the tracer. The default is the global provider's tracer.
func WithTracer(t trace.Tracer) Option {
	return func(r *Resolver) { r.tracer = t }
}

// WithMeter sets the meter used for resolver counters.
func WithMeter(m metric.Meter) Option {
	return func(r *Resolver) { r.metrics = newMetrics(m) }
}

// WithIDFunc overrides session id generation.
func WithIDFunc(fn func() string) Option {
	return func(r *Resolver) { r.newID = fn }
}

// WithEndExtension makes a last-seen observation past the end of a session
// whose end is not canonical push that end forward, instead of falling
// through to the next session or a default. Off by default.
func WithEndExtension(enabled bool) Option {
	return func(r *Resolver) { r.extendEnd = enabled }
}

// New returns a resolver backed by s.
func New(s store.Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:  s,
		logger: slog.Default(),
		tracer: otel.Tracer(instrumentationName),
		newID:  idgen.SessionID,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = newMetrics(otel.Meter(instrumentationName))
	}
	return r
}

// WithStore returns a copy of r that reads and writes through s, typically a
// transaction handle.
func (r *Resolver) WithStore(s store.Store) *Resolver {
	c := *r
	c.store = s
	return &c
}

// Resolve dispatches on action. Terminate is not implemented and fails with
// ErrUnimplemented without touching the store.
func (r *Resolver) Resolve(ctx context.Context, action model.Action, unid model.UnidSession, shouldDefault bool) (string, error) {
	switch action {
	case model.ActionCreate:
		unid.IsCreation = true
		return r.HandleUnidSession(ctx, unid, shouldDefault)
	case model.ActionUpdateOrCreate:
		unid.IsCreation = false
		return r.HandleUnidSession(ctx, unid, shouldDefault)
	case model.ActionTerminate:
		return "", fmt.Errorf("resolve %s: action %s: %w", unid.PseudoKey, action, ErrUnimplemented)
	}
	return "", fmt.Errorf("resolve %s: unknown action %d", unid.PseudoKey, int(action))
}

// HandleUnidSession returns the id of the session unid belongs to, creating
// or adjusting a session as needed.
func (r *Resolver) HandleUnidSession(ctx context.Context, unid model.UnidSession, shouldDefault bool) (id string, err error) {
	if err := model.ValidateUnidSession(unid); err != nil {
		return "", err
	}

	ctx, span := r.tracer.Start(ctx, "resolver.handle_unid_session",
		trace.WithAttributes(
			attribute.String("session.pseudo_key", unid.PseudoKey),
			attribute.Int64("session.timestamp", int64(unid.Timestamp)),
			attribute.Bool("session.is_creation", unid.IsCreation),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("session.id", id))
		}
		span.End()
	}()

	unid.Timestamp = model.Shave(unid.Timestamp)

	if unid.IsCreation {
		return r.handleCreationEvent(ctx, unid)
	}
	return r.handleLastSeen(ctx, unid, shouldDefault)
}

func (r *Resolver) handleCreationEvent(ctx context.Context, unid model.UnidSession) (string, error) {
	next, err := r.findFirstAfter(ctx, unid)
	if err != nil {
		return "", err
	}
	if next != nil {
		if unid.Timestamp > next.CreateTime {
			return "", &InvariantViolationError{
				Unid:    unid,
				Session: next,
				Reason:  "first session after query returned an earlier session",
			}
		}
		if !next.IsCreateCanon && next.CreateTime != unid.Timestamp {
			moved, err := r.store.UpdateSessionCreateTime(ctx, next, unid.Timestamp, true)
			if err != nil {
				return "", fmt.Errorf("extend session %s back to %d: %w", next.SessionID, unid.Timestamp, err)
			}
			r.metrics.relocated.Add(ctx, 1)
			r.logger.Debug("session claimed by creation event",
				"pseudo_key", unid.PseudoKey, "session_id", moved.SessionID,
				"from", next.CreateTime, "to", moved.CreateTime)
			return moved.SessionID, nil
		}
		if model.SkewedCmp(unid.Timestamp, next.CreateTime) {
			if !next.IsCreateCanon {
				if _, err := r.store.MakeCreateTimeCanonical(ctx, next); err != nil {
					return "", fmt.Errorf("canonicalize session %s: %w", next.SessionID, err)
				}
			}
			return next.SessionID, nil
		}
	}

	prev, err := r.findLastBefore(ctx, unid)
	if err != nil {
		return "", err
	}
	if prev != nil && prev.Overlaps(unid.Timestamp) {
		// Left in place; overlaps are reported, not healed.
		r.metrics.overlaps.Add(ctx, 1)
		r.logger.Warn("creation event overlaps earlier session",
			"pseudo_key", unid.PseudoKey,
			"timestamp", unid.Timestamp,
			"session_id", prev.SessionID,
			"create_time", prev.CreateTime,
			"end_time", prev.EndTime,
		)
	}

	return r.createSession(ctx, unid, true)
}

func (r *Resolver) handleLastSeen(ctx context.Context, unid model.UnidSession, shouldDefault bool) (string, error) {
	prev, err := r.findLastBefore(ctx, unid)
	if err != nil {
		return "", err
	}
	if prev != nil {
		if prev.Contains(unid.Timestamp) {
			return prev.SessionID, nil
		}
		if !prev.IsEndCanon && r.extendEnd {
			if _, err := r.store.UpdateSessionEndTime(ctx, prev, unid.Timestamp, false); err != nil {
				return "", fmt.Errorf("extend session %s end to %d: %w", prev.SessionID, unid.Timestamp, err)
			}
			return prev.SessionID, nil
		}
	}

	next, err := r.findFirstAfter(ctx, unid)
	if err != nil {
		return "", err
	}
	if next != nil && !next.IsCreateCanon {
		moved, err := r.store.UpdateSessionCreateTime(ctx, next, unid.Timestamp, false)
		if err != nil {
			return "", fmt.Errorf("extend session %s back to %d: %w", next.SessionID, unid.Timestamp, err)
		}
		r.metrics.relocated.Add(ctx, 1)
		return moved.SessionID, nil
	}

	if !shouldDefault {
		return "", fmt.Errorf("last seen %s@%d: %w", unid.PseudoKey, unid.Timestamp, ErrUnattributable)
	}
	return r.createSession(ctx, unid, false)
}

// createSession persists a new session at unid.Timestamp. A concurrent
// writer may win the insert; the winner's row is then returned.
func (r *Resolver) createSession(ctx context.Context, unid model.UnidSession, canon bool) (string, error) {
	sess := model.NewSession(r.newID(), unid.PseudoKey, unid.Timestamp, canon)
	err := r.store.CreateSession(ctx, sess)
	if err == nil {
		r.metrics.created.Add(ctx, 1, metric.WithAttributes(attribute.Bool("canonical", canon)))
		r.logger.Debug("session created",
			"pseudo_key", sess.PseudoKey, "session_id", sess.SessionID,
			"create_time", sess.CreateTime, "canonical", canon)
		return sess.SessionID, nil
	}
	if !errors.Is(err, store.ErrAlreadyExists) {
		return "", fmt.Errorf("create session %s@%d: %w", unid.PseudoKey, unid.Timestamp, err)
	}

	winner, err := r.store.GetSession(ctx, unid.PseudoKey, unid.Timestamp)
	if err != nil {
		return "", fmt.Errorf("reread session %s@%d: %w", unid.PseudoKey, unid.Timestamp, err)
	}
	if canon && !winner.IsCreateCanon {
		if _, err := r.store.MakeCreateTimeCanonical(ctx, winner); err != nil {
			return "", fmt.Errorf("canonicalize session %s: %w", winner.SessionID, err)
		}
	}
	return winner.SessionID, nil
}

// findFirstAfter returns nil when no session follows unid.
func (r *Resolver) findFirstAfter(ctx context.Context, unid model.UnidSession) (*model.Session, error) {
	s, err := r.store.FindFirstSessionAfter(ctx, unid)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find first session after %s@%d: %w", unid.PseudoKey, unid.Timestamp, err)
	}
	return s, nil
}

// findLastBefore returns nil when no session precedes unid.
func (r *Resolver) findLastBefore(ctx context.Context, unid model.UnidSession) (*model.Session, error) {
	s, err := r.store.FindLastSessionBefore(ctx, unid)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find last session before %s@%d: %w", unid.PseudoKey, unid.Timestamp, err)
	}
	return s, nil
}
