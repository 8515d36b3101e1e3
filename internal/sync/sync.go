// Package sync periodically exports the session table as JSONL to one or
// more destinations.
package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/sessions/internal/model"
)

// Source lists sessions. store.Store satisfies it.
type Source interface {
	ListSessions(ctx context.Context, pseudoKey string) ([]*model.Session, error)
}

// Destination receives a complete JSONL export.
type Destination interface {
	// Name identifies the destination in logs and errors.
	Name() string
	Write(ctx context.Context, data []byte) error
}

// Result describes the most recent export.
type Result struct {
	At       time.Time
	Sessions int
	Bytes    int
	Err      error
}

// Scheduler exports from a Source to every Destination on a fixed interval.
type Scheduler struct {
	source       Source
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	mu   sync.Mutex
	last Result

	stop chan struct{}
	done chan struct{}
}

// NewScheduler creates a scheduler. An interval of zero is allowed when the
// caller only uses SyncOnce.
func NewScheduler(src Source, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		source:       src,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
	}
}

// Start runs one export immediately and then one per interval until Stop.
func (s *Scheduler) Start() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-s.stop
		cancel()
	}()
	go s.loop(ctx)
}

// Stop ends the loop and waits for an in-flight export.
func (s *Scheduler) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
}

// Last returns the outcome of the most recent export.
func (s *Scheduler) Last() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	for {
		if err := s.SyncOnce(ctx); err != nil {
			s.logger.Error("sync failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.interval):
		}
	}
}

// SyncOnce exports once and hands the payload to every destination. Every
// destination is attempted; the returned error joins the failures.
func (s *Scheduler) SyncOnce(ctx context.Context) error {
	res := s.export(ctx)
	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
	if res.Err == nil {
		s.logger.Info("sync completed",
			"destinations", len(s.destinations),
			"sessions", res.Sessions,
			"bytes", res.Bytes,
		)
	}
	return res.Err
}

func (s *Scheduler) export(ctx context.Context) Result {
	res := Result{At: time.Now().UTC()}

	var buf bytes.Buffer
	n, err := writeJSONL(ctx, s.source, &buf, res.At)
	if err != nil {
		res.Err = err
		return res
	}
	res.Sessions = n
	res.Bytes = buf.Len()

	var errs []error
	for _, dest := range s.destinations {
		if err := dest.Write(ctx, buf.Bytes()); err != nil {
			errs = append(errs, fmt.Errorf("destination %s: %w", dest.Name(), err))
		}
	}
	res.Err = errors.Join(errs...)
	return res
}
