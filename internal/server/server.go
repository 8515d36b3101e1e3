// Package server exposes session resolution over HTTP and serves the gRPC
// health protocol for the same process.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alfredjeanlab/sessions/internal/attribution"
	"github.com/alfredjeanlab/sessions/internal/model"
	"github.com/alfredjeanlab/sessions/internal/resolver"
	"github.com/alfredjeanlab/sessions/internal/store"
)

// ServiceName is the gRPC health service name reported for the resolver.
const ServiceName = "sessions.v1.Resolver"

// SessionServer serves resolution requests against one store.
type SessionServer struct {
	store         store.Store
	attributor    *attribution.Attributor
	shouldDefault bool
	logger        *slog.Logger
	health        *health.Server
}

// NewSessionServer returns a SessionServer. shouldDefault is used for
// resolve requests that do not set it themselves.
func NewSessionServer(s store.Store, a *attribution.Attributor, shouldDefault bool, logger *slog.Logger) *SessionServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionServer{
		store:         s,
		attributor:    a,
		shouldDefault: shouldDefault,
		logger:        logger,
		health:        health.NewServer(),
	}
}

// Health returns the gRPC health server whose status tracks the store.
func (s *SessionServer) Health() *health.Server {
	return s.health
}

// inputError indicates invalid user input.
// Transport layers map this to 400.
type inputError string

func (e inputError) Error() string { return string(e) }

// resolveInput is the body of POST /v1/resolve.
type resolveInput struct {
	PseudoKey     string `json:"pseudo_key"`
	Timestamp     uint64 `json:"timestamp"`
	IsCreation    bool   `json:"is_creation"`
	Action        string `json:"action,omitempty"`
	ShouldDefault *bool  `json:"should_default,omitempty"`
}

type resolveOutput struct {
	SessionID string `json:"session_id"`
	Cached    bool   `json:"cached"`
}

func (s *SessionServer) resolve(ctx context.Context, in resolveInput) (*resolveOutput, error) {
	if in.PseudoKey == "" {
		return nil, inputError("pseudo_key is required")
	}

	action := model.ActionUpdateOrCreate
	if in.IsCreation {
		action = model.ActionCreate
	}
	if in.Action != "" {
		a, err := model.ParseAction(in.Action)
		if err != nil {
			return nil, inputError(err.Error())
		}
		action = a
	}

	shouldDefault := s.shouldDefault
	if in.ShouldDefault != nil {
		shouldDefault = *in.ShouldDefault
	}

	unid := model.UnidSession{PseudoKey: in.PseudoKey, Timestamp: in.Timestamp, IsCreation: action.IsCreation()}
	id, cached, err := s.attributor.Resolve(ctx, action, unid, shouldDefault)
	if err != nil {
		return nil, err
	}
	return &resolveOutput{SessionID: id, Cached: cached}, nil
}

// attributeOutput is the body returned by POST /v1/attribute.
type attributeOutput struct {
	Graph        *model.Graph      `json:"graph"`
	KeyMap       map[string]string `json:"key_map"`
	DeadNodeKeys []string          `json:"dead_node_keys"`
	Error        string            `json:"error,omitempty"`
}

func (s *SessionServer) attribute(ctx context.Context, g *model.Graph) *attributeOutput {
	res, err := s.attributor.Attribute(ctx, g)
	out := &attributeOutput{
		Graph:        res.Graph,
		KeyMap:       res.KeyMap,
		DeadNodeKeys: res.DeadKeys(),
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// CheckHealth pings the store and records the result on the health server.
func (s *SessionServer) CheckHealth(ctx context.Context) error {
	err := s.store.Ping(ctx)
	st := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
	return err
}

// WatchHealth refreshes the health status every interval until ctx is done.
func (s *SessionServer) WatchHealth(ctx context.Context, interval time.Duration) {
	if err := s.CheckHealth(ctx); err != nil {
		s.logger.Warn("store health check failed", "err", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			if err := s.CheckHealth(ctx); err != nil {
				s.logger.Warn("store health check failed", "err", err)
			}
		}
	}
}

// statusFor maps a resolution error to an HTTP status.
func statusFor(err error) int {
	var ie inputError
	var ve *model.ValidationError
	var iv *resolver.InvariantViolationError
	switch {
	case errors.As(err, &ie), errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, resolver.ErrUnattributable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, resolver.ErrUnimplemented):
		return http.StatusNotImplemented
	case errors.As(err, &iv):
		return http.StatusInternalServerError
	case errors.Is(err, store.ErrPreconditionFailed):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, store.ErrTransactionFailed),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
