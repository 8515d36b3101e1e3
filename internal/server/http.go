package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/alfredjeanlab/sessions/internal/codec"
	"github.com/alfredjeanlab/sessions/internal/model"
)

// maxBodyBytes bounds request bodies as sent, before any decompression.
const maxBodyBytes = 32 << 20

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *SessionServer) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/resolve", s.handleResolve)
	mux.HandleFunc("POST /v1/attribute", s.handleAttribute)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return RecoveryMiddleware(s.logger, LoggingMiddleware(s.logger, AuthMiddleware(authToken, mux)))
}

// handleResolve handles POST /v1/resolve.
func (s *SessionServer) handleResolve(w http.ResponseWriter, r *http.Request) {
	var in resolveInput
	if err := readBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.resolve(r.Context(), in)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAttribute handles POST /v1/attribute. Per-node failures are reported
// in the body; the response is 200 whenever the graph was processed.
func (s *SessionServer) handleAttribute(w http.ResponseWriter, r *http.Request) {
	var g model.Graph
	if err := readBody(r, &g); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if g.Nodes == nil {
		g.Nodes = make(map[string]*model.Node)
	}
	writeJSON(w, http.StatusOK, s.attribute(r.Context(), &g))
}

// handleListSessions handles GET /v1/sessions.
func (s *SessionServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context(), r.URL.Query().Get("pseudo_key"))
	if err != nil {
		s.logger.Error("list sessions failed", "err", err)
		writeError(w, statusFor(err), "failed to list sessions")
		return
	}

	// Ensure sessions is never null in JSON output.
	if sessions == nil {
		sessions = []*model.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// handleHealth handles GET /v1/health.
func (s *SessionServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.CheckHealth(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readBody decodes a JSON request body, accepting zstd-compressed payloads
// whether or not Content-Encoding says so.
func readBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if enc := r.Header.Get("Content-Encoding"); enc != "" && enc != codec.Zstd.ContentEncoding() {
		return fmt.Errorf("unsupported content encoding %q", enc)
	}
	if err := codec.JSON.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
