package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

const formatVersion = "1"

// header is the first line of every export.
type header struct {
	Version      string    `json:"version"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	SessionCount int       `json:"session_count"`
}

type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes every session from src to w: a header line followed by
// one record per session, ordered by (pseudo_key, create_time).
func ExportJSONL(ctx context.Context, src Source, w io.Writer) error {
	_, err := writeJSONL(ctx, src, w, time.Now().UTC())
	return err
}

func writeJSONL(ctx context.Context, src Source, w io.Writer, at time.Time) (int, error) {
	sessions, err := src.ListSessions(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(header{Version: formatVersion, Type: "header", Timestamp: at, SessionCount: len(sessions)}); err != nil {
		return 0, fmt.Errorf("encode header: %w", err)
	}
	for _, s := range sessions {
		if err := enc.Encode(record{Type: "session", Data: s}); err != nil {
			return 0, fmt.Errorf("encode session %s: %w", s.SessionID, err)
		}
	}
	return len(sessions), nil
}
