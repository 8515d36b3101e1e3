package store

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/sessions/internal/model"
)

var (
	// ErrNotFound is returned when no session matches a lookup.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyExists is returned when a create collides with an existing
	// (pseudo_key, create_time) row.
	ErrAlreadyExists = errors.New("session already exists")
	// ErrPreconditionFailed is returned when a version-guarded write loses a
	// race with another writer. No write was made.
	ErrPreconditionFailed = errors.New("session version precondition failed")
	// ErrUnavailable wraps transient network or service faults.
	ErrUnavailable = errors.New("session store unavailable")
	// ErrTransactionFailed is returned when an atomic multi-row write did not
	// commit. The rows are left in their prior state.
	ErrTransactionFailed = errors.New("session store transaction failed")
)

// Store defines the persistence interface for sessions. Rows are keyed by
// (pseudo_key, create_time).
type Store interface {
	// FindFirstSessionAfter returns the session with the smallest
	// create_time >= unid.Timestamp, or ErrNotFound.
	FindFirstSessionAfter(ctx context.Context, unid model.UnidSession) (*model.Session, error)
	// FindLastSessionBefore returns the session with the largest
	// create_time <= unid.Timestamp, or ErrNotFound.
	FindLastSessionBefore(ctx context.Context, unid model.UnidSession) (*model.Session, error)
	GetSession(ctx context.Context, pseudoKey string, createTime uint64) (*model.Session, error)
	// ListSessions returns the sessions of one pseudo key ordered by
	// create_time, or every session when pseudoKey is empty.
	ListSessions(ctx context.Context, pseudoKey string) ([]*model.Session, error)

	// CreateSession inserts s, failing with ErrAlreadyExists on a key collision.
	CreateSession(ctx context.Context, s *model.Session) error
	// UpdateSessionCreateTime atomically deletes the row at s.CreateTime and
	// inserts it at newTime with version s.Version+1.
	UpdateSessionCreateTime(ctx context.Context, s *model.Session, newTime uint64, isCanon bool) (*model.Session, error)
	// UpdateSessionEndTime sets end_time if the stored version equals s.Version.
	UpdateSessionEndTime(ctx context.Context, s *model.Session, newTime uint64, isCanon bool) (*model.Session, error)
	// MakeCreateTimeCanonical sets is_create_canon if the stored version
	// equals s.Version.
	MakeCreateTimeCanonical(ctx context.Context, s *model.Session) (*model.Session, error)
	// DeleteSession removes the row at (s.PseudoKey, s.CreateTime).
	DeleteSession(ctx context.Context, s *model.Session) error

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}
