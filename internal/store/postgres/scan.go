package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/sessions/internal/model"
	"github.com/alfredjeanlab/sessions/internal/store"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanSession scans a single row into a model.Session.
// The row must contain columns in the order defined by sessionColumns.
func scanSession(row scannable) (*model.Session, error) {
	var (
		s                             model.Session
		createTime, endTime, version int64
	)
	err := row.Scan(
		&s.SessionID,
		&s.PseudoKey,
		&createTime,
		&endTime,
		&s.IsCreateCanon,
		&s.IsEndCanon,
		&version,
	)
	if err != nil {
		return nil, err
	}
	s.CreateTime = uint64(createTime)
	s.EndTime = uint64(endTime)
	s.Version = uint64(version)
	return &s, nil
}

// scanSessions scans all rows into a slice of model.Session.
func scanSessions(rows *sql.Rows) ([]*model.Session, error) {
	var sessions []*model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// PostgreSQL error codes that map onto store sentinels.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeTooManyConnections   = "53300"
	codeAdminShutdown        = "57P01"
	codeCannotConnectNow     = "57P03"
)

// mapError wraps err with the store sentinel matching its cause.
func mapError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == codeUniqueViolation:
			return fmt.Errorf("%s: %w: %w", op, store.ErrAlreadyExists, err)
		case pqErr.Code == codeSerializationFailure, pqErr.Code == codeDeadlockDetected:
			return fmt.Errorf("%s: %w: %w", op, store.ErrTransactionFailed, err)
		case pqErr.Code == codeTooManyConnections, pqErr.Code == codeAdminShutdown,
			pqErr.Code == codeCannotConnectNow, pqErr.Code.Class() == "08":
			return fmt.Errorf("%s: %w: %w", op, store.ErrUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %w", op, store.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
