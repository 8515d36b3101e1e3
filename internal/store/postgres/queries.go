package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/sessions/internal/model"
	"github.com/alfredjeanlab/sessions/internal/store"
)

// sessionColumns is the column list used for SELECT statements on the sessions table.
const sessionColumns = `session_id, pseudo_key, create_time, end_time,
	is_create_canon, is_end_canon, version`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryFindFirstSessionAfter(ctx context.Context, db executor, unid model.UnidSession) (*model.Session, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE pseudo_key = $1 AND create_time >= $2
		ORDER BY create_time ASC
		LIMIT 1`,
		unid.PseudoKey, int64(unid.Timestamp),
	)
	s, err := scanSession(row)
	if err != nil {
		return nil, mapError("find first session after", err)
	}
	return s, nil
}

func queryFindLastSessionBefore(ctx context.Context, db executor, unid model.UnidSession) (*model.Session, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE pseudo_key = $1 AND create_time <= $2
		ORDER BY create_time DESC
		LIMIT 1`,
		unid.PseudoKey, int64(unid.Timestamp),
	)
	s, err := scanSession(row)
	if err != nil {
		return nil, mapError("find last session before", err)
	}
	return s, nil
}

func queryGetSession(ctx context.Context, db executor, pseudoKey string, createTime uint64) (*model.Session, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE pseudo_key = $1 AND create_time = $2`,
		pseudoKey, int64(createTime),
	)
	s, err := scanSession(row)
	if err != nil {
		return nil, mapError("get session", err)
	}
	return s, nil
}

func queryListSessions(ctx context.Context, db executor, pseudoKey string) ([]*model.Session, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if pseudoKey == "" {
		rows, err = db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions
			ORDER BY pseudo_key, create_time`)
	} else {
		rows, err = db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions
			WHERE pseudo_key = $1
			ORDER BY create_time`, pseudoKey)
	}
	if err != nil {
		return nil, mapError("list sessions", err)
	}
	defer rows.Close()

	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, mapError("scan sessions", err)
	}
	return sessions, nil
}

func queryCreateSession(ctx context.Context, db executor, s *model.Session) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (
			session_id, pseudo_key, create_time, end_time,
			is_create_canon, is_end_canon, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.SessionID,
		s.PseudoKey,
		int64(s.CreateTime),
		int64(s.EndTime),
		s.IsCreateCanon,
		s.IsEndCanon,
		int64(s.Version),
	)
	if err != nil {
		return mapError("create session", err)
	}
	return nil
}

// queryRelocateSession deletes the row at s.CreateTime, guarded by its
// version, and inserts it again at newTime. db must be a transaction.
func queryRelocateSession(ctx context.Context, db executor, s *model.Session, newTime uint64, isCanon bool) (*model.Session, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE pseudo_key = $1 AND create_time = $2 AND version = $3`,
		s.PseudoKey, int64(s.CreateTime), int64(s.Version),
	)
	if err != nil {
		return nil, mapError("relocate session: delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("relocate session %s@%d v%d: %w", s.PseudoKey, s.CreateTime, s.Version, store.ErrPreconditionFailed)
	}

	moved := s.Clone()
	moved.CreateTime = newTime
	moved.IsCreateCanon = isCanon
	moved.Version = s.Version + 1
	if err := queryCreateSession(ctx, db, moved); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("relocate session %s to %d: %w: %w", s.PseudoKey, newTime, store.ErrTransactionFailed, err)
		}
		return nil, err
	}
	return moved, nil
}

func queryUpdateSessionEndTime(ctx context.Context, db executor, s *model.Session, newTime uint64, isCanon bool) (*model.Session, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE sessions
		SET end_time = $4, is_end_canon = $5, version = version + 1
		WHERE pseudo_key = $1 AND create_time = $2 AND version = $3
		RETURNING `+sessionColumns,
		s.PseudoKey, int64(s.CreateTime), int64(s.Version), int64(newTime), isCanon,
	)
	return scanConditioned("update session end time", row, s)
}

func queryMakeCreateTimeCanonical(ctx context.Context, db executor, s *model.Session) (*model.Session, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE sessions
		SET is_create_canon = TRUE, version = version + 1
		WHERE pseudo_key = $1 AND create_time = $2 AND version = $3
		RETURNING `+sessionColumns,
		s.PseudoKey, int64(s.CreateTime), int64(s.Version),
	)
	return scanConditioned("make create time canonical", row, s)
}

// scanConditioned scans the row returned by a version-guarded UPDATE.
// No row means the guard failed.
func scanConditioned(op string, row scannable, s *model.Session) (*model.Session, error) {
	updated, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s@%d v%d: %w", op, s.PseudoKey, s.CreateTime, s.Version, store.ErrPreconditionFailed)
	}
	if err != nil {
		return nil, mapError(op, err)
	}
	return updated, nil
}

func queryDeleteSession(ctx context.Context, db executor, s *model.Session) error {
	_, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE pseudo_key = $1 AND create_time = $2`,
		s.PseudoKey, int64(s.CreateTime))
	if err != nil {
		return mapError("delete session", err)
	}
	return nil
}
