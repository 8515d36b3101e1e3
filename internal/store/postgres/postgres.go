// Package postgres implements store.Store on PostgreSQL. Every operation is
// written once against an executor, so the same code serves the pooled
// connection and an open transaction.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/sessions/internal/model"
	"github.com/alfredjeanlab/sessions/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Pool sizes the connection pool.
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

var DefaultPool = Pool{MaxOpen: 25, MaxIdle: 5, MaxLifetime: 5 * time.Minute}

// PostgresStore owns the *sql.DB.
type PostgresStore struct {
	sessions
	db *sql.DB
}

var (
	_ store.Store = (*PostgresStore)(nil)
	_ store.Store = (*txStore)(nil)
)

// New connects with DefaultPool and applies pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	return Open(databaseURL, DefaultPool)
}

// Open connects with the given pool settings and applies pending migrations.
func Open(databaseURL string, pool Pool) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetConnMaxLifetime(pool.MaxLifetime)

	err = db.Ping()
	if err == nil {
		err = RunMigrations(db)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare database: %w", err)
	}
	return NewFromDB(db), nil
}

// NewFromDB wraps an open database. Migrations are the caller's concern.
func NewFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{sessions: sessions{db}, db: db}
}

// RunMigrations applies the embedded migrations. An up-to-date schema is
// not an error.
func RunMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	target, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", target)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return mapError("ping", err)
	}
	return nil
}

// UpdateSessionCreateTime is a delete plus an insert, so outside a
// transaction it opens its own.
func (s *PostgresStore) UpdateSessionCreateTime(ctx context.Context, sess *model.Session, newTime uint64, isCanon bool) (*model.Session, error) {
	var moved *model.Session
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		var err error
		moved, err = tx.UpdateSessionCreateTime(ctx, sess, newTime, isCanon)
		return err
	})
	return moved, err
}

// RunInTransaction runs fn in a serializable transaction, committing only
// when fn succeeds.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapError("begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&txStore{sessions{tx}}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w: %w", store.ErrTransactionFailed, err)
	}
	return nil
}

// txStore is the view handed to RunInTransaction callbacks. Nested
// transactions join the outer one.
type txStore struct {
	sessions
}

func (s *txStore) UpdateSessionCreateTime(ctx context.Context, sess *model.Session, newTime uint64, isCanon bool) (*model.Session, error) {
	return queryRelocateSession(ctx, s.exec, sess, newTime, isCanon)
}

func (s *txStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

func (s *txStore) Ping(context.Context) error { return nil }
func (s *txStore) Close() error               { return nil }

// sessions implements the row-level operations shared by both stores.
type sessions struct {
	exec executor
}

func (s sessions) FindFirstSessionAfter(ctx context.Context, unid model.UnidSession) (*model.Session, error) {
	return queryFindFirstSessionAfter(ctx, s.exec, unid)
}

func (s sessions) FindLastSessionBefore(ctx context.Context, unid model.UnidSession) (*model.Session, error) {
	return queryFindLastSessionBefore(ctx, s.exec, unid)
}

func (s sessions) GetSession(ctx context.Context, pseudoKey string, createTime uint64) (*model.Session, error) {
	return queryGetSession(ctx, s.exec, pseudoKey, createTime)
}

func (s sessions) ListSessions(ctx context.Context, pseudoKey string) ([]*model.Session, error) {
	return queryListSessions(ctx, s.exec, pseudoKey)
}

func (s sessions) CreateSession(ctx context.Context, sess *model.Session) error {
	return queryCreateSession(ctx, s.exec, sess)
}

func (s sessions) UpdateSessionEndTime(ctx context.Context, sess *model.Session, newTime uint64, isCanon bool) (*model.Session, error) {
	return queryUpdateSessionEndTime(ctx, s.exec, sess, newTime, isCanon)
}

func (s sessions) MakeCreateTimeCanonical(ctx context.Context, sess *model.Session) (*model.Session, error) {
	return queryMakeCreateTimeCanonical(ctx, s.exec, sess)
}

func (s sessions) DeleteSession(ctx context.Context, sess *model.Session) error {
	return queryDeleteSession(ctx, s.exec, sess)
}
