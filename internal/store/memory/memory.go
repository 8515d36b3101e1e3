// Package memory implements the store.Store interface in process memory.
// It honours the same key uniqueness and version preconditions as the
// networked backends and is used for tests and single-node development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alfredjeanlab/sessions/internal/model"
	"github.com/alfredjeanlab/sessions/internal/store"
)

// table is the row set, one slice per pseudo key sorted by create_time.
type table map[string][]*model.Session

func (t table) clone() table {
	c := make(table, len(t))
	for k, rows := range t {
		cp := make([]*model.Session, len(rows))
		for i, r := range rows {
			cp[i] = r.Clone()
		}
		c[k] = cp
	}
	return c
}

// MemoryStore implements store.Store with a mutex-guarded map.
type MemoryStore struct {
	mu   sync.Mutex
	rows table
}

// Compile-time check that MemoryStore implements store.Store.
var _ store.Store = (*MemoryStore)(nil)

// New returns an empty store.
func New() *MemoryStore {
	return &MemoryStore{rows: make(table)}
}

func (s *MemoryStore) FindFirstSessionAfter(ctx context.Context, unid model.UnidSession) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findFirstAfter(s.rows, unid)
}

func (s *MemoryStore) FindLastSessionBefore(ctx context.Context, unid model.UnidSession) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findLastBefore(s.rows, unid)
}

func (s *MemoryStore) GetSession(ctx context.Context, pseudoKey string, createTime uint64) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return get(s.rows, pseudoKey, createTime)
}

func (s *MemoryStore) ListSessions(ctx context.Context, pseudoKey string) ([]*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return list(s.rows, pseudoKey), nil
}

func (s *MemoryStore) CreateSession(ctx context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return create(s.rows, sess)
}

func (s *MemoryStore) UpdateSessionCreateTime(ctx context.Context, sess *model.Session, newTime uint64, isCanon bool) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return relocate(s.rows, sess, newTime, isCanon)
}

func (s *MemoryStore) UpdateSessionEndTime(ctx context.Context, sess *model.Session, newTime uint64, isCanon bool) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return update(s.rows, sess, func(r *model.Session) {
		r.EndTime = newTime
		r.IsEndCanon = isCanon
	})
}

func (s *MemoryStore) MakeCreateTimeCanonical(ctx context.Context, sess *model.Session) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return update(s.rows, sess, func(r *model.Session) {
		r.IsCreateCanon = true
	})
}

func (s *MemoryStore) DeleteSession(ctx context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	remove(s.rows, sess.PseudoKey, sess.CreateTime)
	return nil
}

// RunInTransaction holds the store lock for the duration of fn, so
// transactions are serial. On error every write made by fn is discarded.
func (s *MemoryStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.rows.clone()
	tx := &txStore{rows: s.rows}
	if err := fn(tx); err != nil {
		s.rows = snapshot
		return err
	}
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Len returns the total number of rows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rows := range s.rows {
		n += len(rows)
	}
	return n
}

// txStore implements store.Store against a table whose lock is already
// held by RunInTransaction.
type txStore struct {
	rows table
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (t *txStore) FindFirstSessionAfter(ctx context.Context, unid model.UnidSession) (*model.Session, error) {
	return findFirstAfter(t.rows, unid)
}

func (t *txStore) FindLastSessionBefore(ctx context.Context, unid model.UnidSession) (*model.Session, error) {
	return findLastBefore(t.rows, unid)
}

func (t *txStore) GetSession(ctx context.Context, pseudoKey string, createTime uint64) (*model.Session, error) {
	return get(t.rows, pseudoKey, createTime)
}

func (t *txStore) ListSessions(ctx context.Context, pseudoKey string) ([]*model.Session, error) {
	return list(t.rows, pseudoKey), nil
}

func (t *txStore) CreateSession(ctx context.Context, sess *model.Session) error {
	return create(t.rows, sess)
}

func (t *txStore) UpdateSessionCreateTime(ctx context.Context, sess *model.Session, newTime uint64, isCanon bool) (*model.Session, error) {
	return relocate(t.rows, sess, newTime, isCanon)
}

func (t *txStore) UpdateSessionEndTime(ctx context.Context, sess *model.Session, newTime uint64, isCanon bool) (*model.Session, error) {
	return update(t.rows, sess, func(r *model.Session) {
		r.EndTime = newTime
		r.IsEndCanon = isCanon
	})
}

func (t *txStore) MakeCreateTimeCanonical(ctx context.Context, sess *model.Session) (*model.Session, error) {
	return update(t.rows, sess, func(r *model.Session) {
		r.IsCreateCanon = true
	})
}

func (t *txStore) DeleteSession(ctx context.Context, sess *model.Session) error {
	remove(t.rows, sess.PseudoKey, sess.CreateTime)
	return nil
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (t *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

func (t *txStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op for a transaction store; the parent store owns the table.
func (t *txStore) Close() error { return nil }

// --- table operations; callers hold the lock ---

// search returns the index of the first row with create_time >= ts.
func search(rows []*model.Session, ts uint64) int {
	return sort.Search(len(rows), func(i int) bool { return rows[i].CreateTime >= ts })
}

func findFirstAfter(t table, unid model.UnidSession) (*model.Session, error) {
	rows := t[unid.PseudoKey]
	i := search(rows, unid.Timestamp)
	if i == len(rows) {
		return nil, store.ErrNotFound
	}
	return rows[i].Clone(), nil
}

func findLastBefore(t table, unid model.UnidSession) (*model.Session, error) {
	rows := t[unid.PseudoKey]
	i := search(rows, unid.Timestamp)
	if i < len(rows) && rows[i].CreateTime == unid.Timestamp {
		return rows[i].Clone(), nil
	}
	if i == 0 {
		return nil, store.ErrNotFound
	}
	return rows[i-1].Clone(), nil
}

func get(t table, pseudoKey string, createTime uint64) (*model.Session, error) {
	rows := t[pseudoKey]
	i := search(rows, createTime)
	if i == len(rows) || rows[i].CreateTime != createTime {
		return nil, store.ErrNotFound
	}
	return rows[i].Clone(), nil
}

func list(t table, pseudoKey string) []*model.Session {
	var out []*model.Session
	if pseudoKey != "" {
		for _, r := range t[pseudoKey] {
			out = append(out, r.Clone())
		}
		return out
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, r := range t[k] {
			out = append(out, r.Clone())
		}
	}
	return out
}

func create(t table, sess *model.Session) error {
	rows := t[sess.PseudoKey]
	i := search(rows, sess.CreateTime)
	if i < len(rows) && rows[i].CreateTime == sess.CreateTime {
		return fmt.Errorf("create session %s@%d: %w", sess.PseudoKey, sess.CreateTime, store.ErrAlreadyExists)
	}
	rows = append(rows, nil)
	copy(rows[i+1:], rows[i:])
	rows[i] = sess.Clone()
	t[sess.PseudoKey] = rows
	return nil
}

func remove(t table, pseudoKey string, createTime uint64) {
	rows := t[pseudoKey]
	i := search(rows, createTime)
	if i == len(rows) || rows[i].CreateTime != createTime {
		return
	}
	rows = append(rows[:i], rows[i+1:]...)
	if len(rows) == 0 {
		delete(t, pseudoKey)
		return
	}
	t[pseudoKey] = rows
}

// current returns the stored row for sess if its version matches.
func current(t table, sess *model.Session) (*model.Session, error) {
	rows := t[sess.PseudoKey]
	i := search(rows, sess.CreateTime)
	if i == len(rows) || rows[i].CreateTime != sess.CreateTime || rows[i].Version != sess.Version {
		return nil, fmt.Errorf("update session %s@%d v%d: %w", sess.PseudoKey, sess.CreateTime, sess.Version, store.ErrPreconditionFailed)
	}
	return rows[i], nil
}

func update(t table, sess *model.Session, mutate func(*model.Session)) (*model.Session, error) {
	row, err := current(t, sess)
	if err != nil {
		return nil, err
	}
	mutate(row)
	row.Version++
	return row.Clone(), nil
}

func relocate(t table, sess *model.Session, newTime uint64, isCanon bool) (*model.Session, error) {
	row, err := current(t, sess)
	if err != nil {
		return nil, err
	}
	if newTime != sess.CreateTime {
		if _, err := get(t, sess.PseudoKey, newTime); err == nil {
			return nil, fmt.Errorf("relocate session %s to %d: %w", sess.PseudoKey, newTime, store.ErrTransactionFailed)
		}
	}
	moved := row.Clone()
	moved.CreateTime = newTime
	moved.IsCreateCanon = isCanon
	moved.Version++
	remove(t, sess.PseudoKey, sess.CreateTime)
	if err := create(t, moved); err != nil {
		return nil, err
	}
	return moved.Clone(), nil
}
