package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/alfredjeanlab/sessions/internal/model"
	"github.com/alfredjeanlab/sessions/internal/store"
	"github.com/alfredjeanlab/sessions/internal/store/memory"
)

const pk = "process:asset-1:42"

// newTestResolver returns a resolver over a fresh memory store with
// deterministic session ids s1, s2, ...
func newTestResolver(t *testing.T, opts ...Option) (*Resolver, *memory.MemoryStore) {
	t.Helper()
	st := memory.New()
	n := 0
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithIDFunc(func() string {
			n++
			return fmt.Sprintf("s%d", n)
		}),
	}
	return New(st, append(base, opts...)...), st
}

func create(t *testing.T, r *Resolver, ts uint64) string {
	t.Helper()
	id, err := r.HandleUnidSession(context.Background(), model.UnidSession{PseudoKey: pk, Timestamp: ts, IsCreation: true}, false)
	if err != nil {
		t.Fatalf("create@%d: %v", ts, err)
	}
	return id
}

func lastSeen(t *testing.T, r *Resolver, ts uint64, shouldDefault bool) (string, error) {
	t.Helper()
	return r.HandleUnidSession(context.Background(), model.UnidSession{PseudoKey: pk, Timestamp: ts}, shouldDefault)
}

func mustGet(t *testing.T, st store.Store, createTime uint64) *model.Session {
	t.Helper()
	s, err := st.GetSession(context.Background(), pk, createTime)
	if err != nil {
		t.Fatalf("GetSession(%d): %v", createTime, err)
	}
	return s
}

func TestCreation_Idempotent(t *testing.T) {
	r, st := newTestResolver(t)
	first := create(t, r, 100)
	second := create(t, r, 100)
	if first != second {
		t.Fatalf("duplicate creation produced %q and %q", first, second)
	}
	if st.Len() != 1 {
		t.Errorf("rows = %d, want 1", st.Len())
	}
}

func TestCreation_WithinSkewIsDuplicate(t *testing.T) {
	r, st := newTestResolver(t)
	first := create(t, r, 100)
	if got := create(t, r, 95); got != first {
		t.Errorf("creation 5 units earlier got %q, want %q", got, first)
	}
	if st.Len() != 1 {
		t.Errorf("rows = %d, want 1", st.Len())
	}
}

func TestCreation_DefaultWindow(t *testing.T) {
	r, st := newTestResolver(t)
	create(t, r, 100)
	s := mustGet(t, st, 99)
	if s.EndTime != 99+model.DefaultSessionLength {
		t.Errorf("EndTime = %d, want %d", s.EndTime, 99+model.DefaultSessionLength)
	}
	if !s.IsCreateCanon || s.IsEndCanon || s.Version != 0 {
		t.Errorf("unexpected session %+v", s)
	}
}

func TestWindowContainment(t *testing.T) {
	r, st := newTestResolver(t)
	s1 := create(t, r, 100)

	got, err := lastSeen(t, r, 150, true)
	if err != nil {
		t.Fatalf("last seen 150: %v", err)
	}
	if got != s1 {
		t.Errorf("last seen 150 = %q, want %q", got, s1)
	}

	s2, err := lastSeen(t, r, 250, true)
	if err != nil {
		t.Fatalf("last seen 250: %v", err)
	}
	if s2 == s1 {
		t.Fatal("last seen 250 reused the first session")
	}
	row := mustGet(t, st, 249)
	if row.SessionID != s2 || row.IsCreateCanon {
		t.Errorf("second session = %+v, want non-canonical %s", row, s2)
	}
	if st.Len() != 2 {
		t.Errorf("rows = %d, want 2", st.Len())
	}
}

func TestLastSeen_SkewPastEnd(t *testing.T) {
	r, _ := newTestResolver(t)
	s1 := create(t, r, 100) // [99, 200)
	got, err := lastSeen(t, r, 209, false)
	if err != nil {
		t.Fatalf("last seen 209: %v", err)
	}
	if got != s1 {
		t.Errorf("last seen within skew of end = %q, want %q", got, s1)
	}
	if _, err := lastSeen(t, r, 211, false); !errors.Is(err, ErrUnattributable) {
		t.Errorf("last seen 211 without default: expected ErrUnattributable, got %v", err)
	}
}

func TestRetroactiveCanonicalization(t *testing.T) {
	r, st := newTestResolver(t)
	guessed, err := lastSeen(t, r, 50, true)
	if err != nil {
		t.Fatalf("last seen 50: %v", err)
	}
	if mustGet(t, st, 49).IsCreateCanon {
		t.Fatal("defaulted session should not be canonical")
	}

	claimed := create(t, r, 50)
	if claimed != guessed {
		t.Fatalf("creation got %q, want guessed session %q", claimed, guessed)
	}
	row := mustGet(t, st, 49)
	if !row.IsCreateCanon {
		t.Error("session should be canonical after creation event")
	}
	if row.Version != 1 {
		t.Errorf("Version = %d, want 1", row.Version)
	}
	if st.Len() != 1 {
		t.Errorf("rows = %d, want 1", st.Len())
	}
}

func TestCreation_ClaimsGuessedFutureSession(t *testing.T) {
	r, st := newTestResolver(t)
	guessed, err := lastSeen(t, r, 500, true)
	if err != nil {
		t.Fatalf("last seen 500: %v", err)
	}

	claimed := create(t, r, 300)
	if claimed != guessed {
		t.Fatalf("creation got %q, want %q", claimed, guessed)
	}
	if _, err := st.GetSession(context.Background(), pk, 499); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("old row should be gone, got %v", err)
	}
	row := mustGet(t, st, 299)
	if !row.IsCreateCanon || row.Version != 1 || row.SessionID != guessed {
		t.Errorf("relocated row = %+v", row)
	}
}

func TestCreation_DoesNotClaimCanonicalFutureSession(t *testing.T) {
	r, st := newTestResolver(t)
	later := create(t, r, 500)
	earlier := create(t, r, 300)
	if earlier == later {
		t.Fatal("creation before a canonical session must open a new session")
	}
	if st.Len() != 2 {
		t.Errorf("rows = %d, want 2", st.Len())
	}
}

func TestLastSeen_ExtendsGuessedSessionBackward(t *testing.T) {
	r, st := newTestResolver(t)
	guessed, err := lastSeen(t, r, 500, true)
	if err != nil {
		t.Fatal(err)
	}
	got, err := lastSeen(t, r, 400, false)
	if err != nil {
		t.Fatalf("last seen 400: %v", err)
	}
	if got != guessed {
		t.Errorf("got %q, want %q", got, guessed)
	}
	row := mustGet(t, st, 399)
	if row.IsCreateCanon {
		t.Error("backward extension by last-seen must stay non-canonical")
	}
}

func TestLastSeen_EndNotExtendedByDefault(t *testing.T) {
	r, st := newTestResolver(t)
	s1 := create(t, r, 100)
	got, err := lastSeen(t, r, 400, true)
	if err != nil {
		t.Fatal(err)
	}
	if got == s1 {
		t.Errorf("last seen past end returned the earlier session %q", s1)
	}
	if row := mustGet(t, st, 99); row.EndTime != 200 || row.Version != 0 {
		t.Errorf("first session mutated: %+v", row)
	}
	if row := mustGet(t, st, 399); row.SessionID != got {
		t.Errorf("default session = %+v, want %s", row, got)
	}
	if _, err := lastSeen(t, r, 600, false); !errors.Is(err, ErrUnattributable) {
		t.Errorf("last seen past end without default: expected ErrUnattributable, got %v", err)
	}
}

func TestLastSeen_EndExtensionEnabled(t *testing.T) {
	r, st := newTestResolver(t, WithEndExtension(true))
	s1 := create(t, r, 100)
	got, err := lastSeen(t, r, 400, false)
	if err != nil {
		t.Fatalf("last seen 400: %v", err)
	}
	if got != s1 {
		t.Errorf("got %q, want %q", got, s1)
	}
	row := mustGet(t, st, 99)
	if row.EndTime != 399 || row.IsEndCanon || row.Version != 1 {
		t.Errorf("extended row = %+v", row)
	}
	if st.Len() != 1 {
		t.Errorf("rows = %d, want 1", st.Len())
	}
}

func TestResolve_TerminateUnimplemented(t *testing.T) {
	r, st := newTestResolver(t)
	_, err := r.Resolve(context.Background(), model.ActionTerminate, model.UnidSession{PseudoKey: pk, Timestamp: 10}, true)
	if !errors.Is(err, ErrUnimplemented) {
		t.Fatalf("expected ErrUnimplemented, got %v", err)
	}
	if st.Len() != 0 {
		t.Errorf("terminate wrote %d rows", st.Len())
	}
}

func TestResolve_ActionOverridesFlag(t *testing.T) {
	r, st := newTestResolver(t)
	id, err := r.Resolve(context.Background(), model.ActionCreate, model.UnidSession{PseudoKey: pk, Timestamp: 10}, false)
	if err != nil {
		t.Fatal(err)
	}
	if row := mustGet(t, st, 9); row.SessionID != id || !row.IsCreateCanon {
		t.Errorf("row = %+v", row)
	}
}

func TestHandleUnidSession_RequiresPseudoKey(t *testing.T) {
	r, _ := newTestResolver(t)
	var ve *model.ValidationError
	if _, err := r.HandleUnidSession(context.Background(), model.UnidSession{Timestamp: 1}, true); !errors.As(err, &ve) {
		t.Fatalf("expected *model.ValidationError, got %v", err)
	}
}

// stubStore lets tests script individual store responses.
type stubStore struct {
	*memory.MemoryStore
	firstAfter func(model.UnidSession) (*model.Session, error)
	create     func(*model.Session) error
}

func (s *stubStore) FindFirstSessionAfter(ctx context.Context, unid model.UnidSession) (*model.Session, error) {
	if s.firstAfter != nil {
		return s.firstAfter(unid)
	}
	return s.MemoryStore.FindFirstSessionAfter(ctx, unid)
}

func (s *stubStore) CreateSession(ctx context.Context, sess *model.Session) error {
	if s.create != nil {
		return s.create(sess)
	}
	return s.MemoryStore.CreateSession(ctx, sess)
}

func TestCreation_InvariantViolation(t *testing.T) {
	st := &stubStore{
		MemoryStore: memory.New(),
		firstAfter: func(u model.UnidSession) (*model.Session, error) {
			return model.NewSession("bad", u.PseudoKey, u.Timestamp-50, true), nil
		},
	}
	r := New(st, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, err := r.HandleUnidSession(context.Background(), model.UnidSession{PseudoKey: pk, Timestamp: 100, IsCreation: true}, false)
	var iv *InvariantViolationError
	if !errors.As(err, &iv) {
		t.Fatalf("expected *InvariantViolationError, got %v", err)
	}
	if iv.Session.SessionID != "bad" {
		t.Errorf("violation session = %q", iv.Session.SessionID)
	}
}

func TestCreation_LosesInsertRace(t *testing.T) {
	mem := memory.New()
	st := &stubStore{MemoryStore: mem}
	st.create = func(sess *model.Session) error {
		// Another writer lands a guessed session at the same key first.
		winner := model.NewSession("winner", sess.PseudoKey, sess.CreateTime, false)
		if err := mem.CreateSession(context.Background(), winner); err != nil {
			return err
		}
		return mem.CreateSession(context.Background(), sess)
	}
	// The scripted create runs only once the resolver found nothing.
	r := New(st, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	id, err := r.HandleUnidSession(context.Background(), model.UnidSession{PseudoKey: pk, Timestamp: 100, IsCreation: true}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "winner" {
		t.Errorf("id = %q, want winner", id)
	}
	row, _ := mem.GetSession(context.Background(), pk, 99)
	if !row.IsCreateCanon {
		t.Error("winner row should be canonicalized by the creation event")
	}
	if mem.Len() != 1 {
		t.Errorf("rows = %d, want 1", mem.Len())
	}
}

func TestStoreErrorsPropagate(t *testing.T) {
	st := &stubStore{
		MemoryStore: memory.New(),
		firstAfter: func(model.UnidSession) (*model.Session, error) {
			return nil, store.ErrUnavailable
		},
	}
	r := New(st, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, err := r.HandleUnidSession(context.Background(), model.UnidSession{PseudoKey: pk, Timestamp: 100, IsCreation: true}, false)
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

// countingMeter records Add calls per counter name.
type countingMeter struct {
	noop.Meter
	counts map[string]int64
}

type countingCounter struct {
	noop.Int64Counter
	name   string
	counts map[string]int64
}

func (c countingCounter) Add(_ context.Context, n int64, _ ...metric.AddOption) {
	c.counts[c.name] += n
}

func (m *countingMeter) Int64Counter(name string, _ ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	return countingCounter{name: name, counts: m.counts}, nil
}

func TestCreation_OverlapIsReportedNotHealed(t *testing.T) {
	var logs bytes.Buffer
	meter := &countingMeter{counts: map[string]int64{}}
	r, st := newTestResolver(t,
		WithLogger(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))),
		WithMeter(meter),
	)

	first := create(t, r, 100)
	before := mustGet(t, st, 99)

	second := create(t, r, 150)
	if second == first {
		t.Fatal("overlapping creation should open a distinct session")
	}
	if got := mustGet(t, st, 149); got.SessionID != second || !got.IsCreateCanon {
		t.Errorf("new session = %+v", got)
	}
	if after := mustGet(t, st, 99); *after != *before {
		t.Errorf("earlier session changed: %+v -> %+v", before, after)
	}
	if st.Len() != 2 {
		t.Errorf("rows = %d, want 2", st.Len())
	}

	if meter.counts["sessions.overlaps"] != 1 {
		t.Errorf("sessions.overlaps = %d, want 1", meter.counts["sessions.overlaps"])
	}
	out := logs.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "overlaps earlier session") || !strings.Contains(out, "session_id="+first) {
		t.Errorf("missing overlap warning: %q", out)
	}
}
