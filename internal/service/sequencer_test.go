package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/routebooks/api/internal/database"
)

// mockRouteOrderStore implements RouteOrderStore backed by an in-memory
// slice, counting the writes the sequencer performs.
type mockRouteOrderStore struct {
	mu           sync.Mutex
	order        []uuid.UUID
	updateCalls  int
	lastOrder    []uuid.UUID
	updateErr    error
	appendCalls  int
	compactCalls int
}

func (m *mockRouteOrderStore) GetRouteCustomerIDs(ctx context.Context, routeID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.order...), nil
}

func (m *mockRouteOrderStore) AppendRouteCustomer(ctx context.Context, arg database.AppendRouteCustomerParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendCalls++
	m.order = append(m.order, arg.CustomerID)
	return nil
}

func (m *mockRouteOrderStore) RemoveRouteCustomer(ctx context.Context, arg database.RemoveRouteCustomerParams) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range m.order {
		if id == arg.CustomerID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return id, nil
		}
	}
	return uuid.Nil, pgx.ErrNoRows
}

func (m *mockRouteOrderStore) CompactRoutePositions(ctx context.Context, routeID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compactCalls++
	return nil
}

func (m *mockRouteOrderStore) UpdateRouteOrder(ctx context.Context, arg database.UpdateRouteOrderParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		err := m.updateErr
		m.updateErr = nil
		return err
	}
	m.updateCalls++
	m.lastOrder = append([]uuid.UUID(nil), arg.CustomerIds...)
	m.order = append([]uuid.UUID(nil), arg.CustomerIds...)
	return nil
}

func (m *mockRouteOrderStore) snapshot() (int, []uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateCalls, append([]uuid.UUID(nil), m.lastOrder...)
}

func sameOrder(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func seededStore(n int) (*mockRouteOrderStore, []uuid.UUID) {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
	}
	return &mockRouteOrderStore{order: append([]uuid.UUID(nil), ids...)}, ids
}

func reversed(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = id
	}
	return out
}

func TestReorder_DebouncesToSingleWrite(t *testing.T) {
	store, ids := seededStore(3)
	seq := NewSequencer(store, 30*time.Millisecond)
	routeID := uuid.New()

	intermediate := []uuid.UUID{ids[1], ids[0], ids[2]}
	final := reversed(ids)

	if _, err := seq.Reorder(context.Background(), routeID, intermediate); err != nil {
		t.Fatalf("first reorder: %v", err)
	}
	if _, err := seq.Reorder(context.Background(), routeID, final); err != nil {
		t.Fatalf("second reorder: %v", err)
	}

	// Nothing persisted inside the quiescence window.
	if calls, _ := store.snapshot(); calls != 0 {
		t.Fatalf("expected no writes before the window elapses, got %d", calls)
	}

	deadline := time.After(time.Second)
	for {
		calls, last := store.snapshot()
		if calls == 1 && sameOrder(last, final) {
			break
		}
		if calls > 1 {
			t.Fatalf("expected exactly one write, got %d", calls)
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for debounced write, calls=%d last=%v", calls, last)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestReorder_ZeroWindowPersistsImmediately(t *testing.T) {
	store, ids := seededStore(3)
	seq := NewSequencer(store, 0)
	routeID := uuid.New()

	final := reversed(ids)
	got, err := seq.Reorder(context.Background(), routeID, final)
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if !sameOrder(got, final) {
		t.Fatalf("expected returned order %v, got %v", final, got)
	}
	calls, last := store.snapshot()
	if calls != 1 || !sameOrder(last, final) {
		t.Fatalf("expected one immediate write of the final order, calls=%d last=%v", calls, last)
	}
}

func TestReorder_RejectsNonPermutation(t *testing.T) {
	store, ids := seededStore(3)
	seq := NewSequencer(store, 0)
	routeID := uuid.New()

	// Missing one customer.
	if _, err := seq.Reorder(context.Background(), routeID, ids[:2]); !errors.Is(err, ErrOrderMismatch) {
		t.Fatalf("expected ErrOrderMismatch for short order, got: %v", err)
	}

	// Unknown customer substituted in.
	bad := append([]uuid.UUID(nil), ids...)
	bad[1] = uuid.New()
	if _, err := seq.Reorder(context.Background(), routeID, bad); !errors.Is(err, ErrOrderMismatch) {
		t.Fatalf("expected ErrOrderMismatch for unknown customer, got: %v", err)
	}

	// Duplicate entry.
	dup := []uuid.UUID{ids[0], ids[0], ids[2]}
	if _, err := seq.Reorder(context.Background(), routeID, dup); !errors.Is(err, ErrOrderMismatch) {
		t.Fatalf("expected ErrOrderMismatch for duplicate, got: %v", err)
	}

	if calls, _ := store.snapshot(); calls != 0 {
		t.Fatalf("rejected reorders must not write, got %d writes", calls)
	}
}

func TestReorder_ListReflectsPendingOrder(t *testing.T) {
	store, ids := seededStore(3)
	seq := NewSequencer(store, time.Hour) // never fires during the test
	routeID := uuid.New()

	final := reversed(ids)
	if _, err := seq.Reorder(context.Background(), routeID, final); err != nil {
		t.Fatalf("reorder: %v", err)
	}

	got, err := seq.List(context.Background(), routeID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !sameOrder(got, final) {
		t.Fatalf("List must reflect the pending order %v, got %v", final, got)
	}
	if calls, _ := store.snapshot(); calls != 0 {
		t.Fatalf("List must not trigger a write, got %d", calls)
	}
}

func TestAdd_FlushesPendingReorderFirst(t *testing.T) {
	store, ids := seededStore(3)
	seq := NewSequencer(store, time.Hour)
	routeID := uuid.New()

	final := reversed(ids)
	if _, err := seq.Reorder(context.Background(), routeID, final); err != nil {
		t.Fatalf("reorder: %v", err)
	}

	newCustomer := uuid.New()
	got, err := seq.Add(context.Background(), routeID, newCustomer)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	calls, last := store.snapshot()
	if calls != 1 || !sameOrder(last, final) {
		t.Fatalf("Add must persist the pending reorder first, calls=%d last=%v", calls, last)
	}
	want := append(append([]uuid.UUID(nil), final...), newCustomer)
	if !sameOrder(got, want) {
		t.Fatalf("expected %v after add, got %v", want, got)
	}
}

func TestAdd_ExistingCustomerIsNoOp(t *testing.T) {
	store, ids := seededStore(3)
	seq := NewSequencer(store, 0)
	routeID := uuid.New()

	got, err := seq.Add(context.Background(), routeID, ids[1])
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !sameOrder(got, ids) {
		t.Fatalf("expected unchanged order %v, got %v", ids, got)
	}
	if store.appendCalls != 0 {
		t.Fatalf("expected no append for existing customer, got %d", store.appendCalls)
	}
}

func TestRemove_UnknownCustomer(t *testing.T) {
	store, _ := seededStore(2)
	seq := NewSequencer(store, 0)

	_, err := seq.Remove(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrCustomerNotOnRoute) {
		t.Fatalf("expected ErrCustomerNotOnRoute, got: %v", err)
	}
}

func TestRemove_CompactsPositions(t *testing.T) {
	store, ids := seededStore(3)
	seq := NewSequencer(store, 0)
	routeID := uuid.New()

	got, err := seq.Remove(context.Background(), routeID, ids[0])
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !sameOrder(got, ids[1:]) {
		t.Fatalf("expected %v after remove, got %v", ids[1:], got)
	}
	if store.compactCalls != 1 {
		t.Fatalf("expected one position compaction, got %d", store.compactCalls)
	}
}

func TestFlushAll_PersistsEveryPendingRoute(t *testing.T) {
	store, ids := seededStore(3)
	seq := NewSequencer(store, time.Hour)
	routeID := uuid.New()

	final := reversed(ids)
	if _, err := seq.Reorder(context.Background(), routeID, final); err != nil {
		t.Fatalf("reorder: %v", err)
	}

	seq.FlushAll(context.Background())

	calls, last := store.snapshot()
	if calls != 1 || !sameOrder(last, final) {
		t.Fatalf("FlushAll must persist the pending order, calls=%d last=%v", calls, last)
	}
}

func TestPersistFailureRequeuesOrder(t *testing.T) {
	store, ids := seededStore(3)
	store.updateErr = errors.New("connection reset")
	seq := NewSequencer(store, 10*time.Millisecond)
	routeID := uuid.New()

	final := reversed(ids)
	if _, err := seq.Reorder(context.Background(), routeID, final); err != nil {
		t.Fatalf("reorder: %v", err)
	}

	// Let the timer fire and fail. The order must stay queued, visible
	// through List, with no write recorded.
	time.Sleep(50 * time.Millisecond)
	if calls, _ := store.snapshot(); calls != 0 {
		t.Fatalf("failed persist must not count as a write, got %d", calls)
	}
	got, err := seq.List(context.Background(), routeID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !sameOrder(got, final) {
		t.Fatalf("expected re-queued order %v, got %v", final, got)
	}

	// The next flush retries the stored order and succeeds.
	if err := seq.Flush(context.Background(), routeID); err != nil {
		t.Fatalf("flush: %v", err)
	}
	calls, last := store.snapshot()
	if calls != 1 || !sameOrder(last, final) {
		t.Fatalf("expected retried write of %v, calls=%d last=%v", final, calls, last)
	}
}
