package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/routebooks/api/internal/database"
)

// Errors returned by the sequencer.
var (
	ErrCustomerNotOnRoute = errors.New("customer is not on the route")
	ErrOrderMismatch      = errors.New("new order must be a permutation of the route's current customers")
)

// RouteOrderStore defines the DB methods needed by the sequencer.
// Satisfied by *database.Queries.
type RouteOrderStore interface {
	GetRouteCustomerIDs(ctx context.Context, routeID uuid.UUID) ([]uuid.UUID, error)
	AppendRouteCustomer(ctx context.Context, arg database.AppendRouteCustomerParams) error
	RemoveRouteCustomer(ctx context.Context, arg database.RemoveRouteCustomerParams) (uuid.UUID, error)
	CompactRoutePositions(ctx context.Context, routeID uuid.UUID) error
	UpdateRouteOrder(ctx context.Context, arg database.UpdateRouteOrderParams) error
}

// pendingReorder is the single schedule/cancel slot for one route. A new
// reorder replaces both the timer and the order; timers never accumulate.
type pendingReorder struct {
	timer *time.Timer
	order []uuid.UUID
}

// Sequencer maintains the ordered customer list of each route. Reorders are
// persisted debounced: rapid successive calls within the quiescence window
// collapse into a single write carrying only the final order. Adds and
// removals flush any pending reorder first, so the store never sees them
// against a stale sequence.
type Sequencer struct {
	store  RouteOrderStore
	window time.Duration

	mu      sync.Mutex
	pending map[uuid.UUID]*pendingReorder
}

// NewSequencer creates a Sequencer with the given quiescence window.
// A window of zero (or less) persists every reorder immediately.
func NewSequencer(store RouteOrderStore, window time.Duration) *Sequencer {
	return &Sequencer{
		store:   store,
		window:  window,
		pending: make(map[uuid.UUID]*pendingReorder),
	}
}

// List returns the route's current customer order, pending reorder included.
func (s *Sequencer) List(ctx context.Context, routeID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	if p, ok := s.pending[routeID]; ok {
		order := append([]uuid.UUID(nil), p.order...)
		s.mu.Unlock()
		return order, nil
	}
	s.mu.Unlock()
	return s.store.GetRouteCustomerIDs(ctx, routeID)
}

// Add appends a customer to the end of the route. Appending a customer that
// is already present is a no-op returning the unchanged order.
func (s *Sequencer) Add(ctx context.Context, routeID, customerID uuid.UUID) ([]uuid.UUID, error) {
	if err := s.Flush(ctx, routeID); err != nil {
		return nil, err
	}

	ids, err := s.store.GetRouteCustomerIDs(ctx, routeID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if id == customerID {
			return ids, nil
		}
	}

	err = s.store.AppendRouteCustomer(ctx, database.AppendRouteCustomerParams{
		RouteID:    routeID,
		CustomerID: customerID,
		Position:   int32(len(ids)),
	})
	if err != nil {
		return nil, err
	}
	return append(ids, customerID), nil
}

// Remove takes a customer off the route and renumbers the remaining
// positions. Removing an absent customer fails with ErrCustomerNotOnRoute.
func (s *Sequencer) Remove(ctx context.Context, routeID, customerID uuid.UUID) ([]uuid.UUID, error) {
	if err := s.Flush(ctx, routeID); err != nil {
		return nil, err
	}

	_, err := s.store.RemoveRouteCustomer(ctx, database.RemoveRouteCustomerParams{
		RouteID:    routeID,
		CustomerID: customerID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotOnRoute
		}
		return nil, err
	}

	if err := s.store.CompactRoutePositions(ctx, routeID); err != nil {
		return nil, err
	}
	return s.store.GetRouteCustomerIDs(ctx, routeID)
}

// Reorder accepts a full permutation of the route's current customer set and
// schedules it for persistence. Any set mismatch (missing, extra, or
// duplicate IDs) fails with ErrOrderMismatch before anything is scheduled.
func (s *Sequencer) Reorder(ctx context.Context, routeID uuid.UUID, newOrder []uuid.UUID) ([]uuid.UUID, error) {
	current, err := s.List(ctx, routeID)
	if err != nil {
		return nil, err
	}

	if !samePermutation(current, newOrder) {
		return nil, ErrOrderMismatch
	}

	order := append([]uuid.UUID(nil), newOrder...)

	if s.window <= 0 {
		err := s.store.UpdateRouteOrder(ctx, database.UpdateRouteOrderParams{
			RouteID:     routeID,
			CustomerIds: order,
		})
		if err != nil {
			return nil, err
		}
		return order, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pending[routeID]; ok && p.timer != nil {
		p.timer.Stop()
	}
	s.pending[routeID] = &pendingReorder{
		order: order,
		timer: time.AfterFunc(s.window, func() {
			s.persistPending(routeID)
		}),
	}
	return order, nil
}

// Flush persists any pending reorder for the route immediately.
func (s *Sequencer) Flush(ctx context.Context, routeID uuid.UUID) error {
	s.mu.Lock()
	p, ok := s.pending[routeID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(s.pending, routeID)
	s.mu.Unlock()

	return s.store.UpdateRouteOrder(ctx, database.UpdateRouteOrderParams{
		RouteID:     routeID,
		CustomerIds: p.order,
	})
}

// FlushAll persists every pending reorder. Called on shutdown.
func (s *Sequencer) FlushAll(ctx context.Context) {
	s.mu.Lock()
	routes := make([]uuid.UUID, 0, len(s.pending))
	for routeID := range s.pending {
		routes = append(routes, routeID)
	}
	s.mu.Unlock()

	for _, routeID := range routes {
		if err := s.Flush(ctx, routeID); err != nil {
			log.Printf("ERROR: flush route order %s: %v", routeID, err)
		}
	}
}

// persistPending is the timer callback. It runs detached from any request,
// so it uses a background context.
func (s *Sequencer) persistPending(routeID uuid.UUID) {
	s.mu.Lock()
	p, ok := s.pending[routeID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, routeID)
	s.mu.Unlock()

	err := s.store.UpdateRouteOrder(context.Background(), database.UpdateRouteOrderParams{
		RouteID:     routeID,
		CustomerIds: p.order,
	})
	if err != nil {
		// Keep the order so a later Reorder or Flush can retry it.
		log.Printf("ERROR: persist route order %s: %v", routeID, err)
		s.mu.Lock()
		if _, exists := s.pending[routeID]; !exists {
			s.pending[routeID] = &pendingReorder{order: p.order}
		}
		s.mu.Unlock()
	}
}

// samePermutation reports whether next contains exactly the same IDs as
// current, with no duplicates.
func samePermutation(current, next []uuid.UUID) bool {
	if len(current) != len(next) {
		return false
	}
	seen := make(map[uuid.UUID]bool, len(current))
	for _, id := range current {
		seen[id] = true
	}
	for _, id := range next {
		if !seen[id] {
			return false
		}
		delete(seen, id)
	}
	return len(seen) == 0
}
