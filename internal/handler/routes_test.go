package handler_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/routebooks/api/internal/database"
	"github.com/routebooks/api/internal/enum"
	"github.com/routebooks/api/internal/handler"
	"github.com/routebooks/api/internal/middleware"
	"github.com/routebooks/api/internal/service"
)

// --- Mock RouteStore (also backs the sequencer) ---

type mockRouteStore struct {
	mu        sync.Mutex
	routes    map[uuid.UUID]database.Route
	customers map[uuid.UUID]database.Customer
	order     map[uuid.UUID][]uuid.UUID // route ID -> customer IDs in position order
}

func newMockRouteStore() *mockRouteStore {
	return &mockRouteStore{
		routes:    make(map[uuid.UUID]database.Route),
		customers: make(map[uuid.UUID]database.Customer),
		order:     make(map[uuid.UUID][]uuid.UUID),
	}
}

func (m *mockRouteStore) GetRoute(_ context.Context, id uuid.UUID) (database.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.routes[id]
	if !ok {
		return database.Route{}, pgx.ErrNoRows
	}
	return rt, nil
}

func (m *mockRouteStore) CreateRoute(_ context.Context, arg database.CreateRouteParams) (database.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt := database.Route{ID: uuid.New(), Name: arg.Name, DriverID: arg.DriverID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	m.routes[rt.ID] = rt
	return rt, nil
}

func (m *mockRouteStore) ListRouteCustomers(_ context.Context, routeID uuid.UUID) ([]database.ListRouteCustomersRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := []database.ListRouteCustomersRow{}
	for i, id := range m.order[routeID] {
		c := m.customers[id]
		rows = append(rows, database.ListRouteCustomersRow{
			CustomerID:   id,
			CustomerName: c.Name,
			Phone:        c.Phone,
			Position:     int32(i + 1),
		})
	}
	return rows, nil
}

func (m *mockRouteStore) GetRouteCustomerIDs(_ context.Context, routeID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.order[routeID]...), nil
}

func (m *mockRouteStore) AppendRouteCustomer(_ context.Context, arg database.AppendRouteCustomerParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customers[arg.CustomerID]; !ok {
		return fkViolation()
	}
	m.order[arg.RouteID] = append(m.order[arg.RouteID], arg.CustomerID)
	return nil
}

func (m *mockRouteStore) RemoveRouteCustomer(_ context.Context, arg database.RemoveRouteCustomerParams) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.order[arg.RouteID]
	for i, id := range ids {
		if id == arg.CustomerID {
			m.order[arg.RouteID] = append(ids[:i:i], ids[i+1:]...)
			return id, nil
		}
	}
	return uuid.Nil, pgx.ErrNoRows
}

func (m *mockRouteStore) CompactRoutePositions(_ context.Context, routeID uuid.UUID) error {
	return nil
}

func (m *mockRouteStore) UpdateRouteOrder(_ context.Context, arg database.UpdateRouteOrderParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order[arg.RouteID] = append([]uuid.UUID(nil), arg.CustomerIds...)
	return nil
}

// --- Test helpers ---

func setupRouteRouter(store *mockRouteStore) *chi.Mux {
	// Zero window: reorders persist immediately, keeping the tests synchronous.
	seq := service.NewSequencer(store, 0)
	h := handler.NewRouteHandler(store, seq)
	r := chi.NewRouter()
	r.Use(middleware.Authenticate(testSecret))
	r.Route("/routes", h.RegisterRoutes)
	return r
}

func seedRoute(store *mockRouteStore, customerCount int) (uuid.UUID, []uuid.UUID) {
	rt := database.Route{ID: uuid.New(), Name: "North loop", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	store.routes[rt.ID] = rt
	ids := make([]uuid.UUID, customerCount)
	for i := range ids {
		id := uuid.New()
		store.customers[id] = database.Customer{ID: id, Name: "Stop", Phone: "555-0100", IsActive: true}
		store.order[rt.ID] = append(store.order[rt.ID], id)
		ids[i] = id
	}
	return rt.ID, ids
}

// --- Tests ---

func TestCreateRoute_HappyPath(t *testing.T) {
	store := newMockRouteStore()
	claims := makeTestClaims(enum.UserRoleManager)
	router := setupRouteRouter(store)

	rr := doAuthRequest(t, router, "POST", "/routes", map[string]interface{}{
		"name": "North loop",
	}, claims)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["name"] != "North loop" {
		t.Errorf("name: got %v, want North loop", resp["name"])
	}
}

func TestCreateRoute_NameRequired(t *testing.T) {
	store := newMockRouteStore()
	claims := makeTestClaims(enum.UserRoleManager)
	router := setupRouteRouter(store)

	rr := doAuthRequest(t, router, "POST", "/routes", map[string]interface{}{}, claims)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusBadRequest, rr.Body.String())
	}
}

func TestListRouteCustomers_InVisitOrder(t *testing.T) {
	store := newMockRouteStore()
	routeID, ids := seedRoute(store, 3)

	claims := makeTestClaims(enum.UserRoleDriver)
	router := setupRouteRouter(store)

	rr := doAuthRequest(t, router, "GET", "/routes/"+routeID.String()+"/customers", nil, claims)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeListResponse(t, rr)
	if len(resp) != 3 {
		t.Fatalf("customers: got %d, want 3", len(resp))
	}
	for i, row := range resp {
		if row["customer_id"] != ids[i].String() {
			t.Errorf("position %d: got %v, want %s", i, row["customer_id"], ids[i])
		}
	}
}

func TestAddRouteCustomer_AppendsAtEnd(t *testing.T) {
	store := newMockRouteStore()
	routeID, _ := seedRoute(store, 2)
	newCustomer := uuid.New()
	store.customers[newCustomer] = database.Customer{ID: newCustomer, Name: "New stop", Phone: "555-0199", IsActive: true}

	claims := makeTestClaims(enum.UserRoleManager)
	router := setupRouteRouter(store)

	rr := doAuthRequest(t, router, "POST", "/routes/"+routeID.String()+"/customers", map[string]interface{}{
		"customer_id": newCustomer.String(),
	}, claims)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	resp := decodeResponse(t, rr)
	order := resp["customer_ids"].([]interface{})
	if len(order) != 3 {
		t.Fatalf("order length: got %d, want 3", len(order))
	}
	if order[2] != newCustomer.String() {
		t.Errorf("last position: got %v, want %s", order[2], newCustomer)
	}
}

func TestAddRouteCustomer_UnknownCustomer(t *testing.T) {
	store := newMockRouteStore()
	routeID, _ := seedRoute(store, 1)

	claims := makeTestClaims(enum.UserRoleManager)
	router := setupRouteRouter(store)

	rr := doAuthRequest(t, router, "POST", "/routes/"+routeID.String()+"/customers", map[string]interface{}{
		"customer_id": uuid.New().String(),
	}, claims)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusNotFound, rr.Body.String())
	}
}

func TestRemoveRouteCustomer_NotOnRoute(t *testing.T) {
	store := newMockRouteStore()
	routeID, _ := seedRoute(store, 1)

	claims := makeTestClaims(enum.UserRoleManager)
	router := setupRouteRouter(store)

	rr := doAuthRequest(t, router, "DELETE", "/routes/"+routeID.String()+"/customers/"+uuid.New().String(), nil, claims)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusNotFound, rr.Body.String())
	}
}

func TestReorderRoute_PersistsNewSequence(t *testing.T) {
	store := newMockRouteStore()
	routeID, ids := seedRoute(store, 3)

	claims := makeTestClaims(enum.UserRoleManager)
	router := setupRouteRouter(store)

	rr := doAuthRequest(t, router, "PUT", "/routes/"+routeID.String()+"/customers/order", map[string]interface{}{
		"customer_ids": []string{ids[2].String(), ids[0].String(), ids[1].String()},
	}, claims)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	resp := decodeResponse(t, rr)
	order := resp["customer_ids"].([]interface{})
	if order[0] != ids[2].String() || order[1] != ids[0].String() || order[2] != ids[1].String() {
		t.Errorf("order: got %v", order)
	}

	got := store.order[routeID]
	if got[0] != ids[2] || got[1] != ids[0] || got[2] != ids[1] {
		t.Errorf("persisted order: got %v", got)
	}
}

func TestReorderRoute_NonPermutationRejected(t *testing.T) {
	store := newMockRouteStore()
	routeID, ids := seedRoute(store, 3)

	claims := makeTestClaims(enum.UserRoleManager)
	router := setupRouteRouter(store)

	// Missing one customer.
	rr := doAuthRequest(t, router, "PUT", "/routes/"+routeID.String()+"/customers/order", map[string]interface{}{
		"customer_ids": []string{ids[0].String(), ids[1].String()},
	}, claims)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusBadRequest, rr.Body.String())
	}

	got := store.order[routeID]
	if len(got) != 3 || got[0] != ids[0] {
		t.Errorf("order changed despite rejection: %v", got)
	}
}

func TestReorderRoute_UnknownRoute(t *testing.T) {
	store := newMockRouteStore()
	claims := makeTestClaims(enum.UserRoleManager)
	router := setupRouteRouter(store)

	rr := doAuthRequest(t, router, "PUT", "/routes/"+uuid.New().String()+"/customers/order", map[string]interface{}{
		"customer_ids": []string{uuid.New().String()},
	}, claims)
	if rr.Code != http.StatusBadRequest && rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404 or 400; body: %s", rr.Code, rr.Body.String())
	}
}
