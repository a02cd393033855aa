package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/routebooks/api/internal/database"
	"github.com/routebooks/api/internal/enum"
	"github.com/routebooks/api/internal/handler"
	"github.com/routebooks/api/internal/middleware"
)

type mockDriverStore struct {
	drivers map[uuid.UUID]database.Driver
	order   []uuid.UUID
}

func newMockDriverStore() *mockDriverStore {
	return &mockDriverStore{drivers: make(map[uuid.UUID]database.Driver)}
}

func (m *mockDriverStore) ListDrivers(_ context.Context) ([]database.Driver, error) {
	out := make([]database.Driver, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.drivers[id])
	}
	return out, nil
}

func (m *mockDriverStore) GetDriver(_ context.Context, id uuid.UUID) (database.Driver, error) {
	d, ok := m.drivers[id]
	if !ok {
		return database.Driver{}, pgx.ErrNoRows
	}
	return d, nil
}

func (m *mockDriverStore) CreateDriver(_ context.Context, arg database.CreateDriverParams) (database.Driver, error) {
	d := database.Driver{
		ID:        uuid.New(),
		Name:      arg.Name,
		Phone:     arg.Phone,
		IsActive:  true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.drivers[d.ID] = d
	m.order = append(m.order, d.ID)
	return d, nil
}

func setupDriverRouter(store *mockDriverStore) chi.Router {
	h := handler.NewDriverHandler(store)
	r := chi.NewRouter()
	r.Use(middleware.Authenticate(testSecret))
	r.Route("/drivers", h.RegisterRoutes)
	return r
}

func TestCreateDriver_HappyPath(t *testing.T) {
	store := newMockDriverStore()
	r := setupDriverRouter(store)

	rr := doAuthRequest(t, r, "POST", "/drivers", map[string]interface{}{
		"name":  "Pat",
		"phone": "0801111111",
	}, makeTestClaims(enum.UserRoleAdmin))

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["name"] != "Pat" || resp["is_active"] != true {
		t.Errorf("driver: got %v / active %v", resp["name"], resp["is_active"])
	}
}

func TestCreateDriver_NameRequired(t *testing.T) {
	store := newMockDriverStore()
	r := setupDriverRouter(store)

	rr := doAuthRequest(t, r, "POST", "/drivers", map[string]interface{}{
		"phone": "0801111111",
	}, makeTestClaims(enum.UserRoleAdmin))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestListDrivers_ReturnsAll(t *testing.T) {
	store := newMockDriverStore()
	r := setupDriverRouter(store)

	for _, name := range []string{"Pat", "Sam"} {
		store.CreateDriver(context.Background(), database.CreateDriverParams{Name: name, Phone: "0800000000"})
	}

	rr := doAuthRequest(t, r, "GET", "/drivers", nil, makeTestClaims(enum.UserRoleOffice))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	if resp := decodeListResponse(t, rr); len(resp) != 2 {
		t.Fatalf("drivers: got %d, want 2", len(resp))
	}
}

func TestGetDriver_NotFound(t *testing.T) {
	store := newMockDriverStore()
	r := setupDriverRouter(store)

	rr := doAuthRequest(t, r, "GET", "/drivers/"+uuid.NewString(), nil, makeTestClaims(enum.UserRoleOffice))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}
