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
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/routebooks/api/internal/database"
	"github.com/routebooks/api/internal/enum"
	"github.com/routebooks/api/internal/handler"
	"github.com/routebooks/api/internal/middleware"
)

type mockUserStore struct {
	users   map[uuid.UUID]database.User
	byEmail map[string]uuid.UUID
	byPin   map[string]uuid.UUID
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:   make(map[uuid.UUID]database.User),
		byEmail: make(map[string]uuid.UUID),
		byPin:   make(map[string]uuid.UUID),
	}
}

func (m *mockUserStore) ListUsers(_ context.Context) ([]database.User, error) {
	out := make([]database.User, 0, len(m.users))
	for _, u := range m.users {
		if u.IsActive {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *mockUserStore) CreateUser(_ context.Context, arg database.CreateUserParams) (database.User, error) {
	if _, exists := m.byEmail[arg.Email]; exists {
		return database.User{}, &pgconn.PgError{Code: "23505"}
	}
	if arg.Pin.Valid {
		if _, exists := m.byPin[arg.Pin.String]; exists {
			return database.User{}, &pgconn.PgError{Code: "23505"}
		}
	}
	u := database.User{
		ID:             uuid.New(),
		Email:          arg.Email,
		HashedPassword: arg.HashedPassword,
		FullName:       arg.FullName,
		Role:           arg.Role,
		Pin:            arg.Pin,
		IsActive:       true,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	m.users[u.ID] = u
	m.byEmail[u.Email] = u.ID
	if u.Pin.Valid {
		m.byPin[u.Pin.String] = u.ID
	}
	return u, nil
}

func (m *mockUserStore) DeactivateUser(_ context.Context, id uuid.UUID) (uuid.UUID, error) {
	u, ok := m.users[id]
	if !ok || !u.IsActive {
		return uuid.Nil, pgx.ErrNoRows
	}
	u.IsActive = false
	m.users[id] = u
	return id, nil
}

func setupUserRouter(store *mockUserStore) chi.Router {
	h := handler.NewUserHandler(store)
	r := chi.NewRouter()
	r.Use(middleware.Authenticate(testSecret))
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(enum.UserRoleAdmin, enum.UserRoleManager))
		r.Route("/users", h.RegisterRoutes)
	})
	return r
}

func TestCreateUser_DriverWithPin(t *testing.T) {
	store := newMockUserStore()
	r := setupUserRouter(store)

	rr := doAuthRequest(t, r, "POST", "/users", map[string]interface{}{
		"email":     "driver@example.com",
		"password":  "password123",
		"full_name": "Pat Driver",
		"role":      "DRIVER",
		"pin":       "4321",
	}, makeTestClaims(enum.UserRoleAdmin))

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["role"] != "DRIVER" || resp["pin"] != "4321" {
		t.Errorf("role/pin: got %v / %v", resp["role"], resp["pin"])
	}
}

func TestCreateUser_InvalidRole(t *testing.T) {
	store := newMockUserStore()
	r := setupUserRouter(store)

	rr := doAuthRequest(t, r, "POST", "/users", map[string]interface{}{
		"email":     "x@example.com",
		"password":  "password123",
		"full_name": "X",
		"role":      "SUPERVISOR",
	}, makeTestClaims(enum.UserRoleAdmin))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestCreateUser_BadPin(t *testing.T) {
	store := newMockUserStore()
	r := setupUserRouter(store)

	rr := doAuthRequest(t, r, "POST", "/users", map[string]interface{}{
		"email":     "x@example.com",
		"password":  "password123",
		"full_name": "X",
		"role":      "DRIVER",
		"pin":       "12ab",
	}, makeTestClaims(enum.UserRoleAdmin))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestCreateUser_DuplicateEmailConflict(t *testing.T) {
	store := newMockUserStore()
	r := setupUserRouter(store)
	claims := makeTestClaims(enum.UserRoleAdmin)

	body := map[string]interface{}{
		"email":     "office@example.com",
		"password":  "password123",
		"full_name": "Office One",
		"role":      "OFFICE",
	}
	if rr := doAuthRequest(t, r, "POST", "/users", body, claims); rr.Code != http.StatusCreated {
		t.Fatalf("first create: got %d", rr.Code)
	}
	rr := doAuthRequest(t, r, "POST", "/users", body, claims)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestCreateUser_OfficeRoleForbidden(t *testing.T) {
	store := newMockUserStore()
	r := setupUserRouter(store)

	rr := doAuthRequest(t, r, "POST", "/users", map[string]interface{}{
		"email":     "x@example.com",
		"password":  "password123",
		"full_name": "X",
		"role":      "OFFICE",
	}, makeTestClaims(enum.UserRoleOffice))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusForbidden)
	}
}

func TestDeleteUser_SoftDeletesAndHidesFromList(t *testing.T) {
	store := newMockUserStore()
	r := setupUserRouter(store)
	claims := makeTestClaims(enum.UserRoleAdmin)

	u, err := store.CreateUser(context.Background(), database.CreateUserParams{
		Email:          "gone@example.com",
		HashedPassword: "irrelevant",
		FullName:       "Soon Gone",
		Role:           enum.UserRoleOffice,
		Pin:            pgtype.Text{},
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	rr := doAuthRequest(t, r, "DELETE", "/users/"+u.ID.String(), nil, claims)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status: got %d, want %d", rr.Code, http.StatusNoContent)
	}

	rr = doAuthRequest(t, r, "GET", "/users", nil, claims)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status: got %d", rr.Code)
	}
	for _, row := range decodeListResponse(t, rr) {
		if row["email"] == "gone@example.com" {
			t.Errorf("deactivated user still listed")
		}
	}
}

func TestDeleteUser_NotFound(t *testing.T) {
	store := newMockUserStore()
	r := setupUserRouter(store)

	rr := doAuthRequest(t, r, "DELETE", "/users/"+uuid.NewString(), nil, makeTestClaims(enum.UserRoleAdmin))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}
