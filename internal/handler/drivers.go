package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/routebooks/api/internal/database"
)

// DriverStore defines the database methods needed by driver handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type DriverStore interface {
	ListDrivers(ctx context.Context) ([]database.Driver, error)
	GetDriver(ctx context.Context, id uuid.UUID) (database.Driver, error)
	CreateDriver(ctx context.Context, arg database.CreateDriverParams) (database.Driver, error)
}

// DriverHandler handles driver CRUD endpoints.
type DriverHandler struct {
	store DriverStore
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(store DriverStore) *DriverHandler {
	return &DriverHandler{store: store}
}

// RegisterRoutes registers driver endpoints on the given Chi router.
// Expected to be mounted at /drivers.
func (h *DriverHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
}

// --- Request / Response types ---

type createDriverRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type driverResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toDriverResponse(d database.Driver) driverResponse {
	return driverResponse{
		ID:        d.ID,
		Name:      d.Name,
		Phone:     d.Phone,
		IsActive:  d.IsActive,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// --- Handlers ---

// List returns all active drivers.
func (h *DriverHandler) List(w http.ResponseWriter, r *http.Request) {
	drivers, err := h.store.ListDrivers(r.Context())
	if err != nil {
		log.Printf("ERROR: list drivers: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]driverResponse, len(drivers))
	for i, d := range drivers {
		resp[i] = toDriverResponse(d)
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get returns a single driver by ID.
func (h *DriverHandler) Get(w http.ResponseWriter, r *http.Request) {
	driverID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid driver ID"})
		return
	}

	driver, err := h.store.GetDriver(r.Context(), driverID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "driver not found"})
			return
		}
		log.Printf("ERROR: get driver: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, toDriverResponse(driver))
}

// Create adds a new driver.
func (h *DriverHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createDriverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	driver, err := h.store.CreateDriver(r.Context(), database.CreateDriverParams{
		Name:  req.Name,
		Phone: req.Phone,
	})
	if err != nil {
		log.Printf("ERROR: create driver: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusCreated, toDriverResponse(driver))
}
