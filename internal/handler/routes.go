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
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/routebooks/api/internal/database"
	"github.com/routebooks/api/internal/service"
)

// RouteStore defines the database methods needed by route handlers beyond
// what the sequencer owns. Satisfied by *database.Queries.
type RouteStore interface {
	GetRoute(ctx context.Context, id uuid.UUID) (database.Route, error)
	CreateRoute(ctx context.Context, arg database.CreateRouteParams) (database.Route, error)
	ListRouteCustomers(ctx context.Context, routeID uuid.UUID) ([]database.ListRouteCustomersRow, error)
}

// RouteHandler handles routes and their ordered customer sequences. All
// sequence mutations go through the Sequencer so debounced reorders and
// membership changes stay consistent.
type RouteHandler struct {
	store     RouteStore
	sequencer *service.Sequencer
}

// NewRouteHandler creates a new RouteHandler.
func NewRouteHandler(store RouteStore, sequencer *service.Sequencer) *RouteHandler {
	return &RouteHandler{store: store, sequencer: sequencer}
}

// RegisterRoutes registers route endpoints on the given Chi router.
// Expected to be mounted at /routes.
func (h *RouteHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Route("/{rid}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Get("/customers", h.ListCustomers)
		r.Post("/customers", h.AddCustomer)
		r.Delete("/customers/{cid}", h.RemoveCustomer)
		r.Put("/customers/order", h.Reorder)
	})
}

// --- Request / Response types ---

type createRouteRequest struct {
	Name     string `json:"name"`
	DriverID string `json:"driver_id"`
}

type routeResponse struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	DriverID  *uuid.UUID `json:"driver_id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type addRouteCustomerRequest struct {
	CustomerID string `json:"customer_id"`
}

type reorderRequest struct {
	CustomerIDs []string `json:"customer_ids"`
}

type routeCustomerResponse struct {
	CustomerID   uuid.UUID `json:"customer_id"`
	CustomerName string    `json:"customer_name"`
	Phone        string    `json:"phone"`
	Position     int32     `json:"position"`
}

type routeOrderResponse struct {
	CustomerIDs []uuid.UUID `json:"customer_ids"`
}

func toRouteResponse(rt database.Route) routeResponse {
	resp := routeResponse{
		ID:        rt.ID,
		Name:      rt.Name,
		CreatedAt: rt.CreatedAt,
		UpdatedAt: rt.UpdatedAt,
	}
	if rt.DriverID.Valid {
		id := uuid.UUID(rt.DriverID.Bytes)
		resp.DriverID = &id
	}
	return resp
}

// --- Handlers ---

// Create adds a new route, optionally assigned to a driver.
func (h *RouteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	var driverID pgtype.UUID
	if req.DriverID != "" {
		id, err := uuid.Parse(req.DriverID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid driver_id"})
			return
		}
		driverID = pgtype.UUID{Bytes: id, Valid: true}
	}

	route, err := h.store.CreateRoute(r.Context(), database.CreateRouteParams{
		Name:     req.Name,
		DriverID: driverID,
	})
	if err != nil {
		if isUniqueViolation(err) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "driver already has a route"})
			return
		}
		log.Printf("ERROR: create route: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusCreated, toRouteResponse(route))
}

// Get returns a single route by ID.
func (h *RouteHandler) Get(w http.ResponseWriter, r *http.Request) {
	routeID, err := uuid.Parse(chi.URLParam(r, "rid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid route ID"})
		return
	}

	route, err := h.store.GetRoute(r.Context(), routeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "route not found"})
			return
		}
		log.Printf("ERROR: get route: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, toRouteResponse(route))
}

// ListCustomers returns the route's customers in visit order. A reorder
// still waiting out its debounce window is flushed first so the response
// and the persisted sequence agree.
func (h *RouteHandler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	routeID, err := uuid.Parse(chi.URLParam(r, "rid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid route ID"})
		return
	}

	if _, err := h.store.GetRoute(r.Context(), routeID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "route not found"})
			return
		}
		log.Printf("ERROR: get route: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if err := h.sequencer.Flush(r.Context(), routeID); err != nil {
		log.Printf("ERROR: flush route order: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	rows, err := h.store.ListRouteCustomers(r.Context(), routeID)
	if err != nil {
		log.Printf("ERROR: list route customers: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]routeCustomerResponse, len(rows))
	for i, row := range rows {
		resp[i] = routeCustomerResponse{
			CustomerID:   row.CustomerID,
			CustomerName: row.CustomerName,
			Phone:        row.Phone,
			Position:     row.Position,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// AddCustomer appends a customer to the end of the route.
func (h *RouteHandler) AddCustomer(w http.ResponseWriter, r *http.Request) {
	routeID, err := uuid.Parse(chi.URLParam(r, "rid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid route ID"})
		return
	}

	var req addRouteCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid customer_id"})
		return
	}

	order, err := h.sequencer.Add(r.Context(), routeID, customerID)
	if err != nil {
		if isForeignKeyViolation(err) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "route or customer not found"})
			return
		}
		log.Printf("ERROR: add route customer: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, routeOrderResponse{CustomerIDs: order})
}

// RemoveCustomer takes a customer off the route.
func (h *RouteHandler) RemoveCustomer(w http.ResponseWriter, r *http.Request) {
	routeID, err := uuid.Parse(chi.URLParam(r, "rid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid route ID"})
		return
	}

	customerID, err := uuid.Parse(chi.URLParam(r, "cid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid customer ID"})
		return
	}

	order, err := h.sequencer.Remove(r.Context(), routeID, customerID)
	if err != nil {
		if errors.Is(err, service.ErrCustomerNotOnRoute) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "customer is not on the route"})
			return
		}
		log.Printf("ERROR: remove route customer: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, routeOrderResponse{CustomerIDs: order})
}

// Reorder schedules a new visit order for the route. The write is debounced;
// the response reflects the accepted order immediately.
func (h *RouteHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	routeID, err := uuid.Parse(chi.URLParam(r, "rid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid route ID"})
		return
	}

	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	newOrder := make([]uuid.UUID, len(req.CustomerIDs))
	for i, s := range req.CustomerIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid customer ID in order"})
			return
		}
		newOrder[i] = id
	}

	order, err := h.sequencer.Reorder(r.Context(), routeID, newOrder)
	if err != nil {
		if errors.Is(err, service.ErrOrderMismatch) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "order must be a permutation of the route's current customers"})
			return
		}
		log.Printf("ERROR: reorder route: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, routeOrderResponse{CustomerIDs: order})
}
