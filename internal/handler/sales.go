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
	"github.com/routebooks/api/internal/middleware"
	"github.com/routebooks/api/internal/service"
	"github.com/routebooks/api/internal/ws"
)

// SaleReadStore defines the read-side database methods for sale handlers.
// All writes go through the SalesService. Satisfied by *database.Queries.
type SaleReadStore interface {
	GetSummary(ctx context.Context, id uuid.UUID) (database.DriverSummary, error)
	ListSalesBySummary(ctx context.Context, summaryID uuid.UUID) ([]database.Sale, error)
	ListSaleItemsBySummary(ctx context.Context, summaryID uuid.UUID) ([]database.ListSaleItemsBySummaryRow, error)
}

// SaleHandler handles the sales log of a driver-day: the batch grid commit,
// the single-sale editor, and the list view.
type SaleHandler struct {
	store   SaleReadStore
	service *service.SalesService
	hub     *ws.Hub
}

// NewSaleHandler creates a new SaleHandler.
func NewSaleHandler(store SaleReadStore, svc *service.SalesService, hub *ws.Hub) *SaleHandler {
	return &SaleHandler{store: store, service: svc, hub: hub}
}

// RegisterRoutes registers sale endpoints on the given Chi router.
// Expected to be mounted at /summaries/{sid}/sales.
func (h *SaleHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/batch", h.CommitBatch)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}

// --- Request / Response types ---

type saleLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	UnitPrice string `json:"unit_price,omitempty"`
}

type saleRequest struct {
	CustomerID   string            `json:"customer_id,omitempty"`
	CustomerName string            `json:"customer_name,omitempty"`
	PaymentType  string            `json:"payment_type"`
	Notes        string            `json:"notes,omitempty"`
	Lines        []saleLineRequest `json:"lines"`
}

type commitBatchRequest struct {
	Rows []saleRequest `json:"rows"`
}

type saleLineResponse struct {
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name,omitempty"`
	Quantity    int32     `json:"quantity"`
	UnitPrice   string    `json:"unit_price"`
}

type saleResponse struct {
	ID           uuid.UUID          `json:"id"`
	SummaryID    uuid.UUID          `json:"summary_id"`
	CustomerID   *uuid.UUID         `json:"customer_id,omitempty"`
	CustomerName *string            `json:"customer_name,omitempty"`
	PaymentType  string             `json:"payment_type"`
	Notes        *string            `json:"notes,omitempty"`
	Total        string             `json:"total"`
	Lines        []saleLineResponse `json:"lines"`
	CreatedBy    uuid.UUID          `json:"created_by"`
	CreatedAt    time.Time          `json:"created_at"`
}

func toSaleResponse(s database.Sale, lines []saleLineResponse) saleResponse {
	resp := saleResponse{
		ID:          s.ID,
		SummaryID:   s.SummaryID,
		PaymentType: s.PaymentType,
		Total:       numericToString(s.Total),
		Lines:       lines,
		CreatedBy:   s.CreatedBy,
		CreatedAt:   s.CreatedAt,
	}
	if s.CustomerID.Valid {
		id := uuid.UUID(s.CustomerID.Bytes)
		resp.CustomerID = &id
	}
	if s.CustomerName.Valid {
		resp.CustomerName = &s.CustomerName.String
	}
	if s.Notes.Valid {
		resp.Notes = &s.Notes.String
	}
	return resp
}

func toServiceRequest(req saleRequest) service.SaleRequest {
	out := service.SaleRequest{
		CustomerID:   req.CustomerID,
		CustomerName: req.CustomerName,
		PaymentType:  req.PaymentType,
		Notes:        req.Notes,
		Lines:        make([]service.SaleLineRequest, len(req.Lines)),
	}
	for i, line := range req.Lines {
		out.Lines[i] = service.SaleLineRequest{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		}
	}
	return out
}

func resultLines(items []database.SaleItem) []saleLineResponse {
	lines := make([]saleLineResponse, len(items))
	for i, item := range items {
		lines[i] = saleLineResponse{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: numericToString(item.UnitPrice),
		}
	}
	return lines
}

// --- Handlers ---

// List returns every sale of the summary with its line items, in entry order.
func (h *SaleHandler) List(w http.ResponseWriter, r *http.Request) {
	summaryID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid summary ID"})
		return
	}

	if _, err := h.store.GetSummary(r.Context(), summaryID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "summary not found"})
			return
		}
		log.Printf("ERROR: get summary: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	sales, err := h.store.ListSalesBySummary(r.Context(), summaryID)
	if err != nil {
		log.Printf("ERROR: list sales: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	itemRows, err := h.store.ListSaleItemsBySummary(r.Context(), summaryID)
	if err != nil {
		log.Printf("ERROR: list sale items: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	linesBySale := make(map[uuid.UUID][]saleLineResponse, len(sales))
	for _, row := range itemRows {
		linesBySale[row.SaleID] = append(linesBySale[row.SaleID], saleLineResponse{
			ProductID:   row.ProductID,
			ProductName: row.ProductName,
			Quantity:    row.Quantity,
			UnitPrice:   numericToString(row.UnitPrice),
		})
	}

	resp := make([]saleResponse, len(sales))
	for i, s := range sales {
		lines := linesBySale[s.ID]
		if lines == nil {
			lines = []saleLineResponse{}
		}
		resp[i] = toSaleResponse(s, lines)
	}

	writeJSON(w, http.StatusOK, resp)
}

// CommitBatch submits the whole sales grid in one transaction.
func (h *SaleHandler) CommitBatch(w http.ResponseWriter, r *http.Request) {
	summaryID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid summary ID"})
		return
	}

	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req commitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	rows := make([]service.SaleRequest, len(req.Rows))
	for i, row := range req.Rows {
		rows[i] = toServiceRequest(row)
	}

	results, err := h.service.CommitBatch(r.Context(), summaryID, claims.UserID, rows)
	if err != nil {
		h.writeSaleError(w, err, "commit sales batch")
		return
	}

	resp := make([]saleResponse, len(results))
	for i, res := range results {
		resp[i] = toSaleResponse(res.Sale, resultLines(res.Items))
	}

	h.notify(r.Context(), summaryID, ws.EventSalesCommitted, map[string]interface{}{
		"summary_id": summaryID,
		"sale_count": len(results),
	})

	writeJSON(w, http.StatusCreated, resp)
}

// Create stores a single sale entered through the editor.
func (h *SaleHandler) Create(w http.ResponseWriter, r *http.Request) {
	summaryID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid summary ID"})
		return
	}

	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req saleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	res, err := h.service.CreateSale(r.Context(), summaryID, claims.UserID, toServiceRequest(req))
	if err != nil {
		h.writeSaleError(w, err, "create sale")
		return
	}

	writeJSON(w, http.StatusCreated, toSaleResponse(res.Sale, resultLines(res.Items)))
}

// Update rewrites a sale in place.
func (h *SaleHandler) Update(w http.ResponseWriter, r *http.Request) {
	summaryID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid summary ID"})
		return
	}

	saleID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid sale ID"})
		return
	}

	var req saleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	res, err := h.service.UpdateSale(r.Context(), summaryID, saleID, toServiceRequest(req))
	if err != nil {
		h.writeSaleError(w, err, "update sale")
		return
	}

	writeJSON(w, http.StatusOK, toSaleResponse(res.Sale, resultLines(res.Items)))
}

// Delete removes a sale and its line items.
func (h *SaleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	summaryID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid summary ID"})
		return
	}

	saleID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid sale ID"})
		return
	}

	if err := h.service.DeleteSale(r.Context(), summaryID, saleID); err != nil {
		h.writeSaleError(w, err, "delete sale")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

// writeSaleError maps service errors to HTTP status codes.
func (h *SaleHandler) writeSaleError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, service.ErrSummaryNotFound),
		errors.Is(err, service.ErrSaleNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrSummaryLocked):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case isSaleValidationError(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		log.Printf("ERROR: %s: %v", op, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func isSaleValidationError(err error) bool {
	validationErrors := []error{
		service.ErrEmptyBatch,
		service.ErrEmptyLines,
		service.ErrInvalidQuantity,
		service.ErrInvalidUnitPrice,
		service.ErrInvalidPaymentType,
		service.ErrCustomerIdentity,
		service.ErrDuplicateProduct,
		service.ErrInvalidProductID,
		service.ErrInvalidCustomerID,
		service.ErrProductNotFound,
		service.ErrCustomerNotFound,
	}
	for _, e := range validationErrors {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// notify broadcasts an event to the summary's driver room. Failure to
// resolve the driver only costs the notification, never the request.
func (h *SaleHandler) notify(ctx context.Context, summaryID uuid.UUID, eventType string, payload interface{}) {
	if h.hub == nil {
		return
	}
	summary, err := h.store.GetSummary(ctx, summaryID)
	if err != nil {
		log.Printf("ERROR: resolve driver for %s event: %v", eventType, err)
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ERROR: marshal %s event: %v", eventType, err)
		return
	}
	h.hub.BroadcastToDriver(summary.DriverID, ws.Event{Type: eventType, Payload: raw})
}
