package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/routebooks/api/internal/database"
	"github.com/routebooks/api/internal/middleware"
	"github.com/routebooks/api/internal/reconcile"
	"github.com/routebooks/api/internal/service"
	"github.com/routebooks/api/internal/ws"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ReconciliationStore defines the database methods needed by the
// reconciliation handlers. Satisfied by *database.Queries.
type ReconciliationStore interface {
	GetSummary(ctx context.Context, id uuid.UUID) (database.DriverSummary, error)
	GetSummaryForUpdate(ctx context.Context, id uuid.UUID) (database.DriverSummary, error)
	FinalizeSummary(ctx context.Context, arg database.FinalizeSummaryParams) (database.DriverSummary, error)
	UnlockSummary(ctx context.Context, arg database.UnlockSummaryParams) (database.DriverSummary, error)

	GetLoadingBatchBySummary(ctx context.Context, summaryID uuid.UUID) (database.LoadingBatch, error)
	ListLoadingItems(ctx context.Context, batchID uuid.UUID) ([]database.ListLoadingItemsRow, error)
	GetReturnBatchBySummary(ctx context.Context, summaryID uuid.UUID) (database.ReturnBatch, error)
	ListReturnItems(ctx context.Context, batchID uuid.UUID) ([]database.ListReturnItemsRow, error)
	ListSalesBySummary(ctx context.Context, summaryID uuid.UUID) ([]database.Sale, error)
	ListSaleItemsBySummary(ctx context.Context, summaryID uuid.UUID) ([]database.ListSaleItemsBySummaryRow, error)
}

// NewReconciliationStore creates a ReconciliationStore from a DBTX (pool or tx).
type NewReconciliationStore func(db database.DBTX) ReconciliationStore

// ReconciliationHandler computes the reconciliation view and drives the
// finalize / unlock lifecycle of a driver-day summary.
type ReconciliationHandler struct {
	store    ReconciliationStore
	pool     service.TxBeginner
	newStore NewReconciliationStore
	hub      *ws.Hub
}

// NewReconciliationHandler creates a new ReconciliationHandler.
func NewReconciliationHandler(store ReconciliationStore, pool service.TxBeginner, newStore NewReconciliationStore, hub *ws.Hub) *ReconciliationHandler {
	return &ReconciliationHandler{store: store, pool: pool, newStore: newStore, hub: hub}
}

// RegisterRoutes registers reconciliation endpoints on the given Chi router.
// Expected to be mounted at /summaries/{sid}.
func (h *ReconciliationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/reconciliation", h.GetView)
	r.Put("/reconciliation", h.Finalize)
	r.Post("/unlock", h.Unlock)
}

// --- Request / Response types ---

type finalizeRequest struct {
	CashCollected   string `json:"cash_collected"`
	Status          string `json:"status,omitempty"`
	Notes           string `json:"notes,omitempty"`
	ExpectedVersion *int32 `json:"expected_version,omitempty"`
}

type reconciliationRowResponse struct {
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	Loaded      int32     `json:"loaded"`
	Sold        int32     `json:"sold"`
	Returned    int32     `json:"returned"`
	Loss        int32     `json:"loss"`
	Anomalous   bool      `json:"anomalous"`
}

type reconciliationTotalsResponse struct {
	CashSales   string `json:"cash_sales"`
	CreditSales string `json:"credit_sales"`
	OtherSales  string `json:"other_sales"`
	TotalSales  string `json:"total_sales"`
}

type reconciliationViewResponse struct {
	Summary summaryResponse              `json:"summary"`
	Totals  reconciliationTotalsResponse `json:"totals"`
	Rows    []reconciliationRowResponse  `json:"rows"`
}

// --- Handlers ---

// GetView returns the computed reconciliation view: live sales totals and
// per-product loaded/sold/returned/loss rows. The three source logs are
// fetched concurrently; if any fetch fails the whole view fails, so the
// caller never reconciles against partial data.
func (h *ReconciliationHandler) GetView(w http.ResponseWriter, r *http.Request) {
	summaryID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid summary ID"})
		return
	}

	summary, err := h.store.GetSummary(r.Context(), summaryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "summary not found"})
			return
		}
		log.Printf("ERROR: get summary: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	var (
		loaded   []reconcile.LoadedItem
		returned []reconcile.ReturnedItem
		sales    []reconcile.SaleInput
	)

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		loaded, err = h.fetchLoaded(ctx, summaryID)
		return err
	})
	g.Go(func() error {
		var err error
		returned, err = h.fetchReturned(ctx, summaryID)
		return err
	})
	g.Go(func() error {
		var err error
		sales, err = h.fetchSales(ctx, summaryID)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Printf("ERROR: fetch reconciliation sources: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	agg := reconcile.Aggregate(loaded, sales, returned)
	writeJSON(w, http.StatusOK, toViewResponse(summary, agg))
}

// Finalize recomputes the day's totals from the source logs, records the
// collected cash and the resulting difference, and stamps the terminal
// status. It runs under the summary row lock so concurrent finalizations
// serialize, and re-locks the day by clearing any unlock marker.
func (h *ReconciliationHandler) Finalize(w http.ResponseWriter, r *http.Request) {
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

	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.CashCollected == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cash_collected is required"})
		return
	}
	cashCollected, err := decimal.NewFromString(req.CashCollected)
	if err != nil || cashCollected.IsNegative() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cash_collected must be a non-negative decimal"})
		return
	}
	if req.Status != "" && !reconcile.IsValidStatus(req.Status) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid reconciliation status"})
		return
	}

	// Begin transaction BEFORE reading summary state to prevent TOCTOU races.
	tx, err := h.pool.Begin(r.Context())
	if err != nil {
		log.Printf("ERROR: begin transaction: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	defer tx.Rollback(r.Context())

	store := h.newStore(tx)

	summary, err := store.GetSummaryForUpdate(r.Context(), summaryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "summary not found"})
			return
		}
		log.Printf("ERROR: get summary: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if req.ExpectedVersion != nil && *req.ExpectedVersion != summary.Version {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "summary was modified by someone else"})
		return
	}

	// Re-finalizing an already-locked day is reserved for privileged roles,
	// unless the day has been explicitly unlocked first.
	if reconcile.Locked(summary.ReconciliationStatus) && !summary.UnlockedAt.Valid && !reconcile.PrivilegedRole(claims.Role) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "summary is locked"})
		return
	}

	loaded, err := fetchLoadedFrom(r.Context(), store, summaryID)
	if err != nil {
		log.Printf("ERROR: fetch loading items: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	returned, err := fetchReturnedFrom(r.Context(), store, summaryID)
	if err != nil {
		log.Printf("ERROR: fetch return items: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	sales, err := fetchSalesFrom(r.Context(), store, summaryID)
	if err != nil {
		log.Printf("ERROR: fetch sales: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	agg := reconcile.Aggregate(loaded, sales, returned)
	difference := cashCollected.Sub(agg.Totals.Cash)

	status := req.Status
	if status == "" {
		status = reconcile.SuggestStatus(difference)
	}
	if err := reconcile.ValidateTransition(summary.ReconciliationStatus, status); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	var notes pgtype.Text
	if req.Notes != "" {
		notes = pgtype.Text{String: req.Notes, Valid: true}
	}

	finalized, err := store.FinalizeSummary(r.Context(), database.FinalizeSummaryParams{
		ID:                   summaryID,
		TotalCashSales:       decimalToNumeric(agg.Totals.Cash),
		TotalCreditSales:     decimalToNumeric(agg.Totals.Credit),
		TotalOtherSales:      decimalToNumeric(agg.Totals.Other),
		CashCollected:        decimalToNumeric(cashCollected),
		CashDifference:       decimalToNumeric(difference),
		ReconciliationStatus: status,
		ReconciliationNotes:  notes,
	})
	if err != nil {
		log.Printf("ERROR: finalize summary: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if err := tx.Commit(r.Context()); err != nil {
		log.Printf("ERROR: commit transaction: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	h.notify(finalized.DriverID, ws.EventSummaryFinalized, map[string]interface{}{
		"summary_id": finalized.ID,
		"status":     finalized.ReconciliationStatus,
		"version":    finalized.Version,
	})

	writeJSON(w, http.StatusOK, toViewResponse(finalized, agg))
}

// Unlock re-enables editing of a finalized day without reverting its status.
func (h *ReconciliationHandler) Unlock(w http.ResponseWriter, r *http.Request) {
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
	if !reconcile.PrivilegedRole(claims.Role) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "insufficient permissions"})
		return
	}

	tx, err := h.pool.Begin(r.Context())
	if err != nil {
		log.Printf("ERROR: begin transaction: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	defer tx.Rollback(r.Context())

	store := h.newStore(tx)

	summary, err := store.GetSummaryForUpdate(r.Context(), summaryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "summary not found"})
			return
		}
		log.Printf("ERROR: get summary: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if !reconcile.Locked(summary.ReconciliationStatus) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "summary is not locked"})
		return
	}
	if summary.UnlockedAt.Valid {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "summary is already unlocked"})
		return
	}

	unlocked, err := store.UnlockSummary(r.Context(), database.UnlockSummaryParams{
		ID:         summaryID,
		UnlockedBy: claims.UserID,
	})
	if err != nil {
		log.Printf("ERROR: unlock summary: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if err := tx.Commit(r.Context()); err != nil {
		log.Printf("ERROR: commit transaction: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	h.notify(unlocked.DriverID, ws.EventSummaryUnlocked, map[string]interface{}{
		"summary_id":  unlocked.ID,
		"unlocked_by": claims.UserID,
		"version":     unlocked.Version,
	})

	writeJSON(w, http.StatusOK, toSummaryResponse(unlocked))
}

// --- Source log fetchers ---

func (h *ReconciliationHandler) fetchLoaded(ctx context.Context, summaryID uuid.UUID) ([]reconcile.LoadedItem, error) {
	return fetchLoadedFrom(ctx, h.store, summaryID)
}

func (h *ReconciliationHandler) fetchReturned(ctx context.Context, summaryID uuid.UUID) ([]reconcile.ReturnedItem, error) {
	return fetchReturnedFrom(ctx, h.store, summaryID)
}

func (h *ReconciliationHandler) fetchSales(ctx context.Context, summaryID uuid.UUID) ([]reconcile.SaleInput, error) {
	return fetchSalesFrom(ctx, h.store, summaryID)
}

// A missing batch means nothing was declared yet; the aggregator treats
// that the same as an empty batch.
func fetchLoadedFrom(ctx context.Context, store ReconciliationStore, summaryID uuid.UUID) ([]reconcile.LoadedItem, error) {
	batch, err := store.GetLoadingBatchBySummary(ctx, summaryID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rows, err := store.ListLoadingItems(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	loaded := make([]reconcile.LoadedItem, len(rows))
	for i, row := range rows {
		loaded[i] = reconcile.LoadedItem{
			ProductID:   row.ProductID,
			ProductName: row.ProductName,
			Quantity:    row.QuantityLoaded,
		}
	}
	return loaded, nil
}

func fetchReturnedFrom(ctx context.Context, store ReconciliationStore, summaryID uuid.UUID) ([]reconcile.ReturnedItem, error) {
	batch, err := store.GetReturnBatchBySummary(ctx, summaryID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rows, err := store.ListReturnItems(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	returned := make([]reconcile.ReturnedItem, len(rows))
	for i, row := range rows {
		returned[i] = reconcile.ReturnedItem{
			ProductID:   row.ProductID,
			ProductName: row.ProductName,
			Quantity:    row.QuantityReturned,
		}
	}
	return returned, nil
}

func fetchSalesFrom(ctx context.Context, store ReconciliationStore, summaryID uuid.UUID) ([]reconcile.SaleInput, error) {
	saleRows, err := store.ListSalesBySummary(ctx, summaryID)
	if err != nil {
		return nil, err
	}
	itemRows, err := store.ListSaleItemsBySummary(ctx, summaryID)
	if err != nil {
		return nil, err
	}
	linesBySale := make(map[uuid.UUID][]reconcile.SaleLine, len(saleRows))
	for _, row := range itemRows {
		linesBySale[row.SaleID] = append(linesBySale[row.SaleID], reconcile.SaleLine{
			ProductID:   row.ProductID,
			ProductName: row.ProductName,
			Quantity:    row.Quantity,
			UnitPrice:   numericToDecimal(row.UnitPrice),
		})
	}
	sales := make([]reconcile.SaleInput, len(saleRows))
	for i, s := range saleRows {
		sales[i] = reconcile.SaleInput{
			PaymentType: s.PaymentType,
			Lines:       linesBySale[s.ID],
		}
	}
	return sales, nil
}

// --- Helpers ---

func toViewResponse(summary database.DriverSummary, agg reconcile.Summary) reconciliationViewResponse {
	rows := make([]reconciliationRowResponse, len(agg.Rows))
	for i, row := range agg.Rows {
		rows[i] = reconciliationRowResponse{
			ProductID:   row.ProductID,
			ProductName: row.ProductName,
			Loaded:      row.Loaded,
			Sold:        row.Sold,
			Returned:    row.Returned,
			Loss:        row.Loss,
			Anomalous:   row.Anomalous,
		}
	}
	total := agg.Totals.Cash.Add(agg.Totals.Credit).Add(agg.Totals.Other)
	return reconciliationViewResponse{
		Summary: toSummaryResponse(summary),
		Totals: reconciliationTotalsResponse{
			CashSales:   agg.Totals.Cash.StringFixed(2),
			CreditSales: agg.Totals.Credit.StringFixed(2),
			OtherSales:  agg.Totals.Other.StringFixed(2),
			TotalSales:  total.StringFixed(2),
		},
		Rows: rows,
	}
}

func (h *ReconciliationHandler) notify(driverID uuid.UUID, eventType string, payload interface{}) {
	if h.hub == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ERROR: marshal %s event: %v", eventType, err)
		return
	}
	h.hub.BroadcastToDriver(driverID, ws.Event{Type: eventType, Payload: raw})
}
