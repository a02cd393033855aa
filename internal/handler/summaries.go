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
	"github.com/routebooks/api/internal/enum"
	"github.com/routebooks/api/internal/middleware"
	"github.com/routebooks/api/internal/reconcile"
	"github.com/routebooks/api/internal/service"
)

// SummaryStore defines the database methods needed by summary handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type SummaryStore interface {
	GetDriver(ctx context.Context, id uuid.UUID) (database.Driver, error)
	GetSummary(ctx context.Context, id uuid.UUID) (database.DriverSummary, error)
	GetSummaryForUpdate(ctx context.Context, id uuid.UUID) (database.DriverSummary, error)
	GetSummaryByDriverDate(ctx context.Context, arg database.GetSummaryByDriverDateParams) (database.DriverSummary, error)
	CreateSummary(ctx context.Context, arg database.CreateSummaryParams) (database.DriverSummary, error)
	TouchSummary(ctx context.Context, id uuid.UUID) error

	GetLoadingBatchBySummary(ctx context.Context, summaryID uuid.UUID) (database.LoadingBatch, error)
	CreateLoadingBatch(ctx context.Context, arg database.CreateLoadingBatchParams) (database.LoadingBatch, error)
	ListLoadingItems(ctx context.Context, batchID uuid.UUID) ([]database.ListLoadingItemsRow, error)
	DeleteLoadingItems(ctx context.Context, batchID uuid.UUID) error
	CreateLoadingItem(ctx context.Context, arg database.CreateLoadingItemParams) error
	TouchLoadingBatch(ctx context.Context, batchID uuid.UUID) error

	GetReturnBatchBySummary(ctx context.Context, summaryID uuid.UUID) (database.ReturnBatch, error)
	CreateReturnBatch(ctx context.Context, arg database.CreateReturnBatchParams) (database.ReturnBatch, error)
	ListReturnItems(ctx context.Context, batchID uuid.UUID) ([]database.ListReturnItemsRow, error)
	DeleteReturnItems(ctx context.Context, batchID uuid.UUID) error
	CreateReturnItem(ctx context.Context, arg database.CreateReturnItemParams) error
	TouchReturnBatch(ctx context.Context, batchID uuid.UUID) error
}

// NewSummaryStore creates a SummaryStore from a DBTX (pool or tx).
type NewSummaryStore func(db database.DBTX) SummaryStore

// SummaryHandler handles driver-day summaries and their loading and return
// batches. Item replacement runs in a transaction holding the summary row
// lock, so concurrent edits serialize instead of interleaving.
type SummaryHandler struct {
	store    SummaryStore
	pool     service.TxBeginner
	newStore NewSummaryStore
}

// NewSummaryHandler creates a new SummaryHandler.
func NewSummaryHandler(store SummaryStore, pool service.TxBeginner, newStore NewSummaryStore) *SummaryHandler {
	return &SummaryHandler{store: store, pool: pool, newStore: newStore}
}

// RegisterDriverRoutes registers the driver-scoped summary endpoint.
// Expected to be mounted at /drivers/{did}.
func (h *SummaryHandler) RegisterDriverRoutes(r chi.Router) {
	r.Get("/summaries", h.GetOrCreate)
}

// RegisterRoutes registers summary-scoped endpoints.
// Expected to be mounted at /summaries/{sid}.
func (h *SummaryHandler) RegisterRoutes(r chi.Router) {
	r.Get("/loading", h.GetLoading)
	r.Put("/loading", h.PutLoading)
	r.Get("/returns", h.GetReturns)
	r.Put("/returns", h.PutReturns)
}

// --- Request / Response types ---

type batchItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	Reason    string `json:"reason,omitempty"`
}

type putBatchRequest struct {
	Items []batchItemRequest `json:"items"`
}

type batchItemResponse struct {
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int32     `json:"quantity"`
	Reason      *string   `json:"reason,omitempty"`
}

type batchResponse struct {
	BatchID uuid.UUID           `json:"batch_id"`
	Items   []batchItemResponse `json:"items"`
}

type summaryResponse struct {
	ID                   uuid.UUID  `json:"id"`
	DriverID             uuid.UUID  `json:"driver_id"`
	SummaryDate          string     `json:"summary_date"`
	TotalCashSales       string     `json:"total_cash_sales"`
	TotalCreditSales     string     `json:"total_credit_sales"`
	TotalOtherSales      string     `json:"total_other_sales"`
	CashCollected        string     `json:"cash_collected"`
	CashDifference       string     `json:"cash_difference"`
	ReconciliationStatus string     `json:"reconciliation_status"`
	ReconciliationNotes  *string    `json:"reconciliation_notes"`
	Unlocked             bool       `json:"unlocked"`
	UnlockedAt           *time.Time `json:"unlocked_at,omitempty"`
	Version              int32      `json:"version"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func toSummaryResponse(s database.DriverSummary) summaryResponse {
	resp := summaryResponse{
		ID:                   s.ID,
		DriverID:             s.DriverID,
		SummaryDate:          s.SummaryDate.Format("2006-01-02"),
		TotalCashSales:       numericToString(s.TotalCashSales),
		TotalCreditSales:     numericToString(s.TotalCreditSales),
		TotalOtherSales:      numericToString(s.TotalOtherSales),
		CashCollected:        numericToString(s.CashCollected),
		CashDifference:       numericToString(s.CashDifference),
		ReconciliationStatus: s.ReconciliationStatus,
		Unlocked:             s.UnlockedAt.Valid,
		Version:              s.Version,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
	if s.ReconciliationNotes.Valid {
		resp.ReconciliationNotes = &s.ReconciliationNotes.String
	}
	if s.UnlockedAt.Valid {
		resp.UnlockedAt = &s.UnlockedAt.Time
	}
	return resp
}

// --- Handlers ---

// GetOrCreate returns the driver's summary for the given date, creating an
// empty PENDING one on first access. Opening the day's sheet is what brings
// the record into existence; there is no separate create endpoint.
func (h *SummaryHandler) GetOrCreate(w http.ResponseWriter, r *http.Request) {
	driverID, err := uuid.Parse(chi.URLParam(r, "did"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid driver ID"})
		return
	}

	dateStr := r.URL.Query().Get("date")
	if dateStr == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date query parameter is required (YYYY-MM-DD)"})
		return
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid date, expected YYYY-MM-DD"})
		return
	}

	if _, err := h.store.GetDriver(r.Context(), driverID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "driver not found"})
			return
		}
		log.Printf("ERROR: get driver: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	summary, err := h.store.GetSummaryByDriverDate(r.Context(), database.GetSummaryByDriverDateParams{
		DriverID:    driverID,
		SummaryDate: date,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		summary, err = h.store.CreateSummary(r.Context(), database.CreateSummaryParams{
			DriverID:    driverID,
			SummaryDate: date,
		})
		if isUniqueViolation(err) {
			// Lost the race to a concurrent first access; the row exists now.
			summary, err = h.store.GetSummaryByDriverDate(r.Context(), database.GetSummaryByDriverDateParams{
				DriverID:    driverID,
				SummaryDate: date,
			})
		}
	}
	if err != nil {
		log.Printf("ERROR: get or create summary: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, toSummaryResponse(summary))
}

// GetLoading returns the summary's loading batch. A summary with no loading
// recorded yet yields an empty item list.
func (h *SummaryHandler) GetLoading(w http.ResponseWriter, r *http.Request) {
	h.getBatch(w, r, h.loadingOps())
}

// PutLoading replaces the summary's loaded quantities wholesale. The loading
// batch is frozen once the day is finalized; unlocking re-opens sales and
// cash figures but never the morning load-out.
func (h *SummaryHandler) PutLoading(w http.ResponseWriter, r *http.Request) {
	h.putBatch(w, r, h.loadingOps())
}

// GetReturns returns the summary's return batch.
func (h *SummaryHandler) GetReturns(w http.ResponseWriter, r *http.Request) {
	h.getBatch(w, r, h.returnOps())
}

// PutReturns replaces the summary's returned quantities wholesale. Frozen
// after finalization, same as loading.
func (h *SummaryHandler) PutReturns(w http.ResponseWriter, r *http.Request) {
	h.putBatch(w, r, h.returnOps())
}

// batchOps abstracts over the loading and return batches, which share their
// whole read/replace lifecycle.
type batchOps struct {
	kind       string
	editable   func(summary database.DriverSummary) bool
	getBatch   func(ctx context.Context, store SummaryStore, summaryID uuid.UUID) (uuid.UUID, error)
	makeBatch  func(ctx context.Context, store SummaryStore, summaryID, createdBy uuid.UUID) (uuid.UUID, error)
	listItems  func(ctx context.Context, store SummaryStore, batchID uuid.UUID) ([]batchItemResponse, error)
	wipeItems  func(ctx context.Context, store SummaryStore, batchID uuid.UUID) error
	insertItem func(ctx context.Context, store SummaryStore, batchID uuid.UUID, item batchItemRequest) error
	touchBatch func(ctx context.Context, store SummaryStore, batchID uuid.UUID) error
}

func (h *SummaryHandler) loadingOps() batchOps {
	return batchOps{
		kind: "loading",
		// The morning load-out freezes for good once the day is finalized;
		// an unlock re-opens sales and returns, never the loading record.
		editable: func(summary database.DriverSummary) bool {
			return summary.ReconciliationStatus == enum.ReconciliationStatusPending
		},
		getBatch: func(ctx context.Context, store SummaryStore, summaryID uuid.UUID) (uuid.UUID, error) {
			b, err := store.GetLoadingBatchBySummary(ctx, summaryID)
			return b.ID, err
		},
		makeBatch: func(ctx context.Context, store SummaryStore, summaryID, createdBy uuid.UUID) (uuid.UUID, error) {
			b, err := store.CreateLoadingBatch(ctx, database.CreateLoadingBatchParams{
				SummaryID: summaryID,
				CreatedBy: createdBy,
			})
			return b.ID, err
		},
		listItems: func(ctx context.Context, store SummaryStore, batchID uuid.UUID) ([]batchItemResponse, error) {
			rows, err := store.ListLoadingItems(ctx, batchID)
			if err != nil {
				return nil, err
			}
			items := make([]batchItemResponse, len(rows))
			for i, row := range rows {
				items[i] = batchItemResponse{
					ProductID:   row.ProductID,
					ProductName: row.ProductName,
					Quantity:    row.QuantityLoaded,
				}
			}
			return items, nil
		},
		wipeItems: func(ctx context.Context, store SummaryStore, batchID uuid.UUID) error {
			return store.DeleteLoadingItems(ctx, batchID)
		},
		insertItem: func(ctx context.Context, store SummaryStore, batchID uuid.UUID, item batchItemRequest) error {
			productID, err := uuid.Parse(item.ProductID)
			if err != nil {
				return err
			}
			return store.CreateLoadingItem(ctx, database.CreateLoadingItemParams{
				BatchID:        batchID,
				ProductID:      productID,
				QuantityLoaded: item.Quantity,
			})
		},
		touchBatch: func(ctx context.Context, store SummaryStore, batchID uuid.UUID) error {
			return store.TouchLoadingBatch(ctx, batchID)
		},
	}
}

func (h *SummaryHandler) returnOps() batchOps {
	return batchOps{
		kind: "return",
		editable: func(summary database.DriverSummary) bool {
			return reconcile.Editable(summary.ReconciliationStatus, summary.UnlockedAt.Valid)
		},
		getBatch: func(ctx context.Context, store SummaryStore, summaryID uuid.UUID) (uuid.UUID, error) {
			b, err := store.GetReturnBatchBySummary(ctx, summaryID)
			return b.ID, err
		},
		makeBatch: func(ctx context.Context, store SummaryStore, summaryID, createdBy uuid.UUID) (uuid.UUID, error) {
			b, err := store.CreateReturnBatch(ctx, database.CreateReturnBatchParams{
				SummaryID: summaryID,
				CreatedBy: createdBy,
			})
			return b.ID, err
		},
		listItems: func(ctx context.Context, store SummaryStore, batchID uuid.UUID) ([]batchItemResponse, error) {
			rows, err := store.ListReturnItems(ctx, batchID)
			if err != nil {
				return nil, err
			}
			items := make([]batchItemResponse, len(rows))
			for i, row := range rows {
				items[i] = batchItemResponse{
					ProductID:   row.ProductID,
					ProductName: row.ProductName,
					Quantity:    row.QuantityReturned,
				}
				if row.Reason.Valid {
					reason := row.Reason.String
					items[i].Reason = &reason
				}
			}
			return items, nil
		},
		wipeItems: func(ctx context.Context, store SummaryStore, batchID uuid.UUID) error {
			return store.DeleteReturnItems(ctx, batchID)
		},
		insertItem: func(ctx context.Context, store SummaryStore, batchID uuid.UUID, item batchItemRequest) error {
			productID, err := uuid.Parse(item.ProductID)
			if err != nil {
				return err
			}
			var reason pgtype.Text
			if item.Reason != "" {
				reason = pgtype.Text{String: item.Reason, Valid: true}
			}
			return store.CreateReturnItem(ctx, database.CreateReturnItemParams{
				BatchID:          batchID,
				ProductID:        productID,
				QuantityReturned: item.Quantity,
				Reason:           reason,
			})
		},
		touchBatch: func(ctx context.Context, store SummaryStore, batchID uuid.UUID) error {
			return store.TouchReturnBatch(ctx, batchID)
		},
	}
}

func (h *SummaryHandler) getBatch(w http.ResponseWriter, r *http.Request, ops batchOps) {
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

	batchID, err := ops.getBatch(r.Context(), h.store, summaryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusOK, batchResponse{Items: []batchItemResponse{}})
			return
		}
		log.Printf("ERROR: get %s batch: %v", ops.kind, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	items, err := ops.listItems(r.Context(), h.store, batchID)
	if err != nil {
		log.Printf("ERROR: list %s items: %v", ops.kind, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, batchResponse{BatchID: batchID, Items: items})
}

func (h *SummaryHandler) putBatch(w http.ResponseWriter, r *http.Request, ops batchOps) {
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

	var req putBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	seen := make(map[string]bool, len(req.Items))
	for _, item := range req.Items {
		if _, err := uuid.Parse(item.ProductID); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid product_id"})
			return
		}
		if item.Quantity <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "quantity must be > 0"})
			return
		}
		if seen[item.ProductID] {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "duplicate product in items"})
			return
		}
		seen[item.ProductID] = true
	}

	// Begin the transaction before reading summary state so concurrent
	// replacements serialize on the summary row lock.
	tx, err := h.pool.Begin(r.Context())
	if err != nil {
		log.Printf("ERROR: begin tx for %s batch: %v", ops.kind, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	defer tx.Rollback(r.Context())

	txStore := h.newStore(tx)

	summary, err := txStore.GetSummaryForUpdate(r.Context(), summaryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "summary not found"})
			return
		}
		log.Printf("ERROR: get summary for %s batch: %v", ops.kind, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if !ops.editable(summary) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": ops.kind + " batch is frozen after finalization"})
		return
	}

	batchID, err := ops.getBatch(r.Context(), txStore, summaryID)
	if errors.Is(err, pgx.ErrNoRows) {
		batchID, err = ops.makeBatch(r.Context(), txStore, summaryID, claims.UserID)
	}
	if err != nil {
		log.Printf("ERROR: get or create %s batch: %v", ops.kind, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if err := ops.wipeItems(r.Context(), txStore, batchID); err != nil {
		log.Printf("ERROR: wipe %s items: %v", ops.kind, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	for _, item := range req.Items {
		if err := ops.insertItem(r.Context(), txStore, batchID, item); err != nil {
			if isForeignKeyViolation(err) {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown product in items"})
				return
			}
			log.Printf("ERROR: insert %s item: %v", ops.kind, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			return
		}
	}

	if err := ops.touchBatch(r.Context(), txStore, batchID); err != nil {
		log.Printf("ERROR: touch %s batch: %v", ops.kind, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if err := txStore.TouchSummary(r.Context(), summaryID); err != nil {
		log.Printf("ERROR: touch summary: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	items, err := ops.listItems(r.Context(), txStore, batchID)
	if err != nil {
		log.Printf("ERROR: list %s items: %v", ops.kind, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if err := tx.Commit(r.Context()); err != nil {
		log.Printf("ERROR: commit %s batch: %v", ops.kind, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, batchResponse{BatchID: batchID, Items: items})
}
