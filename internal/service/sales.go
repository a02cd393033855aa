package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/routebooks/api/internal/database"
	"github.com/routebooks/api/internal/enum"
	"github.com/routebooks/api/internal/reconcile"
	"github.com/shopspring/decimal"
)

// Errors returned by the sales service.
var (
	ErrEmptyBatch         = errors.New("no sales entered")
	ErrEmptyLines         = errors.New("line items are required")
	ErrInvalidQuantity    = errors.New("quantity must be > 0")
	ErrInvalidUnitPrice   = errors.New("unit_price must be >= 0")
	ErrInvalidPaymentType = errors.New("invalid payment_type")
	ErrCustomerIdentity   = errors.New("exactly one of customer_id and customer_name is required")
	ErrDuplicateProduct   = errors.New("duplicate product in sale")
	ErrInvalidProductID   = errors.New("invalid product_id")
	ErrInvalidCustomerID  = errors.New("invalid customer_id")
	ErrProductNotFound    = errors.New("product not found")
	ErrCustomerNotFound   = errors.New("customer not found")
	ErrSummaryNotFound    = errors.New("summary not found")
	ErrSaleNotFound       = errors.New("sale not found")
	ErrSummaryLocked      = errors.New("summary is locked")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SalesStore defines the DB methods needed to write sales.
// Satisfied by *database.Queries (and its WithTx variant).
type SalesStore interface {
	GetSummaryForUpdate(ctx context.Context, id uuid.UUID) (database.DriverSummary, error)
	GetProduct(ctx context.Context, id uuid.UUID) (database.Product, error)
	GetCustomer(ctx context.Context, id uuid.UUID) (database.Customer, error)
	CreateSale(ctx context.Context, arg database.CreateSaleParams) (database.Sale, error)
	UpdateSale(ctx context.Context, arg database.UpdateSaleParams) (database.Sale, error)
	DeleteSale(ctx context.Context, arg database.DeleteSaleParams) (uuid.UUID, error)
	CreateSaleItem(ctx context.Context, arg database.CreateSaleItemParams) (database.SaleItem, error)
	DeleteSaleItems(ctx context.Context, saleID uuid.UUID) error
	TouchSummary(ctx context.Context, id uuid.UUID) error
}

// NewSalesStore creates a SalesStore from a DBTX (pool or tx).
type NewSalesStore func(db database.DBTX) SalesStore

// SaleLineRequest is one line of a sale as entered by the operator.
// An empty UnitPrice falls back to the product's catalog price.
type SaleLineRequest struct {
	ProductID string
	Quantity  int32
	UnitPrice string
}

// SaleRequest is one sale row: either a registered customer ID or a
// free-text customer name, never both.
type SaleRequest struct {
	CustomerID   string
	CustomerName string
	PaymentType  string
	Notes        string
	Lines        []SaleLineRequest
}

// SaleResult is a stored sale with its line items.
type SaleResult struct {
	Sale  database.Sale
	Items []database.SaleItem
}

// SalesService owns all writes to the sales log of a driver-day.
type SalesService struct {
	pool     TxBeginner
	newStore NewSalesStore
}

// NewSalesService creates a new SalesService.
func NewSalesService(pool TxBeginner, newStore NewSalesStore) *SalesService {
	return &SalesService{pool: pool, newStore: newStore}
}

// preparedSale holds validated sale params ready for insertion.
type preparedSale struct {
	params database.CreateSaleParams
	items  []database.CreateSaleItemParams
}

// CommitBatch submits a grid of sale rows as one atomic unit. Line items
// with quantity <= 0 are dropped, rows left with no lines are dropped, and
// an entirely empty batch fails with ErrEmptyBatch before any database
// access. Everything that survives filtering is inserted in one transaction:
// the batch is accepted or rejected as a whole.
func (s *SalesService) CommitBatch(ctx context.Context, summaryID, createdBy uuid.UUID, rows []SaleRequest) ([]SaleResult, error) {
	filtered := make([]SaleRequest, 0, len(rows))
	for _, row := range rows {
		lines := make([]SaleLineRequest, 0, len(row.Lines))
		for _, line := range row.Lines {
			if line.Quantity > 0 {
				lines = append(lines, line)
			}
		}
		if len(lines) == 0 {
			continue
		}
		row.Lines = lines
		filtered = append(filtered, row)
	}
	if len(filtered) == 0 {
		return nil, ErrEmptyBatch
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	if err := lockEditableSummary(ctx, store, summaryID); err != nil {
		return nil, err
	}

	prepared := make([]preparedSale, 0, len(filtered))
	for i, row := range filtered {
		p, err := s.prepareSale(ctx, store, summaryID, createdBy, row)
		if err != nil {
			return nil, fmt.Errorf("rows[%d]: %w", i, err)
		}
		prepared = append(prepared, p)
	}

	results := make([]SaleResult, 0, len(prepared))
	for _, p := range prepared {
		res, err := insertSale(ctx, store, p)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	if err := store.TouchSummary(ctx, summaryID); err != nil {
		return nil, fmt.Errorf("touch summary: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return results, nil
}

// CreateSale stores a single sale entered through the editor.
func (s *SalesService) CreateSale(ctx context.Context, summaryID, createdBy uuid.UUID, req SaleRequest) (*SaleResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	if err := lockEditableSummary(ctx, store, summaryID); err != nil {
		return nil, err
	}

	p, err := s.prepareSale(ctx, store, summaryID, createdBy, req)
	if err != nil {
		return nil, err
	}

	res, err := insertSale(ctx, store, p)
	if err != nil {
		return nil, err
	}

	if err := store.TouchSummary(ctx, summaryID); err != nil {
		return nil, fmt.Errorf("touch summary: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &res, nil
}

// UpdateSale rewrites an existing sale in place: the row is updated and its
// line items replaced, never duplicated into a second record.
func (s *SalesService) UpdateSale(ctx context.Context, summaryID, saleID uuid.UUID, req SaleRequest) (*SaleResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	if err := lockEditableSummary(ctx, store, summaryID); err != nil {
		return nil, err
	}

	p, err := s.prepareSale(ctx, store, summaryID, uuid.Nil, req)
	if err != nil {
		return nil, err
	}

	sale, err := store.UpdateSale(ctx, database.UpdateSaleParams{
		ID:           saleID,
		SummaryID:    summaryID,
		CustomerID:   p.params.CustomerID,
		CustomerName: p.params.CustomerName,
		PaymentType:  p.params.PaymentType,
		Notes:        p.params.Notes,
		Total:        p.params.Total,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSaleNotFound
		}
		return nil, fmt.Errorf("update sale: %w", err)
	}

	if err := store.DeleteSaleItems(ctx, saleID); err != nil {
		return nil, fmt.Errorf("delete sale items: %w", err)
	}

	items := make([]database.SaleItem, 0, len(p.items))
	for _, ip := range p.items {
		ip.SaleID = saleID
		item, err := store.CreateSaleItem(ctx, ip)
		if err != nil {
			return nil, fmt.Errorf("create sale item: %w", err)
		}
		items = append(items, item)
	}

	if err := store.TouchSummary(ctx, summaryID); err != nil {
		return nil, fmt.Errorf("touch summary: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &SaleResult{Sale: sale, Items: items}, nil
}

// DeleteSale removes a sale and its line items.
func (s *SalesService) DeleteSale(ctx context.Context, summaryID, saleID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	if err := lockEditableSummary(ctx, store, summaryID); err != nil {
		return err
	}

	if _, err := store.DeleteSale(ctx, database.DeleteSaleParams{ID: saleID, SummaryID: summaryID}); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSaleNotFound
		}
		return fmt.Errorf("delete sale: %w", err)
	}

	if err := store.TouchSummary(ctx, summaryID); err != nil {
		return fmt.Errorf("touch summary: %w", err)
	}

	return tx.Commit(ctx)
}

// lockEditableSummary locks the summary row and verifies the day is still
// editable. A locked day accepts no writes until explicitly unlocked; the
// unlock marker is what re-enables editing, not the caller's role.
func lockEditableSummary(ctx context.Context, store SalesStore, summaryID uuid.UUID) error {
	summary, err := store.GetSummaryForUpdate(ctx, summaryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSummaryNotFound
		}
		return fmt.Errorf("get summary: %w", err)
	}
	if !reconcile.Editable(summary.ReconciliationStatus, summary.UnlockedAt.Valid) {
		return ErrSummaryLocked
	}
	return nil
}

// prepareSale validates one sale request and resolves it into insertable
// params. No writes happen here.
func (s *SalesService) prepareSale(ctx context.Context, store SalesStore, summaryID, createdBy uuid.UUID, req SaleRequest) (preparedSale, error) {
	var p preparedSale

	// Registered customer XOR free-text name.
	if (req.CustomerID == "") == (req.CustomerName == "") {
		return p, ErrCustomerIdentity
	}

	customerID := pgtype.UUID{}
	customerName := pgtype.Text{}
	if req.CustomerID != "" {
		cid, err := uuid.Parse(req.CustomerID)
		if err != nil {
			return p, ErrInvalidCustomerID
		}
		if _, err := store.GetCustomer(ctx, cid); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return p, ErrCustomerNotFound
			}
			return p, fmt.Errorf("get customer: %w", err)
		}
		customerID = pgtype.UUID{Bytes: cid, Valid: true}
	} else {
		customerName = pgtype.Text{String: req.CustomerName, Valid: true}
	}

	if !isValidPaymentType(req.PaymentType) {
		return p, ErrInvalidPaymentType
	}

	if len(req.Lines) == 0 {
		return p, ErrEmptyLines
	}

	seen := make(map[uuid.UUID]bool, len(req.Lines))
	total := decimal.Zero
	items := make([]database.CreateSaleItemParams, 0, len(req.Lines))
	for i, line := range req.Lines {
		if line.Quantity <= 0 {
			return p, fmt.Errorf("lines[%d]: %w", i, ErrInvalidQuantity)
		}

		productID, err := uuid.Parse(line.ProductID)
		if err != nil {
			return p, fmt.Errorf("lines[%d]: %w", i, ErrInvalidProductID)
		}
		if seen[productID] {
			return p, fmt.Errorf("lines[%d]: %w", i, ErrDuplicateProduct)
		}
		seen[productID] = true

		product, err := store.GetProduct(ctx, productID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return p, fmt.Errorf("lines[%d]: %w", i, ErrProductNotFound)
			}
			return p, fmt.Errorf("lines[%d]: get product: %w", i, err)
		}

		unitPrice := numericToDecimal(product.UnitPrice)
		if line.UnitPrice != "" {
			unitPrice, err = decimal.NewFromString(line.UnitPrice)
			if err != nil || unitPrice.IsNegative() {
				return p, fmt.Errorf("lines[%d]: %w", i, ErrInvalidUnitPrice)
			}
		}

		total = total.Add(unitPrice.Mul(decimal.NewFromInt32(line.Quantity)))
		items = append(items, database.CreateSaleItemParams{
			ProductID: productID,
			Quantity:  line.Quantity,
			UnitPrice: decimalToNumeric(unitPrice),
		})
	}

	notes := pgtype.Text{}
	if req.Notes != "" {
		notes = pgtype.Text{String: req.Notes, Valid: true}
	}

	p.params = database.CreateSaleParams{
		SummaryID:    summaryID,
		CustomerID:   customerID,
		CustomerName: customerName,
		PaymentType:  req.PaymentType,
		Notes:        notes,
		Total:        decimalToNumeric(total),
		CreatedBy:    createdBy,
	}
	p.items = items
	return p, nil
}

func insertSale(ctx context.Context, store SalesStore, p preparedSale) (SaleResult, error) {
	sale, err := store.CreateSale(ctx, p.params)
	if err != nil {
		return SaleResult{}, fmt.Errorf("create sale: %w", err)
	}

	items := make([]database.SaleItem, 0, len(p.items))
	for _, ip := range p.items {
		ip.SaleID = sale.ID
		item, err := store.CreateSaleItem(ctx, ip)
		if err != nil {
			return SaleResult{}, fmt.Errorf("create sale item: %w", err)
		}
		items = append(items, item)
	}
	return SaleResult{Sale: sale, Items: items}, nil
}

// --- Helpers ---

func isValidPaymentType(s string) bool {
	switch s {
	case enum.PaymentTypeCash, enum.PaymentTypeCredit, enum.PaymentTypeDebit:
		return true
	}
	return false
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}
