package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const saleColumns = `id, summary_id, customer_id, customer_name, payment_type, notes, total,
	created_by, created_at, updated_at`

func scanSale(row interface{ Scan(...interface{}) error }) (Sale, error) {
	var s Sale
	err := row.Scan(&s.ID, &s.SummaryID, &s.CustomerID, &s.CustomerName, &s.PaymentType,
		&s.Notes, &s.Total, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (q *Queries) ListSalesBySummary(ctx context.Context, summaryID uuid.UUID) ([]Sale, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+saleColumns+` FROM sales
		WHERE summary_id = $1
		ORDER BY created_at, id`, summaryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}

type GetSaleParams struct {
	ID        uuid.UUID
	SummaryID uuid.UUID
}

func (q *Queries) GetSale(ctx context.Context, arg GetSaleParams) (Sale, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+saleColumns+` FROM sales
		WHERE id = $1 AND summary_id = $2`,
		arg.ID, arg.SummaryID)
	return scanSale(row)
}

type CreateSaleParams struct {
	SummaryID    uuid.UUID
	CustomerID   pgtype.UUID
	CustomerName pgtype.Text
	PaymentType  string
	Notes        pgtype.Text
	Total        pgtype.Numeric
	CreatedBy    uuid.UUID
}

func (q *Queries) CreateSale(ctx context.Context, arg CreateSaleParams) (Sale, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO sales (summary_id, customer_id, customer_name, payment_type, notes, total, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+saleColumns,
		arg.SummaryID, arg.CustomerID, arg.CustomerName, arg.PaymentType, arg.Notes, arg.Total, arg.CreatedBy)
	return scanSale(row)
}

type UpdateSaleParams struct {
	ID           uuid.UUID
	SummaryID    uuid.UUID
	CustomerID   pgtype.UUID
	CustomerName pgtype.Text
	PaymentType  string
	Notes        pgtype.Text
	Total        pgtype.Numeric
}

func (q *Queries) UpdateSale(ctx context.Context, arg UpdateSaleParams) (Sale, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE sales
		SET customer_id = $3,
		    customer_name = $4,
		    payment_type = $5,
		    notes = $6,
		    total = $7,
		    updated_at = now()
		WHERE id = $1 AND summary_id = $2
		RETURNING `+saleColumns,
		arg.ID, arg.SummaryID, arg.CustomerID, arg.CustomerName, arg.PaymentType, arg.Notes, arg.Total)
	return scanSale(row)
}

type DeleteSaleParams struct {
	ID        uuid.UUID
	SummaryID uuid.UUID
}

func (q *Queries) DeleteSale(ctx context.Context, arg DeleteSaleParams) (uuid.UUID, error) {
	row := q.db.QueryRow(ctx, `
		DELETE FROM sales
		WHERE id = $1 AND summary_id = $2
		RETURNING id`,
		arg.ID, arg.SummaryID)
	var out uuid.UUID
	err := row.Scan(&out)
	return out, err
}

type CreateSaleItemParams struct {
	SaleID    uuid.UUID
	ProductID uuid.UUID
	Quantity  int32
	UnitPrice pgtype.Numeric
}

func (q *Queries) CreateSaleItem(ctx context.Context, arg CreateSaleItemParams) (SaleItem, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO sale_items (sale_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)
		RETURNING id, sale_id, product_id, quantity, unit_price`,
		arg.SaleID, arg.ProductID, arg.Quantity, arg.UnitPrice)
	var item SaleItem
	err := row.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.Quantity, &item.UnitPrice)
	return item, err
}

func (q *Queries) DeleteSaleItems(ctx context.Context, saleID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
	return err
}

func (q *Queries) ListSaleItems(ctx context.Context, saleID uuid.UUID) ([]SaleItem, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, sale_id, product_id, quantity, unit_price
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []SaleItem
	for rows.Next() {
		var item SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type ListSaleItemsBySummaryRow struct {
	SaleID      uuid.UUID
	ProductID   uuid.UUID
	ProductName string
	Quantity    int32
	UnitPrice   pgtype.Numeric
}

// ListSaleItemsBySummary returns every line item of every sale on a summary
// in one query, for the sales list view and the aggregator's sold figures.
func (q *Queries) ListSaleItemsBySummary(ctx context.Context, summaryID uuid.UUID) ([]ListSaleItemsBySummaryRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT si.sale_id, si.product_id, p.name, si.quantity, si.unit_price
		FROM sale_items si
		JOIN sales s ON s.id = si.sale_id
		JOIN products p ON p.id = si.product_id
		WHERE s.summary_id = $1
		ORDER BY si.sale_id, si.id`, summaryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ListSaleItemsBySummaryRow
	for rows.Next() {
		var row ListSaleItemsBySummaryRow
		if err := rows.Scan(&row.SaleID, &row.ProductID, &row.ProductName, &row.Quantity, &row.UnitPrice); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
