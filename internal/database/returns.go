package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const returnBatchColumns = `id, summary_id, created_by, created_at, updated_at`

func scanReturnBatch(row interface{ Scan(...interface{}) error }) (ReturnBatch, error) {
	var b ReturnBatch
	err := row.Scan(&b.ID, &b.SummaryID, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (q *Queries) GetReturnBatchBySummary(ctx context.Context, summaryID uuid.UUID) (ReturnBatch, error) {
	row := q.db.QueryRow(ctx, `SELECT `+returnBatchColumns+` FROM return_batches WHERE summary_id = $1`, summaryID)
	return scanReturnBatch(row)
}

type CreateReturnBatchParams struct {
	SummaryID uuid.UUID
	CreatedBy uuid.UUID
}

func (q *Queries) CreateReturnBatch(ctx context.Context, arg CreateReturnBatchParams) (ReturnBatch, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO return_batches (summary_id, created_by)
		VALUES ($1, $2)
		RETURNING `+returnBatchColumns,
		arg.SummaryID, arg.CreatedBy)
	return scanReturnBatch(row)
}

type ListReturnItemsRow struct {
	ProductID        uuid.UUID
	ProductName      string
	QuantityReturned int32
	Reason           pgtype.Text
}

func (q *Queries) ListReturnItems(ctx context.Context, batchID uuid.UUID) ([]ListReturnItemsRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT ri.product_id, p.name, ri.quantity_returned, ri.reason
		FROM return_items ri
		JOIN products p ON p.id = ri.product_id
		WHERE ri.batch_id = $1
		ORDER BY p.name`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ListReturnItemsRow
	for rows.Next() {
		var row ListReturnItemsRow
		if err := rows.Scan(&row.ProductID, &row.ProductName, &row.QuantityReturned, &row.Reason); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func (q *Queries) DeleteReturnItems(ctx context.Context, batchID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM return_items WHERE batch_id = $1`, batchID)
	return err
}

type CreateReturnItemParams struct {
	BatchID          uuid.UUID
	ProductID        uuid.UUID
	QuantityReturned int32
	Reason           pgtype.Text
}

func (q *Queries) CreateReturnItem(ctx context.Context, arg CreateReturnItemParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO return_items (batch_id, product_id, quantity_returned, reason)
		VALUES ($1, $2, $3, $4)`,
		arg.BatchID, arg.ProductID, arg.QuantityReturned, arg.Reason)
	return err
}

func (q *Queries) TouchReturnBatch(ctx context.Context, batchID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE return_batches SET updated_at = now() WHERE id = $1`, batchID)
	return err
}
