package database

import (
	"context"

	"github.com/google/uuid"
)

const loadingBatchColumns = `id, summary_id, created_by, created_at, updated_at`

func scanLoadingBatch(row interface{ Scan(...interface{}) error }) (LoadingBatch, error) {
	var b LoadingBatch
	err := row.Scan(&b.ID, &b.SummaryID, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (q *Queries) GetLoadingBatchBySummary(ctx context.Context, summaryID uuid.UUID) (LoadingBatch, error) {
	row := q.db.QueryRow(ctx, `SELECT `+loadingBatchColumns+` FROM loading_batches WHERE summary_id = $1`, summaryID)
	return scanLoadingBatch(row)
}

type CreateLoadingBatchParams struct {
	SummaryID uuid.UUID
	CreatedBy uuid.UUID
}

func (q *Queries) CreateLoadingBatch(ctx context.Context, arg CreateLoadingBatchParams) (LoadingBatch, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO loading_batches (summary_id, created_by)
		VALUES ($1, $2)
		RETURNING `+loadingBatchColumns,
		arg.SummaryID, arg.CreatedBy)
	return scanLoadingBatch(row)
}

type ListLoadingItemsRow struct {
	ProductID      uuid.UUID
	ProductName    string
	QuantityLoaded int32
}

func (q *Queries) ListLoadingItems(ctx context.Context, batchID uuid.UUID) ([]ListLoadingItemsRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT li.product_id, p.name, li.quantity_loaded
		FROM loading_items li
		JOIN products p ON p.id = li.product_id
		WHERE li.batch_id = $1
		ORDER BY p.name`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ListLoadingItemsRow
	for rows.Next() {
		var row ListLoadingItemsRow
		if err := rows.Scan(&row.ProductID, &row.ProductName, &row.QuantityLoaded); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func (q *Queries) DeleteLoadingItems(ctx context.Context, batchID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM loading_items WHERE batch_id = $1`, batchID)
	return err
}

type CreateLoadingItemParams struct {
	BatchID        uuid.UUID
	ProductID      uuid.UUID
	QuantityLoaded int32
}

func (q *Queries) CreateLoadingItem(ctx context.Context, arg CreateLoadingItemParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO loading_items (batch_id, product_id, quantity_loaded)
		VALUES ($1, $2, $3)`,
		arg.BatchID, arg.ProductID, arg.QuantityLoaded)
	return err
}

func (q *Queries) TouchLoadingBatch(ctx context.Context, batchID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE loading_batches SET updated_at = now() WHERE id = $1`, batchID)
	return err
}
