package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const summaryColumns = `id, driver_id, summary_date, total_cash_sales, total_credit_sales,
	total_other_sales, cash_collected, cash_difference, reconciliation_status,
	reconciliation_notes, version, unlocked_at, unlocked_by, created_at, updated_at`

func scanSummary(row interface{ Scan(...interface{}) error }) (DriverSummary, error) {
	var s DriverSummary
	err := row.Scan(&s.ID, &s.DriverID, &s.SummaryDate, &s.TotalCashSales, &s.TotalCreditSales,
		&s.TotalOtherSales, &s.CashCollected, &s.CashDifference, &s.ReconciliationStatus,
		&s.ReconciliationNotes, &s.Version, &s.UnlockedAt, &s.UnlockedBy, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (q *Queries) GetSummary(ctx context.Context, id uuid.UUID) (DriverSummary, error) {
	row := q.db.QueryRow(ctx, `SELECT `+summaryColumns+` FROM driver_summaries WHERE id = $1`, id)
	return scanSummary(row)
}

// GetSummaryForUpdate locks the summary row (FOR NO KEY UPDATE) so that
// concurrent finalize calls serialize on it.
func (q *Queries) GetSummaryForUpdate(ctx context.Context, id uuid.UUID) (DriverSummary, error) {
	row := q.db.QueryRow(ctx, `SELECT `+summaryColumns+` FROM driver_summaries WHERE id = $1 FOR NO KEY UPDATE`, id)
	return scanSummary(row)
}

type GetSummaryByDriverDateParams struct {
	DriverID    uuid.UUID
	SummaryDate time.Time
}

func (q *Queries) GetSummaryByDriverDate(ctx context.Context, arg GetSummaryByDriverDateParams) (DriverSummary, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+summaryColumns+` FROM driver_summaries
		WHERE driver_id = $1 AND summary_date = $2`,
		arg.DriverID, arg.SummaryDate)
	return scanSummary(row)
}

type CreateSummaryParams struct {
	DriverID    uuid.UUID
	SummaryDate time.Time
}

func (q *Queries) CreateSummary(ctx context.Context, arg CreateSummaryParams) (DriverSummary, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO driver_summaries (driver_id, summary_date)
		VALUES ($1, $2)
		RETURNING `+summaryColumns,
		arg.DriverID, arg.SummaryDate)
	return scanSummary(row)
}

type FinalizeSummaryParams struct {
	ID                   uuid.UUID
	TotalCashSales       pgtype.Numeric
	TotalCreditSales     pgtype.Numeric
	TotalOtherSales      pgtype.Numeric
	CashCollected        pgtype.Numeric
	CashDifference       pgtype.Numeric
	ReconciliationStatus string
	ReconciliationNotes  pgtype.Text
}

// FinalizeSummary writes the recomputed totals and the new status in one
// update. It also clears any unlock marker: a finalized day is locked again
// until the next explicit unlock.
func (q *Queries) FinalizeSummary(ctx context.Context, arg FinalizeSummaryParams) (DriverSummary, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE driver_summaries
		SET total_cash_sales = $2,
		    total_credit_sales = $3,
		    total_other_sales = $4,
		    cash_collected = $5,
		    cash_difference = $6,
		    reconciliation_status = $7,
		    reconciliation_notes = $8,
		    unlocked_at = NULL,
		    unlocked_by = NULL,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+summaryColumns,
		arg.ID, arg.TotalCashSales, arg.TotalCreditSales, arg.TotalOtherSales,
		arg.CashCollected, arg.CashDifference, arg.ReconciliationStatus, arg.ReconciliationNotes)
	return scanSummary(row)
}

type UnlockSummaryParams struct {
	ID         uuid.UUID
	UnlockedBy uuid.UUID
}

// UnlockSummary marks a locked summary editable again. The status is left
// untouched; only a subsequent finalize replaces it.
func (q *Queries) UnlockSummary(ctx context.Context, arg UnlockSummaryParams) (DriverSummary, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE driver_summaries
		SET unlocked_at = now(),
		    unlocked_by = $2,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+summaryColumns,
		arg.ID, arg.UnlockedBy)
	return scanSummary(row)
}

// TouchSummary bumps the summary version after a source-log mutation, so
// optimistic-concurrency checks see sales/returns edits too.
func (q *Queries) TouchSummary(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `
		UPDATE driver_summaries
		SET version = version + 1, updated_at = now()
		WHERE id = $1`, id)
	return err
}
