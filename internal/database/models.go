package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type User struct {
	ID             uuid.UUID
	Email          string
	HashedPassword string
	FullName       string
	Role           string
	Pin            pgtype.Text
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Driver struct {
	ID        uuid.UUID
	Name      string
	Phone     string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Customer struct {
	ID        uuid.UUID
	Name      string
	Phone     string
	Address   pgtype.Text
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Product struct {
	ID        uuid.UUID
	Name      string
	UnitPrice pgtype.Numeric
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Route struct {
	ID        uuid.UUID
	Name      string
	DriverID  pgtype.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

type RouteCustomer struct {
	RouteID    uuid.UUID
	CustomerID uuid.UUID
	Position   int32
	AddedAt    time.Time
}

// DriverSummary is the single per-driver-per-day aggregate record.
// Totals are denormalized snapshots written by the reconciliation engine;
// the source of truth remains the loading/sales/returns logs.
type DriverSummary struct {
	ID                   uuid.UUID
	DriverID             uuid.UUID
	SummaryDate          time.Time
	TotalCashSales       pgtype.Numeric
	TotalCreditSales     pgtype.Numeric
	TotalOtherSales      pgtype.Numeric
	CashCollected        pgtype.Numeric
	CashDifference       pgtype.Numeric
	ReconciliationStatus string
	ReconciliationNotes  pgtype.Text
	Version              int32
	UnlockedAt           pgtype.Timestamptz
	UnlockedBy           pgtype.UUID
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type Sale struct {
	ID           uuid.UUID
	SummaryID    uuid.UUID
	CustomerID   pgtype.UUID
	CustomerName pgtype.Text
	PaymentType  string
	Notes        pgtype.Text
	Total        pgtype.Numeric
	CreatedBy    uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type SaleItem struct {
	ID        uuid.UUID
	SaleID    uuid.UUID
	ProductID uuid.UUID
	Quantity  int32
	UnitPrice pgtype.Numeric
}

type LoadingBatch struct {
	ID        uuid.UUID
	SummaryID uuid.UUID
	CreatedBy uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

type LoadingItem struct {
	ID             uuid.UUID
	BatchID        uuid.UUID
	ProductID      uuid.UUID
	QuantityLoaded int32
}

type ReturnBatch struct {
	ID        uuid.UUID
	SummaryID uuid.UUID
	CreatedBy uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ReturnItem struct {
	ID               uuid.UUID
	BatchID          uuid.UUID
	ProductID        uuid.UUID
	QuantityReturned int32
	Reason           pgtype.Text
}
