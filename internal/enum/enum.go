package enum

// ── State machines (CHECK constrained in DB) ──

const (
	ReconciliationStatusPending           = "PENDING"
	ReconciliationStatusReconciled        = "RECONCILED"
	ReconciliationStatusCashShort         = "CASH_SHORT"
	ReconciliationStatusCashOver          = "CASH_OVER"
	ReconciliationStatusPendingAdjustment = "PENDING_ADJUSTMENT"
)

// ── Payment types (CHECK constrained in DB) ──

const (
	PaymentTypeCash   = "CASH"
	PaymentTypeCredit = "CREDIT"
	PaymentTypeDebit  = "DEBIT"
)

// ── Roles (CHECK constrained in DB) ──

const (
	UserRoleAdmin   = "ADMIN"
	UserRoleManager = "MANAGER"
	UserRoleOffice  = "OFFICE"
	UserRoleDriver  = "DRIVER"
)
