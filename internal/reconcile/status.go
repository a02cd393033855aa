package reconcile

import (
	"fmt"

	"github.com/routebooks/api/internal/enum"
	"github.com/shopspring/decimal"
)

// IsValidStatus checks if the given string is a known reconciliation status.
func IsValidStatus(s string) bool {
	switch s {
	case enum.ReconciliationStatusPending,
		enum.ReconciliationStatusReconciled,
		enum.ReconciliationStatusCashShort,
		enum.ReconciliationStatusCashOver,
		enum.ReconciliationStatusPendingAdjustment:
		return true
	}
	return false
}

var terminalStatuses = []string{
	enum.ReconciliationStatusReconciled,
	enum.ReconciliationStatusCashShort,
	enum.ReconciliationStatusCashOver,
	enum.ReconciliationStatusPendingAdjustment,
}

// allowedTransitions defines valid status transitions.
// Key is current status, value is the set of statuses it can transition to.
// A finalized day may be re-finalized to any terminal status (after an
// unlock), but nothing ever transitions back to PENDING.
var allowedTransitions = map[string][]string{
	enum.ReconciliationStatusPending:           terminalStatuses,
	enum.ReconciliationStatusReconciled:        terminalStatuses,
	enum.ReconciliationStatusCashShort:         terminalStatuses,
	enum.ReconciliationStatusCashOver:          terminalStatuses,
	enum.ReconciliationStatusPendingAdjustment: terminalStatuses,
}

// ValidateTransition checks if the transition from current to next is allowed.
func ValidateTransition(current, next string) error {
	allowed, ok := allowedTransitions[current]
	if !ok {
		return fmt.Errorf("cannot transition from %s", current)
	}
	for _, s := range allowed {
		if s == next {
			return nil
		}
	}
	return fmt.Errorf("cannot transition from %s to %s", current, next)
}

// SuggestStatus derives a status from the sign of the cash difference
// (cash collected minus expected cash sales). The caller is free to record
// a different terminal status instead; this is a suggestion, not a rule.
func SuggestStatus(difference decimal.Decimal) string {
	switch difference.Sign() {
	case 0:
		return enum.ReconciliationStatusReconciled
	case -1:
		return enum.ReconciliationStatusCashShort
	default:
		return enum.ReconciliationStatusCashOver
	}
}

// Locked reports whether a summary in the given status is read-only.
func Locked(status string) bool {
	return status != enum.ReconciliationStatusPending
}

// Editable reports whether the day's sales and returns may still change:
// either reconciliation has not happened yet, or a privileged user has
// explicitly unlocked the record.
func Editable(status string, unlocked bool) bool {
	return !Locked(status) || unlocked
}

// PrivilegedRole reports whether the given role may unlock a finalized
// summary or edit a locked one.
func PrivilegedRole(role string) bool {
	return role == enum.UserRoleAdmin || role == enum.UserRoleManager
}
