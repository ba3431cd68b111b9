package enums

// FailureReason is the machine-readable tag attached to refunds and failure
// markers for audit correlation.
type FailureReason string

const (
	FailureReasonStockUnavailable FailureReason = "stock_unavailable"
)
