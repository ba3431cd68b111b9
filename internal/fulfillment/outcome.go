package fulfillment

import (
	"github.com/shopforge/storefront-backend/internal/inventory"
	"github.com/shopforge/storefront-backend/pkg/db/models"
)

// OutcomeStatus classifies how a delivery was handled. Every status except
// StatusStockFailure is acknowledged with HTTP 200.
type OutcomeStatus string

const (
	// StatusIgnored covers event types outside the accepted set; new gateway
	// event types fail safe here.
	StatusIgnored OutcomeStatus = "ignored"
	// StatusNotPaid covers accepted event types whose session has not settled.
	StatusNotPaid OutcomeStatus = "not_paid"
	// StatusAlreadyFulfilled is the idempotent replay path.
	StatusAlreadyFulfilled OutcomeStatus = "already_fulfilled"
	// StatusFulfilled means a new order was committed.
	StatusFulfilled OutcomeStatus = "fulfilled"
	// StatusStockFailure means the transaction aborted on stock and the
	// compensator ran.
	StatusStockFailure OutcomeStatus = "stock_failure"
)

// Outcome is the typed result of handling one webhook delivery.
type Outcome struct {
	Status   OutcomeStatus
	Order    *models.Order
	StockErr *inventory.StockUnavailableError
}
