package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/shopforge/storefront-backend/pkg/enums"
)

// FulfillmentFailure records a terminal post-capture failure for one checkout
// session. The unique session id makes the compensating refund idempotent
// across webhook redeliveries; rows with RefundIssued=false are the alerting
// surface for failed refunds.
type FulfillmentFailure struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CheckoutSessionID string              `gorm:"column:checkout_session_id;not null;uniqueIndex:fulfillment_failures_session_key"`
	Reason            enums.FailureReason `gorm:"column:reason;not null"`
	ProductName       string              `gorm:"column:product_name"`
	AmountCents       int64               `gorm:"column:amount_cents;not null"`
	Currency          enums.Currency      `gorm:"column:currency;not null"`
	RefundID          *string             `gorm:"column:refund_id"`
	RefundIssued      bool                `gorm:"column:refund_issued;not null;default:false"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
