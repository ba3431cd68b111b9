package refunds

import (
	"context"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/shopforge/storefront-backend/pkg/db"
	"github.com/shopforge/storefront-backend/pkg/db/models"
	"github.com/shopforge/storefront-backend/pkg/enums"
	pkgerrors "github.com/shopforge/storefront-backend/pkg/errors"
	"github.com/shopforge/storefront-backend/pkg/logger"
	"github.com/shopforge/storefront-backend/pkg/metrics"
)

// StockFailure describes one post-capture fulfillment abort that needs a
// compensating refund.
type StockFailure struct {
	SessionID       string
	PaymentIntentID string
	AmountCents     int64
	Currency        enums.Currency
	ProductName     string
}

type gatewayClient interface {
	CreateRefund(ctx context.Context, paymentIntentID string, amountCents int64, metadata map[string]string) (*stripe.Refund, error)
}

// Service issues at most one full refund per checkout session.
type Service struct {
	conn    *gorm.DB
	gateway gatewayClient
	logg    *logger.Logger
	metrics *metrics.WebhookMetrics
}

// NewService builds the compensator.
func NewService(conn *gorm.DB, gateway gatewayClient, logg *logger.Logger, m *metrics.WebhookMetrics) (*Service, error) {
	if conn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "db connection required")
	}
	if gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway client required")
	}
	return &Service{conn: conn, gateway: gateway, logg: logg, metrics: m}, nil
}

// CompensateStockFailure records the failure marker and issues the refund.
// The marker's unique session id makes the refund idempotent across webhook
// redeliveries: only the first caller for a session reaches the gateway.
// Runs in its own short transaction, strictly outside the fulfillment
// transaction, so the gateway call never holds stock row locks.
func (s *Service) CompensateStockFailure(ctx context.Context, failure StockFailure) error {
	if failure.SessionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}

	marker := models.FulfillmentFailure{
		CheckoutSessionID: failure.SessionID,
		Reason:            enums.FailureReasonStockUnavailable,
		ProductName:       failure.ProductName,
		AmountCents:       failure.AmountCents,
		Currency:          failure.Currency,
	}
	if err := s.conn.WithContext(ctx).Create(&marker).Error; err != nil {
		if db.IsUniqueViolation(err, "fulfillment_failures_session_key") {
			var existing models.FulfillmentFailure
			if err := s.conn.WithContext(ctx).
				Where("checkout_session_id = ?", failure.SessionID).
				First(&existing).Error; err != nil {
				s.metrics.IncRefund("failed")
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load fulfillment failure marker")
			}
			return s.issueRefund(ctx, existing.ID, failure)
		}
		s.metrics.IncRefund("failed")
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record fulfillment failure")
	}

	return s.issueRefund(ctx, marker.ID, failure)
}

// issueRefund claims the marker and calls the gateway at most once per claim.
// The conditional update takes the marker's row lock, so concurrent deliveries
// for the same session serialize here: the loser blocks, then sees
// refund_issued already set and skips. A gateway failure rolls the claim back
// so a later delivery can retry. The transaction holds only the marker row,
// never stock rows.
func (s *Service) issueRefund(ctx context.Context, markerID uuid.UUID, failure StockFailure) error {
	var refundID string
	claimed := false
	err := s.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.FulfillmentFailure{}).
			Where("id = ? AND refund_issued = ?", markerID, false).
			UpdateColumn("refund_issued", true)
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "claim fulfillment failure marker")
		}
		if res.RowsAffected == 0 {
			return nil
		}
		claimed = true

		refund, err := s.gateway.CreateRefund(ctx, failure.PaymentIntentID, failure.AmountCents, map[string]string{
			"reason":              string(enums.FailureReasonStockUnavailable),
			"checkout_session_id": failure.SessionID,
			"product_name":        failure.ProductName,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund")
		}
		refundID = refund.ID

		if err := tx.Model(&models.FulfillmentFailure{}).
			Where("id = ?", markerID).
			UpdateColumn("refund_id", refund.ID).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund id")
		}
		return nil
	})
	if err != nil {
		s.metrics.IncRefund("failed")
		return err
	}

	if !claimed {
		if s.logg != nil {
			s.logg.Info(s.logg.WithSessionID(ctx, failure.SessionID), "refund already issued for session, skipping")
		}
		s.metrics.IncRefund("skipped")
		return nil
	}

	s.metrics.IncRefund("issued")
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"checkout_session_id": failure.SessionID,
			"refund_id":           refundID,
			"amount_cents":        failure.AmountCents,
		})
		s.logg.Info(ctx, "compensating refund issued")
	}
	return nil
}
