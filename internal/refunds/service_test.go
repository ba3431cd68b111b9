package refunds

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/shopforge/storefront-backend/pkg/db/models"
	"github.com/shopforge/storefront-backend/pkg/enums"
	"github.com/shopforge/storefront-backend/pkg/logger"
)

const uuidDefault = `(lower(hex(randomblob(4))) || '-' || lower(hex(randomblob(2))) || '-' || lower(hex(randomblob(2))) || '-' || lower(hex(randomblob(2))) || '-' || lower(hex(randomblob(6))))`

func setupRefundsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	stmt := fmt.Sprintf(`CREATE TABLE fulfillment_failures (
  id TEXT PRIMARY KEY DEFAULT %s,
  checkout_session_id TEXT NOT NULL,
  reason TEXT NOT NULL,
  product_name TEXT,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  refund_id TEXT,
  refund_issued INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME,
  CONSTRAINT fulfillment_failures_session_key UNIQUE (checkout_session_id)
);`, uuidDefault)
	require.NoError(t, conn.Exec(stmt).Error)
	return conn
}

type recordingGateway struct {
	calls    int
	failNext bool
	lastMeta map[string]string
}

func (g *recordingGateway) CreateRefund(ctx context.Context, paymentIntentID string, amountCents int64, metadata map[string]string) (*stripe.Refund, error) {
	if g.failNext {
		g.failNext = false
		return nil, fmt.Errorf("gateway unavailable")
	}
	g.calls++
	g.lastMeta = metadata
	return &stripe.Refund{ID: fmt.Sprintf("re_%d", g.calls)}, nil
}

func testFailure(sessionID string) StockFailure {
	return StockFailure{
		SessionID:       sessionID,
		PaymentIntentID: "pi_test",
		AmountCents:     3240,
		Currency:        enums.Currency("USD"),
		ProductName:     "Mug",
	}
}

func TestCompensateStockFailure_IssuesRefundOnce(t *testing.T) {
	conn := setupRefundsTestDB(t)
	gateway := &recordingGateway{}
	svc, err := NewService(conn, gateway, logger.New(logger.Options{ServiceName: "test"}), nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, svc.CompensateStockFailure(ctx, testFailure("cs_1")))
	assert.Equal(t, 1, gateway.calls)
	assert.Equal(t, "cs_1", gateway.lastMeta["checkout_session_id"])
	assert.Equal(t, "stock_unavailable", gateway.lastMeta["reason"])

	var marker models.FulfillmentFailure
	require.NoError(t, conn.Where("checkout_session_id = ?", "cs_1").First(&marker).Error)
	assert.True(t, marker.RefundIssued)
	require.NotNil(t, marker.RefundID)
	assert.Equal(t, "re_1", *marker.RefundID)

	// Redelivery for the same session must not reach the gateway again.
	require.NoError(t, svc.CompensateStockFailure(ctx, testFailure("cs_1")))
	assert.Equal(t, 1, gateway.calls)
}

func TestCompensateStockFailure_RetriesAfterGatewayFailure(t *testing.T) {
	conn := setupRefundsTestDB(t)
	gateway := &recordingGateway{failNext: true}
	svc, err := NewService(conn, gateway, logger.New(logger.Options{ServiceName: "test"}), nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.Error(t, svc.CompensateStockFailure(ctx, testFailure("cs_2")))
	assert.Equal(t, 0, gateway.calls)

	// The marker exists without a refund; the next delivery retries the call.
	require.NoError(t, svc.CompensateStockFailure(ctx, testFailure("cs_2")))
	assert.Equal(t, 1, gateway.calls)

	var marker models.FulfillmentFailure
	require.NoError(t, conn.Where("checkout_session_id = ?", "cs_2").First(&marker).Error)
	assert.True(t, marker.RefundIssued)
}

func TestCompensateStockFailure_ClaimedMarkerNeverReachesGateway(t *testing.T) {
	conn := setupRefundsTestDB(t)
	gateway := &recordingGateway{}
	svc, err := NewService(conn, gateway, logger.New(logger.Options{ServiceName: "test"}), nil)
	require.NoError(t, err)
	ctx := context.Background()

	// A marker another delivery already claimed and refunded. The conditional
	// claim must see refund_issued and skip the gateway, even though this
	// delivery loaded the marker believing it still had work to do.
	refundID := "re_prior"
	marker := models.FulfillmentFailure{
		CheckoutSessionID: "cs_3",
		Reason:            enums.FailureReasonStockUnavailable,
		ProductName:       "Mug",
		AmountCents:       3240,
		Currency:          enums.Currency("USD"),
		RefundID:          &refundID,
		RefundIssued:      true,
	}
	require.NoError(t, conn.Create(&marker).Error)

	require.NoError(t, svc.CompensateStockFailure(ctx, testFailure("cs_3")))
	assert.Equal(t, 0, gateway.calls)

	var reloaded models.FulfillmentFailure
	require.NoError(t, conn.Where("checkout_session_id = ?", "cs_3").First(&reloaded).Error)
	require.NotNil(t, reloaded.RefundID)
	assert.Equal(t, "re_prior", *reloaded.RefundID)
}

func TestCompensateStockFailure_SessionIDRequired(t *testing.T) {
	conn := setupRefundsTestDB(t)
	svc, err := NewService(conn, &recordingGateway{}, nil, nil)
	require.NoError(t, err)

	require.Error(t, svc.CompensateStockFailure(context.Background(), StockFailure{}))
}
