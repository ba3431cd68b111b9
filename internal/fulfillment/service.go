package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/shopforge/storefront-backend/internal/carts"
	"github.com/shopforge/storefront-backend/internal/inventory"
	"github.com/shopforge/storefront-backend/internal/orders"
	"github.com/shopforge/storefront-backend/internal/refunds"
	"github.com/shopforge/storefront-backend/pkg/db"
	"github.com/shopforge/storefront-backend/pkg/db/models"
	pkgerrors "github.com/shopforge/storefront-backend/pkg/errors"
	"github.com/shopforge/storefront-backend/pkg/logger"
)

// Notifier sends the post-commit confirmation email.
type Notifier interface {
	SendConfirmation(ctx context.Context, order *models.Order) error
}

// ServiceParams carries the dependencies of the fulfillment service.
type ServiceParams struct {
	DB        *db.Client
	Carts     carts.Repository
	Orders    orders.Repository
	Refunds   *refunds.Service
	Notifier  Notifier
	Logger    *logger.Logger
	TxTimeout time.Duration
}

// Service converts settled checkout sessions into durable orders. All writes
// for one session happen in a single transaction; the unique session id index
// on orders arbitrates concurrent deliveries of the same session.
type Service struct {
	db        *db.Client
	carts     carts.Repository
	orders    orders.Repository
	refunds   *refunds.Service
	notifier  Notifier
	logg      *logger.Logger
	txTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("db client is required")
	}
	if params.Carts == nil {
		return nil, errors.New("carts repository is required")
	}
	if params.Orders == nil {
		return nil, errors.New("orders repository is required")
	}
	if params.Refunds == nil {
		return nil, errors.New("refunds service is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.TxTimeout <= 0 {
		params.TxTimeout = 30 * time.Second
	}
	return &Service{
		db:        params.DB,
		carts:     params.Carts,
		orders:    params.Orders,
		refunds:   params.Refunds,
		notifier:  params.Notifier,
		logg:      params.Logger,
		txTimeout: params.TxTimeout,
	}, nil
}

// accepted reports whether the event type participates in fulfillment.
func accepted(eventType stripe.EventType) bool {
	switch eventType {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return true
	}
	return false
}

// HandleEvent processes one verified webhook delivery and reports how it was
// resolved. The returned error is reserved for retryable failures; stock
// exhaustion comes back as StatusStockFailure with a nil error.
func (s *Service) HandleEvent(ctx context.Context, event stripe.Event) (*Outcome, error) {
	if !accepted(event.Type) {
		return &Outcome{Status: StatusIgnored}, nil
	}

	var raw stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &raw); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session payload")
	}
	session, err := sessionFromStripe(&raw)
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithSessionID(ctx, session.SessionID)

	// completed fires for async payment methods before the money settles; the
	// async_payment_succeeded delivery will carry payment_status=paid later.
	if !session.Paid() {
		s.logg.Info(ctx, "session not settled yet, acknowledging without fulfillment")
		return &Outcome{Status: StatusNotPaid}, nil
	}

	if existing, err := s.orders.FindBySessionID(ctx, session.SessionID); err != nil {
		return nil, err
	} else if existing != nil {
		s.logg.Info(ctx, "session already fulfilled, replaying acknowledgement")
		return &Outcome{Status: StatusAlreadyFulfilled, Order: existing}, nil
	}

	snapshot, err := s.carts.LoadSnapshot(ctx, session.CartID)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			// The cart is deleted on fulfillment, so a replay that lost the
			// session-id race can land here. The order lookup settles it.
			if existing, lookupErr := s.orders.FindBySessionID(ctx, session.SessionID); lookupErr == nil && existing != nil {
				return &Outcome{Status: StatusAlreadyFulfilled, Order: existing}, nil
			}
		}
		return nil, cartLoadError(err)
	}

	outcome, err := s.fulfill(ctx, session, snapshot)
	if err != nil {
		return nil, err
	}

	if outcome.Status == StatusFulfilled && s.notifier != nil {
		s.sendConfirmation(outcome.Order)
	}
	return outcome, nil
}

// cartLoadError re-grades cart-load failures to the retryable server-error
// class. A missing or empty cart for a paid session is broken upstream state,
// not client input; answering with a retryable 500 keeps it visible to
// monitoring, and the session-id guard makes the gateway's retry safe.
func cartLoadError(err error) error {
	typed := pkgerrors.As(err)
	if typed == nil {
		return err
	}
	switch typed.Code() {
	case pkgerrors.CodeNotFound, pkgerrors.CodeStateConflict, pkgerrors.CodeValidation:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart for fulfillment")
	}
	return err
}

// fulfill runs the single fulfillment transaction and resolves its failure
// modes: stock exhaustion triggers the compensator, a unique violation on the
// session id means a concurrent delivery won and its order is returned.
func (s *Service) fulfill(ctx context.Context, session *Session, snapshot *carts.Snapshot) (*Outcome, error) {
	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	var order *models.Order
	err := s.db.WithTx(txCtx, func(tx *gorm.DB) error {
		created, txErr := s.fulfillTx(txCtx, tx, session, snapshot)
		if txErr != nil {
			return txErr
		}
		order = created
		return nil
	})
	if err == nil {
		s.logg.Info(s.logg.WithField(ctx, "order_number", order.OrderNumber), "order fulfilled")
		return &Outcome{Status: StatusFulfilled, Order: order}, nil
	}

	var stockErr *inventory.StockUnavailableError
	if errors.As(err, &stockErr) {
		s.logg.Warn(s.logg.WithField(ctx, "product_name", stockErr.ProductName), "stock exhausted after capture, compensating")
		if refundErr := s.refunds.CompensateStockFailure(ctx, refunds.StockFailure{
			SessionID:       session.SessionID,
			PaymentIntentID: session.PaymentIntentID,
			AmountCents:     session.TotalCents,
			Currency:        session.Currency,
			ProductName:     stockErr.ProductName,
		}); refundErr != nil {
			// The failed delivery is answered with 500 either way; the gateway
			// retry gives the compensator another run.
			s.logg.Error(ctx, "compensating refund failed", refundErr)
		}
		return &Outcome{Status: StatusStockFailure, StockErr: stockErr}, nil
	}

	if db.IsUniqueViolation(err, "orders_checkout_session_id_key") {
		winner, lookupErr := s.orders.FindBySessionID(ctx, session.SessionID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if winner != nil {
			s.logg.Info(ctx, "concurrent delivery fulfilled session first")
			return &Outcome{Status: StatusAlreadyFulfilled, Order: winner}, nil
		}
	}

	return nil, err
}

// fulfillTx is the transaction body: decrement stock, allocate the order
// number, persist the order with captured totals, consume the cart.
func (s *Service) fulfillTx(ctx context.Context, tx *gorm.DB, session *Session, snapshot *carts.Snapshot) (*models.Order, error) {
	requirements := make([]inventory.LineRequirement, 0, len(snapshot.Lines))
	for _, line := range snapshot.Lines {
		requirements = append(requirements, inventory.LineRequirement{
			ProductID:   line.Product.ID,
			VariantID:   line.Line.VariantID,
			ProductName: line.ProductName(),
			Quantity:    line.Line.Quantity,
		})
	}
	if err := inventory.Decrement(ctx, tx, requirements); err != nil {
		return nil, err
	}

	txOrders := s.orders.WithTx(tx)
	orderNumber, err := txOrders.NextOrderNumber(ctx)
	if err != nil {
		return nil, err
	}

	shipping := session.Shipping
	order := &models.Order{
		OrderNumber:       orderNumber,
		UserID:            session.UserID,
		Email:             session.Email,
		SubtotalCents:     session.SubtotalCents,
		TotalCents:        session.TotalCents,
		Currency:          session.Currency,
		CheckoutSessionID: session.SessionID,
		PaymentIntentID:   session.PaymentIntentID,
	}
	if !shipping.Empty() {
		order.ShippingAddress = &shipping
	}

	items := make([]models.OrderItem, 0, len(snapshot.Lines))
	for _, line := range snapshot.Lines {
		items = append(items, models.OrderItem{
			ProductID:      line.Product.ID,
			VariantID:      line.Line.VariantID,
			ProductName:    line.ProductName(),
			UnitPriceCents: line.UnitPriceCents(),
			Quantity:       line.Line.Quantity,
		})
	}
	if err := txOrders.CreateWithItems(ctx, order, items); err != nil {
		return nil, err
	}

	if err := s.carts.WithTx(tx).Delete(ctx, session.CartID); err != nil {
		return nil, err
	}
	return order, nil
}

// sendConfirmation fires the email without blocking the webhook response. The
// request context dies with the HTTP response, so the send gets its own.
func (s *Service) sendConfirmation(order *models.Order) {
	logCtx := s.logg.WithField(
		s.logg.WithSessionID(context.Background(), order.CheckoutSessionID),
		"order_number", order.OrderNumber,
	)
	go func() {
		sendCtx, cancel := context.WithTimeout(logCtx, 30*time.Second)
		defer cancel()
		if err := s.notifier.SendConfirmation(sendCtx, order); err != nil {
			s.logg.Warn(logCtx, "confirmation email failed")
		}
	}()
}
