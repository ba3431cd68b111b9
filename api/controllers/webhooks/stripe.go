package webhooks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/shopforge/storefront-backend/api/responses"
	"github.com/shopforge/storefront-backend/internal/fulfillment"
	pkgerrors "github.com/shopforge/storefront-backend/pkg/errors"
	"github.com/shopforge/storefront-backend/pkg/logger"
	"github.com/shopforge/storefront-backend/pkg/metrics"
)

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event stripe.Event) (*fulfillment.Outcome, error)
}

type stripeWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type stripeClient interface {
	SigningSecret() string
	Tolerance() time.Duration
}

// webhookResponse is the exact body shape the payment gateway expects. It is
// not wrapped in the API envelope.
type webhookResponse struct {
	Received bool   `json:"received"`
	OrderID  string `json:"orderId,omitempty"`
	Error    string `json:"error,omitempty"`
	Message  string `json:"message,omitempty"`
}

// StripeWebhook receives checkout session events and drives fulfillment.
// Contract: 400 for unverifiable deliveries (no retry wanted), 200 for
// everything handled to completion, 500 only when a retry should happen.
func StripeWebhook(svc StripeWebhookService, client stripeClient, guard stripeWebhookGuard, m *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEventWithTolerance(payload, sigHeader, client.SigningSecret(), client.Tolerance())
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook signature"))
			return
		}

		alreadyProcessed, err := guard.CheckAndMark(ctx, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			if logg != nil {
				logg.Info(ctx, fmt.Sprintf("stripe event %s already processed, replaying acknowledgement", event.ID))
			}
			m.ObserveEvent(string(event.Type), "duplicate_event")
			responses.WriteJSON(w, http.StatusOK, webhookResponse{Received: true})
			return
		}

		start := time.Now()
		outcome, err := svc.HandleEvent(ctx, event)
		if err != nil {
			// Releasing the guard mark lets the gateway's retry reach the
			// handler again.
			_ = guard.Delete(ctx, event.ID)
			m.ObserveEvent(string(event.Type), "error")
			m.ObserveFulfillment("error", time.Since(start))
			responses.WriteError(ctx, logg, w, err)
			return
		}

		m.ObserveEvent(string(event.Type), string(outcome.Status))
		m.ObserveFulfillment(string(outcome.Status), time.Since(start))

		switch outcome.Status {
		case fulfillment.StatusStockFailure:
			_ = guard.Delete(ctx, event.ID)
			responses.WriteJSON(w, http.StatusInternalServerError, webhookResponse{
				Received: true,
				Error:    "Stock unavailable",
				Message:  outcome.StockErr.Error(),
			})
		case fulfillment.StatusFulfilled, fulfillment.StatusAlreadyFulfilled:
			if logg != nil {
				logg.Info(ctx, fmt.Sprintf("stripe event %s processed", event.ID))
			}
			responses.WriteJSON(w, http.StatusOK, webhookResponse{
				Received: true,
				OrderID:  outcome.Order.ID.String(),
			})
		default:
			responses.WriteJSON(w, http.StatusOK, webhookResponse{Received: true})
		}
	}
}
