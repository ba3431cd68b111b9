package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shopforge/storefront-backend/api/controllers"
	ordercontrollers "github.com/shopforge/storefront-backend/api/controllers/orders"
	webhookcontrollers "github.com/shopforge/storefront-backend/api/controllers/webhooks"
	"github.com/shopforge/storefront-backend/api/middleware"
	"github.com/shopforge/storefront-backend/internal/fulfillment"
	"github.com/shopforge/storefront-backend/internal/orders"
	"github.com/shopforge/storefront-backend/pkg/config"
	"github.com/shopforge/storefront-backend/pkg/db"
	"github.com/shopforge/storefront-backend/pkg/logger"
	"github.com/shopforge/storefront-backend/pkg/metrics"
	"github.com/shopforge/storefront-backend/pkg/redis"
	"github.com/shopforge/storefront-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	stripeClient *stripe.Client,
	fulfillmentSvc *fulfillment.Service,
	eventGuard *fulfillment.EventGuard,
	ordersSvc orders.Service,
	webhookMetrics *metrics.WebhookMetrics,
	registry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, dbP, redisClient, logg))
	})

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(fulfillmentSvc, stripeClient, eventGuard, webhookMetrics, logg))
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Get("/{orderID}", ordercontrollers.Detail(ordersSvc, logg))
		r.Get("/by-number/{orderNumber}", ordercontrollers.DetailByNumber(ordersSvc, logg))
	})

	return r
}
