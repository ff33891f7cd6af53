package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/eventpass-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/eventpass-backend/api/controllers/webhooks"
	"github.com/angelmondragon/eventpass-backend/api/middleware"
	"github.com/angelmondragon/eventpass-backend/internal/payments"
	"github.com/angelmondragon/eventpass-backend/internal/registrations"
	"github.com/angelmondragon/eventpass-backend/internal/scans"
	"github.com/angelmondragon/eventpass-backend/pkg/config"
	"github.com/angelmondragon/eventpass-backend/pkg/db"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/redis"
	"github.com/angelmondragon/eventpass-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	registrationService registrations.Service,
	paymentService payments.Service,
	scanService scans.Service,
	stripeClient *stripe.Client,
	stripeWebhookGuard *payments.IdempotencyGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(paymentService, stripeClient, stripeWebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/registrations", func(r chi.Router) {
			r.Post("/", controllers.RegistrationCreate(registrationService, logg))
			r.Get("/{registrationId}", controllers.RegistrationDetail(registrationService, logg))
			r.Post("/{registrationId}/cancel", controllers.RegistrationCancel(registrationService, logg))
			r.Post("/{registrationId}/confirm", controllers.RegistrationConfirm(paymentService, logg))
		})
		r.Post("/tickets/verify", controllers.TicketVerify(scanService, logg))
	})

	return r
}
