package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/eventpass-backend/api/routes"
	"github.com/angelmondragon/eventpass-backend/internal/commissions"
	"github.com/angelmondragon/eventpass-backend/internal/notifications"
	"github.com/angelmondragon/eventpass-backend/internal/payments"
	"github.com/angelmondragon/eventpass-backend/internal/registrations"
	"github.com/angelmondragon/eventpass-backend/internal/scans"
	"github.com/angelmondragon/eventpass-backend/internal/waitlist"
	"github.com/angelmondragon/eventpass-backend/pkg/config"
	"github.com/angelmondragon/eventpass-backend/pkg/db"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/migrate"
	"github.com/angelmondragon/eventpass-backend/pkg/redis"
	"github.com/angelmondragon/eventpass-backend/pkg/stripe"
)

// webhookDedupeTTL bounds how long a processed Stripe event id is remembered.
// Stripe retries for up to three days, so the mark must outlive the retries.
const webhookDedupeTTL = 72 * time.Hour

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	gateway, err := payments.NewStripeGateway(stripeClient, cfg.Stripe)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway", err)
		os.Exit(1)
	}

	notifier := notifications.NewLogNotifier(logg)

	commissionService, err := commissions.NewService(commissions.ServiceParams{
		Repo:   commissions.NewRepository(dbClient.DB()),
		Policy: cfg.Commission,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create commission service", err)
		os.Exit(1)
	}

	allocator, err := waitlist.NewAllocator(waitlist.AllocatorParams{
		Repo:     waitlist.NewRepository(dbClient.DB()),
		DB:       dbClient,
		Gateway:  gateway,
		Notifier: notifier,
		Booking:  cfg.Booking,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create waitlist allocator", err)
		os.Exit(1)
	}

	registrationService, err := registrations.NewService(registrations.ServiceParams{
		Repo:      registrations.NewRepository(dbClient.DB()),
		DB:        dbClient,
		Gateway:   gateway,
		Allocator: allocator,
		Notifier:  notifier,
		Booking:   cfg.Booking,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create registration service", err)
		os.Exit(1)
	}

	paymentService, err := payments.NewService(payments.ServiceParams{
		Repo:        payments.NewRepository(dbClient.DB()),
		DB:          dbClient,
		Gateway:     gateway,
		Commissions: commissionService,
		Allocator:   allocator,
		Notifier:    notifier,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment service", err)
		os.Exit(1)
	}

	scanService, err := scans.NewService(scans.ServiceParams{
		DB:     dbClient,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create scan service", err)
		os.Exit(1)
	}

	webhookGuard, err := payments.NewIdempotencyGuard(redisClient, webhookDedupeTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			registrationService,
			paymentService,
			scanService,
			stripeClient,
			webhookGuard,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
