// Package main is the entry point for the Opsight API server.
//
// It loads configuration, connects the PostgreSQL pool, constructs the
// payment/AI/email provider clients, and wires the domain handlers into the
// core chassis (middleware, routing, health checks) before listening for
// requests. Graceful shutdown is handled via OS signal interception
// (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"opsight/internal/api/handlers"
	"opsight/internal/auth"
	"opsight/internal/billing"
	"opsight/internal/config"
	"opsight/internal/core"
	"opsight/internal/db"
	"opsight/internal/external"
	"opsight/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("opsight API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database pool. Owned by run(); closed on the way out.
	pool, err := db.Connect(ctx, cfg.Database.URL.Unmask(), db.PoolConfig{
		MaxConns:          int32(cfg.Database.MaxConns),
		MinConns:          int32(cfg.Database.MinConns),
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	userRepo := db.NewUserRepo(pool)
	sessionRepo := db.NewSessionRepo(pool)
	subscriptionRepo := db.NewSubscriptionRepo(pool)
	usageRepo := db.NewUsageRepo(pool)
	alertRepo := db.NewAlertRepo(pool)
	uploadRepo := db.NewUploadRepo(pool)

	// Auth services.
	sessionCfg := auth.DefaultSessionConfig()
	sessionCfg.SessionDuration = cfg.Auth.SessionTTL
	sessionSvc := auth.NewSessionService(
		sessionRepo,
		auth.NewCryptoTokenGenerator(),
		sessionCfg,
		types.RealClock{},
		logger,
	)
	authSvc := auth.NewService(userRepo, sessionSvc, auth.NewBcryptHasher(cfg.Auth.BcryptCost), logger)

	// Provider clients.
	httpClient := &http.Client{Timeout: 20 * time.Second}
	stripeClient := external.NewStripeClient(httpClient, external.StripeClientConfig{
		SecretKey: cfg.Stripe.SecretKey.Unmask(),
		Logger:    logger,
	})
	paypalSDK, err := external.NewPayPalSDKClient(external.PayPalClientConfig{
		ClientID: cfg.PayPal.ClientID,
		Secret:   cfg.PayPal.Secret.Unmask(),
		Live:     cfg.PayPal.Live,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("constructing PayPal client: %w", err)
	}
	paypalClient := external.NewPayPalClientWithAPI(paypalSDK, logger)
	razorpayClient := external.NewRazorpayClient(external.RazorpayClientConfig{
		KeyID:     cfg.Razorpay.KeyID,
		KeySecret: cfg.Razorpay.KeySecret.Unmask(),
		Logger:    logger,
	})
	openaiClient := external.NewOpenAIClient(external.OpenAIClientConfig{
		APIKey:  cfg.AI.OpenAIAPIKey.Unmask(),
		Model:   cfg.AI.Model,
		Timeout: cfg.AI.Timeout,
		Logger:  logger,
	})
	sendgridClient := external.NewSendGridClient(&http.Client{Timeout: 10 * time.Second}, external.SendGridClientConfig{
		APIKey: cfg.Email.SendGridAPIKey.Unmask(),
		Logger: logger,
	})

	// Billing state machine shared by all three webhook adapters.
	planRegistry := billing.NewStaticPlanRegistry()
	processor := billing.NewEventProcessor(subscriptionRepo, usageRepo, planRegistry, types.RealClock{}, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = handlers.NewSessionAuthenticator(sessionSvc, userRepo)

	nudger := handlers.NewUpgradeNudger(
		sendgridClient,
		types.SenderIdentity{Name: cfg.Email.FromName, Address: cfg.Email.FromAddress},
		logger,
	)

	authHandler := handlers.NewAuthHandler(authSvc, srv.Validator, handlers.CookieSettings{
		Name:   cfg.Auth.SessionCookieName,
		Secure: cfg.Auth.CookieSecure,
		MaxAge: cfg.Auth.SessionTTL,
	})
	insightsHandler := handlers.NewInsightsHandler(
		subscriptionRepo, usageRepo, openaiClient, nudger, srv.Validator, logger,
	)
	alertsHandler := handlers.NewAlertsHandler(
		alertRepo, subscriptionRepo, usageRepo, nudger, srv.Validator, types.RealClock{}, logger,
	)
	uploadsHandler := handlers.NewUploadsHandler(
		uploadRepo, subscriptionRepo, usageRepo, nudger, types.RealClock{}, logger,
	)
	billingHandler := handlers.NewBillingHandler(
		stripeClient, paypalClient, razorpayClient, planRegistry,
		handlers.CheckoutURLs{
			SuccessURL: cfg.Server.DashboardURL + "/billing/success",
			CancelURL:  cfg.Server.DashboardURL + "/billing/cancel",
		},
		srv.Validator, logger,
	)
	webhookHandler := handlers.NewWebhookHandler(
		processor, logger,
		external.NewStripeWebhookAdapter(cfg.Stripe.WebhookSecret.Unmask()),
		external.NewPayPalWebhookAdapter(paypalSDK, cfg.PayPal.WebhookID),
		external.NewRazorpayWebhookAdapter(cfg.Razorpay.WebhookSecret.Unmask()),
	)

	srv.V1PublicRegistrars = append(srv.V1PublicRegistrars, authHandler.RegisterPublicRoutes)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		authHandler.RegisterRoutes,
		insightsHandler.RegisterRoutes,
		alertsHandler.RegisterRoutes,
		uploadsHandler.RegisterRoutes,
		billingHandler.RegisterRoutes,
	)
	srv.WebhookRegistrars = append(srv.WebhookRegistrars, webhookHandler.RegisterRoutes)
	srv.MountRoutes()

	return runHTTPServer(ctx, srv, cfg, logger)
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
// The passed context is cancelled on SIGINT/SIGTERM.
func runHTTPServer(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
