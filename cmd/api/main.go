package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"tienda/internal/config"
	"tienda/internal/coupon"
	"tienda/internal/database"
	"tienda/internal/gateway/mercadopago"
	"tienda/internal/handler"
	"tienda/internal/notify"
	"tienda/internal/reconciler"
	"tienda/internal/repository"
	"tienda/internal/router"
	"tienda/internal/scheduler"
	"tienda/internal/service"
	"tienda/internal/shipping/andreani"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	logger := config.NewLogger(cfg.Logger)
	logger.Info().Msg("starting tienda API server")

	// Create context for application lifecycle
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	pool, err := database.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer pool.Close()

	// Initialize Redis for webhook dedup and order broadcasts
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// Initialize repositories
	productRepo := repository.NewProductRepository(pool, logger)
	orderRepo := repository.NewOrderRepository(pool, logger)
	paymentRepo := repository.NewPaymentRepository(pool, logger)
	cartRepo := repository.NewCartRepository(pool, logger)
	couponRepo := repository.NewCouponRepository(pool, logger)
	outboxRepo := repository.NewOutboxRepository(pool, logger)

	// Initialize external clients
	mpClient, err := mercadopago.NewClient(cfg.MercadoPago, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize payment gateway client: %w", err)
	}
	shippingClient, err := andreani.NewClient(cfg.Andreani, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize shipping client: %w", err)
	}

	// Initialize services
	validator := coupon.NewValidator(couponRepo, logger)
	cartService := service.NewCartService(cartRepo, productRepo, cfg.Order.CartTTL, logger)
	checkoutService := service.NewCheckoutService(
		orderRepo, productRepo, paymentRepo, cartRepo, couponRepo, outboxRepo,
		validator, mpClient, cfg.Order, cfg.MercadoPago, logger,
	)
	orderService := service.NewOrderService(orderRepo, productRepo, paymentRepo, outboxRepo, logger)

	// Initialize the webhook reconciler
	seenStore := reconciler.NewRedisSeenStore(rdb, cfg.Redis.DedupTTL)
	rec := reconciler.New(orderRepo, paymentRepo, productRepo, outboxRepo, mpClient, seenStore, logger)

	// Initialize background workers
	sweeper := scheduler.NewSweeper(orderRepo, productRepo, cartRepo, outboxRepo, cfg.Order, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	mailer := notify.NewSMTPMailer(cfg.SMTP, logger)
	broadcaster := notify.NewRedisBroadcaster(rdb, logger)
	worker := notify.NewWorker(outboxRepo, orderRepo, mailer, broadcaster, shippingClient, logger)
	worker.Start(ctx)
	defer worker.Stop()

	// Initialize HTTP handlers
	cartHandler := handler.NewCartHandler(cartService, logger)
	checkoutHandler := handler.NewCheckoutHandler(checkoutService, logger)
	orderHandler := handler.NewOrderHandler(orderService, logger)
	webhookHandler := handler.NewWebhookHandler(rec, logger)

	// Initialize router
	mux := router.New(cartHandler, checkoutHandler, orderHandler, webhookHandler, cfg.Auth.APIKey, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Channel to listen for errors from the server
	serverErrors := make(chan error, 1)

	// Start HTTP server in a goroutine
	go func() {
		logger.Info().
			Str("address", cfg.Server.Address()).
			Msg("HTTP server started")
		serverErrors <- server.ListenAndServe()
	}()

	// Channel to listen for interrupt signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or an error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info().
			Str("signal", sig.String()).
			Msg("shutdown signal received, starting graceful shutdown")

		// Create a context with timeout for shutdown
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		// Attempt graceful shutdown. The deferred worker and sweeper
		// stops run after the listener drains so in-flight webhook
		// transactions finish before the pool closes.
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown server gracefully")
			// Force close
			if closeErr := server.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close server")
			}
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		logger.Info().Msg("server shutdown completed")
	}

	return nil
}
