package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/fastbite/payments/internal/checkout"
	"github.com/fastbite/payments/internal/config"
	"github.com/fastbite/payments/internal/database"
	"github.com/fastbite/payments/internal/gateway"
	"github.com/fastbite/payments/internal/messaging"
	"github.com/fastbite/payments/internal/recon"
	"github.com/fastbite/payments/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "checkout", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("checkout", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := runtime.Start(); err != nil {
		logger.Error("failed to start runtime metrics", "error", err)
		os.Exit(1)
	}

	reconMetrics, err := telemetry.NewReconcileMetrics()
	if err != nil {
		logger.Error("failed to create reconcile metrics", "error", err)
		os.Exit(1)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	httpClient := &http.Client{
		Timeout:   cfg.Gateway.RequestTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	gatewayClient := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.SecretKey, httpClient)
	verifier := gateway.NewWebhookVerifier(cfg.Gateway.WebhookSecret, cfg.Gateway.SignatureTolerance)

	var dispatcher recon.Dispatcher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := messaging.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() { _ = producer.Close() }()
		dispatcher = messaging.NewConfirmationDispatcher(producer)
	} else {
		logger.Warn("KAFKA_BROKERS not set, order confirmations will not be dispatched")
	}

	reconStore := recon.NewRepository(db)
	engine := recon.NewEngine(reconStore, dispatcher, reconMetrics, logger)
	reconHandler := recon.NewHandler(engine, gatewayClient, verifier, reconStore, reconMetrics, cfg.AdminToken, logger)

	checkoutRepo := checkout.NewRepository(db)
	checkoutService := checkout.NewService(checkoutRepo, gatewayClient, cfg.Gateway, logger)
	checkoutHandler := checkout.NewHandler(checkoutService, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /checkouts", telemetry.WithHTTPRoute(checkoutHandler.HandleStage))
	mux.HandleFunc("GET /checkouts/{id}", telemetry.WithHTTPRoute(checkoutHandler.HandleStatus))
	mux.HandleFunc("POST /api/payment/webhook", telemetry.WithHTTPRoute(reconHandler.HandleWebhook))
	mux.HandleFunc("GET /payment/return", telemetry.WithHTTPRoute(reconHandler.HandleReturn))
	mux.Handle("GET /metrics", metricsHandler)

	if !cfg.IsProduction() {
		mux.HandleFunc("POST /admin/checkouts/{id}/reconcile", telemetry.WithHTTPRoute(reconHandler.HandleForceReconcile))
		mux.HandleFunc("GET /admin/checkouts/pending", telemetry.WithHTTPRoute(reconHandler.HandleListPending))
		logger.Info("operator endpoints enabled", "environment", cfg.Environment)
	}

	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: otelhttp.NewHandler(mux, "checkout",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting checkout service", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
