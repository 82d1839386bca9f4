package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/rahulmenon/orderdesk/internal/address"
	"github.com/rahulmenon/orderdesk/internal/cart"
	"github.com/rahulmenon/orderdesk/internal/catalog"
	"github.com/rahulmenon/orderdesk/internal/httpapi"
	"github.com/rahulmenon/orderdesk/internal/messaging"
	"github.com/rahulmenon/orderdesk/internal/orders"
	"github.com/rahulmenon/orderdesk/internal/payments"
	"github.com/rahulmenon/orderdesk/internal/telemetry"
)

const serviceName = "orderdesk-api"

func main() {
	ctx := context.Background()
	logger := telemetry.NewLogger()

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}
	authSecret := os.Getenv("AUTH_TOKEN_SECRET")
	if authSecret == "" {
		logger.Error("AUTH_TOKEN_SECRET environment variable is required")
		os.Exit(1)
	}
	paymentCfg := payments.Config{
		KeyID:         os.Getenv("RAZORPAY_KEY_ID"),
		KeySecret:     os.Getenv("RAZORPAY_KEY_SECRET"),
		WebhookSecret: os.Getenv("RAZORPAY_WEBHOOK_SECRET"),
	}
	if paymentCfg.KeyID == "" || paymentCfg.KeySecret == "" {
		logger.Error("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required")
		os.Exit(1)
	}
	gatewayURL := os.Getenv("RAZORPAY_BASE_URL")
	if gatewayURL == "" {
		gatewayURL = "https://api.razorpay.com"
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := runtime.Start(); err != nil {
		logger.Error("failed to start runtime instrumentation", "error", err)
	}

	db, err := telemetry.OpenDB("postgres", postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	// Events are optional: without brokers the services run with a nil
	// publisher and skip event emission.
	var orderPublisher orders.Publisher
	var paymentPublisher payments.Publisher
	if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
		producer := messaging.NewProducer(strings.Split(kafkaBrokers, ","))
		defer func() { _ = producer.Close() }()
		orderPublisher = producer
		paymentPublisher = producer
	}

	var dedup payments.Deduper
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer func() { _ = redisClient.Close() }()
		dedup = payments.NewRedisDeduper(redisClient)
	}

	repo := orders.NewRepository(db)
	orderService := orders.NewService(
		repo,
		cart.NewStore(db),
		catalog.NewReader(db),
		address.NewStore(db),
		orderPublisher,
		logger,
	)
	orderHandler := orders.NewHandler(orderService, logger)

	paymentService := payments.NewService(
		repo,
		payments.NewRazorpayGateway(gatewayURL, paymentCfg.KeyID, paymentCfg.KeySecret),
		dedup,
		paymentPublisher,
		logger,
		paymentCfg,
	)
	paymentHandler := payments.NewHandler(paymentService, logger)

	auth := httpapi.NewTokenAuthenticator(authSecret)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(telemetry.HTTPRouteMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Post("/payments/webhook", paymentHandler.HandleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(httpapi.RequireUser(auth))

		r.Post("/orders", orderHandler.HandleCreate)
		r.Get("/orders", orderHandler.HandleList)
		r.Get("/orders/{id}", orderHandler.HandleGet)
		r.Post("/orders/{id}/cancel", orderHandler.HandleCancel)
		r.Post("/orders/{id}/return", orderHandler.HandleReturn)
		r.Get("/orders/{id}/track", orderHandler.HandleTrack)

		r.Post("/payments/create-order", paymentHandler.HandleCreateOrder)
		r.Post("/payments/verify", paymentHandler.HandleVerify)
		r.Get("/payments/status/{orderID}", paymentHandler.HandleStatus)

		r.Group(func(r chi.Router) {
			r.Use(httpapi.RequireAdmin)

			r.Get("/admin/orders", orderHandler.HandleAdminList)
			r.Patch("/admin/orders/{id}", orderHandler.HandleAdminUpdate)
			r.Post("/admin/orders/{id}/approve-return", orderHandler.HandleApproveReturn)
			r.Post("/admin/orders/{id}/reject-return", orderHandler.HandleRejectReturn)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(r, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
				return req.Method + " " + req.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting api service", "port", port)
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
