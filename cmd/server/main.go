package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/librora/bookstore/internal/auth"
	"github.com/librora/bookstore/internal/catalog"
	"github.com/librora/bookstore/internal/domain"
	"github.com/librora/bookstore/internal/files"
	"github.com/librora/bookstore/internal/messaging"
	"github.com/librora/bookstore/internal/orders"
	"github.com/librora/bookstore/internal/telemetry"
)

const (
	serviceName    = "bookstore-api"
	serviceVersion = "0.1.0"
	sessionTTL     = 24 * time.Hour
)

func main() {
	ctx := context.Background()
	logger := telemetry.NewLogger(os.Stdout)

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := otelruntime.Start(); err != nil {
		logger.Error("failed to start runtime instrumentation", "error", err)
		os.Exit(1)
	}

	db, err := telemetry.OpenDB("postgres", postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() { _ = redisClient.Close() }()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	mediaDir := os.Getenv("MEDIA_DIR")
	if mediaDir == "" {
		mediaDir = "media"
	}
	mediaBaseURL := os.Getenv("MEDIA_BASE_URL")
	if mediaBaseURL == "" {
		mediaBaseURL = "/media"
	}
	fileStore, err := files.NewStore(mediaDir, mediaBaseURL)
	if err != nil {
		logger.Error("failed to initialize file store", "error", err)
		os.Exit(1)
	}

	var submittedPub, reviewedPub orders.Publisher
	if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
		brokers := strings.Split(kafkaBrokers, ",")

		sp := messaging.NewProducer(brokers, domain.TopicOrderSubmitted)
		defer func() { _ = sp.Close() }()
		submittedPub = sp

		rp := messaging.NewProducer(brokers, domain.TopicOrderReviewed)
		defer func() { _ = rp.Close() }()
		reviewedPub = rp
	}

	allowEmptyCheckout := os.Getenv("ALLOW_EMPTY_CHECKOUT") != "false"

	sessions := auth.NewRedisSessionStore(redisClient, sessionTTL)
	authMiddleware := auth.NewMiddleware(sessions, logger)
	authHandler := auth.NewHandler(db, sessions, logger)

	catalogRepo := catalog.NewRepository(db)
	catalogHandler := catalog.NewHandler(catalogRepo, fileStore, logger)

	orderRepo := orders.NewRepository(db, orders.WithEmptyCheckout(allowEmptyCheckout))
	orderHandler := orders.NewHandler(orderRepo, fileStore, submittedPub, reviewedPub, logger)

	mux := http.NewServeMux()
	route := func(pattern string, handler http.HandlerFunc) {
		mux.HandleFunc(pattern, telemetry.WithHTTPRoute(handler))
	}

	route("POST /auth/register", authHandler.HandleRegister)
	route("POST /auth/login", authHandler.HandleLogin)
	route("POST /auth/logout", authHandler.HandleLogout)
	route("GET /auth/me", authHandler.HandleMe)
	route("GET /auth/csrf", authHandler.HandleCSRF)
	route("GET /users", authHandler.HandleListUsers)

	route("GET /books", catalogHandler.HandleListBooks)
	route("POST /books", catalogHandler.HandleCreateBook)
	route("GET /books/top", catalogHandler.HandleTopBooks)
	route("GET /books/{id}", catalogHandler.HandleGetBook)
	route("PUT /books/{id}", catalogHandler.HandleUpdateBook)
	route("DELETE /books/{id}", catalogHandler.HandleDeleteBook)
	route("POST /books/{id}/cover", catalogHandler.HandleUploadCover)

	route("GET /genres", catalogHandler.HandleListGenres)
	route("POST /genres", catalogHandler.HandleCreateGenre)
	route("GET /genres/{id}", catalogHandler.HandleGetGenre)
	route("PUT /genres/{id}", catalogHandler.HandleUpdateGenre)
	route("DELETE /genres/{id}", catalogHandler.HandleDeleteGenre)

	route("GET /orders", orderHandler.HandleList)
	route("GET /orders/my-cart", orderHandler.HandleMyCart)
	route("GET /orders/{id}", orderHandler.HandleGet)
	route("POST /orders/{id}/items", orderHandler.HandleAddItems)
	route("DELETE /orders/{id}/items/{lineId}", orderHandler.HandleRemoveLine)
	route("POST /orders/{id}/checkout", orderHandler.HandleCheckout)
	route("POST /orders/{id}/proof", orderHandler.HandleUploadProof)
	route("PATCH /orders/{id}", orderHandler.HandleUpdateStatus)

	mux.Handle("GET /metrics", metricsHandler)
	mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.Dir(fileStore.Dir()))))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(authMiddleware.Wrap(mux), serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting bookstore api", "port", port)
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
