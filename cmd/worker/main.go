package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/librora/bookstore/internal/domain"
	"github.com/librora/bookstore/internal/messaging"
	"github.com/librora/bookstore/internal/telemetry"
	"github.com/librora/bookstore/internal/worker"
)

const (
	serviceName    = "bookstore-worker"
	serviceVersion = "0.1.0"
	consumerGroup  = "bookstore-notifications"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := telemetry.NewLogger(os.Stdout)

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}
	brokers := strings.Split(kafkaBrokers, ",")

	emailServiceURL := os.Getenv("EMAIL_SERVICE_URL")
	if emailServiceURL == "" {
		logger.Error("EMAIL_SERVICE_URL environment variable is required")
		os.Exit(1)
	}

	staffEmail := os.Getenv("STAFF_EMAIL")
	if staffEmail == "" {
		staffEmail = "staff@bookstore.local"
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	notifier := worker.NewNotifier(emailServiceURL, staffEmail, httpClient, logger)

	consumers := []struct {
		topic   string
		handler func(ctx context.Context, payload []byte) error
	}{
		{domain.TopicOrderSubmitted, notifier.HandleSubmitted},
		{domain.TopicOrderReviewed, notifier.HandleReviewed},
	}

	var wg sync.WaitGroup
	for _, c := range consumers {
		consumer := messaging.NewConsumer(brokers, c.topic, consumerGroup)
		handler := c.handler
		topic := c.topic

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { _ = consumer.Close() }()

			logger.Info("consuming", "topic", topic, "group", consumerGroup)
			if err := consumer.Consume(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("consumer stopped", "error", err, "topic", topic)
				cancel()
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down")
	case <-ctx.Done():
	}

	cancel()
	wg.Wait()
}
