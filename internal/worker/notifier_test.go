package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/librora/bookstore/internal/domain"
)

type sentEmail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func newEmailServer(t *testing.T, sent *[]sentEmail) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/send" {
			t.Errorf("expected /send, got %s", r.URL.Path)
		}
		var email sentEmail
		if err := json.NewDecoder(r.Body).Decode(&email); err != nil {
			t.Errorf("failed to decode email request: %v", err)
		}
		*sent = append(*sent, email)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"sent","message_id":"m-1"}`))
	}))
}

func eventPayload(t *testing.T, event domain.OrderEvent) []byte {
	t.Helper()
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return data
}

func newTestNotifier(url string) *Notifier {
	return NewNotifier(url, "staff@bookstore.local", http.DefaultClient,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNotifier_HandleSubmitted(t *testing.T) {
	t.Run("emails staff about the pending review", func(t *testing.T) {
		var sent []sentEmail
		server := newEmailServer(t, &sent)
		defer server.Close()

		notifier := newTestNotifier(server.URL)
		payload := eventPayload(t, domain.OrderEvent{
			OrderID:  "order-1",
			Username: "alice",
			Status:   domain.OrderStatusSubmitted,
			Total:    decimal.RequireFromString("42.50"),
		})

		if err := notifier.HandleSubmitted(context.Background(), payload); err != nil {
			t.Fatalf("HandleSubmitted failed: %v", err)
		}

		if len(sent) != 1 {
			t.Fatalf("expected 1 email, got %d", len(sent))
		}
		if sent[0].To != "staff@bookstore.local" {
			t.Errorf("expected staff recipient, got %s", sent[0].To)
		}
	})

	t.Run("malformed payload is an error", func(t *testing.T) {
		notifier := newTestNotifier("http://unused")
		if err := notifier.HandleSubmitted(context.Background(), []byte("{")); err == nil {
			t.Error("expected error for malformed payload")
		}
	})

	t.Run("email service failure propagates", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		notifier := newTestNotifier(server.URL)
		payload := eventPayload(t, domain.OrderEvent{OrderID: "order-1"})

		if err := notifier.HandleSubmitted(context.Background(), payload); err == nil {
			t.Error("expected error when email service fails")
		}
	})
}

func TestNotifier_HandleReviewed(t *testing.T) {
	t.Run("confirmed order emails the customer", func(t *testing.T) {
		var sent []sentEmail
		server := newEmailServer(t, &sent)
		defer server.Close()

		notifier := newTestNotifier(server.URL)
		payload := eventPayload(t, domain.OrderEvent{
			OrderID:   "order-1",
			UserEmail: "alice@example.com",
			Status:    domain.OrderStatusConfirmed,
			Total:     decimal.RequireFromString("42.50"),
		})

		if err := notifier.HandleReviewed(context.Background(), payload); err != nil {
			t.Fatalf("HandleReviewed failed: %v", err)
		}

		if len(sent) != 1 {
			t.Fatalf("expected 1 email, got %d", len(sent))
		}
		if sent[0].To != "alice@example.com" {
			t.Errorf("expected customer recipient, got %s", sent[0].To)
		}
	})

	t.Run("rejected order emails the customer", func(t *testing.T) {
		var sent []sentEmail
		server := newEmailServer(t, &sent)
		defer server.Close()

		notifier := newTestNotifier(server.URL)
		payload := eventPayload(t, domain.OrderEvent{
			OrderID:   "order-1",
			UserEmail: "alice@example.com",
			Status:    domain.OrderStatusRejected,
		})

		if err := notifier.HandleReviewed(context.Background(), payload); err != nil {
			t.Fatalf("HandleReviewed failed: %v", err)
		}
		if len(sent) != 1 {
			t.Fatalf("expected 1 email, got %d", len(sent))
		}
	})

	t.Run("unexpected status is ignored", func(t *testing.T) {
		var sent []sentEmail
		server := newEmailServer(t, &sent)
		defer server.Close()

		notifier := newTestNotifier(server.URL)
		payload := eventPayload(t, domain.OrderEvent{
			OrderID: "order-1",
			Status:  domain.OrderStatusCart,
		})

		if err := notifier.HandleReviewed(context.Background(), payload); err != nil {
			t.Fatalf("HandleReviewed failed: %v", err)
		}
		if len(sent) != 0 {
			t.Errorf("expected no email, got %d", len(sent))
		}
	})
}
