// Package worker turns order lifecycle events into notification emails:
// staff are told when an order awaits review, customers when their payment
// was confirmed or rejected.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/librora/bookstore/internal/domain"
)

type Notifier struct {
	emailServiceURL string
	staffEmail      string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewNotifier(emailServiceURL, staffEmail string, client *http.Client, logger *slog.Logger) *Notifier {
	return &Notifier{
		emailServiceURL: emailServiceURL,
		staffEmail:      staffEmail,
		httpClient:      client,
		logger:          logger,
	}
}

// HandleSubmitted notifies staff that an order is waiting for payment review.
func (n *Notifier) HandleSubmitted(ctx context.Context, payload []byte) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order submitted event: %w", err)
	}

	n.logger.Info("processing order submitted event", "order_id", event.OrderID, "user_id", event.UserID)

	subject := fmt.Sprintf("Order %s awaiting review", event.OrderID)
	body := fmt.Sprintf("Order %s from %s (total %s) has been submitted and needs a payment review.",
		event.OrderID, event.Username, event.Total.StringFixed(2))

	if err := n.send(ctx, n.staffEmail, subject, body); err != nil {
		return fmt.Errorf("send review notification: %w", err)
	}
	return nil
}

// HandleReviewed notifies the customer of the review outcome.
func (n *Notifier) HandleReviewed(ctx context.Context, payload []byte) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order reviewed event: %w", err)
	}

	n.logger.Info("processing order reviewed event", "order_id", event.OrderID, "status", event.Status)

	var subject, body string
	switch event.Status {
	case domain.OrderStatusConfirmed:
		subject = fmt.Sprintf("Order %s confirmed", event.OrderID)
		body = fmt.Sprintf("Your payment of %s was confirmed. Thanks for your purchase!", event.Total.StringFixed(2))
	case domain.OrderStatusRejected:
		subject = fmt.Sprintf("Order %s rejected", event.OrderID)
		body = "Your payment could not be verified. Please upload a new proof of payment or contact support."
	default:
		n.logger.Warn("ignoring reviewed event with unexpected status", "order_id", event.OrderID, "status", event.Status)
		return nil
	}

	if err := n.send(ctx, event.UserEmail, subject, body); err != nil {
		return fmt.Errorf("send review outcome: %w", err)
	}
	return nil
}

func (n *Notifier) send(ctx context.Context, to, subject, body string) error {
	data, err := json.Marshal(map[string]string{
		"to":      to,
		"subject": subject,
		"body":    body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
