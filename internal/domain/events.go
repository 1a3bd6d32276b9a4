package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicOrderSubmitted = "order.submitted"
	TopicOrderReviewed  = "order.reviewed"
)

type OrderEvent struct {
	OrderID   string          `json:"order_id"`
	UserID    string          `json:"user_id"`
	Username  string          `json:"username"`
	UserEmail string          `json:"user_email"`
	Status    OrderStatus     `json:"status"`
	Total     decimal.Decimal `json:"total"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewOrderEvent(o *Order) OrderEvent {
	return OrderEvent{
		OrderID:   o.ID,
		UserID:    o.UserID,
		Username:  o.Username,
		UserEmail: o.UserEmail,
		Status:    o.Status,
		Total:     o.Total,
		Timestamp: time.Now().UTC(),
	}
}
