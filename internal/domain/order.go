package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusCart      OrderStatus = "CART"
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCart, OrderStatusSubmitted, OrderStatusConfirmed, OrderStatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusConfirmed || s == OrderStatusRejected
}

type OrderLine struct {
	ID        string          `json:"id"`
	BookID    string          `json:"book_id"`
	BookTitle string          `json:"book_title,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Username  string          `json:"username,omitempty"`
	UserEmail string          `json:"-"`
	Status    OrderStatus     `json:"status"`
	Total     decimal.Decimal `json:"total"`
	ProofURL  string          `json:"proof_url,omitempty"`
	Lines     []OrderLine     `json:"lines"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// IsActiveCart reports whether the order is the owner's editable cart.
func IsActiveCart(o *Order) bool {
	return o.Status == OrderStatusCart
}

// TotalOf is the authoritative total: the sum of line subtotals.
func TotalOf(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// ValidateTransition checks a requested status change against the order
// lifecycle: CART -> SUBMITTED -> CONFIRMED | REJECTED. The CART -> SUBMITTED
// step is not handled here; it only happens through checkout or a proof
// upload.
func ValidateTransition(from, to OrderStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, string(to))
	}
	if to == OrderStatusCart {
		return fmt.Errorf("%w: an order cannot return to cart", ErrInvalidState)
	}
	if from == OrderStatusCart {
		return fmt.Errorf("%w: order is still an active cart, use checkout first", ErrInvalidState)
	}
	if from.Terminal() {
		return fmt.Errorf("%w: order is already %s", ErrInvalidState, from)
	}
	if from == OrderStatusSubmitted && (to == OrderStatusConfirmed || to == OrderStatusRejected) {
		return nil
	}
	return fmt.Errorf("%w: cannot move order from %s to %s", ErrValidation, from, to)
}
