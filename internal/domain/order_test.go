package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    OrderStatus
		to      OrderStatus
		wantErr error
	}{
		{"submitted to confirmed", OrderStatusSubmitted, OrderStatusConfirmed, nil},
		{"submitted to rejected", OrderStatusSubmitted, OrderStatusRejected, nil},
		{"cart to confirmed", OrderStatusCart, OrderStatusConfirmed, ErrInvalidState},
		{"cart to rejected", OrderStatusCart, OrderStatusRejected, ErrInvalidState},
		{"cart to submitted", OrderStatusCart, OrderStatusSubmitted, ErrInvalidState},
		{"submitted back to cart", OrderStatusSubmitted, OrderStatusCart, ErrInvalidState},
		{"confirmed to rejected", OrderStatusConfirmed, OrderStatusRejected, ErrInvalidState},
		{"confirmed to confirmed", OrderStatusConfirmed, OrderStatusConfirmed, ErrInvalidState},
		{"rejected to confirmed", OrderStatusRejected, OrderStatusConfirmed, ErrInvalidState},
		{"rejected back to cart", OrderStatusRejected, OrderStatusCart, ErrInvalidState},
		{"submitted to submitted", OrderStatusSubmitted, OrderStatusSubmitted, ErrValidation},
		{"unknown target status", OrderStatusSubmitted, OrderStatus("SHIPPED"), ErrValidation},
		{"empty target status", OrderStatusSubmitted, OrderStatus(""), ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestOrderStatus_Terminal(t *testing.T) {
	terminal := map[OrderStatus]bool{
		OrderStatusCart:      false,
		OrderStatusSubmitted: false,
		OrderStatusConfirmed: true,
		OrderStatusRejected:  true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("Terminal(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestTotalOf(t *testing.T) {
	t.Run("sums line subtotals", func(t *testing.T) {
		lines := []OrderLine{
			{UnitPrice: decimal.RequireFromString("19.99"), Quantity: 2},
			{UnitPrice: decimal.RequireFromString("5.50"), Quantity: 3},
		}

		got := TotalOf(lines)
		want := decimal.RequireFromString("56.48")
		if !got.Equal(want) {
			t.Errorf("TotalOf = %s, want %s", got, want)
		}
	})

	t.Run("no lines means zero", func(t *testing.T) {
		if got := TotalOf(nil); !got.IsZero() {
			t.Errorf("TotalOf(nil) = %s, want 0", got)
		}
	})

	t.Run("no float drift on cent amounts", func(t *testing.T) {
		lines := []OrderLine{
			{UnitPrice: decimal.RequireFromString("0.10"), Quantity: 3},
		}
		want := decimal.RequireFromString("0.30")
		if got := TotalOf(lines); !got.Equal(want) {
			t.Errorf("TotalOf = %s, want %s", got, want)
		}
	})
}

func TestOrderLine_Subtotal(t *testing.T) {
	line := OrderLine{UnitPrice: decimal.RequireFromString("12.34"), Quantity: 4}
	want := decimal.RequireFromString("49.36")
	if got := line.Subtotal(); !got.Equal(want) {
		t.Errorf("Subtotal = %s, want %s", got, want)
	}
}

func TestIsActiveCart(t *testing.T) {
	if !IsActiveCart(&Order{Status: OrderStatusCart}) {
		t.Error("expected cart order to be an active cart")
	}
	if IsActiveCart(&Order{Status: OrderStatusSubmitted}) {
		t.Error("expected submitted order not to be an active cart")
	}
}
