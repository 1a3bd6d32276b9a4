package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/librora/bookstore/internal/auth"
	"github.com/librora/bookstore/internal/domain"
)

const (
	orderID = "6f1c1f9e-64a4-4ef3-9f0e-1f1b9a3c2d01"
	lineID  = "7a2d2e8f-75b5-4fa4-a01f-2a2c8b4d3e02"
	aliceID = "8b3e3f9a-86c6-40b5-b120-3b3d9c5e4f03"
)

type fakeStore struct {
	orders     map[string]*domain.Order
	addErr     error
	removeErr  error
	statusErr  error
	lastItems  []ItemInput
	lastTarget domain.OrderStatus
}

func (f *fakeStore) GetByID(_ context.Context, id string, actor domain.Identity) (*domain.Order, error) {
	o, ok := f.orders[id]
	if !ok || !CanView(o, actor) {
		return nil, fmt.Errorf("%w: order not found", domain.ErrNotFound)
	}
	return o, nil
}

func (f *fakeStore) List(_ context.Context, actor domain.Identity) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range f.orders {
		if CanView(o, actor) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) ActiveCart(_ context.Context, userID string) (*domain.Order, error) {
	for _, o := range f.orders {
		if o.UserID == userID && o.Status == domain.OrderStatusCart {
			return o, nil
		}
	}
	cart := &domain.Order{ID: orderID, UserID: userID, Status: domain.OrderStatusCart}
	return cart, nil
}

func (f *fakeStore) AddItems(_ context.Context, id string, actor domain.Identity, items []ItemInput) (*domain.Order, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.lastItems = items
	return f.orders[id], nil
}

func (f *fakeStore) RemoveLine(_ context.Context, _, _ string, _ domain.Identity) error {
	return f.removeErr
}

func (f *fakeStore) Checkout(_ context.Context, id string, _ domain.Identity) (*domain.Order, error) {
	o := f.orders[id]
	o.Status = domain.OrderStatusSubmitted
	return o, nil
}

func (f *fakeStore) AttachProof(_ context.Context, id string, _ domain.Identity, proofURL string) (*domain.Order, bool, error) {
	o := f.orders[id]
	o.ProofURL = proofURL
	submitted := o.Status == domain.OrderStatusCart
	if submitted {
		o.Status = domain.OrderStatusSubmitted
	}
	return o, submitted, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id string, _ domain.Identity, target domain.OrderStatus) (*domain.Order, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	f.lastTarget = target
	o := f.orders[id]
	o.Status = target
	return o, nil
}

type fakePublisher struct {
	events []any
}

func (p *fakePublisher) Publish(_ context.Context, _ string, event any) error {
	p.events = append(p.events, event)
	return nil
}

func newTestHandler(store Store, submitted, reviewed Publisher) *Handler {
	return NewHandler(store, nil, submitted, reviewed, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func authedRequest(method, target string, body io.Reader, actor domain.Identity) *http.Request {
	req := httptest.NewRequest(method, target, body)
	return req.WithContext(auth.WithIdentity(req.Context(), actor))
}

func aliceCart() map[string]*domain.Order {
	return map[string]*domain.Order{
		orderID: {
			ID:     orderID,
			UserID: aliceID,
			Status: domain.OrderStatusCart,
			Total:  decimal.RequireFromString("39.98"),
			Lines: []domain.OrderLine{
				{ID: lineID, BookID: "b1", UnitPrice: decimal.RequireFromString("19.99"), Quantity: 2},
			},
		},
	}
}

func TestHandler_HandleMyCart(t *testing.T) {
	t.Run("returns the active cart", func(t *testing.T) {
		handler := newTestHandler(&fakeStore{orders: aliceCart()}, nil, nil)

		req := authedRequest(http.MethodGet, "/orders/my-cart", nil, domain.Identity{UserID: aliceID})
		rec := httptest.NewRecorder()

		handler.HandleMyCart(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		var cart domain.Order
		if err := json.Unmarshal(rec.Body.Bytes(), &cart); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if cart.Status != domain.OrderStatusCart {
			t.Errorf("expected CART status, got %s", cart.Status)
		}
	})

	t.Run("requires authentication", func(t *testing.T) {
		handler := newTestHandler(&fakeStore{orders: aliceCart()}, nil, nil)

		req := httptest.NewRequest(http.MethodGet, "/orders/my-cart", nil)
		rec := httptest.NewRecorder()

		handler.HandleMyCart(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rec.Code)
		}
	})
}

func TestHandler_HandleGet(t *testing.T) {
	newMux := func(h *Handler) *http.ServeMux {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /orders/{id}", h.HandleGet)
		return mux
	}

	t.Run("other user's order reads as not found", func(t *testing.T) {
		mux := newMux(newTestHandler(&fakeStore{orders: aliceCart()}, nil, nil))

		req := authedRequest(http.MethodGet, "/orders/"+orderID, nil, domain.Identity{UserID: "bob"})
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})

	t.Run("malformed id reads as not found", func(t *testing.T) {
		mux := newMux(newTestHandler(&fakeStore{orders: aliceCart()}, nil, nil))

		req := authedRequest(http.MethodGet, "/orders/not-a-uuid", nil, domain.Identity{UserID: aliceID})
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})
}

func TestHandler_HandleAddItems(t *testing.T) {
	newMux := func(h *Handler) *http.ServeMux {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /orders/{id}/items", h.HandleAddItems)
		return mux
	}

	t.Run("passes items through to the store", func(t *testing.T) {
		store := &fakeStore{orders: aliceCart()}
		mux := newMux(newTestHandler(store, nil, nil))

		body := strings.NewReader(`{"items":[{"book_id":"b1","quantity":2},{"book_id":"b2","quantity":1}]}`)
		req := authedRequest(http.MethodPost, "/orders/"+orderID+"/items", body, domain.Identity{UserID: aliceID})
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if len(store.lastItems) != 2 {
			t.Errorf("expected 2 items forwarded, got %d", len(store.lastItems))
		}
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		mux := newMux(newTestHandler(&fakeStore{orders: aliceCart()}, nil, nil))

		req := authedRequest(http.MethodPost, "/orders/"+orderID+"/items", strings.NewReader(`{`), domain.Identity{UserID: aliceID})
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("maps domain errors to status codes", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
			want int
		}{
			{"validation", fmt.Errorf("%w: unknown book", domain.ErrValidation), http.StatusBadRequest},
			{"invalid state", fmt.Errorf("%w: order already submitted", domain.ErrInvalidState), http.StatusBadRequest},
			{"forbidden", fmt.Errorf("%w: staff only", domain.ErrForbidden), http.StatusForbidden},
			{"not found", fmt.Errorf("%w: order not found", domain.ErrNotFound), http.StatusNotFound},
			{"internal", fmt.Errorf("connection refused"), http.StatusInternalServerError},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				mux := newMux(newTestHandler(&fakeStore{orders: aliceCart(), addErr: tt.err}, nil, nil))

				body := strings.NewReader(`{"items":[{"book_id":"b1","quantity":1}]}`)
				req := authedRequest(http.MethodPost, "/orders/"+orderID+"/items", body, domain.Identity{UserID: aliceID})
				rec := httptest.NewRecorder()

				mux.ServeHTTP(rec, req)

				if rec.Code != tt.want {
					t.Errorf("expected status %d, got %d", tt.want, rec.Code)
				}
			})
		}
	})
}

func TestHandler_HandleRemoveLine(t *testing.T) {
	newMux := func(h *Handler) *http.ServeMux {
		mux := http.NewServeMux()
		mux.HandleFunc("DELETE /orders/{id}/items/{lineId}", h.HandleRemoveLine)
		return mux
	}

	t.Run("returns 204 with no body", func(t *testing.T) {
		mux := newMux(newTestHandler(&fakeStore{orders: aliceCart()}, nil, nil))

		req := authedRequest(http.MethodDelete, "/orders/"+orderID+"/items/"+lineID, nil, domain.Identity{UserID: aliceID})
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected status 204, got %d", rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("expected empty body, got %q", rec.Body.String())
		}
	})

	t.Run("missing line reads as not found", func(t *testing.T) {
		store := &fakeStore{
			orders:    aliceCart(),
			removeErr: fmt.Errorf("%w: line not found", domain.ErrNotFound),
		}
		mux := newMux(newTestHandler(store, nil, nil))

		req := authedRequest(http.MethodDelete, "/orders/"+orderID+"/items/"+lineID, nil, domain.Identity{UserID: aliceID})
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})
}

func TestHandler_HandleCheckout(t *testing.T) {
	t.Run("publishes a submitted event", func(t *testing.T) {
		submitted := &fakePublisher{}
		handler := newTestHandler(&fakeStore{orders: aliceCart()}, submitted, nil)

		mux := http.NewServeMux()
		mux.HandleFunc("POST /orders/{id}/checkout", handler.HandleCheckout)

		req := authedRequest(http.MethodPost, "/orders/"+orderID+"/checkout", nil, domain.Identity{UserID: aliceID})
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if len(submitted.events) != 1 {
			t.Fatalf("expected 1 published event, got %d", len(submitted.events))
		}
		event, ok := submitted.events[0].(domain.OrderEvent)
		if !ok {
			t.Fatalf("unexpected event type %T", submitted.events[0])
		}
		if event.Status != domain.OrderStatusSubmitted {
			t.Errorf("expected SUBMITTED event, got %s", event.Status)
		}
	})

	t.Run("nil publisher is skipped", func(t *testing.T) {
		handler := newTestHandler(&fakeStore{orders: aliceCart()}, nil, nil)

		mux := http.NewServeMux()
		mux.HandleFunc("POST /orders/{id}/checkout", handler.HandleCheckout)

		req := authedRequest(http.MethodPost, "/orders/"+orderID+"/checkout", nil, domain.Identity{UserID: aliceID})
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
	})
}

func TestHandler_HandleUpdateStatus(t *testing.T) {
	newMux := func(h *Handler) *http.ServeMux {
		mux := http.NewServeMux()
		mux.HandleFunc("PATCH /orders/{id}", h.HandleUpdateStatus)
		return mux
	}
	staff := domain.Identity{UserID: "staff-1", IsStaff: true}

	t.Run("confirms and publishes a reviewed event", func(t *testing.T) {
		reviewed := &fakePublisher{}
		orders := aliceCart()
		orders[orderID].Status = domain.OrderStatusSubmitted
		store := &fakeStore{orders: orders}
		mux := newMux(newTestHandler(store, nil, reviewed))

		body := strings.NewReader(`{"status":"CONFIRMED"}`)
		req := authedRequest(http.MethodPatch, "/orders/"+orderID, body, staff)
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if store.lastTarget != domain.OrderStatusConfirmed {
			t.Errorf("expected CONFIRMED forwarded to store, got %s", store.lastTarget)
		}
		if len(reviewed.events) != 1 {
			t.Errorf("expected 1 reviewed event, got %d", len(reviewed.events))
		}
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		mux := newMux(newTestHandler(&fakeStore{orders: aliceCart()}, nil, nil))

		body := strings.NewReader(`{"status":"CONFIRMED","total":"0.00"}`)
		req := authedRequest(http.MethodPatch, "/orders/"+orderID, body, staff)
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("non-staff is forbidden", func(t *testing.T) {
		store := &fakeStore{
			orders:    aliceCart(),
			statusErr: fmt.Errorf("%w: only staff can review orders", domain.ErrForbidden),
		}
		mux := newMux(newTestHandler(store, nil, nil))

		body := strings.NewReader(`{"status":"CONFIRMED"}`)
		req := authedRequest(http.MethodPatch, "/orders/"+orderID, body, domain.Identity{UserID: aliceID})
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("expected status 403, got %d", rec.Code)
		}
	})
}

func TestHandler_HandleUploadProof(t *testing.T) {
	t.Run("missing file is a validation error", func(t *testing.T) {
		handler := newTestHandler(&fakeStore{orders: aliceCart()}, nil, nil)

		mux := http.NewServeMux()
		mux.HandleFunc("POST /orders/{id}/proof", handler.HandleUploadProof)

		req := authedRequest(http.MethodPost, "/orders/"+orderID+"/proof", strings.NewReader("not a form"), domain.Identity{UserID: aliceID})
		req.Header.Set("Content-Type", "multipart/form-data; boundary=xxx")
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})
}
