package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/librora/bookstore/internal/auth"
	"github.com/librora/bookstore/internal/domain"
	"github.com/librora/bookstore/internal/files"
)

const maxProofSize = 10 << 20

// Store is the order persistence contract the HTTP layer depends on.
type Store interface {
	GetByID(ctx context.Context, id string, actor domain.Identity) (*domain.Order, error)
	List(ctx context.Context, actor domain.Identity) ([]domain.Order, error)
	ActiveCart(ctx context.Context, userID string) (*domain.Order, error)
	AddItems(ctx context.Context, orderID string, actor domain.Identity, items []ItemInput) (*domain.Order, error)
	RemoveLine(ctx context.Context, orderID, lineID string, actor domain.Identity) error
	Checkout(ctx context.Context, orderID string, actor domain.Identity) (*domain.Order, error)
	AttachProof(ctx context.Context, orderID string, actor domain.Identity, proofURL string) (*domain.Order, bool, error)
	UpdateStatus(ctx context.Context, orderID string, actor domain.Identity, target domain.OrderStatus) (*domain.Order, error)
}

// Publisher emits order lifecycle events. A nil publisher disables the topic.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Handler struct {
	store     Store
	files     *files.Store
	submitted Publisher
	reviewed  Publisher
	logger    *slog.Logger
}

func NewHandler(store Store, fileStore *files.Store, submitted, reviewed Publisher, logger *slog.Logger) *Handler {
	return &Handler{
		store:     store,
		files:     fileStore,
		submitted: submitted,
		reviewed:  reviewed,
		logger:    logger,
	}
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	orders, err := h.store.List(r.Context(), actor)
	if err != nil {
		h.respondError(w, err, "failed to list orders")
		return
	}

	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	order, err := h.store.GetByID(r.Context(), id, actor)
	if err != nil {
		h.respondError(w, err, "failed to get order")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

// HandleMyCart finds or creates the requester's single active cart.
func (h *Handler) HandleMyCart(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	cart, err := h.store.ActiveCart(r.Context(), actor.UserID)
	if err != nil {
		h.respondError(w, err, "failed to get active cart")
		return
	}

	h.writeJSON(w, http.StatusOK, cart)
}

type addItemsRequest struct {
	Items []ItemInput `json:"items"`
}

func (h *Handler) HandleAddItems(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var req addItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.store.AddItems(r.Context(), id, actor, req.Items)
	if err != nil {
		h.respondError(w, err, "failed to add items")
		return
	}

	h.logger.Info("items added to cart", "order_id", order.ID, "items", len(req.Items), "total", order.Total)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleRemoveLine(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	lineID, ok := h.pathID(w, r, "lineId")
	if !ok {
		return
	}

	if err := h.store.RemoveLine(r.Context(), id, lineID, actor); err != nil {
		h.respondError(w, err, "failed to remove line")
		return
	}

	h.logger.Info("line removed from cart", "order_id", id, "line_id", lineID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	order, err := h.store.Checkout(r.Context(), id, actor)
	if err != nil {
		h.respondError(w, err, "failed to checkout")
		return
	}

	h.publish(r.Context(), h.submitted, order)
	h.logger.Info("order submitted", "order_id", order.ID, "total", order.Total)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleUploadProof(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxProofSize); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("proof")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "a proof-of-payment file is required")
		return
	}
	defer func() { _ = file.Close() }()

	// The payload is opaque: it is stored as-is and only the reference is
	// kept on the order.
	proofURL, err := h.files.Save(file, header.Filename)
	if err != nil {
		h.respondError(w, err, "failed to store proof")
		return
	}

	order, submitted, err := h.store.AttachProof(r.Context(), id, actor, proofURL)
	if err != nil {
		h.respondError(w, err, "failed to attach proof")
		return
	}

	if submitted {
		h.publish(r.Context(), h.submitted, order)
	}

	h.logger.Info("proof attached", "order_id", order.ID, "submitted", submitted)
	h.writeJSON(w, http.StatusOK, order)
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var req updateStatusRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.store.UpdateStatus(r.Context(), id, actor, req.Status)
	if err != nil {
		h.respondError(w, err, "failed to update order status")
		return
	}

	h.publish(r.Context(), h.reviewed, order)
	h.logger.Info("order reviewed", "order_id", order.ID, "status", order.Status)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) publish(ctx context.Context, pub Publisher, order *domain.Order) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, order.ID, domain.NewOrderEvent(order)); err != nil {
		// Events are best effort; the committed transaction stays the source
		// of truth.
		h.logger.Error("failed to publish order event", "error", err, "order_id", order.ID)
	}
}

func (h *Handler) requireIdentity(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return domain.Identity{}, false
	}
	return identity, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := r.PathValue(name)
	if _, err := uuid.Parse(id); err != nil {
		h.writeError(w, http.StatusNotFound, "not found")
		return "", false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidState):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error(logMsg, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
