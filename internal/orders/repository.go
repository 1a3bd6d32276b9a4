package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/librora/bookstore/internal/catalog"
	"github.com/librora/bookstore/internal/domain"
)

const pqUniqueViolation = "23505"

// ItemInput is one requested cart addition.
type ItemInput struct {
	BookID   string `json:"book_id"`
	Quantity int    `json:"quantity"`
}

type Repository struct {
	db                 *sql.DB
	allowEmptyCheckout bool
}

type Option func(*Repository)

// WithEmptyCheckout controls whether an order with zero lines may be
// submitted. The default allows it.
func WithEmptyCheckout(allowed bool) Option {
	return func(r *Repository) {
		r.allowEmptyCheckout = allowed
	}
}

func NewRepository(db *sql.DB, opts ...Option) *Repository {
	r := &Repository{db: db, allowEmptyCheckout: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetByID loads one order. A viewable order is returned in full; an order the
// actor may not see answers NotFound so its existence is not leaked.
func (r *Repository) GetByID(ctx context.Context, id string, actor domain.Identity) (*domain.Order, error) {
	o, err := r.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(o, actor) {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	return o, nil
}

// List returns every order visible to the actor, most recently updated first.
func (r *Repository) List(ctx context.Context, actor domain.Identity) ([]domain.Order, error) {
	query := `
		SELECT o.id, o.user_id, u.username, u.email, o.status, o.total, o.proof_url, o.created_at, o.updated_at
		FROM orders o
		JOIN users u ON u.id = o.user_id
	`
	var args []any
	if !actor.IsStaff {
		query += ` WHERE o.user_id = $1`
		args = append(args, actor.UserID)
	}
	query += ` ORDER BY o.updated_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Username, &o.UserEmail, &o.Status, &o.Total, &o.ProofURL, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Lines = []domain.OrderLine{}
		orderMap[o.ID] = &o
		orderIDs = append(orderIDs, o.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	lineRows, err := r.db.QueryContext(ctx, `
		SELECT l.order_id, l.id, l.book_id, b.title, l.unit_price, l.quantity
		FROM order_lines l
		JOIN books b ON b.id = l.book_id
		WHERE l.order_id = ANY($1)
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = lineRows.Close() }()

	for lineRows.Next() {
		var orderID string
		var l domain.OrderLine
		if err := lineRows.Scan(&orderID, &l.ID, &l.BookID, &l.BookTitle, &l.UnitPrice, &l.Quantity); err != nil {
			return nil, err
		}
		o := orderMap[orderID]
		o.Lines = append(o.Lines, l)
	}

	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

// ActiveCart finds the user's CART order or creates an empty one. The partial
// unique index on (user_id) WHERE status = 'CART' makes the create race safe:
// the loser of a concurrent create hits a unique violation and re-fetches the
// winner's cart.
func (r *Repository) ActiveCart(ctx context.Context, userID string) (*domain.Order, error) {
	o, err := r.activeCartFor(ctx, userID)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	id := uuid.New().String()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, status, total)
		VALUES ($1, $2, 'CART', 0)
	`, id, userID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return r.activeCartFor(ctx, userID)
		}
		return nil, err
	}

	return r.loadOrder(ctx, id)
}

func (r *Repository) activeCartFor(ctx context.Context, userID string) (*domain.Order, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM orders WHERE user_id = $1 AND status = 'CART'
	`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no active cart for user %s", domain.ErrNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	return r.loadOrder(ctx, id)
}

// AddItems applies the whole batch in one transaction: every line lands or
// none does, and the order total is recomputed before commit.
func (r *Repository) AddItems(ctx context.Context, orderID string, actor domain.Identity, items []ItemInput) (*domain.Order, error) {
	items, err := normalizeItems(items)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	owner, status, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanMutateCart(&domain.Order{UserID: owner}, actor) {
		return nil, fmt.Errorf("%w: order belongs to another user", domain.ErrForbidden)
	}
	if status != domain.OrderStatusCart {
		return nil, fmt.Errorf("%w: items can only be added to an active cart", domain.ErrInvalidState)
	}

	for _, item := range items {
		price, err := catalog.PriceOf(ctx, tx, item.BookID)
		if err != nil {
			return nil, err
		}

		// A repeated book merges into the existing line. The unit price
		// captured when the line was first added is kept, so a later catalog
		// price change never rewrites an open cart silently.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_lines (id, order_id, book_id, unit_price, quantity)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (order_id, book_id)
			DO UPDATE SET quantity = order_lines.quantity + EXCLUDED.quantity
		`, uuid.New().String(), orderID, item.BookID, price, item.Quantity)
		if err != nil {
			return nil, err
		}
	}

	if err := recomputeTotal(ctx, tx, orderID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return r.loadOrder(ctx, orderID)
}

// RemoveLine deletes one line from an active cart and recomputes the total.
func (r *Repository) RemoveLine(ctx context.Context, orderID, lineID string, actor domain.Identity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	owner, status, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return err
	}

	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM order_lines WHERE id = $1 AND order_id = $2
	`, lineID, orderID).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: line %s", domain.ErrNotFound, lineID)
	}
	if err != nil {
		return err
	}

	if !CanMutateCart(&domain.Order{UserID: owner}, actor) {
		return fmt.Errorf("%w: order belongs to another user", domain.ErrForbidden)
	}
	if status != domain.OrderStatusCart {
		return fmt.Errorf("%w: lines can only be removed from an active cart", domain.ErrInvalidState)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_lines WHERE id = $1`, lineID); err != nil {
		return err
	}

	if err := recomputeTotal(ctx, tx, orderID); err != nil {
		return err
	}

	return tx.Commit()
}

// Checkout performs the explicit CART -> SUBMITTED transition.
func (r *Repository) Checkout(ctx context.Context, orderID string, actor domain.Identity) (*domain.Order, error) {
	return r.submit(ctx, orderID, actor, "")
}

// AttachProof stores a proof-of-payment reference. Attaching to an active
// cart also submits it; the returned flag reports whether that transition
// happened.
func (r *Repository) AttachProof(ctx context.Context, orderID string, actor domain.Identity, proofURL string) (*domain.Order, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	owner, status, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, false, err
	}
	if !CanMutateCart(&domain.Order{UserID: owner}, actor) {
		return nil, false, fmt.Errorf("%w: order belongs to another user", domain.ErrForbidden)
	}
	if status != domain.OrderStatusCart && status != domain.OrderStatusSubmitted {
		return nil, false, fmt.Errorf("%w: a proof can only be attached to an active cart or a submitted order", domain.ErrInvalidState)
	}

	submitted := status == domain.OrderStatusCart
	if submitted {
		if err := r.checkSubmittable(ctx, tx, orderID); err != nil {
			return nil, false, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET proof_url = $2, status = 'SUBMITTED', updated_at = now() WHERE id = $1
	`, orderID, proofURL)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	o, err := r.loadOrder(ctx, orderID)
	return o, submitted, err
}

// UpdateStatus executes the staff review transitions. Confirming an order
// records each line's sale exactly once; the FOR UPDATE read makes a second
// concurrent confirmation observe CONFIRMED and fail the transition check.
func (r *Repository) UpdateStatus(ctx context.Context, orderID string, actor domain.Identity, target domain.OrderStatus) (*domain.Order, error) {
	if !actor.IsStaff {
		return nil, fmt.Errorf("%w: only staff can change an order's status", domain.ErrForbidden)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, status, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	if err := domain.ValidateTransition(status, target); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = now() WHERE id = $1
	`, orderID, target)
	if err != nil {
		return nil, err
	}

	if target == domain.OrderStatusConfirmed {
		if err := recordSales(ctx, tx, orderID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return r.loadOrder(ctx, orderID)
}

func recordSales(ctx context.Context, tx *sql.Tx, orderID string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT book_id, quantity FROM order_lines WHERE order_id = $1
	`, orderID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	type sale struct {
		bookID   string
		quantity int
	}
	var sales []sale
	for rows.Next() {
		var s sale
		if err := rows.Scan(&s.bookID, &s.quantity); err != nil {
			return err
		}
		sales = append(sales, s)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, s := range sales {
		if err := catalog.RecordSale(ctx, tx, s.bookID, s.quantity); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) submit(ctx context.Context, orderID string, actor domain.Identity, proofURL string) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	owner, status, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanMutateCart(&domain.Order{UserID: owner}, actor) {
		return nil, fmt.Errorf("%w: order belongs to another user", domain.ErrForbidden)
	}
	if status != domain.OrderStatusCart {
		return nil, fmt.Errorf("%w: only an active cart can be checked out", domain.ErrInvalidState)
	}

	if err := r.checkSubmittable(ctx, tx, orderID); err != nil {
		return nil, err
	}

	query := `UPDATE orders SET status = 'SUBMITTED', updated_at = now() WHERE id = $1`
	args := []any{orderID}
	if proofURL != "" {
		query = `UPDATE orders SET status = 'SUBMITTED', proof_url = $2, updated_at = now() WHERE id = $1`
		args = append(args, proofURL)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return r.loadOrder(ctx, orderID)
}

func (r *Repository) checkSubmittable(ctx context.Context, tx *sql.Tx, orderID string) error {
	if r.allowEmptyCheckout {
		return nil
	}
	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM order_lines WHERE order_id = $1
	`, orderID).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: cart is empty", domain.ErrValidation)
	}
	return nil
}

func lockOrder(ctx context.Context, tx *sql.Tx, orderID string) (owner string, status domain.OrderStatus, err error) {
	err = tx.QueryRowContext(ctx, `
		SELECT user_id, status FROM orders WHERE id = $1 FOR UPDATE
	`, orderID).Scan(&owner, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	return owner, status, err
}

// recomputeTotal re-derives the cached order total from its lines inside the
// mutating transaction, so total and lines always commit together.
func recomputeTotal(ctx context.Context, tx *sql.Tx, orderID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET total = COALESCE((SELECT SUM(unit_price * quantity) FROM order_lines WHERE order_id = $1), 0),
		    updated_at = now()
		WHERE id = $1
	`, orderID)
	return err
}

func normalizeItems(items []ItemInput) ([]ItemInput, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", domain.ErrValidation)
	}

	out := make([]ItemInput, 0, len(items))
	for _, item := range items {
		if _, err := uuid.Parse(item.BookID); err != nil {
			return nil, fmt.Errorf("%w: malformed book id %q", domain.ErrValidation, item.BookID)
		}
		if item.Quantity < 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
		}
		if item.Quantity == 0 {
			item.Quantity = 1
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *Repository) loadOrder(ctx context.Context, id string) (*domain.Order, error) {
	o := &domain.Order{Lines: []domain.OrderLine{}}

	err := r.db.QueryRowContext(ctx, `
		SELECT o.id, o.user_id, u.username, u.email, o.status, o.total, o.proof_url, o.created_at, o.updated_at
		FROM orders o
		JOIN users u ON u.id = o.user_id
		WHERE o.id = $1
	`, id).Scan(&o.ID, &o.UserID, &o.Username, &o.UserEmail, &o.Status, &o.Total, &o.ProofURL, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT l.id, l.book_id, b.title, l.unit_price, l.quantity
		FROM order_lines l
		JOIN books b ON b.id = l.book_id
		WHERE l.order_id = $1
		ORDER BY b.title
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ID, &l.BookID, &l.BookTitle, &l.UnitPrice, &l.Quantity); err != nil {
			return nil, err
		}
		o.Lines = append(o.Lines, l)
	}

	return o, rows.Err()
}
