package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/librora/bookstore/internal/domain"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so the lookup contract can be
// used inside the order repository's transactions.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PriceOf returns the current unit price of a book, or ErrNotFound.
func PriceOf(ctx context.Context, q dbtx, bookID string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := q.QueryRowContext(ctx, `
		SELECT price FROM books WHERE id = $1
	`, bookID).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: book %s", domain.ErrNotFound, bookID)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return price, nil
}

// RecordSale atomically bumps a book's cumulative sales counter. A missing
// book here means an order line references a row that no longer exists, which
// the schema forbids, so it surfaces as an internal error rather than a
// user-facing NotFound.
func RecordSale(ctx context.Context, q dbtx, bookID string, quantity int) error {
	result, err := q.ExecContext(ctx, `
		UPDATE books SET total_sales = total_sales + $2 WHERE id = $1
	`, bookID, quantity)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("record sale: book %s is referenced by an order line but missing from the catalog", bookID)
	}
	return nil
}
