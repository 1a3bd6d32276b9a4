package catalog

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/librora/bookstore/internal/domain"
)

const minISBNLength = 10

// ValidateBook applies the catalog's invariants to user-supplied book fields.
func ValidateBook(title, author, isbn string, price decimal.Decimal) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if strings.TrimSpace(author) == "" {
		return fmt.Errorf("%w: author is required", domain.ErrValidation)
	}
	if len(strings.TrimSpace(isbn)) < minISBNLength {
		return fmt.Errorf("%w: isbn must be at least %d characters", domain.ErrValidation, minISBNLength)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: price must be greater than zero", domain.ErrValidation)
	}
	return nil
}

// ValidateGenre checks a genre name.
func ValidateGenre(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	return nil
}
