package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/librora/bookstore/internal/domain"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// BookUpdate names every mutable field of a book. Nil means "leave as is".
type BookUpdate struct {
	Title       *string          `json:"title"`
	Author      *string          `json:"author"`
	Price       *decimal.Decimal `json:"price"`
	ISBN        *string          `json:"isbn"`
	Description *string          `json:"description"`
	GenreIDs    *[]string        `json:"genre_ids"`
}

func (r *Repository) ListBooks(ctx context.Context) ([]domain.Book, error) {
	return r.queryBooks(ctx, `
		SELECT id, title, author, price, isbn, description, cover_url, total_sales, created_at
		FROM books
		ORDER BY title
	`)
}

// TopBooks returns the best sellers, most sold first.
func (r *Repository) TopBooks(ctx context.Context, limit int) ([]domain.Book, error) {
	return r.queryBooks(ctx, `
		SELECT id, title, author, price, isbn, description, cover_url, total_sales, created_at
		FROM books
		ORDER BY total_sales DESC, title
		LIMIT $1
	`, limit)
}

func (r *Repository) queryBooks(ctx context.Context, query string, args ...any) ([]domain.Book, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	bookMap := make(map[string]*domain.Book)
	var bookIDs []string

	for rows.Next() {
		var b domain.Book
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.Price, &b.ISBN, &b.Description, &b.CoverURL, &b.TotalSales, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Genres = []domain.Genre{}
		bookMap[b.ID] = &b
		bookIDs = append(bookIDs, b.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(bookIDs) == 0 {
		return []domain.Book{}, nil
	}

	genreRows, err := r.db.QueryContext(ctx, `
		SELECT bg.book_id, g.id, g.name
		FROM book_genres bg
		JOIN genres g ON g.id = bg.genre_id
		WHERE bg.book_id = ANY($1)
		ORDER BY g.name
	`, pq.Array(bookIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = genreRows.Close() }()

	for genreRows.Next() {
		var bookID string
		var g domain.Genre
		if err := genreRows.Scan(&bookID, &g.ID, &g.Name); err != nil {
			return nil, err
		}
		book := bookMap[bookID]
		book.Genres = append(book.Genres, g)
	}

	if err := genreRows.Err(); err != nil {
		return nil, err
	}

	books := make([]domain.Book, 0, len(bookIDs))
	for _, id := range bookIDs {
		books = append(books, *bookMap[id])
	}

	return books, nil
}

func (r *Repository) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	b := &domain.Book{Genres: []domain.Genre{}}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, author, price, isbn, description, cover_url, total_sales, created_at
		FROM books
		WHERE id = $1
	`, id).Scan(&b.ID, &b.Title, &b.Author, &b.Price, &b.ISBN, &b.Description, &b.CoverURL, &b.TotalSales, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: book %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT g.id, g.name
		FROM book_genres bg
		JOIN genres g ON g.id = bg.genre_id
		WHERE bg.book_id = $1
		ORDER BY g.name
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var g domain.Genre
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, err
		}
		b.Genres = append(b.Genres, g)
	}

	return b, rows.Err()
}

func (r *Repository) CreateBook(ctx context.Context, b *domain.Book, genreIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	b.ID = uuid.New().String()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO books (id, title, author, price, isbn, description, cover_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, b.ID, b.Title, b.Author, b.Price, b.ISBN, b.Description, b.CoverURL)
	if err != nil {
		return mapConstraintError(err)
	}

	if err := replaceGenres(ctx, tx, b.ID, genreIDs); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *Repository) UpdateBook(ctx context.Context, id string, upd BookUpdate) (*domain.Book, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var b domain.Book
	err = tx.QueryRowContext(ctx, `
		SELECT id, title, author, price, isbn, description
		FROM books
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&b.ID, &b.Title, &b.Author, &b.Price, &b.ISBN, &b.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: book %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if upd.Title != nil {
		b.Title = *upd.Title
	}
	if upd.Author != nil {
		b.Author = *upd.Author
	}
	if upd.Price != nil {
		b.Price = *upd.Price
	}
	if upd.ISBN != nil {
		b.ISBN = *upd.ISBN
	}
	if upd.Description != nil {
		b.Description = *upd.Description
	}

	if err := ValidateBook(b.Title, b.Author, b.ISBN, b.Price); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE books
		SET title = $2, author = $3, price = $4, isbn = $5, description = $6
		WHERE id = $1
	`, id, b.Title, b.Author, b.Price, b.ISBN, b.Description)
	if err != nil {
		return nil, mapConstraintError(err)
	}

	if upd.GenreIDs != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM book_genres WHERE book_id = $1`, id); err != nil {
			return nil, err
		}
		if err := replaceGenres(ctx, tx, id, *upd.GenreIDs); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return r.GetBook(ctx, id)
}

// DeleteBook refuses to remove a book that any order line still references;
// the RESTRICT constraint reports that as a foreign key violation.
func (r *Repository) DeleteBook(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
			return fmt.Errorf("%w: book is referenced by existing orders", domain.ErrValidation)
		}
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: book %s", domain.ErrNotFound, id)
	}
	return nil
}

func (r *Repository) SetBookCover(ctx context.Context, id, coverURL string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE books SET cover_url = $2 WHERE id = $1`, id, coverURL)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: book %s", domain.ErrNotFound, id)
	}
	return nil
}

func replaceGenres(ctx context.Context, tx *sql.Tx, bookID string, genreIDs []string) error {
	for _, genreID := range genreIDs {
		if _, err := uuid.Parse(genreID); err != nil {
			return fmt.Errorf("%w: malformed genre id %q", domain.ErrValidation, genreID)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO book_genres (book_id, genre_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, bookID, genreID)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
				return fmt.Errorf("%w: genre %s does not exist", domain.ErrValidation, genreID)
			}
			return err
		}
	}
	return nil
}

func (r *Repository) ListGenres(ctx context.Context) ([]domain.Genre, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM genres ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	genres := []domain.Genre{}
	for rows.Next() {
		var g domain.Genre
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, err
		}
		genres = append(genres, g)
	}

	return genres, rows.Err()
}

func (r *Repository) GetGenre(ctx context.Context, id string) (*domain.Genre, error) {
	g := &domain.Genre{}
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM genres WHERE id = $1`, id).Scan(&g.ID, &g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: genre %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (r *Repository) CreateGenre(ctx context.Context, g *domain.Genre) error {
	g.ID = uuid.New().String()
	_, err := r.db.ExecContext(ctx, `INSERT INTO genres (id, name) VALUES ($1, $2)`, g.ID, g.Name)
	return mapConstraintError(err)
}

func (r *Repository) UpdateGenre(ctx context.Context, id, name string) (*domain.Genre, error) {
	result, err := r.db.ExecContext(ctx, `UPDATE genres SET name = $2 WHERE id = $1`, id, name)
	if err != nil {
		return nil, mapConstraintError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: genre %s", domain.ErrNotFound, id)
	}
	return &domain.Genre{ID: id, Name: name}, nil
}

func (r *Repository) DeleteGenre(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM genres WHERE id = $1`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: genre %s", domain.ErrNotFound, id)
	}
	return nil
}

func mapConstraintError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return fmt.Errorf("%w: %s", domain.ErrValidation, pqErr.Detail)
	}
	return err
}
