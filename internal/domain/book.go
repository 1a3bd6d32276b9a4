package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Genre struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Book struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Author      string          `json:"author"`
	Price       decimal.Decimal `json:"price"`
	ISBN        string          `json:"isbn"`
	Description string          `json:"description"`
	CoverURL    string          `json:"cover_url,omitempty"`
	Genres      []Genre         `json:"genres"`
	TotalSales  int             `json:"total_sales"`
	CreatedAt   time.Time       `json:"created_at"`
}
