package domain

import (
	"strings"
	"time"
)

// Product - позиция каталога. Остаток (Stock) меняется только через
// атомарное условное списание в StockReserver.
type Product struct {
	ID          string
	Name        string
	Description string
	Category    string
	ImageURL    string
	// PriceMinor - цена за единицу в минимальных денежных единицах (центы).
	PriceMinor int64
	Stock      int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Normalize убирает пробелы по краям текстовых полей.
func (p *Product) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Description = strings.TrimSpace(p.Description)
	p.Category = strings.TrimSpace(p.Category)
	p.ImageURL = strings.TrimSpace(p.ImageURL)
}

// Validate проверяет инварианты товара. Возвращает nil, если нарушений нет.
func (p *Product) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(p.Name) == "" {
		verr.Add("name", "is required")
	}
	if p.PriceMinor < 0 {
		verr.Add("price", "must be non-negative")
	}
	if p.Stock < 0 {
		verr.Add("stock", "must be non-negative")
	}
	if verr.Empty() {
		return nil
	}
	return verr
}

// ProductFilter ограничивает выборку каталога.
type ProductFilter struct {
	Category string
	Limit    int
}
