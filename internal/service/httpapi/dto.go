package httpapi

import (
	"math"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type customerDTO struct {
	Name    string `json:"name"    validate:"required"`
	Email   string `json:"email"   validate:"required"`
	Address string `json:"address" validate:"required"`
	City    string `json:"city"    validate:"required"`
	Zip     string `json:"zip"     validate:"required"`
}

type orderItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int64  `json:"quantity"  validate:"gte=1"`
	// Цена от клиента принимается в JSON, но не используется.
	Price *float64 `json:"price,omitempty"`
}

type placeOrderRequest struct {
	Customer customerDTO        `json:"customer"`
	Items    []orderItemRequest `json:"items"    validate:"required,min=1,dive"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type productRequest struct {
	Name        string   `json:"name"        validate:"required"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	ImageURL    string   `json:"imageUrl"`
	Price       *float64 `json:"price"`
	PriceMinor  *int64   `json:"priceMinor"`
	Stock       int64    `json:"stock"`
}

func (r productRequest) toDomain(id string) domain.Product {
	product := domain.Product{
		ID:          id,
		Name:        r.Name,
		Description: r.Description,
		Category:    r.Category,
		ImageURL:    r.ImageURL,
		Stock:       r.Stock,
	}
	switch {
	case r.PriceMinor != nil:
		product.PriceMinor = *r.PriceMinor
	case r.Price != nil:
		product.PriceMinor = toMinor(*r.Price)
	}
	return product
}

type productDTO struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	Price       float64   `json:"price"`
	PriceMinor  int64     `json:"priceMinor"`
	Stock       int64     `json:"stock"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toProductDTO(p domain.Product) productDTO {
	return productDTO{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		ImageURL:    p.ImageURL,
		Price:       toDecimal(p.PriceMinor),
		PriceMinor:  p.PriceMinor,
		Stock:       p.Stock,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

type productSummaryDTO struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	PriceMinor int64   `json:"priceMinor"`
	ImageURL   string  `json:"imageUrl,omitempty"`
}

type orderItemDTO struct {
	Position   int                `json:"position"`
	ProductID  string             `json:"productId"`
	Quantity   int64              `json:"quantity"`
	Price      float64            `json:"price"`
	PriceMinor int64              `json:"priceMinor"`
	Product    *productSummaryDTO `json:"product,omitempty"`
}

type orderDTO struct {
	ID         string         `json:"id"`
	Customer   customerDTO    `json:"customer"`
	Items      []orderItemDTO `json:"items"`
	Total      float64        `json:"total"`
	TotalMinor int64          `json:"totalMinor"`
	Status     string         `json:"status"`
	Version    int64          `json:"version"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

func toOrderDTO(order domain.Order) orderDTO {
	items := make([]domain.OrderLineView, 0, len(order.Lines))
	for _, line := range order.Lines {
		items = append(items, domain.OrderLineView{OrderLine: line})
	}
	return toOrderViewDTO(domain.OrderView{Order: order, Items: items})
}

func toOrderViewDTO(view domain.OrderView) orderDTO {
	items := make([]orderItemDTO, 0, len(view.Items))
	for _, item := range view.Items {
		dto := orderItemDTO{
			Position:   item.Position,
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			Price:      toDecimal(item.UnitPriceMinor),
			PriceMinor: item.UnitPriceMinor,
		}
		if item.Product != nil {
			dto.Product = &productSummaryDTO{
				ID:         item.Product.ID,
				Name:       item.Product.Name,
				Price:      toDecimal(item.Product.PriceMinor),
				PriceMinor: item.Product.PriceMinor,
				ImageURL:   item.Product.ImageURL,
			}
		}
		items = append(items, dto)
	}

	return orderDTO{
		ID: view.ID,
		Customer: customerDTO{
			Name:    view.Customer.Name,
			Email:   view.Customer.Email,
			Address: view.Customer.Address,
			City:    view.Customer.City,
			Zip:     view.Customer.PostalCode,
		},
		Items:      items,
		Total:      toDecimal(view.TotalMinor),
		TotalMinor: view.TotalMinor,
		Status:     string(view.Status),
		Version:    view.Version,
		CreatedAt:  view.CreatedAt,
		UpdatedAt:  view.UpdatedAt,
	}
}

type timelineEventDTO struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type failedLineDTO struct {
	Position  int    `json:"position"`
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
	Error     string `json:"error"`
}

func toDecimal(minor int64) float64 {
	return float64(minor) / 100
}

func toMinor(decimal float64) int64 {
	return int64(math.Round(decimal * 100))
}
