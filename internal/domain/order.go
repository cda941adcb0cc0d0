package domain

import (
	"errors"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending - заказ создан, начальный статус.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing - заказ принят в работу.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped - заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered - заказ получен покупателем.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled - заказ отменён.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderStatuses перечисляет допустимые статусы в порядке жизненного цикла.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// Valid проверяет, что статус входит в перечисление.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal - delivered и cancelled считаются конечными по соглашению,
// переходы из них не запрещены.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// AcceptsReservation сообщает, можно ли ещё списывать остаток под заказ.
// Отменённому и доставленному заказу резерв уже не нужен.
func (s OrderStatus) AcceptsReservation() bool {
	return !s.Terminal()
}

var (
	// Ошибки инвариантов заказа.
	ErrLinesRequired       = errors.New("order must contain at least one item")
	ErrLineQtyInvalid      = errors.New("item quantity must be greater than zero")
	ErrLinePriceInvalid    = errors.New("item price must be non-negative")
	ErrLineProductRequired = errors.New("item productId is required")
	ErrTotalNegative       = errors.New("order total must be non-negative")
	ErrTotalMismatch       = errors.New("order total does not match items sum")
	ErrStatusInvalid       = errors.New("order status is invalid")
	ErrCustomerInvalid     = errors.New("customer is invalid")
)

// OrderLineRequest - позиция, присланная клиентом. Цена клиента не принимается.
type OrderLineRequest struct {
	ProductID string
	Quantity  int64
}

// OrderLine - сохранённая позиция заказа.
type OrderLine struct {
	// Position - индекс позиции во входном запросе.
	Position  int
	ProductID string
	Quantity  int64
	// UnitPriceMinor фиксирует цену товара на момент покупки.
	UnitPriceMinor int64
}

// Subtotal возвращает стоимость позиции.
func (l OrderLine) Subtotal() int64 {
	return l.Quantity * l.UnitPriceMinor
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID         string
	Customer   Customer
	Lines      []OrderLine
	TotalMinor int64
	Status     OrderStatus
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if verr := o.Customer.Validate(); verr != nil {
		errs = append(errs, errors.Join(ErrCustomerInvalid, verr))
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrStatusInvalid)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrLinesRequired)
	}
	if o.TotalMinor < 0 {
		errs = append(errs, ErrTotalNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	for _, line := range o.Lines {
		if line.ProductID == "" {
			errs = append(errs, ErrLineProductRequired)
		}
		if line.Quantity <= 0 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if line.UnitPriceMinor < 0 {
			errs = append(errs, ErrLinePriceInvalid)
		}
		calc += line.Subtotal()
	}
	if calc != o.TotalMinor {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// Clone возвращает копию заказа без общих срезов.
func (o Order) Clone() Order {
	dst := o
	dst.Lines = append([]OrderLine(nil), o.Lines...)
	return dst
}

// OrderLineView - позиция заказа с подтянутыми данными товара для отображения.
type OrderLineView struct {
	OrderLine
	// Product пустой, если товар удалён из каталога после покупки.
	Product *ProductSummary
}

// ProductSummary - публичные поля товара, которые показываются в заказе.
type ProductSummary struct {
	ID         string
	Name       string
	PriceMinor int64
	ImageURL   string
}

// OrderView - заказ для чтения через API.
type OrderView struct {
	Order
	Items []OrderLineView
}
