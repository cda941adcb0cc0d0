package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation - входные данные не прошли проверку, до хранилища запрос не дошёл.
	ErrValidation = errors.New("validation failed")
	// ErrProductNotFound возвращается каталогом, если товара с таким ID нет.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock - на складе меньше единиц, чем запрошено.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrPersistence - хранилище заказов не смогло сохранить данные.
	ErrPersistence = errors.New("persistence failed")
	// ErrPartialReservation - заказ создан, но часть позиций не зарезервирована.
	ErrPartialReservation = errors.New("partial stock reservation")
	// ErrProductAlreadyExists - товар с таким ID уже есть в каталоге.
	ErrProductAlreadyExists = errors.New("product already exists")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderAlreadyExists - заказ с таким ID уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrReservationNotFound - строка резерва для заказа не найдена.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrOutboxPublish - ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибки idempotency-ключей.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
)

// ValidationError перечисляет поля, не прошедшие проверку.
type ValidationError struct {
	Fields []FieldError
}

// FieldError описывает одно нарушение.
type FieldError struct {
	Field   string
	Message string
}

// NewValidationError собирает ошибку из пар поле/сообщение.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// Add добавляет ещё одно нарушение.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Empty сообщает, что нарушений нет.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	if e.Empty() {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ProductNotFoundError - ссылка на товар, которого нет в каталоге.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product with ID %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error { return ErrProductNotFound }

// InsufficientStockError несёт остаток и запрошенное количество для показа клиенту.
type InsufficientStockError struct {
	ProductID string
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("not enough stock for product %s: only %d left, %d requested", e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// PersistenceError - сбой хранилища до каких-либо изменений склада.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, ErrPersistence)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrPersistence, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPersistence}
	}
	return []error{ErrPersistence, e.Err}
}

// FailedLine описывает позицию, для которой не удалось списать остаток.
type FailedLine struct {
	Position  int
	ProductID string
	Quantity  int64
	Err       error
}

// PartialReservationError возвращается, когда заказ уже сохранён, но часть
// позиций не зарезервирована. Заказ не откатывается: повтор PlaceOrder
// создал бы дубликат.
type PartialReservationError struct {
	Order       Order
	FailedLines []FailedLine
}

func (e *PartialReservationError) Error() string {
	ids := make([]string, 0, len(e.FailedLines))
	for _, line := range e.FailedLines {
		ids = append(ids, line.ProductID)
	}
	return fmt.Sprintf("order %s created but stock not reserved for products [%s]", e.Order.ID, strings.Join(ids, ", "))
}

// Unwrap раскрывает причины по каждой позиции, чтобы errors.As находил
// InsufficientStockError у проигравших гонку за последний остаток.
func (e *PartialReservationError) Unwrap() []error {
	errs := make([]error, 0, len(e.FailedLines)+1)
	errs = append(errs, ErrPartialReservation)
	for _, line := range e.FailedLines {
		if line.Err != nil {
			errs = append(errs, line.Err)
		}
	}
	return errs
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict проверяет, что ключ уже занят (тем же или другим запросом).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsNotFound объединяет все "не найдено" ошибки домена.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrProductNotFound)
}

var (
	// Ошибки полей резерва.
	ErrReservationOrderRequired   = errors.New("reservation order_id is required")
	ErrReservationProductRequired = errors.New("reservation product_id is required")
	ErrReservationPositionInvalid = errors.New("reservation position must be non-negative")
	ErrReservationQtyInvalid      = errors.New("reservation qty must be greater than zero")
)
