package domain

import "time"

// ReservationStatus отражает статус списания остатка под позицию заказа.
type ReservationStatus string

const (
	// ReservationStatusReserved - остаток списан.
	ReservationStatusReserved ReservationStatus = "reserved"
	// ReservationStatusFailed - списание не применилось, позиция ждёт повторной попытки.
	ReservationStatusFailed ReservationStatus = "failed"
	// ReservationStatusAbandoned - заказ закрыт (отменён или доставлен) раньше,
	// чем появился остаток; позиция больше не резервируется.
	ReservationStatusAbandoned ReservationStatus = "abandoned"
)

// ReservationBacklog - состояние failed-позиций журнала резервов.
type ReservationBacklog struct {
	// Retryable - позиции, у которых ещё остались попытки.
	Retryable int
	// Exhausted - позиции, исчерпавшие попытки.
	Exhausted int
}

// Reservation - запись о списании остатка под конкретную позицию заказа.
// Ключ (OrderID, Position) делает списание идемпотентным: повторный вызов
// для уже зарезервированной позиции остаток не трогает.
type Reservation struct {
	OrderID   string
	Position  int
	ProductID string
	Qty       int64
	Status    ReservationStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет, корректно ли заполнены ключевые поля резервирования.
func (r *Reservation) Validate() []error {
	var errs []error

	if r.OrderID == "" {
		errs = append(errs, ErrReservationOrderRequired)
	}
	if r.ProductID == "" {
		errs = append(errs, ErrReservationProductRequired)
	}
	if r.Position < 0 {
		errs = append(errs, ErrReservationPositionInvalid)
	}
	if r.Qty <= 0 {
		errs = append(errs, ErrReservationQtyInvalid)
	}

	return errs
}

// Reserved сообщает, что остаток по позиции уже списан.
func (r Reservation) Reserved() bool {
	return r.Status == ReservationStatusReserved
}
