package domain

import "time"

// Типы событий timeline заказа.
const (
	TimelineOrderPlaced          = "OrderPlaced"
	TimelineOrderStatusChanged   = "OrderStatusChanged"
	TimelineReservationPartial   = "ReservationPartial"
	TimelineReservationCompleted = "ReservationCompleted"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
