package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Типы доменных событий, которые попадают в outbox и далее в брокер.
const (
	EventOrderCreated         = "order.created"
	EventOrderStatusChanged   = "order.status_changed"
	EventReservationPartial   = "reservation.partial"
	EventReservationCompleted = "reservation.completed"
)

// AggregateOrder - тип агрегата для событий заказа.
const AggregateOrder = "order"

// OrderEventLine - позиция заказа в теле события.
type OrderEventLine struct {
	Position       int    `json:"position"`
	ProductID      string `json:"product_id"`
	Quantity       int64  `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
}

// OrderEvent - тело события заказа в outbox.
type OrderEvent struct {
	OrderID         string           `json:"order_id"`
	Status          string           `json:"status"`
	PreviousStatus  string           `json:"previous_status,omitempty"`
	TotalMinor      int64            `json:"total_minor"`
	Lines           []OrderEventLine `json:"lines,omitempty"`
	FailedPositions []int            `json:"failed_positions,omitempty"`
	Reason          string           `json:"reason,omitempty"`
	OccurredAt      time.Time        `json:"occurred_at"`
}

// NewOrderEvent заполняет событие по текущему состоянию заказа.
func NewOrderEvent(order Order, occurredAt time.Time) OrderEvent {
	lines := make([]OrderEventLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, OrderEventLine{
			Position:       line.Position,
			ProductID:      line.ProductID,
			Quantity:       line.Quantity,
			UnitPriceMinor: line.UnitPriceMinor,
		})
	}
	return OrderEvent{
		OrderID:    order.ID,
		Status:     string(order.Status),
		TotalMinor: order.TotalMinor,
		Lines:      lines,
		OccurredAt: occurredAt.UTC(),
	}
}

// OutboxMessage упаковывает событие в сообщение outbox.
func (e OrderEvent) OutboxMessage(eventType string) (OutboxMessage, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return OutboxMessage{
		AggregateType: AggregateOrder,
		AggregateID:   e.OrderID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}

// DeadLetter - сообщение outbox, которое не удалось опубликовать после всех
// попыток. Хранит исходное событие целиком, чтобы его можно было переиграть.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	Attempts      int             `json:"attempts"`
	FailedAt      time.Time       `json:"failed_at"`
}

// NewDeadLetter собирает запись DLQ по исходному сообщению.
func NewDeadLetter(msg OutboxMessage, publishErr error, attempts int, failedAt time.Time) DeadLetter {
	dl := DeadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		Attempts:      attempts,
		FailedAt:      failedAt.UTC(),
	}
	if publishErr != nil {
		dl.PublishError = publishErr.Error()
	}
	return dl
}

// OutboxMessage упаковывает запись DLQ для публикации через OutboxPublisher.
func (d DeadLetter) OutboxMessage() (OutboxMessage, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal dead letter %s: %w", d.OutboxID, err)
	}
	return OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       payload,
	}, nil
}

// Original восстанавливает исходное сообщение outbox.
func (d DeadLetter) Original() OutboxMessage {
	return OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       []byte(d.Payload),
	}
}
