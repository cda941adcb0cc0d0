// Package kafka публикует события storefront в Kafka через IBM/sarama.
package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents       = "storefront.order.events"
	TopicReservationEvents = "storefront.reservation.events"
	TopicDeadLetterQueue   = "storefront.dlq"
)

// Kafka headers для DLQ
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

var eventTopics = map[string]string{
	domain.EventOrderCreated:         TopicOrderEvents,
	domain.EventOrderStatusChanged:   TopicOrderEvents,
	domain.EventReservationPartial:   TopicReservationEvents,
	domain.EventReservationCompleted: TopicReservationEvents,
}

// TopicFor возвращает topic для типа события; неизвестные типы уходят в fallback.
func TopicFor(eventType, fallback string) string {
	if topic, ok := eventTopics[eventType]; ok {
		return topic
	}
	if fallback != "" {
		return fallback
	}
	return TopicOrderEvents
}

// Envelope - формат сообщения в topic событий.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает сообщение outbox.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   publishedAt.UTC(),
	}
}

// Key - ключ партиционирования: события одного заказа попадают в одну партицию.
func (e Envelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// ErrNotDeadLetter - сообщение из DLQ не содержит записи о неудачной публикации.
var ErrNotDeadLetter = errors.New("message is not a dead letter")

// DecodeDeadLetter разбирает сообщение из DLQ topic.
func DecodeDeadLetter(raw []byte) (domain.DeadLetter, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return domain.DeadLetter{}, fmt.Errorf("%w: %v", ErrNotDeadLetter, err)
	}
	if len(envelope.Payload) == 0 {
		return domain.DeadLetter{}, ErrNotDeadLetter
	}

	var dl domain.DeadLetter
	if err := json.Unmarshal(envelope.Payload, &dl); err != nil {
		return domain.DeadLetter{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if len(dl.Payload) == 0 {
		return domain.DeadLetter{}, fmt.Errorf("dead letter %s has no original payload", envelope.ID)
	}
	if dl.OutboxID == "" {
		dl.OutboxID = envelope.ID
	}
	if dl.AggregateID == "" {
		dl.AggregateID = envelope.AggregateID
	}
	if dl.AggregateType == "" {
		dl.AggregateType = envelope.AggregateType
	}
	if dl.EventType == "" {
		dl.EventType = envelope.EventType
	}
	return dl, nil
}
