package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в topic, выбранный по типу события.
type OutboxTopicPublisher struct {
	producer      *Producer
	fallbackTopic string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
// fallbackTopic получает события, для которых нет явного маршрута.
func NewOutboxPublisher(producer *Producer, fallbackTopic string) *OutboxTopicPublisher {
	if fallbackTopic == "" {
		fallbackTopic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer:      producer,
		fallbackTopic: fallbackTopic,
	}
}

// Publish отправляет событие в Kafka.
func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	envelope := NewEnvelope(event, p.producer.now())
	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal outbox envelope %s: %w", event.ID, err)
	}

	return p.producer.Send(TopicFor(event.EventType, p.fallbackTopic), envelope.Key(), value, map[string]string{
		HeaderEventType: event.EventType,
	})
}

// DLQPublisher публикует записи domain.DeadLetter в DLQ topic.
type DLQPublisher struct {
	producer *Producer
	topic    string
}

// NewDLQPublisher создаёт паблишер DLQ.
func NewDLQPublisher(producer *Producer, topic string) *DLQPublisher {
	if topic == "" {
		topic = TopicDeadLetterQueue
	}
	return &DLQPublisher{producer: producer, topic: topic}
}

// Publish ожидает сообщение, собранное через domain.DeadLetter.OutboxMessage,
// и дублирует причину сбоя в заголовках.
func (p *DLQPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka dlq publisher is not initialized")
	}

	headers := map[string]string{
		HeaderEventType:     event.EventType,
		HeaderOriginalTopic: TopicFor(event.EventType, ""),
	}
	var dl domain.DeadLetter
	if err := json.Unmarshal(event.Payload, &dl); err == nil {
		headers[HeaderErrorMessage] = dl.PublishError
		headers[HeaderRetryCount] = strconv.Itoa(dl.Attempts)
		if !dl.FailedAt.IsZero() {
			headers[HeaderFailedAt] = dl.FailedAt.Format(time.RFC3339Nano)
		}
	}

	envelope := NewEnvelope(event, p.producer.now())
	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal dlq envelope %s: %w", event.ID, err)
	}
	return p.producer.Send(p.topic, envelope.Key(), value, headers)
}

var (
	_ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
	_ domain.OutboxPublisher = (*DLQPublisher)(nil)
)
