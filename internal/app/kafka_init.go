package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
)

// publishers - куда outbox worker отправляет события и записи DLQ.
type publishers struct {
	events   domain.OutboxPublisher
	dlq      domain.OutboxPublisher
	producer *kafka.Producer
}

// initPublishers создаёт Kafka producer, если заданы брокеры. Без брокеров или
// при ошибке подключения события пишутся в лог, сервис продолжает работу.
func initPublishers(cfg Config, logger *log.Entry) publishers {
	fallback := publishers{events: outbox.NewLogPublisher(logger.WithField("component", "outbox-log-publisher"))}
	if len(cfg.KafkaBrokers) == 0 {
		return fallback
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:  cfg.KafkaBrokers,
		ClientID: cfg.KafkaClientID,
	})
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return fallback
	}

	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")
	return publishers{
		events:   kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
		dlq:      kafka.NewDLQPublisher(producer, cfg.KafkaDLQTopic),
		producer: producer,
	}
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
