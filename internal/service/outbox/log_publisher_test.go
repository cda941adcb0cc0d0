package outbox

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestLogPublisher_WritesEventFields(t *testing.T) {
	logger, hook := test.NewNullLogger()
	publisher := NewLogPublisher(log.NewEntry(logger))

	err := publisher.Publish(domain.OutboxMessage{
		ID:          "outbox-1",
		AggregateID: "order-1",
		EventType:   domain.EventOrderCreated,
		Payload:     []byte(`{"order_id":"order-1"}`),
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected a log entry")
	}
	if entry.Data["event_type"] != domain.EventOrderCreated || entry.Data["order_id"] != "order-1" {
		t.Fatalf("unexpected log fields: %+v", entry.Data)
	}
}
