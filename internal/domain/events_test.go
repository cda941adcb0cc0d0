package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewOrderEvent_CopiesLines(t *testing.T) {
	order := Order{
		ID:         "order-1",
		Status:     OrderStatusPending,
		TotalMinor: 3000,
		Lines: []OrderLine{
			{Position: 0, ProductID: "p-1", Quantity: 2, UnitPriceMinor: 1000},
			{Position: 1, ProductID: "p-2", Quantity: 1, UnitPriceMinor: 1000},
		},
	}

	event := NewOrderEvent(order, time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600)))
	if event.OrderID != "order-1" || event.Status != string(OrderStatusPending) || event.TotalMinor != 3000 {
		t.Fatalf("unexpected event header: %+v", event)
	}
	if len(event.Lines) != 2 || event.Lines[1].ProductID != "p-2" {
		t.Fatalf("unexpected event lines: %+v", event.Lines)
	}
	if event.OccurredAt.Location() != time.UTC {
		t.Fatalf("occurred_at must be UTC, got %s", event.OccurredAt.Location())
	}

	msg, err := event.OutboxMessage(EventOrderCreated)
	if err != nil {
		t.Fatalf("outbox message: %v", err)
	}
	if msg.AggregateType != AggregateOrder || msg.AggregateID != "order-1" || msg.EventType != EventOrderCreated {
		t.Fatalf("unexpected outbox message: %+v", msg)
	}
	if !json.Valid(msg.Payload) {
		t.Fatalf("payload must be JSON: %s", msg.Payload)
	}
}

func TestDeadLetter_RoundTripsOriginalMessage(t *testing.T) {
	original := OutboxMessage{
		ID:            "outbox-1",
		AggregateType: AggregateOrder,
		AggregateID:   "order-1",
		EventType:     EventOrderStatusChanged,
		Payload:       []byte(`{"status":"shipped"}`),
	}

	dl := NewDeadLetter(original, errors.New("broker down"), 3, time.Now())
	if dl.PublishError != "broker down" || dl.Attempts != 3 {
		t.Fatalf("unexpected dead letter: %+v", dl)
	}

	msg, err := dl.OutboxMessage()
	if err != nil {
		t.Fatalf("outbox message: %v", err)
	}
	var decoded DeadLetter
	if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
		t.Fatalf("decode dead letter: %v", err)
	}

	got := decoded.Original()
	if got.ID != original.ID || got.EventType != original.EventType || string(got.Payload) != string(original.Payload) {
		t.Fatalf("original message lost: %+v", got)
	}
}
