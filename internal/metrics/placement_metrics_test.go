package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestNewPlacementMetrics_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewPlacementMetricsWithRegisterer(reg)
	second := NewPlacementMetricsWithRegisterer(reg)

	if first.ordersPlaced != second.ordersPlaced {
		t.Fatal("second construction must reuse already registered collectors")
	}
}

func TestPlacementMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPlacementMetricsWithRegisterer(reg)

	m.RecordOrderPlaced()
	m.RecordOrderPlaced()
	m.RecordRejected(RejectInsufficientStock)
	m.RecordReservationFailures(3)
	m.RecordReservationFailures(0)
	m.RecordStatusUpdate("shipped")
	m.RecordTimelineEvent()
	m.RecordOutboxEvent()

	if got := testutil.ToFloat64(m.ordersPlaced); got != 2 {
		t.Fatalf("orders placed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ordersRejected.WithLabelValues(RejectInsufficientStock)); got != 1 {
		t.Fatalf("rejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.reservationFailures); got != 3 {
		t.Fatalf("reservation failures = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.statusUpdates.WithLabelValues("shipped")); got != 1 {
		t.Fatalf("status updates = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.timelineEvents); got != 1 {
		t.Fatalf("timeline events = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.outboxEvents); got != 1 {
		t.Fatalf("outbox events = %v, want 1", got)
	}
}

func TestPlacementMetrics_PlacementStarted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPlacementMetricsWithRegisterer(reg)

	done := m.PlacementStarted()
	if got := testutil.ToFloat64(m.inFlight); got != 1 {
		t.Fatalf("in flight = %v, want 1", got)
	}
	done()
	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Fatalf("in flight = %v, want 0", got)
	}

	metric := &dto.Metric{}
	if err := m.placementDuration.Write(metric); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	if metric.GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("expected 1 duration sample, got %d", metric.GetHistogram().GetSampleCount())
	}

	m.RecordStepDuration(StepReserve, 10*time.Millisecond)
	if got := testutil.CollectAndCount(m.stepDuration); got != 1 {
		t.Fatalf("expected 1 step series, got %d", got)
	}
}

func TestPlacementMetrics_NilSafe(t *testing.T) {
	var m *PlacementMetrics

	m.PlacementStarted()()
	m.RecordOrderPlaced()
	m.RecordRejected(RejectValidation)
	m.RecordReservationFailures(1)
	m.RecordStatusUpdate("pending")
	m.RecordStepDuration(StepPersist, time.Millisecond)
	m.RecordTimelineEvent()
	m.RecordOutboxEvent()
}

func TestHTTPMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	m.Started()
	m.Observe("POST", "/api/orders", 201, 5*time.Millisecond)
	m.Started()
	m.Observe("GET", "", 404, time.Millisecond)

	if got := testutil.ToFloat64(m.requests.WithLabelValues("POST", "/api/orders", "201")); got != 1 {
		t.Fatalf("requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Fatalf("unmatched requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Fatalf("in flight = %v, want 0", got)
	}
}
