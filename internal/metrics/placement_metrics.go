package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Причины отказа в оформлении заказа (label reason).
const (
	RejectValidation        = "validation"
	RejectProductNotFound   = "product_not_found"
	RejectInsufficientStock = "insufficient_stock"
	RejectPersistence       = "persistence"
	RejectCanceled          = "canceled"
)

// Шаги оформления заказа (label step).
const (
	StepResolve = "resolve"
	StepPersist = "persist"
	StepReserve = "reserve"
)

// PlacementMetrics содержит метрики оформления заказов и смены статусов.
type PlacementMetrics struct {
	ordersPlaced        prometheus.Counter
	ordersRejected      *prometheus.CounterVec
	reservationFailures prometheus.Counter
	statusUpdates       *prometheus.CounterVec

	placementDuration prometheus.Histogram
	stepDuration      *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	inFlight prometheus.Gauge
}

// NewPlacementMetrics создаёт метрики в DefaultRegisterer.
func NewPlacementMetrics() *PlacementMetrics {
	return NewPlacementMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewPlacementMetricsWithRegisterer создаёт метрики в указанном registerer (для тестов).
func NewPlacementMetricsWithRegisterer(registerer prometheus.Registerer) *PlacementMetrics {
	return &PlacementMetrics{
		ordersPlaced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_placed_total",
			Help: "Total number of orders persisted by the placement service",
		}),
		ordersRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_rejected_total",
			Help: "Total number of order placements rejected before persistence, by reason",
		}, []string{"reason"}),
		reservationFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_reservation_failures_total",
			Help: "Total number of order lines whose stock could not be reserved after the order was persisted",
		}),
		statusUpdates: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_order_status_updates_total",
			Help: "Total number of applied order status changes, by target status",
		}, []string{"status"}),
		placementDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_placement_duration_seconds",
			Help:    "Duration of PlaceOrder calls in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_placement_step_duration_seconds",
			Help:    "Duration of individual placement steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_events_total",
			Help: "Total number of domain events enqueued to the outbox",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_placements_in_flight",
			Help: "Number of PlaceOrder calls currently executing",
		}),
	}
}

// PlacementStarted отмечает начало оформления и возвращает функцию завершения,
// которая снимает in-flight и пишет длительность.
func (m *PlacementMetrics) PlacementStarted() func() {
	if m == nil {
		return func() {}
	}
	started := time.Now()
	m.inFlight.Inc()
	return func() {
		m.inFlight.Dec()
		m.placementDuration.Observe(time.Since(started).Seconds())
	}
}

// RecordOrderPlaced увеличивает счётчик сохранённых заказов.
func (m *PlacementMetrics) RecordOrderPlaced() {
	if m == nil {
		return
	}
	m.ordersPlaced.Inc()
}

// RecordRejected увеличивает счётчик отказов с причиной reason.
func (m *PlacementMetrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.ordersRejected.WithLabelValues(reason).Inc()
}

// RecordReservationFailures добавляет число незарезервированных позиций.
func (m *PlacementMetrics) RecordReservationFailures(lines int) {
	if m == nil || lines <= 0 {
		return
	}
	m.reservationFailures.Add(float64(lines))
}

// RecordStatusUpdate учитывает применённую смену статуса.
func (m *PlacementMetrics) RecordStatusUpdate(status string) {
	if m == nil {
		return
	}
	m.statusUpdates.WithLabelValues(status).Inc()
}

// RecordStepDuration записывает длительность шага оформления.
func (m *PlacementMetrics) RecordStepDuration(step string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *PlacementMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *PlacementMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
