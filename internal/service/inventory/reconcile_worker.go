package inventory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 50
	defaultMaxAttempts  = 10
)

var (
	reconcileAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_reservation_reconcile_attempts_total",
		Help: "Total number of reservation reconcile attempts grouped by result.",
	}, []string{"result"})
	reconcileFailedLines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_reservation_failed_lines",
		Help: "Current number of order lines waiting for stock reservation.",
	})
	reconcileExhaustedLines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_reservation_exhausted_lines",
		Help: "Current number of failed order lines that exceeded reconcile attempts.",
	})
)

// ReconcileOptions задаёт параметры ReconcileWorker.
type ReconcileOptions struct {
	Logger       *log.Entry
	Timeline     domain.TimelineRepository
	Outbox       domain.OutboxRepository
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Option настраивает ReconcileWorker.
type Option func(*ReconcileOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *ReconcileOptions) {
		opts.Logger = logger
	}
}

// WithTimeline подключает журнал событий заказа.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(opts *ReconcileOptions) {
		opts.Timeline = timeline
	}
}

// WithOutbox подключает outbox для события reservation.completed.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(opts *ReconcileOptions) {
		opts.Outbox = outbox
	}
}

// WithPollInterval задаёт частоту опроса журнала резервов.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *ReconcileOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт, сколько позиций обрабатывается за цикл.
func WithBatchSize(batchSize int) Option {
	return func(opts *ReconcileOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxAttempts задаёт предел попыток, после которого позиция остаётся failed.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *ReconcileOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// ReconcileResult - итог одного цикла.
type ReconcileResult struct {
	Attempted int
	Reserved  int
	// Abandoned - позиции закрытых заказов, снятые с повторного резервирования.
	Abandoned int
	Completed []string
}

// ReconcileWorker повторяет списание для позиций, которые не удалось
// зарезервировать при оформлении заказа.
type ReconcileWorker struct {
	reserver     domain.StockReserver
	orders       domain.OrderRepository
	timeline     domain.TimelineRepository
	outbox       domain.OutboxRepository
	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
}

// NewReconcileWorker создаёт воркер доводки резервов.
func NewReconcileWorker(reserver domain.StockReserver, orders domain.OrderRepository, options ...Option) *ReconcileWorker {
	opts := ReconcileOptions{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
		MaxAttempts:  defaultMaxAttempts,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reservation-reconciler")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}

	return &ReconcileWorker{
		reserver:     reserver,
		orders:       orders,
		timeline:     opts.Timeline,
		outbox:       opts.Outbox,
		logger:       logger,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		maxAttempts:  opts.MaxAttempts,
	}
}

// Run периодически обрабатывает failed-позиции до отмены ctx.
func (w *ReconcileWorker) Run(ctx context.Context) {
	if w.reserver == nil || w.orders == nil {
		w.logger.Warn("reservation reconciler is disabled: reserver or orders is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один цикл доводки. Позиции отменённых и доставленных
// заказов не резервируются, а переводятся в abandoned.
func (w *ReconcileWorker) ProcessOnce(ctx context.Context) ReconcileResult {
	var result ReconcileResult
	if ctx.Err() != nil {
		return result
	}

	batch, err := w.reserver.ListFailed(ctx, w.maxAttempts, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to list failed reservations")
		return result
	}

	orders := make(map[string]domain.Order)
	var touched []string
	for _, r := range batch {
		if ctx.Err() != nil {
			break
		}
		logger := w.logger.WithFields(log.Fields{
			"order_id":   r.OrderID,
			"product_id": r.ProductID,
			"position":   r.Position,
		})

		order, ok := orders[r.OrderID]
		if !ok {
			order, err = w.orders.Get(ctx, r.OrderID)
			if err != nil {
				reconcileAttempts.WithLabelValues("error").Inc()
				logger.WithError(err).Warn("failed to load order for reservation retry")
				continue
			}
			orders[r.OrderID] = order
		}

		if !order.Status.AcceptsReservation() {
			reason := fmt.Sprintf("order is %s", order.Status)
			if err := w.reserver.Abandon(ctx, r, reason); err != nil {
				logger.WithError(err).Warn("failed to abandon reservation")
				continue
			}
			result.Abandoned++
			reconcileAttempts.WithLabelValues("abandoned").Inc()
			logger.WithField("status", order.Status).Info("reservation abandoned for closed order")
			continue
		}

		result.Attempted++
		_, err := w.reserver.ReserveLine(ctx, r)
		switch {
		case err == nil:
			result.Reserved++
			reconcileAttempts.WithLabelValues("reserved").Inc()
			if !slices.Contains(touched, r.OrderID) {
				touched = append(touched, r.OrderID)
			}
		case errors.Is(err, domain.ErrInsufficientStock):
			reconcileAttempts.WithLabelValues("insufficient_stock").Inc()
		case errors.Is(err, domain.ErrProductNotFound):
			reconcileAttempts.WithLabelValues("product_not_found").Inc()
		default:
			reconcileAttempts.WithLabelValues("error").Inc()
			logger.WithError(err).Warn("reservation retry failed")
			if recErr := w.reserver.RecordFailure(ctx, r, err.Error()); recErr != nil {
				logger.WithError(recErr).Warn("failed to record reservation failure")
			}
		}
	}

	for _, orderID := range touched {
		done, err := w.completeIfReserved(ctx, orderID)
		if err != nil {
			w.logger.WithError(err).WithField("order_id", orderID).Warn("failed to finalize order reservation")
			continue
		}
		if done {
			result.Completed = append(result.Completed, orderID)
		}
	}

	w.refreshBacklog(ctx)
	return result
}

// completeIfReserved публикует ReservationCompleted, если у открытого заказа
// не осталось failed-позиций.
func (w *ReconcileWorker) completeIfReserved(ctx context.Context, orderID string) (bool, error) {
	lines, err := w.reserver.ListByOrder(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("list reservations: %w", err)
	}
	for _, line := range lines {
		if !line.Reserved() {
			return false, nil
		}
	}

	order, err := w.orders.Get(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("get order: %w", err)
	}
	if !order.Status.AcceptsReservation() {
		return false, nil
	}

	now := time.Now().UTC()
	const reason = "all lines reserved"
	if w.timeline != nil {
		if err := w.timeline.Append(domain.TimelineEvent{
			OrderID:  orderID,
			Type:     domain.TimelineReservationCompleted,
			Reason:   reason,
			Occurred: now,
		}); err != nil {
			w.logger.WithError(err).WithField("order_id", orderID).Warn("append timeline event failed")
		}
	}
	if w.outbox != nil {
		event := domain.NewOrderEvent(order, now)
		event.Reason = reason
		msg, err := event.OutboxMessage(domain.EventReservationCompleted)
		if err != nil {
			return false, err
		}
		if _, err := w.outbox.Enqueue(msg); err != nil {
			return false, fmt.Errorf("enqueue event: %w", err)
		}
	}

	w.logger.WithField("order_id", orderID).Info("order stock fully reserved")
	return true, nil
}

func (w *ReconcileWorker) refreshBacklog(ctx context.Context) {
	backlog, err := w.reserver.FailedBacklog(ctx, w.maxAttempts)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect reservation backlog")
		return
	}
	reconcileFailedLines.Set(float64(backlog.Retryable))
	reconcileExhaustedLines.Set(float64(backlog.Exhausted))
}
