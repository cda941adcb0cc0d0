// Package idempotency чистит просроченные ключи Idempotency-Key, которыми
// HTTP API защищает оформление заказа от повторной отправки.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultSweepInterval = 10 * time.Minute
	defaultSweepBatch    = 500
	defaultMaxBatches    = 100
)

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_idempotency_sweep_runs_total",
		Help: "Total number of idempotency key sweeps grouped by result.",
	}, []string{"result"})
	sweepDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_idempotency_keys_deleted_total",
		Help: "Total number of expired idempotency keys removed.",
	})
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storefront_idempotency_sweep_duration_seconds",
		Help:    "Duration of a single idempotency key sweep.",
		Buckets: prometheus.DefBuckets,
	})
)

// CleanupOptions задаёт параметры CleanupWorker.
type CleanupOptions struct {
	Logger     *log.Entry
	Interval   time.Duration
	BatchSize  int
	MaxBatches int
	Now        func() time.Time
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) { opts.Logger = logger }
}

// WithInterval задаёт паузу между проходами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) { opts.Interval = interval }
}

// WithBatchSize задаёт, сколько ключей удаляется за один запрос к хранилищу.
func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) { opts.BatchSize = batchSize }
}

// WithMaxBatches ограничивает число запросов за один проход, чтобы большой
// хвост просроченных ключей не держал хранилище долго.
func WithMaxBatches(maxBatches int) CleanupOption {
	return func(opts *CleanupOptions) { opts.MaxBatches = maxBatches }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) CleanupOption {
	return func(opts *CleanupOptions) { opts.Now = now }
}

// SweepResult - итог одного прохода.
type SweepResult struct {
	Deleted int
	Batches int
	// Truncated - проход остановлен по MaxBatches, просроченные ключи ещё остались.
	Truncated bool
}

// CleanupWorker периодически удаляет ключи с истёкшим TTL.
type CleanupWorker struct {
	repo       domain.IdempotencyRepository
	logger     *log.Entry
	interval   time.Duration
	batchSize  int
	maxBatches int
	now        func() time.Time
}

// NewCleanupWorker создаёт воркер очистки.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	opts := CleanupOptions{
		Interval:   defaultSweepInterval,
		BatchSize:  defaultSweepBatch,
		MaxBatches: defaultMaxBatches,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "idempotency-cleanup")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatch
	}
	if opts.MaxBatches <= 0 {
		opts.MaxBatches = defaultMaxBatches
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &CleanupWorker{
		repo:       repo,
		logger:     opts.Logger,
		interval:   opts.Interval,
		batchSize:  opts.BatchSize,
		maxBatches: opts.MaxBatches,
		now:        opts.Now,
	}
}

// Run чистит ключи до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup is disabled: repo is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	started := time.Now()
	res, err := w.Sweep(ctx)
	sweepDuration.Observe(time.Since(started).Seconds())

	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		sweepRuns.WithLabelValues("error").Inc()
		w.logger.WithError(err).WithField("deleted", res.Deleted).Warn("idempotency sweep failed")
		return
	case res.Truncated:
		sweepRuns.WithLabelValues("truncated").Inc()
	default:
		sweepRuns.WithLabelValues("ok").Inc()
	}

	if res.Deleted > 0 {
		w.logger.WithFields(log.Fields{
			"deleted":   res.Deleted,
			"batches":   res.Batches,
			"truncated": res.Truncated,
		}).Info("expired idempotency keys removed")
	}
}

// Sweep удаляет ключи, просроченные на момент вызова, порциями BatchSize.
func (w *CleanupWorker) Sweep(ctx context.Context) (SweepResult, error) {
	cutoff := w.now()
	var res SweepResult

	for res.Batches < w.maxBatches {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		deleted, err := w.repo.DeleteExpired(cutoff, w.batchSize)
		res.Batches++
		if err != nil {
			return res, err
		}
		res.Deleted += deleted
		sweepDeleted.Add(float64(deleted))

		if deleted < w.batchSize {
			return res, nil
		}
	}

	res.Truncated = true
	return res, nil
}
