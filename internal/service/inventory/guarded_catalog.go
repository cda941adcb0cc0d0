// Package inventory отвечает за склад: защищает каталог circuit breaker'ом
// и доводит до конца резервы, которые не удалось списать при оформлении.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Backend - хранилище каталога, которое одновременно ведёт резервы.
type Backend interface {
	domain.ProductCatalog
	domain.StockReserver
}

// BreakerSettings настраивает circuit breaker каталога.
type BreakerSettings struct {
	// MaxRequests - сколько пробных запросов пропускается в half-open.
	MaxRequests uint32
	// Timeout - сколько breaker остаётся open перед half-open.
	Timeout time.Duration
	// ConsecutiveFailures - после скольких подряд сбоев хранилища breaker размыкается.
	ConsecutiveFailures uint32
}

// DefaultBreakerSettings возвращает настройки по умолчанию.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:         3,
		Timeout:             5 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// GuardedCatalog пропускает чтения и списания через circuit breaker.
// Бизнес-исходы (нет товара, не хватает остатка) считаются успешными вызовами.
// RecordFailure и чтения журнала резервов идут в хранилище напрямую.
type GuardedCatalog struct {
	backend Backend
	breaker *gobreaker.CircuitBreaker[any]
}

// NewGuardedCatalog оборачивает backend circuit breaker'ом.
func NewGuardedCatalog(backend Backend, settings BreakerSettings, logger *log.Entry) *GuardedCatalog {
	def := DefaultBreakerSettings()
	if settings.MaxRequests == 0 {
		settings.MaxRequests = def.MaxRequests
	}
	if settings.Timeout <= 0 {
		settings.Timeout = def.Timeout
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if logger == nil {
		logger = log.WithField("component", "catalog-breaker")
	}

	st := gobreaker.Settings{
		Name:        "catalog",
		MaxRequests: settings.MaxRequests,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		IsSuccessful: isBusinessOutcome,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &GuardedCatalog{
		backend: backend,
		breaker: gobreaker.NewCircuitBreaker[any](st),
	}
}

// State возвращает текущее состояние breaker'а (closed, half-open, open).
func (g *GuardedCatalog) State() string {
	return g.breaker.State().String()
}

// FindByID читает товар через breaker.
func (g *GuardedCatalog) FindByID(ctx context.Context, id string) (domain.Product, error) {
	res, err := g.breaker.Execute(func() (any, error) {
		return g.backend.FindByID(ctx, id)
	})
	if err != nil {
		return domain.Product{}, breakerError(err)
	}
	return res.(domain.Product), nil
}

// DecrementStockIfAvailable списывает остаток через breaker.
func (g *GuardedCatalog) DecrementStockIfAvailable(ctx context.Context, id string, qty int64) (bool, error) {
	res, err := g.breaker.Execute(func() (any, error) {
		return g.backend.DecrementStockIfAvailable(ctx, id, qty)
	})
	if err != nil {
		return false, breakerError(err)
	}
	return res.(bool), nil
}

// ReserveLine списывает остаток под позицию через breaker.
func (g *GuardedCatalog) ReserveLine(ctx context.Context, r domain.Reservation) (domain.Reservation, error) {
	res, err := g.breaker.Execute(func() (any, error) {
		return g.backend.ReserveLine(ctx, r)
	})
	if err != nil {
		reservation, _ := res.(domain.Reservation)
		return reservation, breakerError(err)
	}
	return res.(domain.Reservation), nil
}

// RecordFailure пишет отказ напрямую, чтобы открытый breaker не терял журнал.
func (g *GuardedCatalog) RecordFailure(ctx context.Context, r domain.Reservation, reason string) error {
	return g.backend.RecordFailure(ctx, r, reason)
}

// Abandon закрывает позицию напрямую, минуя breaker.
func (g *GuardedCatalog) Abandon(ctx context.Context, r domain.Reservation, reason string) error {
	return g.backend.Abandon(ctx, r, reason)
}

// ListFailed читает журнал резервов напрямую.
func (g *GuardedCatalog) ListFailed(ctx context.Context, maxAttempts, limit int) ([]domain.Reservation, error) {
	return g.backend.ListFailed(ctx, maxAttempts, limit)
}

// FailedBacklog читает журнал резервов напрямую.
func (g *GuardedCatalog) FailedBacklog(ctx context.Context, maxAttempts int) (domain.ReservationBacklog, error) {
	return g.backend.FailedBacklog(ctx, maxAttempts)
}

// ListByOrder читает журнал резервов напрямую.
func (g *GuardedCatalog) ListByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	return g.backend.ListByOrder(ctx, orderID)
}

// isBusinessOutcome отделяет отказы предметной области от сбоев хранилища.
func isBusinessOutcome(err error) bool {
	return err == nil ||
		errors.Is(err, domain.ErrProductNotFound) ||
		errors.Is(err, domain.ErrInsufficientStock) ||
		errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, context.Canceled)
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("catalog unavailable: %w", err)
	}
	return err
}

var (
	_ domain.ProductCatalog = (*GuardedCatalog)(nil)
	_ domain.StockReserver  = (*GuardedCatalog)(nil)
)
