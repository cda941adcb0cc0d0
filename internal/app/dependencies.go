package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// CatalogStore - хранилище каталога: CRUD товаров и резервирование остатков.
type CatalogStore interface {
	domain.ProductRepository
	domain.StockReserver
}

// Dependencies содержит хранилища приложения.
type Dependencies struct {
	Catalog     CatalogStore
	Orders      domain.OrderRepository
	Outbox      domain.OutboxRepository
	Timeline    domain.TimelineRepository
	Idempotency domain.IdempotencyRepository

	// Store задан только для postgres.
	Store *postgres.Store
}

// NewMemoryDependencies создаёт хранилища в памяти.
func NewMemoryDependencies() *Dependencies {
	return &Dependencies{
		Catalog:     memory.NewCatalogStore(),
		Orders:      memory.NewOrderRepository(),
		Outbox:      memory.NewOutboxRepository(),
		Timeline:    memory.NewTimelineRepository(),
		Idempotency: memory.NewIdempotencyRepository(),
	}
}

// NewPostgresDependencies создаёт репозитории поверх открытого Store.
func NewPostgresDependencies(store *postgres.Store) *Dependencies {
	return &Dependencies{
		Catalog:     postgres.NewCatalogRepository(store),
		Orders:      postgres.NewOrderRepository(store),
		Outbox:      postgres.NewOutboxRepository(store),
		Timeline:    postgres.NewTimelineRepository(store),
		Idempotency: postgres.NewIdempotencyRepository(store),
		Store:       store,
	}
}

// Close освобождает подключение к базе, если оно есть.
func (d *Dependencies) Close() error {
	if d == nil || d.Store == nil {
		return nil
	}
	return d.Store.Close()
}

// initRuntimeDependencies выбирает хранилище по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		logger.WithField("storage", StorageDriverMemory).Info("using in-memory storage")
		return NewMemoryDependencies(), nil
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres dsn is required for %s storage", StorageDriverPostgres)
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres schema is up to date")
		}
		logger.WithField("storage", StorageDriverPostgres).Info("using postgres storage")
		return NewPostgresDependencies(store), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
