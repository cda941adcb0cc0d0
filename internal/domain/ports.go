package domain

import (
	"context"
	"time"
)

// ProductCatalog - то, что ядру оформления заказа нужно от каталога.
type ProductCatalog interface {
	// FindByID возвращает товар или ErrProductNotFound.
	FindByID(ctx context.Context, id string) (Product, error)
	// DecrementStockIfAvailable атомарно уменьшает остаток на qty, только если
	// stock >= qty. Возвращает true, если списание применилось.
	// StockReserver.ReserveLine списывает остаток этой же операцией.
	DecrementStockIfAvailable(ctx context.Context, id string, qty int64) (bool, error)
}

// ProductRepository - полное хранилище каталога (администрирование товаров).
type ProductRepository interface {
	ProductCatalog
	Create(ctx context.Context, product Product) error
	Update(ctx context.Context, product Product) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter ProductFilter) ([]Product, error)
	// FindByIDs возвращает найденные товары; отсутствующие ID просто пропускаются.
	FindByIDs(ctx context.Context, ids []string) (map[string]Product, error)
}

// StockReserver списывает остаток под позиции заказа и ведёт журнал резервов.
type StockReserver interface {
	// ReserveLine идемпотентно списывает остаток под позицию (OrderID, Position).
	// Уже зарезервированная или abandoned позиция возвращается без повторного списания.
	// Бизнес-отказ (нет товара, не хватает остатка) фиксируется как failed и
	// возвращается вместе с *ProductNotFoundError или *InsufficientStockError.
	ReserveLine(ctx context.Context, r Reservation) (Reservation, error)
	// RecordFailure помечает позицию как failed после технической ошибки.
	RecordFailure(ctx context.Context, r Reservation, reason string) error
	// Abandon переводит failed-позицию в abandoned; зарезервированная позиция не меняется.
	Abandon(ctx context.Context, r Reservation, reason string) error
	// ListFailed возвращает failed-позиции, самые старые первыми. maxAttempts > 0
	// оставляет только позиции с attempts < maxAttempts; limit <= 0 - без ограничения.
	ListFailed(ctx context.Context, maxAttempts, limit int) ([]Reservation, error)
	// FailedBacklog считает failed-позиции с оставшимися и исчерпанными попытками.
	FailedBacklog(ctx context.Context, maxAttempts int) (ReservationBacklog, error)
	// ListByOrder возвращает резервы заказа по возрастанию позиции.
	ListByOrder(ctx context.Context, orderID string) ([]Reservation, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create атомарно сохраняет заказ вместе с позициями.
	// Возвращает ErrOrderAlreadyExists, если ID занят.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// List возвращает заказы от новых к старым; limit <= 0 - без ограничения.
	List(ctx context.Context, limit int) ([]Order, error)
	// UpdateStatus перезаписывает статус при совпадении версии (optimistic locking)
	// и возвращает обновлённый заказ.
	UpdateStatus(ctx context.Context, id string, status OrderStatus, expectedVersion int64) (Order, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
