package placement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// ProductLookup подтягивает карточки товаров для отображения заказов.
type ProductLookup interface {
	FindByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics подключает Prometheus-метрики.
func WithMetrics(m *metrics.PlacementMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTimeline подключает журнал событий заказа.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(s *Service) { s.timeline = timeline }
}

// WithOutbox подключает transactional outbox для доменных событий.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(s *Service) { s.outbox = outbox }
}

// WithProductLookup подключает каталог для OrderView.
func WithProductLookup(lookup ProductLookup) Option {
	return func(s *Service) { s.products = lookup }
}

// WithRetryConfig задаёт повторные попытки списания при сбоях хранилища.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(s *Service) { s.retry = cfg.normalized() }
}

// WithClock подменяет источник времени (тесты).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator подменяет генератор ID заказов (тесты).
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// Service оформляет заказы: проверяет позиции по каталогу, считает сумму по
// серверным ценам, сохраняет заказ и списывает остатки.
type Service struct {
	catalog  domain.ProductCatalog
	reserver domain.StockReserver
	orders   domain.OrderRepository
	products ProductLookup
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	metrics  *metrics.PlacementMetrics
	retry    RetryConfig
	logger   *log.Entry
	now      func() time.Time
	newID    func() string
}

// NewService создаёт сервис оформления заказов.
func NewService(
	catalog domain.ProductCatalog,
	reserver domain.StockReserver,
	orders domain.OrderRepository,
	options ...Option,
) *Service {
	s := &Service{
		catalog:  catalog,
		reserver: reserver,
		orders:   orders,
		retry:    DefaultRetryConfig(),
		logger:   log.WithField("component", "placement"),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// PlaceOrder проверяет и оформляет заказ.
//
// Фаза разрешения только читает каталог и останавливается на первой ошибке:
// *ProductNotFoundError, *InsufficientStockError или *ValidationError.
// После сохранения заказа вызов больше не реагирует на отмену ctx. Если часть
// позиций не удалось зарезервировать, возвращаются сохранённый заказ и
// *PartialReservationError.
func (s *Service) PlaceOrder(ctx context.Context, customer domain.Customer, requested []domain.OrderLineRequest) (domain.Order, error) {
	defer s.metrics.PlacementStarted()()

	customer = customer.Normalize()
	if verr := validateRequest(customer, requested); verr != nil {
		s.metrics.RecordRejected(metrics.RejectValidation)
		return domain.Order{}, verr
	}

	resolveStarted := time.Now()
	lines, total, err := s.resolve(ctx, requested)
	s.metrics.RecordStepDuration(metrics.StepResolve, time.Since(resolveStarted))
	if err != nil {
		s.metrics.RecordRejected(rejectReason(err))
		s.logger.WithError(err).Info("order rejected")
		return domain.Order{}, err
	}

	// Дальше состояние меняется: отмена вызывающего не должна оставить
	// заказ без попытки резервирования.
	commitCtx := context.WithoutCancel(ctx)

	now := s.now()
	order := domain.Order{
		ID:         s.newID(),
		Customer:   customer,
		Lines:      lines,
		TotalMinor: total,
		Status:     domain.OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, fmt.Errorf("build order: %w", errors.Join(errs...))
	}

	persistStarted := time.Now()
	err = s.orders.Create(commitCtx, order)
	s.metrics.RecordStepDuration(metrics.StepPersist, time.Since(persistStarted))
	if err != nil {
		s.metrics.RecordRejected(metrics.RejectPersistence)
		s.logger.WithError(err).WithField("order_id", order.ID).Error("failed to persist order")
		return domain.Order{}, &domain.PersistenceError{Op: "create order", Err: err}
	}
	s.metrics.RecordOrderPlaced()

	reserveStarted := time.Now()
	failed := s.reserveLines(commitCtx, order)
	s.metrics.RecordStepDuration(metrics.StepReserve, time.Since(reserveStarted))

	s.emit(order, domain.EventOrderCreated, domain.TimelineOrderPlaced, "order placed", nil)

	if len(failed) > 0 {
		positions := failedPositions(failed)
		s.metrics.RecordReservationFailures(len(failed))
		s.logger.WithFields(log.Fields{
			"order_id":         order.ID,
			"failed_positions": positions,
		}).Error("order persisted but stock reservation failed for some lines")

		reason := fmt.Sprintf("stock not reserved for positions %v", positions)
		s.emit(order, domain.EventReservationPartial, domain.TimelineReservationPartial, reason, func(e *domain.OrderEvent) {
			e.FailedPositions = positions
			e.Reason = reason
		})
		return order.Clone(), &domain.PartialReservationError{Order: order.Clone(), FailedLines: failed}
	}

	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"total_minor": order.TotalMinor,
		"lines":       len(order.Lines),
	}).Info("order placed")

	return order.Clone(), nil
}

// resolve проходит позиции в порядке запроса, фиксирует цену каждой позиции и
// проверяет остаток по суммарному количеству товара во всём заказе.
func (s *Service) resolve(ctx context.Context, requested []domain.OrderLineRequest) ([]domain.OrderLine, int64, error) {
	lines := make([]domain.OrderLine, 0, len(requested))
	perProduct := make(map[string]int64, len(requested))
	var total int64

	for i, req := range requested {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		productID := strings.TrimSpace(req.ProductID)
		product, err := s.catalog.FindByID(ctx, productID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return nil, 0, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, 0, ctxErr
			}
			return nil, 0, &domain.PersistenceError{Op: "find product " + productID, Err: err}
		}

		if perProduct[productID] > math.MaxInt64-req.Quantity {
			return nil, 0, domain.NewValidationError(fmt.Sprintf("items[%d].quantity", i), "is too large")
		}
		perProduct[productID] += req.Quantity
		if product.Stock < perProduct[productID] {
			return nil, 0, &domain.InsufficientStockError{
				ProductID: productID,
				Available: product.Stock,
				Requested: perProduct[productID],
			}
		}

		subtotal, ok := mulInt64(product.PriceMinor, req.Quantity)
		if !ok || total > math.MaxInt64-subtotal {
			return nil, 0, domain.NewValidationError("items", "order total is too large")
		}
		total += subtotal

		lines = append(lines, domain.OrderLine{
			Position:       i,
			ProductID:      productID,
			Quantity:       req.Quantity,
			UnitPriceMinor: product.PriceMinor,
		})
	}

	return lines, total, nil
}

// reserveLines списывает остаток под каждую позицию по порядку.
// Бизнес-отказы журнал резервов фиксирует сам; технические ошибки
// повторяются и после исчерпания попыток записываются как failed.
func (s *Service) reserveLines(ctx context.Context, order domain.Order) []domain.FailedLine {
	var failed []domain.FailedLine

	for _, line := range order.Lines {
		reservation := domain.Reservation{
			OrderID:   order.ID,
			Position:  line.Position,
			ProductID: line.ProductID,
			Qty:       line.Quantity,
		}

		attempts, err := retry(ctx, s.retry, func(attempt int) error {
			_, err := s.reserver.ReserveLine(ctx, reservation)
			if err != nil && isRetryableReservationError(err) {
				s.logger.WithError(err).WithFields(log.Fields{
					"order_id":   order.ID,
					"product_id": line.ProductID,
					"position":   line.Position,
					"attempt":    attempt,
				}).Warn("stock reservation attempt failed")
			}
			return err
		}, isRetryableReservationError)
		if err == nil {
			continue
		}

		if isRetryableReservationError(err) {
			reason := fmt.Sprintf("failed after %d attempts: %v", attempts, err)
			if recErr := s.reserver.RecordFailure(ctx, reservation, reason); recErr != nil {
				s.logger.WithError(recErr).WithField("order_id", order.ID).Error("failed to record reservation failure")
			}
		}

		failed = append(failed, domain.FailedLine{
			Position:  line.Position,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Err:       err,
		})
	}

	return failed
}

// UpdateOrderStatus переводит заказ в новый статус. Переходы не ограничены;
// повторная установка текущего статуса ничего не меняет.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, error) {
	status = domain.OrderStatus(strings.TrimSpace(string(status)))
	if !status.Valid() {
		return domain.Order{}, domain.NewValidationError("status", "Invalid status value.")
	}

	const maxAttempts = 2
	for attempt := 1; ; attempt++ {
		current, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return domain.Order{}, s.storageError("get order", err)
		}
		if current.Status == status {
			return current, nil
		}

		updated, err := s.orders.UpdateStatus(ctx, orderID, status, current.Version)
		if err != nil {
			if domain.IsVersionConflict(err) && attempt < maxAttempts {
				s.logger.WithField("order_id", orderID).Warn("version conflict on status update, retrying")
				continue
			}
			return domain.Order{}, s.storageError("update order status", err)
		}

		s.metrics.RecordStatusUpdate(string(status))
		reason := fmt.Sprintf("%s -> %s", current.Status, status)
		s.emit(updated, domain.EventOrderStatusChanged, domain.TimelineOrderStatusChanged, reason, func(e *domain.OrderEvent) {
			e.PreviousStatus = string(current.Status)
		})
		s.logger.WithFields(log.Fields{
			"order_id": orderID,
			"from":     current.Status,
			"to":       status,
		}).Info("order status updated")
		return updated, nil
	}
}

// GetOrder возвращает заказ с данными товаров для отображения.
func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.OrderView, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.OrderView{}, s.storageError("get order", err)
	}
	views := s.views(ctx, []domain.Order{order})
	return views[0], nil
}

// ListOrders возвращает заказы от новых к старым.
func (s *Service) ListOrders(ctx context.Context, limit int) ([]domain.OrderView, error) {
	orders, err := s.orders.List(ctx, limit)
	if err != nil {
		return nil, s.storageError("list orders", err)
	}
	return s.views(ctx, orders), nil
}

// Timeline возвращает историю событий заказа.
func (s *Service) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if _, err := s.orders.Get(ctx, orderID); err != nil {
		return nil, s.storageError("get order", err)
	}
	if s.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}
	events, err := s.timeline.List(orderID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list timeline", Err: err}
	}
	return events, nil
}

// views подтягивает текущие данные товаров; удалённые товары остаются без проекции.
func (s *Service) views(ctx context.Context, orders []domain.Order) []domain.OrderView {
	var products map[string]domain.Product
	if s.products != nil && len(orders) > 0 {
		ids := make([]string, 0)
		seen := make(map[string]struct{})
		for _, order := range orders {
			for _, line := range order.Lines {
				if _, ok := seen[line.ProductID]; ok {
					continue
				}
				seen[line.ProductID] = struct{}{}
				ids = append(ids, line.ProductID)
			}
		}
		found, err := s.products.FindByIDs(ctx, ids)
		if err != nil {
			s.logger.WithError(err).Warn("failed to load products for order view")
		}
		products = found
	}

	result := make([]domain.OrderView, 0, len(orders))
	for _, order := range orders {
		view := domain.OrderView{Order: order, Items: make([]domain.OrderLineView, 0, len(order.Lines))}
		for _, line := range order.Lines {
			item := domain.OrderLineView{OrderLine: line}
			if product, ok := products[line.ProductID]; ok {
				item.Product = &domain.ProductSummary{
					ID:         product.ID,
					Name:       product.Name,
					PriceMinor: product.PriceMinor,
					ImageURL:   product.ImageURL,
				}
			}
			view.Items = append(view.Items, item)
		}
		result = append(result, view)
	}
	return result
}

// emit пишет событие в timeline и outbox. Ошибки журналов не отменяют операцию.
func (s *Service) emit(order domain.Order, eventType, timelineType, reason string, decorate func(*domain.OrderEvent)) {
	occurred := s.now()

	if s.timeline != nil {
		if err := s.timeline.Append(domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     timelineType,
			Reason:   reason,
			Occurred: occurred,
		}); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    timelineType,
			}).Warn("append timeline event failed")
		} else {
			s.metrics.RecordTimelineEvent()
		}
	}

	if s.outbox == nil {
		return
	}
	event := domain.NewOrderEvent(order, occurred)
	if decorate != nil {
		decorate(&event)
	}
	msg, err := event.OutboxMessage(eventType)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("marshal event failed")
		return
	}
	if _, err := s.outbox.Enqueue(msg); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("enqueue event failed")
		return
	}
	s.metrics.RecordOutboxEvent()
}

// storageError оставляет "не найдено" и конфликты как есть, остальное оборачивает в PersistenceError.
func (s *Service) storageError(op string, err error) error {
	if domain.IsNotFound(err) || domain.IsVersionConflict(err) || errors.Is(err, domain.ErrValidation) {
		return err
	}
	return &domain.PersistenceError{Op: op, Err: err}
}

func validateRequest(customer domain.Customer, requested []domain.OrderLineRequest) error {
	verr := customer.Validate()
	if verr == nil {
		verr = &domain.ValidationError{}
	}
	if len(requested) == 0 {
		verr.Add("items", "at least one item is required")
	}
	for i, line := range requested {
		if strings.TrimSpace(line.ProductID) == "" {
			verr.Add(fmt.Sprintf("items[%d].productId", i), "is required")
		}
		if line.Quantity < 1 {
			verr.Add(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
	}
	if verr.Empty() {
		return nil
	}
	return verr
}

func isRetryableReservationError(err error) bool {
	return !errors.Is(err, domain.ErrInsufficientStock) &&
		!errors.Is(err, domain.ErrProductNotFound) &&
		!errors.Is(err, domain.ErrValidation) &&
		!errors.Is(err, domain.ErrReservationQtyInvalid)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrProductNotFound):
		return metrics.RejectProductNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.RejectInsufficientStock
	case errors.Is(err, domain.ErrValidation):
		return metrics.RejectValidation
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.RejectCanceled
	default:
		return metrics.RejectPersistence
	}
}

func failedPositions(failed []domain.FailedLine) []int {
	positions := make([]int, 0, len(failed))
	for _, line := range failed {
		positions = append(positions, line.Position)
	}
	return positions
}

func mulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt64/b {
		return 0, false
	}
	return a * b, true
}
