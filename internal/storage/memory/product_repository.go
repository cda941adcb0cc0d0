package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type reservationKey struct {
	orderID  string
	position int
}

// CatalogStore - in-memory каталог товаров вместе с журналом резервов.
// Остатки и резервы защищены одним мьютексом, поэтому условное списание и
// запись резерва видны другим горутинам только вместе.
type CatalogStore struct {
	mu           sync.RWMutex
	products     map[string]domain.Product
	reservations map[reservationKey]domain.Reservation
}

// NewCatalogStore создаёт пустой каталог.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		products:     make(map[string]domain.Product),
		reservations: make(map[reservationKey]domain.Reservation),
	}
}

// Create добавляет товар, если ID свободен.
func (s *CatalogStore) Create(_ context.Context, product domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return domain.ErrProductAlreadyExists
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	s.products[product.ID] = product
	return nil
}

// FindByID возвращает товар или *ProductNotFoundError.
func (s *CatalogStore) FindByID(_ context.Context, id string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return domain.Product{}, &domain.ProductNotFoundError{ProductID: id}
	}
	return product, nil
}

// FindByIDs возвращает найденные товары; отсутствующие пропускаются.
func (s *CatalogStore) FindByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := s.products[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

// List возвращает товары, отсортированные по имени.
func (s *CatalogStore) List(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		if filter.Category != "" && !strings.EqualFold(product.Category, filter.Category) {
			continue
		}
		result = append(result, product)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Update перезаписывает карточку товара, сохраняя CreatedAt.
func (s *CatalogStore) Update(_ context.Context, product domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[product.ID]
	if !ok {
		return &domain.ProductNotFoundError{ProductID: product.ID}
	}
	product.CreatedAt = current.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product
	return nil
}

// Delete удаляет товар. Позиции существующих заказов остаются со снимком цены.
func (s *CatalogStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return &domain.ProductNotFoundError{ProductID: id}
	}
	delete(s.products, id)
	return nil
}

// DecrementStockIfAvailable уменьшает остаток, только если его хватает.
func (s *CatalogStore) DecrementStockIfAvailable(_ context.Context, id string, qty int64) (bool, error) {
	if qty <= 0 {
		return false, fmt.Errorf("decrement %s: %w", id, domain.ErrReservationQtyInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.decrementLocked(id, qty, time.Now().UTC()), nil
}

// decrementLocked - условное списание; вызывается под s.mu.
func (s *CatalogStore) decrementLocked(id string, qty int64, now time.Time) bool {
	product, ok := s.products[id]
	if !ok || product.Stock < qty {
		return false
	}
	product.Stock -= qty
	product.UpdatedAt = now
	s.products[id] = product
	return true
}

// ReserveLine списывает остаток под failed или новую позицию заказа.
func (s *CatalogStore) ReserveLine(_ context.Context, r domain.Reservation) (domain.Reservation, error) {
	if errs := r.Validate(); len(errs) > 0 {
		return domain.Reservation{}, fmt.Errorf("reserve line: %w", errs[0])
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := reservationKey{orderID: r.OrderID, position: r.Position}
	now := time.Now().UTC()

	current, exists := s.reservations[key]
	if exists && current.Status != domain.ReservationStatusFailed {
		return current, nil
	}
	if !exists {
		current = domain.Reservation{
			OrderID:   r.OrderID,
			Position:  r.Position,
			ProductID: r.ProductID,
			Qty:       r.Qty,
			CreatedAt: now,
		}
	}
	current.Attempts++
	current.UpdatedAt = now

	if s.decrementLocked(current.ProductID, current.Qty, now) {
		current.Status = domain.ReservationStatusReserved
		current.LastError = ""
		s.reservations[key] = current
		return current, nil
	}

	var reason error = &domain.ProductNotFoundError{ProductID: current.ProductID}
	if product, ok := s.products[current.ProductID]; ok {
		reason = &domain.InsufficientStockError{
			ProductID: current.ProductID,
			Available: product.Stock,
			Requested: current.Qty,
		}
	}
	current.Status = domain.ReservationStatusFailed
	current.LastError = reason.Error()
	s.reservations[key] = current
	return current, reason
}

// RecordFailure фиксирует техническую ошибку резервирования без изменения остатка.
func (s *CatalogStore) RecordFailure(_ context.Context, r domain.Reservation, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := reservationKey{orderID: r.OrderID, position: r.Position}
	now := time.Now().UTC()

	current, exists := s.reservations[key]
	if exists && current.Status != domain.ReservationStatusFailed {
		return nil
	}
	if !exists {
		current = r
		current.CreatedAt = now
	}
	current.Status = domain.ReservationStatusFailed
	current.Attempts++
	current.LastError = reason
	current.UpdatedAt = now
	s.reservations[key] = current
	return nil
}

// Abandon закрывает failed-позицию: повторных списаний по ней больше не будет.
func (s *CatalogStore) Abandon(_ context.Context, r domain.Reservation, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := reservationKey{orderID: r.OrderID, position: r.Position}
	current, exists := s.reservations[key]
	if !exists || current.Status != domain.ReservationStatusFailed {
		return nil
	}
	current.Status = domain.ReservationStatusAbandoned
	current.LastError = reason
	current.UpdatedAt = time.Now().UTC()
	s.reservations[key] = current
	return nil
}

// ListFailed возвращает failed-позиции с оставшимися попытками, самые старые первыми.
func (s *CatalogStore) ListFailed(_ context.Context, maxAttempts, limit int) ([]domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Reservation, 0)
	for _, r := range s.reservations {
		if r.Status != domain.ReservationStatusFailed {
			continue
		}
		if maxAttempts > 0 && r.Attempts >= maxAttempts {
			continue
		}
		result = append(result, r)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		if result[i].OrderID != result[j].OrderID {
			return result[i].OrderID < result[j].OrderID
		}
		return result[i].Position < result[j].Position
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// FailedBacklog считает failed-позиции без копирования журнала.
func (s *CatalogStore) FailedBacklog(_ context.Context, maxAttempts int) (domain.ReservationBacklog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var backlog domain.ReservationBacklog
	for _, r := range s.reservations {
		if r.Status != domain.ReservationStatusFailed {
			continue
		}
		if maxAttempts > 0 && r.Attempts >= maxAttempts {
			backlog.Exhausted++
		} else {
			backlog.Retryable++
		}
	}
	return backlog, nil
}

// ListByOrder возвращает резервы заказа по возрастанию позиции.
func (s *CatalogStore) ListByOrder(_ context.Context, orderID string) ([]domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Reservation, 0)
	for key, r := range s.reservations {
		if key.orderID == orderID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Position < result[j].Position })
	return result, nil
}

var (
	_ domain.ProductRepository = (*CatalogStore)(nil)
	_ domain.StockReserver     = (*CatalogStore)(nil)
)
