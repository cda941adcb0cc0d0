// Package catalog управляет карточками товаров витрины.
package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Service - CRUD каталога поверх ProductRepository.
type Service struct {
	repo   domain.ProductRepository
	logger *log.Entry
	newID  func() string
}

// NewService создаёт сервис каталога.
func NewService(repo domain.ProductRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "catalog")
	}
	return &Service{repo: repo, logger: logger, newID: uuid.NewString}
}

// Create добавляет товар. Пустой ID заменяется сгенерированным.
func (s *Service) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	product.ID = strings.TrimSpace(product.ID)
	if product.ID == "" {
		product.ID = s.newID()
	}
	product.Normalize()
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}

	if err := s.repo.Create(ctx, product); err != nil {
		if errors.Is(err, domain.ErrProductAlreadyExists) {
			return domain.Product{}, err
		}
		return domain.Product{}, &domain.PersistenceError{Op: "create product", Err: err}
	}

	created, err := s.repo.FindByID(ctx, product.ID)
	if err != nil {
		return domain.Product{}, wrap("get product", err)
	}
	s.logger.WithField("product_id", created.ID).Info("product created")
	return created, nil
}

// Get возвращает товар по ID.
func (s *Service) Get(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.FindByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, wrap("get product", err)
	}
	return product, nil
}

// List возвращает товары, опционально по категории.
func (s *Service) List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	filter.Category = strings.TrimSpace(filter.Category)
	products, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, wrap("list products", err)
	}
	return products, nil
}

// Update перезаписывает карточку товара целиком.
func (s *Service) Update(ctx context.Context, product domain.Product) (domain.Product, error) {
	product.ID = strings.TrimSpace(product.ID)
	product.Normalize()
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}

	if err := s.repo.Update(ctx, product); err != nil {
		return domain.Product{}, wrap("update product", err)
	}

	updated, err := s.repo.FindByID(ctx, product.ID)
	if err != nil {
		return domain.Product{}, wrap("get product", err)
	}
	s.logger.WithField("product_id", updated.ID).Info("product updated")
	return updated, nil
}

// Delete удаляет товар. Уже оформленные заказы сохраняют снимок цены.
func (s *Service) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.repo.Delete(ctx, id); err != nil {
		return wrap("delete product", err)
	}
	s.logger.WithField("product_id", id).Info("product deleted")
	return nil
}

func wrap(op string, err error) error {
	if domain.IsNotFound(err) {
		return err
	}
	return &domain.PersistenceError{Op: op, Err: err}
}
