// Package httpapi - REST API витрины поверх go-chi.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const defaultIdempotencyTTL = 24 * time.Hour

// OrderService - операции с заказами, которые нужны API.
type OrderService interface {
	PlaceOrder(ctx context.Context, customer domain.Customer, lines []domain.OrderLineRequest) (domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.OrderView, error)
	ListOrders(ctx context.Context, limit int) ([]domain.OrderView, error)
	Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error)
}

// CatalogService - администрирование каталога.
type CatalogService interface {
	Create(ctx context.Context, product domain.Product) (domain.Product, error)
	Get(ctx context.Context, id string) (domain.Product, error)
	List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	Update(ctx context.Context, product domain.Product) (domain.Product, error)
	Delete(ctx context.Context, id string) error
}

// Option настраивает API.
type Option func(*API)

// WithLogger задаёт logger для обработчиков и access-лога.
func WithLogger(logger *log.Entry) Option {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics подключает метрики HTTP-запросов.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(a *API) { a.metrics = m }
}

// WithIdempotency включает обработку Idempotency-Key для POST /api/orders.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(a *API) {
		a.idempotency = repo
		if ttl > 0 {
			a.idempotencyTTL = ttl
		}
	}
}

// API собирает HTTP-обработчики заказов и каталога.
type API struct {
	orders         OrderService
	catalog        CatalogService
	idempotency    domain.IdempotencyRepository
	idempotencyTTL time.Duration
	metrics        *metrics.HTTPMetrics
	logger         *log.Entry
	now            func() time.Time
}

// New создаёт API.
func New(orders OrderService, catalog CatalogService, options ...Option) *API {
	a := &API{
		orders:         orders,
		catalog:        catalog,
		idempotencyTTL: defaultIdempotencyTTL,
		logger:         log.WithField("component", "http-api"),
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(a)
	}
	return a
}

// Routes возвращает chi-роутер со всеми маршрутами под /api.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(a.logger))
	if a.metrics != nil {
		r.Use(instrument(a.metrics))
	}
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.With(a.idempotent).Post("/", a.placeOrder)
			r.Get("/", a.listOrders)
			r.Get("/{id}", a.getOrder)
			r.Get("/{id}/timeline", a.orderTimeline)
			r.Patch("/{id}/status", a.updateOrderStatus)
		})
		r.Route("/products", func(r chi.Router) {
			r.Get("/", a.listProducts)
			r.Post("/", a.createProduct)
			r.Get("/{id}", a.getProduct)
			r.Put("/{id}", a.updateProduct)
			r.Delete("/{id}", a.deleteProduct)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, a.logger, http.StatusNotFound, errorResponse{Message: "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, a.logger, http.StatusMethodNotAllowed, errorResponse{Message: "Method not allowed"})
	})

	return r
}

func (a *API) entry(r *http.Request) *log.Entry {
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		return a.logger.WithField("request_id", reqID)
	}
	return a.logger
}
