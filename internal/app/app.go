// Package app собирает сервис оформления заказов: хранилища, сервисы,
// HTTP API, служебные listener'ы и фоновые воркеры.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/service/placement"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// GRPCServiceName - имя сервиса в grpc.health.v1.
const GRPCServiceName = "storefront.OrderPlacement"

const healthWatchInterval = 5 * time.Second

// Application - собранный сервис.
type Application struct {
	cfg    Config
	logger *log.Entry
	deps   *Dependencies

	Catalog   *inventory.GuardedCatalog
	Placement *placement.Service
	Products  *catalog.Service
	API       *httpapi.API
	Health    *healthcheck.Handler

	OutboxWorker    *outbox.Worker
	ReconcileWorker *inventory.ReconcileWorker
	CleanupWorker   *idempotency.CleanupWorker
}

// NewApplication связывает сервисы поверх готовых хранилищ. Запуск сетевых
// listener'ов и воркеров выполняет Serve.
func NewApplication(cfg Config, deps *Dependencies, events, dlq domain.OutboxPublisher, logger *log.Entry) *Application {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	guarded := inventory.NewGuardedCatalog(deps.Catalog, inventory.BreakerSettings{
		MaxRequests:         inventory.DefaultBreakerSettings().MaxRequests,
		Timeout:             cfg.BreakerTimeout,
		ConsecutiveFailures: uint32(max(cfg.BreakerFailures, 1)),
	}, logger.WithField("component", "guarded-catalog"))

	placementSvc := placement.NewService(guarded, guarded, deps.Orders,
		placement.WithLogger(logger.WithField("component", "placement")),
		placement.WithMetrics(metrics.NewPlacementMetrics()),
		placement.WithTimeline(deps.Timeline),
		placement.WithOutbox(deps.Outbox),
		placement.WithProductLookup(deps.Catalog),
		placement.WithRetryConfig(placement.RetryConfig{
			MaxAttempts:  cfg.ReservationMaxAttempts,
			InitialDelay: cfg.ReservationRetryDelay,
		}),
	)
	products := catalog.NewService(deps.Catalog, logger.WithField("component", "catalog"))

	api := httpapi.New(placementSvc, products,
		httpapi.WithLogger(logger.WithField("component", "http")),
		httpapi.WithMetrics(metrics.NewHTTPMetrics(nil)),
		httpapi.WithIdempotency(deps.Idempotency, cfg.IdempotencyTTL),
	)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("catalog", healthcheck.NewBreakerChecker("catalog", guarded.State))
	healthHandler.RegisterChecker("outbox", healthcheck.NewBacklogChecker("outbox", cfg.OutboxMaxPending, func() (int, error) {
		stats, err := deps.Outbox.Stats()
		return stats.PendingCount, err
	}))
	if deps.Store != nil {
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", deps.Store.Ping))
	}

	outboxOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if dlq != nil {
		outboxOpts = append(outboxOpts, outbox.WithDLQPublisher(dlq))
	}

	return &Application{
		cfg:       cfg,
		logger:    logger,
		deps:      deps,
		Catalog:   guarded,
		Placement: placementSvc,
		Products:  products,
		API:       api,
		Health:    healthHandler,

		OutboxWorker: outbox.NewWorker(deps.Outbox, events, outboxOpts...),
		ReconcileWorker: inventory.NewReconcileWorker(guarded, deps.Orders,
			inventory.WithLogger(logger.WithField("component", "reconcile-worker")),
			inventory.WithTimeline(deps.Timeline),
			inventory.WithOutbox(deps.Outbox),
			inventory.WithPollInterval(cfg.ReconcileInterval),
			inventory.WithMaxAttempts(cfg.ReconcileMaxAttempts),
		),
		CleanupWorker: idempotency.NewCleanupWorker(deps.Idempotency,
			idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		),
	}
}

// Handler возвращает HTTP API под /api.
func (a *Application) Handler() http.Handler {
	return a.API.Routes()
}

// Run открывает хранилище, поднимает публикацию в Kafka и обслуживает запросы
// до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	pubs := initPublishers(cfg, logger)
	defer closeKafka(pubs.producer, logger)

	return NewApplication(cfg, deps, pubs.events, pubs.dlq, logger).Serve(ctx)
}

// Serve слушает HTTP API, gRPC admin и метрики, запускает воркеры.
// Возвращает nil при штатной остановке по ctx.
func (a *Application) Serve(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", a.cfg.HTTPAddr, err)
	}
	grpcLis, err := net.Listen("tcp", a.cfg.GRPCAddr)
	if err != nil {
		_ = httpLis.Close()
		return fmt.Errorf("listen grpc %s: %w", a.cfg.GRPCAddr, err)
	}
	metricsLis, err := net.Listen("tcp", a.cfg.MetricsAddr)
	if err != nil {
		_ = httpLis.Close()
		_ = grpcLis.Close()
		return fmt.Errorf("listen metrics %s: %w", a.cfg.MetricsAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	apiSrv := &http.Server{Handler: a.Handler(), ReadHeaderTimeout: 5 * time.Second}
	metricsSrv := &http.Server{Handler: newMetricsMux(a.Health), ReadHeaderTimeout: 5 * time.Second}
	grpcSrv, grpcHealth := a.newGRPCServer()

	a.logger.WithFields(log.Fields{
		"http_addr":    httpLis.Addr().String(),
		"grpc_addr":    grpcLis.Addr().String(),
		"metrics_addr": metricsLis.Addr().String(),
		"version":      version.GetVersion(),
	}).Info("storefront is listening")

	g.Go(func() error { return serveHTTP(apiSrv, httpLis, "api") })
	g.Go(func() error { return serveHTTP(metricsSrv, metricsLis, "metrics") })
	g.Go(func() error {
		if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.watchHealth(gctx, grpcHealth)
		return nil
	})

	g.Go(func() error { a.OutboxWorker.Run(gctx); return nil })
	g.Go(func() error { a.ReconcileWorker.Run(gctx); return nil })
	g.Go(func() error { a.CleanupWorker.Run(gctx); return nil })

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		grpcHealth.Shutdown()
		shutdownHTTP(apiSrv, a.cfg.ShutdownTimeout, a.logger)
		shutdownHTTP(metricsSrv, a.cfg.ShutdownTimeout, a.logger)
		stopGRPC(grpcSrv, a.cfg.ShutdownTimeout, a.logger)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Application) newGRPCServer() (*grpc.Server, *health.Server) {
	grpcMetrics := registerGRPCMetrics(a.logger)
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthServer)
	reflection.Register(srv)
	grpcMetrics.InitializeMetrics(srv)

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(GRPCServiceName, healthpb.HealthCheckResponse_SERVING)
	return srv, healthServer
}

// watchHealth переносит итог HTTP health checks в grpc.health.v1.
func (a *Application) watchHealth(ctx context.Context, srv *health.Server) {
	ticker := time.NewTicker(healthWatchInterval)
	defer ticker.Stop()

	for {
		status := healthpb.HealthCheckResponse_SERVING
		if a.Health.Run(ctx).Status == healthcheck.StatusUnhealthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		srv.SetServingStatus(GRPCServiceName, status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func registerGRPCMetrics(logger *log.Entry) *promgrpc.ServerMetrics {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				return existing
			}
		}
		logger.WithError(err).Warn("failed to register grpc metrics")
	}
	return grpcMetrics
}

func newMetricsMux(healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

func serveHTTP(srv *http.Server, lis net.Listener, name string) error {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(timeout))
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

func stopGRPC(srv *grpc.Server, timeout time.Duration, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout(timeout)):
		logger.Warn("grpc graceful stop timed out, forcing stop")
		srv.Stop()
	}
}

func shutdownTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 5 * time.Second
	}
	return timeout
}
