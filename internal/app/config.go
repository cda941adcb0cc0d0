package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	KafkaBrokers  []string
	KafkaClientID string
	KafkaDLQTopic string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending - порог backlog, выше которого /healthz отвечает degraded.
	OutboxMaxPending int

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	ReservationMaxAttempts int
	ReservationRetryDelay  time.Duration
	ReconcileInterval      time.Duration
	ReconcileMaxAttempts   int

	BreakerFailures int
	BreakerTimeout  time.Duration

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки для локального запуска на памяти.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		KafkaClientID: "storefront",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,
		OutboxMaxPending:   1000,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		ReservationMaxAttempts: 3,
		ReservationRetryDelay:  100 * time.Millisecond,
		ReconcileInterval:      10 * time.Second,
		ReconcileMaxAttempts:   10,

		BreakerFailures: 5,
		BreakerTimeout:  5 * time.Second,

		ShutdownTimeout: 5 * time.Second,
	}
}

// LoadConfigFromEnv накладывает переменные окружения на DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	return loadConfig(os.LookupEnv)
}

type lookupFunc func(key string) (string, bool)

func loadConfig(lookup lookupFunc) (Config, error) {
	cfg := DefaultConfig()
	env := envReader{lookup: lookup}

	env.str("STOREFRONT_HTTP_ADDR", &cfg.HTTPAddr)
	env.str("STOREFRONT_GRPC_ADDR", &cfg.GRPCAddr)
	env.str("STOREFRONT_METRICS_ADDR", &cfg.MetricsAddr)

	env.str("STOREFRONT_STORAGE_DRIVER", &cfg.StorageDriver)
	env.str("STOREFRONT_POSTGRES_DSN", &cfg.PostgresDSN)
	env.boolean("STOREFRONT_POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)

	if raw, ok := lookup("KAFKA_BROKERS"); ok {
		cfg.KafkaBrokers = ParseList(raw)
	}
	env.str("STOREFRONT_KAFKA_CLIENT_ID", &cfg.KafkaClientID)
	env.str("STOREFRONT_KAFKA_DLQ_TOPIC", &cfg.KafkaDLQTopic)

	env.duration("STOREFRONT_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	env.integer("STOREFRONT_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	env.integer("STOREFRONT_OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	env.duration("STOREFRONT_OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)
	env.integer("STOREFRONT_OUTBOX_MAX_PENDING", &cfg.OutboxMaxPending)

	env.duration("STOREFRONT_IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	env.duration("STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	env.integer("STOREFRONT_IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)

	env.integer("STOREFRONT_RESERVATION_MAX_ATTEMPTS", &cfg.ReservationMaxAttempts)
	env.duration("STOREFRONT_RESERVATION_RETRY_DELAY", &cfg.ReservationRetryDelay)
	env.duration("STOREFRONT_RECONCILE_INTERVAL", &cfg.ReconcileInterval)
	env.integer("STOREFRONT_RECONCILE_MAX_ATTEMPTS", &cfg.ReconcileMaxAttempts)

	env.integer("STOREFRONT_BREAKER_FAILURES", &cfg.BreakerFailures)
	env.duration("STOREFRONT_BREAKER_TIMEOUT", &cfg.BreakerTimeout)

	env.duration("STOREFRONT_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	if env.err != nil {
		return Config{}, env.err
	}
	return cfg, cfg.Validate()
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("STOREFRONT_POSTGRES_DSN is required for %s storage", StorageDriverPostgres)
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("http address is required")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("idempotency ttl must be > 0")
	}
	return nil
}

// ParseList разбирает список через запятую, пропуская пустые элементы.
func ParseList(raw string) []string {
	chunks := strings.Split(raw, ",")
	items := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if item := strings.TrimSpace(chunk); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// envReader копит первую ошибку разбора, чтобы не проверять каждое поле.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) value(key string) (string, bool) {
	raw, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func (e *envReader) str(key string, dst *string) {
	if raw, ok := e.value(key); ok {
		*dst = raw
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	raw, ok := e.value(key)
	if !ok || e.err != nil {
		return
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.err = fmt.Errorf("parse %s: %w", key, err)
		return
	}
	*dst = v
}

func (e *envReader) integer(key string, dst *int) {
	raw, ok := e.value(key)
	if !ok || e.err != nil {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.err = fmt.Errorf("parse %s: %w", key, err)
		return
	}
	*dst = v
}

func (e *envReader) duration(key string, dst *time.Duration) {
	raw, ok := e.value(key)
	if !ok || e.err != nil {
		return
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.err = fmt.Errorf("parse %s: %w", key, err)
		return
	}
	*dst = v
}
