package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []domain.OutboxMessage
}

func (p *recordingPublisher) Publish(msg domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.messages))
	for _, msg := range p.messages {
		types = append(types, msg.EventType)
	}
	return types
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.ReservationRetryDelay = 0
	cfg.OutboxRetryDelay = 0
	return cfg
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, payload
}

func TestApplication_PlacesOrderAndPublishesOutbox(t *testing.T) {
	publisher := &recordingPublisher{}
	application := NewApplication(testConfig(), NewMemoryDependencies(), publisher, nil, log.WithField("test", "app"))

	srv := httptest.NewServer(application.Handler())
	defer srv.Close()

	resp, body := doJSON(t, srv, http.MethodPost, "/api/products", map[string]any{
		"name":  "Mug",
		"price": 12.5,
		"stock": 3,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var product struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &product))
	require.NotEmpty(t, product.ID)

	resp, body = doJSON(t, srv, http.MethodPost, "/api/orders", map[string]any{
		"customer": map[string]string{
			"name": "Ada", "email": "ada@example.com", "address": "1 Main St", "city": "London", "zip": "N1",
		},
		"items": []map[string]any{{"productId": product.ID, "quantity": 2}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var order struct {
		ID         string `json:"id"`
		TotalMinor int64  `json:"totalMinor"`
	}
	require.NoError(t, json.Unmarshal(body, &order))
	assert.Equal(t, int64(2500), order.TotalMinor)

	resp, body = doJSON(t, srv, http.MethodGet, "/api/products/"+product.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"stock":1`)

	res := application.OutboxWorker.ProcessOnce(context.Background())
	assert.Len(t, res.Sent, 1)
	assert.Equal(t, []string{domain.EventOrderCreated}, publisher.eventTypes())
}

func TestApplication_HealthReflectsBreakerAndBacklog(t *testing.T) {
	cfg := testConfig()
	cfg.OutboxMaxPending = 0

	application := NewApplication(cfg, NewMemoryDependencies(), &recordingPublisher{}, nil, nil)
	response := application.Health.Run(context.Background())

	assert.Equal(t, "healthy", string(response.Status))
	assert.Contains(t, response.Checks, "catalog")
	assert.Contains(t, response.Checks, "outbox")
	assert.NotContains(t, response.Checks, "postgres")
}

func TestMetricsMux_Endpoints(t *testing.T) {
	application := NewApplication(testConfig(), NewMemoryDependencies(), &recordingPublisher{}, nil, nil)
	srv := httptest.NewServer(newMetricsMux(application.Health))
	defer srv.Close()

	for path, want := range map[string]int{
		"/metrics": http.StatusOK,
		"/healthz": http.StatusOK,
		"/livez":   http.StatusOK,
		"/readyz":  http.StatusOK,
	} {
		resp, body := doJSON(t, srv, http.MethodGet, path, nil)
		assert.Equal(t, want, resp.StatusCode, path)
		assert.NotEmpty(t, body, path)
	}
}

func TestApplication_ServeStopsOnCancel(t *testing.T) {
	application := NewApplication(testConfig(), NewMemoryDependencies(), &recordingPublisher{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Serve(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
}

func TestApplication_ServeFailsOnBusyAddress(t *testing.T) {
	busy := httptest.NewServer(http.NotFoundHandler())
	defer busy.Close()

	cfg := testConfig()
	cfg.HTTPAddr = busy.Listener.Addr().String()

	application := NewApplication(cfg, NewMemoryDependencies(), &recordingPublisher{}, nil, nil)
	require.Error(t, application.Serve(context.Background()))
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := testConfig()
	cfg.StorageDriver = "invalid-driver"

	err := Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage driver")
}

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	require.NoError(t, Run(ctx, testConfig()))
}

func TestInitPublishers_FallsBackToLog(t *testing.T) {
	pubs := initPublishers(Config{}, log.WithField("test", "kafka"))
	require.NotNil(t, pubs.events)
	assert.Nil(t, pubs.dlq)
	assert.Nil(t, pubs.producer)

	pubs = initPublishers(Config{KafkaBrokers: []string{"127.0.0.1:1"}}, log.WithField("test", "kafka"))
	require.NotNil(t, pubs.events)
	assert.Nil(t, pubs.producer)

	closeKafka(nil, log.WithField("test", "kafka"))
}
