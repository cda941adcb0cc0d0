package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	idempotencyHeader = "Idempotency-Key"
	defaultPriceMinor = int64(1999)
)

type config struct {
	baseURL        string
	productID      string
	stock          int64
	total          int
	concurrency    int
	quantity       int64
	timeout        time.Duration
	idempotency    bool
	customerPrefix string
	outputPath     string
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var timeoutValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "storefront HTTP base URL")
	fs.StringVar(&cfg.productID, "product", "", "product id to order; a new product is created when empty")
	fs.Int64Var(&cfg.stock, "stock", 100, "stock of the product created for the run")
	fs.IntVar(&cfg.total, "total", 400, "total orders to place")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent clients")
	fs.Int64Var(&cfg.quantity, "quantity", 1, "quantity per order")
	fs.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	fs.BoolVar(&cfg.idempotency, "idempotency", true, "send a unique Idempotency-Key with every order")
	fs.StringVar(&cfg.customerPrefix, "customer", "load", "customer name prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	cfg.productID = strings.TrimSpace(cfg.productID)

	if cfg.baseURL == "" {
		return cfg, errors.New("addr is required")
	}
	if cfg.total <= 0 {
		return cfg, errors.New("total must be > 0")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.quantity <= 0 {
		return cfg, errors.New("quantity must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.productID == "" && cfg.stock < 0 {
		return cfg, errors.New("stock must be >= 0")
	}
	if strings.TrimSpace(cfg.customerPrefix) == "" {
		return cfg, errors.New("customer is required")
	}

	return cfg, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	result, err := run(context.Background(), cfg, &http.Client{Timeout: cfg.timeout})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.Oversold || result.Errors > 0 {
		os.Exit(1)
	}
}

type client struct {
	http    *http.Client
	baseURL string
}

type productResponse struct {
	ID    string `json:"id"`
	Stock int64  `json:"stock"`
}

// run размещает cfg.total заказов на один товар и сверяет итоговый остаток
// с числом успешно принятых заказов.
func run(ctx context.Context, cfg config, httpClient *http.Client) (report, error) {
	c := client{http: httpClient, baseURL: cfg.baseURL}

	productID := cfg.productID
	var initialStock int64
	if productID == "" {
		created, err := c.createProduct(ctx, fmt.Sprintf("Load test product %s", uuid.NewString()[:8]), cfg.stock)
		if err != nil {
			return report{}, fmt.Errorf("create product: %w", err)
		}
		productID = created.ID
		initialStock = created.Stock
	} else {
		existing, err := c.getProduct(ctx, productID)
		if err != nil {
			return report{}, fmt.Errorf("load product: %w", err)
		}
		initialStock = existing.Stock
	}

	col := newCollector()
	startedAt := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.concurrency)
	for i := 0; i < cfg.total; i++ {
		index := i
		g.Go(func() error {
			start := time.Now()
			status, err := c.placeOrder(gctx, cfg, productID, index)
			col.record(classify(status, err), status, time.Since(start))
			return nil
		})
	}
	_ = g.Wait()
	duration := time.Since(startedAt)

	final, err := c.getProduct(ctx, productID)
	if err != nil {
		return report{}, fmt.Errorf("load final stock: %w", err)
	}

	result := col.buildReport(startedAt, duration)
	result.ProductID = productID
	result.InitialStock = initialStock
	result.FinalStock = final.Stock
	result.QuantityPerOrder = cfg.quantity
	result.Reserved = result.Created * cfg.quantity
	result.Oversold = final.Stock < 0 || result.Reserved > initialStock
	return result, nil
}

func (c client) placeOrder(ctx context.Context, cfg config, productID string, index int) (int, error) {
	body := map[string]any{
		"customer": map[string]string{
			"name":    fmt.Sprintf("%s-%d", cfg.customerPrefix, index),
			"email":   fmt.Sprintf("%s-%d@example.com", cfg.customerPrefix, index),
			"address": "1 Load Street",
			"city":    "Testville",
			"zip":     "00000",
		},
		"items": []map[string]any{
			{"productId": productID, "quantity": cfg.quantity},
		},
	}

	headers := map[string]string{}
	if cfg.idempotency {
		headers[idempotencyHeader] = uuid.NewString()
	}
	status, _, err := c.do(ctx, http.MethodPost, "/api/orders", body, headers)
	return status, err
}

func (c client) createProduct(ctx context.Context, name string, stock int64) (productResponse, error) {
	body := map[string]any{
		"name":       name,
		"priceMinor": defaultPriceMinor,
		"stock":      stock,
	}
	status, raw, err := c.do(ctx, http.MethodPost, "/api/products", body, nil)
	if err != nil {
		return productResponse{}, err
	}
	if status != http.StatusCreated {
		return productResponse{}, fmt.Errorf("unexpected status %d: %s", status, strings.TrimSpace(string(raw)))
	}
	var product productResponse
	if err := json.Unmarshal(raw, &product); err != nil {
		return productResponse{}, fmt.Errorf("decode product: %w", err)
	}
	return product, nil
}

func (c client) getProduct(ctx context.Context, id string) (productResponse, error) {
	status, raw, err := c.do(ctx, http.MethodGet, "/api/products/"+id, nil, nil)
	if err != nil {
		return productResponse{}, err
	}
	if status != http.StatusOK {
		return productResponse{}, fmt.Errorf("unexpected status %d: %s", status, strings.TrimSpace(string(raw)))
	}
	var product productResponse
	if err := json.Unmarshal(raw, &product); err != nil {
		return productResponse{}, fmt.Errorf("decode product: %w", err)
	}
	return product, nil
}

func (c client) do(ctx context.Context, method, path string, body any, headers map[string]string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent("loadtest"))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

// classify раскладывает ответ на оформление заказа по исходам.
func classify(status int, err error) outcome {
	switch {
	case err != nil:
		return outcomeError
	case status == http.StatusCreated:
		return outcomeCreated
	case status == http.StatusAccepted:
		return outcomePartial
	case status >= 400 && status < 500:
		return outcomeRejected
	default:
		return outcomeError
	}
}
