package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type outcome string

const (
	outcomeCreated  outcome = "created"
	outcomePartial  outcome = "partial"
	outcomeRejected outcome = "rejected"
	outcomeError    outcome = "error"
)

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type report struct {
	StartedAt        time.Time        `json:"started_at"`
	DurationSeconds  float64          `json:"duration_seconds"`
	Total            int64            `json:"total"`
	Created          int64            `json:"created"`
	Partial          int64            `json:"partial"`
	Rejected         int64            `json:"rejected"`
	Errors           int64            `json:"errors"`
	RPS              float64          `json:"rps"`
	StatusCodes      map[string]int64 `json:"status_codes"`
	LatencyMs        latencySummary   `json:"latency_ms"`
	ProductID        string           `json:"product_id"`
	InitialStock     int64            `json:"initial_stock"`
	FinalStock       int64            `json:"final_stock"`
	QuantityPerOrder int64            `json:"quantity_per_order"`
	Reserved         int64            `json:"reserved"`
	Oversold         bool             `json:"oversold"`
}

type collector struct {
	mu        sync.Mutex
	outcomes  map[outcome]int64
	statuses  map[string]int64
	latencies []float64
}

func newCollector() *collector {
	return &collector{
		outcomes: make(map[outcome]int64),
		statuses: make(map[string]int64),
	}
}

func (c *collector) record(result outcome, status int, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outcomes[result]++
	code := "transport"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	c.statuses[code]++
	c.latencies = append(c.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Total:           int64(len(c.latencies)),
		Created:         c.outcomes[outcomeCreated],
		Partial:         c.outcomes[outcomePartial],
		Rejected:        c.outcomes[outcomeRejected],
		Errors:          c.outcomes[outcomeError],
		StatusCodes:     make(map[string]int64, len(c.statuses)),
		LatencyMs:       buildLatencySummary(c.latencies),
	}
	for code, count := range c.statuses {
		result.StatusCodes[code] = count
	}
	if duration > 0 {
		result.RPS = float64(result.Total) / duration.Seconds()
	}
	return result
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "product=%s total=%d created=%d partial=%d rejected=%d errors=%d\n",
		result.ProductID,
		result.Total,
		result.Created,
		result.Partial,
		result.Rejected,
		result.Errors,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.LatencyMs.Min,
		result.LatencyMs.Avg,
		result.LatencyMs.P50,
		result.LatencyMs.P95,
		result.LatencyMs.P99,
		result.LatencyMs.Max,
	)

	codes := make([]string, 0, len(result.StatusCodes))
	for code := range result.StatusCodes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		_, _ = fmt.Fprintf(w, "status %s: %d\n", code, result.StatusCodes[code])
	}

	verdict := "ok"
	if result.Oversold {
		verdict = "OVERSOLD"
	}
	_, _ = fmt.Fprintf(w, "stock: initial=%d reserved=%d final=%d check=%s\n",
		result.InitialStock,
		result.Reserved,
		result.FinalStock,
		verdict,
	)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
