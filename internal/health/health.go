// Package health отдаёт /healthz, /livez и /readyz на служебном порту.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

// Status представляет статус компонента
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check - результат проверки одного компонента.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response представляет ответ health check
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет один компонент.
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler обрабатывает health check запросы
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	timeout   time.Duration
	startTime time.Time
}

// NewHandler создаёт новый health handler
func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		timeout:   defaultCheckTimeout,
		startTime: time.Now(),
	}
}

// RegisterChecker регистрирует проверку компонента
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Run выполняет все проверки и сводит общий статус.
func (h *Handler) Run(ctx context.Context) Response {
	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	checkers := make(map[string]Checker, len(h.checkers))
	for name, checker := range h.checkers {
		names = append(names, name)
		checkers[name] = checker
	}
	h.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	checks := make(map[string]Check, len(names))
	overall := StatusHealthy
	for _, name := range names {
		check := checkers[name].Check(ctx)
		checks[name] = check

		switch {
		case check.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case check.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}

	return Response{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
}

// ServeHTTP отдаёт подробный JSON со всеми проверками.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.Run(r.Context())

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler отвечает на liveness-проверку (всегда возвращает 200)
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler отвечает 503, пока хотя бы один компонент unhealthy.
// Degraded не снимает сервис с балансировки.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.Run(r.Context()).Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// CheckFunc адаптирует функцию к Checker.
type CheckFunc func(ctx context.Context) (Status, string)

// FuncChecker - проверка на основе функции.
type FuncChecker struct {
	name string
	fn   CheckFunc
}

// NewFuncChecker создаёт проверку с произвольным статусом.
func NewFuncChecker(name string, fn CheckFunc) *FuncChecker {
	return &FuncChecker{name: name, fn: fn}
}

// Check выполняет проверку
func (c *FuncChecker) Check(ctx context.Context) Check {
	start := time.Now()
	status, message := c.fn(ctx)
	return Check{
		Name:       c.name,
		Status:     status,
		Message:    message,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// NewSimpleChecker создаёт проверку: ошибка - unhealthy, nil - healthy.
func NewSimpleChecker(name string, checkFn func(ctx context.Context) error) *FuncChecker {
	return NewFuncChecker(name, func(ctx context.Context) (Status, string) {
		if err := checkFn(ctx); err != nil {
			return StatusUnhealthy, err.Error()
		}
		return StatusHealthy, ""
	})
}

// Pinger - хранилище, доступность которого проверяется ping-запросом (*sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// NewPingChecker проверяет доступность базы данных.
func NewPingChecker(name string, db Pinger) *FuncChecker {
	return NewSimpleChecker(name, db.PingContext)
}

// NewBreakerChecker отражает состояние circuit breaker каталога:
// open - degraded (заказы временно отклоняются), остальные - healthy.
func NewBreakerChecker(name string, state func() string) *FuncChecker {
	return NewFuncChecker(name, func(context.Context) (Status, string) {
		current := state()
		if current == "open" {
			return StatusDegraded, "circuit breaker is open"
		}
		return StatusHealthy, "circuit breaker is " + current
	})
}

// BacklogFunc возвращает размер очереди.
type BacklogFunc func() (int, error)

// NewBacklogChecker помечает компонент degraded, когда очередь больше threshold.
func NewBacklogChecker(name string, threshold int, backlog BacklogFunc) *FuncChecker {
	return NewFuncChecker(name, func(context.Context) (Status, string) {
		size, err := backlog()
		if err != nil {
			return StatusUnhealthy, err.Error()
		}
		message := fmt.Sprintf("%d pending", size)
		if threshold > 0 && size > threshold {
			return StatusDegraded, message
		}
		return StatusHealthy, message
	})
}
