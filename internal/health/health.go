package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultProbeTimeout = 2 * time.Second
	maxParallelProbes   = 8
)

// Status — состояние компонента или сервиса в целом.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// worse возвращает более тяжёлый из двух статусов.
func worse(a, b Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Check — результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response — сводный отчёт /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Version       string           `json:"version,omitempty"`
	CheckedAt     time.Time        `json:"checked_at"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Checks        map[string]Check `json:"checks,omitempty"`
}

// Checker проверяет одну зависимость.
type Checker interface {
	Check(ctx context.Context) Check
}

// HandlerOption настраивает Handler.
type HandlerOption func(*Handler)

// WithCacheTTL задаёт, сколько переиспользуется последний отчёт.
// Пробы kubelet и балансировщика приходят часто, а Redis и брокеры пингуются сетью.
func WithCacheTTL(ttl time.Duration) HandlerOption {
	return func(h *Handler) {
		h.cacheTTL = ttl
	}
}

// Handler собирает проверки зависимостей и отдаёт их по HTTP.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker

	version  string
	started  time.Time
	cacheTTL time.Duration
	now      func() time.Time

	cacheMu sync.Mutex
	cached  *Response
}

func NewHandler(version string, options ...HandlerOption) *Handler {
	h := &Handler{
		checkers: make(map[string]Checker),
		version:  version,
		now:      time.Now,
	}
	for _, option := range options {
		option(h)
	}
	h.started = h.now()
	return h
}

// RegisterChecker добавляет или заменяет проверку с именем name.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	h.checkers[name] = checker
	h.mu.Unlock()

	h.cacheMu.Lock()
	h.cached = nil
	h.cacheMu.Unlock()
}

// Evaluate выполняет проверки параллельно. Общий статус — худший из статусов проверок.
func (h *Handler) Evaluate(ctx context.Context) Response {
	h.cacheMu.Lock()
	defer h.cacheMu.Unlock()
	if h.cached != nil && h.cacheTTL > 0 && h.now().Sub(h.cached.CheckedAt) < h.cacheTTL {
		return *h.cached
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	probes := make([]Checker, 0, len(h.checkers))
	for name, checker := range h.checkers {
		names = append(names, name)
		probes = append(probes, checker)
	}
	h.mu.RUnlock()

	results := make([]Check, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelProbes)
	for i := range probes {
		g.Go(func() error {
			results[i] = probes[i].Check(gctx)
			return nil
		})
	}
	_ = g.Wait()

	response := Response{
		Status:        StatusHealthy,
		Version:       h.version,
		CheckedAt:     h.now(),
		UptimeSeconds: int64(h.now().Sub(h.started).Seconds()),
		Checks:        make(map[string]Check, len(results)),
	}
	for i, check := range results {
		response.Checks[names[i]] = check
		response.Status = worse(response.Status, check.Status)
	}
	h.cached = &response
	return response
}

// ServeHTTP отдаёт полный отчёт; 503, если сервис unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.Evaluate(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode(response.Status))
	_ = json.NewEncoder(w).Encode(response)
}

// ReadinessHandler — проба готовности: деградация допустима, unhealthy нет.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	status := h.Evaluate(r.Context()).Status
	w.WriteHeader(statusCode(status))
	if status == StatusUnhealthy {
		_, _ = w.Write([]byte("not ready"))
		return
	}
	_, _ = w.Write([]byte("ready"))
}

// LivenessHandler — проба живости, зависимостей не трогает.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func statusCode(status Status) int {
	if status == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// ProbeOption настраивает Probe.
type ProbeOption func(*Probe)

// Optional помечает зависимость, без которой сервис продолжает работать:
// её сбой даёт degraded.
func Optional() ProbeOption {
	return func(p *Probe) {
		p.optional = true
	}
}

// WithTimeout ограничивает время одного ping.
func WithTimeout(timeout time.Duration) ProbeOption {
	return func(p *Probe) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// Probe проверяет зависимость функцией ping.
type Probe struct {
	name     string
	ping     func(ctx context.Context) error
	timeout  time.Duration
	optional bool
}

// NewProbe создаёт проверку; без Optional сбой делает сервис unhealthy.
func NewProbe(name string, ping func(ctx context.Context) error, options ...ProbeOption) *Probe {
	p := &Probe{name: name, ping: ping, timeout: defaultProbeTimeout}
	for _, option := range options {
		option(p)
	}
	return p
}

func (p *Probe) Check(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	started := time.Now()
	err := p.ping(ctx)
	check := Check{Name: p.name, Status: StatusHealthy, DurationMs: time.Since(started).Milliseconds()}
	if err == nil {
		return check
	}

	check.Message = err.Error()
	check.Status = StatusUnhealthy
	if p.optional {
		check.Status = StatusDegraded
	}
	return check
}

var _ Checker = (*Probe)(nil)
