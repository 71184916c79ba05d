package warden

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is a dependency whose reachability is reported by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecks are the probes behind /healthz. Nil probes are reported as "disabled".
type HealthChecks struct {
	Gateway   func() bool
	Redis     Pinger
	NameStore Pinger
}

// HealthResponse is the JSON body of /healthz.
type HealthResponse struct {
	Status    string `json:"status"`
	Gateway   string `json:"gateway"`
	Redis     string `json:"redis"`
	NameStore string `json:"name_store"`
	Error     string `json:"error,omitempty"`
}

// HealthServer serves /healthz and /metrics.
type HealthServer struct {
	addr     string
	checks   HealthChecks
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	server   *http.Server
}

// NewHealthServer creates a health server listening on addr. A nil gatherer disables
// /metrics.
func NewHealthServer(addr string, checks HealthChecks, gatherer prometheus.Gatherer, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthServer{
		addr:     addr,
		checks:   checks,
		gatherer: gatherer,
		logger:   logger.With("component", "health"),
	}
}

// Handler returns the server's routes.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthCheckHandler)
	if h.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start starts serving in the background.
func (h *HealthServer) Start() error {
	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("health_server_failed", "error", err)
		}
	}()
	h.logger.Info("health_server_started", "addr", h.addr)
	return nil
}

// Shutdown gracefully stops the server.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// healthCheckHandler returns 200 when every enabled probe passes and 503 otherwise.
func (h *HealthServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Gateway: "disabled", Redis: "disabled", NameStore: "disabled"}
	var failures []error

	if h.checks.Gateway != nil {
		resp.Gateway = "connected"
		if !h.checks.Gateway() {
			resp.Gateway = "disconnected"
			failures = append(failures, errors.New("gateway disconnected"))
		}
	}
	probe := func(p Pinger, field *string, name string) {
		if p == nil {
			return
		}
		*field = "connected"
		if err := p.Ping(ctx); err != nil {
			*field = "disconnected"
			failures = append(failures, errors.New(name+": "+err.Error()))
		}
	}
	probe(h.checks.Redis, &resp.Redis, "redis")
	probe(h.checks.NameStore, &resp.NameStore, "name_store")

	code := http.StatusOK
	if len(failures) > 0 {
		resp.Status = "unhealthy"
		resp.Error = errors.Join(failures...).Error()
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Warn("health_encode_failed", "error", err)
	}
}
