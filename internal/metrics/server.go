package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Component status values reported by health probes. Anything other
// than StatusHealthy counts against the aggregate.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// ServerConfig holds the listen port and route layout for the
// observability endpoint.
type ServerConfig struct {
	Port        int
	MetricsPath string
	HealthPath  string
	// Version is echoed by the health endpoint.
	Version string
}

// DefaultServerConfig returns the default layout: port 9090 with
// /metrics and /health.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:        9090,
		MetricsPath: "/metrics",
		HealthPath:  "/health",
	}
}

// Check is a single component's health report.
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthChecker reports one component's health.
type HealthChecker func() Check

// HealthStatus is the health endpoint's response body.
type HealthStatus struct {
	Status        string           `json:"status"`
	Version       string           `json:"version,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
	UptimeSeconds float64          `json:"uptime_seconds"`
	Checks        map[string]Check `json:"checks"`
}

// Server exposes Prometheus metrics plus health, readiness and
// liveness probes on a single listener.
type Server struct {
	cfg     ServerConfig
	srv     *http.Server
	started time.Time
	logger  *slog.Logger

	mu     sync.RWMutex
	probes map[string]HealthChecker
}

// NewServer wires the routes. Call Start to begin serving.
func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/health"
	}

	s := &Server{
		cfg:     cfg,
		started: time.Now(),
		logger:  logger,
		probes:  make(map[string]HealthChecker),
	}
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.MetricsPath, promhttp.Handler())
	mux.HandleFunc(s.cfg.HealthPath, s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/live", s.handleLive)
	return mux
}

// RegisterHealthCheck adds a named component probe, replacing any
// previous one under the same name.
func (s *Server) RegisterHealthCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes[name] = checker
}

// Start begins serving in the background. Listen errors surface in the
// log; the pipeline keeps running without its probes.
func (s *Server) Start() error {
	s.logger.Info("metrics server listening",
		"addr", s.srv.Addr,
		"metrics_path", s.cfg.MetricsPath,
		"health_path", s.cfg.HealthPath,
	)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", "err", err)
		}
	}()

	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down metrics server")
	return s.srv.Shutdown(ctx)
}

// Uptime returns time since the server was created.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.started)
}

// evaluate runs every registered probe once, outside the lock so a
// slow probe cannot block registration.
func (s *Server) evaluate() (map[string]Check, bool) {
	s.mu.RLock()
	probes := make(map[string]HealthChecker, len(s.probes))
	for name, p := range s.probes {
		probes[name] = p
	}
	s.mu.RUnlock()

	checks := make(map[string]Check, len(probes))
	ok := true
	for name, probe := range probes {
		c := probe()
		checks[name] = c
		if c.Status != StatusHealthy {
			ok = false
		}
	}
	return checks, ok
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks, ok := s.evaluate()
	overall := StatusHealthy
	if !ok {
		overall = StatusUnhealthy
	}

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(HealthStatus{
		Status:        overall,
		Version:       s.cfg.Version,
		Timestamp:     time.Now(),
		UptimeSeconds: time.Since(s.started).Seconds(),
		Checks:        checks,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.evaluate(); !ok {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}
