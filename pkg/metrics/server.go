// Package metrics exposes Prometheus instrumentation for the proxy pool and the
// geolocation cache, plus a small HTTP server serving /metrics and a health probe.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultGracefulShutdownTimeout = 5 * time.Second

// HealthFunc reports whether the process can serve lookups.
type HealthFunc func(ctx context.Context) error

// Server exposes Prometheus metrics and a health probe.
type Server struct {
	address         string
	healthPath      string
	logger          *zap.Logger
	registry        *prometheus.Registry
	instrumentation *Instrumentation
	health          HealthFunc
}

// NewServer builds a metrics server instance with its own registry.
func NewServer(address, healthPath string, logger *zap.Logger) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	inst := NewInstrumentation(reg)

	if healthPath == "" {
		healthPath = "/healthz"
	}

	return &Server{
		address:         address,
		healthPath:      healthPath,
		logger:          logger,
		registry:        reg,
		instrumentation: inst,
	}
}

// Instrumentation returns the metrics instrumentation helper.
func (s *Server) Instrumentation() *Instrumentation {
	return s.instrumentation
}

// Registry returns the underlying Prometheus registry.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// SetHealthFunc installs the check run by the health endpoint.
func (s *Server) SetHealthFunc(fn HealthFunc) {
	s.health = fn
}

// Handler returns the HTTP handler serving metrics and health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.Handle(s.healthPath, s.healthHandler())
	return mux
}

// Start launches the HTTP endpoints and blocks until context cancellation.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("metrics server shutdown", zap.Error(err))
		}
	}()

	s.logger.Info("metrics server listening", zap.String("addr", s.address))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
			defer cancel()
			if err := s.health(ctx); err != nil {
				s.logger.Warn("health check failed", zap.Error(err))
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
