// ABOUTME: HTTP surface of the exporter: metrics, liveness, and readiness on one port.
// ABOUTME: Serves concurrently with background cycles; readiness gates scrape traffic until first publish.

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// ReadinessReporter tells the readiness probe whether a first cycle has
// published.
type ReadinessReporter interface {
	Ready() bool
}

// Server serves /metrics, /-/healthy, and /-/ready; everything else is 404.
type Server struct {
	port           int
	metricsHandler http.HandlerFunc
	readiness      ReadinessReporter
	logger         *logrus.Logger
}

// New creates the exporter HTTP server.
func New(port int, metricsHandler http.HandlerFunc, readiness ReadinessReporter, logger *logrus.Logger) *Server {
	return &Server{
		port:           port,
		metricsHandler: metricsHandler,
		readiness:      readiness,
		logger:         logger,
	}
}

// Handler builds the route table with the security middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.securityMiddleware(s.metricsHandler))
	// "/metrics/" registers a subtree on ServeMux; only the exact path with
	// the trailing slash is accepted, deeper paths stay 404.
	mux.HandleFunc("/metrics/", s.securityMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metrics/" {
			s.notFoundHandler(w, r)
			return
		}
		s.metricsHandler(w, r)
	}))
	mux.HandleFunc("/-/healthy", s.securityMiddleware(s.healthyHandler))
	mux.HandleFunc("/-/ready", s.securityMiddleware(s.readyHandler))
	mux.HandleFunc("/", s.securityMiddleware(s.notFoundHandler))
	return mux
}

// Start serves until the context is cancelled, then drains connections.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.WithField("port", s.port).Info("Starting HTTP server")

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *Server) securityMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Security headers
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Only allow specific HTTP methods
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		s.logger.WithFields(logrus.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"remote_ip": r.RemoteAddr,
		}).Debug("HTTP request received")

		next(w, r)
	}
}

// healthyHandler is the liveness probe: 200 while the process responds,
// regardless of data freshness.
func (s *Server) healthyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK\n")
}

// readyHandler is the readiness probe: 503 until the first cycle publishes,
// 200 permanently afterwards.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if !s.readiness.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "Not ready yet\n")
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "Ready\n")
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprint(w, "Not found\n")
}
