// Package admin serves the operator HTTP endpoints of the bot: Prometheus
// metrics, a health check and the metadata of every store.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pyrohost/prometheus/lib/docstore"
)

var log = logger.GetLogger("admin")

// StoreLister returns the metadata of the stores to report
type StoreLister func() []docstore.Info

// Config configures the admin server
type Config struct {
	Endpoint string
	// LogRequests logs every request at debug level
	LogRequests bool
	// ShutdownTimeout bounds the graceful shutdown, default 5s
	ShutdownTimeout time.Duration
}

// Server is the admin HTTP server
type Server struct {
	config Config
	stores StoreLister
	start  time.Time
}

// NewServer creates a server reporting the stores returned by stores
func NewServer(config Config, stores StoreLister) *Server {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	return &Server{config: config, stores: stores, start: time.Now()}
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	handle := func(pattern string, h http.HandlerFunc) {
		if s.config.LogRequests {
			h = loggerMiddleware(h)
		}
		mux.HandleFunc(pattern, h)
	}

	handle("GET /metrics", s.handleMetrics)
	handle("GET /healthz", s.handleHealth)
	handle("GET /stores", s.handleStores)
	return mux
}

// Serve listens on the configured endpoint until ctx is cancelled
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Endpoint)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Infof("starting admin server on %s", ln.Addr())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Infof("admin server stopped")
	return nil
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	metrics.WritePrometheus(w, true)
}

type health struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Stores int    `json:"stores"`
	Closed int    `json:"closed"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := health{Status: "ok", Uptime: time.Since(s.start).Round(time.Second).String()}
	for _, info := range s.stores() {
		h.Stores++
		if info.Closed {
			h.Closed++
		}
	}

	status := http.StatusOK
	if h.Closed > 0 {
		h.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleStores(w http.ResponseWriter, _ *http.Request) {
	infos := s.stores()
	if infos == nil {
		infos = []docstore.Info{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("failed to write response: %v", err)
	}
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter captures the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware logs every request at debug level
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		log.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	}
}
