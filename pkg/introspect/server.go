// Package introspect exposes the relay's runtime status and counters
// over HTTP: a JSON snapshot for operators and a Prometheus scrape
// endpoint for monitoring collaborators.
package introspect

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hyp3rd/ewrap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hyp3rd/relay/internal/constants"
	"github.com/hyp3rd/relay/pkg/config"
	"github.com/hyp3rd/relay/pkg/logging"
	"github.com/hyp3rd/relay/pkg/stats"
)

// Snapshot captures the current pipeline status for the status endpoint.
type Snapshot struct {
	ServiceName string                        `json:"service_name"`
	InstanceID  string                        `json:"instance_id"`
	Environment string                        `json:"environment"`
	State       string                        `json:"state"`
	StartTime   time.Time                     `json:"start_time"`
	Kinds       map[string]stats.KindSnapshot `json:"kinds"`
	Sinks       map[string]stats.SinkSnapshot `json:"sinks"`
	DeadLetters []stats.DeadLetter            `json:"dead_letters,omitempty"`
	Timestamp   time.Time                     `json:"timestamp"`
}

// SnapshotProvider supplies status snapshots.
type SnapshotProvider interface {
	Snapshot() Snapshot
}

// Server exposes pipeline status over HTTP.
type Server struct {
	cfg      config.IntrospectionConfig
	provider SnapshotProvider
	registry *prometheus.Registry
	logger   logging.Adapter

	server *http.Server
	mu     sync.Mutex
	start  sync.Once
	stop   sync.Once
}

// NewServer constructs an introspection server. The pipeline counters
// are registered as a Prometheus collector on a private registry.
func NewServer(cfg config.IntrospectionConfig, provider SnapshotProvider, counters *stats.Pipeline, logger logging.Adapter) (*Server, error) {
	if logger == nil {
		logger = logging.NewNoopAdapter()
	}

	registry := prometheus.NewRegistry()

	err := registry.Register(newCollector(counters))
	if err != nil {
		return nil, ewrap.Wrap(err, "register pipeline collector")
	}

	return &Server{
		cfg:      cfg,
		provider: provider,
		registry: registry,
		logger:   logger,
	}, nil
}

// Handler returns the introspection mux, also used directly by tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/relay/status", s.HandleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return mux
}

// Start begins serving the introspection endpoints until the supplied
// context is canceled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.HTTPAddr == "" {
		return ewrap.New("introspection http_addr is required")
	}

	var startErr error

	s.start.Do(func() {
		srv := &http.Server{
			Addr:              s.cfg.HTTPAddr,
			Handler:           s.Handler(),
			ReadHeaderTimeout: constants.DefaultTimeout,
		}

		lc := net.ListenConfig{}

		ln, err := lc.Listen(ctx, "tcp", s.cfg.HTTPAddr)
		if err != nil {
			startErr = ewrap.Wrap(err, "listen introspection")

			return
		}

		s.mu.Lock()
		s.server = srv
		s.mu.Unlock()

		// The goroutine serves from its own reference so a concurrent
		// Shutdown clearing the field cannot be observed mid-Serve.
		go func() {
			err := srv.Serve(ln)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error(ctx, err, "introspection server stopped")
			}
		}()
	})

	return startErr
}

// Shutdown stops the introspection server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.stop.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.server == nil {
			return
		}

		ctxShutdown, cancel := context.WithTimeout(ctx, constants.DefaultShutdownTimeout)
		defer cancel()

		shutdownErr = s.server.Shutdown(ctxShutdown)
		s.server = nil
	})

	if shutdownErr != nil {
		return ewrap.Wrap(shutdownErr, "shutdown introspection server")
	}

	return nil
}

// HandleStatus serves the /relay/status endpoint with a JSON snapshot of
// the pipeline status.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthToken != "" {
		if !validAuth(r.Header.Get("Authorization"), s.cfg.AuthToken) {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}
	}

	snapshot := s.provider.Snapshot()
	snapshot.Timestamp = time.Now().UTC()

	w.Header().Set("Content-Type", "application/json")

	err := json.NewEncoder(w).Encode(snapshot)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func validAuth(header, token string) bool {
	const prefix = "Bearer "

	if header == "" {
		return false
	}

	if !strings.HasPrefix(header, prefix) {
		return false
	}

	presented := strings.TrimSpace(header[len(prefix):])

	return subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1
}
