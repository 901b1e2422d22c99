package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hyp3rd/relay/internal/constants"
	"github.com/hyp3rd/relay/pkg/config"
	"github.com/hyp3rd/relay/pkg/logging"
	"github.com/hyp3rd/relay/pkg/queue"
	"github.com/hyp3rd/relay/pkg/telemetry"
)

// Server exposes the ingestion endpoints over HTTP: one push route per
// telemetry kind under /v1/.
type Server struct {
	cfg      config.ReceiverConfig
	receiver *Receiver
	logger   logging.Adapter

	server *http.Server
	mu     sync.Mutex
	start  sync.Once
	stop   sync.Once
}

// NewServer constructs the ingestion server.
func NewServer(cfg config.ReceiverConfig, receiver *Receiver, logger logging.Adapter) *Server {
	if logger == nil {
		logger = logging.NewNoopAdapter()
	}

	return &Server{
		cfg:      cfg,
		receiver: receiver,
		logger:   logger,
	}
}

// Handler returns the ingestion mux, also used directly by tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	for _, kind := range telemetry.Kinds() {
		mux.HandleFunc("/v1/"+string(kind), s.handleIngest(kind))
	}

	return mux
}

// Start begins serving until the supplied context is canceled or
// Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.HTTPAddr == "" {
		return ewrap.New("receiver http_addr is required")
	}

	var startErr error

	s.start.Do(func() {
		srv := &http.Server{
			Addr:              s.cfg.HTTPAddr,
			Handler:           s.Handler(),
			ReadHeaderTimeout: constants.DefaultTimeout,
			ReadTimeout:       s.cfg.ReadTimeout,
		}

		lc := net.ListenConfig{}

		ln, err := lc.Listen(ctx, "tcp", s.cfg.HTTPAddr)
		if err != nil {
			startErr = ewrap.Wrap(err, "listen ingestion")

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
				s.logger.Error(ctx, err, "ingestion server stopped")
			}
		}()
	})

	return startErr
}

// Shutdown stops the ingestion server gracefully.
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
		return ewrap.Wrap(shutdownErr, "shutdown ingestion server")
	}

	return nil
}

func (s *Server) handleIngest(kind telemetry.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			w.WriteHeader(http.StatusMethodNotAllowed)

			return
		}

		body := r.Body
		if s.cfg.MaxBodyBytes > 0 {
			body = http.MaxBytesReader(w, body, s.cfg.MaxBodyBytes)
		}

		payload, err := io.ReadAll(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "read request body")

			return
		}

		result, err := s.receiver.Ingest(r.Context(), kind, payload)
		if err != nil {
			s.writeIngestError(w, r, kind, result, err)

			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) writeIngestError(w http.ResponseWriter, r *http.Request, kind telemetry.Kind, result Result, err error) {
	switch {
	case errors.Is(err, queue.ErrOverload):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, overloadResponse{
			Result: result,
			Error:  "queue at capacity, retry later",
		})
	case errors.Is(err, queue.ErrClosed):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "pipeline draining")
	case errors.Is(err, ErrSchema):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(r.Context(), err, "ingest failed",
			attribute.String("kind", string(kind)),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type overloadResponse struct {
	Result
	Error string `json:"error"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
