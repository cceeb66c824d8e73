package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/autocapture/internal/ledger"
	"github.com/GriffinCanCode/autocapture/internal/pipeline"
	"github.com/GriffinCanCode/autocapture/internal/trace"
)

// StatusSource publishes the live session status.
type StatusSource interface {
	Snapshot() pipeline.Status
	Changed() <-chan struct{}
}

// CaptureLister lists recorded captures.
type CaptureLister interface {
	Recent(ctx context.Context, limit int) ([]ledger.Entry, error)
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	status  StatusSource
	ledger  CaptureLister
	httpSrv *http.Server
}

// New creates a server. lister may be nil when the ledger is disabled.
func New(addr string, status StatusSource, lister CaptureLister) *Server {
	s := &Server{status: status, ledger: lister}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(trace.Middleware)
	r.Use(corsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/session", s.handleSession)
	r.Get("/api/captures", s.handleCaptures)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWebSocket)
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return err
	}
	slog.Info("status server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()
		slog.Info("shutting down status server")
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.status.Snapshot()
	code := http.StatusOK
	if st.State == pipeline.Stopped {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": st.State.String()})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Snapshot())
}

func (s *Server) handleCaptures(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "capture ledger disabled"})
		return
	}

	limit := DefaultCaptureLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, MaxCaptureLimit)
	}

	entries, err := s.ledger.Recent(r.Context(), limit)
	if err != nil {
		trace.Logger(r.Context()).Error("list captures", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list captures"})
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"captures": entries})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}
