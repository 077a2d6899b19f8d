package http

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/climate-layers-etl/internal/domain"
)

// Layers exposes the read side of the pipeline.
type Layers interface {
	sharedobs.ReadinessChecker
	Ledger(ctx context.Context) (domain.Ledger, error)
	Report(ctx context.Context, layer domain.Layer) ([]byte, error)
}

// Server exposes health, readiness, metrics and the layer reports.
type Server struct {
	httpServer *http.Server
	layers     Layers
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics,
// /v1/ledger and /v1/reports/{layer} routes.
func NewServer(addr string, layers Layers, logger *slog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		layers: layers,
		logger: logger,
	}

	router.HandleFunc("/healthz", sharedobs.LivenessHandler()).Methods(http.MethodGet)
	router.HandleFunc("/readyz", sharedobs.ReadinessHandler(layers)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/v1/ledger", s.handleLedger).Methods(http.MethodGet)
	router.HandleFunc("/v1/reports/{layer}", s.handleReport).Methods(http.MethodGet)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.layers.Ledger(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	entries := ledger.Entries
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	sharedobs.WriteJSON(w, http.StatusOK, entries)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	layer, err := domain.ParseLayer(mux.Vars(r)["layer"])
	if err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	body, err := s.layers.Report(r.Context(), layer)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body) //nolint:errcheck // client may have gone away
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, fs.ErrNotExist) {
		sharedobs.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "layer not built yet"})
		return
	}
	s.logger.Error("request failed", "error", err)
	sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
