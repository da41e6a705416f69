package collector

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/reqtrail/internal/delivery"
)

// maxReportBytes ограничивает тело POST /v1/reports.
const maxReportBytes = 4 << 20

// Server — HTTP-прием отчетов от HTTPGateway.
type Server struct {
	router *chi.Mux
	sink   Sink
	logger *zap.Logger
}

func NewServer(sink Sink, logger *zap.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		sink:   sink,
		logger: logger.Named("collector-api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/v1/reports", s.handleReport)
}

// handleReport принимает отчет; 202 — отчет в очереди на запись.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReportBytes))
	if err != nil {
		http.Error(w, "report too large", http.StatusRequestEntityTooLarge)
		return
	}

	var rep delivery.Report
	if err := json.Unmarshal(body, &rep); err != nil {
		http.Error(w, "malformed report", http.StatusBadRequest)
		return
	}

	err = accept(s.sink, rep)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case isInvalid(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, delivery.ErrOverflow):
		// шлюз откроет breaker и перестанет слать, пока мы не разгребемся
		w.Header().Set("Retry-After", "1")
		http.Error(w, "collector busy", http.StatusServiceUnavailable)
	default:
		s.logger.Error("report rejected", zap.String("id", rep.ID), zap.Error(err))
		http.Error(w, "collector unavailable", http.StatusServiceUnavailable)
	}
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
