// Package server exposes the admission API over HTTP. Routing uses
// method-qualified ServeMux patterns; all state changes go through the
// orchestrator and repositories, the server itself holds nothing.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/testpulse/admitflow/internal/export"
	"github.com/testpulse/admitflow/internal/orchestrator"
	"github.com/testpulse/admitflow/internal/payment"
	"github.com/testpulse/admitflow/internal/repository"
)

type Server struct {
	orch     *orchestrator.Orchestrator
	apps     repository.ApplicationRepository
	payments *payment.Client
	exporter *export.Service
	health   HealthChecker
	frontend string
	logger   *slog.Logger
	mux      *http.ServeMux
}

// HealthChecker reports backing-store liveness for the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

func New(
	orch *orchestrator.Orchestrator,
	apps repository.ApplicationRepository,
	payments *payment.Client,
	exporter *export.Service,
	health HealthChecker,
	frontendURL string,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orch:     orch,
		apps:     apps,
		payments: payments,
		exporter: exporter,
		health:   health,
		frontend: frontendURL,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /api/admission/apply", s.handleApply)
	s.mux.HandleFunc("POST /api/admission/start/{id}", s.handleStart)
	s.mux.HandleFunc("GET /api/admission/status/{id}", s.handleStatus)
	s.mux.HandleFunc("POST /api/admission/submit-otp", s.handleSubmitOTP)
	s.mux.HandleFunc("POST /api/admission/submit-captcha", s.handleSubmitCaptcha)
	s.mux.HandleFunc("GET /api/admission/payment-url/{id}", s.handlePaymentURL)
	s.mux.HandleFunc("POST /api/admission/payment/callback", s.handlePaymentCallback)
	s.mux.HandleFunc("GET /api/admission/documents/{id}", s.handleDocuments)
	s.mux.HandleFunc("GET /api/admission/export", s.handleExport)
}

func (s *Server) Handler() http.Handler {
	return s.withAccessLog(s.mux)
}

func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}
