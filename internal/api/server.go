package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/creditline/internal/domain"
	"github.com/opensource-finance/creditline/internal/lending"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates the API server. The metrics endpoint is mounted when
// metrics.Enabled is set.
func NewServer(cfg domain.ServerConfig, metrics domain.MetricsConfig, svc *lending.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Server {
	handler := NewHandler(svc, repo, cache, bus, version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Tenant-free endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if metrics.Enabled {
		path := metrics.Path
		if path == "" {
			path = "/metrics"
		}
		router.Method(http.MethodGet, path, promhttp.Handler())
	}

	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Post("/register", handler.Register)
		r.Post("/check-eligibility", handler.CheckEligibility)
		r.Post("/create-loan", handler.CreateLoan)
		r.Get("/view-loan/{loan_id}", handler.ViewLoan)
		r.Get("/view-loans/{customer_id}", handler.ViewLoans)
		r.Post("/record-payment/{loan_id}", handler.RecordPayment)
		r.Post("/loan-requests", handler.SubmitLoanRequest)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           router,
			ReadTimeout:       time.Duration(cfg.ReadTimeout) * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      time.Duration(cfg.WriteTimeout) * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Start serves until Shutdown; it then returns http.ErrServerClosed.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
