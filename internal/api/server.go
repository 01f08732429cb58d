package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/rationguard/internal/domain"
	"github.com/opensource-finance/rationguard/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. m may be nil, in which case
// request metrics and /metrics are not served.
func NewServer(cfg domain.ServerConfig, handler *Handler, m *metrics.Metrics) *Server {
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)    // CORS for the operator dashboard
	router.Use(RecoverMiddleware) // Recover from panics
	router.Use(TracingMiddleware) // OpenTelemetry tracing
	router.Use(LoggingMiddleware) // Request logging
	if m != nil {
		router.Use(MetricsMiddleware(m))
	}
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	router.Get("/", handler.Root)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if m != nil {
		router.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	}

	router.Route("/api", func(r chi.Router) {
		// Verification at the shop terminal
		r.Post("/verify", handler.Verify)

		// Beneficiary registry
		r.Post("/beneficiaries", handler.RegisterBeneficiary)
		r.Get("/beneficiaries", handler.ListBeneficiaries)
		r.Get("/beneficiaries/{card}", handler.GetBeneficiary)
		r.Put("/beneficiaries/{card}/status", handler.SetBeneficiaryStatus)
		r.Put("/beneficiaries/{card}/face", handler.ReenrollBeneficiary)

		// Transaction history
		r.Get("/transactions", handler.ListTransactions)
		r.Get("/transactions/{id}", handler.GetTransaction)

		// Alert review
		r.Get("/alerts", handler.ListAlerts)
		r.Put("/alerts/{id}/review", handler.ReviewAlert)

		// Shops and distribution cycles
		r.Get("/shops", handler.ListShops)
		r.Post("/shops", handler.RegisterShop)
		r.Get("/cycles", handler.ListCycles)
		r.Post("/cycles", handler.CreateCycle)
		r.Post("/cycles/{id}/activate", handler.ActivateCycle)
		r.Post("/cycles/{id}/close", handler.CloseCycle)

		r.Get("/dashboard/stats", handler.DashboardStats)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
