package server

import (
	"net/http"

	"crypto-settlement-go/internal/api"
	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/webhook"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
	"github.com/rs/cors"
)

// Server exposes the api.Service and the webhook ingestor over HTTP.
type Server struct {
	api            *api.Service
	ingestor       *webhook.Ingestor
	tokens         *TokenManager
	metrics        http.Handler
	allowedOrigins []string
}

type Config struct {
	API            *api.Service
	Ingestor       *webhook.Ingestor
	Tokens         *TokenManager
	Metrics        http.Handler
	AllowedOrigins []string
}

func New(cfg Config) *Server {
	return &Server{
		api:            cfg.API,
		ingestor:       cfg.Ingestor,
		tokens:         cfg.Tokens,
		metrics:        cfg.Metrics,
		allowedOrigins: cfg.AllowedOrigins,
	}
}

func (s *Server) Routes() http.Handler {
	standard := alice.New(recoverPanic, logRequest, secureHeaders)
	freelancer := standard.Append(s.requireRole(models.RoleFreelancer))
	admin := standard.Append(s.requireRole(models.RoleAdmin))

	mux := pat.New()

	mux.Get("/health", standard.ThenFunc(s.health))
	if s.metrics != nil {
		mux.Get("/metrics", s.metrics)
	}

	// Provider callbacks authenticate by signature, not bearer token.
	if s.ingestor != nil {
		mux.Post("/webhooks/alchemy", standard.Then(s.ingestor.HTTPHandler(models.ProviderAlchemy)))
		mux.Post("/webhooks/exchange", standard.Then(s.ingestor.HTTPHandler(models.ProviderExchange)))
		mux.Post("/webhooks/cashfree", standard.Then(s.ingestor.HTTPHandler(models.ProviderCashfree)))
	}

	// Invoices
	mux.Post("/invoices", freelancer.ThenFunc(s.createInvoice))
	mux.Get("/invoices/:id", standard.ThenFunc(s.getInvoice))

	// Freelancer
	mux.Get("/freelancer/invoices", freelancer.ThenFunc(s.freelancerInvoices))
	mux.Get("/freelancer/profile", freelancer.ThenFunc(s.getProfile))
	mux.Put("/freelancer/profile", freelancer.ThenFunc(s.updateProfile))
	mux.Get("/freelancer/ledger", freelancer.ThenFunc(s.ledger))

	// Operator
	mux.Get("/admin/jobs", admin.ThenFunc(s.listJobs))
	mux.Post("/admin/jobs/:id/retry", admin.ThenFunc(s.retryJob))
	mux.Post("/admin/payouts/:id/retry", admin.ThenFunc(s.retryPayout))
	mux.Get("/admin/reconcile", admin.ThenFunc(s.reconcile))
	mux.Get("/admin/webhooks", admin.ThenFunc(s.listWebhooks))
	mux.Get("/admin/stats", admin.ThenFunc(s.stats))
	mux.Get("/admin/transactions", admin.ThenFunc(s.transactions))
	mux.Post("/admin/deposits/poll", admin.ThenFunc(s.pollDeposits))
	mux.Post("/admin/deposits/:id/confirm", admin.ThenFunc(s.confirmDeposit))

	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowCredentials: true,
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
	})
	return c.Handler(mux)
}
