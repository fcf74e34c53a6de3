package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/baharkarakas/cirqle-payments/internal/api/handlers"
	"github.com/baharkarakas/cirqle-payments/internal/config"
	"github.com/baharkarakas/cirqle-payments/internal/metrics"
	"github.com/baharkarakas/cirqle-payments/internal/middleware"
)

type RouterDeps struct {
	Cfg       config.Config
	Payments  *handlers.PaymentHandler
	Callbacks *handlers.CallbackHandler
	Auth      *middleware.AuthMiddleware
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.Cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
	}))

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	authn := d.Auth.Optional
	if d.Cfg.AuthRequired {
		authn = d.Auth.Auth
	}

	// ---------- gateway webhook: never rate limited, never authenticated ----------
	r.Post("/api/v1/payments/callback", d.Callbacks.Receive)
	r.Post("/api/v1/payments/callback/{token}", d.Callbacks.Receive)
	r.Post("/api/mpesa-callback", d.Callbacks.Receive)

	// ---------- client routes ----------
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(d.Cfg.RateRPS), authn)

		r.Post("/api/v1/payments/stk-push", d.Payments.Initiate)
		r.Get("/api/v1/payments/status", d.Payments.GetStatus)

		// paths the existing front-end calls
		r.Post("/api/stk-push", d.Payments.Initiate)
		r.Get("/api/transaction-status", d.Payments.GetStatus)
	})

	return r
}
