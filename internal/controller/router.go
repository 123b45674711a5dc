package controller

import (
	"time"

	"github.com/cassiomorais/paygate/internal/infrastructure/config"
	"github.com/cassiomorais/paygate/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/paygate/internal/middleware"
	"github.com/cassiomorais/paygate/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	PaymentService   *service.PaymentService
	Reconciler       *service.Reconciler
	IdempotencyStore customMW.IdempotencyStore
	IdempotencyTTL   time.Duration
	HealthChecks     []HealthCheck
	Metrics          *observability.Metrics
	// Gatherer serves /metrics; nil uses the default registry.
	Gatherer   prometheus.Gatherer
	CORSConfig config.CORSConfig
	RateLimit  int
	// JWTSecret enables bearer auth on /api/v1 when set.
	JWTSecret string
	Logger    zerolog.Logger
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.HealthChecks...)
	paymentH := NewPaymentController(deps.PaymentService)
	webhookH := NewWebhookController(deps.Reconciler, deps.Logger)

	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Providers authenticate with signatures; no CORS, auth or rate limit.
	r.Post("/webhooks/{gateway}", webhookH.Receive)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
			ExposedHeaders:   []string{"X-Idempotency-Replayed"},
			AllowCredentials: deps.CORSConfig.AllowCredentials,
			MaxAge:           300,
		}))
		r.Use(customMW.RateLimit(deps.RateLimit))

		read := chi.Chain()
		write := chi.Chain()
		if deps.JWTSecret != "" {
			r.Use(customMW.RequireAuth(deps.JWTSecret))
			read = chi.Chain(customMW.RequireScope(customMW.ScopeRead))
			write = chi.Chain(customMW.RequireScope(customMW.ScopeWrite))
		}

		// Gateways
		r.With(read...).Get("/gateways", paymentH.ListGateways)

		// Payments
		if deps.IdempotencyStore != nil {
			r.With(write...).With(customMW.Idempotency(deps.IdempotencyStore, deps.IdempotencyTTL)).Post("/payments", paymentH.CreatePayment)
		} else {
			r.With(write...).Post("/payments", paymentH.CreatePayment)
		}
		r.With(read...).Get("/payments", paymentH.ListPayments)
		r.With(read...).Get("/payments/{id}", paymentH.GetPayment)
		r.With(read...).Get("/payments/{id}/events", paymentH.GetEvents)
		r.With(write...).Post("/payments/{id}/verify", paymentH.VerifyPayment)
		r.With(write...).Post("/payments/{id}/refund", paymentH.RefundPayment)
		r.With(write...).Post("/payments/{id}/cancel", paymentH.CancelPayment)
		r.With(write...).Post("/payments/{id}/capture", paymentH.CapturePayment)
	})

	return r
}
