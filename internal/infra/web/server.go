// File: internal/infra/web/server.go
package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"kassa-billing/internal/domain/ports/repository"
	"kassa-billing/internal/infra/logging"
	"kassa-billing/internal/usecase"
)

type Server struct {
	paymentUC   usecase.PaymentUseCase
	webhookUC   usecase.WebhookUseCase
	subUC       usecase.SubscriptionUseCase
	recurringUC usecase.RecurringChargeUseCase

	payments repository.PaymentRecordRepository
	events   repository.EventLogRepository

	trust      *TrustChecker
	auth       *AuthManager
	apiKey     string
	cronSecret string
	log        *zerolog.Logger
}

func NewServer(
	paymentUC usecase.PaymentUseCase,
	webhookUC usecase.WebhookUseCase,
	subUC usecase.SubscriptionUseCase,
	recurringUC usecase.RecurringChargeUseCase,
	payments repository.PaymentRecordRepository,
	events repository.EventLogRepository,
	trust *TrustChecker,
	auth *AuthManager,
	apiKey, cronSecret string,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		paymentUC:   paymentUC,
		webhookUC:   webhookUC,
		subUC:       subUC,
		recurringUC: recurringUC,
		payments:    payments,
		events:      events,
		trust:       trust,
		auth:        auth,
		apiKey:      apiKey,
		cronSecret:  cronSecret,
		log:         logger,
	}
}

// Router builds the full route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.traceMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/kassa/webhook", s.handleWebhook)

		r.Post("/payments/checkout", s.handleCheckout)
		r.Post("/coupons/validate", s.handleValidateCoupon)
		r.Post("/subscriptions/unsubscribe", s.handleUnsubscribe)

		// cron endpoint, gated by a shared secret instead of a session
		r.With(s.cronAuth).Post("/jobs/charge-subscriptions", s.handleChargeSubscriptions)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", s.handleAdminLogin)
			r.Group(func(r chi.Router) {
				r.Use(s.adminAuth)
				r.Post("/logout", s.handleAdminLogout)
				r.Get("/payments/{id}", s.handleGetPayment)
				r.Post("/payments/{id}/confirm", s.handleConfirmPayment)
				r.Post("/payments/{id}/refund", s.handleRefundPayment)
				r.Get("/events/{eventID}/deliveries", s.handleEventDeliveries)
			})
		})
	})
	return r
}

func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithTraceID(r.Context(), uuid.NewString())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) cronAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cronSecret == "" || r.Header.Get("X-CRON-SECRET") != s.cronSecret {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth.Verify(r); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewHTTPServer wraps the router with sane timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
