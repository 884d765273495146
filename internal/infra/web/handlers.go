// File: internal/infra/web/handlers.go
package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kassa-billing/internal/domain"
	"kassa-billing/internal/domain/model"
	"kassa-billing/internal/domain/ports/repository"
	"kassa-billing/internal/infra/metrics"
)

// maxWebhookBody bounds inbound webhook payloads.
const maxWebhookBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrCouponNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrUnknownPlan),
		errors.Is(err, domain.ErrCouponInactive), errors.Is(err, domain.ErrCouponExpired):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadySubscribed), errors.Is(err, domain.ErrAlreadyPurchased),
		errors.Is(err, domain.ErrPaymentInFlight), errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ---- webhook ----

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.trust.Trusted(r) {
		// nothing is logged for untrusted sources, not even the payload
		metrics.IncWebhookDelivery("", "untrusted")
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("webhook: untrusted source rejected")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	status, err := s.webhookUC.Handle(r.Context(), body)
	if err != nil && status >= http.StatusInternalServerError {
		http.Error(w, "Internal Server Error", status)
		return
	}
	w.WriteHeader(status)
}

// ---- checkout and coupons ----

type checkoutRequest struct {
	UserID string `json:"user_id"`
	Plan   string `json:"plan"`
	Coupon string `json:"coupon,omitempty"`
}

type checkoutResponse struct {
	PaymentID       string `json:"payment_id"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	Discount        string `json:"discount"`
	ConfirmationURL string `json:"confirmation_url"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Plan == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	rec, confirmURL, err := s.paymentUC.Checkout(r.Context(), req.UserID, req.Plan, req.Coupon)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{
		PaymentID:       rec.ID,
		Amount:          rec.Amount.StringFixed(2),
		Currency:        rec.Currency,
		Discount:        rec.Discount.StringFixed(2),
		ConfirmationURL: confirmURL,
	})
}

type validateCouponRequest struct {
	Plan   string `json:"plan"`
	Coupon string `json:"coupon"`
}

func (s *Server) handleValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Plan == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	q, err := s.paymentUC.ValidateCoupon(r.Context(), req.Plan, req.Coupon)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"plan":         string(q.Plan),
		"base_price":   q.BasePrice.StringFixed(2),
		"discount":     q.Discount.StringFixed(2),
		"final_amount": q.FinalAmount,
		"currency":     q.Currency,
	})
}

// ---- subscriptions ----

type unsubscribeRequest struct {
	UserID string `json:"user_id"`
	Plan   string `json:"plan"`
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Plan == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	sub, err := s.subUC.Unsubscribe(r.Context(), req.UserID, req.Plan)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"subscription_id": sub.ID,
		"status":          string(sub.Status),
	})
}

func (s *Server) handleChargeSubscriptions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	report, err := s.recurringUC.ChargeDue(r.Context(), time.Now().UTC(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"due":     report.Due,
		"results": report.Results,
	})
}

// ---- admin ----

type adminLoginRequest struct {
	APIKey string `json:"api_key"`
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if s.apiKey == "" || req.APIKey != s.apiKey {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	token, err := s.auth.Mint(w)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleAdminLogout(w http.ResponseWriter, _ *http.Request) {
	s.auth.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

type paymentView struct {
	ID                string  `json:"id"`
	UserID            string  `json:"user_id"`
	ProviderPaymentID *string `json:"provider_payment_id,omitempty"`
	Amount            string  `json:"amount"`
	Currency          string  `json:"currency"`
	Plan              string  `json:"plan"`
	CouponCode        string  `json:"coupon_code,omitempty"`
	Discount          string  `json:"discount"`
	Status            string  `json:"status"`
	ProviderStatus    string  `json:"provider_status,omitempty"`
	IncomeAmount      *string `json:"income_amount,omitempty"`
	Note              string  `json:"note,omitempty"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

func toPaymentView(p *model.PaymentRecord) paymentView {
	v := paymentView{
		ID:                p.ID,
		UserID:            p.UserID,
		ProviderPaymentID: p.ProviderPaymentID,
		Amount:            p.Amount.StringFixed(2),
		Currency:          p.Currency,
		Plan:              string(p.Plan),
		CouponCode:        p.CouponCode,
		Discount:          p.Discount.StringFixed(2),
		Status:            string(p.Status),
		ProviderStatus:    string(p.ProviderStatus),
		Note:              p.Note,
		CreatedAt:         p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         p.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if p.IncomeAmount != nil {
		s := p.IncomeAmount.StringFixed(2)
		v.IncomeAmount = &s
	}
	return v
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.payments.FindByID(r.Context(), repository.NoTX, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentView(p))
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.paymentUC.ConfirmManual(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentView(p))
}

type refundRequest struct {
	Description string `json:"description"`
}

func (s *Server) handleRefundPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req refundRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	p, err := s.paymentUC.Refund(r.Context(), id, req.Description)
	if err != nil && p == nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentView(p))
}

func (s *Server) handleEventDeliveries(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	n, err := s.events.CountByEventID(r.Context(), repository.NoTX, eventID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_id":   eventID,
		"deliveries": n,
	})
}
