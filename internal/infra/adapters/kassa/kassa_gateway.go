// File: internal/infra/adapters/kassa/kassa_gateway.go
package kassa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"kassa-billing/internal/domain"
	"kassa-billing/internal/domain/model"
	"kassa-billing/internal/domain/ports/adapter"
)

var _ adapter.KassaGateway = (*Gateway)(nil)

const defaultBaseURL = "https://api.yookassa.ru/v3"

// Gateway implements adapter.KassaGateway against the provider's REST v3
// API with HTTP Basic auth (shop id / secret key) and per-request
// Idempotence-Key headers.
type Gateway struct {
	shopID    string
	secretKey string
	baseURL   string
	client    *http.Client
}

func NewGateway(shopID, secretKey string, timeout time.Duration) (*Gateway, error) {
	if shopID == "" || secretKey == "" {
		return nil, errors.New("kassa: shop id and secret key required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Gateway{
		shopID:    shopID,
		secretKey: secretKey,
		baseURL:   defaultBaseURL,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

// SetBaseURL overrides the API endpoint (sandbox/tests).
func (g *Gateway) SetBaseURL(u string) {
	if u != "" {
		g.baseURL = u
	}
}

func (g *Gateway) Name() string { return "yookassa" }

// ---- wire shapes ----

type wireAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type wireCard struct {
	First6        string `json:"first6"`
	Last4         string `json:"last4"`
	ExpiryYear    string `json:"expiry_year"`
	ExpiryMonth   string `json:"expiry_month"`
	CardType      string `json:"card_type"`
	IssuerCountry string `json:"issuer_country"`
}

type wirePaymentMethod struct {
	Type  string    `json:"type"`
	ID    string    `json:"id"`
	Saved bool      `json:"saved"`
	Title string    `json:"title"`
	Card  *wireCard `json:"card"`
}

type wireThreeDSecure struct {
	Applied            bool `json:"applied"`
	MethodCompleted    bool `json:"method_completed"`
	ChallengeCompleted bool `json:"challenge_completed"`
}

type wireAuthorization struct {
	RRN          string            `json:"rrn"`
	AuthCode     string            `json:"auth_code"`
	ThreeDSecure *wireThreeDSecure `json:"three_d_secure"`
}

type wirePayment struct {
	ID                  string             `json:"id"`
	Status              string             `json:"status"`
	Paid                bool               `json:"paid"`
	Amount              wireAmount         `json:"amount"`
	IncomeAmount        *wireAmount        `json:"income_amount"`
	Confirmation        *struct {
		Type            string `json:"type"`
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
	PaymentMethod       *wirePaymentMethod `json:"payment_method"`
	AuthorizationDetail *wireAuthorization `json:"authorization_details"`
	Metadata            map[string]string  `json:"metadata"`
	CancellationDetails *struct {
		Party  string `json:"party"`
		Reason string `json:"reason"`
	} `json:"cancellation_details"`
	Type        string `json:"type"` // "error" on failure responses
	Description string `json:"description"`
}

type wireRefund struct {
	ID            string             `json:"id"`
	PaymentID     string             `json:"payment_id"`
	Status        string             `json:"status"`
	Amount        wireAmount         `json:"amount"`
	Description   string             `json:"description"`
	Type          string             `json:"type"`
	Authorization *wireAuthorization `json:"refund_authorization_details"`
}

// ---- operations ----

func (g *Gateway) CreatePayment(ctx context.Context, req adapter.CreatePaymentRequest, idemKey string) (*adapter.RemotePayment, error) {
	body := map[string]interface{}{
		"amount":      wireAmount{Value: req.Amount.Value.StringFixed(2), Currency: req.Amount.Currency},
		"description": req.Description,
		"capture":     req.Capture,
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}
	if req.InstrumentID != "" {
		// recurring charge with a saved instrument: no confirmation step
		body["payment_method_id"] = req.InstrumentID
	} else {
		body["confirmation"] = map[string]string{"type": "redirect", "return_url": req.ReturnURL}
		if req.SaveInstrument {
			body["save_payment_method"] = true
		}
	}
	var out wirePayment
	if err := g.do(ctx, http.MethodPost, "/payments", idemKey, body, &out); err != nil {
		return nil, err
	}
	return out.toSnapshot()
}

func (g *Gateway) FindPayment(ctx context.Context, providerPaymentID string) (*adapter.RemotePayment, error) {
	var out wirePayment
	if err := g.do(ctx, http.MethodGet, "/payments/"+providerPaymentID, "", nil, &out); err != nil {
		return nil, err
	}
	return out.toSnapshot()
}

func (g *Gateway) CapturePayment(ctx context.Context, providerPaymentID string, amount adapter.RemoteAmount, idemKey string) (*adapter.RemotePayment, error) {
	body := map[string]interface{}{
		"amount": wireAmount{Value: amount.Value.StringFixed(2), Currency: amount.Currency},
	}
	var out wirePayment
	if err := g.do(ctx, http.MethodPost, "/payments/"+providerPaymentID+"/capture", idemKey, body, &out); err != nil {
		return nil, err
	}
	return out.toSnapshot()
}

func (g *Gateway) CreateRefund(ctx context.Context, providerPaymentID string, amount adapter.RemoteAmount, description string) (*adapter.RemoteRefund, error) {
	body := map[string]interface{}{
		"payment_id":  providerPaymentID,
		"amount":      wireAmount{Value: amount.Value.StringFixed(2), Currency: amount.Currency},
		"description": description,
	}
	var out wireRefund
	if err := g.do(ctx, http.MethodPost, "/refunds", "", body, &out); err != nil {
		return nil, err
	}
	if out.Type == "error" || out.ID == "" {
		return nil, fmt.Errorf("kassa refund rejected: %s: %w", out.Description, domain.ErrOperationFailed)
	}
	value, err := decimal.NewFromString(out.Amount.Value)
	if err != nil {
		value = decimal.Zero
	}
	rr := &adapter.RemoteRefund{
		ID:          out.ID,
		PaymentID:   out.PaymentID,
		Status:      out.Status,
		Amount:      adapter.RemoteAmount{Value: value, Currency: out.Amount.Currency},
		Description: out.Description,
	}
	if out.Authorization != nil {
		rr.Authorization = out.Authorization.toSnapshot()
	}
	return rr, nil
}

func (g *Gateway) do(ctx context.Context, method, path, idemKey string, body, out interface{}) error {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.SetBasicAuth(g.shopID, g.secretKey)
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set("Idempotence-Key", idemKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("kassa %s %s: %v: %w", method, path, err, domain.ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("kassa %s %s: http %d: %w", method, path, resp.StatusCode, domain.ErrGatewayUnavailable)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("kassa %s %s: decode: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("kassa %s %s: http %d: %w", method, path, resp.StatusCode, domain.ErrOperationFailed)
	}
	return nil
}

func (w *wirePayment) toSnapshot() (*adapter.RemotePayment, error) {
	if w.Type == "error" || w.ID == "" {
		return nil, fmt.Errorf("kassa payment error: %s: %w", w.Description, domain.ErrOperationFailed)
	}
	value, err := decimal.NewFromString(w.Amount.Value)
	if err != nil {
		return nil, fmt.Errorf("kassa: bad amount %q: %w", w.Amount.Value, err)
	}
	rp := &adapter.RemotePayment{
		ID:       w.ID,
		Status:   model.ProviderStatus(w.Status),
		Paid:     w.Paid,
		Amount:   adapter.RemoteAmount{Value: value, Currency: w.Amount.Currency},
		Metadata: w.Metadata,
	}
	if w.IncomeAmount != nil {
		if iv, err := decimal.NewFromString(w.IncomeAmount.Value); err == nil {
			rp.IncomeAmount = &adapter.RemoteAmount{Value: iv, Currency: w.IncomeAmount.Currency}
		}
	}
	if w.Confirmation != nil {
		rp.ConfirmationURL = w.Confirmation.ConfirmationURL
	}
	if w.PaymentMethod != nil {
		inst := &model.InstrumentSnapshot{
			Type:  w.PaymentMethod.Type,
			ID:    w.PaymentMethod.ID,
			Saved: w.PaymentMethod.Saved,
			Title: w.PaymentMethod.Title,
		}
		if c := w.PaymentMethod.Card; c != nil {
			inst.Card = &model.CardSnapshot{
				First6:        c.First6,
				Last4:         c.Last4,
				ExpiryYear:    c.ExpiryYear,
				ExpiryMonth:   c.ExpiryMonth,
				CardType:      c.CardType,
				IssuerCountry: c.IssuerCountry,
			}
		}
		rp.Instrument = inst
	}
	if w.AuthorizationDetail != nil {
		rp.Authorization = w.AuthorizationDetail.toSnapshot()
	}
	if w.CancellationDetails != nil {
		rp.CancellationReason = w.CancellationDetails.Reason
	}
	return rp, nil
}

func (w *wireAuthorization) toSnapshot() *model.AuthorizationSnapshot {
	auth := &model.AuthorizationSnapshot{RRN: w.RRN, AuthCode: w.AuthCode}
	if w.ThreeDSecure != nil {
		auth.ThreeDSecure = &model.ThreeDSecureSnapshot{
			Applied:            w.ThreeDSecure.Applied,
			MethodCompleted:    w.ThreeDSecure.MethodCompleted,
			ChallengeCompleted: w.ThreeDSecure.ChallengeCompleted,
		}
	}
	return auth
}
