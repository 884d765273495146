// File: internal/infra/adapters/kassa/noop_kassa.go
package kassa

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"kassa-billing/internal/domain"
	"kassa-billing/internal/domain/model"
	"kassa-billing/internal/domain/ports/adapter"
)

var _ adapter.KassaGateway = (*NoOpGateway)(nil)

// NoOpGateway is an in-memory provider for local mode and tests. Payments
// start in pending; SettlePayment moves them to a terminal status the way a
// webhook delivery would.
type NoOpGateway struct {
	mu       sync.Mutex
	payments map[string]*adapter.RemotePayment
	byIdem   map[string]string // idempotency key -> payment id
	refunds  map[string]*adapter.RemoteRefund
}

func NewNoOpGateway() *NoOpGateway {
	return &NoOpGateway{
		payments: make(map[string]*adapter.RemotePayment),
		byIdem:   make(map[string]string),
		refunds:  make(map[string]*adapter.RemoteRefund),
	}
}

func (g *NoOpGateway) Name() string { return "noop" }

func (g *NoOpGateway) CreatePayment(_ context.Context, req adapter.CreatePaymentRequest, idemKey string) (*adapter.RemotePayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if idemKey != "" {
		if id, ok := g.byIdem[idemKey]; ok {
			return clonePayment(g.payments[id]), nil
		}
	}
	p := &adapter.RemotePayment{
		ID:              uuid.NewString(),
		Status:          "pending",
		Amount:          req.Amount,
		Metadata:        cloneMeta(req.Metadata),
		ConfirmationURL: "https://example.invalid/confirm",
	}
	if req.InstrumentID != "" {
		// saved-instrument charge settles immediately
		p.Status = model.ProviderStatusSucceeded
		p.Paid = true
		p.ConfirmationURL = ""
		income := adapter.RemoteAmount{Value: req.Amount.Value.Mul(decimal.NewFromFloat(0.965)).Round(2), Currency: req.Amount.Currency}
		p.IncomeAmount = &income
		p.Instrument = &model.InstrumentSnapshot{Type: "bank_card", ID: req.InstrumentID, Saved: true}
	}
	g.payments[p.ID] = p
	if idemKey != "" {
		g.byIdem[idemKey] = p.ID
	}
	return clonePayment(p), nil
}

func (g *NoOpGateway) FindPayment(_ context.Context, providerPaymentID string) (*adapter.RemotePayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[providerPaymentID]
	if !ok {
		return nil, fmt.Errorf("noop payment %s: %w", providerPaymentID, domain.ErrNotFound)
	}
	return clonePayment(p), nil
}

func (g *NoOpGateway) CapturePayment(_ context.Context, providerPaymentID string, amount adapter.RemoteAmount, _ string) (*adapter.RemotePayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[providerPaymentID]
	if !ok {
		return nil, fmt.Errorf("noop payment %s: %w", providerPaymentID, domain.ErrNotFound)
	}
	if p.Status != model.ProviderStatusWaitingForCapture {
		return nil, fmt.Errorf("noop capture in status %s: %w", p.Status, domain.ErrOperationFailed)
	}
	p.Status = model.ProviderStatusSucceeded
	p.Paid = true
	p.Amount = amount
	income := adapter.RemoteAmount{Value: amount.Value.Mul(decimal.NewFromFloat(0.965)).Round(2), Currency: amount.Currency}
	p.IncomeAmount = &income
	return clonePayment(p), nil
}

func (g *NoOpGateway) CreateRefund(_ context.Context, providerPaymentID string, amount adapter.RemoteAmount, description string) (*adapter.RemoteRefund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[providerPaymentID]
	if !ok {
		return nil, fmt.Errorf("noop payment %s: %w", providerPaymentID, domain.ErrNotFound)
	}
	if p.Status != model.ProviderStatusSucceeded {
		return nil, fmt.Errorf("noop refund in status %s: %w", p.Status, domain.ErrOperationFailed)
	}
	r := &adapter.RemoteRefund{
		ID:          uuid.NewString(),
		PaymentID:   providerPaymentID,
		Status:      "succeeded",
		Amount:      amount,
		Description: description,
	}
	g.refunds[r.ID] = r
	p.Status = model.ProviderStatusRefundSucceeded
	return r, nil
}

// SettlePayment moves a pending payment to a terminal status, standing in for
// the provider's own settlement.
func (g *NoOpGateway) SettlePayment(providerPaymentID string, status model.ProviderStatus, saveInstrument bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[providerPaymentID]
	if !ok {
		return fmt.Errorf("noop payment %s: %w", providerPaymentID, domain.ErrNotFound)
	}
	p.Status = status
	if status == model.ProviderStatusSucceeded {
		p.Paid = true
		income := adapter.RemoteAmount{Value: p.Amount.Value.Mul(decimal.NewFromFloat(0.965)).Round(2), Currency: p.Amount.Currency}
		p.IncomeAmount = &income
		p.Instrument = &model.InstrumentSnapshot{Type: "bank_card", ID: uuid.NewString(), Saved: saveInstrument}
	}
	return nil
}

func clonePayment(p *adapter.RemotePayment) *adapter.RemotePayment {
	cp := *p
	cp.Metadata = cloneMeta(p.Metadata)
	return &cp
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
