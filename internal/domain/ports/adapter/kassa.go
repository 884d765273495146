package adapter

import (
	"context"

	"github.com/shopspring/decimal"

	"kassa-billing/internal/domain/model"
)

// RemoteAmount is a provider money value.
type RemoteAmount struct {
	Value    decimal.Decimal
	Currency string
}

// RemotePayment is the narrow snapshot of a provider payment this system
// consumes. The core never touches raw provider SDK shapes; this is the
// single translation point.
type RemotePayment struct {
	ID                 string
	Status             model.ProviderStatus
	Paid               bool
	Amount             RemoteAmount
	IncomeAmount       *RemoteAmount // net of provider fees; only on captured payments
	ConfirmationURL    string        // redirect for first payments, empty for recurring
	Instrument         *model.InstrumentSnapshot
	Authorization      *model.AuthorizationSnapshot
	Metadata           map[string]string
	CancellationReason string
}

// RemoteRefund is the snapshot of a provider refund.
type RemoteRefund struct {
	ID            string
	PaymentID     string
	Status        string
	Amount        RemoteAmount
	Description   string
	Authorization *model.AuthorizationSnapshot
}

// CreatePaymentRequest is the outgoing charge request body.
// For first payments Confirmation is a redirect and Capture is false; for
// recurring charges InstrumentID is set, Confirmation is dropped and
// Capture is true so the provider finalizes on its own.
type CreatePaymentRequest struct {
	Amount         RemoteAmount
	Description    string
	Metadata       map[string]string
	ReturnURL      string
	InstrumentID   string
	SaveInstrument bool
	Capture        bool
}

// KassaGateway is the hex port for the payment provider. All calls carry a
// bounded timeout through ctx plus the adapter's own client timeout, and
// surface domain.ErrGatewayUnavailable on transport failure.
type KassaGateway interface {
	Name() string

	// CreatePayment registers a payment; idemKey makes retries safe.
	CreatePayment(ctx context.Context, req CreatePaymentRequest, idemKey string) (*RemotePayment, error)
	// FindPayment fetches the current remote state of a payment.
	FindPayment(ctx context.Context, providerPaymentID string) (*RemotePayment, error)
	// CapturePayment finalizes a payment held in waiting_for_capture.
	CapturePayment(ctx context.Context, providerPaymentID string, amount RemoteAmount, idemKey string) (*RemotePayment, error)
	// CreateRefund refunds (part of) a captured payment.
	CreateRefund(ctx context.Context, providerPaymentID string, amount RemoteAmount, description string) (*RemoteRefund, error)
}
