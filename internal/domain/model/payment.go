package model

import (
	"time"

	"github.com/shopspring/decimal"

	"kassa-billing/internal/domain"
)

// LocalStatus is our own lifecycle view of a payment record.
type LocalStatus string

const (
	LocalStatusPending      LocalStatus = "pending"       // created locally; outcome unknown
	LocalStatusCompleted    LocalStatus = "completed"     // provider reported succeeded
	LocalStatusFailed       LocalStatus = "failed"        // provider canceled the payment
	LocalStatusRefund       LocalStatus = "refund"        // refund confirmed by provider
	LocalStatusRefundFailed LocalStatus = "refund_failed" // refund attempt rejected
)

// ProviderStatus mirrors the payment state as reported by the provider.
type ProviderStatus string

const (
	ProviderStatusWaitingForCapture ProviderStatus = "waiting_for_capture"
	ProviderStatusSucceeded         ProviderStatus = "succeeded"
	ProviderStatusFailed            ProviderStatus = "failed"
	ProviderStatusCanceled          ProviderStatus = "canceled"
	ProviderStatusRefundSucceeded   ProviderStatus = "refund_succeeded"
)

// Terminal reports whether no further provider transitions are expected.
func (s ProviderStatus) Terminal() bool {
	switch s {
	case ProviderStatusSucceeded, ProviderStatusCanceled, ProviderStatusRefundSucceeded:
		return true
	}
	return false
}

// CardSnapshot is the masked card data the provider attaches to a payment.
type CardSnapshot struct {
	First6        string `json:"first6,omitempty"`
	Last4         string `json:"last4,omitempty"`
	ExpiryYear    string `json:"expiry_year,omitempty"`
	ExpiryMonth   string `json:"expiry_month,omitempty"`
	CardType      string `json:"card_type,omitempty"`
	IssuerCountry string `json:"issuer_country,omitempty"`
}

// InstrumentSnapshot records the payment method used for a payment,
// copied verbatim from provider responses.
type InstrumentSnapshot struct {
	Type  string        `json:"type"`
	ID    string        `json:"id"`
	Saved bool          `json:"saved"`
	Title string        `json:"title,omitempty"`
	Card  *CardSnapshot `json:"card,omitempty"`
}

// ThreeDSecureSnapshot holds 3-D Secure details of an authorization.
type ThreeDSecureSnapshot struct {
	Applied            bool `json:"applied"`
	MethodCompleted    bool `json:"method_completed"`
	ChallengeCompleted bool `json:"challenge_completed"`
}

// AuthorizationSnapshot records provider authorization details.
type AuthorizationSnapshot struct {
	RRN          string                `json:"rrn,omitempty"`
	AuthCode     string                `json:"auth_code,omitempty"`
	ThreeDSecure *ThreeDSecureSnapshot `json:"three_d_secure,omitempty"`
}

// PaymentRecord is the authoritative local record of a payment attempt.
// ProviderPaymentID is set at most once, when the remote payment is created,
// and never changes afterwards. IncomeAmount is only ever copied from a
// provider-confirmed response.
type PaymentRecord struct {
	ID                string // UUID
	UserID            string // UUID of the owner
	ProviderPaymentID *string
	Amount            decimal.Decimal // final charge amount, 2 fraction digits
	Currency          string          // fixed: "RUB"
	Plan              Plan
	CouponCode        string
	Discount          decimal.Decimal // discount amount applied at checkout
	Status            LocalStatus
	ProviderStatus    ProviderStatus
	IncomeAmount      *decimal.Decimal // net amount after provider fees
	Instrument        *InstrumentSnapshot
	Authorization     *AuthorizationSnapshot
	CardExpiresAt     *time.Time
	CaptureIdemKey    *string // stable key reused for all capture retries
	Note              string  // free-text annotation (cancel reason, refund info ...)
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AttachProviderID sets the provider payment id exactly once.
// A second attach with a different id is a programming error.
func (p *PaymentRecord) AttachProviderID(providerID string) error {
	if p.ProviderPaymentID != nil && *p.ProviderPaymentID != providerID {
		return domain.ErrProviderIDMismatch
	}
	p.ProviderPaymentID = &providerID
	return nil
}

// CaptureKey returns the stable capture idempotency key for the record,
// deriving it from the provider payment id on first use.
func (p *PaymentRecord) CaptureKey() string {
	if p.CaptureIdemKey != nil && *p.CaptureIdemKey != "" {
		return *p.CaptureIdemKey
	}
	if p.ProviderPaymentID == nil {
		return ""
	}
	key := "capture:" + *p.ProviderPaymentID
	p.CaptureIdemKey = &key
	return key
}
