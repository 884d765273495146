//go:build !integration

package web

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"kassa-billing/internal/domain"
	"kassa-billing/internal/domain/model"
	"kassa-billing/internal/domain/ports/adapter"
	"kassa-billing/internal/domain/ports/repository"
	"kassa-billing/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// ---- Mock use cases ----

type mockPaymentUC struct {
	CheckoutFunc       func(ctx context.Context, userID, plan, couponCode string) (*model.PaymentRecord, string, error)
	ValidateCouponFunc func(ctx context.Context, plan, couponCode string) (*usecase.Quote, error)
	ConfirmManualFunc  func(ctx context.Context, paymentID string) (*model.PaymentRecord, error)
	RefundFunc         func(ctx context.Context, paymentID, description string) (*model.PaymentRecord, error)
}

var _ usecase.PaymentUseCase = (*mockPaymentUC)(nil)

func (m *mockPaymentUC) Checkout(ctx context.Context, userID, plan, couponCode string) (*model.PaymentRecord, string, error) {
	if m.CheckoutFunc != nil {
		return m.CheckoutFunc(ctx, userID, plan, couponCode)
	}
	rec := &model.PaymentRecord{
		ID: "pay-1", UserID: userID, Amount: decimal.NewFromInt(300),
		Currency: "RUB", Plan: model.Plan(plan), Status: model.LocalStatusPending,
	}
	return rec, "https://pay.example/confirm", nil
}

func (m *mockPaymentUC) ValidateCoupon(ctx context.Context, plan, couponCode string) (*usecase.Quote, error) {
	if m.ValidateCouponFunc != nil {
		return m.ValidateCouponFunc(ctx, plan, couponCode)
	}
	return &usecase.Quote{
		Plan: model.Plan(plan), BasePrice: decimal.NewFromInt(300),
		Discount: decimal.Zero, FinalAmount: 300, Currency: "RUB",
	}, nil
}

func (m *mockPaymentUC) ConfirmManual(ctx context.Context, paymentID string) (*model.PaymentRecord, error) {
	if m.ConfirmManualFunc != nil {
		return m.ConfirmManualFunc(ctx, paymentID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockPaymentUC) Refund(ctx context.Context, paymentID, description string) (*model.PaymentRecord, error) {
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, paymentID, description)
	}
	return nil, domain.ErrNotFound
}

type mockWebhookUC struct {
	HandleFunc func(ctx context.Context, body []byte) (int, error)
	Bodies     [][]byte
}

var _ usecase.WebhookUseCase = (*mockWebhookUC)(nil)

func (m *mockWebhookUC) Handle(ctx context.Context, body []byte) (int, error) {
	m.Bodies = append(m.Bodies, body)
	if m.HandleFunc != nil {
		return m.HandleFunc(ctx, body)
	}
	return http.StatusOK, nil
}

func (m *mockWebhookUC) ApplyRemoteState(context.Context, *adapter.RemotePayment) (string, error) {
	return "noop", nil
}

type mockSubscriptionUC struct {
	UnsubscribeFunc func(ctx context.Context, userID, plan string) (*model.Subscription, error)
}

var _ usecase.SubscriptionUseCase = (*mockSubscriptionUC)(nil)

func (m *mockSubscriptionUC) Unsubscribe(ctx context.Context, userID, plan string) (*model.Subscription, error) {
	if m.UnsubscribeFunc != nil {
		return m.UnsubscribeFunc(ctx, userID, plan)
	}
	return &model.Subscription{ID: "sub-1", UserID: userID, Plan: model.Plan(plan), Status: model.SubscriptionStatusCanceled}, nil
}

func (m *mockSubscriptionUC) Find(ctx context.Context, userID, plan string) (*model.Subscription, error) {
	return nil, domain.ErrNotFound
}

type mockRecurringUC struct {
	ChargeDueFunc func(ctx context.Context, now time.Time, limit int) (*usecase.ChargeReport, error)
	Calls         int
}

var _ usecase.RecurringChargeUseCase = (*mockRecurringUC)(nil)

func (m *mockRecurringUC) DueSubscriptions(context.Context, time.Time, int) ([]*model.Subscription, error) {
	return nil, nil
}

func (m *mockRecurringUC) Charge(context.Context, *model.Subscription, time.Time) (string, error) {
	return usecase.ChargeCreated, nil
}

func (m *mockRecurringUC) ChargeDue(ctx context.Context, now time.Time, limit int) (*usecase.ChargeReport, error) {
	m.Calls++
	if m.ChargeDueFunc != nil {
		return m.ChargeDueFunc(ctx, now, limit)
	}
	return &usecase.ChargeReport{Due: 0, Results: map[string]int{}}, nil
}

// ---- Mock repositories (reads only) ----

type mockPaymentRepo struct {
	FindByIDFunc func(ctx context.Context, tx repository.Tx, id string) (*model.PaymentRecord, error)
}

var _ repository.PaymentRecordRepository = (*mockPaymentRepo)(nil)

func (m *mockPaymentRepo) Save(context.Context, repository.Tx, *model.PaymentRecord) error { return nil }
func (m *mockPaymentRepo) Delete(context.Context, repository.Tx, string) error             { return nil }

func (m *mockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentRecord, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockPaymentRepo) FindByProviderID(context.Context, repository.Tx, string) (*model.PaymentRecord, error) {
	return nil, domain.ErrNotFound
}
func (m *mockPaymentRepo) AttachProviderID(context.Context, repository.Tx, string, string) error {
	return nil
}
func (m *mockPaymentRepo) SetCaptureKey(context.Context, repository.Tx, string, string) error {
	return nil
}
func (m *mockPaymentRepo) RecentPendingExists(context.Context, repository.Tx, string, model.Plan, time.Time) (bool, error) {
	return false, nil
}
func (m *mockPaymentRepo) SucceededForeverExists(context.Context, repository.Tx, string) (bool, error) {
	return false, nil
}
func (m *mockPaymentRepo) ListStalePending(context.Context, repository.Tx, time.Time, int) ([]*model.PaymentRecord, error) {
	return nil, nil
}

type mockEventLogRepo struct{}

var _ repository.EventLogRepository = (*mockEventLogRepo)(nil)

func (m *mockEventLogRepo) Save(context.Context, repository.Tx, *model.EventLogEntry) error {
	return nil
}
func (m *mockEventLogRepo) MarkApplied(context.Context, repository.Tx, string) error { return nil }
func (m *mockEventLogRepo) SetNote(context.Context, repository.Tx, string, string) error {
	return nil
}
func (m *mockEventLogRepo) CountByEventID(context.Context, repository.Tx, string) (int, error) {
	return 2, nil
}

// newTestServer builds a server with mock dependencies and local-mode trust.
func newTestServer(t interface{ Fatalf(string, ...interface{}) }, localMode bool) (*Server, *mockWebhookUC, *mockRecurringUC) {
	trust, err := NewTrustChecker(providerCIDRs, localMode)
	if err != nil {
		t.Fatalf("trust checker: %v", err)
	}
	webhookUC := &mockWebhookUC{}
	recurringUC := &mockRecurringUC{}
	auth := NewAuthManager("test-secret", false, 30*time.Minute)
	srv := NewServer(
		&mockPaymentUC{}, webhookUC, &mockSubscriptionUC{}, recurringUC,
		&mockPaymentRepo{}, &mockEventLogRepo{},
		trust, auth, "admin-key", "cron-secret", newTestLogger(),
	)
	return srv, webhookUC, recurringUC
}
