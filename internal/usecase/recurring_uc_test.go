//go:build !integration

package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"kassa-billing/internal/domain/model"
	"kassa-billing/internal/domain/ports/adapter"
	"kassa-billing/internal/usecase"
)

type recurringDeps struct {
	tm       *MockTxManager
	payments *MockPaymentRepo
	subs     *MockSubscriptionRepo
	events   *MockEventLogRepo
	gateway  *MockGateway
	locker   *MockLocker
	uc       usecase.RecurringChargeUseCase
}

func newRecurringDeps() *recurringDeps {
	d := &recurringDeps{
		tm:       &MockTxManager{},
		payments: NewMockPaymentRepo(),
		subs:     NewMockSubscriptionRepo(),
		events:   NewMockEventLogRepo(),
		gateway:  &MockGateway{},
		locker:   NewMockLocker(),
	}
	webhookUC := usecase.NewWebhookUseCase(d.tm, d.payments, d.subs, d.events, d.gateway, newTestLogger())
	d.uc = usecase.NewRecurringChargeUseCase(d.tm, d.subs, d.payments, d.gateway, webhookUC, d.locker, newTestLogger())
	return d
}

// dueSubscription creates an active subscription whose charge is overdue.
func (d *recurringDeps) dueSubscription(t *testing.T, id string, due time.Time) *model.Subscription {
	t.Helper()
	sub, err := model.NewSubscription(id, uuid.NewString(), model.PlanMonthly, decimal.NewFromInt(300), "RUB", "pm-1", "pay-0")
	if err != nil {
		t.Fatalf("new subscription: %v", err)
	}
	sub.NextChargeAt = &due
	if err := d.subs.Save(context.Background(), nil, sub); err != nil {
		t.Fatalf("save subscription: %v", err)
	}
	return sub
}

// syncGateway makes CreatePayment settle immediately with a saved
// instrument, like a real saved-card charge.
func syncGateway(d *recurringDeps) {
	d.gateway.CreatePaymentFunc = func(_ context.Context, req adapter.CreatePaymentRequest, _ string) (*adapter.RemotePayment, error) {
		income := adapter.RemoteAmount{Value: req.Amount.Value.Mul(decimal.RequireFromString("0.97")).Round(2), Currency: req.Amount.Currency}
		return &adapter.RemotePayment{
			ID:           uuid.NewString(),
			Status:       model.ProviderStatusSucceeded,
			Paid:         true,
			Amount:       req.Amount,
			IncomeAmount: &income,
			Instrument:   &model.InstrumentSnapshot{Type: "bank_card", ID: req.InstrumentID, Saved: true},
			Metadata:     req.Metadata,
		}, nil
	}
}

func TestRecurringChargeUseCase_Charge(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("should settle a synchronous charge and advance the schedule", func(t *testing.T) {
		// Arrange
		d := newRecurringDeps()
		due := now.Add(-time.Hour)
		sub := d.dueSubscription(t, "sub-1", due)
		syncGateway(d)

		// Act
		result, err := d.uc.Charge(ctx, sub, now)

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != usecase.ChargeSynced {
			t.Fatalf("expected synced, got %s", result)
		}
		got, _ := d.subs.FindByID(ctx, nil, "sub-1")
		if got.NextChargeAt == nil || !got.NextChargeAt.After(now) {
			t.Fatal("schedule not advanced")
		}
		if got.FailsCount != 0 {
			t.Fatalf("fails count must reset, got %d", got.FailsCount)
		}
	})

	t.Run("should advance the schedule even when the sync response has no instrument", func(t *testing.T) {
		// Arrange: provider settles synchronously but omits payment_method
		d := newRecurringDeps()
		due := now.Add(-time.Hour)
		sub := d.dueSubscription(t, "sub-1", due)
		sub.FailsCount = 2
		if err := d.subs.Save(ctx, nil, sub); err != nil {
			t.Fatalf("save subscription: %v", err)
		}
		d.gateway.CreatePaymentFunc = func(_ context.Context, req adapter.CreatePaymentRequest, _ string) (*adapter.RemotePayment, error) {
			return &adapter.RemotePayment{
				ID:       uuid.NewString(),
				Status:   model.ProviderStatusSucceeded,
				Paid:     true,
				Amount:   req.Amount,
				Metadata: req.Metadata,
			}, nil
		}

		// Act
		result, err := d.uc.Charge(ctx, sub, now)

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != usecase.ChargeSynced {
			t.Fatalf("expected synced, got %s", result)
		}
		got, _ := d.subs.FindByID(ctx, nil, "sub-1")
		if got.NextChargeAt == nil || !got.NextChargeAt.After(now) {
			t.Fatal("schedule not advanced after synchronous success")
		}
		if got.FailsCount != 0 {
			t.Fatalf("fails count must reset, got %d", got.FailsCount)
		}
		if got.LastPaymentID == nil || *got.LastPaymentID == "" {
			t.Fatal("last payment id not recorded")
		}
	})

	t.Run("should derive the same idempotency key for the same due period", func(t *testing.T) {
		// Arrange
		d := newRecurringDeps()
		due := now.Add(-time.Hour)
		sub := d.dueSubscription(t, "sub-1", due)

		// Act: two runs without the schedule advancing (payment stays pending)
		if _, err := d.uc.Charge(ctx, sub, now); err != nil {
			t.Fatalf("first charge: %v", err)
		}
		if _, err := d.uc.Charge(ctx, sub, now); err != nil {
			t.Fatalf("second charge: %v", err)
		}

		// Assert
		if len(d.gateway.IdemKeys) != 2 {
			t.Fatalf("expected 2 create calls, got %d", len(d.gateway.IdemKeys))
		}
		if d.gateway.IdemKeys[0] != d.gateway.IdemKeys[1] {
			t.Fatalf("idempotency keys differ: %q vs %q", d.gateway.IdemKeys[0], d.gateway.IdemKeys[1])
		}
		for _, rec := range d.payments.All() {
			if rec.ProviderStatus != model.ProviderStatusWaitingForCapture {
				t.Fatalf("initial provider status = %q, want %q", rec.ProviderStatus, model.ProviderStatusWaitingForCapture)
			}
		}
	})

	t.Run("should derive a new key once the schedule advances", func(t *testing.T) {
		d := newRecurringDeps()
		sub := d.dueSubscription(t, "sub-1", now.Add(-time.Hour))
		if _, err := d.uc.Charge(ctx, sub, now); err != nil {
			t.Fatal(err)
		}
		next := now.Add(30 * 24 * time.Hour)
		sub.NextChargeAt = &next
		if _, err := d.uc.Charge(ctx, sub, next); err != nil {
			t.Fatal(err)
		}
		if d.gateway.IdemKeys[0] == d.gateway.IdemKeys[1] {
			t.Fatal("a new due period must produce a new idempotency key")
		}
	})

	t.Run("should skip a subscription another worker holds", func(t *testing.T) {
		// Arrange
		d := newRecurringDeps()
		sub := d.dueSubscription(t, "sub-1", now.Add(-time.Hour))
		d.locker.Hold("charge:sub:sub-1")

		// Act
		result, err := d.uc.Charge(ctx, sub, now)

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != usecase.ChargeSkippedLocked {
			t.Fatalf("expected skipped_locked, got %s", result)
		}
		if len(d.gateway.CreateCalls) != 0 {
			t.Fatal("locked subscription must not be charged")
		}
	})

	t.Run("should count a failure when the instrument is gone", func(t *testing.T) {
		// Arrange
		d := newRecurringDeps()
		sub := d.dueSubscription(t, "sub-1", now.Add(-time.Hour))
		sub.InstrumentID = nil

		// Act
		result, err := d.uc.Charge(ctx, sub, now)

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != usecase.ChargeSkippedNoMethod {
			t.Fatalf("expected skipped_no_instrument, got %s", result)
		}
		got, _ := d.subs.FindByID(ctx, nil, "sub-1")
		if got.FailsCount != 1 {
			t.Fatalf("expected fails_count=1, got %d", got.FailsCount)
		}
	})

	t.Run("should halt billing after three consecutive failures", func(t *testing.T) {
		// Arrange
		d := newRecurringDeps()
		sub := d.dueSubscription(t, "sub-1", now.Add(-time.Hour))
		sub.InstrumentID = nil

		// Act
		for i := 0; i < 3; i++ {
			if _, err := d.uc.Charge(ctx, sub, now); err != nil {
				t.Fatalf("charge %d: %v", i, err)
			}
		}

		// Assert
		got, _ := d.subs.FindByID(ctx, nil, "sub-1")
		if got.Status != model.SubscriptionStatusPastDue {
			t.Fatalf("expected past_due, got %s", got.Status)
		}
		if got.FailsCount != 3 {
			t.Fatalf("expected fails_count=3, got %d", got.FailsCount)
		}
		due, _ := d.uc.DueSubscriptions(ctx, now, 10)
		if len(due) != 0 {
			t.Fatalf("past_due subscription must not be listed as due, got %d", len(due))
		}
	})

	t.Run("should drop the pending record when the provider rejects the create", func(t *testing.T) {
		// Arrange
		d := newRecurringDeps()
		sub := d.dueSubscription(t, "sub-1", now.Add(-time.Hour))
		d.gateway.CreatePaymentFunc = func(context.Context, adapter.CreatePaymentRequest, string) (*adapter.RemotePayment, error) {
			return nil, context.DeadlineExceeded
		}

		// Act
		result, err := d.uc.Charge(ctx, sub, now)

		// Assert
		if err == nil {
			t.Fatal("expected the gateway error to surface")
		}
		if result != usecase.ChargeFailed {
			t.Fatalf("expected failed, got %s", result)
		}
		if len(d.payments.Deleted) != 1 {
			t.Fatal("orphan pending record not deleted")
		}
		got, _ := d.subs.FindByID(ctx, nil, "sub-1")
		if got.FailsCount != 1 {
			t.Fatalf("expected fails_count=1, got %d", got.FailsCount)
		}
	})
}

func TestRecurringChargeUseCase_ChargeDue(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("should keep the batch going when one charge fails", func(t *testing.T) {
		// Arrange
		d := newRecurringDeps()
		d.dueSubscription(t, "sub-bad", now.Add(-2*time.Hour))
		d.dueSubscription(t, "sub-good", now.Add(-time.Hour))
		calls := 0
		d.gateway.CreatePaymentFunc = func(_ context.Context, req adapter.CreatePaymentRequest, _ string) (*adapter.RemotePayment, error) {
			calls++
			if req.Metadata["subscription_id"] == "sub-bad" {
				return nil, context.DeadlineExceeded
			}
			return &adapter.RemotePayment{
				ID:     uuid.NewString(),
				Status: "pending",
				Amount: req.Amount,
			}, nil
		}

		// Act
		report, err := d.uc.ChargeDue(ctx, now, 10)

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if report.Due != 2 || calls != 2 {
			t.Fatalf("expected both subscriptions attempted, due=%d calls=%d", report.Due, calls)
		}
		if report.Results[usecase.ChargeFailed] != 1 || report.Results[usecase.ChargeCreated] != 1 {
			t.Fatalf("unexpected results: %v", report.Results)
		}
	})
}
