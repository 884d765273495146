//go:build !integration

package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kassa-billing/internal/domain"
	"kassa-billing/internal/domain/model"
)

func activeSub(t *testing.T, plan model.Plan) *model.Subscription {
	t.Helper()
	s, err := model.NewSubscription("sub-1", "user-1", plan, decimal.NewFromInt(300), "RUB", "pm-1", "pay-1")
	if err != nil {
		t.Fatalf("new subscription: %v", err)
	}
	return s
}

func TestSubscription_ScheduleNext(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	t.Run("monthly advances 30 days", func(t *testing.T) {
		s := activeSub(t, model.PlanMonthly)
		s.ScheduleNext(now)
		want := now.Add(30 * 24 * time.Hour)
		if !s.NextChargeAt.Equal(want) {
			t.Fatalf("expected %s, got %s", want, s.NextChargeAt)
		}
	})

	t.Run("yearly advances 365 days", func(t *testing.T) {
		s := activeSub(t, model.PlanYearly)
		s.ScheduleNext(now)
		want := now.Add(365 * 24 * time.Hour)
		if !s.NextChargeAt.Equal(want) {
			t.Fatalf("expected %s, got %s", want, s.NextChargeAt)
		}
	})
}

func TestSubscription_IsDue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)

	t.Run("active with instrument and past charge time is due", func(t *testing.T) {
		s := activeSub(t, model.PlanMonthly)
		s.NextChargeAt = &past
		if !s.IsDue(now) {
			t.Fatal("expected due")
		}
	})

	t.Run("not due without an instrument", func(t *testing.T) {
		s := activeSub(t, model.PlanMonthly)
		s.NextChargeAt = &past
		s.InstrumentID = nil
		if s.IsDue(now) {
			t.Fatal("expected not due")
		}
	})

	t.Run("not due when canceled", func(t *testing.T) {
		s := activeSub(t, model.PlanMonthly)
		s.NextChargeAt = &past
		s.Status = model.SubscriptionStatusCanceled
		if s.IsDue(now) {
			t.Fatal("expected not due")
		}
	})

	t.Run("not due before the charge time", func(t *testing.T) {
		s := activeSub(t, model.PlanMonthly)
		if s.IsDue(now) {
			t.Fatal("freshly scheduled subscription must not be due")
		}
	})
}

func TestSubscription_FailureBudget(t *testing.T) {
	s := activeSub(t, model.PlanMonthly)

	s.RecordFailure()
	s.RecordFailure()
	if s.Status != model.SubscriptionStatusActive {
		t.Fatalf("two failures must not halt billing, got %s", s.Status)
	}
	s.RecordFailure()
	if s.Status != model.SubscriptionStatusPastDue {
		t.Fatalf("third failure must halt billing, got %s", s.Status)
	}

	// a later success restores the subscription
	s.RecordSuccess("pay-2", time.Now())
	if s.Status != model.SubscriptionStatusActive || s.FailsCount != 0 {
		t.Fatalf("success must reset the budget, got status=%s fails=%d", s.Status, s.FailsCount)
	}
	if s.LastPaymentID == nil || *s.LastPaymentID != "pay-2" {
		t.Fatalf("last payment id not recorded: %v", s.LastPaymentID)
	}
}

func TestNewSubscription_Validation(t *testing.T) {
	if _, err := model.NewSubscription("sub-1", "user-1", model.PlanForever, decimal.NewFromInt(5000), "RUB", "pm-1", "pay-1"); !errors.Is(err, domain.ErrUnknownPlan) {
		t.Fatalf("lifetime plan must not become a subscription, got %v", err)
	}
	if _, err := model.NewSubscription("sub-1", "user-1", model.PlanMonthly, decimal.NewFromInt(300), "RUB", "", "pay-1"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("missing instrument must be rejected, got %v", err)
	}
}

func TestParsePlan(t *testing.T) {
	for _, s := range []string{"monthly", "yearly", "forever"} {
		if _, err := model.ParsePlan(s); err != nil {
			t.Errorf("%s: unexpected error %v", s, err)
		}
	}
	if _, err := model.ParsePlan("weekly"); !errors.Is(err, domain.ErrUnknownPlan) {
		t.Errorf("expected ErrUnknownPlan, got %v", err)
	}
}
