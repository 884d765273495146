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

func TestCoupon_Validate(t *testing.T) {
	now := time.Now()
	base := model.Coupon{
		Code:      "SAVE10",
		Discount:  decimal.NewFromInt(10),
		ValidFrom: now.Add(-time.Hour),
		ValidTo:   now.Add(time.Hour),
		Active:    true,
	}

	t.Run("valid coupon returns its percentage", func(t *testing.T) {
		c := base
		pct, err := c.Validate(model.PlanMonthly, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !pct.Equal(decimal.NewFromInt(10)) {
			t.Fatalf("expected 10, got %s", pct)
		}
	})

	t.Run("inactive coupon looks like a missing one", func(t *testing.T) {
		c := base
		c.Active = false
		if _, err := c.Validate(model.PlanMonthly, now); !errors.Is(err, domain.ErrCouponNotFound) {
			t.Fatalf("expected ErrCouponNotFound, got %v", err)
		}
	})

	t.Run("plan restriction applies", func(t *testing.T) {
		c := base
		yearly := model.PlanYearly
		c.Plan = &yearly
		if _, err := c.Validate(model.PlanMonthly, now); !errors.Is(err, domain.ErrCouponInactive) {
			t.Fatalf("expected ErrCouponInactive, got %v", err)
		}
		if _, err := c.Validate(model.PlanYearly, now); err != nil {
			t.Fatalf("restricted plan itself must pass: %v", err)
		}
	})

	t.Run("window is enforced on both ends", func(t *testing.T) {
		c := base
		if _, err := c.Validate(model.PlanMonthly, now.Add(-2*time.Hour)); !errors.Is(err, domain.ErrCouponExpired) {
			t.Fatalf("before window: expected ErrCouponExpired, got %v", err)
		}
		if _, err := c.Validate(model.PlanMonthly, now.Add(2*time.Hour)); !errors.Is(err, domain.ErrCouponExpired) {
			t.Fatalf("after window: expected ErrCouponExpired, got %v", err)
		}
	})
}
