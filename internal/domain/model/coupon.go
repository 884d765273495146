package model

import (
	"time"

	"github.com/shopspring/decimal"

	"kassa-billing/internal/domain"
)

// Coupon is a percentage discount with a validity window and an optional
// plan restriction.
type Coupon struct {
	Code      string
	Discount  decimal.Decimal // percentage, e.g. 33.33
	ValidFrom time.Time
	ValidTo   time.Time
	Active    bool
	Plan      *Plan // nil means valid for every plan
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate returns the discount percentage if the coupon is usable for the
// given plan at the given time.
func (c *Coupon) Validate(plan Plan, now time.Time) (decimal.Decimal, error) {
	if !c.Active {
		return decimal.Zero, domain.ErrCouponNotFound
	}
	if c.Plan != nil && *c.Plan != plan {
		return decimal.Zero, domain.ErrCouponInactive
	}
	if now.Before(c.ValidFrom) || now.After(c.ValidTo) {
		return decimal.Zero, domain.ErrCouponExpired
	}
	return c.Discount, nil
}
