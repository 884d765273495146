// Package pricing computes base prices and discounted charge amounts.
// All rounding is half-up: the discount keeps two fraction digits, the
// final amount is rounded to whole currency units.
package pricing

import (
	"github.com/shopspring/decimal"

	"kassa-billing/internal/domain"
	"kassa-billing/internal/domain/model"
)

// Currency is the single supported currency. Cross-validation of inbound
// provider events fails closed on anything else.
const Currency = "RUB"

var basePrices = map[model.Plan]decimal.Decimal{
	model.PlanMonthly: decimal.NewFromInt(300),
	model.PlanYearly:  decimal.NewFromInt(2500),
	model.PlanForever: decimal.NewFromInt(5000),
}

var hundred = decimal.NewFromInt(100)

// BasePrice returns the fixed base price for a plan.
func BasePrice(plan model.Plan) (decimal.Decimal, error) {
	p, ok := basePrices[plan]
	if !ok {
		return decimal.Zero, domain.ErrUnknownPlan
	}
	return p, nil
}

// ComputeFinalAmount applies a percentage discount to a base price.
// The discount amount keeps kopecks (2dp, half-up); the final amount is a
// whole non-negative integer (half-up). Callers must reject pct > 100.
func ComputeFinalAmount(base, pct decimal.Decimal) (finalAmount int64, discountAmount decimal.Decimal) {
	// decimal.Round is half away from zero, i.e. half-up for the
	// non-negative amounts handled here.
	discountAmount = base.Mul(pct).Div(hundred).Round(2)
	final := base.Sub(discountAmount).Round(0)
	if final.IsNegative() {
		final = decimal.Zero
	}
	return final.IntPart(), discountAmount
}
