package model

import (
	"time"

	"github.com/shopspring/decimal"

	"kassa-billing/internal/domain"
)

// Plan classifies what the user is paying for.
type Plan string

const (
	PlanMonthly Plan = "monthly"
	PlanYearly  Plan = "yearly"
	PlanForever Plan = "forever" // one-time lifetime purchase, never billed again
)

// Recurring reports whether the plan is billed on a schedule.
func (p Plan) Recurring() bool { return p == PlanMonthly || p == PlanYearly }

// ParsePlan validates a raw plan string.
func ParsePlan(s string) (Plan, error) {
	switch Plan(s) {
	case PlanMonthly, PlanYearly, PlanForever:
		return Plan(s), nil
	}
	return "", domain.ErrUnknownPlan
}

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusPaused   SubscriptionStatus = "paused"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due" // billing halted after repeated failures
)

// maxChargeFailures is the consecutive-failure threshold that halts billing.
const maxChargeFailures = 3

// Subscription owns the recurring-billing state for one (user, plan) pair.
// NextChargeAt is nil whenever the subscription is not active or carries no
// saved payment instrument.
type Subscription struct {
	ID              string // UUID
	UserID          string // UUID
	Plan            Plan
	Status          SubscriptionStatus
	Amount          decimal.Decimal
	Currency        string
	InstrumentID    *string // saved payment method at the provider; nil = no autopay
	LastPaymentID   *string // provider id of the last successful charge
	NextChargeAt    *time.Time
	FailsCount      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ScheduleNext sets the next charge time as a fixed-duration offset from now.
// Deliberately not calendar-aware: monthly is always 30 days, yearly 365.
func (s *Subscription) ScheduleNext(now time.Time) {
	var next time.Time
	if s.Plan == PlanMonthly {
		next = now.Add(30 * 24 * time.Hour)
	} else {
		next = now.Add(365 * 24 * time.Hour)
	}
	s.NextChargeAt = &next
}

// IsDue reports whether the subscription is eligible for an automatic charge.
func (s *Subscription) IsDue(now time.Time) bool {
	return s.Status == SubscriptionStatusActive &&
		s.InstrumentID != nil && *s.InstrumentID != "" &&
		s.NextChargeAt != nil && !s.NextChargeAt.After(now)
}

// RecordFailure bumps the consecutive-failure counter and halts billing
// once the threshold is reached.
func (s *Subscription) RecordFailure() {
	s.FailsCount++
	if s.FailsCount >= maxChargeFailures {
		s.Status = SubscriptionStatusPastDue
	}
}

// RecordSuccess resets the failure counter, remembers the provider payment
// id and advances the schedule.
func (s *Subscription) RecordSuccess(providerPaymentID string, now time.Time) {
	s.FailsCount = 0
	s.LastPaymentID = &providerPaymentID
	s.Status = SubscriptionStatusActive
	s.ScheduleNext(now)
}

// NewSubscription creates an active subscription with autopay enabled.
func NewSubscription(id, userID string, plan Plan, amount decimal.Decimal, currency, instrumentID, lastPaymentID string) (*Subscription, error) {
	if id == "" || userID == "" || instrumentID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if !plan.Recurring() {
		return nil, domain.ErrUnknownPlan
	}
	now := time.Now()
	s := &Subscription{
		ID:            id,
		UserID:        userID,
		Plan:          plan,
		Status:        SubscriptionStatusActive,
		Amount:        amount,
		Currency:      currency,
		InstrumentID:  &instrumentID,
		LastPaymentID: &lastPaymentID,
		FailsCount:    0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.ScheduleNext(now)
	return s, nil
}
