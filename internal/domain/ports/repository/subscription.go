package repository

import (
	"context"
	"time"

	"kassa-billing/internal/domain/model"
)

type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	// FindByUserAndPlan returns the subscription for a (user, plan) pair
	// regardless of status; at most one exists per pair.
	FindByUserAndPlan(ctx context.Context, tx Tx, userID string, plan model.Plan) (*model.Subscription, error)
	// FindActiveByUserAndPlan returns an active, not-yet-due subscription
	// or domain.ErrNotFound.
	FindActiveByUserAndPlan(ctx context.Context, tx Tx, userID string, plan model.Plan) (*model.Subscription, error)
	// ListDue returns active subscriptions whose next charge time has
	// passed, oldest due first, bounded by limit.
	ListDue(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Subscription, error)
}
