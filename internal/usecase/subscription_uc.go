// File: internal/usecase/subscription_uc.go
package usecase

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"kassa-billing/internal/domain/model"
	"kassa-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

type SubscriptionUseCase interface {
	// Unsubscribe cancels autopay for a (user, plan) pair. Already-paid
	// time is not refunded; the subscription simply stops renewing.
	Unsubscribe(ctx context.Context, userID, plan string) (*model.Subscription, error)
	Find(ctx context.Context, userID, plan string) (*model.Subscription, error)
}

type subscriptionUC struct {
	tm   repository.TransactionManager
	subs repository.SubscriptionRepository
	log  *zerolog.Logger
}

func NewSubscriptionUseCase(tm repository.TransactionManager, subs repository.SubscriptionRepository, log *zerolog.Logger) *subscriptionUC {
	return &subscriptionUC{tm: tm, subs: subs, log: log}
}

func (u *subscriptionUC) Unsubscribe(ctx context.Context, userID, plan string) (*model.Subscription, error) {
	p, err := model.ParsePlan(plan)
	if err != nil {
		return nil, err
	}
	var sub *model.Subscription
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		s, err := u.subs.FindByUserAndPlan(ctx, tx, userID, p)
		if err != nil {
			return err
		}
		if s.Status == model.SubscriptionStatusCanceled {
			sub = s
			return nil
		}
		s.Status = model.SubscriptionStatusCanceled
		s.NextChargeAt = nil
		s.UpdatedAt = time.Now().UTC()
		if err := u.subs.Save(ctx, tx, s); err != nil {
			return err
		}
		sub = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.log.Info().Str("user_id", userID).Str("plan", plan).Msg("subscription canceled")
	return sub, nil
}

func (u *subscriptionUC) Find(ctx context.Context, userID, plan string) (*model.Subscription, error) {
	p, err := model.ParsePlan(plan)
	if err != nil {
		return nil, err
	}
	return u.subs.FindByUserAndPlan(ctx, repository.NoTX, userID, p)
}
