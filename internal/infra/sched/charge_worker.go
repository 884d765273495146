// File: internal/infra/sched/charge_worker.go
package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"kassa-billing/internal/infra/worker"
	"kassa-billing/internal/usecase"
)

// ChargeWorker periodically picks up due subscriptions and fans the
// charges out over the worker pool. Per-subscription locks in the use case
// keep concurrent workers from double-charging.
type ChargeWorker struct {
	uc       usecase.RecurringChargeUseCase
	pool     *worker.Pool
	interval time.Duration
	limit    int
	log      *zerolog.Logger
}

func NewChargeWorker(uc usecase.RecurringChargeUseCase, pool *worker.Pool, interval time.Duration, limit int, log *zerolog.Logger) *ChargeWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	if limit <= 0 {
		limit = 100
	}
	return &ChargeWorker{uc: uc, pool: pool, interval: interval, limit: limit, log: log}
}

func (w *ChargeWorker) Start(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *ChargeWorker) tick(ctx context.Context) {
	now := time.Now().UTC()
	due, err := w.uc.DueSubscriptions(ctx, now, w.limit)
	if err != nil {
		w.log.Error().Err(err).Msg("charge-worker: list due failed")
		return
	}
	if len(due) == 0 {
		return
	}
	w.log.Info().Int("due", len(due)).Msg("charge-worker: batch start")
	for _, sub := range due {
		sub := sub
		err := w.pool.Submit(func(ctx context.Context) error {
			result, err := w.uc.Charge(ctx, sub, now)
			w.log.Debug().Str("subscription_id", sub.ID).Str("result", result).Msg("charge-worker: charge done")
			return err
		})
		if err != nil {
			// queue full: the subscription stays due and the next tick
			// picks it up again
			w.log.Warn().Str("subscription_id", sub.ID).Msg("charge-worker: submit skipped")
		}
	}
}
