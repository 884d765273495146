// File: internal/infra/sched/reconcile_worker.go
package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"kassa-billing/internal/domain/ports/adapter"
	"kassa-billing/internal/domain/ports/repository"
	"kassa-billing/internal/usecase"
)

// ReconcileWorker periodically scans for pending payments that stayed
// unresolved past the cutoff and re-fetches their remote state. This covers
// lost webhook deliveries and crashes mid-handling; the apply path is the
// same state machine the webhook uses, so a delivery arriving later is a
// harmless duplicate.
type ReconcileWorker struct {
	payments   repository.PaymentRecordRepository
	gateway    adapter.KassaGateway
	applier    usecase.WebhookUseCase
	interval   time.Duration
	staleAfter time.Duration
	log        *zerolog.Logger
}

func NewReconcileWorker(
	payments repository.PaymentRecordRepository,
	gateway adapter.KassaGateway,
	applier usecase.WebhookUseCase,
	interval, staleAfter time.Duration,
	log *zerolog.Logger,
) *ReconcileWorker {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	return &ReconcileWorker{
		payments: payments, gateway: gateway, applier: applier,
		interval: interval, staleAfter: staleAfter, log: log,
	}
}

func (w *ReconcileWorker) Start(ctx context.Context) {
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

func (w *ReconcileWorker) tick(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-w.staleAfter)
	stale, err := w.payments.ListStalePending(ctx, repository.NoTX, cutoff, 200)
	if err != nil {
		w.log.Error().Err(err).Msg("reconciler: list stale pending failed")
		return
	}
	for _, p := range stale {
		if p.ProviderPaymentID == nil {
			continue
		}
		remote, err := w.gateway.FindPayment(ctx, *p.ProviderPaymentID)
		if err != nil {
			w.log.Error().Err(err).Str("payment_record_id", p.ID).Msg("reconciler: remote lookup failed")
			continue
		}
		outcome, err := w.applier.ApplyRemoteState(ctx, remote)
		if err != nil {
			w.log.Error().Err(err).Str("payment_record_id", p.ID).Msg("reconciler: apply failed")
			continue
		}
		w.log.Info().
			Str("payment_record_id", p.ID).
			Str("remote_status", string(remote.Status)).
			Str("outcome", outcome).
			Msg("reconciler: stale payment reconciled")
	}
}
