// File: internal/usecase/recurring_uc.go
package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"kassa-billing/internal/domain"
	"kassa-billing/internal/domain/model"
	"kassa-billing/internal/domain/ports/adapter"
	"kassa-billing/internal/domain/ports/repository"
	"kassa-billing/internal/infra/logging"
	"kassa-billing/internal/infra/metrics"
	infraredis "kassa-billing/internal/infra/redis"
)

// chargeLockTTL bounds how long a crashed worker can keep a subscription
// locked.
const chargeLockTTL = 10 * time.Minute

// Charge results, also used as metric labels.
const (
	ChargeCreated         = "created"
	ChargeSynced          = "synced"
	ChargeSkippedNoMethod = "skipped_no_instrument"
	ChargeSkippedLocked   = "skipped_locked"
	ChargeFailed          = "failed"
)

// Compile-time check
var _ RecurringChargeUseCase = (*recurringUC)(nil)

// ChargeReport summarizes one batch run.
type ChargeReport struct {
	Due     int
	Results map[string]int
}

type RecurringChargeUseCase interface {
	// DueSubscriptions lists subscriptions eligible for a charge at `now`.
	DueSubscriptions(ctx context.Context, now time.Time, limit int) ([]*model.Subscription, error)
	// Charge runs one automatic charge for a subscription and returns the
	// result label.
	Charge(ctx context.Context, sub *model.Subscription, now time.Time) (string, error)
	// ChargeDue runs a whole batch sequentially. The scheduler fans out
	// with a worker pool instead; this is the path behind the HTTP trigger.
	ChargeDue(ctx context.Context, now time.Time, limit int) (*ChargeReport, error)
}

type recurringUC struct {
	tm       repository.TransactionManager
	subs     repository.SubscriptionRepository
	payments repository.PaymentRecordRepository
	gateway  adapter.KassaGateway
	applier  WebhookUseCase
	locker   infraredis.Locker
	log      *zerolog.Logger
}

func NewRecurringChargeUseCase(
	tm repository.TransactionManager,
	subs repository.SubscriptionRepository,
	payments repository.PaymentRecordRepository,
	gateway adapter.KassaGateway,
	applier WebhookUseCase,
	locker infraredis.Locker,
	log *zerolog.Logger,
) *recurringUC {
	return &recurringUC{tm: tm, subs: subs, payments: payments, gateway: gateway, applier: applier, locker: locker, log: log}
}

func (u *recurringUC) DueSubscriptions(ctx context.Context, now time.Time, limit int) ([]*model.Subscription, error) {
	return u.subs.ListDue(ctx, repository.NoTX, now, limit)
}

func (u *recurringUC) ChargeDue(ctx context.Context, now time.Time, limit int) (*ChargeReport, error) {
	due, err := u.DueSubscriptions(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	report := &ChargeReport{Due: len(due), Results: make(map[string]int)}
	for _, sub := range due {
		result, err := u.Charge(ctx, sub, now)
		if err != nil {
			// one bad subscription never aborts the batch
			u.log.Error().Err(err).Str("subscription_id", sub.ID).Msg("recurring: charge failed")
		}
		report.Results[result]++
	}
	return report, nil
}

// chargeIdemKey derives a deterministic idempotency key from the
// subscription, its due time and a fingerprint of the charge payload. Two
// runs over the same due period produce the same key; once the schedule
// advances the key changes.
func chargeIdemKey(sub *model.Subscription, due time.Time) string {
	payload, _ := json.Marshal(map[string]string{
		"subscription_id": sub.ID,
		"plan":            string(sub.Plan),
		"amount":          sub.Amount.StringFixed(2),
		"currency":        sub.Currency,
		"due":             due.UTC().Format(time.RFC3339),
	})
	sum := sha1.Sum(payload)
	return fmt.Sprintf("sub:%s:%s:%s", sub.ID, due.UTC().Format(time.RFC3339), hex.EncodeToString(sum[:])[:12])
}

func (u *recurringUC) Charge(ctx context.Context, sub *model.Subscription, now time.Time) (string, error) {
	log := logging.With(ctx, u.log)

	token, err := u.locker.TryLock(ctx, "charge:sub:"+sub.ID, chargeLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrChargeLocked) {
			metrics.IncRecurringCharge(ChargeSkippedLocked)
			return ChargeSkippedLocked, nil
		}
		return ChargeFailed, err
	}
	defer func() { _ = u.locker.Unlock(context.Background(), "charge:sub:"+sub.ID, token) }()

	if sub.InstrumentID == nil || *sub.InstrumentID == "" {
		if err := u.recordFailure(ctx, sub.ID); err != nil {
			return ChargeFailed, err
		}
		metrics.IncRecurringCharge(ChargeSkippedNoMethod)
		return ChargeSkippedNoMethod, nil
	}
	if sub.NextChargeAt == nil {
		return ChargeSkippedNoMethod, nil
	}
	due := *sub.NextChargeAt

	rec := &model.PaymentRecord{
		ID:             uuid.NewString(),
		UserID:         sub.UserID,
		Amount:         sub.Amount,
		Currency:       sub.Currency,
		Plan:           sub.Plan,
		Status:         model.LocalStatusPending,
		ProviderStatus: model.ProviderStatusWaitingForCapture,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := u.payments.Save(ctx, repository.NoTX, rec); err != nil {
		return ChargeFailed, err
	}

	remote, err := u.gateway.CreatePayment(ctx, adapter.CreatePaymentRequest{
		Amount:      adapter.RemoteAmount{Value: sub.Amount, Currency: sub.Currency},
		Description: fmt.Sprintf("%s plan renewal", sub.Plan),
		Metadata: map[string]string{
			"payment_id":      rec.ID,
			"user_id":         sub.UserID,
			"plan":            string(sub.Plan),
			"subscription_id": sub.ID,
			"recurring":       "true",
		},
		InstrumentID: *sub.InstrumentID,
		Capture:      true,
	}, chargeIdemKey(sub, due))
	if err != nil {
		// no provider id was attached, drop the local pending record and
		// count the failure against the subscription
		if derr := u.payments.Delete(ctx, repository.NoTX, rec.ID); derr != nil {
			log.Error().Err(derr).Str("payment_record_id", rec.ID).Msg("recurring: orphan pending record not deleted")
		}
		if ferr := u.recordFailure(ctx, sub.ID); ferr != nil {
			return ChargeFailed, ferr
		}
		metrics.IncRecurringCharge(ChargeFailed)
		return ChargeFailed, err
	}

	if err := u.payments.AttachProviderID(ctx, repository.NoTX, rec.ID, remote.ID); err != nil {
		return ChargeFailed, err
	}

	switch remote.Status {
	case model.ProviderStatusSucceeded:
		// saved-instrument charges often settle synchronously; apply the
		// terminal state now instead of waiting for the webhook
		if _, err := u.applier.ApplyRemoteState(ctx, remote); err != nil {
			return ChargeFailed, err
		}
		// The provider may omit the payment_method block in the sync
		// response; advance the schedule here rather than depend on it.
		if err := u.recordSuccess(ctx, sub.ID, remote.ID); err != nil {
			return ChargeFailed, err
		}
		metrics.IncRecurringCharge(ChargeSynced)
		log.Info().Str("subscription_id", sub.ID).Str("provider_payment_id", remote.ID).Msg("recurring: charge settled synchronously")
		return ChargeSynced, nil
	case model.ProviderStatusCanceled:
		if _, err := u.applier.ApplyRemoteState(ctx, remote); err != nil {
			return ChargeFailed, err
		}
		metrics.IncRecurringCharge(ChargeFailed)
		return ChargeFailed, nil
	default:
		metrics.IncRecurringCharge(ChargeCreated)
		log.Info().Str("subscription_id", sub.ID).Str("provider_payment_id", remote.ID).Msg("recurring: charge created, awaiting settlement")
		return ChargeCreated, nil
	}
}

func (u *recurringUC) recordSuccess(ctx context.Context, subID, providerPaymentID string) error {
	return u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		s, err := u.subs.FindByID(ctx, tx, subID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		s.RecordSuccess(providerPaymentID, now)
		s.UpdatedAt = now
		return u.subs.Save(ctx, tx, s)
	})
}

func (u *recurringUC) recordFailure(ctx context.Context, subID string) error {
	return u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		s, err := u.subs.FindByID(ctx, tx, subID)
		if err != nil {
			return err
		}
		s.RecordFailure()
		s.UpdatedAt = time.Now().UTC()
		if err := u.subs.Save(ctx, tx, s); err != nil {
			return err
		}
		if s.Status == model.SubscriptionStatusPastDue {
			metrics.IncSubscriptionPastDue()
		}
		return nil
	})
}
