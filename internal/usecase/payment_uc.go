// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"kassa-billing/internal/domain"
	"kassa-billing/internal/domain/model"
	"kassa-billing/internal/domain/ports/adapter"
	"kassa-billing/internal/domain/ports/repository"
	"kassa-billing/internal/domain/pricing"
	"kassa-billing/internal/infra/logging"
	"kassa-billing/internal/infra/metrics"
)

// inFlightWindow suppresses double-click checkouts: a second attempt for
// the same (user, plan) within this window is rejected while the first one
// is still unresolved.
const inFlightWindow = 90 * time.Second

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

// Quote is the priced result of a coupon check.
type Quote struct {
	Plan        model.Plan
	BasePrice   decimal.Decimal
	Discount    decimal.Decimal
	FinalAmount int64
	Currency    string
}

type PaymentUseCase interface {
	// Checkout creates a local pending record, registers the payment with
	// the provider and returns the record plus the confirmation URL the
	// user is redirected to.
	Checkout(ctx context.Context, userID, plan, couponCode string) (*model.PaymentRecord, string, error)
	// ValidateCoupon prices a plan with an optional coupon without creating
	// anything.
	ValidateCoupon(ctx context.Context, plan, couponCode string) (*Quote, error)
	// ConfirmManual re-fetches the remote state of a payment and applies
	// it, for operators resolving stuck payments by hand.
	ConfirmManual(ctx context.Context, paymentID string) (*model.PaymentRecord, error)
	// Refund refunds a completed payment in full. The local record flips to
	// refund only when the provider confirms, here or via webhook.
	Refund(ctx context.Context, paymentID, description string) (*model.PaymentRecord, error)
}

type paymentUC struct {
	tm        repository.TransactionManager
	payments  repository.PaymentRecordRepository
	subs      repository.SubscriptionRepository
	coupons   repository.CouponRepository
	gateway   adapter.KassaGateway
	applier   WebhookUseCase
	returnURL string
	log       *zerolog.Logger
}

func NewPaymentUseCase(
	tm repository.TransactionManager,
	payments repository.PaymentRecordRepository,
	subs repository.SubscriptionRepository,
	coupons repository.CouponRepository,
	gateway adapter.KassaGateway,
	applier WebhookUseCase,
	returnURL string,
	log *zerolog.Logger,
) *paymentUC {
	return &paymentUC{
		tm: tm, payments: payments, subs: subs, coupons: coupons,
		gateway: gateway, applier: applier, returnURL: returnURL, log: log,
	}
}

func (u *paymentUC) quote(ctx context.Context, tx repository.Tx, plan model.Plan, couponCode string, now time.Time) (*Quote, error) {
	base, err := pricing.BasePrice(plan)
	if err != nil {
		return nil, err
	}
	pct := decimal.Zero
	if couponCode != "" {
		c, err := u.coupons.FindByCode(ctx, tx, couponCode)
		if err != nil {
			return nil, err
		}
		pct, err = c.Validate(plan, now)
		if err != nil {
			return nil, err
		}
	}
	final, discount := pricing.ComputeFinalAmount(base, pct)
	return &Quote{
		Plan:        plan,
		BasePrice:   base,
		Discount:    discount,
		FinalAmount: final,
		Currency:    pricing.Currency,
	}, nil
}

func (u *paymentUC) ValidateCoupon(ctx context.Context, plan, couponCode string) (*Quote, error) {
	p, err := model.ParsePlan(plan)
	if err != nil {
		return nil, err
	}
	return u.quote(ctx, repository.NoTX, p, couponCode, time.Now().UTC())
}

func (u *paymentUC) Checkout(ctx context.Context, userID, plan, couponCode string) (*model.PaymentRecord, string, error) {
	p, err := model.ParsePlan(plan)
	if err != nil {
		return nil, "", err
	}
	now := time.Now().UTC()

	var rec *model.PaymentRecord
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		// Guards: no second active subscription of the plan, no repeat
		// lifetime purchase, no parallel checkout of the same plan.
		if p.Recurring() {
			_, err := u.subs.FindActiveByUserAndPlan(ctx, tx, userID, p)
			if err == nil {
				return domain.ErrAlreadySubscribed
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		} else {
			purchased, err := u.payments.SucceededForeverExists(ctx, tx, userID)
			if err != nil {
				return err
			}
			if purchased {
				return domain.ErrAlreadyPurchased
			}
		}
		inFlight, err := u.payments.RecentPendingExists(ctx, tx, userID, p, now.Add(-inFlightWindow))
		if err != nil {
			return err
		}
		if inFlight {
			return domain.ErrPaymentInFlight
		}

		q, err := u.quote(ctx, tx, p, couponCode, now)
		if err != nil {
			return err
		}
		rec = &model.PaymentRecord{
			ID:             uuid.NewString(),
			UserID:         userID,
			Amount:         decimal.NewFromInt(q.FinalAmount),
			Currency:       q.Currency,
			Plan:           p,
			CouponCode:     couponCode,
			Discount:       q.Discount,
			Status:         model.LocalStatusPending,
			ProviderStatus: model.ProviderStatusWaitingForCapture,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return u.payments.Save(ctx, tx, rec)
	})
	if err != nil {
		return nil, "", err
	}

	ctx = logging.WithPaymentID(ctx, rec.ID)
	log := logging.With(ctx, u.log)

	remote, err := u.gateway.CreatePayment(ctx, adapter.CreatePaymentRequest{
		Amount:      adapter.RemoteAmount{Value: rec.Amount, Currency: rec.Currency},
		Description: fmt.Sprintf("%s plan", rec.Plan),
		Metadata: map[string]string{
			"payment_id": rec.ID,
			"user_id":    rec.UserID,
			"plan":       string(rec.Plan),
		},
		ReturnURL:      u.returnURL,
		SaveInstrument: p.Recurring(),
		Capture:        false,
	}, uuid.NewString())
	if err != nil {
		// no provider id attached yet, the local record is safe to drop
		if derr := u.payments.Delete(ctx, repository.NoTX, rec.ID); derr != nil {
			log.Error().Err(derr).Msg("checkout: orphan pending record not deleted")
		}
		return nil, "", err
	}

	if err := u.payments.AttachProviderID(ctx, repository.NoTX, rec.ID, remote.ID); err != nil {
		return nil, "", err
	}
	rec.ProviderPaymentID = &remote.ID
	metrics.IncPayment(string(model.LocalStatusPending))
	log.Info().
		Str("provider_payment_id", remote.ID).
		Str("plan", string(rec.Plan)).
		Str("amount", rec.Amount.StringFixed(2)).
		Msg("checkout: payment created")
	return rec, remote.ConfirmationURL, nil
}

func (u *paymentUC) ConfirmManual(ctx context.Context, paymentID string) (*model.PaymentRecord, error) {
	rec, err := u.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return nil, err
	}
	if rec.ProviderPaymentID == nil {
		return nil, fmt.Errorf("payment %s has no provider id: %w", paymentID, domain.ErrInvalidArgument)
	}
	remote, err := u.gateway.FindPayment(ctx, *rec.ProviderPaymentID)
	if err != nil {
		return nil, err
	}
	if _, err := u.applier.ApplyRemoteState(ctx, remote); err != nil {
		return nil, err
	}
	return u.payments.FindByID(ctx, repository.NoTX, paymentID)
}

func (u *paymentUC) Refund(ctx context.Context, paymentID, description string) (*model.PaymentRecord, error) {
	rec, err := u.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.LocalStatusCompleted || rec.ProviderPaymentID == nil {
		return nil, fmt.Errorf("refund of payment in status %s: %w", rec.Status, domain.ErrOperationFailed)
	}

	refund, err := u.gateway.CreateRefund(ctx, *rec.ProviderPaymentID,
		adapter.RemoteAmount{Value: rec.Amount, Currency: rec.Currency}, description)
	if err != nil {
		// the provider rejected the refund; remember that on the record
		rec.Status = model.LocalStatusRefundFailed
		rec.Note = "refund rejected: " + err.Error()
		rec.UpdatedAt = time.Now().UTC()
		if serr := u.payments.Save(ctx, repository.NoTX, rec); serr != nil {
			return nil, serr
		}
		metrics.IncPayment(string(model.LocalStatusRefundFailed))
		return rec, err
	}

	if refund.Status == "succeeded" {
		err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			r, err := u.payments.FindByID(ctx, tx, paymentID)
			if err != nil {
				return err
			}
			if r.Status != model.LocalStatusCompleted {
				return nil
			}
			r.Status = model.LocalStatusRefund
			r.ProviderStatus = model.ProviderStatusRefundSucceeded
			r.Note = fmt.Sprintf("refund %s: %s %s", refund.ID, refund.Amount.Value.StringFixed(2), refund.Amount.Currency)
			r.UpdatedAt = time.Now().UTC()
			if err := u.payments.Save(ctx, tx, r); err != nil {
				return err
			}
			rec = r
			return nil
		})
		if err != nil {
			return nil, err
		}
		metrics.IncPayment(string(model.LocalStatusRefund))
	}
	return rec, nil
}
