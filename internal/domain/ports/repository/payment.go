package repository

import (
	"context"
	"time"

	"kassa-billing/internal/domain/model"
)

// PaymentRecordRepository is the authoritative store of payment attempts.
//
// The check-then-act idempotency guards in the webhook handlers are only
// safe when the read and the write happen on the same locked row, so every
// mutating flow runs under TransactionManager.WithTx and passes the tx
// handle here; FindByProviderID then locks the row with FOR UPDATE.
type PaymentRecordRepository interface {
	Save(ctx context.Context, tx Tx, p *model.PaymentRecord) error
	Delete(ctx context.Context, tx Tx, id string) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.PaymentRecord, error)
	FindByProviderID(ctx context.Context, tx Tx, providerID string) (*model.PaymentRecord, error)
	// AttachProviderID sets the provider payment id once; it fails with
	// domain.ErrProviderIDMismatch when a different id is already present.
	AttachProviderID(ctx context.Context, tx Tx, id, providerID string) error
	// SetCaptureKey persists a generated capture idempotency key, keeping
	// the first value on conflict so retries always observe the same key.
	SetCaptureKey(ctx context.Context, tx Tx, id, key string) error
	// RecentPendingExists reports whether the user started a payment of the
	// same plan after the given cutoff that is still unresolved.
	RecentPendingExists(ctx context.Context, tx Tx, userID string, plan model.Plan, since time.Time) (bool, error)
	// SucceededForeverExists reports whether the user has a completed,
	// non-refunded lifetime purchase.
	SucceededForeverExists(ctx context.Context, tx Tx, userID string) (bool, error)
	// ListStalePending returns pending records with a provider id attached
	// created before the cutoff, oldest first.
	ListStalePending(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error)
}
