package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"kassa-billing/internal/domain"
	"kassa-billing/internal/domain/model"
	"kassa-billing/internal/domain/ports/repository"
)

var _ repository.PaymentRecordRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, user_id, provider_payment_id, amount, currency, plan, coupon_code, discount, status, provider_status, income_amount, instrument, authorization_details, card_expires_at, capture_idem_key, note, created_at, updated_at`

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.PaymentRecord) error {
	const q = `
INSERT INTO payment_records (
  id, user_id, provider_payment_id, amount, currency, plan, coupon_code, discount, status, provider_status, income_amount, instrument, authorization_details, card_expires_at, capture_idem_key, note, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
) ON CONFLICT (id) DO UPDATE SET
  status=$9, provider_status=$10, income_amount=$11, instrument=$12, authorization_details=$13, card_expires_at=$14, capture_idem_key=$15, note=$16, updated_at=NOW();`

	instrument, err := marshalNullable(p.Instrument)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	authorization, err := marshalNullable(p.Authorization)
	if err != nil {
		return domain.ErrInvalidArgument
	}

	_, err = execSQL(ctx, r.pool, tx, q,
		p.ID, p.UserID, p.ProviderPaymentID, p.Amount, p.Currency, p.Plan, p.CouponCode, p.Discount,
		p.Status, p.ProviderStatus, p.IncomeAmount, instrument, authorization, p.CardExpiresAt,
		p.CaptureIdemKey, p.Note, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

// Delete removes an aborted pending record. Records with a provider id
// attached are never deleted.
func (r *paymentRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	const q = `DELETE FROM payment_records WHERE id=$1 AND provider_payment_id IS NULL;`
	_, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentRecord, error) {
	q := `SELECT ` + paymentColumns + ` FROM payment_records WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindByProviderID(ctx context.Context, tx repository.Tx, providerID string) (*model.PaymentRecord, error) {
	q := `SELECT ` + paymentColumns + ` FROM payment_records WHERE provider_payment_id=$1 LIMIT 1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, providerID)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

// AttachProviderID is write-once: the update only lands when no provider id
// is set yet or the same id is re-attached.
func (r *paymentRepo) AttachProviderID(ctx context.Context, tx repository.Tx, id, providerID string) error {
	const q = `
UPDATE payment_records
   SET provider_payment_id=$2, updated_at=NOW()
 WHERE id=$1
   AND (provider_payment_id IS NULL OR provider_payment_id=$2);`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, providerID)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrProviderIDMismatch
	}
	return nil
}

func (r *paymentRepo) SetCaptureKey(ctx context.Context, tx repository.Tx, id, key string) error {
	const q = `
UPDATE payment_records
   SET capture_idem_key=COALESCE(capture_idem_key, $2), updated_at=NOW()
 WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, key)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) RecentPendingExists(ctx context.Context, tx repository.Tx, userID string, plan model.Plan, since time.Time) (bool, error) {
	const q = `
SELECT EXISTS(
    SELECT 1 FROM payment_records
    WHERE user_id=$1 AND plan=$2 AND created_at >= $3
      AND (status='pending' OR provider_status='waiting_for_capture')
);`
	row, err := pickRow(ctx, r.pool, tx, q, userID, plan, since)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return exists, nil
}

func (r *paymentRepo) SucceededForeverExists(ctx context.Context, tx repository.Tx, userID string) (bool, error) {
	const q = `
SELECT EXISTS(
    SELECT 1 FROM payment_records
    WHERE user_id=$1 AND plan='forever' AND provider_status='succeeded' AND status <> 'refund'
);`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return exists, nil
}

func (r *paymentRepo) ListStalePending(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + paymentColumns + ` FROM payment_records
 WHERE status='pending' AND provider_payment_id IS NOT NULL AND created_at < $1
 ORDER BY created_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, limit)
	if err != nil {
		switch err {
		case pgx.ErrNoRows:
			return nil, domain.ErrNotFound
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// scanPayment maps one row onto a PaymentRecord, decoding the JSONB
// snapshot columns.
func scanPayment(row pgx.Row) (*model.PaymentRecord, error) {
	p := &model.PaymentRecord{}
	var instrument, authorization []byte
	err := row.Scan(&p.ID, &p.UserID, &p.ProviderPaymentID, &p.Amount, &p.Currency, &p.Plan,
		&p.CouponCode, &p.Discount, &p.Status, &p.ProviderStatus, &p.IncomeAmount,
		&instrument, &authorization, &p.CardExpiresAt, &p.CaptureIdemKey, &p.Note,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if len(instrument) > 0 {
		var snap model.InstrumentSnapshot
		if json.Unmarshal(instrument, &snap) == nil {
			p.Instrument = &snap
		}
	}
	if len(authorization) > 0 {
		var snap model.AuthorizationSnapshot
		if json.Unmarshal(authorization, &snap) == nil {
			p.Authorization = &snap
		}
	}
	return p, nil
}

// marshalNullable keeps SQL NULL for nil snapshots.
func marshalNullable(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case *model.InstrumentSnapshot:
		if t == nil {
			return nil, nil
		}
	case *model.AuthorizationSnapshot:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
