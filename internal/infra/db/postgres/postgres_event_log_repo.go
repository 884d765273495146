package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"kassa-billing/internal/domain"
	"kassa-billing/internal/domain/model"
	"kassa-billing/internal/domain/ports/repository"
)

var _ repository.EventLogRepository = (*eventLogRepo)(nil)

type eventLogRepo struct {
	pool *pgxpool.Pool
}

func NewEventLogRepo(pool *pgxpool.Pool) repository.EventLogRepository {
	return &eventLogRepo{pool: pool}
}

// Save inserts one delivery row. Redeliveries of the same provider event
// insert again: the table keys on our own ULID, never on event_id.
func (r *eventLogRepo) Save(ctx context.Context, tx repository.Tx, e *model.EventLogEntry) error {
	const q = `
INSERT INTO payment_event_log (id, event_id, event_type, payload, received_at, applied, note)
VALUES ($1, $2, $3, $4, $5, $6, $7);`
	_, err := execSQL(ctx, r.pool, tx, q, e.ID, e.EventID, e.EventType, e.Payload, e.ReceivedAt, e.Applied, e.Note)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *eventLogRepo) MarkApplied(ctx context.Context, tx repository.Tx, id string) error {
	const q = `UPDATE payment_event_log SET applied=TRUE WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *eventLogRepo) SetNote(ctx context.Context, tx repository.Tx, id, note string) error {
	const q = `UPDATE payment_event_log SET note=$2 WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, note)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *eventLogRepo) CountByEventID(ctx context.Context, tx repository.Tx, eventID string) (int, error) {
	const q = `SELECT COUNT(*) FROM payment_event_log WHERE event_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, eventID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}
