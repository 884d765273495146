package repository

import (
	"context"

	"kassa-billing/internal/domain/model"
)

// EventLogRepository is the append-only delivery log of inbound webhooks.
// Save is write-once per delivery: every delivery, duplicate or not, gets
// its own row.
type EventLogRepository interface {
	Save(ctx context.Context, tx Tx, e *model.EventLogEntry) error
	MarkApplied(ctx context.Context, tx Tx, id string) error
	SetNote(ctx context.Context, tx Tx, id, note string) error
	// CountByEventID returns how many deliveries were recorded for a
	// provider event id (admin/replay tooling).
	CountByEventID(ctx context.Context, tx Tx, eventID string) (int, error)
}
