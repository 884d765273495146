package model

import "time"

// EventLogEntry is one inbound webhook delivery, recorded before handling.
// A redelivery of the same provider event creates a new entry: the log is a
// complete delivery history, duplicates are detected by the handlers, not
// merged here.
type EventLogEntry struct {
	ID         string // ULID, sortable by receipt time
	EventID    string // payload.object.id (payment or refund id)
	EventType  string // raw event string, e.g. "payment.succeeded"
	Payload    []byte // raw JSON body as received
	ReceivedAt time.Time
	Applied    bool
	Note       string // reason when not applied, e.g. "unknown_event"
}
