// File: internal/usecase/webhook_uc.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
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

// EventKind is the closed set of provider notifications this system reacts
// to. Anything else is logged and acknowledged without effect.
type EventKind string

const (
	EventPaymentSucceeded         EventKind = "payment.succeeded"
	EventPaymentWaitingForCapture EventKind = "payment.waiting_for_capture"
	EventPaymentCanceled          EventKind = "payment.canceled"
	EventRefundSucceeded          EventKind = "refund.succeeded"
)

// ParseEventKind maps a raw event string onto the closed set.
func ParseEventKind(s string) (EventKind, bool) {
	switch EventKind(s) {
	case EventPaymentSucceeded, EventPaymentWaitingForCapture, EventPaymentCanceled, EventRefundSucceeded:
		return EventKind(s), true
	}
	return "", false
}

// Delivery outcomes, also used as metric labels.
const (
	outcomeApplied      = "applied"
	outcomeNoop         = "noop"
	outcomeMismatch     = "mismatch"
	outcomeUnknownEvent = "unknown_event"
	outcomeError        = "error"
	outcomeMalformed    = "malformed"
)

// Compile-time check
var _ WebhookUseCase = (*webhookUC)(nil)

type WebhookUseCase interface {
	// Handle processes one inbound delivery and returns the HTTP status the
	// provider should receive. The delivery is recorded before any handler
	// runs; a 500 tells the provider to redeliver.
	Handle(ctx context.Context, body []byte) (int, error)
	// ApplyRemoteState runs the same state machine against a payment
	// snapshot fetched out-of-band (manual sync, recurring charges,
	// stale-pending reconciliation).
	ApplyRemoteState(ctx context.Context, remote *adapter.RemotePayment) (string, error)
}

type webhookUC struct {
	tm       repository.TransactionManager
	payments repository.PaymentRecordRepository
	subs     repository.SubscriptionRepository
	events   repository.EventLogRepository
	gateway  adapter.KassaGateway
	log      *zerolog.Logger
}

func NewWebhookUseCase(
	tm repository.TransactionManager,
	payments repository.PaymentRecordRepository,
	subs repository.SubscriptionRepository,
	events repository.EventLogRepository,
	gateway adapter.KassaGateway,
	log *zerolog.Logger,
) *webhookUC {
	return &webhookUC{tm: tm, payments: payments, subs: subs, events: events, gateway: gateway, log: log}
}

// ---- inbound wire shapes ----

type notificationBody struct {
	Type   string          `json:"type"`
	Event  string          `json:"event"`
	Object json.RawMessage `json:"object"`
}

type notifAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type notifPaymentObject struct {
	ID           string       `json:"id"`
	Status       string       `json:"status"`
	Paid         bool         `json:"paid"`
	Amount       notifAmount  `json:"amount"`
	IncomeAmount *notifAmount `json:"income_amount"`
	PaymentMethod *struct {
		Type  string `json:"type"`
		ID    string `json:"id"`
		Saved bool   `json:"saved"`
		Title string `json:"title"`
		Card  *struct {
			First6        string `json:"first6"`
			Last4         string `json:"last4"`
			ExpiryYear    string `json:"expiry_year"`
			ExpiryMonth   string `json:"expiry_month"`
			CardType      string `json:"card_type"`
			IssuerCountry string `json:"issuer_country"`
		} `json:"card"`
	} `json:"payment_method"`
	AuthorizationDetails *struct {
		RRN          string `json:"rrn"`
		AuthCode     string `json:"auth_code"`
		ThreeDSecure *struct {
			Applied            bool `json:"applied"`
			MethodCompleted    bool `json:"method_completed"`
			ChallengeCompleted bool `json:"challenge_completed"`
		} `json:"three_d_secure"`
	} `json:"authorization_details"`
	Metadata            map[string]string `json:"metadata"`
	CancellationDetails *struct {
		Party  string `json:"party"`
		Reason string `json:"reason"`
	} `json:"cancellation_details"`
}

type notifRefundObject struct {
	ID        string      `json:"id"`
	PaymentID string      `json:"payment_id"`
	Status    string      `json:"status"`
	Amount    notifAmount `json:"amount"`
}

func (o *notifPaymentObject) toRemote() (*adapter.RemotePayment, error) {
	value, err := decimal.NewFromString(o.Amount.Value)
	if err != nil {
		return nil, fmt.Errorf("bad amount %q: %w", o.Amount.Value, domain.ErrInvalidArgument)
	}
	rp := &adapter.RemotePayment{
		ID:       o.ID,
		Status:   model.ProviderStatus(o.Status),
		Paid:     o.Paid,
		Amount:   adapter.RemoteAmount{Value: value, Currency: o.Amount.Currency},
		Metadata: o.Metadata,
	}
	if o.IncomeAmount != nil {
		if iv, err := decimal.NewFromString(o.IncomeAmount.Value); err == nil {
			rp.IncomeAmount = &adapter.RemoteAmount{Value: iv, Currency: o.IncomeAmount.Currency}
		}
	}
	if pm := o.PaymentMethod; pm != nil {
		inst := &model.InstrumentSnapshot{Type: pm.Type, ID: pm.ID, Saved: pm.Saved, Title: pm.Title}
		if c := pm.Card; c != nil {
			inst.Card = &model.CardSnapshot{
				First6:        c.First6,
				Last4:         c.Last4,
				ExpiryYear:    c.ExpiryYear,
				ExpiryMonth:   c.ExpiryMonth,
				CardType:      c.CardType,
				IssuerCountry: c.IssuerCountry,
			}
		}
		rp.Instrument = inst
	}
	if ad := o.AuthorizationDetails; ad != nil {
		auth := &model.AuthorizationSnapshot{RRN: ad.RRN, AuthCode: ad.AuthCode}
		if t := ad.ThreeDSecure; t != nil {
			auth.ThreeDSecure = &model.ThreeDSecureSnapshot{
				Applied:            t.Applied,
				MethodCompleted:    t.MethodCompleted,
				ChallengeCompleted: t.ChallengeCompleted,
			}
		}
		rp.Authorization = auth
	}
	if o.CancellationDetails != nil {
		rp.CancellationReason = o.CancellationDetails.Reason
	}
	return rp, nil
}

// ---- entry point ----

func (u *webhookUC) Handle(ctx context.Context, body []byte) (int, error) {
	start := time.Now()

	var n notificationBody
	if err := json.Unmarshal(body, &n); err != nil {
		metrics.IncWebhookDelivery("", outcomeMalformed)
		return http.StatusBadRequest, fmt.Errorf("webhook body: %w", domain.ErrInvalidArgument)
	}
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(n.Object, &probe); err != nil || probe.ID == "" {
		metrics.IncWebhookDelivery(n.Event, outcomeMalformed)
		return http.StatusBadRequest, fmt.Errorf("webhook object id: %w", domain.ErrInvalidArgument)
	}

	// Audit first: the delivery row exists before any handler runs, so a
	// crash mid-dispatch still leaves a trace. Redeliveries get their own
	// rows; nothing is merged.
	entry := &model.EventLogEntry{
		ID:         ulid.Make().String(),
		EventID:    probe.ID,
		EventType:  n.Event,
		Payload:    body,
		ReceivedAt: time.Now().UTC(),
	}
	if err := u.events.Save(ctx, repository.NoTX, entry); err != nil {
		return http.StatusInternalServerError, err
	}

	ctx = logging.WithEventID(ctx, probe.ID)
	log := logging.With(ctx, u.log)

	kind, ok := ParseEventKind(n.Event)
	if !ok {
		_ = u.events.SetNote(ctx, repository.NoTX, entry.ID, outcomeUnknownEvent)
		metrics.IncWebhookDelivery(n.Event, outcomeUnknownEvent)
		log.Info().Str("event", n.Event).Msg("webhook: unknown event acknowledged")
		return http.StatusOK, nil
	}

	outcome, note, err := u.dispatch(ctx, kind, n.Object)

	switch {
	case err != nil:
		_ = u.events.SetNote(ctx, repository.NoTX, entry.ID, "error: "+err.Error())
		metrics.IncWebhookDelivery(n.Event, outcomeError)
		log.Error().Err(err).Str("event", n.Event).Msg("webhook: handler failed")
		metrics.ObserveWebhookDuration(n.Event, time.Since(start).Seconds())
		return http.StatusInternalServerError, err
	case outcome == outcomeApplied:
		_ = u.events.MarkApplied(ctx, repository.NoTX, entry.ID)
		if note != "" {
			_ = u.events.SetNote(ctx, repository.NoTX, entry.ID, note)
		}
	default:
		if note == "" {
			note = outcome
		}
		_ = u.events.SetNote(ctx, repository.NoTX, entry.ID, note)
	}
	metrics.IncWebhookDelivery(n.Event, outcome)
	metrics.ObserveWebhookDuration(n.Event, time.Since(start).Seconds())
	log.Info().Str("event", n.Event).Str("outcome", outcome).Msg("webhook: delivery handled")
	return http.StatusOK, nil
}

func (u *webhookUC) dispatch(ctx context.Context, kind EventKind, object json.RawMessage) (outcome, note string, err error) {
	if kind == EventRefundSucceeded {
		var ro notifRefundObject
		if err := json.Unmarshal(object, &ro); err != nil {
			return outcomeMalformed, "bad refund object", nil
		}
		return u.applyRefund(ctx, &ro)
	}

	var po notifPaymentObject
	if err := json.Unmarshal(object, &po); err != nil {
		return outcomeMalformed, "bad payment object", nil
	}
	remote, rerr := po.toRemote()
	if rerr != nil {
		return outcomeMalformed, rerr.Error(), nil
	}

	switch kind {
	case EventPaymentSucceeded:
		return u.applySucceeded(ctx, remote)
	case EventPaymentWaitingForCapture:
		return u.applyWaitingForCapture(ctx, remote)
	case EventPaymentCanceled:
		return u.applyCanceled(ctx, remote)
	}
	return outcomeNoop, "", nil
}

// ApplyRemoteState routes an out-of-band payment snapshot through the same
// handlers the webhook uses.
func (u *webhookUC) ApplyRemoteState(ctx context.Context, remote *adapter.RemotePayment) (string, error) {
	var outcome string
	var err error
	switch remote.Status {
	case model.ProviderStatusSucceeded:
		outcome, _, err = u.applySucceeded(ctx, remote)
	case model.ProviderStatusWaitingForCapture:
		outcome, _, err = u.applyWaitingForCapture(ctx, remote)
	case model.ProviderStatusCanceled:
		outcome, _, err = u.applyCanceled(ctx, remote)
	default:
		outcome = outcomeNoop
	}
	return outcome, err
}

// ---- handlers ----

// applySucceeded settles a payment the provider has captured. Mismatching
// deliveries never mutate state and are still acknowledged; the provider
// would redeliver forever otherwise.
func (u *webhookUC) applySucceeded(ctx context.Context, remote *adapter.RemotePayment) (string, string, error) {
	outcome, note := outcomeNoop, ""
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		rec, err := u.payments.FindByProviderID(ctx, tx, remote.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				outcome, note = outcomeMismatch, "payment not found"
				return nil
			}
			return err
		}
		if msg := crossValidate(rec, remote); msg != "" {
			outcome, note = outcomeMismatch, msg
			return nil
		}
		if rec.Status == model.LocalStatusCompleted {
			// redelivery of an already-settled payment
			outcome = outcomeApplied
			return nil
		}
		if rec.Status != model.LocalStatusPending {
			outcome, note = outcomeNoop, "payment in status "+string(rec.Status)
			return nil
		}

		now := time.Now().UTC()
		rec.Status = model.LocalStatusCompleted
		rec.ProviderStatus = model.ProviderStatusSucceeded
		if remote.IncomeAmount != nil {
			income := remote.IncomeAmount.Value
			rec.IncomeAmount = &income
		}
		if remote.Instrument != nil {
			rec.Instrument = remote.Instrument
			rec.CardExpiresAt = cardExpiry(remote.Instrument)
		}
		if remote.Authorization != nil {
			rec.Authorization = remote.Authorization
		}
		rec.UpdatedAt = now
		if err := u.payments.Save(ctx, tx, rec); err != nil {
			return err
		}

		if err := u.upsertSubscription(ctx, tx, rec, remote, now); err != nil {
			return err
		}

		metrics.IncPayment(string(model.LocalStatusCompleted))
		amt, _ := rec.Amount.Float64()
		metrics.AddPaymentRevenue(rec.Currency, amt)
		outcome = outcomeApplied
		return nil
	})
	return outcome, note, err
}

// applyWaitingForCapture records the hold and finalizes it with a stable
// idempotency key, so capture retries across redeliveries hit the provider
// with the same key.
func (u *webhookUC) applyWaitingForCapture(ctx context.Context, remote *adapter.RemotePayment) (string, string, error) {
	var rec *model.PaymentRecord
	outcome, note := outcomeNoop, ""
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		r, err := u.payments.FindByProviderID(ctx, tx, remote.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				outcome, note = outcomeMismatch, "payment not found"
				return nil
			}
			return err
		}
		if r.Status != model.LocalStatusPending {
			outcome, note = outcomeNoop, "payment in status "+string(r.Status)
			return nil
		}
		r.ProviderStatus = model.ProviderStatusWaitingForCapture
		key := r.CaptureKey()
		if err := u.payments.SetCaptureKey(ctx, tx, r.ID, key); err != nil {
			return err
		}
		if err := u.payments.Save(ctx, tx, r); err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil || rec == nil {
		return outcome, note, err
	}

	// Capture outside the transaction; the key makes retries safe.
	captured, err := u.gateway.CapturePayment(ctx, remote.ID,
		adapter.RemoteAmount{Value: rec.Amount, Currency: rec.Currency}, rec.CaptureKey())
	if err != nil {
		return outcomeError, "", fmt.Errorf("capture %s: %w", remote.ID, err)
	}
	if captured.Status == model.ProviderStatusSucceeded {
		return u.applySucceeded(ctx, captured)
	}
	return outcomeApplied, "capture requested", nil
}

func (u *webhookUC) applyCanceled(ctx context.Context, remote *adapter.RemotePayment) (string, string, error) {
	outcome, note := outcomeNoop, ""
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		rec, err := u.payments.FindByProviderID(ctx, tx, remote.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				outcome, note = outcomeMismatch, "payment not found"
				return nil
			}
			return err
		}
		if rec.Status != model.LocalStatusPending {
			outcome, note = outcomeNoop, "payment in status "+string(rec.Status)
			return nil
		}
		rec.Status = model.LocalStatusFailed
		rec.ProviderStatus = model.ProviderStatusCanceled
		rec.Note = remote.CancellationReason
		if remote.Instrument != nil {
			rec.Instrument = remote.Instrument
			rec.CardExpiresAt = cardExpiry(remote.Instrument)
		}
		if remote.Authorization != nil {
			rec.Authorization = remote.Authorization
		}
		rec.UpdatedAt = time.Now().UTC()
		if err := u.payments.Save(ctx, tx, rec); err != nil {
			return err
		}
		metrics.IncPayment(string(model.LocalStatusFailed))

		// An async decline of a recurring charge counts against the
		// subscription's failure budget.
		if subID := remote.Metadata["subscription_id"]; subID != "" {
			sub, err := u.subs.FindByID(ctx, tx, subID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					outcome = outcomeApplied
					return nil
				}
				return err
			}
			sub.RecordFailure()
			sub.UpdatedAt = time.Now().UTC()
			if err := u.subs.Save(ctx, tx, sub); err != nil {
				return err
			}
			if sub.Status == model.SubscriptionStatusPastDue {
				metrics.IncSubscriptionPastDue()
			}
		}
		outcome = outcomeApplied
		return nil
	})
	return outcome, note, err
}

func (u *webhookUC) applyRefund(ctx context.Context, ro *notifRefundObject) (string, string, error) {
	outcome, note := outcomeNoop, ""
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		rec, err := u.payments.FindByProviderID(ctx, tx, ro.PaymentID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				outcome, note = outcomeMismatch, "payment not found"
				return nil
			}
			return err
		}
		if rec.Status == model.LocalStatusRefund {
			outcome = outcomeApplied
			return nil
		}
		// A prior failed refund attempt does not block a later successful one.
		if rec.Status != model.LocalStatusCompleted && rec.Status != model.LocalStatusRefundFailed {
			outcome, note = outcomeNoop, "refund for payment in status "+string(rec.Status)
			return nil
		}
		rec.Status = model.LocalStatusRefund
		rec.ProviderStatus = model.ProviderStatusRefundSucceeded
		rec.Note = fmt.Sprintf("refund %s: %s %s", ro.ID, ro.Amount.Value, ro.Amount.Currency)
		rec.UpdatedAt = time.Now().UTC()
		if err := u.payments.Save(ctx, tx, rec); err != nil {
			return err
		}
		metrics.IncPayment(string(model.LocalStatusRefund))
		outcome = outcomeApplied
		return nil
	})
	return outcome, note, err
}

// upsertSubscription turns a settled recurring-plan payment with a saved
// instrument into an active subscription, or advances the existing one.
func (u *webhookUC) upsertSubscription(ctx context.Context, tx repository.Tx, rec *model.PaymentRecord, remote *adapter.RemotePayment, now time.Time) error {
	if !rec.Plan.Recurring() {
		return nil
	}
	if remote.Instrument == nil || !remote.Instrument.Saved || remote.Instrument.ID == "" {
		return nil
	}

	sub, err := u.subs.FindByUserAndPlan(ctx, tx, rec.UserID, rec.Plan)
	switch {
	case err == nil:
		instID := remote.Instrument.ID
		sub.InstrumentID = &instID
		sub.Amount = rec.Amount
		sub.Currency = rec.Currency
		sub.RecordSuccess(remote.ID, now)
		sub.UpdatedAt = now
	case errors.Is(err, domain.ErrNotFound):
		sub, err = model.NewSubscription(uuid.NewString(), rec.UserID, rec.Plan, rec.Amount, rec.Currency, remote.Instrument.ID, remote.ID)
		if err != nil {
			return err
		}
	default:
		return err
	}
	return u.subs.Save(ctx, tx, sub)
}

// crossValidate checks an inbound succeeded event against the local record.
// Empty string means the event matches.
func crossValidate(rec *model.PaymentRecord, remote *adapter.RemotePayment) string {
	if !remote.Amount.Value.Equal(rec.Amount) {
		return fmt.Sprintf("amount mismatch: local %s, remote %s", rec.Amount.StringFixed(2), remote.Amount.Value.StringFixed(2))
	}
	if remote.Amount.Currency != pricing.Currency {
		return "unexpected currency " + remote.Amount.Currency
	}
	if pid := remote.Metadata["payment_id"]; pid != "" && pid != rec.ID {
		return "metadata payment_id mismatch"
	}
	return ""
}

// cardExpiry derives the card's end-of-month expiry from the snapshot.
func cardExpiry(inst *model.InstrumentSnapshot) *time.Time {
	if inst.Card == nil {
		return nil
	}
	year, err := strconv.Atoi(inst.Card.ExpiryYear)
	if err != nil {
		return nil
	}
	month, err := strconv.Atoi(inst.Card.ExpiryMonth)
	if err != nil || month < 1 || month > 12 {
		return nil
	}
	// first day of the following month: the card works through its
	// expiry month
	exp := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	return &exp
}
