//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"kassa-billing/internal/domain"
	"kassa-billing/internal/domain/model"
	"kassa-billing/internal/domain/ports/adapter"
	"kassa-billing/internal/domain/ports/repository"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// ---- Mock TransactionManager ----

// MockTxManager runs the callback directly; the in-memory repos have no
// transactional semantics to honor.
type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// ---- Mock PaymentRecordRepository ----

type MockPaymentRepo struct {
	mu      sync.Mutex
	store   map[string]*model.PaymentRecord
	SaveErr error
	Deleted []string
}

var _ repository.PaymentRecordRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{store: make(map[string]*model.PaymentRecord)}
}

func (m *MockPaymentRepo) All() []*model.PaymentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.PaymentRecord, 0, len(m.store))
	for _, p := range m.store {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

func (m *MockPaymentRepo) Save(_ context.Context, _ repository.Tx, p *model.PaymentRecord) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *MockPaymentRepo) Delete(_ context.Context, _ repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok || p.ProviderPaymentID != nil {
		return nil
	}
	delete(m.store, id)
	m.Deleted = append(m.Deleted, id)
	return nil
}

func (m *MockPaymentRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockPaymentRepo) FindByProviderID(_ context.Context, _ repository.Tx, providerID string) (*model.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.store {
		if p.ProviderPaymentID != nil && *p.ProviderPaymentID == providerID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockPaymentRepo) AttachProviderID(_ context.Context, _ repository.Tx, id, providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.ProviderPaymentID != nil && *p.ProviderPaymentID != providerID {
		return domain.ErrProviderIDMismatch
	}
	p.ProviderPaymentID = &providerID
	return nil
}

func (m *MockPaymentRepo) SetCaptureKey(_ context.Context, _ repository.Tx, id, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.CaptureIdemKey == nil || *p.CaptureIdemKey == "" {
		p.CaptureIdemKey = &key
	}
	return nil
}

func (m *MockPaymentRepo) RecentPendingExists(_ context.Context, _ repository.Tx, userID string, plan model.Plan, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.store {
		if p.UserID == userID && p.Plan == plan && p.Status == model.LocalStatusPending && p.CreatedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockPaymentRepo) SucceededForeverExists(_ context.Context, _ repository.Tx, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.store {
		if p.UserID == userID && p.Plan == model.PlanForever && p.Status == model.LocalStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockPaymentRepo) ListStalePending(_ context.Context, _ repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PaymentRecord
	for _, p := range m.store {
		if p.Status == model.LocalStatusPending && p.ProviderPaymentID != nil && p.CreatedAt.Before(olderThan) {
			cp := *p
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// ---- Mock SubscriptionRepository ----

type MockSubscriptionRepo struct {
	mu    sync.Mutex
	store map[string]*model.Subscription
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{store: make(map[string]*model.Subscription)}
}

func (m *MockSubscriptionRepo) Save(_ context.Context, _ repository.Tx, s *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.store[s.ID] = &cp
	return nil
}

func (m *MockSubscriptionRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MockSubscriptionRepo) FindByUserAndPlan(_ context.Context, _ repository.Tx, userID string, plan model.Plan) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.store {
		if s.UserID == userID && s.Plan == plan {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockSubscriptionRepo) FindActiveByUserAndPlan(_ context.Context, _ repository.Tx, userID string, plan model.Plan) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, s := range m.store {
		if s.UserID == userID && s.Plan == plan && s.Status == model.SubscriptionStatusActive &&
			s.NextChargeAt != nil && s.NextChargeAt.After(now) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockSubscriptionRepo) ListDue(_ context.Context, _ repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.store {
		if s.IsDue(now) {
			cp := *s
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// Count returns the number of stored subscriptions.
func (m *MockSubscriptionRepo) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store)
}

// ---- Mock CouponRepository ----

type MockCouponRepo struct {
	mu    sync.Mutex
	store map[string]*model.Coupon
}

var _ repository.CouponRepository = (*MockCouponRepo)(nil)

func NewMockCouponRepo() *MockCouponRepo {
	return &MockCouponRepo{store: make(map[string]*model.Coupon)}
}

func (m *MockCouponRepo) Save(_ context.Context, _ repository.Tx, c *model.Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.store[c.Code] = &cp
	return nil
}

func (m *MockCouponRepo) FindByCode(_ context.Context, _ repository.Tx, code string) (*model.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.store[code]
	if !ok {
		return nil, domain.ErrCouponNotFound
	}
	cp := *c
	return &cp, nil
}

// ---- Mock EventLogRepository ----

type MockEventLogRepo struct {
	mu      sync.Mutex
	Entries []*model.EventLogEntry
}

var _ repository.EventLogRepository = (*MockEventLogRepo)(nil)

func NewMockEventLogRepo() *MockEventLogRepo {
	return &MockEventLogRepo{}
}

func (m *MockEventLogRepo) Save(_ context.Context, _ repository.Tx, e *model.EventLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.Entries = append(m.Entries, &cp)
	return nil
}

func (m *MockEventLogRepo) MarkApplied(_ context.Context, _ repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Entries {
		if e.ID == id {
			e.Applied = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *MockEventLogRepo) SetNote(_ context.Context, _ repository.Tx, id, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Entries {
		if e.ID == id {
			e.Note = note
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *MockEventLogRepo) CountByEventID(_ context.Context, _ repository.Tx, eventID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.Entries {
		if e.EventID == eventID {
			n++
		}
	}
	return n, nil
}

// ---- Mock KassaGateway ----

type MockGateway struct {
	mu sync.Mutex

	CreatePaymentFunc  func(ctx context.Context, req adapter.CreatePaymentRequest, idemKey string) (*adapter.RemotePayment, error)
	FindPaymentFunc    func(ctx context.Context, providerPaymentID string) (*adapter.RemotePayment, error)
	CapturePaymentFunc func(ctx context.Context, providerPaymentID string, amount adapter.RemoteAmount, idemKey string) (*adapter.RemotePayment, error)
	CreateRefundFunc   func(ctx context.Context, providerPaymentID string, amount adapter.RemoteAmount, description string) (*adapter.RemoteRefund, error)

	CreateCalls  []adapter.CreatePaymentRequest
	IdemKeys     []string
	CaptureCalls []string
}

var _ adapter.KassaGateway = (*MockGateway)(nil)

func (m *MockGateway) Name() string { return "mock" }

func (m *MockGateway) CreatePayment(ctx context.Context, req adapter.CreatePaymentRequest, idemKey string) (*adapter.RemotePayment, error) {
	m.mu.Lock()
	m.CreateCalls = append(m.CreateCalls, req)
	m.IdemKeys = append(m.IdemKeys, idemKey)
	m.mu.Unlock()
	if m.CreatePaymentFunc != nil {
		return m.CreatePaymentFunc(ctx, req, idemKey)
	}
	return &adapter.RemotePayment{
		ID:              uuid.NewString(),
		Status:          "pending",
		Amount:          req.Amount,
		Metadata:        req.Metadata,
		ConfirmationURL: "https://pay.example/confirm",
	}, nil
}

func (m *MockGateway) FindPayment(ctx context.Context, providerPaymentID string) (*adapter.RemotePayment, error) {
	if m.FindPaymentFunc != nil {
		return m.FindPaymentFunc(ctx, providerPaymentID)
	}
	return nil, domain.ErrNotFound
}

func (m *MockGateway) CapturePayment(ctx context.Context, providerPaymentID string, amount adapter.RemoteAmount, idemKey string) (*adapter.RemotePayment, error) {
	m.mu.Lock()
	m.CaptureCalls = append(m.CaptureCalls, idemKey)
	m.mu.Unlock()
	if m.CapturePaymentFunc != nil {
		return m.CapturePaymentFunc(ctx, providerPaymentID, amount, idemKey)
	}
	return &adapter.RemotePayment{
		ID:     providerPaymentID,
		Status: model.ProviderStatusSucceeded,
		Paid:   true,
		Amount: amount,
	}, nil
}

func (m *MockGateway) CreateRefund(ctx context.Context, providerPaymentID string, amount adapter.RemoteAmount, description string) (*adapter.RemoteRefund, error) {
	if m.CreateRefundFunc != nil {
		return m.CreateRefundFunc(ctx, providerPaymentID, amount, description)
	}
	return &adapter.RemoteRefund{
		ID:        uuid.NewString(),
		PaymentID: providerPaymentID,
		Status:    "succeeded",
		Amount:    amount,
	}, nil
}

// ---- Mock Locker ----

type MockLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func NewMockLocker() *MockLocker {
	return &MockLocker{held: make(map[string]string)}
}

func (m *MockLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return "", domain.ErrChargeLocked
	}
	token := uuid.NewString()
	m.held[key] = token
	return token, nil
}

func (m *MockLocker) Unlock(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] == token {
		delete(m.held, key)
	}
	return nil
}

// Hold marks a key as already locked by someone else.
func (m *MockLocker) Hold(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[key] = "other"
}
