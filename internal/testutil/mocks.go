package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/cassiomorais/paygate/internal/domain/gateway"
	"github.com/cassiomorais/paygate/internal/domain/order"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- Payment Repository Mock ---

// MockPaymentRepository is an in-memory payment.Repository with the same
// uniqueness and compare-and-set rules as the Postgres one. Records are
// copied on the way in and out.
type MockPaymentRepository struct {
	mu      sync.Mutex
	records map[uuid.UUID]*payment.Record
	events  map[uuid.UUID][]*payment.Event

	CreateFunc   func(ctx context.Context, r *payment.Record) error
	AddEventFunc func(ctx context.Context, event *payment.Event) error
}

func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{
		records: make(map[uuid.UUID]*payment.Record),
		events:  make(map[uuid.UUID][]*payment.Event),
	}
}

// AddRecord pre-populates the mock, bypassing the uniqueness checks.
func (m *MockPaymentRepository) AddRecord(r *payment.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = copyRecord(r)
}

func (m *MockPaymentRepository) Create(ctx context.Context, r *payment.Record) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.Method == r.Method && existing.ExternalTransactionID == r.ExternalTransactionID {
			return domainErrors.ErrDuplicateTransaction
		}
		if r.Status == payment.StatusPending && existing.OrderID == r.OrderID && existing.Status == payment.StatusPending {
			return domainErrors.ErrPaymentPending
		}
	}
	m.records[r.ID] = copyRecord(r)
	return nil
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, domainErrors.ErrPaymentNotFound
	}
	return copyRecord(r), nil
}

func (m *MockPaymentRepository) GetByTransactionID(ctx context.Context, method payment.Method, txID string) (*payment.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.Method == method && r.ExternalTransactionID == txID {
			return copyRecord(r), nil
		}
	}
	return nil, domainErrors.ErrPaymentNotFound
}

func (m *MockPaymentRepository) GetPendingByOrderID(ctx context.Context, orderID string) (*payment.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.OrderID == orderID && r.Status == payment.StatusPending {
			return copyRecord(r), nil
		}
	}
	return nil, domainErrors.ErrPaymentNotFound
}

// LockByTransactionID has no row lock to take; callers serialize through a
// Locker in tests.
func (m *MockPaymentRepository) LockByTransactionID(ctx context.Context, method payment.Method, txID string) (*payment.Record, error) {
	return m.GetByTransactionID(ctx, method, txID)
}

func (m *MockPaymentRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to payment.Status, paidAt *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	if r.PaidAt == nil && paidAt != nil {
		t := *paidAt
		r.PaidAt = &t
	}
	return true, nil
}

func (m *MockPaymentRepository) List(ctx context.Context, filter payment.ListFilter) ([]*payment.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*payment.Record, 0, len(m.records))
	for _, r := range m.records {
		if filter.OrderID != nil && r.OrderID != *filter.OrderID {
			continue
		}
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		if filter.Method != nil && r.Method != *filter.Method {
			continue
		}
		if filter.CreatedBefore != nil && !r.CreatedAt.Before(*filter.CreatedBefore) {
			continue
		}
		result = append(result, copyRecord(r))
	}
	if strings.EqualFold(filter.SortOrder, "asc") {
		sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	} else {
		sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *MockPaymentRepository) AddEvent(ctx context.Context, event *payment.Event) error {
	if m.AddEventFunc != nil {
		return m.AddEventFunc(ctx, event)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.RecordID] = append(m.events[event.RecordID], event)
	return nil
}

func (m *MockPaymentRepository) GetEvents(ctx context.Context, recordID uuid.UUID) ([]*payment.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*payment.Event(nil), m.events[recordID]...), nil
}

// EventTypes lists the audit event types of a record in insertion order.
func (m *MockPaymentRepository) EventTypes(recordID uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.events[recordID]))
	for _, e := range m.events[recordID] {
		types = append(types, e.EventType)
	}
	return types
}

// Count returns the number of stored records.
func (m *MockPaymentRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func copyRecord(r *payment.Record) *payment.Record {
	c := *r
	if r.PaidAt != nil {
		t := *r.PaidAt
		c.PaidAt = &t
	}
	return &c
}

// --- Order Repository Mock ---

// MockOrderRepository is an in-memory order.Repository.
type MockOrderRepository struct {
	mu     sync.Mutex
	orders map[string]*order.Order

	SetPaymentStatusFunc func(ctx context.Context, id string, status order.PaymentStatus) error
}

func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{orders: make(map[string]*order.Order)}
}

func (m *MockOrderRepository) AddOrder(o *order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *o
	m.orders[o.ID] = &c
}

func (m *MockOrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domainErrors.ErrOrderNotFound
	}
	c := *o
	return &c, nil
}

func (m *MockOrderRepository) SetPaymentStatus(ctx context.Context, id string, status order.PaymentStatus) error {
	if m.SetPaymentStatusFunc != nil {
		return m.SetPaymentStatusFunc(ctx, id, status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domainErrors.ErrOrderNotFound
	}
	o.PaymentStatus = status
	return nil
}

// PaymentStatus returns the stored order's payment status.
func (m *MockOrderRepository) PaymentStatus(id string) order.PaymentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		return o.PaymentStatus
	}
	return ""
}

// --- Transaction Manager Mock ---

// MockTransactionManager is a mock implementation of TransactionManager.
type MockTransactionManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

// --- Locker Mock ---

// MockLocker holds one in-process mutex per key.
type MockLocker struct {
	mu    sync.Mutex
	keys  map[string]*sync.Mutex
	Taken []string

	LockFunc func(ctx context.Context, key string) (func(context.Context) error, error)
}

func NewMockLocker() *MockLocker {
	return &MockLocker{keys: make(map[string]*sync.Mutex)}
}

func (m *MockLocker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	if m.LockFunc != nil {
		return m.LockFunc(ctx, key)
	}
	m.mu.Lock()
	km, ok := m.keys[key]
	if !ok {
		km = &sync.Mutex{}
		m.keys[key] = km
	}
	m.Taken = append(m.Taken, key)
	m.mu.Unlock()

	km.Lock()
	return func(context.Context) error {
		km.Unlock()
		return nil
	}, nil
}

// --- Gateway Mock ---

// MockGateway is a scriptable gateway.Gateway. Unset funcs succeed with a
// pending payment whose transaction id is "<name>_tx_<n>".
type MockGateway struct {
	GatewayName string
	Currencies  []string
	Minimum     decimal.Decimal
	Secret      string

	mu    sync.Mutex
	seq   int
	Calls []string

	CreateFunc func(ctx context.Context, req gateway.CreateRequest) gateway.CreateResult
	VerifyFunc func(ctx context.Context, txID string) gateway.VerifyResult
	RefundFunc func(ctx context.Context, txID string, req gateway.RefundRequest) gateway.RefundResult
	CancelFunc func(ctx context.Context, txID string) gateway.CancelResult
	ParseFunc  func(payload []byte) (gateway.WebhookEvent, error)
}

func NewMockGateway(name string, currencies ...string) *MockGateway {
	if len(currencies) == 0 {
		currencies = []string{"PHP"}
	}
	return &MockGateway{
		GatewayName: name,
		Currencies:  currencies,
		Minimum:     decimal.NewFromInt(1),
		Secret:      "whsec_test",
	}
}

func (m *MockGateway) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
}

// CallCount returns how many times op was called.
func (m *MockGateway) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c == op {
			n++
		}
	}
	return n
}

func (m *MockGateway) CreatePayment(ctx context.Context, req gateway.CreateRequest) gateway.CreateResult {
	m.record("create")
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, req)
	}
	m.mu.Lock()
	m.seq++
	n := m.seq
	m.mu.Unlock()
	txID := fmt.Sprintf("%s_tx_%03d", m.GatewayName, n)
	return gateway.CreateResult{
		Outcome:       gateway.Succeeded("created"),
		TransactionID: txID,
		Status:        payment.StatusPending,
		RedirectURL:   "https://pay.example.com/" + txID,
	}
}

func (m *MockGateway) VerifyPayment(ctx context.Context, txID string) gateway.VerifyResult {
	m.record("verify")
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, txID)
	}
	return gateway.VerifyResult{Outcome: gateway.Succeeded("pending"), TransactionID: txID, Status: payment.StatusPending}
}

func (m *MockGateway) RefundPayment(ctx context.Context, txID string, req gateway.RefundRequest) gateway.RefundResult {
	m.record("refund")
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, txID, req)
	}
	res := gateway.RefundResult{Outcome: gateway.Succeeded("refunded"), RefundID: "rf_" + txID, TransactionID: txID, Status: payment.StatusRefunded}
	if req.Amount != nil {
		res.Amount = *req.Amount
	}
	return res
}

func (m *MockGateway) CancelPayment(ctx context.Context, txID string) gateway.CancelResult {
	m.record("cancel")
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, txID)
	}
	return gateway.CancelResult{Outcome: gateway.Succeeded("cancelled"), TransactionID: txID, Status: payment.StatusCancelled}
}

// VerifyWebhookSignature accepts a request whose X-Test-Signature header
// equals Secret. An empty Secret rejects everything.
func (m *MockGateway) VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) bool {
	return m.Secret != "" && headers.Get("X-Test-Signature") == m.Secret
}

func (m *MockGateway) ParseWebhook(payload []byte) (gateway.WebhookEvent, error) {
	if m.ParseFunc != nil {
		return m.ParseFunc(payload)
	}
	return ParseTestWebhook(payload)
}

func (m *MockGateway) SupportedCurrencies() []string { return m.Currencies }

func (m *MockGateway) SupportsCurrency(code string) bool {
	for _, c := range m.Currencies {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

func (m *MockGateway) MinimumAmount(string) decimal.Decimal { return m.Minimum }

func (m *MockGateway) Name() string { return m.GatewayName }

// MockCapturingGateway adds capture support to MockGateway.
type MockCapturingGateway struct {
	*MockGateway
	CaptureFunc func(ctx context.Context, txID string) gateway.VerifyResult
}

func (m *MockCapturingGateway) CapturePayment(ctx context.Context, txID string) gateway.VerifyResult {
	m.record("capture")
	if m.CaptureFunc != nil {
		return m.CaptureFunc(ctx, txID)
	}
	now := time.Now().UTC()
	return gateway.VerifyResult{Outcome: gateway.Succeeded("captured"), TransactionID: txID, Status: payment.StatusCompleted, PaidAt: &now}
}
