package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for payment record persistence
type Repository interface {
	// Create stores a new record. Fails with ErrPaymentPending when the order
	// already has a pending record.
	Create(ctx context.Context, record *Record) error

	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)

	// GetByTransactionID looks a record up by provider and provider-assigned id.
	GetByTransactionID(ctx context.Context, method Method, txID string) (*Record, error)

	// GetPendingByOrderID returns the unresolved record for an order, if any.
	GetPendingByOrderID(ctx context.Context, orderID string) (*Record, error)

	// LockByTransactionID reads the record and row-locks it for the rest of
	// the surrounding transaction.
	LockByTransactionID(ctx context.Context, method Method, txID string) (*Record, error)

	// CompareAndSetStatus moves the record from one status to another only if
	// it is still in from. paidAt is kept if already set.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to Status, paidAt *time.Time) (bool, error)

	List(ctx context.Context, filter ListFilter) ([]*Record, error)

	// AddEvent adds a payment event for audit trail
	AddEvent(ctx context.Context, event *Event) error

	GetEvents(ctx context.Context, recordID uuid.UUID) ([]*Event, error)
}

// ListFilter defines filters for listing payments
type ListFilter struct {
	OrderID *string
	Status  *Status
	Method  *Method
	// CreatedBefore restricts the listing to records created strictly earlier.
	CreatedBefore *time.Time
	Limit         int
	Offset        int
	SortBy        string
	SortOrder     string
}

// Event is an audit entry in a payment's lifecycle.
type Event struct {
	ID         uuid.UUID
	RecordID   uuid.UUID
	EventType  string
	Source     string
	FromStatus Status
	ToStatus   Status
	EventData  map[string]any
	CreatedAt  time.Time
}

// Audit event types.
const (
	EventCreated         = "payment.created"
	EventTransitioned    = "payment.transitioned"
	EventReconcileNoop   = "reconcile.noop"
	EventPartialRefund   = "refund.partial"
	EventRefundRequested = "refund.requested"
)

// NewEvent builds an audit event for a record.
func NewEvent(recordID uuid.UUID, eventType, source string, from, to Status, data map[string]any) *Event {
	if data == nil {
		data = map[string]any{}
	}
	return &Event{
		ID:         uuid.New(),
		RecordID:   recordID,
		EventType:  eventType,
		Source:     source,
		FromStatus: from,
		ToStatus:   to,
		EventData:  data,
		CreatedAt:  time.Now().UTC(),
	}
}
