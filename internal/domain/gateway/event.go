package gateway

import "github.com/cassiomorais/paygate/internal/domain/payment"

// EventType is the normalized webhook event vocabulary.
type EventType string

const (
	EventPaymentCompleted EventType = "payment.completed"
	EventPaymentFailed    EventType = "payment.failed"
	EventPaymentCancelled EventType = "payment.cancelled"
	EventRefundCompleted  EventType = "refund.completed"
	// EventRefundReported is a refund notice that does not say whether the
	// whole payment was refunded. The provider must be polled to find out.
	EventRefundReported EventType = "refund.reported"
	EventUnknown        EventType = "unknown"
)

// TargetStatus returns the record status an event drives towards. ok is false
// for EventUnknown and EventRefundReported.
func (e EventType) TargetStatus() (status payment.Status, ok bool) {
	switch e {
	case EventPaymentCompleted:
		return payment.StatusCompleted, true
	case EventPaymentFailed:
		return payment.StatusFailed, true
	case EventPaymentCancelled:
		return payment.StatusCancelled, true
	case EventRefundCompleted:
		return payment.StatusRefunded, true
	}
	return "", false
}

// NeedsConfirmation reports whether the event only becomes actionable after a
// status poll.
func (e EventType) NeedsConfirmation() bool {
	return e == EventRefundReported
}

// WebhookEvent is parsed from a verified provider callback and consumed once.
type WebhookEvent struct {
	Type          EventType
	TransactionID string
	Amount        string
	Currency      string
	// Metadata carries provider-native details for logs and the audit trail.
	// Every adapter stores the native event name under MetadataEventType.
	Metadata map[string]string
}

// MetadataEventType is the Metadata key holding the provider's own event name.
const MetadataEventType = "event_type"
