package domain

// DeliveryStatus tracks the lifecycle of a message through the dispatch
// pipeline. Values mirror the delivery_status enum in the database.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "PENDING"
	StatusScheduled DeliveryStatus = "SCHEDULED"
	StatusRetrying  DeliveryStatus = "RETRYING"
	StatusSent      DeliveryStatus = "SENT"
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusFailed    DeliveryStatus = "FAILED"
	StatusBounced   DeliveryStatus = "BOUNCED"
	StatusRejected  DeliveryStatus = "REJECTED"
)

// allowedTransitions is the full transition table. Terminal states map to an
// empty set. Any pair not listed here is invalid: the store keeps the current
// status but still appends a history row recording the attempt.
var allowedTransitions = map[DeliveryStatus][]DeliveryStatus{
	StatusPending:   {StatusSent, StatusFailed, StatusRejected, StatusRetrying},
	StatusScheduled: {StatusPending, StatusRejected},
	StatusRetrying:  {StatusSent, StatusFailed, StatusRejected, StatusRetrying},
	StatusSent:      {StatusDelivered, StatusBounced, StatusFailed},
	StatusDelivered: {},
	StatusFailed:    {},
	StatusBounced:   {},
	StatusRejected:  {},
}

func (s DeliveryStatus) IsValid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// IsTerminal reports whether no further transitions are possible.
func (s DeliveryStatus) IsTerminal() bool {
	allowed, ok := allowedTransitions[s]
	return ok && len(allowed) == 0
}

// CanTransition reports whether s → next is in the allowed set.
func (s DeliveryStatus) CanTransition(next DeliveryStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseDeliveryStatus is the textual-value side of the enum codec shared with
// the database enum type.
func ParseDeliveryStatus(s string) (DeliveryStatus, bool) {
	st := DeliveryStatus(s)
	return st, st.IsValid()
}
