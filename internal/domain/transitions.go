package domain

import "slices"

// orderStateTransitions maps each status to the statuses it may move to.
// Terminal states (completed, cancelled, refunded) have no outgoing edges.
var orderStateTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPendingPayment: {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:           {OrderStatusInProgress, OrderStatusRefunded, OrderStatusCancelled},
	OrderStatusInProgress:     {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:      {OrderStatusCompleted, OrderStatusInProgress},
}

// allOrderStatuses lists every recognized status value.
var allOrderStatuses = []OrderStatus{
	OrderStatusPendingPayment,
	OrderStatusPaid,
	OrderStatusInProgress,
	OrderStatusDelivered,
	OrderStatusCompleted,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// IsValidOrderStatus reports whether value names a recognized status.
func IsValidOrderStatus(value OrderStatus) bool {
	return slices.Contains(allOrderStatuses, value)
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to OrderStatus) bool {
	return slices.Contains(orderStateTransitions[from], to)
}

// AllowedTransitions returns the statuses reachable from the given status.
// Terminal and unknown statuses yield an empty slice, never nil.
func AllowedTransitions(from OrderStatus) []OrderStatus {
	next, ok := orderStateTransitions[from]
	if !ok {
		return []OrderStatus{}
	}
	return slices.Clone(next)
}

// TransitionMap returns a copy of the full lifecycle table, including
// terminal statuses mapped to empty slices.
func TransitionMap() map[OrderStatus][]OrderStatus {
	out := make(map[OrderStatus][]OrderStatus, len(allOrderStatuses))
	for _, status := range allOrderStatuses {
		out[status] = AllowedTransitions(status)
	}
	return out
}

// IsTerminalStatus reports whether no further transitions are possible.
func IsTerminalStatus(status OrderStatus) bool {
	return len(orderStateTransitions[status]) == 0
}
