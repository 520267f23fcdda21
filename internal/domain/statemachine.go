package domain

// orderStatusTransitions is the authoritative forward transition table.
// Status only advances through this table or jumps to cancelled; it never
// regresses.
var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:   {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered: {},
	OrderStatusCancelled: {},
}

var cancellableStatuses = map[OrderStatus]struct{}{
	OrderStatusPending:   {},
	OrderStatusConfirmed: {},
	OrderStatusShipped:   {},
}

// CanTransition reports whether the order status may move from one state to
// another. A transition to the current state is not permitted; callers treat
// duplicates as no-ops before consulting the table.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderStatusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Cancellable reports whether an order in the given status accepts
// cancellation. Delivered and cancelled orders never do.
func Cancellable(status OrderStatus) bool {
	_, ok := cancellableStatuses[status]
	return ok
}

// TerminalStatus reports whether the status accepts no further transitions.
func TerminalStatus(status OrderStatus) bool {
	return len(orderStatusTransitions[status]) == 0
}

// PaymentOutcome decides the (orderStatus, paymentStatus) pair that results
// from applying a gateway verdict to an order in the given state. The second
// return is false when the verdict must be ignored: the order already left
// pending (duplicate webhook, poll/webhook race, or a cancellation that won),
// in which case applying nothing keeps the state machine consistent.
func PaymentOutcome(current OrderStatus, payment PaymentStatus, succeeded bool) (OrderStatus, PaymentStatus, bool) {
	if current != OrderStatusPending {
		return current, payment, false
	}
	if succeeded {
		return OrderStatusConfirmed, PaymentStatusSuccess, true
	}
	// A failed payment keeps the order pending so the buyer can retry; only
	// the payment status records the failure.
	if payment == PaymentStatusFailed {
		return current, payment, false
	}
	return OrderStatusPending, PaymentStatusFailed, true
}
