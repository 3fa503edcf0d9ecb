package domain

import "testing"

func TestCanTransitionAllowsDefinedEdges(t *testing.T) {
	allowed := []struct {
		from OrderStatus
		to   OrderStatus
	}{
		{OrderStatusPendingPayment, OrderStatusPaid},
		{OrderStatusPendingPayment, OrderStatusCancelled},
		{OrderStatusPaid, OrderStatusInProgress},
		{OrderStatusPaid, OrderStatusRefunded},
		{OrderStatusPaid, OrderStatusCancelled},
		{OrderStatusInProgress, OrderStatusDelivered},
		{OrderStatusInProgress, OrderStatusCancelled},
		{OrderStatusDelivered, OrderStatusCompleted},
		{OrderStatusDelivered, OrderStatusInProgress},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}
}

func TestCanTransitionRejectsUndefinedEdges(t *testing.T) {
	rejected := []struct {
		from OrderStatus
		to   OrderStatus
	}{
		{OrderStatusPendingPayment, OrderStatusDelivered},
		{OrderStatusPendingPayment, OrderStatusRefunded},
		{OrderStatusPaid, OrderStatusCompleted},
		{OrderStatusInProgress, OrderStatusRefunded},
		{OrderStatusDelivered, OrderStatusCancelled},
		{OrderStatusCompleted, OrderStatusInProgress},
		{OrderStatusCancelled, OrderStatusPaid},
		{OrderStatusRefunded, OrderStatusPaid},
		{OrderStatusPaid, OrderStatusPaid},
	}
	for _, tc := range rejected {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	for _, status := range []OrderStatus{OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded} {
		if !IsTerminalStatus(status) {
			t.Errorf("expected %s to be terminal", status)
		}
		if got := AllowedTransitions(status); len(got) != 0 {
			t.Errorf("expected no transitions from %s, got %v", status, got)
		}
	}
}

func TestAllowedTransitionsReturnsCopy(t *testing.T) {
	first := AllowedTransitions(OrderStatusPaid)
	if len(first) == 0 {
		t.Fatalf("expected transitions from %s", OrderStatusPaid)
	}
	first[0] = OrderStatus("mutated")
	second := AllowedTransitions(OrderStatusPaid)
	if second[0] == OrderStatus("mutated") {
		t.Fatalf("AllowedTransitions leaked internal slice")
	}
}

func TestIsValidOrderStatus(t *testing.T) {
	for _, status := range allOrderStatuses {
		if !IsValidOrderStatus(status) {
			t.Errorf("expected %s to be valid", status)
		}
	}
	for _, status := range []OrderStatus{"", "shipped", "PAID", "unknown"} {
		if IsValidOrderStatus(status) {
			t.Errorf("expected %q to be invalid", status)
		}
	}
}
