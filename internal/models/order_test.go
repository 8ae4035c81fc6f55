package models

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func testOrder(status OrderStatus, payment PaymentStatus) Order {
	return Order{
		ID:             primitive.NewObjectID(),
		OrderNumber:    "ORD-12345678901001",
		UserID:         primitive.NewObjectID(),
		Subtotal:       200,
		Total:          200,
		Currency:       "USD",
		PaymentMethod:  "card",
		ShippingMethod: ShippingStandard,
		Status:         status,
		PaymentStatus:  payment,
		Refunds:        []Refund{},
	}
}

func TestOrderStatusLegalTransitions(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
	}{
		{OrderStatusPending, OrderStatusConfirmed},
		{OrderStatusPending, OrderStatusCancelled},
		{OrderStatusConfirmed, OrderStatusProcessing},
		{OrderStatusConfirmed, OrderStatusCancelled},
		{OrderStatusProcessing, OrderStatusShipped},
		{OrderStatusProcessing, OrderStatusCancelled},
		{OrderStatusShipped, OrderStatusDelivered},
		{OrderStatusShipped, OrderStatusReturned},
		{OrderStatusDelivered, OrderStatusReturned},
	}
	for _, tt := range tests {
		order := testOrder(tt.from, PaymentStatusPending)
		if err := order.UpdateStatus(tt.to, "", time.Now()); err != nil {
			t.Fatalf("%s -> %s should be legal, got %v", tt.from, tt.to, err)
		}
		if order.Status != tt.to {
			t.Fatalf("expected status %s, got %s", tt.to, order.Status)
		}
	}
}

func TestOrderStatusIllegalTransitionLeavesOrderUnchanged(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
	}{
		{OrderStatusPending, OrderStatusShipped},
		{OrderStatusPending, OrderStatusDelivered},
		{OrderStatusConfirmed, OrderStatusDelivered},
		{OrderStatusShipped, OrderStatusCancelled},
		{OrderStatusDelivered, OrderStatusCancelled},
		{OrderStatusCancelled, OrderStatusConfirmed},
		{OrderStatusReturned, OrderStatusPending},
	}
	for _, tt := range tests {
		order := testOrder(tt.from, PaymentStatusPending)
		err := order.UpdateStatus(tt.to, "should not stick", time.Now())
		var transitionErr InvalidTransitionError
		if !errors.As(err, &transitionErr) {
			t.Fatalf("%s -> %s should be rejected, got %v", tt.from, tt.to, err)
		}
		if transitionErr.From != string(tt.from) || transitionErr.To != string(tt.to) {
			t.Fatalf("error must identify the transition, got %+v", transitionErr)
		}
		if order.Status != tt.from {
			t.Fatalf("rejected transition must not change status, got %s", order.Status)
		}
		if order.Notes != "" {
			t.Fatal("rejected transition must not record notes")
		}
	}
}

func TestPaymentStatusTransitions(t *testing.T) {
	order := testOrder(OrderStatusPending, PaymentStatusPending)

	if err := order.UpdatePaymentStatus(PaymentStatusProcessing, time.Now()); err != nil {
		t.Fatalf("pending -> processing should be legal: %v", err)
	}
	if err := order.UpdatePaymentStatus(PaymentStatusFailed, time.Now()); err != nil {
		t.Fatalf("processing -> failed should be legal: %v", err)
	}
	if err := order.UpdatePaymentStatus(PaymentStatusPending, time.Now()); err != nil {
		t.Fatalf("failed -> pending retry should be legal: %v", err)
	}
	if err := order.UpdatePaymentStatus(PaymentStatusCompleted, time.Now()); err != nil {
		t.Fatalf("pending -> completed should be legal: %v", err)
	}

	err := order.UpdatePaymentStatus(PaymentStatusPending, time.Now())
	var transitionErr InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("completed -> pending should be rejected, got %v", err)
	}

	if err := order.UpdatePaymentStatus(PaymentStatusRefunded, time.Now()); err != nil {
		t.Fatalf("completed -> refunded should be legal: %v", err)
	}
	if err := order.UpdatePaymentStatus(PaymentStatusPending, time.Now()); !errors.As(err, &transitionErr) {
		t.Fatalf("refunded is terminal, got %v", err)
	}
}

func TestEnteringProcessingStampsEstimatedDelivery(t *testing.T) {
	tests := []struct {
		method string
		days   int
	}{
		{ShippingSameDay, 0},
		{ShippingOvernight, 1},
		{ShippingExpress, 2},
		{ShippingStandard, 5},
		{"unknown", 5},
	}
	for _, tt := range tests {
		order := testOrder(OrderStatusConfirmed, PaymentStatusCompleted)
		order.ShippingMethod = tt.method
		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		if err := order.UpdateStatus(OrderStatusProcessing, "", now); err != nil {
			t.Fatalf("confirmed -> processing failed: %v", err)
		}
		if order.EstimatedDelivery == nil {
			t.Fatalf("expected estimatedDelivery for method %s", tt.method)
		}
		want := now.AddDate(0, 0, tt.days)
		if !order.EstimatedDelivery.Equal(want) {
			t.Fatalf("method %s: expected eta %v, got %v", tt.method, want, order.EstimatedDelivery)
		}
	}
}

func TestEnteringDeliveredStampsActualDelivery(t *testing.T) {
	order := testOrder(OrderStatusShipped, PaymentStatusCompleted)
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	if err := order.UpdateStatus(OrderStatusDelivered, "", now); err != nil {
		t.Fatalf("shipped -> delivered failed: %v", err)
	}
	if order.ActualDelivery == nil || !order.ActualDelivery.Equal(now) {
		t.Fatalf("expected actualDelivery %v, got %v", now, order.ActualDelivery)
	}
}

func TestMarkPaidIsIdempotent(t *testing.T) {
	order := testOrder(OrderStatusPending, PaymentStatusPending)
	first := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if err := order.MarkPaid("ch_123", first); err != nil {
		t.Fatalf("MarkPaid returned error: %v", err)
	}
	if order.PaymentStatus != PaymentStatusCompleted {
		t.Fatalf("expected completed, got %s", order.PaymentStatus)
	}

	later := first.Add(2 * time.Hour)
	if err := order.MarkPaid("ch_456", later); err != nil {
		t.Fatalf("second MarkPaid returned error: %v", err)
	}
	if !order.PaidAt.Equal(first) {
		t.Fatalf("paidAt must not be overwritten, got %v", order.PaidAt)
	}
	if order.TransactionID != "ch_123" {
		t.Fatalf("transaction id must not be overwritten, got %s", order.TransactionID)
	}
}

func TestRecordRefundRejectsAmountOverTotal(t *testing.T) {
	order := testOrder(OrderStatusDelivered, PaymentStatusCompleted)
	order.Total = 200

	_, err := order.RecordRefund(250, "damaged", "card", "re_1", time.Now())
	var refundErr RefundError
	if !errors.As(err, &refundErr) {
		t.Fatalf("expected RefundError, got %v", err)
	}
	if len(order.Refunds) != 0 || order.PaymentStatus != PaymentStatusCompleted {
		t.Fatal("rejected refund must leave the order unchanged")
	}
}

func TestPartialRefundsAccumulateUpToTotal(t *testing.T) {
	order := testOrder(OrderStatusDelivered, PaymentStatusCompleted)
	order.Total = 200

	if _, err := order.RecordRefund(120, "damaged", "card", "re_1", time.Now()); err != nil {
		t.Fatalf("first refund failed: %v", err)
	}
	if order.PaymentStatus != PaymentStatusRefunded {
		t.Fatalf("expected refunded after first refund, got %s", order.PaymentStatus)
	}

	if _, err := order.RecordRefund(80, "rest", "card", "re_2", time.Now()); err != nil {
		t.Fatalf("second refund failed: %v", err)
	}
	if got := order.RefundedAmount(); got != 200 {
		t.Fatalf("expected refunded amount 200, got %v", got)
	}
	if !order.FullyRefunded() {
		t.Fatal("expected fully refunded")
	}

	if _, err := order.RecordRefund(0.01, "over", "card", "re_3", time.Now()); err == nil {
		t.Fatal("refund past the total must be rejected")
	}
}

func TestRefundableWindow(t *testing.T) {
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	order := testOrder(OrderStatusDelivered, PaymentStatusCompleted)
	delivered := now.AddDate(0, 0, -29)
	order.ActualDelivery = &delivered
	if !order.Refundable(now) {
		t.Fatal("delivered 29 days ago should be refundable")
	}

	stale := now.AddDate(0, 0, -31)
	order.ActualDelivery = &stale
	if order.Refundable(now) {
		t.Fatal("delivered 31 days ago should not be refundable")
	}

	pending := testOrder(OrderStatusPending, PaymentStatusCompleted)
	if pending.Refundable(now) {
		t.Fatal("undelivered order should not be refundable")
	}

	refunded := testOrder(OrderStatusDelivered, PaymentStatusCompleted)
	refunded.Total = 100
	refunded.ActualDelivery = &delivered
	if _, err := refunded.RecordRefund(100, "full", "card", "re_9", now); err != nil {
		t.Fatalf("RecordRefund returned error: %v", err)
	}
	if refunded.Refundable(now) {
		t.Fatal("fully refunded order should not be refundable")
	}
}

func TestRecomputeTotalFloorsAtZero(t *testing.T) {
	order := testOrder(OrderStatusPending, PaymentStatusPending)
	order.Subtotal = 100
	order.Tax = 10
	order.Shipping = 5
	order.Discount = 200
	order.RecomputeTotal()
	if order.Total != 0 {
		t.Fatalf("expected total floored at zero, got %v", order.Total)
	}

	order.Discount = 15
	order.RecomputeTotal()
	if order.Total != 100 {
		t.Fatalf("expected total 100, got %v", order.Total)
	}
}

func TestNewOrderNumberFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^ORD-\d+$`)
	now := time.Now()
	for i := 0; i < 10; i++ {
		number := NewOrderNumber(now)
		if !pattern.MatchString(number) {
			t.Fatalf("unexpected order number format: %s", number)
		}
	}
}

func TestAddTrackingHasNoStatusGuard(t *testing.T) {
	order := testOrder(OrderStatusPending, PaymentStatusPending)
	order.AddTracking("1Z999", "ups", "https://track.example/1Z999", time.Now())
	if order.TrackingNumber != "1Z999" || order.Carrier != "ups" {
		t.Fatalf("tracking not recorded: %+v", order)
	}
}
