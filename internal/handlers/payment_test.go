package handlers

import (
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/models"
)

func paymentTestOrder(status models.OrderStatus, payment models.PaymentStatus) models.Order {
	return models.Order{
		ID:             primitive.NewObjectID(),
		OrderNumber:    "ORD-12345678901001",
		UserID:         primitive.NewObjectID(),
		Subtotal:       200,
		Total:          200,
		Currency:       "USD",
		PaymentMethod:  "card",
		ShippingMethod: models.ShippingStandard,
		Status:         status,
		PaymentStatus:  payment,
		Refunds:        []models.Refund{},
	}
}

func TestCompleteOrderPaymentAfterFailedAttempt(t *testing.T) {
	order := paymentTestOrder(models.OrderStatusPending, models.PaymentStatusFailed)
	order.FailureReason = "card_declined"
	now := time.Now()

	if err := completeOrderPayment(&order, "ch_retry", now); err != nil {
		t.Fatalf("retried payment on a failed order must complete, got: %v", err)
	}
	if order.PaymentStatus != models.PaymentStatusCompleted {
		t.Fatalf("expected completed, got %s", order.PaymentStatus)
	}
	if order.TransactionID != "ch_retry" {
		t.Fatalf("expected charge id recorded, got %q", order.TransactionID)
	}
	if order.PaidAt == nil {
		t.Fatal("paidAt must be stamped")
	}
	if order.FailureReason != "" {
		t.Fatalf("failure reason must clear on success, got %q", order.FailureReason)
	}
}

func TestCompleteOrderPaymentFromPending(t *testing.T) {
	order := paymentTestOrder(models.OrderStatusPending, models.PaymentStatusPending)

	if err := completeOrderPayment(&order, "ch_1", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.PaymentStatus != models.PaymentStatusCompleted {
		t.Fatalf("expected completed, got %s", order.PaymentStatus)
	}
}

func TestCompleteOrderPaymentAlreadyCompleted(t *testing.T) {
	order := paymentTestOrder(models.OrderStatusConfirmed, models.PaymentStatusCompleted)
	firstPaid := time.Now().Add(-time.Hour)
	order.PaidAt = &firstPaid
	order.TransactionID = "ch_original"

	if err := completeOrderPayment(&order, "ch_duplicate", time.Now()); err != nil {
		t.Fatalf("repeat completion must be a no-op, got: %v", err)
	}
	if order.TransactionID != "ch_original" || !order.PaidAt.Equal(firstPaid) {
		t.Fatalf("original payment record was overwritten: %q %v", order.TransactionID, order.PaidAt)
	}
}

func TestCompleteOrderPaymentRefundedIsTerminal(t *testing.T) {
	order := paymentTestOrder(models.OrderStatusDelivered, models.PaymentStatusRefunded)

	err := completeOrderPayment(&order, "ch_late", time.Now())
	var transitionErr models.InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected invalid transition error, got: %v", err)
	}
	if order.PaymentStatus != models.PaymentStatusRefunded {
		t.Fatalf("refunded order must stay refunded, got %s", order.PaymentStatus)
	}
}
