package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"storefront/internal/config"
	"storefront/internal/models"
	"storefront/internal/payments"
)

const maxWebhookBody = 1 << 20

// errUnknownIntent means the event references an intent no order stores.
// Acknowledged rather than retried: redelivery cannot make it resolvable.
var errUnknownIntent = errors.New("no order for payment intent")

// PaymentWebhook receives signed events from the payment processor. The raw
// body's signature is verified before any parsing; handler failures answer
// 5xx so the processor's retry mechanism redelivers, and every recognized
// event is safe to apply twice.
func PaymentWebhook(db *mongo.Database, webhookSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /payments/webhook"
		defer handlePanic(c, route)

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "unreadable body")
			return
		}

		now := time.Now()
		header := c.GetHeader(payments.SignatureHeader)
		if err := payments.VerifySignature(body, header, webhookSecret, now, payments.DefaultSignatureTolerance); err != nil {
			log.Printf("[%s] rejected delivery: %v", route, err)
			respondWithError(c, http.StatusBadRequest, route, codeUnauthorized, "invalid signature")
			return
		}

		event, err := payments.ParseEvent(body)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid event payload")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*config.AppEnv.RequestTimeout)
		defer cancel()

		switch event.Type {
		case payments.EventPaymentSucceeded:
			err = applyPaymentSucceeded(ctx, db, event, now)
		case payments.EventPaymentFailed:
			err = applyPaymentFailed(ctx, db, event, now)
		case payments.EventChargeRefunded:
			err = applyChargeRefunded(ctx, db, event, now)
		default:
			// Forward-compatible: acknowledge kinds this version does not
			// reconcile so the processor stops redelivering them.
			log.Printf("[%s] ignoring event type %q (%s)", route, event.Type, event.ID)
			respondSuccess(c, http.StatusOK, "ignored", gin.H{"received": true})
			return
		}

		if errors.Is(err, errUnknownIntent) {
			log.Printf("[%s] [WARN] event %s references unknown intent %s", route, event.ID, event.Data.PaymentIntentID)
			respondSuccess(c, http.StatusOK, "no matching order", gin.H{"received": true})
			return
		}
		if err != nil {
			log.Printf("[%s] event %s (%s) failed: %v", route, event.ID, event.Type, err)
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "event processing failed")
			return
		}

		respondSuccess(c, http.StatusOK, "processed", gin.H{"received": true})
	}
}

func orderByIntent(ctx context.Context, db *mongo.Database, intentID string) (models.Order, error) {
	var order models.Order
	if intentID == "" {
		return order, errUnknownIntent
	}
	err := db.Collection("orders").FindOne(ctx, bson.M{"paymentIntentId": intentID}).Decode(&order)
	if err == mongo.ErrNoDocuments {
		return order, errUnknownIntent
	}
	return order, err
}

// applyPaymentSucceeded completes the order's payment. Redelivery is a
// no-op: an already-completed order keeps its original paidAt and
// transaction id.
func applyPaymentSucceeded(ctx context.Context, db *mongo.Database, event *payments.Event, now time.Time) error {
	order, err := orderByIntent(ctx, db, event.Data.PaymentIntentID)
	if err != nil {
		return err
	}
	if order.PaymentStatus == models.PaymentStatusCompleted {
		return nil
	}

	fromStatus := order.Status
	fromPayment := order.PaymentStatus

	if err := completeOrderPayment(&order, event.Data.ChargeID, now); err != nil {
		return err
	}

	ok, err := replaceOrderIf(ctx, db, &order, fromStatus, fromPayment)
	if err != nil {
		return err
	}
	if !ok {
		// Lost the write race. If the stored order is completed the effect
		// already happened; anything else redelivers.
		stored, err := orderByIntent(ctx, db, event.Data.PaymentIntentID)
		if err != nil {
			return err
		}
		if stored.PaymentStatus != models.PaymentStatusCompleted {
			return errors.New("concurrent update, retry")
		}
	}
	return nil
}

// applyPaymentFailed records the failure reason. Out-of-order deliveries on
// an already-completed or refunded order are acknowledged without effect.
func applyPaymentFailed(ctx context.Context, db *mongo.Database, event *payments.Event, now time.Time) error {
	order, err := orderByIntent(ctx, db, event.Data.PaymentIntentID)
	if err != nil {
		return err
	}
	switch order.PaymentStatus {
	case models.PaymentStatusFailed, models.PaymentStatusCompleted, models.PaymentStatusRefunded:
		return nil
	}

	fromStatus := order.Status
	fromPayment := order.PaymentStatus
	if err := order.UpdatePaymentStatus(models.PaymentStatusFailed, now); err != nil {
		return err
	}
	order.FailureReason = event.Data.Reason

	ok, err := replaceOrderIf(ctx, db, &order, fromStatus, fromPayment)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("concurrent update, retry")
	}
	return nil
}

// applyChargeRefunded appends a refund derived from the processor's amount.
// Deduplicated on the processor refund id so redeliveries, and refunds this
// service itself initiated, are not double-counted.
func applyChargeRefunded(ctx context.Context, db *mongo.Database, event *payments.Event, now time.Time) error {
	order, err := orderByIntent(ctx, db, event.Data.PaymentIntentID)
	if err != nil {
		return err
	}

	reference := event.Data.RefundID
	if reference == "" {
		reference = event.Data.ChargeID
	}
	for _, r := range order.Refunds {
		if r.Reference == reference {
			return nil
		}
	}

	amount := float64(event.Data.Amount) / 100
	if order.PaymentStatus == models.PaymentStatusRefunded && order.FullyRefunded() {
		return nil
	}

	fromStatus := order.Status
	fromPayment := order.PaymentStatus
	if _, err := order.RecordRefund(amount, event.Data.Reason, order.PaymentMethod, reference, now); err != nil {
		return err
	}

	ok, err := replaceOrderIf(ctx, db, &order, fromStatus, fromPayment)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("concurrent update, retry")
	}
	return nil
}
