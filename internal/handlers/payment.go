package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"storefront/internal/config"
	"storefront/internal/middleware"
	"storefront/internal/models"
	"storefront/internal/payments"
)

/* =========================
   REQUEST DTOs
========================= */

type createIntentRequest struct {
	OrderID       string `json:"orderId" binding:"required"`
	PaymentMethod string `json:"paymentMethod"`
}

type confirmPaymentRequest struct {
	PaymentIntentID string `json:"paymentIntentId" binding:"required"`
	OrderID         string `json:"orderId" binding:"required"`
	PaymentMethodID string `json:"paymentMethodId"`
}

type refundRequest struct {
	Amount float64 `json:"amount" binding:"required"`
	Reason string  `json:"reason"`
}

// respondProcessorError maps a gateway failure onto the caller: the
// gateway's own 4xx stays a 400, anything else is a bad gateway. The order
// is always left in its last-known-good state before this is called.
func respondProcessorError(c *gin.Context, route string, err error) {
	var procErr *payments.ProcessorError
	if errors.As(err, &procErr) && procErr.StatusCode >= 400 && procErr.StatusCode < 500 {
		respondWithDetails(c, http.StatusBadRequest, route, codePaymentProcessor, procErr.Message, gin.H{
			"processorCode": procErr.Code,
		})
		return
	}
	log.Printf("[%s] processor call failed: %v", route, err)
	respondWithError(c, http.StatusBadGateway, route, codePaymentProcessor, "payment processor unavailable")
}

/* =========================
   CREATE INTENT
========================= */

// CreatePaymentIntent creates (or reuses) a processor intent scoped to the
// order total in minor units and stores the intent id on the order.
func CreatePaymentIntent(db *mongo.Database, processor payments.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /payments/create-intent"
		defer handlePanic(c, route)

		userID, ok := middleware.UserIDFromContext(c)
		if !ok {
			respondWithError(c, http.StatusUnauthorized, route, codeUnauthorized, "unauthorized")
			return
		}

		var req createIntentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid request body")
			return
		}

		orderID, err := primitive.ObjectIDFromHex(req.OrderID)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid orderId")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 4*config.AppEnv.RequestTimeout)
		defer cancel()

		order, err := loadOrder(ctx, db, orderID)
		if err == mongo.ErrNoDocuments {
			respondWithError(c, http.StatusNotFound, route, codeNotFound, "order not found")
			return
		}
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}
		if order.UserID != userID && !middleware.IsStaff(c) {
			respondWithError(c, http.StatusNotFound, route, codeNotFound, "order not found")
			return
		}
		if order.PaymentStatus == models.PaymentStatusCompleted || order.PaymentStatus == models.PaymentStatusRefunded {
			respondWithError(c, http.StatusBadRequest, route, codeConflict, "order is already paid")
			return
		}
		if order.Status == models.OrderStatusCancelled {
			respondWithError(c, http.StatusBadRequest, route, codeConflict, "order is cancelled")
			return
		}

		// Reuse a still-open intent instead of scattering duplicates at the
		// processor.
		if order.PaymentIntentID != "" {
			intent, err := processor.GetIntent(ctx, order.PaymentIntentID)
			if err == nil && intent.Status != payments.IntentStatusCanceled && intent.Status != payments.IntentStatusSucceeded {
				respondSuccess(c, http.StatusOK, "payment intent", gin.H{
					"paymentIntentId": intent.ID,
					"clientSecret":    intent.ClientSecret,
				})
				return
			}
			if err != nil {
				log.Printf("[%s] stored intent %s lookup failed, creating a new one: %v", route, order.PaymentIntentID, err)
			}
		}

		intent, err := processor.CreateIntent(ctx, payments.CreateIntentRequest{
			Amount:        payments.MinorUnits(order.Total),
			Currency:      order.Currency,
			OrderNumber:   order.OrderNumber,
			PaymentMethod: req.PaymentMethod,
		})
		if err != nil {
			respondProcessorError(c, route, err)
			return
		}

		_, err = db.Collection("orders").UpdateOne(ctx,
			bson.M{"_id": order.ID},
			bson.M{"$set": bson.M{"paymentIntentId": intent.ID, "updatedAt": time.Now()}},
		)
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}

		respondSuccess(c, http.StatusOK, "payment intent created", gin.H{
			"paymentIntentId": intent.ID,
			"clientSecret":    intent.ClientSecret,
		})
	}
}

/* =========================
   CONFIRM
========================= */

// ConfirmPayment confirms an intent at the processor and, only on confirmed
// success, moves the order to completed with paidAt and the charge id. A
// processor failure leaves the order unchanged, so retrying is safe.
func ConfirmPayment(db *mongo.Database, processor payments.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /payments/confirm"
		defer handlePanic(c, route)

		userID, ok := middleware.UserIDFromContext(c)
		if !ok {
			respondWithError(c, http.StatusUnauthorized, route, codeUnauthorized, "unauthorized")
			return
		}

		var req confirmPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid request body")
			return
		}

		orderID, err := primitive.ObjectIDFromHex(req.OrderID)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid orderId")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 4*config.AppEnv.RequestTimeout)
		defer cancel()

		now := time.Now()

		order, err := loadOrder(ctx, db, orderID)
		if err == mongo.ErrNoDocuments {
			respondWithError(c, http.StatusNotFound, route, codeNotFound, "order not found")
			return
		}
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}
		if order.UserID != userID && !middleware.IsStaff(c) {
			respondWithError(c, http.StatusNotFound, route, codeNotFound, "order not found")
			return
		}
		if order.PaymentIntentID == "" || order.PaymentIntentID != req.PaymentIntentID {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "payment intent does not belong to this order")
			return
		}
		if order.PaymentStatus == models.PaymentStatusCompleted {
			// Confirming twice is a no-op, mirroring the webhook path.
			respondSuccess(c, http.StatusOK, "payment already completed", gin.H{"order": order})
			return
		}

		intent, err := processor.ConfirmIntent(ctx, req.PaymentIntentID, req.PaymentMethodID)
		if err != nil {
			respondProcessorError(c, route, err)
			return
		}
		if intent.Status != payments.IntentStatusSucceeded {
			respondWithDetails(c, http.StatusBadRequest, route, codePaymentProcessor, "payment was not confirmed", gin.H{
				"intentStatus": intent.Status,
			})
			return
		}

		fromStatus := order.Status
		fromPayment := order.PaymentStatus
		if err := completeOrderPayment(&order, intent.ChargeID, now); err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, err.Error())
			return
		}

		ok, err = replaceOrderIf(ctx, db, &order, fromStatus, fromPayment)
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}
		if !ok {
			// A webhook likely landed first; the stored state is already
			// correct.
			stored, err := loadOrder(ctx, db, orderID)
			if err != nil {
				respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
				return
			}
			order = stored
		}

		log.Println("[PAYMENT] [INFO] payment confirmed for order:", order.OrderNumber)

		respondSuccess(c, http.StatusOK, "payment confirmed", gin.H{
			"order":  order,
			"intent": intent,
		})
	}
}

// completeOrderPayment moves the order's payment to completed. A processor
// success can land on a failed order when the customer retried; step back
// through the retry transition first so the state machine is never bypassed.
func completeOrderPayment(order *models.Order, chargeID string, now time.Time) error {
	if order.PaymentStatus == models.PaymentStatusFailed {
		if err := order.UpdatePaymentStatus(models.PaymentStatusPending, now); err != nil {
			return err
		}
	}
	return order.MarkPaid(chargeID, now)
}

/* =========================
   REFUND (STAFF)
========================= */

// ProcessRefund executes a refund at the processor, then records it on the
// order. Precondition: paymentStatus is completed and a charge id is stored.
// When the processor call fails the order is left unmodified.
func ProcessRefund(db *mongo.Database, processor payments.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /payments/:orderId/refund"
		defer handlePanic(c, route)

		orderID, err := primitive.ObjectIDFromHex(c.Param("orderId"))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid orderId")
			return
		}

		var req refundRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid request body")
			return
		}
		if req.Amount <= 0 {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "amount must be positive")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 4*config.AppEnv.RequestTimeout)
		defer cancel()

		now := time.Now()

		order, err := loadOrder(ctx, db, orderID)
		if err == mongo.ErrNoDocuments {
			respondWithError(c, http.StatusNotFound, route, codeNotFound, "order not found")
			return
		}
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}

		if order.PaymentStatus != models.PaymentStatusCompleted || order.TransactionID == "" {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "order has no completed payment to refund")
			return
		}
		if req.Amount+order.RefundedAmount() > order.Total {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "refund amount exceeds order total")
			return
		}

		result, err := processor.Refund(ctx, payments.RefundRequest{
			ChargeID: order.TransactionID,
			Amount:   payments.MinorUnits(req.Amount),
			Reason:   req.Reason,
		})
		if err != nil {
			respondProcessorError(c, route, err)
			return
		}

		fromStatus := order.Status
		fromPayment := order.PaymentStatus
		refund, err := order.RecordRefund(req.Amount, req.Reason, order.PaymentMethod, result.ID, now)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, err.Error())
			return
		}

		ok, err := replaceOrderIf(ctx, db, &order, fromStatus, fromPayment)
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}
		if !ok {
			// The refund already ran at the processor; losing the local
			// write race must not pretend it did not happen.
			log.Printf("[%s] [ERROR] refund %s executed at processor but order %s changed concurrently", route, result.ID, order.OrderNumber)
			respondWithError(c, http.StatusConflict, route, codeConflict, "order changed concurrently, refund recorded at processor")
			return
		}

		log.Println("[PAYMENT] [INFO] refund processed for order:", order.OrderNumber)

		respondSuccess(c, http.StatusOK, "refund processed", gin.H{
			"order":  order,
			"refund": refund,
		})
	}
}
