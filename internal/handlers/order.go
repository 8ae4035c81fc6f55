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
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/config"
	"storefront/internal/middleware"
	"storefront/internal/models"
)

/* =========================
   REQUEST DTOs
========================= */

type updateOrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Notes  string `json:"notes"`
}

type addTrackingRequest struct {
	TrackingNumber string `json:"trackingNumber" binding:"required"`
	Carrier        string `json:"carrier" binding:"required"`
	TrackingURL    string `json:"trackingUrl"`
}

/* =========================
   LOAD / PERSIST
========================= */

func loadOrder(ctx context.Context, db *mongo.Database, orderID primitive.ObjectID) (models.Order, error) {
	var order models.Order
	err := db.Collection("orders").FindOne(ctx, bson.M{"_id": orderID}).Decode(&order)
	return order, err
}

// replaceOrderIf writes the mutated order back, but only when the stored
// document still carries the status pair the mutation started from. A lost
// race surfaces as a conflict instead of silently overwriting a concurrent
// transition.
func replaceOrderIf(ctx context.Context, db *mongo.Database, order *models.Order, fromStatus models.OrderStatus, fromPayment models.PaymentStatus) (bool, error) {
	res, err := db.Collection("orders").ReplaceOne(ctx, bson.M{
		"_id":           order.ID,
		"status":        fromStatus,
		"paymentStatus": fromPayment,
	}, order)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

/* =========================
   LIST / GET
========================= */

// GetOrders returns the authenticated customer's own orders, newest first.
func GetOrders(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /orders"
		defer handlePanic(c, route)

		userID, ok := middleware.UserIDFromContext(c)
		if !ok {
			respondWithError(c, http.StatusUnauthorized, route, codeUnauthorized, "unauthorized")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.AppEnv.RequestTimeout)
		defer cancel()

		opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
		cursor, err := db.Collection("orders").Find(ctx, bson.M{"userId": userID}, opts)
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}
		defer cursor.Close(ctx)

		orders := []models.Order{}
		if err := cursor.All(ctx, &orders); err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}

		respondSuccess(c, http.StatusOK, "orders", gin.H{"orders": orders})
	}
}

// GetAllOrders is the staff listing with the shared pagination params.
func GetAllOrders(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /admin/api/orders"
		defer handlePanic(c, route)

		page, limit, err := parsePaginationParams(c.Query("page"), c.Query("limit"))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid pagination params")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.AppEnv.RequestTimeout)
		defer cancel()

		filter := bson.M{}
		if status := c.Query("status"); status != "" {
			if !models.ValidOrderStatus(models.OrderStatus(status)) {
				respondWithError(c, http.StatusBadRequest, route, codeValidation, "unknown status filter")
				return
			}
			filter["status"] = status
		}

		total, err := db.Collection("orders").CountDocuments(ctx, filter)
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}

		opts := options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: -1}}).
			SetSkip((page - 1) * limit).
			SetLimit(limit)
		cursor, err := db.Collection("orders").Find(ctx, filter, opts)
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}
		defer cursor.Close(ctx)

		orders := []models.Order{}
		if err := cursor.All(ctx, &orders); err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}

		respondSuccess(c, http.StatusOK, "orders", gin.H{
			"orders": orders,
			"page":   page,
			"limit":  limit,
			"total":  total,
		})
	}
}

// GetOrder returns one order. Customers only see their own; staff see any.
func GetOrder(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /orders/:id"
		defer handlePanic(c, route)

		userID, ok := middleware.UserIDFromContext(c)
		if !ok {
			respondWithError(c, http.StatusUnauthorized, route, codeUnauthorized, "unauthorized")
			return
		}

		orderID, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid id")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.AppEnv.RequestTimeout)
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

		respondSuccess(c, http.StatusOK, "order", gin.H{
			"order":      order,
			"refundable": order.Refundable(time.Now()),
		})
	}
}

/* =========================
   STATUS (STAFF)
========================= */

// UpdateOrderStatus drives the fulfillment state machine. Moving into
// cancelled also restores every line's inventory inside one transaction.
func UpdateOrderStatus(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /orders/:id/status"
		defer handlePanic(c, route)

		orderID, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid id")
			return
		}

		var req updateOrderStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid request body")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*config.AppEnv.RequestTimeout)
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

		fromStatus := order.Status
		fromPayment := order.PaymentStatus
		next := models.OrderStatus(req.Status)

		if err := order.UpdateStatus(next, req.Notes, now); err != nil {
			var transitionErr models.InvalidTransitionError
			if errors.As(err, &transitionErr) {
				respondWithDetails(c, http.StatusBadRequest, route, codeInvalidTransition, transitionErr.Error(), gin.H{
					"from": transitionErr.From,
					"to":   transitionErr.To,
				})
				return
			}
			respondWithError(c, http.StatusBadRequest, route, codeValidation, err.Error())
			return
		}

		if next == models.OrderStatusCancelled {
			if err := cancelOrderTx(ctx, db, &order, fromStatus, fromPayment); err != nil {
				handleCancelError(c, route, err)
				return
			}
		} else {
			ok, err := replaceOrderIf(ctx, db, &order, fromStatus, fromPayment)
			if err != nil {
				respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
				return
			}
			if !ok {
				respondWithError(c, http.StatusConflict, route, codeConflict, "order changed concurrently, retry")
				return
			}
		}

		log.Println("[ORDER] [INFO] status updated:", order.OrderNumber, string(fromStatus), "->", string(next))

		respondSuccess(c, http.StatusOK, "status updated", gin.H{"order": order})
	}
}

// AddOrderTracking sets tracking metadata. Unconditional: no status guard.
func AddOrderTracking(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /orders/:id/tracking"
		defer handlePanic(c, route)

		orderID, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid id")
			return
		}

		var req addTrackingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid request body")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.AppEnv.RequestTimeout)
		defer cancel()

		now := time.Now()
		res := db.Collection("orders").FindOneAndUpdate(ctx,
			bson.M{"_id": orderID},
			bson.M{"$set": bson.M{
				"trackingNumber": req.TrackingNumber,
				"carrier":        req.Carrier,
				"trackingUrl":    req.TrackingURL,
				"updatedAt":      now,
			}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		)

		var order models.Order
		if err := res.Decode(&order); err != nil {
			if err == mongo.ErrNoDocuments {
				respondWithError(c, http.StatusNotFound, route, codeNotFound, "order not found")
				return
			}
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}

		respondSuccess(c, http.StatusOK, "tracking added", gin.H{"order": order})
	}
}

/* =========================
   CANCELLATION
========================= */

var errOrderChangedConcurrently = errors.New("order changed concurrently")

// cancelOrderTx persists an order already moved to cancelled and restores
// its inventory, atomically.
func cancelOrderTx(ctx context.Context, db *mongo.Database, order *models.Order, fromStatus models.OrderStatus, fromPayment models.PaymentStatus) error {
	session, err := db.Client().StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		ok, err := replaceOrderIf(sessCtx, db, order, fromStatus, fromPayment)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errOrderChangedConcurrently
		}
		for _, item := range order.Items {
			if err := restoreInventory(sessCtx, db, item); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func handleCancelError(c *gin.Context, route string, err error) {
	if errors.Is(err, errOrderChangedConcurrently) {
		respondWithError(c, http.StatusConflict, route, codeConflict, "order changed concurrently, retry")
		return
	}
	log.Printf("[%s] cancellation failed: %v", route, err)
	respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
}

// CancelOrder lets the owning customer (or staff) cancel an order while the
// transition table still allows it. Inventory is restored; a completed
// payment is not touched here, it goes through the refund path.
func CancelOrder(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /orders/:id/cancel"
		defer handlePanic(c, route)

		userID, ok := middleware.UserIDFromContext(c)
		if !ok {
			respondWithError(c, http.StatusUnauthorized, route, codeUnauthorized, "unauthorized")
			return
		}

		orderID, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid id")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*config.AppEnv.RequestTimeout)
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

		fromStatus := order.Status
		fromPayment := order.PaymentStatus

		if err := order.UpdateStatus(models.OrderStatusCancelled, "", now); err != nil {
			var transitionErr models.InvalidTransitionError
			if errors.As(err, &transitionErr) {
				respondWithDetails(c, http.StatusBadRequest, route, codeInvalidTransition, transitionErr.Error(), gin.H{
					"from": transitionErr.From,
					"to":   transitionErr.To,
				})
				return
			}
			respondWithError(c, http.StatusBadRequest, route, codeValidation, err.Error())
			return
		}

		if err := cancelOrderTx(ctx, db, &order, fromStatus, fromPayment); err != nil {
			handleCancelError(c, route, err)
			return
		}

		log.Println("[ORDER] [INFO] order cancelled:", order.OrderNumber)

		respondSuccess(c, http.StatusOK, "order cancelled", gin.H{"order": order})
	}
}
