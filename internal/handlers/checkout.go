package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"storefront/internal/config"
	"storefront/internal/middleware"
	"storefront/internal/models"
)

/* =========================
   REQUEST DTOs
========================= */

type addressRequest struct {
	FullName   string `json:"fullName" binding:"required"`
	Line1      string `json:"line1" binding:"required"`
	Line2      string `json:"line2"`
	City       string `json:"city" binding:"required"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode" binding:"required"`
	Country    string `json:"country" binding:"required"`
	Phone      string `json:"phone"`
}

type checkoutRequest struct {
	ShippingAddress addressRequest  `json:"shippingAddress" binding:"required"`
	BillingAddress  *addressRequest `json:"billingAddress"`
	ShippingMethod  string          `json:"shippingMethod" binding:"required"`
	PaymentMethod   string          `json:"paymentMethod" binding:"required"`
	Notes           string          `json:"notes"`
}

func (r addressRequest) toAddress() models.Address {
	return models.Address{
		FullName:   strings.TrimSpace(r.FullName),
		Line1:      strings.TrimSpace(r.Line1),
		Line2:      strings.TrimSpace(r.Line2),
		City:       strings.TrimSpace(r.City),
		State:      strings.TrimSpace(r.State),
		PostalCode: strings.TrimSpace(r.PostalCode),
		Country:    strings.TrimSpace(r.Country),
		Phone:      strings.TrimSpace(r.Phone),
	}
}

func validShippingMethod(method string) bool {
	switch method {
	case models.ShippingSameDay, models.ShippingOvernight, models.ShippingExpress, models.ShippingStandard:
		return true
	}
	return false
}

func validPaymentMethod(method string) bool {
	return method == "card" || method == "cash"
}

/* =========================
   TYPED FAILURES
========================= */

type insufficientStockError struct {
	ProductID primitive.ObjectID
	VariantID *primitive.ObjectID
	Available int
	Requested int
}

func (e insufficientStockError) Error() string {
	return "insufficient stock"
}

type productNotFoundError struct {
	ProductID primitive.ObjectID
}

func (e productNotFoundError) Error() string {
	return "product not found"
}

// stockViolation is the response shape for one failed checkout line.
type stockViolation struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Reason    string `json:"reason"`
	Available int    `json:"available,omitempty"`
	Requested int    `json:"requested,omitempty"`
}

/* =========================
   SNAPSHOT
========================= */

// buildOrderFromCart freezes a validated cart into a new order. Per-line
// quantity, unit price and line total carry over exactly; the order starts
// in (pending, pending).
func buildOrderFromCart(cart models.Cart, req checkoutRequest, userID primitive.ObjectID, now time.Time) models.Order {
	items := make([]models.OrderItem, 0, len(cart.Items))
	for _, line := range cart.Items {
		items = append(items, models.OrderItem{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Name:      line.Name,
			SKU:       line.SKU,
			ImagePath: line.ImagePath,
			Price:     line.Price,
			Quantity:  line.Quantity,
			LineTotal: line.LineTotal,
		})
	}

	billing := req.ShippingAddress
	if req.BillingAddress != nil {
		billing = *req.BillingAddress
	}

	order := models.Order{
		OrderNumber:     models.NewOrderNumber(now),
		UserID:          userID,
		Items:           items,
		ShippingAddress: req.ShippingAddress.toAddress(),
		BillingAddress:  billing.toAddress(),
		Subtotal:        cart.Subtotal,
		Tax:             cart.Tax,
		Shipping:        cart.Shipping,
		Discount:        cart.Discount + cart.CouponDiscount,
		Currency:        cart.Currency,
		PaymentMethod:   req.PaymentMethod,
		ShippingMethod:  req.ShippingMethod,
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		Notes:           strings.TrimSpace(req.Notes),
		Refunds:         []models.Refund{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	order.RecomputeTotal()
	return order
}

// validateCartLines checks every line against the catalog and collects ALL
// violations so the client can fix the whole cart in one pass.
func validateCartLines(ctx context.Context, db *mongo.Database, cart *models.Cart) ([]stockViolation, error) {
	violations := make([]stockViolation, 0)

	for _, line := range cart.Items {
		v := stockViolation{ProductID: line.ProductID.Hex(), Requested: line.Quantity}
		if line.VariantID != nil {
			v.VariantID = line.VariantID.Hex()
		}

		product, err := loadActiveProduct(ctx, db, line.ProductID)
		if err == mongo.ErrNoDocuments {
			v.Reason = "product no longer exists"
			violations = append(violations, v)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !product.IsActive {
			v.Reason = "product is not active"
			violations = append(violations, v)
			continue
		}
		if line.VariantID != nil && product.Variant(*line.VariantID) == nil {
			v.Reason = "variant no longer exists"
			violations = append(violations, v)
			continue
		}
		if available := product.AvailableQuantity(line.VariantID); available < line.Quantity {
			v.Reason = "insufficient stock"
			v.Available = available
			violations = append(violations, v)
		}
	}

	return violations, nil
}

/* =========================
   CHECKOUT
========================= */

// maxOrderNumberAttempts bounds regeneration when the timestamp+random order
// number collides with the unique index.
const maxOrderNumberAttempts = 3

// Checkout converts the customer's cart into an order: validate every line,
// then inside one transaction decrement inventory (conditionally), insert
// the order and clear the cart. All-or-nothing: any failure aborts the
// transaction and no stock moves.
func Checkout(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /orders"
		defer handlePanic(c, route)

		if err := ensureDBConnection(c.Request.Context(), db); err != nil {
			respondWithError(c, http.StatusServiceUnavailable, route, codeInternal, "database unavailable")
			return
		}

		userID, ok := middleware.UserIDFromContext(c)
		if !ok {
			respondWithError(c, http.StatusUnauthorized, route, codeUnauthorized, "unauthorized")
			return
		}

		var req checkoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid request body")
			return
		}
		if !validShippingMethod(req.ShippingMethod) {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid shipping method")
			return
		}
		if !validPaymentMethod(req.PaymentMethod) {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid payment method")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*config.AppEnv.RequestTimeout)
		defer cancel()

		now := time.Now()

		var cart models.Cart
		err := db.Collection("carts").FindOne(ctx, bson.M{"userId": userID}).Decode(&cart)
		if err == mongo.ErrNoDocuments {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "cart is empty")
			return
		}
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}
		if cart.IsEmpty() || cart.IsExpired(now) {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "cart is empty")
			return
		}

		violations, err := validateCartLines(ctx, db, &cart)
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}
		if len(violations) > 0 {
			respondWithDetails(c, http.StatusBadRequest, route, codeValidation, "cart validation failed", gin.H{
				"violations": violations,
			})
			return
		}

		order := buildOrderFromCart(cart, req, userID, now)

		session, err := db.Client().StartSession()
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}
		defer session.EndSession(ctx)

		_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
			// Conditional decrements are the real reservation: a line that
			// passed validation can still lose a concurrent race here, which
			// aborts the whole transaction.
			for _, item := range order.Items {
				if err := decrementInventory(sessCtx, db, item); err != nil {
					return nil, err
				}
			}

			inserted := false
			for attempt := 0; attempt < maxOrderNumberAttempts; attempt++ {
				res, err := db.Collection("orders").InsertOne(sessCtx, order)
				if err == nil {
					if id, ok := res.InsertedID.(primitive.ObjectID); ok {
						order.ID = id
					}
					inserted = true
					break
				}
				if !mongo.IsDuplicateKeyError(err) {
					return nil, err
				}
				order.OrderNumber = models.NewOrderNumber(time.Now())
			}
			if !inserted {
				return nil, errors.New("order number collision not resolved")
			}

			cart.Clear()
			cart.UpdatedAt = now
			if _, err := db.Collection("carts").ReplaceOne(sessCtx, bson.M{"_id": cart.ID}, cart); err != nil {
				return nil, err
			}
			return nil, nil
		})
		if err != nil {
			var stockErr insufficientStockError
			if errors.As(err, &stockErr) {
				detail := gin.H{
					"productId": stockErr.ProductID.Hex(),
					"requested": stockErr.Requested,
				}
				if stockErr.VariantID != nil {
					detail["variantId"] = stockErr.VariantID.Hex()
				}
				respondWithDetails(c, http.StatusBadRequest, route, codeInsufficientStock, "insufficient stock", detail)
				return
			}
			var notFoundErr productNotFoundError
			if errors.As(err, &notFoundErr) {
				respondWithDetails(c, http.StatusBadRequest, route, codeValidation, "product not found", gin.H{
					"productId": notFoundErr.ProductID.Hex(),
				})
				return
			}
			log.Printf("[%s] checkout transaction failed: %v", route, err)
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}

		log.Println("[ORDER] [INFO] order created:", order.OrderNumber, "for user:", userID.Hex())

		respondSuccess(c, http.StatusCreated, "order created", gin.H{"order": order})
	}
}
