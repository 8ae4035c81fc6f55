package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
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

type addCartItemRequest struct {
	ProductID string `json:"productId" binding:"required"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity" binding:"required"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity" binding:"required"`
}

type applyCouponRequest struct {
	CouponCode string `json:"couponCode" binding:"required"`
}

func cartPricing() models.CartPricing {
	return models.CartPricing{
		TaxRate:     config.AppEnv.TaxRate,
		ShippingFee: config.AppEnv.ShippingFee,
	}
}

/* =========================
   LOAD / PERSIST
========================= */

// loadOrCreateCart returns the customer's cart, creating it lazily on first
// access. An expired cart is reset in place rather than deleted, keeping the
// one-cart-per-customer invariant.
func loadOrCreateCart(ctx context.Context, db *mongo.Database, userID primitive.ObjectID, now time.Time) (models.Cart, error) {
	var cart models.Cart
	err := db.Collection("carts").FindOne(ctx, bson.M{"userId": userID}).Decode(&cart)
	if err == mongo.ErrNoDocuments {
		cart = models.NewCart(userID, config.AppEnv.Currency, now, config.AppEnv.CartTTLDays)
		res, insertErr := db.Collection("carts").InsertOne(ctx, cart)
		if insertErr != nil {
			if mongo.IsDuplicateKeyError(insertErr) {
				// Lost a create race; the other writer's cart wins.
				err = db.Collection("carts").FindOne(ctx, bson.M{"userId": userID}).Decode(&cart)
				return cart, err
			}
			return cart, insertErr
		}
		if id, ok := res.InsertedID.(primitive.ObjectID); ok {
			cart.ID = id
		}
		return cart, nil
	}
	if err != nil {
		return cart, err
	}

	if cart.IsExpired(now) {
		cart.Clear()
		cart.CreatedAt = now
		cart.ExtendExpiry(now, config.AppEnv.CartTTLDays)
		if err := persistCart(ctx, db, &cart, now); err != nil {
			return cart, err
		}
	}
	return cart, nil
}

// persistCart recomputes totals server-side and writes the whole aggregate
// back. Every mutation extends the expiry horizon.
func persistCart(ctx context.Context, db *mongo.Database, cart *models.Cart, now time.Time) error {
	cart.Recompute(cartPricing())
	cart.ExtendExpiry(now, config.AppEnv.CartTTLDays)
	cart.UpdatedAt = now

	_, err := db.Collection("carts").ReplaceOne(ctx, bson.M{"_id": cart.ID}, cart)
	return err
}

func loadActiveProduct(ctx context.Context, db *mongo.Database, productID primitive.ObjectID) (models.Product, error) {
	var product models.Product
	err := db.Collection("products").FindOne(ctx, bson.M{
		"_id":       productID,
		"isDeleted": bson.M{"$ne": true},
	}).Decode(&product)
	if err == nil {
		product.ComputeDerived()
	}
	return product, err
}

/* =========================
   GET CART
========================= */

func GetCart(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /cart"
		defer handlePanic(c, route)

		userID, ok := middleware.UserIDFromContext(c)
		if !ok {
			respondWithError(c, http.StatusUnauthorized, route, codeUnauthorized, "unauthorized")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.AppEnv.RequestTimeout)
		defer cancel()

		cart, err := loadOrCreateCart(ctx, db, userID, time.Now())
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}

		respondSuccess(c, http.StatusOK, "cart", gin.H{"cart": cart})
	}
}

/* =========================
   ADD ITEM
========================= */

func AddCartItem(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /cart/add"
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

		var req addCartItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid request body")
			return
		}

		productID, err := primitive.ObjectIDFromHex(req.ProductID)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid productId")
			return
		}

		var variantID *primitive.ObjectID
		if strings.TrimSpace(req.VariantID) != "" {
			parsed, err := primitive.ObjectIDFromHex(req.VariantID)
			if err != nil {
				respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid variantId")
				return
			}
			variantID = &parsed
		}

		if req.Quantity < models.MinLineQuantity || req.Quantity > models.MaxLineQuantity {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, models.QuantityError{Quantity: req.Quantity}.Error())
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.AppEnv.RequestTimeout)
		defer cancel()

		now := time.Now()

		product, err := loadActiveProduct(ctx, db, productID)
		if err == mongo.ErrNoDocuments {
			respondWithError(c, http.StatusNotFound, route, codeNotFound, "product not found")
			return
		}
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}
		if !product.IsActive {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "product is not active")
			return
		}
		if variantID != nil && product.Variant(*variantID) == nil {
			respondWithError(c, http.StatusNotFound, route, codeNotFound, "variant not found")
			return
		}
		if variantID == nil && len(product.Variants) > 0 {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "variant selection required")
			return
		}

		cart, err := loadOrCreateCart(ctx, db, userID, now)
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}

		// Stock must cover the merged line quantity, not just the increment.
		requested := req.Quantity
		if existing := cart.Line(productID, variantID); existing != nil {
			requested += existing.Quantity
		}
		if available := product.AvailableQuantity(variantID); available < requested {
			respondWithDetails(c, http.StatusBadRequest, route, codeInsufficientStock, "insufficient stock", gin.H{
				"productId": productID.Hex(),
				"available": available,
				"requested": requested,
			})
			return
		}

		line := models.CartItem{
			ID:        uuid.NewString(),
			ProductID: productID,
			VariantID: variantID,
			Name:      product.Name,
			SKU:       product.DisplaySKU(variantID),
			ImagePath: product.ImagePath,
			Price:     product.UnitPrice(variantID),
			Quantity:  req.Quantity,
		}
		if err := cart.AddLine(line); err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, err.Error())
			return
		}

		if err := persistCart(ctx, db, &cart, now); err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}

		respondSuccess(c, http.StatusOK, "item added", gin.H{"cart": cart})
	}
}

/* =========================
   UPDATE / REMOVE ITEM
========================= */

func UpdateCartItem(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PUT /cart/items/:itemId"
		defer handlePanic(c, route)

		userID, ok := middleware.UserIDFromContext(c)
		if !ok {
			respondWithError(c, http.StatusUnauthorized, route, codeUnauthorized, "unauthorized")
			return
		}

		var req updateCartItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid request body")
			return
		}
		if req.Quantity < models.MinLineQuantity || req.Quantity > models.MaxLineQuantity {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, models.QuantityError{Quantity: req.Quantity}.Error())
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.AppEnv.RequestTimeout)
		defer cancel()

		now := time.Now()

		cart, err := loadOrCreateCart(ctx, db, userID, now)
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}

		item := cart.Item(c.Param("itemId"))
		if item == nil {
			respondWithError(c, http.StatusNotFound, route, codeNotFound, "cart item not found")
			return
		}

		product, err := loadActiveProduct(ctx, db, item.ProductID)
		if err == mongo.ErrNoDocuments {
			respondWithError(c, http.StatusNotFound, route, codeNotFound, "product not found")
			return
		}
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}
		if available := product.AvailableQuantity(item.VariantID); available < req.Quantity {
			respondWithDetails(c, http.StatusBadRequest, route, codeInsufficientStock, "insufficient stock", gin.H{
				"productId": item.ProductID.Hex(),
				"available": available,
				"requested": req.Quantity,
			})
			return
		}

		if err := cart.SetItemQuantity(item.ID, req.Quantity); err != nil {
			if errors.Is(err, models.ErrCartItemNotFound) {
				respondWithError(c, http.StatusNotFound, route, codeNotFound, "cart item not found")
				return
			}
			respondWithError(c, http.StatusBadRequest, route, codeValidation, err.Error())
			return
		}

		if err := persistCart(ctx, db, &cart, now); err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}

		respondSuccess(c, http.StatusOK, "item updated", gin.H{"cart": cart})
	}
}

func RemoveCartItem(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /cart/items/:itemId"
		defer handlePanic(c, route)

		userID, ok := middleware.UserIDFromContext(c)
		if !ok {
			respondWithError(c, http.StatusUnauthorized, route, codeUnauthorized, "unauthorized")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.AppEnv.RequestTimeout)
		defer cancel()

		now := time.Now()

		cart, err := loadOrCreateCart(ctx, db, userID, now)
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}

		if err := cart.RemoveItem(c.Param("itemId")); err != nil {
			respondWithError(c, http.StatusNotFound, route, codeNotFound, "cart item not found")
			return
		}

		if err := persistCart(ctx, db, &cart, now); err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}

		respondSuccess(c, http.StatusOK, "item removed", gin.H{"cart": cart})
	}
}

func ClearCart(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /cart"
		defer handlePanic(c, route)

		userID, ok := middleware.UserIDFromContext(c)
		if !ok {
			respondWithError(c, http.StatusUnauthorized, route, codeUnauthorized, "unauthorized")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.AppEnv.RequestTimeout)
		defer cancel()

		now := time.Now()

		cart, err := loadOrCreateCart(ctx, db, userID, now)
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}

		cart.Clear()
		if err := persistCart(ctx, db, &cart, now); err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}

		respondSuccess(c, http.StatusOK, "cart cleared", gin.H{"cart": cart})
	}
}

/* =========================
   COUPONS
========================= */

func ApplyCoupon(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /cart/coupon/apply"
		defer handlePanic(c, route)

		userID, ok := middleware.UserIDFromContext(c)
		if !ok {
			respondWithError(c, http.StatusUnauthorized, route, codeUnauthorized, "unauthorized")
			return
		}

		var req applyCouponRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid request body")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.AppEnv.RequestTimeout)
		defer cancel()

		now := time.Now()
		code := strings.ToUpper(strings.TrimSpace(req.CouponCode))

		var coupon models.Coupon
		err := db.Collection("coupons").FindOne(ctx, bson.M{"code": code}).Decode(&coupon)
		if err == mongo.ErrNoDocuments {
			respondWithError(c, http.StatusNotFound, route, codeNotFound, "coupon not found")
			return
		}
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}
		if !coupon.Usable(now) {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "coupon is not usable")
			return
		}

		cart, err := loadOrCreateCart(ctx, db, userID, now)
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}

		if err := cart.ApplyCoupon(coupon.Code, coupon.Amount); err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, err.Error())
			return
		}

		if err := persistCart(ctx, db, &cart, now); err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}

		respondSuccess(c, http.StatusOK, "coupon applied", gin.H{"cart": cart})
	}
}

func RemoveCoupon(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /cart/coupon"
		defer handlePanic(c, route)

		userID, ok := middleware.UserIDFromContext(c)
		if !ok {
			respondWithError(c, http.StatusUnauthorized, route, codeUnauthorized, "unauthorized")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.AppEnv.RequestTimeout)
		defer cancel()

		now := time.Now()

		cart, err := loadOrCreateCart(ctx, db, userID, now)
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}

		cart.RemoveCoupon()
		if err := persistCart(ctx, db, &cart, now); err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}

		respondSuccess(c, http.StatusOK, "coupon removed", gin.H{"cart": cart})
	}
}
