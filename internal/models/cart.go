package models

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	MinLineQuantity = 1
	MaxLineQuantity = 99

	// DefaultCartTTLDays is the expiry horizon applied on creation and on
	// every extension.
	DefaultCartTTLDays = 30
)

var ErrCartItemNotFound = errors.New("cart item not found")

// QuantityError reports a line quantity outside the [1,99] range, including
// the case where merging lines would push the total past the cap.
type QuantityError struct {
	Quantity int
}

func (e QuantityError) Error() string {
	return fmt.Sprintf("quantity must be between %d and %d, got %d", MinLineQuantity, MaxLineQuantity, e.Quantity)
}

// CouponError reports a coupon that cannot be applied to the current cart.
type CouponError struct {
	Code   string
	Reason string
}

func (e CouponError) Error() string {
	return fmt.Sprintf("coupon %s cannot be applied: %s", e.Code, e.Reason)
}

// CartItem is a single line in a cart. Price is a snapshot of the effective
// unit price at the time the line was added; LineTotal is always
// price * quantity.
type CartItem struct {
	ID        string              `bson:"id" json:"id"`
	ProductID primitive.ObjectID  `bson:"productId" json:"productId"`
	VariantID *primitive.ObjectID `bson:"variantId,omitempty" json:"variantId,omitempty"`
	Name      string              `bson:"name" json:"name"`
	SKU       string              `bson:"sku,omitempty" json:"sku,omitempty"`
	ImagePath string              `bson:"imagePath,omitempty" json:"imagePath,omitempty"`
	Price     float64             `bson:"price" json:"price"`
	Quantity  int                 `bson:"quantity" json:"quantity"`
	LineTotal float64             `bson:"lineTotal" json:"lineTotal"`
}

// Cart is the mutable per-customer pre-order line collection. Exactly one
// cart exists per customer (unique index on userId); it is cleared, never
// deleted, on successful checkout.
type Cart struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID         primitive.ObjectID `bson:"userId" json:"userId"`
	Items          []CartItem         `bson:"items" json:"items"`
	Subtotal       float64            `bson:"subtotal" json:"subtotal"`
	Tax            float64            `bson:"tax" json:"tax"`
	Shipping       float64            `bson:"shipping" json:"shipping"`
	Discount       float64            `bson:"discount" json:"discount"`
	CouponCode     string             `bson:"couponCode,omitempty" json:"couponCode,omitempty"`
	CouponDiscount float64            `bson:"couponDiscount" json:"couponDiscount"`
	Total          float64            `bson:"total" json:"total"`
	Currency       string             `bson:"currency" json:"currency"`
	ExpiresAt      time.Time          `bson:"expiresAt" json:"expiresAt"`
	CreatedAt      time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// CartPricing carries the configured tax rate and flat shipping fee used when
// totals are recomputed. Client-supplied totals are never trusted.
type CartPricing struct {
	TaxRate     float64
	ShippingFee float64
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// NewCart creates an empty cart for a customer with the expiry horizon set.
func NewCart(userID primitive.ObjectID, currency string, now time.Time, ttlDays int) Cart {
	if ttlDays <= 0 {
		ttlDays = DefaultCartTTLDays
	}
	return Cart{
		UserID:    userID,
		Items:     []CartItem{},
		Currency:  currency,
		ExpiresAt: now.AddDate(0, 0, ttlDays),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Item returns the line with the given id, or nil.
func (c *Cart) Item(itemID string) *CartItem {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return &c.Items[i]
		}
	}
	return nil
}

// Line returns the existing line matching a (product, variant) pair, or nil.
// A nil variantID only matches lines with no variant.
func (c *Cart) Line(productID primitive.ObjectID, variantID *primitive.ObjectID) *CartItem {
	for i := range c.Items {
		item := &c.Items[i]
		if item.ProductID != productID {
			continue
		}
		if (item.VariantID == nil) != (variantID == nil) {
			continue
		}
		if item.VariantID == nil || *item.VariantID == *variantID {
			return item
		}
	}
	return nil
}

// AddLine merges the new line into an existing (product, variant) line if one
// exists, otherwise appends it. The merged quantity must stay within the
// [1,99] cap. The caller recomputes totals afterwards.
func (c *Cart) AddLine(line CartItem) error {
	if line.Quantity < MinLineQuantity || line.Quantity > MaxLineQuantity {
		return QuantityError{Quantity: line.Quantity}
	}

	if existing := c.Line(line.ProductID, line.VariantID); existing != nil {
		merged := existing.Quantity + line.Quantity
		if merged > MaxLineQuantity {
			return QuantityError{Quantity: merged}
		}
		existing.Quantity = merged
		existing.Price = line.Price
		existing.LineTotal = round2(existing.Price * float64(existing.Quantity))
		return nil
	}

	line.LineTotal = round2(line.Price * float64(line.Quantity))
	c.Items = append(c.Items, line)
	return nil
}

// SetItemQuantity replaces the quantity on an existing line.
func (c *Cart) SetItemQuantity(itemID string, quantity int) error {
	if quantity < MinLineQuantity || quantity > MaxLineQuantity {
		return QuantityError{Quantity: quantity}
	}
	item := c.Item(itemID)
	if item == nil {
		return ErrCartItemNotFound
	}
	item.Quantity = quantity
	item.LineTotal = round2(item.Price * float64(item.Quantity))
	return nil
}

// RemoveItem deletes a line from the cart.
func (c *Cart) RemoveItem(itemID string) error {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
	}
	return ErrCartItemNotFound
}

// Clear empties the cart and resets the coupon and all derived totals.
func (c *Cart) Clear() {
	c.Items = []CartItem{}
	c.CouponCode = ""
	c.CouponDiscount = 0
	c.Discount = 0
	c.Subtotal = 0
	c.Tax = 0
	c.Shipping = 0
	c.Total = 0
}

// ApplyCoupon records a coupon on the cart. The discount may not exceed the
// current subtotal.
func (c *Cart) ApplyCoupon(code string, discount float64) error {
	if discount <= 0 {
		return CouponError{Code: code, Reason: "discount must be positive"}
	}
	if discount > c.Subtotal {
		return CouponError{Code: code, Reason: "discount exceeds cart subtotal"}
	}
	c.CouponCode = code
	c.CouponDiscount = round2(discount)
	return nil
}

func (c *Cart) RemoveCoupon() {
	c.CouponCode = ""
	c.CouponDiscount = 0
}

// Recompute rebuilds every derived total from the line items. An empty cart
// zeroes all totals; otherwise total = subtotal + tax + shipping - discount -
// couponDiscount, floored at zero.
func (c *Cart) Recompute(pricing CartPricing) {
	if c.IsEmpty() {
		c.Clear()
		return
	}

	subtotal := 0.0
	for i := range c.Items {
		c.Items[i].LineTotal = round2(c.Items[i].Price * float64(c.Items[i].Quantity))
		subtotal += c.Items[i].LineTotal
	}
	c.Subtotal = round2(subtotal)
	c.Tax = round2(c.Subtotal * pricing.TaxRate)
	c.Shipping = round2(pricing.ShippingFee)

	if c.CouponDiscount > c.Subtotal {
		// Lines shrank below the coupon; drop it rather than go negative.
		c.RemoveCoupon()
	}

	total := c.Subtotal + c.Tax + c.Shipping - c.Discount - c.CouponDiscount
	if total < 0 {
		total = 0
	}
	c.Total = round2(total)
}

func (c *Cart) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// ExtendExpiry resets the expiry horizon to now + days.
func (c *Cart) ExtendExpiry(now time.Time, days int) {
	if days <= 0 {
		days = DefaultCartTTLDays
	}
	c.ExpiresAt = now.AddDate(0, 0, days)
}
