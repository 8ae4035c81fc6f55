package handlers

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/models"
)

func testCheckoutRequest() checkoutRequest {
	return checkoutRequest{
		ShippingAddress: addressRequest{
			FullName:   "Ada Lovelace",
			Line1:      "1 Analytical Way",
			City:       "London",
			PostalCode: "E1 6AN",
			Country:    "GB",
		},
		ShippingMethod: models.ShippingStandard,
		PaymentMethod:  "card",
	}
}

func cartWithLines(lines ...models.CartItem) models.Cart {
	cart := models.NewCart(primitive.NewObjectID(), "USD", time.Now(), 30)
	for _, line := range lines {
		if err := cart.AddLine(line); err != nil {
			panic(err)
		}
	}
	cart.Recompute(models.CartPricing{})
	return cart
}

func TestBuildOrderFromCartPreservesLines(t *testing.T) {
	variantID := primitive.NewObjectID()
	lines := []models.CartItem{
		{ID: "a", ProductID: primitive.NewObjectID(), Name: "Widget", SKU: "W-1", Price: 19.99, Quantity: 1, ImagePath: "/img/w.png"},
		{ID: "b", ProductID: primitive.NewObjectID(), VariantID: &variantID, Name: "Gadget", SKU: "G-9", Price: 3.50, Quantity: 42},
		{ID: "c", ProductID: primitive.NewObjectID(), Name: "Bulk", SKU: "B-2", Price: 0.99, Quantity: 99},
	}
	cart := cartWithLines(lines...)

	userID := primitive.NewObjectID()
	order := buildOrderFromCart(cart, testCheckoutRequest(), userID, time.Now())

	if len(order.Items) != len(lines) {
		t.Fatalf("expected %d items, got %d", len(lines), len(order.Items))
	}
	for i, line := range cart.Items {
		item := order.Items[i]
		if item.ProductID != line.ProductID || item.Quantity != line.Quantity {
			t.Fatalf("item %d identity drift: %+v vs %+v", i, item, line)
		}
		if item.Price != line.Price || item.LineTotal != line.LineTotal {
			t.Fatalf("item %d money drift: price %v/%v lineTotal %v/%v", i, item.Price, line.Price, item.LineTotal, line.LineTotal)
		}
		if item.Name != line.Name || item.SKU != line.SKU || item.ImagePath != line.ImagePath {
			t.Fatalf("item %d snapshot drift: %+v vs %+v", i, item, line)
		}
	}

	if order.UserID != userID {
		t.Fatal("order must belong to the checking-out customer")
	}
	if order.Status != models.OrderStatusPending || order.PaymentStatus != models.PaymentStatusPending {
		t.Fatalf("new order must start pending/pending, got %s/%s", order.Status, order.PaymentStatus)
	}
	if order.OrderNumber == "" {
		t.Fatal("order number must be assigned at creation")
	}
}

func TestBuildOrderFromCartScenarioTwoAtFifty(t *testing.T) {
	cart := cartWithLines(models.CartItem{
		ID:        "a",
		ProductID: primitive.NewObjectID(),
		Name:      "Thing",
		Price:     50.00,
		Quantity:  2,
	})

	order := buildOrderFromCart(cart, testCheckoutRequest(), primitive.NewObjectID(), time.Now())

	if order.Subtotal != 100.00 {
		t.Fatalf("expected subtotal 100.00, got %v", order.Subtotal)
	}
	if order.Total != 100.00 {
		t.Fatalf("expected total 100.00 with no tax/shipping/discount, got %v", order.Total)
	}
}

func TestBuildOrderFromCartCarriesCouponIntoDiscount(t *testing.T) {
	cart := cartWithLines(models.CartItem{
		ID:        "a",
		ProductID: primitive.NewObjectID(),
		Name:      "Thing",
		Price:     40,
		Quantity:  2,
	})
	if err := cart.ApplyCoupon("TEN", 10); err != nil {
		t.Fatalf("ApplyCoupon returned error: %v", err)
	}
	cart.Recompute(models.CartPricing{})

	order := buildOrderFromCart(cart, testCheckoutRequest(), primitive.NewObjectID(), time.Now())

	if order.Discount != 10 {
		t.Fatalf("expected coupon folded into discount, got %v", order.Discount)
	}
	if order.Total != 70 {
		t.Fatalf("expected total 70, got %v", order.Total)
	}
	if order.Total != cart.Total {
		t.Fatalf("order total %v must match cart total %v", order.Total, cart.Total)
	}
}

func TestBuildOrderFromCartBillingDefaultsToShipping(t *testing.T) {
	cart := cartWithLines(models.CartItem{
		ID: "a", ProductID: primitive.NewObjectID(), Name: "Thing", Price: 5, Quantity: 1,
	})

	req := testCheckoutRequest()
	order := buildOrderFromCart(cart, req, primitive.NewObjectID(), time.Now())
	if order.BillingAddress != order.ShippingAddress {
		t.Fatal("billing address should default to the shipping address")
	}

	req.BillingAddress = &addressRequest{
		FullName:   "Accounts Payable",
		Line1:      "2 Invoice Rd",
		City:       "Leeds",
		PostalCode: "LS1 1AA",
		Country:    "GB",
	}
	order = buildOrderFromCart(cart, req, primitive.NewObjectID(), time.Now())
	if order.BillingAddress == order.ShippingAddress {
		t.Fatal("explicit billing address must be kept")
	}
	if order.BillingAddress.FullName != "Accounts Payable" {
		t.Fatalf("unexpected billing address: %+v", order.BillingAddress)
	}
}

func TestShippingAndPaymentMethodValidators(t *testing.T) {
	for _, method := range []string{models.ShippingSameDay, models.ShippingOvernight, models.ShippingExpress, models.ShippingStandard} {
		if !validShippingMethod(method) {
			t.Fatalf("method %s should be valid", method)
		}
	}
	if validShippingMethod("teleport") {
		t.Fatal("unknown shipping method should be rejected")
	}

	if !validPaymentMethod("card") || !validPaymentMethod("cash") {
		t.Fatal("card and cash are valid payment methods")
	}
	if validPaymentMethod("barter") {
		t.Fatal("unknown payment method should be rejected")
	}
}
