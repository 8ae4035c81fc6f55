package models

import (
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func testLine(price float64, qty int) CartItem {
	return CartItem{
		ID:        primitive.NewObjectID().Hex(),
		ProductID: primitive.NewObjectID(),
		Name:      "Test",
		Price:     price,
		Quantity:  qty,
	}
}

func TestAddLineMergesSameProductVariantPair(t *testing.T) {
	cart := NewCart(primitive.NewObjectID(), "USD", time.Now(), 30)

	productID := primitive.NewObjectID()
	first := testLine(10, 1)
	first.ProductID = productID
	second := testLine(10, 1)
	second.ProductID = productID

	if err := cart.AddLine(first); err != nil {
		t.Fatalf("first AddLine returned error: %v", err)
	}
	if err := cart.AddLine(second); err != nil {
		t.Fatalf("second AddLine returned error: %v", err)
	}

	if len(cart.Items) != 1 {
		t.Fatalf("expected one merged line, got %d", len(cart.Items))
	}
	if cart.Items[0].Quantity != 2 {
		t.Fatalf("expected merged quantity 2, got %d", cart.Items[0].Quantity)
	}
	if cart.Items[0].LineTotal != 20 {
		t.Fatalf("expected merged line total 20, got %v", cart.Items[0].LineTotal)
	}
}

func TestAddLineKeepsDistinctVariantsSeparate(t *testing.T) {
	cart := NewCart(primitive.NewObjectID(), "USD", time.Now(), 30)

	productID := primitive.NewObjectID()
	variantA := primitive.NewObjectID()
	variantB := primitive.NewObjectID()

	lineA := testLine(10, 1)
	lineA.ProductID = productID
	lineA.VariantID = &variantA
	lineB := testLine(12, 1)
	lineB.ProductID = productID
	lineB.VariantID = &variantB

	if err := cart.AddLine(lineA); err != nil {
		t.Fatalf("AddLine variant A: %v", err)
	}
	if err := cart.AddLine(lineB); err != nil {
		t.Fatalf("AddLine variant B: %v", err)
	}

	if len(cart.Items) != 2 {
		t.Fatalf("expected two lines for distinct variants, got %d", len(cart.Items))
	}
}

func TestAddLineRejectsMergedQuantityOverCap(t *testing.T) {
	cart := NewCart(primitive.NewObjectID(), "USD", time.Now(), 30)

	productID := primitive.NewObjectID()
	first := testLine(5, 60)
	first.ProductID = productID
	second := testLine(5, 60)
	second.ProductID = productID

	if err := cart.AddLine(first); err != nil {
		t.Fatalf("first AddLine returned error: %v", err)
	}
	err := cart.AddLine(second)
	var qtyErr QuantityError
	if !errors.As(err, &qtyErr) {
		t.Fatalf("expected QuantityError, got %v", err)
	}
	if cart.Items[0].Quantity != 60 {
		t.Fatalf("failed merge must not change the line, got quantity %d", cart.Items[0].Quantity)
	}
}

func TestSetItemQuantityBoundaries(t *testing.T) {
	cart := NewCart(primitive.NewObjectID(), "USD", time.Now(), 30)
	line := testLine(10, 1)
	if err := cart.AddLine(line); err != nil {
		t.Fatalf("AddLine returned error: %v", err)
	}

	for _, qty := range []int{0, -1, 100} {
		err := cart.SetItemQuantity(line.ID, qty)
		var qtyErr QuantityError
		if !errors.As(err, &qtyErr) {
			t.Fatalf("expected QuantityError for quantity %d, got %v", qty, err)
		}
	}

	if err := cart.SetItemQuantity(line.ID, 99); err != nil {
		t.Fatalf("quantity 99 should succeed, got %v", err)
	}
	if cart.Items[0].LineTotal != 990 {
		t.Fatalf("expected line total 990, got %v", cart.Items[0].LineTotal)
	}
}

func TestSetItemQuantityUnknownItem(t *testing.T) {
	cart := NewCart(primitive.NewObjectID(), "USD", time.Now(), 30)
	if err := cart.SetItemQuantity("missing", 2); !errors.Is(err, ErrCartItemNotFound) {
		t.Fatalf("expected ErrCartItemNotFound, got %v", err)
	}
}

func TestRecomputeTotalsInvariant(t *testing.T) {
	cart := NewCart(primitive.NewObjectID(), "USD", time.Now(), 30)
	if err := cart.AddLine(testLine(50, 2)); err != nil {
		t.Fatalf("AddLine returned error: %v", err)
	}
	if err := cart.AddLine(testLine(19.99, 3)); err != nil {
		t.Fatalf("AddLine returned error: %v", err)
	}

	pricing := CartPricing{TaxRate: 0.1, ShippingFee: 7.5}
	cart.Recompute(pricing)

	if cart.Subtotal != 159.97 {
		t.Fatalf("expected subtotal 159.97, got %v", cart.Subtotal)
	}
	want := cart.Subtotal + cart.Tax + cart.Shipping - cart.Discount - cart.CouponDiscount
	if cart.Total != want {
		t.Fatalf("total invariant broken: total=%v want=%v", cart.Total, want)
	}
}

func TestRecomputeEmptyCartZeroesTotals(t *testing.T) {
	cart := NewCart(primitive.NewObjectID(), "USD", time.Now(), 30)
	line := testLine(50, 2)
	if err := cart.AddLine(line); err != nil {
		t.Fatalf("AddLine returned error: %v", err)
	}
	cart.Recompute(CartPricing{TaxRate: 0.2, ShippingFee: 10})

	if err := cart.RemoveItem(line.ID); err != nil {
		t.Fatalf("RemoveItem returned error: %v", err)
	}
	cart.Recompute(CartPricing{TaxRate: 0.2, ShippingFee: 10})

	if cart.Subtotal != 0 || cart.Tax != 0 || cart.Shipping != 0 || cart.Discount != 0 || cart.Total != 0 {
		t.Fatalf("expected all totals zero for empty cart, got %+v", cart)
	}
}

func TestApplyCouponExceedingSubtotal(t *testing.T) {
	cart := NewCart(primitive.NewObjectID(), "USD", time.Now(), 30)
	if err := cart.AddLine(testLine(10, 2)); err != nil {
		t.Fatalf("AddLine returned error: %v", err)
	}
	cart.Recompute(CartPricing{})

	err := cart.ApplyCoupon("BIG", 25)
	var couponErr CouponError
	if !errors.As(err, &couponErr) {
		t.Fatalf("expected CouponError, got %v", err)
	}
	if cart.CouponCode != "" || cart.CouponDiscount != 0 {
		t.Fatalf("failed coupon must not stick, got %q/%v", cart.CouponCode, cart.CouponDiscount)
	}

	if err := cart.ApplyCoupon("SMALL", 5); err != nil {
		t.Fatalf("valid coupon rejected: %v", err)
	}
	cart.Recompute(CartPricing{})
	if cart.Total != 15 {
		t.Fatalf("expected total 15 after coupon, got %v", cart.Total)
	}
}

func TestCouponDroppedWhenLinesShrinkBelowIt(t *testing.T) {
	cart := NewCart(primitive.NewObjectID(), "USD", time.Now(), 30)
	line := testLine(10, 5)
	if err := cart.AddLine(line); err != nil {
		t.Fatalf("AddLine returned error: %v", err)
	}
	cart.Recompute(CartPricing{})
	if err := cart.ApplyCoupon("HALF", 30); err != nil {
		t.Fatalf("ApplyCoupon returned error: %v", err)
	}

	if err := cart.SetItemQuantity(line.ID, 1); err != nil {
		t.Fatalf("SetItemQuantity returned error: %v", err)
	}
	cart.Recompute(CartPricing{})

	if cart.CouponCode != "" {
		t.Fatalf("expected coupon dropped when subtotal fell below discount, got %q", cart.CouponCode)
	}
	if cart.Total != 10 {
		t.Fatalf("expected total 10, got %v", cart.Total)
	}
}

func TestTotalFlooredAtZero(t *testing.T) {
	cart := NewCart(primitive.NewObjectID(), "USD", time.Now(), 30)
	if err := cart.AddLine(testLine(10, 1)); err != nil {
		t.Fatalf("AddLine returned error: %v", err)
	}
	cart.Discount = 50
	cart.Recompute(CartPricing{})
	if cart.Total != 0 {
		t.Fatalf("expected total floored at zero, got %v", cart.Total)
	}
}

func TestClearResetsCouponAndTotals(t *testing.T) {
	cart := NewCart(primitive.NewObjectID(), "USD", time.Now(), 30)
	if err := cart.AddLine(testLine(20, 2)); err != nil {
		t.Fatalf("AddLine returned error: %v", err)
	}
	cart.Recompute(CartPricing{TaxRate: 0.1, ShippingFee: 5})
	if err := cart.ApplyCoupon("CODE", 10); err != nil {
		t.Fatalf("ApplyCoupon returned error: %v", err)
	}

	cart.Clear()

	if !cart.IsEmpty() {
		t.Fatal("expected empty cart after Clear")
	}
	if cart.CouponCode != "" || cart.CouponDiscount != 0 {
		t.Fatal("expected coupon reset after Clear")
	}
	if cart.Subtotal != 0 || cart.Tax != 0 || cart.Shipping != 0 || cart.Total != 0 {
		t.Fatalf("expected zero totals after Clear, got %+v", cart)
	}
}

func TestCartExpiry(t *testing.T) {
	now := time.Now()
	cart := NewCart(primitive.NewObjectID(), "USD", now, 30)

	if cart.IsExpired(now.AddDate(0, 0, 29)) {
		t.Fatal("cart should not be expired before the horizon")
	}
	if !cart.IsExpired(now.AddDate(0, 0, 31)) {
		t.Fatal("cart should be expired past the horizon")
	}

	cart.ExtendExpiry(now.AddDate(0, 0, 29), 30)
	if cart.IsExpired(now.AddDate(0, 0, 31)) {
		t.Fatal("extension should push the horizon forward")
	}
}
