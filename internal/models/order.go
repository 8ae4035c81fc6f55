package models

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OrderStatus is the fulfillment lifecycle of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
)

// PaymentStatus is the payment lifecycle, evolving independently of
// OrderStatus.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// Shipping methods determine the estimated delivery horizon stamped when an
// order enters processing.
const (
	ShippingSameDay   = "same_day"
	ShippingOvernight = "overnight"
	ShippingExpress   = "express"
	ShippingStandard  = "standard"
)

// RefundWindow is how long after actual delivery an order stays refundable.
const RefundWindow = 30 * 24 * time.Hour

var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusReturned},
	OrderStatusDelivered:  {OrderStatusReturned},
	OrderStatusCancelled:  {},
	OrderStatusReturned:   {},
}

var paymentStatusTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusCompleted:  {PaymentStatusRefunded},
	PaymentStatusFailed:     {PaymentStatusPending},
	PaymentStatusRefunded:   {},
}

// InvalidTransitionError rejects a state change not present in the
// transition table for the current state.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition: %s -> %s", e.Entity, e.From, e.To)
}

// RefundError rejects a refund that violates the order's refund invariants.
type RefundError struct {
	Reason string
}

func (e RefundError) Error() string {
	return "refund rejected: " + e.Reason
}

var (
	ErrUnknownOrderStatus   = errors.New("unknown order status")
	ErrUnknownPaymentStatus = errors.New("unknown payment status")
)

// Address is a billing or shipping address snapshot frozen onto the order.
type Address struct {
	FullName   string `bson:"fullName" json:"fullName"`
	Line1      string `bson:"line1" json:"line1"`
	Line2      string `bson:"line2,omitempty" json:"line2,omitempty"`
	City       string `bson:"city" json:"city"`
	State      string `bson:"state,omitempty" json:"state,omitempty"`
	PostalCode string `bson:"postalCode" json:"postalCode"`
	Country    string `bson:"country" json:"country"`
	Phone      string `bson:"phone,omitempty" json:"phone,omitempty"`
}

// OrderItem is an immutable snapshot of a cart line taken at checkout.
// Later catalog edits never alter it.
type OrderItem struct {
	ProductID primitive.ObjectID  `bson:"productId" json:"productId"`
	VariantID *primitive.ObjectID `bson:"variantId,omitempty" json:"variantId,omitempty"`
	Name      string              `bson:"name" json:"name"`
	SKU       string              `bson:"sku,omitempty" json:"sku,omitempty"`
	ImagePath string              `bson:"imagePath,omitempty" json:"imagePath,omitempty"`
	Price     float64             `bson:"price" json:"price"`
	Quantity  int                 `bson:"quantity" json:"quantity"`
	LineTotal float64             `bson:"lineTotal" json:"lineTotal"`
}

// Refund is one entry in an order's append-only refund list.
type Refund struct {
	ID        string    `bson:"id" json:"id"`
	Amount    float64   `bson:"amount" json:"amount"`
	Reason    string    `bson:"reason,omitempty" json:"reason,omitempty"`
	Method    string    `bson:"method" json:"method"`
	Reference string    `bson:"reference,omitempty" json:"reference,omitempty"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// Order is the persisted order document. Items and addresses are frozen at
// creation; Status and PaymentStatus change only through UpdateStatus and
// UpdatePaymentStatus. Orders are never hard-deleted.
type Order struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	OrderNumber     string             `bson:"orderNumber" json:"orderNumber"`
	UserID          primitive.ObjectID `bson:"userId" json:"userId"`
	Items           []OrderItem        `bson:"items" json:"items"`
	ShippingAddress Address            `bson:"shippingAddress" json:"shippingAddress"`
	BillingAddress  Address            `bson:"billingAddress" json:"billingAddress"`
	Subtotal        float64            `bson:"subtotal" json:"subtotal"`
	Tax             float64            `bson:"tax" json:"tax"`
	Shipping        float64            `bson:"shipping" json:"shipping"`
	Discount        float64            `bson:"discount" json:"discount"`
	Total           float64            `bson:"total" json:"total"`
	Currency        string             `bson:"currency" json:"currency"`
	PaymentMethod   string             `bson:"paymentMethod" json:"paymentMethod"`
	ShippingMethod  string             `bson:"shippingMethod" json:"shippingMethod"`

	Status        OrderStatus   `bson:"status" json:"status"`
	PaymentStatus PaymentStatus `bson:"paymentStatus" json:"paymentStatus"`

	PaymentIntentID string     `bson:"paymentIntentId,omitempty" json:"paymentIntentId,omitempty"`
	TransactionID   string     `bson:"transactionId,omitempty" json:"transactionId,omitempty"`
	PaidAt          *time.Time `bson:"paidAt,omitempty" json:"paidAt,omitempty"`
	FailureReason   string     `bson:"failureReason,omitempty" json:"failureReason,omitempty"`

	TrackingNumber    string     `bson:"trackingNumber,omitempty" json:"trackingNumber,omitempty"`
	Carrier           string     `bson:"carrier,omitempty" json:"carrier,omitempty"`
	TrackingURL       string     `bson:"trackingUrl,omitempty" json:"trackingUrl,omitempty"`
	EstimatedDelivery *time.Time `bson:"estimatedDelivery,omitempty" json:"estimatedDelivery,omitempty"`
	ActualDelivery    *time.Time `bson:"actualDelivery,omitempty" json:"actualDelivery,omitempty"`

	Notes   string   `bson:"notes,omitempty" json:"notes,omitempty"`
	Refunds []Refund `bson:"refunds" json:"refunds"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

func orderTransitionAllowed(from, to OrderStatus) (bool, error) {
	allowed, ok := orderStatusTransitions[from]
	if !ok {
		return false, ErrUnknownOrderStatus
	}
	for _, s := range allowed {
		if s == to {
			return true, nil
		}
	}
	return false, nil
}

func paymentTransitionAllowed(from, to PaymentStatus) (bool, error) {
	allowed, ok := paymentStatusTransitions[from]
	if !ok {
		return false, ErrUnknownPaymentStatus
	}
	for _, s := range allowed {
		if s == to {
			return true, nil
		}
	}
	return false, nil
}

// ValidOrderStatus reports whether s is a known fulfillment status.
func ValidOrderStatus(s OrderStatus) bool {
	_, ok := orderStatusTransitions[s]
	return ok
}

// ValidPaymentStatus reports whether s is a known payment status.
func ValidPaymentStatus(s PaymentStatus) bool {
	_, ok := paymentStatusTransitions[s]
	return ok
}

// EstimatedDeliveryDays maps a shipping method to its delivery horizon.
// Unknown methods fall back to standard.
func EstimatedDeliveryDays(shippingMethod string) int {
	switch shippingMethod {
	case ShippingSameDay:
		return 0
	case ShippingOvernight:
		return 1
	case ShippingExpress:
		return 2
	default:
		return 5
	}
}

// UpdateStatus moves the order to next if the transition table allows it,
// leaving the order untouched otherwise. Entering processing stamps the
// estimated delivery; entering delivered stamps the actual delivery.
func (o *Order) UpdateStatus(next OrderStatus, notes string, now time.Time) error {
	if !ValidOrderStatus(next) {
		return ErrUnknownOrderStatus
	}
	ok, err := orderTransitionAllowed(o.Status, next)
	if err != nil {
		return err
	}
	if !ok {
		return InvalidTransitionError{Entity: "order status", From: string(o.Status), To: string(next)}
	}

	o.Status = next
	if notes != "" {
		o.Notes = notes
	}
	switch next {
	case OrderStatusProcessing:
		eta := now.AddDate(0, 0, EstimatedDeliveryDays(o.ShippingMethod))
		o.EstimatedDelivery = &eta
	case OrderStatusDelivered:
		delivered := now
		o.ActualDelivery = &delivered
	}
	o.UpdatedAt = now
	return nil
}

// UpdatePaymentStatus moves the payment state machine, rejecting targets not
// in the transition table for the current state.
func (o *Order) UpdatePaymentStatus(next PaymentStatus, now time.Time) error {
	if !ValidPaymentStatus(next) {
		return ErrUnknownPaymentStatus
	}
	ok, err := paymentTransitionAllowed(o.PaymentStatus, next)
	if err != nil {
		return err
	}
	if !ok {
		return InvalidTransitionError{Entity: "payment status", From: string(o.PaymentStatus), To: string(next)}
	}
	o.PaymentStatus = next
	o.UpdatedAt = now
	return nil
}

// MarkPaid is the idempotent success path driven by confirmations and
// webhooks: completing an already-completed order is a no-op that preserves
// the original paidAt and transaction id.
func (o *Order) MarkPaid(transactionID string, now time.Time) error {
	if o.PaymentStatus == PaymentStatusCompleted {
		return nil
	}
	if err := o.UpdatePaymentStatus(PaymentStatusCompleted, now); err != nil {
		return err
	}
	paid := now
	o.PaidAt = &paid
	o.TransactionID = transactionID
	o.FailureReason = ""
	return nil
}

// AddTracking sets the tracking fields. No transition guard: carriers can
// issue numbers before the shipped status lands.
func (o *Order) AddTracking(number, carrier, url string, now time.Time) {
	o.TrackingNumber = number
	o.Carrier = carrier
	o.TrackingURL = url
	o.UpdatedAt = now
}

// RefundedAmount sums the append-only refund list.
func (o *Order) RefundedAmount() float64 {
	sum := 0.0
	for _, r := range o.Refunds {
		sum += r.Amount
	}
	return round2(sum)
}

// FullyRefunded reports whether accumulated refunds cover the order total.
func (o *Order) FullyRefunded() bool {
	return len(o.Refunds) > 0 && o.RefundedAmount() >= o.Total
}

// RecordRefund appends a refund record and moves paymentStatus to refunded.
// Accumulated refunds may never exceed the order total. The caller is
// responsible for having executed the refund at the processor first.
func (o *Order) RecordRefund(amount float64, reason, method, reference string, now time.Time) (*Refund, error) {
	if amount <= 0 {
		return nil, RefundError{Reason: "amount must be positive"}
	}
	if round2(o.RefundedAmount()+amount) > o.Total {
		return nil, RefundError{Reason: "amount exceeds order total"}
	}
	if o.PaymentStatus != PaymentStatusCompleted && o.PaymentStatus != PaymentStatusRefunded {
		return nil, RefundError{Reason: "payment is not completed"}
	}

	refund := Refund{
		ID:        uuid.NewString(),
		Amount:    round2(amount),
		Reason:    reason,
		Method:    method,
		Reference: reference,
		CreatedAt: now,
	}
	o.Refunds = append(o.Refunds, refund)
	if o.PaymentStatus != PaymentStatusRefunded {
		if err := o.UpdatePaymentStatus(PaymentStatusRefunded, now); err != nil {
			o.Refunds = o.Refunds[:len(o.Refunds)-1]
			return nil, err
		}
	}
	o.UpdatedAt = now
	return &o.Refunds[len(o.Refunds)-1], nil
}

// Refundable reports whether a customer-facing refund may start: the order
// was delivered, is not already fully refunded, and delivery happened within
// the refund window.
func (o *Order) Refundable(now time.Time) bool {
	if o.Status != OrderStatusDelivered || o.ActualDelivery == nil {
		return false
	}
	if o.FullyRefunded() {
		return false
	}
	return now.Sub(*o.ActualDelivery) <= RefundWindow
}

// RecomputeTotal rebuilds the total from the financial fields, floored at
// zero. Called whenever any of the four inputs change.
func (o *Order) RecomputeTotal() {
	total := o.Subtotal + o.Tax + o.Shipping - o.Discount
	if total < 0 {
		total = 0
	}
	o.Total = round2(total)
}

// NewOrderNumber derives a human-referenceable number from the creation
// timestamp plus a random 3-digit suffix. Not guaranteed unique: the orders
// collection enforces uniqueness and callers regenerate on duplicate-key
// insert failures.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%d%03d", now.UnixMilli()%100000000000, rand.Intn(1000))
}
