package payments

import (
	"context"
	"fmt"
)

// Intent statuses reported by the external processor. Only the values this
// subsystem branches on are named; anything else is passed through opaquely.
const (
	IntentStatusRequiresConfirmation = "requires_confirmation"
	IntentStatusSucceeded            = "succeeded"
	IntentStatusCanceled             = "canceled"
)

// Intent is the processor's view of a payment intent. Amount is in minor
// currency units.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"clientSecret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	ChargeID     string `json:"chargeId,omitempty"`
}

// RefundResult echoes an executed refund.
type RefundResult struct {
	ID       string `json:"id"`
	ChargeID string `json:"chargeId"`
	Amount   int64  `json:"amount"`
	Status   string `json:"status"`
}

// CreateIntentRequest scopes an intent to one order's total.
type CreateIntentRequest struct {
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	OrderNumber   string `json:"orderNumber"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
}

// RefundRequest executes a (partial) refund against a charge.
type RefundRequest struct {
	ChargeID string `json:"chargeId"`
	Amount   int64  `json:"amount"`
	Reason   string `json:"reason,omitempty"`
}

// Processor is the external payment gateway. Implementations must never
// report success speculatively: a returned error means the order must be
// left in its last-known-good state.
type Processor interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error)
	GetIntent(ctx context.Context, intentID string) (*Intent, error)
	ConfirmIntent(ctx context.Context, intentID, paymentMethodID string) (*Intent, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// ProcessorError carries the gateway's own error code and message alongside
// the HTTP status it answered with.
type ProcessorError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("payment processor error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// MinorUnits converts a decimal amount to minor currency units, the only
// representation the processor accepts.
func MinorUnits(amount float64) int64 {
	return int64(amount*100 + 0.5)
}
