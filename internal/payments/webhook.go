package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the processor's webhook signature, in the form
// "t=<unix>,v1=<hex hmac-sha256 of "<unix>.<body>">".
const SignatureHeader = "X-Webhook-Signature"

// DefaultSignatureTolerance bounds how stale a signed timestamp may be
// before the delivery is rejected as a possible replay.
const DefaultSignatureTolerance = 5 * time.Minute

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside tolerance")
)

// Event kinds this subsystem reconciles. Anything else is acknowledged and
// ignored so new processor event types never break delivery.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventChargeRefunded   = "charge.refunded"
)

// Event is a webhook delivery from the processor.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`
}

// EventData is the union of fields across the recognized event kinds.
type EventData struct {
	PaymentIntentID string `json:"paymentIntentId"`
	ChargeID        string `json:"chargeId,omitempty"`
	RefundID        string `json:"refundId,omitempty"`
	Amount          int64  `json:"amount,omitempty"`
	Currency        string `json:"currency,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

func computeSignature(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignPayload produces a signature header value for payload. Used by tests
// and by processor simulators.
func SignPayload(payload []byte, secret string, now time.Time) string {
	ts := now.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, computeSignature(payload, secret, ts))
}

// VerifySignature checks header against payload and secret. It must be
// called on the raw request body before any parsing: an unsigned or
// mis-signed payload is never treated as trusted input.
func VerifySignature(payload []byte, header, secret string, now time.Time, tolerance time.Duration) error {
	if secret == "" || strings.TrimSpace(header) == "" {
		return ErrInvalidSignature
	}
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}

	var ts int64
	var sig string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return ErrInvalidSignature
			}
			ts = parsed
		case "v1":
			sig = value
		}
	}
	if ts == 0 || sig == "" {
		return ErrInvalidSignature
	}

	expected := computeSignature(payload, secret, ts)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrInvalidSignature
	}

	drift := now.Sub(time.Unix(ts, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > tolerance {
		return ErrStaleTimestamp
	}
	return nil
}

// ParseEvent decodes a verified webhook body.
func ParseEvent(payload []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode webhook event: %w", err)
	}
	if event.Type == "" {
		return nil, errors.New("webhook event missing type")
	}
	return &event, nil
}
