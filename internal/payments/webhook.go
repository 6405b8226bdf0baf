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

	"clinicrooms/internal/domain"
)

var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSignatureExpired = errors.New("signature timestamp outside tolerance")
	ErrMalformedEvent   = errors.New("malformed event")
)

// VerifySignature checks a Stripe-Signature header against payload. Stripe
// signs "timestamp.payload" with HMAC-SHA256 and may send several v1 values.
func VerifySignature(secret string, payload []byte, header string, tolerance time.Duration, now time.Time) error {
	if header == "" {
		return ErrMissingSignature
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age < 0 {
			age = -age
		}
		if age > tolerance {
			return ErrSignatureExpired
		}
	}

	expected := computeSignature(secret, timestamp, payload)
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// SignatureHeader builds a Stripe-Signature header value for payload.
func SignatureHeader(secret string, payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + computeSignature(secret, ts, payload)
}

func computeSignature(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes a webhook body into a provider-neutral event. Events
// that are not about payment intents come back with OutcomeOther.
func ParseEvent(payload []byte) (*domain.PaymentEvent, error) {
	var ev stripeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}

	out := &domain.PaymentEvent{
		ID:      ev.ID,
		Type:    ev.Type,
		Source:  "webhook",
		Outcome: OutcomeForEventType(ev.Type),
	}
	if !strings.HasPrefix(ev.Type, "payment_intent.") {
		return out, nil
	}

	var si stripeIntent
	if err := json.Unmarshal(ev.Data.Object, &si); err != nil {
		return nil, fmt.Errorf("%w: payment intent object: %v", ErrMalformedEvent, err)
	}
	in := si.toIntent()
	out.PaymentIntentID = in.ID
	out.AmountCents = in.AmountCents
	out.Currency = in.Currency
	out.Metadata = in.Metadata
	out.FailureCode = in.FailureCode
	out.FailureMessage = in.FailureMessage
	return out, nil
}

func OutcomeForEventType(t string) domain.Outcome {
	switch t {
	case "payment_intent.succeeded":
		return domain.OutcomeSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		return domain.OutcomeFailed
	default:
		return domain.OutcomeOther
	}
}

// OutcomeForIntentStatus maps a retrieved intent's status. An intent waiting
// for a new payment method after a decline counts as failed.
func OutcomeForIntentStatus(in *domain.Intent) domain.Outcome {
	switch in.Status {
	case "succeeded":
		return domain.OutcomeSucceeded
	case "canceled":
		return domain.OutcomeFailed
	case "requires_payment_method":
		if in.FailureCode != "" || in.FailureMessage != "" {
			return domain.OutcomeFailed
		}
	}
	return domain.OutcomeOther
}

// EventFromIntent turns a retrieved intent into the same event shape the
// webhook path produces.
func EventFromIntent(in *domain.Intent, source string) *domain.PaymentEvent {
	return &domain.PaymentEvent{
		ID:              "sync:" + in.ID + ":" + in.Status,
		Type:            "payment_intent." + in.Status,
		Source:          source,
		PaymentIntentID: in.ID,
		Outcome:         OutcomeForIntentStatus(in),
		AmountCents:     in.AmountCents,
		Currency:        in.Currency,
		Metadata:        in.Metadata,
		FailureCode:     in.FailureCode,
		FailureMessage:  in.FailureMessage,
	}
}
