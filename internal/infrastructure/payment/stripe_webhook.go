package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"checkout-payments/internal/domain"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

const (
	StripeSignatureHeader             = "Stripe-Signature"
	stripeEventPaymentIntentSucceeded = "payment_intent.succeeded"
	DefaultStripeSignatureTolerance   = 5 * time.Minute
)

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// StripeWebhookSource verifies Stripe-Signature headers and normalises
// PaymentIntent events.
type StripeWebhookSource struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewStripeWebhookSource(secret string, tolerance time.Duration) *StripeWebhookSource {
	if tolerance <= 0 {
		tolerance = DefaultStripeSignatureTolerance
	}
	return &StripeWebhookSource{secret: secret, tolerance: tolerance, now: time.Now}
}

func (s *StripeWebhookSource) Provider() domain.Provider {
	return domain.ProviderStripe
}

func (s *StripeWebhookSource) Verify(_ context.Context, in InboundNotification) error {
	return VerifyStripeSignature(in.Body, in.Headers.Get(StripeSignatureHeader), s.secret, s.tolerance, s.now())
}

func (s *StripeWebhookSource) Parse(in InboundNotification) (domain.Notification, error) {
	return ParseStripeEvent(in.Body)
}

// VerifyStripeSignature checks a "t=<unix>,v1=<hex>" header against an
// HMAC-SHA256 of "<t>.<payload>". Any v1 entry may match, which covers
// secret rotation.
func VerifyStripeSignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return domain.AuthenticityFailure(domain.ProviderStripe, "webhook secret is not configured")
	}
	if header == "" {
		return domain.AuthenticityFailure(domain.ProviderStripe, "missing "+StripeSignatureHeader+" header")
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return domain.AuthenticityFailure(domain.ProviderStripe, "malformed signature header")
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return domain.AuthenticityFailure(domain.ProviderStripe, "malformed signature timestamp")
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age < 0 {
			age = -age
		}
		if age > tolerance {
			return domain.AuthenticityFailure(domain.ProviderStripe, "signature timestamp outside tolerance")
		}
	}

	expected := stripeSignature(secret, timestamp, payload)
	for _, sig := range signatures {
		decoded, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return domain.AuthenticityFailure(domain.ProviderStripe, "signature mismatch")
}

// SignStripePayload builds a Stripe-Signature header value for payload.
func SignStripePayload(secret string, ts time.Time, payload []byte) string {
	timestamp := strconv.FormatInt(ts.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(stripeSignature(secret, timestamp, payload)))
}

func stripeSignature(secret, timestamp string, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// ParseStripeEvent normalises a webhook event. Only payment_intent.succeeded
// is actionable; every other type comes back as OutcomeIgnored.
func ParseStripeEvent(body []byte) (domain.Notification, error) {
	var event stripeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return domain.Notification{}, domain.ValidationFailure("body", fmt.Sprintf("is not a valid event: %v", err))
	}
	if event.Type == "" {
		return domain.Notification{}, domain.ValidationFailure("type", "is required")
	}
	if event.Type != stripeEventPaymentIntentSucceeded {
		return domain.Notification{
			Provider:  domain.ProviderStripe,
			Outcome:   domain.OutcomeIgnored,
			EventType: event.Type,
			Raw:       body,
		}, nil
	}

	var intent stripePaymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return domain.Notification{}, domain.ValidationFailure("data.object", fmt.Sprintf("is not a payment intent: %v", err))
	}
	if intent.ID == "" {
		return domain.Notification{}, domain.ValidationFailure("data.object.id", "is required")
	}

	n := notificationFromIntent(intent, body)
	n.EventType = event.Type
	n.Outcome = domain.OutcomeSucceeded
	return n, nil
}

func notificationFromIntent(intent stripePaymentIntent, raw []byte) domain.Notification {
	n := domain.Notification{
		Provider:              domain.ProviderStripe,
		CorrelationID:         intent.ID,
		ExternalTransactionID: latestChargeID(intent.LatestCharge),
		Raw:                   raw,
	}
	if n.ExternalTransactionID == "" {
		n.ExternalTransactionID = intent.ID
	}
	if intent.Status == "succeeded" && intent.AmountReceived > 0 {
		n.SettledAmount = decimal.NewNullDecimal(decimal.New(intent.AmountReceived, -2))
	}
	return n
}

// latestChargeID reads latest_charge as either an id or an expanded object.
func latestChargeID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var charge struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &charge); err == nil {
		return charge.ID
	}
	return ""
}
