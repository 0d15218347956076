package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"checkout-payments/internal/domain"

	"github.com/goccy/go-json"
)

var _ Canceller = (*StripeGateway)(nil)

type StripeConfig struct {
	BaseURL   string
	SecretKey string
	Currency  string
	Timeout   time.Duration
}

// StripeGateway creates PaymentIntents through the REST API.
type StripeGateway struct {
	cfg    StripeConfig
	client *http.Client
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.stripe.com"
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.Currency = strings.ToLower(cfg.Currency)
	return &StripeGateway{cfg: cfg, client: newHTTPClient(cfg.Timeout)}
}

func (g *StripeGateway) Provider() domain.Provider {
	return domain.ProviderStripe
}

// Authenticate returns the secret key; Stripe has no token exchange.
func (g *StripeGateway) Authenticate(_ context.Context) (Token, error) {
	if g.cfg.SecretKey == "" {
		return Token{}, domain.IntegrationFailure(domain.ProviderStripe, errors.New("secret key is not configured"))
	}
	return Token{Value: g.cfg.SecretKey}, nil
}

type stripePaymentIntent struct {
	ID                 string            `json:"id"`
	Object             string            `json:"object"`
	Status             string            `json:"status"`
	Amount             int64             `json:"amount"`
	AmountReceived     int64             `json:"amount_received"`
	Currency           string            `json:"currency"`
	LatestCharge       json.RawMessage   `json:"latest_charge"`
	Metadata           map[string]string `json:"metadata"`
	CancellationReason string            `json:"cancellation_reason"`
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// InitiatePayment creates a PaymentIntent for the amount in minor units.
func (g *StripeGateway) InitiatePayment(ctx context.Context, token Token, req InitiationRequest) (InitiationResult, error) {
	if err := req.Validate(); err != nil {
		return InitiationResult{}, err
	}
	minor := req.Amount.Shift(2)
	if !minor.Equal(minor.Truncate(0)) {
		return InitiationResult{}, domain.ValidationFailure("amount", "must have at most two decimal places")
	}

	form := url.Values{}
	form.Set("amount", minor.String())
	form.Set("currency", g.cfg.Currency)
	form.Set("automatic_payment_methods[enabled]", "true")
	form.Set("metadata[order_id]", req.OrderReference)
	form.Set("metadata[payee]", req.PayeeIdentifier)
	if req.Description != "" {
		form.Set("description", req.Description)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return InitiationResult{}, domain.IntegrationFailure(domain.ProviderStripe, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "Bearer "+token.Value)

	status, body, err := send(g.client, httpReq)
	if err != nil {
		return InitiationResult{}, domain.IntegrationFailure(domain.ProviderStripe, err)
	}
	if status < 200 || status >= 300 {
		return InitiationResult{}, domain.IntegrationFailure(domain.ProviderStripe, fmt.Errorf("create payment intent returned status %d: %s", status, stripeErrorMessage(body)))
	}

	var intent stripePaymentIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return InitiationResult{}, domain.IntegrationFailure(domain.ProviderStripe, fmt.Errorf("decode payment intent: %w", err))
	}
	if intent.ID == "" {
		return InitiationResult{}, domain.IntegrationFailure(domain.ProviderStripe, errors.New("payment intent response carried no id"))
	}

	return InitiationResult{
		CorrelationID:     intent.ID,
		ProviderReference: intent.ID,
		Raw:               decodeRaw(body),
	}, nil
}

// QueryStatus retrieves a PaymentIntent and maps its status onto an outcome.
func (g *StripeGateway) QueryStatus(ctx context.Context, token Token, correlationID string) (domain.Notification, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+"/v1/payment_intents/"+url.PathEscape(correlationID), nil)
	if err != nil {
		return domain.Notification{}, domain.IntegrationFailure(domain.ProviderStripe, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token.Value)

	status, body, err := send(g.client, httpReq)
	if err != nil {
		return domain.Notification{}, domain.IntegrationFailure(domain.ProviderStripe, err)
	}
	if status != http.StatusOK {
		return domain.Notification{}, domain.IntegrationFailure(domain.ProviderStripe, fmt.Errorf("retrieve payment intent returned status %d: %s", status, stripeErrorMessage(body)))
	}

	var intent stripePaymentIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return domain.Notification{}, domain.IntegrationFailure(domain.ProviderStripe, fmt.Errorf("decode payment intent: %w", err))
	}
	return intentOutcome(intent, body, "payment_intent.retrieve"), nil
}

// CancelPayment cancels a PaymentIntent so its client secret can no longer
// be confirmed. Stripe refuses to cancel an intent that already succeeded.
func (g *StripeGateway) CancelPayment(ctx context.Context, token Token, correlationID string) (domain.Notification, error) {
	form := url.Values{}
	form.Set("cancellation_reason", "abandoned")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.cfg.BaseURL+"/v1/payment_intents/"+url.PathEscape(correlationID)+"/cancel",
		strings.NewReader(form.Encode()))
	if err != nil {
		return domain.Notification{}, domain.IntegrationFailure(domain.ProviderStripe, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "Bearer "+token.Value)

	status, body, err := send(g.client, httpReq)
	if err != nil {
		return domain.Notification{}, domain.IntegrationFailure(domain.ProviderStripe, err)
	}
	if status != http.StatusOK {
		return domain.Notification{}, domain.IntegrationFailure(domain.ProviderStripe, fmt.Errorf("cancel payment intent returned status %d: %s", status, stripeErrorMessage(body)))
	}

	var intent stripePaymentIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return domain.Notification{}, domain.IntegrationFailure(domain.ProviderStripe, fmt.Errorf("decode payment intent: %w", err))
	}
	return intentOutcome(intent, body, "payment_intent.cancel"), nil
}

func intentOutcome(intent stripePaymentIntent, body []byte, eventType string) domain.Notification {
	n := notificationFromIntent(intent, body)
	n.EventType = eventType
	switch intent.Status {
	case "succeeded":
		n.Outcome = domain.OutcomeSucceeded
	case "canceled":
		n.Outcome = domain.OutcomeFailed
		n.FailureReason = "canceled"
		if intent.CancellationReason != "" {
			n.FailureReason = "canceled: " + intent.CancellationReason
		}
	default:
		n.Outcome = domain.OutcomePending
	}
	return n
}

func stripeErrorMessage(body []byte) string {
	var out stripeErrorResponse
	if err := json.Unmarshal(body, &out); err == nil && out.Error.Message != "" {
		return out.Error.Message
	}
	return truncate(strings.TrimSpace(string(body)), 200)
}
