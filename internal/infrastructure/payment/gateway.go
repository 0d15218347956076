package payment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"checkout-payments/internal/domain"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

const maxResponseBytes = 1 << 20

// Gateway is the capability every payment provider client offers. A call
// makes exactly one outbound request; retrying is the caller's decision.
type Gateway interface {
	Provider() domain.Provider
	Authenticate(ctx context.Context) (Token, error)
	InitiatePayment(ctx context.Context, token Token, req InitiationRequest) (InitiationResult, error)
}

// StatusQuerier is implemented by gateways that can report the outcome of a
// previously initiated payment.
type StatusQuerier interface {
	QueryStatus(ctx context.Context, token Token, correlationID string) (domain.Notification, error)
}

// Canceller is implemented by gateways that can void a payment the customer
// has not completed yet, so that it can no longer be paid.
type Canceller interface {
	CancelPayment(ctx context.Context, token Token, correlationID string) (domain.Notification, error)
}

type Token struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

type InitiationRequest struct {
	PayeeIdentifier string
	Amount          decimal.Decimal
	OrderReference  string
	Description     string
}

func (r InitiationRequest) Validate() error {
	if strings.TrimSpace(r.PayeeIdentifier) == "" {
		return domain.ValidationFailure("payeeIdentifier", "is required")
	}
	if !r.Amount.IsPositive() {
		return domain.ValidationFailure("amount", "must be greater than zero")
	}
	if strings.TrimSpace(r.OrderReference) == "" {
		return domain.ValidationFailure("orderId", "is required")
	}
	return nil
}

type InitiationResult struct {
	CorrelationID     string
	ProviderReference string
	Raw               map[string]any
}

// InboundNotification is an unverified provider callback as received.
type InboundNotification struct {
	Body    []byte
	Headers http.Header
	Query   url.Values
}

// NotificationSource verifies and normalises one provider's callbacks.
type NotificationSource interface {
	Provider() domain.Provider
	Verify(ctx context.Context, in InboundNotification) error
	Parse(in InboundNotification) (domain.Notification, error)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// send performs the request and returns the status code and body.
func send(client *http.Client, req *http.Request) (int, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func decodeRaw(body []byte) map[string]any {
	raw := map[string]any{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return map[string]any{"body": string(body)}
	}
	return raw
}

// flexString accepts a JSON string or a bare number, since providers are
// not consistent about which one they send.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	*f = flexString(text)
	return nil
}

func (f flexString) String() string {
	return string(f)
}
