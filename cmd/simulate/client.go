package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"checkout-payments/internal/infrastructure/payment"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type initiateRequest struct {
	PayeeIdentifier string `json:"payeeIdentifier"`
	Amount          string `json:"amount"`
	OrderID         string `json:"orderId"`
}

type initiateResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
}

type orderResponse struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	PaymentMethod *string `json:"paymentMethod"`
}

type mpesaCallback struct {
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Receipt           string
	Amount            string
}

func (cb mpesaCallback) payload() ([]byte, error) {
	desc := cb.ResultDesc
	if desc == "" {
		desc = "The service request is processed successfully."
		if cb.ResultCode != 0 {
			desc = "Request cancelled by user"
		}
	}
	callback := map[string]any{
		"MerchantRequestID": "sim-" + uuid.NewString()[:8],
		"CheckoutRequestID": cb.CheckoutRequestID,
		"ResultCode":        cb.ResultCode,
		"ResultDesc":        desc,
	}
	if cb.ResultCode == 0 {
		receipt := cb.Receipt
		if receipt == "" {
			receipt = strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
		}
		items := []map[string]any{
			{"Name": "MpesaReceiptNumber", "Value": receipt},
			{"Name": "TransactionDate", "Value": time.Now().Format("20060102150405")},
		}
		if cb.Amount != "" {
			items = append(items, map[string]any{"Name": "Amount", "Value": json.Number(cb.Amount)})
		}
		callback["CallbackMetadata"] = map[string]any{"Item": items}
	}
	return json.Marshal(map[string]any{"Body": map[string]any{"stkCallback": callback}})
}

type stripeEvent struct {
	IntentID       string
	Type           string
	AmountReceived int64
}

func (ev stripeEvent) payload() ([]byte, error) {
	return json.Marshal(map[string]any{
		"id":      "evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		"object":  "event",
		"type":    ev.Type,
		"created": time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":              ev.IntentID,
				"object":          "payment_intent",
				"status":          "succeeded",
				"amount":          ev.AmountReceived,
				"amount_received": ev.AmountReceived,
				"latest_charge":   "ch_sim_" + ev.IntentID,
			},
		},
	})
}

func (c *apiClient) createOrder(ctx context.Context, id, user string) (int, []byte, error) {
	body, err := json.Marshal(map[string]string{"id": id})
	if err != nil {
		return 0, nil, err
	}
	return c.post(ctx, "/api/orders", body, userHeaders(user))
}

func (c *apiClient) initiate(ctx context.Context, provider string, req initiateRequest, user string) (int, []byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, nil, err
	}
	return c.post(ctx, "/api/payments/"+provider, body, userHeaders(user))
}

func (c *apiClient) getOrder(ctx context.Context, id string) (*orderResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/orders/"+id, nil)
	if err != nil {
		return nil, err
	}
	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("get order %s: HTTP %d", id, status)
	}
	var out orderResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) sendMpesaCallback(ctx context.Context, cb mpesaCallback, token string) (int, []byte, error) {
	body, err := cb.payload()
	if err != nil {
		return 0, nil, err
	}
	path := "/webhooks/mpesa"
	if token != "" {
		path += "?token=" + token
	}
	return c.post(ctx, path, body, nil)
}

func (c *apiClient) sendStripeEvent(ctx context.Context, ev stripeEvent, secret string) (int, []byte, error) {
	body, err := ev.payload()
	if err != nil {
		return 0, nil, err
	}
	headers := map[string]string{
		payment.StripeSignatureHeader: payment.SignStripePayload(secret, time.Now(), body),
	}
	return c.post(ctx, "/webhooks/stripe", body, headers)
}

func (c *apiClient) post(ctx context.Context, path string, body []byte, headers map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req)
}

func (c *apiClient) do(req *http.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func userHeaders(user string) map[string]string {
	if user == "" {
		return nil
	}
	return map[string]string{"X-User-ID": user}
}
