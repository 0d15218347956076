package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"checkout-payments/internal/database/dbtest"
	"checkout-payments/internal/domain"
	"checkout-payments/internal/infrastructure/payment"
	"checkout-payments/internal/repo"
	"checkout-payments/internal/service"
)

const testWebhookSecret = "whsec_test"

type stubGateway struct {
	provider domain.Provider
	result   payment.InitiationResult
	err      error
}

func (g *stubGateway) Provider() domain.Provider { return g.provider }

func (g *stubGateway) Authenticate(context.Context) (payment.Token, error) {
	return payment.Token{Value: "token"}, nil
}

func (g *stubGateway) InitiatePayment(_ context.Context, _ payment.Token, req payment.InitiationRequest) (payment.InitiationResult, error) {
	if err := req.Validate(); err != nil {
		return payment.InitiationResult{}, err
	}
	return g.result, g.err
}

type testServer struct {
	handler  http.Handler
	payments repo.PaymentRepo
	orders   repo.OrderRepo
	mpesa    *stubGateway
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dbtest.New(t)
	payments := repo.NewPaymentRepo(db)
	orders := repo.NewOrderRepo(db)
	mpesa := &stubGateway{
		provider: domain.ProviderMpesa,
		result: payment.InitiationResult{
			CorrelationID:     "ws_CO_1",
			ProviderReference: "29115-1",
			Raw:               map[string]any{"ResponseCode": "0", "CheckoutRequestID": "ws_CO_1"},
		},
	}

	srv := New(Dependencies{
		DB:         db,
		Initiation: service.NewInitiationService(payments, orders, []payment.Gateway{mpesa}, nil),
		Reconciliation: service.NewReconciliationService(db, payments, orders,
			[]payment.NotificationSource{
				payment.NewMpesaCallbackSource(""),
				payment.NewStripeWebhookSource(testWebhookSecret, 5*time.Minute),
			}, nil, nil, service.ReconciliationOptions{AmountTolerance: decimal.RequireFromString("0.01")}),
		Orders:         service.NewOrderService(db, orders),
		AllowedOrigins: []string{"https://shop.example.com"},
	})
	return &testServer{handler: srv.Handler(), payments: payments, orders: orders, mpesa: mpesa}
}

func (ts *testServer) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body struct {
		Error errorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"up"`)
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestInitiatePayment(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/payments/mpesa",
		[]byte(`{"payeeIdentifier":"0712345678","amount":100,"orderId":"ORD1"}`),
		map[string]string{actorHeader: "user-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out service.InitiationOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.True(t, out.Success)
	require.Equal(t, "ws_CO_1", out.CorrelationID)
	require.Equal(t, "ws_CO_1", out.ProviderData["CheckoutRequestID"])

	attempt, err := ts.payments.FindByCorrelationID(context.Background(), "ws_CO_1")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentPending, attempt.Status)
	require.Equal(t, "user-1", *attempt.UserID)

	rec = ts.do(t, http.MethodGet, "/api/payments/ws_CO_1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got paymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "100.00", got.Amount)
	require.Equal(t, "pending", got.Status)
	require.Equal(t, "ORD1", got.OrderID)
}

func TestInitiatePaymentErrors(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name   string
		path   string
		body   string
		status int
		kind   string
	}{
		{"unknown provider", "/api/payments/paypal", `{"payeeIdentifier":"x","amount":1,"orderId":"O"}`, http.StatusBadRequest, domain.ErrorKindInvalidArgument},
		{"disabled provider", "/api/payments/stripe", `{"payeeIdentifier":"x","amount":1,"orderId":"O"}`, http.StatusBadRequest, domain.ErrorKindInvalidArgument},
		{"bad json", "/api/payments/mpesa", `{"amount":`, http.StatusBadRequest, domain.ErrorKindInvalidArgument},
		{"missing payee", "/api/payments/mpesa", `{"amount":1,"orderId":"O"}`, http.StatusBadRequest, domain.ErrorKindInvalidArgument},
		{"zero amount", "/api/payments/mpesa", `{"payeeIdentifier":"0712345678","amount":0,"orderId":"O"}`, http.StatusBadRequest, domain.ErrorKindInvalidArgument},
		{"missing order", "/api/payments/mpesa", `{"payeeIdentifier":"0712345678","amount":"5"}`, http.StatusBadRequest, domain.ErrorKindInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, tc.path, []byte(tc.body), nil)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			require.Equal(t, tc.kind, decodeError(t, rec).Kind)
		})
	}

	ts.mpesa.err = domain.IntegrationFailure(domain.ProviderMpesa, errors.New("connection refused"))
	rec := ts.do(t, http.MethodPost, "/api/payments/mpesa", []byte(`{"payeeIdentifier":"0712345678","amount":100,"orderId":"ORD9"}`), nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	require.Equal(t, domain.ErrorKindInternal, body.Kind)
	require.Equal(t, "mpesa integration failed", body.Message)
	require.NotContains(t, body.Message, "connection refused")

	rec = ts.do(t, http.MethodGet, "/api/payments/ws_CO_1", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrders(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/orders", []byte(`{"id":"ORD1"}`), map[string]string{actorHeader: "user-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/orders", []byte(`{"id":"ORD1"}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/orders", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var generated orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &generated))
	require.NotEmpty(t, generated.ID)

	rec = ts.do(t, http.MethodGet, "/api/orders/ORD1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var order orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	require.Equal(t, "unpaid", order.Status)
	require.Equal(t, "user-1", *order.UserID)

	rec = ts.do(t, http.MethodGet, "/api/orders/nope", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, domain.ErrorKindNotFound, decodeError(t, rec).Kind)
}

func TestMpesaCallbackEndToEnd(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.orders.CreateOrder(ctx, nil, &domain.Order{ID: "ORD1"}))

	rec := ts.do(t, http.MethodPost, "/api/payments/mpesa",
		[]byte(`{"payeeIdentifier":"0712345678","amount":100,"orderId":"ORD1"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	callback := []byte(`{"Body":{"stkCallback":{"MerchantRequestID":"29115-1","CheckoutRequestID":"ws_CO_1",
		"ResultCode":0,"ResultDesc":"The service request is processed successfully.",
		"CallbackMetadata":{"Item":[{"Name":"MpesaReceiptNumber","Value":"ABC123"},{"Name":"Amount","Value":100}]}}}}`)

	for i := 0; i < 2; i++ {
		rec = ts.do(t, http.MethodPost, "/webhooks/mpesa", callback, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"result":"success"}`, rec.Body.String())
	}

	order, err := ts.orders.FindById(ctx, "ORD1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderPaid, order.Status)
	require.Equal(t, "mpesa", *order.PaymentMethod)

	rec = ts.do(t, http.MethodPost, "/webhooks/mpesa", []byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_x","ResultCode":1,"ResultDesc":"Cancelled"}}}`), nil)
	require.Equal(t, http.StatusOK, rec.Code, "orphans are acknowledged")
	require.JSONEq(t, `{"result":"success"}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/webhooks/mpesa", []byte(`garbage`), nil)
	require.Equal(t, http.StatusOK, rec.Code, "malformed callbacks are acknowledged")
}

func TestStripeWebhook(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.orders.CreateOrder(ctx, nil, &domain.Order{ID: "ORD2"}))
	require.NoError(t, ts.payments.CreatePayment(ctx, nil, &domain.PaymentAttempt{
		ID:            "attempt-2",
		OrderID:       "ORD2",
		Amount:        decimal.RequireFromString("49.99"),
		Provider:      domain.ProviderStripe,
		CorrelationID: "pi_123",
		Status:        domain.PaymentPending,
	}))

	event := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_123",
		"object":"payment_intent","status":"succeeded","amount":4999,"amount_received":4999,"latest_charge":"ch_1"}}}`)

	rec := ts.do(t, http.MethodPost, "/webhooks/stripe", event,
		map[string]string{payment.StripeSignatureHeader: "t=1,v1=00"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Webhook Error")

	attempt, err := ts.payments.FindByCorrelationID(ctx, "pi_123")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentPending, attempt.Status)

	ignored := []byte(`{"id":"evt_0","type":"payment_intent.created","data":{"object":{"id":"pi_123"}}}`)
	rec = ts.do(t, http.MethodPost, "/webhooks/stripe", ignored,
		map[string]string{payment.StripeSignatureHeader: payment.SignStripePayload(testWebhookSecret, time.Now(), ignored)})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/webhooks/stripe", event,
		map[string]string{payment.StripeSignatureHeader: payment.SignStripePayload(testWebhookSecret, time.Now(), event)})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Body.String())

	order, err := ts.orders.FindById(ctx, "ORD2")
	require.NoError(t, err)
	require.Equal(t, domain.OrderPaid, order.Status)
	require.Equal(t, "card", *order.PaymentMethod)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/payments/mpesa", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	require.Equal(t, "https://shop.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/payments/mpesa", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
