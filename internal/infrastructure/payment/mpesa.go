package payment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"checkout-payments/internal/domain"

	"github.com/goccy/go-json"
	"github.com/goliatone/go-logger/glog"
	"github.com/shopspring/decimal"
)

const (
	mpesaTimestampLayout     = "20060102150405"
	mpesaTokenRenewBefore    = time.Minute
	mpesaMaxAccountReference = 12
	mpesaMaxDescription      = 13

	// returned by the STK query endpoint while the customer has not answered
	mpesaStillProcessingCode = "500.001.1001"

	// ResultCode of a query answered before the transaction settles
	mpesaStillProcessingResult = "4999"
)

// Daraja timestamps are East Africa Time.
var eastAfricaTime = time.FixedZone("EAT", 3*60*60)

type MpesaConfig struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	Passkey         string
	CountryCode     string
	TransactionType string
	CallbackURL     string
	Timeout         time.Duration
	Logger          glog.Logger
}

type MpesaGateway struct {
	cfg    MpesaConfig
	client *http.Client
	cache  TokenCache
	logger glog.Logger
	now    func() time.Time
}

func NewMpesaGateway(cfg MpesaConfig, cache TokenCache) *MpesaGateway {
	if cfg.CountryCode == "" {
		cfg.CountryCode = "254"
	}
	if cfg.TransactionType == "" {
		cfg.TransactionType = "CustomerPayBillOnline"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cache == nil {
		cache = NewMemoryTokenCache()
	}
	if cfg.Logger == nil {
		cfg.Logger = glog.Nop()
	}
	return &MpesaGateway{
		cfg:    cfg,
		client: newHTTPClient(cfg.Timeout),
		cache:  cache,
		logger: cfg.Logger,
		now:    time.Now,
	}
}

func (g *MpesaGateway) Provider() domain.Provider {
	return domain.ProviderMpesa
}

type mpesaTokenResponse struct {
	AccessToken string     `json:"access_token"`
	ExpiresIn   flexString `json:"expires_in"`
}

// Authenticate exchanges the consumer key and secret for a bearer token
// using the client-credentials grant.
func (g *MpesaGateway) Authenticate(ctx context.Context) (Token, error) {
	key := g.cacheKey()
	token, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		g.logger.WithContext(ctx).Warn("token cache read failed, requesting a new token", "error", err)
	} else if ok {
		return token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return Token{}, domain.IntegrationFailure(domain.ProviderMpesa, err)
	}
	req.SetBasicAuth(g.cfg.ConsumerKey, g.cfg.ConsumerSecret)

	status, body, err := send(g.client, req)
	if err != nil {
		return Token{}, domain.IntegrationFailure(domain.ProviderMpesa, err)
	}
	if status != http.StatusOK {
		return Token{}, domain.IntegrationFailure(domain.ProviderMpesa, fmt.Errorf("oauth returned status %d: %s", status, mpesaErrorMessage(body)))
	}

	var out mpesaTokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Token{}, domain.IntegrationFailure(domain.ProviderMpesa, fmt.Errorf("decode oauth response: %w", err))
	}
	if out.AccessToken == "" {
		return Token{}, domain.IntegrationFailure(domain.ProviderMpesa, errors.New("oauth response carried no access token"))
	}

	token = Token{Value: out.AccessToken}
	if seconds, err := strconv.Atoi(out.ExpiresIn.String()); err == nil && seconds > 0 {
		token.ExpiresAt = g.now().UTC().Add(time.Duration(seconds)*time.Second - mpesaTokenRenewBefore)
	}
	if err := g.cache.Set(ctx, key, token); err != nil {
		g.logger.WithContext(ctx).Warn("token cache write failed", "error", err)
	}
	return token, nil
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string     `json:"MerchantRequestID"`
	CheckoutRequestID   string     `json:"CheckoutRequestID"`
	ResponseCode        flexString `json:"ResponseCode"`
	ResponseDescription string     `json:"ResponseDescription"`
	CustomerMessage     string     `json:"CustomerMessage"`
}

// InitiatePayment sends an STK push prompt to the payee's phone.
func (g *MpesaGateway) InitiatePayment(ctx context.Context, token Token, req InitiationRequest) (InitiationResult, error) {
	if err := req.Validate(); err != nil {
		return InitiationResult{}, err
	}
	phone, err := NormalizePhone(req.PayeeIdentifier, g.cfg.CountryCode)
	if err != nil {
		return InitiationResult{}, err
	}
	if !req.Amount.Equal(req.Amount.Truncate(0)) {
		return InitiationResult{}, domain.ValidationFailure("amount", "must be a whole number for mpesa payments")
	}

	timestamp := Timestamp(g.now())
	description := req.Description
	if description == "" {
		description = "Payment"
	}
	payload := stkPushRequest{
		BusinessShortCode: g.cfg.ShortCode,
		Password:          Password(g.cfg.ShortCode, g.cfg.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   g.cfg.TransactionType,
		Amount:            req.Amount.IntPart(),
		PartyA:            phone,
		PartyB:            g.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       g.cfg.CallbackURL,
		AccountReference:  truncate(req.OrderReference, mpesaMaxAccountReference),
		TransactionDesc:   truncate(description, mpesaMaxDescription),
	}

	status, body, err := g.postJSON(ctx, token, "/mpesa/stkpush/v1/processrequest", payload)
	if err != nil {
		return InitiationResult{}, domain.IntegrationFailure(domain.ProviderMpesa, err)
	}
	if status != http.StatusOK {
		return InitiationResult{}, domain.IntegrationFailure(domain.ProviderMpesa, fmt.Errorf("stk push returned status %d: %s", status, mpesaErrorMessage(body)))
	}

	var out stkPushResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return InitiationResult{}, domain.IntegrationFailure(domain.ProviderMpesa, fmt.Errorf("decode stk push response: %w", err))
	}
	if out.ResponseCode.String() != "0" {
		return InitiationResult{}, domain.IntegrationFailure(domain.ProviderMpesa, fmt.Errorf("stk push rejected with code %s: %s", out.ResponseCode, out.ResponseDescription))
	}
	if out.CheckoutRequestID == "" {
		return InitiationResult{}, domain.IntegrationFailure(domain.ProviderMpesa, errors.New("stk push response carried no CheckoutRequestID"))
	}

	return InitiationResult{
		CorrelationID:     out.CheckoutRequestID,
		ProviderReference: out.MerchantRequestID,
		Raw:               decodeRaw(body),
	}, nil
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode flexString `json:"ResponseCode"`
	ResultCode   flexString `json:"ResultCode"`
	ResultDesc   string     `json:"ResultDesc"`
}

// QueryStatus asks Daraja for the outcome of an STK push.
func (g *MpesaGateway) QueryStatus(ctx context.Context, token Token, correlationID string) (domain.Notification, error) {
	timestamp := Timestamp(g.now())
	payload := stkQueryRequest{
		BusinessShortCode: g.cfg.ShortCode,
		Password:          Password(g.cfg.ShortCode, g.cfg.Passkey, timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: correlationID,
	}

	status, body, err := g.postJSON(ctx, token, "/mpesa/stkpushquery/v1/query", payload)
	if err != nil {
		return domain.Notification{}, domain.IntegrationFailure(domain.ProviderMpesa, err)
	}

	n := domain.Notification{
		Provider:      domain.ProviderMpesa,
		CorrelationID: correlationID,
		EventType:     "stk_query",
		Raw:           body,
	}
	if status != http.StatusOK {
		var apiErr mpesaAPIError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.ErrorCode == mpesaStillProcessingCode {
			n.Outcome = domain.OutcomePending
			return n, nil
		}
		return domain.Notification{}, domain.IntegrationFailure(domain.ProviderMpesa, fmt.Errorf("stk query returned status %d: %s", status, mpesaErrorMessage(body)))
	}

	var out stkQueryResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.Notification{}, domain.IntegrationFailure(domain.ProviderMpesa, fmt.Errorf("decode stk query response: %w", err))
	}
	switch code := out.ResultCode.String(); code {
	case "0":
		n.Outcome = domain.OutcomeSucceeded
	case "", mpesaStillProcessingResult, mpesaStillProcessingCode:
		n.Outcome = domain.OutcomePending
	default:
		n.Outcome = domain.OutcomeFailed
		n.FailureReason = out.ResultDesc
	}
	return n, nil
}

func (g *MpesaGateway) postJSON(ctx context.Context, token Token, path string, payload any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token.Value)
	return send(g.client, req)
}

func (g *MpesaGateway) cacheKey() string {
	sum := sha256.Sum256([]byte(g.cfg.BaseURL + "|" + g.cfg.ConsumerKey))
	return "mpesa:" + hex.EncodeToString(sum[:8])
}

type mpesaAPIError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func mpesaErrorMessage(body []byte) string {
	var apiErr mpesaAPIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.ErrorMessage != "" {
		return fmt.Sprintf("%s %s", apiErr.ErrorCode, apiErr.ErrorMessage)
	}
	return truncate(strings.TrimSpace(string(body)), 200)
}

// NormalizePhone returns the canonical international form Daraja expects:
// digits only, country code first, no leading "+".
func NormalizePhone(phone, countryCode string) (string, error) {
	normalized := strings.Join(strings.Fields(phone), "")
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.TrimPrefix(normalized, "+")
	if strings.HasPrefix(normalized, "0") {
		normalized = countryCode + strings.TrimPrefix(normalized, "0")
	}
	if normalized == "" {
		return "", domain.ValidationFailure("payeeIdentifier", "is required")
	}
	for _, r := range normalized {
		if r < '0' || r > '9' {
			return "", domain.ValidationFailure("payeeIdentifier", "must be a phone number")
		}
	}
	return normalized, nil
}

// Timestamp formats t as the fixed-width yyyyMMddHHmmss string Daraja signs.
func Timestamp(t time.Time) string {
	return t.In(eastAfricaTime).Format(mpesaTimestampLayout)
}

// Password is base64(shortCode + passkey + timestamp).
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

// truncate keeps at most max characters without splitting a rune.
func truncate(value string, max int) string {
	if utf8.RuneCountInString(value) <= max {
		return value
	}
	return string([]rune(value)[:max])
}

// mpesaAmount parses a metadata value such as 100, 1.00 or "100".
func mpesaAmount(value string) (decimal.NullDecimal, error) {
	if value == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
