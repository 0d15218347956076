package payment

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"checkout-payments/internal/domain"

	"github.com/goccy/go-json"
)

type mpesaCallbackEnvelope struct {
	Body struct {
		StkCallback *mpesaStkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type mpesaStkCallback struct {
	MerchantRequestID string     `json:"MerchantRequestID"`
	CheckoutRequestID string     `json:"CheckoutRequestID"`
	ResultCode        flexString `json:"ResultCode"`
	ResultDesc        string     `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []mpesaMetadataItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

type mpesaMetadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// lookup finds a metadata value by name. Daraja does not guarantee item order.
func (cb *mpesaStkCallback) lookup(name string) string {
	if cb.CallbackMetadata == nil {
		return ""
	}
	for _, item := range cb.CallbackMetadata.Item {
		if item.Name != name {
			continue
		}
		var f flexString
		if err := json.Unmarshal(item.Value, &f); err != nil {
			return ""
		}
		return f.String()
	}
	return ""
}

// MpesaCallbackSource handles STK push result callbacks. Daraja does not
// sign callbacks, so the only check available is an optional shared token
// embedded in the registered callback URL.
type MpesaCallbackSource struct {
	callbackToken string
}

func NewMpesaCallbackSource(callbackToken string) *MpesaCallbackSource {
	return &MpesaCallbackSource{callbackToken: callbackToken}
}

func (s *MpesaCallbackSource) Provider() domain.Provider {
	return domain.ProviderMpesa
}

func (s *MpesaCallbackSource) Verify(_ context.Context, in InboundNotification) error {
	if s.callbackToken == "" {
		return nil
	}
	got := in.Query.Get("token")
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.callbackToken)) != 1 {
		return domain.AuthenticityFailure(domain.ProviderMpesa, "callback token mismatch")
	}
	return nil
}

func (s *MpesaCallbackSource) Parse(in InboundNotification) (domain.Notification, error) {
	return ParseMpesaCallback(in.Body)
}

// ParseMpesaCallback normalises an STK callback envelope.
func ParseMpesaCallback(body []byte) (domain.Notification, error) {
	var envelope mpesaCallbackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.Notification{}, domain.ValidationFailure("body", fmt.Sprintf("is not a valid callback: %v", err))
	}
	cb := envelope.Body.StkCallback
	if cb == nil {
		return domain.Notification{}, domain.ValidationFailure("Body.stkCallback", "is required")
	}
	if strings.TrimSpace(cb.CheckoutRequestID) == "" {
		return domain.Notification{}, domain.ValidationFailure("CheckoutRequestID", "is required")
	}
	if cb.ResultCode == "" {
		return domain.Notification{}, domain.ValidationFailure("ResultCode", "is required")
	}

	n := domain.Notification{
		Provider:      domain.ProviderMpesa,
		CorrelationID: cb.CheckoutRequestID,
		EventType:     "stk_callback",
		Raw:           body,
	}
	if cb.ResultCode.String() != "0" {
		n.Outcome = domain.OutcomeFailed
		n.FailureReason = cb.ResultDesc
		if n.FailureReason == "" {
			n.FailureReason = "result code " + cb.ResultCode.String()
		}
		return n, nil
	}

	n.Outcome = domain.OutcomeSucceeded
	n.ExternalTransactionID = cb.lookup("MpesaReceiptNumber")
	amount, err := mpesaAmount(cb.lookup("Amount"))
	if err != nil {
		return domain.Notification{}, domain.ValidationFailure("Amount", "is not a number")
	}
	n.SettledAmount = amount
	return n, nil
}
