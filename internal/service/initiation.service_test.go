package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"checkout-payments/internal/database/dbtest"
	"checkout-payments/internal/domain"
	"checkout-payments/internal/infrastructure/payment"
	"checkout-payments/internal/repo"
	"checkout-payments/internal/service"
)

func newInitiationFixture(t *testing.T, gateways ...payment.Gateway) (service.InitiationService, repo.PaymentRepo, repo.OrderRepo) {
	t.Helper()
	db := dbtest.New(t)
	payments := repo.NewPaymentRepo(db)
	orders := repo.NewOrderRepo(db)
	return service.NewInitiationService(payments, orders, gateways, nil), payments, orders
}

func TestInitiate_MpesaCreatesPendingAttempt(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{
		provider: domain.ProviderMpesa,
		initiateFn: func(_ context.Context, _ payment.Token, req payment.InitiationRequest) (payment.InitiationResult, error) {
			phone, err := payment.NormalizePhone(req.PayeeIdentifier, "254")
			if err != nil {
				return payment.InitiationResult{}, err
			}
			return payment.InitiationResult{
				CorrelationID:     "ws_CO_1",
				ProviderReference: "29115-1",
				Raw:               map[string]any{"ResponseCode": "0", "PhoneNumber": phone},
			}, nil
		},
	}
	svc, payments, _ := newInitiationFixture(t, gateway)

	actor := "user-1"
	out, err := svc.Initiate(ctx, domain.ProviderMpesa, service.InitiationInput{
		PayeeIdentifier: "0712345678",
		Amount:          decimal.NewFromInt(100),
		OrderID:         "ORD1",
		Actor:           &actor,
	})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, "ws_CO_1", out.CorrelationID)
	require.Equal(t, "254712345678", out.ProviderData["PhoneNumber"])

	attempt, err := payments.FindByCorrelationID(ctx, "ws_CO_1")
	require.NoError(t, err)
	require.NotNil(t, attempt)
	require.Equal(t, "ORD1", attempt.OrderID)
	require.True(t, decimal.NewFromInt(100).Equal(attempt.Amount))
	require.Equal(t, domain.PaymentPending, attempt.Status)
	require.Equal(t, domain.ProviderMpesa, attempt.Provider)
	require.Equal(t, "user-1", *attempt.UserID)
	require.Equal(t, "29115-1", *attempt.ProviderReference)
}

func TestInitiate_AnonymousCaller(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{
		provider: domain.ProviderStripe,
		initiateFn: func(context.Context, payment.Token, payment.InitiationRequest) (payment.InitiationResult, error) {
			return payment.InitiationResult{CorrelationID: "pi_1", Raw: map[string]any{"client_secret": "pi_1_secret"}}, nil
		},
	}
	svc, payments, _ := newInitiationFixture(t, gateway)

	_, err := svc.Initiate(ctx, domain.ProviderStripe, service.InitiationInput{
		PayeeIdentifier: "buyer@example.com",
		Amount:          decimal.RequireFromString("49.99"),
		OrderID:         "ORD2",
	})
	require.NoError(t, err)

	attempt, err := svc.GetPayment(ctx, "pi_1")
	require.NoError(t, err)
	require.Nil(t, attempt.UserID)
	require.Nil(t, attempt.ProviderReference)

	_, err = payments.FindByCorrelationID(ctx, "pi_1")
	require.NoError(t, err)
}

func TestInitiate_ProviderFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{
		provider: domain.ProviderMpesa,
		initiateFn: func(context.Context, payment.Token, payment.InitiationRequest) (payment.InitiationResult, error) {
			return payment.InitiationResult{}, domain.IntegrationFailure(domain.ProviderMpesa, errors.New("connection reset"))
		},
	}
	svc, payments, _ := newInitiationFixture(t, gateway)

	_, err := svc.Initiate(ctx, domain.ProviderMpesa, service.InitiationInput{
		PayeeIdentifier: "0712345678",
		Amount:          decimal.NewFromInt(100),
		OrderID:         "ORD1",
	})
	require.True(t, domain.IsIntegration(err))
	require.Equal(t, domain.ErrorKindInternal, domain.ErrorKind(err))

	stale, err := payments.FindPendingBefore(ctx, farFuture, 10)
	require.NoError(t, err)
	require.Empty(t, stale)
}

func TestInitiate_AuthenticationFailureSkipsProviderCall(t *testing.T) {
	gateway := &fakeGateway{
		provider: domain.ProviderMpesa,
		authFn: func(context.Context) (payment.Token, error) {
			return payment.Token{}, domain.IntegrationFailure(domain.ProviderMpesa, errors.New("401"))
		},
	}
	svc, _, _ := newInitiationFixture(t, gateway)

	_, err := svc.Initiate(context.Background(), domain.ProviderMpesa, service.InitiationInput{
		PayeeIdentifier: "0712345678",
		Amount:          decimal.NewFromInt(100),
		OrderID:         "ORD1",
	})
	require.True(t, domain.IsIntegration(err))
	require.Zero(t, gateway.calls())
}

func TestInitiate_Validation(t *testing.T) {
	gateway := &fakeGateway{provider: domain.ProviderMpesa}
	svc, _, orders := newInitiationFixture(t, gateway)
	ctx := context.Background()

	cases := map[string]service.InitiationInput{
		"missing payee":   {Amount: decimal.NewFromInt(1), OrderID: "ORD1"},
		"zero amount":     {PayeeIdentifier: "0712345678", Amount: decimal.Zero, OrderID: "ORD1"},
		"negative amount": {PayeeIdentifier: "0712345678", Amount: decimal.NewFromInt(-5), OrderID: "ORD1"},
		"missing order":   {PayeeIdentifier: "0712345678", Amount: decimal.NewFromInt(1), OrderID: "  "},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Initiate(ctx, domain.ProviderMpesa, input)
			require.True(t, domain.IsValidation(err))
			require.Equal(t, domain.ErrorKindInvalidArgument, domain.ErrorKind(err))
		})
	}

	_, err := svc.Initiate(ctx, domain.ProviderStripe, service.InitiationInput{
		PayeeIdentifier: "x", Amount: decimal.NewFromInt(1), OrderID: "ORD1",
	})
	require.True(t, domain.IsValidation(err), "unconfigured provider")

	require.NoError(t, orders.CreateOrder(ctx, nil, &domain.Order{ID: "PAID1", Status: domain.OrderPaid}))
	_, err = svc.Initiate(ctx, domain.ProviderMpesa, service.InitiationInput{
		PayeeIdentifier: "0712345678", Amount: decimal.NewFromInt(1), OrderID: "PAID1",
	})
	require.True(t, domain.IsValidation(err), "paid order")

	require.Zero(t, gateway.calls())
}

func TestGetPayment_NotFound(t *testing.T) {
	svc, _, _ := newInitiationFixture(t)
	_, err := svc.GetPayment(context.Background(), "nope")
	require.True(t, domain.IsNotFound(err))
}
