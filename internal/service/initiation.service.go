package service

import (
	"context"
	"strings"

	"checkout-payments/internal/domain"
	"checkout-payments/internal/infrastructure/payment"
	"checkout-payments/internal/repo"

	"github.com/google/uuid"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/shopspring/decimal"
)

type InitiationInput struct {
	PayeeIdentifier string
	Amount          decimal.Decimal
	OrderID         string
	Description     string
	// Actor is the authenticated caller, nil for anonymous checkouts.
	Actor *string
}

type InitiationOutput struct {
	Success       bool           `json:"success"`
	Message       string         `json:"message"`
	CorrelationID string         `json:"correlationId"`
	ProviderData  map[string]any `json:"providerData"`
}

type InitiationService interface {
	Initiate(ctx context.Context, provider domain.Provider, input InitiationInput) (*InitiationOutput, error)
	// GetPayment returns the attempt for a correlation id.
	GetPayment(ctx context.Context, correlationID string) (*domain.PaymentAttempt, error)
}

type initiationService struct {
	paymentRepo repo.PaymentRepo
	orderRepo   repo.OrderRepo
	gateways    map[domain.Provider]payment.Gateway
	logger      glog.Logger
}

func NewInitiationService(
	paymentRepo repo.PaymentRepo,
	orderRepo repo.OrderRepo,
	gateways []payment.Gateway,
	logger glog.Logger,
) InitiationService {
	byProvider := make(map[domain.Provider]payment.Gateway, len(gateways))
	for _, g := range gateways {
		byProvider[g.Provider()] = g
	}
	if logger == nil {
		logger = glog.Nop()
	}
	return &initiationService{
		paymentRepo: paymentRepo,
		orderRepo:   orderRepo,
		gateways:    byProvider,
		logger:      logger,
	}
}

func (s *initiationService) Initiate(ctx context.Context, provider domain.Provider, input InitiationInput) (*InitiationOutput, error) {
	log := s.logger.WithContext(ctx)

	gateway, ok := s.gateways[provider]
	if !ok {
		return nil, domain.ValidationFailure("provider", "is not supported")
	}

	req := payment.InitiationRequest{
		PayeeIdentifier: strings.TrimSpace(input.PayeeIdentifier),
		Amount:          input.Amount,
		OrderReference:  strings.TrimSpace(input.OrderID),
		Description:     input.Description,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Description == "" {
		req.Description = "Order " + req.OrderReference
	}

	order, err := s.orderRepo.FindById(ctx, req.OrderReference)
	if err != nil {
		return nil, err
	}
	if order != nil && order.Status == domain.OrderPaid {
		return nil, domain.ValidationFailure("orderId", "is already paid")
	}

	token, err := gateway.Authenticate(ctx)
	if err != nil {
		log.Error("provider authentication failed", "provider", provider, "order_id", req.OrderReference, "error", err)
		return nil, err
	}

	result, err := gateway.InitiatePayment(ctx, token, req)
	if err != nil {
		log.Error("payment initiation failed", "provider", provider, "order_id", req.OrderReference, "error", err)
		return nil, err
	}

	attempt := &domain.PaymentAttempt{
		ID:            uuid.NewString(),
		OrderID:       req.OrderReference,
		UserID:        input.Actor,
		Amount:        req.Amount,
		Provider:      provider,
		CorrelationID: result.CorrelationID,
		Status:        domain.PaymentPending,
	}
	if result.ProviderReference != "" {
		ref := result.ProviderReference
		attempt.ProviderReference = &ref
	}

	// the provider has already accepted the request; a failed insert leaves
	// the callback to arrive as an orphan
	if err := s.paymentRepo.CreatePayment(ctx, nil, attempt); err != nil {
		log.Error("failed to record pending payment",
			"provider", provider,
			"order_id", attempt.OrderID,
			"correlation_id", attempt.CorrelationID,
			"error", err,
		)
		return nil, err
	}

	log.Info("payment initiated",
		"provider", provider,
		"order_id", attempt.OrderID,
		"attempt_id", attempt.ID,
		"correlation_id", attempt.CorrelationID,
		"amount", attempt.Amount.String(),
	)

	return &InitiationOutput{
		Success:       true,
		Message:       "payment initiated",
		CorrelationID: attempt.CorrelationID,
		ProviderData:  result.Raw,
	}, nil
}

func (s *initiationService) GetPayment(ctx context.Context, correlationID string) (*domain.PaymentAttempt, error) {
	attempt, err := s.paymentRepo.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, domain.NotFound("payment", correlationID)
	}
	return attempt, nil
}
