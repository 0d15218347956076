package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"checkout-payments/internal/database"
	"checkout-payments/internal/domain"
	"checkout-payments/internal/infrastructure/payment"
	"checkout-payments/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const actorHeader = "X-User-ID"

type initiatePaymentRequest struct {
	PayeeIdentifier string          `json:"payeeIdentifier"`
	Amount          decimal.Decimal `json:"amount"`
	OrderID         string          `json:"orderId"`
	Description     string          `json:"description"`
}

type createOrderRequest struct {
	ID string `json:"id"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type paymentResponse struct {
	ID                    string    `json:"id"`
	OrderID               string    `json:"orderId"`
	UserID                *string   `json:"userId"`
	Amount                string    `json:"amount"`
	Provider              string    `json:"provider"`
	CorrelationID         string    `json:"correlationId"`
	ProviderReference     *string   `json:"providerReference"`
	Status                string    `json:"status"`
	ExternalTransactionID *string   `json:"externalTransactionId"`
	FailureReason         *string   `json:"failureReason"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

func newPaymentResponse(p *domain.PaymentAttempt) paymentResponse {
	return paymentResponse{
		ID:                    p.ID,
		OrderID:               p.OrderID,
		UserID:                p.UserID,
		Amount:                p.Amount.StringFixed(2),
		Provider:              string(p.Provider),
		CorrelationID:         p.CorrelationID,
		ProviderReference:     p.ProviderReference,
		Status:                string(p.Status),
		ExternalTransactionID: p.ExternalTransactionID,
		FailureReason:         p.FailureReason,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}

type orderResponse struct {
	ID            string    `json:"id"`
	UserID        *string   `json:"userId"`
	Status        string    `json:"status"`
	PaymentMethod *string   `json:"paymentMethod"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func newOrderResponse(o *domain.Order) orderResponse {
	return orderResponse{
		ID:            o.ID,
		UserID:        o.UserID,
		Status:        string(o.Status),
		PaymentMethod: o.PaymentMethod,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := database.Health(c.Request.Context(), s.db)
	if stats["status"] != "up" {
		c.JSON(http.StatusServiceUnavailable, stats)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleInitiatePayment(c *gin.Context) {
	provider, ok := domain.ParseProvider(c.Param("provider"))
	if !ok {
		s.writeError(c, domain.ValidationFailure("provider", "is not supported"))
		return
	}

	var req initiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.ValidationFailure("body", "must be a JSON object with payeeIdentifier, amount and orderId"))
		return
	}

	out, err := s.initiation.Initiate(c.Request.Context(), provider, service.InitiationInput{
		PayeeIdentifier: req.PayeeIdentifier,
		Amount:          req.Amount,
		OrderID:         req.OrderID,
		Description:     req.Description,
		Actor:           actor(c),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetPayment(c *gin.Context) {
	attempt, err := s.initiation.GetPayment(c.Request.Context(), c.Param("correlationId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPaymentResponse(attempt))
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var req createOrderRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			s.writeError(c, domain.ValidationFailure("body", "must be a JSON object"))
			return
		}
	}

	order, err := s.orders.CreateOrder(c.Request.Context(), req.ID, actor(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newOrderResponse(order))
}

func (s *Server) handleGetOrder(c *gin.Context) {
	order, err := s.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

// handleMpesaCallback answers 200 {"result":"success"} for anything it
// accepts so Daraja stops retrying.
func (s *Server) handleMpesaCallback(c *gin.Context) {
	in, err := readNotification(c)
	if err != nil {
		c.String(http.StatusBadRequest, "invalid callback body")
		return
	}
	res := s.reconciliation.HandleNotification(c.Request.Context(), domain.ProviderMpesa, in)
	if !res.Accepted {
		c.String(res.StatusCode, domain.ErrorMessage(res.Err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "success"})
}

func (s *Server) handleStripeWebhook(c *gin.Context) {
	in, err := readNotification(c)
	if err != nil {
		c.String(http.StatusBadRequest, "Webhook Error: invalid body")
		return
	}
	res := s.reconciliation.HandleNotification(c.Request.Context(), domain.ProviderStripe, in)
	if !res.Accepted {
		c.String(res.StatusCode, "Webhook Error: "+domain.ErrorMessage(res.Err))
		return
	}
	c.Status(http.StatusOK)
}

// readNotification keeps the body byte-for-byte; signatures are computed
// over the raw payload.
func readNotification(c *gin.Context) (payment.InboundNotification, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		return payment.InboundNotification{}, err
	}
	return payment.InboundNotification{
		Body:    body,
		Headers: c.Request.Header,
		Query:   c.Request.URL.Query(),
	}, nil
}

func (s *Server) writeError(c *gin.Context, err error) {
	kind := domain.ErrorKind(err)
	status := http.StatusInternalServerError
	switch kind {
	case domain.ErrorKindInvalidArgument:
		status = http.StatusBadRequest
	case domain.ErrorKindNotFound:
		status = http.StatusNotFound
	case domain.ErrorKindUnauthenticated:
		status = http.StatusUnauthorized
	}
	if status == http.StatusInternalServerError {
		s.logger.WithContext(c.Request.Context()).Error("request failed", "path", c.FullPath(), "error", err)
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": errorBody{Kind: kind, Message: domain.ErrorMessage(err)}})
}

func actor(c *gin.Context) *string {
	id := strings.TrimSpace(c.GetHeader(actorHeader))
	if id == "" {
		return nil
	}
	return &id
}
