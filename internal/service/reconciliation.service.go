package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"checkout-payments/internal/domain"
	"checkout-payments/internal/infrastructure/events"
	"checkout-payments/internal/infrastructure/payment"
	"checkout-payments/internal/repo"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type AckStatus string

const (
	// AckApplied means this delivery moved the attempt to a terminal state.
	AckApplied   AckStatus = "applied"
	AckDuplicate AckStatus = "duplicate"
	AckOrphan    AckStatus = "orphan"
	AckIgnored   AckStatus = "ignored"
	AckRejected  AckStatus = "rejected"
	// AckDeferred is an accepted delivery that hit an internal error; the
	// stale payment worker settles the attempt later.
	AckDeferred AckStatus = "deferred"
)

// AckResult is what gets reported back to the provider.
type AckResult struct {
	Accepted   bool
	StatusCode int
	Status     AckStatus
	Err        error
}

func acknowledge(status AckStatus) AckResult {
	return AckResult{Accepted: true, StatusCode: http.StatusOK, Status: status}
}

type ReconciliationService interface {
	// HandleNotification verifies, normalises and applies a provider callback.
	HandleNotification(ctx context.Context, provider domain.Provider, in payment.InboundNotification) AckResult
	// Apply moves the matching pending attempt to the notification's outcome.
	Apply(ctx context.Context, n domain.Notification) AckResult
}

type ReconciliationOptions struct {
	// AmountTolerance is the largest accepted difference between the settled
	// and the requested amount.
	AmountTolerance decimal.Decimal
}

type reconciliationService struct {
	db          *bun.DB
	paymentRepo repo.PaymentRepo
	orderRepo   repo.OrderRepo
	sources     map[domain.Provider]payment.NotificationSource
	publisher   events.Publisher
	logger      glog.Logger
	tolerance   decimal.Decimal
	now         func() time.Time
}

func NewReconciliationService(
	db *bun.DB,
	paymentRepo repo.PaymentRepo,
	orderRepo repo.OrderRepo,
	sources []payment.NotificationSource,
	publisher events.Publisher,
	logger glog.Logger,
	opts ReconciliationOptions,
) ReconciliationService {
	bySource := make(map[domain.Provider]payment.NotificationSource, len(sources))
	for _, src := range sources {
		bySource[src.Provider()] = src
	}
	if publisher == nil {
		publisher = events.Nop()
	}
	if logger == nil {
		logger = glog.Nop()
	}
	if opts.AmountTolerance.IsNegative() {
		opts.AmountTolerance = decimal.Zero
	}
	return &reconciliationService{
		db:          db,
		paymentRepo: paymentRepo,
		orderRepo:   orderRepo,
		sources:     bySource,
		publisher:   publisher,
		logger:      logger,
		tolerance:   opts.AmountTolerance,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *reconciliationService) HandleNotification(ctx context.Context, provider domain.Provider, in payment.InboundNotification) AckResult {
	log := s.logger.WithContext(ctx)

	source, ok := s.sources[provider]
	if !ok {
		return AckResult{
			StatusCode: http.StatusNotFound,
			Status:     AckRejected,
			Err:        domain.NotFound("notification source", string(provider)),
		}
	}

	if err := source.Verify(ctx, in); err != nil {
		log.Warn("notification rejected", "provider", provider, "error", err)
		return AckResult{StatusCode: http.StatusBadRequest, Status: AckRejected, Err: err}
	}

	n, err := source.Parse(in)
	if err != nil {
		log.Warn("malformed notification acknowledged", "provider", provider, "error", err)
		res := acknowledge(AckIgnored)
		res.Err = err
		return res
	}
	if n.Raw == nil {
		n.Raw = in.Body
	}
	return s.Apply(ctx, n)
}

func (s *reconciliationService) Apply(ctx context.Context, n domain.Notification) AckResult {
	log := s.logger.WithContext(ctx)

	if !n.Outcome.Actionable() {
		log.Debug("notification carries no terminal outcome",
			"provider", n.Provider,
			"event_type", n.EventType,
			"correlation_id", n.CorrelationID,
			"outcome", n.Outcome,
		)
		return acknowledge(AckIgnored)
	}

	attempt, err := s.paymentRepo.FindByCorrelationID(ctx, n.CorrelationID)
	if err != nil {
		log.Error("payment lookup failed", "provider", n.Provider, "correlation_id", n.CorrelationID, "error", err)
		return deferred(err)
	}
	if attempt == nil {
		log.Warn("no payment for notification", "provider", n.Provider, "correlation_id", n.CorrelationID)
		res := acknowledge(AckOrphan)
		res.Err = domain.NotFound("payment", n.CorrelationID)
		return res
	}
	if attempt.Provider != n.Provider {
		log.Warn("notification provider does not match payment",
			"provider", n.Provider,
			"payment_provider", attempt.Provider,
			"correlation_id", n.CorrelationID,
		)
		res := acknowledge(AckOrphan)
		res.Err = domain.NotFound("payment", n.CorrelationID)
		return res
	}
	if attempt.Status.IsTerminal() {
		if attempt.Status == domain.PaymentFailed && n.Outcome == domain.OutcomeSucceeded {
			// the customer was charged for a payment recorded as failed; needs a refund or manual settlement
			log.Warn("provider reports success for a failed payment",
				"provider", n.Provider,
				"correlation_id", n.CorrelationID,
				"order_id", attempt.OrderID,
				"failure_reason", stringValue(attempt.FailureReason),
				"external_transaction_id", n.ExternalTransactionID,
			)
		} else {
			log.Info("payment already settled", "correlation_id", n.CorrelationID, "status", attempt.Status)
		}
		return acknowledge(AckDuplicate)
	}

	outcome := n.Outcome
	reason := n.FailureReason
	if outcome == domain.OutcomeSucceeded && n.SettledAmount.Valid &&
		n.SettledAmount.Decimal.Sub(attempt.Amount).Abs().GreaterThan(s.tolerance) {
		outcome = domain.OutcomeFailed
		reason = fmt.Sprintf("settled amount %s does not match requested %s",
			n.SettledAmount.Decimal.String(), attempt.Amount.String())
		log.Warn("settled amount mismatch", "correlation_id", n.CorrelationID, "reason", reason)
	}
	if outcome == domain.OutcomeFailed && reason == "" {
		reason = "failed"
	}

	applied, orderPaid, err := s.transition(ctx, attempt, outcome, n.ExternalTransactionID, reason, n.Raw)
	if err != nil {
		log.Error("payment transition failed", "correlation_id", n.CorrelationID, "error", err)
		return deferred(err)
	}
	if !applied {
		log.Info("payment settled concurrently", "correlation_id", n.CorrelationID)
		return acknowledge(AckDuplicate)
	}

	status := domain.PaymentFailed
	if outcome == domain.OutcomeSucceeded {
		status = domain.PaymentCompleted
		if !orderPaid {
			s.explainUnpaidOrder(ctx, attempt.OrderID)
		}
	}

	log.Info("payment settled",
		"provider", attempt.Provider,
		"correlation_id", attempt.CorrelationID,
		"order_id", attempt.OrderID,
		"status", status,
		"order_paid", orderPaid,
	)

	event := events.PaymentEvent{
		AttemptID:             attempt.ID,
		OrderID:               attempt.OrderID,
		CorrelationID:         attempt.CorrelationID,
		Provider:              string(attempt.Provider),
		Status:                string(status),
		Amount:                attempt.Amount.String(),
		ExternalTransactionID: n.ExternalTransactionID,
		OrderPaid:             orderPaid,
		OccurredAt:            s.now(),
	}
	if status == domain.PaymentFailed {
		event.ExternalTransactionID = ""
		event.FailureReason = reason
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Error("payment event publish failed", "correlation_id", attempt.CorrelationID, "error", err)
	}

	return acknowledge(AckApplied)
}

// transition applies the attempt CAS and, on success, the order cascade in
// one transaction.
func (s *reconciliationService) transition(
	ctx context.Context,
	attempt *domain.PaymentAttempt,
	outcome domain.Outcome,
	externalTxnID, reason string,
	raw []byte,
) (applied bool, orderPaid bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, false, err
	}
	defer tx.Rollback()

	if outcome == domain.OutcomeSucceeded {
		applied, err = s.paymentRepo.CompletePayment(ctx, tx, attempt.CorrelationID, externalTxnID, raw)
	} else {
		applied, err = s.paymentRepo.FailPayment(ctx, tx, attempt.CorrelationID, reason, raw)
	}
	if err != nil || !applied {
		return false, false, err
	}

	if outcome == domain.OutcomeSucceeded {
		orderPaid, err = s.orderRepo.MarkPaid(ctx, tx, attempt.OrderID, attempt.Provider.PaymentMethod())
		if err != nil {
			return false, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, false, err
	}
	return true, orderPaid, nil
}

func (s *reconciliationService) explainUnpaidOrder(ctx context.Context, orderID string) {
	log := s.logger.WithContext(ctx)
	order, err := s.orderRepo.FindById(ctx, orderID)
	switch {
	case err != nil:
		log.Error("order lookup failed", "order_id", orderID, "error", err)
	case order == nil:
		log.Warn("completed payment references unknown order", "order_id", orderID)
	default:
		log.Info("order was already paid", "order_id", orderID)
	}
}

func deferred(err error) AckResult {
	res := acknowledge(AckDeferred)
	res.Err = err
	return res
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
