package worker

import (
	"context"
	"time"

	"checkout-payments/internal/domain"
	"checkout-payments/internal/infrastructure/payment"
	"checkout-payments/internal/repo"
	"checkout-payments/internal/service"

	glog "github.com/goliatone/go-logger/glog"
)

const abandonedReason = "abandoned: no provider outcome"

// StatusGateway is a provider client that can be asked for a payment outcome.
type StatusGateway interface {
	Provider() domain.Provider
	Authenticate(ctx context.Context) (payment.Token, error)
	payment.StatusQuerier
}

type Options struct {
	Interval time.Duration
	// StaleAfter is how long an attempt may stay pending before the provider
	// is asked directly.
	StaleAfter time.Duration
	// AbandonAfter fails attempts the provider still reports as pending. Zero
	// disables abandoning.
	AbandonAfter time.Duration
	BatchSize    int
}

type RunStats struct {
	Checked   int
	Settled   int
	Abandoned int
	Errors    int
}

// ReconciliationWorker settles pending payments whose callback never
// arrived by polling the provider.
type ReconciliationWorker struct {
	paymentRepo repo.PaymentRepo
	gateways    map[domain.Provider]StatusGateway
	engine      service.ReconciliationService
	opts        Options
	logger      glog.Logger
	now         func() time.Time
}

func NewReconciliationWorker(
	paymentRepo repo.PaymentRepo,
	gateways []StatusGateway,
	engine service.ReconciliationService,
	opts Options,
	logger glog.Logger,
) *ReconciliationWorker {
	byProvider := make(map[domain.Provider]StatusGateway, len(gateways))
	for _, g := range gateways {
		byProvider[g.Provider()] = g
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 2 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if logger == nil {
		logger = glog.Nop()
	}
	return &ReconciliationWorker{
		paymentRepo: paymentRepo,
		gateways:    byProvider,
		engine:      engine,
		opts:        opts,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.opts.Interval)
	defer ticker.Stop()

	rw.logger.Info("reconciliation worker started",
		"interval", rw.opts.Interval.String(),
		"stale_after", rw.opts.StaleAfter.String(),
	)

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("reconciliation worker stopped")
			return
		case <-ticker.C:
			stats, err := rw.RunOnce(ctx)
			if err != nil {
				rw.logger.Error("reconciliation run failed", "error", err)
				continue
			}
			if stats.Checked > 0 {
				rw.logger.Info("reconciliation run finished",
					"checked", stats.Checked,
					"settled", stats.Settled,
					"abandoned", stats.Abandoned,
					"errors", stats.Errors,
				)
			}
		}
	}
}

// RunOnce processes one batch of stale pending attempts.
func (rw *ReconciliationWorker) RunOnce(ctx context.Context) (RunStats, error) {
	var stats RunStats
	now := rw.now()

	stale, err := rw.paymentRepo.FindPendingBefore(ctx, now.Add(-rw.opts.StaleAfter), rw.opts.BatchSize)
	if err != nil {
		return stats, err
	}

	tokens := map[domain.Provider]payment.Token{}
	for _, attempt := range stale {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Checked++

		gateway, ok := rw.gateways[attempt.Provider]
		if !ok {
			rw.logger.Debug("no status gateway for provider", "provider", attempt.Provider, "correlation_id", attempt.CorrelationID)
			continue
		}

		token, ok := tokens[attempt.Provider]
		if !ok {
			token, err = gateway.Authenticate(ctx)
			if err != nil {
				rw.logger.Error("provider authentication failed", "provider", attempt.Provider, "error", err)
				stats.Errors++
				continue
			}
			tokens[attempt.Provider] = token
		}

		n, err := gateway.QueryStatus(ctx, token, attempt.CorrelationID)
		if err != nil {
			// a transport error says nothing about the outcome, so never abandon here
			rw.logger.Warn("payment status query failed", "correlation_id", attempt.CorrelationID, "error", err)
			stats.Errors++
			continue
		}

		if !n.Outcome.Actionable() {
			if rw.opts.AbandonAfter <= 0 || now.Sub(attempt.CreatedAt) <= rw.opts.AbandonAfter {
				continue
			}
			if canceller, ok := gateway.(payment.Canceller); ok {
				// the payment must be void at the provider before it is failed here
				n, err = canceller.CancelPayment(ctx, token, attempt.CorrelationID)
				if err != nil {
					rw.logger.Warn("payment cancel failed, not abandoning", "correlation_id", attempt.CorrelationID, "error", err)
					stats.Errors++
					continue
				}
				if n.Outcome != domain.OutcomeFailed {
					rw.settle(ctx, attempt, n, &stats)
					continue
				}
			}
			res := rw.engine.Apply(ctx, domain.Notification{
				Provider:      attempt.Provider,
				CorrelationID: attempt.CorrelationID,
				Outcome:       domain.OutcomeFailed,
				EventType:     "abandoned",
				FailureReason: abandonedReason,
				Raw:           n.Raw,
			})
			switch res.Status {
			case service.AckApplied:
				stats.Abandoned++
				rw.logger.Info("payment abandoned", "correlation_id", attempt.CorrelationID, "order_id", attempt.OrderID)
			case service.AckDeferred:
				stats.Errors++
			}
			continue
		}

		rw.settle(ctx, attempt, n, &stats)
	}
	return stats, nil
}

func (rw *ReconciliationWorker) settle(ctx context.Context, attempt domain.PaymentAttempt, n domain.Notification, stats *RunStats) {
	if !n.Outcome.Actionable() {
		rw.logger.Warn("provider still reports payment pending", "correlation_id", attempt.CorrelationID)
		stats.Errors++
		return
	}

	res := rw.engine.Apply(ctx, n)
	switch res.Status {
	case service.AckApplied:
		stats.Settled++
		rw.logger.Info("payment settled by status query",
			"correlation_id", attempt.CorrelationID,
			"order_id", attempt.OrderID,
			"outcome", n.Outcome,
		)
	case service.AckDeferred:
		stats.Errors++
	}
}
