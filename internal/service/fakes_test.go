package service_test

import (
	"context"
	"sync"
	"time"

	"checkout-payments/internal/domain"
	"checkout-payments/internal/infrastructure/events"
	"checkout-payments/internal/infrastructure/payment"
)

var farFuture = time.Now().Add(24 * time.Hour)

type fakeGateway struct {
	provider     domain.Provider
	authFn       func(ctx context.Context) (payment.Token, error)
	initiateFn   func(ctx context.Context, token payment.Token, req payment.InitiationRequest) (payment.InitiationResult, error)
	mu           sync.Mutex
	initiateReqs []payment.InitiationRequest
}

func (g *fakeGateway) Provider() domain.Provider { return g.provider }

func (g *fakeGateway) Authenticate(ctx context.Context) (payment.Token, error) {
	if g.authFn != nil {
		return g.authFn(ctx)
	}
	return payment.Token{Value: "token"}, nil
}

func (g *fakeGateway) InitiatePayment(ctx context.Context, token payment.Token, req payment.InitiationRequest) (payment.InitiationResult, error) {
	g.mu.Lock()
	g.initiateReqs = append(g.initiateReqs, req)
	g.mu.Unlock()
	return g.initiateFn(ctx, token, req)
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.initiateReqs)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PaymentEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) published() []events.PaymentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.PaymentEvent(nil), p.events...)
}
