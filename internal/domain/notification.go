package domain

import (
	"github.com/shopspring/decimal"
)

// Outcome is the provider-agnostic result carried by a notification.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	// OutcomePending means the provider has no final answer yet.
	OutcomePending Outcome = "pending"
	// OutcomeIgnored is a recognised delivery that carries nothing to act on.
	OutcomeIgnored Outcome = "ignored"
)

func (o Outcome) Actionable() bool {
	return o == OutcomeSucceeded || o == OutcomeFailed
}

// Notification is a provider callback or status query result normalised
// before it reaches the reconciliation engine.
type Notification struct {
	Provider              Provider
	CorrelationID         string
	Outcome               Outcome
	EventType             string
	ExternalTransactionID string
	SettledAmount         decimal.NullDecimal
	FailureReason         string
	Raw                   []byte
}
