// Package events defines the domain events the ledger engine emits and the
// publishers that ship them to Kafka.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ticketx/ledger-engine/internal/model"
)

// Event types.
const (
	TypeTradeExecuted         = "trade.executed"
	TypeProposalCreated       = "proposal.created"
	TypeProposalStatusChanged = "proposal.status_changed"
)

// Default topics.
const (
	DefaultTradesTopic    = "ticketx.trades"
	DefaultProposalsTopic = "ticketx.proposals"
)

// Envelope is the common header of every published event.
type Envelope struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	EventVersion int       `json:"event_version"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewEnvelope stamps a new event header.
func NewEnvelope(eventType string, version int) (Envelope, error) {
	if eventType == "" {
		return Envelope{}, fmt.Errorf("event_type is required")
	}
	if version <= 0 {
		return Envelope{}, fmt.Errorf("event_version must be positive")
	}
	return Envelope{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		EventVersion: version,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// Validate checks that all header fields are set.
func (e Envelope) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.EventVersion <= 0 {
		return fmt.Errorf("event_version must be positive")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// TradeExecuted is published after a trade is committed to the ledger.
type TradeExecuted struct {
	Envelope
	Trade model.Trade `json:"trade"`
}

// ProposalCreated is published when a proposal or counter-proposal is sent.
type ProposalCreated struct {
	Envelope
	Proposal model.Proposal `json:"proposal"`
}

// ProposalStatusChanged is published on every transition out of SENT.
type ProposalStatusChanged struct {
	Envelope
	From     model.ProposalStatus `json:"from"`
	To       model.ProposalStatus `json:"to"`
	Proposal model.Proposal       `json:"proposal"`
}

// NewTradeExecuted wraps a trade in a v1 envelope.
func NewTradeExecuted(t model.Trade) (TradeExecuted, error) {
	env, err := NewEnvelope(TypeTradeExecuted, 1)
	if err != nil {
		return TradeExecuted{}, err
	}
	return TradeExecuted{Envelope: env, Trade: t}, nil
}

// NewProposalCreated wraps a proposal in a v1 envelope.
func NewProposalCreated(p model.Proposal) (ProposalCreated, error) {
	env, err := NewEnvelope(TypeProposalCreated, 1)
	if err != nil {
		return ProposalCreated{}, err
	}
	return ProposalCreated{Envelope: env, Proposal: p}, nil
}

// NewProposalStatusChanged wraps a transition in a v1 envelope.
func NewProposalStatusChanged(p model.Proposal, from, to model.ProposalStatus) (ProposalStatusChanged, error) {
	env, err := NewEnvelope(TypeProposalStatusChanged, 1)
	if err != nil {
		return ProposalStatusChanged{}, err
	}
	return ProposalStatusChanged{Envelope: env, From: from, To: to, Proposal: p}, nil
}
