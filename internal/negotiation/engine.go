// Package negotiation runs the bilateral proposal state machine:
//
//	SENT → ACCEPTED | REJECTED | COUNTERED | EXPIRED
//
// SENT is the only non-terminal status. Accepting settles the trade in the
// receiver's ledger; countering closes the original and opens a new SENT
// proposal in the opposite direction.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ticketx/ledger-engine/internal/catalog"
	"github.com/ticketx/ledger-engine/internal/ledger"
	"github.com/ticketx/ledger-engine/internal/model"
	"github.com/ticketx/ledger-engine/internal/store"
)

// Recorder is told about every new proposal and every transition.
type Recorder interface {
	RecordProposal(ctx context.Context, p model.Proposal)
	RecordTransition(ctx context.Context, p model.Proposal, from, to model.ProposalStatus)
}

// Config wires the Engine's collaborators. Catalog is required.
type Config struct {
	Catalog  catalog.Catalog
	Recorder Recorder
	Logger   *slog.Logger
}

// Offer is the content of a new proposal. Type is the proposer's side.
type Offer struct {
	CounterpartyID string          `json:"counterparty_id"`
	EventID        string          `json:"event_id"`
	Quantity       int64           `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	Type           model.Side      `json:"type"`
}

// Engine applies proposal transitions. Transitions are serialized.
type Engine struct {
	store    store.Store
	ledger   *ledger.Ledger
	catalog  catalog.Catalog
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu sync.Mutex
}

// NewEngine creates an engine that settles accepted proposals through led.
func NewEngine(st store.Store, led *ledger.Ledger, cfg Config) *Engine {
	e := &Engine{
		store:    st,
		ledger:   led,
		catalog:  cfg.Catalog,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Create sends a new proposal from proposerID. A SELL proposal may not ask
// for more tickets than the proposer can currently sell.
func (e *Engine) Create(ctx context.Context, proposerID string, o Offer) (*model.Proposal, error) {
	if err := validateTerms(o.Quantity, o.Price); err != nil {
		return nil, err
	}
	if !o.Type.Valid() {
		return nil, fmt.Errorf("proposal type %q: %w", o.Type, model.ErrInvalidQuantity)
	}
	if proposerID == o.CounterpartyID {
		return nil, model.ErrSelfProposal
	}
	if _, err := e.catalog.Event(ctx, o.EventID); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if o.Type == model.SideSell {
		if err := e.checkInventory(ctx, proposerID, o.EventID, o.Quantity); err != nil {
			return nil, err
		}
	}

	now := e.now()
	p := &model.Proposal{
		ID:             uuid.NewString(),
		ProposerID:     proposerID,
		CounterpartyID: o.CounterpartyID,
		EventID:        o.EventID,
		Quantity:       o.Quantity,
		Price:          o.Price,
		Type:           o.Type,
		Status:         model.ProposalSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.InsertProposal(ctx, p); err != nil {
		return nil, fmt.Errorf("insert proposal: %w", err)
	}

	e.logger.Info("proposal sent",
		"proposal_id", p.ID,
		"proposer_id", proposerID,
		"counterparty_id", p.CounterpartyID,
		"type", p.Type,
		"quantity", p.Quantity,
		"price", p.Price.String(),
	)
	if e.recorder != nil {
		e.recorder.RecordProposal(ctx, *p)
	}
	return p, nil
}

// Get returns a proposal as seen by viewerID. Proposals the viewer does not
// take part in are reported as unknown.
func (e *Engine) Get(ctx context.Context, viewerID, proposalID string) (model.ProposalView, error) {
	p, err := e.load(ctx, proposalID)
	if err != nil {
		return model.ProposalView{}, err
	}
	if !p.IsParticipant(viewerID) {
		return model.ProposalView{}, fmt.Errorf("proposal %s: %w", proposalID, model.ErrUnknownProposal)
	}
	return p.ViewFor(viewerID), nil
}

// Accept settles a SENT proposal from the counterparty's side. The
// counterparty takes the mirrored side of the proposal: a BUY proposal is
// accepted by selling. If the counterparty cannot cover the trade the
// proposal stays SENT and nothing changes.
func (e *Engine) Accept(ctx context.Context, viewerID, proposalID string) (*model.Proposal, model.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.actionable(ctx, viewerID, proposalID)
	if err != nil {
		return nil, model.Trade{}, err
	}

	tx, err := e.ledger.Begin(ctx, viewerID)
	if err != nil {
		return nil, model.Trade{}, err
	}
	defer tx.Rollback()

	order := ledger.Order{
		EventID:    p.EventID,
		Quantity:   p.Quantity,
		Price:      p.Price,
		ProposalID: p.ID,
	}
	var trade model.Trade
	switch p.Type.Mirror() {
	case model.SideBuy:
		trade, err = tx.Buy(ctx, order)
	default:
		trade, err = tx.Sell(ctx, order)
	}
	if err != nil {
		return nil, model.Trade{}, err
	}

	accepted, err := e.transition(ctx, p.ID, model.ProposalAccepted)
	if err != nil {
		return nil, model.Trade{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		// Put the proposal back so the failed settlement leaves no trace.
		if _, rerr := e.store.TransitionProposal(ctx, p.ID, model.ProposalAccepted, model.ProposalSent, p.UpdatedAt); rerr != nil {
			e.logger.Error("restore proposal after failed settlement", "proposal_id", p.ID, "error", rerr)
		}
		return nil, model.Trade{}, err
	}

	e.logger.Info("proposal accepted",
		"proposal_id", p.ID,
		"user_id", viewerID,
		"transaction_id", trade.TransactionID,
	)
	if e.recorder != nil {
		e.recorder.RecordTransition(ctx, *accepted, model.ProposalSent, model.ProposalAccepted)
	}
	return accepted, trade, nil
}

// Reject closes a SENT proposal without any accounting effect.
func (e *Engine) Reject(ctx context.Context, viewerID, proposalID string) (*model.Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.actionable(ctx, viewerID, proposalID)
	if err != nil {
		return nil, err
	}
	rejected, err := e.transition(ctx, p.ID, model.ProposalRejected)
	if err != nil {
		return nil, err
	}

	e.logger.Info("proposal rejected", "proposal_id", p.ID, "user_id", viewerID)
	if e.recorder != nil {
		e.recorder.RecordTransition(ctx, *rejected, model.ProposalSent, model.ProposalRejected)
	}
	return rejected, nil
}

// Counter closes a SENT proposal as COUNTERED and sends a new proposal back
// to the original proposer with the mirrored side and new terms. When the
// counter is a SELL, its quantity is capped by the viewer's sellable
// inventory.
func (e *Engine) Counter(ctx context.Context, viewerID, proposalID string, quantity int64, price decimal.Decimal) (*model.Proposal, *model.Proposal, error) {
	if err := validateTerms(quantity, price); err != nil {
		return nil, nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.actionable(ctx, viewerID, proposalID)
	if err != nil {
		return nil, nil, err
	}

	side := p.Type.Mirror()
	if side == model.SideSell {
		if err := e.checkInventory(ctx, viewerID, p.EventID, quantity); err != nil {
			return nil, nil, err
		}
	}

	now := e.now()
	counter := &model.Proposal{
		ID:             uuid.NewString(),
		ProposerID:     viewerID,
		CounterpartyID: p.ProposerID,
		EventID:        p.EventID,
		Quantity:       quantity,
		Price:          price,
		Type:           side,
		Status:         model.ProposalSent,
		ParentID:       p.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	original, err := e.store.CounterProposal(ctx, p.ID, counter, now)
	if err != nil {
		return nil, nil, mapStoreError(p.ID, err)
	}

	e.logger.Info("proposal countered",
		"proposal_id", p.ID,
		"counter_id", counter.ID,
		"user_id", viewerID,
		"quantity", quantity,
		"price", price.String(),
	)
	if e.recorder != nil {
		e.recorder.RecordTransition(ctx, *original, model.ProposalSent, model.ProposalCountered)
		e.recorder.RecordProposal(ctx, *counter)
	}
	return original, counter, nil
}

// Expire closes a SENT proposal that timed out. It has no actor.
func (e *Engine) Expire(ctx context.Context, proposalID string) (*model.Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	expired, err := e.transition(ctx, proposalID, model.ProposalExpired)
	if err != nil {
		return nil, err
	}

	e.logger.Info("proposal expired", "proposal_id", proposalID)
	if e.recorder != nil {
		e.recorder.RecordTransition(ctx, *expired, model.ProposalSent, model.ProposalExpired)
	}
	return expired, nil
}

// ExpireBefore expires every SENT proposal created before cutoff and returns
// how many were expired.
func (e *Engine) ExpireBefore(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := e.store.ListSentProposalsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale proposals: %w", err)
	}

	n := 0
	for _, p := range stale {
		if _, err := e.Expire(ctx, p.ID); err != nil {
			// Answered between the listing and now.
			if errors.Is(err, model.ErrInvalidStateTransition) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// actionable loads a proposal and checks that viewerID may act on it.
func (e *Engine) actionable(ctx context.Context, viewerID, proposalID string) (*model.Proposal, error) {
	p, err := e.load(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if !p.IsParticipant(viewerID) {
		return nil, fmt.Errorf("proposal %s: %w", proposalID, model.ErrUnknownProposal)
	}
	if viewerID != p.CounterpartyID {
		return nil, fmt.Errorf("proposal %s: %w", proposalID, model.ErrNotCounterparty)
	}
	if p.Status != model.ProposalSent {
		return nil, fmt.Errorf("proposal %s is %s: %w", proposalID, p.Status, model.ErrInvalidStateTransition)
	}
	return p, nil
}

func (e *Engine) load(ctx context.Context, proposalID string) (*model.Proposal, error) {
	p, err := e.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, mapStoreError(proposalID, err)
	}
	return p, nil
}

func (e *Engine) transition(ctx context.Context, proposalID string, to model.ProposalStatus) (*model.Proposal, error) {
	if !model.ProposalSent.CanTransition(to) {
		return nil, fmt.Errorf("SENT to %s: %w", to, model.ErrInvalidStateTransition)
	}
	p, err := e.store.TransitionProposal(ctx, proposalID, model.ProposalSent, to, e.now())
	if err != nil {
		return nil, mapStoreError(proposalID, err)
	}
	return p, nil
}

func (e *Engine) checkInventory(ctx context.Context, userID, eventID string, quantity int64) error {
	avail, err := e.ledger.Available(ctx, userID, eventID)
	if err != nil {
		return err
	}
	if quantity > avail {
		return fmt.Errorf("offer %d of %s with %d available: %w", quantity, eventID, avail, model.ErrInsufficientInventory)
	}
	return nil
}

func validateTerms(quantity int64, price decimal.Decimal) error {
	if quantity <= 0 {
		return fmt.Errorf("quantity %d: %w", quantity, model.ErrInvalidQuantity)
	}
	if !price.IsPositive() {
		return fmt.Errorf("price %s: %w", price, model.ErrInvalidQuantity)
	}
	return nil
}

func mapStoreError(proposalID string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("proposal %s: %w", proposalID, model.ErrUnknownProposal)
	case errors.Is(err, store.ErrInvalidStatus):
		return fmt.Errorf("proposal %s: %w", proposalID, model.ErrInvalidStateTransition)
	}
	return err
}
