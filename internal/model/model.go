// Package model defines the core domain types shared across the ledger engine.
// All monetary values use shopspring/decimal, never float64.
// Ticket quantities are whole numbers.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade or proposal: BUY or SELL.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Mirror returns the opposite side. A receiver answering a BUY proposal
// sells, and vice versa.
func (s Side) Mirror() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return s
	}
}

// LotStatus is the disposition of a lot inside a portfolio.
type LotStatus string

const (
	LotInInventory   LotStatus = "IN_INVENTORY"
	LotListedForSale LotStatus = "LISTED_FOR_SALE"
	LotNegotiating   LotStatus = "NEGOTIATING"
)

// ParseLotStatus parses a lot status, case-insensitively.
func ParseLotStatus(s string) (LotStatus, error) {
	st := LotStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case LotInInventory, LotListedForSale, LotNegotiating:
		return st, nil
	default:
		return "", fmt.Errorf("unknown lot status %q", s)
	}
}

// Tradable reports whether lots in this status can be sold under the
// restrictive sell policy.
func (s LotStatus) Tradable() bool {
	return s == LotInInventory || s == LotListedForSale
}

// Lot is a quantity of tickets for one event bought at one unit price.
// A lot whose quantity reaches zero is removed from the portfolio.
type Lot struct {
	ID            string          `json:"id"`
	EventID       string          `json:"event_id"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	Quantity      int64           `json:"quantity"`
	Status        LotStatus       `json:"status"`
	AcquiredAt    time.Time       `json:"acquired_at"`
}

// Cost is the total cost basis of the lot.
func (l Lot) Cost() decimal.Decimal {
	return l.PurchasePrice.Mul(decimal.NewFromInt(l.Quantity))
}

// Account is the persisted state of one user's ledger: balance plus lots.
type Account struct {
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Lots      []Lot           `json:"lots"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	c := *a
	c.Lots = append([]Lot(nil), a.Lots...)
	return &c
}

// Trade is an immutable record of an executed buy or sell.
// Once created, these are never modified or deleted.
type Trade struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	EventID       string          `json:"event_id"`
	EventName     string          `json:"event_name"`
	Price         decimal.Decimal `json:"price"`
	Type          Side            `json:"type"`
	Quantity      int64           `json:"quantity"`
	ProposalID    string          `json:"proposal_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Notional is price × quantity.
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}

// ProposalStatus is a state of the negotiation state machine.
type ProposalStatus string

const (
	ProposalSent      ProposalStatus = "SENT"
	ProposalAccepted  ProposalStatus = "ACCEPTED"
	ProposalRejected  ProposalStatus = "REJECTED"
	ProposalCountered ProposalStatus = "COUNTERED"
	ProposalExpired   ProposalStatus = "EXPIRED"
)

// Terminal reports whether no further transition can leave this status.
func (s ProposalStatus) Terminal() bool {
	switch s {
	case ProposalAccepted, ProposalRejected, ProposalCountered, ProposalExpired:
		return true
	}
	return false
}

// CanTransition reports whether s → to is an edge of the state machine.
// SENT is the only state with outgoing edges.
func (s ProposalStatus) CanTransition(to ProposalStatus) bool {
	return s == ProposalSent && to.Terminal()
}

// Direction is how a proposal looks to one of its two participants.
type Direction string

const (
	DirectionOutgoing Direction = "OUTGOING"
	DirectionIncoming Direction = "INCOMING"
)

// Terms are the negotiated quantity and price of a proposal. Type is
// always expressed from the proposer's perspective.
type Terms struct {
	EventID  string          `json:"event_id"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Type     Side            `json:"type"`
}

// Total is price × quantity.
func (t Terms) Total() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}

// Proposal is one logical negotiation offer between two traders. It is
// stored once; each participant's view is derived with ViewFor.
type Proposal struct {
	ID             string          `json:"id"`
	ProposerID     string          `json:"proposer_id"`
	CounterpartyID string          `json:"counterparty_id"`
	EventID        string          `json:"event_id"`
	Quantity       int64           `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	Type           Side            `json:"type"`
	Status         ProposalStatus  `json:"status"`
	ParentID       string          `json:"parent_id,omitempty"`  // proposal this one counters
	CounterID      string          `json:"counter_id,omitempty"` // proposal that countered this one
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Terms returns the proposal's terms.
func (p *Proposal) Terms() Terms {
	return Terms{EventID: p.EventID, Quantity: p.Quantity, Price: p.Price, Type: p.Type}
}

// IsParticipant reports whether userID is the proposer or the counterparty.
func (p *Proposal) IsParticipant(userID string) bool {
	return userID == p.ProposerID || userID == p.CounterpartyID
}

// DirectionFor returns OUTGOING for the proposer, INCOMING for the
// counterparty and "" for anyone else.
func (p *Proposal) DirectionFor(viewerID string) Direction {
	switch viewerID {
	case p.ProposerID:
		return DirectionOutgoing
	case p.CounterpartyID:
		return DirectionIncoming
	}
	return ""
}

// TraderFor returns the other participant as seen by viewerID.
func (p *Proposal) TraderFor(viewerID string) string {
	if viewerID == p.ProposerID {
		return p.CounterpartyID
	}
	return p.ProposerID
}

// ViewFor resolves the proposal from one participant's perspective.
func (p *Proposal) ViewFor(viewerID string) ProposalView {
	return ProposalView{
		Proposal:  *p,
		Direction: p.DirectionFor(viewerID),
		TraderID:  p.TraderFor(viewerID),
	}
}

// ProposalView is a proposal as presented to one participant.
type ProposalView struct {
	Proposal
	Direction Direction `json:"direction"`
	TraderID  string    `json:"trader_id"`
}

// NotificationKind classifies notifications for presentation.
type NotificationKind string

const (
	NotifyProposal       NotificationKind = "PROPOSAL"        // incoming proposal awaiting action
	NotifyProposalUpdate NotificationKind = "PROPOSAL_UPDATE" // outgoing proposal changed status
	NotifyTrade          NotificationKind = "TRADE"
)

// Notification points a user at something that happened to them. Terms
// are a denormalized copy for display.
type Notification struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	Kind       NotificationKind `json:"kind"`
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	ProposalID string           `json:"proposal_id,omitempty"`
	Terms      *Terms           `json:"terms,omitempty"`
	Read       bool             `json:"read"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Order is one price level of an order book.
type Order struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// OrderBook is static reference data shown next to an event. It is not
// matched against.
type OrderBook struct {
	Bids      []Order         `json:"bids"`
	Asks      []Order         `json:"asks"`
	LastPrice decimal.Decimal `json:"last_price"`
}

// Event is a ticketed event that lots and proposals refer to.
type Event struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Date        time.Time `json:"date"`
	Location    string    `json:"location"`
	Description string    `json:"description,omitempty"`
	OrderBook   OrderBook `json:"order_book"`
}

// EventPosition aggregates a user's lots in one event, valued at the
// event's last price.
type EventPosition struct {
	EventID         string          `json:"event_id"`
	EventName       string          `json:"event_name"`
	Quantity        int64           `json:"quantity"`
	AverageCost     decimal.Decimal `json:"average_cost"`
	CostBasis       decimal.Decimal `json:"cost_basis"`
	LastPrice       decimal.Decimal `json:"last_price"`
	MarketValue     decimal.Decimal `json:"market_value"`
	UnrealizedPnL   decimal.Decimal `json:"unrealized_pnl"`
	ValorizationPct decimal.Decimal `json:"valorization_pct"`
	Lots            []Lot           `json:"lots"`
}

// Portfolio is a point-in-time view of a user's holdings.
type Portfolio struct {
	UserID        string          `json:"user_id"`
	Balance       decimal.Decimal `json:"balance"`
	Positions     []EventPosition `json:"positions"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	TotalValue    decimal.Decimal `json:"total_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
}
