// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), SQLite (single
// node), Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ticketx/ledger-engine/internal/model"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidStatus = errors.New("invalid status transition")
)

// Store is the persistence interface. Listing methods return records
// newest first.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account. Returns ErrAlreadyExists when
	// the user already has one.
	CreateAccount(ctx context.Context, acct *model.Account) error

	// GetAccount returns the account with its lots in book order.
	GetAccount(ctx context.Context, userID string) (*model.Account, error)

	// SaveAccount replaces the account's balance and lots and appends
	// trades, all in one atomic write.
	SaveAccount(ctx context.Context, acct *model.Account, trades []model.Trade) error

	// --- Immutable trade history ---

	// ListTrades returns a user's trades.
	ListTrades(ctx context.Context, userID string) ([]model.Trade, error)

	// --- Proposals ---

	// InsertProposal persists a new proposal.
	InsertProposal(ctx context.Context, p *model.Proposal) error

	// GetProposal retrieves a proposal by ID.
	GetProposal(ctx context.Context, id string) (*model.Proposal, error)

	// TransitionProposal moves a proposal from one status to another.
	// Returns ErrInvalidStatus when the stored status is not from.
	TransitionProposal(ctx context.Context, id string, from, to model.ProposalStatus, at time.Time) (*model.Proposal, error)

	// CounterProposal marks a SENT proposal COUNTERED and inserts the
	// counter-proposal atomically. Returns the updated original.
	CounterProposal(ctx context.Context, originalID string, counter *model.Proposal, at time.Time) (*model.Proposal, error)

	// ListProposals returns proposals where the user is either participant.
	ListProposals(ctx context.Context, userID string) ([]model.Proposal, error)

	// ListSentProposalsBefore returns SENT proposals created before cutoff,
	// oldest first.
	ListSentProposalsBefore(ctx context.Context, cutoff time.Time) ([]model.Proposal, error)

	// --- Notifications ---

	InsertNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, userID string) ([]model.Notification, error)

	// MarkNotificationRead flags one notification of userID as read.
	MarkNotificationRead(ctx context.Context, userID, id string) error

	// MarkAllNotificationsRead flags every unread notification of userID
	// and returns how many changed.
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
}
