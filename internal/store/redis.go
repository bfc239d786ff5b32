package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ticketx/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL or SQLite) with a Redis
// read-through cache for proposals. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the
// primary.
//
// Accounts are never cached. The ledger loads an account under its lock and
// writes it back whole, so it must always see the primary's latest state; an
// unlocked reader could otherwise re-cache a value older than the last commit.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertProposal(ctx context.Context, p *model.Proposal) error {
	if err := s.primary.InsertProposal(ctx, p); err != nil {
		return err
	}
	s.cache(ctx, proposalKey(p.ID), p)
	return nil
}

func (s *CachedStore) TransitionProposal(ctx context.Context, id string, from, to model.ProposalStatus, at time.Time) (*model.Proposal, error) {
	// Invalidate on both sides of the write.
	s.rdb.Del(ctx, proposalKey(id))
	p, err := s.primary.TransitionProposal(ctx, id, from, to, at)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, proposalKey(id))
	return p, nil
}

func (s *CachedStore) CounterProposal(ctx context.Context, originalID string, counter *model.Proposal, at time.Time) (*model.Proposal, error) {
	s.rdb.Del(ctx, proposalKey(originalID))
	p, err := s.primary.CounterProposal(ctx, originalID, counter, at)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, proposalKey(originalID))
	return p, nil
}

func (s *CachedStore) InsertNotification(ctx context.Context, n *model.Notification) error {
	return s.primary.InsertNotification(ctx, n)
}

func (s *CachedStore) MarkNotificationRead(ctx context.Context, userID, id string) error {
	return s.primary.MarkNotificationRead(ctx, userID, id)
}

func (s *CachedStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	return s.primary.MarkAllNotificationsRead(ctx, userID)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	data, err := s.rdb.Get(ctx, proposalKey(id)).Bytes()
	if err == nil {
		var p model.Proposal
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, proposalKey(id), p)
	return p, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateAccount(ctx context.Context, acct *model.Account) error {
	return s.primary.CreateAccount(ctx, acct)
}

func (s *CachedStore) SaveAccount(ctx context.Context, acct *model.Account, trades []model.Trade) error {
	return s.primary.SaveAccount(ctx, acct, trades)
}

func (s *CachedStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	return s.primary.GetAccount(ctx, userID)
}

func (s *CachedStore) ListTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, userID)
}

func (s *CachedStore) ListProposals(ctx context.Context, userID string) ([]model.Proposal, error) {
	return s.primary.ListProposals(ctx, userID)
}

func (s *CachedStore) ListSentProposalsBefore(ctx context.Context, cutoff time.Time) ([]model.Proposal, error) {
	return s.primary.ListSentProposalsBefore(ctx, cutoff)
}

func (s *CachedStore) ListNotifications(ctx context.Context, userID string) ([]model.Notification, error) {
	return s.primary.ListNotifications(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func proposalKey(id string) string { return fmt.Sprintf("proposal:%s", id) }
