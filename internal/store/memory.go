package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ticketx/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu            sync.RWMutex
	accounts      map[string]*model.Account
	trades        []model.Trade
	proposals     map[string]*model.Proposal
	proposalOrder []string
	notifications []model.Notification
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*model.Account),
		proposals: make(map[string]*model.Proposal),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acct.UserID]; ok {
		return fmt.Errorf("account %s: %w", acct.UserID, ErrAlreadyExists)
	}
	// Store a copy to avoid external mutation.
	s.accounts[acct.UserID] = acct.Clone()
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", userID, ErrNotFound)
	}
	return acct.Clone(), nil
}

func (s *MemoryStore) SaveAccount(_ context.Context, acct *model.Account, trades []model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acct.UserID]; !ok {
		return fmt.Errorf("account %s: %w", acct.UserID, ErrNotFound)
	}
	s.accounts[acct.UserID] = acct.Clone()
	s.trades = append(s.trades, trades...)
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for i := len(s.trades) - 1; i >= 0; i-- {
		if s.trades[i].UserID == userID {
			result = append(result, s.trades[i])
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertProposal(_ context.Context, p *model.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertProposalLocked(p)
}

func (s *MemoryStore) insertProposalLocked(p *model.Proposal) error {
	if _, ok := s.proposals[p.ID]; ok {
		return fmt.Errorf("proposal %s: %w", p.ID, ErrAlreadyExists)
	}
	copy := *p
	s.proposals[p.ID] = &copy
	s.proposalOrder = append(s.proposalOrder, p.ID)
	return nil
}

func (s *MemoryStore) GetProposal(_ context.Context, id string) (*model.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.proposals[id]
	if !ok {
		return nil, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) TransitionProposal(_ context.Context, id string, from, to model.ProposalStatus, at time.Time) (*model.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[id]
	if !ok {
		return nil, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	if p.Status != from {
		return nil, fmt.Errorf("proposal %s is %s: %w", id, p.Status, ErrInvalidStatus)
	}
	p.Status = to
	p.UpdatedAt = at
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) CounterProposal(_ context.Context, originalID string, counter *model.Proposal, at time.Time) (*model.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[originalID]
	if !ok {
		return nil, fmt.Errorf("proposal %s: %w", originalID, ErrNotFound)
	}
	if p.Status != model.ProposalSent {
		return nil, fmt.Errorf("proposal %s is %s: %w", originalID, p.Status, ErrInvalidStatus)
	}
	if err := s.insertProposalLocked(counter); err != nil {
		return nil, err
	}
	p.Status = model.ProposalCountered
	p.CounterID = counter.ID
	p.UpdatedAt = at
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListProposals(_ context.Context, userID string) ([]model.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Proposal
	for i := len(s.proposalOrder) - 1; i >= 0; i-- {
		p := s.proposals[s.proposalOrder[i]]
		if p.IsParticipant(userID) {
			result = append(result, *p)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListSentProposalsBefore(_ context.Context, cutoff time.Time) ([]model.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Proposal
	for _, id := range s.proposalOrder {
		p := s.proposals[id]
		if p.Status == model.ProposalSent && p.CreatedAt.Before(cutoff) {
			result = append(result, *p)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) InsertNotification(_ context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications = append(s.notifications, cloneNotification(*n))
	return nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, userID string) ([]model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Notification
	for i := len(s.notifications) - 1; i >= 0; i-- {
		if s.notifications[i].UserID == userID {
			result = append(result, cloneNotification(s.notifications[i]))
		}
	}
	return result, nil
}

func (s *MemoryStore) MarkNotificationRead(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		if s.notifications[i].ID == id && s.notifications[i].UserID == userID {
			s.notifications[i].Read = true
			return nil
		}
	}
	return fmt.Errorf("notification %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) MarkAllNotificationsRead(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i := range s.notifications {
		if s.notifications[i].UserID == userID && !s.notifications[i].Read {
			s.notifications[i].Read = true
			n++
		}
	}
	return n, nil
}

func cloneNotification(n model.Notification) model.Notification {
	if n.Terms != nil {
		terms := *n.Terms
		n.Terms = &terms
	}
	return n
}
