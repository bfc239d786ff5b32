package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketx/ledger-engine/internal/catalog"
	"github.com/ticketx/ledger-engine/internal/events"
	"github.com/ticketx/ledger-engine/internal/model"
	"github.com/ticketx/ledger-engine/internal/store"
)

type publishCall struct {
	topic string
	key   string
	value any
}

type stubPublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

func (s *stubPublisher) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, publishCall{topic: topic, key: key, value: value})
	return 0, 0, s.err
}

func (s *stubPublisher) Close() error { return nil }

type stubNotifier struct {
	mu   sync.Mutex
	sent map[string][]model.Notification
}

func (s *stubNotifier) Notify(userID string, n model.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = make(map[string][]model.Notification)
	}
	s.sent[userID] = append(s.sent[userID], n)
}

func newTestRecorder(t *testing.T) (*Recorder, *store.MemoryStore, *stubPublisher, *stubNotifier) {
	t.Helper()
	cat, err := catalog.NewMemoryCatalog(model.Event{ID: "interusp-2024", Name: "InterUSP 2024"})
	require.NoError(t, err)

	st := store.NewMemoryStore()
	pub := &stubPublisher{}
	notifier := &stubNotifier{}
	r := NewRecorder(st, Config{
		Publisher: pub,
		Notifier:  notifier,
		Catalog:   cat,
		Currency:  "USD",
	})
	return r, st, pub, notifier
}

func sampleProposal() model.Proposal {
	now := time.Now().UTC()
	return model.Proposal{
		ID: "p1", ProposerID: "bob", CounterpartyID: "alice", EventID: "interusp-2024",
		Quantity: 2, Price: decimal.NewFromInt(60), Type: model.SideBuy,
		Status: model.ProposalSent, CreatedAt: now, UpdatedAt: now,
	}
}

func TestRecordTrade(t *testing.T) {
	r, _, pub, notifier := newTestRecorder(t)
	ctx := context.Background()

	r.RecordTrade(ctx, model.Trade{
		ID: "t1", TransactionID: "TXN1", UserID: "alice", EventID: "interusp-2024", EventName: "InterUSP 2024",
		Price: decimal.NewFromInt(60), Type: model.SideSell, Quantity: 2, ProposalID: "p1",
	})

	list, err := r.Notifications(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.NotifyTrade, list[0].Kind)
	assert.Equal(t, "Sold 2 × InterUSP 2024 at $60.00 (total $120.00)", list[0].Message)
	assert.Equal(t, "p1", list[0].ProposalID)
	assert.Len(t, notifier.sent["alice"], 1)

	require.Len(t, pub.calls, 1)
	assert.Equal(t, events.DefaultTradesTopic, pub.calls[0].topic)
	assert.Equal(t, "alice", pub.calls[0].key)
	ev, ok := pub.calls[0].value.(events.TradeExecuted)
	require.True(t, ok)
	assert.Equal(t, "TXN1", ev.Trade.TransactionID)
}

func TestRecordProposal_NotifiesCounterparty(t *testing.T) {
	r, _, pub, _ := newTestRecorder(t)
	ctx := context.Background()

	r.RecordProposal(ctx, sampleProposal())

	list, err := r.Notifications(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.NotifyProposal, list[0].Kind)
	assert.Equal(t, "New proposal", list[0].Title)
	assert.Equal(t, "bob wants to buy 2 × InterUSP 2024 at $60.00 each", list[0].Message)
	require.NotNil(t, list[0].Terms)
	assert.Equal(t, int64(2), list[0].Terms.Quantity)

	bob, err := r.Notifications(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, bob)

	require.Len(t, pub.calls, 1)
	assert.Equal(t, events.DefaultProposalsTopic, pub.calls[0].topic)
	assert.Equal(t, "p1", pub.calls[0].key)
}

func TestRecordTransition(t *testing.T) {
	tests := []struct {
		to          model.ProposalStatus
		wantNotify  bool
		wantMessage string
	}{
		{model.ProposalAccepted, true, "alice accepted your offer to buy 2 × InterUSP 2024 at $60.00"},
		{model.ProposalRejected, true, "alice rejected your offer to buy 2 × InterUSP 2024 at $60.00"},
		{model.ProposalExpired, true, "Your offer to buy 2 × InterUSP 2024 at $60.00 expired"},
		{model.ProposalCountered, false, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.to), func(t *testing.T) {
			r, _, pub, _ := newTestRecorder(t)
			ctx := context.Background()

			p := sampleProposal()
			p.Status = tt.to
			r.RecordTransition(ctx, p, model.ProposalSent, tt.to)

			list, err := r.Notifications(ctx, "bob")
			require.NoError(t, err)
			if !tt.wantNotify {
				assert.Empty(t, list)
			} else {
				require.Len(t, list, 1)
				assert.Equal(t, model.NotifyProposalUpdate, list[0].Kind)
				assert.Equal(t, tt.wantMessage, list[0].Message)
			}

			require.Len(t, pub.calls, 1)
			ev, ok := pub.calls[0].value.(events.ProposalStatusChanged)
			require.True(t, ok)
			assert.Equal(t, model.ProposalSent, ev.From)
			assert.Equal(t, tt.to, ev.To)
		})
	}
}

func TestPublishFailureIsNotFatal(t *testing.T) {
	r, _, pub, _ := newTestRecorder(t)
	pub.err = errors.New("broker down")

	r.RecordProposal(context.Background(), sampleProposal())

	list, err := r.Notifications(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestProposals_ViewPerParticipant(t *testing.T) {
	r, st, _, _ := newTestRecorder(t)
	ctx := context.Background()
	p := sampleProposal()
	require.NoError(t, st.InsertProposal(ctx, &p))

	bob, err := r.Proposals(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bob, 1)
	assert.Equal(t, model.DirectionOutgoing, bob[0].Direction)
	assert.Equal(t, "alice", bob[0].TraderID)

	alice, err := r.Proposals(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, alice, 1)
	assert.Equal(t, model.DirectionIncoming, alice[0].Direction)
	assert.Equal(t, "bob", alice[0].TraderID)
}

func TestMarkRead(t *testing.T) {
	r, _, _, _ := newTestRecorder(t)
	ctx := context.Background()
	r.RecordProposal(ctx, sampleProposal())
	r.RecordProposal(ctx, sampleProposal())

	list, err := r.Notifications(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, r.MarkRead(ctx, "alice", list[0].ID))
	err = r.MarkRead(ctx, "alice", "missing")
	assert.ErrorIs(t, err, model.ErrUnknownNotification)

	n, err := r.MarkAllRead(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTrades_EmptyIsNotNil(t *testing.T) {
	r, _, _, _ := newTestRecorder(t)
	trades, err := r.Trades(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, trades)
	assert.Empty(t, trades)
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount   string
		currency string
		want     string
	}{
		{"60", "USD", "$60.00"},
		{"1234.5", "USD", "$1,234.50"},
		{"10.005", "XXX-UNKNOWN", "10.01 XXX-UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.currency+" "+tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAmount(decimal.RequireFromString(tt.amount), tt.currency))
		})
	}
}
