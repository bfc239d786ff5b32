package store

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketx/ledger-engine/internal/model"
)

// fakeRedis implements the three commands CachedStore issues. Any other
// command panics through the nil embedded interface.
type fakeRedis struct {
	redis.Cmdable

	mu   sync.Mutex
	data map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok
}

func (f *fakeRedis) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.data))
	for k := range f.data {
		out = append(out, k)
	}
	return out
}

// stallingStore pauses the first GetAccount after it has read the primary,
// so a commit can land between the read and the return.
type stallingStore struct {
	*MemoryStore
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (s *stallingStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	acct, err := s.MemoryStore.GetAccount(ctx, userID)
	s.once.Do(func() {
		close(s.read)
		<-s.release
	})
	return acct, err
}

func TestCachedStoreSuite(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewCachedStore(NewMemoryStore(), newFakeRedis(), time.Minute)
	})
}

func TestCachedStoreProposalReadThrough(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	rdb := newFakeRedis()
	s := NewCachedStore(primary, rdb, time.Minute)

	require.NoError(t, s.InsertProposal(ctx, newProposal("p1", "alice", "bob", t0)))
	assert.True(t, rdb.has(proposalKey("p1")))

	got, err := s.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalSent, got.Status)
	assert.True(t, got.Price.Equal(d("60")))

	// A cold cache falls back to the primary and repopulates.
	rdb.Del(ctx, proposalKey("p1"))
	got, err = s.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.ProposerID)
	assert.True(t, rdb.has(proposalKey("p1")))

	_, err = s.GetProposal(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachedStoreTransitionInvalidates(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	s := NewCachedStore(NewMemoryStore(), rdb, time.Minute)

	require.NoError(t, s.InsertProposal(ctx, newProposal("p1", "alice", "bob", t0)))
	_, err := s.GetProposal(ctx, "p1")
	require.NoError(t, err)

	_, err = s.TransitionProposal(ctx, "p1", model.ProposalSent, model.ProposalRejected, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, rdb.has(proposalKey("p1")))

	got, err := s.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalRejected, got.Status)

	// A failed transition still leaves the cache consistent with the primary.
	_, err = s.TransitionProposal(ctx, "p1", model.ProposalSent, model.ProposalAccepted, t0.Add(2*time.Minute))
	require.ErrorIs(t, err, ErrInvalidStatus)
	got, err = s.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalRejected, got.Status)
}

func TestCachedStoreCounterInvalidates(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	s := NewCachedStore(NewMemoryStore(), rdb, time.Minute)

	require.NoError(t, s.InsertProposal(ctx, newProposal("p1", "alice", "bob", t0)))
	_, err := s.GetProposal(ctx, "p1")
	require.NoError(t, err)

	counter := newProposal("p2", "bob", "alice", t0.Add(time.Minute))
	counter.Type = model.SideSell
	counter.ParentID = "p1"
	_, err = s.CounterProposal(ctx, "p1", counter, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, rdb.has(proposalKey("p1")))

	orig, err := s.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalCountered, orig.Status)
	assert.Equal(t, "p2", orig.CounterID)

	got, err := s.GetProposal(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalSent, got.Status)
	assert.Equal(t, "p1", got.ParentID)
}

func TestCachedStoreAccountsBypassCache(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	s := NewCachedStore(NewMemoryStore(), rdb, time.Minute)

	require.NoError(t, s.CreateAccount(ctx, &model.Account{UserID: "alice", Balance: d("1000"), UpdatedAt: t0}))
	_, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, s.SaveAccount(ctx, &model.Account{UserID: "alice", Balance: d("850"), UpdatedAt: t0}, nil))
	got, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(d("850")))

	for _, k := range rdb.keys() {
		assert.False(t, strings.HasPrefix(k, "account:"), "account cached under %s", k)
	}
}

func TestCachedStoreSlowReaderCannotResurrectAccount(t *testing.T) {
	ctx := context.Background()
	primary := &stallingStore{
		MemoryStore: NewMemoryStore(),
		read:        make(chan struct{}),
		release:     make(chan struct{}),
	}
	s := NewCachedStore(primary, newFakeRedis(), time.Minute)
	require.NoError(t, primary.MemoryStore.CreateAccount(ctx, &model.Account{UserID: "alice", Balance: d("1000"), UpdatedAt: t0}))

	// An unlocked reader loads the old balance and stalls.
	done := make(chan *model.Account)
	go func() {
		acct, err := s.GetAccount(ctx, "alice")
		assert.NoError(t, err)
		done <- acct
	}()
	<-primary.read

	// A purchase commits while the reader is stalled.
	buy := &model.Account{
		UserID:  "alice",
		Balance: d("850"),
		Lots: []model.Lot{
			{ID: "lot-1", EventID: "e1", PurchasePrice: d("50"), Quantity: 3, Status: model.LotInInventory, AcquiredAt: t0},
		},
		UpdatedAt: t0.Add(time.Minute),
	}
	trade := model.Trade{
		ID: "t1", TransactionID: "TXN1", UserID: "alice", EventID: "e1", EventName: "Event",
		Price: d("50"), Type: model.SideBuy, Quantity: 3, Timestamp: t0.Add(time.Minute),
	}
	require.NoError(t, s.SaveAccount(ctx, buy, []model.Trade{trade}))

	close(primary.release)
	stale := <-done
	assert.True(t, stale.Balance.Equal(d("1000")))

	// The next locked load must see the committed purchase.
	got, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(d("850")))
	require.Len(t, got.Lots, 1)
	assert.Equal(t, int64(3), got.Lots[0].Quantity)
}
