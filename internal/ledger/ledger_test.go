package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketx/ledger-engine/internal/catalog"
	"github.com/ticketx/ledger-engine/internal/limits"
	"github.com/ticketx/ledger-engine/internal/model"
	"github.com/ticketx/ledger-engine/internal/position"
	"github.com/ticketx/ledger-engine/internal/store"
	"github.com/ticketx/ledger-engine/internal/txid"
)

const (
	interusp  = "interusp-2024"
	calourada = "calourada-2024"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type recorded struct {
	mu     sync.Mutex
	trades []model.Trade
}

func (r *recorded) RecordTrade(_ context.Context, t model.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, t)
}

func (r *recorded) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trades)
}

func testCatalog(t *testing.T) *catalog.MemoryCatalog {
	t.Helper()
	cat, err := catalog.NewMemoryCatalog(
		model.Event{ID: interusp, Name: "InterUSP 2024", Date: time.Date(2024, 11, 15, 0, 0, 0, 0, time.UTC),
			OrderBook: model.OrderBook{LastPrice: d("55")}},
		model.Event{ID: calourada, Name: "Calourada", Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			OrderBook: model.OrderBook{LastPrice: d("80")}},
	)
	require.NoError(t, err)
	return cat
}

func newTestLedger(t *testing.T, st store.Store, mutate ...func(*Config)) (*Ledger, *recorded) {
	t.Helper()
	rec := &recorded{}
	cfg := Config{Catalog: testCatalog(t), Recorder: rec}
	for _, m := range mutate {
		m(&cfg)
	}
	return New(st, cfg), rec
}

func open(t *testing.T, l *Ledger, userID, balance string) {
	t.Helper()
	_, err := l.Open(context.Background(), userID, d(balance))
	require.NoError(t, err)
}

func buy(eventID string, qty int64, price string) Order {
	return Order{EventID: eventID, Quantity: qty, Price: d(price)}
}

func TestOpen(t *testing.T) {
	l, _ := newTestLedger(t, store.NewMemoryStore())
	ctx := context.Background()

	acct, err := l.Open(ctx, "alice", d("1000"))
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(d("1000")))
	assert.Empty(t, acct.Lots)

	_, err = l.Open(ctx, "alice", d("5"))
	assert.ErrorIs(t, err, model.ErrAccountExists)

	_, err = l.Open(ctx, "bob", d("-1"))
	assert.ErrorIs(t, err, model.ErrInvalidAmount)

	_, err = l.Balance(ctx, "nobody")
	assert.ErrorIs(t, err, model.ErrUnknownAccount)

	_, err = l.ExecuteBuy(ctx, "nobody", buy(interusp, 1, "10"))
	assert.ErrorIs(t, err, model.ErrUnknownAccount)
}

func TestExecuteBuy(t *testing.T) {
	l, rec := newTestLedger(t, store.NewMemoryStore())
	ctx := context.Background()
	open(t, l, "alice", "1000")

	trade, err := l.ExecuteBuy(ctx, "alice", buy(interusp, 3, "50"))
	require.NoError(t, err)
	assert.Equal(t, model.SideBuy, trade.Type)
	assert.Equal(t, "InterUSP 2024", trade.EventName)
	assert.True(t, txid.Valid(trade.TransactionID))

	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("850")), "balance %s", bal)

	// Same price merges into the existing lot.
	_, err = l.ExecuteBuy(ctx, "alice", buy(interusp, 2, "50"))
	require.NoError(t, err)
	lots, err := l.Lots(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, int64(5), lots[0].Quantity)
	assert.Equal(t, model.LotInInventory, lots[0].Status)

	assert.Equal(t, 2, rec.count())
}

func TestExecuteBuy_InsufficientFunds(t *testing.T) {
	l, rec := newTestLedger(t, store.NewMemoryStore())
	ctx := context.Background()
	open(t, l, "alice", "100")

	_, err := l.ExecuteBuy(ctx, "alice", buy(interusp, 2, "60"))
	require.ErrorIs(t, err, model.ErrInsufficientFunds)

	acct, err := l.Account(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(d("100")))
	assert.Empty(t, acct.Lots)

	trades, err := l.store.ListTrades(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, 0, rec.count())
}

func TestExecuteBuy_Validation(t *testing.T) {
	tests := []struct {
		name  string
		order Order
		want  error
	}{
		{"zero quantity", buy(interusp, 0, "10"), model.ErrInvalidQuantity},
		{"negative quantity", buy(interusp, -1, "10"), model.ErrInvalidQuantity},
		{"zero price", buy(interusp, 1, "0"), model.ErrInvalidQuantity},
		{"negative price", buy(interusp, 1, "-5"), model.ErrInvalidQuantity},
		{"unknown event", buy("no-such-event", 1, "10"), model.ErrUnknownEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newTestLedger(t, store.NewMemoryStore())
			open(t, l, "alice", "1000")

			_, err := l.ExecuteBuy(context.Background(), "alice", tt.order)
			require.ErrorIs(t, err, tt.want)

			bal, _ := l.Balance(context.Background(), "alice")
			assert.True(t, bal.Equal(d("1000")))
		})
	}
}

func TestExecuteSell_CheapestFirst(t *testing.T) {
	l, _ := newTestLedger(t, store.NewMemoryStore())
	ctx := context.Background()
	open(t, l, "alice", "1000")

	_, err := l.ExecuteBuy(ctx, "alice", buy(interusp, 3, "15"))
	require.NoError(t, err)
	_, err = l.ExecuteBuy(ctx, "alice", buy(interusp, 2, "10"))
	require.NoError(t, err)

	trade, err := l.ExecuteSell(ctx, "alice", buy(interusp, 4, "20"))
	require.NoError(t, err)
	assert.Equal(t, model.SideSell, trade.Type)

	lots, err := l.Lots(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.True(t, lots[0].PurchasePrice.Equal(d("15")))
	assert.Equal(t, int64(1), lots[0].Quantity)

	// 1000 - 45 - 20 + 80
	bal, _ := l.Balance(ctx, "alice")
	assert.True(t, bal.Equal(d("1015")), "balance %s", bal)
}

func TestExecuteSell_InsufficientInventory(t *testing.T) {
	l, _ := newTestLedger(t, store.NewMemoryStore())
	ctx := context.Background()
	open(t, l, "alice", "1000")
	_, err := l.ExecuteBuy(ctx, "alice", buy(interusp, 2, "10"))
	require.NoError(t, err)

	_, err = l.ExecuteSell(ctx, "alice", buy(interusp, 3, "20"))
	require.ErrorIs(t, err, model.ErrInsufficientInventory)

	acct, _ := l.Account(ctx, "alice")
	assert.True(t, acct.Balance.Equal(d("980")))
	require.Len(t, acct.Lots, 1)
	assert.Equal(t, int64(2), acct.Lots[0].Quantity)
}

func TestConservation(t *testing.T) {
	l, _ := newTestLedger(t, store.NewMemoryStore())
	ctx := context.Background()
	open(t, l, "alice", "500")

	steps := []func() error{
		func() error { _, err := l.ExecuteBuy(ctx, "alice", buy(interusp, 3, "50")); return err },
		func() error { _, err := l.ExecuteBuy(ctx, "alice", buy(calourada, 2, "35.5")); return err },
		func() error { _, err := l.ExecuteSell(ctx, "alice", buy(interusp, 1, "70")); return err },
		func() error { _, err := l.Deposit(ctx, "alice", d("25.25")); return err },
		func() error { _, err := l.Withdraw(ctx, "alice", d("10")); return err },
		func() error { _, err := l.ExecuteBuy(ctx, "alice", buy(interusp, 100, "50")); return err }, // rejected
		func() error { _, err := l.ExecuteSell(ctx, "alice", buy(calourada, 2, "40")); return err },
	}
	for _, step := range steps {
		_ = step()
		bal, err := l.Balance(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, bal.IsNegative())
	}

	trades, err := l.store.ListTrades(ctx, "alice")
	require.NoError(t, err)
	expected := d("500").Add(position.RealizedPnL(trades)).Add(d("25.25")).Sub(d("10"))

	bal, _ := l.Balance(ctx, "alice")
	assert.True(t, bal.Equal(expected), "balance %s, expected %s", bal, expected)

	realized, err := l.RealizedPnL(ctx, "alice")
	require.NoError(t, err)
	// -150 - 71 + 70 + 80
	assert.True(t, realized.Equal(d("-71")), "realized %s", realized)
}

func TestDepositWithdraw(t *testing.T) {
	l, _ := newTestLedger(t, store.NewMemoryStore())
	ctx := context.Background()
	open(t, l, "alice", "100")

	_, err := l.Deposit(ctx, "alice", d("0"))
	assert.ErrorIs(t, err, model.ErrInvalidAmount)
	_, err = l.Deposit(ctx, "alice", d("-3"))
	assert.ErrorIs(t, err, model.ErrInvalidAmount)
	_, err = l.Withdraw(ctx, "alice", d("0"))
	assert.ErrorIs(t, err, model.ErrInvalidAmount)
	_, err = l.Withdraw(ctx, "alice", d("100.01"))
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	acct, err := l.Deposit(ctx, "alice", d("50"))
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(d("150")))

	acct, err = l.Withdraw(ctx, "alice", d("150"))
	require.NoError(t, err)
	assert.True(t, acct.Balance.IsZero())
}

func TestLimits(t *testing.T) {
	l, _ := newTestLedger(t, store.NewMemoryStore(), func(c *Config) {
		c.Limiter = limits.NewPositionLimiter(5, 4)
	})
	ctx := context.Background()
	open(t, l, "alice", "1000")

	_, err := l.ExecuteBuy(ctx, "alice", buy(interusp, 5, "10"))
	assert.ErrorIs(t, err, limits.ErrOrderLimitExceeded)

	_, err = l.ExecuteBuy(ctx, "alice", buy(interusp, 4, "10"))
	require.NoError(t, err)

	_, err = l.ExecuteBuy(ctx, "alice", buy(interusp, 2, "10"))
	assert.ErrorIs(t, err, limits.ErrEventLimitExceeded)
	assert.ErrorIs(t, err, model.ErrLimitExceeded)

	_, err = l.ExecuteBuy(ctx, "alice", buy(calourada, 2, "10"))
	assert.NoError(t, err)
}

func TestTx_RollbackDiscards(t *testing.T) {
	l, rec := newTestLedger(t, store.NewMemoryStore())
	ctx := context.Background()
	open(t, l, "alice", "1000")

	tx, err := l.Begin(ctx, "alice")
	require.NoError(t, err)
	_, err = tx.Buy(ctx, buy(interusp, 2, "50"))
	require.NoError(t, err)
	require.NoError(t, tx.Deposit(d("5")))
	assert.True(t, tx.Balance().Equal(d("905")))
	tx.Rollback()

	acct, err := l.Account(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(d("1000")))
	assert.Empty(t, acct.Lots)
	assert.Equal(t, 0, rec.count())

	// The lock was released.
	_, err = l.Deposit(ctx, "alice", d("1"))
	assert.NoError(t, err)
}

func TestTx_CommitIsAtomic(t *testing.T) {
	l, rec := newTestLedger(t, store.NewMemoryStore())
	ctx := context.Background()
	open(t, l, "alice", "1000")

	tx, err := l.Begin(ctx, "alice")
	require.NoError(t, err)
	_, err = tx.Buy(ctx, buy(interusp, 2, "50"))
	require.NoError(t, err)
	_, err = tx.Sell(ctx, buy(interusp, 5, "50"))
	require.ErrorIs(t, err, model.ErrInsufficientInventory)
	_, err = tx.Sell(ctx, buy(interusp, 1, "70"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.Error(t, tx.Commit(ctx))

	acct, _ := l.Account(ctx, "alice")
	assert.True(t, acct.Balance.Equal(d("970")))
	require.Len(t, acct.Lots, 1)
	assert.Equal(t, int64(1), acct.Lots[0].Quantity)
	assert.Equal(t, 2, rec.count())
}

type failingStore struct {
	*store.MemoryStore
}

func (failingStore) SaveAccount(context.Context, *model.Account, []model.Trade) error {
	return errors.New("disk full")
}

func TestCommitFailureLeavesStateUnchanged(t *testing.T) {
	st := failingStore{store.NewMemoryStore()}
	l, rec := newTestLedger(t, st)
	ctx := context.Background()
	open(t, l, "alice", "1000")

	_, err := l.ExecuteBuy(ctx, "alice", buy(interusp, 2, "50"))
	require.Error(t, err)

	acct, _ := l.Account(ctx, "alice")
	assert.True(t, acct.Balance.Equal(d("1000")))
	assert.Empty(t, acct.Lots)
	assert.Equal(t, 0, rec.count())

	// The failed commit released the lock.
	done := make(chan struct{})
	go func() {
		_, _ = l.Deposit(ctx, "alice", d("1"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("account lock not released after failed commit")
	}
}

func TestSetLotStatus_TradableOnly(t *testing.T) {
	l, _ := newTestLedger(t, store.NewMemoryStore(), func(c *Config) {
		c.Policy = position.TradableOnly
	})
	ctx := context.Background()
	open(t, l, "alice", "1000")

	_, err := l.ExecuteBuy(ctx, "alice", buy(interusp, 2, "10"))
	require.NoError(t, err)
	lots, _ := l.Lots(ctx, "alice")

	lot, err := l.SetLotStatus(ctx, "alice", lots[0].ID, model.LotNegotiating)
	require.NoError(t, err)
	assert.Equal(t, model.LotNegotiating, lot.Status)

	avail, err := l.Available(ctx, "alice", interusp)
	require.NoError(t, err)
	assert.Equal(t, int64(0), avail)

	_, err = l.ExecuteSell(ctx, "alice", buy(interusp, 1, "20"))
	assert.ErrorIs(t, err, model.ErrInsufficientInventory)

	_, err = l.SetLotStatus(ctx, "alice", "missing", model.LotInInventory)
	assert.ErrorIs(t, err, model.ErrUnknownLot)
}

func TestSnapshot(t *testing.T) {
	l, _ := newTestLedger(t, store.NewMemoryStore())
	ctx := context.Background()
	open(t, l, "alice", "1000")

	_, err := l.ExecuteBuy(ctx, "alice", buy(interusp, 2, "50"))
	require.NoError(t, err)
	_, err = l.ExecuteBuy(ctx, "alice", buy(interusp, 2, "40"))
	require.NoError(t, err)
	_, err = l.ExecuteBuy(ctx, "alice", buy(calourada, 1, "100"))
	require.NoError(t, err)

	pf, err := l.Snapshot(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", pf.UserID)
	assert.True(t, pf.Balance.Equal(d("720")))
	require.Len(t, pf.Positions, 2)

	inter := pf.Positions[0]
	assert.Equal(t, interusp, inter.EventID)
	assert.Equal(t, int64(4), inter.Quantity)
	assert.True(t, inter.AverageCost.Equal(d("45")))
	assert.True(t, inter.MarketValue.Equal(d("220")))
	assert.True(t, inter.UnrealizedPnL.Equal(d("40")))

	// 220 + 80 - (180 + 100)
	assert.True(t, pf.UnrealizedPnL.Equal(d("20")), "unrealized %s", pf.UnrealizedPnL)
	assert.True(t, pf.RealizedPnL.Equal(d("-280")))

	only, err := l.Snapshot(ctx, "alice", calourada)
	require.NoError(t, err)
	require.Len(t, only.Positions, 1)
	assert.True(t, only.Positions[0].UnrealizedPnL.Equal(d("-20")))
}

func TestConcurrentBuysNeverOverdraw(t *testing.T) {
	l, _ := newTestLedger(t, store.NewMemoryStore())
	ctx := context.Background()
	open(t, l, "alice", "30")

	var ok atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.ExecuteBuy(ctx, "alice", buy(interusp, 1, "1")); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(30), ok.Load())
	bal, _ := l.Balance(ctx, "alice")
	assert.True(t, bal.IsZero())
	avail, _ := l.Available(ctx, "alice", interusp)
	assert.Equal(t, int64(30), avail)
}
