// Package ledger owns user accounts: cash balance plus ticket lots. Every
// mutation runs inside a Tx that holds the account's lock, works on a copy and
// persists balance, lots and trades in one store write on Commit. A failed
// operation leaves the account exactly as it was.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ticketx/ledger-engine/internal/catalog"
	"github.com/ticketx/ledger-engine/internal/limits"
	"github.com/ticketx/ledger-engine/internal/metrics"
	"github.com/ticketx/ledger-engine/internal/model"
	"github.com/ticketx/ledger-engine/internal/position"
	"github.com/ticketx/ledger-engine/internal/store"
)

// TradeRecorder receives every committed trade.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, t model.Trade)
}

// Config wires the Ledger's collaborators. Catalog is required.
type Config struct {
	Catalog  catalog.Catalog
	Recorder TradeRecorder
	Limiter  *limits.PositionLimiter
	Policy   position.SellPolicy
	Logger   *slog.Logger
}

// Ledger executes trades and cash movements against user accounts.
type Ledger struct {
	store    store.Store
	catalog  catalog.Catalog
	recorder TradeRecorder
	limiter  *limits.PositionLimiter
	policy   position.SellPolicy
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a ledger persisting to st.
func New(st store.Store, cfg Config) *Ledger {
	l := &Ledger{
		store:    st,
		catalog:  cfg.Catalog,
		recorder: cfg.Recorder,
		limiter:  cfg.Limiter,
		policy:   cfg.Policy,
		logger:   cfg.Logger,
		now:      func() time.Time { return time.Now().UTC() },
		locks:    make(map[string]*sync.Mutex),
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Policy returns the sell policy applied to every book.
func (l *Ledger) Policy() position.SellPolicy {
	return l.policy
}

func (l *Ledger) lockFor(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	return m
}

// Open creates an account with an initial balance.
func (l *Ledger) Open(ctx context.Context, userID string, balance decimal.Decimal) (*model.Account, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("empty user id: %w", model.ErrUnknownAccount)
	}
	if balance.IsNegative() {
		return nil, fmt.Errorf("initial balance %s: %w", balance, model.ErrInvalidAmount)
	}

	acct := &model.Account{
		UserID:    userID,
		Balance:   balance,
		Lots:      []model.Lot{},
		UpdatedAt: l.now(),
	}
	if err := l.store.CreateAccount(ctx, acct); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("account %s: %w", userID, model.ErrAccountExists)
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	l.logger.Info("account opened", "user_id", userID, "balance", balance.String())
	return acct.Clone(), nil
}

// Account returns a copy of the committed account state.
func (l *Ledger) Account(ctx context.Context, userID string) (*model.Account, error) {
	acct, err := l.store.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("account %s: %w", userID, model.ErrUnknownAccount)
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	if acct.Lots == nil {
		acct.Lots = []model.Lot{}
	}
	return acct, nil
}

// Balance returns the user's cash balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	acct, err := l.Account(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return acct.Balance, nil
}

// Lots returns the user's lots in book order.
func (l *Ledger) Lots(ctx context.Context, userID string) ([]model.Lot, error) {
	acct, err := l.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	return acct.Lots, nil
}

// Available returns how many tickets of eventID the user may sell under the
// ledger's sell policy.
func (l *Ledger) Available(ctx context.Context, userID, eventID string) (int64, error) {
	acct, err := l.Account(ctx, userID)
	if err != nil {
		return 0, err
	}
	return position.NewBook(acct.Lots, l.policy).Available(eventID), nil
}

// ExecuteBuy buys quantity tickets of eventID at price.
func (l *Ledger) ExecuteBuy(ctx context.Context, userID string, o Order) (model.Trade, error) {
	return l.execute(ctx, userID, model.SideBuy, o)
}

// ExecuteSell sells quantity tickets of eventID at price, consuming the
// cheapest lots first.
func (l *Ledger) ExecuteSell(ctx context.Context, userID string, o Order) (model.Trade, error) {
	return l.execute(ctx, userID, model.SideSell, o)
}

// Execute runs a buy or sell.
func (l *Ledger) Execute(ctx context.Context, userID string, side model.Side, o Order) (model.Trade, error) {
	if !side.Valid() {
		return model.Trade{}, fmt.Errorf("side %q: %w", side, model.ErrInvalidQuantity)
	}
	return l.execute(ctx, userID, side, o)
}

func (l *Ledger) execute(ctx context.Context, userID string, side model.Side, o Order) (model.Trade, error) {
	start := time.Now()

	tx, err := l.Begin(ctx, userID)
	if err != nil {
		return model.Trade{}, err
	}
	defer tx.Rollback()

	var trade model.Trade
	if side == model.SideBuy {
		trade, err = tx.Buy(ctx, o)
	} else {
		trade, err = tx.Sell(ctx, o)
	}
	if err != nil {
		return model.Trade{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Trade{}, err
	}

	metrics.TradeLatency.WithLabelValues(string(side)).Observe(time.Since(start).Seconds())
	l.logger.Info("trade executed",
		"user_id", userID,
		"transaction_id", trade.TransactionID,
		"event_id", trade.EventID,
		"type", trade.Type,
		"quantity", trade.Quantity,
		"price", trade.Price.String(),
	)
	return trade, nil
}

// Deposit adds amount to the user's balance.
func (l *Ledger) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (*model.Account, error) {
	return l.cash(ctx, userID, amount, (*Tx).Deposit)
}

// Withdraw removes amount from the user's balance.
func (l *Ledger) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (*model.Account, error) {
	return l.cash(ctx, userID, amount, (*Tx).Withdraw)
}

func (l *Ledger) cash(ctx context.Context, userID string, amount decimal.Decimal, op func(*Tx, decimal.Decimal) error) (*model.Account, error) {
	tx, err := l.Begin(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := op(tx, amount); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return tx.Account(), nil
}

// SetLotStatus changes the status of one of the user's lots.
func (l *Ledger) SetLotStatus(ctx context.Context, userID, lotID string, status model.LotStatus) (model.Lot, error) {
	tx, err := l.Begin(ctx, userID)
	if err != nil {
		return model.Lot{}, err
	}
	defer tx.Rollback()

	lot, err := tx.SetLotStatus(lotID, status)
	if err != nil {
		return model.Lot{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Lot{}, err
	}
	return lot, nil
}

// Snapshot values the user's holdings at each event's last price. When
// eventID is non-empty only that event is included.
func (l *Ledger) Snapshot(ctx context.Context, userID, eventID string) (model.Portfolio, error) {
	acct, err := l.Account(ctx, userID)
	if err != nil {
		return model.Portfolio{}, err
	}
	evs, err := l.catalog.Events(ctx)
	if err != nil {
		return model.Portfolio{}, fmt.Errorf("list events: %w", err)
	}
	quotes := make(map[string]position.Quote, len(evs))
	for _, ev := range evs {
		quotes[ev.ID] = position.Quote{Name: ev.Name, LastPrice: ev.OrderBook.LastPrice}
	}

	realized, err := l.RealizedPnL(ctx, userID)
	if err != nil {
		return model.Portfolio{}, err
	}

	pf := position.NewBook(acct.Lots, l.policy).Snapshot(eventID, quotes)
	pf.UserID = userID
	pf.Balance = acct.Balance
	pf.RealizedPnL = realized
	return pf, nil
}

// RealizedPnL is the cash-flow sum of the user's trade history.
func (l *Ledger) RealizedPnL(ctx context.Context, userID string) (decimal.Decimal, error) {
	trades, err := l.store.ListTrades(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list trades: %w", err)
	}
	return position.RealizedPnL(trades), nil
}
