package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ticketx/ledger-engine/internal/metrics"
	"github.com/ticketx/ledger-engine/internal/model"
	"github.com/ticketx/ledger-engine/internal/position"
	"github.com/ticketx/ledger-engine/internal/store"
	"github.com/ticketx/ledger-engine/internal/txid"
)

// Order is a request to buy or sell tickets at a fixed unit price.
// ProposalID tags trades that settle an accepted proposal.
type Order struct {
	EventID    string          `json:"event_id"`
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	ProposalID string          `json:"proposal_id,omitempty"`
}

// Tx is an open unit of work on one account. It holds the account lock until
// Commit or Rollback. Operations mutate a private copy; a failed operation
// leaves the copy untouched, so the Tx may continue or be rolled back.
type Tx struct {
	l      *Ledger
	lock   *sync.Mutex
	acct   *model.Account
	book   *position.Book
	trades []model.Trade
	done   bool
}

// Begin locks the user's account and opens a transaction on it.
func (l *Ledger) Begin(ctx context.Context, userID string) (*Tx, error) {
	lock := l.lockFor(userID)
	lock.Lock()

	acct, err := l.store.GetAccount(ctx, userID)
	if err != nil {
		lock.Unlock()
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("account %s: %w", userID, model.ErrUnknownAccount)
		}
		return nil, fmt.Errorf("load account: %w", err)
	}

	return &Tx{
		l:    l,
		lock: lock,
		acct: acct,
		book: position.NewBook(acct.Lots, l.policy),
	}, nil
}

// UserID returns the account owner.
func (tx *Tx) UserID() string {
	return tx.acct.UserID
}

// Balance returns the working balance.
func (tx *Tx) Balance() decimal.Decimal {
	return tx.acct.Balance
}

// Available returns the sellable quantity of an event in the working book.
func (tx *Tx) Available(eventID string) int64 {
	return tx.book.Available(eventID)
}

// Account returns a copy of the working account state.
func (tx *Tx) Account() *model.Account {
	acct := tx.acct.Clone()
	acct.Lots = tx.book.Lots()
	return acct
}

// Buy debits price×quantity and adds the tickets to the book.
func (tx *Tx) Buy(ctx context.Context, o Order) (model.Trade, error) {
	trade, err := tx.buy(ctx, o)
	if err != nil {
		metrics.LedgerRejections.WithLabelValues(model.Kind(err)).Inc()
	}
	return trade, err
}

func (tx *Tx) buy(ctx context.Context, o Order) (model.Trade, error) {
	if err := validateOrder(o); err != nil {
		return model.Trade{}, err
	}
	ev, err := tx.l.catalog.Event(ctx, o.EventID)
	if err != nil {
		return model.Trade{}, err
	}

	held := map[string]int64{o.EventID: tx.book.Held(o.EventID)}
	if err := tx.l.limiter.CheckLimit(o.EventID, o.Quantity, held); err != nil {
		return model.Trade{}, err
	}

	cost := o.Price.Mul(decimal.NewFromInt(o.Quantity))
	if tx.acct.Balance.LessThan(cost) {
		return model.Trade{}, fmt.Errorf("buy %d × %s at %s costs %s, balance %s: %w",
			o.Quantity, o.EventID, o.Price, cost, tx.acct.Balance, model.ErrInsufficientFunds)
	}

	if _, err := tx.book.ApplyBuy(o.EventID, o.Quantity, o.Price); err != nil {
		return model.Trade{}, err
	}
	tx.acct.Balance = tx.acct.Balance.Sub(cost)
	return tx.appendTrade(ev.Name, model.SideBuy, o), nil
}

// Sell consumes the cheapest eligible lots and credits price×quantity.
func (tx *Tx) Sell(ctx context.Context, o Order) (model.Trade, error) {
	trade, err := tx.sell(ctx, o)
	if err != nil {
		metrics.LedgerRejections.WithLabelValues(model.Kind(err)).Inc()
	}
	return trade, err
}

func (tx *Tx) sell(ctx context.Context, o Order) (model.Trade, error) {
	if err := validateOrder(o); err != nil {
		return model.Trade{}, err
	}
	ev, err := tx.l.catalog.Event(ctx, o.EventID)
	if err != nil {
		return model.Trade{}, err
	}

	if _, err := tx.book.ApplySell(o.EventID, o.Quantity); err != nil {
		return model.Trade{}, err
	}
	tx.acct.Balance = tx.acct.Balance.Add(o.Price.Mul(decimal.NewFromInt(o.Quantity)))
	return tx.appendTrade(ev.Name, model.SideSell, o), nil
}

func validateOrder(o Order) error {
	if o.Quantity <= 0 {
		return fmt.Errorf("quantity %d: %w", o.Quantity, model.ErrInvalidQuantity)
	}
	if !o.Price.IsPositive() {
		return fmt.Errorf("price %s: %w", o.Price, model.ErrInvalidQuantity)
	}
	return nil
}

func (tx *Tx) appendTrade(eventName string, side model.Side, o Order) model.Trade {
	t := model.Trade{
		ID:            uuid.NewString(),
		TransactionID: txid.New(),
		UserID:        tx.acct.UserID,
		EventID:       o.EventID,
		EventName:     eventName,
		Price:         o.Price,
		Type:          side,
		Quantity:      o.Quantity,
		ProposalID:    o.ProposalID,
		Timestamp:     tx.l.now(),
	}
	tx.trades = append(tx.trades, t)
	return t
}

// Deposit credits amount, which must be positive.
func (tx *Tx) Deposit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("deposit %s: %w", amount, model.ErrInvalidAmount)
	}
	tx.acct.Balance = tx.acct.Balance.Add(amount)
	return nil
}

// Withdraw debits amount, which must be positive and covered by the balance.
func (tx *Tx) Withdraw(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("withdraw %s: %w", amount, model.ErrInvalidAmount)
	}
	if amount.GreaterThan(tx.acct.Balance) {
		return fmt.Errorf("withdraw %s with balance %s: %w", amount, tx.acct.Balance, model.ErrInsufficientFunds)
	}
	tx.acct.Balance = tx.acct.Balance.Sub(amount)
	return nil
}

// SetLotStatus changes a lot's status in the working book.
func (tx *Tx) SetLotStatus(lotID string, status model.LotStatus) (model.Lot, error) {
	return tx.book.SetStatus(lotID, status)
}

// Commit persists the working account and its trades in one store write,
// releases the lock and hands the trades to the recorder. On a store error
// nothing is persisted and the Tx is closed.
func (tx *Tx) Commit(ctx context.Context) error {
	if tx.done {
		return fmt.Errorf("ledger: transaction already closed")
	}
	defer tx.Rollback()

	acct := tx.Account()
	acct.UpdatedAt = tx.l.now()
	if err := tx.l.store.SaveAccount(ctx, acct, tx.trades); err != nil {
		return fmt.Errorf("save account %s: %w", acct.UserID, err)
	}
	tx.acct = acct
	tx.release()

	if tx.l.recorder != nil {
		for _, t := range tx.trades {
			tx.l.recorder.RecordTrade(ctx, t)
		}
	}
	return nil
}

// Rollback discards the transaction. It is a no-op after Commit.
func (tx *Tx) Rollback() {
	tx.release()
}

func (tx *Tx) release() {
	if tx.done {
		return
	}
	tx.done = true
	tx.lock.Unlock()
}
