package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ticketx/ledger-engine/internal/model"
)

const (
	sqliteLotColumns = `id, event_id, purchase_price, quantity, status, acquired_at`

	sqliteTradeColumns = `id, transaction_id, user_id, event_id, event_name,
		price, type, quantity, proposal_id, timestamp`

	sqliteProposalColumns = `id, proposer_id, counterparty_id, event_id, quantity,
		price, type, status, parent_id, counter_id, created_at, updated_at`

	sqliteNotificationColumns = `id, user_id, kind, title, message, proposal_id, terms, read, timestamp`
)

// SQLiteStore implements Store on a single SQLite file. Decimals are kept as
// their string form and times are written in UTC so text comparison orders
// them correctly.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies
// SQLiteSchema. Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(SQLiteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, acct *model.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (user_id, balance, updated_at) VALUES (?, ?, ?)`,
		acct.UserID, acct.Balance.String(), acct.UpdatedAt.UTC())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("account %s: %w", acct.UserID, ErrAlreadyExists)
		}
		return err
	}
	if err := sqliteInsertLots(ctx, tx, acct); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	acct := model.Account{UserID: userID}
	var balanceS string

	err := s.db.QueryRowContext(ctx,
		`SELECT balance, updated_at FROM accounts WHERE user_id = ?`, userID).
		Scan(&balanceS, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}
	if acct.Balance, err = parseDecimal("balance", balanceS); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteLotColumns+` FROM lots WHERE user_id = ? ORDER BY position`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		acct.Lots = append(acct.Lots, l)
	}
	return &acct, rows.Err()
}

func (s *SQLiteStore) SaveAccount(ctx context.Context, acct *model.Account, trades []model.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, updated_at = ? WHERE user_id = ?`,
		acct.Balance.String(), acct.UpdatedAt.UTC(), acct.UserID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", acct.UserID, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM lots WHERE user_id = ?`, acct.UserID); err != nil {
		return err
	}
	if err := sqliteInsertLots(ctx, tx, acct); err != nil {
		return err
	}

	for _, t := range trades {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO trades (id, transaction_id, user_id, event_id, event_name, price, type, quantity, proposal_id, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.TransactionID, t.UserID, t.EventID, t.EventName,
			t.Price.String(), string(t.Type), t.Quantity, t.ProposalID, t.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert trade %s: %w", t.TransactionID, err)
		}
	}

	return tx.Commit()
}

func sqliteInsertLots(ctx context.Context, tx *sql.Tx, acct *model.Account) error {
	for i, l := range acct.Lots {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO lots (id, user_id, event_id, purchase_price, quantity, status, acquired_at, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, acct.UserID, l.EventID, l.PurchasePrice.String(), l.Quantity, string(l.Status), l.AcquiredAt.UTC(), i,
		)
		if err != nil {
			return fmt.Errorf("insert lot %s: %w", l.ID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) ListTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteTradeColumns+` FROM trades WHERE user_id = ? ORDER BY timestamp DESC, rowid DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func sqliteInsertProposal(ctx context.Context, db sqlExecer, p *model.Proposal) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO proposals (id, proposer_id, counterparty_id, event_id, quantity, price, type, status, parent_id, counter_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ProposerID, p.CounterpartyID, p.EventID, p.Quantity,
		p.Price.String(), string(p.Type), string(p.Status), p.ParentID, p.CounterID,
		p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) InsertProposal(ctx context.Context, p *model.Proposal) error {
	return sqliteInsertProposal(ctx, s.db, p)
}

func (s *SQLiteStore) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	return s.getProposal(ctx, s.db, id)
}

type sqlQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) getProposal(ctx context.Context, db sqlQueryer, id string) (*model.Proposal, error) {
	p, err := scanProposal(db.QueryRowContext(ctx,
		`SELECT `+sqliteProposalColumns+` FROM proposals WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get proposal %s: %w", id, err)
	}
	return &p, nil
}

func (s *SQLiteStore) TransitionProposal(ctx context.Context, id string, from, to model.ProposalStatus, at time.Time) (*model.Proposal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE proposals SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), at.UTC(), id, string(from))
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, s.statusMismatch(ctx, tx, id)
	}
	p, err := s.getProposal(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return p, tx.Commit()
}

func (s *SQLiteStore) CounterProposal(ctx context.Context, originalID string, counter *model.Proposal, at time.Time) (*model.Proposal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE proposals SET status = ?, counter_id = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.ProposalCountered), counter.ID, at.UTC(), originalID, string(model.ProposalSent))
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, s.statusMismatch(ctx, tx, originalID)
	}
	if err := sqliteInsertProposal(ctx, tx, counter); err != nil {
		return nil, fmt.Errorf("insert counter proposal: %w", err)
	}
	p, err := s.getProposal(ctx, tx, originalID)
	if err != nil {
		return nil, err
	}
	return p, tx.Commit()
}

func (s *SQLiteStore) statusMismatch(ctx context.Context, db sqlQueryer, id string) error {
	var status string
	err := db.QueryRowContext(ctx, `SELECT status FROM proposals WHERE id = ?`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("proposal %s: %w", id, ErrNotFound)
		}
		return err
	}
	return fmt.Errorf("proposal %s is %s: %w", id, status, ErrInvalidStatus)
}

func (s *SQLiteStore) ListProposals(ctx context.Context, userID string) ([]model.Proposal, error) {
	return s.queryProposals(ctx,
		`SELECT `+sqliteProposalColumns+` FROM proposals
		 WHERE proposer_id = ? OR counterparty_id = ?
		 ORDER BY created_at DESC, rowid DESC`, userID, userID)
}

func (s *SQLiteStore) ListSentProposalsBefore(ctx context.Context, cutoff time.Time) ([]model.Proposal, error) {
	return s.queryProposals(ctx,
		`SELECT `+sqliteProposalColumns+` FROM proposals
		 WHERE status = ? AND created_at < ?
		 ORDER BY created_at, rowid`, string(model.ProposalSent), cutoff.UTC())
}

func (s *SQLiteStore) queryProposals(ctx context.Context, query string, args ...any) ([]model.Proposal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var proposals []model.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

func (s *SQLiteStore) InsertNotification(ctx context.Context, n *model.Notification) error {
	terms, err := encodeTerms(n.Terms)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, kind, title, message, proposal_id, terms, read, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, string(n.Kind), n.Title, n.Message, n.ProposalID, terms, n.Read, n.Timestamp.UTC(),
	)
	return err
}

func (s *SQLiteStore) ListNotifications(ctx context.Context, userID string) ([]model.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteNotificationColumns+` FROM notifications
		 WHERE user_id = ? ORDER BY timestamp DESC, rowid DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE user_id = ? AND read = 0`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
