package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ticketx/ledger-engine/internal/model"
)

const (
	pgLotColumns = `id, event_id, purchase_price::TEXT, quantity, status, acquired_at`

	pgTradeColumns = `id, transaction_id, user_id, event_id, event_name,
		price::TEXT, type, quantity, proposal_id, timestamp`

	pgProposalColumns = `id, proposer_id, counterparty_id, event_id, quantity,
		price::TEXT, type, status, parent_id, counter_id, created_at, updated_at`

	pgNotificationColumns = `id, user_id, kind, title, message, proposal_id, terms, read, timestamp`
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates missing tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, PostgresSchema)
	return err
}

func (s *PostgresStore) CreateAccount(ctx context.Context, acct *model.Account) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx,
		`INSERT INTO accounts (user_id, balance, updated_at) VALUES ($1, $2::NUMERIC, $3)`,
		acct.UserID, acct.Balance.String(), acct.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("account %s: %w", acct.UserID, ErrAlreadyExists)
		}
		return err
	}
	if err := insertLots(ctx, tx, acct); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	acct := model.Account{UserID: userID}
	var balanceS string

	err := s.pool.QueryRow(ctx,
		`SELECT balance::TEXT, updated_at FROM accounts WHERE user_id = $1`, userID).
		Scan(&balanceS, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}
	if acct.Balance, err = parseDecimal("balance", balanceS); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+pgLotColumns+` FROM lots WHERE user_id = $1 ORDER BY position`, userID)
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

func (s *PostgresStore) SaveAccount(ctx context.Context, acct *model.Account, trades []model.Trade) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $2::NUMERIC, updated_at = $3 WHERE user_id = $1`,
		acct.UserID, acct.Balance.String(), acct.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", acct.UserID, ErrNotFound)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM lots WHERE user_id = $1`, acct.UserID); err != nil {
		return err
	}
	if err := insertLots(ctx, tx, acct); err != nil {
		return err
	}

	for _, t := range trades {
		_, err := tx.Exec(ctx,
			`INSERT INTO trades (id, transaction_id, user_id, event_id, event_name, price, type, quantity, proposal_id, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9, $10)`,
			t.ID, t.TransactionID, t.UserID, t.EventID, t.EventName,
			t.Price.String(), string(t.Type), t.Quantity, t.ProposalID, t.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert trade %s: %w", t.TransactionID, err)
		}
	}

	return tx.Commit(ctx)
}

func insertLots(ctx context.Context, tx pgx.Tx, acct *model.Account) error {
	for i, l := range acct.Lots {
		_, err := tx.Exec(ctx,
			`INSERT INTO lots (id, user_id, event_id, purchase_price, quantity, status, acquired_at, position)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8)`,
			l.ID, acct.UserID, l.EventID, l.PurchasePrice.String(), l.Quantity, string(l.Status), l.AcquiredAt, i,
		)
		if err != nil {
			return fmt.Errorf("insert lot %s: %w", l.ID, err)
		}
	}
	return nil
}

func (s *PostgresStore) ListTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgTradeColumns+` FROM trades WHERE user_id = $1 ORDER BY timestamp DESC, seq DESC`, userID)
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

func (s *PostgresStore) InsertProposal(ctx context.Context, p *model.Proposal) error {
	return insertProposal(ctx, s.pool, p)
}

// execer is satisfied by *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertProposal(ctx context.Context, db execer, p *model.Proposal) error {
	_, err := db.Exec(ctx,
		`INSERT INTO proposals (id, proposer_id, counterparty_id, event_id, quantity, price, type, status, parent_id, counter_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.ProposerID, p.CounterpartyID, p.EventID, p.Quantity,
		p.Price.String(), string(p.Type), string(p.Status), p.ParentID, p.CounterID,
		p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	p, err := scanProposal(s.pool.QueryRow(ctx,
		`SELECT `+pgProposalColumns+` FROM proposals WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get proposal %s: %w", id, err)
	}
	return &p, nil
}

func (s *PostgresStore) TransitionProposal(ctx context.Context, id string, from, to model.ProposalStatus, at time.Time) (*model.Proposal, error) {
	p, err := scanProposal(s.pool.QueryRow(ctx,
		`UPDATE proposals SET status = $2, updated_at = $3
		 WHERE id = $1 AND status = $4
		 RETURNING `+pgProposalColumns,
		id, string(to), at, string(from)))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, s.statusMismatch(ctx, id)
	}
	return &p, nil
}

func (s *PostgresStore) CounterProposal(ctx context.Context, originalID string, counter *model.Proposal, at time.Time) (*model.Proposal, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	p, err := scanProposal(tx.QueryRow(ctx,
		`UPDATE proposals SET status = $2, counter_id = $3, updated_at = $4
		 WHERE id = $1 AND status = $5
		 RETURNING `+pgProposalColumns,
		originalID, string(model.ProposalCountered), counter.ID, at, string(model.ProposalSent)))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, s.statusMismatch(ctx, originalID)
	}
	if err := insertProposal(ctx, tx, counter); err != nil {
		return nil, fmt.Errorf("insert counter proposal: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &p, nil
}

// statusMismatch tells a missing proposal apart from one in the wrong state
// after a conditional UPDATE matched no rows.
func (s *PostgresStore) statusMismatch(ctx context.Context, id string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM proposals WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("proposal %s: %w", id, ErrNotFound)
		}
		return err
	}
	return fmt.Errorf("proposal %s is %s: %w", id, status, ErrInvalidStatus)
}

func (s *PostgresStore) ListProposals(ctx context.Context, userID string) ([]model.Proposal, error) {
	return s.queryProposals(ctx,
		`SELECT `+pgProposalColumns+` FROM proposals
		 WHERE proposer_id = $1 OR counterparty_id = $1
		 ORDER BY created_at DESC, seq DESC`, userID)
}

func (s *PostgresStore) ListSentProposalsBefore(ctx context.Context, cutoff time.Time) ([]model.Proposal, error) {
	return s.queryProposals(ctx,
		`SELECT `+pgProposalColumns+` FROM proposals
		 WHERE status = $1 AND created_at < $2
		 ORDER BY created_at, seq`, string(model.ProposalSent), cutoff)
}

func (s *PostgresStore) queryProposals(ctx context.Context, sql string, args ...any) ([]model.Proposal, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
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

func (s *PostgresStore) InsertNotification(ctx context.Context, n *model.Notification) error {
	terms, err := encodeTerms(n.Terms)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO notifications (id, user_id, kind, title, message, proposal_id, terms, read, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.UserID, string(n.Kind), n.Title, n.Message, n.ProposalID, terms, n.Read, n.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string) ([]model.Notification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgNotificationColumns+` FROM notifications
		 WHERE user_id = $1 ORDER BY timestamp DESC, seq DESC`, userID)
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

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE user_id = $1 AND NOT read`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
