package store

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ticketx/ledger-engine/internal/model"
)

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return v, nil
}

// scanLot reads: id, event_id, purchase_price, quantity, status, acquired_at.
func scanLot(row rowScanner) (model.Lot, error) {
	var l model.Lot
	var priceS string
	if err := row.Scan(&l.ID, &l.EventID, &priceS, &l.Quantity, &l.Status, &l.AcquiredAt); err != nil {
		return l, err
	}
	price, err := parseDecimal("purchase_price", priceS)
	if err != nil {
		return l, err
	}
	l.PurchasePrice = price
	return l, nil
}

// scanTrade reads: id, transaction_id, user_id, event_id, event_name, price,
// type, quantity, proposal_id, timestamp.
func scanTrade(row rowScanner) (model.Trade, error) {
	var t model.Trade
	var priceS string
	if err := row.Scan(&t.ID, &t.TransactionID, &t.UserID, &t.EventID, &t.EventName,
		&priceS, &t.Type, &t.Quantity, &t.ProposalID, &t.Timestamp); err != nil {
		return t, err
	}
	price, err := parseDecimal("price", priceS)
	if err != nil {
		return t, err
	}
	t.Price = price
	return t, nil
}

// scanProposal reads: id, proposer_id, counterparty_id, event_id, quantity,
// price, type, status, parent_id, counter_id, created_at, updated_at.
func scanProposal(row rowScanner) (model.Proposal, error) {
	var p model.Proposal
	var priceS string
	if err := row.Scan(&p.ID, &p.ProposerID, &p.CounterpartyID, &p.EventID, &p.Quantity,
		&priceS, &p.Type, &p.Status, &p.ParentID, &p.CounterID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	price, err := parseDecimal("price", priceS)
	if err != nil {
		return p, err
	}
	p.Price = price
	return p, nil
}

// scanNotification reads: id, user_id, kind, title, message, proposal_id,
// terms, read, timestamp.
func scanNotification(row rowScanner) (model.Notification, error) {
	var n model.Notification
	var termsS string
	if err := row.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Message,
		&n.ProposalID, &termsS, &n.Read, &n.Timestamp); err != nil {
		return n, err
	}
	if termsS != "" {
		var terms model.Terms
		if err := json.Unmarshal([]byte(termsS), &terms); err != nil {
			return n, fmt.Errorf("parse notification terms: %w", err)
		}
		n.Terms = &terms
	}
	return n, nil
}

func encodeTerms(t *model.Terms) (string, error) {
	if t == nil {
		return "", nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
