package model

import "errors"

// Domain errors. Callers match them with errors.Is; wrapped variants carry
// context. A failed operation never leaves partial state behind.
var (
	ErrInvalidQuantity        = errors.New("invalid quantity or price")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInsufficientInventory  = errors.New("insufficient inventory")
	ErrUnknownEvent           = errors.New("unknown event")
	ErrUnknownProposal        = errors.New("unknown proposal")
	ErrUnknownAccount         = errors.New("unknown account")
	ErrUnknownLot             = errors.New("unknown lot")
	ErrUnknownNotification    = errors.New("unknown notification")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNotCounterparty        = errors.New("only the counterparty may act on this proposal")
	ErrSelfProposal           = errors.New("cannot send a proposal to yourself")
	ErrAccountExists          = errors.New("account already exists")
	ErrLimitExceeded          = errors.New("limit exceeded")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidQuantity, "invalid_quantity"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrInsufficientInventory, "insufficient_inventory"},
	{ErrUnknownEvent, "unknown_event"},
	{ErrUnknownProposal, "unknown_proposal"},
	{ErrUnknownAccount, "unknown_account"},
	{ErrUnknownLot, "unknown_lot"},
	{ErrUnknownNotification, "unknown_notification"},
	{ErrInvalidStateTransition, "invalid_state_transition"},
	{ErrNotCounterparty, "not_counterparty"},
	{ErrSelfProposal, "self_proposal"},
	{ErrAccountExists, "account_exists"},
	{ErrLimitExceeded, "limit_exceeded"},
}

// Kind returns the stable error kind for err, or "internal" when err is
// not a domain error.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
