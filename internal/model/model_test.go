package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestSide_Mirror(t *testing.T) {
	if SideBuy.Mirror() != SideSell {
		t.Errorf("expected BUY to mirror to SELL")
	}
	if SideSell.Mirror() != SideBuy {
		t.Errorf("expected SELL to mirror to BUY")
	}
}

func TestParseSide(t *testing.T) {
	tests := []struct {
		in      string
		want    Side
		wantErr bool
	}{
		{"buy", SideBuy, false},
		{"SELL", SideSell, false},
		{" Sell ", SideSell, false},
		{"hold", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSide(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSide(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseSide(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestProposalStatus_CanTransition(t *testing.T) {
	all := []ProposalStatus{ProposalSent, ProposalAccepted, ProposalRejected, ProposalCountered, ProposalExpired}
	for _, from := range all {
		for _, to := range all {
			want := from == ProposalSent && to != ProposalSent
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s → %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestProposal_ViewFor(t *testing.T) {
	p := &Proposal{ID: "p1", ProposerID: "alice", CounterpartyID: "bob"}

	out := p.ViewFor("alice")
	if out.Direction != DirectionOutgoing || out.TraderID != "bob" {
		t.Errorf("proposer view: got %s/%s", out.Direction, out.TraderID)
	}
	in := p.ViewFor("bob")
	if in.Direction != DirectionIncoming || in.TraderID != "alice" {
		t.Errorf("counterparty view: got %s/%s", in.Direction, in.TraderID)
	}
	if d := p.DirectionFor("carol"); d != "" {
		t.Errorf("expected no direction for outsider, got %s", d)
	}
}

func TestAccount_CloneIsDeep(t *testing.T) {
	a := &Account{UserID: "u", Lots: []Lot{{ID: "l1", Quantity: 3}}}
	c := a.Clone()
	c.Lots[0].Quantity = 1
	if a.Lots[0].Quantity != 3 {
		t.Errorf("clone shares lots with original")
	}
}

func TestKind(t *testing.T) {
	wrapped := fmt.Errorf("sell E1: %w", ErrInsufficientInventory)
	if got := Kind(wrapped); got != "insufficient_inventory" {
		t.Errorf("expected insufficient_inventory, got %s", got)
	}
	if got := Kind(errors.New("boom")); got != "internal" {
		t.Errorf("expected internal, got %s", got)
	}
}
