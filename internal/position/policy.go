package position

import (
	"fmt"

	"github.com/ticketx/ledger-engine/internal/model"
)

// SellPolicy decides which lots count as available for a sale.
type SellPolicy int

const (
	// AllLots sells from every lot of the event regardless of status.
	AllLots SellPolicy = iota
	// TradableOnly sells only from IN_INVENTORY and LISTED_FOR_SALE lots.
	TradableOnly
)

func (p SellPolicy) String() string {
	switch p {
	case AllLots:
		return "all"
	case TradableOnly:
		return "tradable"
	default:
		return "unknown"
	}
}

// ParseSellPolicy parses a string into a SellPolicy.
func ParseSellPolicy(s string) (SellPolicy, error) {
	switch s {
	case "", "all":
		return AllLots, nil
	case "tradable":
		return TradableOnly, nil
	default:
		return 0, fmt.Errorf("unknown sell policy: %q", s)
	}
}

func (p SellPolicy) eligible(l model.Lot) bool {
	if p == TradableOnly {
		return l.Status.Tradable()
	}
	return true
}
