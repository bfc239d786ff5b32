package position

import (
	"github.com/shopspring/decimal"

	"github.com/ticketx/ledger-engine/internal/model"
)

// Quote is the reference price of an event used for valuation.
type Quote struct {
	Name      string
	LastPrice decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Snapshot values the book per event. When eventID is non-empty only that
// event is included. Events without a quote are left out, as there is
// nothing to value them against.
func (b *Book) Snapshot(eventID string, quotes map[string]Quote) model.Portfolio {
	var order []string
	grouped := make(map[string][]model.Lot)
	for _, l := range b.lots {
		if eventID != "" && l.EventID != eventID {
			continue
		}
		if _, ok := grouped[l.EventID]; !ok {
			order = append(order, l.EventID)
		}
		grouped[l.EventID] = append(grouped[l.EventID], l)
	}

	pf := model.Portfolio{
		Positions:     []model.EventPosition{},
		TotalCost:     decimal.Zero,
		TotalValue:    decimal.Zero,
		UnrealizedPnL: decimal.Zero,
	}
	for _, id := range order {
		q, ok := quotes[id]
		if !ok {
			continue
		}
		pos := valuePosition(id, q, grouped[id])
		pf.Positions = append(pf.Positions, pos)
		pf.TotalCost = pf.TotalCost.Add(pos.CostBasis)
		pf.TotalValue = pf.TotalValue.Add(pos.MarketValue)
		pf.UnrealizedPnL = pf.UnrealizedPnL.Add(pos.UnrealizedPnL)
	}
	return pf
}

func valuePosition(eventID string, q Quote, lots []model.Lot) model.EventPosition {
	var qty int64
	cost := decimal.Zero
	for _, l := range lots {
		qty += l.Quantity
		cost = cost.Add(l.Cost())
	}
	avg := averageCost(lots)
	value := q.LastPrice.Mul(decimal.NewFromInt(qty))

	valorization := decimal.Zero
	if avg.IsPositive() {
		valorization = q.LastPrice.Sub(avg).Div(avg).Mul(hundred).Round(2)
	}

	return model.EventPosition{
		EventID:         eventID,
		EventName:       q.Name,
		Quantity:        qty,
		AverageCost:     avg,
		CostBasis:       cost,
		LastPrice:       q.LastPrice,
		MarketValue:     value,
		UnrealizedPnL:   value.Sub(cost),
		ValorizationPct: valorization,
		Lots:            lots,
	}
}
