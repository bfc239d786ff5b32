// Package position implements lot accounting for one user's ticket
// inventory: lot creation and merging on buy, cheapest-first consumption on
// sell, and profit/loss figures.
package position

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ticketx/ledger-engine/internal/model"
)

// Book holds the lots of a single user. It is not safe for concurrent use;
// the ledger serializes access per account.
type Book struct {
	lots   []model.Lot
	policy SellPolicy
	now    func() time.Time
}

// NewBook creates a book over a copy of lots.
func NewBook(lots []model.Lot, policy SellPolicy) *Book {
	return &Book{
		lots:   append([]model.Lot(nil), lots...),
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Consumption records how much of one lot a sale used up.
type Consumption struct {
	LotID         string          `json:"lot_id"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	Quantity      int64           `json:"quantity"`
}

// Lots returns a copy of all lots in book order.
func (b *Book) Lots() []model.Lot {
	return append([]model.Lot(nil), b.lots...)
}

// EventLots returns a copy of the lots for one event.
func (b *Book) EventLots(eventID string) []model.Lot {
	var out []model.Lot
	for _, l := range b.lots {
		if l.EventID == eventID {
			out = append(out, l)
		}
	}
	return out
}

// Held is the total quantity of an event across all lots, whatever their status.
func (b *Book) Held(eventID string) int64 {
	var n int64
	for _, l := range b.lots {
		if l.EventID == eventID {
			n += l.Quantity
		}
	}
	return n
}

// Available is the quantity of an event the sell policy allows to be sold.
func (b *Book) Available(eventID string) int64 {
	var n int64
	for _, l := range b.lots {
		if l.EventID == eventID && b.policy.eligible(l) {
			n += l.Quantity
		}
	}
	return n
}

// ApplyBuy adds quantity tickets at price. A lot with the same event and
// purchase price absorbs the quantity; otherwise a new IN_INVENTORY lot is
// created. The resulting lot is returned.
func (b *Book) ApplyBuy(eventID string, quantity int64, price decimal.Decimal) (model.Lot, error) {
	if quantity <= 0 {
		return model.Lot{}, fmt.Errorf("buy quantity %d: %w", quantity, model.ErrInvalidQuantity)
	}
	if price.IsNegative() {
		return model.Lot{}, fmt.Errorf("buy price %s: %w", price, model.ErrInvalidQuantity)
	}

	for i := range b.lots {
		if b.lots[i].EventID == eventID && b.lots[i].PurchasePrice.Equal(price) {
			b.lots[i].Quantity += quantity
			return b.lots[i], nil
		}
	}

	lot := model.Lot{
		ID:            uuid.New().String(),
		EventID:       eventID,
		PurchasePrice: price,
		Quantity:      quantity,
		Status:        model.LotInInventory,
		AcquiredAt:    b.now(),
	}
	b.lots = append(b.lots, lot)
	return lot, nil
}

// ApplySell removes quantity tickets of an event, consuming eligible lots
// in ascending purchase price order (ties keep book order). Emptied lots
// are dropped; a partially consumed lot keeps its remainder and status.
// On error the book is unchanged.
func (b *Book) ApplySell(eventID string, quantity int64) ([]Consumption, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("sell quantity %d: %w", quantity, model.ErrInvalidQuantity)
	}
	if avail := b.Available(eventID); quantity > avail {
		return nil, fmt.Errorf("sell %d of %s with %d available: %w",
			quantity, eventID, avail, model.ErrInsufficientInventory)
	}

	var idx []int
	for i, l := range b.lots {
		if l.EventID == eventID && b.policy.eligible(l) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(x, y int) bool {
		return b.lots[idx[x]].PurchasePrice.LessThan(b.lots[idx[y]].PurchasePrice)
	})

	remaining := quantity
	var used []Consumption
	for _, i := range idx {
		if remaining == 0 {
			break
		}
		take := min(remaining, b.lots[i].Quantity)
		b.lots[i].Quantity -= take
		remaining -= take
		used = append(used, Consumption{
			LotID:         b.lots[i].ID,
			PurchasePrice: b.lots[i].PurchasePrice,
			Quantity:      take,
		})
	}

	kept := b.lots[:0]
	for _, l := range b.lots {
		if l.Quantity > 0 {
			kept = append(kept, l)
		}
	}
	b.lots = kept
	return used, nil
}

// SetStatus changes the status of one lot.
func (b *Book) SetStatus(lotID string, status model.LotStatus) (model.Lot, error) {
	for i := range b.lots {
		if b.lots[i].ID == lotID {
			b.lots[i].Status = status
			return b.lots[i], nil
		}
	}
	return model.Lot{}, fmt.Errorf("lot %s: %w", lotID, model.ErrUnknownLot)
}

// AverageCost is Σ(quantity×price)/Σquantity over the event's lots, or zero
// when there are none.
func (b *Book) AverageCost(eventID string) decimal.Decimal {
	return averageCost(b.EventLots(eventID))
}

// UnrealizedPnL is Σ quantity × (currentPrice − purchasePrice) over the
// event's lots.
func (b *Book) UnrealizedPnL(eventID string, currentPrice decimal.Decimal) decimal.Decimal {
	pnl := decimal.Zero
	for _, l := range b.EventLots(eventID) {
		pnl = pnl.Add(currentPrice.Sub(l.PurchasePrice).Mul(decimal.NewFromInt(l.Quantity)))
	}
	return pnl
}

func averageCost(lots []model.Lot) decimal.Decimal {
	var qty int64
	cost := decimal.Zero
	for _, l := range lots {
		qty += l.Quantity
		cost = cost.Add(l.Cost())
	}
	if qty == 0 {
		return decimal.Zero
	}
	return cost.Div(decimal.NewFromInt(qty))
}

// RealizedPnL is the cash-flow sum of a trade history: sell proceeds minus
// buy costs. It does not match sales against the lots they consumed.
func RealizedPnL(trades []model.Trade) decimal.Decimal {
	pnl := decimal.Zero
	for _, t := range trades {
		switch t.Type {
		case model.SideSell:
			pnl = pnl.Add(t.Notional())
		case model.SideBuy:
			pnl = pnl.Sub(t.Notional())
		}
	}
	return pnl
}
