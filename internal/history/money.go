package history

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when none is configured.
const DefaultCurrency = "BRL"

// FormatAmount renders amount in the currency's display format, for
// example "R$1.234,50" or "$60.00". Unknown currency codes fall back to the
// plain decimal followed by the code.
func FormatAmount(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.StringFixed(2) + " " + currency
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	return money.New(minor.IntPart(), cur.Code).Display()
}

func (r *Recorder) format(amount decimal.Decimal) string {
	return FormatAmount(amount, r.currency)
}
