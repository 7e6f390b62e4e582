package admin

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

// FormatMoney renders an amount with the symbol and separators of its
// currency, e.g. "$1,234.56" for USD. Codes go-money does not know fall
// back to "<amount> <code>".
func FormatMoney(amount decimal.Decimal, cur core.Currency) string {
	c := money.GetCurrency(string(cur))
	if c == nil {
		return amount.StringFixed(2) + " " + string(cur)
	}
	minor := amount.Shift(int32(c.Fraction)).Round(0)
	return c.Formatter().Format(minor.IntPart())
}
