package core

import "github.com/shopspring/decimal"

// paidTolerance absorbs sub-cent residue: an invoice with at most one cent
// outstanding counts as paid.
var paidTolerance = decimal.NewFromFloat(0.01)

// RoundMoney normalizes an amount to two decimal places. Every amount is
// passed through this before it is persisted or compared, so cent-level
// drift cannot accumulate across operations.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// clampNonNegative floors a rounded amount at zero.
func clampNonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
