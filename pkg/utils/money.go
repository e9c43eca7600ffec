package utils

import (
	"github.com/shopspring/decimal"
)

// RoundMoney rounds an amount half-up to 2 decimal places (paise).
// Every amount that enters or leaves the funds ledger goes through this,
// so proportional margin releases on partial closes cannot accumulate
// rounding drift against reconciliation.
func RoundMoney(amount float64) float64 {
	f, _ := decimal.NewFromFloat(amount).Round(2).Float64()
	return f
}

// ProportionalShare returns round(total * part/whole) in money terms.
// whole must be positive; a zero whole returns 0.
func ProportionalShare(total float64, part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	t := decimal.NewFromFloat(total)
	share := t.Mul(decimal.NewFromInt(int64(part))).Div(decimal.NewFromInt(int64(whole)))
	f, _ := share.Round(2).Float64()
	return f
}

// WeightedAverage returns the quantity-weighted blend of two prices,
// rounded to 4 decimal places (exchange average-price precision).
func WeightedAverage(price1 float64, qty1 int, price2 float64, qty2 int) float64 {
	total := qty1 + qty2
	if total == 0 {
		return 0
	}
	p1 := decimal.NewFromFloat(price1).Mul(decimal.NewFromInt(int64(qty1)))
	p2 := decimal.NewFromFloat(price2).Mul(decimal.NewFromInt(int64(qty2)))
	avg := p1.Add(p2).Div(decimal.NewFromInt(int64(total)))
	f, _ := avg.Round(4).Float64()
	return f
}
