package provider

import (
	"github.com/shopspring/decimal"
)

// FeeSchedule prices a transfer as Fixed + Percent of the amount, clamped to [Min, Max].
// A zero Max means no upper bound. All amounts are source-currency minor units.
type FeeSchedule struct {
	Fixed   int64
	Percent decimal.Decimal
	Min     int64
	Max     int64
}

// Compute returns the fee for amount.
func (f FeeSchedule) Compute(amount int64) int64 {
	variable := decimal.NewFromInt(amount).Mul(f.Percent).Div(decimal.NewFromInt(100)).Round(0).IntPart()
	fee := f.Fixed + variable
	if fee < f.Min {
		fee = f.Min
	}
	if f.Max > 0 && fee > f.Max {
		fee = f.Max
	}
	return fee
}
