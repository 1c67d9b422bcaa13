package provider

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Currency returns the ISO 4217 definition for code, or an error if it is unknown.
func Currency(code string) (*money.Currency, error) {
	c := money.GetCurrency(strings.ToUpper(code))
	if c == nil {
		return nil, fmt.Errorf("unknown currency %q", code)
	}
	return c, nil
}

// ValidCurrency reports whether code is a known ISO 4217 currency.
func ValidCurrency(code string) bool {
	_, err := Currency(code)
	return err == nil
}

// ToMajor converts minor units to a decimal amount in major units (100 INR paise -> 1.00).
func ToMajor(amount int64, code string) (decimal.Decimal, error) {
	c, err := Currency(code)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(amount, -int32(c.Fraction)), nil
}

// ToMinor converts a major-unit decimal to minor units, rounding half away from zero.
func ToMinor(amount decimal.Decimal, code string) (int64, error) {
	c, err := Currency(code)
	if err != nil {
		return 0, err
	}
	return amount.Shift(int32(c.Fraction)).Round(0).IntPart(), nil
}

// Convert applies rate to a source amount in minor units and returns the
// destination amount in the destination currency's minor units.
func Convert(amount int64, source, destination string, rate decimal.Decimal) (int64, error) {
	major, err := ToMajor(amount, source)
	if err != nil {
		return 0, err
	}
	return ToMinor(major.Mul(rate), destination)
}

// Display formats minor units for humans, e.g. "₹1,000.00".
func Display(amount int64, code string) string {
	if !ValidCurrency(code) {
		return fmt.Sprintf("%d %s", amount, code)
	}
	return money.New(amount, strings.ToUpper(code)).Display()
}
