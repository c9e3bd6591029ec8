package paypal

import (
	"github.com/shopspring/decimal"
)

// toCents converts a PayPal decimal string ("123.45") to minor units.
func toCents(value string) (int64, error) {
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return 0, err
	}
	return amount.Shift(2).Round(0).IntPart(), nil
}

// fromCents formats minor units as a PayPal decimal string.
func fromCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
