package domain

import "github.com/shopspring/decimal"

// WithinTolerance reports whether received differs from expected by at most
// percent of expected.
func WithinTolerance(received, expected int64, percent decimal.Decimal) bool {
	diff := received - expected
	if diff < 0 {
		diff = -diff
	}
	allowed := decimal.NewFromInt(expected).Mul(percent).Div(decimal.NewFromInt(100))
	return decimal.NewFromInt(diff).LessThanOrEqual(allowed)
}
