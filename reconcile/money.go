package reconcile

import "github.com/shopspring/decimal"

// MoneyEpsilon is the single tolerance for every monetary comparison in the
// engine. Cross-system totals are rounded independently, so exact equality
// is never required.
var MoneyEpsilon = decimal.NewFromFloat(0.01)

// WithinEpsilon reports whether two monetary amounts agree to within
// MoneyEpsilon.
func WithinEpsilon(a decimal.Decimal, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(MoneyEpsilon)
}
