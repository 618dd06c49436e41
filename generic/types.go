/*
Package generic provides the calendar, money and error primitives shared by
the billing engine.

PURPOSE:
  Everything here is domain-neutral: calendar days with clamped month
  arithmetic, inclusive periods, decimal money helpers and the error
  vocabulary. billing, arrears and report build on top of it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal, never float64, for every stored amount
  - Rate: a fraction (0.02 = 2%), nullable at the client level
  - Cent rounding: half-up at two decimal places

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point drift
  2. Explicit rounding: amounts are rounded once, at the end of a computation
  3. Pure helpers: no I/O, no clock reads

SEE ALSO:
  - time.go: TimePoint and month arithmetic
  - period.go: Period
  - errors.go: Sentinel errors
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// CentPlaces is the number of decimal places kept for stored amounts.
const CentPlaces = 2

var hundred = decimal.NewFromInt(100)

// RoundCents rounds half-up (away from zero) at the cent boundary.
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(CentPlaces)
}

// =============================================================================
// RATES AND RATIOS
// =============================================================================

// ValidRate reports whether r is a usable fraction in [0, 1]. nil is valid
// (rate not configured).
func ValidRate(r *decimal.Decimal) bool {
	if r == nil {
		return true
	}
	return !r.IsNegative() && r.LessThanOrEqual(decimal.NewFromInt(1))
}

// Percent returns part/total*100, or 0 when total is 0.
func Percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	pct, _ := decimal.NewFromInt(int64(part)).Mul(hundred).
		Div(decimal.NewFromInt(int64(total))).Float64()
	return pct
}

// DecimalPtr returns a pointer to d, for optional rate fields.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }
