package billing

import (
	"github.com/shopspring/decimal"

	"github.com/warp/installment-engine/generic"
)

// =============================================================================
// ACCRUAL CALCULATOR - One-time penalty + simple daily interest
// =============================================================================

// InterestDaysPerMonth normalizes the monthly interest rate to a daily one.
const InterestDaysPerMonth = 30

var interestDays = decimal.NewFromInt(InterestDaysPerMonth)

// Accrue recomputes the amount owed on an overdue payment.
//
//	penalty  = original * penaltyRate        (frozen on first application)
//	interest = original * daysLate/30 * rate (recomputed from zero each run)
//	updated  = round_half_up(original + penalty + interest, 2)
//
// Because the total is rebuilt from OriginalAmount every time, running it
// twice on the same day is a no-op and running it on later days never
// double-counts. An applied penalty stays in the total after the client's
// penalty rate is cleared. Payments that are not OVERDUE, and clients with no rates,
// are returned unchanged.
func Accrue(p Payment, rates Rates, today generic.TimePoint) Payment {
	if p.Status != StatusOverdue || rates.IsZero() {
		return p
	}

	original := p.OriginalAmount
	total := original

	switch {
	case p.PenaltyApplied:
		total = total.Add(p.PenaltyAmount)
	case rates.Penalty != nil:
		p.PenaltyAmount = original.Mul(*rates.Penalty)
		p.PenaltyApplied = true
		total = total.Add(p.PenaltyAmount)
	}

	total = total.Add(Interest(original, rates.MonthlyInterest, DaysLate(p.DueDate, today)))

	// UpdatedAmount never shrinks, even if the client's rates were lowered.
	if updated := generic.RoundCents(total); updated.GreaterThan(p.UpdatedAmount) {
		p.UpdatedAmount = updated
	}
	p.Amount = p.UpdatedAmount
	p.LastAccrualDate = today.Ptr()
	return p
}

// DaysLate is max(0, today - due) in whole days.
func DaysLate(due, today generic.TimePoint) int {
	days := generic.DaysBetween(due, today)
	if days < 0 {
		return 0
	}
	return days
}

// Interest is original * days/30 * monthlyRate, unrounded. Zero when the
// rate is absent or days <= 0.
func Interest(original decimal.Decimal, monthlyRate *decimal.Decimal, days int) decimal.Decimal {
	if monthlyRate == nil || days <= 0 {
		return decimal.Zero
	}
	return original.Mul(decimal.NewFromInt(int64(days))).Mul(*monthlyRate).Div(interestDays)
}
