package billing

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/installment-engine/generic"
)

// =============================================================================
// SCHEDULE GENERATOR
// =============================================================================

// GenerateSchedule expands a contract into DurationMonths payments.
//
// Installment i (1..N) is due firstDue + (i-1) months, always counted from
// firstDue so a day-31 schedule clamps per month without drifting. Every
// installment carries Value/N rounded to cents. The rounding remainder is
// not redistributed, so the installments may sum to a few cents more or
// less than Value.
//
// Statuses are evaluated against today, so a contract whose first due date
// has already passed is created with OVERDUE payments.
func GenerateSchedule(c Contract, firstDue, today generic.TimePoint) ([]Payment, error) {
	if err := validateScheduleInput(c, firstDue); err != nil {
		return nil, err
	}

	installment := generic.RoundCents(c.Value.Div(decimal.NewFromInt(int64(c.DurationMonths))))

	payments := make([]Payment, 0, c.DurationMonths)
	for i := 1; i <= c.DurationMonths; i++ {
		due := firstDue.AddMonths(i - 1)
		p := Payment{
			ID:             PaymentID(uuid.NewString()),
			ContractID:     c.ID,
			Number:         i,
			DueDate:        due,
			Amount:         installment,
			OriginalAmount: installment,
			UpdatedAmount:  installment,
			PenaltyAmount:  decimal.Zero,
		}
		p.Status = EvaluateStatus(p.DueDate, p.PaymentDate, today)
		payments = append(payments, p)
	}
	return payments, nil
}

func validateScheduleInput(c Contract, firstDue generic.TimePoint) error {
	if c.DurationMonths < 1 {
		return &generic.ContractParametersError{
			Reason: fmt.Sprintf("duration must be at least 1 month, got %d", c.DurationMonths),
		}
	}
	if !c.Value.IsPositive() {
		return &generic.ContractParametersError{
			Reason: fmt.Sprintf("value must be positive, got %s", c.Value),
		}
	}
	if firstDue.IsZero() {
		return &generic.ContractParametersError{Reason: "first due date is required"}
	}
	return nil
}

// ScheduleTotal sums the nominal amounts of a schedule.
func ScheduleTotal(payments []Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.OriginalAmount)
	}
	return total
}
