package billing

import (
	"github.com/warp/installment-engine/generic"
)

// =============================================================================
// PAYMENT STATE MACHINE
// =============================================================================

// EvaluateStatus derives a payment status from its dates. Rules, in order:
//
//  1. unpaid and due < today  -> OVERDUE
//  2. paid on or before due   -> PAID
//  3. paid after due          -> PAID_LATE
//  4. unpaid and due >= today -> OPEN
//
// Pure and total: the same inputs always give the same status.
func EvaluateStatus(due generic.TimePoint, paid *generic.TimePoint, today generic.TimePoint) Status {
	isPaid := paid != nil && !paid.IsZero()
	switch {
	case !isPaid && due.Before(today):
		return StatusOverdue
	case isPaid && paid.BeforeOrEqual(due):
		return StatusPaid
	case isPaid:
		return StatusPaidLate
	default:
		return StatusOpen
	}
}

// Evaluate runs the state machine on p.
func (p Payment) Evaluate(today generic.TimePoint) Status {
	return EvaluateStatus(p.DueDate, p.PaymentDate, today)
}

// PaidLate is rule 3 of the state machine.
func PaidLate(p Payment) bool {
	return p.IsPaid() && p.PaymentDate.After(p.DueDate)
}

// PaidEarly is true when a payment was settled strictly before its due date.
// Narrower than PAID, which also covers payment on the due date itself.
func PaidEarly(p Payment) bool {
	return p.Status.IsPaid() && p.IsPaid() && p.PaymentDate.Before(p.DueDate)
}

// =============================================================================
// STATE TRANSITIONS
// =============================================================================

// RecordPayment sets the payment date and re-derives the status.
// Amounts are left as they are: a payment settled while overdue keeps the
// penalty and interest accrued so far.
func RecordPayment(p Payment, paymentDate, today generic.TimePoint) Payment {
	p.PaymentDate = paymentDate.Ptr()
	p.Status = p.Evaluate(today)
	return p
}

// ClearPayment removes a recorded payment date (undoing a mistaken entry).
func ClearPayment(p Payment, today generic.TimePoint) Payment {
	p.PaymentDate = nil
	p.Status = p.Evaluate(today)
	return p
}

// Reschedule reassigns the due date unconditionally and re-derives the status.
func Reschedule(p Payment, due, today generic.TimePoint) Payment {
	p.DueDate = due
	p.Status = p.Evaluate(today)
	return p
}
