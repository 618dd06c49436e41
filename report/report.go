/*
Package report reduces a payment collection into a delinquency report.

PURPOSE:
  Build is pure: the same payments and period always give the same Report.
  Service loads the payments for a period (optionally one client) and may
  cache results in Redis. WriteXLSX renders a Report as a spreadsheet.

BUCKETS:
  paid      = PAID + PAID_LATE
  overdue   = OVERDUE
  open      = OPEN
  paidEarly = paid status with payment date strictly before due date

  paid + overdue + open = total always holds, since every payment has
  exactly one of the four statuses.

PERCENTAGES:
  delinquency = overdue / total * 100
  early       = paidEarly / total * 100
  Both are 0 for an empty collection. An empty report is a valid result.

SEE ALSO:
  - billing/status.go: Status vocabulary and PaidEarly
  - service.go: Repository-backed generation
  - xlsx.go: Spreadsheet export
*/
package report

import (
	"github.com/shopspring/decimal"

	"github.com/warp/installment-engine/billing"
	"github.com/warp/installment-engine/generic"
)

// AllClientsLabel is the label of reports that are not client-scoped.
const AllClientsLabel = "All clients"

// Report is a computed, never persisted, summary over a payment collection.
type Report struct {
	Period      generic.Period    `json:"period"`
	ClientID    *billing.ClientID `json:"client_id,omitempty"`
	ClientLabel string            `json:"client_label"`

	Total     int `json:"total"`
	Paid      int `json:"paid"`
	Overdue   int `json:"overdue"`
	Open      int `json:"open"`
	PaidEarly int `json:"paid_early"`

	DelinquencyPct  float64 `json:"delinquency_pct"`
	EarlyPaymentPct float64 `json:"early_payment_pct"`

	AmountCollected   decimal.Decimal `json:"amount_collected"`
	AmountOutstanding decimal.Decimal `json:"amount_outstanding"`
}

// Build aggregates payments, already filtered by the caller, into a Report.
// A period whose start is after its end fails with generic.ErrInvalidPeriod.
func Build(payments []billing.Payment, period generic.Period, clientID *billing.ClientID, clientLabel string) (Report, error) {
	if err := period.Validate(); err != nil {
		return Report{}, err
	}

	r := Report{
		Period:            period,
		ClientID:          clientID,
		ClientLabel:       clientLabel,
		Total:             len(payments),
		AmountCollected:   decimal.Zero,
		AmountOutstanding: decimal.Zero,
	}

	for _, p := range payments {
		switch p.Status {
		case billing.StatusPaid, billing.StatusPaidLate:
			r.Paid++
			r.AmountCollected = r.AmountCollected.Add(p.Amount)
			if billing.PaidEarly(p) {
				r.PaidEarly++
			}
		case billing.StatusOverdue:
			r.Overdue++
			r.AmountOutstanding = r.AmountOutstanding.Add(p.Amount)
		case billing.StatusOpen:
			r.Open++
			r.AmountOutstanding = r.AmountOutstanding.Add(p.Amount)
		}
	}

	r.DelinquencyPct = generic.Percent(r.Overdue, r.Total)
	r.EarlyPaymentPct = generic.Percent(r.PaidEarly, r.Total)
	return r, nil
}
