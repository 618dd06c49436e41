package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/warp/installment-engine/billing"
)

// Sheet names of the exported workbook.
const (
	SummarySheet  = "Summary"
	PaymentsSheet = "Payments"
)

// XLSXContentType is the MIME type of WriteXLSX output.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var paymentHeaders = []string{
	"Contract", "Installment", "Due date", "Payment date", "Status",
	"Original amount", "Penalty", "Amount", "Note",
}

// WriteXLSX renders r as a two-sheet workbook: the summary figures and the
// payments the report was built from.
func WriteXLSX(w io.Writer, r Report, payments []billing.Payment) error {
	f := excelize.NewFile()
	defer f.Close()

	// The default "Sheet1" becomes the summary.
	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return fmt.Errorf("xlsx: rename sheet: %w", err)
	}
	if err := writeSummary(f, r); err != nil {
		return err
	}

	if _, err := f.NewSheet(PaymentsSheet); err != nil {
		return fmt.Errorf("xlsx: new sheet: %w", err)
	}
	if err := writePayments(f, payments); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx: write: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, r Report) error {
	collected, _ := r.AmountCollected.Float64()
	outstanding, _ := r.AmountOutstanding.Float64()

	rows := [][]any{
		{"Client", r.ClientLabel},
		{"Period start", r.Period.Start.String()},
		{"Period end", r.Period.End.String()},
		{"Total payments", r.Total},
		{"Paid", r.Paid},
		{"Overdue", r.Overdue},
		{"Open", r.Open},
		{"Paid early", r.PaidEarly},
		{"Delinquency %", r.DelinquencyPct},
		{"Early payment %", r.EarlyPaymentPct},
		{"Amount collected", collected},
		{"Amount outstanding", outstanding},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return fmt.Errorf("xlsx: summary row %d: %w", i+1, err)
		}
	}
	return nil
}

func writePayments(f *excelize.File, payments []billing.Payment) error {
	for i, header := range paymentHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(PaymentsSheet, cell, header); err != nil {
			return fmt.Errorf("xlsx: header: %w", err)
		}
	}

	for i, p := range payments {
		original, _ := p.OriginalAmount.Float64()
		penalty, _ := p.PenaltyAmount.Float64()
		amount, _ := p.Amount.Float64()
		paid := ""
		if p.PaymentDate != nil {
			paid = p.PaymentDate.String()
		}

		row := []any{
			string(p.ContractID), p.Number, p.DueDate.String(), paid, string(p.Status),
			original, penalty, amount, p.Note,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(PaymentsSheet, cell, &row); err != nil {
			return fmt.Errorf("xlsx: payment row %d: %w", i+2, err)
		}
	}
	return nil
}
