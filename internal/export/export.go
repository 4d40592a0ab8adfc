// Package export renders ledger reports as spreadsheets.
package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"sellerledger/backend/internal/domain"
)

const monthlySheet = "Monthly"

var monthlyHeader = []any{"Month", "Commissions", "Order amount", "Commission", "Platform fee", "Net amount", "Paid out"}

// MonthlyBreakdownXLSX writes one row per month plus a totals row.
func MonthlyBreakdownXLSX(report domain.MonthlyBreakdown) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", monthlySheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetCellValue(monthlySheet, "A1", fmt.Sprintf("Seller %s, %d", report.SellerID, report.Year)); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(monthlySheet, "A3", &monthlyHeader); err != nil {
		return nil, err
	}

	var total domain.MonthlyRow
	row := 4
	for _, m := range report.Months {
		values := monthlyValues(time.Month(m.Month).String(), m)
		if err := f.SetSheetRow(monthlySheet, fmt.Sprintf("A%d", row), &values); err != nil {
			return nil, err
		}
		total.Commissions += m.Commissions
		total.OrderAmount = total.OrderAmount.Add(m.OrderAmount)
		total.CommissionAmount = total.CommissionAmount.Add(m.CommissionAmount)
		total.PlatformFee = total.PlatformFee.Add(m.PlatformFee)
		total.NetAmount = total.NetAmount.Add(m.NetAmount)
		total.PaidOut = total.PaidOut.Add(m.PaidOut)
		row++
	}
	totals := monthlyValues("Total", total)
	if err := f.SetSheetRow(monthlySheet, fmt.Sprintf("A%d", row), &totals); err != nil {
		return nil, err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(monthlySheet, "A3", "G3", bold); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(monthlySheet, fmt.Sprintf("A%d", row), fmt.Sprintf("G%d", row), bold); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(monthlySheet, "A", "G", 16); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func monthlyValues(label string, m domain.MonthlyRow) []any {
	return []any{
		label,
		m.Commissions,
		money(m.OrderAmount),
		money(m.CommissionAmount),
		money(m.PlatformFee),
		money(m.NetAmount),
		money(m.PaidOut),
	}
}

func money(d decimal.Decimal) float64 {
	f, _ := d.Round(domain.MoneyScale).Float64()
	return f
}
