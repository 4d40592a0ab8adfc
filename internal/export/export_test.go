package export

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"sellerledger/backend/internal/domain"
)

func TestMonthlyBreakdownXLSX(t *testing.T) {
	report := domain.MonthlyBreakdown{SellerID: "s1", Year: 2025, Months: make([]domain.MonthlyRow, 12)}
	for i := range report.Months {
		report.Months[i].Month = i + 1
	}
	report.Months[5] = domain.MonthlyRow{
		Month:            6,
		Commissions:      2,
		OrderAmount:      decimal.RequireFromString("350.50"),
		CommissionAmount: decimal.RequireFromString("35.05"),
		PlatformFee:      decimal.RequireFromString("7.01"),
		NetAmount:        decimal.RequireFromString("28.04"),
		PaidOut:          decimal.RequireFromString("8"),
	}

	data, err := MonthlyBreakdownXLSX(report)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(monthlySheet)
	require.NoError(t, err)
	require.Len(t, rows, 16)

	assert.Equal(t, "Seller s1, 2025", rows[0][0])
	assert.Equal(t, "Month", rows[2][0])
	assert.Equal(t, "June", rows[8][0])
	assert.Equal(t, "2", rows[8][1])
	assert.Equal(t, "28.04", rows[8][5])
	assert.Equal(t, "Total", rows[15][0])
	assert.Equal(t, "8", rows[15][6])
}
