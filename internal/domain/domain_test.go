package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestComputeCommission(t *testing.T) {
	cases := []struct {
		amount, rate, fee         string
		commission, platform, net string
	}{
		{"100", "10", "2", "10.00", "2.00", "8.00"},
		{"0", "10", "2", "0.00", "0.00", "0.00"},
		{"19.99", "7.5", "1.25", "1.50", "0.25", "1.25"},
		{"100", "2", "5", "2.00", "5.00", "-3.00"},
		{"1234.56", "100", "0", "1234.56", "0.00", "1234.56"},
	}
	for _, tc := range cases {
		got := ComputeCommission(dec(tc.amount), dec(tc.rate), dec(tc.fee))
		assert.Equal(t, tc.commission, got.CommissionAmount.StringFixed(2), "commission for %s@%s", tc.amount, tc.rate)
		assert.Equal(t, tc.platform, got.PlatformFee.StringFixed(2), "fee for %s@%s", tc.amount, tc.fee)
		assert.Equal(t, tc.net, got.NetAmount.StringFixed(2))
		assert.True(t, got.NetAmount.Equal(got.CommissionAmount.Sub(got.PlatformFee)))
	}
}

func TestComputePayoutFee(t *testing.T) {
	fee, net := ComputePayoutFee(dec("8"), dec("1"))
	assert.Equal(t, "0.08", fee.StringFixed(2))
	assert.Equal(t, "7.92", net.StringFixed(2))
}

func TestRoundingIsHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, "0.13", Percent(dec("2.5"), dec("5")).StringFixed(2))
	assert.Equal(t, "-0.13", Percent(dec("-2.5"), dec("5")).StringFixed(2))
}

func TestValidRate(t *testing.T) {
	assert.True(t, ValidRate(dec("0")))
	assert.True(t, ValidRate(dec("100")))
	assert.False(t, ValidRate(dec("-0.01")))
	assert.False(t, ValidRate(dec("100.01")))
	assert.True(t, ValidRate(dec("10.55")))
	assert.False(t, ValidRate(dec("10.555")))
}

func TestValidMoneyRejectsSubCentAmounts(t *testing.T) {
	assert.True(t, ValidMoney(dec("999.99")))
	assert.True(t, ValidMoney(dec("1000")))
	assert.False(t, ValidMoney(dec("999.999")))
}

func sampleCommission() Commission {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	line := OrderLine{OrderID: "o1", OrderItemID: "i1", ProductID: "p1", SellerID: "s1", LineTotal: dec("100")}
	return NewCommission("c1", line, RateSelection{CommissionRate: dec("10"), PlatformFeeRate: dec("2"), TierID: "t1", Source: RateSourceTier}, at)
}

func assertChange(t *testing.T, want BalanceChange, got BalanceChange) {
	t.Helper()
	assert.True(t, want.Pending.Equal(got.Pending), "pending: want %s got %s", want.Pending, got.Pending)
	assert.True(t, want.Available.Equal(got.Available), "available: want %s got %s", want.Available, got.Available)
	assert.True(t, want.Earnings.Equal(got.Earnings), "earnings: want %s got %s", want.Earnings, got.Earnings)
	assert.True(t, want.PaidOut.Equal(got.PaidOut), "paid out: want %s got %s", want.PaidOut, got.PaidOut)
}

func TestCommissionTransitions(t *testing.T) {
	at := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	c := sampleCommission()
	require.Equal(t, CommissionStatusPending, c.Status)
	assert.Equal(t, "t1", c.TierID)

	approved, change, err := ApproveCommission(c, at)
	require.NoError(t, err)
	assert.Equal(t, CommissionStatusApproved, approved.Status)
	assertChange(t, AddEarnings(dec("8")), change)

	_, _, err = ApproveCommission(approved, at)
	assert.ErrorIs(t, err, ErrInvalidState)

	paid, change, err := MarkPaid(approved, "pay-1", at)
	require.NoError(t, err)
	assert.Equal(t, "pay-1", paid.PayoutReference)
	assertChange(t, DeductFromAvailable(dec("8")), change)

	_, _, err = CancelCommission(paid, "late", at)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, _, err = MarkPaid(paid, "pay-2", at)
	assert.ErrorIs(t, err, ErrInvalidState)

	back, change, err := RevertToApproved(paid, at)
	require.NoError(t, err)
	assert.Equal(t, CommissionStatusApproved, back.Status)
	assert.Empty(t, back.PayoutReference)
	assert.Nil(t, back.PaidAt)
	assertChange(t, CreditAvailable(dec("8")), change)

	_, _, err = RevertToApproved(back, at)
	assert.ErrorIs(t, err, ErrInvalidState)

	cancelled, change, err := CancelCommission(back, "chargeback", at)
	require.NoError(t, err)
	assert.Equal(t, CommissionStatusCancelled, cancelled.Status)
	assert.True(t, change.Available.Equal(dec("-8")))
	assert.True(t, change.Earnings.Equal(dec("-8")))

	_, _, err = ApproveCommission(cancelled, at)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, _, err = CancelCommission(cancelled, "again", at)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestBalanceChangeApplyGuardsAvailable(t *testing.T) {
	at := time.Now().UTC()
	f := SellerFinance{SellerID: "s1", AvailableBalance: dec("5")}

	err := DeductFromAvailable(dec("5.01")).Apply(&f, at)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	assert.Equal(t, "5.00", f.AvailableBalance.StringFixed(2))

	require.NoError(t, DeductFromAvailable(dec("5")).Apply(&f, at))
	assert.True(t, f.AvailableBalance.IsZero())

	require.NoError(t, RecordPending(dec("3")).Add(AddEarnings(dec("3"))).Apply(&f, at))
	assert.True(t, f.PendingBalance.IsZero())
	assert.Equal(t, "3.00", f.AvailableBalance.StringFixed(2))
	assert.Equal(t, "3.00", f.TotalEarnings.StringFixed(2))
	assert.True(t, BalanceChange{}.IsZero())
}

func TestPayoutStateMachine(t *testing.T) {
	at := time.Now().UTC()
	p := Payout{ID: "pay-1", Status: PayoutStatusPending}

	_, err := ApplyPayoutTransition(&p, PayoutTransition{Action: PayoutActionComplete, At: at})
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = ApplyPayoutTransition(&p, PayoutTransition{Action: PayoutActionFail, At: at})
	assert.ErrorIs(t, err, ErrInvalidState)

	changed, err := ApplyPayoutTransition(&p, PayoutTransition{Action: PayoutActionProcess, TransactionReference: "r1", At: at})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, PayoutStatusProcessing, p.Status)

	changed, err = ApplyPayoutTransition(&p, PayoutTransition{Action: PayoutActionProcess, TransactionReference: "r1", At: at})
	require.NoError(t, err)
	assert.False(t, changed)
	_, err = ApplyPayoutTransition(&p, PayoutTransition{Action: PayoutActionProcess, TransactionReference: "r2", At: at})
	assert.ErrorIs(t, err, ErrInvalidState)

	failed := p
	changed, err = ApplyPayoutTransition(&failed, PayoutTransition{Action: PayoutActionFail, Reason: "rail timeout", At: at})
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = ApplyPayoutTransition(&failed, PayoutTransition{Action: PayoutActionFail, Reason: "rail timeout", At: at})
	require.NoError(t, err)
	assert.False(t, changed)
	_, err = ApplyPayoutTransition(&failed, PayoutTransition{Action: PayoutActionComplete, At: at})
	assert.ErrorIs(t, err, ErrInvalidState)

	changed, err = ApplyPayoutTransition(&p, PayoutTransition{Action: PayoutActionComplete, At: at})
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = ApplyPayoutTransition(&p, PayoutTransition{Action: PayoutActionComplete, At: at})
	require.NoError(t, err)
	assert.False(t, changed)
	_, err = ApplyPayoutTransition(&p, PayoutTransition{Action: PayoutActionFail, At: at})
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = ApplyPayoutTransition(&p, PayoutTransition{Action: "refund", At: at})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestPayoutNumbers(t *testing.T) {
	assert.Equal(t, "PAY-000001", FormatPayoutNumber(1))
	assert.Equal(t, "PAY-123456", FormatPayoutNumber(123456))
	assert.Equal(t, int64(42), ParsePayoutNumber("PAY-000042"))
	assert.Equal(t, int64(0), ParsePayoutNumber("INV-1"))
}
