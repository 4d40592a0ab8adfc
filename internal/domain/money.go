package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidState        = errors.New("invalid state")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// MoneyScale is the number of fractional digits kept for settlement amounts.
const MoneyScale = 2

// RateScale is the number of fractional digits a stored percentage rate keeps.
const RateScale = 2

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

func RoundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(MoneyScale)
}

// Percent returns amount × rate / 100 rounded to MoneyScale.
func Percent(amount decimal.Decimal, rate decimal.Decimal) decimal.Decimal {
	return RoundMoney(amount.Mul(rate).Div(hundred))
}

// ValidRate reports whether rate is a percentage within [0,100] carrying at
// most RateScale fractional digits.
func ValidRate(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThanOrEqual(hundred) && WithinScale(rate, RateScale)
}

// WithinScale reports whether v can be stored with places fractional digits
// without rounding.
func WithinScale(v decimal.Decimal, places int32) bool {
	return v.Equal(v.Truncate(places))
}

// ValidMoney reports whether v fits the settlement scale exactly.
func ValidMoney(v decimal.Decimal) bool {
	return WithinScale(v, MoneyScale)
}

// CommissionAmounts holds the three derived amounts of a commission. Net may
// be negative when the fee rate exceeds the commission rate.
type CommissionAmounts struct {
	CommissionAmount decimal.Decimal
	PlatformFee      decimal.Decimal
	NetAmount        decimal.Decimal
}

func ComputeCommission(orderAmount decimal.Decimal, commissionRate decimal.Decimal, platformFeeRate decimal.Decimal) CommissionAmounts {
	commission := Percent(orderAmount, commissionRate)
	fee := Percent(orderAmount, platformFeeRate)
	return CommissionAmounts{
		CommissionAmount: commission,
		PlatformFee:      fee,
		NetAmount:        commission.Sub(fee),
	}
}

func ComputePayoutFee(total decimal.Decimal, feeRate decimal.Decimal) (fee decimal.Decimal, net decimal.Decimal) {
	fee = Percent(total, feeRate)
	return fee, total.Sub(fee)
}

func SumNet(commissions []Commission) decimal.Decimal {
	total := zero
	for _, c := range commissions {
		total = total.Add(c.NetAmount)
	}
	return total
}
