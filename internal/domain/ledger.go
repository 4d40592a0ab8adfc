package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RateSelection records where a commission's rates came from.
type RateSelection struct {
	CommissionRate  decimal.Decimal
	PlatformFeeRate decimal.Decimal
	TierID          string
	Source          string
}

const (
	RateSourceCustom  = "custom"
	RateSourceTier    = "tier"
	RateSourceDefault = "default"
)

func NewCommission(id string, line OrderLine, rates RateSelection, at time.Time) Commission {
	amounts := ComputeCommission(line.LineTotal, rates.CommissionRate, rates.PlatformFeeRate)
	return Commission{
		ID:               id,
		SellerID:         line.SellerID,
		OrderID:          line.OrderID,
		OrderItemID:      line.OrderItemID,
		ProductID:        line.ProductID,
		TierID:           rates.TierID,
		OrderAmount:      line.LineTotal,
		CommissionRate:   rates.CommissionRate,
		PlatformFeeRate:  rates.PlatformFeeRate,
		CommissionAmount: amounts.CommissionAmount,
		PlatformFee:      amounts.PlatformFee,
		NetAmount:        amounts.NetAmount,
		Status:           CommissionStatusPending,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
}

// BalanceChange is a delta over the running fields of a SellerFinance.
type BalanceChange struct {
	Pending   decimal.Decimal
	Available decimal.Decimal
	Earnings  decimal.Decimal
	PaidOut   decimal.Decimal
}

func (b BalanceChange) Add(other BalanceChange) BalanceChange {
	return BalanceChange{
		Pending:   b.Pending.Add(other.Pending),
		Available: b.Available.Add(other.Available),
		Earnings:  b.Earnings.Add(other.Earnings),
		PaidOut:   b.PaidOut.Add(other.PaidOut),
	}
}

func (b BalanceChange) IsZero() bool {
	return b.Pending.IsZero() && b.Available.IsZero() && b.Earnings.IsZero() && b.PaidOut.IsZero()
}

// Apply mutates the finance record. availableBalance never goes negative.
func (b BalanceChange) Apply(f *SellerFinance, at time.Time) error {
	available := f.AvailableBalance.Add(b.Available)
	if available.IsNegative() {
		return fmt.Errorf("%w: available %s, change %s", ErrInsufficientBalance, f.AvailableBalance.StringFixed(MoneyScale), b.Available.StringFixed(MoneyScale))
	}
	f.PendingBalance = f.PendingBalance.Add(b.Pending)
	f.AvailableBalance = available
	f.TotalEarnings = f.TotalEarnings.Add(b.Earnings)
	f.TotalPaidOut = f.TotalPaidOut.Add(b.PaidOut)
	f.UpdatedAt = at
	return nil
}

func RecordPending(amount decimal.Decimal) BalanceChange {
	return BalanceChange{Pending: amount}
}

// AddEarnings moves an approved amount from pending into available.
func AddEarnings(amount decimal.Decimal) BalanceChange {
	return BalanceChange{Pending: amount.Neg(), Available: amount, Earnings: amount}
}

func DeductFromAvailable(amount decimal.Decimal) BalanceChange {
	return BalanceChange{Available: amount.Neg()}
}

func CreditAvailable(amount decimal.Decimal) BalanceChange {
	return BalanceChange{Available: amount}
}

func RecordPaidOut(amount decimal.Decimal) BalanceChange {
	return BalanceChange{PaidOut: amount}
}

func illegalCommissionTransition(c Commission, to string) error {
	return fmt.Errorf("%w: commission %s cannot move from %s to %s", ErrInvalidState, c.ID, c.Status, to)
}

func ApproveCommission(c Commission, at time.Time) (Commission, BalanceChange, error) {
	if c.Status != CommissionStatusPending {
		return c, BalanceChange{}, illegalCommissionTransition(c, CommissionStatusApproved)
	}
	c.Status = CommissionStatusApproved
	c.ApprovedAt = &at
	c.UpdatedAt = at
	return c, AddEarnings(c.NetAmount), nil
}

func CancelCommission(c Commission, reason string, at time.Time) (Commission, BalanceChange, error) {
	var change BalanceChange
	switch c.Status {
	case CommissionStatusPending:
		change = BalanceChange{Pending: c.NetAmount.Neg()}
	case CommissionStatusApproved:
		change = DeductFromAvailable(c.NetAmount).Add(BalanceChange{Earnings: c.NetAmount.Neg()})
	default:
		return c, BalanceChange{}, illegalCommissionTransition(c, CommissionStatusCancelled)
	}
	c.Status = CommissionStatusCancelled
	c.CancelReason = reason
	c.CancelledAt = &at
	c.UpdatedAt = at
	return c, change, nil
}

func MarkPaid(c Commission, payoutReference string, at time.Time) (Commission, BalanceChange, error) {
	if c.Status != CommissionStatusApproved {
		return c, BalanceChange{}, illegalCommissionTransition(c, CommissionStatusPaid)
	}
	c.Status = CommissionStatusPaid
	c.PayoutReference = payoutReference
	c.PaidAt = &at
	c.UpdatedAt = at
	return c, DeductFromAvailable(c.NetAmount), nil
}

// RevertToApproved is the compensation step of a failed payout.
func RevertToApproved(c Commission, at time.Time) (Commission, BalanceChange, error) {
	if c.Status != CommissionStatusPaid {
		return c, BalanceChange{}, illegalCommissionTransition(c, CommissionStatusApproved)
	}
	c.Status = CommissionStatusApproved
	c.PayoutReference = ""
	c.PaidAt = nil
	c.UpdatedAt = at
	return c, CreditAvailable(c.NetAmount), nil
}

// ApplyPayoutTransition advances the payout state machine:
//
//	pending --process--> processing --complete--> completed
//	                               \--fail------> failed
//
// Replaying complete on a completed payout, fail on a failed payout, or
// process with the same reference on a processing payout is a no-op.
func ApplyPayoutTransition(p *Payout, t PayoutTransition) (bool, error) {
	switch t.Action {
	case PayoutActionProcess:
		if p.Status == PayoutStatusProcessing && p.TransactionReference == t.TransactionReference {
			return false, nil
		}
		if p.Status != PayoutStatusPending {
			break
		}
		p.Status = PayoutStatusProcessing
		p.TransactionReference = t.TransactionReference
		p.ProcessedAt = &t.At
		return true, nil
	case PayoutActionComplete:
		if p.Status == PayoutStatusCompleted {
			return false, nil
		}
		if p.Status != PayoutStatusProcessing {
			break
		}
		p.Status = PayoutStatusCompleted
		p.CompletedAt = &t.At
		return true, nil
	case PayoutActionFail:
		if p.Status == PayoutStatusFailed {
			return false, nil
		}
		if p.Status != PayoutStatusProcessing {
			break
		}
		p.Status = PayoutStatusFailed
		p.FailureReason = t.Reason
		p.FailedAt = &t.At
		return true, nil
	default:
		return false, fmt.Errorf("%w: unknown payout action %q", ErrInvalidState, t.Action)
	}
	return false, fmt.Errorf("%w: payout %s cannot %s from %s", ErrInvalidState, p.ID, t.Action, p.Status)
}

func IsOpenPayout(status string) bool {
	return status == PayoutStatusPending || status == PayoutStatusProcessing
}

// FormatPayoutNumber renders the sequential human readable payout number.
func FormatPayoutNumber(seq int64) string {
	return fmt.Sprintf("PAY-%06d", seq)
}

// ParsePayoutNumber returns the sequence of a PAY-NNNNNN number, or 0.
func ParsePayoutNumber(number string) int64 {
	var seq int64
	if _, err := fmt.Sscanf(number, "PAY-%d", &seq); err != nil {
		return 0
	}
	return seq
}
