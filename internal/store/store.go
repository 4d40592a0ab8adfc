package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"sellerledger/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = domain.ErrInvalidState
	ErrInsufficientBalance = domain.ErrInsufficientBalance
	ErrBusinessRule        = errors.New("business rule violated")
	ErrValidation          = errors.New("validation failed")
	// ErrConflict means a concurrent change invalidated the request; the
	// whole unit was rolled back and may be retried from scratch.
	ErrConflict = errors.New("concurrent modification")
)

// CommissionMutation computes the next state of a locked commission and the
// balance change that must be committed with it.
type CommissionMutation func(current domain.Commission) (domain.Commission, domain.BalanceChange, error)

type Repository interface {
	UpsertSeller(ctx context.Context, seller domain.SellerFinance) (*domain.SellerFinance, error)
	GetSellerFinance(ctx context.Context, sellerID string) (*domain.SellerFinance, error)

	GetSettings(ctx context.Context, sellerID string) (*domain.SellerCommissionSettings, error)
	UpsertSettings(ctx context.Context, settings domain.SellerCommissionSettings) (*domain.SellerCommissionSettings, error)

	CreateTier(ctx context.Context, tier domain.CommissionTier) (*domain.CommissionTier, error)
	UpdateTier(ctx context.Context, tier domain.CommissionTier) (*domain.CommissionTier, error)
	SoftDeleteTier(ctx context.Context, id string, at time.Time) (*domain.CommissionTier, error)
	GetTier(ctx context.Context, id string) (*domain.CommissionTier, error)
	ListTiers(ctx context.Context, includeInactive bool) ([]domain.CommissionTier, error)

	FindCommissionByOrderItem(ctx context.Context, orderItemID string) (*domain.Commission, error)
	GetCommission(ctx context.Context, id string) (*domain.Commission, error)
	GetCommissions(ctx context.Context, ids []string) ([]domain.Commission, error)
	ListCommissions(ctx context.Context, filter domain.CommissionFilter) ([]domain.Commission, error)
	// RecordCommission inserts a pending commission and credits the seller's
	// pending balance. When a commission already exists for the order item the
	// stored record is returned with created=false and nothing is written.
	RecordCommission(ctx context.Context, commission domain.Commission) (stored *domain.Commission, created bool, err error)
	TransitionCommission(ctx context.Context, id string, mutate CommissionMutation) (*domain.Commission, error)

	// CreatePayout locks the drafted commissions, re-checks that they are
	// still approved and owned by the seller, assigns the next payout number,
	// marks every commission paid and debits the available balance, all in
	// one unit. Any drift aborts with ErrConflict.
	CreatePayout(ctx context.Context, draft domain.PayoutDraft) (*domain.Payout, error)
	GetPayout(ctx context.Context, id string) (*domain.Payout, error)
	ListPayouts(ctx context.Context, filter domain.PayoutFilter) ([]domain.Payout, error)
	// TransitionPayout applies a state machine step. A failing payout reverts
	// every referenced commission to approved in the same unit.
	TransitionPayout(ctx context.Context, id string, transition domain.PayoutTransition) (payout *domain.Payout, changed bool, err error)
}

// OrderSource is the read side of the order subsystem.
type OrderSource interface {
	GetOrderLine(ctx context.Context, orderID string, orderItemID string) (*domain.OrderLine, error)
	SellerCompletedSales(ctx context.Context, sellerID string) (decimal.Decimal, error)
}
