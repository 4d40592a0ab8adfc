package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CommissionTier struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	MinSales        decimal.Decimal `json:"min_sales"`
	MaxSales        decimal.Decimal `json:"max_sales"`
	CommissionRate  decimal.Decimal `json:"commission_rate"`
	PlatformFeeRate decimal.Decimal `json:"platform_fee_rate"`
	Priority        int             `json:"priority"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	DeletedAt       *time.Time      `json:"deleted_at,omitempty"`
}

type TierCreateRequest struct {
	Name            string          `json:"name" validate:"required,max=100"`
	Description     string          `json:"description" validate:"max=500"`
	MinSales        decimal.Decimal `json:"min_sales"`
	MaxSales        decimal.Decimal `json:"max_sales"`
	CommissionRate  decimal.Decimal `json:"commission_rate"`
	PlatformFeeRate decimal.Decimal `json:"platform_fee_rate"`
	Priority        int             `json:"priority" validate:"gte=0"`
	IsActive        *bool           `json:"is_active,omitempty"`
}

type TierUpdateRequest struct {
	Name            *string          `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Description     *string          `json:"description,omitempty" validate:"omitempty,max=500"`
	MinSales        *decimal.Decimal `json:"min_sales,omitempty"`
	MaxSales        *decimal.Decimal `json:"max_sales,omitempty"`
	CommissionRate  *decimal.Decimal `json:"commission_rate,omitempty"`
	PlatformFeeRate *decimal.Decimal `json:"platform_fee_rate,omitempty"`
	Priority        *int             `json:"priority,omitempty" validate:"omitempty,gte=0"`
	IsActive        *bool            `json:"is_active,omitempty"`
}

// Commission is one seller's share of a single order line.
type Commission struct {
	ID               string          `json:"id"`
	SellerID         string          `json:"seller_id"`
	OrderID          string          `json:"order_id"`
	OrderItemID      string          `json:"order_item_id"`
	ProductID        string          `json:"product_id,omitempty"`
	TierID           string          `json:"tier_id,omitempty"`
	OrderAmount      decimal.Decimal `json:"order_amount"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	PlatformFeeRate  decimal.Decimal `json:"platform_fee_rate"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	PlatformFee      decimal.Decimal `json:"platform_fee"`
	NetAmount        decimal.Decimal `json:"net_amount"`
	Status           string          `json:"status"`
	PayoutReference  string          `json:"payout_reference,omitempty"`
	CancelReason     string          `json:"cancel_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
}

type OrderSettledRequest struct {
	OrderID     string `json:"order_id" validate:"required"`
	OrderItemID string `json:"order_item_id" validate:"required"`
}

type RecordCommissionResponse struct {
	Commission Commission `json:"commission"`
	Duplicate  bool       `json:"duplicate"`
}

type CancelCommissionRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

type CommissionFilter struct {
	SellerID string
	Status   string
	From     time.Time
	To       time.Time
	Limit    int
}

// OrderLine is the slice of an order item the ledger needs. SellerID is empty
// when the product has no assigned seller.
type OrderLine struct {
	OrderID     string          `json:"order_id"`
	OrderItemID string          `json:"order_item_id"`
	ProductID   string          `json:"product_id"`
	SellerID    string          `json:"seller_id"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type SellerCommissionSettings struct {
	SellerID              string          `json:"seller_id"`
	UseCustomRate         bool            `json:"use_custom_rate"`
	CustomCommissionRate  decimal.Decimal `json:"custom_commission_rate"`
	CustomPlatformFeeRate decimal.Decimal `json:"custom_platform_fee_rate"`
	MinimumPayoutAmount   decimal.Decimal `json:"minimum_payout_amount"`
	PaymentMethod         string          `json:"payment_method,omitempty"`
	PaymentDetails        string          `json:"payment_details,omitempty"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

type SettingsUpdateRequest struct {
	UseCustomRate         *bool            `json:"use_custom_rate,omitempty"`
	CustomCommissionRate  *decimal.Decimal `json:"custom_commission_rate,omitempty"`
	CustomPlatformFeeRate *decimal.Decimal `json:"custom_platform_fee_rate,omitempty"`
	MinimumPayoutAmount   *decimal.Decimal `json:"minimum_payout_amount,omitempty"`
	PaymentMethod         *string          `json:"payment_method,omitempty" validate:"omitempty,max=50"`
	PaymentDetails        *string          `json:"payment_details,omitempty" validate:"omitempty,max=2000"`
}

type Payout struct {
	ID                   string          `json:"id"`
	SellerID             string          `json:"seller_id"`
	PayoutNumber         string          `json:"payout_number"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	TransactionFeeRate   decimal.Decimal `json:"transaction_fee_rate"`
	TransactionFee       decimal.Decimal `json:"transaction_fee"`
	NetAmount            decimal.Decimal `json:"net_amount"`
	PaymentMethod        string          `json:"payment_method"`
	PaymentDetails       string          `json:"payment_details,omitempty"`
	Status               string          `json:"status"`
	TransactionReference string          `json:"transaction_reference,omitempty"`
	FailureReason        string          `json:"failure_reason,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	ProcessedAt          *time.Time      `json:"processed_at,omitempty"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	FailedAt             *time.Time      `json:"failed_at,omitempty"`
	Items                []PayoutItem    `json:"items"`
}

type PayoutItem struct {
	CommissionID string          `json:"commission_id"`
	Position     int             `json:"position"`
	Amount       decimal.Decimal `json:"amount"`
}

// PayoutDraft carries what the processor validated before the store locks
// the selected commissions and writes the batch.
type PayoutDraft struct {
	ID                 string
	SellerID           string
	CommissionIDs      []string
	ExpectedTotal      decimal.Decimal
	TransactionFeeRate decimal.Decimal
	PaymentMethod      string
	PaymentDetails     string
	CreatedAt          time.Time
}

type PayoutRequest struct {
	SellerID       string   `json:"seller_id" validate:"required"`
	CommissionIDs  []string `json:"commission_ids" validate:"required,min=1,dive,required"`
	PaymentMethod  string   `json:"payment_method,omitempty" validate:"max=50"`
	PaymentDetails string   `json:"payment_details,omitempty" validate:"max=2000"`
}

type PayoutProcessRequest struct {
	TransactionReference string `json:"transaction_reference" validate:"required,max=120"`
}

type PayoutFailRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

// PayoutTransition is applied by the store under a row lock. Replays of a
// transition that already happened are reported through Changed=false.
type PayoutTransition struct {
	Action               string
	TransactionReference string
	Reason               string
	At                   time.Time
}

type PayoutFilter struct {
	SellerID string
	Status   string
	Limit    int
}

type SellerFinance struct {
	SellerID         string          `json:"seller_id"`
	Name             string          `json:"name"`
	Email            string          `json:"email"`
	PendingBalance   decimal.Decimal `json:"pending_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	TotalEarnings    decimal.Decimal `json:"total_earnings"`
	TotalPaidOut     decimal.Decimal `json:"total_paid_out"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type SellerUpsertRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email"`
}

type BalanceSummary struct {
	SellerID          string          `json:"seller_id"`
	PendingBalance    decimal.Decimal `json:"pending_balance"`
	AvailableBalance  decimal.Decimal `json:"available_balance"`
	InTransitBalance  decimal.Decimal `json:"in_transit_balance"`
	TotalEarnings     decimal.Decimal `json:"total_earnings"`
	TotalPaidOut      decimal.Decimal `json:"total_paid_out"`
	CommissionsByStat map[string]int  `json:"commissions_by_status"`
	OpenPayouts       int             `json:"open_payouts"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

type StatusTotals struct {
	Status           string          `json:"status"`
	Count            int             `json:"count"`
	OrderAmount      decimal.Decimal `json:"order_amount"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	PlatformFee      decimal.Decimal `json:"platform_fee"`
	NetAmount        decimal.Decimal `json:"net_amount"`
}

type CommissionStats struct {
	SellerID string         `json:"seller_id,omitempty"`
	From     *time.Time     `json:"from,omitempty"`
	To       *time.Time     `json:"to,omitempty"`
	ByStatus []StatusTotals `json:"by_status"`
	Total    StatusTotals   `json:"total"`
}

type MonthlyRow struct {
	Month            int             `json:"month"`
	Commissions      int             `json:"commissions"`
	OrderAmount      decimal.Decimal `json:"order_amount"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	PlatformFee      decimal.Decimal `json:"platform_fee"`
	NetAmount        decimal.Decimal `json:"net_amount"`
	PaidOut          decimal.Decimal `json:"paid_out"`
}

type MonthlyBreakdown struct {
	SellerID string       `json:"seller_id"`
	Year     int          `json:"year"`
	Months   []MonthlyRow `json:"months"`
}

type SellerTotals struct {
	SellerID         string          `json:"seller_id"`
	Commissions      int             `json:"commissions"`
	OrderAmount      decimal.Decimal `json:"order_amount"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	NetAmount        decimal.Decimal `json:"net_amount"`
}

type PayoutStatusTotals struct {
	Status         string          `json:"status"`
	Count          int             `json:"count"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	TransactionFee decimal.Decimal `json:"transaction_fee"`
	NetAmount      decimal.Decimal `json:"net_amount"`
}

type Reconciliation struct {
	SellerID          string          `json:"seller_id"`
	RecordedPending   decimal.Decimal `json:"recorded_pending"`
	ComputedPending   decimal.Decimal `json:"computed_pending"`
	RecordedAvailable decimal.Decimal `json:"recorded_available"`
	ComputedAvailable decimal.Decimal `json:"computed_available"`
	RecordedEarnings  decimal.Decimal `json:"recorded_earnings"`
	ComputedEarnings  decimal.Decimal `json:"computed_earnings"`
	InTransit         decimal.Decimal `json:"in_transit"`
	PaidInOpenPayouts decimal.Decimal `json:"paid_in_open_payouts"`
	Balanced          bool            `json:"balanced"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Subject string
	Role    string
}

const (
	CommissionStatusPending   = "pending"
	CommissionStatusApproved  = "approved"
	CommissionStatusPaid      = "paid"
	CommissionStatusCancelled = "cancelled"
)

const (
	PayoutStatusPending    = "pending"
	PayoutStatusProcessing = "processing"
	PayoutStatusCompleted  = "completed"
	PayoutStatusFailed     = "failed"
)

const (
	PayoutActionProcess  = "process"
	PayoutActionComplete = "complete"
	PayoutActionFail     = "fail"
)

const (
	RoleAdmin  = "admin"
	RoleSeller = "seller"
	RoleRail   = "rail"
	RoleSystem = "system"
)
