// Package tier resolves the commission tier that applies to a seller's
// cumulative sales.
package tier

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"sellerledger/backend/internal/domain"
)

// Resolve returns the active tier whose [MinSales, MaxSales] range contains
// totalSales. Overlaps are settled by ascending Priority; equal priorities
// fall back to MinSales then ID so the answer never depends on input order.
func Resolve(tiers []domain.CommissionTier, totalSales decimal.Decimal) (domain.CommissionTier, bool) {
	var (
		best  domain.CommissionTier
		found bool
	)
	for _, t := range tiers {
		if !Matches(t, totalSales) {
			continue
		}
		if !found || less(t, best) {
			best = t
			found = true
		}
	}
	return best, found
}

func Matches(t domain.CommissionTier, totalSales decimal.Decimal) bool {
	if !t.IsActive || t.DeletedAt != nil {
		return false
	}
	return t.MinSales.LessThanOrEqual(totalSales) && totalSales.LessThanOrEqual(t.MaxSales)
}

// Sort orders tiers the way Resolve scans them.
func Sort(tiers []domain.CommissionTier) {
	slices.SortStableFunc(tiers, func(a, b domain.CommissionTier) int {
		switch {
		case less(a, b):
			return -1
		case less(b, a):
			return 1
		default:
			return 0
		}
	})
}

func less(a, b domain.CommissionTier) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if cmp := a.MinSales.Cmp(b.MinSales); cmp != 0 {
		return cmp < 0
	}
	return a.ID < b.ID
}

var ErrInvalidTier = errors.New("invalid commission tier")

// Validate checks the static constraints of a tier definition.
func Validate(t domain.CommissionTier) error {
	problems := make([]string, 0, 4)
	if strings.TrimSpace(t.Name) == "" {
		problems = append(problems, "name is required")
	}
	if t.MinSales.IsNegative() {
		problems = append(problems, "min_sales must be >= 0")
	}
	if t.MaxSales.LessThan(t.MinSales) {
		problems = append(problems, "max_sales must be >= min_sales")
	}
	if !domain.ValidMoney(t.MinSales) || !domain.ValidMoney(t.MaxSales) {
		problems = append(problems, fmt.Sprintf("sales bounds must have at most %d decimal places", domain.MoneyScale))
	}
	if !domain.ValidRate(t.CommissionRate) {
		problems = append(problems, fmt.Sprintf("commission_rate must be within [0,100] with at most %d decimal places", domain.RateScale))
	}
	if !domain.ValidRate(t.PlatformFeeRate) {
		problems = append(problems, fmt.Sprintf("platform_fee_rate must be within [0,100] with at most %d decimal places", domain.RateScale))
	}
	if t.PlatformFeeRate.GreaterThan(t.CommissionRate) {
		problems = append(problems, "platform_fee_rate must not exceed commission_rate")
	}
	if t.Priority < 0 {
		problems = append(problems, "priority must be >= 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTier, strings.Join(problems, "; "))
	}
	return nil
}
