package tier

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sellerledger/backend/internal/domain"
)

func mk(id string, min, max string, priority int) domain.CommissionTier {
	return domain.CommissionTier{
		ID:              id,
		Name:            id,
		MinSales:        decimal.RequireFromString(min),
		MaxSales:        decimal.RequireFromString(max),
		CommissionRate:  decimal.NewFromInt(10),
		PlatformFeeRate: decimal.NewFromInt(2),
		Priority:        priority,
		IsActive:        true,
	}
}

func TestResolveBoundsAreInclusive(t *testing.T) {
	tiers := []domain.CommissionTier{mk("low", "0", "999.99", 1), mk("high", "1000", "5000", 1)}

	got, ok := Resolve(tiers, decimal.RequireFromString("999.99"))
	require.True(t, ok)
	assert.Equal(t, "low", got.ID)

	got, ok = Resolve(tiers, decimal.NewFromInt(1000))
	require.True(t, ok)
	assert.Equal(t, "high", got.ID)

	got, ok = Resolve(tiers, decimal.NewFromInt(5000))
	require.True(t, ok)
	assert.Equal(t, "high", got.ID)

	_, ok = Resolve(tiers, decimal.RequireFromString("5000.01"))
	assert.False(t, ok)
}

func TestResolveSkipsInactiveAndDeleted(t *testing.T) {
	inactive := mk("inactive", "0", "100", 0)
	inactive.IsActive = false
	deleted := mk("deleted", "0", "100", 0)
	now := time.Now()
	deleted.DeletedAt = &now

	got, ok := Resolve([]domain.CommissionTier{inactive, deleted, mk("live", "0", "100", 9)}, decimal.NewFromInt(50))
	require.True(t, ok)
	assert.Equal(t, "live", got.ID)

	_, ok = Resolve([]domain.CommissionTier{inactive, deleted}, decimal.NewFromInt(50))
	assert.False(t, ok)
}

func TestResolveIsIndependentOfOrder(t *testing.T) {
	tiers := []domain.CommissionTier{
		mk("a", "0", "1000", 5),
		mk("b", "0", "1000", 2),
		mk("c", "100", "1000", 2),
		mk("d", "0", "1000", 2),
		mk("e", "0", "50", 0),
	}
	sales := decimal.NewFromInt(500)
	want, ok := Resolve(tiers, sales)
	require.True(t, ok)
	assert.Equal(t, "b", want.ID)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := append([]domain.CommissionTier(nil), tiers...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got, ok := Resolve(shuffled, sales)
		require.True(t, ok)
		assert.Equal(t, want.ID, got.ID)
	}
}

func TestSortMatchesResolveOrder(t *testing.T) {
	tiers := []domain.CommissionTier{mk("z", "0", "10", 3), mk("y", "5", "10", 1), mk("x", "0", "10", 1)}
	Sort(tiers)
	assert.Equal(t, []string{"x", "y", "z"}, []string{tiers[0].ID, tiers[1].ID, tiers[2].ID})
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(mk("ok", "0", "10", 0)))

	bad := mk("", "-1", "-5", -1)
	bad.CommissionRate = decimal.NewFromInt(101)
	bad.PlatformFeeRate = decimal.NewFromInt(-1)
	err := Validate(bad)
	require.ErrorIs(t, err, ErrInvalidTier)
	for _, msg := range []string{"name is required", "min_sales", "max_sales", "commission_rate", "platform_fee_rate", "priority"} {
		assert.Contains(t, err.Error(), msg)
	}

	feeAbove := mk("fee", "0", "10", 0)
	feeAbove.PlatformFeeRate = decimal.NewFromInt(11)
	assert.ErrorIs(t, Validate(feeAbove), ErrInvalidTier)
}

func TestValidateRejectsValuesBeyondStoredScale(t *testing.T) {
	fineRate := mk("fine-rate", "0", "10", 0)
	fineRate.CommissionRate = decimal.RequireFromString("10.555")
	err := Validate(fineRate)
	require.ErrorIs(t, err, ErrInvalidTier)
	assert.Contains(t, err.Error(), "commission_rate")

	fineBound := mk("fine-bound", "0", "999.999", 0)
	err = Validate(fineBound)
	require.ErrorIs(t, err, ErrInvalidTier)
	assert.Contains(t, err.Error(), "sales bounds")

	assert.NoError(t, Validate(mk("cents", "0.01", "999.99", 0)))
}
