package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sellerledger/backend/internal/domain"
	"sellerledger/backend/internal/events"
	"sellerledger/backend/internal/store"
	"sellerledger/backend/internal/tier"
)

// ResolveTier returns the tier that applies to a seller with the given
// cumulative completed sales. ok=false means platform defaults apply.
func (s *Service) ResolveTier(ctx context.Context, sellerID string, totalSales decimal.Decimal) (domain.CommissionTier, bool, error) {
	if totalSales.IsNegative() {
		return domain.CommissionTier{}, false, newError(store.ErrValidation, "tier.invalid_sales", "total sales must be >= 0")
	}
	tiers, err := s.repo.ListTiers(ctx, false)
	if err != nil {
		return domain.CommissionTier{}, false, err
	}
	t, ok := tier.Resolve(tiers, totalSales)
	if ok {
		s.logger.Debug("tier resolved", zap.String("seller_id", sellerID), zap.String("tier_id", t.ID), zap.String("total_sales", totalSales.String()))
	}
	return t, ok, nil
}

// rateFor picks the rates for a new commission: custom settings first, then
// the seller's tier, then platform defaults.
func (s *Service) rateFor(ctx context.Context, sellerID string) (domain.RateSelection, error) {
	settings, err := s.repo.GetSettings(ctx, sellerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.RateSelection{}, err
	}
	if settings != nil && settings.UseCustomRate {
		return domain.RateSelection{
			CommissionRate:  settings.CustomCommissionRate,
			PlatformFeeRate: settings.CustomPlatformFeeRate,
			Source:          domain.RateSourceCustom,
		}, nil
	}

	sales, err := s.orders.SellerCompletedSales(ctx, sellerID)
	if err != nil {
		return domain.RateSelection{}, err
	}
	t, ok, err := s.ResolveTier(ctx, sellerID, sales)
	if err != nil {
		return domain.RateSelection{}, err
	}
	if ok {
		return domain.RateSelection{
			CommissionRate:  t.CommissionRate,
			PlatformFeeRate: t.PlatformFeeRate,
			TierID:          t.ID,
			Source:          domain.RateSourceTier,
		}, nil
	}
	return domain.RateSelection{
		CommissionRate:  s.cfg.DefaultCommissionRate,
		PlatformFeeRate: s.cfg.DefaultPlatformFeeRate,
		Source:          domain.RateSourceDefault,
	}, nil
}

func (s *Service) CreateTier(ctx context.Context, req domain.TierCreateRequest) (domain.CommissionTier, error) {
	if err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.CommissionTier{}, err
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.CommissionTier{}, validationError("tier.validation", err)
	}

	now := s.now()
	t := domain.CommissionTier{
		Name:            strings.TrimSpace(req.Name),
		Description:     strings.TrimSpace(req.Description),
		MinSales:        req.MinSales,
		MaxSales:        req.MaxSales,
		CommissionRate:  req.CommissionRate,
		PlatformFeeRate: req.PlatformFeeRate,
		Priority:        req.Priority,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.IsActive != nil {
		t.IsActive = *req.IsActive
	}
	if err := tier.Validate(t); err != nil {
		return domain.CommissionTier{}, classify(err, "tier")
	}

	created, err := s.repo.CreateTier(ctx, t)
	if err != nil {
		return domain.CommissionTier{}, classify(err, "tier")
	}
	s.logger.Info("tier created", zap.String("tier_id", created.ID), zap.String("name", created.Name))
	s.publish(ctx, events.TierCreated, "", created.ID, decimal.Zero, "")
	return *created, nil
}

func (s *Service) UpdateTier(ctx context.Context, id string, req domain.TierUpdateRequest) (domain.CommissionTier, error) {
	if err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.CommissionTier{}, err
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.CommissionTier{}, validationError("tier.validation", err)
	}

	existing, err := s.repo.GetTier(ctx, id)
	if err != nil {
		return domain.CommissionTier{}, classify(err, "tier")
	}
	if existing.DeletedAt != nil {
		return domain.CommissionTier{}, newError(store.ErrNotFound, "tier.not_found", "tier %s was deleted", id)
	}

	updated := *existing
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.MinSales != nil {
		updated.MinSales = *req.MinSales
	}
	if req.MaxSales != nil {
		updated.MaxSales = *req.MaxSales
	}
	if req.CommissionRate != nil {
		updated.CommissionRate = *req.CommissionRate
	}
	if req.PlatformFeeRate != nil {
		updated.PlatformFeeRate = *req.PlatformFeeRate
	}
	if req.Priority != nil {
		updated.Priority = *req.Priority
	}
	if req.IsActive != nil {
		updated.IsActive = *req.IsActive
	}
	updated.UpdatedAt = s.now()
	if err := tier.Validate(updated); err != nil {
		return domain.CommissionTier{}, classify(err, "tier")
	}

	saved, err := s.repo.UpdateTier(ctx, updated)
	if err != nil {
		return domain.CommissionTier{}, classify(err, "tier")
	}
	s.logger.Info("tier updated", zap.String("tier_id", saved.ID))
	s.publish(ctx, events.TierUpdated, "", saved.ID, decimal.Zero, "")
	return *saved, nil
}

func (s *Service) DeleteTier(ctx context.Context, id string) (domain.CommissionTier, error) {
	if err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.CommissionTier{}, err
	}
	deleted, err := s.repo.SoftDeleteTier(ctx, id, s.now())
	if err != nil {
		return domain.CommissionTier{}, classify(err, "tier")
	}
	s.logger.Info("tier deleted", zap.String("tier_id", deleted.ID))
	s.publish(ctx, events.TierDeleted, "", deleted.ID, decimal.Zero, "")
	return *deleted, nil
}

func (s *Service) GetTier(ctx context.Context, id string) (domain.CommissionTier, error) {
	t, err := s.repo.GetTier(ctx, id)
	if err != nil {
		return domain.CommissionTier{}, classify(err, "tier")
	}
	return *t, nil
}

func (s *Service) ListTiers(ctx context.Context, includeInactive bool) ([]domain.CommissionTier, error) {
	tiers, err := s.repo.ListTiers(ctx, includeInactive)
	if err != nil {
		return nil, err
	}
	tier.Sort(tiers)
	return tiers, nil
}

func (s *Service) UpsertSeller(ctx context.Context, sellerID string, req domain.SellerUpsertRequest) (domain.SellerFinance, error) {
	if err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleSystem); err != nil {
		return domain.SellerFinance{}, err
	}
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return domain.SellerFinance{}, newError(store.ErrValidation, "seller.validation", "seller id is required")
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.SellerFinance{}, validationError("seller.validation", err)
	}

	saved, err := s.repo.UpsertSeller(ctx, domain.SellerFinance{
		SellerID: sellerID,
		Name:     strings.TrimSpace(req.Name),
		Email:    strings.TrimSpace(req.Email),
	})
	if err != nil {
		return domain.SellerFinance{}, classify(err, "seller")
	}
	s.invalidateSummary(ctx, sellerID)
	return *saved, nil
}

func (s *Service) GetSettings(ctx context.Context, sellerID string) (domain.SellerCommissionSettings, error) {
	if err := s.authorizeSeller(ctx, sellerID); err != nil {
		return domain.SellerCommissionSettings{}, err
	}
	if _, err := s.repo.GetSellerFinance(ctx, sellerID); err != nil {
		return domain.SellerCommissionSettings{}, classify(err, "seller")
	}
	return s.settingsOrDefault(ctx, sellerID)
}

func (s *Service) settingsOrDefault(ctx context.Context, sellerID string) (domain.SellerCommissionSettings, error) {
	settings, err := s.repo.GetSettings(ctx, sellerID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.SellerCommissionSettings{SellerID: sellerID}, nil
	}
	if err != nil {
		return domain.SellerCommissionSettings{}, err
	}
	return *settings, nil
}

// UpdateSettings applies a partial update. Sellers may change their payout
// preferences; rate overrides are admin-only.
func (s *Service) UpdateSettings(ctx context.Context, sellerID string, req domain.SettingsUpdateRequest) (domain.SellerCommissionSettings, error) {
	if err := s.authorizeSeller(ctx, sellerID); err != nil {
		return domain.SellerCommissionSettings{}, err
	}
	touchesRates := req.UseCustomRate != nil || req.CustomCommissionRate != nil || req.CustomPlatformFeeRate != nil
	if touchesRates {
		if err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
			return domain.SellerCommissionSettings{}, err
		}
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.SellerCommissionSettings{}, validationError("settings.validation", err)
	}
	if _, err := s.repo.GetSellerFinance(ctx, sellerID); err != nil {
		return domain.SellerCommissionSettings{}, classify(err, "seller")
	}

	settings, err := s.settingsOrDefault(ctx, sellerID)
	if err != nil {
		return domain.SellerCommissionSettings{}, err
	}
	if req.UseCustomRate != nil {
		settings.UseCustomRate = *req.UseCustomRate
	}
	if req.CustomCommissionRate != nil {
		settings.CustomCommissionRate = *req.CustomCommissionRate
	}
	if req.CustomPlatformFeeRate != nil {
		settings.CustomPlatformFeeRate = *req.CustomPlatformFeeRate
	}
	if req.MinimumPayoutAmount != nil {
		settings.MinimumPayoutAmount = *req.MinimumPayoutAmount
	}
	if req.PaymentMethod != nil {
		settings.PaymentMethod = strings.TrimSpace(*req.PaymentMethod)
	}
	if req.PaymentDetails != nil {
		settings.PaymentDetails = strings.TrimSpace(*req.PaymentDetails)
	}

	switch {
	case !domain.ValidRate(settings.CustomCommissionRate):
		return domain.SellerCommissionSettings{}, newError(store.ErrValidation, "settings.validation", "custom_commission_rate must be within [0,100] with at most 2 decimal places")
	case !domain.ValidRate(settings.CustomPlatformFeeRate):
		return domain.SellerCommissionSettings{}, newError(store.ErrValidation, "settings.validation", "custom_platform_fee_rate must be within [0,100] with at most 2 decimal places")
	case settings.UseCustomRate && settings.CustomPlatformFeeRate.GreaterThan(settings.CustomCommissionRate):
		return domain.SellerCommissionSettings{}, newError(store.ErrValidation, "settings.validation", "custom_platform_fee_rate must not exceed custom_commission_rate")
	case settings.MinimumPayoutAmount.IsNegative():
		return domain.SellerCommissionSettings{}, newError(store.ErrValidation, "settings.validation", "minimum_payout_amount must be >= 0")
	case !domain.ValidMoney(settings.MinimumPayoutAmount):
		return domain.SellerCommissionSettings{}, newError(store.ErrValidation, "settings.validation", "minimum_payout_amount must have at most 2 decimal places")
	}
	settings.UpdatedAt = s.now()

	saved, err := s.repo.UpsertSettings(ctx, settings)
	if err != nil {
		return domain.SellerCommissionSettings{}, classify(err, "settings")
	}
	s.logger.Info("seller settings updated", zap.String("seller_id", sellerID), zap.Bool("use_custom_rate", saved.UseCustomRate))
	s.publish(ctx, events.SettingsUpdated, sellerID, sellerID, decimal.Zero, "")
	return *saved, nil
}
