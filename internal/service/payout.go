package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"sellerledger/backend/internal/domain"
	"sellerledger/backend/internal/events"
	"sellerledger/backend/internal/store"
	"sellerledger/backend/internal/xid"
)

// RequestPayout bundles approved commissions into a pending payout. The
// checks here give precise errors; the store repeats the status and total
// checks under lock and reports drift as a retryable conflict.
func (s *Service) RequestPayout(ctx context.Context, req domain.PayoutRequest) (domain.Payout, error) {
	if err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleSeller); err != nil {
		return domain.Payout{}, err
	}
	req.SellerID = strings.TrimSpace(req.SellerID)
	if err := s.authorizeSeller(ctx, req.SellerID); err != nil {
		return domain.Payout{}, err
	}
	if len(req.CommissionIDs) == 0 {
		return domain.Payout{}, newError(store.ErrBusinessRule, "payout.empty_selection", "at least one commission is required")
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.Payout{}, validationError("payout.validation", err)
	}

	seen := make(map[string]struct{}, len(req.CommissionIDs))
	for _, id := range req.CommissionIDs {
		if _, dup := seen[id]; dup {
			return domain.Payout{}, newError(store.ErrBusinessRule, "payout.duplicate_commission", "commission %s selected twice", id)
		}
		seen[id] = struct{}{}
	}

	if _, err := s.repo.GetSellerFinance(ctx, req.SellerID); err != nil {
		return domain.Payout{}, classify(err, "seller")
	}

	found, err := s.repo.GetCommissions(ctx, req.CommissionIDs)
	if err != nil {
		return domain.Payout{}, err
	}
	byID := make(map[string]domain.Commission, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	selected := make([]domain.Commission, 0, len(req.CommissionIDs))
	for _, id := range req.CommissionIDs {
		c, ok := byID[id]
		if !ok {
			return domain.Payout{}, newError(store.ErrNotFound, "commission.not_found", "commission %s not found", id)
		}
		if c.SellerID != req.SellerID {
			return domain.Payout{}, newError(store.ErrBusinessRule, "payout.seller_mismatch", "commission %s belongs to another seller", id)
		}
		if c.Status != domain.CommissionStatusApproved {
			return domain.Payout{}, newError(store.ErrBusinessRule, "payout.commission_not_approved", "commission %s is %s", id, c.Status)
		}
		selected = append(selected, c)
	}

	total := domain.SumNet(selected)
	if !total.IsPositive() {
		return domain.Payout{}, newError(store.ErrBusinessRule, "payout.non_positive_total", "selected commissions total %s", total.StringFixed(domain.MoneyScale))
	}

	settings, err := s.settingsOrDefault(ctx, req.SellerID)
	if err != nil {
		return domain.Payout{}, err
	}
	if settings.MinimumPayoutAmount.IsPositive() && total.LessThan(settings.MinimumPayoutAmount) {
		return domain.Payout{}, newError(store.ErrValidation, "payout.below_minimum",
			"payout total %s is below the minimum %s", total.StringFixed(domain.MoneyScale), settings.MinimumPayoutAmount.StringFixed(domain.MoneyScale))
	}

	method := strings.TrimSpace(req.PaymentMethod)
	details := strings.TrimSpace(req.PaymentDetails)
	if method == "" {
		method = settings.PaymentMethod
		if details == "" {
			details = settings.PaymentDetails
		}
	}
	if method == "" {
		return domain.Payout{}, newError(store.ErrValidation, "payout.payment_method_required", "no payment method on request or seller settings")
	}

	payout, err := s.repo.CreatePayout(ctx, domain.PayoutDraft{
		ID:                 xid.New("pay"),
		SellerID:           req.SellerID,
		CommissionIDs:      req.CommissionIDs,
		ExpectedTotal:      total,
		TransactionFeeRate: s.cfg.PayoutTransactionFeeRate,
		PaymentMethod:      method,
		PaymentDetails:     details,
		CreatedAt:          s.now(),
	})
	if err != nil {
		return domain.Payout{}, classify(err, "payout")
	}

	s.logger.Info("payout requested",
		zap.String("seller_id", payout.SellerID),
		zap.String("payout_id", payout.ID),
		zap.String("payout_number", payout.PayoutNumber),
		zap.Int("commissions", len(payout.Items)),
		zap.String("total_amount", payout.TotalAmount.StringFixed(domain.MoneyScale)),
	)
	s.invalidateSummary(ctx, payout.SellerID)
	s.publish(ctx, events.PayoutRequested, payout.SellerID, payout.ID, payout.TotalAmount, "")
	return *payout, nil
}

func (s *Service) Process(ctx context.Context, payoutID string, req domain.PayoutProcessRequest) (domain.Payout, error) {
	req.TransactionReference = strings.TrimSpace(req.TransactionReference)
	if err := s.validate.Struct(req); err != nil {
		return domain.Payout{}, validationError("payout.validation", err)
	}
	return s.transitionPayout(ctx, payoutID, domain.PayoutTransition{
		Action:               domain.PayoutActionProcess,
		TransactionReference: req.TransactionReference,
	}, events.PayoutProcessing)
}

// Complete is idempotent: completing a completed payout returns it unchanged.
func (s *Service) Complete(ctx context.Context, payoutID string) (domain.Payout, error) {
	return s.transitionPayout(ctx, payoutID, domain.PayoutTransition{Action: domain.PayoutActionComplete}, events.PayoutCompleted)
}

// Fail marks the payout failed and returns every commission it held to
// approved in the same unit of work.
func (s *Service) Fail(ctx context.Context, payoutID string, req domain.PayoutFailRequest) (domain.Payout, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validate.Struct(req); err != nil {
		return domain.Payout{}, validationError("payout.validation", err)
	}
	return s.transitionPayout(ctx, payoutID, domain.PayoutTransition{
		Action: domain.PayoutActionFail,
		Reason: req.Reason,
	}, events.PayoutFailed)
}

func (s *Service) transitionPayout(ctx context.Context, payoutID string, transition domain.PayoutTransition, kind string) (domain.Payout, error) {
	if err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleRail); err != nil {
		return domain.Payout{}, err
	}
	transition.At = s.now()

	payout, changed, err := s.repo.TransitionPayout(ctx, payoutID, transition)
	if err != nil {
		return domain.Payout{}, classify(err, "payout")
	}
	if !changed {
		s.logger.Debug("payout transition replayed", zap.String("payout_id", payout.ID), zap.String("action", transition.Action))
		return *payout, nil
	}

	s.logger.Info("payout transitioned",
		zap.String("seller_id", payout.SellerID),
		zap.String("payout_id", payout.ID),
		zap.String("action", transition.Action),
		zap.String("to", payout.Status),
	)
	s.invalidateSummary(ctx, payout.SellerID)
	s.publish(ctx, kind, payout.SellerID, payout.ID, payout.TotalAmount, transition.Reason)
	return *payout, nil
}

func (s *Service) GetPayout(ctx context.Context, payoutID string) (domain.Payout, error) {
	p, err := s.repo.GetPayout(ctx, payoutID)
	if err != nil {
		return domain.Payout{}, classify(err, "payout")
	}
	if err := s.authorizeSeller(ctx, p.SellerID); err != nil {
		return domain.Payout{}, err
	}
	return *p, nil
}

func (s *Service) ListPayouts(ctx context.Context, filter domain.PayoutFilter) ([]domain.Payout, error) {
	if actor, ok := ActorFromContext(ctx); ok && actor.Role == domain.RoleSeller {
		filter.SellerID = actor.Subject
	}
	return s.repo.ListPayouts(ctx, filter)
}
