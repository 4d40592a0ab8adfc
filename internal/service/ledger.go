package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"sellerledger/backend/internal/domain"
	"sellerledger/backend/internal/events"
	"sellerledger/backend/internal/store"
	"sellerledger/backend/internal/xid"
)

// RecordCommission books the commission for one settled order line. It is
// safe under at-least-once delivery: a repeated order item returns the
// stored commission with Duplicate set and changes nothing.
func (s *Service) RecordCommission(ctx context.Context, req domain.OrderSettledRequest) (domain.RecordCommissionResponse, error) {
	if err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleSystem); err != nil {
		return domain.RecordCommissionResponse{}, err
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.OrderItemID = strings.TrimSpace(req.OrderItemID)
	if err := s.validate.Struct(req); err != nil {
		return domain.RecordCommissionResponse{}, validationError("commission.validation", err)
	}

	existing, err := s.repo.FindCommissionByOrderItem(ctx, req.OrderItemID)
	if err == nil {
		return domain.RecordCommissionResponse{Commission: *existing, Duplicate: true}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.RecordCommissionResponse{}, err
	}

	line, err := s.orders.GetOrderLine(ctx, req.OrderID, req.OrderItemID)
	if err != nil {
		return domain.RecordCommissionResponse{}, classify(err, "order_item")
	}
	if line.SellerID == "" {
		return domain.RecordCommissionResponse{}, newError(store.ErrInvalidState, "commission.no_seller", "order item %s has no assigned seller", req.OrderItemID)
	}
	if line.LineTotal.IsNegative() {
		return domain.RecordCommissionResponse{}, newError(store.ErrValidation, "commission.validation", "order item %s has a negative line total", req.OrderItemID)
	}

	rates, err := s.rateFor(ctx, line.SellerID)
	if err != nil {
		return domain.RecordCommissionResponse{}, classify(err, "commission")
	}

	commission := domain.NewCommission(xid.New("com"), *line, rates, s.now())
	stored, created, err := s.repo.RecordCommission(ctx, commission)
	if err != nil {
		return domain.RecordCommissionResponse{}, classify(err, "commission")
	}
	if !created {
		return domain.RecordCommissionResponse{Commission: *stored, Duplicate: true}, nil
	}

	s.logger.Info("commission recorded",
		zap.String("seller_id", stored.SellerID),
		zap.String("commission_id", stored.ID),
		zap.String("order_item_id", stored.OrderItemID),
		zap.String("rate_source", rates.Source),
		zap.String("net_amount", stored.NetAmount.StringFixed(domain.MoneyScale)),
	)
	s.invalidateSummary(ctx, stored.SellerID)
	s.publish(ctx, events.CommissionRecorded, stored.SellerID, stored.ID, stored.NetAmount, "")
	return domain.RecordCommissionResponse{Commission: *stored}, nil
}

// OrderSettled is the inbound handler for order-settled notifications.
func (s *Service) OrderSettled(ctx context.Context, orderID string, orderItemID string) (domain.RecordCommissionResponse, error) {
	return s.RecordCommission(ctx, domain.OrderSettledRequest{OrderID: orderID, OrderItemID: orderItemID})
}

func (s *Service) Approve(ctx context.Context, commissionID string) (domain.Commission, error) {
	if err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleSystem); err != nil {
		return domain.Commission{}, err
	}
	at := s.now()
	updated, err := s.repo.TransitionCommission(ctx, commissionID, func(c domain.Commission) (domain.Commission, domain.BalanceChange, error) {
		return domain.ApproveCommission(c, at)
	})
	if err != nil {
		return domain.Commission{}, classify(err, "commission")
	}

	s.logTransition("commission approved", *updated, domain.CommissionStatusPending)
	s.invalidateSummary(ctx, updated.SellerID)
	s.publish(ctx, events.CommissionApproved, updated.SellerID, updated.ID, updated.NetAmount, "")
	return *updated, nil
}

// ApproveMany approves each commission in its own unit of work. Failures do
// not stop the batch; they are joined into the returned error.
func (s *Service) ApproveMany(ctx context.Context, commissionIDs []string) ([]domain.Commission, error) {
	approved := make([]domain.Commission, 0, len(commissionIDs))
	var errs []error
	for _, id := range commissionIDs {
		c, err := s.Approve(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		approved = append(approved, c)
	}
	return approved, errors.Join(errs...)
}

// AutoApprove approves every pending commission created before now-age.
func (s *Service) AutoApprove(ctx context.Context, age time.Duration) (int, error) {
	pending, err := s.repo.ListCommissions(ctx, domain.CommissionFilter{
		Status: domain.CommissionStatusPending,
		To:     s.now().Add(-age),
	})
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(pending))
	for _, c := range pending {
		ids = append(ids, c.ID)
	}
	approved, err := s.ApproveMany(ctx, ids)
	return len(approved), err
}

func (s *Service) Cancel(ctx context.Context, commissionID string, req domain.CancelCommissionRequest) (domain.Commission, error) {
	if err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Commission{}, err
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.Commission{}, validationError("commission.validation", err)
	}

	var from string
	at := s.now()
	reason := strings.TrimSpace(req.Reason)
	updated, err := s.repo.TransitionCommission(ctx, commissionID, func(c domain.Commission) (domain.Commission, domain.BalanceChange, error) {
		from = c.Status
		return domain.CancelCommission(c, reason, at)
	})
	if err != nil {
		return domain.Commission{}, classify(err, "commission")
	}

	s.logTransition("commission cancelled", *updated, from)
	s.invalidateSummary(ctx, updated.SellerID)
	s.publish(ctx, events.CommissionCancelled, updated.SellerID, updated.ID, updated.NetAmount, reason)
	return *updated, nil
}

func (s *Service) GetCommission(ctx context.Context, commissionID string) (domain.Commission, error) {
	c, err := s.repo.GetCommission(ctx, commissionID)
	if err != nil {
		return domain.Commission{}, classify(err, "commission")
	}
	if err := s.authorizeSeller(ctx, c.SellerID); err != nil {
		return domain.Commission{}, err
	}
	return *c, nil
}

func (s *Service) ListCommissions(ctx context.Context, filter domain.CommissionFilter) ([]domain.Commission, error) {
	if actor, ok := ActorFromContext(ctx); ok && actor.Role == domain.RoleSeller {
		filter.SellerID = actor.Subject
	}
	if filter.Status != "" && !isCommissionStatus(filter.Status) {
		return nil, newError(store.ErrValidation, "commission.validation", "unknown status %q", filter.Status)
	}
	return s.repo.ListCommissions(ctx, filter)
}

func (s *Service) logTransition(msg string, c domain.Commission, from string) {
	s.logger.Info(msg,
		zap.String("seller_id", c.SellerID),
		zap.String("commission_id", c.ID),
		zap.String("from", from),
		zap.String("to", c.Status),
	)
}

func isCommissionStatus(status string) bool {
	switch status {
	case domain.CommissionStatusPending, domain.CommissionStatusApproved, domain.CommissionStatusPaid, domain.CommissionStatusCancelled:
		return true
	}
	return false
}
