package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sellerledger/backend/internal/domain"
	"sellerledger/backend/internal/store"
)

var commissionStatuses = []string{
	domain.CommissionStatusPending,
	domain.CommissionStatusApproved,
	domain.CommissionStatusPaid,
	domain.CommissionStatusCancelled,
}

var payoutStatuses = []string{
	domain.PayoutStatusPending,
	domain.PayoutStatusProcessing,
	domain.PayoutStatusCompleted,
	domain.PayoutStatusFailed,
}

// BalanceSummary is served from the summary cache until the next mutation
// for the seller advances its cache generation.
func (s *Service) BalanceSummary(ctx context.Context, sellerID string) (domain.BalanceSummary, error) {
	if err := s.authorizeSeller(ctx, sellerID); err != nil {
		return domain.BalanceSummary{}, err
	}

	// The generation is read before the ledger so that a mutation landing
	// mid-read leaves this result under a generation nobody reads.
	gen, genErr := s.summaries.Generation(ctx, sellerID)
	if genErr != nil {
		s.logger.Warn("summary cache generation read failed", zap.String("seller_id", sellerID), zap.Error(genErr))
	} else {
		cached, ok, err := s.summaries.Get(ctx, sellerID, gen)
		if err != nil {
			s.logger.Warn("summary cache read failed", zap.String("seller_id", sellerID), zap.Error(err))
		}
		if ok && cached != nil {
			return *cached, nil
		}
	}

	finance, err := s.repo.GetSellerFinance(ctx, sellerID)
	if err != nil {
		return domain.BalanceSummary{}, classify(err, "seller")
	}
	commissions, err := s.repo.ListCommissions(ctx, domain.CommissionFilter{SellerID: sellerID})
	if err != nil {
		return domain.BalanceSummary{}, err
	}
	payouts, err := s.repo.ListPayouts(ctx, domain.PayoutFilter{SellerID: sellerID})
	if err != nil {
		return domain.BalanceSummary{}, err
	}

	summary := domain.BalanceSummary{
		SellerID:          sellerID,
		PendingBalance:    finance.PendingBalance,
		AvailableBalance:  finance.AvailableBalance,
		InTransitBalance:  decimal.Zero,
		TotalEarnings:     finance.TotalEarnings,
		TotalPaidOut:      finance.TotalPaidOut,
		CommissionsByStat: make(map[string]int, len(commissionStatuses)),
		GeneratedAt:       s.now(),
	}
	for _, status := range commissionStatuses {
		summary.CommissionsByStat[status] = 0
	}
	for _, c := range commissions {
		summary.CommissionsByStat[c.Status]++
	}
	for _, p := range payouts {
		if domain.IsOpenPayout(p.Status) {
			summary.OpenPayouts++
			summary.InTransitBalance = summary.InTransitBalance.Add(p.TotalAmount)
		}
	}

	if genErr == nil {
		if err := s.summaries.Set(ctx, &summary, gen, s.cfg.SummaryCacheTTL); err != nil {
			s.logger.Warn("summary cache write failed", zap.String("seller_id", sellerID), zap.Error(err))
		}
	}
	return summary, nil
}

func (s *Service) CommissionStats(ctx context.Context, filter domain.CommissionFilter) (domain.CommissionStats, error) {
	if actor, ok := ActorFromContext(ctx); ok && actor.Role == domain.RoleSeller {
		filter.SellerID = actor.Subject
	}
	filter.Limit = 0
	commissions, err := s.repo.ListCommissions(ctx, filter)
	if err != nil {
		return domain.CommissionStats{}, err
	}

	byStatus := make(map[string]*domain.StatusTotals, len(commissionStatuses))
	for _, status := range commissionStatuses {
		byStatus[status] = &domain.StatusTotals{Status: status}
	}
	total := domain.StatusTotals{Status: "all"}
	for _, c := range commissions {
		row, ok := byStatus[c.Status]
		if !ok {
			continue
		}
		addCommission(row, c)
		addCommission(&total, c)
	}

	stats := domain.CommissionStats{
		SellerID: filter.SellerID,
		ByStatus: make([]domain.StatusTotals, 0, len(commissionStatuses)),
		Total:    total,
	}
	if !filter.From.IsZero() {
		from := filter.From
		stats.From = &from
	}
	if !filter.To.IsZero() {
		to := filter.To
		stats.To = &to
	}
	for _, status := range commissionStatuses {
		stats.ByStatus = append(stats.ByStatus, *byStatus[status])
	}
	return stats, nil
}

func addCommission(row *domain.StatusTotals, c domain.Commission) {
	row.Count++
	row.OrderAmount = row.OrderAmount.Add(c.OrderAmount)
	row.CommissionAmount = row.CommissionAmount.Add(c.CommissionAmount)
	row.PlatformFee = row.PlatformFee.Add(c.PlatformFee)
	row.NetAmount = row.NetAmount.Add(c.NetAmount)
}

// MonthlyBreakdown returns twelve rows for the UTC calendar year. Cancelled
// commissions are left out of the amounts; paid out is keyed by completion.
func (s *Service) MonthlyBreakdown(ctx context.Context, sellerID string, year int) (domain.MonthlyBreakdown, error) {
	if err := s.authorizeSeller(ctx, sellerID); err != nil {
		return domain.MonthlyBreakdown{}, err
	}
	if year < 2000 || year > 9999 {
		return domain.MonthlyBreakdown{}, newError(store.ErrValidation, "report.validation", "year %d out of range", year)
	}

	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)
	commissions, err := s.repo.ListCommissions(ctx, domain.CommissionFilter{SellerID: sellerID, From: from, To: to})
	if err != nil {
		return domain.MonthlyBreakdown{}, err
	}
	payouts, err := s.repo.ListPayouts(ctx, domain.PayoutFilter{SellerID: sellerID, Status: domain.PayoutStatusCompleted})
	if err != nil {
		return domain.MonthlyBreakdown{}, err
	}

	out := domain.MonthlyBreakdown{SellerID: sellerID, Year: year, Months: make([]domain.MonthlyRow, 12)}
	for i := range out.Months {
		out.Months[i].Month = i + 1
	}
	for _, c := range commissions {
		if c.Status == domain.CommissionStatusCancelled {
			continue
		}
		row := &out.Months[c.CreatedAt.UTC().Month()-1]
		row.Commissions++
		row.OrderAmount = row.OrderAmount.Add(c.OrderAmount)
		row.CommissionAmount = row.CommissionAmount.Add(c.CommissionAmount)
		row.PlatformFee = row.PlatformFee.Add(c.PlatformFee)
		row.NetAmount = row.NetAmount.Add(c.NetAmount)
	}
	for _, p := range payouts {
		if p.CompletedAt == nil || p.CompletedAt.UTC().Year() != year {
			continue
		}
		row := &out.Months[p.CompletedAt.UTC().Month()-1]
		row.PaidOut = row.PaidOut.Add(p.TotalAmount)
	}
	return out, nil
}

func (s *Service) SellerTotals(ctx context.Context, from time.Time, to time.Time) ([]domain.SellerTotals, error) {
	if err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	commissions, err := s.repo.ListCommissions(ctx, domain.CommissionFilter{From: from, To: to})
	if err != nil {
		return nil, err
	}

	bySeller := make(map[string]*domain.SellerTotals)
	for _, c := range commissions {
		if c.Status == domain.CommissionStatusCancelled {
			continue
		}
		row, ok := bySeller[c.SellerID]
		if !ok {
			row = &domain.SellerTotals{SellerID: c.SellerID}
			bySeller[c.SellerID] = row
		}
		row.Commissions++
		row.OrderAmount = row.OrderAmount.Add(c.OrderAmount)
		row.CommissionAmount = row.CommissionAmount.Add(c.CommissionAmount)
		row.NetAmount = row.NetAmount.Add(c.NetAmount)
	}

	out := make([]domain.SellerTotals, 0, len(bySeller))
	for _, row := range bySeller {
		out = append(out, *row)
	}
	slices.SortFunc(out, func(a, b domain.SellerTotals) int {
		return strings.Compare(a.SellerID, b.SellerID)
	})
	return out, nil
}

func (s *Service) PayoutStats(ctx context.Context, sellerID string) ([]domain.PayoutStatusTotals, error) {
	if actor, ok := ActorFromContext(ctx); ok && actor.Role == domain.RoleSeller {
		sellerID = actor.Subject
	}
	payouts, err := s.repo.ListPayouts(ctx, domain.PayoutFilter{SellerID: sellerID})
	if err != nil {
		return nil, err
	}

	byStatus := make(map[string]*domain.PayoutStatusTotals, len(payoutStatuses))
	for _, status := range payoutStatuses {
		byStatus[status] = &domain.PayoutStatusTotals{Status: status}
	}
	for _, p := range payouts {
		row, ok := byStatus[p.Status]
		if !ok {
			continue
		}
		row.Count++
		row.TotalAmount = row.TotalAmount.Add(p.TotalAmount)
		row.TransactionFee = row.TransactionFee.Add(p.TransactionFee)
		row.NetAmount = row.NetAmount.Add(p.NetAmount)
	}

	out := make([]domain.PayoutStatusTotals, 0, len(payoutStatuses))
	for _, status := range payoutStatuses {
		out = append(out, *byStatus[status])
	}
	return out, nil
}

// Reconcile recomputes the running balances from commission and payout
// history and reports whether the stored figures agree.
func (s *Service) Reconcile(ctx context.Context, sellerID string) (domain.Reconciliation, error) {
	if err := s.authorizeSeller(ctx, sellerID); err != nil {
		return domain.Reconciliation{}, err
	}
	finance, err := s.repo.GetSellerFinance(ctx, sellerID)
	if err != nil {
		return domain.Reconciliation{}, classify(err, "seller")
	}
	commissions, err := s.repo.ListCommissions(ctx, domain.CommissionFilter{SellerID: sellerID})
	if err != nil {
		return domain.Reconciliation{}, err
	}
	payouts, err := s.repo.ListPayouts(ctx, domain.PayoutFilter{SellerID: sellerID})
	if err != nil {
		return domain.Reconciliation{}, err
	}

	open := make(map[string]bool)
	out := domain.Reconciliation{
		SellerID:          sellerID,
		RecordedPending:   finance.PendingBalance,
		RecordedAvailable: finance.AvailableBalance,
		RecordedEarnings:  finance.TotalEarnings,
		ComputedPending:   decimal.Zero,
		ComputedAvailable: decimal.Zero,
		ComputedEarnings:  decimal.Zero,
		InTransit:         decimal.Zero,
		PaidInOpenPayouts: decimal.Zero,
	}
	for _, p := range payouts {
		if domain.IsOpenPayout(p.Status) {
			open[p.ID] = true
			out.InTransit = out.InTransit.Add(p.TotalAmount)
		}
	}
	for _, c := range commissions {
		switch c.Status {
		case domain.CommissionStatusPending:
			out.ComputedPending = out.ComputedPending.Add(c.NetAmount)
		case domain.CommissionStatusApproved:
			out.ComputedAvailable = out.ComputedAvailable.Add(c.NetAmount)
			out.ComputedEarnings = out.ComputedEarnings.Add(c.NetAmount)
		case domain.CommissionStatusPaid:
			out.ComputedEarnings = out.ComputedEarnings.Add(c.NetAmount)
			if open[c.PayoutReference] {
				out.PaidInOpenPayouts = out.PaidInOpenPayouts.Add(c.NetAmount)
			}
		}
	}

	out.Balanced = out.RecordedPending.Equal(out.ComputedPending) &&
		out.RecordedAvailable.Equal(out.ComputedAvailable) &&
		out.RecordedEarnings.Equal(out.ComputedEarnings) &&
		out.InTransit.Equal(out.PaidInOpenPayouts)
	if !out.Balanced {
		s.logger.Warn("seller balance drift",
			zap.String("seller_id", sellerID),
			zap.String("recorded_available", out.RecordedAvailable.String()),
			zap.String("computed_available", out.ComputedAvailable.String()),
			zap.String("recorded_pending", out.RecordedPending.String()),
			zap.String("computed_pending", out.ComputedPending.String()),
		)
	}
	return out, nil
}
