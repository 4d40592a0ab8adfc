package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sellerledger/backend/internal/domain"
	"sellerledger/backend/internal/store"
	"sellerledger/backend/internal/xid"
)

type Store struct {
	mu                 sync.RWMutex
	sellers            map[string]domain.SellerFinance
	settings           map[string]domain.SellerCommissionSettings
	tiers              map[string]domain.CommissionTier
	commissionsByID    map[string]domain.Commission
	commissionByItemID map[string]string
	payoutsByID        map[string]domain.Payout
	orderLines         map[string]domain.OrderLine
	completedSales     map[string]decimal.Decimal
}

func New() *Store {
	return &Store{
		sellers:            make(map[string]domain.SellerFinance),
		settings:           make(map[string]domain.SellerCommissionSettings),
		tiers:              make(map[string]domain.CommissionTier),
		commissionsByID:    make(map[string]domain.Commission),
		commissionByItemID: make(map[string]string),
		payoutsByID:        make(map[string]domain.Payout),
		orderLines:         make(map[string]domain.OrderLine),
		completedSales:     make(map[string]decimal.Decimal),
	}
}

// NewSeeded returns a store with demo sellers, tiers and settled orders for
// local development.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, seller := range []domain.SellerFinance{
		{SellerID: "seller-001", Name: "Northwind Crafts", Email: "finance@northwind.example"},
		{SellerID: "seller-002", Name: "Blue Harbor Goods", Email: "payouts@blueharbor.example"},
	} {
		seller.UpdatedAt = now
		s.sellers[seller.SellerID] = seller
	}

	for _, tier := range []domain.CommissionTier{
		{ID: "tier-bronze", Name: "Bronze", MinSales: decimal.Zero, MaxSales: decimal.RequireFromString("999.99"), CommissionRate: decimal.NewFromInt(10), PlatformFeeRate: decimal.NewFromInt(2), Priority: 30},
		{ID: "tier-silver", Name: "Silver", MinSales: decimal.NewFromInt(1000), MaxSales: decimal.RequireFromString("9999.99"), CommissionRate: decimal.NewFromInt(8), PlatformFeeRate: decimal.RequireFromString("1.5"), Priority: 20},
		{ID: "tier-gold", Name: "Gold", MinSales: decimal.NewFromInt(10000), MaxSales: decimal.NewFromInt(999999999), CommissionRate: decimal.NewFromInt(6), PlatformFeeRate: decimal.NewFromInt(1), Priority: 10},
	} {
		tier.IsActive = true
		tier.CreatedAt = now
		tier.UpdatedAt = now
		s.tiers[tier.ID] = tier
	}

	s.AddOrderLine(domain.OrderLine{OrderID: "order-1001", OrderItemID: "item-1001-1", ProductID: "prod-mug", SellerID: "seller-001", LineTotal: decimal.NewFromInt(100)}, true)
	s.AddOrderLine(domain.OrderLine{OrderID: "order-1001", OrderItemID: "item-1001-2", ProductID: "prod-bowl", SellerID: "seller-001", LineTotal: decimal.RequireFromString("250.50")}, true)
	s.AddOrderLine(domain.OrderLine{OrderID: "order-1002", OrderItemID: "item-1002-1", ProductID: "prod-rope", SellerID: "seller-002", LineTotal: decimal.NewFromInt(1200)}, true)
	s.AddOrderLine(domain.OrderLine{OrderID: "order-1003", OrderItemID: "item-1003-1", ProductID: "prod-house-brand", LineTotal: decimal.NewFromInt(40)}, true)

	return s
}

// AddOrderLine registers an order line owned by the order subsystem. Lines of
// completed orders count towards the seller's sales history.
func (s *Store) AddOrderLine(line domain.OrderLine, completed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orderLines[orderLineKey(line.OrderID, line.OrderItemID)] = line
	if completed && line.SellerID != "" {
		s.completedSales[line.SellerID] = s.completedSales[line.SellerID].Add(line.LineTotal)
	}
}

func (s *Store) GetOrderLine(_ context.Context, orderID string, orderItemID string) (*domain.OrderLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	line, ok := s.orderLines[orderLineKey(orderID, orderItemID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &line, nil
}

func (s *Store) SellerCompletedSales(_ context.Context, sellerID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completedSales[sellerID], nil
}

func (s *Store) UpsertSeller(_ context.Context, seller domain.SellerFinance) (*domain.SellerFinance, error) {
	if seller.SellerID == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.sellers[seller.SellerID]
	if !ok {
		existing = domain.SellerFinance{SellerID: seller.SellerID}
	}
	existing.Name = seller.Name
	existing.Email = seller.Email
	existing.UpdatedAt = now
	s.sellers[seller.SellerID] = existing

	out := existing
	return &out, nil
}

func (s *Store) GetSellerFinance(_ context.Context, sellerID string) (*domain.SellerFinance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	finance, ok := s.sellers[sellerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &finance, nil
}

func (s *Store) GetSettings(_ context.Context, sellerID string) (*domain.SellerCommissionSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, ok := s.settings[sellerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &settings, nil
}

func (s *Store) UpsertSettings(_ context.Context, settings domain.SellerCommissionSettings) (*domain.SellerCommissionSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sellers[settings.SellerID]; !ok {
		return nil, store.ErrNotFound
	}
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now().UTC()
	}
	s.settings[settings.SellerID] = settings
	out := settings
	return &out, nil
}

func (s *Store) CreateTier(_ context.Context, tier domain.CommissionTier) (*domain.CommissionTier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tier.ID == "" {
		tier.ID = xid.New("tier")
	}
	if _, exists := s.tiers[tier.ID]; exists {
		return nil, store.ErrValidation
	}
	now := time.Now().UTC()
	if tier.CreatedAt.IsZero() {
		tier.CreatedAt = now
	}
	tier.UpdatedAt = tier.CreatedAt
	s.tiers[tier.ID] = tier
	out := tier
	return &out, nil
}

func (s *Store) UpdateTier(_ context.Context, tier domain.CommissionTier) (*domain.CommissionTier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tiers[tier.ID]
	if !ok || existing.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	tier.CreatedAt = existing.CreatedAt
	tier.DeletedAt = nil
	if tier.UpdatedAt.IsZero() {
		tier.UpdatedAt = time.Now().UTC()
	}
	s.tiers[tier.ID] = tier
	out := tier
	return &out, nil
}

func (s *Store) SoftDeleteTier(_ context.Context, id string, at time.Time) (*domain.CommissionTier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tier, ok := s.tiers[id]
	if !ok || tier.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	tier.IsActive = false
	tier.DeletedAt = &at
	tier.UpdatedAt = at
	s.tiers[id] = tier
	out := tier
	return &out, nil
}

func (s *Store) GetTier(_ context.Context, id string) (*domain.CommissionTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tier, ok := s.tiers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &tier, nil
}

func (s *Store) ListTiers(_ context.Context, includeInactive bool) ([]domain.CommissionTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tiers := make([]domain.CommissionTier, 0, len(s.tiers))
	for _, t := range s.tiers {
		if !includeInactive && (!t.IsActive || t.DeletedAt != nil) {
			continue
		}
		tiers = append(tiers, t)
	}
	slices.SortFunc(tiers, func(a, b domain.CommissionTier) int {
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		return strings.Compare(a.ID, b.ID)
	})
	return tiers, nil
}

func (s *Store) FindCommissionByOrderItem(_ context.Context, orderItemID string) (*domain.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.commissionByItemID[orderItemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := s.commissionsByID[id]
	return &c, nil
}

func (s *Store) GetCommission(_ context.Context, id string) (*domain.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.commissionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) GetCommissions(_ context.Context, ids []string) ([]domain.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Commission, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.commissionsByID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) ListCommissions(_ context.Context, filter domain.CommissionFilter) ([]domain.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Commission, 0, 64)
	for _, c := range s.commissionsByID {
		if filter.SellerID != "" && c.SellerID != filter.SellerID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && c.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !c.CreatedAt.Before(filter.To) {
			continue
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.Commission) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return b.CreatedAt.Compare(a.CreatedAt)
		}
		return strings.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) RecordCommission(_ context.Context, commission domain.Commission) (*domain.Commission, bool, error) {
	if commission.OrderItemID == "" || commission.SellerID == "" {
		return nil, false, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, exists := s.commissionByItemID[commission.OrderItemID]; exists {
		existing := s.commissionsByID[id]
		return &existing, false, nil
	}

	finance, ok := s.sellers[commission.SellerID]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	if commission.ID == "" {
		commission.ID = xid.New("com")
	}
	if commission.CreatedAt.IsZero() {
		commission.CreatedAt = time.Now().UTC()
		commission.UpdatedAt = commission.CreatedAt
	}
	if err := domain.RecordPending(commission.NetAmount).Apply(&finance, commission.CreatedAt); err != nil {
		return nil, false, err
	}

	s.commissionsByID[commission.ID] = commission
	s.commissionByItemID[commission.OrderItemID] = commission.ID
	s.sellers[commission.SellerID] = finance

	out := commission
	return &out, true, nil
}

func (s *Store) TransitionCommission(_ context.Context, id string, mutate store.CommissionMutation) (*domain.Commission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.commissionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	next, change, err := mutate(current)
	if err != nil {
		return nil, err
	}

	finance, ok := s.sellers[current.SellerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := change.Apply(&finance, next.UpdatedAt); err != nil {
		return nil, err
	}

	s.commissionsByID[id] = next
	s.sellers[current.SellerID] = finance
	out := next
	return &out, nil
}

func (s *Store) CreatePayout(_ context.Context, draft domain.PayoutDraft) (*domain.Payout, error) {
	if len(draft.CommissionIDs) == 0 {
		return nil, store.ErrBusinessRule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	finance, ok := s.sellers[draft.SellerID]
	if !ok {
		return nil, store.ErrNotFound
	}

	locked := make([]domain.Commission, 0, len(draft.CommissionIDs))
	for _, id := range draft.CommissionIDs {
		c, ok := s.commissionsByID[id]
		if !ok {
			return nil, store.ErrNotFound
		}
		if c.SellerID != draft.SellerID || c.Status != domain.CommissionStatusApproved {
			return nil, fmt.Errorf("%w: commission %s is %s", store.ErrConflict, c.ID, c.Status)
		}
		locked = append(locked, c)
	}

	total := domain.SumNet(locked)
	if !total.Equal(draft.ExpectedTotal) {
		return nil, fmt.Errorf("%w: selection total changed from %s to %s", store.ErrConflict, draft.ExpectedTotal, total)
	}

	at := draft.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	payoutID := draft.ID
	if payoutID == "" {
		payoutID = xid.New("pay")
	}
	fee, net := domain.ComputePayoutFee(total, draft.TransactionFeeRate)
	seq := s.nextPayoutSeq()
	payout := domain.Payout{
		ID:                 payoutID,
		SellerID:           draft.SellerID,
		PayoutNumber:       domain.FormatPayoutNumber(seq),
		TotalAmount:        total,
		TransactionFeeRate: draft.TransactionFeeRate,
		TransactionFee:     fee,
		NetAmount:          net,
		PaymentMethod:      draft.PaymentMethod,
		PaymentDetails:     draft.PaymentDetails,
		Status:             domain.PayoutStatusPending,
		CreatedAt:          at,
		Items:              make([]domain.PayoutItem, 0, len(locked)),
	}

	paid := make([]domain.Commission, 0, len(locked))
	change := domain.BalanceChange{}
	for i, c := range locked {
		next, delta, err := domain.MarkPaid(c, payout.ID, at)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
		paid = append(paid, next)
		change = change.Add(delta)
		payout.Items = append(payout.Items, domain.PayoutItem{CommissionID: c.ID, Position: i + 1, Amount: c.NetAmount})
	}
	if err := change.Apply(&finance, at); err != nil {
		return nil, err
	}

	s.payoutsByID[payout.ID] = clonePayout(payout)
	for _, c := range paid {
		s.commissionsByID[c.ID] = c
	}
	s.sellers[draft.SellerID] = finance

	return &payout, nil
}

func (s *Store) GetPayout(_ context.Context, id string) (*domain.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payoutsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := clonePayout(p)
	return &out, nil
}

func (s *Store) ListPayouts(_ context.Context, filter domain.PayoutFilter) ([]domain.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Payout, 0, len(s.payoutsByID))
	for _, p := range s.payoutsByID {
		if filter.SellerID != "" && p.SellerID != filter.SellerID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, clonePayout(p))
	}
	slices.SortFunc(out, func(a, b domain.Payout) int {
		return strings.Compare(b.PayoutNumber, a.PayoutNumber)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) TransitionPayout(_ context.Context, id string, transition domain.PayoutTransition) (*domain.Payout, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.payoutsByID[id]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	next := clonePayout(current)
	changed, err := domain.ApplyPayoutTransition(&next, transition)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return &next, false, nil
	}

	finance, ok := s.sellers[next.SellerID]
	if !ok {
		return nil, false, store.ErrNotFound
	}

	reverted := make([]domain.Commission, 0, len(next.Items))
	change := domain.BalanceChange{}
	switch next.Status {
	case domain.PayoutStatusCompleted:
		change = domain.RecordPaidOut(next.TotalAmount)
	case domain.PayoutStatusFailed:
		for _, item := range next.Items {
			c, ok := s.commissionsByID[item.CommissionID]
			if !ok {
				return nil, false, store.ErrNotFound
			}
			if c.PayoutReference != next.ID {
				return nil, false, fmt.Errorf("%w: commission %s is not held by payout %s", store.ErrInvalidState, c.ID, next.ID)
			}
			back, delta, err := domain.RevertToApproved(c, transition.At)
			if err != nil {
				return nil, false, err
			}
			reverted = append(reverted, back)
			change = change.Add(delta)
		}
	}
	if err := change.Apply(&finance, transition.At); err != nil {
		return nil, false, err
	}

	s.payoutsByID[id] = clonePayout(next)
	for _, c := range reverted {
		s.commissionsByID[c.ID] = c
	}
	s.sellers[next.SellerID] = finance
	return &next, true, nil
}

func orderLineKey(orderID string, orderItemID string) string {
	return orderID + "|" + orderItemID
}

// nextPayoutSeq follows the highest stored payout number. Callers hold mu.
func (s *Store) nextPayoutSeq() int64 {
	var highest int64
	for _, p := range s.payoutsByID {
		highest = max(highest, domain.ParsePayoutNumber(p.PayoutNumber))
	}
	return highest + 1
}

func clonePayout(src domain.Payout) domain.Payout {
	dst := src
	dst.Items = slices.Clone(src.Items)
	return dst
}
