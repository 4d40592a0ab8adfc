package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sellerledger/backend/internal/cache"
	"sellerledger/backend/internal/domain"
	"sellerledger/backend/internal/events"
	"sellerledger/backend/internal/store"
	"sellerledger/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// LedgerConfig carries the platform-wide rates. It is fixed at construction.
type LedgerConfig struct {
	DefaultCommissionRate    decimal.Decimal
	DefaultPlatformFeeRate   decimal.Decimal
	PayoutTransactionFeeRate decimal.Decimal
	SummaryCacheTTL          time.Duration
}

type Service struct {
	repo      store.Repository
	orders    store.OrderSource
	cfg       LedgerConfig
	summaries cache.SummaryCache
	publisher events.Publisher
	logger    *zap.Logger
	validate  *validator.Validate
	now       func() time.Time
}

func New(repo store.Repository, orders store.OrderSource, cfg LedgerConfig, summaries cache.SummaryCache, publisher events.Publisher, logger *zap.Logger) *Service {
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SummaryCacheTTL <= 0 {
		cfg.SummaryCacheTTL = 30 * time.Second
	}

	return &Service{
		repo:      repo,
		orders:    orders,
		cfg:       cfg,
		summaries: summaries,
		publisher: publisher,
		logger:    logger,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Config() LedgerConfig {
	return s.cfg
}

// authorizeSeller lets admins and internal callers through and pins seller
// actors to their own records.
func (s *Service) authorizeSeller(ctx context.Context, sellerID string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil
	}
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleSystem, domain.RoleRail:
		return nil
	case domain.RoleSeller:
		if actor.Subject == sellerID {
			return nil
		}
	}
	return newError(ErrForbidden, "seller.forbidden", "actor %s may not access seller %s", actor.Subject, sellerID)
}

func (s *Service) requireRole(ctx context.Context, roles ...string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil
	}
	for _, role := range roles {
		if actor.Role == role {
			return nil
		}
	}
	return newError(ErrForbidden, "role.forbidden", "role %s may not perform this operation", actor.Role)
}

func (s *Service) publish(ctx context.Context, kind string, sellerID string, entityID string, amount decimal.Decimal, reason string) {
	s.publisher.Publish(ctx, events.Event{
		ID:       xid.New("evt"),
		Kind:     kind,
		SellerID: sellerID,
		EntityID: entityID,
		Amount:   amount,
		Reason:   reason,
		At:       s.now(),
	})
}

func (s *Service) invalidateSummary(ctx context.Context, sellerID string) {
	if err := s.summaries.Invalidate(ctx, sellerID); err != nil {
		s.logger.Warn("summary cache invalidation failed", zap.String("seller_id", sellerID), zap.Error(err))
	}
}
