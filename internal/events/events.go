// Package events fans ledger state changes out to side-effect handlers.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	CommissionRecorded  = "commission.recorded"
	CommissionApproved  = "commission.approved"
	CommissionCancelled = "commission.cancelled"
	PayoutRequested     = "payout.requested"
	PayoutProcessing    = "payout.processing"
	PayoutCompleted     = "payout.completed"
	PayoutFailed        = "payout.failed"
	TierCreated         = "tier.created"
	TierUpdated         = "tier.updated"
	TierDeleted         = "tier.deleted"
	SettingsUpdated     = "settings.updated"
)

// Event is published after the state change it describes has committed.
type Event struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind"`
	SellerID string          `json:"seller_id,omitempty"`
	EntityID string          `json:"entity_id"`
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason,omitempty"`
	At       time.Time       `json:"at"`
}

type Handler func(ctx context.Context, ev Event)

type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) {}

// Dispatcher runs every subscribed handler for an event on a bounded worker
// pool. Handlers never see the caller's cancellation.
type Dispatcher struct {
	pool     *ants.Pool
	logger   *zap.Logger
	mu       sync.RWMutex
	handlers []Handler
	inflight sync.WaitGroup
}

func NewDispatcher(workers int, logger *zap.Logger) (*Dispatcher, error) {
	if workers < 1 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create event pool: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{pool: pool, logger: logger}, nil
}

func (d *Dispatcher) Subscribe(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

func (d *Dispatcher) Publish(ctx context.Context, ev Event) {
	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers...)
	d.mu.RUnlock()

	detached := context.WithoutCancel(ctx)
	for _, h := range handlers {
		d.inflight.Add(1)
		err := d.pool.Submit(func() {
			defer d.inflight.Done()
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("event handler panicked", zap.String("kind", ev.Kind), zap.String("entity_id", ev.EntityID), zap.Any("panic", r))
				}
			}()
			h(detached, ev)
		})
		if err != nil {
			d.inflight.Done()
			d.logger.Warn("event dropped", zap.String("kind", ev.Kind), zap.String("entity_id", ev.EntityID), zap.Error(err))
		}
	}
}

// Wait blocks until every submitted handler has returned.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

func (d *Dispatcher) Close() {
	d.Wait()
	d.pool.Release()
}

// AuditLogger writes one structured line per event.
func AuditLogger(logger *zap.Logger) Handler {
	return func(_ context.Context, ev Event) {
		logger.Info("ledger event",
			zap.String("event_id", ev.ID),
			zap.String("kind", ev.Kind),
			zap.String("seller_id", ev.SellerID),
			zap.String("entity_id", ev.EntityID),
			zap.String("amount", ev.Amount.StringFixed(2)),
			zap.String("reason", ev.Reason),
			zap.Time("at", ev.At),
		)
	}
}
