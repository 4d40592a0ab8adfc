package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sellerledger/backend/internal/domain"
	"sellerledger/backend/internal/events"
	"sellerledger/backend/internal/store"
)

type fakeLookup struct {
	sellers map[string]domain.SellerFinance
	payouts map[string]domain.Payout
}

func (f fakeLookup) GetSellerFinance(_ context.Context, id string) (*domain.SellerFinance, error) {
	s, ok := f.sellers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (f fakeLookup) GetPayout(_ context.Context, id string) (*domain.Payout, error) {
	p, ok := f.payouts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

type captureNotifier struct {
	sent []Message
	err  error
}

func (c *captureNotifier) Send(_ context.Context, msg Message) error {
	c.sent = append(c.sent, msg)
	return c.err
}

func fixture() fakeLookup {
	return fakeLookup{
		sellers: map[string]domain.SellerFinance{
			"s1": {SellerID: "s1", Name: "Northwind Crafts", Email: "payouts@northwind.test"},
			"s2": {SellerID: "s2"},
		},
		payouts: map[string]domain.Payout{
			"pay-1": {
				ID:             "pay-1",
				SellerID:       "s1",
				PayoutNumber:   "PAY-000001",
				PaymentMethod:  "bank_transfer",
				TotalAmount:    decimal.RequireFromString("8"),
				TransactionFee: decimal.RequireFromString("0.08"),
				NetAmount:      decimal.RequireFromString("7.92"),
			},
		},
	}
}

func TestSubscriberEmailsOnCompletion(t *testing.T) {
	n := &captureNotifier{}
	h := Subscriber(fixture(), n, zap.NewNop())

	h(context.Background(), events.Event{Kind: events.PayoutCompleted, SellerID: "s1", EntityID: "pay-1"})

	require.Len(t, n.sent, 1)
	assert.Equal(t, "payouts@northwind.test", n.sent[0].To)
	assert.Equal(t, "Payout PAY-000001 completed", n.sent[0].Subject)
	assert.Contains(t, n.sent[0].Body, "Net amount: 7.92")
}

func TestSubscriberIncludesFailureReason(t *testing.T) {
	n := &captureNotifier{}
	h := Subscriber(fixture(), n, zap.NewNop())

	h(context.Background(), events.Event{Kind: events.PayoutFailed, SellerID: "s1", EntityID: "pay-1", Reason: "account closed"})

	require.Len(t, n.sent, 1)
	assert.Contains(t, n.sent[0].Body, "account closed")
}

func TestSubscriberSkipsIrrelevantEvents(t *testing.T) {
	n := &captureNotifier{err: errors.New("smtp down")}
	h := Subscriber(fixture(), n, zap.NewNop())

	h(context.Background(), events.Event{Kind: events.CommissionApproved, SellerID: "s1", EntityID: "com-1"})
	h(context.Background(), events.Event{Kind: events.PayoutCompleted, SellerID: "s2", EntityID: "pay-1"})
	h(context.Background(), events.Event{Kind: events.PayoutCompleted, SellerID: "missing", EntityID: "pay-1"})
	assert.Empty(t, n.sent)

	h(context.Background(), events.Event{Kind: events.PayoutCompleted, SellerID: "s1", EntityID: "pay-1"})
	assert.Len(t, n.sent, 1)
}
