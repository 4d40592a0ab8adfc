package events

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDispatcherDeliversToEveryHandler(t *testing.T) {
	d, err := NewDispatcher(4, zap.NewNop())
	require.NoError(t, err)
	defer d.Close()

	var (
		mu    sync.Mutex
		kinds []string
		count atomic.Int32
	)
	d.Subscribe(func(_ context.Context, ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})
	d.Subscribe(func(_ context.Context, _ Event) {
		count.Add(1)
	})

	for i := 0; i < 10; i++ {
		d.Publish(context.Background(), Event{Kind: PayoutCompleted, EntityID: "pay-1", At: time.Now()})
	}
	d.Wait()

	assert.Len(t, kinds, 10)
	assert.Equal(t, int32(10), count.Load())
}

func TestDispatcherSurvivesPanickingHandler(t *testing.T) {
	d, err := NewDispatcher(1, zap.NewNop())
	require.NoError(t, err)
	defer d.Close()

	var delivered atomic.Bool
	d.Subscribe(func(context.Context, Event) { panic("boom") })
	d.Subscribe(func(context.Context, Event) { delivered.Store(true) })

	d.Publish(context.Background(), Event{Kind: TierCreated, EntityID: "tier-1"})
	d.Wait()

	assert.True(t, delivered.Load())
}

func TestHandlersIgnoreCallerCancellation(t *testing.T) {
	d, err := NewDispatcher(2, zap.NewNop())
	require.NoError(t, err)
	defer d.Close()

	var ctxErr atomic.Value
	d.Subscribe(func(ctx context.Context, _ Event) {
		if ctx.Err() != nil {
			ctxErr.Store(ctx.Err())
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Publish(ctx, Event{Kind: PayoutFailed, EntityID: "pay-2"})
	d.Wait()

	assert.Nil(t, ctxErr.Load())
}
