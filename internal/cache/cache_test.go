package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryKeyIsScopedByGeneration(t *testing.T) {
	assert.Equal(t, "ledger:summary:s1:0", SummaryKey("s1", 0))
	assert.NotEqual(t, SummaryKey("s1", 1), SummaryKey("s1", 2))
	assert.NotEqual(t, GenerationKey("s1"), SummaryKey("s1", 0))
}

func TestNoopSummaryCacheNeverHits(t *testing.T) {
	var c SummaryCache = NoopSummaryCache{}
	ctx := context.Background()

	gen, err := c.Generation(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, nil, gen, 0))
	_, ok, err := c.Get(ctx, "s1", gen)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Invalidate(ctx, "s1"))
}
