package mirror

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreload_EstimatesAndWarms(t *testing.T) {
	_, replica := newOrigin(t)
	ctx := context.Background()

	m := newMirror(t, replica, newDS(t), Options{})
	require.NoError(t, m.init(ctx))
	require.NoError(t, m.preload(ctx))

	assert.Equal(t, uint64(6), m.estimate.Load())
	assert.Equal(t, uint64(6), m.download.Blocks())
	for i := range uint64(6) {
		has, err := replica.Core().Has(ctx, i)
		require.NoError(t, err)
		assert.True(t, has, "block %d", i)
	}
	assert.InDelta(t, 0.99, m.downloadProgress(), 1e-9)
}

func TestPreload_HonoursFilter(t *testing.T) {
	_, replica := newOrigin(t)
	ctx := context.Background()

	m := newMirror(t, replica, newDS(t), Options{
		Filter: func(key string) bool { return key != "/a.txt" },
	})
	require.NoError(t, m.init(ctx))
	require.NoError(t, m.preload(ctx))

	assert.Equal(t, uint64(3), m.estimate.Load())
	has, err := replica.Core().Has(ctx, 0)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestPreload_OriginHasNothingToFetch(t *testing.T) {
	origin, _ := newOrigin(t)
	ctx := context.Background()

	m := newMirror(t, origin, newDS(t), Options{})
	require.NoError(t, m.init(ctx))
	require.NoError(t, m.preload(ctx))
	assert.Equal(t, uint64(0), m.estimate.Load())
	assert.Equal(t, 0.0, m.downloadProgress())
}

func TestPreload_PassStillConverges(t *testing.T) {
	_, replica := newOrigin(t)
	dst := newDS(t)

	m := newMirror(t, replica, dst, Options{})
	mon := m.Monitor(0)
	require.NoError(t, m.Done(context.Background()))

	assert.Equal(t, tree(t, replica), tree(t, dst))
	assert.Equal(t, 1.0, mon.Snapshot().Download.Progress)
	assert.GreaterOrEqual(t, mon.Snapshot().Download.Blocks, uint64(6))
}

func TestPreload_Disabled(t *testing.T) {
	_, replica := newOrigin(t)
	m := newMirror(t, replica, newDS(t), Options{NoPreload: true, DryRun: true})
	require.NoError(t, m.Done(context.Background()))

	// A dry run reads nothing and nothing was preloaded.
	assert.Equal(t, uint64(0), m.download.Blocks())
}
