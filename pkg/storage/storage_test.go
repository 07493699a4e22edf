package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vjranagit/bouncedash/pkg/types"
)

func newTestStore(t *testing.T) SnapshotStore {
	store, err := NewSnapshotStore(&Config{CompressionLevel: 3})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSnapshotStorePutAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap := &types.Snapshot{
		Metrics: types.Metrics{AdequacyRate: 66.67, SavingsRate: 50.41},
		Chart: &types.ChartDescription{
			Categories: []string{"00:00", "08:00", "16:00"},
			Series: types.ChartSeries{
				True:      []float64{10, 10, 10},
				Predicted: []float64{12, 8, 10},
			},
		},
		UpdatedAt: time.Date(2024, 5, 17, 9, 0, 0, 0, time.UTC),
	}

	require.NoError(t, store.Put(ctx, "session-a", snap))

	got, err := store.Get(ctx, "session-a")
	require.NoError(t, err)
	assert.Equal(t, snap.Metrics, got.Metrics)
	assert.Equal(t, snap.Chart, got.Chart)
	assert.True(t, snap.UpdatedAt.Equal(got.UpdatedAt))
}

func TestSnapshotStoreNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotStoreReplacesInFull(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &types.Snapshot{
		Chart: &types.ChartDescription{
			Categories: []string{"a", "b", "c", "d"},
			Series: types.ChartSeries{
				True:      []float64{1, 2, 3, 4},
				Predicted: []float64{1, 2, 3, 4},
			},
		},
		UpdatedAt: time.Now(),
	}
	second := &types.Snapshot{
		Metrics: types.Metrics{AdequacyRate: 100},
		Chart: &types.ChartDescription{
			Categories: []string{"x"},
			Series: types.ChartSeries{
				True:      []float64{7},
				Predicted: []float64{9},
			},
		},
		UpdatedAt: time.Now(),
	}

	require.NoError(t, store.Put(ctx, "s", first))
	require.NoError(t, store.Put(ctx, "s", second))

	got, err := store.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, second.Chart, got.Chart)
	assert.Equal(t, 100.0, got.Metrics.AdequacyRate)
}

func TestSnapshotStoreSessionsAreIsolated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "one", &types.Snapshot{Metrics: types.Metrics{SavingsRate: 1}}))
	require.NoError(t, store.Put(ctx, "two", &types.Snapshot{Metrics: types.Metrics{SavingsRate: 2}}))

	one, err := store.Get(ctx, "one")
	require.NoError(t, err)
	two, err := store.Get(ctx, "two")
	require.NoError(t, err)

	assert.Equal(t, 1.0, one.Metrics.SavingsRate)
	assert.Equal(t, 2.0, two.Metrics.SavingsRate)
	assert.Nil(t, one.Chart)
}

func TestSnapshotStoreEmptyChart(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap := &types.Snapshot{
		Chart: &types.ChartDescription{
			Categories: []string{},
			Series:     types.ChartSeries{True: []float64{}, Predicted: []float64{}},
		},
	}
	require.NoError(t, store.Put(ctx, "empty", snap))

	got, err := store.Get(ctx, "empty")
	require.NoError(t, err)
	require.NotNil(t, got.Chart)
	assert.Empty(t, got.Chart.Categories)
}

func TestSnapshotStoreCanceledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.Put(ctx, "s", &types.Snapshot{}), context.Canceled)
	_, err := store.Get(ctx, "s")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnapshotStoreDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "s", &types.Snapshot{Metrics: types.Metrics{SavingsRate: 3}}))
	require.NoError(t, store.Delete(ctx, "s"))

	_, err := store.Get(ctx, "s")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, store.Delete(ctx, "never-stored"))
}
