package cache

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bracketlive/bracketd/internal/telemetry/metrics"
)

func TestMemory_RoundTrip(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	ok, err := m.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_MissReturnsNil(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()

	got, err := m.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, got)

	md, err := m.GetMetadata(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, md)
}

func TestMemory_InvalidTTL(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()

	assert.ErrorIs(t, m.Set(context.Background(), "k", []byte("v"), 0), ErrInvalidTTL)
	assert.ErrorIs(t, m.Set(context.Background(), "k", []byte("v"), -time.Second), ErrInvalidTTL)
}

func TestMemory_ExpiryAndNonResurrection(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 50*time.Millisecond))
	time.Sleep(80 * time.Millisecond)

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got, "expired value must not resurrect")

	ok, err := m.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	md, err := m.GetMetadata(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, md, "metadata for an expired key must be nil")
}

func TestMemory_MetadataDecreases(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 3*time.Second))

	md1, err := m.GetMetadata(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, md1)
	assert.LessOrEqual(t, md1.TTL, int64(3))
	assert.True(t, md1.ExpiresAt.After(md1.CreatedAt))

	time.Sleep(1100 * time.Millisecond)

	md2, err := m.GetMetadata(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, md2)
	assert.Less(t, md2.TTL, md1.TTL)
}

func TestMemory_MetadataSubSecondRemainder(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 900*time.Millisecond))

	md, err := m.GetMetadata(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, int64(1), md.TTL, "a readable entry must report positive seconds remaining")

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestMemory_HitCountedByBackend(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()
	ctx := context.Background()

	counter := metrics.CacheHits.WithLabelValues(m.Name())
	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))

	before := testutil.ToFloat64(counter)
	_, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))

	// Misses and expired reads do not count.
	_, err = m.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestMemory_SetOverwrites(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("old"), time.Minute))
	require.NoError(t, m.Set(ctx, "k", []byte("new"), time.Hour))

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)

	md, err := m.GetMetadata(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Greater(t, md.TTL, int64(60), "overwrite must replace the TTL, not merge")
}

func TestMemory_DeleteAbsentKeySucceeds(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()

	assert.NoError(t, m.Delete(context.Background(), "never-written"))
}

func TestMemory_Clear(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, m.Clear(ctx))

	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemory_SweepRemovesExpired(t *testing.T) {
	m := NewMemory(30 * time.Millisecond)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "short", []byte("v"), 20*time.Millisecond))
	require.NoError(t, m.Set(ctx, "long", []byte("v"), time.Minute))

	time.Sleep(120 * time.Millisecond)

	m.mu.RLock()
	_, shortThere := m.entries["short"]
	_, longThere := m.entries["long"]
	m.mu.RUnlock()
	assert.False(t, shortThere, "sweep should remove expired entries without an access")
	assert.True(t, longThere)
}

func TestMemory_CloseEmptiesAndStops(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, m.Close())

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Close is idempotent.
	assert.NoError(t, m.Close())
}

func TestTournamentKey(t *testing.T) {
	assert.Equal(t, "tournament:genesis-9", TournamentKey("genesis-9"))
	// Slugs are opaque; no normalization.
	assert.Equal(t, "tournament:Mixed/Case", TournamentKey("Mixed/Case"))
}
