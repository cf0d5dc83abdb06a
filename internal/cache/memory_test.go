package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, ok, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	got[0] = 'x'
	again, _, _ := m.Get(ctx, "k")
	assert.Equal(t, []byte("v"), again, "callers cannot mutate stored values")

	require.NoError(t, m.Delete(ctx, "k"))
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "short", []byte("1"), time.Minute))
	require.NoError(t, m.Set(ctx, "long", []byte("2"), time.Hour))
	require.NoError(t, m.Set(ctx, "forever", []byte("3"), 0))

	now = now.Add(59 * time.Second)
	_, ok, _ := m.Get(ctx, "short")
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok, _ = m.Get(ctx, "short")
	assert.False(t, ok, "entry expires exactly at its TTL")

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())

	_, ok, _ = m.Get(ctx, "forever")
	assert.True(t, ok)
}

func TestJSONHelpers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	type point struct{ Lat, Lon float64 }
	require.NoError(t, SetJSON(ctx, m, "p", point{48.85, 2.35}, time.Minute))

	var got point
	ok, err := GetJSON(ctx, m, "p", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, point{48.85, 2.35}, got)

	ok, err = GetJSON(ctx, m, "absent", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "broken", []byte("{"), time.Minute))
	_, err = GetJSON(ctx, m, "broken", &got)
	assert.Error(t, err)
}
