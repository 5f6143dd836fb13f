package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrWithExpiryCountsAndResets(t *testing.T) {
	m := NewMemoryStore()
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := m.IncrWithExpiry(ctx, "counter", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Past the TTL the counter starts over.
	now = now.Add(61 * time.Second)
	got, err := m.IncrWithExpiry(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestGetHonorsTTL(t *testing.T) {
	m := NewMemoryStore()
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))
	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	now = now.Add(2 * time.Minute)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := m.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSetNX(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "k", "first", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.SetNX(ctx, "k", "second", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestSetOperations(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.SAdd(ctx, "s", "b", "a", "b"))
	members, err := m.SMembers(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, members)

	ok, err := m.SIsMember(ctx, "s", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := m.SCard(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, m.SRem(ctx, "s", "a"))
	ok, err = m.SIsMember(ctx, "s", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSortedSetRange(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.ZAdd(ctx, "z",
		Member{Score: 3, Member: "c"},
		Member{Score: 1, Member: "a"},
		Member{Score: 2, Member: "b"},
	))

	got, err := m.ZRangeByScore(ctx, "z", 1, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	require.NoError(t, m.ZRemRangeByScore(ctx, "z", 0, 1))
	n, err := m.ZCard(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestListPushTrimRange(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.LPush(ctx, "l", "one", "two", "three"))
	got, err := m.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "two", "one"}, got)

	require.NoError(t, m.LTrim(ctx, "l", 0, 1))
	got, err = m.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "two"}, got)
}

func TestHashCounters(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	n, err := m.HIncrBy(ctx, "h", "total", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = m.HIncrBy(ctx, "h", "total", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	fields, err := m.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"total": "3"}, fields)
}

func TestFailAllSimulatesOutage(t *testing.T) {
	m := NewMemoryStore()
	m.FailAll = true
	ctx := context.Background()

	_, err := m.IncrWithExpiry(ctx, "k", time.Minute)
	assert.Error(t, err)
	_, err = m.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, m.Set(ctx, "k", "v", 0))
	assert.Error(t, m.Ping(ctx))

	m.FailAll = false
	assert.NoError(t, m.Ping(ctx))
}

func TestDeleteClearsAllShapes(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", 0))
	require.NoError(t, m.SAdd(ctx, "k", "m"))
	require.NoError(t, m.LPush(ctx, "k", "x"))
	require.NoError(t, m.Delete(ctx, "k"))

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	members, err := m.SMembers(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, members)
}
