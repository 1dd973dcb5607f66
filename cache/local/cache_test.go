package local

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *LocalCache {
	c, err := NewCache(Config{GCInterval: time.Minute})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestGetSet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "user:1:xp", "35", 0))

	v, err := c.Get(ctx, "user:1:xp")
	require.NoError(t, err)
	assert.Equal(t, "35", v)
}

func TestGetMissing(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTTLExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "session:abc", "1", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, err := c.Get(ctx, "session:abc")
	assert.ErrorIs(t, err, ErrNotFound)
	ok, err := c.Exists(ctx, "session:abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDel_RemovesEveryKind(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "k", "v", 0)
	_ = c.LPush(ctx, "k", "a")
	_ = c.ZAdd(ctx, "k", 1, "m")

	require.NoError(t, c.Del(ctx, "k"))
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	items, _ := c.LRange(ctx, "k", 0, -1)
	assert.Empty(t, items)
	_, err = c.ZScore(ctx, "k", "m")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetNX(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "lock:rival:1", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "lock:rival:1", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetNX_AfterExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	ok, _ := c.SetNX(ctx, "lock", "a", 10*time.Millisecond)
	require.True(t, ok)
	time.Sleep(20 * time.Millisecond)
	ok, _ = c.SetNX(ctx, "lock", "b", time.Minute)
	assert.True(t, ok)
}

func TestSet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SAdd(ctx, "online", "3", "1", "2"))
	members, err := c.SMembers(ctx, "online")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, members)

	require.NoError(t, c.SRem(ctx, "online", "2"))
	members, _ = c.SMembers(ctx, "online")
	assert.Equal(t, []string{"1", "3"}, members)
}

func TestZSet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.ZAdd(ctx, "ranking:xp", 100, "alice"))
	require.NoError(t, c.ZAdd(ctx, "ranking:xp", 200, "bob"))
	require.NoError(t, c.ZAdd(ctx, "ranking:xp", 50, "carol"))

	members, err := c.ZRevRange(ctx, "ranking:xp", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "alice", "carol"}, members)

	score, err := c.ZScore(ctx, "ranking:xp", "alice")
	require.NoError(t, err)
	assert.Equal(t, float64(100), score)

	rank, err := c.ZRevRank(ctx, "ranking:xp", "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rank)

	// Updating a score re-sorts.
	require.NoError(t, c.ZAdd(ctx, "ranking:xp", 300, "carol"))
	members, _ = c.ZRevRange(ctx, "ranking:xp", 0, 0)
	assert.Equal(t, []string{"carol"}, members)

	_, err = c.ZRevRank(ctx, "ranking:xp", "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestZSet_TiesOrderByMember(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_ = c.ZAdd(ctx, "z", 10, "a")
	_ = c.ZAdd(ctx, "z", 10, "b")
	members, _ := c.ZRevRange(ctx, "z", 0, -1)
	assert.Equal(t, []string{"b", "a"}, members)
}

func TestList(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.LPush(ctx, "l", "c", "b", "a"))
	items, err := c.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	// LPush "c" then "b" then "a" → head = a, b, c
	assert.Equal(t, []string{"a", "b", "c"}, items)

	require.NoError(t, c.LTrim(ctx, "l", 0, 1))
	items, _ = c.LRange(ctx, "l", 0, -1)
	assert.Equal(t, []string{"a", "b"}, items)
}

func TestList_TrimKeepsNewest(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	for i := 0; i < 60; i++ {
		require.NoError(t, c.LPush(ctx, "activity:1", fmt.Sprintf("e%d", i)))
		require.NoError(t, c.LTrim(ctx, "activity:1", 0, 49))
	}
	items, _ := c.LRange(ctx, "activity:1", 0, -1)
	require.Len(t, items, 50)
	assert.Equal(t, "e59", items[0])
	assert.Equal(t, "e10", items[49])
}

func TestClampRange(t *testing.T) {
	tests := []struct {
		start, stop, n int64
		lo, hi         int64
		ok             bool
	}{
		{0, -1, 5, 0, 4, true},
		{1, 2, 5, 1, 2, true},
		{-2, -1, 5, 3, 4, true},
		{0, 100, 3, 0, 2, true},
		{5, 10, 3, 0, 0, false},
		{0, -1, 0, 0, 0, false},
		{3, 1, 5, 0, 0, false},
	}
	for _, tt := range tests {
		lo, hi, ok := clampRange(tt.start, tt.stop, tt.n)
		assert.Equal(t, tt.ok, ok, "range %d..%d of %d", tt.start, tt.stop, tt.n)
		if ok {
			assert.Equal(t, tt.lo, lo)
			assert.Equal(t, tt.hi, hi)
		}
	}
}
