package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMemory() (*MemoryStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)}
	m := NewMemoryStore()
	m.now = clock.Now
	return m, clock
}

func TestMemoryStore_SetGetExpire(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMemory()

	require.True(t, m.Set(ctx, "metadata", "product:777", []byte(`{"title":"Sweet"}`), 30*time.Minute))

	v, ok := m.Get(ctx, "metadata", "product:777")
	require.True(t, ok)
	assert.JSONEq(t, `{"title":"Sweet"}`, string(v))

	clock.Advance(29 * time.Minute)
	_, ok = m.Get(ctx, "metadata", "product:777")
	assert.True(t, ok, "entry must survive before ttl")

	clock.Advance(time.Minute)
	_, ok = m.Get(ctx, "metadata", "product:777")
	assert.False(t, ok, "entry must expire at ttl")
	assert.Equal(t, 0, m.Len())
}

func TestMemoryStore_ZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMemory()

	m.Set(ctx, "ranking_stats", "all_stats", []byte("{}"), 0)
	clock.Advance(365 * 24 * time.Hour)

	_, ok := m.Get(ctx, "ranking_stats", "all_stats")
	assert.True(t, ok)
}

func TestMemoryStore_ClearIsNamespaceScoped(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory()

	m.Set(ctx, "leaderboard", "all_time:50", []byte("a"), 0)
	m.Set(ctx, "leaderboard", "week:50", []byte("b"), 0)
	m.Set(ctx, "leaderboard_position", "user_1_all_time", []byte("c"), 0)

	m.Clear(ctx, "leaderboard")

	_, ok := m.Get(ctx, "leaderboard", "all_time:50")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "leaderboard", "week:50")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "leaderboard_position", "user_1_all_time")
	assert.True(t, ok, "a namespace sharing a prefix must be untouched")
}

func TestMemoryStore_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory()

	in := []byte("abc")
	m.Set(ctx, "ns", "k", in, 0)
	in[0] = 'x'

	out, _ := m.Get(ctx, "ns", "k")
	assert.Equal(t, "abc", string(out))
	out[1] = 'y'

	again, _ := m.Get(ctx, "ns", "k")
	assert.Equal(t, "abc", string(again))
}

func TestMemoryStore_Sweep(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMemory()

	m.Set(ctx, "ns", "short", []byte("1"), time.Second)
	m.Set(ctx, "ns", "long", []byte("2"), time.Hour)
	clock.Advance(2 * time.Second)

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
}

func TestMemoryStore_Del(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory()

	m.Set(ctx, "ns", "k", []byte("1"), 0)
	assert.True(t, m.Del(ctx, "ns", "k"))
	_, ok := m.Get(ctx, "ns", "k")
	assert.False(t, ok)
	assert.Equal(t, TierLocal, m.Tier())
}

func TestMemoryStore_IncrWindow(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMemory()

	assert.EqualValues(t, 1, m.Incr(ctx, "admin:10.0.0.1", time.Minute))
	assert.EqualValues(t, 2, m.Incr(ctx, "admin:10.0.0.1", time.Minute))
	assert.EqualValues(t, 1, m.Incr(ctx, "admin:10.0.0.2", time.Minute))

	clock.Advance(time.Minute)
	assert.EqualValues(t, 1, m.Incr(ctx, "admin:10.0.0.1", time.Minute), "window restarts")

	clock.Advance(2 * time.Minute)
	m.Sweep()
	assert.Empty(t, m.counter)
}

func TestMemoryStore_SetNX(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMemory()

	assert.True(t, m.SetNX(ctx, "suppressor", "user_1:a", []byte("1"), 5*time.Minute))
	assert.False(t, m.SetNX(ctx, "suppressor", "user_1:a", []byte("2"), 5*time.Minute))
	v, _ := m.Get(ctx, "suppressor", "user_1:a")
	assert.Equal(t, "1", string(v))

	clock.Advance(5 * time.Minute)
	assert.True(t, m.SetNX(ctx, "suppressor", "user_1:a", []byte("3"), 5*time.Minute))
}

func TestMemoryStore_Hashes(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMemory()

	assert.False(t, m.HPatch(ctx, "ranking_stats", "all_stats", map[string][]byte{"P1": []byte("1")}, nil))
	_, ok := m.HGetAll(ctx, "ranking_stats", "all_stats")
	assert.False(t, ok, "patch must not create a hash")

	require.True(t, m.HReplace(ctx, "ranking_stats", "all_stats", map[string][]byte{
		"P1": []byte("1"), "P2": []byte("2"),
	}, time.Minute))
	require.True(t, m.HPatch(ctx, "ranking_stats", "all_stats", map[string][]byte{"P3": []byte("3")}, []string{"P1"}))

	all, ok := m.HGetAll(ctx, "ranking_stats", "all_stats")
	require.True(t, ok)
	assert.Equal(t, map[string][]byte{"P2": []byte("2"), "P3": []byte("3")}, all)
	v, ok := m.HGet(ctx, "ranking_stats", "all_stats", "P3")
	require.True(t, ok)
	assert.Equal(t, "3", string(v))
	_, ok = m.Get(ctx, "ranking_stats", "all_stats")
	assert.False(t, ok, "a hash is not a plain value")

	clock.Advance(time.Minute)
	_, ok = m.HGet(ctx, "ranking_stats", "all_stats", "P2")
	assert.False(t, ok)
}
