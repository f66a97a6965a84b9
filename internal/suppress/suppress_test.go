package suppress

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PrateekKrishna/rank-sync/internal/cache"
	"github.com/PrateekKrishna/rank-sync/internal/caches"
	"github.com/PrateekKrishna/rank-sync/internal/domain"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func newSuppressor(t *testing.T) *Suppressor {
	t.Helper()
	return New(caches.New(cache.NewMemoryStore(), quietLogger()).Suppressor)
}

// newShared returns n suppressors in separate processes sharing one redis.
func newShared(t *testing.T, n int) ([]*Suppressor, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	out := make([]*Suppressor, n)
	for i := range out {
		remote, err := cache.NewRedisRemote("redis://"+mr.Addr()+"/0", time.Second)
		require.NoError(t, err)
		tiered := cache.NewTiered(remote, nil, cache.TieredOptions{Prefix: "rank", Logger: quietLogger()})
		require.NoError(t, tiered.Connect(context.Background(), time.Second))
		t.Cleanup(func() { _ = tiered.Close() })
		out[i] = New(caches.New(tiered, quietLogger()).Suppressor)
	}
	return out, mr
}

var diamond = domain.Achievement{Code: "original_master", Name: "Original Master", Tier: "diamond"}

func TestFilter_BurstDeliversOnce(t *testing.T) {
	s := newSuppressor(t)
	ctx := context.Background()

	delivered := 0
	for i := 0; i < 5; i++ {
		kept, skipped := s.Filter(ctx, "42", []domain.Achievement{diamond})
		delivered += len(kept)
		if i > 0 {
			assert.Len(t, skipped, 1)
		}
	}
	assert.Equal(t, 1, delivered)
	assert.True(t, s.WasRecentlyEmitted(ctx, "42", diamond))
	assert.False(t, s.WasRecentlyEmitted(ctx, "43", diamond))
}

func TestFilter_DifferentTierIsNew(t *testing.T) {
	s := newSuppressor(t)
	ctx := context.Background()
	gold := diamond
	gold.Tier = "gold"
	kept, _ := s.Filter(ctx, "42", []domain.Achievement{gold})
	require.Len(t, kept, 1)
	kept, _ = s.Filter(ctx, "42", []domain.Achievement{gold, diamond})
	require.Len(t, kept, 1)
	assert.Equal(t, "diamond", kept[0].Tier)
}

func TestFilter_ExpiresAfterWindow(t *testing.T) {
	ss, mr := newShared(t, 1)
	s := ss[0]
	ctx := context.Background()
	s.MarkAsEmitted(ctx, "42", diamond)
	assert.True(t, s.WasRecentlyEmitted(ctx, "42", diamond))

	mr.FastForward(Window + time.Second)
	assert.False(t, s.WasRecentlyEmitted(ctx, "42", diamond))
	kept, skipped := s.Filter(ctx, "42", []domain.Achievement{diamond})
	assert.Len(t, kept, 1)
	assert.Empty(t, skipped)
}

func TestFilter_DuplicatesInOneCall(t *testing.T) {
	s := newSuppressor(t)
	kept, skipped := s.Filter(context.Background(), "42", []domain.Achievement{diamond, diamond})
	assert.Len(t, kept, 1)
	assert.Len(t, skipped, 1)
}

func TestFilter_ConcurrentCallersKeepOnce(t *testing.T) {
	s := newSuppressor(t)
	var mu sync.Mutex
	total := 0
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			kept, _ := s.Filter(context.Background(), "42", []domain.Achievement{diamond})
			mu.Lock()
			total += len(kept)
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, total)
}

func TestFilter_ProcessesSharingCacheKeepOnce(t *testing.T) {
	ss, mr := newShared(t, 4)
	var mu sync.Mutex
	total := 0
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(s *Suppressor) {
			defer wg.Done()
			kept, _ := s.Filter(context.Background(), "42", []domain.Achievement{diamond})
			mu.Lock()
			total += len(kept)
			mu.Unlock()
		}(ss[i%len(ss)])
	}
	wg.Wait()
	assert.Equal(t, 1, total)
	assert.Equal(t, Window, mr.TTL("rank:"+caches.NameSuppressor+":user_42:original_master_diamond"))
}

func TestBaseSignature(t *testing.T) {
	s := newSuppressor(t)
	ctx := context.Background()
	base := domain.Achievement{Code: "first_rank", Name: "First Rank"}
	s.MarkAsEmitted(ctx, "1", base)
	_, ok := s.cache.GetRaw(ctx, "user_1:first_rank_base")
	assert.True(t, ok)
}

func TestFilterCoins_AnnouncesOncePerFlavor(t *testing.T) {
	s := newSuppressor(t)
	ctx := context.Background()
	teriyaki := domain.FlavorCoin{Flavor: "teriyaki", ProductID: "P1"}

	assert.Len(t, s.FilterCoins(ctx, "42", []domain.FlavorCoin{teriyaki}), 1)
	assert.Empty(t, s.FilterCoins(ctx, "42", []domain.FlavorCoin{teriyaki}))
	assert.Len(t, s.FilterCoins(ctx, "43", []domain.FlavorCoin{teriyaki}), 1)
}
