package caches

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
)

const keyAllStats = "all_stats"

// RankingStatsCache is the webhook-maintained per-product aggregate map,
// stored as one hash field per product. It has no TTL; only UpdateProducts,
// ReplaceAll and Invalidate change it.
type RankingStatsCache struct {
	*Named
	now func() time.Time
	// gen counts merges so a full load that raced one is not stored.
	gen atomic.Uint64
}

// All returns the cached map and the time it was last written.
func (c *RankingStatsCache) All(ctx context.Context) (map[string]domain.ProductStats, time.Time, bool) {
	fields, ok := c.HGetAll(ctx, keyAllStats)
	if !ok {
		return nil, time.Time{}, false
	}
	var ts time.Time
	if raw, ok := fields[fieldUpdated]; ok {
		_ = ts.UnmarshalText(raw)
	}
	return decodeFields[domain.ProductStats](c.Named, keyAllStats, fields), ts, true
}

func (c *RankingStatsCache) Get(ctx context.Context, productID string) (domain.ProductStats, bool) {
	raw, ok := c.HGet(ctx, keyAllStats, productID)
	if !ok {
		return domain.ProductStats{}, false
	}
	var st domain.ProductStats
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.ProductStats{}, false
	}
	return st, true
}

// UpdateProducts writes the given products' fields. Entries for other
// products are not rewritten. When no map is cached there is nothing stale
// to fix, so the merge is skipped and the next full load builds it.
func (c *RankingStatsCache) UpdateProducts(ctx context.Context, stats map[string]domain.ProductStats) bool {
	if len(stats) == 0 {
		return true
	}
	c.gen.Add(1)
	fields, err := encodeFields(stats)
	if err != nil {
		c.logger.Error("ranking stats not encodable", "error", err)
		return false
	}
	fields[fieldUpdated] = c.stamp()
	return c.HPatch(ctx, keyAllStats, fields, nil)
}

// Load returns the cached map or builds it with load. A load that overlapped
// a merge in this process is returned to the caller but not stored.
func (c *RankingStatsCache) Load(ctx context.Context, load func(context.Context) (map[string]domain.ProductStats, error)) (map[string]domain.ProductStats, error) {
	if all, _, ok := c.All(ctx); ok {
		return all, nil
	}
	v, err, _ := c.group.Do(keyAllStats, func() (any, error) {
		start := c.gen.Load()
		all, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if c.gen.Load() == start {
			c.ReplaceAll(ctx, all)
		}
		return all, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]domain.ProductStats), nil
}

// ReplaceAll stores a complete map.
func (c *RankingStatsCache) ReplaceAll(ctx context.Context, stats map[string]domain.ProductStats) bool {
	fields, err := encodeFields(stats)
	if err != nil {
		c.logger.Error("ranking stats not encodable", "error", err)
		return false
	}
	fields[fieldUpdated] = c.stamp()
	return c.HReplace(ctx, keyAllStats, fields)
}

// Invalidate drops the map.
func (c *RankingStatsCache) Invalidate(ctx context.Context) bool {
	return c.Clear(ctx)
}

func (c *RankingStatsCache) stamp() []byte {
	b, _ := c.now().UTC().MarshalText()
	return b
}
