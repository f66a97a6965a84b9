package caches

import (
	"context"
	"fmt"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
)

// LeaderboardCache is keyed by "<period>:<limit>".
type LeaderboardCache struct{ *Named }

func leaderboardKey(period string, limit int) string { return fmt.Sprintf("%s:%d", period, limit) }

func (c *LeaderboardCache) Get(ctx context.Context, period string, limit int) ([]domain.LeaderboardEntry, bool) {
	var out []domain.LeaderboardEntry
	ok := c.GetJSON(ctx, leaderboardKey(period, limit), &out)
	return out, ok
}

func (c *LeaderboardCache) Set(ctx context.Context, period string, limit int, entries []domain.LeaderboardEntry) bool {
	return c.SetJSON(ctx, leaderboardKey(period, limit), entries)
}

// Load returns the cached board or loads and stores it.
func (c *LeaderboardCache) Load(ctx context.Context, period string, limit int,
	load func(context.Context) ([]domain.LeaderboardEntry, error)) ([]domain.LeaderboardEntry, error) {
	return GetOrLoad(ctx, c.Named, leaderboardKey(period, limit), load)
}

// PositionCache is keyed by "user_<id>_<period>".
type PositionCache struct{ *Named }

func positionKey(userID, period string) string { return "user_" + userID + "_" + period }

func (c *PositionCache) Get(ctx context.Context, userID, period string) (domain.LeaderboardPosition, bool) {
	var out domain.LeaderboardPosition
	ok := c.GetJSON(ctx, positionKey(userID, period), &out)
	return out, ok
}

func (c *PositionCache) Set(ctx context.Context, pos domain.LeaderboardPosition) bool {
	return c.SetJSON(ctx, positionKey(pos.UserID, pos.Period), pos)
}

const keyHomeStats = "home"

// HomeStatsCache holds the single community summary.
type HomeStatsCache struct{ *Named }

func (c *HomeStatsCache) Get(ctx context.Context) (domain.HomeStats, bool) {
	var out domain.HomeStats
	ok := c.GetJSON(ctx, keyHomeStats, &out)
	return out, ok
}

func (c *HomeStatsCache) Set(ctx context.Context, stats domain.HomeStats) bool {
	return c.SetJSON(ctx, keyHomeStats, stats)
}

func (c *HomeStatsCache) Load(ctx context.Context, load func(context.Context) (domain.HomeStats, error)) (domain.HomeStats, error) {
	return GetOrLoad(ctx, c.Named, keyHomeStats, load)
}

func (c *HomeStatsCache) Invalidate(ctx context.Context) bool { return c.Del(ctx, keyHomeStats) }
