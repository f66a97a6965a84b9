// Package coherence applies the narrowest cache action that keeps the named
// caches in line with a processed event.
package coherence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/PrateekKrishna/rank-sync/internal/aggregate"
	"github.com/PrateekKrishna/rank-sync/internal/caches"
	"github.com/PrateekKrishna/rank-sync/internal/domain"
	"github.com/PrateekKrishna/rank-sync/internal/store"
)

type Controller struct {
	caches     *caches.Set
	recomputer *aggregate.Recomputer
	store      *store.Store
	logger     *slog.Logger
}

func New(c *caches.Set, r *aggregate.Recomputer, s *store.Store, logger *slog.Logger) *Controller {
	return &Controller{caches: c, recomputer: r, store: s, logger: logger.With("component", "coherence")}
}

// Apply updates caches for one outcome. Only a failed recompute is returned;
// cache writes degrade silently.
func (c *Controller) Apply(ctx context.Context, o domain.Outcome) error {
	switch o.Kind {
	case domain.OutcomeOrderProcessed, domain.OutcomeOrderCancelled:
		if o.UserID != "" {
			c.caches.PurchaseHistory.Invalidate(ctx, o.UserID)
		}
		if err := c.refreshStats(ctx, o.AffectedProductIDs); err != nil {
			return err
		}
		c.caches.HomeStats.Invalidate(ctx)
		c.caches.Leaderboard.Clear(ctx)

	case domain.OutcomeProductUpserted:
		if o.Product == nil {
			return fmt.Errorf("product outcome without metadata: %w", domain.ErrInvalidInput)
		}
		c.caches.Metadata.UpdateProduct(ctx, *o.Product)

	case domain.OutcomeProductDeleted:
		c.caches.Metadata.RemoveProducts(ctx, []string{o.ProductID})

	case domain.OutcomeCustomerUpserted:
		c.caches.InvalidateUser(ctx, o.UserID)

	case domain.OutcomeRankingsSaved:
		if err := c.refreshStats(ctx, o.AffectedProductIDs); err != nil {
			return err
		}
		c.caches.Leaderboard.Clear(ctx)
		c.caches.LeaderboardPosition.Clear(ctx)
		c.caches.HomeStats.Invalidate(ctx)
		c.caches.InvalidateUser(ctx, o.UserID)

	case domain.OutcomeSkipped:
	default:
		c.logger.Warn("no cache action for outcome", "kind", o.Kind)
	}
	return nil
}

// refreshStats recomputes the given products and merges them into the
// ranking stats map.
func (c *Controller) refreshStats(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	stats, err := c.recomputer.Recompute(ctx, ids)
	if err != nil {
		return fmt.Errorf("recompute %d products: %w", len(ids), err)
	}
	if !c.caches.RankingStats.UpdateProducts(ctx, stats) {
		c.logger.Debug("ranking stats not cached, merge skipped", "products", len(ids))
	}
	return nil
}

// ClearAll clears every named cache.
func (c *Controller) ClearAll(ctx context.Context) map[string]bool {
	res := c.caches.ClearAll(ctx)
	c.logger.Info("all caches cleared", "results", res)
	return res
}

// SweepProducts removes products flagged for deletion and rebuilds the
// product metadata map from the remaining rows.
func (c *Controller) SweepProducts(ctx context.Context) ([]string, error) {
	ids, err := c.store.SweepDeletedProducts(ctx)
	if err != nil {
		return nil, err
	}
	c.caches.Metadata.RemoveProducts(ctx, ids)
	if err := c.RebuildMetadata(ctx); err != nil {
		return ids, err
	}
	c.logger.Info("orphan sweep complete", "removed", len(ids))
	return ids, nil
}

// RebuildMetadata replaces the full product map.
func (c *Controller) RebuildMetadata(ctx context.Context) error {
	rows, err := c.store.AllProducts(ctx)
	if err != nil {
		return fmt.Errorf("load products: %w", err)
	}
	infos := make([]domain.ProductInfo, len(rows))
	for i, r := range rows {
		infos[i] = store.InfoOf(r)
	}
	c.caches.Metadata.ReplaceAll(ctx, infos)
	return nil
}

// CommunityRanks orders every ranked product by its community average,
// serving the ranking stats map from cache and loading it on a miss.
func (c *Controller) CommunityRanks(ctx context.Context) ([]aggregate.CommunityRank, error) {
	stats, err := c.caches.RankingStats.Load(ctx, c.recomputer.RecomputeAll)
	if err != nil {
		return nil, fmt.Errorf("load ranking stats: %w", err)
	}
	return aggregate.CommunityRanks(stats), nil
}
