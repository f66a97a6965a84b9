package achievement

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
	"github.com/PrateekKrishna/rank-sync/internal/models"
	"github.com/PrateekKrishna/rank-sync/internal/store"
)

// RecentWindow bounds how long an earned achievement is re-announced.
const RecentWindow = 5 * time.Minute

type Evaluator struct {
	store   *store.Store
	catalog []Definition
	logger  *slog.Logger
	now     func() time.Time
}

func NewEvaluator(s *store.Store, catalog []Definition, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		store:   s,
		catalog: catalog,
		logger:  logger.With("component", "achievements"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithStore returns a copy of e that reads and writes through s, typically a
// transaction.
func (e *Evaluator) WithStore(s *store.Store) *Evaluator {
	c := *e
	c.store = s
	return &c
}

// Seed writes the catalog to the achievements table.
func (e *Evaluator) Seed(ctx context.Context) error {
	rows := make([]models.Achievement, 0, len(e.catalog))
	for _, d := range e.catalog {
		m, err := d.model()
		if err != nil {
			return err
		}
		rows = append(rows, m)
	}
	return e.store.SeedAchievements(ctx, rows)
}

// Evaluate raises the user's tiers to what their rankings qualify for and
// returns every achievement earned or upgraded within RecentWindow. Tiers
// never go down. Repeated calls inside the window return the same
// achievements again; callers suppress duplicates.
func (e *Evaluator) Evaluate(ctx context.Context, userID string) ([]domain.Achievement, error) {
	counts, err := e.store.RankedCounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	rows, err := e.store.Achievements(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	ids := make(map[string]uint, len(rows))
	for _, r := range rows {
		ids[r.Code] = r.ID
	}
	held, err := e.store.UserAchievements(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var out []domain.Achievement
	for _, d := range e.catalog {
		id, ok := ids[d.Code]
		if !ok {
			e.logger.Warn("achievement not seeded", "code", d.Code)
			continue
		}
		reached := d.tierFor(d.value(counts))
		current, has := held[id]
		heldIdx := -1
		if has {
			heldIdx = d.tierIndex(current.Tier)
		}

		earnedAt := current.EarnedAt
		tierIdx := heldIdx
		if reached > heldIdx {
			if err := e.store.SetUserAchievementTier(ctx, userID, id, d.Tiers[reached].Name, now); err != nil {
				return nil, fmt.Errorf("award %s: %w", d.Code, err)
			}
			earnedAt, tierIdx = now, reached
		}
		if tierIdx < 0 || now.Sub(earnedAt) > RecentWindow {
			continue
		}
		out = append(out, domain.Achievement{
			Code:     d.Code,
			Name:     d.Name,
			Tier:     d.Tiers[tierIdx].Name,
			Icon:     d.Icon,
			EarnedAt: earnedAt,
		})
	}
	return out, nil
}

// AwardCoins grants a flavor coin for each product whose primary flavor the
// user has not collected yet. Coins the same products earned within
// RecentWindow are returned again so a replayed save still announces them.
func (e *Evaluator) AwardCoins(ctx context.Context, userID string, productIDs []string) ([]domain.FlavorCoin, error) {
	products, err := e.store.ProductsByID(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	ids := append([]string(nil), productIDs...)
	sort.Strings(ids)

	held, err := e.store.UserCoins(ctx, userID)
	if err != nil {
		return nil, err
	}
	recent := make(map[string]time.Time, len(held))
	for _, c := range held {
		recent[c.Flavor+"\x00"+c.ProductID] = c.EarnedAt
	}

	now := e.now()
	var coins []domain.FlavorCoin
	for _, pid := range ids {
		p, ok := products[pid]
		if !ok || p.PrimaryFlavor == "" {
			continue
		}
		awarded, err := e.store.AwardCoin(ctx, userID, p.PrimaryFlavor, pid, now)
		if err != nil {
			return nil, err
		}
		earnedAt := now
		if !awarded {
			at, ok := recent[p.PrimaryFlavor+"\x00"+pid]
			if !ok || now.Sub(at) > RecentWindow {
				continue
			}
			earnedAt = at
		}
		coins = append(coins, domain.FlavorCoin{
			Flavor:    p.PrimaryFlavor,
			Display:   p.FlavorDisplay,
			Icon:      p.FlavorIcon,
			ProductID: pid,
			EarnedAt:  earnedAt,
		})
	}
	return coins, nil
}
