package store

import (
	"context"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
	"github.com/PrateekKrishna/rank-sync/internal/models"
)

// RankingInput is one product placement.
type RankingInput struct {
	ProductID string
	Ranking   int
}

// ReplaceRankings swaps a user's ranking list for entries and returns the
// sorted union of old and new product ids.
func (s *Store) ReplaceRankings(ctx context.Context, userID, listID string, entries []RankingInput, at time.Time) ([]string, error) {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Ranking < 1 {
			return nil, fmt.Errorf("product %s: ranking %d must be positive: %w", e.ProductID, e.Ranking, domain.ErrInvalidInput)
		}
		if _, dup := seen[e.ProductID]; dup {
			return nil, fmt.Errorf("product %s ranked twice: %w", e.ProductID, domain.ErrInvalidInput)
		}
		seen[e.ProductID] = struct{}{}
	}

	affected := make(map[string]struct{})
	err := s.Transaction(ctx, func(tx *Store) error {
		var old []models.ProductRanking
		if err := tx.db.Where("user_id = ? AND list_id = ?", userID, listID).Find(&old).Error; err != nil {
			return err
		}
		prev := make(map[string]models.ProductRanking, len(old))
		for _, r := range old {
			prev[r.ProductID] = r
		}

		// Unchanged placements keep their row so last_ranked_at only moves
		// for products that actually changed.
		for _, e := range entries {
			if r, ok := prev[e.ProductID]; ok && r.Ranking == e.Ranking {
				delete(prev, e.ProductID)
				continue
			}
			if r, ok := prev[e.ProductID]; ok {
				if err := tx.db.Delete(&models.ProductRanking{}, r.ID).Error; err != nil {
					return err
				}
				delete(prev, e.ProductID)
			}
			row := models.ProductRanking{
				UserID:    userID,
				ListID:    listID,
				ProductID: e.ProductID,
				Ranking:   e.Ranking,
				CreatedAt: at.UTC(),
			}
			if err := tx.db.Create(&row).Error; err != nil {
				return err
			}
			affected[e.ProductID] = struct{}{}
		}
		for pid, r := range prev {
			if err := tx.db.Delete(&models.ProductRanking{}, r.ID).Error; err != nil {
				return err
			}
			affected[pid] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replace rankings for %s/%s: %w", userID, listID, err)
	}
	return sortedKeys(affected), nil
}

// AggregateRow is one group of the per-product ranking aggregate query.
type AggregateRow struct {
	ProductID     string   `gorm:"column:product_id"`
	Count         int64    `gorm:"column:count"`
	UniqueRankers int64    `gorm:"column:unique_rankers"`
	AvgRank       *float64 `gorm:"column:avg_rank"`
	BestRank      *int64   `gorm:"column:best_rank"`
	WorstRank     *int64   `gorm:"column:worst_rank"`
	LastRankedAt  FlexTime `gorm:"column:last_ranked_at"`
	Count1st      int64    `gorm:"column:count1st"`
	Count2nd      int64    `gorm:"column:count2nd"`
	Count3rd      int64    `gorm:"column:count3rd"`
}

const aggregateSQL = `
SELECT product_id,
       COUNT(*) AS count,
       COUNT(DISTINCT user_id) AS unique_rankers,
       AVG(ranking) AS avg_rank,
       MIN(ranking) AS best_rank,
       MAX(ranking) AS worst_rank,
       MAX(created_at) AS last_ranked_at,
       SUM(CASE WHEN ranking = 1 THEN 1 ELSE 0 END) AS count1st,
       SUM(CASE WHEN ranking = 2 THEN 1 ELSE 0 END) AS count2nd,
       SUM(CASE WHEN ranking = 3 THEN 1 ELSE 0 END) AS count3rd
FROM product_rankings
%s
GROUP BY product_id`

// RankingAggregates groups ranking rows for the given products. A nil ids
// slice aggregates every ranked product.
func (s *Store) RankingAggregates(ctx context.Context, ids []string) ([]AggregateRow, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	var rows []AggregateRow
	q := s.conn(ctx)
	var err error
	if ids == nil {
		err = q.Raw(fmt.Sprintf(aggregateSQL, "")).Scan(&rows).Error
	} else {
		if len(ids) == 0 {
			return nil, nil
		}
		err = q.Raw(fmt.Sprintf(aggregateSQL, "WHERE product_id IN ?"), ids).Scan(&rows).Error
	}
	if err != nil {
		return nil, fmt.Errorf("ranking aggregates: %w", err)
	}
	return rows, nil
}

// FlexTime scans timestamps that arrive as time.Time (postgres) or as text
// (sqlite aggregates lose the column type).
type FlexTime struct {
	Time  time.Time
	Valid bool
}

var flexLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

func (f *FlexTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*f = FlexTime{}
		return nil
	case time.Time:
		*f = FlexTime{Time: v.UTC(), Valid: true}
		return nil
	case []byte:
		return f.parse(string(v))
	case string:
		return f.parse(v)
	}
	return fmt.Errorf("flextime: unsupported type %T", src)
}

func (f *FlexTime) parse(s string) error {
	for _, layout := range flexLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*f = FlexTime{Time: t.UTC(), Valid: true}
			return nil
		}
	}
	return fmt.Errorf("flextime: cannot parse %q", s)
}

func (f FlexTime) Value() (driver.Value, error) {
	if !f.Valid {
		return nil, nil
	}
	return f.Time, nil
}

// RankedProductIDs lists every product with at least one ranking.
func (s *Store) RankedProductIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	var ids []string
	err := s.conn(ctx).Model(&models.ProductRanking{}).Distinct("product_id").
		Order("product_id ASC").Pluck("product_id", &ids).Error
	return ids, err
}

// UserRankings returns a user's placements.
func (s *Store) UserRankings(ctx context.Context, userID string) ([]models.ProductRanking, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	var rows []models.ProductRanking
	err := s.conn(ctx).Where("user_id = ?", userID).Order("list_id ASC, ranking ASC").Find(&rows).Error
	return rows, err
}

// Leaderboard periods.
const (
	PeriodAllTime = "all_time"
	PeriodMonth   = "month"
	PeriodWeek    = "week"
)

// PeriodStart returns the lower bound of a leaderboard period.
func PeriodStart(period string, now time.Time) (time.Time, error) {
	switch period {
	case PeriodAllTime:
		return time.Time{}, nil
	case PeriodMonth:
		return now.AddDate(0, 0, -30), nil
	case PeriodWeek:
		return now.AddDate(0, 0, -7), nil
	}
	return time.Time{}, fmt.Errorf("unknown leaderboard period %q: %w", period, domain.ErrInvalidInput)
}

type leaderRow struct {
	UserID       string `gorm:"column:user_id"`
	DisplayName  string `gorm:"column:display_name"`
	RankingCount int    `gorm:"column:ranking_count"`
	Achievements int    `gorm:"column:achievements"`
}

const leaderboardSQL = `
SELECT u.id AS user_id,
       u.display_name AS display_name,
       COUNT(r.id) AS ranking_count,
       (SELECT COUNT(*) FROM user_achievements ua WHERE ua.user_id = u.id) AS achievements
FROM product_rankings r
JOIN users u ON u.id = r.user_id
WHERE r.created_at >= ?
GROUP BY u.id, u.display_name
ORDER BY ranking_count DESC, u.id ASC`

func (s *Store) leaderRows(ctx context.Context, period string, limit int) ([]leaderRow, error) {
	start, err := PeriodStart(period, s.now())
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.op(ctx)
	defer cancel()
	q := leaderboardSQL
	args := []any{start}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	var rows []leaderRow
	if err := s.conn(ctx).Raw(q, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("leaderboard %s: %w", period, err)
	}
	return rows, nil
}

// Leaderboard returns the top users by number of rankings in a period.
func (s *Store) Leaderboard(ctx context.Context, period string, limit int) ([]domain.LeaderboardEntry, error) {
	rows, err := s.leaderRows(ctx, period, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.LeaderboardEntry, 0, len(rows))
	for i, r := range rows {
		out = append(out, domain.LeaderboardEntry{
			Position:     i + 1,
			UserID:       r.UserID,
			DisplayName:  r.DisplayName,
			RankingCount: r.RankingCount,
			Achievements: r.Achievements,
		})
	}
	return out, nil
}

// LeaderboardPosition locates one user in a period.
func (s *Store) LeaderboardPosition(ctx context.Context, userID, period string) (domain.LeaderboardPosition, error) {
	rows, err := s.leaderRows(ctx, period, 0)
	if err != nil {
		return domain.LeaderboardPosition{}, err
	}
	pos := domain.LeaderboardPosition{UserID: userID, Period: period, TotalUsers: len(rows)}
	for i, r := range rows {
		if r.UserID == userID {
			p := i + 1
			pos.Position = &p
			pos.RankingCount = r.RankingCount
			break
		}
	}
	return pos, nil
}

// HomeStats computes the community summary.
func (s *Store) HomeStats(ctx context.Context) (domain.HomeStats, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	var out domain.HomeStats
	db := s.conn(ctx)
	if err := db.Model(&models.User{}).Count(&out.TotalUsers).Error; err != nil {
		return out, err
	}
	if err := db.Model(&models.ProductRanking{}).Count(&out.TotalRankings).Error; err != nil {
		return out, err
	}
	if err := db.Model(&models.ProductRanking{}).Distinct("product_id").Count(&out.ProductsRanked).Error; err != nil {
		return out, err
	}
	if err := db.Model(&models.UserAchievement{}).Count(&out.AchievementsEarned).Error; err != nil {
		return out, err
	}
	out.GeneratedAt = s.now()
	return out, nil
}
