package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/PrateekKrishna/rank-sync/internal/models"
)

// SeedAchievements upserts catalog rows by code.
func (s *Store) SeedAchievements(ctx context.Context, rows []models.Achievement) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := s.op(ctx)
	defer cancel()
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "icon", "metric", "filter", "tiers"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("seed achievements: %w", err)
	}
	return nil
}

// Achievements lists the catalog by code.
func (s *Store) Achievements(ctx context.Context) ([]models.Achievement, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	var rows []models.Achievement
	err := s.conn(ctx).Order("code ASC").Find(&rows).Error
	return rows, err
}

// UserAchievements is keyed by achievement id.
func (s *Store) UserAchievements(ctx context.Context, userID string) (map[uint]models.UserAchievement, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	var rows []models.UserAchievement
	if err := s.conn(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("user achievements %s: %w", userID, err)
	}
	out := make(map[uint]models.UserAchievement, len(rows))
	for _, r := range rows {
		out[r.AchievementID] = r
	}
	return out, nil
}

// SetUserAchievementTier records tier for a user. EarnedAt moves only when
// the tier changes.
func (s *Store) SetUserAchievementTier(ctx context.Context, userID string, achievementID uint, tier string, at time.Time) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	db := s.conn(ctx)
	var row models.UserAchievement
	err := db.Where("user_id = ? AND achievement_id = ?", userID, achievementID).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = models.UserAchievement{UserID: userID, AchievementID: achievementID, Tier: tier, EarnedAt: at}
		return db.Create(&row).Error
	case err != nil:
		return err
	case row.Tier == tier:
		return nil
	}
	return db.Model(&row).Updates(map[string]any{"tier": tier, "earned_at": at}).Error
}

// RankedCounts are the distinct products a user has ranked, split by the
// product's primary flavor and animal.
type RankedCounts struct {
	Total    int
	ByFlavor map[string]int
	ByAnimal map[string]int
}

type rankedRow struct {
	ProductID     string `gorm:"column:product_id"`
	PrimaryFlavor string `gorm:"column:primary_flavor"`
	AnimalType    string `gorm:"column:animal_type"`
}

// RankedCounts counts the distinct products a user has ranked.
func (s *Store) RankedCounts(ctx context.Context, userID string) (RankedCounts, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	var rows []rankedRow
	err := s.conn(ctx).Raw(`
SELECT DISTINCT r.product_id AS product_id,
       COALESCE(m.primary_flavor, '') AS primary_flavor,
       COALESCE(m.animal_type, '') AS animal_type
FROM product_rankings r
LEFT JOIN products_metadata m ON m.product_id = r.product_id
WHERE r.user_id = ?`, userID).Scan(&rows).Error
	if err != nil {
		return RankedCounts{}, fmt.Errorf("ranked counts %s: %w", userID, err)
	}
	out := RankedCounts{ByFlavor: map[string]int{}, ByAnimal: map[string]int{}}
	for _, r := range rows {
		out.Total++
		if r.PrimaryFlavor != "" {
			out.ByFlavor[r.PrimaryFlavor]++
		}
		if r.AnimalType != "" {
			out.ByAnimal[r.AnimalType]++
		}
	}
	return out, nil
}

// AwardCoin grants a flavor coin once per user and flavor. It reports
// whether this call created the coin.
func (s *Store) AwardCoin(ctx context.Context, userID, flavor, productID string, at time.Time) (bool, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	row := models.FlavorCoin{UserID: userID, Flavor: flavor, ProductID: productID, EarnedAt: at}
	res := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("award coin %s/%s: %w", userID, flavor, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// UserCoins lists a user's flavor coins by flavor.
func (s *Store) UserCoins(ctx context.Context, userID string) ([]models.FlavorCoin, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	var rows []models.FlavorCoin
	err := s.conn(ctx).Where("user_id = ?", userID).Order("flavor ASC").Find(&rows).Error
	return rows, err
}
