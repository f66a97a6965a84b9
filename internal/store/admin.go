package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/PrateekKrishna/rank-sync/internal/models"
)

// userDataTables are wiped by ClearAllUserData, in delete order.
var userDataTables = []struct {
	name  string
	model any
}{
	{"user_achievements", &models.UserAchievement{}},
	{"flavor_coins", &models.FlavorCoin{}},
	{"streaks", &models.Streak{}},
	{"product_rankings", &models.ProductRanking{}},
	{"page_views", &models.PageView{}},
	{"search_logs", &models.SearchLog{}},
	{"activity_log", &models.ActivityLog{}},
}

// ClearAllUserData deletes all gamification data in one transaction and
// returns the number of rows removed per table. Users, orders and product
// metadata are kept.
func (s *Store) ClearAllUserData(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(userDataTables))
	err := s.Transaction(ctx, func(tx *Store) error {
		for _, t := range userDataTables {
			res := tx.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(t.model)
			if res.Error != nil {
				return fmt.Errorf("clear %s: %w", t.name, res.Error)
			}
			counts[t.name] = res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// RecordPageView stores a visit and returns the product's total views when
// the page is a product page.
func (s *Store) RecordPageView(ctx context.Context, userID, page, productID string) (int64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	row := models.PageView{Page: page, ProductID: productID, CreatedAt: s.now()}
	if userID != "" {
		row.UserID = &userID
	}
	db := s.conn(ctx)
	if err := db.Create(&row).Error; err != nil {
		return 0, fmt.Errorf("record page view: %w", err)
	}
	if productID == "" {
		return 0, nil
	}
	var n int64
	if err := db.Model(&models.PageView{}).Where("product_id = ?", productID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count views %s: %w", productID, err)
	}
	return n, nil
}
