package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/PrateekKrishna/rank-sync/internal/models"
)

// GetStreak returns nil when the user has no record of that type.
func (s *Store) GetStreak(ctx context.Context, userID, streakType string) (*models.Streak, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	var row models.Streak
	err := s.conn(ctx).Where("user_id = ? AND streak_type = ?", userID, streakType).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get streak %s/%s: %w", userID, streakType, err)
	}
	return &row, nil
}

// UserStreaks lists every streak a user holds.
func (s *Store) UserStreaks(ctx context.Context, userID string) ([]models.Streak, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	var rows []models.Streak
	err := s.conn(ctx).Where("user_id = ?", userID).Order("streak_type ASC").Find(&rows).Error
	return rows, err
}

// SaveStreak inserts or updates a streak record.
func (s *Store) SaveStreak(ctx context.Context, row *models.Streak) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	if err := s.conn(ctx).Save(row).Error; err != nil {
		return fmt.Errorf("save streak %s/%s: %w", row.UserID, row.StreakType, err)
	}
	return nil
}

// LogActivity appends one activity_log row.
func (s *Store) LogActivity(ctx context.Context, userID, activityType string, data any) (models.ActivityLog, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return models.ActivityLog{}, fmt.Errorf("encode activity %s: %w", activityType, err)
	}
	row := models.ActivityLog{
		UserID:       userID,
		ActivityType: activityType,
		Data:         datatypes.JSON(raw),
		CreatedAt:    s.now(),
	}
	ctx, cancel := s.op(ctx)
	defer cancel()
	if err := s.conn(ctx).Create(&row).Error; err != nil {
		return models.ActivityLog{}, fmt.Errorf("log activity %s: %w", activityType, err)
	}
	return row, nil
}

// ActivityFor returns a user's activity, newest first.
func (s *Store) ActivityFor(ctx context.Context, userID string, limit int) ([]models.ActivityLog, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	var rows []models.ActivityLog
	q := s.conn(ctx).Where("user_id = ?", userID).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	return rows, err
}
