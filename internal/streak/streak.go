// Package streak maintains per-user calendar-day streaks.
package streak

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
	"github.com/PrateekKrishna/rank-sync/internal/models"
	"github.com/PrateekKrishna/rank-sync/internal/store"
)

var ErrUnknownStreakType = errors.New("unknown streak type")

type Status string

const (
	StatusStarted        Status = "started"
	StatusContinued      Status = "continued"
	StatusAlreadyCounted Status = "already_counted_today"
	StatusReset          Status = "reset"
	// StatusStale is activity dated before the stored day; it is ignored.
	StatusStale Status = "stale"
)

// Activity log types.
const (
	LogStarted   = "streak_started"
	LogMilestone = "streak_milestone"
	LogBroken    = "streak_broken"
)

const (
	milestoneEvery = 7
	brokenMinimum  = 3
)

type Result struct {
	StreakType domain.StreakType
	Current    int
	Longest    int
	Status     Status
	Milestone  bool
	Broken     bool
}

// Changed reports whether the activity altered the record.
func (r Result) Changed() bool {
	return r.Status == StatusStarted || r.Status == StatusContinued || r.Status == StatusReset
}

// Update projects the result onto the client event.
func (r Result) Update() *domain.StreakUpdate {
	return &domain.StreakUpdate{
		StreakType: string(r.StreakType),
		Current:    r.Current,
		Longest:    r.Longest,
		Status:     string(r.Status),
		Milestone:  r.Milestone,
		Broken:     r.Broken,
	}
}

type Engine struct {
	store  *store.Store
	logger *slog.Logger
}

func New(s *store.Store, logger *slog.Logger) *Engine {
	return &Engine{store: s, logger: logger.With("component", "streak")}
}

// WithStore returns an engine that writes through s, typically a
// transaction.
func (e *Engine) WithStore(s *store.Store) *Engine {
	return &Engine{store: s, logger: e.logger}
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CalendarDays is the number of UTC midnights between from and to.
func CalendarDays(from, to time.Time) int {
	return int(Day(to).Sub(Day(from)).Hours() / 24)
}

// RecordActivity applies one activity at instant at to the user's streak of
// the given type. The read, the update and the activity log rows commit
// together.
func (e *Engine) RecordActivity(ctx context.Context, userID string, typ domain.StreakType, at time.Time) (Result, error) {
	if !typ.Valid() {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownStreakType, typ)
	}
	day := Day(at)
	var res Result
	err := e.store.Transaction(ctx, func(tx *store.Store) error {
		row, err := tx.GetStreak(ctx, userID, string(typ))
		if err != nil {
			return err
		}
		if row == nil {
			row = &models.Streak{UserID: userID, StreakType: string(typ), Current: 1, Longest: 1, LastActivityDate: day}
			res = result(typ, row, StatusStarted)
			if err := tx.SaveStreak(ctx, row); err != nil {
				return err
			}
			return logEntry(ctx, tx, userID, LogStarted, typ, row, nil)
		}

		diff := CalendarDays(row.LastActivityDate, day)
		switch {
		case diff < 0:
			res = result(typ, row, StatusStale)
			return nil
		case diff == 0:
			res = result(typ, row, StatusAlreadyCounted)
			return nil
		case diff == 1:
			row.Current++
			if row.Current > row.Longest {
				row.Longest = row.Current
			}
			row.LastActivityDate = day
			res = result(typ, row, StatusContinued)
			if err := tx.SaveStreak(ctx, row); err != nil {
				return err
			}
			if row.Current%milestoneEvery == 0 {
				res.Milestone = true
				return logEntry(ctx, tx, userID, LogMilestone, typ, row, nil)
			}
			return nil
		default:
			previous := row.Current
			row.Current = 1
			row.LastActivityDate = day
			res = result(typ, row, StatusReset)
			if err := tx.SaveStreak(ctx, row); err != nil {
				return err
			}
			if previous >= brokenMinimum {
				res.Broken = true
				return logEntry(ctx, tx, userID, LogBroken, typ, row, map[string]any{
					"previous_streak": previous,
					"days_missed":     diff - 1,
				})
			}
			return nil
		}
	})
	if err != nil {
		return Result{}, fmt.Errorf("record %s activity for %s: %w", typ, userID, err)
	}
	if res.Changed() {
		e.logger.Info("streak updated", "user_id", userID, "streak_type", typ,
			"status", res.Status, "current", res.Current, "longest", res.Longest)
	}
	return res, nil
}

// Record validates a raw streak type at an API boundary before recording.
func (e *Engine) Record(ctx context.Context, userID, rawType string, at time.Time) (Result, error) {
	typ := domain.StreakType(rawType)
	if !typ.Valid() {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownStreakType, rawType)
	}
	return e.RecordActivity(ctx, userID, typ, at)
}

func result(typ domain.StreakType, row *models.Streak, st Status) Result {
	return Result{StreakType: typ, Current: row.Current, Longest: row.Longest, Status: st}
}

func logEntry(ctx context.Context, tx *store.Store, userID, kind string, typ domain.StreakType, row *models.Streak, extra map[string]any) error {
	data := map[string]any{
		"streak_type": string(typ),
		"current":     row.Current,
		"longest":     row.Longest,
	}
	for k, v := range extra {
		data[k] = v
	}
	_, err := tx.LogActivity(ctx, userID, kind, data)
	return err
}
