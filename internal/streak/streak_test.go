package streak

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
	"github.com/PrateekKrishna/rank-sync/internal/models"
	"github.com/PrateekKrishna/rank-sync/internal/store"
	"github.com/PrateekKrishna/rank-sync/internal/store/storetest"
)

func newEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s := storetest.New(t)
	return New(s, slog.New(slog.NewJSONHandler(io.Discard, nil))), s
}

func ts(v string) time.Time {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		panic(err)
	}
	return t
}

func activityTypes(t *testing.T, s *store.Store, userID string) []string {
	t.Helper()
	rows, err := s.ActivityFor(context.Background(), userID, 0)
	require.NoError(t, err)
	out := make([]string, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, rows[i].ActivityType)
	}
	return out
}

func TestCalendarDays(t *testing.T) {
	assert.Equal(t, 1, CalendarDays(ts("2025-01-10T23:59:59Z"), ts("2025-01-11T00:00:01Z")))
	assert.Equal(t, 0, CalendarDays(ts("2025-01-11T00:00:01Z"), ts("2025-01-11T23:59:59Z")))
	assert.Equal(t, 2, CalendarDays(ts("2025-01-11T12:00:00Z"), ts("2025-01-13T00:00:01Z")))
	// 23:30 in UTC-5 is already the next UTC day.
	est := time.FixedZone("EST", -5*3600)
	assert.Equal(t, 1, CalendarDays(ts("2025-01-10T12:00:00Z"), time.Date(2025, 1, 10, 23, 30, 0, 0, est)))
}

func TestRecordActivity_MidnightBoundary(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()
	require.NoError(t, s.SaveStreak(ctx, &models.Streak{
		UserID: "u1", StreakType: "daily_rank", Current: 6, Longest: 6,
		LastActivityDate: ts("2025-01-10T00:00:00Z"),
	}))

	res, err := e.RecordActivity(ctx, "u1", domain.StreakDailyRank, ts("2025-01-11T00:00:01Z"))
	require.NoError(t, err)
	assert.Equal(t, StatusContinued, res.Status)
	assert.Equal(t, 7, res.Current)
	assert.Equal(t, 7, res.Longest)
	assert.True(t, res.Milestone)

	res, err = e.RecordActivity(ctx, "u1", domain.StreakDailyRank, ts("2025-01-11T23:59:59Z"))
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyCounted, res.Status)
	assert.Equal(t, 7, res.Current)
	assert.False(t, res.Changed())

	res, err = e.RecordActivity(ctx, "u1", domain.StreakDailyRank, ts("2025-01-13T00:00:01Z"))
	require.NoError(t, err)
	assert.Equal(t, StatusReset, res.Status)
	assert.Equal(t, 1, res.Current)
	assert.Equal(t, 7, res.Longest)
	assert.True(t, res.Broken)

	assert.Equal(t, []string{LogMilestone, LogBroken}, activityTypes(t, s, "u1"))
}

func TestRecordActivity_StartAndShortBreak(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()

	res, err := e.RecordActivity(ctx, "u2", domain.StreakDailyLogin, ts("2025-02-01T08:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, res.Status)
	assert.Equal(t, 1, res.Current)

	_, err = e.RecordActivity(ctx, "u2", domain.StreakDailyLogin, ts("2025-02-02T08:00:00Z"))
	require.NoError(t, err)
	res, err = e.RecordActivity(ctx, "u2", domain.StreakDailyLogin, ts("2025-02-05T08:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, StatusReset, res.Status)
	assert.False(t, res.Broken, "a two-day streak breaking is not logged")
	assert.Equal(t, 2, res.Longest)

	assert.Equal(t, []string{LogStarted}, activityTypes(t, s, "u2"))
}

func TestRecordActivity_StaleActivityIgnored(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	_, err := e.RecordActivity(ctx, "u3", domain.StreakDailyRank, ts("2025-03-05T10:00:00Z"))
	require.NoError(t, err)
	res, err := e.RecordActivity(ctx, "u3", domain.StreakDailyRank, ts("2025-03-01T10:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, StatusStale, res.Status)
	assert.Equal(t, 1, res.Current)
}

func TestRecordActivity_ConsecutiveDaysGrow(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	start := ts("2025-04-01T20:00:00Z")
	var res Result
	var err error
	for d := 0; d < 10; d++ {
		res, err = e.RecordActivity(ctx, "u4", domain.StreakDailyRank, start.AddDate(0, 0, d))
		require.NoError(t, err)
		_, err = e.RecordActivity(ctx, "u4", domain.StreakDailyRank, start.AddDate(0, 0, d).Add(time.Hour))
		require.NoError(t, err)
	}
	assert.Equal(t, 10, res.Current)
	assert.Equal(t, 10, res.Longest)
}

func TestUnknownStreakTypeFailsFast(t *testing.T) {
	e, s := newEngine(t)
	_, err := e.Record(context.Background(), "u1", "daily_hug", time.Now())
	assert.ErrorIs(t, err, ErrUnknownStreakType)
	_, err = e.RecordActivity(context.Background(), "u1", domain.StreakType("weekly"), time.Now())
	assert.ErrorIs(t, err, ErrUnknownStreakType)
	rows, err := s.UserStreaks(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}
