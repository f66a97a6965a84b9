package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
	"github.com/PrateekKrishna/rank-sync/internal/store"
	"github.com/PrateekKrishna/rank-sync/internal/store/storetest"
)

func TestRecompute(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, user := range []string{"u1", "u2", "u3"} {
		_, err := s.ReplaceRankings(ctx, user, "default", []store.RankingInput{
			{ProductID: "P1", Ranking: i + 1},
			{ProductID: "P2", Ranking: 4},
		}, at.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}

	got, err := New(s).Recompute(ctx, []string{"P1", "P2", "P9"})
	require.NoError(t, err)
	require.Len(t, got, 3)

	p1 := got["P1"]
	assert.Equal(t, 3, p1.Count)
	assert.Equal(t, 3, p1.UniqueRankers)
	require.NotNil(t, p1.AvgRank)
	assert.Equal(t, 2.0, *p1.AvgRank)
	assert.Equal(t, 1, *p1.BestRank)
	assert.Equal(t, 3, *p1.WorstRank)
	require.NotNil(t, p1.LastRankedAt)
	assert.True(t, p1.LastRankedAt.Equal(at.Add(2*time.Hour)))
	assert.Equal(t, domain.Distribution{Count1st: 1, Count2nd: 1, Count3rd: 1, Pct1st: 33.33, Pct2nd: 33.33, Pct3rd: 33.33}, p1.Distribution)

	p2 := got["P2"]
	assert.Zero(t, p2.Distribution.Count1st+p2.Distribution.Count2nd+p2.Distribution.Count3rd)
	assert.Zero(t, p2.Distribution.Pct1st)

	p9 := got["P9"]
	assert.Equal(t, domain.ProductStats{ProductID: "P9"}, p9)
}

func TestRecomputeAll(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	_, err := s.ReplaceRankings(ctx, "u1", "default", []store.RankingInput{{ProductID: "A", Ranking: 1}}, time.Now())
	require.NoError(t, err)
	got, err := New(s).RecomputeAll(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 100.0, got["A"].Distribution.Pct1st)
}

func f(v float64) *float64 { return &v }

func TestCommunityRanks(t *testing.T) {
	ranks := CommunityRanks(map[string]domain.ProductStats{
		"a": {ProductID: "a", Count: 2, AvgRank: f(2.5)},
		"b": {ProductID: "b", Count: 5, AvgRank: f(1.5)},
		"c": {ProductID: "c", Count: 9, AvgRank: f(2.5)},
		"d": {ProductID: "d"},
		"e": {ProductID: "e", Count: 0, AvgRank: f(1)},
	})
	order := make([]string, len(ranks))
	for i, r := range ranks {
		order[i] = r.ProductID
	}
	assert.Equal(t, []string{"b", "c", "a", "d", "e"}, order)
	assert.Equal(t, 1, *ranks[0].Rank)
	assert.Equal(t, 3, *ranks[2].Rank)
	assert.Nil(t, ranks[3].Rank)
	assert.Nil(t, ranks[4].Rank)
}
