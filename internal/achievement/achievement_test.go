package achievement

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
	"github.com/PrateekKrishna/rank-sync/internal/store"
	"github.com/PrateekKrishna/rank-sync/internal/store/storetest"
)

func newEvaluator(t *testing.T) (*Evaluator, *store.Store, *time.Time) {
	t.Helper()
	s := storetest.New(t)
	e := NewEvaluator(s, DefaultCatalog(), slog.New(slog.NewJSONHandler(io.Discard, nil)))
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	require.NoError(t, e.Seed(context.Background()))
	return e, s, &now
}

func seedProducts(t *testing.T, s *store.Store, flavor, animal string, n int) []store.RankingInput {
	t.Helper()
	var out []store.RankingInput
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("%s-%s-%d", flavor, animal, i)
		_, err := s.UpsertProduct(context.Background(), domain.ProductInfo{
			ProductID: id, PrimaryFlavor: flavor, AnimalType: animal, FlavorDisplay: "Original",
		})
		require.NoError(t, err)
		out = append(out, store.RankingInput{ProductID: id, Ranking: i})
	}
	return out
}

func byCode(as []domain.Achievement) map[string]domain.Achievement {
	out := map[string]domain.Achievement{}
	for _, a := range as {
		out[a.Code] = a
	}
	return out
}

func TestParseCatalogValidates(t *testing.T) {
	_, err := ParseCatalog([]byte("achievements:\n  - {code: a, name: A, metric: ranked_flavor, tiers: [{name: bronze, threshold: 1}]}\n"))
	assert.ErrorContains(t, err, "needs a filter")
	_, err = ParseCatalog([]byte("achievements:\n  - {code: a, name: A, metric: ranked_products, tiers: [{name: b, threshold: 2}, {name: s, threshold: 2}]}\n"))
	assert.ErrorContains(t, err, "must increase")
	_, err = ParseCatalog([]byte("achievements:\n  - {code: a, name: A, metric: likes, tiers: [{name: b, threshold: 1}]}\n"))
	assert.ErrorContains(t, err, "unknown metric")
	assert.NotEmpty(t, DefaultCatalog())
}

func TestEvaluate_OriginalMasterDiamond(t *testing.T) {
	e, s, _ := newEvaluator(t)
	ctx := context.Background()
	entries := seedProducts(t, s, "original", "beef", 5)
	_, err := s.ReplaceRankings(ctx, "42", "default", entries, time.Now())
	require.NoError(t, err)

	got := byCode(mustEvaluate(t, e, "42"))
	require.Contains(t, got, "original_master")
	assert.Equal(t, "diamond", got["original_master"].Tier)
	assert.Equal(t, "original_master_diamond", got["original_master"].Signature())
	assert.Equal(t, "diamond", got["beef_connoisseur"].Tier)
	assert.Equal(t, "silver", got["jerky_explorer"].Tier)
	assert.NotContains(t, got, "heat_seeker")
}

func TestEvaluate_ReannouncesOnlyWithinWindow(t *testing.T) {
	e, s, now := newEvaluator(t)
	ctx := context.Background()
	_, err := s.ReplaceRankings(ctx, "42", "default", seedProducts(t, s, "spicy", "pork", 1), time.Now())
	require.NoError(t, err)

	first := byCode(mustEvaluate(t, e, "42"))
	assert.Equal(t, "bronze", first["heat_seeker"].Tier)

	*now = now.Add(time.Minute)
	again := byCode(mustEvaluate(t, e, "42"))
	assert.Contains(t, again, "heat_seeker", "still inside the window")

	*now = now.Add(10 * time.Minute)
	assert.Empty(t, mustEvaluate(t, e, "42"))
}

func TestEvaluate_TiersNeverDrop(t *testing.T) {
	e, s, now := newEvaluator(t)
	ctx := context.Background()
	entries := seedProducts(t, s, "sweet", "turkey", 3)
	_, err := s.ReplaceRankings(ctx, "7", "default", entries, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "gold", byCode(mustEvaluate(t, e, "7"))["sweet_tooth"].Tier)

	_, err = s.ReplaceRankings(ctx, "7", "default", entries[:1], time.Now())
	require.NoError(t, err)
	*now = now.Add(time.Minute)
	held, err := s.UserAchievements(ctx, "7")
	require.NoError(t, err)
	mustEvaluate(t, e, "7")
	held2, err := s.UserAchievements(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, held, held2)
}

func TestAwardCoins_OncePerFlavor(t *testing.T) {
	e, s, _ := newEvaluator(t)
	ctx := context.Background()
	entries := seedProducts(t, s, "original", "beef", 2)
	ids := []string{entries[0].ProductID, entries[1].ProductID, "unknown"}

	coins, err := e.AwardCoins(ctx, "42", ids)
	require.NoError(t, err)
	require.Len(t, coins, 1)
	assert.Equal(t, "original", coins[0].Flavor)
	assert.Equal(t, entries[0].ProductID, coins[0].ProductID)

	coins, err = e.AwardCoins(ctx, "42", ids)
	require.NoError(t, err)
	assert.Empty(t, coins)
}

func mustEvaluate(t *testing.T, e *Evaluator, userID string) []domain.Achievement {
	t.Helper()
	out, err := e.Evaluate(context.Background(), userID)
	require.NoError(t, err)
	return out
}
