package caches

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/PrateekKrishna/rank-sync/internal/cache"
	"github.com/PrateekKrishna/rank-sync/internal/domain"
)

// Cache names, also used as namespaces.
const (
	NameMetadata            = "metadata"
	NameRankingStats        = "ranking_stats"
	NameLeaderboard         = "leaderboard"
	NameLeaderboardPosition = "leaderboard_position"
	NameHomeStats           = "home_stats"
	NamePurchaseHistory     = "purchase_history"
	NameProfile             = "user_profile"
	NameClassification      = "user_classification"
	NameGuidance            = "user_guidance"
	NameStreak              = "user_streak"
	NameJourney             = "user_journey"
	NameSuppressor          = "recent_achievements"
)

// Guidance is varied by the page the user is on.
var guidanceContexts = []string{"home", "rank", "products", "profile", "community"}

// Set is the bundle of named caches shared by processors, the coherence
// controller, the warmer and the admin API.
type Set struct {
	Metadata            *MetadataCache
	RankingStats        *RankingStatsCache
	Leaderboard         *LeaderboardCache
	LeaderboardPosition *PositionCache
	HomeStats           *HomeStatsCache
	PurchaseHistory     *PurchaseHistoryCache
	Profile             *UserCache
	Classification      *UserCache
	Guidance            *UserCache
	Streak              *UserCache
	Journey             *UserCache
	Suppressor          *Named

	byName map[string]*Named
}

// New builds every named cache over store.
func New(store cache.Store, logger *slog.Logger) *Set {
	logger = logger.With("component", "caches")
	s := &Set{byName: map[string]*Named{}}
	named := func(ns string, ttl time.Duration) *Named {
		n := newNamed(store, ns, ttl, logger)
		s.byName[ns] = n
		return n
	}

	s.Metadata = &MetadataCache{Named: named(NameMetadata, 30*time.Minute)}
	s.RankingStats = &RankingStatsCache{Named: named(NameRankingStats, 0), now: time.Now}
	s.Leaderboard = &LeaderboardCache{named(NameLeaderboard, 5*time.Minute)}
	s.LeaderboardPosition = &PositionCache{named(NameLeaderboardPosition, 5*time.Minute)}
	s.HomeStats = &HomeStatsCache{named(NameHomeStats, 5*time.Minute)}
	s.PurchaseHistory = &PurchaseHistoryCache{named(NamePurchaseHistory, 30*time.Minute)}
	s.Profile = &UserCache{Named: named(NameProfile, 10*time.Minute)}
	s.Classification = &UserCache{Named: named(NameClassification, 10*time.Minute)}
	s.Guidance = &UserCache{Named: named(NameGuidance, 5*time.Minute), contexts: guidanceContexts}
	s.Streak = &UserCache{Named: named(NameStreak, 5*time.Minute)}
	s.Journey = &UserCache{Named: named(NameJourney, 10*time.Minute)}
	s.Suppressor = named(NameSuppressor, 5*time.Minute)
	return s
}

func (s *Set) userCaches() []*UserCache {
	return []*UserCache{s.Profile, s.Classification, s.Guidance, s.Streak, s.Journey}
}

// InvalidateUser removes a user's entries from every user-scoped cache.
func (s *Set) InvalidateUser(ctx context.Context, userID string) bool {
	ok := true
	for _, c := range s.userCaches() {
		if !c.Invalidate(ctx, userID) {
			ok = false
		}
	}
	return ok
}

// Names lists every clearable cache.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.byName))
	for name := range s.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ClearNamed clears one namespace by name.
func (s *Set) ClearNamed(ctx context.Context, name string) (bool, error) {
	n, ok := s.byName[name]
	if !ok {
		return false, fmt.Errorf("unknown cache %q: %w", name, domain.ErrInvalidInput)
	}
	if name == NameRankingStats {
		return s.RankingStats.Invalidate(ctx), nil
	}
	return n.Clear(ctx), nil
}

// ClearAll clears every namespace and reports the result per cache.
func (s *Set) ClearAll(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(s.byName))
	for _, name := range s.Names() {
		ok, _ := s.ClearNamed(ctx, name)
		out[name] = ok
	}
	return out
}
