package bus

import (
	"time"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
)

type pendingAchievement struct {
	a        domain.Achievement
	queuedAt time.Time
}

type pendingCoin struct {
	c        domain.FlavorCoin
	queuedAt time.Time
}

// bundle holds notifications for a user with no authenticated connection.
type bundle struct {
	achievements []pendingAchievement
	coins        []pendingCoin
	updatedAt    time.Time
}

// addAchievements merges by code and tier (or name for untiered ones). A
// re-queued achievement refreshes its timestamp.
func (b *bundle) addAchievements(as []domain.Achievement, now time.Time) {
	for _, a := range as {
		merged := false
		for i := range b.achievements {
			if b.achievements[i].a.MergeKey() == a.MergeKey() {
				b.achievements[i] = pendingAchievement{a: a, queuedAt: now}
				merged = true
				break
			}
		}
		if !merged {
			b.achievements = append(b.achievements, pendingAchievement{a: a, queuedAt: now})
		}
	}
	b.updatedAt = now
}

// addCoins appends; repeated drops of one flavor are all kept.
func (b *bundle) addCoins(cs []domain.FlavorCoin, now time.Time) {
	for _, c := range cs {
		b.coins = append(b.coins, pendingCoin{c: c, queuedAt: now})
	}
	b.updatedAt = now
}

// prune drops items queued before cutoff and reports whether anything is
// left.
func (b *bundle) prune(cutoff time.Time) bool {
	as := b.achievements[:0]
	for _, p := range b.achievements {
		if !p.queuedAt.Before(cutoff) {
			as = append(as, p)
		}
	}
	b.achievements = as
	cs := b.coins[:0]
	for _, p := range b.coins {
		if !p.queuedAt.Before(cutoff) {
			cs = append(cs, p)
		}
	}
	b.coins = cs
	return len(b.achievements) > 0 || len(b.coins) > 0
}

func (b *bundle) contents() ([]domain.Achievement, []domain.FlavorCoin) {
	as := make([]domain.Achievement, len(b.achievements))
	for i, p := range b.achievements {
		as[i] = p.a
	}
	cs := make([]domain.FlavorCoin, len(b.coins))
	for i, p := range b.coins {
		cs[i] = p.c
	}
	return as, cs
}
