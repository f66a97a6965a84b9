// Package suppress remembers which achievement notifications were sent to a
// user in the last few minutes so bursts of re-derived achievements reach
// the client once.
package suppress

import (
	"context"
	"time"

	"github.com/PrateekKrishna/rank-sync/internal/caches"
	"github.com/PrateekKrishna/rank-sync/internal/domain"
)

// Window is how long a signature stays suppressed. It matches the TTL of
// the suppressor cache namespace.
const Window = 5 * time.Minute

// Suppressor keeps one entry per user and signature in the suppressor cache
// namespace under "user_<id>:<signature>". Claiming an entry is a single
// set-if-absent, so processes sharing the cache agree on who emits.
type Suppressor struct {
	cache *caches.Named
	now   func() time.Time
}

func New(cache *caches.Named) *Suppressor {
	return &Suppressor{cache: cache, now: time.Now}
}

func key(userID, signature string) string { return "user_" + userID + ":" + signature }

func (s *Suppressor) stamp() []byte {
	b, _ := s.now().UTC().MarshalText()
	return b
}

func (s *Suppressor) WasRecentlyEmitted(ctx context.Context, userID string, a domain.Achievement) bool {
	_, ok := s.cache.GetRaw(ctx, key(userID, a.Signature()))
	return ok
}

// MarkAsEmitted records a as emitted now, restarting its window.
func (s *Suppressor) MarkAsEmitted(ctx context.Context, userID string, a domain.Achievement) {
	s.cache.SetRaw(ctx, key(userID, a.Signature()), s.stamp())
}

// Claim records signature as emitted unless it already is, and reports
// whether the caller won.
func (s *Suppressor) Claim(ctx context.Context, userID, signature string) bool {
	return s.cache.SetNX(ctx, key(userID, signature), s.stamp())
}

// Filter splits achievements into those not emitted within the window and
// those that were, and records the kept ones as emitted. Duplicates inside
// one call are kept once.
func (s *Suppressor) Filter(ctx context.Context, userID string, as []domain.Achievement) (kept, skipped []domain.Achievement) {
	for _, a := range as {
		if s.Claim(ctx, userID, a.Signature()) {
			kept = append(kept, a)
		} else {
			skipped = append(skipped, a)
		}
	}
	return kept, skipped
}

// FilterCoins drops coins already announced within the window.
func (s *Suppressor) FilterCoins(ctx context.Context, userID string, cs []domain.FlavorCoin) []domain.FlavorCoin {
	var kept []domain.FlavorCoin
	for _, c := range cs {
		if s.Claim(ctx, userID, "coin_"+c.Flavor) {
			kept = append(kept, c)
		}
	}
	return kept
}
