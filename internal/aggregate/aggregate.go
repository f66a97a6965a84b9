// Package aggregate recomputes per-product ranking statistics for exactly
// the products an event touched.
package aggregate

import (
	"context"
	"math"
	"sort"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
	"github.com/PrateekKrishna/rank-sync/internal/store"
)

type Recomputer struct {
	store *store.Store
}

func New(s *store.Store) *Recomputer { return &Recomputer{store: s} }

// Recompute returns stats for every id. Products without ranking rows get
// zero-count stats so stale cache entries are overwritten.
func (r *Recomputer) Recompute(ctx context.Context, ids []string) (map[string]domain.ProductStats, error) {
	out := make(map[string]domain.ProductStats, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.store.RankingAggregates(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ProductID] = FromRow(row)
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			out[id] = domain.ProductStats{ProductID: id}
		}
	}
	return out, nil
}

// RecomputeAll returns stats for every ranked product.
func (r *Recomputer) RecomputeAll(ctx context.Context) (map[string]domain.ProductStats, error) {
	rows, err := r.store.RankingAggregates(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.ProductStats, len(rows))
	for _, row := range rows {
		out[row.ProductID] = FromRow(row)
	}
	return out, nil
}

// FromRow converts one aggregate row.
func FromRow(row store.AggregateRow) domain.ProductStats {
	st := domain.ProductStats{
		ProductID:     row.ProductID,
		Count:         int(row.Count),
		UniqueRankers: int(row.UniqueRankers),
		Distribution: domain.Distribution{
			Count1st: int(row.Count1st),
			Count2nd: int(row.Count2nd),
			Count3rd: int(row.Count3rd),
		},
	}
	if row.Count == 0 {
		return st
	}
	if row.AvgRank != nil {
		avg := round2(*row.AvgRank)
		st.AvgRank = &avg
	}
	if row.BestRank != nil {
		v := int(*row.BestRank)
		st.BestRank = &v
	}
	if row.WorstRank != nil {
		v := int(*row.WorstRank)
		st.WorstRank = &v
	}
	if row.LastRankedAt.Valid {
		t := row.LastRankedAt.Time
		st.LastRankedAt = &t
	}
	n := float64(row.Count)
	st.Distribution.Pct1st = round2(100 * float64(row.Count1st) / n)
	st.Distribution.Pct2nd = round2(100 * float64(row.Count2nd) / n)
	st.Distribution.Pct3rd = round2(100 * float64(row.Count3rd) / n)
	return st
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// CommunityRank is a product's position across the community.
type CommunityRank struct {
	ProductID string   `json:"productId"`
	AvgRank   *float64 `json:"avgRank"`
	Count     int      `json:"count"`
	Rank      *int     `json:"communityRank"`
}

// CommunityRanks orders products by average rank, lowest first. Ties go to
// the product with more rankings, then to the lower id. Products without
// rankings sort last with a nil rank.
func CommunityRanks(stats map[string]domain.ProductStats) []CommunityRank {
	out := make([]CommunityRank, 0, len(stats))
	for id, st := range stats {
		out = append(out, CommunityRank{ProductID: id, AvgRank: st.AvgRank, Count: st.Count})
	}
	ranked := func(c CommunityRank) bool { return c.AvgRank != nil && c.Count > 0 }
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ranked(a) != ranked(b) {
			return ranked(a)
		}
		if ranked(a) {
			if *a.AvgRank != *b.AvgRank {
				return *a.AvgRank < *b.AvgRank
			}
			if a.Count != b.Count {
				return a.Count > b.Count
			}
		}
		return a.ProductID < b.ProductID
	})
	for i := range out {
		if ranked(out[i]) {
			r := i + 1
			out[i].Rank = &r
		}
	}
	return out
}
