package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PrateekKrishna/rank-sync/internal/achievement"
	"github.com/PrateekKrishna/rank-sync/internal/domain"
	"github.com/PrateekKrishna/rank-sync/internal/store"
	"github.com/PrateekKrishna/rank-sync/internal/streak"
)

// TopicRankingsSaved is enqueued by the ranking endpoints when a user saves
// a ranking list.
const TopicRankingsSaved = "rankings/saved"

// ActivityRankingsSaved is the activity log type of a saved list.
const ActivityRankingsSaved = "rankings_saved"

type rankingEntry struct {
	ProductID ID  `json:"product_id"`
	Ranking   int `json:"ranking"`
}

type rankingsPayload struct {
	UserID   ID             `json:"user_id"`
	ListID   string         `json:"list_id"`
	Rankings []rankingEntry `json:"rankings"`
	RankedAt Time           `json:"ranked_at"`
}

type Rankings struct {
	store     *store.Store
	streaks   *streak.Engine
	evaluator *achievement.Evaluator
	logger    *slog.Logger
	now       func() time.Time
}

func NewRankings(s *store.Store, streaks *streak.Engine, ev *achievement.Evaluator, logger *slog.Logger) *Rankings {
	return &Rankings{
		store:     s,
		streaks:   streaks,
		evaluator: ev,
		logger:    logger.With("processor", domain.TypeRankings),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (p *Rankings) Type() string { return domain.TypeRankings }

func (p *Rankings) Process(ctx context.Context, topic string, payload []byte) (domain.Outcome, error) {
	if action(topic) != "saved" {
		return domain.Skip(domain.TypeRankings, topic, "unsupported rankings topic"), nil
	}
	var in rankingsPayload
	if err := decode(payload, &in); err != nil {
		return domain.Outcome{}, err
	}
	if in.UserID == "" {
		return domain.Outcome{}, fmt.Errorf("user id required: %w", domain.ErrInvalidInput)
	}
	listID := in.ListID
	if listID == "" {
		listID = "default"
	}
	at := in.RankedAt.Time
	if at.IsZero() {
		at = p.now()
	}
	userID := in.UserID.String()

	entries := make([]store.RankingInput, 0, len(in.Rankings))
	ranked := make([]string, 0, len(in.Rankings))
	for _, r := range in.Rankings {
		if r.ProductID == "" {
			return domain.Outcome{}, fmt.Errorf("ranking without product id: %w", domain.ErrInvalidInput)
		}
		entries = append(entries, store.RankingInput{ProductID: r.ProductID.String(), Ranking: r.Ranking})
		ranked = append(ranked, r.ProductID.String())
	}

	// Every write of a save commits together so a retry never finds half of
	// them applied.
	var (
		affected     []string
		res          streak.Result
		achievements []domain.Achievement
		coins        []domain.FlavorCoin
	)
	err := p.store.Transaction(ctx, func(tx *store.Store) error {
		var err error
		affected, err = tx.ReplaceRankings(ctx, userID, listID, entries, at)
		if err != nil {
			return err
		}
		if len(affected) > 0 {
			if _, err := tx.LogActivity(ctx, userID, ActivityRankingsSaved, map[string]any{
				"list_id":  listID,
				"count":    len(entries),
				"affected": len(affected),
			}); err != nil {
				return err
			}
		} else {
			// Replayed job: the list is already stored. Recompute what it names.
			affected = ranked
		}

		if res, err = p.streaks.WithStore(tx).RecordActivity(ctx, userID, domain.StreakDailyRank, at); err != nil {
			return err
		}
		ev := p.evaluator.WithStore(tx)
		if achievements, err = ev.Evaluate(ctx, userID); err != nil {
			return err
		}
		coins, err = ev.AwardCoins(ctx, userID, ranked)
		return err
	})
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("save rankings for %s: %w", userID, err)
	}

	out := domain.Outcome{
		Kind:               domain.OutcomeRankingsSaved,
		Action:             "saved",
		UserID:             userID,
		AffectedProductIDs: affected,
		RecordsCount:       len(entries),
		Achievements:       achievements,
		Coins:              coins,
	}
	if res.Changed() {
		out.Streak = res.Update()
	}
	return out, nil
}
