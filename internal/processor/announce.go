package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/PrateekKrishna/rank-sync/internal/bus"
	"github.com/PrateekKrishna/rank-sync/internal/domain"
	"github.com/PrateekKrishna/rank-sync/internal/suppress"
)

// Notifier is the publishing side of the notification bus.
type Notifier interface {
	Emit(room, event string, data any)
	EmitToUser(userID, event string, data any)
	NotifyAchievements(userID string, as []domain.Achievement)
	NotifyCoins(userID string, cs []domain.FlavorCoin)
}

// Announcer turns outcomes into bus events. Publishing never fails the job.
type Announcer struct {
	bus        Notifier
	suppressor *suppress.Suppressor
	logger     *slog.Logger
	now        func() time.Time
}

func NewAnnouncer(n Notifier, s *suppress.Suppressor, logger *slog.Logger) *Announcer {
	return &Announcer{
		bus:        n,
		suppressor: s,
		logger:     logger.With("component", "announcer"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type orderUpdate struct {
	Action             string    `json:"action"`
	OrderNumber        string    `json:"orderNumber"`
	RecordsCount       int       `json:"recordsCount"`
	UserID             string    `json:"userId,omitempty"`
	AffectedProductIDs []string  `json:"affectedProductIds,omitempty"`
	Reason             string    `json:"reason,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

type productUpdate struct {
	Action    string              `json:"action"`
	Topic     string              `json:"topic"`
	ProductID string              `json:"productId"`
	Title     string              `json:"title,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	Product   *domain.ProductInfo `json:"product,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

type activity struct {
	Type      string         `json:"type"`
	UserID    string         `json:"userId"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Announce publishes the events of one outcome.
func (a *Announcer) Announce(ctx context.Context, o domain.Outcome) {
	now := a.now()
	switch o.Type {
	case domain.TypeOrders:
		a.order(o, now)
	case domain.TypeProducts:
		a.product(o, now)
	case domain.TypeCustomers:
		if o.Kind == domain.OutcomeCustomerUpserted {
			a.bus.EmitToUser(o.UserID, bus.EventProfileUpdated, map[string]any{"userId": o.UserID, "timestamp": now})
		}
	case domain.TypeRankings:
		if o.Kind == domain.OutcomeRankingsSaved {
			a.rankings(ctx, o, now)
		}
	}
}

func (a *Announcer) order(o domain.Outcome, now time.Time) {
	if o.OrderNumber == "" {
		return
	}
	a.bus.Emit(bus.RoomCustomerOrders, bus.EventCustomerOrders, orderUpdate{
		Action:             o.Action,
		OrderNumber:        o.OrderNumber,
		RecordsCount:       o.RecordsCount,
		UserID:             o.UserID,
		AffectedProductIDs: o.AffectedProductIDs,
		Reason:             o.Reason,
		Timestamp:          now,
	})
}

func (a *Announcer) product(o domain.Outcome, now time.Time) {
	u := productUpdate{
		Action:    o.Action,
		Topic:     o.Topic,
		ProductID: o.ProductID,
		Reason:    o.Reason,
		Product:   o.Product,
		Timestamp: now,
	}
	if o.Product != nil {
		u.Title = o.Product.Title
	}
	a.bus.Emit(bus.RoomProductWebhooks, bus.EventProductWebhook, u)
}

func (a *Announcer) rankings(ctx context.Context, o domain.Outcome, now time.Time) {
	kept, skipped := a.suppressor.Filter(ctx, o.UserID, o.Achievements)
	if len(skipped) > 0 {
		a.logger.Debug("suppressed repeat achievements", "user_id", o.UserID, "count", len(skipped))
	}
	a.bus.NotifyAchievements(o.UserID, kept)
	if coins := a.suppressor.FilterCoins(ctx, o.UserID, o.Coins); len(coins) > 0 {
		a.bus.NotifyCoins(o.UserID, coins)
	}
	if o.Streak != nil {
		a.bus.EmitToUser(o.UserID, bus.EventStreakUpdated, o.Streak)
	}
	a.bus.Emit(bus.RoomLeaderboard, bus.EventLeaderboardUpdated, map[string]any{"timestamp": now})

	data := map[string]any{"count": o.RecordsCount}
	if len(kept) > 0 {
		data["achievements"] = kept
	}
	a.bus.Emit(bus.RoomActivityFeed, bus.EventActivityNew, activity{
		Type:      "ranking",
		UserID:    o.UserID,
		Data:      data,
		Timestamp: now,
	})
}
