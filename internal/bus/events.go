package bus

import (
	"encoding/json"
	"strings"
)

// Server-to-client events.
const (
	EventAchievementsEarned = "achievements:earned"
	EventFlavorCoinsEarned  = "flavor_coins:earned"
	EventStreakUpdated      = "streak:updated"
	EventLeaderboardUpdated = "leaderboard:updated"
	EventActivityNew        = "activity:new"
	EventProductViewCount   = "product:view-count"
	EventCustomerOrders     = "customer-orders:updated"
	EventLiveUsers          = "live-users:update"
	EventProductWebhook     = "product_webhook_update"
	EventProfileUpdated     = "profile:updated"

	EventAuthSuccess    = "auth:success"
	EventAuthError      = "auth:error"
	EventSubscribed     = "subscribed"
	EventSubscribeError = "subscribe:error"
)

// Client-to-server operations. Subscriptions carry the room in the event
// name: "subscribe:leaderboard".
const (
	OpAuth        = "auth"
	OpPageView    = "page:view"
	opSubscribe   = "subscribe:"
	opUnsubscribe = "unsubscribe:"
)

// Rooms.
const (
	RoomLeaderboard     = "leaderboard"
	RoomActivityFeed    = "activity-feed"
	RoomLiveUsers       = "live-users"
	RoomCustomerOrders  = "admin:customer-orders"
	RoomProductWebhooks = "admin:product-webhooks"
)

func UserRoom(userID string) string { return "user:" + userID }

// restricted rooms admit employees only.
func restricted(room string) bool {
	return room == RoomLiveUsers || strings.HasPrefix(room, "admin:")
}

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func newFrame(event string, data any) (Frame, error) {
	if data == nil {
		return Frame{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: raw}, nil
}
