// internal/models/models.go
package models

import (
	"time"

	"gorm.io/datatypes"
)

// User is a storefront customer or employee.
type User struct {
	ID                string  `gorm:"primaryKey;size:64"`
	ShopifyCustomerID *string `gorm:"uniqueIndex;size:64"`
	Email             string  `gorm:"index;size:255"`
	FirstName         string
	LastName          string
	DisplayName       string
	Role              string `gorm:"size:32;not null;default:user"`
	Tags              string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Session maps an opaque session id to a user.
type Session struct {
	ID        string `gorm:"primaryKey;size:128"`
	UserID    string `gorm:"index;size:64;not null"`
	ExpiresAt time.Time
	CreatedAt time.Time
}

// OrderLine is one purchased line of a storefront order.
type OrderLine struct {
	OrderNumber   string    `gorm:"primaryKey;size:64"`
	ProductID     string    `gorm:"primaryKey;size:64"`
	SKU           string    `gorm:"primaryKey;size:128;column:sku"`
	OrderDate     time.Time `gorm:"index"`
	Quantity      int       `gorm:"not null"`
	UserID        string    `gorm:"index;size:64;not null"`
	CustomerEmail string    `gorm:"size:255"`
	LineItemData  datatypes.JSON
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (OrderLine) TableName() string { return "customer_order_items" }

// CancelledOrder remembers who owned a cancelled order and which products
// it held after its lines are gone.
type CancelledOrder struct {
	OrderNumber string `gorm:"primaryKey;size:64"`
	UserID      string `gorm:"size:64;not null"`
	ProductIDs  datatypes.JSON
	CancelledAt time.Time
}

// ProductRanking is one product placement in a user's ranking list.
type ProductRanking struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"size:64;not null;uniqueIndex:ux_rankings_user_list_product,priority:1"`
	ListID    string `gorm:"size:64;not null;default:default;uniqueIndex:ux_rankings_user_list_product,priority:2"`
	ProductID string `gorm:"size:64;not null;index;uniqueIndex:ux_rankings_user_list_product,priority:3"`
	Ranking   int    `gorm:"not null"`
	CreatedAt time.Time
}

// ProductMetadata holds storefront product fields plus the derived animal
// and flavor classification.
type ProductMetadata struct {
	ProductID         string `gorm:"primaryKey;size:64"`
	Title             string
	Vendor            string
	AnimalType        string `gorm:"size:64"`
	AnimalDisplay     string `gorm:"size:64"`
	AnimalIcon        string `gorm:"size:32"`
	PrimaryFlavor     string `gorm:"size:64;index"`
	SecondaryFlavors  datatypes.JSON
	FlavorDisplay     string `gorm:"size:64"`
	FlavorIcon        string `gorm:"size:32"`
	Tags              string
	ShopifyCreatedAt  *time.Time
	DeleteRequestedAt *time.Time `gorm:"index"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (ProductMetadata) TableName() string { return "products_metadata" }

// Achievement is a catalog entry; Tiers is a JSON list of {name, threshold}.
type Achievement struct {
	ID     uint   `gorm:"primaryKey"`
	Code   string `gorm:"uniqueIndex;size:64;not null"`
	Name   string `gorm:"not null"`
	Icon   string `gorm:"size:32"`
	Metric string `gorm:"size:64;not null"`
	Filter string `gorm:"size:64"`
	Tiers  datatypes.JSON
}

// UserAchievement records the highest tier a user holds.
type UserAchievement struct {
	ID            uint   `gorm:"primaryKey"`
	UserID        string `gorm:"size:64;not null;uniqueIndex:ux_user_achievement,priority:1"`
	AchievementID uint   `gorm:"not null;uniqueIndex:ux_user_achievement,priority:2"`
	Tier          string `gorm:"size:32"`
	EarnedAt      time.Time
	UpdatedAt     time.Time
}

// Streak is the per-user streak state.
type Streak struct {
	ID               uint      `gorm:"primaryKey"`
	UserID           string    `gorm:"size:64;not null;uniqueIndex:ux_streak_user_type,priority:1"`
	StreakType       string    `gorm:"size:32;not null;uniqueIndex:ux_streak_user_type,priority:2"`
	Current          int       `gorm:"not null"`
	Longest          int       `gorm:"not null"`
	LastActivityDate time.Time `gorm:"not null"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ActivityLog is an append-only user activity record.
type ActivityLog struct {
	ID           uint   `gorm:"primaryKey"`
	UserID       string `gorm:"size:64;not null;index"`
	ActivityType string `gorm:"size:64;not null;index"`
	Data         datatypes.JSON
	CreatedAt    time.Time `gorm:"index"`
}

func (ActivityLog) TableName() string { return "activity_log" }

// FlavorCoin is awarded once per user and flavor.
type FlavorCoin struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"size:64;not null;uniqueIndex:ux_coin_user_flavor,priority:1"`
	Flavor    string `gorm:"size:64;not null;uniqueIndex:ux_coin_user_flavor,priority:2"`
	ProductID string `gorm:"size:64"`
	EarnedAt  time.Time
}

// PageView is a recorded page visit.
type PageView struct {
	ID        uint    `gorm:"primaryKey"`
	UserID    *string `gorm:"size:64;index"`
	Page      string  `gorm:"size:512"`
	ProductID string  `gorm:"size:64;index"`
	CreatedAt time.Time
}

// SearchLog is a recorded catalog search.
type SearchLog struct {
	ID        uint    `gorm:"primaryKey"`
	UserID    *string `gorm:"size:64;index"`
	Query     string  `gorm:"size:512"`
	CreatedAt time.Time
}

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&User{}, &Session{}, &OrderLine{}, &CancelledOrder{}, &ProductRanking{}, &ProductMetadata{},
		&Achievement{}, &UserAchievement{}, &Streak{}, &ActivityLog{}, &FlavorCoin{},
		&PageView{}, &SearchLog{},
	}
}
