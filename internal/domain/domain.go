// Package domain holds the value types shared between the ingest pipeline,
// the caches and the notification bus.
package domain

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidInput marks payloads that can never succeed no matter how often
// they are retried.
var ErrInvalidInput = errors.New("invalid input")

// Job types accepted by the queue.
const (
	TypeOrders    = "orders"
	TypeProducts  = "products"
	TypeCustomers = "customers"
	TypeRankings  = "rankings"
)

// Identity is the authenticated principal behind a session.
type Identity struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

// Roles that carry elevated access.
const (
	RoleEmployeeAdmin = "employee_admin"
	RoleSuperAdmin    = "super_admin"
)

// AccessPolicy decides employee and super-admin membership.
type AccessPolicy struct {
	EmployeeDomain   string
	SuperAdminEmails map[string]struct{}
}

func (p AccessPolicy) IsEmployee(id *Identity) bool {
	if id == nil {
		return false
	}
	if id.Role == RoleEmployeeAdmin || id.Role == RoleSuperAdmin {
		return true
	}
	d := strings.ToLower(strings.TrimSpace(p.EmployeeDomain))
	return d != "" && strings.HasSuffix(strings.ToLower(id.Email), d)
}

func (p AccessPolicy) IsSuperAdmin(id *Identity) bool {
	if id == nil {
		return false
	}
	if id.Role == RoleSuperAdmin {
		return true
	}
	_, ok := p.SuperAdminEmails[strings.ToLower(strings.TrimSpace(id.Email))]
	return ok
}

// IsAdminViewer reports whether live presence data may be shown unredacted.
func (p AccessPolicy) IsAdminViewer(id *Identity) bool {
	if id == nil {
		return false
	}
	return id.Role == RoleEmployeeAdmin || p.IsSuperAdmin(id)
}

// Achievement is a derived award as delivered to clients.
type Achievement struct {
	Code     string    `json:"code"`
	Name     string    `json:"name"`
	Tier     string    `json:"tier,omitempty"`
	Icon     string    `json:"icon,omitempty"`
	EarnedAt time.Time `json:"earnedAt"`
}

// Signature identifies an achievement for duplicate suppression.
func (a Achievement) Signature() string {
	tier := a.Tier
	if tier == "" {
		tier = "base"
	}
	return a.Code + "_" + tier
}

// MergeKey identifies an achievement inside a pending bundle.
func (a Achievement) MergeKey() string {
	if a.Tier != "" {
		return a.Code + ":" + a.Tier
	}
	return a.Code + ":" + a.Name
}

// FlavorCoin is awarded the first time a user ranks a product of a flavor.
type FlavorCoin struct {
	Flavor    string    `json:"flavor"`
	Display   string    `json:"display"`
	Icon      string    `json:"icon,omitempty"`
	ProductID string    `json:"productId"`
	EarnedAt  time.Time `json:"earnedAt"`
}

// StreakType names a tracked streak.
type StreakType string

const (
	StreakDailyRank  StreakType = "daily_rank"
	StreakDailyLogin StreakType = "daily_login"
)

var streakTypes = map[StreakType]struct{}{
	StreakDailyRank:  {},
	StreakDailyLogin: {},
}

// Valid reports whether t is on the streak allow-list.
func (t StreakType) Valid() bool {
	_, ok := streakTypes[t]
	return ok
}
