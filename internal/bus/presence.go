package bus

import (
	"sort"
	"strings"
	"time"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
)

// activeUser aggregates the authenticated connections of one user.
type activeUser struct {
	identity     domain.Identity
	conns        map[string]struct{}
	page         string
	lastActivity time.Time
}

// LiveUser is one row of the live-users view.
type LiveUser struct {
	UserID       string    `json:"userId"`
	DisplayName  string    `json:"displayName"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Email        string    `json:"email"`
	CurrentPage  string    `json:"currentPage"`
	LastActivity time.Time `json:"lastActivity"`
	Connections  int       `json:"connections"`
}

// LiveUsersView is the live-users:update payload.
type LiveUsersView struct {
	Users     []LiveUser `json:"users"`
	Count     int        `json:"count"`
	Timestamp time.Time  `json:"timestamp"`
}

func liveUsers(users map[string]*activeUser, now time.Time) LiveUsersView {
	out := make([]LiveUser, 0, len(users))
	for id, u := range users {
		out = append(out, LiveUser{
			UserID:       id,
			DisplayName:  u.identity.DisplayName,
			FirstName:    u.identity.FirstName,
			LastName:     u.identity.LastName,
			Email:        u.identity.Email,
			CurrentPage:  u.page,
			LastActivity: u.lastActivity,
			Connections:  len(u.conns),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].UserID < out[j].UserID
	})
	return LiveUsersView{Users: out, Count: len(out), Timestamp: now}
}

// Redacted hides personal details from viewers who are not admins.
func (v LiveUsersView) Redacted() LiveUsersView {
	users := make([]LiveUser, len(v.Users))
	for i, u := range v.Users {
		u.LastName = initial(u.LastName)
		u.Email = maskEmail(u.Email)
		if u.FirstName != "" {
			u.DisplayName = strings.TrimSpace(u.FirstName + " " + u.LastName)
		}
		users[i] = u
	}
	v.Users = users
	return v
}

func initial(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) == 0 {
		return ""
	}
	return string(r[0]) + "."
}

func maskEmail(e string) string {
	local, _, ok := strings.Cut(e, "@")
	if !ok {
		return ""
	}
	return local + "@***"
}
