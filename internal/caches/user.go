package caches

import (
	"context"
)

func userKey(userID string) string { return "user:" + userID }

// PurchaseHistoryCache maps a user to the product ids they bought.
type PurchaseHistoryCache struct{ *Named }

func (c *PurchaseHistoryCache) Get(ctx context.Context, userID string) ([]string, bool) {
	var ids []string
	ok := c.GetJSON(ctx, userKey(userID), &ids)
	return ids, ok
}

func (c *PurchaseHistoryCache) Set(ctx context.Context, userID string, productIDs []string) bool {
	if productIDs == nil {
		productIDs = []string{}
	}
	return c.SetJSON(ctx, userKey(userID), productIDs)
}

func (c *PurchaseHistoryCache) Load(ctx context.Context, userID string, load func(context.Context) ([]string, error)) ([]string, error) {
	return GetOrLoad(ctx, c.Named, userKey(userID), load)
}

func (c *PurchaseHistoryCache) Invalidate(ctx context.Context, userID string) bool {
	return c.Del(ctx, userKey(userID))
}

// UserCache is a per-user cache keyed "user:<id>" or, for callers that vary
// the value by page, "user:<id>:<context>". Invalidation removes the base key
// and every declared context.
type UserCache struct {
	*Named
	contexts []string
}

func (c *UserCache) key(userID, sub string) string {
	if sub == "" {
		return userKey(userID)
	}
	return userKey(userID) + ":" + sub
}

func (c *UserCache) Get(ctx context.Context, userID, sub string, dst any) bool {
	return c.GetJSON(ctx, c.key(userID, sub), dst)
}

func (c *UserCache) Set(ctx context.Context, userID, sub string, v any) bool {
	return c.SetJSON(ctx, c.key(userID, sub), v)
}

// Invalidate removes every entry of one user. It reports false if any
// delete failed.
func (c *UserCache) Invalidate(ctx context.Context, userID string) bool {
	ok := c.Del(ctx, c.key(userID, ""))
	for _, sub := range c.contexts {
		if !c.Del(ctx, c.key(userID, sub)) {
			ok = false
		}
	}
	return ok
}
