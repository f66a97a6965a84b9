// Package cache is the key/value substrate behind every named cache: a
// shared redis tier with an in-process fallback that keeps the same
// semantics minus cross-process coherence.
package cache

import (
	"context"
	"time"
)

// Tier names the storage currently serving requests.
type Tier string

const (
	TierRemote Tier = "remote"
	TierLocal  Tier = "local"
)

// Store maps (namespace, key) to opaque bytes. Implementations never return
// errors: a failed Set reports false and a failed Get reports a miss.
// A zero ttl means the entry does not expire.
type Store interface {
	Get(ctx context.Context, ns, key string) ([]byte, bool)
	Set(ctx context.Context, ns, key string, value []byte, ttl time.Duration) bool
	Del(ctx context.Context, ns, key string) bool
	Clear(ctx context.Context, ns string) bool
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, ns, key string, value []byte, ttl time.Duration) bool
	Hashes
	Tier() Tier
}

// Hashes keeps one value per field under a single key so writers touching
// different fields never overwrite each other.
type Hashes interface {
	HGet(ctx context.Context, ns, key, field string) ([]byte, bool)
	HGetAll(ctx context.Context, ns, key string) (map[string][]byte, bool)
	// HPatch sets and deletes fields of an existing hash in one step. A
	// missing hash stays missing and HPatch reports false.
	HPatch(ctx context.Context, ns, key string, set map[string][]byte, del []string) bool
	// HReplace swaps the whole hash for fields.
	HReplace(ctx context.Context, ns, key string, fields map[string][]byte, ttl time.Duration) bool
}
