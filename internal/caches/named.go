// Package caches holds the typed caches layered on the substrate. Each one
// owns a namespace, a TTL policy and a key shape.
package caches

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/PrateekKrishna/rank-sync/internal/cache"
)

// Named is one namespace of the substrate with a fixed TTL. Values are JSON.
type Named struct {
	store  cache.Store
	ns     string
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

func newNamed(store cache.Store, ns string, ttl time.Duration, logger *slog.Logger) *Named {
	return &Named{store: store, ns: ns, ttl: ttl, logger: logger}
}

func (n *Named) Namespace() string  { return n.ns }
func (n *Named) TTL() time.Duration { return n.ttl }

// GetJSON decodes the entry at key into dst. Undecodable entries count as
// misses and are dropped.
func (n *Named) GetJSON(ctx context.Context, key string, dst any) bool {
	raw, ok := n.store.Get(ctx, n.ns, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		n.logger.Warn("dropping undecodable cache entry", "namespace", n.ns, "key", key, "error", err)
		n.store.Del(ctx, n.ns, key)
		return false
	}
	return true
}

// SetJSON stores v under key with the cache TTL.
func (n *Named) SetJSON(ctx context.Context, key string, v any) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		n.logger.Error("cache value not encodable", "namespace", n.ns, "key", key, "error", err)
		return false
	}
	return n.SetRaw(ctx, key, raw)
}

func (n *Named) SetRaw(ctx context.Context, key string, raw []byte) bool {
	ok := n.store.Set(ctx, n.ns, key, raw, n.ttl)
	if !ok {
		n.logger.Warn("cache set failed", "namespace", n.ns, "key", key)
	}
	return ok
}

func (n *Named) GetRaw(ctx context.Context, key string) ([]byte, bool) {
	return n.store.Get(ctx, n.ns, key)
}

func (n *Named) Del(ctx context.Context, key string) bool { return n.store.Del(ctx, n.ns, key) }

// SetNX stores raw under key with the cache TTL unless key is present.
func (n *Named) SetNX(ctx context.Context, key string, raw []byte) bool {
	return n.store.SetNX(ctx, n.ns, key, raw, n.ttl)
}

func (n *Named) HGet(ctx context.Context, key, field string) ([]byte, bool) {
	return n.store.HGet(ctx, n.ns, key, field)
}

func (n *Named) HGetAll(ctx context.Context, key string) (map[string][]byte, bool) {
	return n.store.HGetAll(ctx, n.ns, key)
}

// HPatch edits fields of the hash at key when it is cached.
func (n *Named) HPatch(ctx context.Context, key string, set map[string][]byte, del []string) bool {
	return n.store.HPatch(ctx, n.ns, key, set, del)
}

// HReplace stores fields as the hash at key with the cache TTL.
func (n *Named) HReplace(ctx context.Context, key string, fields map[string][]byte) bool {
	ok := n.store.HReplace(ctx, n.ns, key, fields, n.ttl)
	if !ok {
		n.logger.Warn("cache set failed", "namespace", n.ns, "key", key)
	}
	return ok
}

// fieldUpdated holds the last full or partial write time of a map kept as a
// hash. It also keeps an empty map present.
const fieldUpdated = "_updated"

// encodeFields marshals each value of m into its own hash field.
func encodeFields[T any](m map[string]T) (map[string][]byte, error) {
	out := make(map[string][]byte, len(m)+1)
	for k, v := range m {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		out[k] = raw
	}
	return out, nil
}

// decodeFields is the inverse of encodeFields. The reserved field is
// skipped and fields that do not decode are left out.
func decodeFields[T any](n *Named, key string, fields map[string][]byte) map[string]T {
	out := make(map[string]T, len(fields))
	for f, raw := range fields {
		if f == fieldUpdated {
			continue
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			n.logger.Warn("skipping undecodable cache field", "namespace", n.ns, "key", key, "field", f, "error", err)
			continue
		}
		out[f] = v
	}
	return out
}

// Clear drops the whole namespace.
func (n *Named) Clear(ctx context.Context) bool { return n.store.Clear(ctx, n.ns) }

// GetOrLoad returns the cached value at key or loads, stores and returns it.
// Concurrent misses for the same key share one load.
func GetOrLoad[T any](ctx context.Context, n *Named, key string, load func(context.Context) (T, error)) (T, error) {
	var out T
	if n.GetJSON(ctx, key, &out) {
		return out, nil
	}
	v, err, _ := n.group.Do(key, func() (any, error) {
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		n.SetJSON(ctx, key, loaded)
		return loaded, nil
	})
	if err != nil {
		return out, err
	}
	return v.(T), nil
}
