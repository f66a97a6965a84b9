package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Tiered serves from the remote tier while it is healthy and from the
// in-process tier otherwise. Fallback contents are dropped when the remote
// tier recovers so stale local values are never served afterwards, and keys
// touched during the outage are removed upstream before it is used again.
type Tiered struct {
	remote  Remote
	local   *MemoryStore
	prefix  string
	logger  *slog.Logger
	recheck time.Duration

	healthy atomic.Bool

	mu         sync.Mutex
	dirtyKeys  map[string]struct{}
	dirtySpace map[string]struct{}
}

type TieredOptions struct {
	Prefix  string
	Logger  *slog.Logger
	Recheck time.Duration
}

// NewTiered builds a tiered store. remote may be nil, in which case the
// store is local-only.
func NewTiered(remote Remote, local *MemoryStore, opts TieredOptions) *Tiered {
	if local == nil {
		local = NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Recheck <= 0 {
		opts.Recheck = 5 * time.Second
	}
	if opts.Prefix == "" {
		opts.Prefix = "cache"
	}
	return &Tiered{
		remote:  remote,
		local:   local,
		prefix:  opts.Prefix,
		logger:  opts.Logger.With("component", "cache"),
		recheck: opts.Recheck,

		dirtyKeys:  make(map[string]struct{}),
		dirtySpace: make(map[string]struct{}),
	}
}

// Connect pings the remote tier until it answers or the deadline passes.
// On failure the store keeps running on the local tier.
func (t *Tiered) Connect(ctx context.Context, deadline time.Duration) error {
	if t.remote == nil {
		t.logger.Info("cache running in-process only")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	backoff := 200 * time.Millisecond
	for {
		err := t.remote.Ping(ctx)
		if err == nil {
			t.healthy.Store(true)
			t.logger.Info("cache upstream connected")
			return nil
		}
		select {
		case <-ctx.Done():
			t.logger.Warn("cache upstream not ready, using in-process tier", "error", err)
			return errors.Join(err, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
}

// Run watches the remote tier and restores it when it answers again.
func (t *Tiered) Run(ctx context.Context) {
	if t.remote == nil {
		return
	}
	tick := time.NewTicker(t.recheck)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			t.Probe(ctx)
		}
	}
}

// Probe checks the remote tier once and updates the active tier.
func (t *Tiered) Probe(ctx context.Context) {
	if t.remote == nil {
		return
	}
	err := t.remote.Ping(ctx)
	switch {
	case err != nil:
		t.markDown(err)
	case !t.healthy.Load():
		if err := t.reconcile(ctx); err != nil {
			t.logger.Warn("cache upstream reconcile failed", "error", err)
			return
		}
		t.local.Flush()
		t.healthy.Store(true)
		t.logger.Info("cache upstream recovered")
	}
}

// reconcile drops upstream copies of everything written, deleted or cleared
// while the remote tier was unavailable.
func (t *Tiered) reconcile(ctx context.Context) error {
	t.mu.Lock()
	spaces := t.dirtySpace
	keys := t.dirtyKeys
	t.dirtySpace = make(map[string]struct{})
	t.dirtyKeys = make(map[string]struct{})
	t.mu.Unlock()

	var failed error
	for ns := range spaces {
		if err := t.remote.DeletePrefix(ctx, t.prefix+":"+ns+":"); err != nil {
			failed = err
			break
		}
	}
	if failed == nil {
		for k := range keys {
			if err := t.remote.Delete(ctx, k); err != nil {
				failed = err
				break
			}
		}
	}
	if failed != nil {
		t.mu.Lock()
		for ns := range spaces {
			t.dirtySpace[ns] = struct{}{}
		}
		for k := range keys {
			t.dirtyKeys[k] = struct{}{}
		}
		t.mu.Unlock()
	}
	return failed
}

func (t *Tiered) markDirty(ns, key string) {
	if t.remote == nil {
		return
	}
	t.mu.Lock()
	if key == "" {
		t.dirtySpace[ns] = struct{}{}
	} else {
		t.dirtyKeys[t.remoteKey(ns, key)] = struct{}{}
	}
	t.mu.Unlock()
}

func (t *Tiered) markDown(err error) {
	if t.healthy.CompareAndSwap(true, false) {
		t.logger.Warn("cache upstream unavailable, falling back to in-process tier", "error", err)
	}
}

func (t *Tiered) useRemote() bool { return t.remote != nil && t.healthy.Load() }

func (t *Tiered) remoteKey(ns, key string) string { return t.prefix + ":" + ns + ":" + key }

func (t *Tiered) Get(ctx context.Context, ns, key string) ([]byte, bool) {
	if t.useRemote() {
		v, ok, err := t.remote.Get(ctx, t.remoteKey(ns, key))
		if err == nil {
			return v, ok
		}
		t.markDown(err)
	}
	return t.local.Get(ctx, ns, key)
}

func (t *Tiered) Set(ctx context.Context, ns, key string, value []byte, ttl time.Duration) bool {
	if t.useRemote() {
		err := t.remote.Set(ctx, t.remoteKey(ns, key), value, ttl)
		if err == nil {
			return true
		}
		t.markDown(err)
	}
	t.markDirty(ns, key)
	return t.local.Set(ctx, ns, key, value, ttl)
}

func (t *Tiered) Del(ctx context.Context, ns, key string) bool {
	// The local tier is always cleaned so a later fallback cannot resurrect
	// an invalidated value.
	t.local.Del(ctx, ns, key)
	if t.useRemote() {
		err := t.remote.Delete(ctx, t.remoteKey(ns, key))
		if err == nil {
			return true
		}
		t.markDown(err)
	}
	t.markDirty(ns, key)
	return true
}

func (t *Tiered) Clear(ctx context.Context, ns string) bool {
	t.local.Clear(ctx, ns)
	if t.useRemote() {
		err := t.remote.DeletePrefix(ctx, t.prefix+":"+ns+":")
		if err == nil {
			return true
		}
		t.markDown(err)
	}
	t.markDirty(ns, "")
	return true
}

func (t *Tiered) SetNX(ctx context.Context, ns, key string, value []byte, ttl time.Duration) bool {
	if t.useRemote() {
		ok, err := t.remote.SetNX(ctx, t.remoteKey(ns, key), value, ttl)
		if err == nil {
			return ok
		}
		t.markDown(err)
	}
	t.markDirty(ns, key)
	return t.local.SetNX(ctx, ns, key, value, ttl)
}

func (t *Tiered) HGet(ctx context.Context, ns, key, field string) ([]byte, bool) {
	if t.useRemote() {
		v, ok, err := t.remote.HGet(ctx, t.remoteKey(ns, key), field)
		if err == nil {
			return v, ok
		}
		t.markDown(err)
	}
	return t.local.HGet(ctx, ns, key, field)
}

func (t *Tiered) HGetAll(ctx context.Context, ns, key string) (map[string][]byte, bool) {
	if t.useRemote() {
		v, ok, err := t.remote.HGetAll(ctx, t.remoteKey(ns, key))
		if err == nil {
			return v, ok
		}
		t.markDown(err)
	}
	return t.local.HGetAll(ctx, ns, key)
}

func (t *Tiered) HPatch(ctx context.Context, ns, key string, set map[string][]byte, del []string) bool {
	if t.useRemote() {
		ok, err := t.remote.HPatch(ctx, t.remoteKey(ns, key), set, del)
		if err == nil {
			return ok
		}
		t.markDown(err)
	}
	t.markDirty(ns, key)
	return t.local.HPatch(ctx, ns, key, set, del)
}

func (t *Tiered) HReplace(ctx context.Context, ns, key string, fields map[string][]byte, ttl time.Duration) bool {
	if t.useRemote() {
		err := t.remote.HReplace(ctx, t.remoteKey(ns, key), fields, ttl)
		if err == nil {
			return true
		}
		t.markDown(err)
	}
	t.markDirty(ns, key)
	return t.local.HReplace(ctx, ns, key, fields, ttl)
}

// Incr counts hits on key for rate limiting. Counters fall back to the
// local tier and are never reconciled.
func (t *Tiered) Incr(ctx context.Context, key string, window time.Duration) int64 {
	if t.useRemote() {
		n, err := t.remote.Incr(ctx, t.prefix+":rl:"+key, window)
		if err == nil {
			return n
		}
		t.markDown(err)
	}
	return t.local.Incr(ctx, key, window)
}

func (t *Tiered) Tier() Tier {
	if t.useRemote() {
		return TierRemote
	}
	return TierLocal
}

// Local exposes the in-process tier for sweeping.
func (t *Tiered) Local() *MemoryStore { return t.local }

func (t *Tiered) Close() error {
	if t.remote == nil {
		return nil
	}
	return t.remote.Close()
}
