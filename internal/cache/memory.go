package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	value []byte
	// fields is set for hash entries only.
	fields    map[string][]byte
	expiresAt time.Time
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is the in-process tier.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	counter map[string]memCount
	now     func() time.Time
}

type memCount struct {
	n         int64
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memEntry), counter: make(map[string]memCount), now: time.Now}
}

func memKey(ns, key string) string { return ns + "\x00" + key }

func (m *MemoryStore) Get(_ context.Context, ns, key string) ([]byte, bool) {
	k := memKey(ns, key)
	m.mu.RLock()
	e, ok := m.entries[k]
	m.mu.RUnlock()
	if !ok || e.fields != nil {
		return nil, false
	}
	if e.expired(m.now()) {
		m.mu.Lock()
		if cur, ok := m.entries[k]; ok && cur.expired(m.now()) {
			delete(m.entries, k)
		}
		m.mu.Unlock()
		return nil, false
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true
}

func (m *MemoryStore) Set(_ context.Context, ns, key string, value []byte, ttl time.Duration) bool {
	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[memKey(ns, key)] = e
	m.mu.Unlock()
	return true
}

func (m *MemoryStore) SetNX(_ context.Context, ns, key string, value []byte, ttl time.Duration) bool {
	k := memKey(ns, key)
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[k]; ok && !cur.expired(now) {
		return false
	}
	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	m.entries[k] = e
	return true
}

// hash returns the live hash at k. Callers hold mu.
func (m *MemoryStore) hash(k string) (memEntry, bool) {
	e, ok := m.entries[k]
	if !ok || e.fields == nil || e.expired(m.now()) {
		return memEntry{}, false
	}
	return e, true
}

func (m *MemoryStore) HGet(_ context.Context, ns, key, field string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.hash(memKey(ns, key))
	if !ok {
		return nil, false
	}
	v, ok := e.fields[field]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

func (m *MemoryStore) HGetAll(_ context.Context, ns, key string) (map[string][]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.hash(memKey(ns, key))
	if !ok {
		return nil, false
	}
	out := make(map[string][]byte, len(e.fields))
	for f, v := range e.fields {
		out[f] = append([]byte(nil), v...)
	}
	return out, true
}

func (m *MemoryStore) HPatch(_ context.Context, ns, key string, set map[string][]byte, del []string) bool {
	k := memKey(ns, key)
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.hash(k)
	if !ok {
		return false
	}
	for f, v := range set {
		e.fields[f] = append([]byte(nil), v...)
	}
	for _, f := range del {
		delete(e.fields, f)
	}
	if len(e.fields) == 0 {
		delete(m.entries, k)
	}
	return true
}

func (m *MemoryStore) HReplace(_ context.Context, ns, key string, fields map[string][]byte, ttl time.Duration) bool {
	k := memKey(ns, key)
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(fields) == 0 {
		delete(m.entries, k)
		return true
	}
	e := memEntry{fields: make(map[string][]byte, len(fields))}
	for f, v := range fields {
		e.fields[f] = append([]byte(nil), v...)
	}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[k] = e
	return true
}

func (m *MemoryStore) Del(_ context.Context, ns, key string) bool {
	m.mu.Lock()
	delete(m.entries, memKey(ns, key))
	m.mu.Unlock()
	return true
}

func (m *MemoryStore) Clear(_ context.Context, ns string) bool {
	prefix := ns + "\x00"
	m.mu.Lock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	m.mu.Unlock()
	return true
}

// Flush drops every entry in every namespace.
func (m *MemoryStore) Flush() {
	m.mu.Lock()
	m.entries = make(map[string]memEntry)
	m.mu.Unlock()
}

// Sweep removes expired entries and returns how many were dropped.
func (m *MemoryStore) Sweep() int {
	now := m.now()
	n := 0
	m.mu.Lock()
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	for k, c := range m.counter {
		if !now.Before(c.expiresAt) {
			delete(m.counter, k)
		}
	}
	m.mu.Unlock()
	return n
}

// Len reports the number of stored entries, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryStore) Tier() Tier { return TierLocal }

// RunSweeper expires entries every interval until ctx is done.
func (m *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

// Incr counts hits on key in a window that starts at the first hit.
func (m *MemoryStore) Incr(_ context.Context, key string, window time.Duration) int64 {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counter[key]
	if c.n == 0 || !now.Before(c.expiresAt) {
		c = memCount{expiresAt: now.Add(window)}
	}
	c.n++
	m.counter[key] = c
	return c.n
}
