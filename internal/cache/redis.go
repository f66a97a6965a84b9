package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Remote is the shared upstream tier. Unlike Store it reports errors so the
// tiered store can fall back.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	// Incr counts hits on key inside a fixed window that starts at the
	// first hit.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	HGet(ctx context.Context, key, field string) ([]byte, bool, error)
	HGetAll(ctx context.Context, key string) (map[string][]byte, bool, error)
	// HPatch applies set and del only when key exists and reports whether
	// it did.
	HPatch(ctx context.Context, key string, set map[string][]byte, del []string) (bool, error)
	HReplace(ctx context.Context, key string, fields map[string][]byte, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

// hashPatch edits an existing hash. ARGV is the number of pairs to set,
// then the field/value pairs, then the fields to delete.
const hashPatch = `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
local n = tonumber(ARGV[1])
for i = 2, n * 2, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
for i = n * 2 + 2, #ARGV do
	redis.call('HDEL', KEYS[1], ARGV[i])
end
return 1
`

// RedisRemote implements Remote on go-redis.
type RedisRemote struct {
	client    *redis.Client
	ioTimeout time.Duration
	patch     *redis.Script
}

// NewRedisRemote parses a redis:// URL and builds a client with per-call
// timeouts.
func NewRedisRemote(url string, ioTimeout time.Duration) (*RedisRemote, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if ioTimeout <= 0 {
		ioTimeout = 5 * time.Second
	}
	opt.DialTimeout = ioTimeout
	opt.ReadTimeout = ioTimeout
	opt.WriteTimeout = ioTimeout
	opt.MaxRetries = 1
	return NewRedisRemoteFromClient(redis.NewClient(opt), ioTimeout), nil
}

// NewRedisRemoteFromClient wraps an existing client.
func NewRedisRemoteFromClient(client *redis.Client, ioTimeout time.Duration) *RedisRemote {
	if ioTimeout <= 0 {
		ioTimeout = 5 * time.Second
	}
	return &RedisRemote{client: client, ioTimeout: ioTimeout, patch: redis.NewScript(hashPatch)}
}

func (r *RedisRemote) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.ioTimeout)
	defer cancel()
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisRemote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.ioTimeout)
	defer cancel()
	if ttl < 0 {
		ttl = 0
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisRemote) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.ioTimeout)
	defer cancel()
	return r.client.Del(ctx, key).Err()
}

// DeletePrefix removes every key starting with prefix using SCAN + UNLINK.
func (r *RedisRemote) DeletePrefix(ctx context.Context, prefix string) error {
	ctx, cancel := context.WithTimeout(ctx, 6*r.ioTimeout)
	defer cancel()

	match := escapeGlob(prefix) + "*"
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, 500).Result()
		if err != nil {
			return fmt.Errorf("scan %s: %w", match, err)
		}
		if len(keys) > 0 {
			if err := r.client.Unlink(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("unlink: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (r *RedisRemote) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.ioTimeout)
	defer cancel()
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

func (r *RedisRemote) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.ioTimeout)
	defer cancel()
	if ttl < 0 {
		ttl = 0
	}
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *RedisRemote) HGet(ctx context.Context, key, field string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.ioTimeout)
	defer cancel()
	b, err := r.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisRemote) HGetAll(ctx context.Context, key string) (map[string][]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.ioTimeout)
	defer cancel()
	m, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, false, err
	}
	if len(m) == 0 {
		return nil, false, nil
	}
	out := make(map[string][]byte, len(m))
	for f, v := range m {
		out[f] = []byte(v)
	}
	return out, true, nil
}

// HPatch runs as one script so concurrent patches from other processes
// interleave per field, never per hash.
func (r *RedisRemote) HPatch(ctx context.Context, key string, set map[string][]byte, del []string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.ioTimeout)
	defer cancel()
	fields := make([]string, 0, len(set))
	for f := range set {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	args := make([]any, 0, 1+2*len(set)+len(del))
	args = append(args, len(set))
	for _, f := range fields {
		args = append(args, f, set[f])
	}
	for _, f := range del {
		args = append(args, f)
	}
	n, err := r.patch.Run(ctx, r.client, []string{key}, args...).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisRemote) HReplace(ctx context.Context, key string, fields map[string][]byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.ioTimeout)
	defer cancel()
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) == 0 {
			return nil
		}
		values := make(map[string]any, len(fields))
		for f, v := range fields {
			values[f] = v
		}
		pipe.HSet(ctx, key, values)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

func (r *RedisRemote) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.ioTimeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *RedisRemote) Close() error { return r.client.Close() }

func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
