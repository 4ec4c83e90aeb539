// Package cache is the tagged result cache: content-addressed keys, TTL
// entries with lazy expiry, tag-based invalidation, and single-flight
// coalescing of concurrent misses. Storage is pluggable; the in-process
// memory adapter is the default and a Redis adapter ships alongside.
package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxBytes is the encoded-size ceiling above which Put silently
// skips the entry.
const DefaultMaxBytes = 5 * 1024 * 1024

// DefaultLockTimeout bounds how long a coalesced caller waits for the
// single-flight leader before computing the value itself.
const DefaultLockTimeout = 5 * time.Second

// Mode selects how a call interacts with the cache.
type Mode string

const (
	// ModeAuto reads through the cache and stores misses.
	ModeAuto Mode = "auto"
	// ModeBypass neither reads nor writes.
	ModeBypass Mode = "bypass"
	// ModeRefresh executes unconditionally and overwrites the entry.
	ModeRefresh Mode = "refresh"
)

// Options tune one Put or GetOrStore call.
type Options struct {
	Tags []string
	// MaxBytes overrides the cache-wide size ceiling; 0 keeps the default.
	MaxBytes int
	// Compress gzip-encodes the value before the size check.
	Compress bool
}

// Profile is a named set of caching defaults selectable per call.
type Profile struct {
	TTL  time.Duration
	Tags []string
}

// Adapter is the storage backend. Implementations own expiry and the tag
// index; values are opaque bytes.
type Adapter interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error
	Delete(ctx context.Context, key string) error
	// Touch extends an existing entry's TTL without rewriting the value.
	Touch(ctx context.Context, key string, ttl time.Duration) error
	InvalidateTags(ctx context.Context, tags []string) error
}

// Cache wraps an adapter with size limits, compression, profiles, and
// single-flight miss coalescing.
type Cache struct {
	adapter     Adapter
	maxBytes    int
	lockTimeout time.Duration
	profiles    map[string]Profile
	group       singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxBytes sets the cache-wide encoded-size ceiling.
func WithMaxBytes(n int) Option { return func(c *Cache) { c.maxBytes = n } }

// WithLockTimeout sets the single-flight wait bound.
func WithLockTimeout(d time.Duration) Option { return func(c *Cache) { c.lockTimeout = d } }

// WithProfiles registers named caching profiles.
func WithProfiles(p map[string]Profile) Option { return func(c *Cache) { c.profiles = p } }

// New builds a cache over adapter.
func New(adapter Adapter, opts ...Option) *Cache {
	c := &Cache{
		adapter:     adapter,
		maxBytes:    DefaultMaxBytes,
		lockTimeout: DefaultLockTimeout,
		profiles:    map[string]Profile{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Profile returns the named profile, if registered.
func (c *Cache) Profile(name string) (Profile, bool) {
	p, ok := c.profiles[name]
	return p, ok
}

// Get returns the decoded value for key, or a miss. Storage errors are
// demoted to misses: the cache must never fail a query that can run.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, ok, err := c.adapter.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache get failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	value, err := decompress(raw)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache entry corrupt, dropping")
		_ = c.adapter.Delete(ctx, key)
		return nil, false
	}
	return value, true
}

// Put stores value under key. Entries above the size ceiling are skipped
// silently; the next Get reports a miss.
func (c *Cache) Put(ctx context.Context, key string, value []byte, ttl time.Duration, opts Options) error {
	encoded := value
	if opts.Compress {
		var err error
		if encoded, err = compress(value); err != nil {
			return err
		}
	}
	limit := c.maxBytes
	if opts.MaxBytes > 0 {
		limit = opts.MaxBytes
	}
	if len(encoded) > limit {
		log.Debug().Str("key", key).Int("bytes", len(encoded)).Msg("cache entry over size limit, skipped")
		return nil
	}
	return c.adapter.Put(ctx, key, encoded, ttl, opts.Tags)
}

// Delete removes one entry.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.adapter.Delete(ctx, key)
}

// Touch extends an entry's TTL.
func (c *Cache) Touch(ctx context.Context, key string, ttl time.Duration) error {
	return c.adapter.Touch(ctx, key, ttl)
}

// InvalidateTags removes every entry carrying any of the tags. An empty
// tag list is a no-op.
func (c *Cache) InvalidateTags(ctx context.Context, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	return c.adapter.InvalidateTags(ctx, tags)
}

// GetOrStore returns the cached value for key, or computes it with fn and
// stores the outcome. Concurrent misses on the same key coalesce; a caller
// that waits longer than the lock timeout computes the value itself
// instead of failing. The bool reports whether the value came from the
// cache.
func (c *Cache) GetOrStore(ctx context.Context, key string, ttl time.Duration, opts Options, fn func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	if value, ok := c.Get(ctx, key); ok {
		return value, true, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// Re-check: another flight may have stored between our miss and
		// joining the group.
		if value, ok := c.Get(ctx, key); ok {
			return value, nil
		}
		value, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Put(ctx, key, value, ttl, opts); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("cache put failed")
		}
		return value, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]byte), false, nil
	case <-time.After(c.lockTimeout):
		c.group.Forget(key)
		value, err := fn(ctx)
		if err != nil {
			return nil, false, err
		}
		if err := c.Put(ctx, key, value, ttl, opts); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("cache put failed")
		}
		return value, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
