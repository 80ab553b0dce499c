package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/morningbrief/api/internal/model"
)

// ContentCache stores aggregated content per (type, selector) in Redis.
//
// The Redis key lives for the configured max retention. Within that window an
// entry is fresh until its FreshUntil, stale afterwards or after a failed
// refresh; once the key ages out it is absent.
type ContentCache struct {
	redis     *redis.Client
	retention time.Duration
	now       func() time.Time
}

// NewContentCache creates a cache whose keys expire after retention.
func NewContentCache(redisClient *redis.Client, retention time.Duration) *ContentCache {
	return &ContentCache{
		redis:     redisClient,
		retention: retention,
		now:       time.Now,
	}
}

// WithClock overrides the clock. Used by tests.
func (c *ContentCache) WithClock(now func() time.Time) *ContentCache {
	c.now = now
	return c
}

// Key returns the Redis key for a content type and selector.
func Key(contentType model.ContentType, selector string) string {
	return fmt.Sprintf("content:%s:%s", contentType, model.NormalizeSelector(selector))
}

// Get returns the entry and its freshness. Absent entries return a nil entry.
func (c *ContentCache) Get(ctx context.Context, contentType model.ContentType, selector string) (*model.ContentEntry, model.Freshness, error) {
	raw, err := c.redis.Get(ctx, Key(contentType, selector)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, model.FreshnessAbsent, nil
	}
	if err != nil {
		return nil, model.FreshnessAbsent, fmt.Errorf("read content cache: %w", err)
	}

	var entry model.ContentEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, model.FreshnessAbsent, fmt.Errorf("decode content entry: %w", err)
	}

	if entry.Stale || !c.now().Before(entry.FreshUntil) {
		return &entry, model.FreshnessStale, nil
	}
	return &entry, model.FreshnessFresh, nil
}

// Put writes a fresh entry that stays fresh for ttl.
func (c *ContentCache) Put(ctx context.Context, contentType model.ContentType, selector string, items []model.ContentItem, sources []string, ttl time.Duration) error {
	now := c.now().UTC()
	entry := model.ContentEntry{
		Type:       contentType,
		Selector:   model.NormalizeSelector(selector),
		Items:      items,
		Sources:    sources,
		FetchedAt:  now,
		FreshUntil: now.Add(ttl),
	}
	return c.write(ctx, &entry)
}

// MarkStale flags an existing entry stale after a failed refresh, keeping its
// items. It is a no-op for absent keys.
func (c *ContentCache) MarkStale(ctx context.Context, contentType model.ContentType, selector string, cause error) error {
	entry, freshness, err := c.Get(ctx, contentType, selector)
	if err != nil {
		return err
	}
	if freshness == model.FreshnessAbsent {
		return nil
	}

	entry.Stale = true
	entry.Failures++
	if cause != nil {
		entry.LastError = cause.Error()
	}

	// Keep the original expiry so a failing feed cannot keep old data alive forever.
	ttl, err := c.redis.PTTL(ctx, Key(contentType, selector)).Result()
	if err != nil {
		return fmt.Errorf("read content ttl: %w", err)
	}
	if ttl <= 0 {
		return nil
	}
	return c.writeWithTTL(ctx, entry, ttl)
}

func (c *ContentCache) write(ctx context.Context, entry *model.ContentEntry) error {
	return c.writeWithTTL(ctx, entry, c.retention)
}

func (c *ContentCache) writeWithTTL(ctx context.Context, entry *model.ContentEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode content entry: %w", err)
	}
	if err := c.redis.Set(ctx, Key(entry.Type, entry.Selector), data, ttl).Err(); err != nil {
		return fmt.Errorf("write content cache: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity.
func (c *ContentCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}
