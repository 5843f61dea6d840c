// Package cache implements the best-effort Redis tier in front of the urls
// table. Three key namespaces are kept per short code (the redirect target,
// the slug existence flag and the unsynced click counter) plus cached listing
// pages per owner. Every operation is single-key so per-key atomicity is
// enough; no multi-key locking exists.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrUnavailable is returned when the cache tier itself cannot be
	// reached. Callers treat it as a miss and fall back to the durable store.
	ErrUnavailable = errors.New("cache unavailable")
	// ErrMiss is returned when a key is absent.
	ErrMiss = errors.New("cache miss")
)

const (
	redirectKeyPrefix  = "url:redirect:"
	slugKeyPrefix      = "slug:exists:"
	clicksKeyPrefix    = "clicks:"
	userPagesKeyPrefix = "user:urls:"
)

const (
	defaultRedirectTTL  = 24 * time.Hour
	defaultSlugTTL      = time.Hour
	defaultUserPagesTTL = 5 * time.Minute
	defaultOpTimeout    = 2 * time.Second

	// scanTimeoutFactor widens the op timeout for full keyspace scans.
	scanTimeoutFactor = 10
)

type Option func(*Cache)

func WithRedirectTTL(d time.Duration) Option {
	return func(c *Cache) {
		c.redirectTTL = d
	}
}

func WithSlugTTL(d time.Duration) Option {
	return func(c *Cache) {
		c.slugTTL = d
	}
}

func WithUserPagesTTL(d time.Duration) Option {
	return func(c *Cache) {
		c.userPagesTTL = d
	}
}

func WithOpTimeout(d time.Duration) Option {
	return func(c *Cache) {
		c.opTimeout = d
	}
}

// Cache wraps a shared Redis client. The zero value is not usable; construct
// it with New and hand it to components at startup.
type Cache struct {
	client       *redis.Client
	redirectTTL  time.Duration
	slugTTL      time.Duration
	userPagesTTL time.Duration
	opTimeout    time.Duration
}

func New(client *redis.Client, opts ...Option) *Cache {
	c := &Cache{
		client:       client,
		redirectTTL:  defaultRedirectTTL,
		slugTTL:      defaultSlugTTL,
		userPagesTTL: defaultUserPagesTTL,
		opTimeout:    defaultOpTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Cache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opTimeout)
}

func redirectKey(shortCode string) string {
	return redirectKeyPrefix + shortCode
}

func slugKey(shortCode string) string {
	return slugKeyPrefix + shortCode
}

func clicksKey(shortCode string) string {
	return clicksKeyPrefix + shortCode
}

func userPagesPattern(ownerID string) string {
	return userPagesKeyPrefix + ownerID + ":*"
}

func userPageKey(ownerID, cursor string, limit int) string {
	return fmt.Sprintf("%s%s:%s:%d", userPagesKeyPrefix, ownerID, cursor, limit)
}

// GetRedirect returns the cached redirect target for a short code.
func (c *Cache) GetRedirect(ctx context.Context, shortCode string) (string, error) {
	const op = "cache.Cache.GetRedirect"

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	target, err := c.client.Get(ctx, redirectKey(shortCode)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%s: %w", op, ErrMiss)
		}

		return "", fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}

	return target, nil
}

// SetRedirect caches the redirect target for a short code.
func (c *Cache) SetRedirect(ctx context.Context, shortCode, originalURL string) error {
	const op = "cache.Cache.SetRedirect"

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.Set(ctx, redirectKey(shortCode), originalURL, c.redirectTTL).Err(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}

	return nil
}

// GetSlugExists returns the cached existence flag for a short code. The flag
// is tri-state: ErrMiss means the answer is unknown and the durable store
// must be consulted.
func (c *Cache) GetSlugExists(ctx context.Context, shortCode string) (bool, error) {
	const op = "cache.Cache.GetSlugExists"

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	val, err := c.client.Get(ctx, slugKey(shortCode)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, fmt.Errorf("%s: %w", op, ErrMiss)
		}

		return false, fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}

	return val == "1", nil
}

// SetSlugExists caches the existence flag for a short code, stored as "1" or "0".
func (c *Cache) SetSlugExists(ctx context.Context, shortCode string, exists bool) error {
	const op = "cache.Cache.SetSlugExists"

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	val := "0"
	if exists {
		val = "1"
	}

	if err := c.client.Set(ctx, slugKey(shortCode), val, c.slugTTL).Err(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}

	return nil
}

// IncrementClicks atomically increments the unsynced click counter for a
// short code and returns the new value.
func (c *Cache) IncrementClicks(ctx context.Context, shortCode string) (int64, error) {
	const op = "cache.Cache.IncrementClicks"

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	count, err := c.client.Incr(ctx, clicksKey(shortCode)).Result()
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}

	return count, nil
}

// SetClicks seeds the click counter for a short code. The counter carries no
// TTL: it lives until the reconciliation sweep removes or resyncs it.
func (c *Cache) SetClicks(ctx context.Context, shortCode string, count int64) error {
	const op = "cache.Cache.SetClicks"

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.Set(ctx, clicksKey(shortCode), count, 0).Err(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}

	return nil
}

// DeleteClicks removes the click counter for a short code.
func (c *Cache) DeleteClicks(ctx context.Context, shortCode string) error {
	const op = "cache.Cache.DeleteClicks"

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.Del(ctx, clicksKey(shortCode)).Err(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}

	return nil
}

// ClickCounts enumerates every cached click counter, keyed by short code.
// Used only by the reconciliation sweep.
func (c *Cache) ClickCounts(ctx context.Context) (map[string]int64, error) {
	const op = "cache.Cache.ClickCounts"

	// The scan walks the whole counter keyspace, so it gets a wider bound
	// than single-key operations.
	ctx, cancel := context.WithTimeout(ctx, scanTimeoutFactor*c.opTimeout)
	defer cancel()

	var keys []string

	iter := c.client.Scan(ctx, 0, clicksKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}

	counts := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return counts, nil
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}

	for i, key := range keys {
		raw, ok := vals[i].(string)
		if !ok {
			// Key expired or was deleted between SCAN and MGET.
			continue
		}

		count, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}

		counts[key[len(clicksKeyPrefix):]] = count
	}

	return counts, nil
}

// GetUserPage returns the cached listing page payload for an owner, keyed by
// cursor and page size.
func (c *Cache) GetUserPage(ctx context.Context, ownerID, cursor string, limit int) (string, error) {
	const op = "cache.Cache.GetUserPage"

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	payload, err := c.client.Get(ctx, userPageKey(ownerID, cursor, limit)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%s: %w", op, ErrMiss)
		}

		return "", fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}

	return payload, nil
}

// SetUserPage caches a listing page payload for an owner.
func (c *Cache) SetUserPage(ctx context.Context, ownerID, cursor string, limit int, payload string) error {
	const op = "cache.Cache.SetUserPage"

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.Set(ctx, userPageKey(ownerID, cursor, limit), payload, c.userPagesTTL).Err(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}

	return nil
}

// InvalidateUserPages drops every cached listing page for an owner so newly
// created records show up on the next listing.
func (c *Cache) InvalidateUserPages(ctx context.Context, ownerID string) error {
	const op = "cache.Cache.InvalidateUserPages"

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var keys []string

	iter := c.client.Scan(ctx, 0, userPagesPattern(ownerID), 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}

	if len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}

	return nil
}
