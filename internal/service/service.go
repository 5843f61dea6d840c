// Package service implements the cache-aside redirect resolver, the short
// code writer and the owner listing on top of the durable repository and the
// best-effort cache tier. Cache failures never cross this boundary: they
// degrade to durable-store-only behavior and a log line.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/shortly-app/shortly/internal/cache"
	"github.com/shortly-app/shortly/internal/database"
	"github.com/shortly-app/shortly/internal/models"
)

// ErrInvalidCursor is returned when a pagination cursor cannot be parsed as
// a timestamp.
var ErrInvalidCursor = errors.New("invalid pagination cursor")

const (
	defaultShortCodeLength = 7

	minListLimit = 1
	maxListLimit = 100
)

// URLRepository defines the durable store operations the service relies on.
type URLRepository interface {
	// Create inserts a new shortened URL. It fails with
	// database.ErrShortCodeExists when the code is already taken.
	Create(ctx context.Context, shortCode, originalURL, ownerID string) (*models.URL, error)

	// GetByShortCode retrieves a URL by its short code.
	GetByShortCode(ctx context.Context, shortCode string) (*models.URL, error)

	// ExistsByShortCode reports whether a record with the short code exists.
	ExistsByShortCode(ctx context.Context, shortCode string) (bool, error)

	// IncrementClicks atomically adds delta to the stored click counter.
	IncrementClicks(ctx context.Context, shortCode string, delta int64) error

	// ListByOwner returns up to limit records for the owner, newest first,
	// optionally restricted to records created before a timestamp.
	ListByOwner(ctx context.Context, ownerID string, before *time.Time, limit int) ([]models.URL, error)
}

// URLCache defines the cache tier operations the service relies on. Every
// method may fail with cache.ErrUnavailable, which callers swallow.
type URLCache interface {
	GetRedirect(ctx context.Context, shortCode string) (string, error)
	SetRedirect(ctx context.Context, shortCode, originalURL string) error
	GetSlugExists(ctx context.Context, shortCode string) (bool, error)
	SetSlugExists(ctx context.Context, shortCode string, exists bool) error
	IncrementClicks(ctx context.Context, shortCode string) (int64, error)
	SetClicks(ctx context.Context, shortCode string, count int64) error
	GetUserPage(ctx context.Context, ownerID, cursor string, limit int) (string, error)
	SetUserPage(ctx context.Context, ownerID, cursor string, limit int, payload string) error
	InvalidateUserPages(ctx context.Context, ownerID string) error
}

type Option func(*URLService)

func WithShortCodeLength(n int) Option {
	return func(s *URLService) {
		s.shortCodeLength = n
	}
}

func WithTaskQueueSize(n int) Option {
	return func(s *URLService) {
		s.taskQueueSize = n
	}
}

func WithTaskWorkers(n int) Option {
	return func(s *URLService) {
		s.taskWorkers = n
	}
}

func WithTaskTimeout(d time.Duration) Option {
	return func(s *URLService) {
		s.taskTimeout = d
	}
}

// URLService provides methods to manage URL shortening operations.
type URLService struct {
	repo   URLRepository
	cache  URLCache
	tasks  dispatcher
	logger *slog.Logger

	shortCodeLength int
	taskQueueSize   int
	taskWorkers     int
	taskTimeout     time.Duration
}

// NewURLService creates a new URLService and starts its background task
// workers. Call Close to drain them on shutdown.
func NewURLService(repo URLRepository, urlCache URLCache, logger *slog.Logger, opts ...Option) *URLService {
	s := &URLService{
		repo:            repo,
		cache:           urlCache,
		logger:          logger,
		shortCodeLength: defaultShortCodeLength,
		taskQueueSize:   defaultQueueSize,
		taskWorkers:     defaultWorkers,
		taskTimeout:     defaultTaskTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.tasks = newTaskQueue(s.taskQueueSize, s.taskWorkers, s.taskTimeout, logger)

	return s
}

// Close drains the background task queue.
func (s *URLService) Close() {
	s.tasks.Close()
}

// ResolveShortCode returns the original URL for a short code. The cache is
// consulted first; on a miss the durable store is read and the cache is
// repopulated. Click accounting and cache repopulation are dispatched as
// detached tasks so the caller never waits on them.
func (s *URLService) ResolveShortCode(ctx context.Context, shortCode string) (string, error) {
	const op = "service.URLService.ResolveShortCode"

	target, err := s.cache.GetRedirect(ctx, shortCode)
	if err == nil {
		s.tasks.Enqueue("increment click counter", func(ctx context.Context) {
			if _, err := s.cache.IncrementClicks(ctx, shortCode); err != nil {
				s.logger.Warn("failed to increment click counter",
					slog.String("short_code", shortCode), slog.Any("err", err))
			}
		})

		return target, nil
	}

	if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("redirect cache degraded to durable lookup",
			slog.String("short_code", shortCode), slog.Any("err", err))
	}

	url, err := s.repo.GetByShortCode(ctx, shortCode)
	if err != nil {
		return "", fmt.Errorf("%s: failed to resolve short code: %w", op, err)
	}

	s.tasks.Enqueue("repopulate cache after miss", func(ctx context.Context) {
		s.repopulateAfterMiss(ctx, url)
	})

	return url.OriginalURL, nil
}

// repopulateAfterMiss reseeds the cache from a freshly read record, counts
// the click in the cache counter and fires a best-effort durable increment.
// The durable increment narrows the delta the next reconciliation sweep
// computes against the seeded counter.
func (s *URLService) repopulateAfterMiss(ctx context.Context, url *models.URL) {
	if err := s.cache.SetRedirect(ctx, url.ShortCode, url.OriginalURL); err != nil {
		s.logger.Warn("failed to cache redirect target",
			slog.String("short_code", url.ShortCode), slog.Any("err", err))
	}

	if err := s.cache.SetClicks(ctx, url.ShortCode, url.ClickCount); err != nil {
		s.logger.Warn("failed to seed click counter",
			slog.String("short_code", url.ShortCode), slog.Any("err", err))
	}

	if _, err := s.cache.IncrementClicks(ctx, url.ShortCode); err != nil {
		s.logger.Warn("failed to increment click counter",
			slog.String("short_code", url.ShortCode), slog.Any("err", err))
	}

	if err := s.repo.IncrementClicks(ctx, url.ShortCode, 1); err != nil {
		s.logger.Warn("failed to increment durable click count",
			slog.String("short_code", url.ShortCode), slog.Any("err", err))
	}
}

// ShortenURL creates a shortened URL. When requestedCode is empty a random
// URL-safe code is generated. The existence pre-check answers from the cache
// when it can; the insert's uniqueness constraint remains the final arbiter,
// so a losing racer still gets database.ErrShortCodeExists.
func (s *URLService) ShortenURL(ctx context.Context, originalURL, ownerID, requestedCode string) (*models.URL, error) {
	const op = "service.URLService.ShortenURL"

	shortCode := requestedCode
	if shortCode == "" {
		var err error

		shortCode, err = gonanoid.New(s.shortCodeLength)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to generate short code: %w", op, err)
		}
	}

	exists, err := s.ShortCodeExists(ctx, shortCode)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to check short code availability: %w", op, err)
	}
	if exists {
		return nil, fmt.Errorf("%s: %w", op, database.ErrShortCodeExists)
	}

	url, err := s.repo.Create(ctx, shortCode, originalURL, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to shorten url: %w", op, err)
	}

	s.writeThrough(ctx, url)

	return url, nil
}

// writeThrough seeds the cache for a freshly created record. Failures are
// logged and ignored: the record is durable and resolvable either way.
func (s *URLService) writeThrough(ctx context.Context, url *models.URL) {
	if err := s.cache.SetRedirect(ctx, url.ShortCode, url.OriginalURL); err != nil {
		s.logger.Warn("failed to cache redirect target",
			slog.String("short_code", url.ShortCode), slog.Any("err", err))
	}

	if err := s.cache.SetSlugExists(ctx, url.ShortCode, true); err != nil {
		s.logger.Warn("failed to cache slug existence",
			slog.String("short_code", url.ShortCode), slog.Any("err", err))
	}

	if err := s.cache.SetClicks(ctx, url.ShortCode, 0); err != nil {
		s.logger.Warn("failed to seed click counter",
			slog.String("short_code", url.ShortCode), slog.Any("err", err))
	}

	if url.OwnerID != "" {
		if err := s.cache.InvalidateUserPages(ctx, url.OwnerID); err != nil {
			s.logger.Warn("failed to invalidate owner listing pages",
				slog.String("owner_id", url.OwnerID), slog.Any("err", err))
		}
	}
}

// ShortCodeExists reports whether a short code is taken. The cached flag is
// trusted as a fast-path answer within its staleness window; the durable
// store is only consulted when the flag is absent.
func (s *URLService) ShortCodeExists(ctx context.Context, shortCode string) (bool, error) {
	const op = "service.URLService.ShortCodeExists"

	exists, err := s.cache.GetSlugExists(ctx, shortCode)
	if err == nil {
		return exists, nil
	}

	if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("slug cache degraded to durable lookup",
			slog.String("short_code", shortCode), slog.Any("err", err))
	}

	exists, err = s.repo.ExistsByShortCode(ctx, shortCode)
	if err != nil {
		return false, fmt.Errorf("%s: failed to check short code existence: %w", op, err)
	}

	if cerr := s.cache.SetSlugExists(ctx, shortCode, exists); cerr != nil {
		s.logger.Warn("failed to cache slug existence",
			slog.String("short_code", shortCode), slog.Any("err", cerr))
	}

	return exists, nil
}

// ListUserURLs returns one page of an owner's URLs, newest first. The cursor
// is the created_at timestamp of the last record of the previous page in
// RFC 3339 format. Pages are cached per owner, cursor and size; creation
// invalidates them, so a cached page is at most one invalidation window stale.
func (s *URLService) ListUserURLs(ctx context.Context, ownerID, cursor string, limit int) (*models.URLPage, error) {
	const op = "service.URLService.ListUserURLs"

	if limit < minListLimit {
		limit = minListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var before *time.Time
	if cursor != "" {
		ts, err := time.Parse(time.RFC3339Nano, cursor)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCursor)
		}
		before = &ts
	}

	if payload, err := s.cache.GetUserPage(ctx, ownerID, cursor, limit); err == nil {
		var page models.URLPage
		// A corrupt payload falls through to the durable store and gets
		// overwritten below.
		if jerr := json.Unmarshal([]byte(payload), &page); jerr == nil {
			return &page, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("listing cache degraded to durable lookup",
			slog.String("owner_id", ownerID), slog.Any("err", err))
	}

	urls, err := s.repo.ListByOwner(ctx, ownerID, before, limit+1)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list urls: %w", op, err)
	}

	page := &models.URLPage{
		URLs:    urls,
		HasMore: len(urls) > limit,
	}

	if page.HasMore {
		page.URLs = page.URLs[:limit]
		page.NextCursor = page.URLs[limit-1].CreatedAt.Format(time.RFC3339Nano)
	}

	if payload, merr := json.Marshal(page); merr == nil {
		if cerr := s.cache.SetUserPage(ctx, ownerID, cursor, limit, string(payload)); cerr != nil {
			s.logger.Warn("failed to cache listing page",
				slog.String("owner_id", ownerID), slog.Any("err", cerr))
		}
	}

	return page, nil
}
