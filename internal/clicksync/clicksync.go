// Package clicksync folds the cache-resident click counters into the
// authoritative counters in the durable store. The sweep runs on a jittered
// interval, concurrently with live traffic, and touches the two tiers only
// through the same independently-atomic operations the resolver uses.
package clicksync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shortly-app/shortly/internal/database"
	"github.com/shortly-app/shortly/internal/models"
)

const defaultInterval = 5 * time.Minute

// ClickCache enumerates and removes cached click counters.
type ClickCache interface {
	ClickCounts(ctx context.Context) (map[string]int64, error)
	DeleteClicks(ctx context.Context, shortCode string) error
}

// URLRepository reads and increments the durable click counters.
type URLRepository interface {
	GetByShortCode(ctx context.Context, shortCode string) (*models.URL, error)
	IncrementClicks(ctx context.Context, shortCode string, delta int64) error
}

// Result summarizes one reconciliation sweep.
type Result struct {
	Synced int
	Failed int
}

type Option func(*Job)

func WithInterval(d time.Duration) Option {
	return func(j *Job) {
		j.interval = d
	}
}

// Job is the periodic reconciliation sweep.
type Job struct {
	cache    ClickCache
	repo     URLRepository
	interval time.Duration
	logger   *slog.Logger
}

func New(clickCache ClickCache, repo URLRepository, logger *slog.Logger, opts ...Option) *Job {
	j := &Job{
		cache:    clickCache,
		repo:     repo,
		interval: defaultInterval,
		logger:   logger,
	}

	for _, opt := range opts {
		opt(j)
	}

	return j
}

// Run sweeps once immediately, then on every jittered interval until ctx is
// cancelled. It always returns nil; individual sweep failures are logged,
// never fatal.
func (j *Job) Run(ctx context.Context) error {
	j.sweepAndLog(ctx)

	timer := time.NewTimer(j.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			j.sweepAndLog(ctx)
			timer.Reset(j.nextInterval())
		}
	}
}

// nextInterval spreads sweeps by up to ±5% so multiple instances don't
// scan the click-counter keyspace in lockstep.
func (j *Job) nextInterval() time.Duration {
	jitter := j.interval / 10
	if jitter <= 0 {
		return j.interval
	}

	return j.interval - jitter/2 + time.Duration(rand.Int63n(int64(jitter)))
}

func (j *Job) sweepAndLog(ctx context.Context) {
	res, err := j.Sweep(ctx)
	if err != nil {
		j.logger.Error("click count sweep failed", slog.Any("err", err))
		return
	}

	j.logger.Info("click count sweep completed",
		slog.Int("synced", res.Synced), slog.Int("failed", res.Failed))
}

// Sweep reconciles every cached click counter against the durable store.
// For each counter the delta against the current durable count is applied
// when positive; counters for records that no longer exist are deleted.
// A failure on one code is counted and does not abort the rest. Counters
// are not reset after syncing: the next sweep recomputes the delta against
// the new durable baseline.
func (j *Job) Sweep(ctx context.Context) (Result, error) {
	const op = "clicksync.Job.Sweep"

	var res Result

	counts, err := j.cache.ClickCounts(ctx)
	if err != nil {
		return res, fmt.Errorf("%s: failed to enumerate click counters: %w", op, err)
	}

	for shortCode, cached := range counts {
		if err := j.syncOne(ctx, shortCode, cached, &res); err != nil {
			res.Failed++
			j.logger.Warn("failed to sync click count",
				slog.String("short_code", shortCode), slog.Any("err", err))
		}
	}

	return res, nil
}

func (j *Job) syncOne(ctx context.Context, shortCode string, cached int64, res *Result) error {
	url, err := j.repo.GetByShortCode(ctx, shortCode)
	if err != nil {
		if errors.Is(err, database.ErrURLNotFound) {
			// Orphaned counter: the record is gone, drop the counter.
			if derr := j.cache.DeleteClicks(ctx, shortCode); derr != nil {
				j.logger.Warn("failed to delete orphaned click counter",
					slog.String("short_code", shortCode), slog.Any("err", derr))
			}
			return nil
		}

		return err
	}

	delta := cached - url.ClickCount
	if delta <= 0 {
		// Already reconciled, nothing to fold in.
		return nil
	}

	if err := j.repo.IncrementClicks(ctx, shortCode, delta); err != nil {
		return err
	}

	res.Synced++
	return nil
}
