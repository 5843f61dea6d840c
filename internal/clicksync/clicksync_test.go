package clicksync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/shortly-app/shortly/internal/database"
	"github.com/shortly-app/shortly/internal/models"
)

var errUnknown = errors.New("unknown error")

type MockClickCache struct {
	mock.Mock
}

func (c *MockClickCache) ClickCounts(ctx context.Context) (map[string]int64, error) {
	args := c.Called(ctx)
	counts, _ := args.Get(0).(map[string]int64)
	return counts, args.Error(1)
}

func (c *MockClickCache) DeleteClicks(ctx context.Context, shortCode string) error {
	args := c.Called(ctx, shortCode)
	return args.Error(0)
}

type MockURLRepository struct {
	mock.Mock
}

func (r *MockURLRepository) GetByShortCode(ctx context.Context, shortCode string) (*models.URL, error) {
	args := r.Called(ctx, shortCode)
	url, _ := args.Get(0).(*models.URL)
	return url, args.Error(1)
}

func (r *MockURLRepository) IncrementClicks(ctx context.Context, shortCode string, delta int64) error {
	args := r.Called(ctx, shortCode, delta)
	return args.Error(0)
}

func setupJob(t testing.TB) (*Job, *MockClickCache, *MockURLRepository) {
	t.Helper()

	cacheMock := new(MockClickCache)
	repoMock := new(MockURLRepository)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return New(cacheMock, repoMock, logger), cacheMock, repoMock
}

func TestJob_Sweep(t *testing.T) {
	t.Run("cache enumeration failure", func(t *testing.T) {
		job, cacheMock, _ := setupJob(t)

		cacheMock.On("ClickCounts", mock.Anything).
			Once().
			Return(nil, errUnknown)

		res, err := job.Sweep(context.Background())

		assert.Error(t, err)
		assert.ErrorIs(t, err, errUnknown)
		assert.Zero(t, res.Synced)
		assert.Zero(t, res.Failed)
		cacheMock.AssertExpectations(t)
	})

	t.Run("no counters", func(t *testing.T) {
		job, cacheMock, repoMock := setupJob(t)

		cacheMock.On("ClickCounts", mock.Anything).
			Once().
			Return(map[string]int64{}, nil)

		res, err := job.Sweep(context.Background())

		assert.NoError(t, err)
		assert.Zero(t, res.Synced)
		assert.Zero(t, res.Failed)
		repoMock.AssertNotCalled(t, "GetByShortCode", mock.Anything, mock.Anything)
		cacheMock.AssertExpectations(t)
	})

	t.Run("folds positive delta into durable count", func(t *testing.T) {
		job, cacheMock, repoMock := setupJob(t)

		cacheMock.On("ClickCounts", mock.Anything).
			Once().
			Return(map[string]int64{"code1": 15}, nil)
		repoMock.On("GetByShortCode", mock.Anything, "code1").
			Once().
			Return(&models.URL{ShortCode: "code1", ClickCount: 10}, nil)
		repoMock.On("IncrementClicks", mock.Anything, "code1", int64(5)).
			Once().
			Return(nil)

		res, err := job.Sweep(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, 1, res.Synced)
		assert.Zero(t, res.Failed)
		repoMock.AssertExpectations(t)
		cacheMock.AssertExpectations(t)
	})

	t.Run("non-positive delta is a no-op", func(t *testing.T) {
		job, cacheMock, repoMock := setupJob(t)

		cacheMock.On("ClickCounts", mock.Anything).
			Once().
			Return(map[string]int64{"code1": 10}, nil)
		repoMock.On("GetByShortCode", mock.Anything, "code1").
			Once().
			Return(&models.URL{ShortCode: "code1", ClickCount: 10}, nil)

		res, err := job.Sweep(context.Background())

		assert.NoError(t, err)
		assert.Zero(t, res.Synced)
		assert.Zero(t, res.Failed)
		repoMock.AssertNotCalled(t, "IncrementClicks", mock.Anything, mock.Anything, mock.Anything)
		cacheMock.AssertExpectations(t)
	})

	t.Run("deletes orphaned counter", func(t *testing.T) {
		job, cacheMock, repoMock := setupJob(t)

		cacheMock.On("ClickCounts", mock.Anything).
			Once().
			Return(map[string]int64{"gone": 3}, nil)
		repoMock.On("GetByShortCode", mock.Anything, "gone").
			Once().
			Return(nil, database.ErrURLNotFound)
		cacheMock.On("DeleteClicks", mock.Anything, "gone").
			Once().
			Return(nil)

		res, err := job.Sweep(context.Background())

		assert.NoError(t, err)
		assert.Zero(t, res.Synced)
		assert.Zero(t, res.Failed)
		repoMock.AssertExpectations(t)
		cacheMock.AssertExpectations(t)
	})

	t.Run("per-code failure doesn't abort the sweep", func(t *testing.T) {
		job, cacheMock, repoMock := setupJob(t)

		cacheMock.On("ClickCounts", mock.Anything).
			Once().
			Return(map[string]int64{"bad": 5, "good": 7}, nil)
		repoMock.On("GetByShortCode", mock.Anything, "bad").
			Once().
			Return(nil, errUnknown)
		repoMock.On("GetByShortCode", mock.Anything, "good").
			Once().
			Return(&models.URL{ShortCode: "good", ClickCount: 2}, nil)
		repoMock.On("IncrementClicks", mock.Anything, "good", int64(5)).
			Once().
			Return(nil)

		res, err := job.Sweep(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, 1, res.Synced)
		assert.Equal(t, 1, res.Failed)
		repoMock.AssertExpectations(t)
		cacheMock.AssertExpectations(t)
	})

	t.Run("increment failure counts as failed", func(t *testing.T) {
		job, cacheMock, repoMock := setupJob(t)

		cacheMock.On("ClickCounts", mock.Anything).
			Once().
			Return(map[string]int64{"code1": 9}, nil)
		repoMock.On("GetByShortCode", mock.Anything, "code1").
			Once().
			Return(&models.URL{ShortCode: "code1", ClickCount: 1}, nil)
		repoMock.On("IncrementClicks", mock.Anything, "code1", int64(8)).
			Once().
			Return(errUnknown)

		res, err := job.Sweep(context.Background())

		assert.NoError(t, err)
		assert.Zero(t, res.Synced)
		assert.Equal(t, 1, res.Failed)
		repoMock.AssertExpectations(t)
		cacheMock.AssertExpectations(t)
	})
}

func TestJob_Run(t *testing.T) {
	t.Run("sweeps immediately and stops on cancel", func(t *testing.T) {
		job, cacheMock, _ := setupJob(t)
		job.interval = time.Hour

		cacheMock.On("ClickCounts", mock.Anything).
			Once().
			Return(map[string]int64{}, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := job.Run(ctx)

		assert.NoError(t, err)
		cacheMock.AssertExpectations(t)
	})
}

func TestJob_nextInterval(t *testing.T) {
	job := &Job{interval: time.Minute}

	for i := 0; i < 100; i++ {
		d := job.nextInterval()

		assert.GreaterOrEqual(t, d, time.Minute-3*time.Second)
		assert.LessOrEqual(t, d, time.Minute+3*time.Second)
	}
}
