package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"regci/internal/ci"
	"regci/internal/models"
)

type MockCanceller struct {
	mock.Mock
}

func (m *MockCanceller) StaleRuns(ctx context.Context, createdBefore time.Time) ([]models.QueuedRun, error) {
	args := m.Called(ctx, createdBefore)
	runs, _ := args.Get(0).([]models.QueuedRun)
	return runs, args.Error(1)
}

func (m *MockCanceller) Remove(ctx context.Context, runID int64, isLocal bool, messageTemplate string) error {
	args := m.Called(ctx, runID, isLocal, messageTemplate)
	return args.Error(0)
}

const template = "Run {0} was cancelled because it exceeded the time limit"

func newTestReaper(t *testing.T, svc RunCanceller, now time.Time) *Reaper {
	t.Helper()
	r, err := NewReaper(svc, "@every 1s", time.Hour, template)
	require.NoError(t, err)
	r.now = func() time.Time { return now }
	return r
}

func TestNewReaper_Validation(t *testing.T) {
	_, err := NewReaper(&MockCanceller{}, "not a schedule", time.Hour, template)
	assert.Error(t, err)

	_, err = NewReaper(&MockCanceller{}, "*/5 * * * *", 0, template)
	assert.Error(t, err)

	_, err = NewReaper(&MockCanceller{}, "0 */5 * * * *", time.Minute, template)
	assert.NoError(t, err, "seconds field is optional")
}

func TestReap(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("removes each stale run from its own queue", func(t *testing.T) {
		svc := &MockCanceller{}
		svc.On("StaleRuns", ctx, now.Add(-time.Hour)).Return([]models.QueuedRun{
			{RunID: 1, Pool: models.PoolVM},
			{RunID: 2, Pool: models.PoolLocal},
		}, nil)
		svc.On("Remove", ctx, int64(1), false, template).Return(nil)
		svc.On("Remove", ctx, int64(2), true, template).Return(nil)

		removed, err := newTestReaper(t, svc, now).Reap(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)
		svc.AssertExpectations(t)
	})

	t.Run("runs finished concurrently are skipped", func(t *testing.T) {
		svc := &MockCanceller{}
		svc.On("StaleRuns", ctx, mock.Anything).Return([]models.QueuedRun{
			{RunID: 1, Pool: models.PoolVM},
			{RunID: 2, Pool: models.PoolVM},
		}, nil)
		svc.On("Remove", ctx, int64(1), false, template).Return(fmt.Errorf("%w: finished", ci.ErrNotFound))
		svc.On("Remove", ctx, int64(2), false, template).Return(nil)

		removed, err := newTestReaper(t, svc, now).Reap(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
	})

	t.Run("other failures are reported after the sweep", func(t *testing.T) {
		dbDown := errors.New("connection reset")
		svc := &MockCanceller{}
		svc.On("StaleRuns", ctx, mock.Anything).Return([]models.QueuedRun{
			{RunID: 1, Pool: models.PoolVM},
			{RunID: 2, Pool: models.PoolLocal},
		}, nil)
		svc.On("Remove", ctx, int64(1), false, template).Return(dbDown)
		svc.On("Remove", ctx, int64(2), true, template).Return(nil)

		removed, err := newTestReaper(t, svc, now).Reap(ctx)
		assert.ErrorIs(t, err, dbDown)
		assert.Equal(t, 1, removed)
		svc.AssertExpectations(t)
	})

	t.Run("listing failure", func(t *testing.T) {
		svc := &MockCanceller{}
		svc.On("StaleRuns", ctx, mock.Anything).Return(nil, errors.New("boom"))

		removed, err := newTestReaper(t, svc, now).Reap(ctx)
		assert.Error(t, err)
		assert.Zero(t, removed)
		svc.AssertNotCalled(t, "Remove", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestReaper_StartAndStop(t *testing.T) {
	svc := &MockCanceller{}
	swept := make(chan struct{}, 10)
	svc.On("StaleRuns", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { swept <- struct{}{} }).
		Return([]models.QueuedRun{}, nil)

	r := newTestReaper(t, svc, time.Now())
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Start(context.Background()), "starting twice is a no-op")

	select {
	case <-swept:
	case <-time.After(3 * time.Second):
		t.Fatal("reaper never swept")
	}

	r.Stop()
	r.Stop()
	assert.False(t, r.isRunning)
}
