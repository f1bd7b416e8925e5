package api_test

import (
	"context"
	"iter"

	"github.com/stretchr/testify/mock"
	"regci/internal/ci"
	"regci/internal/models"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Create(ctx context.Context, req ci.NewRun) (*models.Run, models.Pool, error) {
	args := m.Called(ctx, req)
	run, _ := args.Get(0).(*models.Run)
	return run, args.Get(1).(models.Pool), args.Error(2)
}

func (m *MockService) ReadOrdered(ctx context.Context, runID int64) iter.Seq2[models.ProgressEntry, error] {
	args := m.Called(ctx, runID)
	entries, _ := args.Get(0).([]models.ProgressEntry)
	failure := args.Error(1)
	return func(yield func(models.ProgressEntry, error) bool) {
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
		if failure != nil {
			yield(models.ProgressEntry{}, failure)
		}
	}
}

func (m *MockService) ValidateToken(ctx context.Context, token string) (int64, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockService) Append(ctx context.Context, runID int64, status models.ProgressStatus, message string) error {
	args := m.Called(ctx, runID, status, message)
	return args.Error(0)
}

func (m *MockService) CompleteUpload(ctx context.Context, runID int64, artifact models.Artifact) (ci.Completion, error) {
	args := m.Called(ctx, runID, artifact)
	return args.Get(0).(ci.Completion), args.Error(1)
}

func (m *MockService) Fetch(ctx context.Context, token string) (*ci.FetchResult, error) {
	args := m.Called(ctx, token)
	result, _ := args.Get(0).(*ci.FetchResult)
	return result, args.Error(1)
}

func (m *MockService) HasVMWorkRemaining(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockService) NextLocalToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockService) NextVMToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockService) Abort(ctx context.Context, runID int64, messageTemplate string) error {
	args := m.Called(ctx, runID, messageTemplate)
	return args.Error(0)
}

func (m *MockService) Remove(ctx context.Context, runID int64, isLocal bool, messageTemplate string) error {
	args := m.Called(ctx, runID, isLocal, messageTemplate)
	return args.Error(0)
}

func (m *MockService) ListVMQueue(ctx context.Context) ([]models.QueuedRun, error) {
	args := m.Called(ctx)
	runs, _ := args.Get(0).([]models.QueuedRun)
	return runs, args.Error(1)
}

func (m *MockService) ListLocalQueue(ctx context.Context) ([]models.QueuedRun, error) {
	args := m.Called(ctx)
	runs, _ := args.Get(0).([]models.QueuedRun)
	return runs, args.Error(1)
}

func (m *MockService) CommandHistory(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	args := m.Called(ctx, limit)
	messages, _ := args.Get(0).([]models.OutboxMessage)
	return messages, args.Error(1)
}

func (m *MockService) ListTrustedUsers(ctx context.Context) ([]models.TrustedUser, error) {
	args := m.Called(ctx)
	users, _ := args.Get(0).([]models.TrustedUser)
	return users, args.Error(1)
}

func (m *MockService) AddTrustedUser(ctx context.Context, handle string) (*models.TrustedUser, error) {
	args := m.Called(ctx, handle)
	user, _ := args.Get(0).(*models.TrustedUser)
	return user, args.Error(1)
}

func (m *MockService) DeleteTrustedUser(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockService) ListLocalRepositories(ctx context.Context) ([]models.LocalRepository, error) {
	args := m.Called(ctx)
	repos, _ := args.Get(0).([]models.LocalRepository)
	return repos, args.Error(1)
}

func (m *MockService) AddLocalRepository(ctx context.Context, repository, folder string) (*models.LocalRepository, error) {
	args := m.Called(ctx, repository, folder)
	repo, _ := args.Get(0).(*models.LocalRepository)
	return repo, args.Error(1)
}

func (m *MockService) DeleteLocalRepository(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
