package ci_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"regci/internal/ci"
	"regci/internal/models"
)

func TestAbort(t *testing.T) {
	svc := clearTestDB(t)
	ctx := context.Background()
	run, _ := createRun(t, svc, "X")
	require.NoError(t, svc.Append(ctx, run.ID, models.PsTesting, "running"))

	require.NoError(t, svc.Abort(ctx, run.ID, "run {0} aborted"))

	var messages []models.OutboxMessage
	require.NoError(t, db.Select(&messages, `SELECT * FROM ci.outbox_message WHERE run_id = $1`, run.ID))
	require.Len(t, messages, 1)
	assert.Equal(t, fmt.Sprintf("run %d aborted", run.ID), messages[0].Text)
	assert.False(t, messages[0].DeliveredAt.Valid)

	entries := progressOf(t, svc, run.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, models.PsError, entries[1].Status)
	assert.Equal(t, "aborted by admin", entries[1].Message)

	assertQueueInvariant(t, run.ID)
	_, err := svc.ValidateToken(ctx, run.Token)
	assert.ErrorIs(t, err, ci.ErrNotFound)

	// aborting twice is refused without new side effects
	assert.ErrorIs(t, svc.Abort(ctx, run.ID, "run {0} aborted"), ci.ErrNotFound)
	assert.Equal(t, 1, countRows(t, `SELECT COUNT(*) FROM ci.outbox_message`))
}

func TestAbort_LocalRunIsRejectedWithoutSideEffects(t *testing.T) {
	svc := clearTestDB(t)
	ctx := context.Background()
	insertLocalRepository(t, "Y", "/data/Y")
	run, _ := createRun(t, svc, "Y")

	err := svc.Abort(ctx, run.ID, "run {0} aborted")
	assert.ErrorIs(t, err, ci.ErrWrongPool)

	assert.Equal(t, 0, countRows(t, `SELECT COUNT(*) FROM ci.outbox_message`))
	assert.Empty(t, progressOf(t, svc, run.ID))
	assertQueueInvariant(t, run.ID)
	assert.Equal(t, 1, countRows(t, `SELECT COUNT(*) FROM ci.local_queue WHERE run_id = $1`, run.ID))
}

func TestRemove(t *testing.T) {
	svc := clearTestDB(t)
	ctx := context.Background()
	insertLocalRepository(t, "Y", "/data/Y")
	localRun, _ := createRun(t, svc, "Y")
	vmRun, _ := createRun(t, svc, "X")

	assert.ErrorIs(t, svc.Remove(ctx, localRun.ID, false, "removed {0}"), ci.ErrWrongPool)
	assertQueueInvariant(t, localRun.ID)

	require.NoError(t, svc.Remove(ctx, localRun.ID, true, "removed {0}"))
	require.NoError(t, svc.Remove(ctx, vmRun.ID, false, "removed {0}"))
	assertQueueInvariant(t, localRun.ID)
	assertQueueInvariant(t, vmRun.ID)

	history, err := svc.CommandHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, fmt.Sprintf("removed %d", vmRun.ID), history[0].Text, "history is newest first")
	assert.Equal(t, fmt.Sprintf("removed %d", localRun.ID), history[1].Text)

	assert.ErrorIs(t, svc.Remove(ctx, 31337, false, "x"), ci.ErrNotFound)
}

func TestListQueues(t *testing.T) {
	svc := clearTestDB(t)
	ctx := context.Background()
	insertLocalRepository(t, "Y", "/data/Y")

	vm1, _ := createRun(t, svc, "X")
	local1, _ := createRun(t, svc, "Y")
	vm2, _ := createRun(t, svc, "Z")

	vmQueue, err := svc.ListVMQueue(ctx)
	require.NoError(t, err)
	require.Len(t, vmQueue, 2)
	assert.Equal(t, vm1.ID, vmQueue[0].RunID)
	assert.Equal(t, vm2.ID, vmQueue[1].RunID)
	assert.Equal(t, models.PoolVM, vmQueue[0].Pool)
	assert.Equal(t, "X", vmQueue[0].Repository)

	localQueue, err := svc.ListLocalQueue(ctx)
	require.NoError(t, err)
	require.Len(t, localQueue, 1)
	assert.Equal(t, local1.ID, localQueue[0].RunID)
	assert.Equal(t, models.PoolLocal, localQueue[0].Pool)

	_, err = db.Exec(`UPDATE ci.run SET created_at = NOW() - INTERVAL '2 hours' WHERE id IN ($1, $2)`, vm1.ID, local1.ID)
	require.NoError(t, err)

	stale, err := svc.StaleRuns(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, vm1.ID, stale[0].RunID)
	assert.Equal(t, local1.ID, stale[1].RunID)
}

func TestTrustedUsers(t *testing.T) {
	svc := clearTestDB(t)
	ctx := context.Background()

	user, err := svc.AddTrustedUser(ctx, " octocat ")
	require.NoError(t, err)
	assert.Equal(t, "octocat", user.Handle)

	_, err = svc.AddTrustedUser(ctx, "octocat")
	assert.ErrorIs(t, err, ci.ErrValidation)

	trusted, err := svc.IsTrusted(ctx, "octocat")
	require.NoError(t, err)
	assert.True(t, trusted)

	users, err := svc.ListTrustedUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	require.NoError(t, svc.DeleteTrustedUser(ctx, user.ID))
	assert.ErrorIs(t, svc.DeleteTrustedUser(ctx, user.ID), ci.ErrNotFound)

	trusted, err = svc.IsTrusted(ctx, "octocat")
	require.NoError(t, err)
	assert.False(t, trusted)
}

func TestLocalRepositories(t *testing.T) {
	svc := clearTestDB(t)
	ctx := context.Background()

	_, err := svc.AddLocalRepository(ctx, "", "")
	assert.ErrorIs(t, err, ci.ErrValidation)

	repo, err := svc.AddLocalRepository(ctx, "Y", "/data/Y")
	require.NoError(t, err)

	_, err = svc.AddLocalRepository(ctx, "Y", "/elsewhere")
	assert.ErrorIs(t, err, ci.ErrValidation)

	run, pool := createRun(t, svc, "Y")
	assert.Equal(t, models.PoolLocal, pool)

	repos, err := svc.ListLocalRepositories(ctx)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "/data/Y", repos[0].Folder)

	require.NoError(t, svc.DeleteLocalRepository(ctx, repo.ID))

	// the queued run keeps its membership but loses its local path
	result, err := svc.Fetch(ctx, run.Token)
	require.NoError(t, err)
	assert.False(t, result.LocalPath.Valid)
	assertQueueInvariant(t, run.ID)

	_, pool = createRun(t, svc, "Y")
	assert.Equal(t, models.PoolVM, pool)
}
