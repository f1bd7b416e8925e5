package ci

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"regci/internal/metrics"
	"regci/internal/models"
)

// AbortedByAdmin is the progress message recorded by Abort and Remove
const AbortedByAdmin = "aborted by admin"

// Abort cancels a run in the VM queue. The notification, the error progress entry, the
// finished flag and the queue removal are one transaction. Runs in the local queue are
// rejected with ErrWrongPool and must be removed with Remove.
func (s *Service) Abort(ctx context.Context, runID int64, messageTemplate string) error {
	return s.cancel(ctx, runID, models.PoolVM, messageTemplate, "aborted")
}

// Remove cancels a run like Abort, deleting it from the queue the caller names
func (s *Service) Remove(ctx context.Context, runID int64, isLocal bool, messageTemplate string) error {
	pool := models.PoolVM
	if isLocal {
		pool = models.PoolLocal
	}
	return s.cancel(ctx, runID, pool, messageTemplate, "removed")
}

func (s *Service) cancel(ctx context.Context, runID int64, pool models.Pool, messageTemplate, reason string) error {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		finished, err := lockRun(ctx, tx, runID)
		if err != nil {
			return err
		}
		if finished {
			return fmt.Errorf("%w: run %d is already finished", ErrNotFound, runID)
		}

		if _, err := enqueue(ctx, tx, runID, FormatMessage(messageTemplate, runID)); err != nil {
			return err
		}
		if err := appendLocked(ctx, tx, runID, models.PsError, AbortedByAdmin); err != nil {
			return err
		}
		if err := markRunFinished(ctx, tx, runID); err != nil {
			return err
		}

		removed, err := deleteMembership(ctx, tx, pool, runID)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%w: run %d is not in the %s queue", ErrWrongPool, runID, pool)
		}
		return nil
	})
	if err != nil {
		log.Warn().
			Err(err).
			Int64("run_id", runID).
			Str("pool", string(pool)).
			Msgf("Could not cancel run (%s)", reason)
		return err
	}

	metrics.RunsFinished.WithLabelValues(string(pool), reason).Inc()
	log.Info().
		Int64("run_id", runID).
		Str("pool", string(pool)).
		Str("reason", reason).
		Msg("Run cancelled by operator")
	return nil
}

// ListVMQueue returns the VM queue in insertion order
func (s *Service) ListVMQueue(ctx context.Context) ([]models.QueuedRun, error) {
	return s.listQueue(ctx, models.PoolVM, time.Time{})
}

// ListLocalQueue returns the local queue in insertion order
func (s *Service) ListLocalQueue(ctx context.Context) ([]models.QueuedRun, error) {
	return s.listQueue(ctx, models.PoolLocal, time.Time{})
}

// StaleRuns lists queued runs of both pools created before the cutoff, oldest first
func (s *Service) StaleRuns(ctx context.Context, createdBefore time.Time) ([]models.QueuedRun, error) {
	var runs []models.QueuedRun
	for _, pool := range []models.Pool{models.PoolVM, models.PoolLocal} {
		queued, err := s.listQueue(ctx, pool, createdBefore)
		if err != nil {
			return nil, err
		}
		runs = append(runs, queued...)
	}
	return runs, nil
}

func (s *Service) listQueue(ctx context.Context, pool models.Pool, createdBefore time.Time) ([]models.QueuedRun, error) {
	query := fmt.Sprintf(`
SELECT q.id AS queue_id,
       q.run_id,
       r.repository,
       r.branch,
       r.commit_hash,
       r.run_type,
       q.queued_at,
       $1::TEXT AS pool
FROM %s q
JOIN ci.run r ON r.id = q.run_id
WHERE ($2::TIMESTAMPTZ IS NULL OR r.created_at < $2)
ORDER BY q.id`, queueTable(pool))

	var cutoff *time.Time
	if !createdBefore.IsZero() {
		cutoff = &createdBefore
	}

	runs := []models.QueuedRun{}
	if err := s.db.SelectContext(ctx, &runs, query, string(pool), cutoff); err != nil {
		return nil, err
	}
	return runs, nil
}

// CommandHistory returns the most recent outbox messages, newest first
func (s *Service) CommandHistory(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	messages := []models.OutboxMessage{}
	err := s.db.SelectContext(ctx, &messages, `
SELECT id, run_id, text, created_at, delivered_at
FROM ci.outbox_message
ORDER BY id DESC
LIMIT $1`, limit)
	return messages, err
}

func (s *Service) ListTrustedUsers(ctx context.Context) ([]models.TrustedUser, error) {
	users := []models.TrustedUser{}
	err := s.db.SelectContext(ctx, &users, `SELECT id, handle FROM ci.trusted_user ORDER BY handle`)
	return users, err
}

func (s *Service) AddTrustedUser(ctx context.Context, handle string) (*models.TrustedUser, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, fmt.Errorf("%w: handle is empty", ErrValidation)
	}

	user := models.TrustedUser{Handle: handle}
	err := s.db.GetContext(ctx, &user.ID, `INSERT INTO ci.trusted_user (handle) VALUES ($1) RETURNING id`, handle)
	if isUniqueViolation(err, "trusted_user_handle_key") {
		return nil, fmt.Errorf("%w: %q is already trusted", ErrValidation, handle)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) DeleteTrustedUser(ctx context.Context, id int64) error {
	return deleteByID(ctx, s.db, "ci.trusted_user", id)
}

// IsTrusted reports whether the handle is on the trusted user list
func (s *Service) IsTrusted(ctx context.Context, handle string) (bool, error) {
	return isTrusted(ctx, s.db, handle)
}

func isTrusted(ctx context.Context, q sqlx.QueryerContext, handle string) (bool, error) {
	if handle == "" {
		return false, nil
	}
	var trusted bool
	err := sqlx.GetContext(ctx, q, &trusted, `SELECT EXISTS (SELECT 1 FROM ci.trusted_user WHERE handle = $1)`, handle)
	return trusted, err
}

func (s *Service) ListLocalRepositories(ctx context.Context) ([]models.LocalRepository, error) {
	repos := []models.LocalRepository{}
	err := s.db.SelectContext(ctx, &repos, `SELECT id, repository, folder FROM ci.local_repository ORDER BY repository`)
	return repos, err
}

// AddLocalRepository maps a repository to the folder local workers check it out in.
// Only runs created afterwards are routed to the local pool.
func (s *Service) AddLocalRepository(ctx context.Context, repository, folder string) (*models.LocalRepository, error) {
	var errs []error
	repository = strings.TrimSpace(repository)
	if repository == "" {
		errs = append(errs, errors.New("repository is empty"))
	}
	folder = strings.TrimSpace(folder)
	if folder == "" {
		errs = append(errs, errors.New("folder is empty"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrValidation, errors.Join(errs...))
	}

	repo := models.LocalRepository{Repository: repository, Folder: folder}
	err := s.db.GetContext(ctx, &repo.ID, `
INSERT INTO ci.local_repository (repository, folder)
VALUES ($1, $2)
RETURNING id`, repository, folder)
	if isUniqueViolation(err, "local_repository_repository_key") {
		return nil, fmt.Errorf("%w: %q is already mapped", ErrValidation, repository)
	}
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

func (s *Service) DeleteLocalRepository(ctx context.Context, id int64) error {
	return deleteByID(ctx, s.db, "ci.local_repository", id)
}

func deleteByID(ctx context.Context, db sqlx.ExecerContext, table string, id int64) error {
	res, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: no row %d in %s", ErrNotFound, id, table)
	}
	return nil
}
