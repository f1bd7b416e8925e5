package ci

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"regci/internal/metrics"
	"regci/internal/models"
)

// Completion describes the outcome of a completion attempt
type Completion struct {
	RunID int64
	// Pool is the queue the run was removed from. It is derived from the queue tables, the
	// completing worker never supplies it.
	Pool models.Pool
	// AlreadyFinished is set when another caller finished the run first. Nothing was
	// changed by this call.
	AlreadyFinished bool
}

// MarkFinished flips the run to finished and removes its single queue membership in
// one transaction. Concurrent calls for the same run are serialized on the run row, the
// losers get a Completion with AlreadyFinished set.
func (s *Service) MarkFinished(ctx context.Context, runID int64) (Completion, error) {
	return s.complete(ctx, runID, nil)
}

// CompleteUpload finishes the run like MarkFinished and records the uploaded artifact's
// metadata in the same transaction
func (s *Service) CompleteUpload(ctx context.Context, runID int64, artifact models.Artifact) (Completion, error) {
	if artifact.Name == "" {
		return Completion{}, fmt.Errorf("%w: artifact name is empty", ErrValidation)
	}
	return s.complete(ctx, runID, &artifact)
}

func (s *Service) complete(ctx context.Context, runID int64, artifact *models.Artifact) (Completion, error) {
	var completion Completion

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		completion = Completion{RunID: runID}

		finished, err := lockRun(ctx, tx, runID)
		if err != nil {
			return err
		}
		if finished {
			completion.AlreadyFinished = true
			return nil
		}

		if err := markRunFinished(ctx, tx, runID); err != nil {
			return err
		}

		pool, err := dequeue(ctx, tx, runID)
		if err != nil {
			return err
		}
		completion.Pool = pool

		if artifact != nil {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO ci.artifact (run_id, name, sha256, size_bytes)
VALUES ($1, $2, $3, $4)`,
				runID, artifact.Name, artifact.SHA256, artifact.SizeBytes,
			); err != nil {
				return err
			}
		}
		return nil
	})

	switch {
	case err != nil:
		logCompletionError(err, runID)
		return Completion{RunID: runID}, err
	case completion.AlreadyFinished:
		log.Info().Int64("run_id", runID).Msg("Run was already finished, nothing to do")
	default:
		metrics.RunsFinished.WithLabelValues(string(completion.Pool), "completed").Inc()
		log.Info().
			Int64("run_id", runID).
			Str("pool", string(completion.Pool)).
			Msg("Run finished")
	}
	return completion, nil
}

func logCompletionError(err error, runID int64) {
	if isConsistencyViolation(err) {
		metrics.ConsistencyViolations.Inc()
		log.Error().
			Err(err).
			Int64("run_id", runID).
			Msg("CONSISTENCY VIOLATION: unfinished run was in neither queue, completion rolled back")
		return
	}
	if errors.Is(err, ErrNotFound) {
		log.Warn().Err(err).Int64("run_id", runID).Msg("Cannot finish unknown run")
		return
	}
	log.Error().Err(err).Int64("run_id", runID).Msg("Could not finish run")
}

// lockRun takes the row lock every finishing transaction serializes on and reports
// whether the run is already finished
func lockRun(ctx context.Context, tx *sqlx.Tx, runID int64) (bool, error) {
	var finished bool
	err := tx.GetContext(ctx, &finished, `SELECT finished FROM ci.run WHERE id = $1 FOR UPDATE`, runID)
	if isNoRows(err) {
		return false, fmt.Errorf("%w: run %d", ErrNotFound, runID)
	}
	return finished, err
}

func markRunFinished(ctx context.Context, tx *sqlx.Tx, runID int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE ci.run SET finished = TRUE, finished_at = NOW() WHERE id = $1`, runID)
	return err
}

// dequeue removes the run from whichever queue holds it, trying the VM queue first
func dequeue(ctx context.Context, tx *sqlx.Tx, runID int64) (models.Pool, error) {
	for _, pool := range []models.Pool{models.PoolVM, models.PoolLocal} {
		removed, err := deleteMembership(ctx, tx, pool, runID)
		if err != nil {
			return "", err
		}
		if removed {
			return pool, nil
		}
	}
	return "", fmt.Errorf("%w: run %d", ErrConsistencyViolation, runID)
}

func deleteMembership(ctx context.Context, tx *sqlx.Tx, pool models.Pool, runID int64) (bool, error) {
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE run_id = $1`, queueTable(pool)), runID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HasVMWorkRemaining reports whether any run waits in the VM queue
func (s *Service) HasVMWorkRemaining(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM ci.vm_queue)`)
	return exists, err
}

// NextLocalToken returns the token of the oldest run in the local queue
func (s *Service) NextLocalToken(ctx context.Context) (string, error) {
	return s.nextToken(ctx, models.PoolLocal)
}

// NextVMToken returns the token of the oldest run in the VM queue
func (s *Service) NextVMToken(ctx context.Context) (string, error) {
	return s.nextToken(ctx, models.PoolVM)
}

func (s *Service) nextToken(ctx context.Context, pool models.Pool) (string, error) {
	var token string
	err := s.db.GetContext(ctx, &token, fmt.Sprintf(`
SELECT r.token
FROM %s q
JOIN ci.run r ON r.id = q.run_id
WHERE NOT r.finished
ORDER BY q.id
LIMIT 1`, queueTable(pool)))
	if isNoRows(err) {
		return "", fmt.Errorf("%w: %s queue is empty", ErrNotFound, pool)
	}
	return token, err
}
