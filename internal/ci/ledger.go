package ci

import (
	"context"
	"fmt"
	"iter"

	"github.com/jmoiron/sqlx"
	"regci/internal/metrics"
	"regci/internal/models"
)

// Append writes a progress entry for an unfinished run. It returns ErrNotFound when the
// run does not exist or has already finished.
func (s *Service) Append(ctx context.Context, runID int64, status models.ProgressStatus, message string) error {
	if _, err := models.ParseProgressStatus(string(status)); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO ci.progress_entry (run_id, status, message)
SELECT id, $2, $3
FROM ci.run
WHERE id = $1
  AND NOT finished`, runID, status, message)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: run %d", ErrNotFound, runID)
	}

	metrics.ProgressEntries.WithLabelValues(string(status)).Inc()
	return nil
}

// appendLocked writes an entry from inside a transaction that already holds the run lock
func appendLocked(ctx context.Context, tx *sqlx.Tx, runID int64, status models.ProgressStatus, message string) error {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO ci.progress_entry (run_id, status, message)
VALUES ($1, $2, $3)`, runID, status, message); err != nil {
		return err
	}
	metrics.ProgressEntries.WithLabelValues(string(status)).Inc()
	return nil
}

// ReadOrdered returns the run's progress entries oldest first. Nothing is read until the
// sequence is ranged over and every range issues a fresh query, so the sequence can be
// iterated again to pick up newer entries. A query error is yielded once and ends the
// sequence.
func (s *Service) ReadOrdered(ctx context.Context, runID int64) iter.Seq2[models.ProgressEntry, error] {
	return func(yield func(models.ProgressEntry, error) bool) {
		rows, err := s.db.QueryxContext(ctx, `
SELECT id, run_id, created_at, status, message
FROM ci.progress_entry
WHERE run_id = $1
ORDER BY id`, runID)
		if err != nil {
			yield(models.ProgressEntry{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var entry models.ProgressEntry
			if err := rows.StructScan(&entry); err != nil {
				yield(models.ProgressEntry{}, err)
				return
			}
			if !yield(entry, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(models.ProgressEntry{}, err)
		}
	}
}
