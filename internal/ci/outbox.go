package ci

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"regci/internal/models"
)

// FormatMessage substitutes the run id for every "{0}" in the template
func FormatMessage(template string, runID int64) string {
	return strings.ReplaceAll(template, "{0}", strconv.FormatInt(runID, 10))
}

// Enqueue appends a message for the notification relay and returns its id
func (s *Service) Enqueue(ctx context.Context, runID int64, text string) (int64, error) {
	id, err := enqueue(ctx, s.db, runID, text)
	if isForeignKeyViolation(err) {
		return 0, fmt.Errorf("%w: run %d", ErrNotFound, runID)
	}
	return id, err
}

func enqueue(ctx context.Context, q sqlx.QueryerContext, runID int64, text string) (int64, error) {
	var id int64
	err := q.QueryRowxContext(ctx, `
INSERT INTO ci.outbox_message (run_id, text)
VALUES ($1, $2)
RETURNING id`, runID, text).Scan(&id)
	return id, err
}

// DeliverFunc hands a batch of messages to the downstream sink. It returns how many
// messages from the front of the batch were delivered, even when it also returns an error.
type DeliverFunc func(ctx context.Context, messages []models.OutboxMessage) (int, error)

// DrainOutbox locks up to limit undelivered messages, oldest first, and passes them to
// deliver. Messages reported as delivered are marked so and the rest stay pending for
// the next drain. Locked rows are skipped so several relays can drain concurrently.
func (s *Service) DrainOutbox(ctx context.Context, limit int, deliver DeliverFunc) (int, error) {
	var delivered int
	var deliverErr error

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		delivered, deliverErr = 0, nil

		var pending []models.OutboxMessage
		if err := tx.SelectContext(ctx, &pending, `
SELECT id, run_id, text, created_at, delivered_at
FROM ci.outbox_message
WHERE delivered_at IS NULL
ORDER BY id
LIMIT $1
FOR UPDATE SKIP LOCKED`, limit); err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		delivered, deliverErr = deliver(ctx, pending)
		delivered = min(max(delivered, 0), len(pending))
		if delivered == 0 {
			return nil
		}

		ids := make([]int64, delivered)
		for i := range ids {
			ids[i] = pending[i].ID
		}

		query, args, err := sqlx.In(`UPDATE ci.outbox_message SET delivered_at = NOW() WHERE id IN (?)`, ids)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(query), args...)
		return err
	})
	if err != nil {
		return 0, err
	}
	return delivered, deliverErr
}
