// Package ci coordinates regression-test runs: routing to the VM or local pool, token
// validation, the progress ledger, the completion transaction and the notification
// outbox. Every mutation runs in a single Postgres transaction.
package ci

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"regci/internal/metrics"
)

// Service is the single entry point to the run coordination tables
type Service struct {
	db                   *sqlx.DB
	tokens               TokenIssuer
	requireTrustedAuthor bool
}

type Option func(*Service)

// WithTokenIssuer replaces the default random token issuer
func WithTokenIssuer(issuer TokenIssuer) Option {
	return func(s *Service) {
		s.tokens = issuer
	}
}

// WithTrustedAuthors makes Create reject pull request runs whose author is not a
// trusted user
func WithTrustedAuthors(required bool) Option {
	return func(s *Service) {
		s.requireTrustedAuthor = required
	}
}

func New(db *sqlx.DB, opts ...Option) *Service {
	s := &Service{
		db:     db,
		tokens: NewRandomTokenIssuer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// inTx runs fn in a transaction and commits when fn returns nil. Serialization failures
// and deadlocks retry the whole transaction once.
func (s *Service) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	err := s.runTx(ctx, fn)
	if !isConflict(err) {
		return err
	}

	metrics.TransactionRetries.Inc()
	log.Warn().Err(err).Msg("Transaction conflict, retrying once")
	err = s.runTx(ctx, fn)
	if isConflict(err) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

func (s *Service) runTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		rollbackTx(tx)
		return err
	}
	return tx.Commit()
}

func rollbackTx(tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.Error().Err(err).Msg("Could not rollback transaction")
	}
}
