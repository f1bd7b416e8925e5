package ci

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/guregu/null/v6"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"regci/internal/metrics"
	"regci/internal/models"
)

// maxTokenAttempts bounds how often Create regenerates a token after a unique violation
const maxTokenAttempts = 5

// NewRun is what a trigger source submits to start a run
type NewRun struct {
	Repository string
	Branch     string
	CommitHash string
	Type       string
	PRNumber   null.Int
	Author     string // handle of the pull request author, only checked for pull requests
}

func (n *NewRun) validate() (models.RunType, error) {
	var errs []error

	n.Repository = strings.TrimSpace(n.Repository)
	if n.Repository == "" {
		errs = append(errs, errors.New("repository is empty"))
	}

	n.Branch = strings.TrimSpace(n.Branch)
	if n.Branch == "" {
		errs = append(errs, errors.New("branch is empty"))
	}

	n.CommitHash = strings.TrimSpace(n.CommitHash)
	if n.CommitHash == "" {
		errs = append(errs, errors.New("commit is empty"))
	}

	runType, err := models.ParseRunType(n.Type)
	if err != nil {
		errs = append(errs, err)
	}

	if n.PRNumber.Valid && n.PRNumber.Int64 <= 0 {
		errs = append(errs, errors.New("pull request number must be > 0"))
	}
	n.Author = strings.TrimSpace(n.Author)

	if len(errs) > 0 {
		return "", fmt.Errorf("%w: %w", ErrValidation, errors.Join(errs...))
	}
	return runType, nil
}

// Create inserts a run and places it in the local queue when its repository has a local
// repository mapping, or in the VM queue otherwise. The run and its queue membership are
// written in one transaction.
func (s *Service) Create(ctx context.Context, req NewRun) (*models.Run, models.Pool, error) {
	runType, err := req.validate()
	if err != nil {
		return nil, "", err
	}

	for attempt := 1; ; attempt++ {
		token, err := s.tokens.Issue()
		if err != nil {
			return nil, "", err
		}

		run, pool, err := s.createWithToken(ctx, req, runType, token)
		if err == nil {
			metrics.RunsCreated.WithLabelValues(string(pool)).Inc()
			log.Info().
				Int64("run_id", run.ID).
				Str("repository", run.Repository).
				Str("pool", string(pool)).
				Msg("Run created")
			return run, pool, nil
		}

		if isUniqueViolation(err, "run_token_key") && attempt < maxTokenAttempts {
			log.Warn().Int("attempt", attempt).Msg("Token collision, issuing a new token")
			continue
		}
		return nil, "", err
	}
}

func (s *Service) createWithToken(ctx context.Context, req NewRun, runType models.RunType, token string) (*models.Run, models.Pool, error) {
	var run models.Run
	var pool models.Pool

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if s.requireTrustedAuthor && runType == models.RunTypePullRequest {
			trusted, err := isTrusted(ctx, tx, req.Author)
			if err != nil {
				return err
			}
			if !trusted {
				return fmt.Errorf("%w: %q", ErrUntrusted, req.Author)
			}
		}

		var err error
		pool, err = routeRepository(ctx, tx, req.Repository)
		if err != nil {
			return err
		}

		if err := tx.QueryRowxContext(ctx, `
INSERT INTO ci.run (token, repository, branch, commit_hash, run_type, pr_number)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING *`,
			token, req.Repository, req.Branch, req.CommitHash, runType, req.PRNumber,
		).StructScan(&run); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (run_id) VALUES ($1)`, queueTable(pool)), run.ID)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return &run, pool, nil
}

// routeRepository decides the pool of a new run. The mapping row is share-locked so it
// cannot be removed before the run is queued.
func routeRepository(ctx context.Context, tx *sqlx.Tx, repository string) (models.Pool, error) {
	var id int64
	err := tx.GetContext(ctx, &id, `SELECT id FROM ci.local_repository WHERE repository = $1 FOR SHARE`, repository)
	switch {
	case isNoRows(err):
		return models.PoolVM, nil
	case err != nil:
		return "", err
	}
	return models.PoolLocal, nil
}

func queueTable(pool models.Pool) string {
	if pool == models.PoolLocal {
		return "ci.local_queue"
	}
	return "ci.vm_queue"
}
