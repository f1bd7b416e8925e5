package ci

import (
	"context"
	"fmt"

	"github.com/guregu/null/v6"
)

// ValidateToken resolves a worker token to its run id. Tokens of finished runs are
// reported exactly like unknown tokens.
func (s *Service) ValidateToken(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrNotFound
	}

	var runID int64
	err := s.db.GetContext(ctx, &runID, `SELECT id FROM ci.run WHERE token = $1 AND NOT finished`, token)
	if isNoRows(err) {
		return 0, ErrNotFound
	}
	return runID, err
}

// FetchResult is what a worker learns about its run. The run id is deliberately absent.
type FetchResult struct {
	Token     string      `db:"token" json:"token"`
	Branch    string      `db:"branch" json:"branch"`
	Commit    string      `db:"commit_hash" json:"commit"`
	LocalPath null.String `db:"local_path" json:"localPath"`
}

// Fetch returns the checkout details of the unfinished run owning the token. LocalPath is
// only set when the run's repository has a local repository mapping.
func (s *Service) Fetch(ctx context.Context, token string) (*FetchResult, error) {
	if token == "" {
		return nil, ErrNotFound
	}

	var result FetchResult
	err := s.db.GetContext(ctx, &result, `
SELECT r.token, r.branch, r.commit_hash, lr.folder AS local_path
FROM ci.run r
LEFT JOIN ci.local_repository lr ON lr.repository = r.repository
WHERE r.token = $1
  AND NOT r.finished`, token)
	if isNoRows(err) {
		return nil, fmt.Errorf("%w: unknown token", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}
