package api

import (
	"errors"
	"strings"

	"github.com/guregu/null/v6"
	"regci/internal/ci"
	"regci/internal/models"
)

const (
	statusSuccess = "success"
	statusFailed  = "failed"

	defaultAbortTemplate  = "Run {0} was aborted by an administrator"
	defaultRemoveTemplate = "Run {0} was removed from the queue by an administrator"
)

type statusResponse struct {
	Status string `json:"status"`
}

type CreateRunRequest struct {
	Repository string   `json:"repository"`
	Branch     string   `json:"branch"`
	Commit     string   `json:"commit"`
	Type       string   `json:"type"`
	PRNumber   null.Int `json:"prNumber"`
	Author     string   `json:"author"`
}

func (c *CreateRunRequest) toNewRun() ci.NewRun {
	return ci.NewRun{
		Repository: c.Repository,
		Branch:     c.Branch,
		CommitHash: c.Commit,
		Type:       c.Type,
		PRNumber:   c.PRNumber,
		Author:     c.Author,
	}
}

// CreateRunResponse carries the token once. It is never shown again.
type CreateRunResponse struct {
	ID    int64       `json:"id"`
	Token string      `json:"token"`
	Pool  models.Pool `json:"pool"`
}

type FetchResponse struct {
	Status string `json:"status"`
	*ci.FetchResult
}

type TokenResponse struct {
	Token string `json:"token"`
}

type RemainingResponse struct {
	Remaining bool `json:"remaining"`
}

type CancelRequest struct {
	IsLocal         bool   `json:"isLocal"`
	MessageTemplate string `json:"messageTemplate"`
}

func (c *CancelRequest) template(fallback string) string {
	if t := strings.TrimSpace(c.MessageTemplate); t != "" {
		return t
	}
	return fallback
}

type TrustedUserRequest struct {
	Handle string `json:"handle"`
}

type LocalRepositoryRequest struct {
	Repository string `json:"repository"`
	Folder     string `json:"folder"`
}

func (l *LocalRepositoryRequest) validate() error {
	var errs []error
	if strings.TrimSpace(l.Repository) == "" {
		errs = append(errs, errors.New("repository is empty"))
	}
	if strings.TrimSpace(l.Folder) == "" {
		errs = append(errs, errors.New("folder is empty"))
	}
	return errors.Join(errs...)
}
