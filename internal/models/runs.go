package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null/v6"
)

// This file contains all the models under the `ci` schema

type RunType string

const (
	RunTypeCommit      RunType = "commit"
	RunTypePullRequest RunType = "pull_request"
)

// ParseRunType accepts the stored names as well as the common spellings used by
// trigger sources ("PullRequest", "pr")
func ParseRunType(s string) (RunType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "commit":
		return RunTypeCommit, nil
	case "pull_request", "pullrequest", "pr":
		return RunTypePullRequest, nil
	}
	return "", fmt.Errorf("unknown run type %q", s)
}

// Pool is one of the two disjoint worker populations
type Pool string

const (
	PoolVM    Pool = "vm"
	PoolLocal Pool = "local"
)

// Run is a model representing the `ci.run` table
type Run struct {
	ID         int64     `db:"id" json:"id"`
	Token      string    `db:"token" json:"-"`
	Repository string    `db:"repository" json:"repository"`
	Branch     string    `db:"branch" json:"branch"`
	CommitHash string    `db:"commit_hash" json:"commit"`
	Type       RunType   `db:"run_type" json:"type"`
	PRNumber   null.Int  `db:"pr_number" json:"prNumber"`
	Finished   bool      `db:"finished" json:"finished"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	FinishedAt null.Time `db:"finished_at" json:"finishedAt"`
}

// QueuedRun is a row of either `ci.vm_queue` or `ci.local_queue` joined with its run
type QueuedRun struct {
	QueueID    int64     `db:"queue_id" json:"queueId"`
	RunID      int64     `db:"run_id" json:"runId"`
	Repository string    `db:"repository" json:"repository"`
	Branch     string    `db:"branch" json:"branch"`
	CommitHash string    `db:"commit_hash" json:"commit"`
	Type       RunType   `db:"run_type" json:"type"`
	QueuedAt   time.Time `db:"queued_at" json:"queuedAt"`
	Pool       Pool      `db:"pool" json:"pool"`
}

// LocalRepository is a model representing the `ci.local_repository` table
type LocalRepository struct {
	ID         int64  `db:"id" json:"id"`
	Repository string `db:"repository" json:"repository"`
	Folder     string `db:"folder" json:"folder"`
}

// TrustedUser is a model representing the `ci.trusted_user` table
type TrustedUser struct {
	ID     int64  `db:"id" json:"id"`
	Handle string `db:"handle" json:"handle"`
}

// OutboxMessage is a model representing the `ci.outbox_message` table
type OutboxMessage struct {
	ID          int64     `db:"id" json:"id"`
	RunID       int64     `db:"run_id" json:"runId"`
	Text        string    `db:"text" json:"text"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	DeliveredAt null.Time `db:"delivered_at" json:"deliveredAt"`
}

// Artifact is a model representing the `ci.artifact` table. Only metadata is kept, the
// bytes live wherever the worker uploaded them.
type Artifact struct {
	ID        int64     `db:"id" json:"id"`
	RunID     int64     `db:"run_id" json:"runId"`
	Name      string    `db:"name" json:"name"`
	SHA256    string    `db:"sha256" json:"sha256"`
	SizeBytes int64     `db:"size_bytes" json:"sizeBytes"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
