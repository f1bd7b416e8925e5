package models

import (
	"fmt"
	"strings"
	"time"
)

type ProgressStatus string

const (
	PsInfo        ProgressStatus = "info"
	PsPreparation ProgressStatus = "preparation"
	PsTesting     ProgressStatus = "testing"
	PsSuccess     ProgressStatus = "success"
	PsError       ProgressStatus = "error"
	PsCanceled    ProgressStatus = "canceled"
)

var progressStatuses = map[ProgressStatus]struct{}{
	PsInfo:        {},
	PsPreparation: {},
	PsTesting:     {},
	PsSuccess:     {},
	PsError:       {},
	PsCanceled:    {},
}

func ParseProgressStatus(s string) (ProgressStatus, error) {
	status := ProgressStatus(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := progressStatuses[status]; !ok {
		return "", fmt.Errorf("unknown progress status %q", s)
	}
	return status, nil
}

// ProgressEntry is a model representing the `ci.progress_entry` table
type ProgressEntry struct {
	ID        int64          `db:"id" json:"id"`
	RunID     int64          `db:"run_id" json:"runId"`
	Timestamp time.Time      `db:"created_at" json:"timestamp"`
	Status    ProgressStatus `db:"status" json:"status"`
	Message   string         `db:"message" json:"message"`
}
