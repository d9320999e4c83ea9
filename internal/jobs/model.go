// README: Async job records and lifecycle.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/cheez95/luckygas/internal/types"
)

type Kind string

const (
	KindOptimizeDay  Kind = "optimize_day"
	KindBatchPredict Kind = "batch_predict"
	KindBulkImport   Kind = "bulk_import"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusRunning    Status = "running"
	StatusCancelling Status = "cancelling"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Error codes stored on failed jobs.
const (
	ErrCodeConflict      = "conflict"
	ErrCodeCancelTimeout = "cancel_timeout"
	ErrCodeOrphaned      = "orphaned"
	ErrCodeHandler       = "handler_error"
)

type Job struct {
	ID   types.ID
	Kind Kind
	// TargetKey serializes jobs: only one job per (kind, target key) runs at
	// a time, the rest queue FIFO. For optimize_day it is the operating date.
	TargetKey string
	Params    json.RawMessage
	Status    Status
	Progress  int
	Message   string
	Result    json.RawMessage
	ErrorCode string
	ErrorText string

	CreatedAt   time.Time
	StartedAt   *time.Time
	HeartbeatAt *time.Time
	FinishedAt  *time.Time
}

var AllowedTransitions = map[Status][]Status{
	StatusQueued:     {StatusRunning, StatusCancelled},
	StatusRunning:    {StatusCancelling, StatusSucceeded, StatusFailed},
	StatusCancelling: {StatusCancelled, StatusSucceeded, StatusFailed},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}
