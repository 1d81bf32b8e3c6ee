package models

import (
	"time"
)

// WorkerState describes what the worker is doing right now
type WorkerState string

const (
	WorkerStateIdle       WorkerState = "idle"
	WorkerStateProcessing WorkerState = "processing"
	WorkerStateStopping   WorkerState = "stopping"
)

// WorkerHeartbeat is upserted on every heartbeat tick. External observers
// treat a worker as dead when the heartbeat is stale for more than twice
// the heartbeat interval.
type WorkerHeartbeat struct {
	WorkerID      string      `json:"worker_id" badgerhold:"key"`
	LastSeen      time.Time   `json:"last_seen"`
	JobsProcessed int         `json:"jobs_processed"`
	CurrentJobID  string      `json:"current_job_id,omitempty"`
	State         WorkerState `json:"state"`
	StartedAt     time.Time   `json:"started_at"`
	Version       string      `json:"version,omitempty"`
}

// IsStale reports whether the heartbeat has exceeded the liveness window
func (h *WorkerHeartbeat) IsStale(interval time.Duration, now time.Time) bool {
	if h.LastSeen.IsZero() {
		return true
	}
	return now.Sub(h.LastSeen) > 2*interval
}

// DeadLetterBatch is a progress batch that exhausted its delivery retries.
// Retained locally for diagnostic export; the job continues without it.
type DeadLetterBatch struct {
	ID         string            `json:"id" badgerhold:"key"`
	JobID      string            `json:"job_id"`
	Results    []DirectoryResult `json:"results"`
	FailedAt   time.Time         `json:"failed_at"`
	LastError  string            `json:"last_error"`
	Attempts   int               `json:"attempts"`
}

// CompletionMarker records a job whose final completion call could not be
// delivered. External reconciliation is assumed.
type CompletionMarker struct {
	JobID       string     `json:"job_id" badgerhold:"key"`
	FinalStatus JobStatus  `json:"final_status"`
	Summary     JobSummary `json:"summary"`
	MarkedAt    time.Time  `json:"marked_at"`
	LastError   string     `json:"last_error"`
}

// ConfirmationRecord links an inbound confirmation email to a directory
// submission. Written by the mailbox watcher when enabled.
type ConfirmationRecord struct {
	ID            string    `json:"id" badgerhold:"key"`
	JobID         string    `json:"job_id,omitempty"`
	DirectoryID   string    `json:"directory_id,omitempty"`
	DirectoryName string    `json:"directory_name,omitempty"`
	Subject       string    `json:"subject"`
	From          string    `json:"from"`
	ReceivedAt    time.Time `json:"received_at"`
	MatchedAt     time.Time `json:"matched_at"`
}
