package models

import (
	"time"
)

// SubmissionStatus is the terminal outcome of one directory attempt
type SubmissionStatus string

const (
	StatusSubmitted SubmissionStatus = "submitted" // Driver returned a positive success indicator
	StatusFailed    SubmissionStatus = "failed"
	StatusSkipped   SubmissionStatus = "skipped" // No driver call was made
)

// SubmissionOptions carries per-attempt knobs into the driver
type SubmissionOptions struct {
	Timeout      time.Duration // Per-attempt deadline enforced by the caller
	ViaAlternate bool          // Route through the alternate HTTP driver
}

// SubmissionOutcome is what the driver returns for one attempt. Failure
// modes surface as StatusFailed plus a message; only unrecoverable driver
// crashes cross this boundary as errors.
type SubmissionOutcome struct {
	Status            SubmissionStatus `json:"status"`
	Message           string           `json:"message"`
	StartedAt         time.Time        `json:"started_at"`
	FinishedAt        time.Time        `json:"finished_at"`
	FilledFieldsCount int              `json:"filled_fields_count,omitempty"`
	Diagnostics       map[string]any   `json:"diagnostics,omitempty"`
}

// ResponseTime returns the wall-clock duration of the attempt
func (o *SubmissionOutcome) ResponseTime() time.Duration {
	if o.FinishedAt.IsZero() || o.StartedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// Attempt identifies one invocation of the submission driver for one
// (job, directory) pair. Ordinals are dense starting at 1; at most one
// attempt per pair is in flight at a time.
type Attempt struct {
	JobID       string            `json:"job_id"`
	DirectoryID string            `json:"directory_id"`
	Ordinal     int               `json:"ordinal"`
	Outcome     SubmissionOutcome `json:"outcome"`
}

// DirectoryResult is the wire shape reported to the control plane for one
// attempt. Consumers are idempotent on (jobId, directoryId, attempt ordinal),
// so results may be replayed freely.
type DirectoryResult struct {
	DirectoryID   string           `json:"directoryId,omitempty"`
	DirectoryName string           `json:"directoryName"`
	Status        SubmissionStatus `json:"status"`
	Message       string           `json:"message"`
	Timestamp     string           `json:"timestamp"` // ISO-8601
	AIScore       *float64         `json:"aiScore,omitempty"`
	AICustomized  bool             `json:"aiCustomized,omitempty"`
	ViaAlternate  bool             `json:"viaAlternate,omitempty"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
}

// NewDirectoryResult builds the wire result for a directory outcome
func NewDirectoryResult(directory *Directory, status SubmissionStatus, message string) DirectoryResult {
	return DirectoryResult{
		DirectoryID:   directory.ID,
		DirectoryName: directory.Name,
		Status:        status,
		Message:       message,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}
