package models

import "time"

// AttemptTiming stores timing data for a completed submission attempt.
// Used for monitoring driver performance and debugging slow directories.
type AttemptTiming struct {
	ID           string           `json:"id" badgerhold:"key"`
	JobID        string           `json:"job_id"`
	DirectoryID  string           `json:"directory_id" badgerhold:"index"`
	Ordinal      int              `json:"ordinal"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  time.Time        `json:"completed_at"`
	TotalMs      int64            `json:"total_ms"`
	Phases       map[string]int64 `json:"phases,omitempty"` // "advisors", "submit", "delay"
	Status       SubmissionStatus `json:"status"`
	Error        string           `json:"error,omitempty"`
	ViaAlternate bool             `json:"via_alternate,omitempty"`
}
