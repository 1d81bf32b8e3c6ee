package models

import (
	"time"
)

// HealthObservation is published by the scheduler for every completed attempt
type HealthObservation struct {
	DirectoryID    string
	Status         SubmissionStatus
	ResponseTimeMs float64
}

// HealthRecord carries the rolling statistics and availability flag for one
// directory. Mutated only by the health monitor; snapshots are safe to read
// concurrently.
type HealthRecord struct {
	DirectoryID           string         `json:"directory_id" badgerhold:"key"`
	SuccessRate           float64        `json:"success_rate"`             // EWMA, alpha 0.2
	AverageResponseTimeMs float64        `json:"average_response_time_ms"` // EWMA, alpha 0.2
	Observations          int            `json:"observations"`
	RecoveryStreak        int            `json:"recovery_streak"` // Consecutive observations at or above the recovery rate
	Unhealthy             bool           `json:"unhealthy"`
	Bucket                PriorityBucket `json:"bucket"`
	LastCheckedAt         time.Time      `json:"last_checked_at"`
	LastProbeAt           time.Time      `json:"last_probe_at,omitempty"`
	UpdatedAt             time.Time      `json:"updated_at"`
}
