package interfaces

import (
	"context"

	"github.com/ternarybob/autobolt/internal/models"
)

// WorkerStore persists worker-local operational state: health records,
// heartbeats, undeliverable batches, and diagnostic records. Customer
// business data is never stored beyond the in-flight job.
//
// Get methods return (nil, nil) when no record exists; absence is a
// normal cold-start state, not an error.
type WorkerStore interface {
	// Health records
	SaveHealthRecord(ctx context.Context, record *models.HealthRecord) error
	GetHealthRecord(ctx context.Context, directoryID string) (*models.HealthRecord, error)
	ListHealthRecords(ctx context.Context) ([]*models.HealthRecord, error)
	ListUnhealthyRecords(ctx context.Context) ([]*models.HealthRecord, error)

	// Heartbeats
	SaveHeartbeat(ctx context.Context, heartbeat *models.WorkerHeartbeat) error
	GetHeartbeat(ctx context.Context, workerID string) (*models.WorkerHeartbeat, error)

	// Dead letters
	SaveDeadLetter(ctx context.Context, batch *models.DeadLetterBatch) error
	ListDeadLetters(ctx context.Context, limit int) ([]*models.DeadLetterBatch, error)
	CountDeadLetters(ctx context.Context) (int, error)
	PruneDeadLetters(ctx context.Context, keep int) (int, error)

	// Completion markers
	SaveCompletionMarker(ctx context.Context, marker *models.CompletionMarker) error
	ListCompletionMarkers(ctx context.Context) ([]*models.CompletionMarker, error)

	// Attempt timings
	SaveAttemptTiming(ctx context.Context, timing *models.AttemptTiming) error
	ListAttemptTimings(ctx context.Context, directoryID string, limit int) ([]*models.AttemptTiming, error)

	// Mail confirmations
	SaveConfirmation(ctx context.Context, record *models.ConfirmationRecord) error
	ListConfirmations(ctx context.Context, jobID string) ([]*models.ConfirmationRecord, error)

	// RunValueLogGC triggers one round of value-log garbage collection
	RunValueLogGC() error

	Close() error
}
