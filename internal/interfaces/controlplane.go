package interfaces

import (
	"context"

	"github.com/ternarybob/autobolt/internal/models"
)

// ControlPlane is the remote job API the worker polls. All methods carry
// bounded deadlines via ctx; transient failures are retried inside the
// implementation.
type ControlPlane interface {
	// GetNextJob returns the next job, or nil when the queue is empty.
	// paused reports the control plane's queue_paused flag; when set the
	// caller sleeps without acquiring work.
	GetNextJob(ctx context.Context) (job *models.Job, paused bool, err error)

	// UpdateProgress delivers a batch of per-directory results.
	// An empty batch with a status acknowledges job acquisition.
	UpdateProgress(ctx context.Context, jobID string, results []models.DirectoryResult, status models.JobStatus, errorMessage string) error

	// CompleteJob reports the final status and aggregate summary
	CompleteJob(ctx context.Context, jobID string, finalStatus models.JobStatus, summary models.JobSummary, errorMessage string) error
}
