// Package runner owns the worker lifecycle: initialise the submission
// driver, poll the control plane for jobs, run each job to completion
// through the scheduler, and heartbeat throughout. Exactly one job is
// active at a time; the runner is a single job pipeline.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/autobolt/internal/catalog"
	"github.com/ternarybob/autobolt/internal/common"
	"github.com/ternarybob/autobolt/internal/interfaces"
	"github.com/ternarybob/autobolt/internal/models"
	"github.com/ternarybob/autobolt/internal/reporter"
	"github.com/ternarybob/autobolt/internal/scheduler"
)

// completionGrace bounds the final CompleteJob delivery once the worker is
// shutting down and the poll context is gone
const completionGrace = 2 * time.Minute

// maxErrorMessage truncates fatal errors before they go on the wire
const maxErrorMessage = 500

// ReportRenderer renders per-job artifacts after completion. Optional;
// rendering failures are logged, never fatal.
type ReportRenderer interface {
	Render(job *models.Job, summary models.JobSummary, finalStatus models.JobStatus, results []models.DirectoryResult) error
}

// Runner polls the control plane and drives one job at a time
type Runner struct {
	config       *common.Config
	api          interfaces.ControlPlane
	driver       interfaces.SubmissionDriver
	capabilities interfaces.DriverCapabilities
	catalog      *catalog.Catalog
	health       interfaces.HealthView
	sched        *scheduler.Scheduler
	reporter     *reporter.Reporter
	results      *ResultLog
	store        interfaces.WorkerStore
	renderer     ReportRenderer
	logger       arbor.ILogger

	workerID      string
	startedAt     time.Time
	jobsProcessed atomic.Int64

	mu           sync.Mutex
	state        models.WorkerState
	currentJobID string
}

// New creates a runner. The store, renderer, and health view are optional.
// capabilities is the union across the wired drivers, so the selection
// keeps directories only the escalation path can handle.
func New(config *common.Config, api interfaces.ControlPlane, driver interfaces.SubmissionDriver, capabilities interfaces.DriverCapabilities, cat *catalog.Catalog, health interfaces.HealthView, sched *scheduler.Scheduler, rep *reporter.Reporter, results *ResultLog, store interfaces.WorkerStore, renderer ReportRenderer, logger arbor.ILogger) *Runner {
	if logger == nil {
		logger = common.GetLogger()
	}
	workerID := config.Worker.ID
	if workerID == "" {
		workerID = common.NewWorkerID()
	}
	return &Runner{
		config:       config,
		api:          api,
		driver:       driver,
		capabilities: capabilities,
		catalog:      cat,
		health:       health,
		sched:        sched,
		reporter:     rep,
		results:      results,
		store:        store,
		renderer:     renderer,
		logger:       logger,
		workerID:     workerID,
		state:        models.WorkerStateIdle,
	}
}

// WorkerID returns the identity used in heartbeats
func (r *Runner) WorkerID() string {
	return r.workerID
}

// CurrentJobID returns the job in flight, or empty when idle
func (r *Runner) CurrentJobID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentJobID
}

// Start initialises the driver and blocks on the poll loop until ctx is
// cancelled. Driver initialisation failure is a fatal startup error.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.driver.Initialize(ctx); err != nil {
		return fmt.Errorf("submission driver initialisation failed: %w", err)
	}
	r.startedAt = time.Now().UTC()

	r.logger.Info().
		Str("worker_id", r.workerID).
		Str("poll_interval", r.config.Worker.PollInterval.String()).
		Msg("Worker started, polling for jobs")

	common.SafeGoWithContext(ctx, r.logger, "heartbeat", func() {
		r.heartbeatLoop(ctx)
	})

	r.poll(ctx)

	r.setState(models.WorkerStateStopping, "")
	r.beat(context.Background())
	if err := r.driver.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("Driver close failed")
	}
	r.logger.Info().
		Str("worker_id", r.workerID).
		Int64("jobs_processed", r.jobsProcessed.Load()).
		Msg("Worker stopped")
	return nil
}

// poll acquires and runs jobs until cancelled. A paused queue or an empty
// queue just waits out the next tick; heartbeats continue regardless.
func (r *Runner) poll(ctx context.Context) {
	ticker := time.NewTicker(r.config.Worker.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		job, paused, err := r.api.GetNextJob(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn().Err(err).Msg("Job poll failed")
			continue
		}
		if paused {
			r.logger.Debug().Msg("Queue paused, waiting")
			continue
		}
		if job == nil {
			continue
		}

		r.runJob(ctx, job)
		r.jobsProcessed.Add(1)
		r.beat(ctx)
	}
}

// runJob drives one job end to end. The completion call is made whether
// the run succeeds, fails, or is cut short by shutdown.
func (r *Runner) runJob(ctx context.Context, job *models.Job) {
	started := time.Now()
	r.setState(models.WorkerStateProcessing, job.ID)
	defer r.setState(models.WorkerStateIdle, "")

	jobLogger := r.logger.WithCorrelationId(job.ID)
	jobLogger.Info().
		Str("job", job.ID).
		Str("package", string(job.PackageSize)).
		Int("budget", job.Budget()).
		Msg("Job acquired")

	// Acknowledge acquisition; failure is logged, not fatal, because
	// progress delivery is at-least-once anyway
	if err := r.api.UpdateProgress(ctx, job.ID, nil, models.JobStatusInProgress, ""); err != nil {
		jobLogger.Warn().Err(err).Msg("Failed to acknowledge job acquisition")
	}

	selection := r.catalog.SelectForJob(job, r.capabilities, r.health)

	r.results.Reset()
	r.reporter.StartJob(ctx, job.ID)
	summary, runErr := r.sched.Run(ctx, job, selection)

	// Completion delivery survives shutdown: the poll context may already
	// be cancelled, but the control plane still gets its final word
	completionCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completionGrace)
	defer cancel()

	r.reporter.FinishJob(completionCtx)

	finalStatus := models.JobStatusComplete
	errorMessage := ""
	if runErr != nil && !isContextErr(runErr) {
		// Driver crash: the job is failed with zero counters and the
		// runner moves on to the next job
		finalStatus = models.JobStatusFailed
		errorMessage = truncate(runErr.Error(), maxErrorMessage)
		summary = models.JobSummary{ProcessingTimeSeconds: time.Since(started).Seconds()}
		jobLogger.Error().Err(runErr).Msg("Job failed on driver crash")
	}

	r.complete(completionCtx, job, finalStatus, summary, errorMessage)
	r.render(job, summary, finalStatus)

	jobLogger.Info().
		Str("job", job.ID).
		Str("final_status", string(finalStatus)).
		Int("submitted", summary.SuccessfulSubmissions).
		Int("failed", summary.FailedSubmissions).
		Int("skipped", summary.SkippedSubmissions).
		Msg("Job finished")
}

// complete delivers the final status. Exhausted delivery writes a durable
// completion-lost marker; external reconciliation is assumed.
func (r *Runner) complete(ctx context.Context, job *models.Job, finalStatus models.JobStatus, summary models.JobSummary, errorMessage string) {
	err := r.api.CompleteJob(ctx, job.ID, finalStatus, summary, errorMessage)
	if err == nil {
		return
	}

	r.logger.Error().
		Str("job", job.ID).
		Err(err).
		Msg("completion-lost: final status undeliverable")

	if r.store == nil {
		return
	}
	marker := &models.CompletionMarker{
		JobID:       job.ID,
		FinalStatus: finalStatus,
		Summary:     summary,
		MarkedAt:    time.Now().UTC(),
		LastError:   err.Error(),
	}
	if saveErr := r.store.SaveCompletionMarker(context.WithoutCancel(ctx), marker); saveErr != nil {
		r.logger.Error().Err(saveErr).Str("job", job.ID).Msg("Failed to persist completion marker")
	}
}

func (r *Runner) render(job *models.Job, summary models.JobSummary, finalStatus models.JobStatus) {
	if r.renderer == nil {
		return
	}
	if err := r.renderer.Render(job, summary, finalStatus, r.results.Snapshot()); err != nil {
		r.logger.Warn().Err(err).Str("job", job.ID).Msg("Report rendering failed")
	}
}

// heartbeatLoop upserts the worker record on the heartbeat cadence. The
// first beat lands immediately so observers see the worker as soon as it
// starts.
func (r *Runner) heartbeatLoop(ctx context.Context) {
	r.beat(ctx)

	ticker := time.NewTicker(r.config.Worker.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.beat(ctx)
		}
	}
}

func (r *Runner) beat(ctx context.Context) {
	if r.store == nil {
		return
	}
	state, jobID := r.currentState()
	heartbeat := &models.WorkerHeartbeat{
		WorkerID:      r.workerID,
		LastSeen:      time.Now().UTC(),
		JobsProcessed: int(r.jobsProcessed.Load()),
		CurrentJobID:  jobID,
		State:         state,
		StartedAt:     r.startedAt,
		Version:       common.GetVersion(),
	}
	if err := r.store.SaveHeartbeat(ctx, heartbeat); err != nil {
		r.logger.Warn().Err(err).Msg("Heartbeat upsert failed")
	}
}

func (r *Runner) setState(state models.WorkerState, jobID string) {
	r.mu.Lock()
	r.state = state
	r.currentJobID = jobID
	r.mu.Unlock()
}

func (r *Runner) currentState() (models.WorkerState, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.currentJobID
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
