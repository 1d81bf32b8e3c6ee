package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/autobolt/internal/catalog"
	"github.com/ternarybob/autobolt/internal/common"
	"github.com/ternarybob/autobolt/internal/interfaces"
	"github.com/ternarybob/autobolt/internal/models"
)

const (
	// permitPoll paces TryAcquire retries while the adaptive ceiling is full
	permitPoll = 50 * time.Millisecond

	// idlePoll paces queue re-checks while retries sleep out their backoff
	idlePoll = 100 * time.Millisecond
)

// Scheduler drains one job's scored selection through the attempt pipeline
// with a fixed worker pool under an adaptive concurrency ceiling.
type Scheduler struct {
	executor  *Executor
	resources *ResourceMonitor
	retry     *RetryPolicy
	health    interfaces.HealthSink
	progress  interfaces.ProgressSink
	store     interfaces.WorkerStore
	config    *common.WorkerConfig
	logger    arbor.ILogger
}

// NewScheduler creates a scheduler. The health sink, progress sink, and
// store are optional; a nil collaborator is skipped.
func NewScheduler(executor *Executor, resources *ResourceMonitor, retry *RetryPolicy, health interfaces.HealthSink, progress interfaces.ProgressSink, store interfaces.WorkerStore, config *common.WorkerConfig, logger arbor.ILogger) *Scheduler {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Scheduler{
		executor:  executor,
		resources: resources,
		retry:     retry,
		health:    health,
		progress:  progress,
		store:     store,
		config:    config,
		logger:    logger,
	}
}

// runState is the shared mutable state of one Run
type runState struct {
	job            *models.Job
	queue          *Queue
	progress       *models.JobProgress
	errors         *models.ErrorTail
	pendingRetries atomic.Int64
	retryWg        sync.WaitGroup
	cancel         context.CancelFunc

	mu    sync.Mutex
	fatal error
}

// countTerminal tallies a terminal outcome. Retried attempts are not
// terminal and never reach here, so submitted+failed+skipped always equals
// the number of directories with a settled fate.
func (st *runState) countTerminal(status models.SubmissionStatus) {
	st.mu.Lock()
	st.progress.Count(status)
	st.mu.Unlock()
}

func (st *runState) pushError(message string) {
	st.mu.Lock()
	st.errors.Push(message)
	st.mu.Unlock()
}

// abort records the first fatal error and cancels the run
func (st *runState) abort(err error) {
	st.mu.Lock()
	if st.fatal == nil {
		st.fatal = err
	}
	st.mu.Unlock()
	st.cancel()
}

func (st *runState) fatalErr() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.fatal
}

// Run processes the scored selection to completion and returns the job
// summary. A non-nil error means the run ended early: context cancellation
// or a fatal driver crash. The summary is valid either way and reflects the
// outcomes settled before the stop.
func (s *Scheduler) Run(ctx context.Context, job *models.Job, selection []catalog.ScoredDirectory) (models.JobSummary, error) {
	started := time.Now()

	if len(selection) == 0 {
		return models.JobSummary{ProcessingTimeSeconds: time.Since(started).Seconds()}, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	st := &runState{
		job:      job,
		queue:    NewQueue(selection),
		progress: &models.JobProgress{TotalSelected: len(selection)},
		errors:   models.NewErrorTail(s.config.ErrorTailSize),
		cancel:   cancel,
	}

	workers := s.config.MaxConcurrentAttempts
	if workers < 1 {
		workers = 1
	}
	if workers > len(selection) {
		workers = len(selection)
	}

	s.logger.Info().
		Str("job", job.ID).
		Int("selected", len(selection)).
		Int("workers", workers).
		Msg("Starting submission run")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		common.SafeGo(s.logger, "attempt-worker", func() {
			defer wg.Done()
			s.worker(runCtx, st)
		})
	}
	wg.Wait()
	st.retryWg.Wait()

	summary := st.progress.Summary(time.Since(started).Seconds())

	if err := st.fatalErr(); err != nil {
		s.logger.Error().
			Str("job", job.ID).
			Err(err).
			Msg("Submission run aborted by driver failure")
		return summary, err
	}
	if err := ctx.Err(); err != nil {
		// Settle the unstarted remainder as skipped so every selected
		// directory reports a terminal outcome
		s.drainTail(st, "worker shutdown")
		summary = st.progress.Summary(time.Since(started).Seconds())
		s.logger.Warn().
			Str("job", job.ID).
			Int("realized", st.progress.Realized()).
			Msg("Submission run cancelled")
		return summary, err
	}

	s.logger.Info().
		Str("job", job.ID).
		Int("submitted", summary.SuccessfulSubmissions).
		Int("failed", summary.FailedSubmissions).
		Int("skipped", summary.SkippedSubmissions).
		Float64("seconds", summary.ProcessingTimeSeconds).
		Msg("Submission run complete")
	return summary, nil
}

// drainTail marks every still-queued item skipped with the given reason.
// No driver call is made; the outcomes are tallied and reported normally.
func (s *Scheduler) drainTail(st *runState, reason string) {
	for {
		item, ok := st.queue.Pop()
		if !ok {
			return
		}
		outcome := skippedOutcome(reason)
		s.report(item, &AttemptResult{Outcome: outcome}, item.Attempt)
		st.countTerminal(models.StatusSkipped)
	}
}

// worker drains the queue until every item has settled. An empty queue with
// retries still sleeping their backoff is not done; the worker waits for
// them to land.
func (s *Scheduler) worker(ctx context.Context, st *runState) {
	for {
		if ctx.Err() != nil {
			return
		}
		item, ok := st.queue.Pop()
		if !ok {
			if st.pendingRetries.Load() == 0 {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(idlePoll):
			}
			continue
		}
		s.process(ctx, st, item)
	}
}

// process runs one attempt under a concurrency permit and settles its fate:
// terminal tally, retry requeue, or fatal abort.
func (s *Scheduler) process(ctx context.Context, st *runState, item *Item) {
	if !s.acquirePermit(ctx) {
		// Back into the queue so the cancellation drain settles it
		st.queue.Restore(item)
		return
	}

	ordinal := item.Attempt
	started := time.Now()

	result := s.executor.Execute(ctx, item, st.job.Business)
	if result.Abandoned {
		// Back into the queue so the cancellation drain settles it
		st.queue.Restore(item)
		s.resources.Release()
		return
	}

	outcome := result.Outcome
	s.report(item, result, ordinal)
	if result.DriverCalled {
		s.observe(item, outcome)
	}
	if outcome.Status == models.StatusFailed {
		st.pushError(item.Directory.Name + ": " + outcome.Message)
	}

	if result.FatalErr != nil {
		st.countTerminal(outcome.Status)
		st.abort(result.FatalErr)
		s.resources.Release()
		s.recordTiming(ctx, st, item.Directory.ID, ordinal, result, started, 0)
		return
	}

	retrying := false
	if outcome.Status == models.StatusFailed {
		retrying = s.maybeRetry(ctx, st, item, outcome)
	}
	if !retrying {
		st.countTerminal(outcome.Status)
	}

	// The politeness delay holds the permit so in-flight work plus delays
	// never exceed the effective ceiling
	var delayMs int64
	if result.DriverCalled {
		delayMs = s.sleepDelay(ctx)
	}
	s.resources.Release()

	s.recordTiming(ctx, st, item.Directory.ID, ordinal, result, started, delayMs)
}

// acquirePermit blocks until the adaptive monitor grants a slot or the run
// is cancelled
func (s *Scheduler) acquirePermit(ctx context.Context) bool {
	for {
		if s.resources.TryAcquire() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(permitPoll):
		}
	}
}

// maybeRetry decides whether a failed attempt gets another try. The retry
// sleeps its backoff off-worker and re-enters the queue one bucket up;
// pendingRetries keeps the pool alive while it sleeps.
func (s *Scheduler) maybeRetry(ctx context.Context, st *runState, item *Item, outcome *models.SubmissionOutcome) bool {
	// No retries start during shutdown; the attempt settles as failed
	if ctx.Err() != nil {
		return false
	}
	if !s.retry.ShouldRetry(item.Retries, outcome.Message) {
		return false
	}
	if !s.executor.AdviseRetry(ctx, item.Directory, outcome.Message) {
		return false
	}

	item.Retries++
	item.Attempt++
	delay := s.retry.Backoff(item.Retries)
	st.pendingRetries.Add(1)

	s.logger.Debug().
		Str("directory", item.Directory.ID).
		Int("retry", item.Retries).
		Str("delay", delay.String()).
		Msg("Retry scheduled")

	st.retryWg.Add(1)
	common.SafeGo(s.logger, "retry-requeue", func() {
		defer st.retryWg.Done()
		defer st.pendingRetries.Add(-1)
		select {
		case <-ctx.Done():
			// Hand the item back so the cancellation drain settles it
			st.queue.Restore(item)
			return
		case <-time.After(delay):
		}
		st.queue.Requeue(item)
	})
	return true
}

// report streams the attempt outcome to the progress sink. Every attempt is
// reported, retried ones included; consumers dedupe on the attempt ordinal.
func (s *Scheduler) report(item *Item, result *AttemptResult, ordinal int) {
	if s.progress == nil {
		return
	}
	outcome := result.Outcome
	r := models.NewDirectoryResult(item.Directory, outcome.Status, outcome.Message)
	r.AIScore = result.AIScore
	r.AICustomized = result.AICustomized
	r.ViaAlternate = result.ViaAlternate
	r.Metadata = map[string]any{"attempt": ordinal}
	s.progress.Append(r)
}

// observe feeds the health monitor. Only driver-called attempts carry a
// signal; skips say nothing about the directory.
func (s *Scheduler) observe(item *Item, outcome *models.SubmissionOutcome) {
	if s.health == nil {
		return
	}
	s.health.Observe(models.HealthObservation{
		DirectoryID:    item.Directory.ID,
		Status:         outcome.Status,
		ResponseTimeMs: float64(outcome.ResponseTime().Milliseconds()),
	})
}

// sleepDelay applies the randomised inter-attempt delay and returns the
// milliseconds actually slept
func (s *Scheduler) sleepDelay(ctx context.Context) int64 {
	lower := s.config.DirectoryDelayMin
	upper := s.config.DirectoryDelayMax
	if upper < lower {
		upper = lower
	}
	delay := lower
	if span := upper - lower; span > 0 {
		delay += time.Duration(rand.Int63n(int64(span) + 1))
	}
	if delay <= 0 {
		return 0
	}

	slept := time.Now()
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
	return time.Since(slept).Milliseconds()
}

// recordTiming persists the attempt's phase breakdown, best effort
func (s *Scheduler) recordTiming(ctx context.Context, st *runState, directoryID string, ordinal int, result *AttemptResult, started time.Time, delayMs int64) {
	if s.store == nil {
		return
	}
	outcome := result.Outcome
	timing := &models.AttemptTiming{
		ID:          common.NewRecordID(),
		JobID:       st.job.ID,
		DirectoryID: directoryID,
		Ordinal:     ordinal,
		StartedAt:   started.UTC(),
		CompletedAt: time.Now().UTC(),
		TotalMs:     time.Since(started).Milliseconds(),
		Phases: map[string]int64{
			"advisors": result.AdvisorMs,
			"submit":   result.SubmitMs,
			"delay":    delayMs,
		},
		Status:       outcome.Status,
		ViaAlternate: result.ViaAlternate,
	}
	if outcome.Status != models.StatusSubmitted {
		timing.Error = outcome.Message
	}
	if err := s.store.SaveAttemptTiming(ctx, timing); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist attempt timing")
	}
}
