// Package reporter delivers per-attempt outcomes to the control plane in
// coalesced batches with at-least-once semantics. Batches that exhaust
// their delivery retries land in a bounded dead-letter list for diagnostic
// export; the job never blocks on an unreachable control plane.
package reporter

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/autobolt/internal/common"
	"github.com/ternarybob/autobolt/internal/interfaces"
	"github.com/ternarybob/autobolt/internal/models"
)

const (
	// DefaultFlushSize triggers a flush when the buffer reaches this many results
	DefaultFlushSize = 10

	// DefaultFlushInterval triggers a flush on this cadence regardless of size
	DefaultFlushInterval = 2 * time.Second

	// DefaultBufferCap bounds the per-job buffer; overflow drops the oldest
	DefaultBufferCap = 1000

	// DefaultDeadLetterCap bounds the retained undeliverable batches
	DefaultDeadLetterCap = 100
)

// Config tunes the reporter. Zero values fall back to the defaults above.
type Config struct {
	FlushSize     int
	FlushInterval time.Duration
	BufferCap     int
	DeadLetterCap int
}

func (c Config) withDefaults() Config {
	if c.FlushSize <= 0 {
		c.FlushSize = DefaultFlushSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.BufferCap <= 0 {
		c.BufferCap = DefaultBufferCap
	}
	if c.DeadLetterCap <= 0 {
		c.DeadLetterCap = DefaultDeadLetterCap
	}
	return c
}

// Reporter batches results for the job in flight. The worker runs exactly
// one job at a time, so one reporter instance serves the whole process;
// StartJob binds it to a job and FinishJob drains it.
type Reporter struct {
	api    interfaces.ControlPlane
	store  interfaces.WorkerStore
	config Config
	logger arbor.ILogger

	mu      sync.Mutex
	jobID   string
	buffer  []models.DirectoryResult
	dropped int
	kick    chan struct{}
	done    chan struct{}
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a reporter. The store is optional; without it dead-letter
// batches are only logged.
func New(api interfaces.ControlPlane, store interfaces.WorkerStore, config Config, logger arbor.ILogger) *Reporter {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Reporter{
		api:    api,
		store:  store,
		config: config.withDefaults(),
		logger: logger,
	}
}

// StartJob binds the reporter to a job and starts the flush loop. Must be
// paired with FinishJob.
func (r *Reporter) StartJob(ctx context.Context, jobID string) {
	r.mu.Lock()
	r.jobID = jobID
	r.buffer = nil
	r.dropped = 0
	r.kick = make(chan struct{}, 1)
	r.done = make(chan struct{})
	r.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	r.stop = cancel

	r.wg.Add(1)
	common.SafeGo(r.logger, "progress-flush", func() {
		defer r.wg.Done()
		r.loop(loopCtx)
	})
}

// Append queues one result for delivery. Overflow beyond the buffer cap
// drops the oldest entry; drops are counted and logged.
func (r *Reporter) Append(result models.DirectoryResult) {
	r.mu.Lock()
	if r.jobID == "" {
		r.mu.Unlock()
		r.logger.Warn().
			Str("directory", result.DirectoryID).
			Msg("Result appended with no job bound, discarding")
		return
	}
	r.buffer = append(r.buffer, result)
	if len(r.buffer) > r.config.BufferCap {
		over := len(r.buffer) - r.config.BufferCap
		r.buffer = r.buffer[over:]
		r.dropped += over
		r.logger.Warn().
			Int("dropped_total", r.dropped).
			Msg("Progress buffer overflow, dropped oldest results")
	}
	full := len(r.buffer) >= r.config.FlushSize
	kick := r.kick
	r.mu.Unlock()

	if full && kick != nil {
		select {
		case kick <- struct{}{}:
		default:
		}
	}
}

// FinishJob flushes whatever remains and unbinds the reporter. Completion
// of a job blocks here until the reporter has drained.
func (r *Reporter) FinishJob(ctx context.Context) {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		close(done)
	}
	r.wg.Wait()
	if r.stop != nil {
		r.stop()
	}

	// Final drain runs on the caller's context: the loop context is
	// already winding down but the last batch still deserves delivery.
	r.flush(ctx)

	r.mu.Lock()
	r.jobID = ""
	r.buffer = nil
	r.kick = nil
	r.done = nil
	r.mu.Unlock()
}

// Dropped returns the number of results lost to buffer overflow for the
// current job
func (r *Reporter) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// loop flushes on the interval, on size kicks, and once more on shutdown
func (r *Reporter) loop(ctx context.Context) {
	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	r.mu.Lock()
	kick := r.kick
	done := r.done
	r.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-kick:
			r.flush(ctx)
		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

// flush delivers the buffered batch. Delivery failures exhaust the client's
// retry policy before landing here; the batch then goes to the dead-letter
// list and the job continues.
func (r *Reporter) flush(ctx context.Context) {
	r.mu.Lock()
	jobID := r.jobID
	batch := r.buffer
	r.buffer = nil
	r.mu.Unlock()

	if jobID == "" || len(batch) == 0 {
		return
	}

	err := r.api.UpdateProgress(ctx, jobID, batch, models.JobStatusInProgress, "")
	if err == nil {
		r.logger.Debug().
			Str("job", jobID).
			Int("batch", len(batch)).
			Msg("Progress batch delivered")
		return
	}

	r.logger.Warn().
		Str("job", jobID).
		Int("batch", len(batch)).
		Err(err).
		Msg("Progress batch undeliverable, dead-lettering")
	r.deadLetter(ctx, jobID, batch, err)
}

// deadLetter retains an undeliverable batch, pruned to the configured cap
func (r *Reporter) deadLetter(ctx context.Context, jobID string, batch []models.DirectoryResult, cause error) {
	if r.store == nil {
		return
	}
	record := &models.DeadLetterBatch{
		ID:        common.NewRecordID(),
		JobID:     jobID,
		Results:   batch,
		FailedAt:  time.Now().UTC(),
		LastError: cause.Error(),
		Attempts:  1,
	}
	if err := r.store.SaveDeadLetter(ctx, record); err != nil {
		r.logger.Error().Err(err).Msg("Failed to persist dead-letter batch")
		return
	}
	if _, err := r.store.PruneDeadLetters(ctx, r.config.DeadLetterCap); err != nil {
		r.logger.Warn().Err(err).Msg("Dead-letter pruning failed")
	}
}
