package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/autobolt/internal/breaker"
	"github.com/ternarybob/autobolt/internal/common"
	"github.com/ternarybob/autobolt/internal/interfaces"
	"github.com/ternarybob/autobolt/internal/models"
)

// Breaker operation names. Each external operation class trips and recovers
// independently; an open advisor breaker never blocks a submission.
const (
	OpSubmit             = "submit"
	OpAdvisorProbability = "advisor-probability"
	OpAdvisorDescription = "advisor-description"
	OpAdvisorMapping     = "advisor-mapping"
	OpAdvisorRetry       = "advisor-retry"
)

// Result messages surfaced to the control plane
const (
	msgCircuitOpen    = "circuit breaker open"
	msgLowProbability = "low probability"
	msgAttemptTimeout = "attempt timeout"
)

var errAdvisorOpen = errors.New("advisor circuit breaker open")

// Advisors bundles the optional AI collaborators consulted before and after
// a submission. Any field may be nil; a nil advisor is simply not consulted.
type Advisors struct {
	Probability interfaces.ProbabilityAdvisor
	Description interfaces.DescriptionAdvisor
	Mapping     interfaces.MappingAdvisor
	Retry       interfaces.RetryAdvisor
}

// ExecutorConfig carries the per-attempt tuning knobs
type ExecutorConfig struct {
	AttemptTimeout       time.Duration // Driver call deadline
	AdvisorTimeout       time.Duration // Budget per advisor call
	ProbabilityThreshold float64       // Skip attempts scored below this
	EscalationThreshold  int           // Escalation score that routes to the alternate driver
}

// AttemptResult is everything the scheduler needs to tally, report, and
// classify one finished attempt.
type AttemptResult struct {
	Outcome      *models.SubmissionOutcome
	AIScore      *float64 // Probability advisor score, when consulted
	AICustomized bool     // Description rewritten by the advisor
	ViaAlternate bool     // Alternate driver produced the final outcome
	DriverCalled bool     // A submission driver was invoked
	Abandoned    bool     // Cancelled before a verdict; record nothing
	AdvisorMs    int64
	SubmitMs     int64
	FatalErr     error // Local driver crash; fatal for the current job
}

// Executor runs one submission attempt end to end: breaker gating, advisor
// consultation, per-directory pacing, escalation routing, and the driver
// call itself.
type Executor struct {
	driver    interfaces.SubmissionDriver
	alternate interfaces.SubmissionDriver
	advisors  Advisors
	breakers  *breaker.Manager
	limiter   *DirectoryLimiter
	config    ExecutorConfig
	logger    arbor.ILogger
}

// NewExecutor creates an attempt executor. The alternate driver and every
// advisor are optional.
func NewExecutor(driver interfaces.SubmissionDriver, alternate interfaces.SubmissionDriver, advisors Advisors, breakers *breaker.Manager, limiter *DirectoryLimiter, config ExecutorConfig, logger arbor.ILogger) *Executor {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Executor{
		driver:    driver,
		alternate: alternate,
		advisors:  advisors,
		breakers:  breakers,
		limiter:   limiter,
		config:    config,
		logger:    logger,
	}
}

// Execute performs one attempt for the given queue item. It always returns
// a result; when Abandoned is set the attempt produced no verdict and the
// caller must record nothing for it.
func (e *Executor) Execute(ctx context.Context, item *Item, profile models.BusinessProfile) *AttemptResult {
	directory := item.Directory
	result := &AttemptResult{}
	submit := e.breakers.Get(OpSubmit)

	// Cheap pre-check so an open circuit drains the queue tail without
	// spending advisor calls or rate-limit waits. Only Allow reserves the
	// half-open probe.
	if !submit.CanAttempt() {
		result.Outcome = skippedOutcome(msgCircuitOpen)
		return result
	}

	escalate := directory.EscalationScore() >= e.config.EscalationThreshold

	advisorStart := time.Now()
	if e.advisors.Probability != nil {
		if score, err := e.scoreProbability(ctx, directory, profile); err == nil {
			result.AIScore = &score
			if score < e.config.ProbabilityThreshold && !escalate {
				result.Outcome = skippedOutcome(msgLowProbability)
				result.AdvisorMs = time.Since(advisorStart).Milliseconds()
				return result
			}
		}
	}

	workingProfile := profile
	if e.advisors.Description != nil {
		if text, err := e.customizeDescription(ctx, directory, profile); err == nil && text != "" {
			workingProfile = profile.WithDescription(text)
			result.AICustomized = true
		}
	}

	mapping := directory.FormMapping
	if len(mapping) == 0 && e.advisors.Mapping != nil {
		if synthesized, err := e.mapFormFields(ctx, directory); err == nil && len(synthesized) > 0 {
			mapping = synthesized
		}
	}
	result.AdvisorMs = time.Since(advisorStart).Milliseconds()

	// Per-directory pacing
	if err := e.limiter.Wait(ctx, directory.ID); err != nil {
		result.Abandoned = true
		return result
	}

	// Shutdown gate: an attempt that has not been admitted yet is handed
	// back for the cancellation drain. Once admitted below, the driver call
	// runs to its own deadline even when the job context ends.
	if ctx.Err() != nil {
		result.Abandoned = true
		return result
	}

	// Admission immediately before the driver call; every reserved probe is
	// resolved below by a record or a cancel
	if !submit.Allow() {
		result.Outcome = skippedOutcome(msgCircuitOpen)
		return result
	}

	submitStart := time.Now()
	outcome, viaAlternate, err := e.dispatch(ctx, directory, workingProfile, mapping, escalate)
	result.SubmitMs = time.Since(submitStart).Milliseconds()
	result.DriverCalled = true

	if err != nil {
		if isCanceled(err) {
			submit.CancelProbe()
			result.Abandoned = true
			return result
		}
		submit.RecordFailure()
		result.FatalErr = err
		result.Outcome = failedOutcome("driver failure: "+err.Error(), submitStart.UTC())
		return result
	}

	result.Outcome = outcome
	result.ViaAlternate = viaAlternate
	if outcome.Status == models.StatusFailed {
		submit.RecordFailure()
	} else {
		submit.RecordSuccess()
	}
	return result
}

// dispatch routes the attempt to a driver. Escalated directories try the
// alternate driver first and fall back to the local driver within the same
// attempt; only a local driver crash is fatal.
func (e *Executor) dispatch(ctx context.Context, directory *models.Directory, profile models.BusinessProfile, mapping models.FormMapping, escalate bool) (*models.SubmissionOutcome, bool, error) {
	if escalate && e.alternate != nil {
		outcome, err := e.submit(ctx, e.alternate, directory, profile, mapping, true)
		if err == nil && outcome.Status != models.StatusFailed {
			return outcome, true, nil
		}
		if err != nil && isCanceled(err) {
			return nil, true, err
		}
		e.logger.Warn().
			Str("directory", directory.ID).
			Msg("Alternate driver failed, falling back to local driver")
	}
	outcome, err := e.submit(ctx, e.driver, directory, profile, mapping, false)
	return outcome, false, err
}

// submit invokes one driver under the attempt deadline. The driver call
// is detached from the job context: shutdown stops new admissions but an
// admitted attempt finishes or times out on its own deadline, so in-flight
// work settles with a real outcome instead of draining as skipped. The
// alternate driver gets double the budget since it fronts a remote worker
// with its own queue.
func (e *Executor) submit(ctx context.Context, driver interfaces.SubmissionDriver, directory *models.Directory, profile models.BusinessProfile, mapping models.FormMapping, viaAlternate bool) (*models.SubmissionOutcome, error) {
	timeout := e.config.AttemptTimeout
	if viaAlternate {
		timeout = 2 * timeout
	}
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	started := time.Now().UTC()
	options := models.SubmissionOptions{
		Timeout:      timeout,
		ViaAlternate: viaAlternate,
	}

	outcome, err := driver.Submit(attemptCtx, directory, profile, mapping, options)
	if err != nil {
		// The parent cannot cancel attemptCtx, so a deadline error here is
		// always the attempt timeout
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return failedOutcome(msgAttemptTimeout, started), nil
		}
		return nil, err
	}
	if outcome == nil {
		return failedOutcome("driver returned no outcome", started), nil
	}
	return outcome, nil
}

// AdviseRetry consults the failure analyser on an attempt already classified
// retryable by message. The analyser may veto the retry; absence, an open
// breaker, or an analyser error leave the classification standing.
func (e *Executor) AdviseRetry(ctx context.Context, directory *models.Directory, failureMessage string) bool {
	if e.advisors.Retry == nil {
		return true
	}
	br := e.breakers.Get(OpAdvisorRetry)
	if !br.Allow() {
		return true
	}
	advisorCtx, cancel := context.WithTimeout(ctx, e.config.AdvisorTimeout)
	defer cancel()

	advice, err := e.advisors.Retry.AnalyzeFailure(advisorCtx, directory, failureMessage)
	if err != nil {
		br.RecordFailure()
		return true
	}
	br.RecordSuccess()
	if advice == nil || advice.Retry {
		return true
	}
	e.logger.Debug().
		Str("directory", directory.ID).
		Str("reason", advice.Reason).
		Msg("Retry vetoed by failure analyser")
	return false
}

func (e *Executor) scoreProbability(ctx context.Context, directory *models.Directory, profile models.BusinessProfile) (float64, error) {
	br := e.breakers.Get(OpAdvisorProbability)
	if !br.Allow() {
		return 0, errAdvisorOpen
	}
	advisorCtx, cancel := context.WithTimeout(ctx, e.config.AdvisorTimeout)
	defer cancel()

	score, err := e.advisors.Probability.ScoreProbability(advisorCtx, directory, profile)
	if err != nil {
		br.RecordFailure()
		e.logger.Debug().Err(err).Str("directory", directory.ID).Msg("Probability advisor unavailable")
		return 0, err
	}
	br.RecordSuccess()
	return clamp01(score), nil
}

func (e *Executor) customizeDescription(ctx context.Context, directory *models.Directory, profile models.BusinessProfile) (string, error) {
	br := e.breakers.Get(OpAdvisorDescription)
	if !br.Allow() {
		return "", errAdvisorOpen
	}
	advisorCtx, cancel := context.WithTimeout(ctx, e.config.AdvisorTimeout)
	defer cancel()

	text, err := e.advisors.Description.CustomizeDescription(advisorCtx, directory, profile)
	if err != nil {
		br.RecordFailure()
		e.logger.Debug().Err(err).Str("directory", directory.ID).Msg("Description advisor unavailable")
		return "", err
	}
	br.RecordSuccess()
	return text, nil
}

func (e *Executor) mapFormFields(ctx context.Context, directory *models.Directory) (models.FormMapping, error) {
	br := e.breakers.Get(OpAdvisorMapping)
	if !br.Allow() {
		return nil, errAdvisorOpen
	}
	advisorCtx, cancel := context.WithTimeout(ctx, e.config.AdvisorTimeout)
	defer cancel()

	// The advisor fetches the form page itself when no HTML is supplied
	mapping, err := e.advisors.Mapping.MapFormFields(advisorCtx, directory, "")
	if err != nil {
		br.RecordFailure()
		e.logger.Debug().Err(err).Str("directory", directory.ID).Msg("Mapping advisor unavailable")
		return nil, err
	}
	br.RecordSuccess()
	return mapping, nil
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func skippedOutcome(message string) *models.SubmissionOutcome {
	now := time.Now().UTC()
	return &models.SubmissionOutcome{
		Status:     models.StatusSkipped,
		Message:    message,
		StartedAt:  now,
		FinishedAt: now,
	}
}

func failedOutcome(message string, started time.Time) *models.SubmissionOutcome {
	return &models.SubmissionOutcome{
		Status:     models.StatusFailed,
		Message:    message,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
