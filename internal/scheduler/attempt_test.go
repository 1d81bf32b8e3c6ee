package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/autobolt/internal/breaker"
	"github.com/ternarybob/autobolt/internal/common"
	"github.com/ternarybob/autobolt/internal/interfaces"
	"github.com/ternarybob/autobolt/internal/models"
)

// scriptedProbability returns a fixed score or error
type scriptedProbability struct {
	score float64
	err   error
}

func (a scriptedProbability) ScoreProbability(ctx context.Context, directory *models.Directory, profile models.BusinessProfile) (float64, error) {
	return a.score, a.err
}

// scriptedRetry returns fixed retry advice
type scriptedRetry struct {
	advice *interfaces.RetryAdvice
	err    error
}

func (a scriptedRetry) AnalyzeFailure(ctx context.Context, directory *models.Directory, failureMessage string) (*interfaces.RetryAdvice, error) {
	return a.advice, a.err
}

func testExecutor(t *testing.T, driver, alternate interfaces.SubmissionDriver, advisors Advisors, breakers *breaker.Manager) *Executor {
	t.Helper()
	logger := common.GetLogger()
	if breakers == nil {
		breakers = breaker.NewManager(100, time.Minute, logger)
	}
	return NewExecutor(driver, alternate, advisors, breakers, NewDirectoryLimiter(time.Millisecond), ExecutorConfig{
		AttemptTimeout:       time.Second,
		AdvisorTimeout:       time.Second,
		ProbabilityThreshold: 0.6,
		EscalationThreshold:  3,
	}, logger)
}

// plainDirectory carries a full mapping and no hard traits, so it never
// qualifies for escalation
func plainDirectory(id string) *models.Directory {
	return &models.Directory{
		ID:            id,
		Name:          id,
		SubmissionURL: "https://" + id + ".example/submit",
		FormMapping: models.FormMapping{
			"business_name": {"#name"},
			"email":         {"#email"},
			"website":       {"#site"},
		},
	}
}

// walledDirectory qualifies for escalation: login plus CAPTCHA plus an
// empty mapping clears the routing threshold
func walledDirectory(id string) *models.Directory {
	return &models.Directory{
		ID:            id,
		Name:          id,
		SubmissionURL: "https://" + id + ".example/submit",
		RequiresLogin: true,
		HasCaptcha:    true,
	}
}

func queueItem(directory *models.Directory) *Item {
	return &Item{Directory: directory, Score: 0.5, Bucket: models.BucketMedium, Attempt: 1}
}

func TestExecuteLowProbabilitySkipsWithoutDriverCall(t *testing.T) {
	driver := newFakeDriver(func(string, int) (*models.SubmissionOutcome, error) {
		return submittedNow(), nil
	})
	advisors := Advisors{Probability: scriptedProbability{score: 0.2}}
	e := testExecutor(t, driver, nil, advisors, nil)

	result := e.Execute(context.Background(), queueItem(plainDirectory("a")), models.BusinessProfile{})

	require.NotNil(t, result.Outcome)
	assert.Equal(t, models.StatusSkipped, result.Outcome.Status)
	assert.Equal(t, "low probability", result.Outcome.Message)
	assert.False(t, result.DriverCalled)
	assert.Equal(t, 0, driver.callCount("a"))
	require.NotNil(t, result.AIScore)
	assert.InDelta(t, 0.2, *result.AIScore, 0.001)
}

func TestExecuteLowScoreStillSubmitsWhenEscalationQualified(t *testing.T) {
	driver := newFakeDriver(func(string, int) (*models.SubmissionOutcome, error) {
		return submittedNow(), nil
	})
	advisors := Advisors{Probability: scriptedProbability{score: 0.2}}
	e := testExecutor(t, driver, nil, advisors, nil)

	// A directory past the escalation threshold is attempted regardless of
	// the probability score
	result := e.Execute(context.Background(), queueItem(walledDirectory("hard")), models.BusinessProfile{})

	require.NotNil(t, result.Outcome)
	assert.Equal(t, models.StatusSubmitted, result.Outcome.Status)
	assert.True(t, result.DriverCalled)
	assert.Equal(t, 1, driver.callCount("hard"))
}

func TestExecuteOpenBreakerSkipsWithoutDriverCall(t *testing.T) {
	driver := newFakeDriver(func(string, int) (*models.SubmissionOutcome, error) {
		return submittedNow(), nil
	})
	breakers := breaker.NewManager(1, time.Minute, common.GetLogger())
	breakers.Get(OpSubmit).RecordFailure()
	e := testExecutor(t, driver, nil, Advisors{}, breakers)

	result := e.Execute(context.Background(), queueItem(plainDirectory("a")), models.BusinessProfile{})

	require.NotNil(t, result.Outcome)
	assert.Equal(t, models.StatusSkipped, result.Outcome.Status)
	assert.Equal(t, "circuit breaker open", result.Outcome.Message)
	assert.False(t, result.DriverCalled)
	assert.Equal(t, 0, driver.callCount("a"))
}

func TestExecuteEscalatedDirectoryUsesAlternate(t *testing.T) {
	local := newFakeDriver(func(string, int) (*models.SubmissionOutcome, error) {
		return submittedNow(), nil
	})
	alternate := newFakeDriver(func(string, int) (*models.SubmissionOutcome, error) {
		return submittedNow(), nil
	})
	e := testExecutor(t, local, alternate, Advisors{}, nil)

	result := e.Execute(context.Background(), queueItem(walledDirectory("hard")), models.BusinessProfile{})

	require.NotNil(t, result.Outcome)
	assert.Equal(t, models.StatusSubmitted, result.Outcome.Status)
	assert.True(t, result.ViaAlternate)
	assert.Equal(t, 1, alternate.callCount("hard"))
	assert.Equal(t, 0, local.callCount("hard"))
}

func TestExecuteAlternateFailureFallsBackToLocal(t *testing.T) {
	local := newFakeDriver(func(string, int) (*models.SubmissionOutcome, error) {
		return submittedNow(), nil
	})
	alternate := newFakeDriver(func(string, int) (*models.SubmissionOutcome, error) {
		return failedNow("remote worker rejected the job"), nil
	})
	e := testExecutor(t, local, alternate, Advisors{}, nil)

	// The fallback happens inside the same attempt
	result := e.Execute(context.Background(), queueItem(walledDirectory("hard")), models.BusinessProfile{})

	require.NotNil(t, result.Outcome)
	assert.Equal(t, models.StatusSubmitted, result.Outcome.Status)
	assert.False(t, result.ViaAlternate)
	assert.Equal(t, 1, alternate.callCount("hard"))
	assert.Equal(t, 1, local.callCount("hard"))
}

func TestExecutePlainDirectoryNeverEscalates(t *testing.T) {
	local := newFakeDriver(func(string, int) (*models.SubmissionOutcome, error) {
		return submittedNow(), nil
	})
	alternate := newFakeDriver(func(string, int) (*models.SubmissionOutcome, error) {
		return submittedNow(), nil
	})
	e := testExecutor(t, local, alternate, Advisors{}, nil)

	result := e.Execute(context.Background(), queueItem(plainDirectory("easy")), models.BusinessProfile{})

	require.NotNil(t, result.Outcome)
	assert.False(t, result.ViaAlternate)
	assert.Equal(t, 0, alternate.callCount("easy"))
	assert.Equal(t, 1, local.callCount("easy"))
}

func TestExecuteProbabilityAdvisorFailureDegrades(t *testing.T) {
	driver := newFakeDriver(func(string, int) (*models.SubmissionOutcome, error) {
		return submittedNow(), nil
	})
	advisors := Advisors{Probability: scriptedProbability{err: errors.New("model overloaded")}}
	e := testExecutor(t, driver, nil, advisors, nil)

	// An unavailable advisor never blocks the submission
	result := e.Execute(context.Background(), queueItem(plainDirectory("a")), models.BusinessProfile{})

	require.NotNil(t, result.Outcome)
	assert.Equal(t, models.StatusSubmitted, result.Outcome.Status)
	assert.True(t, result.DriverCalled)
	assert.Nil(t, result.AIScore)
}

func TestExecuteOpenAdvisorBreakerDoesNotBlockSubmission(t *testing.T) {
	driver := newFakeDriver(func(string, int) (*models.SubmissionOutcome, error) {
		return submittedNow(), nil
	})
	breakers := breaker.NewManager(1, time.Minute, common.GetLogger())
	breakers.Get(OpAdvisorProbability).RecordFailure()
	advisors := Advisors{Probability: scriptedProbability{score: 0.1}}
	e := testExecutor(t, driver, nil, advisors, breakers)

	// The advisor circuit is open, so its low score never lands and the
	// attempt proceeds unscored
	result := e.Execute(context.Background(), queueItem(plainDirectory("a")), models.BusinessProfile{})

	require.NotNil(t, result.Outcome)
	assert.Equal(t, models.StatusSubmitted, result.Outcome.Status)
	assert.Nil(t, result.AIScore)
	assert.Equal(t, 1, driver.callCount("a"))
}

func TestExecuteAttemptDeadlineClassifiesAsTimeout(t *testing.T) {
	driver := &contextDriver{started: make(chan struct{}, 1), delay: time.Second}
	logger := common.GetLogger()
	e := NewExecutor(driver, nil, Advisors{}, breaker.NewManager(100, time.Minute, logger), NewDirectoryLimiter(time.Millisecond), ExecutorConfig{
		AttemptTimeout:      30 * time.Millisecond,
		AdvisorTimeout:      time.Second,
		EscalationThreshold: 3,
	}, logger)

	result := e.Execute(context.Background(), queueItem(plainDirectory("slow")), models.BusinessProfile{})

	require.NotNil(t, result.Outcome)
	assert.Equal(t, models.StatusFailed, result.Outcome.Status)
	assert.Equal(t, "attempt timeout", result.Outcome.Message)
	assert.True(t, result.DriverCalled)
	assert.Nil(t, result.FatalErr)
}

func TestExecuteAdmittedAttemptSurvivesJobCancellation(t *testing.T) {
	driver := &contextDriver{started: make(chan struct{}, 1), delay: 50 * time.Millisecond}
	e := testExecutor(t, driver, nil, Advisors{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-driver.started
		cancel()
	}()

	result := e.Execute(ctx, queueItem(plainDirectory("a")), models.BusinessProfile{})

	// The job context died mid-flight, but the admitted driver call keeps
	// its own deadline and settles
	require.False(t, result.Abandoned)
	require.NotNil(t, result.Outcome)
	assert.Equal(t, models.StatusSubmitted, result.Outcome.Status)
}

func TestAdviseRetry(t *testing.T) {
	driver := newFakeDriver(func(string, int) (*models.SubmissionOutcome, error) {
		return submittedNow(), nil
	})
	directory := plainDirectory("a")

	t.Run("absent analyser keeps the retry", func(t *testing.T) {
		e := testExecutor(t, driver, nil, Advisors{}, nil)
		assert.True(t, e.AdviseRetry(context.Background(), directory, "attempt timeout"))
	})

	t.Run("analyser veto stands", func(t *testing.T) {
		advice := &interfaces.RetryAdvice{Retry: false, Reason: "directory rejects duplicates"}
		e := testExecutor(t, driver, nil, Advisors{Retry: scriptedRetry{advice: advice}}, nil)
		assert.False(t, e.AdviseRetry(context.Background(), directory, "attempt timeout"))
	})

	t.Run("analyser error keeps the retry", func(t *testing.T) {
		e := testExecutor(t, driver, nil, Advisors{Retry: scriptedRetry{err: errors.New("model overloaded")}}, nil)
		assert.True(t, e.AdviseRetry(context.Background(), directory, "attempt timeout"))
	})

	t.Run("open analyser breaker keeps the retry", func(t *testing.T) {
		breakers := breaker.NewManager(1, time.Minute, common.GetLogger())
		breakers.Get(OpAdvisorRetry).RecordFailure()
		veto := &interfaces.RetryAdvice{Retry: false}
		e := testExecutor(t, driver, nil, Advisors{Retry: scriptedRetry{advice: veto}}, breakers)
		assert.True(t, e.AdviseRetry(context.Background(), directory, "attempt timeout"))
	})
}
