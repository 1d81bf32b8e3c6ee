package browser

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/autobolt/internal/models"
)

func expiredContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	t.Cleanup(cancel)
	<-ctx.Done()
	return ctx
}

func TestClassifyNavigationTimeoutIsNetworkFailure(t *testing.T) {
	attempt := context.Background()
	nav := expiredContext(t)
	started := time.Now().UTC()

	outcome, ok := classifyNavigation(attempt, nav, started)
	if !ok {
		t.Fatal("an expired navigation budget under a live attempt should classify")
	}
	if outcome.Status != models.StatusFailed {
		t.Errorf("status = %v, want failed", outcome.Status)
	}
	if outcome.Message != "network error: navigation timeout" {
		t.Errorf("message = %q, want navigation timeout labelled as a network error", outcome.Message)
	}
}

func TestClassifyNavigationAttemptDeadlinePropagates(t *testing.T) {
	// Both contexts expired: the attempt deadline fired, so the error must
	// reach the executor's timeout handling untouched
	attempt := expiredContext(t)
	nav := expiredContext(t)

	if _, ok := classifyNavigation(attempt, nav, time.Now().UTC()); ok {
		t.Error("an expired attempt deadline must not be rewritten as a navigation failure")
	}
}

func TestClassifyNavigationCancelledAttemptPropagates(t *testing.T) {
	attempt, cancel := context.WithCancel(context.Background())
	cancel()
	nav := expiredContext(t)

	if _, ok := classifyNavigation(attempt, nav, time.Now().UTC()); ok {
		t.Error("a cancelled attempt must propagate for the shutdown path")
	}
}

func TestClassifyNavigationLiveContextsDoNotClassify(t *testing.T) {
	// A page error with both deadlines live belongs to the generic
	// classifier
	if _, ok := classifyNavigation(context.Background(), context.Background(), time.Now().UTC()); ok {
		t.Error("live contexts carry no timeout to classify")
	}
}
