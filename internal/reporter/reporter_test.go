package reporter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/autobolt/internal/common"
	"github.com/ternarybob/autobolt/internal/interfaces"
	"github.com/ternarybob/autobolt/internal/models"
)

// fakeAPI records delivered batches and can be told to fail
type fakeAPI struct {
	mu      sync.Mutex
	batches [][]models.DirectoryResult
	fail    bool
}

func (f *fakeAPI) GetNextJob(ctx context.Context) (*models.Job, bool, error) {
	return nil, false, nil
}

func (f *fakeAPI) CompleteJob(ctx context.Context, jobID string, finalStatus models.JobStatus, summary models.JobSummary, errorMessage string) error {
	return nil
}

func (f *fakeAPI) UpdateProgress(ctx context.Context, jobID string, results []models.DirectoryResult, status models.JobStatus, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("control plane unreachable")
	}
	batch := make([]models.DirectoryResult, len(results))
	copy(batch, results)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeAPI) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeAPI) delivered() []models.DirectoryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []models.DirectoryResult
	for _, batch := range f.batches {
		all = append(all, batch...)
	}
	return all
}

func (f *fakeAPI) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

// fakeStore captures dead letters; the embedded interface panics on
// anything else, which no reporter path should reach
type fakeStore struct {
	interfaces.WorkerStore
	mu      sync.Mutex
	batches []*models.DeadLetterBatch
}

func (s *fakeStore) SaveDeadLetter(ctx context.Context, batch *models.DeadLetterBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func (s *fakeStore) PruneDeadLetters(ctx context.Context, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batches) <= keep {
		return 0, nil
	}
	removed := len(s.batches) - keep
	s.batches = s.batches[removed:]
	return removed, nil
}

func (s *fakeStore) deadLetters() []*models.DeadLetterBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.DeadLetterBatch, len(s.batches))
	copy(out, s.batches)
	return out
}

func result(id string) models.DirectoryResult {
	return models.DirectoryResult{
		DirectoryID:   id,
		DirectoryName: id,
		Status:        models.StatusSubmitted,
		Message:       "submission accepted",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}

func TestFlushOnBatchSize(t *testing.T) {
	api := &fakeAPI{}
	r := New(api, nil, Config{FlushSize: 3, FlushInterval: time.Hour}, common.GetLogger())

	r.StartJob(context.Background(), "job-1")
	for i := 0; i < 3; i++ {
		r.Append(result(fmt.Sprintf("dir-%d", i)))
	}

	require.Eventually(t, func() bool { return len(api.delivered()) == 3 }, time.Second, 10*time.Millisecond)
	r.FinishJob(context.Background())
}

func TestFlushOnInterval(t *testing.T) {
	api := &fakeAPI{}
	r := New(api, nil, Config{FlushSize: 100, FlushInterval: 30 * time.Millisecond}, common.GetLogger())

	r.StartJob(context.Background(), "job-1")
	r.Append(result("dir-0"))

	require.Eventually(t, func() bool { return len(api.delivered()) == 1 }, time.Second, 10*time.Millisecond)
	r.FinishJob(context.Background())
}

func TestFinishJobDrainsRemainder(t *testing.T) {
	api := &fakeAPI{}
	r := New(api, nil, Config{FlushSize: 100, FlushInterval: time.Hour}, common.GetLogger())

	r.StartJob(context.Background(), "job-1")
	r.Append(result("dir-0"))
	r.Append(result("dir-1"))
	r.FinishJob(context.Background())

	assert.Len(t, api.delivered(), 2)
	assert.Equal(t, 1, api.batchCount())
}

func TestUndeliverableBatchDeadLetters(t *testing.T) {
	api := &fakeAPI{}
	api.setFail(true)
	store := &fakeStore{}
	r := New(api, store, Config{FlushSize: 2, FlushInterval: time.Hour}, common.GetLogger())

	r.StartJob(context.Background(), "job-1")
	r.Append(result("dir-0"))
	r.Append(result("dir-1"))

	require.Eventually(t, func() bool { return len(store.deadLetters()) == 1 }, time.Second, 10*time.Millisecond)
	batch := store.deadLetters()[0]
	assert.Equal(t, "job-1", batch.JobID)
	assert.Len(t, batch.Results, 2)
	assert.Contains(t, batch.LastError, "unreachable")

	// The job keeps reporting once the control plane recovers
	api.setFail(false)
	r.Append(result("dir-2"))
	r.Append(result("dir-3"))
	require.Eventually(t, func() bool { return len(api.delivered()) == 2 }, time.Second, 10*time.Millisecond)

	r.FinishJob(context.Background())
}

func TestBufferOverflowDropsOldest(t *testing.T) {
	api := &fakeAPI{}
	api.setFail(true)
	r := New(api, nil, Config{FlushSize: 1000, FlushInterval: time.Hour, BufferCap: 5}, common.GetLogger())

	r.StartJob(context.Background(), "job-1")
	for i := 0; i < 8; i++ {
		r.Append(result(fmt.Sprintf("dir-%d", i)))
	}

	assert.Equal(t, 3, r.Dropped())

	// Oldest three were dropped; the surviving window is dir-3..dir-7
	api.setFail(false)
	r.FinishJob(context.Background())
	delivered := api.delivered()
	require.Len(t, delivered, 5)
	assert.Equal(t, "dir-3", delivered[0].DirectoryID)
	assert.Equal(t, "dir-7", delivered[4].DirectoryID)
}

func TestAppendWithoutJobIsDiscarded(t *testing.T) {
	api := &fakeAPI{}
	r := New(api, nil, Config{}, common.GetLogger())

	r.Append(result("dir-0"))

	r.StartJob(context.Background(), "job-1")
	r.FinishJob(context.Background())
	assert.Empty(t, api.delivered())
}

func TestReporterServesSequentialJobs(t *testing.T) {
	api := &fakeAPI{}
	r := New(api, nil, Config{FlushSize: 100, FlushInterval: time.Hour}, common.GetLogger())

	r.StartJob(context.Background(), "job-1")
	r.Append(result("dir-0"))
	r.FinishJob(context.Background())

	r.StartJob(context.Background(), "job-2")
	r.Append(result("dir-1"))
	r.FinishJob(context.Background())

	require.Equal(t, 2, api.batchCount())
}
