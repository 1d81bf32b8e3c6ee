package runner

import (
	"sync"

	"github.com/ternarybob/autobolt/internal/interfaces"
	"github.com/ternarybob/autobolt/internal/models"
)

// ResultLog records the results of the job in flight so completion-time
// consumers (report artifacts) can see the full outcome list. Reset at
// the start of every job.
type ResultLog struct {
	mu      sync.Mutex
	results []models.DirectoryResult
}

// NewResultLog creates an empty log
func NewResultLog() *ResultLog {
	return &ResultLog{}
}

// Append records one result
func (l *ResultLog) Append(result models.DirectoryResult) {
	l.mu.Lock()
	l.results = append(l.results, result)
	l.mu.Unlock()
}

// Reset discards the previous job's results
func (l *ResultLog) Reset() {
	l.mu.Lock()
	l.results = nil
	l.mu.Unlock()
}

// Snapshot returns a copy of the recorded results
func (l *ResultLog) Snapshot() []models.DirectoryResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.DirectoryResult, len(l.results))
	copy(out, l.results)
	return out
}

// MultiSink fans one result out to several sinks in order
type MultiSink []interfaces.ProgressSink

// Append delivers the result to every sink
func (m MultiSink) Append(result models.DirectoryResult) {
	for _, sink := range m {
		if sink != nil {
			sink.Append(result)
		}
	}
}
