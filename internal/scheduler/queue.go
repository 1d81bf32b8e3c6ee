package scheduler

import (
	"sync"

	"github.com/ternarybob/autobolt/internal/catalog"
	"github.com/ternarybob/autobolt/internal/models"
)

// Item is one selected directory plus its scheduling state. Exactly one
// worker owns an item at a time; the attempt ordinal and retry count are
// only touched by the owning worker.
type Item struct {
	Directory *models.Directory
	Score     float64
	Bucket    models.PriorityBucket
	Attempt   int // ordinal of the most recent attempt, dense from 1
	Retries   int // retries consumed by the backoff policy
}

var bucketOrder = []models.PriorityBucket{
	models.BucketCritical,
	models.BucketHigh,
	models.BucketMedium,
	models.BucketLow,
}

func bucketIndex(bucket models.PriorityBucket) int {
	for i, b := range bucketOrder {
		if b == bucket {
			return i
		}
	}
	return len(bucketOrder) - 1
}

// Queue partitions items into four strict-priority FIFO buckets: critical
// drains before high before medium before low. Selection order is preserved
// within a bucket, so items stay sorted by composite score then directory ID.
type Queue struct {
	mu      sync.Mutex
	buckets [4][]*Item
	size    int
}

// NewQueue builds the per-job queue from an ordered selection
func NewQueue(selection []catalog.ScoredDirectory) *Queue {
	q := &Queue{}
	for _, scored := range selection {
		item := &Item{
			Directory: scored.Directory,
			Score:     scored.Score,
			Bucket:    scored.Bucket,
			Attempt:   1,
		}
		idx := bucketIndex(scored.Bucket)
		q.buckets[idx] = append(q.buckets[idx], item)
		q.size++
	}
	return q
}

// Pop removes and returns the head of the highest-priority non-empty bucket
func (q *Queue) Pop() (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.buckets {
		if len(q.buckets[i]) == 0 {
			continue
		}
		item := q.buckets[i][0]
		q.buckets[i] = q.buckets[i][1:]
		q.size--
		return item, true
	}
	return nil, false
}

// Restore returns an abandoned item to its current bucket without a
// priority boost, so a cancellation drain can settle it
func (q *Queue) Restore(item *Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := bucketIndex(item.Bucket)
	q.buckets[idx] = append(q.buckets[idx], item)
	q.size++
}

// Requeue returns a retrying item to the queue one bucket above its current
// one, capped at critical. The boost keeps retried directories from
// starving behind the remaining first attempts.
func (q *Queue) Requeue(item *Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := bucketIndex(item.Bucket)
	if idx > 0 {
		idx--
	}
	item.Bucket = bucketOrder[idx]
	q.buckets[idx] = append(q.buckets[idx], item)
	q.size++
}

// Len returns the number of queued items
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
