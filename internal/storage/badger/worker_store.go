package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/autobolt/internal/interfaces"
	"github.com/ternarybob/autobolt/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// WorkerStore implements interfaces.WorkerStore on Badger. It holds only
// worker-local operational state; customer business data never touches disk.
type WorkerStore struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewWorkerStore creates a new WorkerStore instance
func NewWorkerStore(db *BadgerDB, logger arbor.ILogger) interfaces.WorkerStore {
	return &WorkerStore{
		db:     db,
		logger: logger,
	}
}

func (s *WorkerStore) SaveHealthRecord(ctx context.Context, record *models.HealthRecord) error {
	if record.DirectoryID == "" {
		return fmt.Errorf("health record requires a directory id")
	}
	if err := s.db.Store().Upsert(record.DirectoryID, record); err != nil {
		return fmt.Errorf("failed to save health record: %w", err)
	}
	return nil
}

// GetHealthRecord returns nil without error when no record exists yet. A
// directory with no history is a normal cold-start state, not a failure.
func (s *WorkerStore) GetHealthRecord(ctx context.Context, directoryID string) (*models.HealthRecord, error) {
	var record models.HealthRecord
	if err := s.db.Store().Get(directoryID, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get health record: %w", err)
	}
	return &record, nil
}

func (s *WorkerStore) ListHealthRecords(ctx context.Context) ([]*models.HealthRecord, error) {
	var records []models.HealthRecord
	if err := s.db.Store().Find(&records, nil); err != nil {
		return nil, fmt.Errorf("failed to list health records: %w", err)
	}
	result := make([]*models.HealthRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

// ListUnhealthyRecords returns flagged directories worst-first so probe
// capacity goes to the directories furthest from recovery.
func (s *WorkerStore) ListUnhealthyRecords(ctx context.Context) ([]*models.HealthRecord, error) {
	var records []models.HealthRecord
	query := badgerhold.Where("Unhealthy").Eq(true).SortBy("SuccessRate")
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list unhealthy records: %w", err)
	}
	result := make([]*models.HealthRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

func (s *WorkerStore) SaveHeartbeat(ctx context.Context, heartbeat *models.WorkerHeartbeat) error {
	if heartbeat.WorkerID == "" {
		return fmt.Errorf("heartbeat requires a worker id")
	}
	if err := s.db.Store().Upsert(heartbeat.WorkerID, heartbeat); err != nil {
		return fmt.Errorf("failed to save heartbeat: %w", err)
	}
	return nil
}

// GetHeartbeat returns nil without error when the worker has never written
// a heartbeat.
func (s *WorkerStore) GetHeartbeat(ctx context.Context, workerID string) (*models.WorkerHeartbeat, error) {
	var heartbeat models.WorkerHeartbeat
	if err := s.db.Store().Get(workerID, &heartbeat); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get heartbeat: %w", err)
	}
	return &heartbeat, nil
}

func (s *WorkerStore) SaveDeadLetter(ctx context.Context, batch *models.DeadLetterBatch) error {
	if batch.ID == "" {
		return fmt.Errorf("dead letter batch requires an id")
	}
	if err := s.db.Store().Upsert(batch.ID, batch); err != nil {
		return fmt.Errorf("failed to save dead letter batch: %w", err)
	}
	return nil
}

func (s *WorkerStore) ListDeadLetters(ctx context.Context, limit int) ([]*models.DeadLetterBatch, error) {
	var batches []models.DeadLetterBatch
	query := badgerhold.Where("ID").Ne("").SortBy("FailedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&batches, query); err != nil {
		return nil, fmt.Errorf("failed to list dead letter batches: %w", err)
	}
	result := make([]*models.DeadLetterBatch, len(batches))
	for i := range batches {
		result[i] = &batches[i]
	}
	return result, nil
}

func (s *WorkerStore) CountDeadLetters(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.DeadLetterBatch{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letter batches: %w", err)
	}
	return int(count), nil
}

// PruneDeadLetters keeps the newest `keep` batches and deletes the rest,
// returning how many were removed.
func (s *WorkerStore) PruneDeadLetters(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	var victims []models.DeadLetterBatch
	query := badgerhold.Where("ID").Ne("").SortBy("FailedAt").Reverse().Skip(keep)
	if err := s.db.Store().Find(&victims, query); err != nil {
		return 0, fmt.Errorf("failed to find prunable dead letter batches: %w", err)
	}

	deleted := 0
	for i := range victims {
		if err := s.db.Store().Delete(victims[i].ID, &models.DeadLetterBatch{}); err != nil {
			return deleted, fmt.Errorf("failed to delete dead letter batch %s: %w", victims[i].ID, err)
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Debug().Int("deleted", deleted).Int("keep", keep).Msg("Pruned dead letter batches")
	}
	return deleted, nil
}

func (s *WorkerStore) SaveCompletionMarker(ctx context.Context, marker *models.CompletionMarker) error {
	if marker.JobID == "" {
		return fmt.Errorf("completion marker requires a job id")
	}
	if err := s.db.Store().Upsert(marker.JobID, marker); err != nil {
		return fmt.Errorf("failed to save completion marker: %w", err)
	}
	return nil
}

func (s *WorkerStore) ListCompletionMarkers(ctx context.Context) ([]*models.CompletionMarker, error) {
	var markers []models.CompletionMarker
	query := badgerhold.Where("JobID").Ne("").SortBy("MarkedAt").Reverse()
	if err := s.db.Store().Find(&markers, query); err != nil {
		return nil, fmt.Errorf("failed to list completion markers: %w", err)
	}
	result := make([]*models.CompletionMarker, len(markers))
	for i := range markers {
		result[i] = &markers[i]
	}
	return result, nil
}

func (s *WorkerStore) SaveAttemptTiming(ctx context.Context, timing *models.AttemptTiming) error {
	if timing.ID == "" {
		return fmt.Errorf("attempt timing requires an id")
	}
	if err := s.db.Store().Upsert(timing.ID, timing); err != nil {
		return fmt.Errorf("failed to save attempt timing: %w", err)
	}
	return nil
}

// ListAttemptTimings returns timings newest-first. An empty directoryID
// matches all directories.
func (s *WorkerStore) ListAttemptTimings(ctx context.Context, directoryID string, limit int) ([]*models.AttemptTiming, error) {
	var timings []models.AttemptTiming
	var query *badgerhold.Query
	if directoryID != "" {
		query = badgerhold.Where("DirectoryID").Eq(directoryID).SortBy("StartedAt").Reverse()
	} else {
		query = badgerhold.Where("ID").Ne("").SortBy("StartedAt").Reverse()
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&timings, query); err != nil {
		return nil, fmt.Errorf("failed to list attempt timings: %w", err)
	}
	result := make([]*models.AttemptTiming, len(timings))
	for i := range timings {
		result[i] = &timings[i]
	}
	return result, nil
}

func (s *WorkerStore) SaveConfirmation(ctx context.Context, record *models.ConfirmationRecord) error {
	if record.ID == "" {
		return fmt.Errorf("confirmation record requires an id")
	}
	if err := s.db.Store().Upsert(record.ID, record); err != nil {
		return fmt.Errorf("failed to save confirmation record: %w", err)
	}
	return nil
}

// ListConfirmations returns confirmations newest-first. An empty jobID
// matches all jobs.
func (s *WorkerStore) ListConfirmations(ctx context.Context, jobID string) ([]*models.ConfirmationRecord, error) {
	var records []models.ConfirmationRecord
	var query *badgerhold.Query
	if jobID != "" {
		query = badgerhold.Where("JobID").Eq(jobID).SortBy("ReceivedAt").Reverse()
	} else {
		query = badgerhold.Where("ID").Ne("").SortBy("ReceivedAt").Reverse()
	}
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list confirmation records: %w", err)
	}
	result := make([]*models.ConfirmationRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

func (s *WorkerStore) RunValueLogGC() error {
	return s.db.RunValueLogGC()
}

func (s *WorkerStore) Close() error {
	return s.db.Close()
}
