package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/autobolt/internal/common"
	"github.com/ternarybob/autobolt/internal/interfaces"
	"github.com/ternarybob/autobolt/internal/models"
)

// Monitor maintains per-directory rolling statistics and the availability
// flag. It is the only writer of health records; the scheduler and catalog
// read through the HealthView methods.
type Monitor struct {
	mu      sync.RWMutex
	records map[string]*models.HealthRecord

	config *common.HealthConfig
	store  interfaces.WorkerStore
	logger arbor.ILogger
}

// NewMonitor creates a Monitor, warm-starting from persisted records when a
// store is supplied so availability flags survive worker restarts.
func NewMonitor(config *common.HealthConfig, store interfaces.WorkerStore, logger arbor.ILogger) (*Monitor, error) {
	m := &Monitor{
		records: make(map[string]*models.HealthRecord),
		config:  config,
		store:   store,
		logger:  logger,
	}

	if store != nil {
		records, err := store.ListHealthRecords(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to load health records: %w", err)
		}
		for _, record := range records {
			m.records[record.DirectoryID] = record
		}
		if len(records) > 0 {
			logger.Info().Int("records", len(records)).Msg("Loaded directory health records")
		}
	}

	return m, nil
}

// Observe folds one completed attempt into the directory's rolling
// statistics. Skipped outcomes never reach the driver and carry no signal,
// so they are ignored.
func (m *Monitor) Observe(obs models.HealthObservation) {
	m.observe(obs, false, "")
}

// ObserveProbe folds a synthetic reachability check into the statistics and
// stamps the probe time and current priority bucket on the record.
func (m *Monitor) ObserveProbe(obs models.HealthObservation, bucket models.PriorityBucket) {
	m.observe(obs, true, bucket)
}

func (m *Monitor) observe(obs models.HealthObservation, probe bool, bucket models.PriorityBucket) {
	if obs.DirectoryID == "" || obs.Status == models.StatusSkipped {
		return
	}

	sample := 0.0
	if obs.Status == models.StatusSubmitted {
		sample = 1.0
	}
	now := time.Now().UTC()
	alpha := m.config.Alpha

	m.mu.Lock()
	record := m.records[obs.DirectoryID]
	if record == nil {
		record = &models.HealthRecord{DirectoryID: obs.DirectoryID}
		m.records[obs.DirectoryID] = record
	}

	// The first observation seeds the EWMA directly rather than decaying
	// from zero
	if record.Observations == 0 {
		record.SuccessRate = sample
		record.AverageResponseTimeMs = obs.ResponseTimeMs
	} else {
		record.SuccessRate = (1-alpha)*record.SuccessRate + alpha*sample
		if obs.ResponseTimeMs > 0 {
			record.AverageResponseTimeMs = (1-alpha)*record.AverageResponseTimeMs + alpha*obs.ResponseTimeMs
		}
	}
	record.Observations++
	record.LastCheckedAt = now
	record.UpdatedAt = now
	if probe {
		record.LastProbeAt = now
		if bucket != "" {
			record.Bucket = bucket
		}
	}

	if record.Unhealthy {
		if record.SuccessRate >= m.config.RecoverAbove {
			record.RecoveryStreak++
		} else {
			record.RecoveryStreak = 0
		}
		if record.RecoveryStreak >= m.config.RecoverSamples {
			record.Unhealthy = false
			record.RecoveryStreak = 0
			m.logger.Info().
				Str("directory_id", record.DirectoryID).
				Float64("success_rate", record.SuccessRate).
				Msg("Directory recovered")
		}
	} else if record.Observations >= m.config.UnhealthyMinSamples && record.SuccessRate < m.config.UnhealthyBelow {
		record.Unhealthy = true
		record.RecoveryStreak = 0
		m.logger.Warn().
			Str("directory_id", record.DirectoryID).
			Float64("success_rate", record.SuccessRate).
			Int("observations", record.Observations).
			Msg("Directory flagged unhealthy")
	}

	snapshot := *record
	m.mu.Unlock()

	m.persist(&snapshot)
}

func (m *Monitor) persist(record *models.HealthRecord) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveHealthRecord(context.Background(), record); err != nil {
		m.logger.Warn().Err(err).Str("directory_id", record.DirectoryID).Msg("Failed to persist health record")
	}
}

// IsUnhealthy reports whether the directory is currently excluded from
// selection.
func (m *Monitor) IsUnhealthy(directoryID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record := m.records[directoryID]
	return record != nil && record.Unhealthy
}

// SuccessRate returns the observed rolling success rate. The second return
// is false when the directory has never been observed, in which case callers
// fall back to the catalog's static rate.
func (m *Monitor) SuccessRate(directoryID string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record := m.records[directoryID]
	if record == nil || record.Observations == 0 {
		return 0, false
	}
	return record.SuccessRate, true
}

// seedProbeTime backdates a never-probed directory so first probes spread
// across the cadence window instead of firing together at startup. In-memory
// only; not worth a disk write.
func (m *Monitor) seedProbeTime(directoryID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record := m.records[directoryID]
	if record == nil {
		record = &models.HealthRecord{DirectoryID: directoryID}
		m.records[directoryID] = record
	}
	if record.LastProbeAt.IsZero() {
		record.LastProbeAt = at
	}
}

// Record returns a copy of one directory's health record
func (m *Monitor) Record(directoryID string) (models.HealthRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record := m.records[directoryID]
	if record == nil {
		return models.HealthRecord{}, false
	}
	return *record, true
}

// Snapshot returns copies of all records ordered by directory ID
func (m *Monitor) Snapshot() []models.HealthRecord {
	m.mu.RLock()
	records := make([]models.HealthRecord, 0, len(m.records))
	for _, record := range m.records {
		records = append(records, *record)
	}
	m.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].DirectoryID < records[j].DirectoryID
	})
	return records
}
