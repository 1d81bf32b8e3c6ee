package health

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/autobolt/internal/common"
	"github.com/ternarybob/autobolt/internal/models"
	storage "github.com/ternarybob/autobolt/internal/storage/badger"
)

func testHealthConfig() *common.HealthConfig {
	return &common.HealthConfig{
		Alpha:                0.2,
		UnhealthyBelow:       0.20,
		UnhealthyMinSamples:  20,
		RecoverAbove:         0.50,
		RecoverSamples:       10,
		ProbeTimeout:         2 * time.Second,
		CadenceCritical:      5 * time.Minute,
		CadenceHigh:          15 * time.Minute,
		CadenceMedium:        30 * time.Minute,
		CadenceLow:           60 * time.Minute,
		CadenceStretchFactor: 1.2,
		CadenceShrinkFactor:  0.9,
		CadenceBound:         0.4,
	}
}

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	monitor, err := NewMonitor(testHealthConfig(), nil, arbor.NewLogger())
	if err != nil {
		t.Fatalf("Failed to create monitor: %v", err)
	}
	return monitor
}

func observeN(m *Monitor, directoryID string, status models.SubmissionStatus, n int) {
	for i := 0; i < n; i++ {
		m.Observe(models.HealthObservation{DirectoryID: directoryID, Status: status, ResponseTimeMs: 1000})
	}
}

func TestObserveSeedsThenDecays(t *testing.T) {
	monitor := newTestMonitor(t)

	monitor.Observe(models.HealthObservation{DirectoryID: "dir-a", Status: models.StatusSubmitted, ResponseTimeMs: 1000})

	record, ok := monitor.Record("dir-a")
	if !ok {
		t.Fatal("Expected record after first observation")
	}
	if record.SuccessRate != 1.0 {
		t.Errorf("Expected seeded rate 1.0, got %v", record.SuccessRate)
	}
	if record.AverageResponseTimeMs != 1000 {
		t.Errorf("Expected seeded response time 1000, got %v", record.AverageResponseTimeMs)
	}

	monitor.Observe(models.HealthObservation{DirectoryID: "dir-a", Status: models.StatusFailed, ResponseTimeMs: 500})

	record, _ = monitor.Record("dir-a")
	if math.Abs(record.SuccessRate-0.8) > 1e-9 {
		t.Errorf("Expected rate 0.8 after failure, got %v", record.SuccessRate)
	}
	if math.Abs(record.AverageResponseTimeMs-900) > 1e-9 {
		t.Errorf("Expected response time 900, got %v", record.AverageResponseTimeMs)
	}
	if record.Observations != 2 {
		t.Errorf("Expected 2 observations, got %d", record.Observations)
	}
}

func TestSkippedObservationsCarryNoSignal(t *testing.T) {
	monitor := newTestMonitor(t)

	monitor.Observe(models.HealthObservation{DirectoryID: "dir-a", Status: models.StatusSkipped})

	if _, ok := monitor.Record("dir-a"); ok {
		t.Error("Expected no record for skipped outcome")
	}
}

func TestUnhealthyRequiresMinimumSamples(t *testing.T) {
	monitor := newTestMonitor(t)

	observeN(monitor, "dir-a", models.StatusFailed, 19)
	if monitor.IsUnhealthy("dir-a") {
		t.Error("Expected directory healthy at 19 observations")
	}

	observeN(monitor, "dir-a", models.StatusFailed, 1)
	if !monitor.IsUnhealthy("dir-a") {
		t.Error("Expected directory unhealthy at 20 observations")
	}
}

func TestRecoveryAfterSustainedSuccess(t *testing.T) {
	monitor := newTestMonitor(t)

	observeN(monitor, "dir-a", models.StatusFailed, 20)
	if !monitor.IsUnhealthy("dir-a") {
		t.Fatal("Expected directory unhealthy after 20 failures")
	}

	// From a rate near zero, the EWMA first crosses 0.50 on the 4th
	// consecutive success; ten observations at or above the threshold are
	// then required, so recovery lands on the 13th success.
	observeN(monitor, "dir-a", models.StatusSubmitted, 12)
	if !monitor.IsUnhealthy("dir-a") {
		t.Error("Expected directory still unhealthy after 12 successes")
	}

	observeN(monitor, "dir-a", models.StatusSubmitted, 1)
	if monitor.IsUnhealthy("dir-a") {
		t.Error("Expected directory recovered after 13 successes")
	}

	record, _ := monitor.Record("dir-a")
	if record.RecoveryStreak != 0 {
		t.Errorf("Expected recovery streak reset, got %d", record.RecoveryStreak)
	}
}

func TestRecoveryStreakResetsWhenRateDrops(t *testing.T) {
	monitor := newTestMonitor(t)

	observeN(monitor, "dir-a", models.StatusFailed, 20)
	observeN(monitor, "dir-a", models.StatusSubmitted, 5)

	record, _ := monitor.Record("dir-a")
	if record.RecoveryStreak == 0 {
		t.Fatal("Expected recovery streak building after 5 successes")
	}

	// Enough failures to push the rate back under the recovery threshold
	observeN(monitor, "dir-a", models.StatusFailed, 3)

	record, _ = monitor.Record("dir-a")
	if record.RecoveryStreak != 0 {
		t.Errorf("Expected streak reset after rate dropped, got %d", record.RecoveryStreak)
	}
	if !record.Unhealthy {
		t.Error("Expected directory still unhealthy")
	}
}

func TestSuccessRateUnknownDirectory(t *testing.T) {
	monitor := newTestMonitor(t)

	if _, ok := monitor.SuccessRate("never-seen"); ok {
		t.Error("Expected no rate for unobserved directory")
	}

	monitor.Observe(models.HealthObservation{DirectoryID: "dir-a", Status: models.StatusSubmitted})
	rate, ok := monitor.SuccessRate("dir-a")
	if !ok {
		t.Fatal("Expected rate after observation")
	}
	if rate != 1.0 {
		t.Errorf("Expected rate 1.0, got %v", rate)
	}
}

func TestSnapshotOrderedByDirectory(t *testing.T) {
	monitor := newTestMonitor(t)

	for _, id := range []string{"zeta", "alpha", "mid"} {
		monitor.Observe(models.HealthObservation{DirectoryID: id, Status: models.StatusSubmitted})
	}

	snapshot := monitor.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(snapshot))
	}
	if snapshot[0].DirectoryID != "alpha" || snapshot[2].DirectoryID != "zeta" {
		t.Errorf("Expected records sorted by directory id, got %s..%s", snapshot[0].DirectoryID, snapshot[2].DirectoryID)
	}
}

func TestWarmStartFromStore(t *testing.T) {
	logger := arbor.NewLogger()
	db, err := storage.NewBadgerDB(logger, &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "health")})
	if err != nil {
		t.Fatalf("Failed to open badger: %v", err)
	}
	store := storage.NewWorkerStore(db, logger)
	defer store.Close()

	ctx := context.Background()
	seed := &models.HealthRecord{
		DirectoryID:  "dir-flagged",
		SuccessRate:  0.05,
		Observations: 40,
		Unhealthy:    true,
	}
	if err := store.SaveHealthRecord(ctx, seed); err != nil {
		t.Fatalf("Failed to seed record: %v", err)
	}

	monitor, err := NewMonitor(testHealthConfig(), store, logger)
	if err != nil {
		t.Fatalf("Failed to create monitor: %v", err)
	}

	if !monitor.IsUnhealthy("dir-flagged") {
		t.Error("Expected unhealthy flag to survive restart")
	}

	// New observations persist back through the store
	monitor.Observe(models.HealthObservation{DirectoryID: "dir-flagged", Status: models.StatusSubmitted, ResponseTimeMs: 800})

	persisted, err := store.GetHealthRecord(ctx, "dir-flagged")
	if err != nil {
		t.Fatalf("Failed to read persisted record: %v", err)
	}
	if persisted == nil {
		t.Fatal("Expected persisted record")
	}
	if persisted.Observations != 41 {
		t.Errorf("Expected 41 observations persisted, got %d", persisted.Observations)
	}
}
