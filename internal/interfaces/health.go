package interfaces

import (
	"github.com/ternarybob/autobolt/internal/models"
)

// HealthView is the read side of the health monitor consumed by the
// catalog filter and the scheduler
type HealthView interface {
	// IsUnhealthy reports whether a directory is currently excluded
	IsUnhealthy(directoryID string) bool

	// SuccessRate returns the rolling success rate and whether the
	// directory has been observed at all
	SuccessRate(directoryID string) (float64, bool)
}

// HealthSink receives attempt outcomes from the scheduler
type HealthSink interface {
	Observe(observation models.HealthObservation)
}

// ProgressSink receives per-attempt results for batched delivery
type ProgressSink interface {
	Append(result models.DirectoryResult)
}
