package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/autobolt/internal/catalog"
	"github.com/ternarybob/autobolt/internal/models"
)

// formatWorkerStatus renders the worker_status response as markdown
func formatWorkerStatus(workerID string, heartbeat *models.WorkerHeartbeat, deadLetters int, markers []*models.CompletionMarker, interval time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Worker %s\n\n", workerID)

	if heartbeat == nil {
		b.WriteString("No heartbeat recorded. The worker has not run against this store.\n")
	} else {
		liveness := "alive"
		if heartbeat.IsStale(interval, time.Now().UTC()) {
			liveness = "STALE"
		}
		fmt.Fprintf(&b, "- State: %s (%s)\n", heartbeat.State, liveness)
		fmt.Fprintf(&b, "- Last seen: %s\n", heartbeat.LastSeen.Format(time.RFC3339))
		fmt.Fprintf(&b, "- Started: %s\n", heartbeat.StartedAt.Format(time.RFC3339))
		fmt.Fprintf(&b, "- Jobs processed: %d\n", heartbeat.JobsProcessed)
		if heartbeat.CurrentJobID != "" {
			fmt.Fprintf(&b, "- Current job: %s\n", heartbeat.CurrentJobID)
		}
		if heartbeat.Version != "" {
			fmt.Fprintf(&b, "- Version: %s\n", heartbeat.Version)
		}
	}

	fmt.Fprintf(&b, "\nDead-letter batches parked: %d\n", deadLetters)

	if len(markers) > 0 {
		b.WriteString("\n## Lost Completions\n\n")
		b.WriteString("Jobs whose final completion call never reached the control plane:\n\n")
		for _, marker := range markers {
			fmt.Fprintf(&b, "- `%s` (%s at %s): %s\n",
				marker.JobID, marker.FinalStatus,
				marker.MarkedAt.Format(time.RFC3339), marker.LastError)
		}
	}
	return b.String()
}

// formatHealthRecords renders the directory_health response as markdown
func formatHealthRecords(records []*models.HealthRecord, cat *catalog.Catalog) string {
	if len(records) == 0 {
		return "No health records. The worker has not observed any attempts yet."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Directory Health (%d records)\n\n", len(records))
	b.WriteString("| Directory | Success rate | Avg response | Observations | Status |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, record := range records {
		name := record.DirectoryID
		if directory, ok := cat.Get(record.DirectoryID); ok {
			name = directory.Name
		}
		status := "healthy"
		if record.Unhealthy {
			status = fmt.Sprintf("unhealthy (streak %d toward recovery)", record.RecoveryStreak)
		}
		fmt.Fprintf(&b, "| %s | %.0f%% | %.0fms | %d | %s |\n",
			name, record.SuccessRate*100, record.AverageResponseTimeMs,
			record.Observations, status)
	}
	return b.String()
}

// formatDeadLetters renders the dead_letters response as markdown
func formatDeadLetters(batches []*models.DeadLetterBatch) string {
	if len(batches) == 0 {
		return "No dead-letter batches. Every progress batch was delivered."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Dead Letters (%d batches)\n\n", len(batches))
	for _, batch := range batches {
		fmt.Fprintf(&b, "## Batch %s\n\n", batch.ID)
		fmt.Fprintf(&b, "- Job: %s\n", batch.JobID)
		fmt.Fprintf(&b, "- Parked: %s after %d delivery attempts\n", batch.FailedAt.Format(time.RFC3339), batch.Attempts)
		fmt.Fprintf(&b, "- Last error: %s\n", batch.LastError)
		fmt.Fprintf(&b, "- Results carried: %d\n\n", len(batch.Results))
		for _, result := range batch.Results {
			fmt.Fprintf(&b, "  - %s: %s (%s)\n", result.DirectoryName, result.Status, result.Message)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// formatSelection renders the preview_selection response as markdown
func formatSelection(packageSize models.PackageSize, selected []catalog.ScoredDirectory, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Selection Preview — %s package\n\n", packageSize)
	fmt.Fprintf(&b, "%d directories selected (budget %d).\n\n", len(selected), packageSize.Limit())

	shown := selected
	if len(shown) > limit {
		shown = shown[:limit]
	}
	b.WriteString("| # | Directory | Score | Bucket | Tier |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for i, entry := range shown {
		fmt.Fprintf(&b, "| %d | %s | %.3f | %s | %s |\n",
			i+1, entry.Name, entry.Score, entry.Bucket, entry.Tier)
	}
	if len(selected) > limit {
		fmt.Fprintf(&b, "\n(%d more not shown)\n", len(selected)-limit)
	}
	return b.String()
}
