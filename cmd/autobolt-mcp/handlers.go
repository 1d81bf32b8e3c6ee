package main

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/autobolt/internal/catalog"
	"github.com/ternarybob/autobolt/internal/common"
	"github.com/ternarybob/autobolt/internal/interfaces"
	"github.com/ternarybob/autobolt/internal/models"
)

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(message)},
	}
}

func textResult(markdown string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(markdown)},
	}
}

// handleWorkerStatus implements the worker_status tool
func handleWorkerStatus(store interfaces.WorkerStore, config *common.Config, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		workerID := request.GetString("worker_id", config.Worker.ID)

		heartbeat, err := store.GetHeartbeat(ctx, workerID)
		if err != nil {
			logger.Error().Err(err).Msg("Heartbeat lookup failed")
			return errorResult(fmt.Sprintf("Heartbeat lookup failed: %v", err)), nil
		}

		deadLetters, err := store.CountDeadLetters(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Dead-letter count failed")
			return errorResult(fmt.Sprintf("Dead-letter count failed: %v", err)), nil
		}

		markers, err := store.ListCompletionMarkers(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Completion-marker listing failed")
			return errorResult(fmt.Sprintf("Completion-marker listing failed: %v", err)), nil
		}

		return textResult(formatWorkerStatus(workerID, heartbeat, deadLetters, markers, config.Worker.HeartbeatInterval)), nil
	}
}

// handleDirectoryHealth implements the directory_health tool
func handleDirectoryHealth(store interfaces.WorkerStore, cat *catalog.Catalog, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := request.GetInt("limit", 25)
		if limit > 200 {
			limit = 200
		}

		var (
			records []*models.HealthRecord
			err     error
		)
		if request.GetBool("only_unhealthy", false) {
			records, err = store.ListUnhealthyRecords(ctx)
		} else {
			records, err = store.ListHealthRecords(ctx)
		}
		if err != nil {
			logger.Error().Err(err).Msg("Health record listing failed")
			return errorResult(fmt.Sprintf("Health record listing failed: %v", err)), nil
		}
		if len(records) > limit {
			records = records[:limit]
		}

		return textResult(formatHealthRecords(records, cat)), nil
	}
}

// handleDeadLetters implements the dead_letters tool
func handleDeadLetters(store interfaces.WorkerStore, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := request.GetInt("limit", 10)
		if limit > 50 {
			limit = 50
		}

		batches, err := store.ListDeadLetters(ctx, limit)
		if err != nil {
			logger.Error().Err(err).Msg("Dead-letter listing failed")
			return errorResult(fmt.Sprintf("Dead-letter listing failed: %v", err)), nil
		}

		return textResult(formatDeadLetters(batches)), nil
	}
}

// storeHealthView adapts a point-in-time health snapshot to the catalog's
// read interface
type storeHealthView struct {
	records map[string]*models.HealthRecord
}

func newStoreHealthView(ctx context.Context, store interfaces.WorkerStore) (*storeHealthView, error) {
	records, err := store.ListHealthRecords(ctx)
	if err != nil {
		return nil, err
	}
	view := &storeHealthView{records: make(map[string]*models.HealthRecord, len(records))}
	for _, record := range records {
		view.records[record.DirectoryID] = record
	}
	return view, nil
}

func (v *storeHealthView) IsUnhealthy(directoryID string) bool {
	record, ok := v.records[directoryID]
	return ok && record.Unhealthy
}

func (v *storeHealthView) SuccessRate(directoryID string) (float64, bool) {
	record, ok := v.records[directoryID]
	if !ok || record.Observations == 0 {
		return 0, false
	}
	return record.SuccessRate, true
}

// handlePreviewSelection implements the preview_selection tool. The
// preview uses the local driver's capability surface, so login and
// CAPTCHA directories appear only through escalation in live runs.
func handlePreviewSelection(store interfaces.WorkerStore, cat *catalog.Catalog, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		packageSize := models.PackageSize(request.GetString("package_size", string(models.PackageStarter)))
		limit := request.GetInt("limit", 25)

		health, err := newStoreHealthView(ctx, store)
		if err != nil {
			logger.Error().Err(err).Msg("Health snapshot failed")
			return errorResult(fmt.Sprintf("Health snapshot failed: %v", err)), nil
		}

		job := &models.Job{ID: "preview", PackageSize: packageSize}
		selected := cat.SelectForJob(job, interfaces.DriverCapabilities{}, health)

		return textResult(formatSelection(packageSize, selected, limit)), nil
	}
}
