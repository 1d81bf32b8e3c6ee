package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// createWorkerStatusTool returns the worker_status tool definition
func createWorkerStatusTool() mcp.Tool {
	return mcp.NewTool("worker_status",
		mcp.WithDescription("Show the worker's last heartbeat, dead-letter backlog, and any jobs whose completion call was lost"),
		mcp.WithString("worker_id",
			mcp.Description("Worker ID to inspect (default: the configured worker)"),
		),
	)
}

// createDirectoryHealthTool returns the directory_health tool definition
func createDirectoryHealthTool() mcp.Tool {
	return mcp.NewTool("directory_health",
		mcp.WithDescription("List rolling health statistics for catalog directories"),
		mcp.WithBoolean("only_unhealthy",
			mcp.Description("Show only directories currently excluded from selection"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum rows to return (default: 25, max: 200)"),
		),
	)
}

// createDeadLettersTool returns the dead_letters tool definition
func createDeadLettersTool() mcp.Tool {
	return mcp.NewTool("dead_letters",
		mcp.WithDescription("List progress batches that exhausted delivery retries and were parked locally"),
		mcp.WithNumber("limit",
			mcp.Description("Maximum batches to return (default: 10, max: 50)"),
		),
	)
}

// createPreviewSelectionTool returns the preview_selection tool definition
func createPreviewSelectionTool() mcp.Tool {
	return mcp.NewTool("preview_selection",
		mcp.WithDescription("Preview which directories a hypothetical job would select, ordered by composite priority"),
		mcp.WithString("package_size",
			mcp.Description("Plan to preview: starter, growth, professional, enterprise (default: starter)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum directories to show (default: 25)"),
		),
	)
}
