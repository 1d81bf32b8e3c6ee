package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/autobolt/internal/catalog"
	"github.com/ternarybob/autobolt/internal/common"
	"github.com/ternarybob/autobolt/internal/storage/badger"
)

// autobolt-mcp exposes the worker's local state over MCP stdio so an
// operator's assistant can inspect health, dead letters, and selection
// behaviour without touching the live worker.
func main() {
	configPath := os.Getenv("AUTOBOLT_CONFIG")
	if configPath == "" {
		configPath = "autobolt.toml"
	}

	config, err := common.LoadFromFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Console-only warn logging keeps MCP stdio clean
	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:             arbor_models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}).WithLevelFromString("warn")

	db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open worker store")
	}
	defer db.Close()
	store := badger.NewWorkerStore(db, logger)

	catalogPath, err := catalog.ResolvePath(config.Catalog.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to locate directory catalog")
	}
	cat, err := catalog.Load(catalogPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load directory catalog")
	}

	mcpServer := server.NewMCPServer(
		"autobolt",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTool(createWorkerStatusTool(), handleWorkerStatus(store, config, logger))
	mcpServer.AddTool(createDirectoryHealthTool(), handleDirectoryHealth(store, cat, logger))
	mcpServer.AddTool(createDeadLettersTool(), handleDeadLetters(store, logger))
	mcpServer.AddTool(createPreviewSelectionTool(), handlePreviewSelection(store, cat, logger))

	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Fatal().Err(err).Msg("MCP server failed")
	}
}
