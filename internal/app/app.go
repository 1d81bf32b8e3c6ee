// Package app wires the worker's components together in dependency
// order and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/autobolt/internal/breaker"
	"github.com/ternarybob/autobolt/internal/catalog"
	"github.com/ternarybob/autobolt/internal/common"
	"github.com/ternarybob/autobolt/internal/controlplane"
	"github.com/ternarybob/autobolt/internal/health"
	"github.com/ternarybob/autobolt/internal/interfaces"
	"github.com/ternarybob/autobolt/internal/reporter"
	"github.com/ternarybob/autobolt/internal/runner"
	"github.com/ternarybob/autobolt/internal/scheduler"
	"github.com/ternarybob/autobolt/internal/services/advisor"
	"github.com/ternarybob/autobolt/internal/services/browser"
	"github.com/ternarybob/autobolt/internal/services/httpdriver"
	"github.com/ternarybob/autobolt/internal/services/mailbox"
	"github.com/ternarybob/autobolt/internal/services/maintenance"
	"github.com/ternarybob/autobolt/internal/services/report"
	"github.com/ternarybob/autobolt/internal/storage/badger"
)

// App holds the worker's wired components
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	db       *badger.BadgerDB
	Store    interfaces.WorkerStore
	Catalog  *catalog.Catalog
	Breakers *breaker.Manager
	Monitor  *health.Monitor
	Prober   *health.Prober
	API      *controlplane.Client
	Runner   *runner.Runner

	resources   *scheduler.ResourceMonitor
	mailbox     *mailbox.Watcher
	maintenance *maintenance.Service
	provider    advisor.Provider
}

// New wires the worker. Components are constructed in dependency order;
// any failure aborts startup.
func New(ctx context.Context, config *common.Config, logger arbor.ILogger) (*App, error) {
	if logger == nil {
		logger = common.GetLogger()
	}
	if config.Worker.ID == "" {
		config.Worker.ID = common.NewWorkerID()
	}

	a := &App{Config: config, Logger: logger}

	// Storage
	db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to open worker store: %w", err)
	}
	a.db = db
	a.Store = badger.NewWorkerStore(db, logger)

	// Catalog
	catalogPath, err := catalog.ResolvePath(config.Catalog.Path)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Catalog, err = catalog.Load(catalogPath, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	// Circuit breakers, shared by the API client and the executor
	a.Breakers = breaker.NewManager(config.Breaker.FailureThreshold, config.Breaker.ResetTimeout, logger)

	// Control plane client
	a.API = controlplane.NewClient(config.API.BaseURL, config.API.Key,
		controlplane.WithLogger(logger),
		controlplane.WithWorkerID(config.Worker.ID),
		controlplane.WithHTTPClient(&http.Client{Timeout: config.API.Timeout}),
		controlplane.WithRateLimit(config.API.RateLimit),
		controlplane.WithBreakers(a.Breakers),
		controlplane.WithRetryPolicy(config.API.MaxRetries, config.API.InitialBackoff, config.API.MaxBackoff),
	)

	// Health monitor and probe loop
	a.Monitor, err = health.NewMonitor(&config.Health, a.Store, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	// Adaptive concurrency
	a.resources = scheduler.NewResourceMonitor(config.Worker.MaxConcurrentAttempts, &config.Scheduler, logger)
	a.Prober = health.NewProber(a.Monitor, a.Catalog, &config.Health, config.Scheduler.CPUThreshold, a.resources.Load, logger)

	// Advisors are best-effort: a missing key or a provider failure
	// downgrades to advisor-free operation instead of blocking startup
	advisors := a.initAdvisors(ctx)

	// Submission drivers. Selection filters on the union of capabilities,
	// so login and CAPTCHA directories stay in reach when escalation is
	// wired.
	driver := browser.NewDriver(&config.Browser, logger)
	capabilities := driver.Capabilities()
	var alternate interfaces.SubmissionDriver
	if config.Escalation.Endpoint != "" {
		alt := httpdriver.NewDriver(&config.Escalation, logger)
		if err := alt.Initialize(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("alternate driver rejected: %w", err)
		}
		alternate = alt
		capabilities = capabilities.Merge(alt.Capabilities())
	}

	// Executor and scheduler
	limiter := scheduler.NewDirectoryLimiter(config.Scheduler.DirectoryRateInterval)
	executor := scheduler.NewExecutor(driver, alternate, advisors, a.Breakers, limiter, scheduler.ExecutorConfig{
		AttemptTimeout:       config.Worker.AttemptTimeout,
		AdvisorTimeout:       config.AI.AdvisorTimeout,
		ProbabilityThreshold: config.AI.ProbabilityThreshold,
		EscalationThreshold:  config.Escalation.Threshold,
	}, logger)

	// Progress flows to the batching reporter and the local result log
	rep := reporter.New(a.API, a.Store, reporter.Config{}, logger)
	results := runner.NewResultLog()
	retry := scheduler.NewRetryPolicy(&config.Retry)
	sched := scheduler.NewScheduler(executor, a.resources, retry, a.Monitor,
		runner.MultiSink{rep, results}, a.Store, &config.Worker, logger)

	var renderer runner.ReportRenderer
	if config.Reports.Enabled {
		renderer = report.NewRenderer(&config.Reports, logger)
	}

	a.Runner = runner.New(config, a.API, driver, capabilities, a.Catalog, a.Monitor, sched, rep, results, a.Store, renderer, logger)

	a.mailbox = mailbox.NewWatcher(&config.Mailbox, a.Catalog, a.Store, a.Runner.CurrentJobID, logger)
	a.maintenance = maintenance.NewService(&config.Maintenance, &config.Reports, a.Store, logger)

	return a, nil
}

func (a *App) initAdvisors(ctx context.Context) scheduler.Advisors {
	if !a.Config.AI.Enabled {
		a.Logger.Info().Msg("AI advisors disabled by configuration")
		return scheduler.Advisors{}
	}
	provider, err := advisor.NewProvider(ctx, &a.Config.AI, a.Logger)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("AI advisors unavailable, continuing without them")
		return scheduler.Advisors{}
	}
	a.provider = provider

	httpClient := &http.Client{Timeout: a.Config.API.Timeout}
	return scheduler.Advisors{
		Probability: advisor.NewProbabilityOracle(provider, a.Logger),
		Description: advisor.NewDescriptionCustomizer(provider, a.Logger),
		Mapping:     advisor.NewFormMapper(provider, httpClient, a.Config.AI.MappingConfidenceMin, a.Logger),
		Retry:       advisor.NewRetryAnalyser(provider, a.Logger),
	}
}

// Run starts the background loops and blocks on the runner until ctx is
// cancelled
func (a *App) Run(ctx context.Context) error {
	common.SafeGoWithContext(ctx, a.Logger, "resourceMonitor", func() {
		a.resources.Run(ctx)
	})
	common.SafeGoWithContext(ctx, a.Logger, "healthProbes", func() {
		a.Prober.Run(ctx)
	})
	a.mailbox.Start(ctx)
	if err := a.maintenance.Start(); err != nil {
		return err
	}

	err := a.Runner.Start(ctx)

	a.maintenance.Stop()
	return err
}

// Close releases resources in reverse construction order
func (a *App) Close() error {
	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Advisor provider close failed")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			return fmt.Errorf("failed to close worker store: %w", err)
		}
	}
	return nil
}
