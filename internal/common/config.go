package common

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the worker configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Worker      WorkerConfig      `toml:"worker"`
	API         APIConfig         `toml:"api"`
	Catalog     CatalogConfig     `toml:"catalog"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Retry       RetryConfig       `toml:"retry"`
	Breaker     BreakerConfig     `toml:"breaker"`
	Health      HealthConfig      `toml:"health"`
	AI          AIConfig          `toml:"ai"`
	Escalation  EscalationConfig  `toml:"escalation"`
	Browser     BrowserConfig     `toml:"browser"`
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
	Mailbox     MailboxConfig     `toml:"mailbox"`
	Reports     ReportsConfig     `toml:"reports"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
}

// WorkerConfig controls the poll loop and the per-job attempt pipeline
type WorkerConfig struct {
	ID                    string        `toml:"id"`                      // Worker identity for heartbeats; generated when empty
	PollInterval          time.Duration `toml:"poll_interval"`           // Job poll cadence
	HeartbeatInterval     time.Duration `toml:"heartbeat_interval"`      // Heartbeat upsert cadence
	MaxConcurrentAttempts int           `toml:"max_concurrent_attempts"` // Submission worker pool size
	AttemptTimeout        time.Duration `toml:"attempt_timeout"`         // Per-attempt deadline
	DirectoryDelayMin     time.Duration `toml:"directory_delay_min"`     // Lower bound of the inter-attempt delay
	DirectoryDelayMax     time.Duration `toml:"directory_delay_max"`     // Upper bound of the inter-attempt delay
	ErrorTailSize         int           `toml:"error_tail_size"`         // Recent error messages kept per job for diagnosis
}

// APIConfig describes the control-plane HTTP API
type APIConfig struct {
	BaseURL        string        `toml:"base_url" validate:"required,url"` // Control-plane base URL (AUTOBOLT_API_BASE)
	Key            string        `toml:"key" validate:"required"`          // API key (AUTOBOLT_API_KEY)
	Timeout        time.Duration `toml:"timeout"`                          // Per-call HTTP timeout
	RateLimit      int           `toml:"rate_limit"`                       // Requests per second to the control plane
	MaxRetries     int           `toml:"max_retries"`                      // Attempts per call for transient failures
	InitialBackoff time.Duration `toml:"initial_backoff"`                  // First retry delay
	MaxBackoff     time.Duration `toml:"max_backoff"`                      // Retry delay cap
}

// CatalogConfig locates the directory catalog file
type CatalogConfig struct {
	Path string `toml:"path"` // Explicit catalog path; empty uses the default search list
}

// SchedulerConfig tunes adaptive concurrency and per-directory pacing
type SchedulerConfig struct {
	CPUThreshold          float64       `toml:"cpu_threshold"`           // Resource proxy level that scales concurrency by 0.7
	CPUHardThreshold      float64       `toml:"cpu_hard_threshold"`      // Resource proxy level that scales concurrency by 0.5
	ResourceSampleEvery   time.Duration `toml:"resource_sample_every"`   // Resource proxy recompute cadence
	DirectoryRateInterval time.Duration `toml:"directory_rate_interval"` // Minimum spacing between calls to one directory
}

// RetryConfig governs per-directory attempt retries
type RetryConfig struct {
	MaxRetries int           `toml:"max_retries"` // Retries per (job, directory) after the first failure
	BaseDelay  time.Duration `toml:"base_delay"`  // First retry delay, doubled each retry
	MaxDelay   time.Duration `toml:"max_delay"`   // Retry delay cap
}

// BreakerConfig governs all named circuit breakers
type BreakerConfig struct {
	FailureThreshold int           `toml:"failure_threshold"` // Consecutive failures before opening
	ResetTimeout     time.Duration `toml:"reset_timeout"`     // Open duration before a half-open probe
}

// HealthConfig tunes the directory health monitor
type HealthConfig struct {
	Alpha                float64       `toml:"alpha"`                  // EWMA weight for new observations
	UnhealthyBelow       float64       `toml:"unhealthy_below"`        // Success rate below which a directory is unhealthy
	UnhealthyMinSamples  int           `toml:"unhealthy_min_samples"`  // Observations required before flagging unhealthy
	RecoverAbove         float64       `toml:"recover_above"`          // Success rate required to recover
	RecoverSamples       int           `toml:"recover_samples"`        // Observations of sustained recovery required
	ProbeTimeout         time.Duration `toml:"probe_timeout"`          // Synthetic reachability probe timeout
	CadenceCritical      time.Duration `toml:"cadence_critical"`       // Probe cadence for the critical bucket
	CadenceHigh          time.Duration `toml:"cadence_high"`           // Probe cadence for the high bucket
	CadenceMedium        time.Duration `toml:"cadence_medium"`         // Probe cadence for the medium bucket
	CadenceLow           time.Duration `toml:"cadence_low"`            // Probe cadence for the low bucket
	CadenceStretchFactor float64       `toml:"cadence_stretch_factor"` // Multiplier under resource saturation
	CadenceShrinkFactor  float64       `toml:"cadence_shrink_factor"`  // Multiplier when idle
	CadenceBound         float64       `toml:"cadence_bound"`          // Max fractional drift from the default cadence
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
)

// AIConfig configures the optional advisors
type AIConfig struct {
	Enabled              bool          `toml:"enabled"`                // Master switch; disabled advisors never block submissions
	DefaultProvider      LLMProvider   `toml:"default_provider"`       // "claude" or "gemini"
	ProbabilityThreshold float64       `toml:"probability_threshold"`  // Skip submissions scored below this (AI_PROBABILITY_THRESHOLD)
	MappingConfidenceMin float64       `toml:"mapping_confidence_min"` // Advisor-mapped fields below this confidence are dropped
	AdvisorTimeout       time.Duration `toml:"advisor_timeout"`        // Budget per advisor call
	Claude               ClaudeConfig  `toml:"claude"`
	Gemini               GeminiConfig  `toml:"gemini"`
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`     // Anthropic API key (ANTHROPIC_API_KEY or config)
	Model       string  `toml:"model"`       // Model for advisor calls
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in response
	Temperature float32 `toml:"temperature"` // Completion temperature
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`     // Google Gemini API key (GEMINI_API_KEY or config)
	Model       string  `toml:"model"`       // Model for advisor calls
	Temperature float32 `toml:"temperature"` // Completion temperature
}

// EscalationConfig routes difficult directories to the alternate driver
type EscalationConfig struct {
	Threshold int           `toml:"threshold"` // Escalation score at or above which the alternate path is used
	Endpoint  string        `toml:"endpoint"`  // Alternate driver URL; empty disables escalation
	Timeout   time.Duration `toml:"timeout"`   // Alternate driver call budget
}

// BrowserConfig tunes the local chromedp driver
type BrowserConfig struct {
	MaxInstances    int           `toml:"max_instances"`     // Browser pool size
	Headless        bool          `toml:"headless"`          // Run Chrome headless
	UserAgent       string        `toml:"user_agent"`        // User agent for submissions
	NavigateTimeout time.Duration `toml:"navigate_timeout"`  // Page-load budget within an attempt
	TypeDelayMin    time.Duration `toml:"type_delay_min"`    // Humanised typing delay lower bound per field
	TypeDelayMax    time.Duration `toml:"type_delay_max"`    // Humanised typing delay upper bound per field
	SuccessIndicators []string    `toml:"success_indicators"` // Extra page markers treated as submission success
}

// StorageConfig wraps the local store engines
type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// LoggingConfig controls arbor writers and level
type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for log lines
}

// MailboxConfig configures the optional IMAP confirmation watcher
type MailboxConfig struct {
	Enabled      bool          `toml:"enabled"`
	Server       string        `toml:"server"`   // host:port, e.g. "imap.example.com:993"
	Username     string        `toml:"username"`
	Password     string        `toml:"password"`
	Folder       string        `toml:"folder"`        // Mailbox folder to watch
	PollInterval time.Duration `toml:"poll_interval"` // Inbox poll cadence
	UseTLS       bool          `toml:"use_tls"`
}

// ReportsConfig configures per-job report artifacts
type ReportsConfig struct {
	Enabled   bool   `toml:"enabled"`
	OutputDir string `toml:"output_dir"` // Directory for generated PDF/HTML reports
	KeepDays  int    `toml:"keep_days"`  // Reports older than this are pruned by maintenance
}

// MaintenanceConfig configures the cron housekeeping loop
type MaintenanceConfig struct {
	Enabled       bool   `toml:"enabled"`
	GCSchedule    string `toml:"gc_schedule"`    // Badger value-log GC cadence (cron spec)
	PruneSchedule string `toml:"prune_schedule"` // Dead-letter / report pruning cadence (cron spec)
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in autobolt.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Worker: WorkerConfig{
			ID:                    "", // Generated at startup when empty
			PollInterval:          5 * time.Second,
			HeartbeatInterval:     30 * time.Second,
			MaxConcurrentAttempts: 20,
			AttemptTimeout:        60 * time.Second,
			DirectoryDelayMin:     2 * time.Second,
			DirectoryDelayMax:     5 * time.Second,
			ErrorTailSize:         25,
		},
		API: APIConfig{
			BaseURL:        "", // Required: AUTOBOLT_API_BASE or config file
			Key:            "", // Required: AUTOBOLT_API_KEY or config file
			Timeout:        30 * time.Second,
			RateLimit:      10,
			MaxRetries:     3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
		},
		Catalog: CatalogConfig{
			Path: "", // Empty falls through the documented search list
		},
		Scheduler: SchedulerConfig{
			CPUThreshold:          0.70,
			CPUHardThreshold:      0.80,
			ResourceSampleEvery:   5 * time.Second,
			DirectoryRateInterval: 10 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  5 * time.Second,
			MaxDelay:   60 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     60 * time.Second,
		},
		Health: HealthConfig{
			Alpha:                0.2,
			UnhealthyBelow:       0.20,
			UnhealthyMinSamples:  20,
			RecoverAbove:         0.50,
			RecoverSamples:       10,
			ProbeTimeout:         10 * time.Second,
			CadenceCritical:      5 * time.Minute,
			CadenceHigh:          15 * time.Minute,
			CadenceMedium:        30 * time.Minute,
			CadenceLow:           60 * time.Minute,
			CadenceStretchFactor: 1.2,
			CadenceShrinkFactor:  0.9,
			CadenceBound:         0.4,
		},
		AI: AIConfig{
			Enabled:              true,
			DefaultProvider:      LLMProviderClaude,
			ProbabilityThreshold: 0.60,
			MappingConfidenceMin: 0.70,
			AdvisorTimeout:       5 * time.Second,
			Claude: ClaudeConfig{
				APIKey:      "", // User must provide API key (ANTHROPIC_API_KEY or config)
				Model:       "claude-haiku-3-5-20241022",
				MaxTokens:   2048,
				Temperature: 0.3,
			},
			Gemini: GeminiConfig{
				APIKey:      "", // User must provide API key (GEMINI_API_KEY or config)
				Model:       "gemini-3-flash-preview",
				Temperature: 0.3,
			},
		},
		Escalation: EscalationConfig{
			Threshold: 3,
			Endpoint:  "", // Empty disables the alternate path
			Timeout:   120 * time.Second,
		},
		Browser: BrowserConfig{
			MaxInstances:    3,
			Headless:        true,
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			NavigateTimeout: 30 * time.Second,
			TypeDelayMin:    40 * time.Millisecond,
			TypeDelayMax:    120 * time.Millisecond,
			SuccessIndicators: []string{
				"thank you",
				"submission received",
				"successfully submitted",
				"confirmation",
			},
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/autobolt",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Mailbox: MailboxConfig{
			Enabled:      false, // Opt-in; most deployments rely on directory-side verification
			Folder:       "INBOX",
			PollInterval: 2 * time.Minute,
			UseTLS:       true,
		},
		Reports: ReportsConfig{
			Enabled:   true,
			OutputDir: "./reports",
			KeepDays:  30,
		},
		Maintenance: MaintenanceConfig{
			Enabled:       true,
			GCSchedule:    "@every 10m",
			PruneSchedule: "@daily",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files; later files override
// earlier files. Priority: CLI flags > environment > last file > ... > defaults.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return config, nil
}

// envOverrides is the environment overlay. Interval variables are integer
// milliseconds, matching the worker's deployment contract.
type envOverrides struct {
	APIBase              string   `env:"AUTOBOLT_API_BASE"`
	APIKey               string   `env:"AUTOBOLT_API_KEY"`
	WorkerID             string   `env:"WORKER_ID"`
	PollIntervalMs       int      `env:"POLL_INTERVAL"`
	HeartbeatIntervalMs  int      `env:"HEARTBEAT_INTERVAL"`
	DirDelayMinMs        int      `env:"DIR_DELAY_MIN"`
	DirDelayMaxMs        int      `env:"DIR_DELAY_MAX"`
	MaxConcurrent        int      `env:"MAX_CONCURRENT_ATTEMPTS"`
	AttemptTimeoutMs     int      `env:"ATTEMPT_TIMEOUT"`
	ProbabilityThreshold *float64 `env:"AI_PROBABILITY_THRESHOLD"`
	EscalationThreshold  *int     `env:"ESCALATION_THRESHOLD"`
	DirectoryListPath    string   `env:"DIRECTORY_LIST_PATH"`
	EscalationEndpoint   string   `env:"AUTOBOLT_ESCALATION_ENDPOINT"`
	LogLevel             string   `env:"AUTOBOLT_LOG_LEVEL"`
	BadgerPath           string   `env:"AUTOBOLT_BADGER_PATH"`
	AnthropicAPIKey      string   `env:"ANTHROPIC_API_KEY"`
	GeminiAPIKey         string   `env:"GEMINI_API_KEY"`
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return err
	}

	if overrides.APIBase != "" {
		config.API.BaseURL = overrides.APIBase
	}
	if overrides.APIKey != "" {
		config.API.Key = overrides.APIKey
	}
	if overrides.WorkerID != "" {
		config.Worker.ID = overrides.WorkerID
	}
	if overrides.PollIntervalMs > 0 {
		config.Worker.PollInterval = time.Duration(overrides.PollIntervalMs) * time.Millisecond
	}
	if overrides.HeartbeatIntervalMs > 0 {
		config.Worker.HeartbeatInterval = time.Duration(overrides.HeartbeatIntervalMs) * time.Millisecond
	}
	if overrides.DirDelayMinMs > 0 {
		config.Worker.DirectoryDelayMin = time.Duration(overrides.DirDelayMinMs) * time.Millisecond
	}
	if overrides.DirDelayMaxMs > 0 {
		config.Worker.DirectoryDelayMax = time.Duration(overrides.DirDelayMaxMs) * time.Millisecond
	}
	if overrides.MaxConcurrent > 0 {
		config.Worker.MaxConcurrentAttempts = overrides.MaxConcurrent
	}
	if overrides.AttemptTimeoutMs > 0 {
		config.Worker.AttemptTimeout = time.Duration(overrides.AttemptTimeoutMs) * time.Millisecond
	}
	if overrides.ProbabilityThreshold != nil {
		config.AI.ProbabilityThreshold = *overrides.ProbabilityThreshold
	}
	if overrides.EscalationThreshold != nil {
		config.Escalation.Threshold = *overrides.EscalationThreshold
	}
	if overrides.DirectoryListPath != "" {
		config.Catalog.Path = overrides.DirectoryListPath
	}
	if overrides.EscalationEndpoint != "" {
		config.Escalation.Endpoint = overrides.EscalationEndpoint
	}
	if overrides.LogLevel != "" {
		config.Logging.Level = overrides.LogLevel
	}
	if overrides.BadgerPath != "" {
		config.Storage.Badger.Path = overrides.BadgerPath
	}
	if overrides.AnthropicAPIKey != "" {
		config.AI.Claude.APIKey = overrides.AnthropicAPIKey
	}
	if overrides.GeminiAPIKey != "" {
		config.AI.Gemini.APIKey = overrides.GeminiAPIKey
	}

	return nil
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, workerID string, catalogPath string) {
	// Command-line flags have highest priority
	if workerID != "" {
		config.Worker.ID = workerID
	}
	if catalogPath != "" {
		config.Catalog.Path = catalogPath
	}
}

// Validate checks the merged configuration. Missing API credentials and
// inconsistent tuning values are fatal startup errors.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if c.Worker.MaxConcurrentAttempts < 1 {
		return fmt.Errorf("worker.max_concurrent_attempts must be at least 1, got %d", c.Worker.MaxConcurrentAttempts)
	}
	if c.Worker.DirectoryDelayMin > c.Worker.DirectoryDelayMax {
		return fmt.Errorf("worker.directory_delay_min (%s) exceeds directory_delay_max (%s)",
			c.Worker.DirectoryDelayMin, c.Worker.DirectoryDelayMax)
	}
	if c.AI.ProbabilityThreshold < 0 || c.AI.ProbabilityThreshold > 1 {
		return fmt.Errorf("ai.probability_threshold must be in [0,1], got %v", c.AI.ProbabilityThreshold)
	}
	if c.Health.Alpha <= 0 || c.Health.Alpha > 1 {
		return fmt.Errorf("health.alpha must be in (0,1], got %v", c.Health.Alpha)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1, got %d", c.Breaker.FailureThreshold)
	}
	if c.Mailbox.Enabled && c.Mailbox.Server == "" {
		return fmt.Errorf("mailbox.server is required when the mailbox watcher is enabled")
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	switch c.Environment {
	case "production", "prod":
		return true
	}
	return false
}
