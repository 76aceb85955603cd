// Package config defines the top-level configuration for the trading
// advisor and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ADVISOR_* environment variables.
type Config struct {
	Storage    StorageConfig    `toml:"storage"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	LLM        LLMConfig        `toml:"llm"`
	Advisor    AdvisorConfig    `toml:"advisor"`
	Risk       RiskConfig       `toml:"risk"`
	Delivery   DeliveryConfig   `toml:"delivery"`
	Learning   LearningConfig   `toml:"learning"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Simulation SimulationConfig `toml:"simulation"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// StorageConfig holds file-backed record store parameters.
type StorageConfig struct {
	// DataDir is the root directory for events/, signals/, positions/,
	// memories/, tasks/, simulations/, and memos/.
	DataDir string `toml:"data_dir"`
}

// PostgresConfig holds PostgreSQL connection parameters for the market-data
// and memory indexes.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the event mirror,
// scheduler locks, and LLM rate limiting.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for cold archival
// of event-log days and completed simulation results.
type S3Config struct {
	Enabled              bool   `toml:"enabled"`
	Endpoint             string `toml:"endpoint"`
	Region               string `toml:"region"`
	Bucket               string `toml:"bucket"`
	AccessKey            string `toml:"access_key"`
	SecretKey            string `toml:"secret_key"`
	UseSSL               bool   `toml:"use_ssl"`
	ForcePathStyle       bool   `toml:"force_path_style"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
	ArchiveCron          string `toml:"archive_cron"`
}

// LLMConfig holds language-model provider parameters.
type LLMConfig struct {
	// Provider selects the default provider: "anthropic" or "openai".
	Provider          string `toml:"provider"`
	Model             string `toml:"model"`
	MaxTokens         int    `toml:"max_tokens"`
	AnthropicAPIKey   string `toml:"anthropic_api_key"`
	OpenAIAPIKey      string `toml:"openai_api_key"`
	EncryptedKeyPath  string `toml:"encrypted_key_path"`
	KeyPassword       string `toml:"key_password"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// AdvisorConfig holds the proposing-agent parameters.
type AdvisorConfig struct {
	// Watchlist is the set of tickers the advisor monitors and may
	// propose signals for.
	Watchlist []string `toml:"watchlist"`
	// Agents is the list of proposing agents to run, in order.
	Agents    []string `toml:"agents"`
	Benchmark string   `toml:"benchmark"`
	// RecentEventDays bounds the event-log lookback when assembling
	// decision context.
	RecentEventDays int `toml:"recent_event_days"`

	Momentum MomentumConfig `toml:"momentum"`
}

// MomentumConfig holds parameters for the deterministic momentum agent.
type MomentumConfig struct {
	LookbackDays int     `toml:"lookback_days"`
	MinMovePct   float64 `toml:"min_move_pct"`
}

// RiskConfig holds the risk-gate rule parameters.
type RiskConfig struct {
	MinConfidence     float64 `toml:"min_confidence"`
	MaxSinglePosition float64 `toml:"max_single_position"`
	MaxSectorExposure float64 `toml:"max_sector_exposure"`
	MaxSignalsPerDay  int     `toml:"max_signals_per_day"`
	MaxDrawdown       float64 `toml:"max_drawdown"`
	// Sectors maps tickers to sector labels for the sector exposure
	// check. Unmapped tickers fall into an "unclassified" bucket.
	Sectors map[string]string `toml:"sectors"`
}

// DeliveryConfig holds signal delivery and confirmation parameters.
type DeliveryConfig struct {
	// OutboxPath is where the CSV outbox deliverer appends delivered
	// signals. Empty disables the file deliverer.
	OutboxPath string `toml:"outbox_path"`
	// ConfirmationTimeout is the wait before the reminder fires, and
	// again before an unanswered signal flips to assumed.
	ConfirmationTimeout duration `toml:"confirmation_timeout"`
	CheckInterval       duration `toml:"check_interval"`
}

// LearningConfig holds the divergence-review and memory parameters.
type LearningConfig struct {
	ComparisonSchedule    string   `toml:"comparison_schedule"`
	MinOutcomePeriod      duration `toml:"min_outcome_period"`
	MaxMemoriesInContext  int      `toml:"max_memories_in_context"`
	MemoryRelevanceWindow duration `toml:"memory_relevance_window"`
	// TimingTolerance and PriceTolerance decide when matching positions
	// count as a timing divergence; SizeTolerancePct decides when a
	// size delta counts as human_modified instead.
	TimingTolerance  duration `toml:"timing_tolerance"`
	PriceTolerance   float64  `toml:"price_tolerance_pct"`
	SizeTolerancePct float64  `toml:"size_tolerance_pct"`
}

// SchedulerConfig holds the task scheduler parameters.
type SchedulerConfig struct {
	Enabled       bool     `toml:"enabled"`
	CheckInterval duration `toml:"check_interval"`
	// DistributedLock takes a Redis lock per task run so exactly one
	// replica executes a due task.
	DistributedLock bool     `toml:"distributed_lock"`
	LockTTL         duration `toml:"lock_ttl"`
}

// SimulationConfig holds backtest parameters for simulate mode.
type SimulationConfig struct {
	InitialCapital float64         `toml:"initial_capital"`
	SlippageBps    float64         `toml:"slippage_bps"`
	Runs           []SimulationRun `toml:"runs"`
}

// SimulationRun describes one configured backtest for simulate mode.
type SimulationRun struct {
	Name      string   `toml:"name"`
	StartDate string   `toml:"start_date"` // YYYY-MM-DD
	EndDate   string   `toml:"end_date"`
	Agents    []string `toml:"agents"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "4h", "60s", "168h").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "4h" or "60s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{
			DataDir: "data",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "advisor",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Enabled:              false,
			Endpoint:             "http://localhost:9000",
			Region:               "us-east-1",
			Bucket:               "advisor-data",
			UseSSL:               false,
			ForcePathStyle:       true,
			ArchiveRetentionDays: 90,
			ArchiveCron:          "0 3 1 * *",
		},
		LLM: LLMConfig{
			Provider:          "anthropic",
			MaxTokens:         4096,
			RequestsPerMinute: 10,
		},
		Advisor: AdvisorConfig{
			Watchlist:       []string{"NVDA", "SPY", "QQQ"},
			Agents:          []string{"momentum"},
			Benchmark:       "SPY",
			RecentEventDays: 7,
			Momentum: MomentumConfig{
				LookbackDays: 20,
				MinMovePct:   5.0,
			},
		},
		Risk: RiskConfig{
			MinConfidence:     0.60,
			MaxSinglePosition: 0.15,
			MaxSectorExposure: 0.30,
			MaxSignalsPerDay:  5,
			MaxDrawdown:       0.15,
		},
		Delivery: DeliveryConfig{
			OutboxPath:          "data/outbox.csv",
			ConfirmationTimeout: duration{4 * time.Hour},
			CheckInterval:       duration{60 * time.Second},
		},
		Learning: LearningConfig{
			ComparisonSchedule:    "0 9 * * 0",
			MinOutcomePeriod:      duration{7 * 24 * time.Hour},
			MaxMemoriesInContext:  10,
			MemoryRelevanceWindow: duration{90 * 24 * time.Hour},
			TimingTolerance:       duration{24 * time.Hour},
			PriceTolerance:        0.5,
			SizeTolerancePct:      25.0,
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			CheckInterval:   duration{60 * time.Second},
			DistributedLock: false,
			LockTTL:         duration{5 * time.Minute},
		},
		Simulation: SimulationConfig{
			InitialCapital: 100_000,
			SlippageBps:    5,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"signal.delivered", "signal.delivery_failed", "signal.rejected", "memory.created", "alert.triggered"},
		},
		Mode:     "advise",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"advise":   true,
	"monitor":  true,
	"simulate": true,
	"server":   true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: advise, monitor, simulate, server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Storage
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		errs = append(errs, "storage: data_dir must not be empty")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.ArchiveRetentionDays < 1 {
			errs = append(errs, "s3: archive_retention_days must be >= 1 when enabled")
		}
	}

	// LLM settings are only required when an LLM-backed agent is active.
	if c.llmAgentActive() {
		switch strings.ToLower(c.LLM.Provider) {
		case "anthropic", "openai":
		default:
			errs = append(errs, fmt.Sprintf("llm: unknown provider %q (valid: anthropic, openai)", c.LLM.Provider))
		}
		hasKey := c.LLM.AnthropicAPIKey != "" || c.LLM.OpenAIAPIKey != "" || c.LLM.EncryptedKeyPath != ""
		if !hasKey {
			errs = append(errs, "llm: an api key or encrypted_key_path is required when the analyst agent is active")
		}
		if c.LLM.EncryptedKeyPath != "" && c.LLM.KeyPassword == "" {
			errs = append(errs, "llm: key_password is required when encrypted_key_path is set")
		}
	}

	// Advisor
	if len(c.Advisor.Watchlist) == 0 {
		errs = append(errs, "advisor: watchlist must not be empty")
	}
	if len(c.Advisor.Agents) == 0 {
		errs = append(errs, "advisor: at least one agent must be configured")
	}

	// Risk
	if c.Risk.MinConfidence < 0 || c.Risk.MinConfidence > 1 {
		errs = append(errs, fmt.Sprintf("risk: min_confidence must be in [0,1], got %.2f", c.Risk.MinConfidence))
	}
	if c.Risk.MaxSinglePosition <= 0 || c.Risk.MaxSinglePosition > 1 {
		errs = append(errs, "risk: max_single_position must be in (0,1]")
	}
	if c.Risk.MaxSectorExposure <= 0 || c.Risk.MaxSectorExposure > 1 {
		errs = append(errs, "risk: max_sector_exposure must be in (0,1]")
	}
	if c.Risk.MaxSignalsPerDay < 1 {
		errs = append(errs, "risk: max_signals_per_day must be >= 1")
	}
	if c.Risk.MaxDrawdown <= 0 || c.Risk.MaxDrawdown > 1 {
		errs = append(errs, "risk: max_drawdown must be in (0,1]")
	}

	// Delivery
	if c.Delivery.ConfirmationTimeout.Duration <= 0 {
		errs = append(errs, "delivery: confirmation_timeout must be > 0")
	}
	if c.Delivery.CheckInterval.Duration <= 0 {
		errs = append(errs, "delivery: check_interval must be > 0")
	}

	// Learning
	if c.Learning.MinOutcomePeriod.Duration <= 0 {
		errs = append(errs, "learning: min_outcome_period must be > 0")
	}
	if c.Learning.MaxMemoriesInContext < 1 {
		errs = append(errs, "learning: max_memories_in_context must be >= 1")
	}
	if c.Learning.MemoryRelevanceWindow.Duration <= 0 {
		errs = append(errs, "learning: memory_relevance_window must be > 0")
	}

	// Scheduler
	if c.Scheduler.Enabled && c.Scheduler.CheckInterval.Duration <= 0 {
		errs = append(errs, "scheduler: check_interval must be > 0 when enabled")
	}

	// Simulation runs are only required in simulate mode.
	if strings.ToLower(c.Mode) == "simulate" {
		if len(c.Simulation.Runs) == 0 {
			errs = append(errs, "simulation: at least one run must be configured in simulate mode")
		}
		for i, run := range c.Simulation.Runs {
			if _, err := time.Parse("2006-01-02", run.StartDate); err != nil {
				errs = append(errs, fmt.Sprintf("simulation: runs[%d]: invalid start_date %q", i, run.StartDate))
			}
			if _, err := time.Parse("2006-01-02", run.EndDate); err != nil {
				errs = append(errs, fmt.Sprintf("simulation: runs[%d]: invalid end_date %q", i, run.EndDate))
			}
		}
		if c.Simulation.InitialCapital <= 0 {
			errs = append(errs, "simulation: initial_capital must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// llmAgentActive reports whether any configured agent needs a language
// model.
func (c *Config) llmAgentActive() bool {
	for _, a := range c.Advisor.Agents {
		if strings.ToLower(strings.TrimSpace(a)) == "analyst" {
			return true
		}
	}
	return false
}
