package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ADVISOR_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ADVISOR_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Storage ──
	setStr(&cfg.Storage.DataDir, "ADVISOR_STORAGE_DATA_DIR")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ADVISOR_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ADVISOR_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ADVISOR_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ADVISOR_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ADVISOR_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ADVISOR_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ADVISOR_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ADVISOR_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ADVISOR_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ADVISOR_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ADVISOR_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ADVISOR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ADVISOR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ADVISOR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ADVISOR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ADVISOR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ADVISOR_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "ADVISOR_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ADVISOR_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ADVISOR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ADVISOR_S3_REGION")
	setStr(&cfg.S3.Bucket, "ADVISOR_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ADVISOR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ADVISOR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ADVISOR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ADVISOR_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ArchiveRetentionDays, "ADVISOR_S3_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.S3.ArchiveCron, "ADVISOR_S3_ARCHIVE_CRON")

	// ── LLM ──
	setStr(&cfg.LLM.Provider, "ADVISOR_LLM_PROVIDER")
	setStr(&cfg.LLM.Model, "ADVISOR_LLM_MODEL")
	setInt(&cfg.LLM.MaxTokens, "ADVISOR_LLM_MAX_TOKENS")
	setStr(&cfg.LLM.AnthropicAPIKey, "ADVISOR_LLM_ANTHROPIC_API_KEY")
	setStr(&cfg.LLM.AnthropicAPIKey, "ANTHROPIC_API_KEY") // compatibility alias
	setStr(&cfg.LLM.OpenAIAPIKey, "ADVISOR_LLM_OPENAI_API_KEY")
	setStr(&cfg.LLM.OpenAIAPIKey, "OPENAI_API_KEY") // compatibility alias
	setStr(&cfg.LLM.EncryptedKeyPath, "ADVISOR_LLM_ENCRYPTED_KEY_PATH")
	setStr(&cfg.LLM.KeyPassword, "ADVISOR_LLM_KEY_PASSWORD")
	setInt(&cfg.LLM.RequestsPerMinute, "ADVISOR_LLM_REQUESTS_PER_MINUTE")

	// ── Advisor ──
	setStringSlice(&cfg.Advisor.Watchlist, "ADVISOR_WATCHLIST")
	setStringSlice(&cfg.Advisor.Agents, "ADVISOR_AGENTS")
	setStr(&cfg.Advisor.Benchmark, "ADVISOR_BENCHMARK")
	setInt(&cfg.Advisor.RecentEventDays, "ADVISOR_RECENT_EVENT_DAYS")

	// ── Risk ──
	setFloat64(&cfg.Risk.MinConfidence, "ADVISOR_RISK_MIN_CONFIDENCE")
	setFloat64(&cfg.Risk.MaxSinglePosition, "ADVISOR_RISK_MAX_SINGLE_POSITION")
	setFloat64(&cfg.Risk.MaxSectorExposure, "ADVISOR_RISK_MAX_SECTOR_EXPOSURE")
	setInt(&cfg.Risk.MaxSignalsPerDay, "ADVISOR_RISK_MAX_SIGNALS_PER_DAY")
	setFloat64(&cfg.Risk.MaxDrawdown, "ADVISOR_RISK_MAX_DRAWDOWN")

	// ── Delivery ──
	setStr(&cfg.Delivery.OutboxPath, "ADVISOR_DELIVERY_OUTBOX_PATH")
	setDuration(&cfg.Delivery.ConfirmationTimeout, "ADVISOR_DELIVERY_CONFIRMATION_TIMEOUT")
	setDuration(&cfg.Delivery.CheckInterval, "ADVISOR_DELIVERY_CHECK_INTERVAL")

	// ── Learning ──
	setStr(&cfg.Learning.ComparisonSchedule, "ADVISOR_LEARNING_COMPARISON_SCHEDULE")
	setDuration(&cfg.Learning.MinOutcomePeriod, "ADVISOR_LEARNING_MIN_OUTCOME_PERIOD")
	setInt(&cfg.Learning.MaxMemoriesInContext, "ADVISOR_LEARNING_MAX_MEMORIES_IN_CONTEXT")
	setDuration(&cfg.Learning.MemoryRelevanceWindow, "ADVISOR_LEARNING_MEMORY_RELEVANCE_WINDOW")
	setDuration(&cfg.Learning.TimingTolerance, "ADVISOR_LEARNING_TIMING_TOLERANCE")
	setFloat64(&cfg.Learning.PriceTolerance, "ADVISOR_LEARNING_PRICE_TOLERANCE_PCT")
	setFloat64(&cfg.Learning.SizeTolerancePct, "ADVISOR_LEARNING_SIZE_TOLERANCE_PCT")

	// ── Scheduler ──
	setBool(&cfg.Scheduler.Enabled, "ADVISOR_SCHEDULER_ENABLED")
	setDuration(&cfg.Scheduler.CheckInterval, "ADVISOR_SCHEDULER_CHECK_INTERVAL")
	setBool(&cfg.Scheduler.DistributedLock, "ADVISOR_SCHEDULER_DISTRIBUTED_LOCK")
	setDuration(&cfg.Scheduler.LockTTL, "ADVISOR_SCHEDULER_LOCK_TTL")

	// ── Simulation ──
	setFloat64(&cfg.Simulation.InitialCapital, "ADVISOR_SIMULATION_INITIAL_CAPITAL")
	setFloat64(&cfg.Simulation.SlippageBps, "ADVISOR_SIMULATION_SLIPPAGE_BPS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ADVISOR_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ADVISOR_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ADVISOR_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ADVISOR_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ADVISOR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ADVISOR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ADVISOR_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ADVISOR_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ADVISOR_MODE")
	setStr(&cfg.LogLevel, "ADVISOR_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
