package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	s3blob "github.com/tessera-trading/advisor/internal/blob/s3"
	"github.com/tessera-trading/advisor/internal/cache/redis"
	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/config"
	"github.com/tessera-trading/advisor/internal/domain"
	"github.com/tessera-trading/advisor/internal/eventlog"
	"github.com/tessera-trading/advisor/internal/llm"
	"github.com/tessera-trading/advisor/internal/notify"
	"github.com/tessera-trading/advisor/internal/store/fsstore"
	"github.com/tessera-trading/advisor/internal/store/memstore"
	"github.com/tessera-trading/advisor/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Time
	Gate clock.Gate

	// Event log (durable store + in-process bus)
	Bus *eventlog.Log

	// File-backed record stores
	Signals     domain.SignalStore
	Positions   domain.PositionStore
	Memories    domain.MemoryStore
	Memos       domain.MemoStore
	Tasks       domain.TaskStore
	Simulations domain.SimulationStore

	// Indexed stores (Postgres when available, in-memory otherwise)
	Market      domain.MarketDataStore
	MemoryIndex domain.MemoryIndex

	// Redis-backed infrastructure (nil when redis is disabled)
	Mirror      domain.EventMirror
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Cold archival (nil when s3 is disabled)
	Archiver *s3blob.ArchiveImpl
	Blobs    domain.BlobReader

	// Notifications
	Notifier *notify.Notifier

	// Language model (nil unless an LLM-backed agent is configured)
	Provider llm.Provider
}

// needsPostgres returns true for modes that read historical market data.
// Every mode does except a bare API server, which can still start
// without a database for dashboards backed only by the file stores.
func needsPostgres(mode string) bool {
	switch strings.ToLower(mode) {
	case "advise", "monitor", "simulate", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Gate: clock.NewProduction(),
	}

	// --- File-backed stores under the data directory ---
	dataDir := cfg.Storage.DataDir
	bus, err := eventlog.New(filepath.Join(dataDir, "events"), deps.Gate, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: event log: %w", err)
	}
	deps.Bus = bus
	deps.Signals = fsstore.NewSignalStore(filepath.Join(dataDir, "signals"))
	deps.Positions = fsstore.NewPositionStore(filepath.Join(dataDir, "positions"))
	deps.Memories = fsstore.NewMemoryStore(filepath.Join(dataDir, "memories"))
	deps.Memos = fsstore.NewMemoStore(filepath.Join(dataDir, "memos"))
	deps.Tasks = fsstore.NewTaskStore(filepath.Join(dataDir, "tasks"))
	deps.Simulations = fsstore.NewSimulationStore(filepath.Join(dataDir, "simulations"))

	// --- PostgreSQL (market data + memory index) ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Market = postgres.NewMarketDataStore(pool)
		deps.MemoryIndex = postgres.NewMemoryIndexStore(pool)
	} else {
		deps.Market = memstore.NewMarketDataStore()
		deps.MemoryIndex = memstore.NewMemoryIndex()
	}

	// --- Redis (event mirror, locks, rate limiting) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		streamMaxLen := int64(10000)
		if cfg.Redis.StreamMaxLen > 0 {
			streamMaxLen = int64(cfg.Redis.StreamMaxLen)
		}
		deps.Mirror = redis.NewEventMirrorWithMaxLen(redisClient, streamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	// --- S3 cold archival ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), bus.Dir(), deps.Simulations, bus)
		deps.Blobs = s3blob.NewReader(s3Client)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Language model (only when an LLM-backed agent is configured) ---
	if llmAgentConfigured(cfg.Advisor.Agents) {
		provider, err := llm.New(cfg.LLM)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: llm: %w", err)
		}
		if deps.RateLimiter != nil && cfg.LLM.RequestsPerMinute > 0 {
			provider = llm.NewRateLimited(provider, deps.RateLimiter, cfg.LLM.RequestsPerMinute)
		}
		deps.Provider = provider
	}

	return deps, cleanup, nil
}

// llmAgentConfigured reports whether any configured agent needs a model.
func llmAgentConfigured(agents []string) bool {
	for _, a := range agents {
		if strings.ToLower(strings.TrimSpace(a)) == "analyst" {
			return true
		}
	}
	return false
}
