package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "monitor"
log_level = "debug"

[risk]
min_confidence = 0.7

[delivery]
confirmation_timeout = "2h"

[advisor]
watchlist = ["AMD"]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 0.7, cfg.Risk.MinConfidence)
	assert.Equal(t, 2*time.Hour, cfg.Delivery.ConfirmationTimeout.Duration)
	assert.Equal(t, []string{"AMD"}, cfg.Advisor.Watchlist)

	// Untouched sections keep their defaults.
	assert.Equal(t, 5, cfg.Risk.MaxSignalsPerDay)
	assert.Equal(t, "0 9 * * 0", cfg.Learning.ComparisonSchedule)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ADVISOR_MODE", "server")
	t.Setenv("ADVISOR_RISK_MIN_CONFIDENCE", "0.8")
	t.Setenv("ADVISOR_WATCHLIST", "NVDA, TSLA")
	t.Setenv("ADVISOR_DELIVERY_CONFIRMATION_TIMEOUT", "90m")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, 0.8, cfg.Risk.MinConfidence)
	assert.Equal(t, []string{"NVDA", "TSLA"}, cfg.Advisor.Watchlist)
	assert.Equal(t, 90*time.Minute, cfg.Delivery.ConfirmationTimeout.Duration)
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Risk.MinConfidence = 1.5
	cfg.Storage.DataDir = " "

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "min_confidence")
	assert.Contains(t, err.Error(), "data_dir")
}

func TestValidateSimulateModeNeedsRuns(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "simulate"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one run")

	cfg.Simulation.Runs = []SimulationRun{{Name: "base", StartDate: "2024-01-02", EndDate: "2024-06-28"}}
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.LLM.AnthropicAPIKey = "sk-ant-xxx"
	cfg.Notify.TelegramToken = "123:abc"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.LLM.AnthropicAPIKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Original is untouched.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}
