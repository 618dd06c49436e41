package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, "./data/billing.db", cfg.DBPath)
	assert.Equal(t, "0 1 * * *", cfg.AccrualCron)
	assert.True(t, cfg.AccrualEnabled)
	assert.Equal(t, 5*time.Minute, cfg.AccrualTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ReportCacheTTL)
	assert.False(t, cfg.CacheEnabled())
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("APP_ADDR", ":9090")
	t.Setenv("DB_PATH", "/tmp/billing.db")
	t.Setenv("ACCRUAL_CRON", "30 2 * * *")
	t.Setenv("ACCRUAL_ENABLED", "false")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.AppAddr)
	assert.Equal(t, "/tmp/billing.db", cfg.DBPath)
	assert.Equal(t, "30 2 * * *", cfg.AccrualCron)
	assert.False(t, cfg.AccrualEnabled)
	assert.True(t, cfg.CacheEnabled())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoadConfig_RejectsInvalidCron(t *testing.T) {
	t.Setenv("ACCRUAL_CRON", "every day")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate_RejectsUnknownLogFormat(t *testing.T) {
	cfg := Config{DBPath: "x.db", LogFormat: "xml", AccrualCron: "0 1 * * *"}
	assert.Error(t, cfg.Validate())
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "debug", AppEnv: "production"}, &buf)

	logger.Debug("hello", "component", "test")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "test", entry["component"])
	assert.Equal(t, slog.LevelDebug.String(), entry["level"])
}

func TestNewLogger_LevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "text", LogLevel: "info"}, &buf)

	logger.Debug("hidden")
	assert.Empty(t, buf.String())
}
