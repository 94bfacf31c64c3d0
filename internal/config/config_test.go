package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 100, cfg.Queue.BatchSize)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 1000, cfg.Queue.OverloadThreshold)
	assert.Equal(t, 90, cfg.Cleanup.InactiveDays)
	assert.Equal(t, 24*time.Hour, cfg.Cleanup.Interval)
	assert.Equal(t, "notification-events", cfg.Events.Topic)
	assert.False(t, cfg.Telegram.Enabled)
	assert.Empty(t, cfg.Auth.APIKeys)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
log:
  level: debug
  format: text
queue:
  poll_interval: 2s
  max_concurrency: 10
telegram:
  enabled: true
  bot_token: "123:abc"
  rate_limit: 30
events:
  enabled: true
  brokers: ["kafka-1:9092", "kafka-2:9092"]
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
  api_keys:
    - name: ops
      role: admin
      hash: "$2a$10$abcdefghijklmnopqrstuv"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 2*time.Second, cfg.Queue.PollInterval)
	assert.Equal(t, 10, cfg.Queue.MaxConcurrency)
	assert.Equal(t, 100, cfg.Queue.BatchSize, "unset keys keep defaults")
	assert.True(t, cfg.Telegram.Enabled)
	assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
	assert.InDelta(t, 30, cfg.Telegram.RateLimit, 0.001)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Events.Brokers)
	require.Len(t, cfg.Auth.APIKeys, 1)
	assert.Equal(t, "ops", cfg.Auth.APIKeys[0].Name)
	assert.Equal(t, "admin", cfg.Auth.APIKeys[0].Role)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
`)
	t.Setenv("SENTINEL_SERVER__PORT", "9100")
	t.Setenv("SENTINEL_DATABASE__URL", "postgres://u:p@db:5432/x")
	t.Setenv("SENTINEL_QUEUE__STUCK_TIMEOUT", "90s")
	t.Setenv("SENTINEL_EVENTS__BROKERS", "a:9092, b:9092")
	t.Setenv("SENTINEL_CLEANUP__ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "postgres://u:p@db:5432/x", cfg.Database.URL)
	assert.Equal(t, 90*time.Second, cfg.Queue.StuckTimeout)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Events.Brokers)
	assert.False(t, cfg.Cleanup.Enabled)
}

func TestLoad_APIKeysFromEnv(t *testing.T) {
	t.Setenv("SENTINEL_AUTH__JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("SENTINEL_AUTH__API_KEYS", "ops:admin:$2a$10$xyz; dash:operator:$2a$10$abc")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Len(t, cfg.Auth.APIKeys, 2)
	assert.Equal(t, APIKeyConfig{Name: "ops", Role: "admin", Hash: "$2a$10$xyz"}, cfg.Auth.APIKeys[0])
	assert.Equal(t, APIKeyConfig{Name: "dash", Role: "operator", Hash: "$2a$10$abc"}, cfg.Auth.APIKeys[1])
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "bad log level",
			env:  map[string]string{"SENTINEL_LOG__LEVEL": "verbose"},
		},
		{
			name: "telegram enabled without token",
			env:  map[string]string{"SENTINEL_TELEGRAM__ENABLED": "true"},
		},
		{
			name: "email enabled without sender",
			env: map[string]string{
				"SENTINEL_EMAIL__ENABLED":   "true",
				"SENTINEL_EMAIL__SMTP_HOST": "smtp.example.com",
			},
		},
		{
			name: "events enabled without brokers",
			env:  map[string]string{"SENTINEL_EVENTS__ENABLED": "true"},
		},
		{
			name: "api keys without secret",
			env:  map[string]string{"SENTINEL_AUTH__API_KEYS": "ops:admin:hash"},
		},
		{
			name: "short secret",
			env: map[string]string{
				"SENTINEL_AUTH__API_KEYS":   "ops:admin:hash",
				"SENTINEL_AUTH__JWT_SECRET": "too-short",
			},
		},
		{
			name: "unknown role",
			env: map[string]string{
				"SENTINEL_AUTH__API_KEYS":   "ops:root:hash",
				"SENTINEL_AUTH__JWT_SECRET": "0123456789abcdef0123456789abcdef",
			},
		},
		{
			name: "backoff max below base",
			env: map[string]string{
				"SENTINEL_QUEUE__BACKOFF_BASE": "10s",
				"SENTINEL_QUEUE__BACKOFF_MAX":  "1s",
			},
		},
		{
			name: "cleanup interval too short",
			env:  map[string]string{"SENTINEL_CLEANUP__INTERVAL": "10s"},
		},
		{
			name: "port out of range",
			env:  map[string]string{"SENTINEL_SERVER__PORT": "70000"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEnvValue(t *testing.T) {
	key, value := envValue("SENTINEL_TELEGRAM__BOT_TOKEN", "abc")
	assert.Equal(t, "telegram.bot_token", key)
	assert.Equal(t, "abc", value)

	key, value = envValue("SENTINEL_SERVER__CORS_ORIGINS", "https://a.example,,https://b.example")
	assert.Equal(t, "server.cors_origins", key)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, value)
}
