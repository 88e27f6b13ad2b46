package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_PATH", "test.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, "test.db", cfg.DBPath)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.False(t, cfg.SweepEnabled)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.LogFormat, "format is left to the environment")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("SWEEP_ENABLED", "true")
	t.Setenv("SWEEP_INTERVAL", "5m")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.SweepEnabled)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ok", Config{DBPath: "x.db", SweepInterval: time.Minute}, false},
		{"empty db path", Config{DBPath: " "}, true},
		{"sweep without interval", Config{DBPath: "x.db", SweepEnabled: true}, true},
		{"negative rate limit", Config{DBPath: "x.db", RateLimit: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
