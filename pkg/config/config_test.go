package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	cfg := New()
	assert.Equal(t, "zettl", cfg.Get("database.name"))
	assert.Equal(t, "8790", cfg.Get("admin.port"))
	assert.Equal(t, "@every 5m", cfg.Get("refresh.schedule"))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(EnvPostgresHost, "db.internal")
	t.Setenv(EnvPostgresPort, "6432")
	t.Setenv(EnvRefreshSchedule, "@every 30s")

	cfg := New()
	cfg.LoadFromEnv()

	assert.Equal(t, "db.internal", cfg.Get("database.host"))
	assert.Equal(t, "6432", cfg.Get("database.port"))
	assert.Equal(t, "@every 30s", cfg.Get("refresh.schedule"))
	assert.Equal(t, "postgres", cfg.Get("database.user"), "unset variables keep their defaults")
}

func TestRequiresRestart(t *testing.T) {
	cfg := New()
	old := cfg.GetAll()

	cfg.Update(map[string]string{"refresh.schedule": "@every 1m"})
	assert.False(t, cfg.RequiresRestart(old))

	cfg.Update(map[string]string{"database.host": "elsewhere"})
	assert.True(t, cfg.RequiresRestart(old))
}
