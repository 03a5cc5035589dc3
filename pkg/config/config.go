package config

import (
	"os"
	"strings"
	"sync"
)

// Config manages service configuration
type Config struct {
	mu     sync.RWMutex
	values map[string]string

	// Define which keys require restart when changed
	restartKeys []string
}

// Environment variable names understood by LoadFromEnv
const (
	EnvPostgresUser     = "ZETTL_POSTGRES_USER"
	EnvPostgresPassword = "ZETTL_POSTGRES_PASSWORD"
	EnvPostgresHost     = "ZETTL_POSTGRES_HOST"
	EnvPostgresPort     = "ZETTL_POSTGRES_PORT"
	EnvPostgresDatabase = "ZETTL_POSTGRES_DATABASE"
	EnvAdminPort        = "ZETTL_ADMIN_PORT"
	EnvAdminTokenHash   = "ZETTL_ADMIN_TOKEN_HASH"
	EnvRefreshSchedule  = "ZETTL_REFRESH_SCHEDULE"
	EnvBackupDir        = "ZETTL_BACKUP_DIR"
)

// New creates a new configuration manager with defaults suitable for
// a local single-node deployment
func New() *Config {
	c := &Config{
		values: map[string]string{
			"database.user":     "postgres",
			"database.password": "postgres",
			"database.host":     "localhost",
			"database.port":     "5432",
			"database.name":     "zettl",
			"database.sslmode":  "disable",
			"admin.port":        "8790",
			"admin.token_hash":  "",
			"refresh.schedule":  "@every 5m",
			"backup.dir":        "",
		},
		restartKeys: []string{
			"database.host",
			"database.port",
			"database.name",
			"admin.port",
		},
	}
	return c
}

// LoadFromEnv overrides configuration values from ZETTL_* environment variables
func (c *Config) LoadFromEnv() {
	overrides := map[string]string{
		EnvPostgresUser:     "database.user",
		EnvPostgresPassword: "database.password",
		EnvPostgresHost:     "database.host",
		EnvPostgresPort:     "database.port",
		EnvPostgresDatabase: "database.name",
		EnvAdminPort:        "admin.port",
		EnvAdminTokenHash:   "admin.token_hash",
		EnvRefreshSchedule:  "refresh.schedule",
		EnvBackupDir:        "backup.dir",
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for env, key := range overrides {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			c.values[key] = v
		}
	}
}

// Get retrieves a configuration value
func (c *Config) Get(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

// GetAll returns a copy of all configuration values
func (c *Config) GetAll() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	copy := make(map[string]string)
	for k, v := range c.values {
		copy[k] = v
	}
	return copy
}

// Update updates configuration values
func (c *Config) Update(values map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range values {
		c.values[k] = v
	}
}

// RequiresRestart checks if any changed keys require a restart
func (c *Config) RequiresRestart(oldConfig map[string]string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, key := range c.restartKeys {
		if oldConfig[key] != c.values[key] {
			return true
		}
	}

	return false
}

// SetRestartKeys sets which configuration keys require restart when changed
func (c *Config) SetRestartKeys(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restartKeys = keys
}
