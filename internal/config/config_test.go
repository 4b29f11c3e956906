package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Config reads, restoring them when the test
// ends, so a developer's shell can't leak into the defaults.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "CORS_ALLOWED_ORIGINS", "RATE_LIMIT_PER_MINUTE", "SHUTDOWN_TIMEOUT",
		"DB_DRIVER", "DB_PATH", "DATABASE_URL", "DB_MAX_CONNS",
		"TX_TIMEOUT", "TX_MAX_ATTEMPTS", "RECONCILE_SCHEDULE", "CATALOG_PATH",
		"JWT_SECRET", "LOG_LEVEL", "LOG_FORMAT", "LOG_FILE",
		"LOG_MAX_SIZE_MB", "LOG_MAX_BACKUPS", "LOG_MAX_AGE_DAYS",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "data/rewards.db", cfg.DBPath)
	assert.Equal(t, 5*time.Second, cfg.TxTimeout)
	assert.Equal(t, 5, cfg.TxMaxAttempts)
	assert.Equal(t, "@every 1h", cfg.ReconcileSchedule)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/rewards")
	t.Setenv("TX_TIMEOUT", "250ms")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, 250*time.Millisecond, cfg.TxTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"PORT": "70000"}},
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}},
		{"postgres without url", map[string]string{"DB_DRIVER": "postgres"}},
		{"zero attempts", map[string]string{"TX_MAX_ATTEMPTS": "0"}},
		{"short secret", map[string]string{"JWT_SECRET": "short"}},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}},
		{"unparseable duration", map[string]string{"TX_TIMEOUT": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
