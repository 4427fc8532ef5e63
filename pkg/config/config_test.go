package config_test

import (
	"testing"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/config"
	"github.com/stretchr/testify/assert"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
// Invariant: the oracle must boot with safe defaults in dev mode.
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GOV_ORACLE_ENV", "")
	t.Setenv("GOV_ORACLE_DATA_DIR", "")
	t.Setenv("GOV_ORACLE_REGION", "")
	t.Setenv("GOV_ORACLE_TABLE", "")
	t.Setenv("GOV_ORACLE_BUCKET", "")
	t.Setenv("GOV_ORACLE_PARAMS_PATH", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("GOV_ORACLE_REDIS_ADDR", "")
	t.Setenv("GOV_ORACLE_REDIS_DB", "")
	t.Setenv("GOV_ORACLE_POSTGRES_URL", "")

	cfg := config.Load()

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, "gov-oracle", cfg.Table)
	assert.Equal(t, "gov-oracle-baselines", cfg.Bucket)
	assert.Equal(t, "/guardian/dev", cfg.ParamsPath)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Contains(t, cfg.RedisAddr, "localhost")
	assert.Equal(t, 0, cfg.RedisDB)
	assert.Contains(t, cfg.PostgresURL, "localhost")

	assert.Equal(t, config.DefaultThresholds(), cfg.Thresholds)
	assert.Equal(t, config.DefaultCircuitBreaker(), cfg.CircuitBreaker)
	assert.Equal(t, config.DefaultByzantineFilter(), cfg.ByzantineFilter)
	assert.Equal(t, config.DefaultConsistency(), cfg.Consistency)
	assert.Equal(t, config.DefaultWeighting(), cfg.Weighting)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
// Invariant: ops can control adapter wiring via standard 12-factor env vars.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("GOV_ORACLE_ENV", "production")
	t.Setenv("GOV_ORACLE_DATA_DIR", "/var/lib/gov-oracle")
	t.Setenv("GOV_ORACLE_REGION", "eu-west-1")
	t.Setenv("GOV_ORACLE_TABLE", "gov-oracle-prod")
	t.Setenv("GOV_ORACLE_BUCKET", "gov-oracle-prod-baselines")
	t.Setenv("GOV_ORACLE_PARAMS_PATH", "/guardian/production")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("GOV_ORACLE_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("GOV_ORACLE_REDIS_DB", "2")
	t.Setenv("GOV_ORACLE_POSTGRES_URL", "postgres://oracle@prod-db:5432/oracle")

	cfg := config.Load()

	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "/var/lib/gov-oracle", cfg.DataDir)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, "gov-oracle-prod", cfg.Table)
	assert.Equal(t, "gov-oracle-prod-baselines", cfg.Bucket)
	assert.Equal(t, "/guardian/production", cfg.ParamsPath)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "redis.internal:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "postgres://oracle@prod-db:5432/oracle", cfg.PostgresURL)
}

// TestLoad_InvalidRedisDB verifies an unparseable int falls back to default
// instead of panicking — ops typos must not crash startup.
func TestLoad_InvalidRedisDB(t *testing.T) {
	t.Setenv("GOV_ORACLE_REDIS_DB", "not-a-number")

	cfg := config.Load()

	assert.Equal(t, 0, cfg.RedisDB)
}

func TestSecretParamName(t *testing.T) {
	cfg := &config.Config{ParamsPath: "/guardian/dev"}
	assert.Equal(t, "/guardian/dev/redaction_nonce_v3", cfg.SecretParamName(3))
}
