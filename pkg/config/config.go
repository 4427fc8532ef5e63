// Package config holds the governance oracle's environment-derived
// configuration plus the enumerated tunable structs the engine consumes:
// thresholds, circuit breaker, and Byzantine filter settings are loaded
// data, never literals buried in engine code.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds adapter and engine configuration, loaded once at process start.
type Config struct {
	Env        string // "dev", "staging", "production" — used in secret paths
	DataDir    string // local-adapter data directory
	Region     string // cloud adapter region
	Table      string // managed key-value table name (Redis key prefix)
	Bucket     string // object-store bucket name (baselines)
	ParamsPath string // parameter-store path prefix, e.g. "/guardian/dev"
	LogLevel   string

	RedisAddr string
	RedisDB   int

	PostgresURL string

	Thresholds      ThresholdConfig
	CircuitBreaker  CircuitBreakerConfig
	ByzantineFilter ByzantineFilterConfig
	Consistency     ConsistencyConfig
	Weighting       WeightingConfig
}

// ThresholdConfig maps evaluation mode to severity-ladder behavior.
type ThresholdConfig struct {
	StrictMergeGroup       bool // merge_group mode defaults to strict unless a rule overrides it
	CriticalBlocksInStrict bool // critical severity -> BLOCK in strict mode, else WARN
}

// DefaultThresholds returns the severity ladder described in spec §4.1 step 4.
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		StrictMergeGroup:       true,
		CriticalBlocksInStrict: true,
	}
}

// CircuitBreakerConfig governs the per-rule BLOCK circuit breaker (§4.1 step 6).
type CircuitBreakerConfig struct {
	MaxBlocksPerWindow int           // trip threshold
	Window             time.Duration // counter TTL / reset window
}

// DefaultCircuitBreaker returns the documented default of 100 blocks/hour.
func DefaultCircuitBreaker() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxBlocksPerWindow: 100,
		Window:             time.Hour,
	}
}

// ByzantineFilterConfig governs FP-rate aggregation filtering (§4.4).
type ByzantineFilterConfig struct {
	MinimumReputationScore      float64
	RequireStake                bool
	MinContributorsForFiltering int
	ZScoreThreshold             float64
	ByzantineFilterPercentile   float64
	KAnonymityFloor             int
}

// DefaultByzantineFilter returns the defaults named throughout spec §4.4/§8.
func DefaultByzantineFilter() ByzantineFilterConfig {
	return ByzantineFilterConfig{
		MinimumReputationScore:      0.1,
		RequireStake:                false,
		MinContributorsForFiltering: 5,
		ZScoreThreshold:             3.0,
		ByzantineFilterPercentile:   0.20,
		KAnonymityFloor:             3,
	}
}

// ConsistencyConfig governs the per-org consistency score calculation (§4.4).
type ConsistencyConfig struct {
	MaxContributionAge       time.Duration
	MinContributionsRequired int
	MinEventCount            int
	OutlierThreshold         float64
	ExcludeOutliersFromScore bool
	DecayRate                float64 // lambda in e^(-lambda*ageDays)
}

// DefaultConsistency returns the §4.4 documented defaults (180d window, lambda=0.01).
func DefaultConsistency() ConsistencyConfig {
	return ConsistencyConfig{
		MaxContributionAge:       180 * 24 * time.Hour,
		MinContributionsRequired: 3,
		MinEventCount:            1,
		OutlierThreshold:         0.30,
		ExcludeOutliersFromScore: false,
		DecayRate:                0.01,
	}
}

// WeightingConfig governs ContributionWeight (§4.4).
type WeightingConfig struct {
	StakeCap            float64
	MinStakeUSD         float64
	ConsistencyBonusCap float64
	MissingRecordWeight float64
}

// DefaultWeighting returns the §4.4 documented defaults.
func DefaultWeighting() WeightingConfig {
	return WeightingConfig{
		StakeCap:            1.0,
		MinStakeUSD:         1000,
		ConsistencyBonusCap: 0.2,
		MissingRecordWeight: 0.1,
	}
}

// Load loads configuration from environment variables, falling back to safe
// local defaults so the oracle boots in dev mode with no environment set.
func Load() *Config {
	return &Config{
		Env:        getenv("GOV_ORACLE_ENV", "dev"),
		DataDir:    getenv("GOV_ORACLE_DATA_DIR", "./data"),
		Region:     getenv("GOV_ORACLE_REGION", "us-east-1"),
		Table:      getenv("GOV_ORACLE_TABLE", "gov-oracle"),
		Bucket:     getenv("GOV_ORACLE_BUCKET", "gov-oracle-baselines"),
		ParamsPath: getenv("GOV_ORACLE_PARAMS_PATH", "/guardian/dev"),
		LogLevel:   getenv("LOG_LEVEL", "INFO"),

		RedisAddr: getenv("GOV_ORACLE_REDIS_ADDR", "localhost:6379"),
		RedisDB:   getenvInt("GOV_ORACLE_REDIS_DB", 0),

		PostgresURL: getenv("GOV_ORACLE_POSTGRES_URL", "postgres://oracle@localhost:5432/oracle?sslmode=disable"),

		Thresholds:      DefaultThresholds(),
		CircuitBreaker:  DefaultCircuitBreaker(),
		ByzantineFilter: DefaultByzantineFilter(),
		Consistency:     DefaultConsistency(),
		Weighting:       DefaultWeighting(),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// SecretParamName builds the versioned parameter-store path for a redaction
// nonce, per spec §6: "/guardian/<env>/redaction_nonce_v<N>".
func (c *Config) SecretParamName(version int) string {
	return fmt.Sprintf("%s/redaction_nonce_v%d", c.ParamsPath, version)
}
