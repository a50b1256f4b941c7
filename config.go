package memor

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config carries the construction-time settings of a Client. The revision
// summary toggle lives here rather than in any package-level state: a
// manifest registered on a client with RevisionSummary enabled carries the
// extra summary field, a manifest registered elsewhere does not.
type Config struct {
	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn"`
	// RevisionSummary adds the optional revision summary field to every
	// revision-enabled manifest registered on this client.
	RevisionSummary bool `yaml:"revision_summary"`
	// SlowQueryThreshold enables the stats driver when positive: queries
	// slower than this are counted and logged.
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
}

// Option configures a Config.
type Option func(*Config)

// WithDSN sets the connection string.
func WithDSN(dsn string) Option {
	return func(c *Config) { c.DSN = dsn }
}

// WithRevisionSummary toggles the revision summary field.
func WithRevisionSummary(enabled bool) Option {
	return func(c *Config) { c.RevisionSummary = enabled }
}

// WithSlowQueryThreshold enables slow-query statistics collection.
func WithSlowQueryThreshold(d time.Duration) Option {
	return func(c *Config) { c.SlowQueryThreshold = d }
}

// LoadConfig reads a YAML config file and applies environment overrides.
// A .env file next to the process is honored when present (never required).
// Recognized variables: MEMOR_DSN, MEMOR_REVISION_SUMMARY,
// MEMOR_SLOW_QUERY_THRESHOLD.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("memor: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("memor: parse config: %w", err)
		}
	}
	// Local .env files are a development convenience only.
	_ = godotenv.Load()
	if v := os.Getenv("MEMOR_DSN"); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv("MEMOR_REVISION_SUMMARY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("memor: MEMOR_REVISION_SUMMARY: %w", err)
		}
		cfg.RevisionSummary = b
	}
	if v := os.Getenv("MEMOR_SLOW_QUERY_THRESHOLD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("memor: MEMOR_SLOW_QUERY_THRESHOLD: %w", err)
		}
		cfg.SlowQueryThreshold = d
	}
	return cfg, nil
}
