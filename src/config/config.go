// Package config contains the engine configuration, loaded from a YAML file
// with environment overrides, along with a method that validates passed-in values.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable the diagnostics engine recognizes.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	TechLog   TechLogConfig   `mapstructure:"techlog"`
	RAS       RASConfig       `mapstructure:"ras"`
	Alerts    AlertConfig     `mapstructure:"alerts"`
	SQL       SQLConfig       `mapstructure:"sql"`
	Aggregate AggregateConfig `mapstructure:"aggregate"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TechLogConfig drives the tech-log parser and the performance analyzer.
type TechLogConfig struct {
	SlowQueryThresholdMS int64    `mapstructure:"slow_query_threshold_ms"`
	LockThresholdMS      int64    `mapstructure:"lock_threshold_ms"`
	BenignExceptions     []string `mapstructure:"benign_exceptions"`
	TopIssues            int      `mapstructure:"top_issues"`
}

// RASConfig drives the cluster monitor, session analyzer and resource tracker.
type RASConfig struct {
	Host                       string  `mapstructure:"host"`
	Port                       int     `mapstructure:"port"`
	MinAgentVersion            string  `mapstructure:"min_agent_version"`
	CPUThresholdPercent        float64 `mapstructure:"cpu_threshold_percent"`
	MemoryThresholdPercent     float64 `mapstructure:"memory_threshold_percent"`
	ConnectionThresholdPercent float64 `mapstructure:"connection_threshold_percent"`
	MaxConnections             int     `mapstructure:"max_connections"`
	MetricsHistorySize         int     `mapstructure:"metrics_history_size"`
	TrendWindow                int     `mapstructure:"trend_window"`
	ForecastHorizonHours       int     `mapstructure:"forecast_horizon_hours"`
	TopSessions                int     `mapstructure:"top_sessions"`
	SessionMemoryLimitMB       int64   `mapstructure:"session_memory_limit_mb"`
	BlockedSessionSeconds      int     `mapstructure:"blocked_session_seconds"`
}

type AlertConfig struct {
	CooldownSeconds int `mapstructure:"alert_cooldown_seconds"`
}

// SQLConfig drives the query analyzer and rewriter.
type SQLConfig struct {
	CatalogPath string  `mapstructure:"catalog_path"`
	MaxSpeedup  float64 `mapstructure:"max_speedup"`
}

type AggregateConfig struct {
	CycleIntervalSeconds   int       `mapstructure:"cycle_interval_seconds"`
	AnalyzerTimeoutSeconds int       `mapstructure:"analyzer_timeout_seconds"`
	TopRecommendations     int       `mapstructure:"top_recommendations"`
	Weights                []float64 `mapstructure:"weights"`
}

// Load reads the configuration file at path (optional) and applies
// PERFDIAG_-prefixed environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PERFDIAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		liftFlatKeys(v)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// flatKeys maps the documented short option names, accepted at the top
// level of a config file, onto their sectioned counterparts.
var flatKeys = map[string]string{
	"slow_query_threshold_ms":      "techlog.slow_query_threshold_ms",
	"lock_threshold_ms":            "techlog.lock_threshold_ms",
	"benign_exceptions":            "techlog.benign_exceptions",
	"top_issues":                   "techlog.top_issues",
	"min_agent_version":            "ras.min_agent_version",
	"cpu_threshold_percent":        "ras.cpu_threshold_percent",
	"memory_threshold_percent":     "ras.memory_threshold_percent",
	"connection_threshold_percent": "ras.connection_threshold_percent",
	"max_connections":              "ras.max_connections",
	"metrics_history_size":         "ras.metrics_history_size",
	"trend_window":                 "ras.trend_window",
	"forecast_horizon_hours":       "ras.forecast_horizon_hours",
	"top_sessions":                 "ras.top_sessions",
	"session_memory_limit_mb":      "ras.session_memory_limit_mb",
	"blocked_session_seconds":      "ras.blocked_session_seconds",
	"alert_cooldown_seconds":       "alerts.alert_cooldown_seconds",
	"catalog_path":                 "sql.catalog_path",
	"max_speedup":                  "sql.max_speedup",
	"cycle_interval_seconds":       "aggregate.cycle_interval_seconds",
	"analyzer_timeout_seconds":     "aggregate.analyzer_timeout_seconds",
	"top_recommendations":          "aggregate.top_recommendations",
}

// liftFlatKeys promotes top-level short names from the config file into
// their sections so both spellings load identically.
func liftFlatKeys(v *viper.Viper) {
	for flat, nested := range flatKeys {
		if v.InConfig(flat) && !v.InConfig(nested) {
			v.Set(nested, v.Get(flat))
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("techlog.slow_query_threshold_ms", 1000)
	v.SetDefault("techlog.lock_threshold_ms", 5000)
	v.SetDefault("techlog.top_issues", 10)

	v.SetDefault("ras.host", "127.0.0.1")
	v.SetDefault("ras.port", 1545)
	v.SetDefault("ras.min_agent_version", "10.0.0")
	v.SetDefault("ras.cpu_threshold_percent", 80)
	v.SetDefault("ras.memory_threshold_percent", 80)
	v.SetDefault("ras.connection_threshold_percent", 90)
	v.SetDefault("ras.max_connections", 1000)
	v.SetDefault("ras.metrics_history_size", 5)
	v.SetDefault("ras.trend_window", 5)
	v.SetDefault("ras.forecast_horizon_hours", 24)
	v.SetDefault("ras.top_sessions", 10)
	v.SetDefault("ras.session_memory_limit_mb", 4096)
	v.SetDefault("ras.blocked_session_seconds", 60)

	v.SetDefault("alerts.alert_cooldown_seconds", 300)

	v.SetDefault("sql.max_speedup", 10.0)

	v.SetDefault("aggregate.cycle_interval_seconds", 60)
	v.SetDefault("aggregate.analyzer_timeout_seconds", 30)
	v.SetDefault("aggregate.top_recommendations", 10)
	v.SetDefault("aggregate.weights", []float64{1, 1, 1})
}

// Validate checks configured values. It is called once at startup; a
// non-nil error is fatal, thresholds are never re-validated mid-cycle.
func (c *Config) Validate() error {
	if c.TechLog.SlowQueryThresholdMS <= 0 {
		return errors.New("invalid configuration: slow_query_threshold_ms must be positive")
	}
	if c.TechLog.LockThresholdMS <= 0 {
		return errors.New("invalid configuration: lock_threshold_ms must be positive")
	}
	for _, p := range []struct {
		name  string
		value float64
	}{
		{"cpu_threshold_percent", c.RAS.CPUThresholdPercent},
		{"memory_threshold_percent", c.RAS.MemoryThresholdPercent},
		{"connection_threshold_percent", c.RAS.ConnectionThresholdPercent},
	} {
		if p.value <= 0 || p.value > 100 {
			return fmt.Errorf("invalid configuration: %s must be in (0,100]", p.name)
		}
	}
	if c.RAS.MetricsHistorySize < 2 {
		return errors.New("invalid configuration: metrics_history_size must be at least 2")
	}
	if c.RAS.TrendWindow < 2 {
		return errors.New("invalid configuration: trend_window must be at least 2")
	}
	if c.RAS.TrendWindow > c.RAS.MetricsHistorySize {
		return errors.New("invalid configuration: trend_window cannot exceed metrics_history_size")
	}
	if c.Alerts.CooldownSeconds < 0 {
		return errors.New("invalid configuration: alert_cooldown_seconds cannot be negative")
	}
	if c.SQL.MaxSpeedup < 1.0 {
		return errors.New("invalid configuration: max_speedup must be at least 1.0")
	}
	if c.Aggregate.CycleIntervalSeconds <= 0 {
		return errors.New("invalid configuration: cycle_interval_seconds must be positive")
	}
	if c.Aggregate.AnalyzerTimeoutSeconds <= 0 {
		return errors.New("invalid configuration: analyzer_timeout_seconds must be positive")
	}
	if len(c.Aggregate.Weights) != 3 {
		return errors.New("invalid configuration: aggregate.weights must have exactly 3 entries")
	}
	total := 0.0
	for _, w := range c.Aggregate.Weights {
		if w < 0 {
			return errors.New("invalid configuration: aggregate weights cannot be negative")
		}
		total += w
	}
	if total == 0 {
		return errors.New("invalid configuration: aggregate weights cannot all be zero")
	}
	return nil
}

// CycleInterval returns the aggregation cycle period.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Aggregate.CycleIntervalSeconds) * time.Second
}

// AnalyzerTimeout returns the per-analyzer budget within a cycle.
func (c *Config) AnalyzerTimeout() time.Duration {
	return time.Duration(c.Aggregate.AnalyzerTimeoutSeconds) * time.Second
}

// AlertCooldown returns the alert deduplication window.
func (c *Config) AlertCooldown() time.Duration {
	return time.Duration(c.Alerts.CooldownSeconds) * time.Second
}
