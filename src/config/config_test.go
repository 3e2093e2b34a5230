package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.EqualValues(t, 1000, cfg.TechLog.SlowQueryThresholdMS)
	assert.EqualValues(t, 5000, cfg.TechLog.LockThresholdMS)
	assert.Equal(t, 1545, cfg.RAS.Port)
	assert.Equal(t, 5, cfg.RAS.MetricsHistorySize)
	assert.Equal(t, 10.0, cfg.SQL.MaxSpeedup)
	assert.Equal(t, []float64{1, 1, 1}, cfg.Aggregate.Weights)

	assert.Equal(t, time.Minute, cfg.CycleInterval())
	assert.Equal(t, 30*time.Second, cfg.AnalyzerTimeout())
	assert.Equal(t, 5*time.Minute, cfg.AlertCooldown())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perfdiag.yml")
	contents := `
server:
  address: ":9090"
techlog:
  slow_query_threshold_ms: 250
ras:
  host: cluster.internal
  cpu_threshold_percent: 70
aggregate:
  weights: [2, 1, 1]
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.EqualValues(t, 250, cfg.TechLog.SlowQueryThresholdMS)
	assert.Equal(t, "cluster.internal", cfg.RAS.Host)
	assert.Equal(t, 70.0, cfg.RAS.CPUThresholdPercent)
	assert.Equal(t, []float64{2, 1, 1}, cfg.Aggregate.Weights)
	// Untouched keys keep their defaults.
	assert.EqualValues(t, 5000, cfg.TechLog.LockThresholdMS)
}

func TestLoad_FlatKeysAtTopLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perfdiag.yml")
	contents := `
slow_query_threshold_ms: 250
cpu_threshold_percent: 70
alert_cooldown_seconds: 120
max_speedup: 4.0
cycle_interval_seconds: 30
benign_exceptions:
  - timeout expired
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.EqualValues(t, 250, cfg.TechLog.SlowQueryThresholdMS)
	assert.Equal(t, 70.0, cfg.RAS.CPUThresholdPercent)
	assert.Equal(t, 2*time.Minute, cfg.AlertCooldown())
	assert.Equal(t, 4.0, cfg.SQL.MaxSpeedup)
	assert.Equal(t, 30*time.Second, cfg.CycleInterval())
	assert.Equal(t, []string{"timeout expired"}, cfg.TechLog.BenignExceptions)
	// Untouched keys keep their defaults.
	assert.EqualValues(t, 5000, cfg.TechLog.LockThresholdMS)
}

func TestLoad_SectionedFormWinsOverFlat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perfdiag.yml")
	contents := `
slow_query_threshold_ms: 250
techlog:
  slow_query_threshold_ms: 500
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 500, cfg.TechLog.SlowQueryThresholdMS)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PERFDIAG_RAS_HOST", "10.0.0.5")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", cfg.RAS.Host)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero slow query threshold",
			mutate:  func(c *Config) { c.TechLog.SlowQueryThresholdMS = 0 },
			wantErr: "slow_query_threshold_ms",
		},
		{
			name:    "threshold above 100 percent",
			mutate:  func(c *Config) { c.RAS.CPUThresholdPercent = 150 },
			wantErr: "cpu_threshold_percent",
		},
		{
			name:    "history too small",
			mutate:  func(c *Config) { c.RAS.MetricsHistorySize = 1 },
			wantErr: "metrics_history_size",
		},
		{
			name: "trend window exceeds history",
			mutate: func(c *Config) {
				c.RAS.MetricsHistorySize = 3
				c.RAS.TrendWindow = 4
			},
			wantErr: "trend_window cannot exceed",
		},
		{
			name:    "negative cooldown",
			mutate:  func(c *Config) { c.Alerts.CooldownSeconds = -1 },
			wantErr: "alert_cooldown_seconds",
		},
		{
			name:    "speedup cap below 1",
			mutate:  func(c *Config) { c.SQL.MaxSpeedup = 0.5 },
			wantErr: "max_speedup",
		},
		{
			name:    "wrong weight count",
			mutate:  func(c *Config) { c.Aggregate.Weights = []float64{1, 1} },
			wantErr: "exactly 3",
		},
		{
			name:    "all-zero weights",
			mutate:  func(c *Config) { c.Aggregate.Weights = []float64{0, 0, 0} },
			wantErr: "cannot all be zero",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
