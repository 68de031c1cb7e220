package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("MARKETSYNC_TOKEN", "secret-token")

	yamlContent := `
database:
  path: "test.db"
fetcher:
  provider: http
  base_url: "http://upstream.local"
  token: "${MARKETSYNC_TOKEN}"
scheduler:
  tasks:
    - name: daily_bars
      tier: L1
    - name: intraday_etf
      tier: L2
      interval_seconds: 300
      offset_multiplier: 2
    - name: weekly_reference
      tier: L0
      weekday: saturday
      time: "20:00"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "secret-token", cfg.Fetcher.Token)
	assert.Len(t, cfg.Scheduler.Tasks, 3)
	assert.Equal(t, "15:30", cfg.Scheduler.DailyTime)
	assert.Equal(t, 120, cfg.Scheduler.OffsetUnitSeconds)
	assert.Equal(t, 0.90, cfg.Health.CoverageCritical)
	assert.Equal(t, 0.98, cfg.Health.CoverageWarning)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		cfg := Config{Database: DatabaseConfig{Path: "path"}}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}, wantErr: false},
		{name: "missing db path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "bad jitter", mutate: func(c *Config) { c.RateLimit.JitterMin, c.RateLimit.JitterMax = 2, 1 }, wantErr: true},
		{name: "inverted coverage", mutate: func(c *Config) { c.Health.CoverageCritical = 0.99 }, wantErr: true},
		{name: "bad daily time", mutate: func(c *Config) { c.Scheduler.DailyTime = "25:00" }, wantErr: true},
		{name: "bad holiday", mutate: func(c *Config) { c.Calendar.Holidays = []string{"2024/01/01"} }, wantErr: true},
		{name: "duplicate task", mutate: func(c *Config) {
			c.Scheduler.Tasks = []TaskConfig{{Name: "a", Tier: "L1"}, {Name: "a", Tier: "L1"}}
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateTasks(t *testing.T) {
	tests := []struct {
		name    string
		tasks   []TaskConfig
		wantErr bool
	}{
		{name: "weekly ok", tasks: []TaskConfig{{Name: "w", Tier: "L0", Weekday: "sat", Time: "20:00"}}},
		{name: "weekly missing weekday", tasks: []TaskConfig{{Name: "w", Tier: "L0", Time: "20:00"}}, wantErr: true},
		{name: "intraday without interval", tasks: []TaskConfig{{Name: "i", Tier: "L2"}}, wantErr: true},
		{name: "on demand", tasks: []TaskConfig{{Name: "o", Tier: "l3"}}},
		{name: "unknown tier", tasks: []TaskConfig{{Name: "x", Tier: "L9"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTasks(tt.tasks)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTasks() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("20:05")
	require.NoError(t, err)
	assert.Equal(t, 20*time.Hour+5*time.Minute, d)

	_, err = ParseClock("noon")
	assert.Error(t, err)
}

func TestParseWeekday(t *testing.T) {
	d, err := ParseWeekday("Saturday")
	require.NoError(t, err)
	assert.Equal(t, time.Saturday, d)

	d, err = ParseWeekday("mon")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, d)

	_, err = ParseWeekday("someday")
	assert.Error(t, err)
}
