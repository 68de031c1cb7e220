package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // scheduler timezones must resolve without system zoneinfo

	"marketsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Fetcher    FetcherConfig    `yaml:"fetcher"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Health     HealthConfig     `yaml:"health"`
	Calendar   CalendarConfig   `yaml:"calendar"`
	Alert      AlertConfig      `yaml:"alert"`
	Exports    ExportConfig     `yaml:"exports"`
	Google     GoogleConfig     `yaml:"google"`
	Universe   UniverseConfig   `yaml:"universe"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// FetcherConfig selects the upstream provider once at startup.
type FetcherConfig struct {
	Provider       string `yaml:"provider"`
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	XLSXPath       string `yaml:"xlsx_path"`
}

type RateLimitConfig struct {
	MaxRequests   int     `yaml:"max_requests"`
	WindowSeconds float64 `yaml:"window_seconds"`
	JitterMin     float64 `yaml:"jitter_min"`
	JitterMax     float64 `yaml:"jitter_max"`
}

type ExecutorConfig struct {
	MaxConcurrent       int     `yaml:"max_concurrent"`
	TaskTimeoutSeconds  int     `yaml:"task_timeout_seconds"`
	MaxAttempts         int     `yaml:"max_attempts"`
	InitialDelaySeconds float64 `yaml:"initial_delay_seconds"`
	MaxDelaySeconds     float64 `yaml:"max_delay_seconds"`
	BackfillDays        int     `yaml:"backfill_days"`
	OnDemandRPS         float64 `yaml:"on_demand_rps"`
	OnDemandBurst       int     `yaml:"on_demand_burst"`
}

// SchedulerConfig describes the four cadence tiers and the tasks assigned to them.
type SchedulerConfig struct {
	Timezone          string       `yaml:"timezone"`
	DailyTime         string       `yaml:"daily_time"`
	OffsetUnitSeconds int          `yaml:"offset_unit_seconds"`
	Tasks             []TaskConfig `yaml:"tasks"`
}

type TaskConfig struct {
	Name             string   `yaml:"name"`
	Tier             string   `yaml:"tier"`
	Weekday          string   `yaml:"weekday"`
	Time             string   `yaml:"time"`
	IntervalSeconds  int      `yaml:"interval_seconds"`
	OffsetMultiplier int      `yaml:"offset_multiplier"`
	Categories       []string `yaml:"categories"`
}

type HealthConfig struct {
	Time                string   `yaml:"time"`
	Categories          []string `yaml:"categories"`
	CoverageCritical    float64  `yaml:"coverage_critical"`
	CoverageWarning     float64  `yaml:"coverage_warning"`
	MetadataThreshold   float64  `yaml:"metadata_threshold"`
	StubbornFailures    int      `yaml:"stubborn_failures"`
	StubbornWindowHours int      `yaml:"stubborn_window_hours"`
	RepairChunkSize     int      `yaml:"repair_chunk_size"`
	AutoRepair          bool     `yaml:"auto_repair"`
}

type CalendarConfig struct {
	Holidays []string `yaml:"holidays"`
}

type AlertConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type GoogleConfig struct {
	GoogleCredentialsFile string `yaml:"credentials_file"`
	ReportSpreadSheetID   string `yaml:"report_spreadsheet_id"`
	ReportSheetName       string `yaml:"report_sheet_name"`
}

type UniverseConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; only a malformed file is an error.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.RateLimit.MaxRequests <= 0 {
		return errors.New("rate_limit.max_requests must be > 0")
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return errors.New("rate_limit.window_seconds must be > 0")
	}
	if c.RateLimit.JitterMin < 0 || c.RateLimit.JitterMax < c.RateLimit.JitterMin {
		return errors.New("rate_limit jitter range is invalid")
	}
	if c.Health.CoverageCritical > c.Health.CoverageWarning {
		return errors.New("health.coverage_critical must not exceed health.coverage_warning")
	}
	if _, err := ParseClock(c.Scheduler.DailyTime); err != nil {
		return fmt.Errorf("scheduler.daily_time: %w", err)
	}
	if _, err := ParseClock(c.Health.Time); err != nil {
		return fmt.Errorf("health.time: %w", err)
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	for _, h := range c.Calendar.Holidays {
		if _, err := time.Parse(models.DateLayout, h); err != nil {
			return fmt.Errorf("calendar holiday %q: %w", h, err)
		}
	}
	return ValidateTasks(c.Scheduler.Tasks)
}

// ValidateTasks checks task names are unique and each tier carries its cadence fields.
func ValidateTasks(tasks []TaskConfig) error {
	names := make(map[string]bool)
	for _, task := range tasks {
		if task.Name == "" {
			return errors.New("task name is required")
		}
		if names[task.Name] {
			return fmt.Errorf("duplicate task name found: %s", task.Name)
		}
		names[task.Name] = true

		switch strings.ToUpper(task.Tier) {
		case "L0":
			if _, err := ParseWeekday(task.Weekday); err != nil {
				return fmt.Errorf("task %s: %w", task.Name, err)
			}
			if _, err := ParseClock(task.Time); err != nil {
				return fmt.Errorf("task %s: %w", task.Name, err)
			}
		case "L1", "L3":
		case "L2":
			if task.IntervalSeconds <= 0 {
				return fmt.Errorf("task %s: interval_seconds must be > 0", task.Name)
			}
			if task.OffsetMultiplier < 0 {
				return fmt.Errorf("task %s: offset_multiplier must be >= 0", task.Name)
			}
		default:
			return fmt.Errorf("task %s: unknown tier %q", task.Name, task.Tier)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "marketsync"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Fetcher.Provider == "" {
		c.Fetcher.Provider = "http"
	}
	if c.Fetcher.TimeoutSeconds == 0 {
		c.Fetcher.TimeoutSeconds = 15
	}

	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = 200
	}
	if c.RateLimit.WindowSeconds == 0 {
		c.RateLimit.WindowSeconds = 60
	}
	if c.RateLimit.JitterMax == 0 && c.RateLimit.JitterMin == 0 {
		c.RateLimit.JitterMin = 0.1
		c.RateLimit.JitterMax = 0.5
	}

	if c.Executor.MaxConcurrent == 0 {
		c.Executor.MaxConcurrent = models.DefaultMaxConcurrent
	}
	if c.Executor.TaskTimeoutSeconds == 0 {
		c.Executor.TaskTimeoutSeconds = 3600
	}
	if c.Executor.MaxAttempts == 0 {
		c.Executor.MaxAttempts = 3
	}
	if c.Executor.InitialDelaySeconds == 0 {
		c.Executor.InitialDelaySeconds = 5
	}
	if c.Executor.MaxDelaySeconds == 0 {
		c.Executor.MaxDelaySeconds = 60
	}
	if c.Executor.BackfillDays == 0 {
		c.Executor.BackfillDays = 365
	}
	if c.Executor.OnDemandRPS == 0 {
		c.Executor.OnDemandRPS = 1
	}
	if c.Executor.OnDemandBurst == 0 {
		c.Executor.OnDemandBurst = 5
	}

	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "Asia/Shanghai"
	}
	if c.Scheduler.DailyTime == "" {
		c.Scheduler.DailyTime = "15:30"
	}
	if c.Scheduler.OffsetUnitSeconds == 0 {
		c.Scheduler.OffsetUnitSeconds = 120
	}

	if c.Health.Time == "" {
		c.Health.Time = "18:00"
	}
	if len(c.Health.Categories) == 0 {
		c.Health.Categories = []string{models.CategoryStock, models.CategoryETF}
	}
	if c.Health.CoverageCritical == 0 {
		c.Health.CoverageCritical = 0.90
	}
	if c.Health.CoverageWarning == 0 {
		c.Health.CoverageWarning = 0.98
	}
	if c.Health.MetadataThreshold == 0 {
		c.Health.MetadataThreshold = 0.95
	}
	if c.Health.StubbornFailures == 0 {
		c.Health.StubbornFailures = models.StubbornFailures
	}
	if c.Health.StubbornWindowHours == 0 {
		c.Health.StubbornWindowHours = models.StubbornWindow / 3600
	}
	if c.Health.RepairChunkSize == 0 {
		c.Health.RepairChunkSize = models.DefaultRepairChunkSize
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "data/reports"
	}
	if c.Google.ReportSheetName == "" {
		c.Google.ReportSheetName = "health"
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(raw string) (time.Duration, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(strings.TrimSpace(raw), "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", raw)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid time %q, out of range", raw)
	}
	return time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute, nil
}

// ParseWeekday accepts english weekday names or their three-letter form.
func ParseWeekday(raw string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", raw)
}
