package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAlertThreshold = 20.0
	DefaultCheckInterval  = 6 * time.Hour
)

type Config struct {
	Monitor   MonitorConfig
	Scheduler SchedulerConfig
	Fetch     FetchConfig
	Snapshot  SnapshotConfig
	DBPath    string
	// DatabaseURL switches the product registry to Postgres when set.
	DatabaseURL string
	ListenAddr  string
	LogLevel    string
	LogFile     string
	Sources     map[string]*SourceConfig
	SourcesDir  string
}

type MonitorConfig struct {
	AlertThreshold     float64
	Concurrency        int
	HistoryMergeWindow time.Duration
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type FetchConfig struct {
	Timeout   time.Duration
	UserAgent string
}

type SnapshotConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether raw pages should be archived on extraction misses.
func (c SnapshotConfig) Enabled() bool {
	return c.Bucket != ""
}

// SourceConfig overrides the extraction rules of one source.
type SourceConfig struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Selectors []string `yaml:"selectors"`
	// JSONLD appends the structured-data fallback after the selectors.
	JSONLD bool `yaml:"json_ld"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Monitor: MonitorConfig{
			AlertThreshold:     getEnvFloat("ALERT_THRESHOLD", DefaultAlertThreshold),
			Concurrency:        getEnvInt("CHECK_CONCURRENCY", 4),
			HistoryMergeWindow: getEnvDuration("HISTORY_MERGE_WINDOW", 10*time.Minute),
		},
		Scheduler: SchedulerConfig{
			Interval: getEnvDuration("CHECK_INTERVAL", DefaultCheckInterval),
			Cron:     os.Getenv("CHECK_CRON"),
		},
		Fetch: FetchConfig{
			Timeout:   getEnvDuration("FETCH_TIMEOUT", 15*time.Second),
			UserAgent: getEnv("FETCH_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		},
		Snapshot: SnapshotConfig{
			Bucket:          os.Getenv("SNAPSHOT_BUCKET"),
			Region:          getEnv("SNAPSHOT_REGION", "us-east-1"),
			Endpoint:        os.Getenv("SNAPSHOT_ENDPOINT"),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		},
		DBPath:      getEnv("DB_PATH", "pricewatch.db"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		ListenAddr:  getEnv("LISTEN_ADDR", ":3001"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", "pricewatch.log"),
		Sources:     make(map[string]*SourceConfig),
		SourcesDir:  getEnv("SOURCES_DIR", "config/sources"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.loadSourceConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if !(c.Monitor.AlertThreshold > 0) || math.IsInf(c.Monitor.AlertThreshold, 1) {
		return fmt.Errorf("alert threshold must be positive, got %v", c.Monitor.AlertThreshold)
	}
	if c.Scheduler.Cron == "" && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("check interval must be positive, got %s", c.Scheduler.Interval)
	}
	if c.Monitor.Concurrency < 1 {
		c.Monitor.Concurrency = 1
	}
	return nil
}

func (c *Config) loadSourceConfigs() error {
	entries, err := os.ReadDir(c.SourcesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(c.SourcesDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var src SourceConfig
		if err := yaml.Unmarshal(data, &src); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if src.ID == "" {
			return fmt.Errorf("parse %s: missing id", path)
		}

		c.Sources[src.ID] = &src
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
