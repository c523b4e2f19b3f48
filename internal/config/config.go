package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrNoCommand is returned by Validate when no downloader command is set.
var ErrNoCommand = errors.New("config: downloader command is empty")

// DefaultPath is where the pool-download tools look for their YAML file
// unless JUPTIDU_CONFIG says otherwise.
const DefaultPath = "config/juptidu.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the download supervisor and its
// companion tools.
type Config struct {
	Download DownloadConfig `yaml:"download"`
	History  HistoryConfig  `yaml:"history"`
	Status   StatusConfig   `yaml:"status"`
	Logging  Logging        `yaml:"logging"`
	DataDir  string         `yaml:"data_dir"`
}

// DownloadConfig controls discovery of configuration files and the retry
// loop wrapped around each downloader invocation.
type DownloadConfig struct {
	Dir               string        `yaml:"dir"`
	Prefix            string        `yaml:"prefix"`
	Command           []string      `yaml:"command"`
	Backoff           time.Duration `yaml:"backoff"`
	MaxAttempts       int           `yaml:"max_attempts"`
	MaxConcurrent     int           `yaml:"max_concurrent"`
	LaunchRatePerMin  int           `yaml:"launch_rate_per_min"`
	GracePeriod       time.Duration `yaml:"grace_period"`
	PrefixChildOutput bool          `yaml:"prefix_child_output"`
}

// HistoryConfig selects where attempt records are kept.
type HistoryConfig struct {
	Backend string `yaml:"backend"` // "sqlite", "parquet" or "none"
	Dir     string `yaml:"dir"`
}

// StatusConfig configures the gRPC health endpoint.
type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the configuration used when no YAML file is present.
func Default() *Config {
	return &Config{
		Download: DownloadConfig{
			Dir:     ".",
			Prefix:  "config",
			Command: []string{"python", "-m", "demeter.downloader"},
			Backoff: 10 * time.Second,
		},
		History: HistoryConfig{
			Backend: "sqlite",
			Dir:     "result",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		DataDir: "data",
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path on top of the
// defaults, loads a .env file from the working directory if one exists, and
// then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := loadEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to the defaults (plus
// environment overrides) when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg = Default()
	if err := loadEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration values the supervisor cannot run with.
func (c *Config) Validate() error {
	d := c.Download
	if len(d.Command) == 0 || strings.TrimSpace(d.Command[0]) == "" {
		return ErrNoCommand
	}
	if d.Backoff < 0 {
		return fmt.Errorf("config: backoff must not be negative, got %s", d.Backoff)
	}
	if d.MaxAttempts < 0 || d.MaxConcurrent < 0 || d.LaunchRatePerMin < 0 {
		return errors.New("config: max_attempts, max_concurrent and launch_rate_per_min must not be negative")
	}
	if d.GracePeriod < 0 {
		return fmt.Errorf("config: grace_period must not be negative, got %s", d.GracePeriod)
	}
	switch c.History.Backend {
	case "sqlite", "parquet", "none", "":
	default:
		return fmt.Errorf("config: unknown history backend %q", c.History.Backend)
	}
	return nil
}

func loadEnv(cfg *Config) error {
	// A missing .env is the common case.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return applyEnvOverrides(cfg)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("JUPTIDU_DIR"); v != "" {
		cfg.Download.Dir = v
	}

	if v := os.Getenv("JUPTIDU_PREFIX"); v != "" {
		cfg.Download.Prefix = v
	}

	if v := os.Getenv("JUPTIDU_COMMAND"); v != "" {
		cfg.Download.Command = strings.Fields(v)
	}

	if v := os.Getenv("JUPTIDU_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("JUPTIDU_BACKOFF: %w", err)
		}
		cfg.Download.Backoff = d
	}

	if v := os.Getenv("JUPTIDU_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("JUPTIDU_MAX_ATTEMPTS: %w", err)
		}
		cfg.Download.MaxAttempts = n
	}

	if v := os.Getenv("JUPTIDU_HISTORY_DIR"); v != "" {
		cfg.History.Dir = v
	}

	if v := os.Getenv("JUPTIDU_STATUS_ADDR"); v != "" {
		cfg.Status.Addr = v
	}

	if v := os.Getenv("JUPTIDU_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}
