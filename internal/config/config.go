// Package config loads the peer's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort         = 7070
	DefaultMaxAttempts  = 3
	DefaultProbeTimeout = 2 * time.Second
	DefaultPollInterval = 5 * time.Second
)

type Config struct {
	Name         string           `yaml:"name"`
	Listen       ListenConfig     `yaml:"listen"`
	DownloadDir  string           `yaml:"download_dir"`
	DataDir      string           `yaml:"data_dir"`
	LogLevel     string           `yaml:"log_level"`
	MaxTransfers int              `yaml:"max_transfers"`
	Retry        RetryConfig      `yaml:"retry"`
	Background   BackgroundConfig `yaml:"background"`
}

type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// RetryConfig governs the foreground liveness probe.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Timeout     time.Duration `yaml:"timeout"`
}

// BackgroundConfig governs detached delivery processes. A zero MaxLifetime
// means they retry until the peer comes back.
type BackgroundConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	MaxLifetime  time.Duration `yaml:"max_lifetime"`
}

func Default() *Config {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "peer"
	}

	return &Config{
		Name: name,
		Listen: ListenConfig{
			Address: "0.0.0.0",
			Port:    DefaultPort,
		},
		DownloadDir: filepath.Join(homeDir(), "Downloads", "peer-drop"),
		DataDir:     defaultDataDir(),
		LogLevel:    "info",
		Retry: RetryConfig{
			MaxAttempts: DefaultMaxAttempts,
			Timeout:     DefaultProbeTimeout,
		},
		Background: BackgroundConfig{
			PollInterval: DefaultPollInterval,
			ProbeTimeout: DefaultProbeTimeout,
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/peer-drop/config.yaml, falling back
// to ~/.config.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "peer-drop", "config.yaml")
	}
	return filepath.Join(homeDir(), ".config", "peer-drop", "config.yaml")
}

// Load reads path on top of the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.DownloadDir = expandHome(cfg.DownloadDir)
	cfg.DataDir = expandHome(cfg.DataDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Retry.Timeout <= 0 {
		errs = append(errs, errors.New("retry.timeout must be positive"))
	}
	if c.Background.PollInterval <= 0 {
		errs = append(errs, errors.New("background.poll_interval must be positive"))
	}
	if c.Background.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("background.probe_timeout must be positive"))
	}
	if c.Background.MaxLifetime < 0 {
		errs = append(errs, errors.New("background.max_lifetime must not be negative"))
	}
	if c.MaxTransfers < 0 {
		errs = append(errs, errors.New("max_transfers must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "peer-drop.sqlite3")
}

func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "peer-drop")
	}
	return filepath.Join(homeDir(), ".local", "share", "peer-drop")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func expandHome(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}
