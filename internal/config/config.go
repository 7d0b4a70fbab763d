package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Storage   Storage   `yaml:"storage"`
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
	Trend     Trend     `yaml:"trend"`
	Rewards   Rewards   `yaml:"rewards"`
	Decision  Decision  `yaml:"decision"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Auth      Auth      `yaml:"auth"`
	Export    Export    `yaml:"export"`
}

type Storage struct {
	DataDir string        `yaml:"data_dir"`
	Timeout time.Duration `yaml:"timeout"`
}

type Server struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`
	RankInterval    time.Duration `yaml:"rank_interval"`
	RankExport      bool          `yaml:"rank_export"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Trend struct {
	BinMinutes float64 `yaml:"bin_minutes"`
	Window     int     `yaml:"window"`
	Alpha      float64 `yaml:"alpha"`
	Workers    int     `yaml:"workers"`
}

type Rewards struct {
	// Weights replaces the built-in table when non-empty.
	Weights Numbers `yaml:"weights"`
	// WeightsEnv names an environment variable holding a JSON object whose
	// entries override individual weights.
	WeightsEnv string `yaml:"weights_env"`
}

type Decision struct {
	Thresholds      Numbers       `yaml:"thresholds"`
	DemotePenalty   float64       `yaml:"demote_penalty"`
	EscalatePenalty float64       `yaml:"escalate_penalty"`
	Adaptive        bool          `yaml:"adaptive"`
	History         int           `yaml:"history"`
	HistoryTimeout  time.Duration `yaml:"history_timeout"`
}

type RateLimit struct {
	Enabled bool          `yaml:"enabled"`
	Window  time.Duration `yaml:"window"`
	Quota   int           `yaml:"quota"`
}

type Auth struct {
	SecretEnv      string        `yaml:"secret_env"`
	Skew           time.Duration `yaml:"skew"`
	NonceCacheSize int           `yaml:"nonce_cache_size"`
	RequireNonce   bool          `yaml:"require_nonce"`
}

type Export struct {
	Dir            string `yaml:"dir"`
	TopPerCategory int    `yaml:"top_per_category"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Storage: Storage{Timeout: 5 * time.Second},
		Server: Server{
			Host:            "127.0.0.1",
			Port:            8000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: Logging{Level: "info", Format: "json"},
		Trend:   Trend{BinMinutes: 120, Window: 6, Alpha: 0.8},
		Rewards: Rewards{WeightsEnv: "RL_WEIGHTS_JSON"},
		Decision: Decision{
			DemotePenalty:   0.1,
			EscalatePenalty: 0.1,
			History:         200,
			HistoryTimeout:  2 * time.Second,
		},
		RateLimit: RateLimit{Enabled: true, Window: 60 * time.Second, Quota: 60},
		Auth: Auth{
			SecretEnv:      "FEEDRANK_API_SECRET",
			Skew:           300 * time.Second,
			NonceCacheSize: 10000,
		},
		Export: Export{TopPerCategory: 10},
	}
}

// ConfigDir returns the XDG config directory for feedrank.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "feedrank")
}

// DataDir returns the XDG data directory for feedrank.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "feedrank")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/feedrank/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'feedrank init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir
	}
	return DataDir()
}

// DBPath returns the SQLite database path inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "feedrank.db")
}

// GetExportDir returns the report directory, defaulting to exports/ in the data directory.
func (c *Config) GetExportDir() string {
	if c.Export.Dir != "" {
		return c.Export.Dir
	}
	return filepath.Join(c.GetDataDir(), "exports")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
