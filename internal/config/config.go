package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
	Client  ClientConfig
	Import  ImportConfig
}

type ServerConfig struct {
	Host  string
	Port  int
	Token string // secret; MARKD_TOKEN or the generated token file
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type ClientConfig struct {
	Timeout string
}

type ImportConfig struct {
	BatchSize   int
	Concurrency int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Client: ClientConfig{
			Timeout: "30s",
		},
		Import: ImportConfig{
			BatchSize:   200,
			Concurrency: 4,
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/markd/config.json, then applies MARKD_* environment
// overrides.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate re-runs every key check against the effective values, so
// defaults are held to the same rules as stored ones.
func (c Config) validate() error {
	for _, s := range specs {
		if s.check == nil {
			continue
		}
		if err := s.check(s.extract(c)); err != nil {
			return fmt.Errorf("%s: %w", s.key, err)
		}
	}
	return nil
}

// Addr is the address the server listens on.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// BaseURL is the URL clients use to reach the server.
func (c Config) BaseURL() string {
	return "http://" + c.Addr()
}

// ClientTimeout returns client.timeout as a duration.
func (c Config) ClientTimeout() time.Duration {
	d, err := time.ParseDuration(c.Client.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "markd-data"
		}
	}
	return filepath.Join(dir, "markd")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "markd", "config.json")
}
