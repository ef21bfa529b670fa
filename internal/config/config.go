// Package config resolves runtime settings from defaults, an optional YAML
// file in the clawd home directory, and environment variables, in that order
// of increasing precedence. Command-line flags are applied on top by the
// caller.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/clawdhq/clawd-go/pkg/logger"
)

// Environment variables recognized by Load.
const (
	EnvHomeDir      = "CLAWD_HOME_DIR"
	EnvGatewayURL   = "CLAWD_GATEWAY_URL"
	EnvGatewayToken = "CLAWD_GATEWAY_TOKEN"
	EnvSessionStore = "CLAWD_SESSION_STORE"
	EnvLogLevel     = "CLAWD_LOG_LEVEL"
	EnvDebug        = "CLAWD_DEBUG"
)

// DefaultGatewayURL is where a locally running gateway listens.
const DefaultGatewayURL = "ws://127.0.0.1:18789/ws"

const (
	configFileName  = "config.yaml"
	sessionFileName = "acp-sessions.json"
)

// Config holds the resolved runtime settings.
type Config struct {
	// HomeDir is the clawd state directory, created on first use.
	HomeDir string `yaml:"-"`

	GatewayURL   string `yaml:"gateway_url"`
	GatewayToken string `yaml:"gateway_token"`

	// SessionStorePath is where sessions persist across restarts. Empty
	// disables persistence.
	SessionStorePath string `yaml:"session_store"`

	LogLevel string `yaml:"log_level"`
	Verbose  bool   `yaml:"verbose"`
}

// Load resolves the configuration. A missing config file is not an error;
// a malformed one is.
func Load() (*Config, error) {
	home, err := resolveHomeDir()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HomeDir:          home,
		GatewayURL:       DefaultGatewayURL,
		SessionStorePath: filepath.Join(home, sessionFileName),
		LogLevel:         "info",
	}

	path := filepath.Join(home, configFileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvGatewayURL); v != "" {
		c.GatewayURL = v
	}
	if v := os.Getenv(EnvGatewayToken); v != "" {
		c.GatewayToken = v
	}
	if v, ok := os.LookupEnv(EnvSessionStore); ok {
		// Explicitly empty disables persistence.
		c.SessionStorePath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvDebug); v == "1" || v == "true" {
		c.Verbose = true
	}
}

// EffectiveLogLevel folds the verbose flag into the configured level.
func (c *Config) EffectiveLogLevel() logger.Level {
	if c.Verbose {
		return logger.LevelDebug
	}
	lvl, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		logger.Warnf("unknown log level %q, using info", c.LogLevel)
		return logger.LevelInfo
	}
	return lvl
}

func resolveHomeDir() (string, error) {
	dir := os.Getenv(EnvHomeDir)
	if dir == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(userHome, ".clawd")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}
