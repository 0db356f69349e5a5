// Package config loads the TOML configuration shared by the CLI and the
// standalone history server.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Server contains connection settings for the ComfyUI server.
type Server struct {
	Host        string `toml:"host"`
	WaitMinutes int    `toml:"wait_minutes"`
}

// Paths contains directory and bind address configuration.
type Paths struct {
	PromptsDir string `toml:"prompts_dir"`
	OutputDir  string `toml:"output_dir"`
	Bind       string `toml:"bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level string `toml:"level"`
}

// Config encapsulates all configuration values.
type Config struct {
	Server  Server  `toml:"server"`
	Paths   Paths   `toml:"paths"`
	Logging Logging `toml:"logging"`
}

const (
	defaultHost        = "http://127.0.0.1:8188"
	defaultWaitMinutes = 20
	defaultPromptsDir  = "~/.local/share/comfyhistory/prompts"
	defaultOutputDir   = "~/.local/share/comfyhistory/output"
	defaultBind        = "127.0.0.1:8189"
	defaultLogLevel    = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Server:  Server{Host: defaultHost, WaitMinutes: defaultWaitMinutes},
		Paths:   Paths{PromptsDir: defaultPromptsDir, OutputDir: defaultOutputDir, Bind: defaultBind},
		Logging: Logging{Level: defaultLogLevel},
	}
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/comfyhistory/config.toml")
}

// Load parses and normalizes a configuration file. An empty path means the
// default location; a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	resolved := path
	if resolved == "" {
		var err error
		resolved, err = DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		resolved, err = expandPath(resolved)
		if err != nil {
			return nil, err
		}
	}

	file, err := os.Open(resolved)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if path != "" {
			return nil, fmt.Errorf("config file %s does not exist", resolved)
		}
	case err != nil:
		return nil, fmt.Errorf("open config: %w", err)
	default:
		defer file.Close()
		decoder := toml.NewDecoder(file)
		if derr := decoder.Decode(&cfg); derr != nil {
			return nil, fmt.Errorf("parse config: %w", derr)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	var err error

	c.Server.Host = strings.TrimRight(strings.TrimSpace(c.Server.Host), "/")
	if c.Server.Host == "" {
		c.Server.Host = defaultHost
	}
	if !strings.Contains(c.Server.Host, "://") {
		c.Server.Host = "http://" + c.Server.Host
	}
	if c.Server.WaitMinutes <= 0 {
		c.Server.WaitMinutes = defaultWaitMinutes
	}

	if strings.TrimSpace(c.Paths.PromptsDir) == "" {
		c.Paths.PromptsDir = defaultPromptsDir
	}
	if c.Paths.PromptsDir, err = expandPath(c.Paths.PromptsDir); err != nil {
		return fmt.Errorf("paths.prompts_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.Bind) == "" {
		c.Paths.Bind = defaultBind
	}

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	switch level {
	case "":
		c.Logging.Level = defaultLogLevel
	case "debug", "info", "warn", "error":
		c.Logging.Level = level
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	trimmed := strings.TrimSpace(pathValue)
	if trimmed == "" {
		return "", errors.New("path is empty")
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	resolved, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
