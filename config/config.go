// Package config loads and saves the emulator configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config represents the emulator configuration
type Config struct {
	// Execution settings
	Execution struct {
		MaxCycles   uint64 `toml:"max_cycles"`
		EnableTrace bool   `toml:"enable_trace"`
	} `toml:"execution"`

	// Trace settings
	Trace struct {
		OutputFile string `toml:"output_file"`
	} `toml:"trace"`

	// JIT settings
	JIT struct {
		Enabled  bool `toml:"enabled"`
		DumpCode bool `toml:"dump_code"`
	} `toml:"jit"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Execution.MaxCycles = 1000000
	cfg.Execution.EnableTrace = false

	cfg.Trace.OutputFile = ""

	cfg.JIT.Enabled = true
	cfg.JIT.DumpCode = false

	return cfg
}

// GetConfigPath returns the platform-specific config file path
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "imps-emu")

	default:
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "imps-emu")
	}

	return filepath.Join(configDir, "config.toml")
}

// LoadConfig reads a config file, applying defaults for missing values. A
// missing file is not an error; the defaults are returned.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to the given path, creating parent
// directories as needed
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}
