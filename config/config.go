// Package config loads and saves x86dbg's TOML configuration file,
// following the same platform-specific path conventions regardless of
// which OS the debugger is attaching on.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config represents x86dbg's configuration.
type Config struct {
	// Process settings: how the backend talks to the target.
	Process struct {
		BlockSize   int  `toml:"block_size"`
		MaxStepOver int  `toml:"max_step_over_instructions"`
		AutoProbeModules bool `toml:"auto_probe_modules"`
	} `toml:"process"`

	// Debugger settings.
	Debugger struct {
		HistorySize         int  `toml:"history_size"`
		AutoReinstallBreaks bool `toml:"auto_reinstall_breakpoints"`
		ShowRegistersOnStop bool `toml:"show_registers_on_stop"`
		StrictInvariants    bool `toml:"strict_invariants"`
	} `toml:"debugger"`

	// Display settings.
	Display struct {
		ColorOutput   bool   `toml:"color_output"`
		BytesPerLine  int    `toml:"bytes_per_line"`
		DisasmContext int    `toml:"disasm_context"`
		NumberFormat  string `toml:"number_format"` // hex, dec
	} `toml:"display"`

	// API server settings.
	API struct {
		Port          int  `toml:"port"`
		EnableStream  bool `toml:"enable_websocket_stream"`
	} `toml:"api"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Process.BlockSize = 256
	cfg.Process.MaxStepOver = 1_000_000
	cfg.Process.AutoProbeModules = true

	cfg.Debugger.HistorySize = 1000
	cfg.Debugger.AutoReinstallBreaks = true
	cfg.Debugger.ShowRegistersOnStop = true
	cfg.Debugger.StrictInvariants = false

	cfg.Display.ColorOutput = true
	cfg.Display.BytesPerLine = 16
	cfg.Display.DisasmContext = 5
	cfg.Display.NumberFormat = "hex"

	cfg.API.Port = 7777
	cfg.API.EnableStream = true

	return cfg
}

// GetConfigPath returns the platform-specific config file path.
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "x86dbg")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "x86dbg")

	default:
		return "config.toml"
	}

	if err := os.MkdirAll(configDir, 0750); err != nil {
		return "config.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// GetLogPath returns the platform-specific log directory path.
func GetLogPath() string {
	var logDir string

	switch runtime.GOOS {
	case "windows":
		logDir = os.Getenv("APPDATA")
		if logDir == "" {
			logDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		logDir = filepath.Join(logDir, "x86dbg", "logs")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "logs"
		}
		logDir = filepath.Join(homeDir, ".local", "share", "x86dbg", "logs")

	default:
		return "logs"
	}

	if err := os.MkdirAll(logDir, 0750); err != nil {
		return "logs"
	}

	return logDir
}

// Load loads configuration from the default config file.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from the specified file, falling back
// to defaults if it does not exist.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves configuration to the specified file.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path) // #nosec G304 -- user config file path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
