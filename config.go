package pulse

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
)

// Config is the TOML-loadable bus configuration.
//
//	log_level = "warn"
//	json_log = true
//	instruction_limit = 1000000
//	max_queued_events = 0
type Config struct {
	// LogLevel is one of debug, info, warn, error. Defaults to warn.
	LogLevel string `toml:"log_level"`

	// JSONLog selects structured JSON output instead of console output.
	JSONLog bool `toml:"json_log"`

	// InstructionLimit is the sandbox's advisory per-call budget.
	InstructionLimit int64 `toml:"instruction_limit"`

	// MaxQueuedEvents bounds the pending-event queue; 0 is unbounded.
	MaxQueuedEvents int `toml:"max_queued_events"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		LogLevel: "warn",
	}
}

// LoadConfig reads a TOML configuration file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// logger builds the zerolog logger described by the config.
func (c Config) logger() zerolog.Logger {
	var level zerolog.Level
	switch c.LogLevel {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.WarnLevel
	}

	if c.JSONLog {
		return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(level)
}
