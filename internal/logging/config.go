package logging

import (
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ragstore/internal/config"
)

// Config holds logging configuration. It is decoded from the "logging"
// section of the config file.
type Config struct {
	Level     zapcore.Level     `koanf:"level" yaml:"level"`
	Format    string            `koanf:"format" yaml:"format"`
	Output    OutputConfig      `koanf:"output" yaml:"output"`
	Sampling  SamplingConfig    `koanf:"sampling" yaml:"sampling"`
	Caller    bool              `koanf:"caller" yaml:"caller"`
	Fields    map[string]string `koanf:"fields" yaml:"fields"`
	Redaction RedactionConfig   `koanf:"redaction" yaml:"redaction"`
}

// OutputConfig controls where logs are written.
type OutputConfig struct {
	// Console is "stderr", "stdout" or "none". The MCP stdio transport owns
	// stdout, so stderr is the default.
	Console string `koanf:"console" yaml:"console"`
	OTEL    bool   `koanf:"otel" yaml:"otel"`
}

// SamplingConfig controls volume reduction below error level.
type SamplingConfig struct {
	Enabled    bool            `koanf:"enabled" yaml:"enabled"`
	Tick       config.Duration `koanf:"tick" yaml:"tick"`
	Initial    int             `koanf:"initial" yaml:"initial"`
	Thereafter int             `koanf:"thereafter" yaml:"thereafter"`
}

// RedactionConfig lists keys and value patterns that never reach output.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled" yaml:"enabled"`
	Fields   []string `koanf:"fields" yaml:"fields"`
	Patterns []string `koanf:"patterns" yaml:"patterns"`
}

// NewDefaultConfig returns production defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: OutputConfig{Console: "stderr"},
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       config.Duration(time.Second),
			Initial:    100,
			Thereafter: 10,
		},
		Caller: true,
		Fields: map[string]string{"service": "ragstore"},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"password", "secret", "token", "api_key", "apikey",
				"authorization", "bearer", "credential", "private_key",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
				`\bsk-[A-Za-z0-9_-]{16,}`,
			},
		},
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	switch c.Output.Console {
	case "stderr", "stdout", "none":
	default:
		return fmt.Errorf("output.console must be stderr, stdout or none, got %q", c.Output.Console)
	}
	if c.Output.Console == "none" && !c.Output.OTEL {
		return fmt.Errorf("at least one output must be enabled")
	}
	if c.Sampling.Enabled {
		if c.Sampling.Tick.Duration() <= 0 {
			return fmt.Errorf("sampling tick must be > 0 when sampling enabled")
		}
		if c.Sampling.Initial <= 0 || c.Sampling.Thereafter < 0 {
			return fmt.Errorf("sampling initial must be > 0 and thereafter >= 0")
		}
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if len(p) > maxPatternLen {
				return fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
			}
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("invalid redaction pattern %q: %w", p, err)
			}
		}
	}
	return nil
}
