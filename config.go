package pond

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is the file form of the stage options.
type Config struct {
	// Mode is "object" or "bytes".
	Mode string `yaml:"mode"`

	// OutputBuffer is the ring size in bytes for mode "bytes".
	OutputBuffer int `yaml:"output_buffer"`

	// ObjectQueue is the number of chunks held for mode "object".
	ObjectQueue int `yaml:"object_queue"`

	Log LogConfig `yaml:"log"`
}

// LogConfig selects the logger a command builds.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Mode:         ModeObject.String(),
		OutputBuffer: defaultOutputBuffer,
		ObjectQueue:  defaultObjectQueue,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML on top of DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if _, err := ParseMode(c.Mode); err != nil {
		errs = append(errs, err)
	}
	if c.OutputBuffer <= 0 {
		errs = append(errs, fmt.Errorf("output_buffer must be positive, got %d", c.OutputBuffer))
	}
	if c.ObjectQueue < 0 {
		errs = append(errs, fmt.Errorf("object_queue must not be negative, got %d", c.ObjectQueue))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Options converts c into stage options.
func (c Config) Options() ([]Option, error) {
	mode, err := ParseMode(c.Mode)
	if err != nil {
		return nil, err
	}
	return []Option{
		WithMode(mode),
		WithOutputBuffer(c.OutputBuffer),
		WithObjectQueue(c.ObjectQueue),
	}, nil
}

// ParseMode maps "object" and "bytes" to a Mode. An empty string is
// ModeObject.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "object":
		return ModeObject, nil
	case "bytes":
		return ModeBytes, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}
