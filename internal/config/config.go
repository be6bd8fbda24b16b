package config

import (
	"fmt"
	"os"
	"time"

	"file-patch-server/internal/filesystem"
	"file-patch-server/internal/patch"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds all configurable values for the server.
type Config struct {
	WorkingDirectory    string       `yaml:"dir"`
	Transport           string       `yaml:"transport"`
	Port                int          `yaml:"port"`
	MaxFileSizeMB       int          `yaml:"max_file_size_mb"`
	MaxFileLines        int          `yaml:"max_file_lines"`
	MaxConcurrentOps    int          `yaml:"max_concurrent_ops"`
	OperationTimeoutSec int          `yaml:"timeout_sec"`
	LogLevel            string       `yaml:"log_level"`
	Patch               patch.Config `yaml:"patch"`

	// ConfigFile is the YAML file the values were loaded from, if any.
	ConfigFile string `yaml:"-"`
}

// Default returns the configuration used when neither flags nor a config
// file set a value.
func Default() *Config {
	return &Config{
		Transport:           "http",
		Port:                8080,
		MaxFileSizeMB:       10,
		MaxFileLines:        100000,
		MaxConcurrentOps:    10,
		OperationTimeoutSec: 30,
		LogLevel:            "info",
		Patch:               patch.DefaultConfig(),
	}
}

func newFlagSet(cfg *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("file-patch", pflag.ContinueOnError)
	fs.SortFlags = false

	fs.StringVar(&cfg.WorkingDirectory, "dir", cfg.WorkingDirectory, "Path to the working directory (required)")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "Transport protocol (http or stdio)")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Port for HTTP transport")
	fs.IntVar(&cfg.MaxFileSizeMB, "max-file-size", cfg.MaxFileSizeMB, "Maximum file size in MB")
	fs.IntVar(&cfg.MaxFileLines, "max-lines", cfg.MaxFileLines, "Maximum number of lines in a patched file")
	fs.IntVar(&cfg.MaxConcurrentOps, "max-concurrent", cfg.MaxConcurrentOps, "Maximum concurrent apply_diff operations")
	fs.IntVar(&cfg.OperationTimeoutSec, "timeout", cfg.OperationTimeoutSec, "Operation timeout in seconds")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "Optional YAML config file; flags override its values")

	fs.Float64Var(&cfg.Patch.FuzzyThreshold, "fuzzy-threshold", cfg.Patch.FuzzyThreshold, "Score the hinted slice must reach")
	fs.IntVar(&cfg.Patch.BufferLines, "buffer-lines", cfg.Patch.BufferLines, "Lines searched on each side of a line hint")
	fs.Float64Var(&cfg.Patch.MinScanScore, "min-scan-score", cfg.Patch.MinScanScore, "Score a scanned candidate must reach")
	fs.IntVar(&cfg.Patch.MaxUnanchoredLines, "max-unanchored-lines", cfg.Patch.MaxUnanchoredLines, "Skip whole-file search above this many lines (0 = no limit)")
	return fs
}

// ParseFlags builds a Config from command-line args (without the program
// name). When --config names a YAML file, its values replace the defaults
// and flags given explicitly on the command line take precedence over it.
func ParseFlags(args []string) (*Config, error) {
	cfg := Default()
	fs := newFlagSet(cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.ConfigFile == "" {
		return cfg, nil
	}

	fileCfg, err := LoadFile(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}
	replay := newFlagSet(fileCfg)
	fs.Visit(func(f *pflag.Flag) {
		if err == nil {
			err = replay.Set(f.Name, f.Value.String())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("applying flag overrides: %w", err)
	}
	return fileCfg, nil
}

// LoadFile reads a YAML config file on top of Default.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	cfg.ConfigFile = path
	return cfg, nil
}

// Usage returns the flag help text.
func Usage() string {
	return newFlagSet(Default()).FlagUsages()
}

// Validate checks if the configuration values are valid.
func (c *Config) Validate() error {
	if c.WorkingDirectory == "" {
		return fmt.Errorf("working directory is required")
	}
	if err := filesystem.CheckDirectoryIsWritable(c.WorkingDirectory); err != nil {
		return fmt.Errorf("invalid working directory: %w", err)
	}

	if c.Transport != "http" && c.Transport != "stdio" {
		return fmt.Errorf("transport must be 'http' or 'stdio'")
	}
	if c.Port < 1024 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1024 and 65535")
	}
	if c.MaxFileSizeMB < 1 || c.MaxFileSizeMB > 100 {
		return fmt.Errorf("max file size must be between 1 and 100 MB")
	}
	if c.MaxFileLines < 1 {
		return fmt.Errorf("max lines must be positive")
	}
	if c.MaxConcurrentOps < 1 || c.MaxConcurrentOps > 100 {
		return fmt.Errorf("max concurrent operations must be between 1 and 100")
	}
	if c.OperationTimeoutSec < 1 || c.OperationTimeoutSec > 300 {
		return fmt.Errorf("operation timeout must be between 1 and 300 seconds")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if err := c.Patch.Validate(); err != nil {
		return fmt.Errorf("invalid patch settings: %w", err)
	}
	return nil
}

// OperationTimeout is OperationTimeoutSec as a duration.
func (c *Config) OperationTimeout() time.Duration {
	return time.Duration(c.OperationTimeoutSec) * time.Second
}

// MaxFileSizeBytes is MaxFileSizeMB in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}
