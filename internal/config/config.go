package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"remix-studio-go/internal/normalizer"
)

// Config represents the main configuration structure.
type Config struct {
	Service     ServiceConfig     `mapstructure:"service"`
	Compression CompressionConfig `mapstructure:"compression"`
	Output      OutputConfig      `mapstructure:"output"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServiceConfig contains the remote generation service settings.
type ServiceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CompressionConfig contains the upload normalization targets.
type CompressionConfig struct {
	MaxWidth  int     `mapstructure:"max_width"`
	MaxHeight int     `mapstructure:"max_height"`
	Quality   float64 `mapstructure:"quality"`
	MaxSizeMB float64 `mapstructure:"max_size_mb"`
}

// OutputConfig contains result handling settings.
type OutputConfig struct {
	Count     int    `mapstructure:"count"`
	Directory string `mapstructure:"directory"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			PollInterval:   3 * time.Second,
			RequestTimeout: 60 * time.Second,
		},
		Compression: CompressionConfig{
			MaxWidth:  1920,
			MaxHeight: 1920,
			Quality:   0.8,
			MaxSizeMB: 1.0,
		},
		Output: OutputConfig{
			Count:     1,
			Directory: "results",
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "remix-studio.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.remix-studio")
		viper.AddConfigPath("/etc/remix-studio")
	}

	viper.SetEnvPrefix("REMIX_STUDIO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Service.BaseURL == "" {
		return fmt.Errorf("service.base_url is required")
	}
	if !strings.HasPrefix(c.Service.BaseURL, "http://") && !strings.HasPrefix(c.Service.BaseURL, "https://") {
		return fmt.Errorf("service.base_url must be an http(s) URL: %s", c.Service.BaseURL)
	}

	if c.Service.PollInterval <= 0 {
		c.Service.PollInterval = 3 * time.Second
	}
	if c.Service.RequestTimeout < 0 {
		return fmt.Errorf("service.request_timeout must not be negative")
	}

	if c.Compression.MaxWidth <= 0 {
		c.Compression.MaxWidth = 1920
	}
	if c.Compression.MaxHeight <= 0 {
		c.Compression.MaxHeight = 1920
	}
	if c.Compression.Quality <= 0 || c.Compression.Quality > 1 {
		return fmt.Errorf("compression.quality must be in (0, 1], got %v", c.Compression.Quality)
	}
	if c.Compression.MaxSizeMB <= 0 {
		return fmt.Errorf("compression.max_size_mb must be positive, got %v", c.Compression.MaxSizeMB)
	}

	if c.Output.Count < 1 || c.Output.Count > 4 {
		return fmt.Errorf("output.count must be between 1 and 4, got %d", c.Output.Count)
	}
	if c.Output.Directory == "" {
		c.Output.Directory = "results"
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// Policy returns the compression settings as a normalizer policy.
func (c *Config) Policy() normalizer.Policy {
	return normalizer.Policy{
		MaxWidth:  c.Compression.MaxWidth,
		MaxHeight: c.Compression.MaxHeight,
		Quality:   c.Compression.Quality,
		MaxSizeMB: c.Compression.MaxSizeMB,
	}
}
