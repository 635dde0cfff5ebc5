// Package config provides configuration management for streamcore using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute

	// Settings (spec §6) defaults.
	defaultMaxConcurrentDownloads     = 1
	defaultMinFileSizeFilter          = 100 * 1024 // 100 KB
	defaultMaxHistorySize             = 50
	defaultHistoryAutoRemoveInterval  = 30 // days
	defaultMaxConcurrent              = 2  // rate limiter maxConcurrent
	defaultMinInterval                = 500 * time.Millisecond
	defaultHelperRequestTimeout       = 60 * time.Second
	defaultHelperDownloadTimeout      = time.Hour
	defaultHelperHeartbeatInterval    = 15 * time.Second
	defaultHelperReconnectDelay       = 2 * time.Second
	defaultHelperReconnectMaxDelay    = 60 * time.Second
	defaultHelperReconnectMaxAttempts = 0 // 0 = unbounded, capped by breaker
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Helper   HelperConfig   `mapstructure:"helper"`
	Settings Settings       `mapstructure:"settings"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// HelperConfig holds External Helper subprocess and transport configuration (spec §4.C).
type HelperConfig struct {
	Command              string        `mapstructure:"command"`
	Args                 []string      `mapstructure:"args"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	DownloadTimeout      time.Duration `mapstructure:"download_timeout"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay"`
	ReconnectMaxAttempts int           `mapstructure:"reconnect_max_attempts"`
	MaxConcurrent        int           `mapstructure:"max_concurrent"`
	MinInterval          time.Duration `mapstructure:"min_interval"`
}

// Settings holds the recognized options of spec §6, persisted and
// overridable at runtime via the `updateSettings` UI command.
type Settings struct {
	MaxConcurrentDownloads    int    `mapstructure:"max_concurrent_downloads"`
	DefaultSavePath           string `mapstructure:"default_save_path"`
	ShowDownloadNotifications bool   `mapstructure:"show_download_notifications"`
	MinFileSizeFilter         int64  `mapstructure:"min_file_size_filter"`
	AutoGeneratePreviews      bool   `mapstructure:"auto_generate_previews"`
	MaxHistorySize            int    `mapstructure:"max_history_size"`
	HistoryAutoRemoveInterval int    `mapstructure:"history_auto_remove_interval"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with STREAMCORE_ and use underscores for nesting, e.g.
// STREAMCORE_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/streamcore")
		v.AddConfigPath("$HOME/.streamcore")
	}

	v.SetEnvPrefix("STREAMCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "streamcore.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("helper.command", "streamcore-helper")
	v.SetDefault("helper.request_timeout", defaultHelperRequestTimeout)
	v.SetDefault("helper.download_timeout", defaultHelperDownloadTimeout)
	v.SetDefault("helper.heartbeat_interval", defaultHelperHeartbeatInterval)
	v.SetDefault("helper.reconnect_delay", defaultHelperReconnectDelay)
	v.SetDefault("helper.reconnect_max_delay", defaultHelperReconnectMaxDelay)
	v.SetDefault("helper.reconnect_max_attempts", defaultHelperReconnectMaxAttempts)
	v.SetDefault("helper.max_concurrent", defaultMaxConcurrent)
	v.SetDefault("helper.min_interval", defaultMinInterval)

	v.SetDefault("settings.max_concurrent_downloads", defaultMaxConcurrentDownloads)
	v.SetDefault("settings.default_save_path", "")
	v.SetDefault("settings.show_download_notifications", true)
	v.SetDefault("settings.min_file_size_filter", defaultMinFileSizeFilter)
	v.SetDefault("settings.auto_generate_previews", true)
	v.SetDefault("settings.max_history_size", defaultMaxHistorySize)
	v.SetDefault("settings.history_auto_remove_interval", defaultHistoryAutoRemoveInterval)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return c.Settings.Validate()
}

// Validate checks the recognized Settings options against the ranges of spec §6.
func (s *Settings) Validate() error {
	if s.MaxConcurrentDownloads < 1 || s.MaxConcurrentDownloads > 10 {
		return fmt.Errorf("settings.max_concurrent_downloads must be between 1 and 10")
	}
	const maxFileSizeFilter = 100 * 1024 * 1024
	if s.MinFileSizeFilter < 0 || s.MinFileSizeFilter > maxFileSizeFilter {
		return fmt.Errorf("settings.min_file_size_filter must be between 0 and %d", maxFileSizeFilter)
	}
	if s.MaxHistorySize < 0 || s.MaxHistorySize > 200 {
		return fmt.Errorf("settings.max_history_size must be between 0 and 200")
	}
	if s.HistoryAutoRemoveInterval < 1 || s.HistoryAutoRemoveInterval > 365 {
		return fmt.Errorf("settings.history_auto_remove_interval must be between 1 and 365 days")
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
