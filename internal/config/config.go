// Package config holds the application's root configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix namespaces environment overrides, e.g. WMR_SERVER_ADDR.
const EnvPrefix = "WMR"

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Server    ServerConfig    `mapstructure:"server"`
	Vendor    VendorConfig    `mapstructure:"vendor"`
	Network   NetworkConfig   `mapstructure:"network"`
	Journal   JournalConfig   `mapstructure:"journal"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

// ColorConfig defines the color settings for different log levels.
// These are used for console output to make logs more readable.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" json:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" json:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" json:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" json:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level" yaml:"level"`
	Format      string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
}

// ServerConfig holds settings for the HTTP API.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MaxFileSize       int64         `mapstructure:"max_file_size"`
	CORSOrigins       []string      `mapstructure:"cors_origins"`
}

// VendorConfig describes the upstream watermark removal service.
type VendorConfig struct {
	ProductID       string            `mapstructure:"product_id"`
	TrialURL        string            `mapstructure:"trial_url"`
	BenefitURL      string            `mapstructure:"benefit_url"`
	UploadURL       string            `mapstructure:"upload_url"`
	WMStatusURL     string            `mapstructure:"wm_status_url"`
	RemoveStatusURL string            `mapstructure:"remove_status_url"`
	DefaultTimeout  time.Duration     `mapstructure:"default_timeout"`
	UploadTimeout   time.Duration     `mapstructure:"upload_timeout"`
	Headers         map[string]string `mapstructure:"headers"`
}

// NetworkConfig holds settings for the outbound connection pool.
type NetworkConfig struct {
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
	KeepAlive           time.Duration `mapstructure:"keep_alive"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `mapstructure:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
	IgnoreTLSErrors     bool          `mapstructure:"ignore_tls_errors"`
	ForceHTTP2          bool          `mapstructure:"force_http2"`
	Proxy               string        `mapstructure:"proxy"`
}

// JournalConfig selects the call journal backend.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
}

// RateLimitConfig bounds requests per client IP. Zero disables the limit.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// SetDefaults registers every key with viper so that env overrides reach
// Unmarshal even when no config file sets them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "watermark-remover")
	v.SetDefault("logger.log_file", "logs/app.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_file_size", 50<<20)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("vendor.product_id", "56")
	v.SetDefault("vendor.trial_url", "https://account.api.apeaksoft.com/v9/product/trial")
	v.SetDefault("vendor.benefit_url", "https://account.api.apeaksoft.com/v9/benefit/status")
	v.SetDefault("vendor.upload_url", "https://ai-api.apeaksoft.com/v6/removeWM/upload")
	v.SetDefault("vendor.wm_status_url", "https://ai-api.apeaksoft.com/v6/removeWM/WM")
	v.SetDefault("vendor.remove_status_url", "https://ai-api.apeaksoft.com/v6/removeWM/status")
	v.SetDefault("vendor.default_timeout", 10*time.Second)
	v.SetDefault("vendor.upload_timeout", 30*time.Second)

	v.SetDefault("network.dial_timeout", 5*time.Second)
	v.SetDefault("network.keep_alive", 15*time.Second)
	v.SetDefault("network.max_idle_conns_per_host", 10)
	v.SetDefault("network.max_conns_per_host", 20)
	v.SetDefault("network.idle_conn_timeout", 90*time.Second)
	v.SetDefault("network.ignore_tls_errors", false)
	v.SetDefault("network.force_http2", true)
	v.SetDefault("network.proxy", "")

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.driver", "sqlite")
	v.SetDefault("journal.dsn", "data/api_calls.db")

	v.SetDefault("ratelimit.requests_per_second", 2.0)
	v.SetDefault("ratelimit.burst", 10)
}

// BindEnv wires WMR_-prefixed environment variables onto the config keys.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error

	if c.Logger.Level != "" {
		if _, err := zapcore.ParseLevel(c.Logger.Level); err != nil {
			errs = append(errs, fmt.Errorf("logger.level %q is not a valid level", c.Logger.Level))
		}
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is a required configuration field"))
	}
	if c.Server.MaxFileSize <= 0 {
		errs = append(errs, errors.New("server.max_file_size must be a positive integer"))
	}

	for key, raw := range map[string]string{
		"vendor.trial_url":         c.Vendor.TrialURL,
		"vendor.benefit_url":       c.Vendor.BenefitURL,
		"vendor.upload_url":        c.Vendor.UploadURL,
		"vendor.wm_status_url":     c.Vendor.WMStatusURL,
		"vendor.remove_status_url": c.Vendor.RemoveStatusURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL", key))
		}
	}
	if c.Vendor.DefaultTimeout < 0 || c.Vendor.UploadTimeout < 0 {
		errs = append(errs, errors.New("vendor timeouts must not be negative"))
	}
	if c.Network.Proxy != "" {
		if _, err := url.Parse(c.Network.Proxy); err != nil {
			errs = append(errs, fmt.Errorf("network.proxy is not a valid URL: %w", err))
		}
	}

	if c.Journal.Enabled {
		switch strings.ToLower(c.Journal.Driver) {
		case "", "sqlite":
		case "postgres", "postgresql", "pgx":
			if c.Journal.DSN == "" {
				errs = append(errs, errors.New("journal.dsn is required for the postgres driver"))
			}
		default:
			errs = append(errs, fmt.Errorf("journal.driver %q is not supported (sqlite, postgres)", c.Journal.Driver))
		}
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("ratelimit.requests_per_second must not be negative"))
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("ratelimit.burst must be a positive integer"))
	}

	return errors.Join(errs...)
}

// Load initializes the configuration singleton from Viper.
func Load(v *viper.Viper) error {
	once.Do(func() {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config: %w", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			loadErr = fmt.Errorf("invalid configuration: %w", err)
			return
		}
		instance = &cfg
	})
	return loadErr
}

// Set replaces the configuration singleton. Used by tests and embedders.
func Set(cfg *Config) {
	once.Do(func() {})
	instance = cfg
}

// Get returns the loaded configuration instance.
func Get() *Config {
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}
