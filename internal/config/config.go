// Package config provides YAML-based configuration with environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/print-slicer/backend/internal/mesh"
	"github.com/print-slicer/backend/internal/report"
	"github.com/print-slicer/backend/internal/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. SLICER_SERVER_PORT.
const EnvPrefix = "SLICER_"

// AppConfig is the root configuration.
type AppConfig struct {
	Server     ServerConfig     `yaml:"server" envPrefix:"SERVER_"`
	Storage    StorageConfig    `yaml:"storage" envPrefix:"STORAGE_"`
	Slicing    SlicingConfig    `yaml:"slicing" envPrefix:"SLICING_"`
	Conversion ConversionConfig `yaml:"conversion" envPrefix:"CONVERSION_"`
	Pricing    PricingConfig    `yaml:"pricing" envPrefix:"PRICING_"`
	Limits     LimitsConfig     `yaml:"limits" envPrefix:"LIMITS_"`
	Records    RecordsConfig    `yaml:"records" envPrefix:"RECORDS_"`
	Blob       BlobConfig       `yaml:"blob" envPrefix:"BLOB_"`
	Redis      RedisConfig      `yaml:"redis" envPrefix:"REDIS_"`
	Completion CompletionConfig `yaml:"completion" envPrefix:"COMPLETION_"`
	Callback   CallbackConfig   `yaml:"callback" envPrefix:"CALLBACK_"`
	Telemetry  telemetry.Config `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Log        LogConfig        `yaml:"log" envPrefix:"LOG_"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	BindAddress     string        `yaml:"bind_address" env:"BIND_ADDRESS"`
	EnableCORS      bool          `yaml:"enable_cors" env:"ENABLE_CORS"`
	AllowOrigins    []string      `yaml:"allow_origins" env:"ALLOW_ORIGINS" envSeparator:","`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	BodyLimit       string        `yaml:"body_limit" env:"BODY_LIMIT"`
}

// StorageConfig contains local storage settings.
type StorageConfig struct {
	DataDirectory   string        `yaml:"data_directory" env:"DATA_DIRECTORY"`
	WorkDirectory   string        `yaml:"work_directory" env:"WORK_DIRECTORY"`
	StatsPath       string        `yaml:"stats_path" env:"STATS_PATH"`
	MaxDownloadSize int64         `yaml:"max_download_size" env:"MAX_DOWNLOAD_SIZE"`
	DownloadTimeout time.Duration `yaml:"download_timeout" env:"DOWNLOAD_TIMEOUT"`
	BatchMaxAge     time.Duration `yaml:"batch_max_age" env:"BATCH_MAX_AGE"`
	StatsMaxAge     time.Duration `yaml:"stats_max_age" env:"STATS_MAX_AGE"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
}

// SlicingConfig configures the slicing engine.
type SlicingConfig struct {
	Binary            string        `yaml:"binary" env:"BINARY"`
	ConfigPath        string        `yaml:"config_path" env:"CONFIG_PATH"`
	Args              []string      `yaml:"args,omitempty" env:"ARGS" envSeparator:" "`
	Timeout           time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Density           float64       `yaml:"density" env:"DENSITY"`
	AllowedExtensions []string      `yaml:"allowed_extensions" env:"ALLOWED_EXTENSIONS" envSeparator:","`
}

// ConversionConfig configures format conversion. Native converters run first;
// the external converter is the fallback.
type ConversionConfig struct {
	Native  bool          `yaml:"native" env:"NATIVE"`
	Binary  string        `yaml:"binary" env:"BINARY"`
	Args    []string      `yaml:"args,omitempty" env:"ARGS" envSeparator:" "`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// PricingConfig holds the static pricing parameters.
type PricingConfig struct {
	SpoolPrice float64 `yaml:"spool_price" env:"SPOOL_PRICE"`
	Margin     float64 `yaml:"margin" env:"MARGIN"`
	Surcharge  float64 `yaml:"surcharge" env:"SURCHARGE"`
}

// LimitsConfig holds the static per-axis size limits in millimetres.
type LimitsConfig struct {
	X float64 `yaml:"x" env:"X"`
	Y float64 `yaml:"y" env:"Y"`
	Z float64 `yaml:"z" env:"Z"`
}

// RecordsConfig selects the document store. Databases maps an environment
// name to its database; DefaultEnv is used when a request names none.
type RecordsConfig struct {
	Driver            string            `yaml:"driver" env:"DRIVER"`
	URI               string            `yaml:"uri" env:"URI"`
	Databases         map[string]string `yaml:"databases,omitempty" env:"DATABASES"`
	DefaultEnv        string            `yaml:"default_env" env:"DEFAULT_ENV"`
	FilesCollection   string            `yaml:"files_collection" env:"FILES_COLLECTION"`
	ConfigsCollection string            `yaml:"configs_collection" env:"CONFIGS_COLLECTION"`
	ConnectTimeout    time.Duration     `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// BlobConfig selects the blob store.
type BlobConfig struct {
	Driver          string `yaml:"driver" env:"DRIVER"`
	Directory       string `yaml:"directory" env:"DIRECTORY"`
	Bucket          string `yaml:"bucket" env:"BUCKET"`
	Region          string `yaml:"region" env:"REGION"`
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	UsePathStyle    bool   `yaml:"use_path_style" env:"USE_PATH_STYLE"`
}

// RedisConfig configures the optional report publisher.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
	Addr     string        `yaml:"addr" env:"ADDR"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB"`
	Channel  string        `yaml:"channel" env:"CHANNEL"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
}

// CompletionConfig lists batch-completion endpoints, tried in order.
type CompletionConfig struct {
	Endpoints     []report.Endpoint `yaml:"endpoints,omitempty"`
	CartEndpoints []report.Endpoint `yaml:"cart_endpoints,omitempty"`
	Timeout       time.Duration     `yaml:"timeout" env:"TIMEOUT"`
}

// CallbackConfig configures per-file callbacks.
type CallbackConfig struct {
	Secret   string        `yaml:"secret" env:"SECRET"`
	Issuer   string        `yaml:"issuer" env:"ISSUER"`
	TokenTTL time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// RateLimitConfig limits slice requests per client IP.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" env:"ENABLED"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Burst             int           `yaml:"burst" env:"BURST"`
	ExpiresIn         time.Duration `yaml:"expires_in" env:"EXPIRES_IN"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:            8089,
			BindAddress:     "0.0.0.0",
			EnableCORS:      true,
			AllowOrigins:    []string{"*"},
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 5 * time.Minute,
			BodyLimit:       "200M",
		},
		Storage: StorageConfig{
			DataDirectory:   "./data",
			WorkDirectory:   "./data/work",
			StatsPath:       "./data/stats.duckdb",
			MaxDownloadSize: 200 << 20,
			DownloadTimeout: 2 * time.Minute,
			BatchMaxAge:     24 * time.Hour,
			StatsMaxAge:     90 * 24 * time.Hour,
			CleanupInterval: 10 * time.Minute,
		},
		Slicing: SlicingConfig{
			Binary:            "prusa-slicer",
			ConfigPath:        "./config.ini",
			Timeout:           240 * time.Second,
			Density:           1.25,
			AllowedExtensions: append([]string(nil), mesh.DefaultAllowed...),
		},
		Conversion: ConversionConfig{
			Native:  true,
			Timeout: 2 * time.Minute,
		},
		Pricing: PricingConfig{
			SpoolPrice: 20,
			Margin:     1,
		},
		Limits: LimitsConfig{X: 300, Y: 300, Z: 300},
		Records: RecordsConfig{
			Driver:            "memory",
			URI:               "mongodb://localhost:27017",
			Databases:         map[string]string{"dev": "slicer_dev", "prod": "slicer"},
			DefaultEnv:        "prod",
			FilesCollection:   "files",
			ConfigsCollection: "configs",
			ConnectTimeout:    10 * time.Second,
		},
		Blob: BlobConfig{
			Driver:    "local",
			Directory: "./data/blobs",
			Region:    "auto",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "slicer:batches",
			TTL:     24 * time.Hour,
		},
		Completion: CompletionConfig{
			Timeout: 30 * time.Second,
		},
		Callback: CallbackConfig{
			Issuer:   "slicer",
			TokenTTL: 5 * time.Minute,
			Timeout:  30 * time.Second,
		},
		Telemetry: telemetry.Config{
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "slicer",
			SampleRate:   0.1,
			Insecure:     true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 5,
			Burst:             20,
			ExpiresIn:         3 * time.Minute,
		},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file is created
// with the defaults.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := config.applyEnvironmentOverrides(); err != nil {
		return nil, err
	}
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes the configuration as YAML.
func (c *AppConfig) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Slicing service configuration\n# This file is auto-generated on first run\n\n")
	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, append(header, output...), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyEnvironmentOverrides applies SLICER_* variables over file values.
// PORT is honoured as well for platform deployments.
func (c *AppConfig) applyEnvironmentOverrides() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if port := os.Getenv("PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil {
			c.Server.Port = p
		}
	}
	return nil
}

// resolvePaths converts relative paths to absolute based on config file location.
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.WorkDirectory,
		&c.Storage.StatsPath,
		&c.Blob.Directory,
		&c.Slicing.ConfigPath,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// Validate reports every invalid setting.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Storage.CleanupInterval <= 0 {
		errs = append(errs, errors.New("storage.cleanup_interval must be positive"))
	}
	if c.Slicing.Binary == "" {
		errs = append(errs, errors.New("slicing.binary is required"))
	}
	if c.Slicing.Timeout <= 0 {
		errs = append(errs, errors.New("slicing.timeout must be positive"))
	}
	if c.Slicing.Density <= 0 {
		errs = append(errs, errors.New("slicing.density must be positive"))
	}
	if c.Pricing.SpoolPrice < 0 {
		errs = append(errs, errors.New("pricing.spool_price must not be negative"))
	}
	if c.Limits.X < 0 || c.Limits.Y < 0 || c.Limits.Z < 0 {
		errs = append(errs, errors.New("limits must not be negative"))
	}

	switch c.Records.Driver {
	case "memory":
	case "mongo":
		if c.Records.URI == "" {
			errs = append(errs, errors.New("records.uri is required for the mongo driver"))
		}
		if _, ok := c.Records.Databases[c.Records.DefaultEnv]; !ok {
			errs = append(errs, fmt.Errorf("records.default_env %q has no database", c.Records.DefaultEnv))
		}
	default:
		errs = append(errs, fmt.Errorf("records.driver %q must be memory or mongo", c.Records.Driver))
	}

	switch c.Blob.Driver {
	case "local":
		if c.Blob.Directory == "" {
			errs = append(errs, errors.New("blob.directory is required for the local driver"))
		}
	case "s3":
		if c.Blob.Bucket == "" {
			errs = append(errs, errors.New("blob.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob.driver %q must be local or s3", c.Blob.Driver))
	}

	for _, ep := range append(append([]report.Endpoint{}, c.Completion.Endpoints...), c.Completion.CartEndpoints...) {
		u, err := url.Parse(strings.NewReplacer("{prefix}", "p", "{cart}", "c").Replace(ep.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("completion endpoint %q has invalid url %q", ep.Name, ep.URL))
		}
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or console", c.Log.Format))
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("rate_limit.requests_per_second must be positive"))
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, errors.New("telemetry.otlp_endpoint is required when telemetry is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// GetServerAddr returns the server bind address.
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories.
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{c.Storage.DataDirectory, c.Storage.WorkDirectory}
	if c.Blob.Driver == "local" {
		dirs = append(dirs, c.Blob.Directory)
	}
	if c.Storage.StatsPath != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.StatsPath))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
