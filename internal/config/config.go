// Package config holds the application configuration for lumapix.
// Configuration is resolved in three layers: built-in defaults, an optional
// YAML file, and LUMAPIX_* environment variable overrides (highest priority).
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Batch    BatchConfig    `yaml:"batch"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Watcher  WatcherConfig  `yaml:"watcher"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	EnableCORS   bool          `yaml:"enable_cors"`
}

// DatabaseConfig selects and configures the record store backend.
type DatabaseConfig struct {
	Type     string `yaml:"type"` // "sqlite" or "postgres"
	Path     string `yaml:"path"` // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// StorageConfig holds managed-storage directory locations.
type StorageConfig struct {
	DataDir      string `yaml:"data_dir"`
	UploadDir    string `yaml:"upload_dir"`    // transient upload copies
	PreviewDir   string `yaml:"preview_dir"`   // analysis-ready previews
	ThumbnailDir string `yaml:"thumbnail_dir"` // webp thumbnails
}

// BatchConfig holds the default batch pipeline options. Individual batch
// requests may override any of these per call.
type BatchConfig struct {
	ThumbnailSize         int           `yaml:"thumbnail_size"`
	AnalysisImageSize     int           `yaml:"analysis_image_size"`
	Quality               int           `yaml:"quality"`
	SkipDuplicates        bool          `yaml:"skip_duplicates"`
	ParallelConnections   int           `yaml:"parallel_connections"`
	MaxConcurrentAnalysis int           `yaml:"max_concurrent_analysis"`
	MaxRetries            int           `yaml:"max_retries"`
	RetryDelay            time.Duration `yaml:"retry_delay"`
	EnableRateLimit       bool          `yaml:"enable_rate_limit"`
	RateLimitInterval     time.Duration `yaml:"rate_limit_interval"`
}

// AnalysisConfig configures the content-analysis provider.
type AnalysisConfig struct {
	Provider string        `yaml:"provider"` // "openai", "anthropic" or "ollama"
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	Endpoint string        `yaml:"endpoint"` // ollama server URL
	Timeout  time.Duration `yaml:"timeout"`
	Prompt   string        `yaml:"prompt"` // optional prompt override
}

// WatcherConfig configures watch folders that trigger automatic batches.
type WatcherConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Folders  []string      `yaml:"folders"`
	Debounce time.Duration `yaml:"debounce"`
}

var (
	current *Config
	mu      sync.RWMutex
)

// Default returns a configuration with all default values set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			EnableCORS:   true,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: "./lumapix-data/lumapix.db",
			Host: "localhost",
			Port: 5432,
		},
		Storage: StorageConfig{
			DataDir:      "./lumapix-data",
			UploadDir:    "./lumapix-data/uploads",
			PreviewDir:   "./lumapix-data/previews",
			ThumbnailDir: "./lumapix-data/thumbnails",
		},
		Batch: BatchConfig{
			ThumbnailSize:         300,
			AnalysisImageSize:     1024,
			Quality:               85,
			SkipDuplicates:        true,
			ParallelConnections:   1,
			MaxConcurrentAnalysis: 5,
			MaxRetries:            3,
			RetryDelay:            2 * time.Second,
			EnableRateLimit:       true,
			RateLimitInterval:     time.Second,
		},
		Analysis: AnalysisConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Timeout:  60 * time.Second,
		},
		Watcher: WatcherConfig{
			Enabled:  false,
			Debounce: 5 * time.Second,
		},
	}
}

// Load reads configuration from the given YAML file path and applies
// environment overrides. An empty path skips the file layer.
func Load(path string) error {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	mu.Lock()
	current = cfg
	mu.Unlock()
	return nil
}

// Get returns the current configuration, loading defaults if Load was
// never called.
func Get() *Config {
	mu.RLock()
	if current != nil {
		defer mu.RUnlock()
		return current
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		cfg := Default()
		applyEnvOverrides(cfg)
		current = cfg
	}
	return current
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Database.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Batch.ParallelConnections < 1 {
		return fmt.Errorf("parallel_connections must be at least 1")
	}
	if c.Batch.MaxConcurrentAnalysis < 1 {
		return fmt.Errorf("max_concurrent_analysis must be at least 1")
	}
	if c.Batch.Quality < 1 || c.Batch.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Host, "LUMAPIX_HOST")
	setInt(&cfg.Server.Port, "LUMAPIX_PORT")
	setString(&cfg.Database.Type, "LUMAPIX_DATABASE_TYPE")
	setString(&cfg.Database.Path, "LUMAPIX_DATABASE_PATH")
	setString(&cfg.Database.Host, "POSTGRES_HOST")
	setInt(&cfg.Database.Port, "POSTGRES_PORT")
	setString(&cfg.Database.Username, "POSTGRES_USER")
	setString(&cfg.Database.Password, "POSTGRES_PASSWORD")
	setString(&cfg.Database.Database, "POSTGRES_DB")
	setString(&cfg.Storage.DataDir, "LUMAPIX_DATA_DIR")
	setInt(&cfg.Batch.ParallelConnections, "LUMAPIX_PARALLEL_CONNECTIONS")
	setInt(&cfg.Batch.MaxConcurrentAnalysis, "LUMAPIX_MAX_CONCURRENT_ANALYSIS")
	setInt(&cfg.Batch.MaxRetries, "LUMAPIX_MAX_RETRIES")
	setBool(&cfg.Batch.SkipDuplicates, "LUMAPIX_SKIP_DUPLICATES")
	setBool(&cfg.Batch.EnableRateLimit, "LUMAPIX_ENABLE_RATE_LIMIT")
	setString(&cfg.Analysis.Provider, "LUMAPIX_ANALYSIS_PROVIDER")
	setString(&cfg.Analysis.Model, "LUMAPIX_ANALYSIS_MODEL")
	setString(&cfg.Analysis.APIKey, "LUMAPIX_ANALYSIS_API_KEY")
	setString(&cfg.Analysis.Endpoint, "LUMAPIX_ANALYSIS_ENDPOINT")
	setBool(&cfg.Watcher.Enabled, "LUMAPIX_WATCHER_ENABLED")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
