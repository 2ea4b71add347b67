package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/gmsas95/paperflow/internal/errors"
)

// Config holds all configuration for paperflow
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Split     SplitConfig     `mapstructure:"split"`
	AI        AIConfig        `mapstructure:"ai"`
	Classify  ClassifyConfig  `mapstructure:"classify"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	API       APIConfig       `mapstructure:"api"`
}

// StorageConfig holds database and folder settings
type StorageConfig struct {
	DataDir           string   `mapstructure:"data_dir"`
	SQLitePath        string   `mapstructure:"sqlite_path"`
	BadgerPath        string   `mapstructure:"badger_path"`
	WatchDir          string   `mapstructure:"watch_dir"`
	StagingDir        string   `mapstructure:"staging_dir"`
	ArchiveDir        string   `mapstructure:"archive_dir"`
	DocumentsDir      string   `mapstructure:"documents_dir"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
	PathSegments      []string `mapstructure:"path_segments"`
}

// ScanConfig holds folder scanning settings
type ScanConfig struct {
	LockFile      string        `mapstructure:"lock_file"`
	LockStaleness time.Duration `mapstructure:"lock_staleness"`
	Schedule      string        `mapstructure:"schedule"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`
}

// SplitConfig holds multi-document PDF splitting settings
type SplitConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	MaxPages     int  `mapstructure:"max_pages"`
	MinPageChars int  `mapstructure:"min_page_chars"`
}

// AIConfig holds AI backend settings
type AIConfig struct {
	Remote            Provider      `mapstructure:"remote"`
	Local             Provider      `mapstructure:"local"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
	AvailabilityTTL   time.Duration `mapstructure:"availability_ttl"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	BreakerTimeout    time.Duration `mapstructure:"breaker_timeout"`
}

// Provider holds individual AI provider configuration
type Provider struct {
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	Timeout   int    `mapstructure:"timeout"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// ClassifyConfig holds cascade settings
type ClassifyConfig struct {
	HistoryMinConfidence float64 `mapstructure:"history_min_confidence"`
	FieldsFile           string  `mapstructure:"fields_file"`
}

// LifecycleConfig holds validation settings
type LifecycleConfig struct {
	AutoApply             bool    `mapstructure:"auto_apply"`
	AutoValidateThreshold float64 `mapstructure:"auto_validate_threshold"`
	AutoFile              bool    `mapstructure:"auto_file"`
}

// LoggingConfig holds log sink settings
type LoggingConfig struct {
	File       string `mapstructure:"file"`
	JSON       bool   `mapstructure:"json"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// APIConfig holds the review API listener. /metrics is served there too.
type APIConfig struct {
	Address      string   `mapstructure:"address"`
	JWTSecret    string   `mapstructure:"jwt_secret"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}
	dataDir = expandPath(dataDir)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.SetDefault("storage.data_dir", dataDir)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "paperflow.db"))
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "badger"))
	v.SetDefault("storage.watch_dir", filepath.Join(dataDir, "consume"))
	v.SetDefault("storage.staging_dir", filepath.Join(dataDir, "staging"))
	v.SetDefault("storage.archive_dir", filepath.Join(dataDir, "archive"))
	v.SetDefault("storage.documents_dir", filepath.Join(dataDir, "documents"))
	v.SetDefault("scan.lock_file", filepath.Join(dataDir, "scan.lock"))
	v.SetDefault("logging.file", filepath.Join(dataDir, "logs", "paperflow.log"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "paperflow.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Environment variables (PAPERFLOW_STORAGE_WATCH_DIR, PAPERFLOW_AI_REMOTE_API_KEY, etc.)
	v.SetEnvPrefix("PAPERFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.allowed_extensions", []string{"pdf", "png", "jpg", "jpeg", "tif", "tiff", "gif", "webp"})

	v.SetDefault("storage.path_segments", []string{"year", "correspondent", "document_type"})

	v.SetDefault("scan.lock_staleness", 10*time.Minute)
	v.SetDefault("scan.schedule", "")
	v.SetDefault("scan.watch_debounce", 5*time.Second)

	v.SetDefault("split.enabled", true)
	v.SetDefault("split.max_pages", 20)
	v.SetDefault("split.min_page_chars", 50)

	v.SetDefault("ai.remote.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.remote.model", "gpt-4o-mini")
	v.SetDefault("ai.remote.timeout", 60)
	v.SetDefault("ai.remote.max_tokens", 1024)
	v.SetDefault("ai.local.base_url", "http://localhost:11434")
	v.SetDefault("ai.local.model", "llama3.1:8b")
	v.SetDefault("ai.local.timeout", 120)
	v.SetDefault("ai.call_timeout", 60*time.Second)
	v.SetDefault("ai.probe_timeout", 3*time.Second)
	v.SetDefault("ai.availability_ttl", time.Duration(0))
	v.SetDefault("ai.requests_per_minute", 60)
	v.SetDefault("ai.breaker_timeout", 30*time.Second)

	v.SetDefault("classify.history_min_confidence", 0.30)

	v.SetDefault("lifecycle.auto_apply", false)
	v.SetDefault("lifecycle.auto_validate_threshold", 0.8)
	v.SetDefault("lifecycle.auto_file", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("api.address", "127.0.0.1:8420")
	v.SetDefault("api.allow_origins", []string{"http://localhost:8420"})
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "paperflow")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "paperflow")
}

// loadEnvOverrides resolves API keys through their well-known aliases
func loadEnvOverrides(cfg *Config) {
	if key := ResolveEnvWithAliases("PAPERFLOW_AI_REMOTE_API_KEY"); key != "" {
		cfg.AI.Remote.APIKey = key
	}
	if host := ResolveEnvWithAliases("PAPERFLOW_AI_LOCAL_BASE_URL"); host != "" {
		cfg.AI.Local.BaseURL = host
	}
	if secret := ResolveEnvWithAliases("PAPERFLOW_API_JWT_SECRET"); secret != "" {
		cfg.API.JWTSecret = secret
	}
	if dir := ResolveEnvWithAliases("PAPERFLOW_STORAGE_WATCH_DIR"); dir != "" {
		cfg.Storage.WatchDir = dir
	}
	cfg.Storage.WatchDir = expandPath(cfg.Storage.WatchDir)
	cfg.Storage.StagingDir = expandPath(cfg.Storage.StagingDir)
	cfg.Storage.ArchiveDir = expandPath(cfg.Storage.ArchiveDir)
	cfg.Storage.DocumentsDir = expandPath(cfg.Storage.DocumentsDir)
	cfg.Classify.FieldsFile = expandPath(cfg.Classify.FieldsFile)
}

func validate(cfg *Config) error {
	if cfg.Storage.WatchDir == "" {
		return apperrors.ErrWatchDirMissing
	}
	if cfg.Split.MaxPages <= 0 {
		return apperrors.ErrConfigInvalid.WithCause(fmt.Errorf("split.max_pages must be positive"))
	}
	if cfg.Lifecycle.AutoValidateThreshold < 0 || cfg.Lifecycle.AutoValidateThreshold > 1 {
		return apperrors.ErrConfigInvalid.WithCause(fmt.Errorf("lifecycle.auto_validate_threshold must be within [0,1]"))
	}
	if cfg.Classify.HistoryMinConfidence < 0 || cfg.Classify.HistoryMinConfidence > 1 {
		return apperrors.ErrConfigInvalid.WithCause(fmt.Errorf("classify.history_min_confidence must be within [0,1]"))
	}
	return nil
}

// RemoteConfigured reports whether the remote AI has credentials
func (c *Config) RemoteConfigured() bool {
	return c.AI.Remote.APIKey != "" && c.AI.Remote.BaseURL != ""
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
