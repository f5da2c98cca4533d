package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hyperengineering/tally/internal/remote"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Tenant     TenantConfig     `yaml:"tenant"`
	Store      StoreConfig      `yaml:"store"`
	Remote     RemoteConfig     `yaml:"remote"`
	Sync       SyncConfig       `yaml:"sync"`
	Hydration  HydrationConfig  `yaml:"hydration"`
	ConfigSync ConfigSyncConfig `yaml:"config_sync"`
	Worker     WorkerConfig     `yaml:"worker"`
	Log        LogConfig        `yaml:"log"`
	Backup     BackupConfig     `yaml:"backup"`
	Cloud      CloudConfig      `yaml:"cloud"`
}

// TenantConfig identifies the tenant this device serves.
type TenantConfig struct {
	ID string `yaml:"id"`
}

// StoreConfig contains local database settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// RemoteConfig contains cloud backend settings.
type RemoteConfig struct {
	URL     string   `yaml:"url"`
	Token   string   `yaml:"-"` // env-only, never in YAML
	Timeout Duration `yaml:"timeout"`
}

// SyncConfig contains push settings.
type SyncConfig struct {
	BatchSize int      `yaml:"batch_size"`
	Retention Duration `yaml:"retention"`
}

// HydrationConfig contains cold-start download settings.
type HydrationConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// ConfigSyncConfig contains reference-data cache settings.
type ConfigSyncConfig struct {
	CachePath string   `yaml:"cache_path"`
	Staleness Duration `yaml:"staleness"`
}

// WorkerConfig contains background scheduling settings.
type WorkerConfig struct {
	PushInterval    Duration `yaml:"push_interval"`
	ProbeInterval   Duration `yaml:"probe_interval"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	BackupInterval  Duration `yaml:"backup_interval"`
	SummaryHour     int      `yaml:"summary_hour"`

	// ConfigCheckInterval is how often an online device checks whether its
	// configuration cache is stale.
	ConfigCheckInterval Duration `yaml:"config_check_interval"`
}

// LogConfig contains logging settings. An empty File logs to stderr.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// BackupConfig contains S3-compatible backup storage settings.
// An empty Bucket disables uploads.
type BackupConfig struct {
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	UseSSL    *bool  `yaml:"use_ssl"`
	AccessKey string `yaml:"-"` // env-only, never in YAML
	SecretKey string `yaml:"-"` // env-only, never in YAML
}

// CloudConfig contains settings of the reference cloud server.
type CloudConfig struct {
	Port            int      `yaml:"port"`
	DBPath          string   `yaml:"db_path"`
	JWTSecret       string   `yaml:"-"` // env-only, never in YAML
	TokenTTL        Duration `yaml:"token_ttl"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("TALLY_CONFIG_PATH", "config/tally.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	// File must exist for this function
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	useSSL := true
	return &Config{
		Store: StoreConfig{
			Path: "data/tally.db",
		},
		Remote: RemoteConfig{
			Timeout: Duration(30 * time.Second),
		},
		Sync: SyncConfig{
			BatchSize: 50,
			Retention: Duration(7 * 24 * time.Hour),
		},
		Hydration: HydrationConfig{
			BatchSize: 500,
		},
		ConfigSync: ConfigSyncConfig{
			CachePath: "data/config.bolt",
			Staleness: Duration(time.Hour),
		},
		Worker: WorkerConfig{
			PushInterval:    Duration(30 * time.Second),
			ProbeInterval:   Duration(15 * time.Second),
			CleanupInterval: Duration(time.Hour),
			BackupInterval:  Duration(24 * time.Hour),
			SummaryHour:     22,

			ConfigCheckInterval: Duration(5 * time.Minute),
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 5,
		},
		Backup: BackupConfig{
			Region: "us-east-1",
			UseSSL: &useSSL,
		},
		Cloud: CloudConfig{
			Port:            8080,
			DBPath:          "data/cloud.db",
			TokenTTL:        Duration(30 * 24 * time.Hour),
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Tenant
	if v := os.Getenv("TALLY_TENANT_ID"); v != "" {
		cfg.Tenant.ID = v
	}

	// Store
	if v := os.Getenv("TALLY_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}

	// Remote
	if v := os.Getenv("TALLY_REMOTE_URL"); v != "" {
		cfg.Remote.URL = v
	}
	if v := os.Getenv("TALLY_REMOTE_TOKEN"); v != "" {
		cfg.Remote.Token = v
	}
	envDuration("TALLY_REMOTE_TIMEOUT", &cfg.Remote.Timeout)

	// Sync
	envInt("TALLY_SYNC_BATCH_SIZE", &cfg.Sync.BatchSize)
	envDuration("TALLY_SYNC_RETENTION", &cfg.Sync.Retention)

	// Hydration
	envInt("TALLY_HYDRATION_BATCH_SIZE", &cfg.Hydration.BatchSize)

	// Config sync
	if v := os.Getenv("TALLY_CONFIG_CACHE_PATH"); v != "" {
		cfg.ConfigSync.CachePath = v
	}
	envDuration("TALLY_CONFIG_STALENESS", &cfg.ConfigSync.Staleness)

	// Worker
	envDuration("TALLY_PUSH_INTERVAL", &cfg.Worker.PushInterval)
	envDuration("TALLY_PROBE_INTERVAL", &cfg.Worker.ProbeInterval)
	envDuration("TALLY_CLEANUP_INTERVAL", &cfg.Worker.CleanupInterval)
	envDuration("TALLY_BACKUP_INTERVAL", &cfg.Worker.BackupInterval)
	envInt("TALLY_SUMMARY_HOUR", &cfg.Worker.SummaryHour)
	envDuration("TALLY_CONFIG_CHECK_INTERVAL", &cfg.Worker.ConfigCheckInterval)

	// Log
	if v := os.Getenv("TALLY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TALLY_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("TALLY_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}

	// Backup
	if v := os.Getenv("TALLY_BACKUP_BUCKET"); v != "" {
		cfg.Backup.Bucket = v
	}
	if v := os.Getenv("TALLY_S3_ENDPOINT"); v != "" {
		cfg.Backup.Endpoint = v
	}
	if v := os.Getenv("TALLY_S3_REGION"); v != "" {
		cfg.Backup.Region = v
	}
	if v := os.Getenv("TALLY_S3_ACCESS_KEY"); v != "" {
		cfg.Backup.AccessKey = v
	}
	if v := os.Getenv("TALLY_S3_SECRET_KEY"); v != "" {
		cfg.Backup.SecretKey = v
	}
	if v := os.Getenv("TALLY_S3_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.Backup.UseSSL = &useSSL
	}

	// Cloud
	envInt("TALLY_CLOUD_PORT", &cfg.Cloud.Port)
	if v := os.Getenv("TALLY_CLOUD_DB_PATH"); v != "" {
		cfg.Cloud.DBPath = v
	}
	if v := os.Getenv("TALLY_JWT_SECRET"); v != "" {
		cfg.Cloud.JWTSecret = v
	}
	envDuration("TALLY_TOKEN_TTL", &cfg.Cloud.TokenTTL)
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// validate checks value ranges shared by every command.
func (c *Config) validate() error {
	if c.Worker.SummaryHour < 0 || c.Worker.SummaryHour > 23 {
		return fmt.Errorf("worker.summary_hour must be between 0 and 23, got %d", c.Worker.SummaryHour)
	}
	if c.Worker.PushInterval <= 0 {
		return errors.New("worker.push_interval must be positive")
	}
	if c.Worker.CleanupInterval <= 0 {
		return errors.New("worker.cleanup_interval must be positive")
	}
	if c.Worker.ConfigCheckInterval <= 0 {
		return errors.New("worker.config_check_interval must be positive")
	}
	if c.Worker.BackupInterval < 0 {
		return errors.New("worker.backup_interval must not be negative")
	}
	if c.Hydration.BatchSize > remote.MaxPageSize {
		return fmt.Errorf("hydration.batch_size must not exceed %d, got %d", remote.MaxPageSize, c.Hydration.BatchSize)
	}
	if c.Sync.BatchSize < 0 || c.Hydration.BatchSize < 0 {
		return errors.New("batch sizes must not be negative")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	return nil
}

// RequireDevice checks the settings a POS device cannot run without.
// In dev mode (TALLY_DEV_MODE=true) the check is skipped.
func (c *Config) RequireDevice() error {
	if devMode() {
		return nil
	}
	if c.Tenant.ID == "" {
		return errors.New("TALLY_TENANT_ID is required")
	}
	if c.Remote.URL == "" {
		return errors.New("TALLY_REMOTE_URL is required")
	}
	return nil
}

// RequireCloud checks the settings the cloud server cannot run without.
// In dev mode (TALLY_DEV_MODE=true) the check is skipped.
func (c *Config) RequireCloud() error {
	if devMode() {
		return nil
	}
	if c.Cloud.JWTSecret == "" {
		return errors.New("TALLY_JWT_SECRET is required")
	}
	return nil
}

func devMode() bool {
	return os.Getenv("TALLY_DEV_MODE") == "true"
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
