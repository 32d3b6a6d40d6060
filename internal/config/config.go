package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and database locations.
type Paths struct {
	DataDir      string `toml:"data_dir" env:"SCRIBE_DATA_DIR"`
	StorageDir   string `toml:"storage_dir" env:"SCRIBE_STORAGE_DIR"`
	LogDir       string `toml:"log_dir" env:"SCRIBE_LOG_DIR"`
	DatabasePath string `toml:"database_path" env:"SCRIBE_DATABASE_PATH"`
}

// Server contains HTTP listener configuration.
type Server struct {
	Listen                   string   `toml:"listen" env:"SCRIBE_LISTEN"`
	MaxUploadBytes           int64    `toml:"max_upload_bytes" env:"SCRIBE_MAX_UPLOAD_BYTES"`
	ReadHeaderTimeoutSeconds int      `toml:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds   int      `toml:"shutdown_timeout_seconds"`
	CORSAllowedOrigins       []string `toml:"cors_allowed_origins" env:"SCRIBE_CORS_ALLOWED_ORIGINS"`
}

// Auth contains token and password settings for the identity service.
type Auth struct {
	JWTSecret         string `toml:"jwt_secret" env:"SCRIBE_JWT_SECRET"`
	TokenTTLHours     int    `toml:"token_ttl_hours" env:"SCRIBE_TOKEN_TTL_HOURS"`
	BcryptCost        int    `toml:"bcrypt_cost"`
	MinPasswordLength int    `toml:"min_password_length"`
}

// Quota contains plan entitlements and per-file caps.
type Quota struct {
	FreeDailyJobs          int   `toml:"free_daily_jobs" env:"SCRIBE_FREE_DAILY_JOBS"`
	WindowHours            int   `toml:"window_hours"`
	FreeMaxFileBytes       int64 `toml:"free_max_file_bytes" env:"SCRIBE_FREE_MAX_FILE_BYTES"`
	FreeMaxDurationSeconds int   `toml:"free_max_duration_seconds" env:"SCRIBE_FREE_MAX_DURATION_SECONDS"`
	PaidMaxFileBytes       int64 `toml:"paid_max_file_bytes" env:"SCRIBE_PAID_MAX_FILE_BYTES"`
	PaidMaxDurationSeconds int   `toml:"paid_max_duration_seconds" env:"SCRIBE_PAID_MAX_DURATION_SECONDS"`
}

// Scheduler contains worker pool and lease timing.
type Scheduler struct {
	MaxConcurrency           int `toml:"max_concurrency" env:"SCRIBE_MAX_CONCURRENCY"`
	PollIntervalSeconds      int `toml:"poll_interval_seconds"`
	LeaseSeconds             int `toml:"lease_seconds"`
	HeartbeatIntervalSeconds int `toml:"heartbeat_interval_seconds"`
	ReclaimIntervalSeconds   int `toml:"reclaim_interval_seconds"`
	FreeAgingSeconds         int `toml:"free_aging_seconds" env:"SCRIBE_FREE_AGING_SECONDS"`
	// MaxClaims bounds how often a job may be claimed after workers died
	// holding it. Stage retries are counted separately by pipeline.max_attempts.
	MaxClaims                int `toml:"max_claims"`
}

// Pipeline contains per-stage timeout and retry policy.
type Pipeline struct {
	StageTimeoutSeconds int `toml:"stage_timeout_seconds"`
	JobTimeoutSeconds   int `toml:"job_timeout_seconds"`
	MaxAttempts         int `toml:"max_attempts"`
	RetryBaseDelayMS    int `toml:"retry_base_delay_ms"`
	RetryMaxDelayMS     int `toml:"retry_max_delay_ms"`
}

// Engine contains inference engine connection settings.
type Engine struct {
	Endpoint              string  `toml:"endpoint" env:"SCRIBE_ENGINE_ENDPOINT"`
	APIKey                string  `toml:"api_key" env:"SCRIBE_ENGINE_API_KEY"`
	RequestTimeoutSeconds int     `toml:"request_timeout_seconds"`
	RequestsPerSecond     float64 `toml:"requests_per_second"`
	Burst                 int     `toml:"burst"`
}

// Storage contains object store limits and at-rest encryption.
type Storage struct {
	MinFreeBytes  int64  `toml:"min_free_bytes"`
	EncryptionKey string `toml:"encryption_key" env:"SCRIBE_ENCRYPTION_KEY"`
}

// Ingest contains upload validation settings.
type Ingest struct {
	FFprobeBinary       string `toml:"ffprobe_binary" env:"SCRIBE_FFPROBE_BINARY"`
	ProbeTimeoutSeconds int    `toml:"probe_timeout_seconds"`
	RequireProbe        bool   `toml:"require_probe"`
}

// Notifications contains ntfy push and SendGrid email settings.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic" env:"SCRIBE_NTFY_TOPIC"`
	RequestTimeout int    `toml:"request_timeout"`
	SendGridAPIKey string `toml:"sendgrid_api_key" env:"SCRIBE_SENDGRID_API_KEY"`
	EmailFrom      string `toml:"email_from" env:"SCRIBE_EMAIL_FROM"`
	EmailFromName  string `toml:"email_from_name"`
	OnCompleted    bool   `toml:"on_completed"`
	OnFailed       bool   `toml:"on_failed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format" env:"SCRIBE_LOG_FORMAT"`
	Level  string `toml:"level" env:"SCRIBE_LOG_LEVEL"`
	// RetentionDays prunes per-run log files older than this at startup; 0
	// keeps everything.
	RetentionDays int `toml:"retention_days"`
}

// Config encapsulates all configuration values for Scribe.
//
// Configuration sections by subsystem:
//   - Paths: data, object storage, log directories and the database file
//   - Server: HTTP listener and upload limits
//   - Auth: token signing and password policy
//   - Quota: free tier daily allowance and per-plan file caps
//   - Scheduler: worker pool size, leases and free job aging
//   - Pipeline: stage timeouts and retry policy
//   - Engine: inference engine endpoint and throttling
//   - Storage: free space floor and transcript encryption
//   - Ingest: media probing
//   - Notifications: ntfy and email delivery
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Server        Server        `toml:"server"`
	Auth          Auth          `toml:"auth"`
	Quota         Quota         `toml:"quota"`
	Scheduler     Scheduler     `toml:"scheduler"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Engine        Engine        `toml:"engine"`
	Storage       Storage       `toml:"storage"`
	Ingest        Ingest        `toml:"ingest"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/scribe/config.toml")
}

// Load locates, parses, and validates a configuration file. Environment
// variables override file values. The returned config has all path fields
// expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func (c *Config) applyEnv() error {
	if err := cleanenv.ReadEnv(c); err != nil {
		return fmt.Errorf("read environment overrides: %w", err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("scribe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.StorageDir, c.Paths.LogDir}
	if dbDir := filepath.Dir(c.Paths.DatabasePath); dbDir != "" && dbDir != "." {
		dirs = append(dirs, dbDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "scribe.lock")
}

// QuotaWindow returns the rolling usage window.
func (q Quota) QuotaWindow() time.Duration {
	return time.Duration(q.WindowHours) * time.Hour
}

// PollInterval returns how long idle workers wait before re-checking the store.
func (s Scheduler) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// Lease returns the lease length granted on each claim or heartbeat.
func (s Scheduler) Lease() time.Duration {
	return time.Duration(s.LeaseSeconds) * time.Second
}

// HeartbeatInterval returns how often running jobs extend their lease.
func (s Scheduler) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatIntervalSeconds) * time.Second
}

// ReclaimInterval returns how often expired leases are swept.
func (s Scheduler) ReclaimInterval() time.Duration {
	return time.Duration(s.ReclaimIntervalSeconds) * time.Second
}

// FreeAging returns the wait after which free jobs are dispatched with paid priority.
// Zero disables aging.
func (s Scheduler) FreeAging() time.Duration {
	return time.Duration(s.FreeAgingSeconds) * time.Second
}

// StageTimeout returns the timeout applied to each stage attempt.
func (p Pipeline) StageTimeout() time.Duration {
	return time.Duration(p.StageTimeoutSeconds) * time.Second
}

// JobTimeout returns the wall-clock budget for an entire job run.
func (p Pipeline) JobTimeout() time.Duration {
	return time.Duration(p.JobTimeoutSeconds) * time.Second
}

// RetryBaseDelay returns the first retry backoff.
func (p Pipeline) RetryBaseDelay() time.Duration {
	return time.Duration(p.RetryBaseDelayMS) * time.Millisecond
}

// RetryMaxDelay returns the backoff ceiling.
func (p Pipeline) RetryMaxDelay() time.Duration {
	return time.Duration(p.RetryMaxDelayMS) * time.Millisecond
}

// RequestTimeout returns the HTTP timeout for engine calls.
func (e Engine) RequestTimeout() time.Duration {
	return time.Duration(e.RequestTimeoutSeconds) * time.Second
}

// TokenTTL returns the access token lifetime.
func (a Auth) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLHours) * time.Hour
}

// ProbeTimeout returns the ffprobe execution timeout.
func (i Ingest) ProbeTimeout() time.Duration {
	return time.Duration(i.ProbeTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the config as TOML with secrets redacted.
func (c *Config) Encode() ([]byte, error) {
	redacted := *c
	redacted.Auth.JWTSecret = redact(redacted.Auth.JWTSecret)
	redacted.Engine.APIKey = redact(redacted.Engine.APIKey)
	redacted.Storage.EncryptionKey = redact(redacted.Storage.EncryptionKey)
	redacted.Notifications.SendGridAPIKey = redact(redacted.Notifications.SendGridAPIKey)
	return toml.Marshal(redacted)
}

func redact(value string) string {
	if value == "" {
		return ""
	}
	return "********"
}
