package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// EncryptionKeySize is the decoded length required for storage.encryption_key.
const EncryptionKeySize = 32

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateQuota(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateAuth() error {
	if c.Auth.JWTSecret == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/scribe/config.toml"
		}
		return fmt.Errorf("auth.jwt_secret is required. Set SCRIBE_JWT_SECRET or edit %s (create with 'scribe config init')", defaultPath)
	}
	if len(c.Auth.JWTSecret) < 16 {
		return errors.New("auth.jwt_secret must be at least 16 characters")
	}
	if c.Auth.TokenTTLHours <= 0 {
		return errors.New("auth.token_ttl_hours must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return errors.New("auth.bcrypt_cost must be between 4 and 31")
	}
	if c.Auth.MinPasswordLength <= 0 {
		return errors.New("auth.min_password_length must be positive")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("server.max_upload_bytes must be positive")
	}
	if c.Server.ReadHeaderTimeoutSeconds <= 0 {
		return errors.New("server.read_header_timeout_seconds must be positive")
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return errors.New("server.shutdown_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateQuota() error {
	if c.Quota.FreeDailyJobs < 0 {
		return errors.New("quota.free_daily_jobs must be zero or positive")
	}
	if c.Quota.WindowHours <= 0 {
		return errors.New("quota.window_hours must be positive")
	}
	if c.Quota.FreeMaxFileBytes <= 0 || c.Quota.PaidMaxFileBytes <= 0 {
		return errors.New("quota max file bytes must be positive")
	}
	if c.Quota.FreeMaxDurationSeconds <= 0 || c.Quota.PaidMaxDurationSeconds <= 0 {
		return errors.New("quota max duration seconds must be positive")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.MaxConcurrency <= 0 {
		return errors.New("scheduler.max_concurrency must be positive")
	}
	if c.Scheduler.PollIntervalSeconds <= 0 {
		return errors.New("scheduler.poll_interval_seconds must be positive")
	}
	if c.Scheduler.LeaseSeconds <= 0 {
		return errors.New("scheduler.lease_seconds must be positive")
	}
	if c.Scheduler.HeartbeatIntervalSeconds <= 0 {
		return errors.New("scheduler.heartbeat_interval_seconds must be positive")
	}
	if c.Scheduler.HeartbeatIntervalSeconds >= c.Scheduler.LeaseSeconds {
		return errors.New("scheduler.heartbeat_interval_seconds must be less than scheduler.lease_seconds")
	}
	if c.Scheduler.ReclaimIntervalSeconds <= 0 {
		return errors.New("scheduler.reclaim_interval_seconds must be positive")
	}
	if c.Scheduler.FreeAgingSeconds < 0 {
		return errors.New("scheduler.free_aging_seconds must be zero or positive")
	}
	if c.Scheduler.MaxClaims <= 0 {
		return errors.New("scheduler.max_claims must be positive")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.StageTimeoutSeconds <= 0 {
		return errors.New("pipeline.stage_timeout_seconds must be positive")
	}
	if c.Pipeline.JobTimeoutSeconds <= 0 {
		return errors.New("pipeline.job_timeout_seconds must be positive")
	}
	if c.Pipeline.MaxAttempts <= 0 {
		return errors.New("pipeline.max_attempts must be positive")
	}
	if c.Pipeline.RetryBaseDelayMS < 0 || c.Pipeline.RetryMaxDelayMS < 0 {
		return errors.New("pipeline retry delays must be zero or positive")
	}
	return nil
}

func (c *Config) validateEngine() error {
	if c.Engine.Endpoint == "" {
		return errors.New("engine.endpoint must be set")
	}
	parsed, err := url.Parse(c.Engine.Endpoint)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("engine.endpoint must be an http(s) URL, got %q", c.Engine.Endpoint)
	}
	if c.Engine.RequestTimeoutSeconds <= 0 {
		return errors.New("engine.request_timeout_seconds must be positive")
	}
	if c.Engine.RequestsPerSecond <= 0 {
		return errors.New("engine.requests_per_second must be positive")
	}
	if c.Engine.Burst <= 0 {
		return errors.New("engine.burst must be positive")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.MinFreeBytes < 0 {
		return errors.New("storage.min_free_bytes must be zero or positive")
	}
	if c.Storage.EncryptionKey == "" {
		return nil
	}
	key, err := base64.StdEncoding.DecodeString(c.Storage.EncryptionKey)
	if err != nil {
		return fmt.Errorf("storage.encryption_key must be base64: %w", err)
	}
	if len(key) != EncryptionKeySize {
		return fmt.Errorf("storage.encryption_key must decode to %d bytes, got %d", EncryptionKeySize, len(key))
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	if c.Notifications.SendGridAPIKey != "" && c.Notifications.EmailFrom == "" {
		return errors.New("notifications.email_from must be set when a sendgrid api key is configured")
	}
	if c.Notifications.EmailFrom != "" && !strings.Contains(c.Notifications.EmailFrom, "@") {
		return fmt.Errorf("notifications.email_from is not an email address: %q", c.Notifications.EmailFrom)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
