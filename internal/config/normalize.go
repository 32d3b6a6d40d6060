package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServer()
	c.normalizeEngine()
	c.normalizeIngest()
	c.normalizeNotifications()
	c.normalizeLogging()
	c.Auth.JWTSecret = strings.TrimSpace(c.Auth.JWTSecret)
	c.Storage.EncryptionKey = strings.TrimSpace(c.Storage.EncryptionKey)
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StorageDir) == "" {
		c.Paths.StorageDir = filepath.Join(c.Paths.DataDir, "objects")
	}
	if c.Paths.StorageDir, err = expandPath(c.Paths.StorageDir); err != nil {
		return fmt.Errorf("paths.storage_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DatabasePath) == "" {
		c.Paths.DatabasePath = filepath.Join(c.Paths.DataDir, "scribe.db")
	}
	if c.Paths.DatabasePath, err = expandPath(c.Paths.DatabasePath); err != nil {
		return fmt.Errorf("paths.database_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.Listen = strings.TrimSpace(c.Server.Listen)
	if c.Server.Listen == "" {
		c.Server.Listen = defaultListen
	}
	origins := make([]string, 0, len(c.Server.CORSAllowedOrigins))
	for _, origin := range c.Server.CORSAllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	c.Server.CORSAllowedOrigins = origins
}

func (c *Config) normalizeEngine() {
	c.Engine.Endpoint = strings.TrimRight(strings.TrimSpace(c.Engine.Endpoint), "/")
	c.Engine.APIKey = strings.TrimSpace(c.Engine.APIKey)
}

func (c *Config) normalizeIngest() {
	c.Ingest.FFprobeBinary = strings.TrimSpace(c.Ingest.FFprobeBinary)
	if c.Ingest.FFprobeBinary == "" {
		c.Ingest.FFprobeBinary = defaultFFprobeBinary
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.Notifications.SendGridAPIKey = strings.TrimSpace(c.Notifications.SendGridAPIKey)
	c.Notifications.EmailFrom = strings.TrimSpace(c.Notifications.EmailFrom)
	c.Notifications.EmailFromName = strings.TrimSpace(c.Notifications.EmailFromName)
	if c.Notifications.EmailFromName == "" {
		c.Notifications.EmailFromName = defaultEmailFromName
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
