package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"scribe/internal/config"
)

// TestJWTSecret is the signing secret placed in generated test configs.
const TestJWTSecret = "scribe-test-secret-0123456789"

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Scheduler timings are shortened so worker tests finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.StorageDir = filepath.Join(base, "data", "objects")
	cfgVal.Paths.LogDir = filepath.Join(base, "data", "logs")
	cfgVal.Paths.DatabasePath = filepath.Join(base, "data", "scribe.db")
	cfgVal.Server.Listen = "127.0.0.1:0"
	cfgVal.Auth.JWTSecret = TestJWTSecret
	cfgVal.Auth.BcryptCost = 4
	cfgVal.Scheduler.PollIntervalSeconds = 1
	cfgVal.Scheduler.LeaseSeconds = 30
	cfgVal.Scheduler.HeartbeatIntervalSeconds = 1
	cfgVal.Scheduler.ReclaimIntervalSeconds = 1
	cfgVal.Pipeline.RetryBaseDelayMS = 1
	cfgVal.Pipeline.RetryMaxDelayMS = 5
	cfgVal.Storage.MinFreeBytes = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithFreeDailyJobs overrides the free-tier quota.
func WithFreeDailyJobs(limit int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Quota.FreeDailyJobs = limit
	}
}

// WithConcurrency overrides the worker pool size.
func WithConcurrency(workers int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scheduler.MaxConcurrency = workers
	}
}

// WithEncryptionKey enables transcript sealing with the given base64 key.
func WithEncryptionKey(key string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.EncryptionKey = key
	}
}

// WithEngineEndpoint points the inference client at a test server.
func WithEngineEndpoint(endpoint string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.Endpoint = endpoint
		b.cfg.Engine.RequestsPerSecond = 1000
		b.cfg.Engine.Burst = 1000
	}
}

// WithStubbedBinaries writes shell stubs for the provided names, each printing
// output, and prepends them to PATH.
func WithStubbedBinaries(output string, names ...string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\ncat <<'STUB'\n" + output + "\nSTUB\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
