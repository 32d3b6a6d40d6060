package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"scribe/internal/config"
	"scribe/internal/queue"
	"scribe/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *queue.Store
	configPath string
	homeDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	// Nothing listens on port 1, so status falls back to the offline snapshot.
	cfg.Engine.Endpoint = "http://127.0.0.1:1"
	cfg.Server.Listen = "127.0.0.1:1"

	homeDir := filepath.Join(testsupport.BaseDir(cfg), "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	configPath := filepath.Join(homeDir, ".config", "scribe", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		store:      testsupport.MustOpenStore(t, cfg),
		configPath: configPath,
		homeDir:    homeDir,
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
data_dir = %q
storage_dir = %q
log_dir = %q
database_path = %q

[server]
listen = %q

[auth]
jwt_secret = %q
bcrypt_cost = 4

[engine]
endpoint = %q
`,
		cfg.Paths.DataDir,
		cfg.Paths.StorageDir,
		cfg.Paths.LogDir,
		cfg.Paths.DatabasePath,
		cfg.Server.Listen,
		cfg.Auth.JWTSecret,
		cfg.Engine.Endpoint,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}
