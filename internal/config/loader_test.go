package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("unexpected resolved path: %s", resolved)
	}
	if cfg.Addr != Default().Addr || cfg.Heartbeat != 4*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config to be written: %v", err)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("addr: \":9090\"\njwt_required: true\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TNCHAT_ADDR", ":7070")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" {
		t.Fatalf("expected env override, got %s", cfg.Addr)
	}
	if !cfg.JWTRequired {
		t.Fatalf("expected jwt_required from file")
	}
}

func TestLoadClientWithoutFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TNCHAT_NICKNAME", "alice")

	cfg, err := LoadClient(nil, filepath.Join(dir, "client.yaml"))
	if err != nil {
		t.Fatalf("load client: %v", err)
	}
	if cfg.Nickname != "alice" {
		t.Fatalf("expected nickname from env, got %q", cfg.Nickname)
	}
	if cfg.ReconnectDelay != 5*time.Second || cfg.FailureThreshold != 3 {
		t.Fatalf("unexpected client defaults: %+v", cfg)
	}
	if _, err := os.Stat(filepath.Join(dir, "client.yaml")); !os.IsNotExist(err) {
		t.Fatalf("client config must not be created")
	}
}

func TestUpdateFrom(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":1", Heartbeat: time.Second})
	if cfg.Addr != ":1" || cfg.Heartbeat != time.Second {
		t.Fatalf("unexpected merge result: %+v", cfg)
	}
	if cfg.DatabasePath != Default().DatabasePath {
		t.Fatalf("zero values must not overwrite")
	}
}
