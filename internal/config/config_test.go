package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{DefaultSession: "work"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSessionConfigDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "session.toml")

	cfg := &SessionConfig{
		ServerURL: "https://safespace.example",
		UserID:    "u1",
		Role:      "patient",
	}
	if err := SaveSession(path, cfg); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	loaded, err := LoadSession(path)
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if loaded.RetryCeiling != 3 {
		t.Errorf("RetryCeiling = %d, want 3", loaded.RetryCeiling)
	}
	if loaded.SendTimeout() != 15*time.Second {
		t.Errorf("SendTimeout = %v, want 15s", loaded.SendTimeout())
	}
	if loaded.HeartbeatInterval() != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s", loaded.HeartbeatInterval())
	}
	if loaded.PresenceTTL() != 15*time.Second {
		t.Errorf("PresenceTTL = %v, want 15s", loaded.PresenceTTL())
	}
}

func TestSessionConfigOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "session.toml")

	cfg := &SessionConfig{
		ServerURL:          "https://safespace.example",
		RetryCeiling:       5,
		SendTimeoutSeconds: 10,
	}
	if err := SaveSession(path, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadSession(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.RetryCeiling != 5 {
		t.Errorf("RetryCeiling = %d, want 5", loaded.RetryCeiling)
	}
	if loaded.SendTimeout() != 10*time.Second {
		t.Errorf("SendTimeout = %v, want 10s", loaded.SendTimeout())
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultSession: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
