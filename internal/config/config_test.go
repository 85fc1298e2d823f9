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

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.ServerURL = "https://chat.example.com"
	cfg.User = UserConfig{ID: 42, Email: "  Dev@Example.COM "}
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
	if loaded.ServerURL != "https://chat.example.com" {
		t.Errorf("ServerURL = %q", loaded.ServerURL)
	}
	if loaded.User.Email != "dev@example.com" {
		t.Errorf("Email = %q, want normalized lowercase", loaded.User.Email)
	}
	if !loaded.Enabled {
		t.Error("Enabled should survive the round trip")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestPollIntervalDefaults(t *testing.T) {
	var p PollConfig
	if got := p.ListActiveInterval(); got != 10*time.Second {
		t.Errorf("ListActiveInterval() = %v, want 10s", got)
	}
	if got := p.ListIdleInterval(); got != 60*time.Second {
		t.Errorf("ListIdleInterval() = %v, want 60s", got)
	}
	if got := p.ConversationInterval(); got != 5*time.Second {
		t.Errorf("ConversationInterval() = %v, want 5s", got)
	}

	p = PollConfig{ListActiveSeconds: 3, ListIdleSeconds: 30, ConversationSeconds: 2}
	if got := p.ConversationInterval(); got != 2*time.Second {
		t.Errorf("ConversationInterval() = %v, want 2s", got)
	}
}

func TestLoadRejectsBadPushTransport(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	cfg := Default()
	cfg.Push = PushConfig{Transport: "carrier-pigeon"}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for unknown transport")
	}
}

func TestLoadRequiresTransportURL(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	cfg := Default()
	cfg.Push = PushConfig{Transport: "nats"}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for nats transport without url")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
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
