package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("database_url: postgres://file/db\nattachment_max_mb: 2\nscheduler_poll: 1m\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("ATTACHMENT_MAX_MB", "")
	t.Setenv("SCHEDULER_POLL", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://env/db" {
		t.Errorf("DatabaseURL = %q, env should win", cfg.DatabaseURL)
	}
	if cfg.AttachmentMaxMB != 2 {
		t.Errorf("AttachmentMaxMB = %d, want 2 from file", cfg.AttachmentMaxMB)
	}
	if cfg.SchedulerPoll != time.Minute {
		t.Errorf("SchedulerPoll = %s, want 1m from file", cfg.SchedulerPoll)
	}
	if got := cfg.AttachmentMaxBytes(); got != 2<<20 {
		t.Errorf("AttachmentMaxBytes = %d", got)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/db")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != "development" {
		t.Errorf("Env = %q", cfg.Env)
	}
	if cfg.AttachmentMaxBytes() != 0 {
		t.Errorf("AttachmentMaxBytes = %d, want 0 for default cap", cfg.AttachmentMaxBytes())
	}
}
