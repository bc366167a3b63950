package config_test

import (
	"testing"
	"time"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/config"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/queue")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GraceWindow != 10*time.Minute {
		t.Fatalf("expected 10m grace window, got %v", cfg.GraceWindow)
	}
	if cfg.ReopenWindow != 2*time.Hour {
		t.Fatalf("expected 2h reopen window, got %v", cfg.ReopenWindow)
	}
	if cfg.EventHistorySize != 256 {
		t.Fatalf("expected history size 256, got %d", cfg.EventHistorySize)
	}
	if !cfg.SimulateSMS() {
		t.Fatal("expected simulation mode without a gateway URL")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/queue")
	t.Setenv("GRACE_WINDOW", "15m")
	t.Setenv("NOTIFY_WORKERS", "7")
	t.Setenv("SMS_GATEWAY_URL", "http://sms.local/send")
	t.Setenv("SKIP_NOTIFY_THRESHOLD", "not-a-number")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GraceWindow != 15*time.Minute {
		t.Fatalf("expected 15m, got %v", cfg.GraceWindow)
	}
	if cfg.NotifyWorkers != 7 {
		t.Fatalf("expected 7 workers, got %d", cfg.NotifyWorkers)
	}
	if cfg.SimulateSMS() {
		t.Fatal("expected live mode with a gateway URL")
	}
	if cfg.SkipNotifyThreshold != 1 {
		t.Fatalf("expected invalid int to fall back to 1, got %d", cfg.SkipNotifyThreshold)
	}
}

func TestLoad_InvalidTimezone(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/queue")
	t.Setenv("CLINIC_TIMEZONE", "Mars/Olympus")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}
