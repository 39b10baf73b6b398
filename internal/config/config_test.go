package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Settings.CalendarID != "primary" {
		t.Errorf("expected default calendar id primary, got %q", cfg.Settings.CalendarID)
	}
	if cfg.Settings.RedirectPort != 42813 {
		t.Errorf("expected default redirect port 42813, got %d", cfg.Settings.RedirectPort)
	}
	if !cfg.Settings.AutoSync {
		t.Error("expected AutoSync to default to true")
	}
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	t.Setenv("SYNCENGINE_CALENDAR_ID", "work@group.calendar.google.com")
	t.Setenv("SYNCENGINE_SYNC_INTERVAL_MINUTES", "30")
	t.Setenv("SYNCENGINE_AUTO_SYNC", "false")
	t.Setenv("SYNCENGINE_MAX_BATCH_PER_HTTP", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Settings.CalendarID != "work@group.calendar.google.com" {
		t.Errorf("expected the overridden calendar id, got %q", cfg.Settings.CalendarID)
	}
	if cfg.Settings.SyncIntervalMinutes != 30 {
		t.Errorf("expected the overridden interval, got %d", cfg.Settings.SyncIntervalMinutes)
	}
	if cfg.Settings.AutoSync {
		t.Error("expected AutoSync overridden to false")
	}
	if cfg.Settings.MaxBatchPerHTTP != 50 {
		t.Errorf("expected an unparseable int override to fall back to the default 50, got %d", cfg.Settings.MaxBatchPerHTTP)
	}
}

func TestLoadClampsSyncIntervalToOneMinute(t *testing.T) {
	t.Setenv("SYNCENGINE_SYNC_INTERVAL_MINUTES", "0")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Settings.SyncIntervalMinutes != 1 {
		t.Errorf("expected a non-positive interval clamped to 1, got %d", cfg.Settings.SyncIntervalMinutes)
	}
}
