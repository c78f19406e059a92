package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if got := cfg.Control.PulseHold.Duration(); got != 3*time.Second {
		t.Errorf("PulseHold = %v, want 3s", got)
	}
	if got := cfg.Notifications.Display.Duration(); got != 5*time.Second {
		t.Errorf("Display = %v, want 5s", got)
	}
	if got := cfg.Notifications.Exit.Duration(); got != 300*time.Millisecond {
		t.Errorf("Exit = %v, want 300ms", got)
	}
	if got := cfg.Reservoir.PollInterval.Duration(); got != time.Minute {
		t.Errorf("PollInterval = %v, want 1m", got)
	}
	if cfg.Reservoir.LowThreshold != 26 {
		t.Errorf("LowThreshold = %v, want 26", cfg.Reservoir.LowThreshold)
	}
	if cfg.Control.DefaultIntervalHours != 24 {
		t.Errorf("DefaultIntervalHours = %d, want 24", cfg.Control.DefaultIntervalHours)
	}
	if cfg.Remote.StatusPath != "/status_sistema" {
		t.Errorf("StatusPath = %q", cfg.Remote.StatusPath)
	}
	if !cfg.API.IsEnabled() || !cfg.Reservoir.IsEnabled() {
		t.Error("API and reservoir watcher should be enabled by default")
	}
	if got := cfg.API.Addr(); got != "0.0.0.0:8080" {
		t.Errorf("Addr() = %q, want 0.0.0.0:8080", got)
	}
}

func TestParse_Overrides(t *testing.T) {
	data := []byte(`
remote:
  base_url: http://device.local:5000/
  rate_limit_rps: 2
control:
  pulse_hold: 1500ms
notifications:
  display: 2s
reservoir:
  enabled: false
api:
  port: 9000
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Remote.BaseURL != "http://device.local:5000" {
		t.Errorf("BaseURL = %q, trailing slash should be trimmed", cfg.Remote.BaseURL)
	}
	if cfg.Remote.RateLimitRPS != 2 {
		t.Errorf("RateLimitRPS = %v, want 2", cfg.Remote.RateLimitRPS)
	}
	if got := cfg.Control.PulseHold.Duration(); got != 1500*time.Millisecond {
		t.Errorf("PulseHold = %v, want 1.5s", got)
	}
	if got := cfg.Notifications.Display.Duration(); got != 2*time.Second {
		t.Errorf("Display = %v, want 2s", got)
	}
	if cfg.Reservoir.IsEnabled() {
		t.Error("reservoir watcher should be disabled")
	}
	if cfg.API.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.API.Port)
	}
}

func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("GROWD_TEST_URL", "http://10.0.0.7")

	cfg, err := Parse([]byte(`
remote:
  base_url: ${GROWD_TEST_URL}
database:
  path: ${GROWD_TEST_UNSET_DB:/var/lib/growd.sqlite}
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Remote.BaseURL != "http://10.0.0.7" {
		t.Errorf("BaseURL = %q", cfg.Remote.BaseURL)
	}
	if cfg.Database.Path != "/var/lib/growd.sqlite" {
		t.Errorf("Database.Path = %q, want default from expression", cfg.Database.Path)
	}
}

func TestParse_InvalidDuration(t *testing.T) {
	if _, err := Parse([]byte("control:\n  pulse_hold: soon\n")); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestParse_NegativeDuration(t *testing.T) {
	if _, err := Parse([]byte("notifications:\n  exit: -1s\n")); err == nil {
		t.Fatal("expected error for negative duration")
	}
}

func TestParse_RateLimitMustBePositive(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{"unset takes default", "remote:\n  base_url: http://device\n", false},
		{"positive", "remote:\n  rate_limit_rps: 0.5\n", false},
		{"negative", "remote:\n  rate_limit_rps: -1\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.GetLevel() != "debug" {
		t.Errorf("Log level = %q, want debug", cfg.Log.GetLevel())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of missing file should fail")
	}
}
