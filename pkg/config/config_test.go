package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
	if cfg.HasRelay() {
		t.Errorf("expected no relay server in defaults")
	}
	if got := cfg.Events.Reconnect.Policy().Delay(1); got != time.Second {
		t.Errorf("expected first reconnect delay 1s, got %v", got)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "signaling url must be http",
			mutate: func(c *Config) { c.Signaling.BaseURL = "ws://localhost:8000" },
		},
		{
			name:   "events url must be ws",
			mutate: func(c *Config) { c.Events.BaseURL = "http://localhost:8000" },
		},
		{
			name:   "pong timeout must exceed ping interval",
			mutate: func(c *Config) { c.Events.PongTimeout = c.Events.PingInterval },
		},
		{
			name:   "reconnect max delay below initial delay",
			mutate: func(c *Config) { c.Events.Reconnect.MaxDelay = time.Millisecond },
		},
		{
			name:   "stun server required",
			mutate: func(c *Config) { c.WebRTC.ICEServers = []ICEServer{{URLs: []string{"turn:relay:3478"}}} },
		},
		{
			name: "port range inverted",
			mutate: func(c *Config) {
				c.WebRTC.PortRange.Min = 50000
				c.WebRTC.PortRange.Max = 40000
			},
		},
		{
			name:   "debounce must be > 0",
			mutate: func(c *Config) { c.Viewport.Debounce = 0 },
		},
		{
			name:   "hit lifetime must be > 0",
			mutate: func(c *Config) { c.Overlay.HitLifetime = 0 },
		},
		{
			name:   "unknown geometry source",
			mutate: func(c *Config) { c.Geometry.Source = "guess" },
		},
		{
			name: "poll source needs target size",
			mutate: func(c *Config) {
				c.Geometry.Source = GeometrySourcePoll
				c.Geometry.TargetWidth = 0
			},
		},
		{
			name: "duplicate view ids",
			mutate: func(c *Config) {
				c.Views = []ViewConfig{{ID: "left", Camera: "a"}, {ID: "left", Camera: "b"}}
			},
		},
		{
			name: "rate limit burst must be > 0 when enabled",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.Burst = 0
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected defaults, got error: %v", err)
	}
	if cfg.Server.Address != ":8090" {
		t.Errorf("expected default address, got %q", cfg.Server.Address)
	}
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
signaling:
  base_url: "https://range.example.com/api"
events:
  base_url: "wss://range.example.com/ws"
  reconnect:
    max_attempts: 3
    initial_delay: 500ms
    max_delay: 4s
overlay:
  hit_lifetime: 8s
views:
  - id: target
    camera: cam-1
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("RANGEVIEW_LOG_LEVEL", "debug")
	t.Setenv("RANGEVIEW_TURN_SERVER", "relay.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Events.Reconnect.MaxAttempts != 3 || cfg.Events.Reconnect.InitialDelay != 500*time.Millisecond {
		t.Errorf("reconnect policy not loaded: %+v", cfg.Events.Reconnect)
	}
	if cfg.Overlay.HitLifetime != 8*time.Second {
		t.Errorf("expected hit lifetime 8s, got %v", cfg.Overlay.HitLifetime)
	}
	if cfg.Viewport.Debounce != 100*time.Millisecond {
		t.Errorf("expected default debounce to survive partial yaml, got %v", cfg.Viewport.Debounce)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected env override for log level, got %q", cfg.Logging.Level)
	}
	if !cfg.HasRelay() {
		t.Errorf("expected TURN server from env")
	}
	if len(cfg.Views) != 1 || cfg.Views[0].Camera != "cam-1" {
		t.Errorf("views not loaded: %+v", cfg.Views)
	}
}

func TestLoad_InvalidYAMLRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("overlay:\n  hit_lifetime: 0s\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}
