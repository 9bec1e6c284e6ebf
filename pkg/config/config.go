package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"rangeview/pkg/retry"

	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// ReconnectConfig is the YAML form of a retry.Config
type ReconnectConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

func (r ReconnectConfig) Policy() retry.Config {
	return retry.Config{
		MaxAttempts:  r.MaxAttempts,
		InitialDelay: r.InitialDelay,
		MaxDelay:     r.MaxDelay,
		Multiplier:   2.0,
	}
}

// ViewConfig describes a view opened at startup
type ViewConfig struct {
	ID     string  `yaml:"id"`
	Camera string  `yaml:"camera"`
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signaling struct {
		BaseURL          string          `yaml:"base_url"`
		RequestTimeout   time.Duration   `yaml:"request_timeout"`
		GatheringTimeout time.Duration   `yaml:"gathering_timeout"`
		Reconnect        ReconnectConfig `yaml:"reconnect"`
	} `yaml:"signaling"`

	Events struct {
		BaseURL             string          `yaml:"base_url"`
		ViewportQuery       bool            `yaml:"viewport_query"`
		HandshakeTimeout    time.Duration   `yaml:"handshake_timeout"`
		PingInterval        time.Duration   `yaml:"ping_interval"`
		PongTimeout         time.Duration   `yaml:"pong_timeout"`
		WriteTimeout        time.Duration   `yaml:"write_timeout"`
		MaxMessageSizeBytes int64           `yaml:"max_message_size_bytes"`
		Reconnect           ReconnectConfig `yaml:"reconnect"`
	} `yaml:"events"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Viewport struct {
		Debounce time.Duration `yaml:"debounce"`
	} `yaml:"viewport"`

	Overlay struct {
		HitLifetime time.Duration `yaml:"hit_lifetime"`
	} `yaml:"overlay"`

	Geometry struct {
		Source       string        `yaml:"source"` // "channel" or "poll"
		PollInterval time.Duration `yaml:"poll_interval"`
		TargetWidth  int           `yaml:"target_width"`
		TargetHeight int           `yaml:"target_height"`
	} `yaml:"geometry"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Auth struct {
		TokenSecret string        `yaml:"token_secret"`
		TokenTTL    time.Duration `yaml:"token_ttl"`
		Subject     string        `yaml:"subject"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled                 bool    `yaml:"enabled"`
		RequestsPerSecond       float64 `yaml:"requests_per_second"`
		Burst                   int     `yaml:"burst"`
		ParseErrorLogsPerSecond float64 `yaml:"parse_error_logs_per_second"`
	} `yaml:"rate_limiting"`

	Views []ViewConfig `yaml:"views"`
}

const (
	GeometrySourceChannel = "channel"
	GeometrySourcePoll    = "poll"
)

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server timeouts must be > 0")
	}

	// Signaling
	if err := validateBaseURL("signaling.base_url", c.Signaling.BaseURL, "http", "https"); err != nil {
		return err
	}
	if c.Signaling.RequestTimeout <= 0 {
		return fmt.Errorf("signaling.request_timeout must be > 0")
	}
	if c.Signaling.GatheringTimeout <= 0 {
		return fmt.Errorf("signaling.gathering_timeout must be > 0")
	}
	if err := c.Signaling.Reconnect.Policy().Validate(); err != nil {
		return fmt.Errorf("signaling.reconnect: %w", err)
	}

	// Events
	if err := validateBaseURL("events.base_url", c.Events.BaseURL, "ws", "wss"); err != nil {
		return err
	}
	if c.Events.HandshakeTimeout <= 0 {
		return fmt.Errorf("events.handshake_timeout must be > 0")
	}
	if c.Events.PingInterval <= 0 {
		return fmt.Errorf("events.ping_interval must be > 0")
	}
	if c.Events.PongTimeout <= c.Events.PingInterval {
		return fmt.Errorf("events.pong_timeout must be > events.ping_interval")
	}
	if c.Events.WriteTimeout <= 0 {
		return fmt.Errorf("events.write_timeout must be > 0")
	}
	if c.Events.MaxMessageSizeBytes < 0 {
		return fmt.Errorf("events.max_message_size_bytes must be >= 0")
	}
	if err := c.Events.Reconnect.Policy().Validate(); err != nil {
		return fmt.Errorf("events.reconnect: %w", err)
	}

	// WebRTC
	hasSTUN := false
	for _, s := range c.WebRTC.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("webrtc.ice_servers entries must have at least one url")
		}
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "stun:") {
				hasSTUN = true
			}
		}
	}
	if !hasSTUN {
		return fmt.Errorf("webrtc.ice_servers must include at least one stun: server")
	}
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	// Viewport / overlay
	if c.Viewport.Debounce <= 0 {
		return fmt.Errorf("viewport.debounce must be > 0")
	}
	if c.Overlay.HitLifetime <= 0 {
		return fmt.Errorf("overlay.hit_lifetime must be > 0")
	}

	// Geometry
	switch c.Geometry.Source {
	case GeometrySourceChannel:
	case GeometrySourcePoll:
		if c.Geometry.PollInterval <= 0 {
			return fmt.Errorf("geometry.poll_interval must be > 0 when geometry.source=poll")
		}
		if c.Geometry.TargetWidth <= 0 || c.Geometry.TargetHeight <= 0 {
			return fmt.Errorf("geometry.target_width and target_height must be > 0 when geometry.source=poll")
		}
	default:
		return fmt.Errorf("geometry.source must be %q or %q", GeometrySourceChannel, GeometrySourcePoll)
	}

	// Tracing
	if c.Tracing.Enabled && c.Tracing.JaegerURL == "" {
		return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Auth
	if c.Auth.TokenSecret != "" && c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0 when auth.token_secret is set")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}
	if c.RateLimiting.ParseErrorLogsPerSecond < 0 {
		return fmt.Errorf("rate_limiting.parse_error_logs_per_second must be >= 0")
	}

	// Views
	seen := make(map[string]bool, len(c.Views))
	for _, v := range c.Views {
		if v.ID == "" {
			return fmt.Errorf("views entries must have an id")
		}
		if seen[v.ID] {
			return fmt.Errorf("duplicate view id %q", v.ID)
		}
		seen[v.ID] = true
	}

	return nil
}

// HasRelay reports whether a TURN server is configured.
func (c *Config) HasRelay() bool {
	for _, s := range c.WebRTC.ICEServers {
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				return true
			}
		}
	}
	return false
}

func validateBaseURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of %v, got %q", field, schemes, u.Scheme)
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8090"
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 10 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.Signaling.BaseURL = "http://localhost:8000"
	cfg.Signaling.RequestTimeout = 15 * time.Second
	cfg.Signaling.GatheringTimeout = 5 * time.Second
	cfg.Signaling.Reconnect = ReconnectConfig{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: 30 * time.Second}

	cfg.Events.BaseURL = "ws://localhost:8000"
	cfg.Events.HandshakeTimeout = 10 * time.Second
	cfg.Events.PingInterval = 30 * time.Second
	cfg.Events.PongTimeout = 60 * time.Second
	cfg.Events.WriteTimeout = 10 * time.Second
	cfg.Events.MaxMessageSizeBytes = 64 * 1024
	cfg.Events.Reconnect = ReconnectConfig{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: 30 * time.Second}

	cfg.WebRTC.ICEServers = []ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun.cloudflare.com:3478"}},
	}

	cfg.Viewport.Debounce = 100 * time.Millisecond
	cfg.Overlay.HitLifetime = 6 * time.Second

	cfg.Geometry.Source = GeometrySourceChannel
	cfg.Geometry.PollInterval = time.Hour
	cfg.Geometry.TargetWidth = 1280
	cfg.Geometry.TargetHeight = 720

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "rangeview"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Auth.TokenTTL = 5 * time.Minute
	cfg.Auth.Subject = "rangeview"

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 20
	cfg.RateLimiting.Burst = 40
	cfg.RateLimiting.ParseErrorLogsPerSecond = 1

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("RANGEVIEW_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if base := os.Getenv("RANGEVIEW_SIGNALING_URL"); base != "" {
		c.Signaling.BaseURL = base
	}
	if base := os.Getenv("RANGEVIEW_EVENTS_URL"); base != "" {
		c.Events.BaseURL = base
	}
	if level := os.Getenv("RANGEVIEW_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("RANGEVIEW_TOKEN_SECRET"); secret != "" {
		c.Auth.TokenSecret = secret
	}
	if host := os.Getenv("RANGEVIEW_TURN_SERVER"); host != "" {
		c.WebRTC.ICEServers = append(c.WebRTC.ICEServers, ICEServer{
			URLs: []string{
				fmt.Sprintf("turn:%s:3478?transport=udp", host),
				fmt.Sprintf("turn:%s:3478?transport=tcp", host),
			},
			Username:   os.Getenv("RANGEVIEW_TURN_USERNAME"),
			Credential: os.Getenv("RANGEVIEW_TURN_CREDENTIAL"),
		})
	}
}
