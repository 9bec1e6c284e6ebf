package links

import (
	"fmt"
	"time"

	"rangeview/internal/core/domain"
	"rangeview/internal/core/ports"
	"rangeview/internal/infrastructure/events"
	"rangeview/internal/infrastructure/signal"
	webrtcinfra "rangeview/internal/infrastructure/webrtc"
	"rangeview/pkg/auth"
	"rangeview/pkg/config"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// KeyframeInterval bounds how often a surface asks the sender for a keyframe.
const KeyframeInterval = 2 * time.Second

// Factory builds the production links of a session from configuration:
// pion peer connections negotiated over HTTP signaling, and websocket event
// channels.
type Factory struct {
	cfg     *config.Config
	peers   *webrtcinfra.PionFactory
	client  *signal.Client
	dialer  *events.WebsocketDialer
	tokens  *auth.TokenSource
	metrics ports.SessionMetrics
	logger  *zap.Logger
}

func NewFactory(cfg *config.Config, tokens *auth.TokenSource, metrics ports.SessionMetrics, logger *zap.Logger) (*Factory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	factoryCfg := webrtcinfra.FactoryConfig{ICEServers: ICEServers(cfg)}
	factoryCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	factoryCfg.PortRange.Max = cfg.WebRTC.PortRange.Max
	peers, err := webrtcinfra.NewPionFactory(factoryCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection factory: %w", err)
	}

	dialer := events.NewWebsocketDialer(events.DialerConfig{
		HandshakeTimeout: cfg.Events.HandshakeTimeout,
		PingInterval:     cfg.Events.PingInterval,
		PongTimeout:      cfg.Events.PongTimeout,
		WriteTimeout:     cfg.Events.WriteTimeout,
		MaxMessageSize:   cfg.Events.MaxMessageSizeBytes,
	}, logger)

	return &Factory{
		cfg:     cfg,
		peers:   peers,
		client:  signal.NewClient(cfg.Signaling.BaseURL, cfg.Signaling.RequestTimeout, tokens),
		dialer:  dialer,
		tokens:  tokens,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Corners exposes the signaling client as the legacy geometry source.
func (f *Factory) Corners() ports.CornerFetcher {
	return f.client
}

func (f *Factory) NewMediaLink(cameraID domain.CameraID) (ports.MediaLink, error) {
	if err := cameraID.Validate(); err != nil {
		return nil, err
	}
	logger := f.logger.With(zap.String("camera_id", cameraID.String()))
	surface := webrtcinfra.NewRTPSurface(KeyframeInterval, logger)

	return webrtcinfra.NewMediaSession(cameraID, f.peers, f.client, surface, webrtcinfra.SessionOptions{
		Policy:           f.cfg.Signaling.Reconnect.Policy(),
		GatheringTimeout: f.cfg.Signaling.GatheringTimeout,
		Metrics:          f.metrics,
		Logger:           logger,
	}), nil
}

func (f *Factory) NewEventLink(cameraID domain.CameraID) (ports.EventLink, error) {
	if err := cameraID.Validate(); err != nil {
		return nil, err
	}

	return events.NewChannel(cameraID, f.dialer, events.Options{
		BaseURL:                 f.cfg.Events.BaseURL,
		ViewportQuery:           f.cfg.Events.ViewportQuery,
		Policy:                  f.cfg.Events.Reconnect.Policy(),
		Tokens:                  f.tokens,
		Metrics:                 f.metrics,
		Logger:                  f.logger.With(zap.String("camera_id", cameraID.String())),
		ParseErrorLogsPerSecond: f.cfg.RateLimiting.ParseErrorLogsPerSecond,
	}), nil
}

// ICEServers converts the configured helpers to pion form.
func ICEServers(cfg *config.Config) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}
