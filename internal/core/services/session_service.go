package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"rangeview/internal/core/domain"
	"rangeview/internal/core/ports"
	"rangeview/internal/infrastructure/monitoring"
	"rangeview/pkg/logger"
	"rangeview/pkg/retry"
	"rangeview/pkg/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionConfig holds the per-session tunables shared by all views.
type SessionConfig struct {
	Debounce    time.Duration
	HitLifetime time.Duration

	// PollCorners switches target geometry to the legacy polling endpoint.
	PollCorners  bool
	PollInterval time.Duration
	PollPolicy   retry.Config
	TargetWidth  int
	TargetHeight int

	// AfterFunc drives debounce and hit expiry timers.
	AfterFunc retry.AfterFunc
}

// Session owns everything shown for one camera: media transport, event
// channel, viewport tracker and overlay reconciler.
type Session struct {
	id       domain.SessionID
	cameraID domain.CameraID
	cfg      SessionConfig

	media   ports.MediaLink
	channel ports.EventLink
	tracker *ViewportTracker
	overlay *OverlayReconciler
	corners ports.CornerFetcher
	metrics ports.SessionMetrics

	ctx    context.Context
	cancel context.CancelFunc
	log    *logger.ContextLogger
	wg     sync.WaitGroup

	mu          sync.Mutex
	started     bool
	closed      bool
	channelOpen bool
	onStatus    func(domain.SessionStatus)
}

type SessionDeps struct {
	Links    ports.LinkFactory
	Measurer ports.Measurer
	Renderer ports.OverlayRenderer
	Corners  ports.CornerFetcher
	Metrics  ports.SessionMetrics
	Logger   *zap.Logger
}

func NewSession(cameraID domain.CameraID, cfg SessionConfig, deps SessionDeps) (*Session, error) {
	if err := cameraID.Validate(); err != nil {
		return nil, err
	}
	if cfg.PollCorners && deps.Corners == nil {
		return nil, errors.New("corner polling enabled without a corner fetcher")
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	media, err := deps.Links.NewMediaLink(cameraID)
	if err != nil {
		return nil, err
	}
	channel, err := deps.Links.NewEventLink(cameraID)
	if err != nil {
		media.Close()
		return nil, err
	}

	id := domain.SessionID(uuid.New().String())
	ctx := logger.WithSession(logger.WithCamera(context.Background(), cameraID.String()), string(id))
	ctx, cancel := context.WithCancel(ctx)

	s := &Session{
		id:       id,
		cameraID: cameraID,
		cfg:      cfg,
		media:    media,
		channel:  channel,
		tracker:  NewViewportTracker(deps.Measurer, cfg.Debounce, cfg.AfterFunc),
		overlay:  NewOverlayReconciler(deps.Renderer, cfg.HitLifetime, cfg.AfterFunc, deps.Logger.With(zap.String("camera_id", cameraID.String()))),
		corners:  deps.Corners,
		metrics:  deps.Metrics,
		ctx:      ctx,
		cancel:   cancel,
		log:      logger.NewContextLogger(deps.Logger),
	}

	s.tracker.Subscribe(s.viewportChanged)
	s.channel.SetViewportSource(s.tracker.Box)
	s.channel.OnMessage(s.handleMessage)
	s.channel.OnStatus(s.channelStatusChanged)
	s.media.OnStatus(func(domain.MediaStatus) { s.emitStatus() })
	return s, nil
}

func (s *Session) ID() domain.SessionID      { return s.id }
func (s *Session) CameraID() domain.CameraID { return s.cameraID }

// OnStatus registers a handler for aggregated status changes.
func (s *Session) OnStatus(fn func(domain.SessionStatus)) {
	s.mu.Lock()
	s.onStatus = fn
	s.mu.Unlock()
}

// Start opens both links and takes the first viewport measurement.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.metrics.SessionOpened(s.cameraID)
	s.log.LogInfo(s.ctx, "session starting", zap.Bool("poll_corners", s.cfg.PollCorners))

	if err := s.media.Open(); err != nil {
		return err
	}
	if err := s.channel.Connect(); err != nil {
		return err
	}
	s.tracker.Mount()

	if s.cfg.PollCorners {
		s.wg.Add(1)
		go s.pollCorners()
	}
	return nil
}

// Resize forwards a host resize signal to the viewport tracker.
func (s *Session) Resize() {
	s.tracker.Resize()
}

// Reconnect manually restarts the event channel, and the media transport
// too once its retry budget is spent.
func (s *Session) Reconnect() error {
	if err := s.channel.ManualReconnect(); err != nil {
		return err
	}
	if st := s.media.Status(); st.Terminal || st.State == domain.PeerStateFailed {
		return s.media.Reconnect()
	}
	return nil
}

func (s *Session) Status() domain.SessionStatus {
	media := s.media.Status()
	channel := s.channel.Status()
	return domain.SessionStatus{
		SessionID: s.id,
		CameraID:  s.cameraID,
		Media:     media,
		Channel:   channel,
		Healthy:   channel.State == domain.ChannelStateOpen && media.State.Connected(),
	}
}

func (s *Session) Overlay() domain.Overlay {
	return s.overlay.Overlay()
}

// Close tears the session down. Once it returns nothing owned by the
// session produces further updates.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	s.cancel()
	s.channel.Close()
	s.media.Close()
	s.tracker.Close()
	s.overlay.Close()
	s.wg.Wait()

	if started {
		s.metrics.SessionClosed(s.cameraID)
	}
	s.log.LogInfo(s.ctx, "session closed")
}

func (s *Session) viewportChanged(box domain.ViewportBox) {
	s.overlay.SetViewport(box)
	s.reportViewport(box)
}

func (s *Session) reportViewport(box domain.ViewportBox) {
	err := s.channel.Send(domain.NewVideoSizeMessage(box))
	switch {
	case err == nil:
		s.metrics.ViewportReported(s.cameraID)
	case errors.Is(err, domain.ErrChannelNotOpen):
		s.log.LogDebug(s.ctx, "viewport report dropped, channel not open")
	default:
		s.log.LogWarn(s.ctx, "viewport report failed", zap.Error(err))
	}
}

func (s *Session) handleMessage(msg domain.Message) {
	switch m := msg.(type) {
	case domain.PolygonMessage:
		s.overlay.SetGeometry(m.Geometry)
	case domain.HitMessage:
		s.overlay.AddHit(m.Point, m.Inside)
	}
}

func (s *Session) channelStatusChanged(status domain.ChannelStatus) {
	s.mu.Lock()
	reopened := status.State == domain.ChannelStateOpen && !s.channelOpen
	s.channelOpen = status.State == domain.ChannelStateOpen
	s.mu.Unlock()

	// A new connection knows nothing about the viewport yet.
	if reopened {
		if box, ok := s.tracker.Box(); ok {
			s.reportViewport(box)
		}
	}
	s.emitStatus()
}

func (s *Session) emitStatus() {
	s.mu.Lock()
	handler := s.onStatus
	closed := s.closed
	s.mu.Unlock()

	if handler != nil && !closed {
		handler(s.Status())
	}
}

func (s *Session) pollCorners() {
	defer s.wg.Done()

	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.fetchCorners()
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) fetchCorners() {
	ctx, span := tracing.TraceGeometryPoll(s.ctx, s.cameraID.String())
	defer span.End()

	g, err := retry.RetryWithResult(ctx, s.cfg.PollPolicy, func() (domain.SourceGeometry, error) {
		g, err := s.corners.FetchCorners(ctx, s.cameraID, s.cfg.TargetWidth, s.cfg.TargetHeight)
		if errors.Is(err, domain.ErrInvalidGeometry) {
			return g, retry.Permanent(err)
		}
		return g, err
	})
	if err != nil {
		if s.ctx.Err() == nil {
			tracing.RecordError(ctx, err)
			s.log.LogWarn(s.ctx, "target corner poll failed", zap.Error(err))
		}
		return
	}
	s.overlay.SetGeometry(g)
}
