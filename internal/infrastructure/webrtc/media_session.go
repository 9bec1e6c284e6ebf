package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rangeview/internal/core/domain"
	"rangeview/internal/core/ports"
	"rangeview/internal/infrastructure/monitoring"
	"rangeview/pkg/retry"
	"rangeview/pkg/tracing"

	"go.uber.org/zap"
)

// LinkName identifies the media transport in reconnect metrics.
const LinkName = "media"

var errTransportFailed = errors.New("ice connection failed")

type SessionOptions struct {
	Policy retry.Config
	// GatheringTimeout bounds the wait for ICE gathering; the offer is sent
	// with whatever candidates were found by then.
	GatheringTimeout time.Duration
	Metrics          ports.SessionMetrics
	Logger           *zap.Logger
	AfterFunc        retry.AfterFunc
}

// peerLink is one negotiation attempt and its peer connection.
type peerLink struct {
	id         uint64
	ctx        context.Context
	cancel     context.CancelFunc
	pc         ports.PeerConnection
	candidates []string
	done       bool
}

// MediaSession negotiates and keeps alive the receive-only video transport
// for one camera. A new camera always gets a new MediaSession.
type MediaSession struct {
	cameraID domain.CameraID
	factory  ports.PeerConnectionFactory
	signaler ports.Signaler
	surface  ports.VideoSurface
	opts     SessionOptions
	logger   *zap.Logger

	mu       sync.Mutex
	link     *peerLink
	nextID   uint64
	backoff  *retry.Backoff
	status   domain.MediaStatus
	timer    retry.Timer
	cause    error
	closed   bool
	onStatus func(domain.MediaStatus)

	deliverMu sync.Mutex
	wg        sync.WaitGroup
}

func NewMediaSession(
	cameraID domain.CameraID,
	factory ports.PeerConnectionFactory,
	signaler ports.Signaler,
	surface ports.VideoSurface,
	opts SessionOptions,
) *MediaSession {
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = retry.RealAfterFunc
	}
	if opts.GatheringTimeout <= 0 {
		opts.GatheringTimeout = 5 * time.Second
	}

	return &MediaSession{
		cameraID: cameraID,
		factory:  factory,
		signaler: signaler,
		surface:  surface,
		opts:     opts,
		logger:   opts.Logger.With(zap.String("camera_id", cameraID.String()), zap.String("link", LinkName)),
		backoff:  retry.NewBackoff(opts.Policy),
		status:   domain.MediaStatus{State: domain.PeerStateNew, Gathering: "new"},
	}
}

// OnStatus registers the status handler. Must be called before Open.
func (m *MediaSession) OnStatus(fn func(domain.MediaStatus)) {
	m.mu.Lock()
	m.onStatus = fn
	m.mu.Unlock()
}

// Open starts the first negotiation. It returns immediately; progress and
// failures are reported through Status.
func (m *MediaSession) Open() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if m.link != nil {
		m.mu.Unlock()
		return nil
	}
	m.startAttemptLocked()
	m.mu.Unlock()

	m.emitStatus()
	return nil
}

// Reconnect drops the current transport and renegotiates immediately with
// a fresh retry budget.
func (m *MediaSession) Reconnect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrSessionClosed
	}
	m.stopTimerLocked()
	old := m.detachLinkLocked()
	m.backoff.Reset()
	m.cause = nil
	m.status.RetryCount = 0
	m.status.Terminal = false
	m.status.LastError = ""
	m.startAttemptLocked()
	m.mu.Unlock()

	closeLink(old)
	m.logger.Info("manual media reconnect requested")
	m.emitStatus()
	return nil
}

func (m *MediaSession) Status() domain.MediaStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Candidates returns the ordered local candidate log of the current link.
func (m *MediaSession) Candidates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link == nil {
		return nil
	}
	return append([]string(nil), m.link.candidates...)
}

// Close releases the transport and detaches the surface. No handler runs
// after Close returns.
func (m *MediaSession) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopTimerLocked()
	old := m.detachLinkLocked()
	m.status.State = domain.PeerStateClosed
	m.status.Playing = false
	m.mu.Unlock()

	closeLink(old)

	m.deliverMu.Lock()
	m.deliverMu.Unlock()

	m.wg.Wait()
	m.surface.Detach()
	m.logger.Debug("media session closed")
}

func (m *MediaSession) startAttemptLocked() {
	m.nextID++
	ctx, cancel := context.WithCancel(context.Background())
	l := &peerLink{id: m.nextID, ctx: ctx, cancel: cancel}
	m.link = l
	m.status.State = domain.PeerStateNew
	m.status.Gathering = "new"
	m.status.Candidates = 0
	m.status.Playing = false
	m.opts.Metrics.MediaStateChanged(m.cameraID, domain.PeerStateNew)

	m.wg.Add(1)
	go m.negotiate(l, m.backoff.Count())
}

// detachLinkLocked marks the current link stale and returns it for closing
// outside the lock; pion may call back synchronously from Close.
func (m *MediaSession) detachLinkLocked() *peerLink {
	l := m.link
	m.link = nil
	if l != nil {
		l.done = true
	}
	return l
}

func closeLink(l *peerLink) {
	if l == nil {
		return
	}
	l.cancel()
	if l.pc != nil {
		l.pc.Close()
	}
}

func (m *MediaSession) current(l *peerLink) bool {
	return !m.closed && m.link == l && !l.done
}

func (m *MediaSession) negotiate(l *peerLink, attempt int) {
	defer m.wg.Done()

	start := time.Now()
	ctx, span := tracing.TraceNegotiation(l.ctx, m.cameraID.String(), attempt)
	defer span.End()

	err := m.exchange(ctx, l)
	if errors.Is(err, context.Canceled) && l.ctx.Err() != nil {
		return
	}
	m.opts.Metrics.NegotiationFinished(m.cameraID, time.Since(start), err)
	if err != nil {
		tracing.RecordError(ctx, err)
		m.linkFailed(l, err)
		return
	}
	m.logger.Info("media negotiation complete", zap.Int("attempt", attempt), zap.Duration("took", time.Since(start)))
}

func (m *MediaSession) exchange(ctx context.Context, l *peerLink) error {
	pc, err := m.factory.NewPeerConnection()
	if err != nil {
		return err
	}

	m.mu.Lock()
	if !m.current(l) {
		m.mu.Unlock()
		pc.Close()
		return context.Canceled
	}
	l.pc = pc
	m.mu.Unlock()

	pc.OnTrack(func(track ports.RemoteTrack) { m.trackArrived(l, pc, track) })
	pc.OnICECandidate(func(candidate string) { m.candidateGathered(l, candidate) })
	pc.OnICEConnectionStateChange(func(state domain.PeerState) { m.stateChanged(l, state) })
	pc.OnICEGatheringStateChange(func(state string) { m.gatheringChanged(l, state) })

	// The transceiver must exist before the offer so it carries a recvonly video section.
	if err := pc.AddRecvOnlyVideo(); err != nil {
		return fmt.Errorf("add video transceiver: %w", err)
	}
	offer, err := pc.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	timer := time.NewTimer(m.opts.GatheringTimeout)
	select {
	case <-pc.GatheringComplete():
		timer.Stop()
	case <-timer.C:
		m.logger.Warn("ice gathering timed out, sending partial offer", zap.Duration("timeout", m.opts.GatheringTimeout))
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}

	local := pc.LocalDescription()
	if local == nil {
		return fmt.Errorf("create offer: no local description")
	}
	m.offerPosted(l)
	answer, err := m.signaler.ExchangeOffer(ctx, m.cameraID, *local)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedAnswer, err)
	}
	return nil
}

// offerPosted moves a fresh link to checking while the answer is pending.
// Later ICE transitions are left alone.
func (m *MediaSession) offerPosted(l *peerLink) {
	m.mu.Lock()
	if !m.current(l) || m.status.State != domain.PeerStateNew {
		m.mu.Unlock()
		return
	}
	m.status.State = domain.PeerStateChecking
	m.opts.Metrics.MediaStateChanged(m.cameraID, domain.PeerStateChecking)
	m.mu.Unlock()

	m.emitStatus()
}

func (m *MediaSession) stateChanged(l *peerLink, state domain.PeerState) {
	m.mu.Lock()
	if !m.current(l) {
		m.mu.Unlock()
		return
	}
	m.status.State = state
	m.opts.Metrics.MediaStateChanged(m.cameraID, state)
	if state == domain.PeerStateConnected {
		m.backoff.Reset()
		m.status.RetryCount = 0
		m.status.Terminal = false
		m.status.LastError = ""
	}
	m.mu.Unlock()

	m.logger.Debug("ice connection state changed", zap.String("state", string(state)))
	if state == domain.PeerStateFailed {
		m.linkFailed(l, errTransportFailed)
		return
	}
	m.emitStatus()
}

func (m *MediaSession) gatheringChanged(l *peerLink, state string) {
	m.mu.Lock()
	if !m.current(l) || m.status.Gathering == state {
		m.mu.Unlock()
		return
	}
	m.status.Gathering = state
	m.mu.Unlock()

	m.emitStatus()
}

func (m *MediaSession) candidateGathered(l *peerLink, candidate string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current(l) {
		return
	}
	l.candidates = append(l.candidates, candidate)
	m.status.Candidates = len(l.candidates)
}

func (m *MediaSession) trackArrived(l *peerLink, pc ports.PeerConnection, track ports.RemoteTrack) {
	m.deliverMu.Lock()

	m.mu.Lock()
	if !m.current(l) {
		m.mu.Unlock()
		m.deliverMu.Unlock()
		return
	}
	m.mu.Unlock()

	m.logger.Info("remote track received",
		zap.String("track_id", track.ID()),
		zap.String("kind", track.Kind()),
		zap.String("codec", track.Codec()),
	)
	err := m.surface.Attach(track, pc)

	m.mu.Lock()
	if m.current(l) {
		m.status.Playing = err == nil
		if err != nil {
			m.status.LastError = "playback: " + err.Error()
		}
	}
	m.mu.Unlock()
	m.deliverMu.Unlock()

	if err != nil {
		m.logger.Warn("playback failed to start", zap.Error(err))
	}
	m.emitStatus()
}

// linkFailed closes l and schedules a renegotiation while budget remains.
func (m *MediaSession) linkFailed(l *peerLink, cause error) {
	m.mu.Lock()
	if !m.current(l) {
		m.mu.Unlock()
		return
	}
	l.done = true
	m.status.State = domain.PeerStateFailed
	m.status.Playing = false
	m.status.LastError = cause.Error()
	m.cause = cause
	m.opts.Metrics.MediaStateChanged(m.cameraID, domain.PeerStateFailed)

	delay, ok := m.backoff.Next()
	if !ok {
		m.exhaustLocked()
		m.mu.Unlock()

		closeLink(l)
		m.logger.Error("media retries exhausted", zap.Error(cause))
		m.emitStatus()
		return
	}
	m.status.RetryCount = m.backoff.Count()
	m.timer = m.opts.AfterFunc(delay, func() { m.retry(l) })
	m.opts.Metrics.ReconnectScheduled(m.cameraID, LinkName, delay)
	retryCount := m.status.RetryCount
	m.mu.Unlock()

	closeLink(l)
	m.logger.Warn("media transport lost, renegotiating",
		zap.Error(cause),
		zap.Int("retry", retryCount),
		zap.Duration("delay", delay),
	)
	m.emitStatus()
}

// retry renegotiates once the delay of prev has elapsed, or turns terminal
// when the budget is already spent.
func (m *MediaSession) retry(prev *peerLink) {
	m.mu.Lock()
	if m.closed || m.link != prev {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	if m.backoff.Exhausted() {
		m.exhaustLocked()
		cause := m.cause
		m.mu.Unlock()

		m.logger.Error("media retries exhausted", zap.Error(cause))
		m.emitStatus()
		return
	}
	m.startAttemptLocked()
	m.mu.Unlock()

	m.emitStatus()
}

func (m *MediaSession) exhaustLocked() {
	m.status.State = domain.PeerStateFailed
	m.status.Playing = false
	m.status.Terminal = true
	m.status.LastError = fmt.Errorf("%w: %v", domain.ErrRetriesExhausted, m.cause).Error()
	m.opts.Metrics.RetriesExhausted(m.cameraID, LinkName)
}

func (m *MediaSession) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *MediaSession) emitStatus() {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	status := m.status
	handler := m.onStatus
	m.mu.Unlock()

	if handler != nil {
		handler(status)
	}
}
