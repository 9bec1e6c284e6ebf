package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"rangeview/internal/core/domain"
	"rangeview/internal/core/ports"
	"rangeview/internal/infrastructure/monitoring"
	"rangeview/pkg/auth"
	"rangeview/pkg/retry"
	"rangeview/pkg/tracing"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LinkName identifies the event channel in reconnect metrics.
const LinkName = "events"

type Options struct {
	BaseURL string
	// ViewportQuery appends ?width=&height= with the last known viewport.
	ViewportQuery bool
	Policy        retry.Config
	Tokens        *auth.TokenSource
	Metrics       ports.SessionMetrics
	Logger        *zap.Logger
	// ParseErrorLogsPerSecond throttles parse error log lines; <= 0 disables throttling.
	ParseErrorLogsPerSecond float64
	AfterFunc               retry.AfterFunc
}

// link is one connection attempt. A link is current while it is the
// channel's c.link; callbacks from any other link are ignored.
type link struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
	conn   ports.EventConn
}

func (l *link) teardown() {
	l.cancel()
	if l.conn != nil {
		l.conn.Close()
	}
}

// Channel manages the duplex event connection for one camera: it dials,
// decodes inbound messages, reconnects with bounded exponential backoff and
// accepts outbound viewport reports while open.
type Channel struct {
	cameraID domain.CameraID
	dialer   ports.EventDialer
	opts     Options
	logger   *zap.Logger
	parseLog *rate.Limiter

	mu        sync.Mutex
	link      *link
	nextID    uint64
	backoff   *retry.Backoff
	status    domain.ChannelStatus
	timer     retry.Timer
	lastCause error
	closed    bool
	viewport  func() (domain.ViewportBox, bool)
	onMessage func(domain.Message)
	onStatus  func(domain.ChannelStatus)

	// deliverMu serializes handler calls and is the barrier Close waits on.
	deliverMu sync.Mutex
	wg        sync.WaitGroup
}

func NewChannel(cameraID domain.CameraID, dialer ports.EventDialer, opts Options) *Channel {
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = retry.RealAfterFunc
	}
	limit := rate.Inf
	if opts.ParseErrorLogsPerSecond > 0 {
		limit = rate.Limit(opts.ParseErrorLogsPerSecond)
	}

	return &Channel{
		cameraID: cameraID,
		dialer:   dialer,
		opts:     opts,
		logger:   opts.Logger.With(zap.String("camera_id", cameraID.String()), zap.String("link", LinkName)),
		parseLog: rate.NewLimiter(limit, 1),
		backoff:  retry.NewBackoff(opts.Policy),
		status:   domain.ChannelStatus{State: domain.ChannelStateClosed},
	}
}

// OnMessage registers the inbound message handler. Must be called before Connect.
func (c *Channel) OnMessage(fn func(domain.Message)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// OnStatus registers the status handler. It receives the latest snapshot
// after every state change. Must be called before Connect.
func (c *Channel) OnStatus(fn func(domain.ChannelStatus)) {
	c.mu.Lock()
	c.onStatus = fn
	c.mu.Unlock()
}

// SetViewportSource supplies the last known viewport for the dial query.
func (c *Channel) SetViewportSource(fn func() (domain.ViewportBox, bool)) {
	c.mu.Lock()
	c.viewport = fn
	c.mu.Unlock()
}

// Connect starts the first attempt. Calling it on an active channel is a no-op.
func (c *Channel) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if c.link != nil {
		c.mu.Unlock()
		return nil
	}
	c.startAttemptLocked()
	c.mu.Unlock()

	c.emitStatus()
	return nil
}

// ManualReconnect abandons the current link, resets the retry counter and
// dials immediately. It is the only way out of the terminal state.
func (c *Channel) ManualReconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrSessionClosed
	}
	c.stopTimerLocked()
	if c.link != nil {
		c.link.teardown()
		c.link = nil
	}
	c.backoff.Reset()
	c.lastCause = nil
	c.status.RetryCount = 0
	c.status.Terminal = false
	c.status.LastError = ""
	c.startAttemptLocked()
	c.mu.Unlock()

	c.logger.Info("manual reconnect requested")
	c.emitStatus()
	return nil
}

// Send writes an outbound message. It fails with ErrChannelNotOpen unless
// the current link is open; nothing is queued.
func (c *Channel) Send(msg any) error {
	c.mu.Lock()
	if c.closed || c.link == nil || c.link.conn == nil || c.status.State != domain.ChannelStateOpen {
		c.mu.Unlock()
		c.opts.Metrics.MessageDropped(c.cameraID, "not_open")
		return domain.ErrChannelNotOpen
	}
	conn := c.link.conn
	c.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}
	if err := conn.WriteMessage(data); err != nil {
		return fmt.Errorf("write outbound message: %w", err)
	}
	return nil
}

// Status returns the current snapshot.
func (c *Channel) Status() domain.ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Close tears the channel down. No handler runs after Close returns and no
// further attempts are made.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopTimerLocked()
	if c.link != nil {
		c.link.teardown()
		c.link = nil
	}
	c.status.State = domain.ChannelStateClosed
	c.mu.Unlock()

	// Wait out an in-flight handler call.
	c.deliverMu.Lock()
	c.deliverMu.Unlock()

	c.wg.Wait()
	c.logger.Debug("event channel closed")
}

func (c *Channel) startAttemptLocked() {
	c.nextID++
	ctx, cancel := context.WithCancel(context.Background())
	l := &link{id: c.nextID, ctx: ctx, cancel: cancel}
	c.link = l
	c.status.State = domain.ChannelStateConnecting
	c.opts.Metrics.ChannelStateChanged(c.cameraID, domain.ChannelStateConnecting)
	attempt := c.backoff.Count()

	c.wg.Add(1)
	go c.run(l, c.dialURLLocked(), attempt)
}

func (c *Channel) dialURLLocked() string {
	base := strings.TrimRight(c.opts.BaseURL, "/")
	raw := base + "/hit/" + url.PathEscape(c.cameraID.String())
	if c.opts.ViewportQuery && c.viewport != nil {
		if box, ok := c.viewport(); ok {
			q := url.Values{}
			q.Set("width", strconv.Itoa(int(box.Width)))
			q.Set("height", strconv.Itoa(int(box.Height)))
			raw += "?" + q.Encode()
		}
	}
	return raw
}

func (c *Channel) run(l *link, rawURL string, attempt int) {
	defer c.wg.Done()

	header := http.Header{}
	if err := c.opts.Tokens.Authorize(header, c.cameraID.String()); err != nil {
		c.linkFailed(l, fmt.Errorf("authorize: %w", err))
		return
	}

	ctx, span := tracing.TraceChannelDial(l.ctx, c.cameraID.String(), attempt)
	conn, err := c.dialer.Dial(ctx, rawURL, header)
	if err != nil {
		tracing.RecordError(ctx, err)
		span.End()
		c.linkFailed(l, err)
		return
	}
	span.End()

	if !c.opened(l, conn) {
		conn.Close()
		return
	}
	c.logger.Info("event channel open", zap.Int("attempt", attempt))
	c.emitStatus()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.linkFailed(l, err)
			return
		}
		c.handleFrame(l, data)
	}
}

func (c *Channel) opened(l *link, conn ports.EventConn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.link != l {
		return false
	}
	l.conn = conn
	c.backoff.Reset()
	c.status = domain.ChannelStatus{State: domain.ChannelStateOpen}
	c.opts.Metrics.ChannelStateChanged(c.cameraID, domain.ChannelStateOpen)
	return true
}

// linkFailed records the failure of l and schedules the next attempt.
// Failures of stale links are ignored.
func (c *Channel) linkFailed(l *link, cause error) {
	c.mu.Lock()
	if c.closed || c.link != l {
		c.mu.Unlock()
		return
	}
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	c.status.State = domain.ChannelStateClosed
	c.status.LastError = cause.Error()
	c.lastCause = cause
	c.opts.Metrics.ChannelStateChanged(c.cameraID, domain.ChannelStateClosed)

	delay, ok := c.backoff.Next()
	if !ok {
		c.exhaustLocked()
		c.mu.Unlock()

		c.logger.Error("event channel retries exhausted", zap.Error(cause))
		c.emitStatus()
		return
	}
	c.status.RetryCount = c.backoff.Count()
	c.timer = c.opts.AfterFunc(delay, func() { c.retry(l) })
	c.opts.Metrics.ReconnectScheduled(c.cameraID, LinkName, delay)
	retryCount := c.status.RetryCount
	c.mu.Unlock()

	c.logger.Warn("event channel lost, reconnecting",
		zap.Error(cause),
		zap.Int("retry", retryCount),
		zap.Duration("delay", delay),
	)
	c.emitStatus()
}

// retry fires when the backoff delay of prev has elapsed. The budget caps
// dials, so the last scheduled retry finds it spent and turns terminal
// instead of dialing.
func (c *Channel) retry(prev *link) {
	c.mu.Lock()
	if c.closed || c.link != prev {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	if c.backoff.Exhausted() {
		c.exhaustLocked()
		cause := c.lastCause
		c.mu.Unlock()

		c.logger.Error("event channel retries exhausted", zap.Error(cause))
		c.emitStatus()
		return
	}
	c.startAttemptLocked()
	c.mu.Unlock()

	c.emitStatus()
}

func (c *Channel) exhaustLocked() {
	c.status.State = domain.ChannelStateClosed
	c.status.Terminal = true
	c.status.LastError = fmt.Errorf("%w: %v", domain.ErrRetriesExhausted, c.lastCause).Error()
	c.opts.Metrics.RetriesExhausted(c.cameraID, LinkName)
}

func (c *Channel) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Channel) handleFrame(l *link, data []byte) {
	msg, err := domain.DecodeMessage(data)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, domain.ErrUnknownMessageType) {
			reason = "unknown_type"
		}
		c.opts.Metrics.MessageDropped(c.cameraID, reason)
		if c.parseLog.Allow() {
			c.logger.Warn("dropping inbound message", zap.Error(err))
		}
		return
	}
	c.opts.Metrics.MessageReceived(c.cameraID, msg.Type())

	if se, ok := msg.(domain.ServerErrorMessage); ok {
		c.mu.Lock()
		if c.closed || c.link != l {
			c.mu.Unlock()
			return
		}
		c.status.LastError = "server: " + se.Reason
		c.mu.Unlock()

		c.logger.Warn("detector reported an error", zap.String("reason", se.Reason))
		c.emitStatus()
		return
	}

	c.deliver(l, func(fn func(domain.Message)) {
		if fn != nil {
			fn(msg)
		}
	})
}

// deliver runs fn with the message handler if l is still current.
func (c *Channel) deliver(l *link, fn func(func(domain.Message))) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	current := !c.closed && c.link == l
	handler := c.onMessage
	c.mu.Unlock()

	if current {
		fn(handler)
	}
}

func (c *Channel) emitStatus() {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	status := c.status
	handler := c.onStatus
	c.mu.Unlock()

	if handler != nil {
		handler(status)
	}
}
