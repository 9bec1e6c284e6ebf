package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rangeview/internal/core/domain"
	"rangeview/internal/core/ports"
	"rangeview/pkg/retry"
)

type fakeTimer struct {
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

// fakeClock records scheduled callbacks; tests fire them by hand.
type fakeClock struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) retry.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{fn: f}
	c.delays = append(c.delays, d)
	c.pending = append(c.pending, t)
	return t
}

func (c *fakeClock) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.pending {
		if !t.stopped {
			n++
		}
	}
	return n
}

// fire runs the oldest live callback.
func (c *fakeClock) fire() {
	c.mu.Lock()
	var next *fakeTimer
	for len(c.pending) > 0 {
		t := c.pending[0]
		c.pending = c.pending[1:]
		if !t.stopped {
			next = t
			break
		}
	}
	c.mu.Unlock()
	if next != nil {
		next.fn()
	}
}

type recordingRenderer struct {
	mu     sync.Mutex
	frames []domain.Overlay
}

func (r *recordingRenderer) Render(o domain.Overlay) {
	r.mu.Lock()
	r.frames = append(r.frames, o)
	r.mu.Unlock()
}

func (r *recordingRenderer) last() domain.Overlay {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return domain.Overlay{}
	}
	return r.frames[len(r.frames)-1]
}

func (r *recordingRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

type fakeMedia struct {
	cameraID domain.CameraID
	journal  *journal

	mu         sync.Mutex
	onStatus   func(domain.MediaStatus)
	status     domain.MediaStatus
	opened     int
	reconnects int
	closed     bool
}

func (m *fakeMedia) OnStatus(fn func(domain.MediaStatus)) { m.onStatus = fn }

func (m *fakeMedia) Open() error {
	m.mu.Lock()
	m.opened++
	m.mu.Unlock()
	return nil
}

func (m *fakeMedia) Reconnect() error {
	m.mu.Lock()
	m.reconnects++
	m.mu.Unlock()
	return nil
}

func (m *fakeMedia) Status() domain.MediaStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *fakeMedia) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.journal.add("close media " + m.cameraID.String())
}

func (m *fakeMedia) setState(state domain.PeerState, terminal bool) {
	m.mu.Lock()
	m.status.State = state
	m.status.Terminal = terminal
	status := m.status
	closed := m.closed
	m.mu.Unlock()
	if !closed {
		m.onStatus(status)
	}
}

type fakeEvents struct {
	cameraID domain.CameraID
	journal  *journal

	mu        sync.Mutex
	onMessage func(domain.Message)
	onStatus  func(domain.ChannelStatus)
	viewport  func() (domain.ViewportBox, bool)
	status    domain.ChannelStatus
	sent      []any
	connects  int
	manual    int
	closed    bool
}

func (e *fakeEvents) OnMessage(fn func(domain.Message))                      { e.onMessage = fn }
func (e *fakeEvents) OnStatus(fn func(domain.ChannelStatus))                 { e.onStatus = fn }
func (e *fakeEvents) SetViewportSource(fn func() (domain.ViewportBox, bool)) { e.viewport = fn }

func (e *fakeEvents) Connect() error {
	e.mu.Lock()
	e.connects++
	e.status.State = domain.ChannelStateConnecting
	e.mu.Unlock()
	return nil
}

func (e *fakeEvents) ManualReconnect() error {
	e.mu.Lock()
	e.manual++
	e.mu.Unlock()
	return nil
}

func (e *fakeEvents) Send(msg any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.State != domain.ChannelStateOpen {
		return domain.ErrChannelNotOpen
	}
	e.sent = append(e.sent, msg)
	return nil
}

func (e *fakeEvents) Status() domain.ChannelStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *fakeEvents) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.journal.add("close events " + e.cameraID.String())
}

func (e *fakeEvents) setState(state domain.ChannelState) {
	e.mu.Lock()
	e.status.State = state
	status := e.status
	e.mu.Unlock()
	e.onStatus(status)
}

func (e *fakeEvents) deliver(msg domain.Message) {
	e.onMessage(msg)
}

func (e *fakeEvents) sentMessages() []any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]any(nil), e.sent...)
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	j.entries = append(j.entries, entry)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeLinks struct {
	journal journal

	mu     sync.Mutex
	media  []*fakeMedia
	events []*fakeEvents
}

func (l *fakeLinks) NewMediaLink(cameraID domain.CameraID) (ports.MediaLink, error) {
	m := &fakeMedia{cameraID: cameraID, journal: &l.journal, status: domain.MediaStatus{State: domain.PeerStateNew}}
	l.mu.Lock()
	l.media = append(l.media, m)
	l.mu.Unlock()
	l.journal.add("new media " + cameraID.String())
	return m, nil
}

func (l *fakeLinks) NewEventLink(cameraID domain.CameraID) (ports.EventLink, error) {
	e := &fakeEvents{cameraID: cameraID, journal: &l.journal}
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
	l.journal.add("new events " + cameraID.String())
	return e, nil
}

func (l *fakeLinks) lastMedia() *fakeMedia {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.media[len(l.media)-1]
}

func (l *fakeLinks) lastEvents() *fakeEvents {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

type fakeCorners struct {
	mu    sync.Mutex
	calls int
	fail  int
}

func (f *fakeCorners) FetchCorners(ctx context.Context, cameraID domain.CameraID, width, height int) (domain.SourceGeometry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fail {
		return domain.SourceGeometry{}, fmt.Errorf("detector busy")
	}
	return squareTarget(float64(width), float64(height)), nil
}

func squareTarget(width, height float64) domain.SourceGeometry {
	return domain.SourceGeometry{
		Frame: domain.Size{Width: width, Height: height},
		Points: []domain.Point{
			{X: width / 4, Y: height / 4},
			{X: 3 * width / 4, Y: height / 4},
			{X: 3 * width / 4, Y: 3 * height / 4},
			{X: width / 4, Y: 3 * height / 4},
		},
	}
}

func boolPtr(b bool) *bool { return &b }
