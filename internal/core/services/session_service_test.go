package services

import (
	"testing"
	"time"

	"rangeview/internal/core/domain"
	"rangeview/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type sessionFixture struct {
	links    *fakeLinks
	surface  *SurfaceSize
	renderer *recordingRenderer
	clock    *fakeClock
	session  *Session
}

func newSessionFixture(t *testing.T, cfg SessionConfig, corners *fakeCorners) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		links:    &fakeLinks{},
		surface:  &SurfaceSize{},
		renderer: &recordingRenderer{},
		clock:    &fakeClock{},
	}
	cfg.AfterFunc = f.clock.AfterFunc
	deps := SessionDeps{
		Links:    f.links,
		Measurer: f.surface,
		Renderer: f.renderer,
		Logger:   zaptest.NewLogger(t),
	}
	if corners != nil {
		deps.Corners = corners
	}

	s, err := NewSession("lane-1", cfg, deps)
	require.NoError(t, err)
	f.session = s
	t.Cleanup(s.Close)
	return f
}

func TestNewSession_RejectsInvalidCamera(t *testing.T) {
	_, err := NewSession("../etc", SessionConfig{}, SessionDeps{Links: &fakeLinks{}})
	assert.ErrorIs(t, err, domain.ErrInvalidCameraID)

	_, err = NewSession("", SessionConfig{}, SessionDeps{Links: &fakeLinks{}})
	assert.ErrorIs(t, err, domain.ErrEmptyCameraID)
}

func TestSession_StartOpensBothLinks(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{}, nil)
	require.NoError(t, f.session.Start())
	require.NoError(t, f.session.Start())

	assert.Equal(t, 1, f.links.lastMedia().opened)
	assert.Equal(t, 1, f.links.lastEvents().connects)
	assert.NotEmpty(t, f.session.ID())
	assert.Equal(t, []string{"new media lane-1", "new events lane-1"}, f.links.journal.list())
}

func TestSession_ViewportReportedWhenChannelOpens(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{}, nil)
	require.NoError(t, f.surface.Set(domain.ViewportBox{Width: 640, Height: 480}))
	require.NoError(t, f.session.Start())

	events := f.links.lastEvents()
	assert.Empty(t, events.sentMessages(), "channel not open yet")

	events.setState(domain.ChannelStateOpen)
	assert.Equal(t, []any{domain.NewVideoSizeMessage(domain.ViewportBox{Width: 640, Height: 480})}, events.sentMessages())

	// A resize while open is reported once the debounce settles.
	require.NoError(t, f.surface.Set(domain.ViewportBox{Width: 800, Height: 600}))
	f.session.Resize()
	f.clock.fire()
	sent := events.sentMessages()
	require.Len(t, sent, 2)
	assert.Equal(t, domain.NewVideoSizeMessage(domain.ViewportBox{Width: 800, Height: 600}), sent[1])

	// Reopening after a drop re-sends the current box.
	events.setState(domain.ChannelStateClosed)
	events.setState(domain.ChannelStateConnecting)
	events.setState(domain.ChannelStateOpen)
	sent = events.sentMessages()
	require.Len(t, sent, 3)
	assert.Equal(t, domain.NewVideoSizeMessage(domain.ViewportBox{Width: 800, Height: 600}), sent[2])

	box, ok := events.viewport()
	assert.True(t, ok)
	assert.Equal(t, domain.ViewportBox{Width: 800, Height: 600}, box)
}

func TestSession_MessagesReachOverlay(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{}, nil)
	require.NoError(t, f.surface.Set(domain.ViewportBox{Width: 640, Height: 480}))
	require.NoError(t, f.session.Start())

	events := f.links.lastEvents()
	events.deliver(domain.PolygonMessage{Geometry: hdTarget()})
	events.deliver(domain.HitMessage{Point: domain.Point{X: 640, Y: 360}})

	overlay := f.session.Overlay()
	assert.Equal(t, domain.OverlayReady, overlay.Status)
	require.Len(t, overlay.Hits, 1)
	assert.Equal(t, domain.Point{X: 320, Y: 240}, overlay.Hits[0].Point)
	assert.Equal(t, overlay, f.renderer.last())
}

func TestSession_InvalidPolygonClearsBoundary(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{}, nil)
	require.NoError(t, f.surface.Set(domain.ViewportBox{Width: 640, Height: 480}))
	require.NoError(t, f.session.Start())

	events := f.links.lastEvents()
	events.deliver(domain.PolygonMessage{Geometry: hdTarget()})
	require.NotEmpty(t, f.session.Overlay().Polygon)

	msg, err := domain.DecodeMessage([]byte(`{"type":"polygon","points":[[0,0],[10,0],[10,10]],"frame_size":[1280,720]}`))
	require.NoError(t, err)
	events.deliver(msg)

	overlay := f.session.Overlay()
	assert.Empty(t, overlay.Polygon)
	assert.Equal(t, domain.OverlayWaitingGeometry, overlay.Status)
	assert.Equal(t, overlay, f.renderer.last())
}

func TestSession_StatusAggregation(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{}, nil)
	var statuses []domain.SessionStatus
	f.session.OnStatus(func(s domain.SessionStatus) { statuses = append(statuses, s) })
	require.NoError(t, f.session.Start())

	media := f.links.lastMedia()
	events := f.links.lastEvents()

	events.setState(domain.ChannelStateOpen)
	assert.False(t, f.session.Status().Healthy)

	media.setState(domain.PeerStateConnected, false)
	status := f.session.Status()
	assert.True(t, status.Healthy)
	assert.Equal(t, domain.CameraID("lane-1"), status.CameraID)
	assert.True(t, statuses[len(statuses)-1].Healthy)

	events.setState(domain.ChannelStateClosed)
	assert.False(t, f.session.Status().Healthy)
}

func TestSession_ReconnectRestartsTerminalMedia(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{}, nil)
	require.NoError(t, f.session.Start())

	media := f.links.lastMedia()
	events := f.links.lastEvents()

	require.NoError(t, f.session.Reconnect())
	assert.Equal(t, 1, events.manual)
	assert.Zero(t, media.reconnects)

	media.setState(domain.PeerStateFailed, true)
	require.NoError(t, f.session.Reconnect())
	assert.Equal(t, 2, events.manual)
	assert.Equal(t, 1, media.reconnects)
}

func TestSession_CloseReleasesEverything(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{}, nil)
	calls := 0
	f.session.OnStatus(func(domain.SessionStatus) { calls++ })
	require.NoError(t, f.session.Start())

	f.session.Close()
	f.session.Close()
	assert.True(t, f.links.lastMedia().closed)
	assert.True(t, f.links.lastEvents().closed)

	before := calls
	f.links.lastMedia().setState(domain.PeerStateConnected, false)
	assert.Equal(t, before, calls)
	assert.ErrorIs(t, f.session.Start(), domain.ErrSessionClosed)
}

func TestSession_PollsCorners(t *testing.T) {
	corners := &fakeCorners{fail: 1}
	f := newSessionFixture(t, SessionConfig{
		PollCorners:  true,
		PollInterval: time.Hour,
		PollPolicy:   retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2},
		TargetWidth:  1280,
		TargetHeight: 720,
	}, corners)
	require.NoError(t, f.surface.Set(domain.ViewportBox{Width: 1280, Height: 720}))
	require.NoError(t, f.session.Start())

	require.Eventually(t, func() bool {
		return f.session.Overlay().Status == domain.OverlayReady
	}, 2*time.Second, 5*time.Millisecond)

	corners.mu.Lock()
	assert.Equal(t, 2, corners.calls)
	corners.mu.Unlock()
	assert.Equal(t, squareTarget(1280, 720).Points, f.session.Overlay().Polygon)
}

func TestNewSession_PollingNeedsFetcher(t *testing.T) {
	_, err := NewSession("lane-1", SessionConfig{PollCorners: true}, SessionDeps{Links: &fakeLinks{}})
	assert.Error(t, err)
}
