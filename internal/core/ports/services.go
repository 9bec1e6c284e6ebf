package ports

import (
	"context"
	"time"

	"rangeview/internal/core/domain"
)

// Measurer reports the current rendered size of the video surface. ok is
// false while the surface has no layout yet.
type Measurer interface {
	Measure() (box domain.ViewportBox, ok bool)
}

// MeasureFunc adapts a function to Measurer.
type MeasureFunc func() (domain.ViewportBox, bool)

func (f MeasureFunc) Measure() (domain.ViewportBox, bool) { return f() }

// OverlayRenderer draws reconciler output. Render is called with a fresh
// Overlay value every time either input or the set of live hits changes.
type OverlayRenderer interface {
	Render(overlay domain.Overlay)
}

// CornerFetcher is the legacy polling source of target geometry.
type CornerFetcher interface {
	FetchCorners(ctx context.Context, cameraID domain.CameraID, width, height int) (domain.SourceGeometry, error)
}

// SessionMetrics receives link lifecycle events for observability.
type SessionMetrics interface {
	SessionOpened(cameraID domain.CameraID)
	SessionClosed(cameraID domain.CameraID)
	MediaStateChanged(cameraID domain.CameraID, state domain.PeerState)
	ChannelStateChanged(cameraID domain.CameraID, state domain.ChannelState)
	NegotiationFinished(cameraID domain.CameraID, d time.Duration, err error)
	ReconnectScheduled(cameraID domain.CameraID, link string, delay time.Duration)
	RetriesExhausted(cameraID domain.CameraID, link string)
	MessageReceived(cameraID domain.CameraID, msgType domain.MessageType)
	MessageDropped(cameraID domain.CameraID, reason string)
	ViewportReported(cameraID domain.CameraID)
}

// MediaLink is the media transport of one session.
type MediaLink interface {
	OnStatus(fn func(domain.MediaStatus))
	Open() error
	Reconnect() error
	Status() domain.MediaStatus
	Close()
}

// EventLink is the event channel of one session.
type EventLink interface {
	OnMessage(fn func(domain.Message))
	OnStatus(fn func(domain.ChannelStatus))
	SetViewportSource(fn func() (domain.ViewportBox, bool))
	Connect() error
	ManualReconnect() error
	Send(msg any) error
	Status() domain.ChannelStatus
	Close()
}

// LinkFactory builds the per-camera links of a new session.
type LinkFactory interface {
	NewMediaLink(cameraID domain.CameraID) (MediaLink, error)
	NewEventLink(cameraID domain.CameraID) (EventLink, error)
}
