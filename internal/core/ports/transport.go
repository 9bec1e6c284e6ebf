package ports

import (
	"context"
	"net/http"

	"rangeview/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// RemoteTrack is an inbound media track delivered by a PeerConnection.
type RemoteTrack interface {
	ID() string
	Kind() string
	Codec() string
	SSRC() uint32
	ReadRTP() (*rtp.Packet, error)
}

// KeyframeRequester asks the sender for a fresh keyframe (RTCP PLI).
type KeyframeRequester interface {
	RequestKeyframe(ssrc uint32) error
}

// PeerConnection is the subset of a WebRTC peer connection the media
// session needs. Callbacks may fire on any goroutine.
type PeerConnection interface {
	KeyframeRequester

	AddRecvOnlyVideo() error
	CreateOffer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	// GatheringComplete is closed once ICE candidate gathering has finished.
	GatheringComplete() <-chan struct{}
	SetRemoteDescription(desc webrtc.SessionDescription) error

	OnTrack(func(track RemoteTrack))
	OnICECandidate(func(candidate string))
	OnICEConnectionStateChange(func(state domain.PeerState))
	OnICEGatheringStateChange(func(state string))

	Close() error
}

type PeerConnectionFactory interface {
	NewPeerConnection() (PeerConnection, error)
}

// Signaler performs the single request/response offer/answer exchange.
type Signaler interface {
	ExchangeOffer(ctx context.Context, cameraID domain.CameraID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
}

// VideoSurface consumes the remote video track of the active session.
type VideoSurface interface {
	// Attach replaces any previously attached track and starts playback.
	Attach(track RemoteTrack, keyframes KeyframeRequester) error
	Detach()
}

// EventConn is one established duplex event connection. WriteMessage is
// safe to call concurrently with ReadMessage.
type EventConn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type EventDialer interface {
	Dial(ctx context.Context, rawURL string, header http.Header) (EventConn, error)
}
