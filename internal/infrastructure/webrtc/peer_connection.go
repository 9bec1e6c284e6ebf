package webrtc

import (
	"fmt"
	"sync"

	"rangeview/internal/core/domain"
	"rangeview/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// FactoryConfig WebRTC configuration
type FactoryConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// PionFactory builds receive-only peer connections on pion/webrtc.
type PionFactory struct {
	config webrtc.Configuration
	api    *webrtc.API
}

func NewPionFactory(cfg FactoryConfig) (*PionFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("port range: %w", err)
		}
	}

	return &PionFactory{
		config: webrtc.Configuration{
			ICEServers:   cfg.ICEServers,
			SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
		},
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithSettingEngine(settingEngine),
		),
	}, nil
}

func (f *PionFactory) NewPeerConnection() (ports.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return &pionPeerConnection{pc: pc}, nil
}

type pionPeerConnection struct {
	pc *webrtc.PeerConnection

	mu          sync.Mutex
	gathered    <-chan struct{}
	onGathering func(string)
}

func (p *pionPeerConnection) AddRecvOnlyVideo() error {
	_, err := p.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

func (p *pionPeerConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

// SetLocalDescription arms the gathering promise before gathering starts.
func (p *pionPeerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	p.gathered = webrtc.GatheringCompletePromise(p.pc)
	p.mu.Unlock()

	if err := p.pc.SetLocalDescription(desc); err != nil {
		return err
	}
	p.reportGathering()
	return nil
}

func (p *pionPeerConnection) LocalDescription() *webrtc.SessionDescription {
	return p.pc.LocalDescription()
}

func (p *pionPeerConnection) GatheringComplete() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gathered == nil {
		return make(chan struct{})
	}
	return p.gathered
}

func (p *pionPeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionPeerConnection) RequestKeyframe(ssrc uint32) error {
	return p.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: ssrc},
	})
}

func (p *pionPeerConnection) OnTrack(fn func(ports.RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(&pionTrack{track: track})
	})
}

// OnICECandidate reports each local candidate. The end-of-candidates
// signal (nil) is not forwarded; it only refreshes the gathering state.
func (p *pionPeerConnection) OnICECandidate(fn func(string)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			fn(c.ToJSON().Candidate)
		}
		p.reportGathering()
	})
}

func (p *pionPeerConnection) OnICEConnectionStateChange(fn func(domain.PeerState)) {
	p.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		fn(peerState(state))
	})
}

func (p *pionPeerConnection) OnICEGatheringStateChange(fn func(string)) {
	p.mu.Lock()
	p.onGathering = fn
	p.mu.Unlock()
}

func (p *pionPeerConnection) reportGathering() {
	p.mu.Lock()
	fn := p.onGathering
	p.mu.Unlock()
	if fn != nil {
		fn(p.pc.ICEGatheringState().String())
	}
}

func (p *pionPeerConnection) Close() error {
	return p.pc.Close()
}

// peerState folds pion's ICE connection states onto the displayed set.
func peerState(state webrtc.ICEConnectionState) domain.PeerState {
	switch state {
	case webrtc.ICEConnectionStateChecking:
		return domain.PeerStateChecking
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return domain.PeerStateConnected
	case webrtc.ICEConnectionStateDisconnected:
		return domain.PeerStateDisconnected
	case webrtc.ICEConnectionStateFailed:
		return domain.PeerStateFailed
	case webrtc.ICEConnectionStateClosed:
		return domain.PeerStateClosed
	default:
		return domain.PeerStateNew
	}
}

type pionTrack struct {
	track *webrtc.TrackRemote
}

func (t *pionTrack) ID() string    { return t.track.ID() }
func (t *pionTrack) Kind() string  { return t.track.Kind().String() }
func (t *pionTrack) Codec() string { return t.track.Codec().MimeType }
func (t *pionTrack) SSRC() uint32  { return uint32(t.track.SSRC()) }

func (t *pionTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := t.track.ReadRTP()
	return pkt, err
}
