package webrtc

import (
	"sync"
	"time"

	"rangeview/internal/core/ports"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SurfaceStats describes playback of the attached track.
type SurfaceStats struct {
	TrackID          string    `json:"track_id,omitempty"`
	Codec            string    `json:"codec,omitempty"`
	Playing          bool      `json:"playing"`
	Packets          uint64    `json:"packets"`
	Bytes            uint64    `json:"bytes"`
	LostPackets      uint64    `json:"lost_packets"`
	KeyframeRequests uint64    `json:"keyframe_requests"`
	LastPacketAt     time.Time `json:"last_packet_at,omitempty"`
}

// RTPSurface is a headless VideoSurface: it drains the remote track,
// tracks sequence gaps and asks the sender for a keyframe on attach and
// after loss. A frame decoder can be layered on top through OnPacket.
type RTPSurface struct {
	logger    *zap.Logger
	keyframes *rate.Limiter

	mu       sync.Mutex
	attached *attachment
	stats    SurfaceStats
	onPacket func(payload []byte, marker bool)
}

type attachment struct {
	track     ports.RemoteTrack
	requester ports.KeyframeRequester
	stop      chan struct{}
}

// NewRTPSurface creates a surface that sends at most one keyframe request
// per keyframeInterval.
func NewRTPSurface(keyframeInterval time.Duration, logger *zap.Logger) *RTPSurface {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyframeInterval <= 0 {
		keyframeInterval = time.Second
	}
	return &RTPSurface{
		logger:    logger,
		keyframes: rate.NewLimiter(rate.Every(keyframeInterval), 1),
	}
}

// OnPacket registers a consumer for RTP payloads.
func (s *RTPSurface) OnPacket(fn func(payload []byte, marker bool)) {
	s.mu.Lock()
	s.onPacket = fn
	s.mu.Unlock()
}

func (s *RTPSurface) Attach(track ports.RemoteTrack, keyframes ports.KeyframeRequester) error {
	a := &attachment{track: track, requester: keyframes, stop: make(chan struct{})}

	s.mu.Lock()
	if s.attached != nil {
		close(s.attached.stop)
	}
	s.attached = a
	s.stats = SurfaceStats{TrackID: track.ID(), Codec: track.Codec(), Playing: true}
	s.mu.Unlock()

	go s.drain(a)

	// Start from a clean picture instead of waiting for the next periodic
	// keyframe. A failed request does not stop playback; the next loss
	// retries it.
	if err := s.requestKeyframe(a, true); err != nil {
		s.logger.Warn("initial keyframe request failed", zap.String("track_id", track.ID()), zap.Error(err))
	}
	return nil
}

func (s *RTPSurface) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached != nil {
		close(s.attached.stop)
		s.attached = nil
	}
	s.stats.Playing = false
}

func (s *RTPSurface) Stats() SurfaceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *RTPSurface) isCurrent(a *attachment) bool {
	select {
	case <-a.stop:
		return false
	default:
		return true
	}
}

func (s *RTPSurface) drain(a *attachment) {
	var (
		lastSeq uint16
		started bool
	)

	for {
		pkt, err := a.track.ReadRTP()
		if err != nil {
			s.mu.Lock()
			if s.attached == a {
				s.stats.Playing = false
			}
			s.mu.Unlock()
			if s.isCurrent(a) {
				s.logger.Debug("track ended", zap.String("track_id", a.track.ID()), zap.Error(err))
			}
			return
		}
		if !s.isCurrent(a) {
			return
		}
		if pkt == nil {
			continue
		}

		lost := uint16(0)
		if started {
			lost = pkt.SequenceNumber - lastSeq - 1
			// Reordered or duplicate packets wrap to a huge gap; ignore those.
			if lost > 1<<15 {
				lost = 0
			}
		}
		started = true
		lastSeq = pkt.SequenceNumber

		s.mu.Lock()
		if s.attached != a {
			s.mu.Unlock()
			return
		}
		s.stats.Packets++
		s.stats.Bytes += uint64(len(pkt.Payload))
		s.stats.LostPackets += uint64(lost)
		s.stats.LastPacketAt = time.Now()
		onPacket := s.onPacket
		s.mu.Unlock()

		if onPacket != nil {
			onPacket(pkt.Payload, pkt.Marker)
		}
		if lost > 0 {
			if err := s.requestKeyframe(a, false); err != nil {
				s.logger.Debug("keyframe request failed", zap.Error(err))
			}
		}
	}
}

func (s *RTPSurface) requestKeyframe(a *attachment, force bool) error {
	if a.requester == nil {
		return nil
	}
	if !force && !s.keyframes.Allow() {
		return nil
	}
	if err := a.requester.RequestKeyframe(a.track.SSRC()); err != nil {
		return err
	}
	s.mu.Lock()
	if s.attached == a {
		s.stats.KeyframeRequests++
	}
	s.mu.Unlock()
	return nil
}
