package domain

// PeerState is the media transport state shown to the user.
type PeerState string

const (
	PeerStateNew          PeerState = "new"
	PeerStateChecking     PeerState = "checking"
	PeerStateConnected    PeerState = "connected"
	PeerStateDisconnected PeerState = "disconnected"
	PeerStateFailed       PeerState = "failed"
	PeerStateClosed       PeerState = "closed"
)

func (s PeerState) Connected() bool {
	return s == PeerStateConnected
}

// Label returns the short operator-facing description of the state.
func (s PeerState) Label() string {
	switch s {
	case PeerStateConnected:
		return "connected"
	case PeerStateChecking:
		return "connecting"
	case PeerStateNew:
		return "waiting"
	case PeerStateDisconnected:
		return "interrupted"
	case PeerStateFailed:
		return "failed"
	case PeerStateClosed:
		return "ended"
	default:
		return string(s)
	}
}

// ChannelState is the state of one event channel attempt.
type ChannelState string

const (
	ChannelStateConnecting ChannelState = "connecting"
	ChannelStateOpen       ChannelState = "open"
	ChannelStateClosed     ChannelState = "closed"
)

func (s ChannelState) Label() string {
	switch s {
	case ChannelStateOpen:
		return "connected"
	case ChannelStateConnecting:
		return "connecting"
	default:
		return "disconnected"
	}
}

// ChannelStatus is a point-in-time snapshot of the event channel.
type ChannelStatus struct {
	State      ChannelState `json:"state"`
	RetryCount int          `json:"retry_count"`
	LastError  string       `json:"last_error,omitempty"`
	// Terminal is set once automatic retries are exhausted; only a manual
	// reconnect leaves it.
	Terminal bool `json:"terminal"`
}

// MediaStatus is a point-in-time snapshot of the media transport.
type MediaStatus struct {
	State      PeerState `json:"state"`
	Gathering  string    `json:"ice_gathering"`
	Candidates int       `json:"candidates"`
	Playing    bool      `json:"playing"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error,omitempty"`
	Terminal   bool      `json:"terminal"`
}

// SessionStatus aggregates both links of a session.
type SessionStatus struct {
	SessionID SessionID     `json:"session_id"`
	CameraID  CameraID      `json:"camera_id"`
	Media     MediaStatus   `json:"media"`
	Channel   ChannelStatus `json:"channel"`
	Healthy   bool          `json:"healthy"`
}

// SystemOnline reports whether every given session is healthy.
func SystemOnline(sessions ...SessionStatus) bool {
	if len(sessions) == 0 {
		return false
	}
	for _, s := range sessions {
		if !s.Healthy {
			return false
		}
	}
	return true
}
