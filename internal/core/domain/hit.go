package domain

import "time"

// HitEvent is a single detected impact in detector space. It is transient:
// the overlay shows it for a fixed lifetime only.
type HitEvent struct {
	Seq        uint64    `json:"seq"`
	Point      Point     `json:"point"`
	Inside     *bool     `json:"inside,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// ScreenHit is a HitEvent projected onto the current viewport.
type ScreenHit struct {
	Seq    uint64 `json:"seq"`
	Point  Point  `json:"point"`
	Inside bool   `json:"inside"`
	// Known is set when the detector classified the hit; otherwise Inside
	// comes from the local boundary test.
	Known     bool      `json:"classified"`
	ExpiresAt time.Time `json:"expires_at"`
}

type OverlayStatus string

const (
	OverlayWaitingGeometry OverlayStatus = "no_geometry"
	OverlayWaitingViewport OverlayStatus = "no_viewport"
	OverlayReady           OverlayStatus = "ready"
)

// Overlay is one rendered frame of the reconciler output.
type Overlay struct {
	Status  OverlayStatus `json:"status"`
	Box     ViewportBox   `json:"box"`
	Polygon []Point       `json:"polygon,omitempty"`
	Hits    []ScreenHit   `json:"hits,omitempty"`
}
