package domain

import (
	"encoding/json"
	"fmt"
)

type MessageType string

const (
	MessageTypePolygon   MessageType = "polygon"
	MessageTypeHit       MessageType = "hit"
	MessageTypeError     MessageType = "error"
	MessageTypeVideoSize MessageType = "video_size"
)

// Message is an inbound event channel message. Concrete types are
// PolygonMessage, HitMessage and ServerErrorMessage.
type Message interface {
	Type() MessageType
}

type PolygonMessage struct {
	Geometry SourceGeometry
}

func (PolygonMessage) Type() MessageType { return MessageTypePolygon }

type HitMessage struct {
	Point  Point
	Inside *bool
}

func (HitMessage) Type() MessageType { return MessageTypeHit }

// ServerErrorMessage is sent by the detector when it cannot serve the camera,
// e.g. reason "no_target".
type ServerErrorMessage struct {
	Reason string
}

func (ServerErrorMessage) Type() MessageType { return MessageTypeError }

type envelope struct {
	Type MessageType `json:"type"`
}

type polygonWire struct {
	Points    [][]float64 `json:"points"`
	FrameSize []float64   `json:"frame_size"`
}

type hitWire struct {
	Tip    []float64 `json:"tip"`
	Inside *bool     `json:"inside"`
}

type errorWire struct {
	Reason string `json:"reason"`
}

// DecodeMessage decodes one inbound frame. Unknown tags yield
// ErrUnknownMessageType, shape problems ErrMalformedMessage.
func DecodeMessage(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch env.Type {
	case MessageTypePolygon:
		var w polygonWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: polygon: %v", ErrMalformedMessage, err)
		}
		return w.decode()
	case MessageTypeHit:
		var w hitWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: hit: %v", ErrMalformedMessage, err)
		}
		p, err := pair(w.Tip)
		if err != nil {
			return nil, fmt.Errorf("%w: hit tip: %v", ErrMalformedMessage, err)
		}
		return HitMessage{Point: p, Inside: w.Inside}, nil
	case MessageTypeError:
		var w errorWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: error: %v", ErrMalformedMessage, err)
		}
		return ServerErrorMessage{Reason: w.Reason}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, string(env.Type))
	}
}

func (w polygonWire) decode() (Message, error) {
	frame, err := pair(w.FrameSize)
	if err != nil {
		return nil, fmt.Errorf("%w: frame_size: %v", ErrMalformedMessage, err)
	}
	g := SourceGeometry{
		Points: make([]Point, 0, len(w.Points)),
		Frame:  Size{Width: frame.X, Height: frame.Y},
	}
	for i, raw := range w.Points {
		p, err := pair(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: point %d: %v", ErrMalformedMessage, i, err)
		}
		g.Points = append(g.Points, p)
	}
	// Geometry that fails Validate is still delivered so the consumer can
	// drop the previous boundary.
	return PolygonMessage{Geometry: g}, nil
}

func pair(v []float64) (Point, error) {
	if len(v) != 2 {
		return Point{}, fmt.Errorf("expected [x,y], got %d values", len(v))
	}
	return Point{X: v[0], Y: v[1]}, nil
}

// VideoSizeMessage is the outbound viewport report.
type VideoSizeMessage struct {
	Type   MessageType `json:"type"`
	Width  float64     `json:"width"`
	Height float64     `json:"height"`
}

func NewVideoSizeMessage(box ViewportBox) VideoSizeMessage {
	return VideoSizeMessage{Type: MessageTypeVideoSize, Width: box.Width, Height: box.Height}
}
