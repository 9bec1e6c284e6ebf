package domain

import "errors"

var (
	ErrEmptyCameraID      = errors.New("camera id is empty")
	ErrInvalidCameraID    = errors.New("invalid camera id")
	ErrSessionClosed      = errors.New("session closed")
	ErrChannelNotOpen     = errors.New("event channel not open")
	ErrRetriesExhausted   = errors.New("retry budget exhausted")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrInvalidGeometry    = errors.New("invalid source geometry")
	ErrInvalidViewport    = errors.New("invalid viewport box")
	ErrSignalingFailed    = errors.New("signaling failed")
	ErrMalformedAnswer    = errors.New("malformed session answer")
	ErrViewNotFound       = errors.New("view not found")
)
