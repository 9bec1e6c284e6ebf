package domain

import (
	"fmt"
	"regexp"
)

type CameraID string

type SessionID string

// ViewID names a hosting surface; each view shows one camera at a time.
type ViewID string

var cameraIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// Validate rejects identifiers that cannot be embedded in a URL path segment.
func (id CameraID) Validate() error {
	if id == "" {
		return ErrEmptyCameraID
	}
	if len(id) > 100 {
		return fmt.Errorf("%w: too long (max 100 characters)", ErrInvalidCameraID)
	}
	if !cameraIDPattern.MatchString(string(id)) {
		return fmt.Errorf("%w: %q", ErrInvalidCameraID, string(id))
	}
	return nil
}

func (id CameraID) String() string {
	return string(id)
}
