package signal

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"rangeview/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

type sessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ExchangeOffer posts the complete offer and returns the server's answer.
// Transport and HTTP failures wrap domain.ErrSignalingFailed; a response
// that is not a usable answer wraps domain.ErrMalformedAnswer.
func (c *Client) ExchangeOffer(ctx context.Context, cameraID domain.CameraID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	path := "/webrtc/offer/" + url.PathEscape(cameraID.String())
	req := sessionDescription{Type: offer.Type.String(), SDP: offer.SDP}

	var resp sessionDescription
	if _, err := c.post(ctx, cameraID, path, req, &resp); err != nil {
		var decodeErr *decodeError
		if errors.As(err, &decodeErr) {
			return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", domain.ErrMalformedAnswer, err)
		}
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", domain.ErrSignalingFailed, err)
	}

	if resp.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: empty sdp", domain.ErrMalformedAnswer)
	}
	sdpType := webrtc.NewSDPType(resp.Type)
	if sdpType != webrtc.SDPTypeAnswer {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: unexpected type %q", domain.ErrMalformedAnswer, resp.Type)
	}

	return webrtc.SessionDescription{Type: sdpType, SDP: resp.SDP}, nil
}
