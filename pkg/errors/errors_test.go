package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"rangeview/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestAppError_UnwrapAndContext(t *testing.T) {
	cause := stderrors.New("dial tcp: refused")
	err := WrapError(cause, ErrCodeChannelFailed, "event channel dial failed", http.StatusBadGateway).
		WithContext("camera_id", "cam-1")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "cam-1", err.Context["camera_id"])
	assert.Contains(t, err.Error(), "CHANNEL_FAILED")
}

func TestGetAppError_FindsWrapped(t *testing.T) {
	inner := NewNotFoundError("view")
	wrapped := fmt.Errorf("lookup: %w", inner)

	assert.Same(t, inner, GetAppError(wrapped))
	assert.Nil(t, GetAppError(stderrors.New("plain")))
	assert.Nil(t, GetAppError(nil))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCode
	}{
		{fmt.Errorf("post offer: %w", domain.ErrSignalingFailed), ErrCodeSignalingFailed},
		{domain.ErrMalformedAnswer, ErrCodeSignalingFailed},
		{domain.ErrChannelNotOpen, ErrCodeNotConnected},
		{fmt.Errorf("%w: %w", domain.ErrMalformedMessage, domain.ErrInvalidGeometry), ErrCodeGeometryInvalid},
		{domain.ErrUnknownMessageType, ErrCodeParseFailed},
		{domain.ErrRetriesExhausted, ErrCodeRetryExhausted},
		{domain.ErrInvalidCameraID, ErrCodeInvalidInput},
		{domain.ErrViewNotFound, ErrCodeNotFound},
		{stderrors.New("boom"), ErrCodeInternal},
		{nil, ""},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.err), "error: %v", tc.err)
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(domain.ErrViewNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(domain.ErrChannelNotOpen))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(NewRateLimitError()))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(stderrors.New("boom")))
}
