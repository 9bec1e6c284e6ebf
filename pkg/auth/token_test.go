package auth

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenSource_EmptySecretDisablesAuth(t *testing.T) {
	s := NewTokenSource("", time.Minute, "viewer")
	assert.Nil(t, s)

	h := http.Header{}
	require.NoError(t, s.Authorize(h, "cam-1"))
	assert.Empty(t, h.Get("Authorization"))
}

func TestTokenSource_AuthorizeRoundTrip(t *testing.T) {
	s := NewTokenSource("secret", time.Minute, "viewer")

	h := http.Header{}
	require.NoError(t, s.Authorize(h, "cam-7"))

	raw := h.Get("Authorization")
	require.True(t, strings.HasPrefix(raw, "Bearer "))

	claims, err := s.Validate(strings.TrimPrefix(raw, "Bearer "))
	require.NoError(t, err)
	assert.Equal(t, "cam-7", claims.CameraID)
	assert.Equal(t, "viewer", claims.Subject)
}

func TestTokenSource_Expired(t *testing.T) {
	s := NewTokenSource("secret", time.Minute, "viewer")
	issued := time.Now()
	s.now = func() time.Time { return issued }

	token, err := s.Token("cam-1")
	require.NoError(t, err)

	s.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = s.Validate(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenSource_WrongSecret(t *testing.T) {
	token, err := NewTokenSource("one", time.Minute, "viewer").Token("cam-1")
	require.NoError(t, err)

	_, err = NewTokenSource("two", time.Minute, "viewer").Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
