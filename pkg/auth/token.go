package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

type Claims struct {
	CameraID string `json:"camera_id"`
	jwt.RegisteredClaims
}

// TokenSource mints short-lived bearer tokens scoped to one camera for the
// signaling and event channel requests. A nil *TokenSource authorizes nothing.
type TokenSource struct {
	secret  []byte
	ttl     time.Duration
	subject string
	now     func() time.Time
}

// NewTokenSource returns nil when secret is empty so callers can pass it
// around unconditionally.
func NewTokenSource(secret string, ttl time.Duration, subject string) *TokenSource {
	if secret == "" {
		return nil
	}
	return &TokenSource{
		secret:  []byte(secret),
		ttl:     ttl,
		subject: subject,
		now:     time.Now,
	}
}

func (s *TokenSource) Token(cameraID string) (string, error) {
	now := s.now()
	claims := &Claims{
		CameraID: cameraID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Authorize sets the Authorization header for a camera scoped request.
func (s *TokenSource) Authorize(header http.Header, cameraID string) error {
	if s == nil {
		return nil
	}
	token, err := s.Token(cameraID)
	if err != nil {
		return err
	}
	header.Set("Authorization", "Bearer "+token)
	return nil
}

func (s *TokenSource) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
