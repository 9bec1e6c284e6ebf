package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"rangeview/internal/core/domain"
)

// ErrorCode represents the failure classes surfaced by a viewing session
type ErrorCode string

const (
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeRateLimit       ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
	ErrCodeSignalingFailed ErrorCode = "SIGNALING_FAILED"
	ErrCodeTransportFailed ErrorCode = "TRANSPORT_FAILED"
	ErrCodeChannelFailed   ErrorCode = "CHANNEL_FAILED"
	ErrCodeParseFailed     ErrorCode = "PARSE_FAILED"
	ErrCodeNotConnected    ErrorCode = "NOT_CONNECTED"
	ErrCodeGeometryInvalid ErrorCode = "GEOMETRY_INVALID"
	ErrCodeRetryExhausted  ErrorCode = "RETRY_EXHAUSTED"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// Classify maps an error from the session layer onto its failure class.
// Unknown errors classify as internal.
func Classify(err error) ErrorCode {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code
	}
	switch {
	case err == nil:
		return ""
	case stderrors.Is(err, domain.ErrSignalingFailed), stderrors.Is(err, domain.ErrMalformedAnswer):
		return ErrCodeSignalingFailed
	case stderrors.Is(err, domain.ErrChannelNotOpen), stderrors.Is(err, domain.ErrSessionClosed):
		return ErrCodeNotConnected
	case stderrors.Is(err, domain.ErrInvalidGeometry):
		return ErrCodeGeometryInvalid
	case stderrors.Is(err, domain.ErrMalformedMessage), stderrors.Is(err, domain.ErrUnknownMessageType):
		return ErrCodeParseFailed
	case stderrors.Is(err, domain.ErrRetriesExhausted):
		return ErrCodeRetryExhausted
	case stderrors.Is(err, domain.ErrEmptyCameraID), stderrors.Is(err, domain.ErrInvalidCameraID),
		stderrors.Is(err, domain.ErrInvalidViewport):
		return ErrCodeInvalidInput
	case stderrors.Is(err, domain.ErrViewNotFound):
		return ErrCodeNotFound
	default:
		return ErrCodeInternal
	}
}

// HTTPStatus returns the control surface status for an error.
func HTTPStatus(err error) int {
	if appErr := GetAppError(err); appErr != nil && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	switch Classify(err) {
	case ErrCodeInvalidInput, ErrCodeGeometryInvalid, ErrCodeParseFailed:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeNotConnected:
		return http.StatusConflict
	case ErrCodeSignalingFailed, ErrCodeChannelFailed, ErrCodeTransportFailed:
		return http.StatusBadGateway
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
