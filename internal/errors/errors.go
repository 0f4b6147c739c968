package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes.
type ErrorCode string

const (
	// General errors
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
	ErrValidation   ErrorCode = "VALIDATION_ERROR"
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrConflict     ErrorCode = "CONFLICT"
	ErrTimeout      ErrorCode = "TIMEOUT"
	ErrUnsupported  ErrorCode = "UNSUPPORTED_MEDIA"
	ErrTooLarge     ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"

	// Correlation flow errors
	ErrUploadFailed ErrorCode = "UPLOAD_FAILED"
	ErrChannel      ErrorCode = "CHANNEL_ERROR"
	ErrParseFailed  ErrorCode = "PARSE_FAILED"

	// Capture and media errors
	ErrMicrophoneDenied   ErrorCode = "MICROPHONE_ACCESS_DENIED"
	ErrDurationResolution ErrorCode = "DURATION_RESOLUTION_FAILED"

	// Service-specific errors
	ErrAnalyser       ErrorCode = "ANALYSER_ERROR"
	ErrStorageService ErrorCode = "STORAGE_SERVICE_ERROR"
	ErrRelay          ErrorCode = "RELAY_ERROR"
)

// AppError represents an application error with code and metadata.
type AppError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// HTTPStatus returns the HTTP status code for the error.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrUnsupported, ErrDurationResolution:
		return http.StatusUnprocessableEntity
	case ErrTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrUploadFailed, ErrChannel, ErrParseFailed, ErrAnalyser:
		return http.StatusBadGateway
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	case ErrMicrophoneDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// Common error constructors
func Internal(message string) *AppError {
	return New(ErrInternal, message)
}

func InternalWrap(message string, err error) *AppError {
	return Wrap(ErrInternal, message, err)
}

func Validation(message string) *AppError {
	return New(ErrValidation, message)
}

func NotFound(resource string) *AppError {
	return New(ErrNotFound, fmt.Sprintf("%s not found", resource))
}

func UploadFailed(message string, err error) *AppError {
	return Wrap(ErrUploadFailed, message, err)
}

func ChannelError(message string, err error) *AppError {
	return Wrap(ErrChannel, message, err)
}

func ParseFailed(message string, err error) *AppError {
	return Wrap(ErrParseFailed, message, err)
}

func Timeout(message string) *AppError {
	return New(ErrTimeout, message)
}
