package apierror

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrBadRequest     ErrorCode = "BAD_REQUEST"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"

	// ErrTransport marks a retryable network-level failure talking to an
	// external service. ErrProtocol marks a non-2xx or malformed response,
	// which is never retried at the client layer.
	ErrTransport       ErrorCode = "TRANSPORT_ERROR"
	ErrProtocol        ErrorCode = "PROTOCOL_ERROR"
	ErrUnsupportedMode ErrorCode = "UNSUPPORTED_IN_MODE"
	ErrQuotaExceeded   ErrorCode = "QUOTA_EXCEEDED"
	ErrValidation      ErrorCode = "VALIDATION_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	logrus.Error(details)
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Is reports whether err is an APIError with the given code.
func Is(err error, code ErrorCode) bool {
	apiErr, ok := err.(APIError)
	return ok && apiErr.Code == code
}

func MapErrorToHTTPStatus(err error) int {
	if apiErr, ok := err.(APIError); ok {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrConflict:
			return http.StatusConflict
		case ErrInvalidInput, ErrValidation, ErrBadRequest:
			return http.StatusBadRequest
		case ErrUnsupportedMode:
			return http.StatusUnprocessableEntity
		case ErrQuotaExceeded:
			return http.StatusPaymentRequired
		case ErrTransport, ErrProtocol:
			return http.StatusBadGateway
		case ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
