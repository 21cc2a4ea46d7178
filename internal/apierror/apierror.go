package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/corebank/model"
)

type ErrorCode string

const (
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrConflict           ErrorCode = "CONFLICT"
	ErrBadRequest         ErrorCode = "BAD_REQUEST"
	ErrInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrUnprocessable      ErrorCode = "UNPROCESSABLE"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrTooManyRequests    ErrorCode = "TOO_MANY_REQUESTS"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrInternalServer     ErrorCode = "INTERNAL_SERVER_ERROR"
)

// APIError is the body every failed request returns.
type APIError struct {
	Code    ErrorCode         `json:"code"`
	Kind    model.FailureKind `json:"kind,omitempty"`
	Message string            `json:"message"`
	Details interface{}       `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if details != nil {
		logrus.WithField("code", code).Error(details)
	}
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// codeForKind places each failure kind in its HTTP class.
var codeForKind = map[model.FailureKind]ErrorCode{
	model.KindInvalidAmount:             ErrInvalidInput,
	model.KindInvalidRequest:            ErrInvalidInput,
	model.KindCurrencyMismatch:          ErrUnprocessable,
	model.KindAccountNotFound:           ErrNotFound,
	model.KindTransactionNotFound:       ErrNotFound,
	model.KindAccountInactive:           ErrUnprocessable,
	model.KindSameAccount:               ErrUnprocessable,
	model.KindInsufficientFunds:         ErrUnprocessable,
	model.KindAlreadyExists:             ErrConflict,
	model.KindIdempotencyKeyConflict:    ErrConflict,
	model.KindInvalidStatusTransition:   ErrConflict,
	model.KindRequestInProgress:         ErrConflict,
	model.KindConcurrentUpdateExhausted: ErrServiceUnavailable,
	model.KindVersionConflict:           ErrServiceUnavailable,
	model.KindCompensationFailed:        ErrInternalServer,
	model.KindInternal:                  ErrInternalServer,
}

// FromError converts a domain error into an APIError. Internal failures keep
// their detail out of the message.
func FromError(err error) APIError {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	kind := model.KindOf(err)
	code, ok := codeForKind[kind]
	if !ok {
		code = ErrInternalServer
	}
	if code == ErrInternalServer {
		logrus.WithField("kind", kind).Error(err)
		return APIError{Code: code, Kind: kind, Message: "internal error while processing the request"}
	}
	return APIError{Code: code, Kind: kind, Message: err.Error()}
}

func MapErrorToHTTPStatus(err error) int {
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		return http.StatusInternalServerError
	}
	switch apiErr.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrInvalidInput, ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnprocessable:
		return http.StatusUnprocessableEntity
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrTooManyRequests:
		return http.StatusTooManyRequests
	case ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
