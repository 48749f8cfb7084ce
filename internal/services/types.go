package services

import "errors"

type ErrorCode string

const (
	ErrorInvalid          ErrorCode = "invalid"
	ErrorUnauthorized     ErrorCode = "unauthorized"
	ErrorNotFound         ErrorCode = "not_found"
	ErrorPayloadTooLarge  ErrorCode = "payload_too_large"
	ErrorAlreadySubmitted ErrorCode = "already_submitted"
	ErrorUpstream         ErrorCode = "upstream"
)

type ServiceError struct {
	Code    ErrorCode
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

func NewInvalidError(msg string) error { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}
func NewNotFoundError(msg string) error { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewPayloadTooLargeError(msg string) error {
	return &ServiceError{Code: ErrorPayloadTooLarge, Message: msg}
}
func NewAlreadySubmittedError(msg string) error {
	return &ServiceError{Code: ErrorAlreadySubmitted, Message: msg}
}
func NewUpstreamError(msg string) error { return &ServiceError{Code: ErrorUpstream, Message: msg} }

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
