// Package errors defines the error taxonomy shared by the registry, escrow and
// catalog components, together with its HTTP mapping.
//
// Every failed command returns a *ServiceError whose Code names the violated
// precondition. Callers compare against the exported sentinels with errors.Is:
//
//	if errors.Is(err, errors.ErrNotFound) { ... }
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code identifies the kind of failure.
type Code string

const (
	CodeAlreadyExists          Code = "ALREADY_EXISTS"
	CodeNotFound               Code = "NOT_FOUND"
	CodeDuplicateApproval      Code = "DUPLICATE_APPROVAL"
	CodeApprovalNotFound       Code = "APPROVAL_NOT_FOUND"
	CodeInsufficientBalance    Code = "INSUFFICIENT_BALANCE"
	CodeInvalidAmount          Code = "INVALID_AMOUNT"
	CodeInsufficientReputation Code = "INSUFFICIENT_REPUTATION"
	CodeValidatorMismatch      Code = "VALIDATOR_MISMATCH"
	CodeRequestStillActive     Code = "REQUEST_STILL_ACTIVE"
	CodeRequestExpired         Code = "REQUEST_EXPIRED"
	CodeInvalidAccount         Code = "INVALID_ACCOUNT"
	CodeUnauthorizedAuthority  Code = "UNAUTHORIZED_AUTHORITY"
	CodeFieldTooLong           Code = "VALIDATION_FIELD_TOO_LONG"
	CodeInvalidField           Code = "INVALID_FIELD"
	CodeLimitExceeded          Code = "LIMIT_EXCEEDED"
	CodeUnauthorized           Code = "UNAUTHORIZED"
	CodeRateLimitExceeded      Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal               Code = "INTERNAL"
)

var httpStatus = map[Code]int{
	CodeAlreadyExists:          http.StatusConflict,
	CodeNotFound:               http.StatusNotFound,
	CodeDuplicateApproval:      http.StatusConflict,
	CodeApprovalNotFound:       http.StatusNotFound,
	CodeInsufficientBalance:    http.StatusPaymentRequired,
	CodeInvalidAmount:          http.StatusUnprocessableEntity,
	CodeInsufficientReputation: http.StatusForbidden,
	CodeValidatorMismatch:      http.StatusForbidden,
	CodeRequestStillActive:     http.StatusConflict,
	CodeRequestExpired:         http.StatusGone,
	CodeInvalidAccount:         http.StatusUnprocessableEntity,
	CodeUnauthorizedAuthority:  http.StatusForbidden,
	CodeFieldTooLong:           http.StatusUnprocessableEntity,
	CodeInvalidField:           http.StatusUnprocessableEntity,
	CodeLimitExceeded:          http.StatusUnprocessableEntity,
	CodeUnauthorized:           http.StatusUnauthorized,
	CodeRateLimitExceeded:      http.StatusTooManyRequests,
	CodeInternal:               http.StatusInternalServerError,
}

// HTTPStatus returns the HTTP status code used for the given error code.
func HTTPStatus(code Code) int {
	if status, ok := httpStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ServiceError is a classified failure.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is reports whether target is a ServiceError with the same code. A target
// carrying a message only matches an identical message, so the bare sentinels
// below match every error of their kind.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

func newError(code Code, format string, args ...interface{}) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: HTTPStatus(code),
	}
}

// Sentinels for errors.Is comparisons.
var (
	ErrAlreadyExists          = &ServiceError{Code: CodeAlreadyExists}
	ErrNotFound               = &ServiceError{Code: CodeNotFound}
	ErrDuplicateApproval      = &ServiceError{Code: CodeDuplicateApproval}
	ErrApprovalNotFound       = &ServiceError{Code: CodeApprovalNotFound}
	ErrInsufficientBalance    = &ServiceError{Code: CodeInsufficientBalance}
	ErrInvalidAmount          = &ServiceError{Code: CodeInvalidAmount}
	ErrInsufficientReputation = &ServiceError{Code: CodeInsufficientReputation}
	ErrValidatorMismatch      = &ServiceError{Code: CodeValidatorMismatch}
	ErrRequestStillActive     = &ServiceError{Code: CodeRequestStillActive}
	ErrRequestExpired         = &ServiceError{Code: CodeRequestExpired}
	ErrInvalidAccount         = &ServiceError{Code: CodeInvalidAccount}
	ErrUnauthorizedAuthority  = &ServiceError{Code: CodeUnauthorizedAuthority}
	ErrFieldTooLong           = &ServiceError{Code: CodeFieldTooLong}
	ErrInvalidField           = &ServiceError{Code: CodeInvalidField}
	ErrLimitExceeded          = &ServiceError{Code: CodeLimitExceeded}
	ErrUnauthorized           = &ServiceError{Code: CodeUnauthorized}
	ErrRateLimitExceeded      = &ServiceError{Code: CodeRateLimitExceeded}
	ErrInternal               = &ServiceError{Code: CodeInternal}
)

func AlreadyExists(format string, args ...interface{}) *ServiceError {
	return newError(CodeAlreadyExists, format, args...)
}

func NotFound(format string, args ...interface{}) *ServiceError {
	return newError(CodeNotFound, format, args...)
}

func DuplicateApproval(format string, args ...interface{}) *ServiceError {
	return newError(CodeDuplicateApproval, format, args...)
}

func ApprovalNotFound(format string, args ...interface{}) *ServiceError {
	return newError(CodeApprovalNotFound, format, args...)
}

func InsufficientBalance(format string, args ...interface{}) *ServiceError {
	return newError(CodeInsufficientBalance, format, args...)
}

func InvalidAmount(format string, args ...interface{}) *ServiceError {
	return newError(CodeInvalidAmount, format, args...)
}

func InsufficientReputation(format string, args ...interface{}) *ServiceError {
	return newError(CodeInsufficientReputation, format, args...)
}

func ValidatorMismatch(format string, args ...interface{}) *ServiceError {
	return newError(CodeValidatorMismatch, format, args...)
}

func RequestStillActive(format string, args ...interface{}) *ServiceError {
	return newError(CodeRequestStillActive, format, args...)
}

func RequestExpired(format string, args ...interface{}) *ServiceError {
	return newError(CodeRequestExpired, format, args...)
}

func InvalidAccount(format string, args ...interface{}) *ServiceError {
	return newError(CodeInvalidAccount, format, args...)
}

func UnauthorizedAuthority(format string, args ...interface{}) *ServiceError {
	return newError(CodeUnauthorizedAuthority, format, args...)
}

func FieldTooLong(format string, args ...interface{}) *ServiceError {
	return newError(CodeFieldTooLong, format, args...)
}

func InvalidField(format string, args ...interface{}) *ServiceError {
	return newError(CodeInvalidField, format, args...)
}

func LimitExceeded(format string, args ...interface{}) *ServiceError {
	return newError(CodeLimitExceeded, format, args...)
}

func Unauthorized(format string, args ...interface{}) *ServiceError {
	return newError(CodeUnauthorized, format, args...)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimitExceeded, "rate limit of %d requests per %s exceeded", limit, window)
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *ServiceError {
	e := newError(CodeInternal, "%s", message)
	e.Err = err
	return e
}

// GetServiceError extracts the ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if stderrors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// CodeOf returns the code of err, or CodeInternal for unclassified errors.
func CodeOf(err error) Code {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.Code
	}
	return CodeInternal
}

// Is and As forward to the standard library so callers importing this package
// under its own name keep access to them.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// New forwards to the standard library.
func New(text string) error { return stderrors.New(text) }
