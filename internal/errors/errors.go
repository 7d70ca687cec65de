// Package errors provides a single structured error type used across the
// orchestrator core, so every boundary, repository call and retry decision
// reasons about the same taxonomy instead of ad-hoc sentinel errors.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType classifies an AppError for HTTP status mapping and logging.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
)

// RetryClass is the classification C5 (the retry engine) uses to decide
// whether an error is worth retrying. It is distinct from ErrorType because
// an HTTP-status-flavored error and a "should I retry" decision are
// orthogonal concerns that happen to share a taxonomy of names.
type RetryClass string

const (
	RetryTransient    RetryClass = "transient"
	RetryRateLimit    RetryClass = "rate_limit"
	RetryDependency   RetryClass = "dependency"
	RetryTimeout      RetryClass = "timeout"
	RetryAuth         RetryClass = "auth"
	RetryValidation   RetryClass = "validation"
	RetryPermanent    RetryClass = "permanent"
	RetryUnknown      RetryClass = "unknown"
)

// Retriable reports whether the retry engine should attempt fn again for
// this class.
func (c RetryClass) Retriable() bool {
	switch c {
	case RetryAuth, RetryValidation, RetryPermanent:
		return false
	default:
		return true
	}
}

var statusCodes = map[ErrorType]int{
	ErrorTypeValidation: http.StatusBadRequest,
	ErrorTypeAuth:       http.StatusUnauthorized,
	ErrorTypeNotFound:   http.StatusNotFound,
	ErrorTypeConflict:   http.StatusConflict,
	ErrorTypeTimeout:    http.StatusRequestTimeout,
	ErrorTypeRateLimit:  http.StatusTooManyRequests,
	ErrorTypeDatabase:   http.StatusInternalServerError,
	ErrorTypeNetwork:    http.StatusInternalServerError,
	ErrorTypeInternal:   http.StatusInternalServerError,
}

// retryClasses maps an ErrorType to its default RetryClass. Adapters that
// need a finer distinction (e.g. rate_limit vs generic network failure)
// build an AppError directly with WithRetryClass instead of relying on this
// default.
var retryClasses = map[ErrorType]RetryClass{
	ErrorTypeValidation: RetryValidation,
	ErrorTypeAuth:       RetryAuth,
	ErrorTypeNotFound:   RetryPermanent,
	ErrorTypeConflict:   RetryPermanent,
	ErrorTypeTimeout:    RetryTimeout,
	ErrorTypeRateLimit:  RetryRateLimit,
	ErrorTypeDatabase:   RetryDependency,
	ErrorTypeNetwork:    RetryTransient,
	ErrorTypeInternal:   RetryUnknown,
}

// AppError is the structured error carried through the orchestrator.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	RetryClass RetryClass
	Cause      error
}

func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodes[t],
		RetryClass: retryClasses[t],
	}
}

func Wrap(cause error, t ErrorType, message string) *AppError {
	e := New(t, message)
	e.Cause = cause
	return e
}

func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails mutates and returns e so call sites can chain construction.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// WithRetryClass overrides the default retry classification, for adapters
// that can tell transient network trouble apart from a rate-limit hint.
func (e *AppError) WithRetryClass(c RetryClass) *AppError {
	e.RetryClass = c
	return e
}

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

func NewDatabaseError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", operation)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewAuthError(message string) *AppError {
	return New(ErrorTypeAuth, message)
}

func NewTimeoutError(operation string) *AppError {
	return New(ErrorTypeTimeout, fmt.Sprintf("operation timed out: %s", operation))
}

func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

func GetType(err error) ErrorType {
	var appErr *AppError
	if As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

func GetStatusCode(err error) int {
	var appErr *AppError
	if As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// GetRetryClass is what C5 calls to decide whether to retry. Errors that
// are not *AppError default to RetryUnknown, the spec's documented default
// for anything the classifier cannot place more precisely.
func GetRetryClass(err error) RetryClass {
	var appErr *AppError
	if As(err, &appErr) {
		return appErr.RetryClass
	}
	return RetryUnknown
}

// errorMessages holds the safe, user-facing text for error types whose
// internal Message may contain details not fit for external surfaces.
type errorMessages struct {
	ResourceNotFound        string
	AuthenticationFailed    string
	OperationTimeout        string
	RateLimitExceeded       string
	ConcurrentModification  string
}

var ErrorMessages = errorMessages{
	ResourceNotFound:       "The requested resource was not found",
	AuthenticationFailed:   "Authentication failed",
	OperationTimeout:       "The operation took too long to complete",
	RateLimitExceeded:      "Too many requests, please try again later",
	ConcurrentModification: "The resource was modified concurrently, please retry",
}

// SafeErrorMessage returns a message safe to surface to an external caller
// (the source-hosting provider, an HTTP client) without leaking internals.
func SafeErrorMessage(err error) string {
	var appErr *AppError
	if !As(err, &appErr) {
		return "An unexpected error occurred"
	}
	switch appErr.Type {
	case ErrorTypeValidation:
		return appErr.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict:
		return ErrorMessages.ConcurrentModification
	default:
		return "An internal error occurred"
	}
}

// LogFields returns a structured field map suitable for a logger's With(...)
// call. Kept as a plain map (rather than []zap.Field) so the package has no
// logging-library dependency of its own.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{"error": err.Error()}

	var appErr *AppError
	if !As(err, &appErr) {
		return fields
	}

	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// chainedError joins several independent errors (e.g. the run-dead-letter
// path and the event-mark-processed path both failing) into one message.
type chainedError struct {
	errs []error
}

func (c *chainedError) Error() string {
	s := ""
	for i, e := range c.errs {
		if i > 0 {
			s += " -> "
		}
		s += e.Error()
	}
	return s
}

// Chain filters nil errors and joins the rest. Returns nil if every input
// was nil, the original error unchanged if exactly one was non-nil.
func Chain(errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return &chainedError{errs: nonNil}
	}
}

// As is a local re-export of errors.As so call sites elsewhere in this
// repository can type-assert an AppError without importing two packages
// both named "errors".
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
