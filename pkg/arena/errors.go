package arena

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on
	// retry. Examples: backend timeouts, connection refusal.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates a resource ownership conflict, such as
	// deploying while a previous deployment still holds the namespace.
	// Resolved by cleanup, not by retrying.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: malformed manifest, missing validator script.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error is a classified error with challenge and operation context.
type Error struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Challenge is the challenge ID the error relates to, if any.
	Challenge string `json:"challenge,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Challenge != "" {
		msg += fmt.Sprintf(" (challenge=%s)", e.Challenge)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is: two arena errors match when
// their class and code match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *Error {
	return &Error{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *Error {
	return &Error{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *Error {
	return &Error{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithCode adds an error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithChallenge adds challenge context.
func (e *Error) WithChallenge(challengeID string) *Error {
	e.Challenge = challengeID
	return e
}

// WithOperation adds operation context.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if a deploy attempt may be retried without an
// intervening cleanup. Only transient errors qualify: conflicts need
// cleanup first and permanent errors never recover.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

// HasCode returns true if the error carries the given code.
func HasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Error codes for the taxonomy shared across components.
const (
	// ErrCodeConfigInvalid marks a malformed domain configuration.
	// Fatal to that domain only; other domains still load.
	ErrCodeConfigInvalid = "CONFIG_INVALID"

	// ErrCodeDiscoveryFailed marks a level missing required files.
	// The level is skipped; discovery continues.
	ErrCodeDiscoveryFailed = "DISCOVERY_FAILED"

	// ErrCodeBackendUnavailable marks a failed backend health check.
	ErrCodeBackendUnavailable = "BACKEND_UNAVAILABLE"

	// ErrCodeDeployFailed marks a failed deployment attempt.
	ErrCodeDeployFailed = "DEPLOY_FAILED"

	// ErrCodeAlreadyDeployed marks a deploy issued while a previous
	// deployment still exists for the domain's namespace.
	ErrCodeAlreadyDeployed = "ALREADY_DEPLOYED"

	// ErrCodeSafetyBlocked marks a command or artifact blocked by the
	// safety guard. Always surfaced, never silent.
	ErrCodeSafetyBlocked = "SAFETY_BLOCKED"

	// ErrCodeValidationFailed marks a flag that did not pass the
	// challenge validator. Expected on the retry path, not an outage.
	ErrCodeValidationFailed = "VALIDATION_FAILED"

	// ErrCodePersistence marks an unreadable or unwritable progress
	// ledger. The tracker degrades to memory only.
	ErrCodePersistence = "PERSISTENCE_FAILED"

	// ErrCodeTimeout marks an operation cancelled by its deadline.
	ErrCodeTimeout = "TIMEOUT"
)
