package identity

import (
	"errors"
)

// Code classifies a provider rejection
type Code string

const (
	CodeInvalidCredential     Code = "invalid-credential"
	CodeEmailExists           Code = "email-exists"
	CodeWeakPassword          Code = "weak-password"
	CodeUserDisabled          Code = "user-disabled"
	CodeTooManyRequests       Code = "too-many-requests"
	CodeFederationCancelled   Code = "federation-cancelled"
	CodeFederationUnavailable Code = "federation-unavailable"
	CodeInvalidRefreshToken   Code = "invalid-refresh-token"
	CodeNetwork               Code = "network"
	CodeInternal              Code = "internal"
)

var defaultMessages = map[Code]string{
	CodeInvalidCredential:     "The email or password is incorrect.",
	CodeEmailExists:           "An account already exists for this email address.",
	CodeWeakPassword:          "Password should be at least 6 characters.",
	CodeUserDisabled:          "This account has been disabled.",
	CodeTooManyRequests:       "Too many attempts. Please try again later.",
	CodeFederationCancelled:   "The sign-in popup was closed before completing the sign in.",
	CodeFederationUnavailable: "Sign-in with Google is not available.",
	CodeInvalidRefreshToken:   "Your session has expired. Please sign in again.",
	CodeNetwork:               "The identity provider could not be reached.",
	CodeInternal:              "An internal error occurred.",
}

// Error is a rejected provider operation. Message is meant for end users.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is
var (
	ErrInvalidCredential     = &Error{Code: CodeInvalidCredential}
	ErrEmailExists           = &Error{Code: CodeEmailExists}
	ErrWeakPassword          = &Error{Code: CodeWeakPassword}
	ErrUserDisabled          = &Error{Code: CodeUserDisabled}
	ErrTooManyRequests       = &Error{Code: CodeTooManyRequests}
	ErrFederationCancelled   = &Error{Code: CodeFederationCancelled}
	ErrFederationUnavailable = &Error{Code: CodeFederationUnavailable}
	ErrInvalidRefreshToken   = &Error{Code: CodeInvalidRefreshToken}
	ErrNetwork               = &Error{Code: CodeNetwork}
	ErrInternal              = &Error{Code: CodeInternal}
)

// NewError returns an error with the default message for code
func NewError(code Code, cause error) *Error {
	return &Error{Code: code, Message: defaultMessages[code], Err: cause}
}

// IsTransient reports whether err is worth retrying later
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork)
}
