package services

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure. Each kind maps to one transport status.
type Kind string

const (
	KindUserExists               Kind = "USER_EXISTS_ERROR"
	KindUserNotFound             Kind = "USER_DOES_NOT_EXISTS_ERROR"
	KindLoginError               Kind = "LOGIN_ERROR"
	KindInvalidHeader            Kind = "INVALID_HEADER_ERROR"
	KindInvalidCredentials       Kind = "INVALID_CREDENTIALS_ERROR"
	KindExpiredToken             Kind = "EXPIRED_TOKEN_ERROR"
	KindRecoveryAlreadyInitiated Kind = "RECOVER_ALREADY_INITIATED_ERROR"
	KindRecoveryNotInitiated     Kind = "RECOVERY_NOT_INITIATED_ERROR"
	KindInvalidRecoveryCode      Kind = "INVALID_RECOVERY_CODE_ERROR"
	KindWrongPassword            Kind = "WRONG_PASSWORD_ERROR"
	KindInvalidInput             Kind = "INVALID_INPUT_ERROR"
	KindDatabaseError            Kind = "DATABASE_ERROR"
	KindUnknownError             Kind = "UNKNOWN_ERROR"
)

// Error is the only error type services return. Msg is safe to show to
// clients; Err keeps the underlying cause for logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrUserExists               = &Error{Kind: KindUserExists}
	ErrUserNotFound             = &Error{Kind: KindUserNotFound}
	ErrLoginError               = &Error{Kind: KindLoginError}
	ErrInvalidHeader            = &Error{Kind: KindInvalidHeader}
	ErrInvalidCredentials       = &Error{Kind: KindInvalidCredentials}
	ErrExpiredToken             = &Error{Kind: KindExpiredToken}
	ErrRecoveryAlreadyInitiated = &Error{Kind: KindRecoveryAlreadyInitiated}
	ErrRecoveryNotInitiated     = &Error{Kind: KindRecoveryNotInitiated}
	ErrInvalidRecoveryCode      = &Error{Kind: KindInvalidRecoveryCode}
	ErrWrongPassword            = &Error{Kind: KindWrongPassword}
	ErrInvalidInput             = &Error{Kind: KindInvalidInput}
	ErrDatabaseError            = &Error{Kind: KindDatabaseError}
	ErrUnknownError             = &Error{Kind: KindUnknownError}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func dbError(err error) *Error {
	return &Error{Kind: KindDatabaseError, Msg: "Database transaction error", Err: err}
}

func unknownError(msg string, err error) *Error {
	return &Error{Kind: KindUnknownError, Msg: msg, Err: err}
}

// AsError returns err as a service error, wrapping anything unrecognized
// as an unknown error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return unknownError("Unknown error", err)
}
