package docstore

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is returned by every store operation that fails. It carries an
// ErrorCode, a message and, where one exists, the underlying cause.
// Application errors print the message of the mutate function verbatim.
type Error struct {
	Code ErrorCode // The failure class
	Msg  string    // The error message
	Err  error     // The cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg == "" && e.Err != nil {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("docstore %s error: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("docstore %s error: %s", e.Code, e.Msg)
}

// Unwrap exposes the cause, e.g. the error returned by a mutate function.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code, so that the
// sentinels below match with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Msg == "" && t.Err == nil
}

// newError creates a new *Error with the given code, message and cause.
func newError(code ErrorCode, msg string, err error) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
		Err:  err,
	}
}

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

type ErrorCode uint8

const (
	ErrCodeIO          ErrorCode = iota + 1 // 1: filesystem error while creating, reading or writing the file
	ErrCodeCodec                            // 2: the document could not be encoded or decoded
	ErrCodeApplication                      // 3: the mutate function rejected the operation
	ErrCodeTimeout                          // 4: the write did not finish in time, an emergency save continues
	ErrCodeClosed                           // 5: the store was closed
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeIO:
		return "io"
	case ErrCodeCodec:
		return "codec"
	case ErrCodeApplication:
		return "application"
	case ErrCodeTimeout:
		return "timeout"
	case ErrCodeClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is
var (
	ErrIO          = &Error{Code: ErrCodeIO}
	ErrCodec       = &Error{Code: ErrCodeCodec}
	ErrApplication = &Error{Code: ErrCodeApplication}
	ErrTimeout     = &Error{Code: ErrCodeTimeout}
	ErrClosed      = &Error{Code: ErrCodeClosed}
)

// CodeOf returns the ErrorCode of err, or 0 if err is not a store error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
