// Package exitcode maps failure classes to process exit codes.
package exitcode

import "errors"

const (
	Success     = 0
	Usage       = 1
	ConfigError = 2
	SendError   = 3
)

// Error attaches an exit code to an error.
type Error struct {
	Code int
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns nil when err is nil.
func Wrap(code int, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: err}
}

// FromError returns the code carried by err, Success for nil, and SendError
// for anything unclassified.
func FromError(err error) int {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return SendError
}
