package exitcodes

import (
	"errors"

	"stale-purge/internal/config"
	"stale-purge/internal/safety"
)

// Exit codes for stale-purge.
// These codes form the operational contract with CI/CD and operators.
const (
	Success         = 0 // Every entry was cleared, or nothing was there to clear
	InvalidConfig   = 2 // Configuration file invalid or missing, or bad flags
	SafetyViolation = 3 // Safety validator refused the root
	RuntimeError    = 4 // The traversal failed or an I/O dependency was unusable
)

// Error attaches an explicit exit code to an error.
type Error struct {
	Code int
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// WithCode wraps err so that For returns code for it.
func WithCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: err}
}

// For maps an error returned by a command to its process exit code.
func For(err error) int {
	if err == nil {
		return Success
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	switch {
	case config.IsValidationError(err):
		return InvalidConfig
	case safety.IsViolation(err):
		return SafetyViolation
	default:
		return RuntimeError
	}
}
