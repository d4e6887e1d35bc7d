package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrProvision           = errors.New("sandbox provisioning failed")
	ErrExecTimeout         = errors.New("sandbox execution timed out")
	ErrReleased            = errors.New("sandbox already released")
	ErrUnsupportedCategory = errors.New("unsupported runtime category")
	ErrSubstrateDown       = errors.New("sandbox substrate unavailable")
)

// Error wraps a sandbox failure with its job and operation context.
type Error struct {
	JobID string
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("sandbox %s: %s: %s", e.JobID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsProvision reports whether err is a provisioning failure.
func IsProvision(err error) bool {
	return errors.Is(err, ErrProvision)
}

// IsTimeout reports whether err is an execution timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrExecTimeout)
}
