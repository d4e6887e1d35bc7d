package pipeline

import "errors"

var (
	// ErrInvalidInput rejects a submission before any resources are
	// allocated: malformed repository reference or unsupported category.
	ErrInvalidInput = errors.New("invalid analysis request")

	// ErrNotFound is returned for lookups of unknown job IDs.
	ErrNotFound = errors.New("job not found")

	// ErrShuttingDown rejects submissions during graceful shutdown.
	ErrShuttingDown = errors.New("controller is shutting down")
)
