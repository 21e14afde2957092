package scheduler

import "errors"

var (
	// ErrNotFound is returned when a Server id does not resolve to a row.
	ErrNotFound = errors.New("server not found")
	// ErrNoActiveServer is returned by Stop("active") when nothing is running.
	ErrNoActiveServer = errors.New("no server running")
	// ErrRunning is returned by Delete when the server is currently running.
	ErrRunning = errors.New("server is running")
)
