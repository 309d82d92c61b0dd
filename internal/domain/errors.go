package domain

import "errors"

var (
	// ErrProcessGone means the PID no longer exists.
	ErrProcessGone = errors.New("process not found")

	// ErrPermissionDenied means the OS refused access to the process.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrPressureUnavailable means the kernel does not expose PSI.
	ErrPressureUnavailable = errors.New("pressure stall information unavailable")

	// ErrUnauthorized means the service manager rejected the call.
	ErrUnauthorized = errors.New("not authorized by service manager")

	// ErrServiceTimeout means the service manager did not answer in time.
	ErrServiceTimeout = errors.New("service manager call timed out")

	// ErrAlreadyRunning means another live governor holds the instance lock.
	ErrAlreadyRunning = errors.New("another governor instance is running")
)
