package deploy

import "errors"

var (
	// ErrConflict indicates the project already has an active deployment.
	ErrConflict = errors.New("deploy: an active deployment already exists for this project")
	// ErrResumeUnavailable indicates no prior deployment is resumable or
	// its workspace is gone from disk.
	ErrResumeUnavailable = errors.New("deploy: no resumable deployment with its artifacts on disk")
	// ErrInvalidState indicates an operation was invoked outside the
	// statuses that allow it.
	ErrInvalidState = errors.New("deploy: operation not allowed in the current deployment status")
)

// Fixed messages distinguishing the two non-failure terminal paths.
const (
	cancelledMessage   = "Deployment cancelled by user"
	interruptedMessage = "Deployment interrupted by server restart"
)
