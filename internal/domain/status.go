package domain

// Status is the deployment lifecycle state.
type Status string

const (
	StatusPendingBuild  Status = "pending_build"
	StatusCloning       Status = "cloning"
	StatusBuilding      Status = "building"
	StatusPendingUpload Status = "pending_upload"
	StatusUploading     Status = "uploading"
	StatusUpdatingENS   Status = "updating_ens"
	StatusSuccess       Status = "success"
	StatusFailed        Status = "failed"
	StatusCancelled     Status = "cancelled"
)

// forward lists the happy-path successor of each status. failed and
// cancelled are reachable from every active status and are handled in
// CanTransition directly.
var forward = map[Status]Status{
	StatusPendingBuild:  StatusCloning,
	StatusCloning:       StatusBuilding,
	StatusBuilding:      StatusPendingUpload,
	StatusPendingUpload: StatusUploading,
	StatusUploading:     StatusUpdatingENS,
	StatusUpdatingENS:   StatusSuccess,
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether the status is non-terminal.
func (s Status) Active() bool {
	return s.Valid() && !s.Terminal()
}

// Resumable reports whether a later deployment may reuse this
// deployment's workspace.
func (s Status) Resumable() bool {
	switch s {
	case StatusFailed, StatusPendingUpload, StatusUploading, StatusUpdatingENS:
		return true
	}
	return false
}

// InUploadWindow reports whether the artifact directory and CAR file are
// meaningful for this status.
func (s Status) InUploadWindow() bool {
	return s == StatusPendingUpload || s == StatusUploading
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingBuild, StatusCloning, StatusBuilding, StatusPendingUpload,
		StatusUploading, StatusUpdatingENS, StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ActiveStatuses returns every non-terminal status.
func ActiveStatuses() []Status {
	return []Status{
		StatusPendingBuild,
		StatusCloning,
		StatusBuilding,
		StatusPendingUpload,
		StatusUploading,
		StatusUpdatingENS,
	}
}

// CanTransition reports whether moving from one status to another is legal.
// The happy path is forward-only; failed and cancelled are reachable from
// any active status; terminal statuses admit nothing.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if from == to {
		// Idempotent rewrite of an active status, used when updating
		// fields without advancing the machine.
		return true
	}
	if to == StatusFailed || to == StatusCancelled {
		return true
	}
	return forward[from] == to
}

// TransitionSources returns every status from which a transition to the
// given status is legal. Used by the repository to guard the single point
// where status is written.
func TransitionSources(to Status) []Status {
	var sources []Status
	for _, from := range ActiveStatuses() {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}
