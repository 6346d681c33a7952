package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionHappyPath(t *testing.T) {
	steps := []Status{
		StatusPendingBuild,
		StatusCloning,
		StatusBuilding,
		StatusPendingUpload,
		StatusUploading,
		StatusUpdatingENS,
		StatusSuccess,
	}
	for i := 0; i < len(steps)-1; i++ {
		assert.True(t, CanTransition(steps[i], steps[i+1]), "%s -> %s", steps[i], steps[i+1])
	}
}

func TestCanTransitionRejectsSkips(t *testing.T) {
	assert.False(t, CanTransition(StatusPendingBuild, StatusPendingUpload))
	assert.False(t, CanTransition(StatusCloning, StatusPendingUpload))
	assert.False(t, CanTransition(StatusBuilding, StatusSuccess))
	assert.False(t, CanTransition(StatusPendingUpload, StatusUpdatingENS))
}

func TestCanTransitionRejectsBackward(t *testing.T) {
	assert.False(t, CanTransition(StatusBuilding, StatusCloning))
	assert.False(t, CanTransition(StatusUploading, StatusPendingUpload))
}

func TestTerminalStatusesAdmitNothing(t *testing.T) {
	for _, from := range []Status{StatusSuccess, StatusFailed, StatusCancelled} {
		for _, to := range []Status{StatusPendingBuild, StatusCloning, StatusFailed, StatusCancelled, from} {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestFailedAndCancelledReachableFromAnyActive(t *testing.T) {
	for _, from := range ActiveStatuses() {
		assert.True(t, CanTransition(from, StatusFailed), "%s -> failed", from)
		assert.True(t, CanTransition(from, StatusCancelled), "%s -> cancelled", from)
	}
}

func TestActiveSelfTransitionAllowed(t *testing.T) {
	for _, s := range ActiveStatuses() {
		assert.True(t, CanTransition(s, s), "%s -> %s", s, s)
	}
}

func TestCanTransitionRejectsUnknownStatus(t *testing.T) {
	assert.False(t, CanTransition(Status("bogus"), StatusCloning))
	assert.False(t, CanTransition(StatusCloning, Status("bogus")))
}

func TestTransitionSources(t *testing.T) {
	assert.ElementsMatch(t, []Status{StatusBuilding, StatusPendingUpload}, TransitionSources(StatusPendingUpload))
	assert.ElementsMatch(t, []Status{StatusUpdatingENS}, TransitionSources(StatusSuccess))
	assert.ElementsMatch(t, ActiveStatuses(), TransitionSources(StatusFailed))
	assert.ElementsMatch(t, ActiveStatuses(), TransitionSources(StatusCancelled))
}

func TestResumable(t *testing.T) {
	assert.True(t, StatusFailed.Resumable())
	assert.True(t, StatusPendingUpload.Resumable())
	assert.True(t, StatusUpdatingENS.Resumable())
	assert.False(t, StatusSuccess.Resumable())
	assert.False(t, StatusCancelled.Resumable())
	assert.False(t, StatusBuilding.Resumable())
}

func TestInUploadWindow(t *testing.T) {
	assert.True(t, StatusPendingUpload.InUploadWindow())
	assert.True(t, StatusUploading.InUploadWindow())
	assert.False(t, StatusUpdatingENS.InUploadWindow())
	assert.False(t, StatusSuccess.InUploadWindow())
}
