package domain

import "time"

// Trigger values describe what initiated a deployment.
const (
	TriggerManual  = "manual"
	TriggerWebhook = "webhook"
)

// Deployment captures a single build-and-publish attempt for a project.
type Deployment struct {
	ID        string
	ProjectID string
	Status    Status

	Trigger       string
	CommitSHA     string
	CommitMessage string

	// Build output. ArtifactPath and CarPath are only meaningful while the
	// deployment sits in the upload window and are nulled when it leaves it.
	BuildLog     string
	ArtifactPath *string
	RootCID      string
	CarPath      *string

	// Publish output.
	ContentCID   string
	ENSTxHash    *string
	ErrorMessage *string

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// DeploymentUpdate carries the mutable fields for a single atomic
// deployment update. Nil pointers leave the stored value untouched;
// ClearArtifacts nulls the artifact directory and CAR path.
type DeploymentUpdate struct {
	DeploymentID string
	Status       Status

	BuildLog      *string
	ArtifactPath  *string
	RootCID       *string
	CarPath       *string
	ContentCID    *string
	ENSTxHash     *string
	ErrorMessage  *string
	CommitSHA     *string
	CommitMessage *string

	ClearArtifacts bool
	ClearENSTx     bool
	CompletedAt    *time.Time
}
