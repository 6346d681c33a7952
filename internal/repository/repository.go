package repository

import (
	"context"

	"github.com/hrsh22/filify/internal/domain"
)

// ProjectRepository reads project configuration. The pipeline engine never
// mutates projects.
type ProjectRepository interface {
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
}

// DeploymentRepository persists deployment records. It is the sole source
// of truth for deployment status.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	// GetLatestDeployment returns the most recently created deployment for
	// the project, or ErrNotFound when the project has none.
	GetLatestDeployment(ctx context.Context, projectID string) (*domain.Deployment, error)
	ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error)
	ListDeploymentsByStatus(ctx context.Context, statuses []domain.Status) ([]domain.Deployment, error)
	CountDeploymentsByStatus(ctx context.Context, projectID string, statuses []domain.Status) (int, error)
	// UpdateDeployment applies an atomic single-record update. The write is
	// guarded by the status transition table: an update whose target status
	// is not reachable from the stored status fails with
	// ErrInvalidTransition.
	UpdateDeployment(ctx context.Context, update domain.DeploymentUpdate) error
}
