// Package deploy owns the deployment state machine: it validates
// transitions, drives the build pipeline through the per-project queue,
// and bridges to the publish and ENS collaborators.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hrsh22/filify/internal/builder"
	"github.com/hrsh22/filify/internal/domain"
	"github.com/hrsh22/filify/internal/publish"
	"github.com/hrsh22/filify/internal/queue"
	"github.com/hrsh22/filify/internal/repository"
	"github.com/hrsh22/filify/internal/workspace"
	"github.com/hrsh22/filify/internal/ws"
	"github.com/hrsh22/filify/pkg/crypto"
)

// BuildEngine abstracts the build orchestrator.
type BuildEngine interface {
	Build(ctx context.Context, req builder.Request) (builder.Result, error)
	KillProcess(runID string) bool
}

// TaskQueue abstracts the per-project execution queue.
type TaskQueue interface {
	Enqueue(key string, task queue.Task)
	Cancel(key string) bool
}

// Service coordinates deployments for a single server instance.
type Service struct {
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	queue       TaskQueue
	engine      BuildEngine
	workspaces  *workspace.Manager
	uploader    publish.Uploader
	ens         publish.ENS
	hub         *ws.Hub
	metrics     *Metrics
	logger      *slog.Logger
	tokenSecret string
}

// New constructs the deployment service.
func New(
	projects repository.ProjectRepository,
	deployments repository.DeploymentRepository,
	taskQueue TaskQueue,
	engine BuildEngine,
	workspaces *workspace.Manager,
	uploader publish.Uploader,
	ens publish.ENS,
	hub *ws.Hub,
	metrics *Metrics,
	logger *slog.Logger,
	tokenSecret string,
) *Service {
	return &Service{
		projects:    projects,
		deployments: deployments,
		queue:       taskQueue,
		engine:      engine,
		workspaces:  workspaces,
		uploader:    uploader,
		ens:         ens,
		hub:         hub,
		metrics:     metrics,
		logger:      logger,
		tokenSecret: tokenSecret,
	}
}

// CreateOptions carries provenance and resume parameters for Create.
type CreateOptions struct {
	Trigger       string
	CommitSHA     string
	CommitMessage string
	Resume        bool
}

// Create validates, persists and enqueues a new deployment. It rejects
// with ErrConflict while any deployment for the project is active, and
// with ErrResumeUnavailable when resume is requested but no prior
// workspace qualifies.
func (s *Service) Create(ctx context.Context, projectID string, opts CreateOptions) (*domain.Deployment, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	active, err := s.deployments.CountDeploymentsByStatus(ctx, projectID, domain.ActiveStatuses())
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, ErrConflict
	}

	var reuseDir string
	if opts.Resume {
		prev, err := s.deployments.GetLatestDeployment(ctx, projectID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%w: project has no deployments", ErrResumeUnavailable)
			}
			return nil, err
		}
		if !prev.Status.Resumable() {
			return nil, fmt.Errorf("%w: last deployment is %s", ErrResumeUnavailable, prev.Status)
		}
		if !s.workspaces.Exists(prev.ID) {
			return nil, fmt.Errorf("%w: workspace of deployment %s no longer exists", ErrResumeUnavailable, prev.ID)
		}
		reuseDir = s.workspaces.Path(prev.ID)
	}

	trigger := opts.Trigger
	if trigger == "" {
		trigger = domain.TriggerManual
	}

	dep := &domain.Deployment{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		Status:        domain.StatusPendingBuild,
		Trigger:       trigger,
		CommitSHA:     opts.CommitSHA,
		CommitMessage: opts.CommitMessage,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.deployments.CreateDeployment(ctx, dep); err != nil {
		// The partial unique index catches creates racing past the count.
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrConflict
		}
		return nil, err
	}
	s.notify(dep.ProjectID, dep.ID, dep.Status, "queued", "deployment queued")

	snapshot := *project
	s.queue.Enqueue(projectID, func(taskCtx context.Context) error {
		return s.runPipeline(taskCtx, dep.ID, snapshot, reuseDir)
	})

	s.logger.Info("deployment created", "deployment_id", dep.ID, "project_id", projectID, "trigger", trigger, "resume", opts.Resume)
	return dep, nil
}

// runPipeline executes the build stages for one deployment. On failure
// the current persisted status is re-read first: a cancelled deployment
// already owns its terminal state and the failure is suppressed.
func (s *Service) runPipeline(ctx context.Context, deploymentID string, project domain.Project, reuseDir string) error {
	started := time.Now()

	token := ""
	if len(project.EncryptedToken) > 0 {
		decrypted, err := crypto.DecryptToString(s.tokenSecret, project.EncryptedToken)
		if err != nil {
			return s.failPipeline(deploymentID, project.ID, "", fmt.Errorf("decrypt clone credential: %w", err), started)
		}
		token = decrypted
	}

	// Cancellation can land while the task is still backlogged; the
	// entry transition then fails against the cancelled record and must
	// settle as a cancellation, not a failure.
	if err := s.transition(ctx, domain.DeploymentUpdate{DeploymentID: deploymentID, Status: domain.StatusCloning}); err != nil {
		return s.failPipeline(deploymentID, project.ID, "", err, started)
	}
	s.notify(project.ID, deploymentID, domain.StatusCloning, builder.StageCloning, "acquiring source")

	res, err := s.engine.Build(ctx, builder.Request{
		RunID:    deploymentID,
		Project:  project,
		Token:    token,
		ReuseDir: reuseDir,
		OnStage: func(name string) {
			if name != builder.StageBuilding {
				return
			}
			if err := s.transition(context.Background(), domain.DeploymentUpdate{DeploymentID: deploymentID, Status: domain.StatusBuilding}); err != nil {
				s.logger.Warn("stage transition failed", "deployment_id", deploymentID, "stage", name, "error", err)
				return
			}
			s.notify(project.ID, deploymentID, domain.StatusBuilding, name, "running build")
		},
	})
	if err != nil {
		return s.failPipeline(deploymentID, project.ID, res.Log, err, started)
	}

	update := domain.DeploymentUpdate{
		DeploymentID: deploymentID,
		Status:       domain.StatusPendingUpload,
		BuildLog:     &res.Log,
		ArtifactPath: &res.OutputDir,
		RootCID:      &res.RootCID,
		CarPath:      &res.CarPath,
	}
	if res.CommitSHA != "" {
		update.CommitSHA = &res.CommitSHA
		update.CommitMessage = &res.CommitMessage
	}
	if err := s.transition(context.Background(), update); err != nil {
		return s.failPipeline(deploymentID, project.ID, res.Log, err, started)
	}

	s.metrics.observeRun("built", started)
	s.notify(project.ID, deploymentID, domain.StatusPendingUpload, "packaged", "archive ready for upload")
	s.logger.Info("pipeline built",
		"deployment_id", deploymentID,
		"project_id", project.ID,
		"root_cid", res.RootCID,
		"files", res.Summary.Files,
		"bytes", res.Summary.Bytes,
	)
	return nil
}

// failPipeline records a terminal failure unless cancellation already
// claimed the record.
func (s *Service) failPipeline(deploymentID, projectID, buildLog string, cause error, started time.Time) error {
	// The cancel path flips status out-of-band; re-read before writing.
	current, err := s.deployments.GetDeploymentByID(context.Background(), deploymentID)
	if err == nil && current.Status == domain.StatusCancelled {
		s.logger.Info("pipeline failure suppressed by cancellation", "deployment_id", deploymentID)
		s.metrics.observeRun("cancelled", started)
		return queue.ErrCancelled
	}

	msg := cause.Error()
	logText := buildLog
	if logText == "" {
		logText = msg
	}
	now := time.Now().UTC()
	update := domain.DeploymentUpdate{
		DeploymentID:   deploymentID,
		Status:         domain.StatusFailed,
		ErrorMessage:   &msg,
		BuildLog:       &logText,
		ClearArtifacts: true,
		CompletedAt:    &now,
	}
	if err := s.transition(context.Background(), update); err != nil {
		s.logger.Error("failed to persist pipeline failure", "deployment_id", deploymentID, "error", err)
	}
	s.metrics.observeRun("failed", started)
	s.notify(projectID, deploymentID, domain.StatusFailed, "failed", msg)
	return cause
}

// Cancel flips an active deployment to cancelled, then asks the queue
// and the orchestrator to terminate the in-flight work. It reports
// whether a live subprocess was actually found and killed.
func (s *Service) Cancel(ctx context.Context, deploymentID string) (bool, error) {
	dep, err := s.deployments.GetDeploymentByID(ctx, deploymentID)
	if err != nil {
		return false, err
	}
	if !dep.Status.Active() {
		return false, fmt.Errorf("%w: %s is %s", ErrInvalidState, deploymentID, dep.Status)
	}

	msg := cancelledMessage
	now := time.Now().UTC()
	update := domain.DeploymentUpdate{
		DeploymentID:   deploymentID,
		Status:         domain.StatusCancelled,
		ErrorMessage:   &msg,
		ClearArtifacts: true,
		CompletedAt:    &now,
	}
	if err := s.transition(ctx, update); err != nil {
		return false, err
	}

	s.queue.Cancel(dep.ProjectID)
	killed := s.engine.KillProcess(deploymentID)
	s.notify(dep.ProjectID, deploymentID, domain.StatusCancelled, "cancelled", msg)
	s.logger.Info("deployment cancelled", "deployment_id", deploymentID, "project_id", dep.ProjectID, "killed_process", killed)
	return killed, nil
}

// PrepareENS uploads the packaged archive to the storage network and
// advances the deployment to updating_ens with the verified content
// address. Legal only inside the upload window.
func (s *Service) PrepareENS(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	dep, err := s.deployments.GetDeploymentByID(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if !dep.Status.InUploadWindow() {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidState, deploymentID, dep.Status)
	}
	if dep.CarPath == nil || dep.RootCID == "" {
		return nil, fmt.Errorf("%w: deployment has no packaged archive", ErrInvalidState)
	}

	if dep.Status == domain.StatusPendingUpload {
		if err := s.transition(ctx, domain.DeploymentUpdate{DeploymentID: deploymentID, Status: domain.StatusUploading}); err != nil {
			return nil, err
		}
		s.notify(dep.ProjectID, deploymentID, domain.StatusUploading, "uploading", "uploading archive")
	}

	result, err := s.uploader.Upload(ctx, *dep.CarPath, dep.RootCID)
	if err != nil {
		return nil, err
	}

	update := domain.DeploymentUpdate{
		DeploymentID:   deploymentID,
		Status:         domain.StatusUpdatingENS,
		ContentCID:     &result.ContentCID,
		ClearArtifacts: true,
	}
	if err := s.transition(ctx, update); err != nil {
		return nil, err
	}
	s.notify(dep.ProjectID, deploymentID, domain.StatusUpdatingENS, "uploaded", "archive stored at "+result.ContentCID)
	return s.deployments.GetDeploymentByID(ctx, deploymentID)
}

// ConfirmENS records the content address on-chain and verifies it
// independently. The speculative transaction reference is rolled back
// when either step fails, so the record never claims an unverified
// publication.
func (s *Service) ConfirmENS(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	dep, err := s.deployments.GetDeploymentByID(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if dep.Status != domain.StatusUpdatingENS {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidState, deploymentID, dep.Status)
	}
	if dep.ContentCID == "" {
		return nil, fmt.Errorf("%w: deployment has no content address", ErrInvalidState)
	}
	project, err := s.projects.GetProjectByID(ctx, dep.ProjectID)
	if err != nil {
		return nil, err
	}

	txHash, err := s.ens.SetContentHash(ctx, project.ENSName, dep.ContentCID)
	if err != nil {
		return nil, fmt.Errorf("set contenthash for %s: %w", project.ENSName, err)
	}
	if err := s.transition(ctx, domain.DeploymentUpdate{
		DeploymentID: deploymentID,
		Status:       domain.StatusUpdatingENS,
		ENSTxHash:    &txHash,
	}); err != nil {
		return nil, err
	}

	resolved, err := s.ens.ResolveContentHash(ctx, project.ENSName)
	if err != nil || resolved != dep.ContentCID {
		rollback := domain.DeploymentUpdate{
			DeploymentID: deploymentID,
			Status:       domain.StatusUpdatingENS,
			ClearENSTx:   true,
		}
		if rbErr := s.transition(ctx, rollback); rbErr != nil {
			s.logger.Error("ens rollback failed", "deployment_id", deploymentID, "error", rbErr)
		}
		if err != nil {
			return nil, fmt.Errorf("verify contenthash for %s: %w", project.ENSName, err)
		}
		return nil, fmt.Errorf("contenthash verification mismatch: resolved %s, expected %s", resolved, dep.ContentCID)
	}

	now := time.Now().UTC()
	if err := s.transition(ctx, domain.DeploymentUpdate{
		DeploymentID: deploymentID,
		Status:       domain.StatusSuccess,
		CompletedAt:  &now,
	}); err != nil {
		return nil, err
	}
	s.notify(dep.ProjectID, deploymentID, domain.StatusSuccess, "published", "site published to "+project.ENSName)
	s.logger.Info("deployment published", "deployment_id", deploymentID, "ens_name", project.ENSName, "tx_hash", txHash)
	return s.deployments.GetDeploymentByID(ctx, deploymentID)
}

// MarkUploadFailed records a publish-stage failure reported by the
// external collaborators.
func (s *Service) MarkUploadFailed(ctx context.Context, deploymentID, message string) error {
	dep, err := s.deployments.GetDeploymentByID(ctx, deploymentID)
	if err != nil {
		return err
	}
	switch dep.Status {
	case domain.StatusPendingUpload, domain.StatusUploading, domain.StatusUpdatingENS:
	default:
		return fmt.Errorf("%w: %s is %s", ErrInvalidState, deploymentID, dep.Status)
	}
	if message == "" {
		message = "upload failed"
	}
	now := time.Now().UTC()
	err = s.transition(ctx, domain.DeploymentUpdate{
		DeploymentID:   deploymentID,
		Status:         domain.StatusFailed,
		ErrorMessage:   &message,
		ClearArtifacts: true,
		ClearENSTx:     true,
		CompletedAt:    &now,
	})
	if err != nil {
		return err
	}
	s.notify(dep.ProjectID, deploymentID, domain.StatusFailed, "upload_failed", message)
	return nil
}

// RecoverInterrupted fails every deployment a prior process left in an
// active status. Queue and subprocess state are purely in-memory, so any
// record still active at startup is definitionally orphaned.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	orphans, err := s.deployments.ListDeploymentsByStatus(ctx, domain.ActiveStatuses())
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, dep := range orphans {
		msg := interruptedMessage
		now := time.Now().UTC()
		update := domain.DeploymentUpdate{
			DeploymentID:   dep.ID,
			Status:         domain.StatusFailed,
			ErrorMessage:   &msg,
			ClearArtifacts: true,
			CompletedAt:    &now,
		}
		if err := s.transition(ctx, update); err != nil {
			s.logger.Error("recovery transition failed", "deployment_id", dep.ID, "error", err)
			continue
		}
		recovered++
		if err := s.workspaces.CleanupByID(dep.ID); err != nil {
			s.logger.Warn("recovery workspace cleanup failed", "deployment_id", dep.ID, "error", err)
		}
	}
	if recovered > 0 {
		s.logger.Info("recovered interrupted deployments", "count", recovered)
	}
	return recovered, nil
}

// GetDeployment returns the deployment record.
func (s *Service) GetDeployment(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	return s.deployments.GetDeploymentByID(ctx, deploymentID)
}

// ListDeployments returns recent deployments for a project.
func (s *Service) ListDeployments(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	return s.deployments.ListDeploymentsByProject(ctx, projectID, limit)
}

// ArtifactDir returns the built output directory for a deployment inside
// the upload window, rediscovered through the workspace sidecar.
func (s *Service) ArtifactDir(ctx context.Context, deploymentID string) (string, error) {
	dep, err := s.deployments.GetDeploymentByID(ctx, deploymentID)
	if err != nil {
		return "", err
	}
	if !dep.Status.InUploadWindow() {
		return "", fmt.Errorf("%w: artifacts are only readable while upload is pending", ErrInvalidState)
	}
	workdir := s.workspaces.Path(dep.ID)
	rel, err := workspace.ReadSidecar(workdir)
	if err != nil {
		return "", fmt.Errorf("read output sidecar: %w", err)
	}
	return filepath.Join(workdir, rel), nil
}

// transition is the single point where status is written. Illegal
// transitions surface as repository.ErrInvalidTransition.
func (s *Service) transition(ctx context.Context, update domain.DeploymentUpdate) error {
	return s.deployments.UpdateDeployment(ctx, update)
}

func (s *Service) notify(projectID, deploymentID string, status domain.Status, stage, message string) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(ws.Event{
		DeploymentID: deploymentID,
		ProjectID:    projectID,
		Status:       string(status),
		Stage:        stage,
		Message:      message,
	})
}
