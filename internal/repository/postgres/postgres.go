package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hrsh22/filify/internal/domain"
	"github.com/hrsh22/filify/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ProjectRepository    = (*Repository)(nil)
	_ repository.DeploymentRepository = (*Repository)(nil)
)

const deploymentColumns = `id, project_id, status, trigger_source, commit_sha, commit_message,
		build_log, artifact_path, root_cid, car_path, content_cid, ens_tx_hash, error_message,
		created_at, completed_at`

// GetProjectByID fetches a project configuration snapshot.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT id, name, user_id, repo_url, branch, build_command, output_dir,
			frontend_dir, encrypted_token, ens_name, created_at
		FROM projects WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, projectID)
	var p domain.Project
	if err := row.Scan(&p.ID, &p.Name, &p.UserID, &p.RepoURL, &p.Branch, &p.BuildCommand,
		&p.OutputDir, &p.FrontendDir, &p.EncryptedToken, &p.ENSName, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreateDeployment inserts a new deployment record.
func (r *Repository) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	const query = `INSERT INTO deployments (` + deploymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := r.pool.Exec(ctx, query,
		d.ID,
		d.ProjectID,
		d.Status,
		d.Trigger,
		d.CommitSHA,
		d.CommitMessage,
		d.BuildLog,
		d.ArtifactPath,
		d.RootCID,
		d.CarPath,
		d.ContentCID,
		d.ENSTxHash,
		d.ErrorMessage,
		d.CreatedAt,
		d.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrDuplicate
		}
		return err
	}
	return nil
}

// GetDeploymentByID fetches a deployment by identifier.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, deploymentID)
	return scanDeployment(row)
}

// GetLatestDeployment returns the most recently created deployment for a project.
func (r *Repository) GetLatestDeployment(ctx context.Context, projectID string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE project_id = $1 ORDER BY created_at DESC LIMIT 1`
	row := r.pool.QueryRow(ctx, query, projectID)
	return scanDeployment(row)
}

// ListDeploymentsByProject fetches recent deployments for a project.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeployments(rows)
}

// ListDeploymentsByStatus returns every deployment whose status is in the set.
func (r *Repository) ListDeploymentsByStatus(ctx context.Context, statuses []domain.Status) ([]domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE status = ANY($1) ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, statusStrings(statuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeployments(rows)
}

// CountDeploymentsByStatus counts a project's deployments in the given statuses.
func (r *Repository) CountDeploymentsByStatus(ctx context.Context, projectID string, statuses []domain.Status) (int, error) {
	const query = `SELECT COUNT(1) FROM deployments WHERE project_id = $1 AND status = ANY($2)`
	row := r.pool.QueryRow(ctx, query, projectID, statusStrings(statuses))
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateDeployment applies an atomic update guarded by the transition
// table: the row is only written when its stored status legally permits
// the requested target status.
func (r *Repository) UpdateDeployment(ctx context.Context, update domain.DeploymentUpdate) error {
	const query = `UPDATE deployments
		SET status = $2,
			build_log = COALESCE($3, build_log),
			artifact_path = CASE WHEN $11 THEN NULL ELSE COALESCE($4, artifact_path) END,
			root_cid = COALESCE($5, root_cid),
			car_path = CASE WHEN $11 THEN NULL ELSE COALESCE($6, car_path) END,
			content_cid = COALESCE($7, content_cid),
			ens_tx_hash = CASE WHEN $12 THEN NULL ELSE COALESCE($8, ens_tx_hash) END,
			error_message = COALESCE($9, error_message),
			commit_sha = COALESCE($13, commit_sha),
			commit_message = COALESCE($14, commit_message),
			completed_at = COALESCE($10, completed_at)
		WHERE id = $1 AND status = ANY($15)`
	sources := statusStrings(domain.TransitionSources(update.Status))
	tag, err := r.pool.Exec(ctx, query,
		update.DeploymentID,
		update.Status,
		update.BuildLog,
		update.ArtifactPath,
		update.RootCID,
		update.CarPath,
		update.ContentCID,
		update.ENSTxHash,
		update.ErrorMessage,
		update.CompletedAt,
		update.ClearArtifacts,
		update.ClearENSTx,
		update.CommitSHA,
		update.CommitMessage,
		sources,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetDeploymentByID(ctx, update.DeploymentID); getErr != nil {
			return getErr
		}
		return repository.ErrInvalidTransition
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row rowScanner) (*domain.Deployment, error) {
	var d domain.Deployment
	if err := row.Scan(&d.ID, &d.ProjectID, &d.Status, &d.Trigger, &d.CommitSHA, &d.CommitMessage,
		&d.BuildLog, &d.ArtifactPath, &d.RootCID, &d.CarPath, &d.ContentCID, &d.ENSTxHash,
		&d.ErrorMessage, &d.CreatedAt, &d.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func collectDeployments(rows pgx.Rows) ([]domain.Deployment, error) {
	var deployments []domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	return deployments, rows.Err()
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
