// Package repositories implements database access for the Keepsake backend.
// One repository struct per aggregate, plain SQL with positional parameters.
// Lookups that miss return (nil, nil) rather than an error so callers can
// collapse "not found" into their own failure taxonomy.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/keepsake-app/keepsake/internal/db/models"
)

// ProjectRepository handles project and interviewee database operations
type ProjectRepository struct {
	db *sql.DB
}

// NewProjectRepository creates a new ProjectRepository
func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// CreateProjectWithInterviewee inserts the project row and its interviewee
// metadata in a single transaction. A failure on either insert leaves no
// partially created project behind.
func (r *ProjectRepository) CreateProjectWithInterviewee(ctx context.Context, project *models.Project, interviewee *models.Interviewee) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	project.CreatedAt = now
	project.UpdatedAt = now

	err = tx.QueryRowContext(ctx, `
		INSERT INTO projects (token, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, project.Token, project.Status, project.ExpiresAt, project.CreatedAt, project.UpdatedAt).Scan(&project.ID)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}

	themesJSON, err := json.Marshal(interviewee.Themes)
	if err != nil {
		return err
	}
	prefsJSON, err := json.Marshal(interviewee.OutputPrefs)
	if err != nil {
		return err
	}

	interviewee.ProjectID = project.ID
	interviewee.CreatedAt = now

	err = tx.QueryRowContext(ctx, `
		INSERT INTO interviewees (project_id, name, dob, relationship, themes, output_prefs, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, interviewee.ProjectID, interviewee.Name, interviewee.DOB, interviewee.Relationship,
		themesJSON, prefsJSON, interviewee.CreatedAt).Scan(&interviewee.ID)
	if err != nil {
		return fmt.Errorf("failed to insert interviewee: %w", err)
	}

	return tx.Commit()
}

// GetProjectByToken retrieves the project whose current token equals the
// presented value. The token column is unique, so at most one row matches.
func (r *ProjectRepository) GetProjectByToken(ctx context.Context, token string) (*models.Project, error) {
	return r.scanProject(r.db.QueryRowContext(ctx, `
		SELECT id, token, status, expires_at, token_used_at, created_at, updated_at
		FROM projects
		WHERE token = $1
	`, token))
}

// GetProjectByID retrieves a project by its identifier
func (r *ProjectRepository) GetProjectByID(ctx context.Context, id string) (*models.Project, error) {
	return r.scanProject(r.db.QueryRowContext(ctx, `
		SELECT id, token, status, expires_at, token_used_at, created_at, updated_at
		FROM projects
		WHERE id = $1
	`, id))
}

func (r *ProjectRepository) scanProject(row *sql.Row) (*models.Project, error) {
	project := &models.Project{}
	err := row.Scan(
		&project.ID,
		&project.Token,
		&project.Status,
		&project.ExpiresAt,
		&project.TokenUsedAt,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return project, nil
}

// RotateToken replaces the project's token with newToken, conditioned on the
// stored token still equalling oldToken. The WHERE clause is the one-time-use
// guard: of two concurrent exchanges presenting the same token, exactly one
// matches the row and the loser observes rotated == false. token_used_at is
// set on first rotation only and never cleared afterwards.
func (r *ProjectRepository) RotateToken(ctx context.Context, projectID, oldToken, newToken string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE projects
		SET token = $1,
		    token_used_at = COALESCE(token_used_at, $2),
		    updated_at = $2
		WHERE id = $3 AND token = $4
	`, newToken, now, projectID, oldToken)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// SetStatus updates the project's lifecycle status
func (r *ProjectRepository) SetStatus(ctx context.Context, projectID, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE projects SET status = $1, updated_at = $2 WHERE id = $3
	`, status, time.Now(), projectID)
	return err
}

// FirstIntervieweeID returns the oldest interviewee for a project, or nil when
// the project has none.
func (r *ProjectRepository) FirstIntervieweeID(ctx context.Context, projectID string) (*string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM interviewees
		WHERE project_id = $1
		ORDER BY created_at ASC
		LIMIT 1
	`, projectID).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// GetIntervieweeByProject returns the oldest interviewee record with its
// metadata decoded, or nil when the project has none.
func (r *ProjectRepository) GetIntervieweeByProject(ctx context.Context, projectID string) (*models.Interviewee, error) {
	iv := &models.Interviewee{}
	var themesJSON, prefsJSON []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, dob, relationship, themes, output_prefs, created_at
		FROM interviewees
		WHERE project_id = $1
		ORDER BY created_at ASC
		LIMIT 1
	`, projectID).Scan(&iv.ID, &iv.ProjectID, &iv.Name, &iv.DOB, &iv.Relationship,
		&themesJSON, &prefsJSON, &iv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(themesJSON, &iv.Themes); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(prefsJSON, &iv.OutputPrefs); err != nil {
		return nil, err
	}
	return iv, nil
}

// ListPurgeable returns projects eligible for hard deletion: delete_pending
// projects older than the purge window, and projects past their retention
// expiry by the same margin.
func (r *ProjectRepository) ListPurgeable(ctx context.Context, cutoff time.Time, limit int) ([]*models.Project, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, token, status, expires_at, token_used_at, created_at, updated_at
		FROM projects
		WHERE (status = $1 AND updated_at < $2)
		   OR (expires_at < $2)
		ORDER BY updated_at ASC
		LIMIT $3
	`, models.ProjectStatusDeletePending, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p := &models.Project{}
		if err := rows.Scan(&p.ID, &p.Token, &p.Status, &p.ExpiresAt,
			&p.TokenUsedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// DeleteProject removes a project row; dependent rows cascade at the schema level.
func (r *ProjectRepository) DeleteProject(ctx context.Context, projectID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
	return err
}
