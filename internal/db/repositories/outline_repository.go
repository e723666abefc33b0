// outline_repository.go implements OutlineRepository and DraftRepository over
// sqlx, covering outline upserts and draft chapter lifecycle (generate,
// accept, regenerate with version bumps).
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/keepsake-app/keepsake/internal/db/models"
)

// OutlineRepository handles outline database operations
type OutlineRepository struct {
	db *sqlx.DB
}

// NewOutlineRepository creates a new OutlineRepository
func NewOutlineRepository(db *sqlx.DB) *OutlineRepository {
	return &OutlineRepository{db: db}
}

// UpsertOutline inserts or replaces the outline for a recording and fills in
// the row ID. Regenerating an outline resets approval.
func (r *OutlineRepository) UpsertOutline(ctx context.Context, o *models.Outline) error {
	now := time.Now()
	return r.db.QueryRowxContext(ctx, `
		INSERT INTO outlines (recording_id, structure, approved, created_at, updated_at)
		VALUES ($1, $2, FALSE, $3, $3)
		ON CONFLICT (recording_id)
		DO UPDATE SET structure = EXCLUDED.structure, approved = FALSE, updated_at = EXCLUDED.updated_at
		RETURNING id
	`, o.RecordingID, o.Structure, now).Scan(&o.ID)
}

// GetOutlineByRecording retrieves the outline for a recording, or nil.
// Outlines are only ever reached through their recording; handlers compare a
// draft's outline_id against the outline found this way.
func (r *OutlineRepository) GetOutlineByRecording(ctx context.Context, recordingID string) (*models.Outline, error) {
	o := &models.Outline{}
	err := r.db.GetContext(ctx, o, `
		SELECT id, recording_id, structure, approved, created_at, updated_at
		FROM outlines
		WHERE recording_id = $1
	`, recordingID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// SetApproved marks an outline as approved by the project owner.
func (r *OutlineRepository) SetApproved(ctx context.Context, outlineID string, approved bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outlines SET approved = $1, updated_at = $2 WHERE id = $3
	`, approved, time.Now(), outlineID)
	return err
}

// DraftRepository handles draft chapter database operations
type DraftRepository struct {
	db *sqlx.DB
}

// NewDraftRepository creates a new DraftRepository
func NewDraftRepository(db *sqlx.DB) *DraftRepository {
	return &DraftRepository{db: db}
}

// CreateDraft inserts a freshly generated chapter draft.
func (r *DraftRepository) CreateDraft(ctx context.Context, d *models.DraftChapter) error {
	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now
	return r.db.QueryRowxContext(ctx, `
		INSERT INTO draft_chapters (outline_id, title, content, status, regen_count, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id
	`, d.OutlineID, d.Title, d.Content, d.Status, d.RegenCount, d.Version, now).Scan(&d.ID)
}

// GetDraft retrieves a draft chapter by ID, or nil when absent.
func (r *DraftRepository) GetDraft(ctx context.Context, draftID string) (*models.DraftChapter, error) {
	d := &models.DraftChapter{}
	err := r.db.GetContext(ctx, d, `
		SELECT id, outline_id, title, content, status, regen_count, version, created_at, updated_at
		FROM draft_chapters
		WHERE id = $1
	`, draftID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListDraftsByOutline returns all chapter drafts for an outline, ordered by title.
func (r *DraftRepository) ListDraftsByOutline(ctx context.Context, outlineID string) ([]models.DraftChapter, error) {
	drafts := []models.DraftChapter{}
	err := r.db.SelectContext(ctx, &drafts, `
		SELECT id, outline_id, title, content, status, regen_count, version, created_at, updated_at
		FROM draft_chapters
		WHERE outline_id = $1
		ORDER BY title ASC
	`, outlineID)
	if err != nil {
		return nil, err
	}
	return drafts, nil
}

// AcceptDraft marks a draft chapter as accepted.
func (r *DraftRepository) AcceptDraft(ctx context.Context, draftID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE draft_chapters SET status = $1, updated_at = $2 WHERE id = $3
	`, models.DraftStatusAccepted, time.Now(), draftID)
	return err
}

// RegenerateDraft replaces the content of a draft and bumps its counters. The
// regen_count guard is in the WHERE clause so two concurrent regenerations
// cannot push a chapter past the configured limit: the loser matches no row.
func (r *DraftRepository) RegenerateDraft(ctx context.Context, draftID, content string, regenLimit int) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE draft_chapters
		SET content = $1,
		    regen_count = regen_count + 1,
		    version = version + 1,
		    status = $2,
		    updated_at = $3
		WHERE id = $4 AND regen_count < $5
	`, content, models.DraftStatusGenerated, time.Now(), draftID, regenLimit)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// EventRepository handles append-only project event records
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository creates a new EventRepository
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// InsertEvent appends an event row.
func (r *EventRepository) InsertEvent(ctx context.Context, e *models.Event) error {
	e.CreatedAt = time.Now()
	return r.db.QueryRowxContext(ctx, `
		INSERT INTO events (project_id, type, payload, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, e.ProjectID, e.Type, []byte(e.Payload), e.CreatedAt).Scan(&e.ID)
}
