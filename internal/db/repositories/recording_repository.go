// recording_repository.go implements RecordingRepository and TranscriptRepository,
// covering audio recording rows and their transcription results.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/keepsake-app/keepsake/internal/db/models"
)

// RecordingRepository handles recording database operations
type RecordingRepository struct {
	db *sql.DB
}

// NewRecordingRepository creates a new RecordingRepository
func NewRecordingRepository(db *sql.DB) *RecordingRepository {
	return &RecordingRepository{db: db}
}

// CreateRecording inserts a recording row and fills in its generated ID.
func (r *RecordingRepository) CreateRecording(ctx context.Context, rec *models.Recording) error {
	rec.CreatedAt = time.Now()
	return r.db.QueryRowContext(ctx, `
		INSERT INTO recordings (project_id, interviewee_id, audio_key, duration_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, rec.ProjectID, rec.IntervieweeID, rec.AudioKey, rec.DurationSeconds, rec.CreatedAt).Scan(&rec.ID)
}

// GetRecording retrieves a recording scoped to a project. Scoping by project
// keeps one session from reaching another project's audio.
func (r *RecordingRepository) GetRecording(ctx context.Context, recordingID, projectID string) (*models.Recording, error) {
	rec := &models.Recording{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, project_id, interviewee_id, audio_key, duration_seconds, transcript_id, created_at
		FROM recordings
		WHERE id = $1 AND project_id = $2
	`, recordingID, projectID).Scan(&rec.ID, &rec.ProjectID, &rec.IntervieweeID,
		&rec.AudioKey, &rec.DurationSeconds, &rec.TranscriptID, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// LatestRecording returns the most recent recording for a project, or nil.
func (r *RecordingRepository) LatestRecording(ctx context.Context, projectID string) (*models.Recording, error) {
	rec := &models.Recording{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, project_id, interviewee_id, audio_key, duration_seconds, transcript_id, created_at
		FROM recordings
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, projectID).Scan(&rec.ID, &rec.ProjectID, &rec.IntervieweeID,
		&rec.AudioKey, &rec.DurationSeconds, &rec.TranscriptID, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// LinkTranscript sets recordings.transcript_id. Idempotent: relinking the
// same transcript is a no-op at the data level.
func (r *RecordingRepository) LinkTranscript(ctx context.Context, recordingID, transcriptID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE recordings SET transcript_id = $1 WHERE id = $2
	`, transcriptID, recordingID)
	return err
}

// ListAudioKeys returns the storage keys of all recordings for a project, for
// cleanup during retention purge.
func (r *RecordingRepository) ListAudioKeys(ctx context.Context, projectID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT audio_key FROM recordings WHERE project_id = $1
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// TranscriptRepository handles transcript database operations
type TranscriptRepository struct {
	db *sql.DB
}

// NewTranscriptRepository creates a new TranscriptRepository
func NewTranscriptRepository(db *sql.DB) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// UpsertTranscript inserts or replaces the transcript for a recording. The
// recording_id column is unique, so transcribing twice overwrites in place.
func (r *TranscriptRepository) UpsertTranscript(ctx context.Context, t *models.Transcript) error {
	now := time.Now()
	return r.db.QueryRowContext(ctx, `
		INSERT INTO transcripts (recording_id, text, segments, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (recording_id)
		DO UPDATE SET text = EXCLUDED.text, segments = EXCLUDED.segments, updated_at = EXCLUDED.updated_at
		RETURNING id
	`, t.RecordingID, t.Text, t.Segments, now).Scan(&t.ID)
}

// UpdateText saves an owner-corrected transcript text. The update is scoped
// through the recording's project, so a session can only touch its own
// transcripts; a transcript outside the project matches no row.
func (r *TranscriptRepository) UpdateText(ctx context.Context, transcriptID, projectID, text string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE transcripts
		SET text = $1, updated_at = $2
		WHERE id = $3
		  AND recording_id IN (SELECT id FROM recordings WHERE project_id = $4)
	`, text, time.Now(), transcriptID, projectID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// GetTranscriptByRecording retrieves the transcript for a recording, or nil.
func (r *TranscriptRepository) GetTranscriptByRecording(ctx context.Context, recordingID string) (*models.Transcript, error) {
	t := &models.Transcript{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, recording_id, text, segments, created_at, updated_at
		FROM transcripts
		WHERE recording_id = $1
	`, recordingID).Scan(&t.ID, &t.RecordingID, &t.Text, &t.Segments, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}
