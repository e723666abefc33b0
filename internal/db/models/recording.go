package models

import "time"

// Recording represents one uploaded interview audio file. AudioKey is the
// storage backend key ("<audio-prefix>/<projectId>/<ts>-<name>"), never a URL:
// signed URLs are minted on demand and are deliberately short-lived.
type Recording struct {
	ID              string    `json:"id" db:"id"`
	ProjectID       string    `json:"project_id" db:"project_id"`
	IntervieweeID   *string   `json:"interviewee_id,omitempty" db:"interviewee_id"`
	AudioKey        string    `json:"audio_key" db:"audio_key"`
	DurationSeconds *int      `json:"duration_seconds,omitempty" db:"duration_seconds"`
	TranscriptID    *string   `json:"transcript_id,omitempty" db:"transcript_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Transcript holds the transcription result for a recording. Segments is the
// provider's verbose segment list, stored as opaque JSON.
type Transcript struct {
	ID          string    `json:"id" db:"id"`
	RecordingID string    `json:"recording_id" db:"recording_id"`
	Text        string    `json:"text" db:"text"`
	Segments    []byte    `json:"-" db:"segments"` // raw JSONB
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
