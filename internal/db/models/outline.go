package models

import (
	"encoding/json"
	"time"
)

// Outline is the AI-generated chapter plan for a recording. Structure stores
// the model's JSON verbatim; OutlineStructure is the subset the drafting step
// actually reads from it.
type Outline struct {
	ID          string    `json:"id" db:"id"`
	RecordingID string    `json:"recording_id" db:"recording_id"`
	Structure   []byte    `json:"-" db:"structure"` // raw JSONB
	Approved    bool      `json:"approved" db:"approved"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// OutlineStructure is the parsed shape of Outline.Structure.
type OutlineStructure struct {
	Chapters []OutlineChapter `json:"chapters"`
}

// OutlineChapter is one planned chapter with its guidance bullets.
type OutlineChapter struct {
	Title   string   `json:"title"`
	Bullets []string `json:"bullets,omitempty"`
}

// ParseStructure decodes the stored outline JSON. Unknown shapes decode to an
// empty chapter list rather than failing; the model output is untrusted.
func (o *Outline) ParseStructure() OutlineStructure {
	var s OutlineStructure
	if err := json.Unmarshal(o.Structure, &s); err != nil {
		return OutlineStructure{}
	}
	return s
}

// Draft chapter status values.
const (
	DraftStatusGenerated = "generated"
	DraftStatusAccepted  = "accepted"
)

// DraftChapter is one drafted memoir chapter. Version increments on every
// regeneration; RegenCount is capped by configuration.
type DraftChapter struct {
	ID         string    `json:"id" db:"id"`
	OutlineID  string    `json:"outline_id" db:"outline_id"`
	Title      string    `json:"title" db:"title"`
	Content    string    `json:"content" db:"content"`
	Status     string    `json:"status" db:"status"`
	RegenCount int       `json:"regen_count" db:"regen_count"`
	Version    int       `json:"version" db:"version"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Event is an append-only analytics/audit record scoped to a project.
type Event struct {
	ID        string          `json:"id" db:"id"`
	ProjectID string          `json:"project_id" db:"project_id"`
	Type      string          `json:"type" db:"type"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
