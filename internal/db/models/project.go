// Package models defines the database model types for the Keepsake backend.
// Each type corresponds to a database table and uses struct tags for both JSON
// serialization and sqlx row scanning. Models are pure data types — business
// logic belongs in the service layer, query logic in the repositories layer.
package models

import "time"

// Project status values. Only an active project can exchange its token.
const (
	ProjectStatusActive        = "active"
	ProjectStatusDeletePending = "delete_pending"
)

// Project represents a memoir project. It carries the one-time access-token
// record: Token is a high-entropy bearer secret that is replaced on every
// successful exchange, TokenUsedAt records the first exchange only and is
// kept for audit purposes — it never drives an access-control decision.
type Project struct {
	ID          string     `json:"id" db:"id"`
	Token       string     `json:"-" db:"token"` // never serialized
	Status      string     `json:"status" db:"status"`
	ExpiresAt   time.Time  `json:"expires_at" db:"expires_at"`
	TokenUsedAt *time.Time `json:"token_used_at,omitempty" db:"token_used_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Exchangeable reports whether the project can exchange its current token at
// the given instant: status must be active and the retention window open.
func (p *Project) Exchangeable(now time.Time) bool {
	return p.Status == ProjectStatusActive && now.Before(p.ExpiresAt)
}

// Interviewee holds the owner-supplied metadata about the person being
// interviewed. Opaque to the token core; consumed by prompt construction.
type Interviewee struct {
	ID           string     `json:"id" db:"id"`
	ProjectID    string     `json:"project_id" db:"project_id"`
	Name         string     `json:"name" db:"name"`
	DOB          *time.Time `json:"dob,omitempty" db:"dob"`
	Relationship *string    `json:"relationship,omitempty" db:"relationship"`
	Themes       []string   `json:"themes" db:"-"`
	OutputPrefs  OutputPrefs `json:"output_prefs" db:"-"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// OutputPrefs records the requested memoir format.
type OutputPrefs struct {
	Type string `json:"type"` // "book", "booklet", ...
}
