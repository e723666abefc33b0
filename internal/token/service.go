// Package token implements the one-time access-token lifecycle: project
// creation with a fresh shareable token, and the exchange state machine that
// rotates a presented token and mints a session credential.
//
// Exchange deliberately exposes a single opaque failure. "Not found",
// "expired", and "inactive" are all reported as ErrInvalidToken so a holder
// of a stale link learns nothing about project state, and enumeration
// attempts get no oracle. Do not "improve" this into granular errors.
package token

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/keepsake-app/keepsake/internal/auth"
	"github.com/keepsake-app/keepsake/internal/db/models"
	"github.com/keepsake-app/keepsake/internal/db/repositories"
	"github.com/keepsake-app/keepsake/internal/telemetry"
)

// ErrInvalidToken is the single rejection cause for token exchange.
var ErrInvalidToken = errors.New("invalid or expired token")

// OwnerMetadata is the onboarding input. Opaque to the token core; persisted
// for the downstream drafting features.
type OwnerMetadata struct {
	Name         string
	DOB          *time.Time
	Relationship string
	Themes       []string
	Output       string
}

// CreateResult is returned by CreateProject. Token is the plaintext shareable
// secret — the only time it leaves this package. Embed it into the share URL
// immediately and never log it.
type CreateResult struct {
	ProjectID string
	Token     string
}

// ExchangeResult is returned by a successful Exchange.
type ExchangeResult struct {
	ProjectID  string
	Credential string
}

// Service is the access-token service. It owns all reads and writes of the
// token fields on the projects table.
type Service struct {
	projects      *repositories.ProjectRepository
	sessions      *auth.SessionManager
	retentionDays int
}

// NewService creates a token Service.
func NewService(projects *repositories.ProjectRepository, sessions *auth.SessionManager, retentionDays int) *Service {
	return &Service{
		projects:      projects,
		sessions:      sessions,
		retentionDays: retentionDays,
	}
}

// CreateProject persists a new active project with a freshly generated token
// and its owner metadata as one transaction. expires_at is fixed at creation
// and never extended.
func (s *Service) CreateProject(ctx context.Context, meta OwnerMetadata) (*CreateResult, error) {
	tok, err := auth.GenerateProjectToken()
	if err != nil {
		return nil, err
	}

	project := &models.Project{
		Token:     tok,
		Status:    models.ProjectStatusActive,
		ExpiresAt: time.Now().Add(time.Duration(s.retentionDays) * 24 * time.Hour),
	}

	var relationship *string
	if meta.Relationship != "" {
		relationship = &meta.Relationship
	}
	output := meta.Output
	if output == "" {
		output = "book"
	}
	themes := meta.Themes
	if themes == nil {
		themes = []string{}
	}

	interviewee := &models.Interviewee{
		Name:         meta.Name,
		DOB:          meta.DOB,
		Relationship: relationship,
		Themes:       themes,
		OutputPrefs:  models.OutputPrefs{Type: output},
	}

	if err := s.projects.CreateProjectWithInterviewee(ctx, project, interviewee); err != nil {
		return nil, err
	}

	telemetry.ProjectsCreatedTotal.Inc()
	slog.Info("project created", "project_id", project.ID, "expires_at", project.ExpiresAt)

	return &CreateResult{ProjectID: project.ID, Token: tok}, nil
}

// Exchange validates and rotates a presented one-time token, then mints a
// session credential for the owning project.
//
// On success there is exactly one persisted mutation: the conditional token
// rotation. On any failure there are zero mutations. The rotation UPDATE is
// conditioned on the token column still holding the presented value, so of
// two concurrent exchanges of the same token exactly one succeeds and the
// loser reports ErrInvalidToken without overwriting the winner's rotation.
func (s *Service) Exchange(ctx context.Context, presented string) (*ExchangeResult, error) {
	if presented == "" {
		telemetry.TokenExchangesTotal.WithLabelValues("rejected").Inc()
		return nil, ErrInvalidToken
	}

	project, err := s.projects.GetProjectByToken(ctx, presented)
	if err != nil {
		return nil, err
	}
	if project == nil || !project.Exchangeable(time.Now()) {
		telemetry.TokenExchangesTotal.WithLabelValues("rejected").Inc()
		return nil, ErrInvalidToken
	}

	next, err := auth.GenerateProjectToken()
	if err != nil {
		return nil, err
	}

	rotated, err := s.projects.RotateToken(ctx, project.ID, presented, next, time.Now())
	if err != nil {
		return nil, err
	}
	if !rotated {
		// Lost the race: someone else rotated this token between our read
		// and our write. The presented value is spent either way.
		telemetry.TokenExchangesTotal.WithLabelValues("rejected").Inc()
		return nil, ErrInvalidToken
	}

	credential, err := s.sessions.Mint(project.ID)
	if err != nil {
		return nil, err
	}

	telemetry.TokenExchangesTotal.WithLabelValues("ok").Inc()
	slog.Info("token exchanged", "project_id", project.ID)

	return &ExchangeResult{ProjectID: project.ID, Credential: credential}, nil
}
