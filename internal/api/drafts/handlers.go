// Package drafts implements the outline and chapter drafting endpoints: the
// chapter plan proposed over the transcripts, and the per-chapter prose
// drafts with their accept/regenerate lifecycle.
package drafts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/keepsake-app/keepsake/internal/ai"
	"github.com/keepsake-app/keepsake/internal/config"
	"github.com/keepsake-app/keepsake/internal/db/models"
	"github.com/keepsake-app/keepsake/internal/db/repositories"
	"github.com/keepsake-app/keepsake/internal/middleware"
)

// Handlers holds the drafting endpoint dependencies.
type Handlers struct {
	recordings  *repositories.RecordingRepository
	transcripts *repositories.TranscriptRepository
	outlines    *repositories.OutlineRepository
	drafts      *repositories.DraftRepository
	projects    *repositories.ProjectRepository
	aiClient    *ai.Client
	cfg         *config.Config
}

// NewHandlers creates the drafting handlers.
func NewHandlers(recordings *repositories.RecordingRepository, transcripts *repositories.TranscriptRepository, outlines *repositories.OutlineRepository, drafts *repositories.DraftRepository, projects *repositories.ProjectRepository, aiClient *ai.Client, cfg *config.Config) *Handlers {
	return &Handlers{
		recordings:  recordings,
		transcripts: transcripts,
		outlines:    outlines,
		drafts:      drafts,
		projects:    projects,
		aiClient:    aiClient,
		cfg:         cfg,
	}
}

// currentTranscript resolves the project's latest recording and transcript.
func (h *Handlers) currentTranscript(ctx context.Context, projectID string) (*models.Recording, *models.Transcript, error) {
	rec, err := h.recordings.LatestRecording(ctx, projectID)
	if err != nil || rec == nil {
		return nil, nil, err
	}
	transcript, err := h.transcripts.GetTranscriptByRecording(ctx, rec.ID)
	if err != nil {
		return nil, nil, err
	}
	return rec, transcript, nil
}

// GenerateOutline proposes a chapter outline over the latest transcript and
// upserts it. Regenerating replaces the outline and resets approval.
func (h *Handlers) GenerateOutline(c *gin.Context) {
	projectID := middleware.ProjectID(c)
	ctx := c.Request.Context()

	rec, transcript, err := h.currentTranscript(ctx, projectID)
	if err != nil {
		slog.Error("outline input lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate outline"})
		return
	}
	if rec == nil || transcript == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "No transcript available yet; record and transcribe first"})
		return
	}

	var themes []string
	if interviewee, err := h.projects.GetIntervieweeByProject(ctx, projectID); err == nil && interviewee != nil {
		themes = interviewee.Themes
	}

	structure, err := h.aiClient.ProposeOutline(ctx, []string{transcript.Text}, themes, h.cfg.Limits.OutlineInputChars)
	if err != nil {
		slog.Error("outline generation failed", "project_id", projectID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Outline generation failed"})
		return
	}

	raw, err := json.Marshal(structure)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store outline"})
		return
	}
	outline := &models.Outline{RecordingID: rec.ID, Structure: raw}
	if err := h.outlines.UpsertOutline(ctx, outline); err != nil {
		slog.Error("outline upsert failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store outline"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"outline_id": outline.ID,
		"chapters":   structure.Chapters,
		"approved":   false,
	})
}

// GetOutline returns the stored outline for the latest recording.
func (h *Handlers) GetOutline(c *gin.Context) {
	outline, status, errMsg := h.loadOutline(c)
	if outline == nil {
		c.JSON(status, gin.H{"error": errMsg})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"outline_id": outline.ID,
		"chapters":   outline.ParseStructure().Chapters,
		"approved":   outline.Approved,
	})
}

type approveOutlineRequest struct {
	Approved *bool `json:"approved" binding:"required"`
}

// ApproveOutline flips the outline's approval flag. Drafting is only allowed
// against an approved outline.
func (h *Handlers) ApproveOutline(c *gin.Context) {
	var req approveOutlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "approved is required"})
		return
	}

	outline, status, errMsg := h.loadOutline(c)
	if outline == nil {
		c.JSON(status, gin.H{"error": errMsg})
		return
	}

	if err := h.outlines.SetApproved(c.Request.Context(), outline.ID, *req.Approved); err != nil {
		slog.Error("outline approval failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update outline"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outline_id": outline.ID, "approved": *req.Approved})
}

// loadOutline fetches the outline of the project's latest recording, or
// returns the HTTP status and message the caller should respond with.
func (h *Handlers) loadOutline(c *gin.Context) (*models.Outline, int, string) {
	projectID := middleware.ProjectID(c)
	ctx := c.Request.Context()

	rec, err := h.recordings.LatestRecording(ctx, projectID)
	if err != nil {
		slog.Error("recording lookup failed", "error", err)
		return nil, http.StatusInternalServerError, "Failed to load outline"
	}
	if rec == nil {
		return nil, http.StatusNotFound, "No outline yet"
	}
	outline, err := h.outlines.GetOutlineByRecording(ctx, rec.ID)
	if err != nil {
		slog.Error("outline lookup failed", "error", err)
		return nil, http.StatusInternalServerError, "Failed to load outline"
	}
	if outline == nil {
		return nil, http.StatusNotFound, "No outline yet"
	}
	return outline, 0, ""
}

// ListDrafts returns every chapter draft for the current outline.
func (h *Handlers) ListDrafts(c *gin.Context) {
	outline, status, errMsg := h.loadOutline(c)
	if outline == nil {
		c.JSON(status, gin.H{"error": errMsg})
		return
	}

	drafts, err := h.drafts.ListDraftsByOutline(c.Request.Context(), outline.ID)
	if err != nil {
		slog.Error("draft list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load drafts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"outline_id": outline.ID,
		"approved":   outline.Approved,
		"drafts":     drafts,
	})
}

type generateDraftRequest struct {
	ChapterIndex *int `json:"chapter_index" binding:"required"`
}

// GenerateDraft drafts the prose for one chapter of the approved outline.
func (h *Handlers) GenerateDraft(c *gin.Context) {
	var req generateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chapter_index is required"})
		return
	}

	outline, status, errMsg := h.loadOutline(c)
	if outline == nil {
		c.JSON(status, gin.H{"error": errMsg})
		return
	}
	if !outline.Approved {
		c.JSON(http.StatusConflict, gin.H{"error": "Outline must be approved before drafting"})
		return
	}

	chapters := outline.ParseStructure().Chapters
	idx := *req.ChapterIndex
	if idx < 0 || idx >= len(chapters) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("chapter_index must be between 0 and %d", len(chapters)-1)})
		return
	}
	chapter := chapters[idx]

	ctx := c.Request.Context()
	transcript, err := h.transcripts.GetTranscriptByRecording(ctx, outline.RecordingID)
	if err != nil || transcript == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Transcript unavailable for drafting"})
		return
	}

	prose, err := h.aiClient.DraftChapter(ctx, ai.DraftChapterInput{
		Title:      chapter.Title,
		Bullets:    chapter.Bullets,
		Transcript: transcript.Text,
	})
	if err != nil {
		slog.Error("chapter draft failed", "outline_id", outline.ID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Draft generation failed"})
		return
	}

	draft := &models.DraftChapter{
		OutlineID: outline.ID,
		Title:     chapter.Title,
		Content:   prose,
		Status:    models.DraftStatusGenerated,
		Version:   1,
	}
	if err := h.drafts.CreateDraft(ctx, draft); err != nil {
		slog.Error("draft insert failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store draft"})
		return
	}

	c.JSON(http.StatusCreated, draft)
}

type updateDraftRequest struct {
	DraftID string `json:"draft_id" binding:"required"`
	Action  string `json:"action" binding:"required"` // "accept" or "regenerate"
	Notes   string `json:"notes"`
}

// UpdateDraft accepts a chapter draft or regenerates it with optional
// guidance notes. Regeneration is capped per chapter.
func (h *Handlers) UpdateDraft(c *gin.Context) {
	var req updateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "draft_id and action are required"})
		return
	}

	outline, status, errMsg := h.loadOutline(c)
	if outline == nil {
		c.JSON(status, gin.H{"error": errMsg})
		return
	}

	ctx := c.Request.Context()
	draft, err := h.drafts.GetDraft(ctx, req.DraftID)
	if err != nil {
		slog.Error("draft lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load draft"})
		return
	}
	// The outline check scopes the draft to this project's session.
	if draft == nil || draft.OutlineID != outline.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Draft not found"})
		return
	}

	switch req.Action {
	case "accept":
		if err := h.drafts.AcceptDraft(ctx, draft.ID); err != nil {
			slog.Error("draft accept failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to accept draft"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"draft_id": draft.ID, "status": models.DraftStatusAccepted})

	case "regenerate":
		h.regenerate(c, outline, draft, req.Notes)

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be 'accept' or 'regenerate'"})
	}
}

func (h *Handlers) regenerate(c *gin.Context, outline *models.Outline, draft *models.DraftChapter, notes string) {
	ctx := c.Request.Context()
	limit := h.cfg.Limits.RegenPerChapter

	if draft.RegenCount >= limit {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("This chapter has reached its limit of %d regenerations", limit)})
		return
	}

	transcript, err := h.transcripts.GetTranscriptByRecording(ctx, outline.RecordingID)
	if err != nil || transcript == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Transcript unavailable for drafting"})
		return
	}

	var bullets []string
	for _, ch := range outline.ParseStructure().Chapters {
		if ch.Title == draft.Title {
			bullets = ch.Bullets
			break
		}
	}

	prose, err := h.aiClient.DraftChapter(ctx, ai.DraftChapterInput{
		Title:      draft.Title,
		Bullets:    bullets,
		Transcript: transcript.Text,
		Notes:      notes,
	})
	if err != nil {
		slog.Error("chapter regeneration failed", "draft_id", draft.ID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Draft generation failed"})
		return
	}

	updated, err := h.drafts.RegenerateDraft(ctx, draft.ID, prose, limit)
	if err != nil {
		slog.Error("draft regeneration update failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store draft"})
		return
	}
	if !updated {
		// A concurrent regeneration consumed the last slot after our read.
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("This chapter has reached its limit of %d regenerations", limit)})
		return
	}

	fresh, err := h.drafts.GetDraft(ctx, draft.ID)
	if err != nil || fresh == nil {
		c.JSON(http.StatusOK, gin.H{"draft_id": draft.ID, "status": models.DraftStatusGenerated})
		return
	}
	c.JSON(http.StatusOK, fresh)
}
