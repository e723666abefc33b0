// Package projects implements the project lifecycle endpoints: onboarding,
// token exchange, soft deletion, and feedback.
package projects

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keepsake-app/keepsake/internal/config"
	"github.com/keepsake-app/keepsake/internal/db/models"
	"github.com/keepsake-app/keepsake/internal/db/repositories"
	"github.com/keepsake-app/keepsake/internal/middleware"
	"github.com/keepsake-app/keepsake/internal/token"
)

// invalidLinkMessage is the single user-facing rejection text for every
// exchange failure mode.
const invalidLinkMessage = "Invalid or expired link"

// Handlers holds the project endpoint dependencies.
type Handlers struct {
	tokens   *token.Service
	projects *repositories.ProjectRepository
	events   *repositories.EventRepository
	cfg      *config.Config
}

// NewHandlers creates the project handlers.
func NewHandlers(tokens *token.Service, projects *repositories.ProjectRepository, events *repositories.EventRepository, cfg *config.Config) *Handlers {
	return &Handlers{tokens: tokens, projects: projects, events: events, cfg: cfg}
}

type onboardRequest struct {
	Name         string   `json:"name" binding:"required"`
	DOB          string   `json:"dob"` // YYYY-MM-DD, optional
	Relationship string   `json:"relationship"`
	Themes       []string `json:"themes"`
	Output       string   `json:"output"`
}

// Onboard creates a project with its interviewee metadata and returns the
// shareable interview link. The response is the only place the plaintext
// token ever appears.
func (h *Handlers) Onboard(c *gin.Context) {
	var req onboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	meta := token.OwnerMetadata{
		Name:         req.Name,
		Relationship: req.Relationship,
		Themes:       req.Themes,
		Output:       req.Output,
	}
	if req.DOB != "" {
		dob, err := time.Parse("2006-01-02", req.DOB)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "dob must be YYYY-MM-DD"})
			return
		}
		meta.DOB = &dob
	}

	result, err := h.tokens.CreateProject(c.Request.Context(), meta)
	if err != nil {
		slog.Error("onboarding failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create project"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"project_id": result.ProjectID,
		"share_url":  h.cfg.Server.GetPublicURL() + "/t/" + result.Token,
	})
}

type exchangeRequest struct {
	Token string `json:"token" form:"token"`
}

// Exchange is the API form of token exchange: POST with the token in the
// body, session cookie in the response.
func (h *Handlers) Exchange(c *gin.Context) {
	var req exchangeRequest
	if err := c.ShouldBind(&req); err != nil || req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": invalidLinkMessage})
		return
	}

	result, err := h.tokens.Exchange(c.Request.Context(), req.Token)
	if err != nil {
		h.exchangeError(c, err, false)
		return
	}

	h.setSessionCookie(c, result.Credential)
	c.JSON(http.StatusOK, gin.H{"project_id": result.ProjectID})
}

// ExchangeRedirect is the browser form of exchange: the recipient clicks the
// shared /t/<token> link, gets a session cookie, and is redirected into the
// interview flow. 303 forces the follow-up to be a GET.
func (h *Handlers) ExchangeRedirect(c *gin.Context) {
	result, err := h.tokens.Exchange(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.exchangeError(c, err, true)
		return
	}

	h.setSessionCookie(c, result.Credential)
	c.Redirect(http.StatusSeeOther, "/record")
}

func (h *Handlers) exchangeError(c *gin.Context, err error, browser bool) {
	if errors.Is(err, token.ErrInvalidToken) {
		if browser {
			c.String(http.StatusBadRequest, invalidLinkMessage)
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": invalidLinkMessage})
		}
		return
	}
	slog.Error("token exchange failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Exchange failed"})
}

func (h *Handlers) setSessionCookie(c *gin.Context, credential string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(
		h.cfg.Auth.CookieName,
		credential,
		int(h.cfg.Auth.SessionTTL.Seconds()),
		"/",
		"",
		h.cfg.Auth.CookieSecure,
		true,
	)
}

// Delete soft-deletes the authenticated project. Data stays until the
// retention sweeper purges it; the status flip makes the current token
// unexchangeable immediately.
func (h *Handlers) Delete(c *gin.Context) {
	projectID := middleware.ProjectID(c)

	if err := h.projects.SetStatus(c.Request.Context(), projectID, models.ProjectStatusDeletePending); err != nil {
		slog.Error("project delete failed", "project_id", projectID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete project"})
		return
	}

	h.recordEvent(c, projectID, "project_deleted", gin.H{})

	// The session cookie is cleared, but any other outstanding session stays
	// valid until expiry; the status check in every data path is the guard.
	c.SetCookie(h.cfg.Auth.CookieName, "", -1, "/", "", h.cfg.Auth.CookieSecure, true)
	c.JSON(http.StatusOK, gin.H{"status": "delete_pending"})
}

type feedbackRequest struct {
	Rating  int    `json:"rating" binding:"required"`
	Comment string `json:"comment"`
}

// Feedback appends a rating/comment event for the project.
func (h *Handlers) Feedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Rating < 1 || req.Rating > 5 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rating must be between 1 and 5"})
		return
	}
	if len(req.Comment) > 4000 {
		req.Comment = req.Comment[:4000]
	}

	projectID := middleware.ProjectID(c)
	h.recordEvent(c, projectID, "feedback", gin.H{"rating": req.Rating, "comment": req.Comment})

	c.JSON(http.StatusCreated, gin.H{"status": "recorded"})
}

func (h *Handlers) recordEvent(c *gin.Context, projectID, eventType string, payload gin.H) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	event := &models.Event{ProjectID: projectID, Type: eventType, Payload: raw}
	if err := h.events.InsertEvent(c.Request.Context(), event); err != nil {
		// Event rows are advisory; a failed insert must not fail the request.
		slog.Warn("failed to record event", "type", eventType, "project_id", projectID, "error", err)
	}
}
