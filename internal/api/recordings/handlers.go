// Package recordings implements the audio upload endpoints. The preferred
// path is a signed direct upload to the storage backend (upload-init then
// upload-complete); upload-audio is the proxied fallback for the local
// backend and for clients that cannot PUT cross-origin.
package recordings

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"

	"github.com/keepsake-app/keepsake/internal/config"
	"github.com/keepsake-app/keepsake/internal/db/models"
	"github.com/keepsake-app/keepsake/internal/db/repositories"
	"github.com/keepsake-app/keepsake/internal/middleware"
	"github.com/keepsake-app/keepsake/internal/storage"
)

// uploadURLTTL bounds how long a signed upload URL stays valid. Long enough
// for a slow connection to push a full recording, short enough that a leaked
// URL goes stale quickly.
const uploadURLTTL = 15 * time.Minute

// Handlers holds the recording endpoint dependencies.
type Handlers struct {
	recordings *repositories.RecordingRepository
	projects   *repositories.ProjectRepository
	blob       storage.Blob
	cfg        *config.Config
}

// NewHandlers creates the recording handlers.
func NewHandlers(recordings *repositories.RecordingRepository, projects *repositories.ProjectRepository, blob storage.Blob, cfg *config.Config) *Handlers {
	return &Handlers{recordings: recordings, projects: projects, blob: blob, cfg: cfg}
}

func (h *Handlers) maxAudioBytes() int64 {
	return int64(h.cfg.Limits.MaxAudioMB) << 20
}

// audioKey builds the storage key for a new recording:
// <audio-prefix>/<projectId>/<unix-ms>-<slug>.<ext>
func (h *Handlers) audioKey(projectID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" || len(ext) > 8 {
		ext = ".webm"
	}
	base := strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	return fmt.Sprintf("%s/%s/%d-%s%s",
		h.cfg.Storage.AudioPrefix, projectID, time.Now().UnixMilli(), slugify(base), ext)
}

// slugify reduces a client-supplied filename to lowercase letters, digits,
// and hyphens. The key must be safe in URLs, log lines, and object stores.
func slugify(name string) string {
	var sb strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) && r < 128, unicode.IsDigit(r) && r < 128:
			sb.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				sb.WriteByte('-')
				lastHyphen = true
			}
		}
		if sb.Len() >= 48 {
			break
		}
	}
	slug := strings.Trim(sb.String(), "-")
	if slug == "" {
		slug = "recording"
	}
	return slug
}

type uploadInitRequest struct {
	Filename  string `json:"filename" binding:"required"`
	SizeBytes int64  `json:"size_bytes" binding:"required"`
	MimeType  string `json:"mime_type"`
}

// UploadInit validates the planned upload and returns a signed PUT URL with
// the storage key the client must report back to upload-complete. Backends
// without signed URLs direct the client to the proxied upload endpoint.
func (h *Handlers) UploadInit(c *gin.Context) {
	var req uploadInitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filename and size_bytes are required"})
		return
	}
	if req.SizeBytes <= 0 || req.SizeBytes > h.maxAudioBytes() {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("audio must be between 1 byte and %d MB", h.cfg.Limits.MaxAudioMB),
		})
		return
	}

	contentType := req.MimeType
	if contentType == "" {
		contentType = "audio/webm"
	}

	projectID := middleware.ProjectID(c)
	key := h.audioKey(projectID, req.Filename)

	uploadURL, err := h.blob.SignedUploadURL(c.Request.Context(), key, contentType, uploadURLTTL)
	if errors.Is(err, storage.ErrSignedURLUnsupported) {
		c.JSON(http.StatusOK, gin.H{
			"key":        key,
			"upload_url": "/api/upload-audio",
			"direct":     false,
		})
		return
	}
	if err != nil {
		slog.Error("failed to sign upload url", "project_id", projectID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to prepare upload"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"key":          key,
		"upload_url":   uploadURL,
		"direct":       true,
		"content_type": contentType,
	})
}

type uploadCompleteRequest struct {
	Key             string `json:"key" binding:"required"`
	DurationSeconds *int   `json:"duration_seconds"`
}

// UploadComplete records the recordings row after a signed direct upload.
func (h *Handlers) UploadComplete(c *gin.Context) {
	var req uploadCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}

	projectID := middleware.ProjectID(c)

	// The key must sit under this project's audio prefix; otherwise a session
	// could register (and later play back) another project's object.
	expectedPrefix := h.cfg.Storage.AudioPrefix + "/" + projectID + "/"
	if !strings.HasPrefix(req.Key, expectedPrefix) || strings.Contains(req.Key, "..") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid storage key"})
		return
	}

	exists, err := h.blob.Exists(c.Request.Context(), req.Key)
	if err != nil || !exists {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no uploaded audio found at key"})
		return
	}

	if err := h.validateDuration(req.DurationSeconds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.createRecording(c, projectID, req.Key, req.DurationSeconds)
	if err != nil {
		slog.Error("failed to record upload", "project_id", projectID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record upload"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"recording_id": rec.ID, "key": rec.AudioKey})
}

// UploadAudio is the proxied multipart upload path.
func (h *Handlers) UploadAudio(c *gin.Context) {
	projectID := middleware.ProjectID(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxAudioBytes())

	file, header, err := c.Request.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'audio' is required"})
		return
	}
	defer file.Close()

	if header.Size > h.maxAudioBytes() {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("audio must be at most %d MB", h.cfg.Limits.MaxAudioMB),
		})
		return
	}

	var duration *int
	if v := c.PostForm("duration_seconds"); v != "" {
		var d int
		if _, err := fmt.Sscanf(v, "%d", &d); err == nil {
			duration = &d
		}
	}
	if err := h.validateDuration(duration); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/webm"
	}

	key := h.audioKey(projectID, header.Filename)
	if _, err := h.blob.Upload(c.Request.Context(), key, file, header.Size, contentType); err != nil {
		slog.Error("audio upload failed", "project_id", projectID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store audio"})
		return
	}

	rec, err := h.createRecording(c, projectID, key, duration)
	if err != nil {
		slog.Error("failed to record upload", "project_id", projectID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record upload"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"recording_id": rec.ID, "key": rec.AudioKey})
}

func (h *Handlers) validateDuration(duration *int) error {
	if duration == nil {
		return nil
	}
	if *duration <= 0 || *duration > h.cfg.Limits.MaxAudioSeconds {
		return fmt.Errorf("duration_seconds must be between 1 and %d", h.cfg.Limits.MaxAudioSeconds)
	}
	return nil
}

func (h *Handlers) createRecording(c *gin.Context, projectID, key string, duration *int) (*models.Recording, error) {
	intervieweeID, err := h.projects.FirstIntervieweeID(c.Request.Context(), projectID)
	if err != nil {
		return nil, err
	}

	rec := &models.Recording{
		ProjectID:       projectID,
		IntervieweeID:   intervieweeID,
		AudioKey:        key,
		DurationSeconds: duration,
	}
	if err := h.recordings.CreateRecording(c.Request.Context(), rec); err != nil {
		return nil, err
	}
	return rec, nil
}
