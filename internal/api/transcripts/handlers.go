// Package transcripts implements the transcription endpoint, the transcript
// review/edit endpoints, and the session status endpoint the interview UI
// polls.
package transcripts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keepsake-app/keepsake/internal/ai"
	"github.com/keepsake-app/keepsake/internal/db/models"
	"github.com/keepsake-app/keepsake/internal/db/repositories"
	"github.com/keepsake-app/keepsake/internal/middleware"
	"github.com/keepsake-app/keepsake/internal/storage"
)

const (
	// audioFetchTimeout bounds one attempt to pull the audio bytes back out
	// of storage before handing them to the transcription model.
	audioFetchTimeout = 30 * time.Second
	// downloadURLTTL is the lifetime of the signed URL used for the fetch.
	downloadURLTTL = 10 * time.Minute
)

// Handlers holds the transcription endpoint dependencies.
type Handlers struct {
	recordings  *repositories.RecordingRepository
	transcripts *repositories.TranscriptRepository
	projects    *repositories.ProjectRepository
	blob        storage.Blob
	aiClient    *ai.Client
	httpClient  *http.Client
}

// NewHandlers creates the transcript handlers.
func NewHandlers(recordings *repositories.RecordingRepository, transcripts *repositories.TranscriptRepository, projects *repositories.ProjectRepository, blob storage.Blob, aiClient *ai.Client) *Handlers {
	return &Handlers{
		recordings:  recordings,
		transcripts: transcripts,
		projects:    projects,
		blob:        blob,
		aiClient:    aiClient,
		httpClient:  &http.Client{Timeout: audioFetchTimeout},
	}
}

type transcribeRequest struct {
	RecordingID string `json:"recording_id" binding:"required"`
}

// Transcribe pulls the recording's audio out of storage, sends it to the
// speech-to-text model, and upserts the transcript row. Retranscribing the
// same recording overwrites in place, so the endpoint is safe to retry.
func (h *Handlers) Transcribe(c *gin.Context) {
	var req transcribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recording_id is required"})
		return
	}

	projectID := middleware.ProjectID(c)
	rec, err := h.recordings.GetRecording(c.Request.Context(), req.RecordingID, projectID)
	if err != nil {
		slog.Error("recording lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Transcription failed"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Recording not found"})
		return
	}

	audio, err := h.fetchAudio(c, rec.AudioKey)
	if err != nil {
		slog.Error("audio fetch failed", "recording_id", rec.ID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Could not read audio from storage"})
		return
	}
	defer audio.Close()

	result, err := h.aiClient.Transcribe(c.Request.Context(), path.Base(rec.AudioKey), audio)
	if err != nil {
		slog.Error("transcription failed", "recording_id", rec.ID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Transcription failed"})
		return
	}

	segments, err := json.Marshal(result.Segments)
	if err != nil {
		segments = []byte("[]")
	}
	transcript := &models.Transcript{
		RecordingID: rec.ID,
		Text:        result.Text,
		Segments:    segments,
	}
	if err := h.transcripts.UpsertTranscript(c.Request.Context(), transcript); err != nil {
		slog.Error("transcript upsert failed", "recording_id", rec.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store transcript"})
		return
	}
	if err := h.recordings.LinkTranscript(c.Request.Context(), rec.ID, transcript.ID); err != nil {
		slog.Error("transcript link failed", "recording_id", rec.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store transcript"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transcript_id": transcript.ID,
		"text":          result.Text,
		"duration":      result.Duration,
	})
}

// fetchAudio prefers a signed download URL so large audio streams from the
// object store rather than through a second storage read path; backends
// without signed URLs fall back to a direct read. The URL fetch gets one
// retry because presigned reads occasionally hit transient storage errors.
func (h *Handlers) fetchAudio(c *gin.Context, key string) (io.ReadCloser, error) {
	url, err := h.blob.SignedDownloadURL(c.Request.Context(), key, downloadURLTTL)
	if errors.Is(err, storage.ErrSignedURLUnsupported) {
		return h.blob.Download(c.Request.Context(), key)
	}
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := h.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("storage returned %d", resp.StatusCode)
			continue
		}
		return resp.Body, nil
	}
	return nil, lastErr
}

// GetTranscript returns the stored transcript for one of the project's
// recordings so the owner can review the text before it feeds outlining.
func (h *Handlers) GetTranscript(c *gin.Context) {
	recordingID := c.Query("recording_id")
	if recordingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recording_id is required"})
		return
	}

	ctx := c.Request.Context()
	rec, err := h.recordings.GetRecording(ctx, recordingID, middleware.ProjectID(c))
	if err != nil {
		slog.Error("recording lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load transcript"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Recording not found"})
		return
	}

	transcript, err := h.transcripts.GetTranscriptByRecording(ctx, rec.ID)
	if err != nil {
		slog.Error("transcript lookup failed", "recording_id", rec.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load transcript"})
		return
	}
	if transcript == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Transcript not found"})
		return
	}

	segments := json.RawMessage(transcript.Segments)
	if len(segments) == 0 {
		segments = json.RawMessage("[]")
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           transcript.ID,
		"recording_id": transcript.RecordingID,
		"text":         transcript.Text,
		"segments":     segments,
	})
}

type updateTranscriptRequest struct {
	TranscriptID string `json:"transcript_id" binding:"required"`
	// Text is a pointer so an owner can clear the transcript to an empty
	// string; binding only rejects an absent field.
	Text *string `json:"text" binding:"required"`
}

// UpdateTranscript saves the owner's corrected transcript text. Outlining and
// drafting read whatever text is current, so corrections made here flow into
// every later step.
func (h *Handlers) UpdateTranscript(c *gin.Context) {
	var req updateTranscriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transcript_id and text are required"})
		return
	}

	updated, err := h.transcripts.UpdateText(c.Request.Context(), req.TranscriptID, middleware.ProjectID(c), *req.Text)
	if err != nil {
		slog.Error("transcript update failed", "transcript_id", req.TranscriptID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update transcript"})
		return
	}
	if !updated {
		c.JSON(http.StatusNotFound, gin.H{"error": "Transcript not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// SessionCurrent returns the interview state the UI needs on load: the
// interviewee's name and themes plus the latest recording and its transcript.
func (h *Handlers) SessionCurrent(c *gin.Context) {
	projectID := middleware.ProjectID(c)
	ctx := c.Request.Context()

	interviewee, err := h.projects.GetIntervieweeByProject(ctx, projectID)
	if err != nil {
		slog.Error("interviewee lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		return
	}

	rec, err := h.recordings.LatestRecording(ctx, projectID)
	if err != nil {
		slog.Error("recording lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		return
	}

	resp := gin.H{"project_id": projectID}
	if interviewee != nil {
		resp["interviewee"] = gin.H{
			"name":   interviewee.Name,
			"themes": interviewee.Themes,
			"output": interviewee.OutputPrefs.Type,
		}
	}
	if rec != nil {
		recording := gin.H{
			"id":         rec.ID,
			"created_at": rec.CreatedAt,
		}
		if rec.DurationSeconds != nil {
			recording["duration_seconds"] = *rec.DurationSeconds
		}
		if rec.TranscriptID != nil {
			recording["transcript_id"] = *rec.TranscriptID
		}
		resp["latest_recording"] = recording
	}

	c.JSON(http.StatusOK, resp)
}
