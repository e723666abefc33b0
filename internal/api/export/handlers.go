// Package export implements the memoir PDF export endpoint.
package export

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keepsake-app/keepsake/internal/config"
	"github.com/keepsake-app/keepsake/internal/db/models"
	"github.com/keepsake-app/keepsake/internal/db/repositories"
	"github.com/keepsake-app/keepsake/internal/middleware"
	"github.com/keepsake-app/keepsake/internal/pdf"
	"github.com/keepsake-app/keepsake/internal/storage"
	"github.com/keepsake-app/keepsake/internal/telemetry"
)

// downloadURLTTL is the lifetime of the signed URL handed to the owner.
const downloadURLTTL = 10 * time.Minute

// Handlers holds the export endpoint dependencies.
type Handlers struct {
	recordings *repositories.RecordingRepository
	outlines   *repositories.OutlineRepository
	drafts     *repositories.DraftRepository
	projects   *repositories.ProjectRepository
	blob       storage.Blob
	renderer   *pdf.Renderer
	cfg        *config.Config
}

// NewHandlers creates the export handlers.
func NewHandlers(recordings *repositories.RecordingRepository, outlines *repositories.OutlineRepository, drafts *repositories.DraftRepository, projects *repositories.ProjectRepository, blob storage.Blob, renderer *pdf.Renderer, cfg *config.Config) *Handlers {
	return &Handlers{
		recordings: recordings,
		outlines:   outlines,
		drafts:     drafts,
		projects:   projects,
		blob:       blob,
		renderer:   renderer,
		cfg:        cfg,
	}
}

// Export renders the memoir from the drafted chapters, stores the PDF, and
// returns a short-lived download URL. Accepted drafts are preferred; chapters
// that were drafted but never explicitly accepted are still included so an
// owner who skipped the review step gets a complete book. On backends without
// signed URLs the PDF streams back in the response instead.
func (h *Handlers) Export(c *gin.Context) {
	projectID := middleware.ProjectID(c)
	ctx := c.Request.Context()

	rec, err := h.recordings.LatestRecording(ctx, projectID)
	if err != nil {
		h.fail(c, "export lookup failed", err)
		return
	}
	if rec == nil {
		telemetry.PDFExportsTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusConflict, gin.H{"error": "Nothing to export yet"})
		return
	}
	outline, err := h.outlines.GetOutlineByRecording(ctx, rec.ID)
	if err != nil {
		h.fail(c, "export lookup failed", err)
		return
	}
	if outline == nil {
		telemetry.PDFExportsTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusConflict, gin.H{"error": "Nothing to export yet"})
		return
	}

	chapters, err := h.assembleChapters(c, outline)
	if err != nil {
		h.fail(c, "export assembly failed", err)
		return
	}
	if len(chapters) == 0 {
		telemetry.PDFExportsTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusConflict, gin.H{"error": "No drafted chapters to export"})
		return
	}

	storyteller := ""
	if interviewee, err := h.projects.GetIntervieweeByProject(ctx, projectID); err == nil && interviewee != nil {
		storyteller = interviewee.Name
	}

	doc, err := h.renderer.Render(pdf.MemoirData{
		Title:       memoirTitle(storyteller),
		Storyteller: storyteller,
		GeneratedAt: time.Now(),
		Chapters:    chapters,
	})
	if err != nil {
		h.fail(c, "pdf render failed", err)
		return
	}

	key := fmt.Sprintf("%s/%s/memoir-%d.pdf", h.cfg.Storage.PDFPrefix, projectID, time.Now().UnixMilli())
	if _, err := h.blob.Upload(ctx, key, doc, -1, "application/pdf"); err != nil {
		h.fail(c, "pdf upload failed", err)
		return
	}

	url, err := h.blob.SignedDownloadURL(ctx, key, downloadURLTTL)
	if errors.Is(err, storage.ErrSignedURLUnsupported) {
		h.streamPDF(c, key)
		return
	}
	if err != nil {
		h.fail(c, "pdf signing failed", err)
		return
	}

	telemetry.PDFExportsTotal.WithLabelValues("ok").Inc()
	c.JSON(http.StatusOK, gin.H{
		"download_url": url,
		"expires_in":   int(downloadURLTTL.Seconds()),
	})
}

// streamPDF serves the stored PDF directly (local backend path).
func (h *Handlers) streamPDF(c *gin.Context, key string) {
	reader, err := h.blob.Download(c.Request.Context(), key)
	if err != nil {
		h.fail(c, "pdf read-back failed", err)
		return
	}
	defer reader.Close()

	telemetry.PDFExportsTotal.WithLabelValues("ok").Inc()
	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", `attachment; filename="memoir.pdf"`)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, reader)
}

// assembleChapters picks one draft per chapter title in outline order:
// accepted over generated, and highest version wins within a status.
func (h *Handlers) assembleChapters(c *gin.Context, outline *models.Outline) ([]pdf.Chapter, error) {
	drafts, err := h.drafts.ListDraftsByOutline(c.Request.Context(), outline.ID)
	if err != nil {
		return nil, err
	}

	best := make(map[string]models.DraftChapter)
	for _, d := range drafts {
		cur, ok := best[d.Title]
		if !ok || betterDraft(d, cur) {
			best[d.Title] = d
		}
	}

	var chapters []pdf.Chapter
	for _, ch := range outline.ParseStructure().Chapters {
		if d, ok := best[ch.Title]; ok {
			chapters = append(chapters, pdf.Chapter{Title: d.Title, Prose: d.Content})
		}
	}
	return chapters, nil
}

func betterDraft(a, b models.DraftChapter) bool {
	if a.Status != b.Status {
		return a.Status == models.DraftStatusAccepted
	}
	return a.Version > b.Version
}

func memoirTitle(storyteller string) string {
	if storyteller == "" {
		return "A Life in Stories"
	}
	return storyteller + ": A Life in Stories"
}

func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	telemetry.PDFExportsTotal.WithLabelValues("error").Inc()
	slog.Error(msg, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Export failed"})
}
