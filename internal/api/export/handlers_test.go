package export

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/keepsake-app/keepsake/internal/config"
	"github.com/keepsake-app/keepsake/internal/db/models"
	"github.com/keepsake-app/keepsake/internal/db/repositories"
	"github.com/keepsake-app/keepsake/internal/middleware"
	"github.com/keepsake-app/keepsake/internal/pdf"
	"github.com/keepsake-app/keepsake/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// memBlob keeps uploaded objects in memory; signErr switches the handler onto
// the streaming fallback path.
type memBlob struct {
	objects map[string][]byte
	signErr error
}

func newMemBlob(signErr error) *memBlob {
	return &memBlob{objects: map[string][]byte{}, signErr: signErr}
}

func (b *memBlob) Upload(ctx context.Context, key string, r io.Reader, size int64, ct string) (*storage.UploadResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	b.objects[key] = data
	return &storage.UploadResult{Key: key, Size: int64(len(data))}, nil
}

func (b *memBlob) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.objects[key])), nil
}
func (b *memBlob) Delete(ctx context.Context, key string) error          { return nil }
func (b *memBlob) DeletePrefix(ctx context.Context, prefix string) error { return nil }
func (b *memBlob) SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if b.signErr != nil {
		return "", b.signErr
	}
	return "https://blobs.example/get/" + key, nil
}
func (b *memBlob) SignedUploadURL(ctx context.Context, key, ct string, ttl time.Duration) (string, error) {
	if b.signErr != nil {
		return "", b.signErr
	}
	return "https://blobs.example/put/" + key, nil
}
func (b *memBlob) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := b.objects[key]
	return ok, nil
}

var (
	recordingCols = []string{"id", "project_id", "interviewee_id", "audio_key", "duration_seconds", "transcript_id", "created_at"}
	outlineCols   = []string{"id", "recording_id", "structure", "approved", "created_at", "updated_at"}
	draftCols     = []string{"id", "outline_id", "title", "content", "status", "regen_count", "version", "created_at", "updated_at"}
	ivCols        = []string{"id", "project_id", "name", "dob", "relationship", "themes", "output_prefs", "created_at"}
)

const outlineStructure = `{"chapters":[{"title":"Early Years"},{"title":"The War"}]}`

func newTestRouter(t *testing.T, blob storage.Blob) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.Storage.PDFPrefix = "pdf"

	sqlxDB := sqlx.NewDb(db, "postgres")
	h := NewHandlers(
		repositories.NewRecordingRepository(db),
		repositories.NewOutlineRepository(sqlxDB),
		repositories.NewDraftRepository(sqlxDB),
		repositories.NewProjectRepository(db),
		blob,
		pdf.NewRenderer(),
		cfg,
	)

	router := gin.New()
	router.POST("/api/export", func(c *gin.Context) {
		c.Set(middleware.ProjectIDKey, "proj-1")
	}, h.Export)

	return router, mock
}

func expectExportData(mock sqlmock.Sqlmock) {
	now := time.Now()
	mock.ExpectQuery("SELECT.*FROM recordings").
		WithArgs("proj-1").
		WillReturnRows(sqlmock.NewRows(recordingCols).
			AddRow("rec-1", "proj-1", "iv-1", "audio/proj-1/1-story.webm", 900, nil, now))
	mock.ExpectQuery("SELECT.*FROM outlines").
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows(outlineCols).
			AddRow("out-1", "rec-1", []byte(outlineStructure), true, now, now))
	// Two drafts of the first chapter: the accepted one must win even though
	// the generated one is newer.
	mock.ExpectQuery("SELECT.*FROM draft_chapters").
		WithArgs("out-1").
		WillReturnRows(sqlmock.NewRows(draftCols).
			AddRow("draft-1", "out-1", "Early Years", "The farm before sunrise.", models.DraftStatusAccepted, 0, 1, now, now).
			AddRow("draft-2", "out-1", "Early Years", "A later, unreviewed take.", models.DraftStatusGenerated, 1, 2, now, now).
			AddRow("draft-3", "out-1", "The War", "Rationing and letters home.", models.DraftStatusGenerated, 0, 1, now, now))
	mock.ExpectQuery("SELECT.*FROM interviewees").
		WithArgs("proj-1").
		WillReturnRows(sqlmock.NewRows(ivCols).
			AddRow("iv-1", "proj-1", "Margaret", nil, nil, []byte(`["childhood"]`), []byte(`{"output":"book"}`), now))
}

func TestExport_SignedDownload(t *testing.T) {
	blob := newMemBlob(nil)
	router, mock := newTestRouter(t, blob)
	expectExportData(mock)

	req := httptest.NewRequest(http.MethodPost, "/api/export", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		DownloadURL string `json:"download_url"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !strings.Contains(resp.DownloadURL, "/pdf/proj-1/memoir-") {
		t.Errorf("unexpected download_url %q", resp.DownloadURL)
	}
	if resp.ExpiresIn != 600 {
		t.Errorf("expected expires_in 600, got %d", resp.ExpiresIn)
	}
	if len(blob.objects) != 1 {
		t.Fatalf("expected one stored PDF, got %d", len(blob.objects))
	}
	for _, data := range blob.objects {
		if !bytes.HasPrefix(data, []byte("%PDF-")) {
			t.Error("stored object is not a PDF")
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestExport_StreamsWhenSigningUnsupported(t *testing.T) {
	blob := newMemBlob(storage.ErrSignedURLUnsupported)
	router, mock := newTestRouter(t, blob)
	expectExportData(mock)

	req := httptest.NewRequest(http.MethodPost, "/api/export", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("expected application/pdf, got %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "memoir.pdf") {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")) {
		t.Error("response body is not a PDF")
	}
}

func TestExport_NothingToExport(t *testing.T) {
	router, mock := newTestRouter(t, newMemBlob(nil))

	mock.ExpectQuery("SELECT.*FROM recordings").
		WillReturnRows(sqlmock.NewRows(recordingCols))

	req := httptest.NewRequest(http.MethodPost, "/api/export", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 with nothing to export, got %d", w.Code)
	}
}

func TestBetterDraft(t *testing.T) {
	accepted := models.DraftChapter{Status: models.DraftStatusAccepted, Version: 1}
	newer := models.DraftChapter{Status: models.DraftStatusGenerated, Version: 5}
	if !betterDraft(accepted, newer) {
		t.Error("an accepted draft must beat a newer generated one")
	}
	if betterDraft(newer, accepted) {
		t.Error("a generated draft must not beat an accepted one")
	}
	v2 := models.DraftChapter{Status: models.DraftStatusGenerated, Version: 2}
	if !betterDraft(newer, v2) {
		t.Error("within a status the higher version must win")
	}
}
