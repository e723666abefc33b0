package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/keepsake-app/keepsake/internal/db/models"
)

func newSqlxMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

var draftCols = []string{
	"id", "outline_id", "title", "content", "status", "regen_count", "version", "created_at", "updated_at",
}

func TestUpsertOutline(t *testing.T) {
	db, mock := newSqlxMock(t)
	repo := NewOutlineRepository(db)

	mock.ExpectQuery("INSERT INTO outlines.*ON CONFLICT").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("out-1"))

	o := &models.Outline{RecordingID: "rec-1", Structure: []byte(`{"chapters":[]}`)}
	if err := repo.UpsertOutline(context.Background(), o); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.ID != "out-1" {
		t.Errorf("expected out-1, got %q", o.ID)
	}
}

func TestGetOutlineByRecording_ParseStructure(t *testing.T) {
	db, mock := newSqlxMock(t)
	repo := NewOutlineRepository(db)
	now := time.Now()

	structure := []byte(`{"chapters":[{"title":"Childhood","bullets":["farm","school"]}]}`)
	mock.ExpectQuery("SELECT.*FROM outlines").
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "recording_id", "structure", "approved", "created_at", "updated_at"}).
			AddRow("out-1", "rec-1", structure, false, now, now))

	o, err := repo.GetOutlineByRecording(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parsed := o.ParseStructure()
	if len(parsed.Chapters) != 1 || parsed.Chapters[0].Title != "Childhood" {
		t.Fatalf("unexpected structure: %+v", parsed)
	}
}

func TestParseStructure_MalformedFailsClosed(t *testing.T) {
	o := &models.Outline{Structure: []byte(`not json`)}
	if got := o.ParseStructure(); len(got.Chapters) != 0 {
		t.Errorf("expected empty structure, got %+v", got)
	}
}

func TestListDraftsByOutline(t *testing.T) {
	db, mock := newSqlxMock(t)
	repo := NewDraftRepository(db)
	now := time.Now()

	mock.ExpectQuery("SELECT.*FROM draft_chapters.*ORDER BY title").
		WithArgs("out-1").
		WillReturnRows(sqlmock.NewRows(draftCols).
			AddRow("d-1", "out-1", "Chapter 1", "text", models.DraftStatusGenerated, 0, 1, now, now).
			AddRow("d-2", "out-1", "Chapter 2", "text", models.DraftStatusAccepted, 1, 2, now, now))

	drafts, err := repo.ListDraftsByOutline(context.Background(), "out-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(drafts) != 2 {
		t.Fatalf("expected 2 drafts, got %d", len(drafts))
	}
}

func TestRegenerateDraft_UnderLimit(t *testing.T) {
	db, mock := newSqlxMock(t)
	repo := NewDraftRepository(db)

	mock.ExpectExec("UPDATE draft_chapters").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.RegenerateDraft(context.Background(), "d-1", "new text", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected regeneration to succeed")
	}
}

func TestRegenerateDraft_AtLimitMatchesNoRow(t *testing.T) {
	db, mock := newSqlxMock(t)
	repo := NewDraftRepository(db)

	mock.ExpectExec("UPDATE draft_chapters").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.RegenerateDraft(context.Background(), "d-1", "new text", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected regeneration to be refused at the limit")
	}
}

func TestInsertEvent(t *testing.T) {
	db, mock := newSqlxMock(t)
	repo := NewEventRepository(db)

	mock.ExpectQuery("INSERT INTO events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ev-1"))

	e := &models.Event{ProjectID: "proj-1", Type: "feedback", Payload: []byte(`{"rating":5}`)}
	if err := repo.InsertEvent(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ID != "ev-1" {
		t.Errorf("expected ev-1, got %q", e.ID)
	}
}
