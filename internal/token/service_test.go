package token

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/keepsake-app/keepsake/internal/auth"
	"github.com/keepsake-app/keepsake/internal/db/models"
	"github.com/keepsake-app/keepsake/internal/db/repositories"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var errDB = errors.New("db failure")

var projectCols = []string{
	"id", "token", "status", "expires_at", "token_used_at", "created_at", "updated_at",
}

func projectRow(token, status string, expiresAt time.Time) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(projectCols).
		AddRow("proj-1", token, status, expiresAt, nil, now, now)
}

func newService(t *testing.T) (*Service, sqlmock.Sqlmock, *auth.SessionManager) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sessions, err := auth.NewSessionManager(testSecret, 14*24*time.Hour)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	svc := NewService(repositories.NewProjectRepository(db), sessions, 365)
	return svc, mock, sessions
}

// ---------------------------------------------------------------------------
// CreateProject
// ---------------------------------------------------------------------------

func TestCreateProject(t *testing.T) {
	svc, mock, _ := newService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO projects").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("proj-1"))
	mock.ExpectQuery("INSERT INTO interviewees").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("iv-1"))
	mock.ExpectCommit()

	res, err := svc.CreateProject(context.Background(), OwnerMetadata{
		Name:   "Eleanor",
		Themes: []string{"childhood", "career"},
		Output: "book",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ProjectID != "proj-1" {
		t.Errorf("expected proj-1, got %s", res.ProjectID)
	}
	if len(res.Token) < 30 {
		t.Errorf("token looks too short to carry real entropy: %q", res.Token)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateProject_InsertFails(t *testing.T) {
	svc, mock, _ := newService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO projects").WillReturnError(errDB)
	mock.ExpectRollback()

	_, err := svc.CreateProject(context.Background(), OwnerMetadata{Name: "Eleanor"})
	if err == nil {
		t.Fatal("expected error")
	}
}

// ---------------------------------------------------------------------------
// Exchange
// ---------------------------------------------------------------------------

func TestExchange_Success(t *testing.T) {
	svc, mock, sessions := newService(t)

	mock.ExpectQuery("SELECT.*FROM projects.*WHERE token").
		WithArgs("tok-live").
		WillReturnRows(projectRow("tok-live", models.ProjectStatusActive, time.Now().Add(24*time.Hour)))
	mock.ExpectExec("UPDATE projects").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "proj-1", "tok-live").
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := svc.Exchange(context.Background(), "tok-live")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ProjectID != "proj-1" {
		t.Errorf("expected proj-1, got %s", res.ProjectID)
	}

	claims, err := sessions.Verify(res.Credential)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims == nil || claims.ProjectID != "proj-1" {
		t.Errorf("minted credential does not verify to proj-1: %+v", claims)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestExchange_UnknownToken(t *testing.T) {
	svc, mock, _ := newService(t)

	mock.ExpectQuery("SELECT.*FROM projects.*WHERE token").
		WithArgs("tok-unknown").
		WillReturnRows(sqlmock.NewRows(projectCols))

	_, err := svc.Exchange(context.Background(), "tok-unknown")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestExchange_EmptyToken(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.Exchange(context.Background(), "")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestExchange_ExpiredProject(t *testing.T) {
	svc, mock, _ := newService(t)

	mock.ExpectQuery("SELECT.*FROM projects.*WHERE token").
		WithArgs("tok-old").
		WillReturnRows(projectRow("tok-old", models.ProjectStatusActive, time.Now().Add(-time.Hour)))

	_, err := svc.Exchange(context.Background(), "tok-old")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestExchange_DeletePendingProject(t *testing.T) {
	svc, mock, _ := newService(t)

	mock.ExpectQuery("SELECT.*FROM projects.*WHERE token").
		WithArgs("tok-gone").
		WillReturnRows(projectRow("tok-gone", models.ProjectStatusDeletePending, time.Now().Add(24*time.Hour)))

	_, err := svc.Exchange(context.Background(), "tok-gone")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

// The losing side of a concurrent double exchange reads the row before the
// winner commits, then finds its UPDATE matches nothing.
func TestExchange_RotationRaceLoser(t *testing.T) {
	svc, mock, _ := newService(t)

	mock.ExpectQuery("SELECT.*FROM projects.*WHERE token").
		WithArgs("tok-raced").
		WillReturnRows(projectRow("tok-raced", models.ProjectStatusActive, time.Now().Add(24*time.Hour)))
	mock.ExpectExec("UPDATE projects").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "proj-1", "tok-raced").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := svc.Exchange(context.Background(), "tok-raced")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestExchange_LookupDBError(t *testing.T) {
	svc, mock, _ := newService(t)

	mock.ExpectQuery("SELECT.*FROM projects.*WHERE token").
		WillReturnError(errDB)

	_, err := svc.Exchange(context.Background(), "tok-any")
	if errors.Is(err, ErrInvalidToken) {
		t.Fatal("infrastructure failures must not masquerade as token rejection")
	}
	if err == nil {
		t.Fatal("expected error")
	}
}
