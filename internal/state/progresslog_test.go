package state

import (
	"errors"
	"testing"
	"time"

	"github.com/ShayCichocki/tandem/pkg/models"
)

func testSession(agentType models.SessionType, outcome models.Outcome) *models.Session {
	now := time.Now().UTC()
	return &models.Session{
		AgentType:   agentType,
		StartedAt:   now.Add(-time.Minute),
		CompletedAt: now,
		Summary:     "did the thing",
		Outcome:     outcome,
	}
}

func TestInitProgress(t *testing.T) {
	db := setupTestDB(t)

	status, err := db.InitProgress("notes-app", false)
	if err != nil {
		t.Fatalf("InitProgress failed: %v", err)
	}
	if status.CurrentPhase != models.SessionInit {
		t.Errorf("phase = %s, want INIT", status.CurrentPhase)
	}

	// Double init is refused.
	if _, err := db.InitProgress("notes-app", false); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestInitProgressBrownfield(t *testing.T) {
	db := setupTestDB(t)

	status, err := db.InitProgress("legacy-app", true)
	if err != nil {
		t.Fatalf("InitProgress failed: %v", err)
	}
	if status.CurrentPhase != models.SessionBrownfieldInit {
		t.Errorf("phase = %s, want BROWNFIELD_INIT", status.CurrentPhase)
	}
}

func TestGetStatusNotInitialized(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.GetStatus(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestAppendSession(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.InitProgress("notes-app", false); err != nil {
		t.Fatalf("InitProgress failed: %v", err)
	}

	session := testSession(models.SessionInit, models.OutcomeSuccess)
	session.ItemsTouched = []string{"FEAT-001", "FEAT-002"}

	recorded, err := db.AppendSession(session, &models.Status{
		CurrentPhase:    models.SessionImplement,
		FeaturesPassing: 0,
	})
	if err != nil {
		t.Fatalf("AppendSession failed: %v", err)
	}
	if recorded.SessionID != 1 {
		t.Errorf("session ID = %d, want 1", recorded.SessionID)
	}

	// Status was replaced in the same transaction, and the project name
	// carried forward.
	status, err := db.GetStatus()
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status.CurrentPhase != models.SessionImplement {
		t.Errorf("phase = %s, want IMPLEMENT", status.CurrentPhase)
	}
	if status.ProjectName != "notes-app" {
		t.Errorf("project name = %q, want notes-app", status.ProjectName)
	}

	// IDs keep increasing.
	second, err := db.AppendSession(testSession(models.SessionImplement, models.OutcomeReadyForReview),
		&models.Status{CurrentPhase: models.SessionReview})
	if err != nil {
		t.Fatalf("second AppendSession failed: %v", err)
	}
	if second.SessionID != 2 {
		t.Errorf("second session ID = %d, want 2", second.SessionID)
	}
}

func TestAppendSessionRequiresInit(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.AppendSession(testSession(models.SessionInit, models.OutcomeSuccess), &models.Status{
		CurrentPhase: models.SessionImplement,
	})
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestAppendSessionValidates(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.InitProgress("p", false); err != nil {
		t.Fatalf("InitProgress failed: %v", err)
	}

	bad := testSession(models.SessionInit, models.OutcomeSuccess)
	bad.Summary = ""
	if _, err := db.AppendSession(bad, &models.Status{CurrentPhase: models.SessionImplement}); err == nil {
		t.Error("expected validation error for empty summary")
	}
}

func TestGetLastSession(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.InitProgress("p", false); err != nil {
		t.Fatalf("InitProgress failed: %v", err)
	}

	if _, err := db.GetLastSession(); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on empty log, got %v", err)
	}

	for _, outcome := range []models.Outcome{models.OutcomeSuccess, models.OutcomeReadyForReview} {
		if _, err := db.AppendSession(testSession(models.SessionImplement, outcome),
			&models.Status{CurrentPhase: models.SessionReview}); err != nil {
			t.Fatalf("AppendSession failed: %v", err)
		}
	}

	last, err := db.GetLastSession()
	if err != nil {
		t.Fatalf("GetLastSession failed: %v", err)
	}
	if last.SessionID != 2 || last.Outcome != models.OutcomeReadyForReview {
		t.Errorf("last session = %+v", last)
	}
}

func TestListSessions(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.InitProgress("p", false); err != nil {
		t.Fatalf("InitProgress failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := db.AppendSession(testSession(models.SessionImplement, models.OutcomeReadyForReview),
			&models.Status{CurrentPhase: models.SessionReview}); err != nil {
			t.Fatalf("AppendSession failed: %v", err)
		}
	}

	sessions, err := db.ListSessions(2)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].SessionID != 3 {
		t.Errorf("newest first: got session %d", sessions[0].SessionID)
	}

	all, err := db.ListSessions(0)
	if err != nil {
		t.Fatalf("ListSessions(0) failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d sessions, want 3", len(all))
	}
}

func TestResumeFromStatusAndLastSession(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.InitProgress("notes-app", false); err != nil {
		t.Fatalf("InitProgress failed: %v", err)
	}

	session := testSession(models.SessionImplement, models.OutcomeReadyForReview)
	session.ItemsTouched = []string{"FEAT-001"}
	session.CommitRange = models.CommitRange{From: "abc123", To: "def456"}
	session.Commits = []models.Commit{{Hash: "def456", Message: "add login form"}}

	if _, err := db.AppendSession(session, &models.Status{
		CurrentPhase:  models.SessionReview,
		CurrentItems:  []string{"FEAT-001"},
		CurrentBranch: "feature/FEAT-001",
		HeadCommit:    "def456",
	}); err != nil {
		t.Fatalf("AppendSession failed: %v", err)
	}

	// Reopen: status plus last session is all a restart needs.
	reopened, err := Open(db.Path())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	status, err := reopened.GetStatus()
	if err != nil {
		t.Fatalf("GetStatus after reopen failed: %v", err)
	}
	last, err := reopened.GetLastSession()
	if err != nil {
		t.Fatalf("GetLastSession after reopen failed: %v", err)
	}

	if status.CurrentPhase != models.SessionReview || status.CurrentBranch != "feature/FEAT-001" {
		t.Errorf("status = %+v", status)
	}
	if last.Outcome != models.OutcomeReadyForReview || len(last.Commits) != 1 {
		t.Errorf("last session = %+v", last)
	}
}
