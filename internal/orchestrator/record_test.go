package orchestrator

import (
	"path/filepath"
	"testing"

	"github.com/ShayCichocki/tandem/internal/state"
	"github.com/ShayCichocki/tandem/internal/verification"
	"github.com/ShayCichocki/tandem/pkg/models"
)

func setupStore(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedFeature(t *testing.T, db *state.DB, name string) models.WorkItem {
	t.Helper()
	items, err := db.AppendItems([]state.ItemSpec{{Kind: models.KindFeature, Name: name, Category: "core"}})
	if err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return items[0]
}

func TestRecordReviewApproveMarksPassing(t *testing.T) {
	db := setupStore(t)
	feat := seedFeature(t, db, "login")

	recorded, err := RecordReview(db, DefaultPolicy(), &models.Review{
		AgentType: models.SessionReview,
		ItemIDs:   []string{feat.ID},
		Branch:    "feature/" + feat.ID,
		Verdict:   models.VerdictApprove,
		Summary:   "all steps pass",
	}, models.VerificationVerified)
	if err != nil {
		t.Fatalf("RecordReview failed: %v", err)
	}
	if recorded.Verdict != models.VerdictApprove || recorded.Forced {
		t.Errorf("recorded = %+v", recorded)
	}

	item, err := db.GetItem(feat.ID)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if !item.Passes {
		t.Error("approved item not marked passing")
	}
}

func TestRecordReviewUnverifiedBlocksApproval(t *testing.T) {
	db := setupStore(t)
	feat := seedFeature(t, db, "login")

	recorded, err := RecordReview(db, DefaultPolicy(), &models.Review{
		AgentType: models.SessionReview,
		ItemIDs:   []string{feat.ID},
		Branch:    "feature/" + feat.ID,
		Verdict:   models.VerdictApprove,
		Summary:   "looks fine",
	}, models.VerificationIncomplete)
	if err != nil {
		t.Fatalf("RecordReview failed: %v", err)
	}
	if recorded.Verdict != models.VerdictRequestChanges {
		t.Errorf("verdict = %s, want REQUEST_CHANGES", recorded.Verdict)
	}

	item, _ := db.GetItem(feat.ID)
	if item.Passes {
		t.Error("item marked passing despite missing verification")
	}
}

func TestRecordReviewForcedApproveCarriesDebt(t *testing.T) {
	db := setupStore(t)
	feat := seedFeature(t, db, "search")
	branch := "feature/" + feat.ID

	// Three review/fix rounds exhaust the ceiling.
	issues := []models.Issue{{ID: "ISS-1", Severity: models.SeverityMinor, Description: "inconsistent naming"}}
	for i := 0; i < 3; i++ {
		review, err := RecordReview(db, DefaultPolicy(), &models.Review{
			AgentType: models.SessionReview,
			ItemIDs:   []string{feat.ID},
			Branch:    branch,
			Verdict:   models.VerdictRequestChanges,
			Issues:    issues,
			Summary:   "minor issues remain",
		}, models.VerificationVerified)
		if err != nil {
			t.Fatalf("RecordReview round %d failed: %v", i, err)
		}
		if review.Forced {
			t.Fatalf("round %d forced prematurely", i)
		}
		if _, err := db.AddFix(&models.Fix{ReviewID: review.ReviewID, Branch: branch, IssuesDeferred: []string{"ISS-1"}}); err != nil {
			t.Fatalf("AddFix failed: %v", err)
		}
	}

	// The fourth review hits the ceiling: forced APPROVE, item passing,
	// minors carried forward as debt.
	final, err := RecordReview(db, DefaultPolicy(), &models.Review{
		AgentType: models.SessionReview,
		ItemIDs:   []string{feat.ID},
		Branch:    branch,
		Verdict:   models.VerdictRequestChanges,
		Issues:    issues,
		Summary:   "minor issues still remain",
	}, models.VerificationVerified)
	if err != nil {
		t.Fatalf("final RecordReview failed: %v", err)
	}
	if final.Verdict != models.VerdictApprove || !final.Forced {
		t.Fatalf("final = %+v, want forced APPROVE", final)
	}

	item, _ := db.GetItem(feat.ID)
	if !item.Passes {
		t.Error("forced approve did not mark the item passing")
	}

	debt, err := db.ListItems(state.ItemFilter{Kind: models.KindDebt})
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(debt) != 1 {
		t.Fatalf("got %d debt items, want 1", len(debt))
	}
	if debt[0].Source != "review:4" {
		t.Errorf("debt source = %q", debt[0].Source)
	}
}

func TestRecordReviewForcedRejectOnBlocking(t *testing.T) {
	db := setupStore(t)
	feat := seedFeature(t, db, "export")
	branch := "feature/" + feat.ID

	issues := []models.Issue{{ID: "ISS-1", Severity: models.SeverityMajor, Description: "data loss on concurrent save"}}
	for i := 0; i < 3; i++ {
		review, err := RecordReview(db, DefaultPolicy(), &models.Review{
			AgentType: models.SessionReview,
			ItemIDs:   []string{feat.ID},
			Branch:    branch,
			Verdict:   models.VerdictRequestChanges,
			Issues:    issues,
			Summary:   "still broken",
		}, models.VerificationVerified)
		if err != nil {
			t.Fatalf("RecordReview failed: %v", err)
		}
		if _, err := db.AddFix(&models.Fix{ReviewID: review.ReviewID, Branch: branch}); err != nil {
			t.Fatalf("AddFix failed: %v", err)
		}
	}

	final, err := RecordReview(db, DefaultPolicy(), &models.Review{
		AgentType: models.SessionReview,
		ItemIDs:   []string{feat.ID},
		Branch:    branch,
		Verdict:   models.VerdictRequestChanges,
		Issues:    issues,
		Summary:   "major issue remains",
	}, models.VerificationVerified)
	if err != nil {
		t.Fatalf("final RecordReview failed: %v", err)
	}
	if final.Verdict != models.VerdictReject || !final.Forced {
		t.Fatalf("final = %+v, want forced REJECT", final)
	}

	// The item reverts to the pending pool.
	item, _ := db.GetItem(feat.ID)
	if item.Passes {
		t.Error("rejected item is passing")
	}
	candidates, _ := db.NextCandidates(0)
	if len(candidates) != 1 || candidates[0].ID != feat.ID {
		t.Errorf("candidates = %v, want the rejected item back in the pool", candidates)
	}
}

func TestRecordReviewNewCycleStartsUnforced(t *testing.T) {
	db := setupStore(t)

	// A full architecture cycle on the integration branch exhausts the
	// ceiling and settles with a forced verdict.
	issues := []models.Issue{{ID: "ISS-1", Severity: models.SeverityMajor, Description: "tangled module boundaries"}}
	archReview := func(is []models.Issue) *models.Review {
		return &models.Review{
			AgentType: models.SessionArchitecture,
			Branch:    "main",
			Verdict:   models.VerdictRequestChanges,
			Issues:    is,
			Summary:   "architecture findings",
		}
	}
	for i := 0; i < 3; i++ {
		review, err := RecordReview(db, DefaultPolicy(), archReview(issues), models.VerificationVerified)
		if err != nil {
			t.Fatalf("RecordReview round %d failed: %v", i, err)
		}
		if _, err := db.AddFix(&models.Fix{ReviewID: review.ReviewID, Branch: "main"}); err != nil {
			t.Fatalf("AddFix failed: %v", err)
		}
	}
	settled, err := RecordReview(db, DefaultPolicy(), archReview(issues), models.VerificationVerified)
	if err != nil {
		t.Fatalf("settling RecordReview failed: %v", err)
	}
	if settled.Verdict != models.VerdictReject || !settled.Forced {
		t.Fatalf("settled = %+v, want forced REJECT", settled)
	}

	// A later cycle reuses the branch name. Its first review must resolve
	// naturally; the finished chain's fixes do not count against it.
	fresh, err := RecordReview(db, DefaultPolicy(), archReview([]models.Issue{
		{ID: "ISS-2", Severity: models.SeverityMajor, Description: "new coupling between store and transport"},
	}), models.VerificationVerified)
	if err != nil {
		t.Fatalf("fresh RecordReview failed: %v", err)
	}
	if fresh.Verdict != models.VerdictRequestChanges || fresh.Forced {
		t.Errorf("fresh cycle review = %+v, want unforced REQUEST_CHANGES", fresh)
	}
}

func TestRecordReviewReleasesCheckout(t *testing.T) {
	db := setupStore(t)
	feat := seedFeature(t, db, "profile")
	branch := "feature/" + feat.ID

	if _, err := db.CheckoutItems([]string{feat.ID}, branch, 3); err != nil {
		t.Fatalf("CheckoutItems failed: %v", err)
	}

	if _, err := RecordReview(db, DefaultPolicy(), &models.Review{
		AgentType: models.SessionReview,
		ItemIDs:   []string{feat.ID},
		Branch:    branch,
		Verdict:   models.VerdictApprove,
		Summary:   "verified and clean",
	}, models.VerificationVerified); err != nil {
		t.Fatalf("RecordReview failed: %v", err)
	}

	open, err := db.OpenCheckouts()
	if err != nil {
		t.Fatalf("OpenCheckouts failed: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("checkout not released: %v", open)
	}
}

func TestGateStatusForReview(t *testing.T) {
	db := setupStore(t)
	gate := verification.NewGate(filepath.Join(t.TempDir(), "verification"))

	status, err := GateStatusForReview(db, gate)
	if err != nil {
		t.Fatalf("GateStatusForReview failed: %v", err)
	}
	if status != models.VerificationNotStarted {
		t.Errorf("status = %s, want NOT_STARTED", status)
	}
}
