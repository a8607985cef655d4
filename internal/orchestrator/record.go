package orchestrator

import (
	"errors"

	"github.com/ShayCichocki/tandem/internal/state"
	"github.com/ShayCichocki/tandem/internal/verification"
	"github.com/ShayCichocki/tandem/pkg/models"
)

// RecordReview resolves a proposed verdict against the verification gate
// and the retry ceiling, appends the resolved review, and applies its
// ledger effects: approved items are marked passing with deferred findings
// carried forward as debt, and a settled branch's checkouts are released.
//
// Both the run loop and the review CLI go through here, so the
// zero-tolerance rule cannot be bypassed by recording a verdict by hand.
func RecordReview(db *state.DB, policy Policy, review *models.Review, verification models.VerificationStatus) (*models.Review, error) {
	fixCount, err := db.FixCount(review.Branch)
	if err != nil {
		return nil, err
	}

	resolved := ResolveVerdict(policy, review, verification, fixCount)

	var passing []string
	var debt []state.ItemSpec
	if Approved(resolved) {
		passing = resolved.ItemIDs
		debt = CarryForwardDebt(resolved)
	}
	release := Approved(resolved) || resolved.Verdict == models.VerdictReject

	// The verdict and all its ledger effects land in one transaction, so a
	// crash mid-settlement cannot leave an approved review whose items were
	// never marked passing or released.
	return db.ApplyReview(resolved, passing, debt, release)
}

// Approved reports whether a recorded review settles its branch as passing.
func Approved(review *models.Review) bool {
	return review.Verdict == models.VerdictApprove ||
		(review.Verdict == models.VerdictPassWithComments && len(review.Issues) == 0)
}

// GateStatusForReview returns the verification status a review must judge:
// the evidence of the most recent session that produced work. With no such
// session the status is NOT_STARTED, which blocks approval.
func GateStatusForReview(db *state.DB, gate *verification.Gate) (models.VerificationStatus, error) {
	sessions, err := db.ListSessions(0)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return models.VerificationNotStarted, nil
		}
		return "", err
	}

	for _, session := range sessions {
		switch session.AgentType {
		case models.SessionImplement, models.SessionBugfix, models.SessionFix:
			return gate.StatusFor(session.SessionID)
		}
	}
	return models.VerificationNotStarted, nil
}
