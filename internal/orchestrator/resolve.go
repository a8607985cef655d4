package orchestrator

import (
	"fmt"

	"github.com/ShayCichocki/tandem/internal/state"
	"github.com/ShayCichocki/tandem/pkg/models"
)

// ResolveVerdict applies the verification gate and the retry ceiling to a
// proposed review verdict, returning the verdict that actually gets
// recorded. fixCount is the number of fix attempts already made on the
// branch, derived from the fix records, never cached.
//
// Two rules override whatever the reviewer proposed:
//
//  1. Without VERIFIED evidence, nothing is approved. A proposed APPROVE or
//     PASS_WITH_COMMENTS is downgraded to REQUEST_CHANGES with the missing
//     evidence recorded as a major issue.
//  2. At the retry ceiling, the review never routes back to FIX. The verdict
//     is forced: REJECT if anything blocking remains, APPROVE otherwise.
func ResolveVerdict(policy Policy, review *models.Review, verification models.VerificationStatus, fixCount int) *models.Review {
	resolved := *review
	verified := verification == models.VerificationVerified

	atCeiling := policy.RetryCeiling > 0 && fixCount >= policy.RetryCeiling

	if atCeiling {
		if resolved.HasBlockingIssues() || !verified {
			resolved.Verdict = models.VerdictReject
			if !verified {
				resolved.Issues = append(resolved.Issues, unverifiedIssue(verification))
			}
		} else {
			resolved.Verdict = models.VerdictApprove
		}
		resolved.Forced = true
		return &resolved
	}

	if !verified && approves(resolved.Verdict) {
		resolved.Verdict = models.VerdictRequestChanges
		resolved.Issues = append(resolved.Issues, unverifiedIssue(verification))
	}
	return &resolved
}

func approves(v models.Verdict) bool {
	return v == models.VerdictApprove || v == models.VerdictPassWithComments
}

func unverifiedIssue(status models.VerificationStatus) models.Issue {
	return models.Issue{
		ID:          "VERIFICATION",
		Severity:    models.SeverityMajor,
		Description: fmt.Sprintf("verification evidence is %s, not VERIFIED", status),
		Suggestion:  "complete the verification bundle before re-review",
	}
}

// CarryForwardDebt converts the open non-blocking issues of a forced
// approval into debt work items, so deferred findings survive the merge
// instead of being silently lost. Returns nil when the review carries no
// open issues.
func CarryForwardDebt(review *models.Review) []state.ItemSpec {
	if !review.Forced || review.Verdict != models.VerdictApprove {
		return nil
	}

	var specs []state.ItemSpec
	for _, issue := range review.Issues {
		if issue.Severity.Blocking() {
			continue
		}
		name := issue.Description
		if len(name) > 80 {
			name = name[:77] + "..."
		}
		specs = append(specs, state.ItemSpec{
			Kind:        models.KindDebt,
			Category:    "review-debt",
			Name:        name,
			Description: debtDescription(issue),
			Source:      fmt.Sprintf("review:%d", review.ReviewID),
		})
	}
	return specs
}

func debtDescription(issue models.Issue) string {
	desc := issue.Description
	if issue.Location != "" {
		desc += "\nLocation: " + issue.Location
	}
	if issue.Suggestion != "" {
		desc += "\nSuggestion: " + issue.Suggestion
	}
	return desc
}
