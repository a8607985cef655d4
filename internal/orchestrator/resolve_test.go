package orchestrator

import (
	"testing"

	"github.com/ShayCichocki/tandem/pkg/models"
)

func proposed(verdict models.Verdict, issues ...models.Issue) *models.Review {
	return &models.Review{
		AgentType: models.SessionReview,
		ItemIDs:   []string{"FEAT-005"},
		Branch:    "feature/FEAT-005",
		Verdict:   verdict,
		Issues:    issues,
		Summary:   "test",
	}
}

var (
	minorIssue = models.Issue{ID: "ISS-1", Severity: models.SeverityMinor, Description: "inconsistent naming"}
	majorIssue = models.Issue{ID: "ISS-2", Severity: models.SeverityMajor, Description: "missing error handling"}
)

func TestResolveVerdictZeroTolerance(t *testing.T) {
	tests := []struct {
		name         string
		verdict      models.Verdict
		verification models.VerificationStatus
		want         models.Verdict
	}{
		{"approve with verified evidence stands", models.VerdictApprove, models.VerificationVerified, models.VerdictApprove},
		{"approve without evidence downgrades", models.VerdictApprove, models.VerificationNotStarted, models.VerdictRequestChanges},
		{"approve with incomplete evidence downgrades", models.VerdictApprove, models.VerificationIncomplete, models.VerdictRequestChanges},
		{"pass with comments unverified downgrades", models.VerdictPassWithComments, models.VerificationNotVerified, models.VerdictRequestChanges},
		{"request changes unaffected", models.VerdictRequestChanges, models.VerificationNotStarted, models.VerdictRequestChanges},
		{"reject unaffected", models.VerdictReject, models.VerificationNotStarted, models.VerdictReject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			review := proposed(tt.verdict, minorIssue)
			resolved := ResolveVerdict(DefaultPolicy(), review, tt.verification, 0)
			if resolved.Verdict != tt.want {
				t.Errorf("verdict = %s, want %s", resolved.Verdict, tt.want)
			}
			if resolved.Forced {
				t.Error("below the ceiling nothing is forced")
			}
			// A downgrade must leave a visible trail.
			if tt.want == models.VerdictRequestChanges && tt.verdict != models.VerdictRequestChanges {
				if len(resolved.Issues) != 2 {
					t.Errorf("expected an appended verification issue, got %v", resolved.Issues)
				}
			}
		})
	}
}

func TestResolveVerdictDoesNotMutateInput(t *testing.T) {
	review := proposed(models.VerdictApprove, minorIssue)
	ResolveVerdict(DefaultPolicy(), review, models.VerificationNotStarted, 0)
	if review.Verdict != models.VerdictApprove || len(review.Issues) != 1 {
		t.Errorf("input review was mutated: %+v", review)
	}
}

func TestResolveVerdictRetryCeiling(t *testing.T) {
	tests := []struct {
		name         string
		issues       []models.Issue
		verification models.VerificationStatus
		want         models.Verdict
	}{
		{"only minor issues forces approve", []models.Issue{minorIssue}, models.VerificationVerified, models.VerdictApprove},
		{"no issues forces approve", nil, models.VerificationVerified, models.VerdictApprove},
		{"major issue forces reject", []models.Issue{minorIssue, majorIssue}, models.VerificationVerified, models.VerdictReject},
		{"unverified at ceiling forces reject", []models.Issue{minorIssue}, models.VerificationNotVerified, models.VerdictReject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			review := proposed(models.VerdictRequestChanges, tt.issues...)
			resolved := ResolveVerdict(DefaultPolicy(), review, tt.verification, 3)
			if resolved.Verdict != tt.want {
				t.Errorf("verdict = %s, want %s", resolved.Verdict, tt.want)
			}
			if !resolved.Forced {
				t.Error("at the ceiling the verdict must be forced")
			}
		})
	}
}

func TestResolveVerdictBelowCeilingStillFixes(t *testing.T) {
	review := proposed(models.VerdictRequestChanges, minorIssue)
	resolved := ResolveVerdict(DefaultPolicy(), review, models.VerificationVerified, 2)
	if resolved.Verdict != models.VerdictRequestChanges || resolved.Forced {
		t.Errorf("resolved = %+v, want unforced REQUEST_CHANGES", resolved)
	}
}

func TestCarryForwardDebt(t *testing.T) {
	review := proposed(models.VerdictApprove, minorIssue,
		models.Issue{ID: "ISS-3", Severity: models.SeveritySuggestion, Description: "consider extracting helper", Location: "store.go:40"})
	review.ReviewID = 9
	review.Forced = true

	specs := CarryForwardDebt(review)
	if len(specs) != 2 {
		t.Fatalf("got %d debt specs, want 2", len(specs))
	}
	for _, spec := range specs {
		if spec.Kind != models.KindDebt {
			t.Errorf("kind = %s, want debt", spec.Kind)
		}
		if spec.Source != "review:9" {
			t.Errorf("source = %q", spec.Source)
		}
	}
}

func TestCarryForwardDebtOnlyOnForcedApprove(t *testing.T) {
	unforced := proposed(models.VerdictApprove, minorIssue)
	if specs := CarryForwardDebt(unforced); specs != nil {
		t.Errorf("unforced approve produced debt: %v", specs)
	}

	rejected := proposed(models.VerdictReject, majorIssue)
	rejected.Forced = true
	if specs := CarryForwardDebt(rejected); specs != nil {
		t.Errorf("forced reject produced debt: %v", specs)
	}
}
