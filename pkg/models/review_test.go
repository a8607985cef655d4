package models

import "testing"

func TestSeverityBlocking(t *testing.T) {
	tests := []struct {
		severity Severity
		want     bool
	}{
		{SeverityCritical, true},
		{SeverityMajor, true},
		{SeverityMinor, false},
		{SeveritySuggestion, false},
	}
	for _, tt := range tests {
		if got := tt.severity.Blocking(); got != tt.want {
			t.Errorf("%v.Blocking() = %v, want %v", tt.severity, got, tt.want)
		}
	}
}

func TestReviewValidate(t *testing.T) {
	minor := Issue{ID: "I1", Severity: SeverityMinor, Description: "nit"}
	major := Issue{ID: "I2", Severity: SeverityMajor, Description: "broken"}

	tests := []struct {
		name    string
		review  Review
		wantErr bool
	}{
		{
			"clean approve",
			Review{AgentType: SessionReview, Verdict: VerdictApprove, Branch: "b"},
			false,
		},
		{
			"approve with blocking issue",
			Review{AgentType: SessionReview, Verdict: VerdictApprove, Branch: "b", Issues: []Issue{major}},
			true,
		},
		{
			"pass with comments, minor only",
			Review{AgentType: SessionReview, Verdict: VerdictPassWithComments, Branch: "b", Issues: []Issue{minor}},
			false,
		},
		{
			"pass with comments, blocking issue",
			Review{AgentType: SessionReview, Verdict: VerdictPassWithComments, Branch: "b", Issues: []Issue{major}},
			true,
		},
		{
			"request changes with issues",
			Review{AgentType: SessionReview, Verdict: VerdictRequestChanges, Branch: "b", Issues: []Issue{major}},
			false,
		},
		{
			"request changes without issues",
			Review{AgentType: SessionReview, Verdict: VerdictRequestChanges, Branch: "b"},
			true,
		},
		{
			"wrong agent type",
			Review{AgentType: SessionImplement, Verdict: VerdictApprove, Branch: "b"},
			true,
		},
		{
			"architecture review",
			Review{AgentType: SessionArchitecture, Verdict: VerdictApprove, Branch: "refactor/r1"},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.review.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReviewBlockingIssues(t *testing.T) {
	r := Review{Issues: []Issue{
		{ID: "I1", Severity: SeverityMinor, Description: "a"},
		{ID: "I2", Severity: SeverityCritical, Description: "b"},
		{ID: "I3", Severity: SeveritySuggestion, Description: "c"},
		{ID: "I4", Severity: SeverityMajor, Description: "d"},
	}}
	blocking := r.BlockingIssues()
	if len(blocking) != 2 {
		t.Fatalf("BlockingIssues() returned %d issues, want 2", len(blocking))
	}
	if blocking[0].ID != "I2" || blocking[1].ID != "I4" {
		t.Errorf("BlockingIssues() = %v, want I2 and I4", blocking)
	}
}
