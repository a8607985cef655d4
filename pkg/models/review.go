package models

import (
	"fmt"
	"time"
)

// Verdict is the categorical result of a review session.
type Verdict string

const (
	// VerdictApprove accepts the work; requires zero critical or major issues.
	VerdictApprove Verdict = "APPROVE"
	// VerdictPassWithComments accepts the work but records minor issues.
	VerdictPassWithComments Verdict = "PASS_WITH_COMMENTS"
	// VerdictRequestChanges sends the work to a fix session.
	VerdictRequestChanges Verdict = "REQUEST_CHANGES"
	// VerdictReject discards the branch; items return to the pending pool.
	VerdictReject Verdict = "REJECT"
)

// Valid returns true if the verdict is a known value.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictApprove, VerdictPassWithComments, VerdictRequestChanges, VerdictReject:
		return true
	default:
		return false
	}
}

// Severity classifies a review issue.
type Severity string

const (
	SeverityCritical   Severity = "critical"
	SeverityMajor      Severity = "major"
	SeverityMinor      Severity = "minor"
	SeveritySuggestion Severity = "suggestion"
)

// Valid returns true if the severity is a known value.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityMajor, SeverityMinor, SeveritySuggestion:
		return true
	default:
		return false
	}
}

// Blocking reports whether this severity blocks approval.
func (s Severity) Blocking() bool {
	return s == SeverityCritical || s == SeverityMajor
}

// Issue is a single finding recorded by a review.
type Issue struct {
	// ID identifies the issue within its review (e.g. I1, I2).
	ID string `json:"id"`
	// Severity is the issue severity.
	Severity Severity `json:"severity"`
	// Description explains the problem.
	Description string `json:"description"`
	// Location points at the affected file/line, if known.
	Location string `json:"location,omitempty"`
	// Suggestion is the reviewer's proposed remedy, if any.
	Suggestion string `json:"suggestion,omitempty"`
}

// Review is one immutable entry in the review ledger.
type Review struct {
	// ReviewID is the strictly increasing sequence number.
	ReviewID int64 `json:"review_id"`
	// AgentType is the reviewing session type (REVIEW or ARCHITECTURE).
	AgentType SessionType `json:"agent_type"`
	// ItemIDs are the work items under review (empty for architecture reviews).
	ItemIDs []string `json:"item_ids,omitempty"`
	// Branch is the branch that was reviewed.
	Branch string `json:"branch"`
	// Verdict is the categorical result.
	Verdict Verdict `json:"verdict"`
	// Forced is true when the retry ceiling converted the natural verdict.
	Forced bool `json:"forced,omitempty"`
	// Issues are the findings, possibly empty.
	Issues []Issue `json:"issues,omitempty"`
	// Summary is the reviewer's prose summary.
	Summary string `json:"summary"`
	// CommitRange spans the commits that were reviewed.
	CommitRange CommitRange `json:"commit_range"`
	// CreatedAt is when the review was appended.
	CreatedAt time.Time `json:"created_at"`
}

// BlockingIssues returns the critical and major issues.
func (r *Review) BlockingIssues() []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Severity.Blocking() {
			out = append(out, is)
		}
	}
	return out
}

// HasBlockingIssues reports whether any critical or major issue is present.
func (r *Review) HasBlockingIssues() bool {
	return len(r.BlockingIssues()) > 0
}

// Settles reports whether the review closes its branch's review chain: an
// approval, a rejection, or a pass with no outstanding issues. Reviews and
// fixes recorded before a settling review belong to an earlier chain.
func (r *Review) Settles() bool {
	switch r.Verdict {
	case VerdictApprove, VerdictReject:
		return true
	case VerdictPassWithComments:
		return len(r.Issues) == 0
	}
	return false
}

// Validate checks the verdict/issue consistency rules: APPROVE carries no
// blocking issues, PASS_WITH_COMMENTS carries only minor/suggestion issues,
// and REQUEST_CHANGES names at least one issue.
func (r *Review) Validate() error {
	if r.AgentType != SessionReview && r.AgentType != SessionArchitecture {
		return fmt.Errorf("review: agent type must be REVIEW or ARCHITECTURE, got %q", r.AgentType)
	}
	if !r.Verdict.Valid() {
		return fmt.Errorf("review: invalid verdict %q", r.Verdict)
	}
	for _, is := range r.Issues {
		if !is.Severity.Valid() {
			return fmt.Errorf("review: issue %s has invalid severity %q", is.ID, is.Severity)
		}
		if is.Description == "" {
			return fmt.Errorf("review: issue %s has no description", is.ID)
		}
	}
	switch r.Verdict {
	case VerdictApprove:
		if r.HasBlockingIssues() {
			return fmt.Errorf("review: APPROVE with blocking issues")
		}
	case VerdictPassWithComments:
		if r.HasBlockingIssues() {
			return fmt.Errorf("review: PASS_WITH_COMMENTS with blocking issues")
		}
	case VerdictRequestChanges:
		if len(r.Issues) == 0 {
			return fmt.Errorf("review: REQUEST_CHANGES with no issues")
		}
	}
	return nil
}

// Fix is one immutable fix-attempt entry in the review ledger, linked to the
// review it addresses. The retry count for an item is derived by counting Fix
// records that trace to it, never cached.
type Fix struct {
	// FixID is the strictly increasing sequence number.
	FixID int64 `json:"fix_id"`
	// ReviewID is the review this fix addresses.
	ReviewID int64 `json:"review_id"`
	// ItemIDs are the work items the fix touches.
	ItemIDs []string `json:"item_ids,omitempty"`
	// Branch is the branch carrying the fixes.
	Branch string `json:"branch"`
	// IssuesFixed lists the issue IDs that were addressed.
	IssuesFixed []string `json:"issues_fixed,omitempty"`
	// IssuesDeferred lists the issue IDs deliberately left open.
	IssuesDeferred []string `json:"issues_deferred,omitempty"`
	// TestsAdded lists test names added while fixing.
	TestsAdded []string `json:"tests_added,omitempty"`
	// CreatedAt is when the fix was appended.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the structural invariants of a fix record.
func (f *Fix) Validate() error {
	if f.ReviewID <= 0 {
		return fmt.Errorf("fix: missing review_id")
	}
	if f.Branch == "" {
		return fmt.Errorf("fix: missing branch")
	}
	return nil
}

// VerificationStatus is the tri-state (plus bookkeeping states) result of the
// external verification process for one session.
type VerificationStatus string

const (
	// VerificationVerified means the evidence bundle confirms the work.
	VerificationVerified VerificationStatus = "VERIFIED"
	// VerificationNotVerified means the evidence contradicts the work.
	VerificationNotVerified VerificationStatus = "NOT_VERIFIED"
	// VerificationIncomplete means evidence was gathered but is insufficient.
	VerificationIncomplete VerificationStatus = "INCOMPLETE"
	// VerificationInProgress means an input bundle exists but no report yet.
	VerificationInProgress VerificationStatus = "IN_PROGRESS"
	// VerificationNotStarted means no verification exists for the session.
	VerificationNotStarted VerificationStatus = "NOT_STARTED"
)
