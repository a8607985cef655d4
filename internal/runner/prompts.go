package runner

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/tandem/pkg/models"
)

// PromptInput carries everything instruction rendering needs for one session.
type PromptInput struct {
	Type       models.SessionType
	SessionID  int64
	Items      []models.WorkItem
	Branch     string
	ReportPath string
	// VerificationDir is where implementation sessions deposit evidence.
	VerificationDir string
	// Review is the review being addressed; set for FIX sessions.
	Review *models.Review
	// FixCount is how many fix attempts the branch has already had.
	FixCount int
	// RetryCeiling is the configured maximum fix attempts.
	RetryCeiling int
	// ProjectBrief is the freeform project description; set for INIT and
	// BROWNFIELD_INIT sessions.
	ProjectBrief string
}

// Instructions renders the instruction text for a session. The orchestrator
// treats the output as opaque; only the agent reads it.
func Instructions(in PromptInput) string {
	var b strings.Builder

	switch in.Type {
	case models.SessionInit:
		fmt.Fprintf(&b, "You are bootstrapping a new project.\n\n")
		fmt.Fprintf(&b, "Project brief:\n%s\n\n", in.ProjectBrief)
		b.WriteString("Set up the repository skeleton, then register every feature the brief calls for:\n")
		b.WriteString("  tandem work add --kind feature --name <name> --category <category> --priority <n> --step <acceptance step>\n")
		b.WriteString("Give each item concrete, observable acceptance steps. Do not implement features yet.\n")

	case models.SessionBrownfieldInit:
		fmt.Fprintf(&b, "You are augmenting an existing project with new requirements.\n\n")
		fmt.Fprintf(&b, "New requirements:\n%s\n\n", in.ProjectBrief)
		b.WriteString("Study the existing code before adding items. Register each new feature or bug:\n")
		b.WriteString("  tandem work add --kind <feature|bug> --name <name> --category <category> --priority <n> --step <acceptance step>\n")
		b.WriteString("Never modify or remove existing work items; only append.\n")

	case models.SessionImplement:
		fmt.Fprintf(&b, "Implement the following work items on branch %s.\n\n", in.Branch)
		writeItems(&b, in.Items)
		b.WriteString("Work through every acceptance step. Commit as you go with clear messages.\n")
		writeEvidence(&b, in)

	case models.SessionBugfix:
		fmt.Fprintf(&b, "Fix the following defect on branch %s.\n\n", in.Branch)
		writeItems(&b, in.Items)
		b.WriteString("Reproduce the defect first. If you cannot reproduce it, stop and report outcome CANNOT_REPRODUCE instead of guessing at a fix.\n")
		b.WriteString("Add a regression test that fails before your change and passes after.\n")
		writeEvidence(&b, in)

	case models.SessionReview:
		fmt.Fprintf(&b, "Review branch %s against its work items.\n\n", in.Branch)
		writeItems(&b, in.Items)
		fmt.Fprintf(&b, "This branch has had %d of %d allowed fix attempts.\n\n", in.FixCount, in.RetryCeiling)
		b.WriteString("Exercise every acceptance step yourself. One observed defect means the batch does not pass, no matter what else works.\n")
		b.WriteString("Record your verdict before finishing:\n")
		b.WriteString("  tandem review add --verdict <APPROVE|PASS_WITH_COMMENTS|REQUEST_CHANGES|REJECT> --summary <text> [--issue severity:description ...]\n")
		b.WriteString("APPROVE only with verified evidence and zero critical or major findings.\n")

	case models.SessionFix:
		fmt.Fprintf(&b, "Address the findings of review %d on branch %s.\n\n", reviewID(in.Review), in.Branch)
		writeReviewIssues(&b, in.Review)
		fmt.Fprintf(&b, "This is fix attempt %d of %d. ", in.FixCount+1, in.RetryCeiling)
		b.WriteString("Fix every blocking issue. Record what you did before finishing:\n")
		b.WriteString("  tandem review fix --review <id> --fixed <issue-id> [--deferred <issue-id>] [--test <test name>]\n")
		writeEvidence(&b, in)

	case models.SessionArchitecture:
		fmt.Fprintf(&b, "Perform a codebase-wide architecture review on branch %s.\n\n", in.Branch)
		b.WriteString("Look for structural drift: duplicated concepts, leaking abstractions, dead code, inconsistent patterns. ")
		b.WriteString("Ignore single-feature nitpicks; those belong to ordinary reviews.\n")
		b.WriteString("Record your verdict before finishing:\n")
		b.WriteString("  tandem review add --verdict <APPROVE|REQUEST_CHANGES> --summary <text> [--issue severity:description ...]\n")
	}

	fmt.Fprintf(&b, "\nWhen you are done, write your session report to %s as JSON:\n", in.ReportPath)
	b.WriteString(`  {"outcome": "<OUTCOME>", "summary": "<what you did>", "items_touched": [...], "commits": [{"hash": "...", "message": "..."}], "commit_range": {"from": "...", "to": "..."}}` + "\n")
	fmt.Fprintf(&b, "Valid outcomes for this session: %s.\n", strings.Join(validOutcomes(in.Type), ", "))

	return b.String()
}

func writeItems(b *strings.Builder, items []models.WorkItem) {
	for _, item := range items {
		fmt.Fprintf(b, "%s: %s", item.ID, item.Name)
		if item.Description != "" {
			fmt.Fprintf(b, "\n  %s", item.Description)
		}
		for _, step := range item.Steps {
			fmt.Fprintf(b, "\n  - %s", step)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeReviewIssues(b *strings.Builder, review *models.Review) {
	if review == nil {
		return
	}
	for _, issue := range review.Issues {
		fmt.Fprintf(b, "[%s] %s: %s", issue.Severity, issue.ID, issue.Description)
		if issue.Location != "" {
			fmt.Fprintf(b, " (%s)", issue.Location)
		}
		if issue.Suggestion != "" {
			fmt.Fprintf(b, "\n  suggestion: %s", issue.Suggestion)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeEvidence(b *strings.Builder, in PromptInput) {
	if in.VerificationDir == "" {
		return
	}
	fmt.Fprintf(b, "Deposit verification evidence under %s: ", in.VerificationDir)
	b.WriteString("test output in test_evidence/, screenshots if applicable in screenshots/, and a verification.md whose Status line states VERIFIED only once every acceptance step demonstrably passes.\n")
}

func reviewID(review *models.Review) int64 {
	if review == nil {
		return 0
	}
	return review.ReviewID
}

// validOutcomes lists the outcomes a session of the given type may report.
func validOutcomes(t models.SessionType) []string {
	switch t {
	case models.SessionImplement:
		return []string{string(models.OutcomeReadyForReview), string(models.OutcomeError)}
	case models.SessionBugfix:
		return []string{string(models.OutcomeReadyForReview), string(models.OutcomeCannotReproduce), string(models.OutcomeError)}
	case models.SessionReview, models.SessionArchitecture:
		return []string{string(models.OutcomeApproved), string(models.OutcomePassWithComments),
			string(models.OutcomeRequestChanges), string(models.OutcomeReject), string(models.OutcomeError)}
	default:
		return []string{string(models.OutcomeSuccess), string(models.OutcomeError)}
	}
}
