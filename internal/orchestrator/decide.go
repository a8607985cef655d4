package orchestrator

import (
	"fmt"

	"github.com/ShayCichocki/tandem/internal/state"
	"github.com/ShayCichocki/tandem/pkg/models"
)

// Policy holds the tunable knobs of the state machine.
type Policy struct {
	// ArchitectureInterval is how many completed features trigger a
	// codebase-wide architecture review. Zero disables the trigger.
	ArchitectureInterval int
	// BatchSize caps how many items one implementation session takes on.
	BatchSize int
	// RetryCeiling is the number of fix attempts allowed per branch before
	// the verdict is forced.
	RetryCeiling int
	// MainBranch is the integration branch architecture reviews run against.
	MainBranch string
}

// DefaultPolicy returns the standard policy values.
func DefaultPolicy() Policy {
	return Policy{
		ArchitectureInterval: 5,
		BatchSize:            3,
		RetryCeiling:         3,
		MainBranch:           "main",
	}
}

// Inputs is everything DecideNext looks at. The caller loads these from the
// store; the decision function itself never touches storage, which is what
// keeps it deterministic and testable in isolation.
type Inputs struct {
	// Status is the current snapshot. Required.
	Status *models.Status
	// LastSession is the most recent completed session, or nil on a fresh
	// target.
	LastSession *models.Session
	// LastReview is the most recent review, or nil. Only consulted when the
	// last session was a REVIEW or ARCHITECTURE session.
	LastReview *models.Review
	// Candidates are the pending, unheld work items in candidate order.
	Candidates []models.WorkItem
}

// Decision is the state machine's output: which session to run next, on
// which items and branch, or an instruction to halt.
type Decision struct {
	Type    models.SessionType
	ItemIDs []string
	Branch  string
	// Halt indicates no session should run. Reason says why.
	Halt   bool
	Reason string
}

// DecideNext maps the current state onto the next session. It is a pure
// function: identical inputs always produce identical output, so an
// interrupted run that reloads the same status and last session re-issues
// exactly the same session.
func DecideNext(policy Policy, in Inputs) (Decision, error) {
	if in.Status == nil {
		return Decision{}, fmt.Errorf("decide next: status is required")
	}

	// Fresh or resumed target with no completed sessions: run whatever
	// phase the status points at.
	if in.LastSession == nil {
		return Decision{
			Type:    in.Status.CurrentPhase,
			ItemIDs: in.Status.CurrentItems,
			Branch:  in.Status.CurrentBranch,
		}, nil
	}

	last := in.LastSession

	// ERROR halts progression unconditionally. Auto-retry would mask
	// systemic failures.
	if last.Outcome == models.OutcomeError {
		return Decision{Halt: true, Reason: fmt.Sprintf("session %d ended in ERROR; manual intervention required", last.SessionID)}, nil
	}
	if last.Outcome == models.OutcomeCannotReproduce {
		return Decision{Halt: true, Reason: fmt.Sprintf("session %d could not reproduce the defect; needs human triage", last.SessionID)}, nil
	}

	switch last.AgentType {
	case models.SessionInit, models.SessionBrownfieldInit:
		return pickWork(policy, in.Candidates), nil

	case models.SessionImplement, models.SessionBugfix:
		if last.Outcome != models.OutcomeReadyForReview {
			return Decision{Halt: true, Reason: fmt.Sprintf("session %d: unexpected outcome %s for %s", last.SessionID, last.Outcome, last.AgentType)}, nil
		}
		return Decision{
			Type:    models.SessionReview,
			ItemIDs: in.Status.CurrentItems,
			Branch:  in.Status.CurrentBranch,
		}, nil

	case models.SessionFix:
		return Decision{
			Type:    models.SessionReview,
			ItemIDs: in.Status.CurrentItems,
			Branch:  in.Status.CurrentBranch,
		}, nil

	case models.SessionReview, models.SessionArchitecture:
		return decideAfterReview(policy, in)

	default:
		return Decision{}, fmt.Errorf("decide next: unknown session type %q", last.AgentType)
	}
}

// decideAfterReview routes on the recorded verdict of the review the last
// session produced.
func decideAfterReview(policy Policy, in Inputs) (Decision, error) {
	review := in.LastReview
	if review == nil {
		return Decision{}, fmt.Errorf("decide next: %s session %d left no review record", in.LastSession.AgentType, in.LastSession.SessionID)
	}

	approved := review.Verdict == models.VerdictApprove ||
		(review.Verdict == models.VerdictPassWithComments && len(review.Issues) == 0)

	switch {
	case approved:
		// The architecture trigger uses the post-increment count and never
		// fires off the back of an architecture review itself.
		if in.LastSession.AgentType == models.SessionReview &&
			policy.ArchitectureInterval > 0 &&
			in.Status.FeaturesCompleted > 0 &&
			in.Status.FeaturesCompleted%policy.ArchitectureInterval == 0 {
			return Decision{
				Type:   models.SessionArchitecture,
				Branch: policy.MainBranch,
			}, nil
		}
		return pickWork(policy, in.Candidates), nil

	case review.Verdict == models.VerdictRequestChanges,
		review.Verdict == models.VerdictPassWithComments:
		return Decision{
			Type:    models.SessionFix,
			ItemIDs: review.ItemIDs,
			Branch:  review.Branch,
		}, nil

	case review.Verdict == models.VerdictReject:
		// The store put the items back in the pool; pick fresh work.
		return pickWork(policy, in.Candidates), nil

	default:
		return Decision{}, fmt.Errorf("decide next: unknown verdict %q", review.Verdict)
	}
}

// pickWork selects the next implementation batch from the candidate list.
// The grouping heuristic lives in state.PlanBatch.
func pickWork(policy Policy, candidates []models.WorkItem) Decision {
	ids := state.PlanBatch(candidates, policy.BatchSize)
	if len(ids) == 0 {
		return Decision{Halt: true, Reason: "no pending work items"}
	}

	lead := candidates[0]
	sessionType := models.SessionImplement
	if lead.Kind == models.KindBug {
		sessionType = models.SessionBugfix
	}

	return Decision{
		Type:    sessionType,
		ItemIDs: ids,
		Branch:  BranchFor(lead),
	}
}

// BranchFor returns the deterministic branch name for a batch led by the
// given item.
func BranchFor(lead models.WorkItem) string {
	switch lead.Kind {
	case models.KindBug:
		return "bugfix/" + lead.ID
	case models.KindDebt:
		return "debt/" + lead.ID
	default:
		return "feature/" + lead.ID
	}
}
