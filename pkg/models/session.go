package models

import (
	"fmt"
	"time"
)

// SessionType identifies which kind of agent session runs next.
type SessionType string

const (
	// SessionInit bootstraps a fresh project: generates the initial work ledger.
	SessionInit SessionType = "INIT"
	// SessionBrownfieldInit augments an existing project from freeform input.
	SessionBrownfieldInit SessionType = "BROWNFIELD_INIT"
	// SessionImplement implements one batch of feature items on a branch.
	SessionImplement SessionType = "IMPLEMENT"
	// SessionBugfix fixes one batch of bug items on a branch.
	SessionBugfix SessionType = "BUGFIX"
	// SessionReview reviews the current branch and records a verdict.
	SessionReview SessionType = "REVIEW"
	// SessionFix addresses issues from the last review.
	SessionFix SessionType = "FIX"
	// SessionArchitecture performs a periodic codebase-wide review.
	SessionArchitecture SessionType = "ARCHITECTURE"
)

// Valid returns true if the session type is a known value.
func (s SessionType) Valid() bool {
	switch s {
	case SessionInit, SessionBrownfieldInit, SessionImplement, SessionBugfix,
		SessionReview, SessionFix, SessionArchitecture:
		return true
	default:
		return false
	}
}

// ParseSessionType converts a string into a SessionType, erroring on unknown values.
func ParseSessionType(s string) (SessionType, error) {
	st := SessionType(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown session type %q", s)
	}
	return st, nil
}

// Outcome is the declared result of a completed session.
type Outcome string

const (
	// OutcomeSuccess indicates the session completed its goal (init, fix, architecture).
	OutcomeSuccess Outcome = "SUCCESS"
	// OutcomeReadyForReview indicates implementation work is staged for review.
	OutcomeReadyForReview Outcome = "READY_FOR_REVIEW"
	// OutcomeApproved indicates a review session approved and merged the branch.
	OutcomeApproved Outcome = "APPROVED"
	// OutcomeRequestChanges indicates a review session found fixable issues.
	OutcomeRequestChanges Outcome = "REQUEST_CHANGES"
	// OutcomePassWithComments indicates a review passed with only minor issues.
	OutcomePassWithComments Outcome = "PASS_WITH_COMMENTS"
	// OutcomeReject indicates a review session discarded the branch.
	OutcomeReject Outcome = "REJECT"
	// OutcomeCannotReproduce indicates a bugfix session could not reproduce the
	// reported defect; the item needs human attention rather than another attempt.
	OutcomeCannotReproduce Outcome = "CANNOT_REPRODUCE"
	// OutcomeError indicates the session failed; progression halts until a
	// human intervenes.
	OutcomeError Outcome = "ERROR"
)

// Valid returns true if the outcome is a known value.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeReadyForReview, OutcomeApproved, OutcomeRequestChanges,
		OutcomePassWithComments, OutcomeReject, OutcomeCannotReproduce, OutcomeError:
		return true
	default:
		return false
	}
}

// Commit is an opaque commit descriptor recorded by a session.
type Commit struct {
	// Hash is the commit hash (short or long form).
	Hash string `json:"hash"`
	// Message is the first line of the commit message.
	Message string `json:"message,omitempty"`
}

// CommitRange marks the span of commits a session produced or reviewed.
type CommitRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// Session is one immutable entry in the progress log: a complete, stateless
// invocation of the work-execution agent.
type Session struct {
	// SessionID is the strictly increasing sequence number.
	SessionID int64 `json:"session_id"`
	// AgentType is the session type that ran.
	AgentType SessionType `json:"agent_type"`
	// StartedAt is when the session began.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is when the session finished.
	CompletedAt time.Time `json:"completed_at"`
	// Summary is the session's own description of what it did.
	Summary string `json:"summary"`
	// ItemsTouched lists the work item IDs the session worked on.
	ItemsTouched []string `json:"items_touched,omitempty"`
	// Outcome is the declared result.
	Outcome Outcome `json:"outcome"`
	// ReviewID links a REVIEW or ARCHITECTURE session to the verdict it
	// carried. Zero for every other session type.
	ReviewID int64 `json:"review_id,omitempty"`
	// CommitRange spans the commits produced by the session.
	CommitRange CommitRange `json:"commit_range"`
	// Commits lists the individual commits, oldest first.
	Commits []Commit `json:"commits,omitempty"`
}

// Validate checks the structural invariants of a session record.
func (s *Session) Validate() error {
	if !s.AgentType.Valid() {
		return fmt.Errorf("session: invalid agent type %q", s.AgentType)
	}
	if !s.Outcome.Valid() {
		return fmt.Errorf("session: invalid outcome %q", s.Outcome)
	}
	if s.Summary == "" {
		return fmt.Errorf("session: missing summary")
	}
	return nil
}

// Status is the single mutable snapshot in the progress log. Together with
// the last session record it is sufficient to decide what happens next.
type Status struct {
	// ProjectName identifies the work target.
	ProjectName string `json:"project_name"`
	// CurrentPhase is the next session type to run.
	CurrentPhase SessionType `json:"current_phase"`
	// CurrentItems are the work item IDs currently checked out (0..5).
	CurrentItems []string `json:"current_items,omitempty"`
	// CurrentBranch is the branch the current items are on.
	CurrentBranch string `json:"current_branch,omitempty"`
	// FeaturesCompleted counts approved-and-merged feature batches' items.
	FeaturesCompleted int `json:"features_completed"`
	// FeaturesPassing counts items currently marked passing.
	FeaturesPassing int `json:"features_passing"`
	// UpdatedAt is when the snapshot was last written.
	UpdatedAt time.Time `json:"updated_at"`
	// HeadCommit is the repository HEAD at the last update.
	HeadCommit string `json:"head_commit,omitempty"`
}
