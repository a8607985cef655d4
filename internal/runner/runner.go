// Package runner invokes the external work-execution agent, one session at
// a time. The orchestrator hands it a fully rendered instruction set and
// waits for a structured report; the runner never interprets instruction
// content.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ShayCichocki/tandem/pkg/models"
)

// Request is the input to one session invocation.
type Request struct {
	// SessionID is the ID the session will be recorded under.
	SessionID int64
	// Type is the session type to run.
	Type models.SessionType
	// ItemIDs are the work items the session targets.
	ItemIDs []string
	// Branch is the branch the session works on.
	Branch string
	// Instructions is the rendered instruction text. Opaque to the runner.
	Instructions string
	// WorkDir is the repository the agent operates in.
	WorkDir string
	// ReportPath is where the agent must write its session report.
	ReportPath string
	// Model overrides the default model for this session, if set.
	Model string
}

// Result is the structured outcome of a session.
type Result struct {
	// Outcome is the session's declared result.
	Outcome models.Outcome `json:"outcome"`
	// ItemsTouched lists the work item IDs the session worked on.
	ItemsTouched []string `json:"items_touched,omitempty"`
	// Commits lists commits produced, oldest first.
	Commits []models.Commit `json:"commits,omitempty"`
	// CommitRange spans the produced commits.
	CommitRange models.CommitRange `json:"commit_range"`
	// Summary is the session's own description of what it did.
	Summary string `json:"summary"`
}

// Runner executes one session synchronously. Implementations must honor
// context cancellation; the orchestrator enforces the session timeout
// through the passed context.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// Logger receives session diagnostics. The orchestrator's debug logger
// satisfies it; a nil Logger disables logging.
type Logger interface {
	Log(format string, args ...interface{})
}

// readReport loads and validates the report the agent wrote. A missing or
// malformed report is a session failure, not a runner error, so the caller
// records it as an ERROR outcome instead of halting with a stack trace.
func readReport(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session report: %w", err)
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parse session report: %w", err)
	}
	if !result.Outcome.Valid() {
		return nil, fmt.Errorf("session report has invalid outcome %q", result.Outcome)
	}
	if result.Summary == "" {
		return nil, fmt.Errorf("session report has no summary")
	}
	return &result, nil
}

// errorResult wraps a failure as an ERROR outcome so the session still gets
// recorded in the progress log.
func errorResult(err error) *Result {
	return &Result{
		Outcome: models.OutcomeError,
		Summary: fmt.Sprintf("session failed: %v", err),
	}
}
