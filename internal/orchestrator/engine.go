package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ShayCichocki/tandem/internal/runner"
	"github.com/ShayCichocki/tandem/internal/state"
	"github.com/ShayCichocki/tandem/internal/verification"
	"github.com/ShayCichocki/tandem/pkg/models"
)

// Engine runs the session loop: decide, invoke the runner, record, repeat.
// Exactly one session is in flight at a time; every durable effect goes
// through the state package, so killing the process anywhere leaves a
// resumable store.
type Engine struct {
	DB     *state.DB
	Gate   *verification.Gate
	Runner runner.Runner
	Policy Policy
	// SessionTimeout bounds one runner invocation. A session that overruns
	// it is recorded with an ERROR outcome.
	SessionTimeout time.Duration
	// MaxIterations caps loop iterations per Run call. Zero means no cap.
	MaxIterations int
	// WorkDir is the repository the agent operates in.
	WorkDir string
	// StateDir holds session reports and logs.
	StateDir string
	// ProjectBrief is handed to INIT and BROWNFIELD_INIT sessions.
	ProjectBrief string
	// Models optionally overrides the model per session type.
	Models map[models.SessionType]string
	Logger *DebugLogger
}

// ErrSessionFailed is returned when a session ends in ERROR; the loop stops
// and waits for human intervention instead of retrying.
var ErrSessionFailed = errors.New("session ended in ERROR")

// Run executes sessions until there is no work left, a session fails, or
// the iteration cap is reached.
func (e *Engine) Run(ctx context.Context) error {
	for i := 0; e.MaxIterations == 0 || i < e.MaxIterations; i++ {
		halted, err := e.Step(ctx)
		if err != nil {
			return err
		}
		if halted {
			return nil
		}
	}
	e.Logger.Log("iteration cap (%d) reached", e.MaxIterations)
	return nil
}

// Step runs a single session. It returns true when the loop should stop
// without error: no pending work, or an outcome that needs human triage.
func (e *Engine) Step(ctx context.Context) (bool, error) {
	in, err := e.loadInputs()
	if err != nil {
		return false, err
	}

	decision, err := DecideNext(e.Policy, in)
	if err != nil {
		return false, err
	}
	if decision.Halt {
		e.Logger.Log("halt: %s", decision.Reason)
		return true, nil
	}

	// A verdict recorded by the review agent may already be on the ledger
	// if the previous process died before the session was appended. The
	// ledger is settled, so re-running the agent would only trip over it;
	// the verdict is folded into the log instead.
	adopted, err := e.settledReviewFor(decision, in)
	if err != nil {
		return false, err
	}
	if adopted != nil {
		return false, e.recordAdoptedReview(in, decision, adopted)
	}

	sessionID, err := e.DB.NextSessionID()
	if err != nil {
		return false, err
	}
	e.Logger.Log("session %d: %s items=%v branch=%s", sessionID, decision.Type, decision.ItemIDs, decision.Branch)

	items, err := e.loadItems(decision.ItemIDs)
	if err != nil {
		return false, err
	}

	if decision.Type == models.SessionImplement || decision.Type == models.SessionBugfix {
		if err := e.ensureCheckout(decision); err != nil {
			return false, err
		}
	}

	req, err := e.buildRequest(sessionID, decision, items, in)
	if err != nil {
		return false, err
	}

	started := time.Now().UTC()
	result := e.invoke(ctx, req)
	completed := time.Now().UTC()

	session := &models.Session{
		AgentType:    decision.Type,
		StartedAt:    started,
		CompletedAt:  completed,
		Summary:      result.Summary,
		ItemsTouched: result.ItemsTouched,
		Outcome:      result.Outcome,
		CommitRange:  result.CommitRange,
		Commits:      result.Commits,
	}
	if len(session.ItemsTouched) == 0 {
		session.ItemsTouched = decision.ItemIDs
	}

	review, err := e.reviewProduced(decision, session, started)
	if err != nil {
		return false, err
	}

	nextStatus, err := e.nextStatus(in.Status, session, review)
	if err != nil {
		return false, err
	}

	if _, err := e.DB.AppendSession(session, nextStatus); err != nil {
		return false, err
	}

	switch session.Outcome {
	case models.OutcomeError:
		return true, fmt.Errorf("%w: session %d: %s", ErrSessionFailed, session.SessionID, session.Summary)
	case models.OutcomeCannotReproduce:
		e.Logger.Log("session %d could not reproduce the defect; stopping for triage", session.SessionID)
		return true, nil
	}
	return false, nil
}

// loadInputs assembles the decision function's inputs from the store.
func (e *Engine) loadInputs() (Inputs, error) {
	status, err := e.DB.GetStatus()
	if err != nil {
		return Inputs{}, err
	}

	lastSession, err := e.DB.GetLastSession()
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return Inputs{}, err
	}
	lastReview, err := e.DB.GetLastReview()
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return Inputs{}, err
	}
	candidates, err := e.DB.NextCandidates(0)
	if err != nil {
		return Inputs{}, err
	}

	return Inputs{
		Status:      status,
		LastSession: lastSession,
		LastReview:  lastReview,
		Candidates:  candidates,
	}, nil
}

func (e *Engine) loadItems(ids []string) ([]models.WorkItem, error) {
	items := make([]models.WorkItem, 0, len(ids))
	for _, id := range ids {
		item, err := e.DB.GetItem(id)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}

// ensureCheckout holds the decided batch. On resume the batch may already
// be held from the interrupted attempt; that checkout is reused.
func (e *Engine) ensureCheckout(decision Decision) error {
	open, err := e.DB.OpenCheckouts()
	if err != nil {
		return err
	}
	for _, c := range open {
		if c.Branch == decision.Branch {
			return nil
		}
	}
	_, err = e.DB.CheckoutItems(decision.ItemIDs, decision.Branch, e.Policy.BatchSize)
	return err
}

func (e *Engine) buildRequest(sessionID int64, decision Decision, items []models.WorkItem, in Inputs) (runner.Request, error) {
	reportDir := filepath.Join(e.StateDir, "sessions", strconv.FormatInt(sessionID, 10))
	if err := os.MkdirAll(reportDir, 0755); err != nil {
		return runner.Request{}, fmt.Errorf("create session dir: %w", err)
	}
	reportPath := filepath.Join(reportDir, "report.json")

	var verificationDir string
	switch decision.Type {
	case models.SessionImplement, models.SessionBugfix, models.SessionFix:
		if _, err := e.Gate.Prepare(sessionID, decision.Type, items); err != nil {
			return runner.Request{}, err
		}
		verificationDir = e.Gate.SessionDir(sessionID)
	}

	fixCount, err := e.DB.FixCount(decision.Branch)
	if err != nil {
		return runner.Request{}, err
	}

	var review *models.Review
	if decision.Type == models.SessionFix {
		review = in.LastReview
	}

	instructions := runner.Instructions(runner.PromptInput{
		Type:            decision.Type,
		SessionID:       sessionID,
		Items:           items,
		Branch:          decision.Branch,
		ReportPath:      reportPath,
		VerificationDir: verificationDir,
		Review:          review,
		FixCount:        fixCount,
		RetryCeiling:    e.Policy.RetryCeiling,
		ProjectBrief:    e.ProjectBrief,
	})

	return runner.Request{
		SessionID:    sessionID,
		Type:         decision.Type,
		ItemIDs:      decision.ItemIDs,
		Branch:       decision.Branch,
		Instructions: instructions,
		WorkDir:      e.WorkDir,
		ReportPath:   reportPath,
		Model:        e.Models[decision.Type],
	}, nil
}

// invoke runs the session under the configured timeout. Runner failures and
// timeouts become ERROR outcomes so they are recorded like any session.
func (e *Engine) invoke(ctx context.Context, req runner.Request) *runner.Result {
	runCtx := ctx
	if e.SessionTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.SessionTimeout)
		defer cancel()
	}

	result, err := e.Runner.Run(runCtx, req)
	if err != nil {
		e.Logger.Log("session %d: runner error: %v", req.SessionID, err)
		return &runner.Result{
			Outcome: models.OutcomeError,
			Summary: fmt.Sprintf("session did not complete: %v", err),
		}
	}
	return result
}

// settledReviewFor returns the review already recorded for the decided
// branch but not yet carried by any session record. Non-review decisions
// and reviews consumed by an earlier session return nil.
func (e *Engine) settledReviewFor(decision Decision, in Inputs) (*models.Review, error) {
	if decision.Type != models.SessionReview && decision.Type != models.SessionArchitecture {
		return nil, nil
	}
	review := in.LastReview
	if review == nil || review.Branch != decision.Branch {
		return nil, nil
	}
	consumed, err := e.DB.ReviewConsumed(review.ReviewID)
	if err != nil {
		return nil, err
	}
	if consumed {
		return nil, nil
	}
	return review, nil
}

// recordAdoptedReview appends the session record a review session would
// have produced for an already-settled verdict.
func (e *Engine) recordAdoptedReview(in Inputs, decision Decision, review *models.Review) error {
	e.Logger.Log("adopting recorded %s verdict for %s", review.Verdict, review.Branch)

	now := time.Now().UTC()
	started := review.CreatedAt
	if started.After(now) {
		started = now
	}
	session := &models.Session{
		AgentType:    decision.Type,
		StartedAt:    started,
		CompletedAt:  now,
		Summary:      fmt.Sprintf("adopted recorded %s verdict for %s", review.Verdict, review.Branch),
		ItemsTouched: review.ItemIDs,
		Outcome:      outcomeForVerdict(review.Verdict),
		ReviewID:     review.ReviewID,
		CommitRange:  review.CommitRange,
	}

	nextStatus, err := e.nextStatus(in.Status, session, review)
	if err != nil {
		return err
	}
	_, err = e.DB.AppendSession(session, nextStatus)
	return err
}

func outcomeForVerdict(v models.Verdict) models.Outcome {
	switch v {
	case models.VerdictApprove:
		return models.OutcomeApproved
	case models.VerdictRequestChanges:
		return models.OutcomeRequestChanges
	case models.VerdictPassWithComments:
		return models.OutcomePassWithComments
	default:
		return models.OutcomeReject
	}
}

// reviewProduced fetches the review a REVIEW/ARCHITECTURE session recorded
// through the CLI. A review session that recorded nothing is downgraded to
// an ERROR outcome.
func (e *Engine) reviewProduced(decision Decision, session *models.Session, started time.Time) (*models.Review, error) {
	if decision.Type != models.SessionReview && decision.Type != models.SessionArchitecture {
		return nil, nil
	}
	if session.Outcome == models.OutcomeError {
		return nil, nil
	}

	review, err := e.DB.GetLastReview()
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			review = nil
		} else {
			return nil, err
		}
	}
	// Stored timestamps have second granularity, hence the truncation.
	if review == nil || review.Branch != decision.Branch || review.CreatedAt.Before(started.Truncate(time.Second)) {
		session.Outcome = models.OutcomeError
		session.Summary = fmt.Sprintf("review session recorded no verdict for %s; %s", decision.Branch, session.Summary)
		return nil, nil
	}
	session.ReviewID = review.ReviewID
	return review, nil
}

// nextStatus computes the snapshot to store alongside the session: updated
// counters plus the decided next step, so a resumed process re-issues
// exactly what this one would have run next.
func (e *Engine) nextStatus(prev *models.Status, session *models.Session, review *models.Review) (*models.Status, error) {
	next := *prev

	if review != nil && Approved(review) {
		for _, id := range review.ItemIDs {
			if kind, ok := models.KindForID(id); ok && kind == models.KindFeature {
				next.FeaturesCompleted++
			}
		}
	}

	stats, err := e.DB.Stats()
	if err != nil {
		return nil, err
	}
	next.FeaturesPassing = stats.Passing

	candidates, err := e.DB.NextCandidates(0)
	if err != nil {
		return nil, err
	}

	decision, err := DecideNext(e.Policy, Inputs{
		Status:      &next,
		LastSession: session,
		LastReview:  review,
		Candidates:  candidates,
	})
	if err != nil {
		return nil, err
	}

	if !decision.Halt {
		next.CurrentPhase = decision.Type
		next.CurrentItems = decision.ItemIDs
		next.CurrentBranch = decision.Branch
	} else {
		next.CurrentItems = nil
		next.CurrentBranch = ""
	}
	return &next, nil
}
