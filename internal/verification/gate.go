// Package verification manages the per-session evidence bundle that gates
// review approval. Implementation sessions deposit evidence; the gate only
// reads it back and reports a status. Anything short of VERIFIED blocks
// approval.
package verification

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ShayCichocki/tandem/pkg/models"
)

const (
	inputFile  = "verification_input.json"
	reportFile = "verification.md"
)

// Gate reads and prepares evidence bundles under a base directory, one
// subdirectory per session.
type Gate struct {
	baseDir string
}

// NewGate creates a gate rooted at the given directory, typically
// <state dir>/verification.
func NewGate(baseDir string) *Gate {
	return &Gate{baseDir: baseDir}
}

// SessionDir returns the evidence directory for a session.
func (g *Gate) SessionDir(sessionID int64) string {
	return filepath.Join(g.baseDir, strconv.FormatInt(sessionID, 10))
}

// Input is the bundle manifest handed to the session that produces the
// evidence.
type Input struct {
	SessionID int64              `json:"session_id"`
	AgentType models.SessionType `json:"agent_type"`
	ItemIDs   []string           `json:"item_ids"`
	Items     []models.WorkItem  `json:"items,omitempty"`
	OutputDir string             `json:"output_dir"`
	CreatedAt time.Time          `json:"created_at"`
}

// Prepare creates the evidence directory layout for a session and writes
// its input manifest. Safe to call again for the same session on resume.
func (g *Gate) Prepare(sessionID int64, agentType models.SessionType, items []models.WorkItem) (*Input, error) {
	dir := g.SessionDir(sessionID)
	for _, sub := range []string{"", "screenshots", "test_evidence"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create verification dir: %w", err)
		}
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}

	input := &Input{
		SessionID: sessionID,
		AgentType: agentType,
		ItemIDs:   ids,
		Items:     items,
		OutputDir: dir,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal verification input: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, inputFile), data, 0644); err != nil {
		return nil, fmt.Errorf("write verification input: %w", err)
	}
	return input, nil
}

// StatusFor reports the evidence status for a session by parsing the Status
// marker in its verification.md. A prepared bundle without a report is
// IN_PROGRESS; an absent bundle is NOT_STARTED.
func (g *Gate) StatusFor(sessionID int64) (models.VerificationStatus, error) {
	dir := g.SessionDir(sessionID)

	content, err := os.ReadFile(filepath.Join(dir, reportFile))
	if os.IsNotExist(err) {
		if _, statErr := os.Stat(filepath.Join(dir, inputFile)); statErr == nil {
			return models.VerificationInProgress, nil
		}
		return models.VerificationNotStarted, nil
	}
	if err != nil {
		return "", fmt.Errorf("read verification report: %w", err)
	}

	return parseStatus(string(content)), nil
}

// parseStatus extracts the status marker from a verification report. An
// unmarked report counts as INCOMPLETE, never as verified.
func parseStatus(content string) models.VerificationStatus {
	switch {
	case strings.Contains(content, "**Status:** VERIFIED"):
		return models.VerificationVerified
	case strings.Contains(content, "**Status:** NOT_VERIFIED"):
		return models.VerificationNotVerified
	default:
		return models.VerificationIncomplete
	}
}

// Record summarizes one session's evidence bundle.
type Record struct {
	SessionID   int64
	Status      models.VerificationStatus
	Screenshots int
}

// List returns a record per prepared bundle, ordered by session ID.
func (g *Gate) List() ([]Record, error) {
	entries, err := os.ReadDir(g.baseDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read verification dir: %w", err)
	}

	var records []Record
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sessionID, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil {
			continue
		}
		status, err := g.StatusFor(sessionID)
		if err != nil {
			return nil, err
		}
		records = append(records, Record{
			SessionID:   sessionID,
			Status:      status,
			Screenshots: countScreenshots(filepath.Join(g.baseDir, entry.Name(), "screenshots")),
		})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].SessionID < records[j].SessionID })
	return records, nil
}

func countScreenshots(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(strings.ToLower(entry.Name()), ".png") {
			count++
		}
	}
	return count
}
