package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/tandem/pkg/models"
)

// InitProgress creates the status singleton for a fresh work target. The
// first phase is INIT for greenfield targets and BROWNFIELD_INIT when
// augmenting an existing codebase.
func (db *DB) InitProgress(projectName string, brownfield bool) (*models.Status, error) {
	phase := models.SessionInit
	if brownfield {
		phase = models.SessionBrownfieldInit
	}

	status := &models.Status{
		ProjectName:  projectName,
		CurrentPhase: phase,
		UpdatedAt:    time.Now().UTC(),
	}

	err := db.Transaction(func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRow("SELECT COUNT(*) FROM status").Scan(&count); err != nil {
			return fmt.Errorf("check status: %w", err)
		}
		if count > 0 {
			return ErrAlreadyInitialized
		}
		return writeStatus(tx, status)
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// GetStatus returns the current status snapshot.
func (db *DB) GetStatus() (*models.Status, error) {
	row := db.QueryRow(`
		SELECT project_name, current_phase, current_items, current_branch,
		       features_completed, features_passing, updated_at, head_commit
		FROM status WHERE id = 1
	`)

	var status models.Status
	var phase string
	var items, branch, head sql.NullString
	var updated string

	err := row.Scan(&status.ProjectName, &phase, &items, &branch,
		&status.FeaturesCompleted, &status.FeaturesPassing, &updated, &head)
	if err == sql.ErrNoRows {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}

	status.CurrentPhase = models.SessionType(phase)
	status.CurrentBranch = branch.String
	status.HeadCommit = head.String
	if items.Valid && items.String != "" {
		if err := json.Unmarshal([]byte(items.String), &status.CurrentItems); err != nil {
			return nil, fmt.Errorf("unmarshal current items: %w", err)
		}
	}
	if status.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse status time: %w", err)
	}
	return &status, nil
}

// writeStatus upserts the status singleton inside a transaction.
func writeStatus(tx *sql.Tx, status *models.Status) error {
	itemsJSON, err := json.Marshal(status.CurrentItems)
	if err != nil {
		return fmt.Errorf("marshal current items: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO status (id, project_name, current_phase, current_items, current_branch,
			features_completed, features_passing, updated_at, head_commit)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_name = excluded.project_name,
			current_phase = excluded.current_phase,
			current_items = excluded.current_items,
			current_branch = excluded.current_branch,
			features_completed = excluded.features_completed,
			features_passing = excluded.features_passing,
			updated_at = excluded.updated_at,
			head_commit = excluded.head_commit
	`, status.ProjectName, string(status.CurrentPhase), string(itemsJSON), status.CurrentBranch,
		status.FeaturesCompleted, status.FeaturesPassing, formatTime(status.UpdatedAt), status.HeadCommit)
	if err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

// NextSessionID returns the ID the next appended session will receive.
func (db *DB) NextSessionID() (int64, error) {
	var max sql.NullInt64
	if err := db.QueryRow("SELECT MAX(session_id) FROM sessions").Scan(&max); err != nil {
		return 0, fmt.Errorf("next session id: %w", err)
	}
	return max.Int64 + 1, nil
}

// AppendSession records a completed session and replaces the status snapshot
// in a single transaction. The session ID is assigned here, so callers hand
// in the record with SessionID zero. The status carries its previous project
// name forward when the caller leaves it empty.
func (db *DB) AppendSession(session *models.Session, status *models.Status) (*models.Session, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}

	err := db.Transaction(func(tx *sql.Tx) error {
		var prevName sql.NullString
		err := tx.QueryRow("SELECT project_name FROM status WHERE id = 1").Scan(&prevName)
		if err == sql.ErrNoRows {
			return ErrNotInitialized
		}
		if err != nil {
			return fmt.Errorf("read status: %w", err)
		}
		if status.ProjectName == "" {
			status.ProjectName = prevName.String
		}

		var max sql.NullInt64
		if err := tx.QueryRow("SELECT MAX(session_id) FROM sessions").Scan(&max); err != nil {
			return fmt.Errorf("next session id: %w", err)
		}
		session.SessionID = max.Int64 + 1

		itemsJSON, err := json.Marshal(session.ItemsTouched)
		if err != nil {
			return fmt.Errorf("marshal items touched: %w", err)
		}
		commitsJSON, err := json.Marshal(session.Commits)
		if err != nil {
			return fmt.Errorf("marshal commits: %w", err)
		}

		_, err = tx.Exec(`
			INSERT INTO sessions (session_id, agent_type, started_at, completed_at, summary,
				items_touched, outcome, review_id, commit_from, commit_to, commits)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, session.SessionID, string(session.AgentType), formatTime(session.StartedAt),
			formatTime(session.CompletedAt), session.Summary, string(itemsJSON),
			string(session.Outcome), session.ReviewID, session.CommitRange.From,
			session.CommitRange.To, string(commitsJSON))
		if err != nil {
			return fmt.Errorf("insert session %d: %w", session.SessionID, err)
		}

		status.UpdatedAt = time.Now().UTC()
		return writeStatus(tx, status)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession returns a single session by ID.
func (db *DB) GetSession(id int64) (*models.Session, error) {
	row := db.QueryRow(sessionSelect+" WHERE session_id = ?", id)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %d: %w", id, err)
	}
	return session, nil
}

// GetLastSession returns the most recent session, or ErrNotFound if the log
// is empty.
func (db *DB) GetLastSession() (*models.Session, error) {
	row := db.QueryRow(sessionSelect + " ORDER BY session_id DESC LIMIT 1")
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("last session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get last session: %w", err)
	}
	return session, nil
}

// ListSessions returns the most recent sessions, newest first. A limit of 0
// returns all of them.
func (db *DB) ListSessions(limit int) ([]models.Session, error) {
	query := sessionSelect + " ORDER BY session_id DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// ReviewConsumed reports whether any recorded session already carries the
// given review's verdict.
func (db *DB) ReviewConsumed(reviewID int64) (bool, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sessions WHERE review_id = ?", reviewID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check review %d consumption: %w", reviewID, err)
	}
	return count > 0, nil
}

const sessionSelect = `
	SELECT session_id, agent_type, started_at, completed_at, summary,
	       items_touched, outcome, review_id, commit_from, commit_to, commits
	FROM sessions`

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	var agentType, outcome string
	var started, completed string
	var items, commitFrom, commitTo, commits sql.NullString

	err := row.Scan(&s.SessionID, &agentType, &started, &completed, &s.Summary,
		&items, &outcome, &s.ReviewID, &commitFrom, &commitTo, &commits)
	if err != nil {
		return nil, err
	}

	s.AgentType = models.SessionType(agentType)
	s.Outcome = models.Outcome(outcome)
	s.CommitRange = models.CommitRange{From: commitFrom.String, To: commitTo.String}
	if s.StartedAt, err = parseTime(started); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if s.CompletedAt, err = parseTime(completed); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}
	if items.Valid && items.String != "" {
		if err := json.Unmarshal([]byte(items.String), &s.ItemsTouched); err != nil {
			return nil, fmt.Errorf("unmarshal items touched: %w", err)
		}
	}
	if commits.Valid && commits.String != "" {
		if err := json.Unmarshal([]byte(commits.String), &s.Commits); err != nil {
			return nil, fmt.Errorf("unmarshal commits: %w", err)
		}
	}
	return &s, nil
}
