package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/tandem/pkg/models"
)

// AddReview appends a review record. The review ID is assigned here; callers
// hand in the record with ReviewID zero.
func (db *DB) AddReview(review *models.Review) (*models.Review, error) {
	if err := review.Validate(); err != nil {
		return nil, err
	}

	err := db.Transaction(func(tx *sql.Tx) error {
		return insertReview(tx, review)
	})
	if err != nil {
		return nil, err
	}
	return review, nil
}

// ApplyReview records a review together with its ledger effects in one
// transaction: the named items are marked passing, the debt specs are
// appended, and the branch's open checkouts are released when release is
// set. A failure rolls back the whole settlement, so the ledger can never
// hold a review whose effects were only partially applied.
func (db *DB) ApplyReview(review *models.Review, passing []string, debt []ItemSpec, release bool) (*models.Review, error) {
	if err := review.Validate(); err != nil {
		return nil, err
	}

	err := db.Transaction(func(tx *sql.Tx) error {
		if err := insertReview(tx, review); err != nil {
			return err
		}
		for _, id := range passing {
			if err := markPassingTx(tx, id); err != nil {
				return fmt.Errorf("apply approval: %w", err)
			}
		}
		if len(debt) > 0 {
			if _, err := appendItemsTx(tx, debt, time.Now().UTC()); err != nil {
				return fmt.Errorf("carry forward debt: %w", err)
			}
		}
		if release {
			return releaseBranchTx(tx, review.Branch)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return review, nil
}

// insertReview assigns the next review ID and writes the row inside an
// open transaction.
func insertReview(tx *sql.Tx, review *models.Review) error {
	var max sql.NullInt64
	if err := tx.QueryRow("SELECT MAX(review_id) FROM reviews").Scan(&max); err != nil {
		return fmt.Errorf("next review id: %w", err)
	}
	review.ReviewID = max.Int64 + 1
	if review.CreatedAt.IsZero() {
		review.CreatedAt = time.Now().UTC()
	}

	idsJSON, err := json.Marshal(review.ItemIDs)
	if err != nil {
		return fmt.Errorf("marshal item ids: %w", err)
	}
	issuesJSON, err := json.Marshal(review.Issues)
	if err != nil {
		return fmt.Errorf("marshal issues: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO reviews (review_id, agent_type, item_ids, branch, verdict, forced,
			issues, summary, commit_from, commit_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, review.ReviewID, string(review.AgentType), string(idsJSON), review.Branch,
		string(review.Verdict), boolToInt(review.Forced), string(issuesJSON), review.Summary,
		review.CommitRange.From, review.CommitRange.To, formatTime(review.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert review %d: %w", review.ReviewID, err)
	}
	return nil
}

// AddFix appends a fix record against an existing review.
func (db *DB) AddFix(fix *models.Fix) (*models.Fix, error) {
	if err := fix.Validate(); err != nil {
		return nil, err
	}

	err := db.Transaction(func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow("SELECT COUNT(*) FROM reviews WHERE review_id = ?", fix.ReviewID).Scan(&exists); err != nil {
			return fmt.Errorf("check review: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("review %d: %w", fix.ReviewID, ErrNotFound)
		}

		var max sql.NullInt64
		if err := tx.QueryRow("SELECT MAX(fix_id) FROM fixes").Scan(&max); err != nil {
			return fmt.Errorf("next fix id: %w", err)
		}
		fix.FixID = max.Int64 + 1
		if fix.CreatedAt.IsZero() {
			fix.CreatedAt = time.Now().UTC()
		}

		idsJSON, err := json.Marshal(fix.ItemIDs)
		if err != nil {
			return fmt.Errorf("marshal item ids: %w", err)
		}
		fixedJSON, err := json.Marshal(fix.IssuesFixed)
		if err != nil {
			return fmt.Errorf("marshal issues fixed: %w", err)
		}
		deferredJSON, err := json.Marshal(fix.IssuesDeferred)
		if err != nil {
			return fmt.Errorf("marshal issues deferred: %w", err)
		}
		testsJSON, err := json.Marshal(fix.TestsAdded)
		if err != nil {
			return fmt.Errorf("marshal tests added: %w", err)
		}

		_, err = tx.Exec(`
			INSERT INTO fixes (fix_id, review_id, item_ids, branch, issues_fixed,
				issues_deferred, tests_added, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, fix.FixID, fix.ReviewID, string(idsJSON), fix.Branch, string(fixedJSON),
			string(deferredJSON), string(testsJSON), formatTime(fix.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert fix %d: %w", fix.FixID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fix, nil
}

// GetReview returns a single review by ID.
func (db *DB) GetReview(id int64) (*models.Review, error) {
	row := db.QueryRow(reviewSelect+" WHERE review_id = ?", id)
	review, err := scanReview(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("review %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get review %d: %w", id, err)
	}
	return review, nil
}

// GetLastReview returns the most recent review, or ErrNotFound on an empty
// ledger.
func (db *DB) GetLastReview() (*models.Review, error) {
	row := db.QueryRow(reviewSelect + " ORDER BY review_id DESC LIMIT 1")
	review, err := scanReview(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("last review: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get last review: %w", err)
	}
	return review, nil
}

// ListReviews returns the most recent reviews, newest first. A limit of 0
// returns all of them.
func (db *DB) ListReviews(limit int) ([]models.Review, error) {
	query := reviewSelect + " ORDER BY review_id DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, *review)
	}
	return reviews, rows.Err()
}

// ListFixes returns the fixes recorded against a review, oldest first.
func (db *DB) ListFixes(reviewID int64) ([]models.Fix, error) {
	rows, err := db.Query(fixSelect+" WHERE review_id = ? ORDER BY fix_id ASC", reviewID)
	if err != nil {
		return nil, fmt.Errorf("list fixes: %w", err)
	}
	defer rows.Close()
	return collectFixes(rows)
}

// FixCount returns the number of fix attempts in the branch's current
// review chain. Branch names recur across cycles: every architecture
// review runs on the integration branch, and a rejected item re-enters on
// the same deterministic branch. Fixes recorded before the branch last
// settled belong to a finished chain and do not count. The count is always
// derived from the records; it is never cached.
func (db *DB) FixCount(branch string) (int, error) {
	chainStart, err := db.lastSettledReviewID(branch)
	if err != nil {
		return 0, err
	}

	var count int
	err = db.QueryRow(
		"SELECT COUNT(*) FROM fixes WHERE branch = ? AND review_id > ?",
		branch, chainStart,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("fix count for %s: %w", branch, err)
	}
	return count, nil
}

// lastSettledReviewID returns the ID of the most recent review that settled
// the branch, or zero when the branch has never settled.
func (db *DB) lastSettledReviewID(branch string) (int64, error) {
	rows, err := db.Query(
		"SELECT review_id, verdict, issues FROM reviews WHERE branch = ? ORDER BY review_id DESC",
		branch,
	)
	if err != nil {
		return 0, fmt.Errorf("review chain for %s: %w", branch, err)
	}
	defer rows.Close()

	for rows.Next() {
		var r models.Review
		var verdict string
		var issues sql.NullString
		if err := rows.Scan(&r.ReviewID, &verdict, &issues); err != nil {
			return 0, fmt.Errorf("scan review chain: %w", err)
		}
		r.Verdict = models.Verdict(verdict)
		if issues.Valid && issues.String != "" {
			if err := json.Unmarshal([]byte(issues.String), &r.Issues); err != nil {
				return 0, fmt.Errorf("unmarshal issues: %w", err)
			}
		}
		if r.Settles() {
			return r.ReviewID, nil
		}
	}
	return 0, rows.Err()
}

const reviewSelect = `
	SELECT review_id, agent_type, item_ids, branch, verdict, forced,
	       issues, summary, commit_from, commit_to, created_at
	FROM reviews`

const fixSelect = `
	SELECT fix_id, review_id, item_ids, branch, issues_fixed, issues_deferred, tests_added, created_at
	FROM fixes`

func scanReview(row rowScanner) (*models.Review, error) {
	var r models.Review
	var agentType, verdict string
	var ids, issues, commitFrom, commitTo sql.NullString
	var forced int
	var created string

	err := row.Scan(&r.ReviewID, &agentType, &ids, &r.Branch, &verdict, &forced,
		&issues, &r.Summary, &commitFrom, &commitTo, &created)
	if err != nil {
		return nil, err
	}

	r.AgentType = models.SessionType(agentType)
	r.Verdict = models.Verdict(verdict)
	r.Forced = forced != 0
	r.CommitRange = models.CommitRange{From: commitFrom.String, To: commitTo.String}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if ids.Valid && ids.String != "" {
		if err := json.Unmarshal([]byte(ids.String), &r.ItemIDs); err != nil {
			return nil, fmt.Errorf("unmarshal item ids: %w", err)
		}
	}
	if issues.Valid && issues.String != "" {
		if err := json.Unmarshal([]byte(issues.String), &r.Issues); err != nil {
			return nil, fmt.Errorf("unmarshal issues: %w", err)
		}
	}
	return &r, nil
}

func collectFixes(rows *sql.Rows) ([]models.Fix, error) {
	var fixes []models.Fix
	for rows.Next() {
		var f models.Fix
		var ids, fixed, deferred, tests sql.NullString
		var created string

		err := rows.Scan(&f.FixID, &f.ReviewID, &ids, &f.Branch, &fixed, &deferred, &tests, &created)
		if err != nil {
			return nil, fmt.Errorf("scan fix: %w", err)
		}
		if f.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		for _, pair := range []struct {
			src sql.NullString
			dst *[]string
		}{{ids, &f.ItemIDs}, {fixed, &f.IssuesFixed}, {deferred, &f.IssuesDeferred}, {tests, &f.TestsAdded}} {
			if pair.src.Valid && pair.src.String != "" {
				if err := json.Unmarshal([]byte(pair.src.String), pair.dst); err != nil {
					return nil, fmt.Errorf("unmarshal fix field: %w", err)
				}
			}
		}
		fixes = append(fixes, f)
	}
	return fixes, rows.Err()
}
