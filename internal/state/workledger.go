package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/tandem/pkg/models"
)

// ItemSpec describes a work item to append. The ledger assigns the ID.
type ItemSpec struct {
	Kind        models.Kind
	Priority    int
	Category    string
	Name        string
	Description string
	Steps       []string
	Source      string
}

// ItemFilter narrows ListItems. Nil fields match everything.
type ItemFilter struct {
	Kind     models.Kind
	Passes   *bool
	Category string
}

// Stats summarizes the work ledger.
type Stats struct {
	Total   int
	Passing int
	Pending int
	ByKind  map[models.Kind]int
}

// Checkout records a batch handed to an implementation session. A checkout
// with a nil ReleasedAt holds its items out of candidate selection.
type Checkout struct {
	Token      string
	ItemIDs    []string
	Branch     string
	CreatedAt  time.Time
	ReleasedAt *time.Time
}

// AppendItems adds new work items to the ledger, assigning sequential IDs
// per kind. ID allocation and the inserts happen in one transaction, so a
// crash cannot burn an ID without a matching row.
func (db *DB) AppendItems(specs []ItemSpec) ([]models.WorkItem, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	var items []models.WorkItem
	err := db.Transaction(func(tx *sql.Tx) error {
		var err error
		items, err = appendItemsTx(tx, specs, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// appendItemsTx allocates IDs and inserts the items inside an open
// transaction.
func appendItemsTx(tx *sql.Tx, specs []ItemSpec, now time.Time) ([]models.WorkItem, error) {
	items := make([]models.WorkItem, 0, len(specs))
	for _, spec := range specs {
		if !spec.Kind.Valid() {
			return nil, fmt.Errorf("invalid item kind %q", spec.Kind)
		}
		if strings.TrimSpace(spec.Name) == "" {
			return nil, fmt.Errorf("item name must not be empty")
		}

		n, err := nextCounter(tx, spec.Kind)
		if err != nil {
			return nil, err
		}

		item := models.WorkItem{
			ID:          models.FormatID(spec.Kind, n),
			Kind:        spec.Kind,
			Priority:    spec.Priority,
			Category:    spec.Category,
			Name:        spec.Name,
			Description: spec.Description,
			Steps:       spec.Steps,
			Source:      spec.Source,
			CreatedAt:   now,
		}

		stepsJSON, err := json.Marshal(item.Steps)
		if err != nil {
			return nil, fmt.Errorf("marshal steps: %w", err)
		}

		_, err = tx.Exec(`
			INSERT INTO work_items (id, kind, priority, category, name, description, steps, passes, source, created_at, history)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, '[]')
		`, item.ID, string(item.Kind), item.Priority, item.Category, item.Name, item.Description, string(stepsJSON), item.Source, formatTime(now))
		if err != nil {
			return nil, fmt.Errorf("insert work item %s: %w", item.ID, err)
		}

		items = append(items, item)
	}
	return items, nil
}

// nextCounter returns the next sequence number for a kind and advances the
// counter. Counters only ever move forward.
func nextCounter(tx *sql.Tx, kind models.Kind) (int64, error) {
	var next int64
	err := tx.QueryRow("SELECT next FROM id_counters WHERE kind = ?", string(kind)).Scan(&next)
	if err == sql.ErrNoRows {
		next = 1
		if _, err := tx.Exec("INSERT INTO id_counters (kind, next) VALUES (?, 2)", string(kind)); err != nil {
			return 0, fmt.Errorf("create id counter: %w", err)
		}
		return next, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read id counter: %w", err)
	}
	if _, err := tx.Exec("UPDATE id_counters SET next = ? WHERE kind = ?", next+1, string(kind)); err != nil {
		return 0, fmt.Errorf("advance id counter: %w", err)
	}
	return next, nil
}

// NextItemID returns the ID the next appended item of a kind would receive.
// The counter is not advanced; only AppendItems consumes IDs.
func (db *DB) NextItemID(kind models.Kind) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("invalid item kind %q", kind)
	}
	var next int64
	err := db.QueryRow("SELECT next FROM id_counters WHERE kind = ?", string(kind)).Scan(&next)
	if err == sql.ErrNoRows {
		next = 1
	} else if err != nil {
		return "", fmt.Errorf("read id counter: %w", err)
	}
	return models.FormatID(kind, next), nil
}

// GetItem returns a single work item by ID.
func (db *DB) GetItem(id string) (*models.WorkItem, error) {
	row := db.QueryRow(`
		SELECT id, kind, priority, category, name, description, steps, passes, source, created_at, passed_at, failed_at, history
		FROM work_items WHERE id = ?
	`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("work item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get work item %s: %w", id, err)
	}
	return item, nil
}

// ListItems returns work items matching the filter, in candidate order:
// bugs before features before debt, then ascending priority, then ID.
func (db *DB) ListItems(filter ItemFilter) ([]models.WorkItem, error) {
	query := `
		SELECT id, kind, priority, category, name, description, steps, passes, source, created_at, passed_at, failed_at, history
		FROM work_items WHERE 1=1`
	var args []any

	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	if filter.Passes != nil {
		query += " AND passes = ?"
		args = append(args, boolToInt(*filter.Passes))
	}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, filter.Category)
	}

	query += ` ORDER BY
		CASE kind WHEN 'bug' THEN 0 WHEN 'feature' THEN 1 ELSE 2 END,
		priority ASC, id ASC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	var items []models.WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// Stats returns aggregate counts over the ledger.
func (db *DB) Stats() (*Stats, error) {
	stats := &Stats{ByKind: make(map[models.Kind]int)}

	rows, err := db.Query("SELECT kind, passes, COUNT(*) FROM work_items GROUP BY kind, passes")
	if err != nil {
		return nil, fmt.Errorf("ledger stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var passes, count int
		if err := rows.Scan(&kind, &passes, &count); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		stats.Total += count
		stats.ByKind[models.Kind(kind)] += count
		if passes != 0 {
			stats.Passing += count
		} else {
			stats.Pending += count
		}
	}
	return stats, rows.Err()
}

// NextCandidates returns up to limit pending items that are not held by an
// open checkout, in candidate order.
func (db *DB) NextCandidates(limit int) ([]models.WorkItem, error) {
	pending := false
	items, err := db.ListItems(ItemFilter{Passes: &pending})
	if err != nil {
		return nil, err
	}

	held, err := db.heldItems()
	if err != nil {
		return nil, err
	}

	var out []models.WorkItem
	for _, item := range items {
		if held[item.ID] {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// PlanBatch returns the item IDs the next batch should hold: the lead
// candidate plus same-kind items sharing its category, capped at max. Bugs
// are always worked alone, and cross-category items never ride along. Both
// SelectBatch and the orchestrator's work selection go through here, so the
// grouping heuristic has exactly one definition.
func PlanBatch(candidates []models.WorkItem, max int) []string {
	if len(candidates) == 0 {
		return nil
	}

	lead := candidates[0]
	ids := []string{lead.ID}
	if lead.Kind == models.KindBug {
		return ids
	}
	for _, c := range candidates[1:] {
		if len(ids) >= max {
			break
		}
		if c.Kind == lead.Kind && c.Category == lead.Category {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// SelectBatch checks out the next batch of up to max pending items and
// returns the checkout.
func (db *DB) SelectBatch(max int, branch string) (*Checkout, error) {
	if max < 1 {
		return nil, fmt.Errorf("batch of %d: %w", max, ErrBatchSize)
	}

	candidates, err := db.NextCandidates(0)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no pending items: %w", ErrNotFound)
	}

	return db.CheckoutItems(PlanBatch(candidates, max), branch, max)
}

// CheckoutItems checks out an explicit set of item IDs. The batch must hold
// 1..max items of a single kind, none passing and none already held by an
// open checkout.
func (db *DB) CheckoutItems(ids []string, branch string, max int) (*Checkout, error) {
	if len(ids) < 1 || len(ids) > max {
		return nil, fmt.Errorf("batch of %d: %w", len(ids), ErrBatchSize)
	}

	held, err := db.heldItems()
	if err != nil {
		return nil, err
	}

	var kind models.Kind
	for i, id := range ids {
		item, err := db.GetItem(id)
		if err != nil {
			return nil, err
		}
		if item.Passes {
			return nil, fmt.Errorf("work item %s: %w", id, ErrAlreadyPassing)
		}
		if held[id] {
			return nil, fmt.Errorf("work item %s: %w", id, ErrCheckedOut)
		}
		if i == 0 {
			kind = item.Kind
		} else if item.Kind != kind {
			return nil, fmt.Errorf("work item %s: %w", id, ErrKindMismatch)
		}
	}

	checkout := &Checkout{
		Token:     uuid.New().String(),
		ItemIDs:   ids,
		Branch:    branch,
		CreatedAt: time.Now().UTC(),
	}

	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("marshal checkout items: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO checkouts (token, item_ids, branch, created_at) VALUES (?, ?, ?, ?)
	`, checkout.Token, string(idsJSON), branch, formatTime(checkout.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("record checkout: %w", err)
	}
	return checkout, nil
}

// ReleaseBatch closes a checkout, returning its unfinished items to the
// candidate pool. Releasing an already-released checkout is a no-op.
func (db *DB) ReleaseBatch(token string) error {
	res, err := db.Exec(`
		UPDATE checkouts SET released_at = ? WHERE token = ? AND released_at IS NULL
	`, formatTime(time.Now().UTC()), token)
	if err != nil {
		return fmt.Errorf("release checkout: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release checkout: %w", err)
	}
	if n == 0 {
		var exists int
		if err := db.QueryRow("SELECT COUNT(*) FROM checkouts WHERE token = ?", token).Scan(&exists); err != nil {
			return fmt.Errorf("release checkout: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("checkout %s: %w", token, ErrNotFound)
		}
	}
	return nil
}

// ReleaseBranch closes every open checkout on a branch. Used when a review
// resolves the branch one way or the other.
func (db *DB) ReleaseBranch(branch string) error {
	return db.Transaction(func(tx *sql.Tx) error {
		return releaseBranchTx(tx, branch)
	})
}

func releaseBranchTx(tx *sql.Tx, branch string) error {
	_, err := tx.Exec(`
		UPDATE checkouts SET released_at = ? WHERE branch = ? AND released_at IS NULL
	`, formatTime(time.Now().UTC()), branch)
	if err != nil {
		return fmt.Errorf("release branch %s: %w", branch, err)
	}
	return nil
}

// OpenCheckouts returns all checkouts that have not been released.
func (db *DB) OpenCheckouts() ([]Checkout, error) {
	rows, err := db.Query(`
		SELECT token, item_ids, branch, created_at, released_at
		FROM checkouts WHERE released_at IS NULL ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list open checkouts: %w", err)
	}
	defer rows.Close()

	var checkouts []Checkout
	for rows.Next() {
		var c Checkout
		var idsJSON string
		var branch, released sql.NullString
		var created string
		if err := rows.Scan(&c.Token, &idsJSON, &branch, &created, &released); err != nil {
			return nil, fmt.Errorf("scan checkout: %w", err)
		}
		if err := json.Unmarshal([]byte(idsJSON), &c.ItemIDs); err != nil {
			return nil, fmt.Errorf("unmarshal checkout items: %w", err)
		}
		c.Branch = branch.String
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parse checkout time: %w", err)
		}
		c.ReleasedAt = parseNullableTime(released)
		checkouts = append(checkouts, c)
	}
	return checkouts, rows.Err()
}

// heldItems returns the set of item IDs held by open checkouts.
func (db *DB) heldItems() (map[string]bool, error) {
	checkouts, err := db.OpenCheckouts()
	if err != nil {
		return nil, err
	}
	held := make(map[string]bool)
	for _, c := range checkouts {
		for _, id := range c.ItemIDs {
			held[id] = true
		}
	}
	return held, nil
}

// MarkPassing records that an item's acceptance steps now pass. Marking an
// already-passing item is an error so double-completion surfaces instead of
// being silently absorbed.
func (db *DB) MarkPassing(id string) error {
	return db.Transaction(func(tx *sql.Tx) error {
		return markPassingTx(tx, id)
	})
}

// markPassingTx flips an item to passing inside an open transaction.
func markPassingTx(tx *sql.Tx, id string) error {
	passes, history, err := itemState(tx, id)
	if err != nil {
		return err
	}
	if passes {
		return fmt.Errorf("work item %s: %w", id, ErrAlreadyPassing)
	}

	now := time.Now().UTC()
	history = append(history, fmt.Sprintf("%s passed", formatTime(now)))
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE work_items SET passes = 1, passed_at = ?, history = ? WHERE id = ?
	`, formatTime(now), string(historyJSON), id)
	if err != nil {
		return fmt.Errorf("mark %s passing: %w", id, err)
	}
	return nil
}

// MarkFailing records a regression against a previously-passing item,
// returning it to the candidate pool. The reason is mandatory and is kept
// in the item's history.
func (db *DB) MarkFailing(id, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("work item %s: %w", id, ErrEmptyReason)
	}

	return db.Transaction(func(tx *sql.Tx) error {
		passes, history, err := itemState(tx, id)
		if err != nil {
			return err
		}
		if !passes {
			return fmt.Errorf("work item %s: %w", id, ErrNotPassing)
		}

		now := time.Now().UTC()
		history = append(history, fmt.Sprintf("%s failed: %s", formatTime(now), reason))
		historyJSON, err := json.Marshal(history)
		if err != nil {
			return fmt.Errorf("marshal history: %w", err)
		}

		_, err = tx.Exec(`
			UPDATE work_items SET passes = 0, failed_at = ?, history = ? WHERE id = ?
		`, formatTime(now), string(historyJSON), id)
		if err != nil {
			return fmt.Errorf("mark %s failing: %w", id, err)
		}
		return nil
	})
}

// itemState reads the pass flag and history of an item inside a transaction.
func itemState(tx *sql.Tx, id string) (bool, []string, error) {
	var passes int
	var historyJSON sql.NullString
	err := tx.QueryRow("SELECT passes, history FROM work_items WHERE id = ?", id).Scan(&passes, &historyJSON)
	if err == sql.ErrNoRows {
		return false, nil, fmt.Errorf("work item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return false, nil, fmt.Errorf("read work item %s: %w", id, err)
	}

	var history []string
	if historyJSON.Valid && historyJSON.String != "" {
		if err := json.Unmarshal([]byte(historyJSON.String), &history); err != nil {
			return false, nil, fmt.Errorf("unmarshal history: %w", err)
		}
	}
	return passes != 0, history, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*models.WorkItem, error) {
	var item models.WorkItem
	var kind string
	var category, description, stepsJSON, source, historyJSON sql.NullString
	var passes int
	var created string
	var passedAt, failedAt sql.NullString

	err := row.Scan(&item.ID, &kind, &item.Priority, &category, &item.Name, &description,
		&stepsJSON, &passes, &source, &created, &passedAt, &failedAt, &historyJSON)
	if err != nil {
		return nil, err
	}

	item.Kind = models.Kind(kind)
	item.Category = category.String
	item.Description = description.String
	item.Passes = passes != 0
	item.Source = source.String
	if item.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	item.PassedAt = parseNullableTime(passedAt)
	item.FailedAt = parseNullableTime(failedAt)

	if stepsJSON.Valid && stepsJSON.String != "" {
		if err := json.Unmarshal([]byte(stepsJSON.String), &item.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}
	}
	if historyJSON.Valid && historyJSON.String != "" {
		if err := json.Unmarshal([]byte(historyJSON.String), &item.History); err != nil {
			return nil, fmt.Errorf("unmarshal history: %w", err)
		}
	}
	return &item, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
