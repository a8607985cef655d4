package state

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ShayCichocki/tandem/pkg/models"
)

func seedItems(t *testing.T, db *DB, specs ...ItemSpec) []models.WorkItem {
	t.Helper()
	items, err := db.AppendItems(specs)
	if err != nil {
		t.Fatalf("AppendItems failed: %v", err)
	}
	return items
}

func TestAppendItemsAssignsSequentialIDs(t *testing.T) {
	db := setupTestDB(t)

	items := seedItems(t, db,
		ItemSpec{Kind: models.KindFeature, Name: "login form", Category: "auth"},
		ItemSpec{Kind: models.KindFeature, Name: "logout", Category: "auth"},
		ItemSpec{Kind: models.KindBug, Name: "crash on empty input"},
	)

	want := []string{"FEAT-001", "FEAT-002", "BUG-001"}
	for i, item := range items {
		if item.ID != want[i] {
			t.Errorf("item %d ID = %q, want %q", i, item.ID, want[i])
		}
	}

	// Counters survive across calls.
	more := seedItems(t, db, ItemSpec{Kind: models.KindFeature, Name: "profile page"})
	if more[0].ID != "FEAT-003" {
		t.Errorf("next feature ID = %q, want FEAT-003", more[0].ID)
	}
}

func TestNextItemIDPeeksWithoutAdvancing(t *testing.T) {
	db := setupTestDB(t)

	id, err := db.NextItemID(models.KindBug)
	if err != nil {
		t.Fatalf("NextItemID failed: %v", err)
	}
	if id != "BUG-001" {
		t.Errorf("fresh ledger next bug ID = %q, want BUG-001", id)
	}

	// Peeking does not consume the ID.
	again, err := db.NextItemID(models.KindBug)
	if err != nil {
		t.Fatalf("NextItemID failed: %v", err)
	}
	if again != "BUG-001" {
		t.Errorf("second peek = %q, want BUG-001", again)
	}

	seedItems(t, db, ItemSpec{Kind: models.KindBug, Name: "crash"})
	after, err := db.NextItemID(models.KindBug)
	if err != nil {
		t.Fatalf("NextItemID failed: %v", err)
	}
	if after != "BUG-002" {
		t.Errorf("next bug ID after append = %q, want BUG-002", after)
	}

	if _, err := db.NextItemID("widget"); err == nil {
		t.Error("expected error for invalid kind")
	}
}

func TestAppendItemsRejectsInvalid(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.AppendItems([]ItemSpec{{Kind: "widget", Name: "x"}}); err == nil {
		t.Error("expected error for invalid kind")
	}
	if _, err := db.AppendItems([]ItemSpec{{Kind: models.KindFeature, Name: "  "}}); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestGetItem(t *testing.T) {
	db := setupTestDB(t)
	seedItems(t, db, ItemSpec{
		Kind:        models.KindFeature,
		Name:        "search",
		Description: "full-text search over notes",
		Category:    "core",
		Priority:    2,
		Steps:       []string{"type a query", "see matching notes"},
	})

	item, err := db.GetItem("FEAT-001")
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if item.Name != "search" || item.Priority != 2 || len(item.Steps) != 2 {
		t.Errorf("unexpected item: %+v", item)
	}
	if item.Passes {
		t.Error("new item should not be passing")
	}

	if _, err := db.GetItem("FEAT-999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestNextCandidatesOrder(t *testing.T) {
	db := setupTestDB(t)
	seedItems(t, db,
		ItemSpec{Kind: models.KindFeature, Name: "f low", Priority: 1},
		ItemSpec{Kind: models.KindFeature, Name: "f high", Priority: 0},
		ItemSpec{Kind: models.KindDebt, Name: "cleanup", Priority: 0},
		ItemSpec{Kind: models.KindBug, Name: "broken save", Priority: 5},
	)

	candidates, err := db.NextCandidates(0)
	if err != nil {
		t.Fatalf("NextCandidates failed: %v", err)
	}

	// Bugs always rank first regardless of priority, then features by
	// priority, then debt.
	want := []string{"BUG-001", "FEAT-002", "FEAT-001", "DEBT-001"}
	if len(candidates) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(candidates), len(want))
	}
	for i, c := range candidates {
		if c.ID != want[i] {
			t.Errorf("candidate %d = %s, want %s", i, c.ID, want[i])
		}
	}
}

func TestNextCandidatesExcludesPassingAndHeld(t *testing.T) {
	db := setupTestDB(t)
	seedItems(t, db,
		ItemSpec{Kind: models.KindFeature, Name: "a"},
		ItemSpec{Kind: models.KindFeature, Name: "b"},
		ItemSpec{Kind: models.KindFeature, Name: "c"},
	)

	if err := db.MarkPassing("FEAT-001"); err != nil {
		t.Fatalf("MarkPassing failed: %v", err)
	}
	checkout, err := db.SelectBatch(1, "feature/FEAT-002")
	if err != nil {
		t.Fatalf("SelectBatch failed: %v", err)
	}

	candidates, err := db.NextCandidates(0)
	if err != nil {
		t.Fatalf("NextCandidates failed: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != "FEAT-003" {
		t.Errorf("candidates = %v, want [FEAT-003]", ids(candidates))
	}

	// Releasing the checkout returns its items to the pool.
	if err := db.ReleaseBatch(checkout.Token); err != nil {
		t.Fatalf("ReleaseBatch failed: %v", err)
	}
	candidates, err = db.NextCandidates(0)
	if err != nil {
		t.Fatalf("NextCandidates failed: %v", err)
	}
	if len(candidates) != 2 {
		t.Errorf("after release: candidates = %v, want 2", ids(candidates))
	}
}

func TestPlanBatch(t *testing.T) {
	feat := func(id, category string) models.WorkItem {
		return models.WorkItem{ID: id, Kind: models.KindFeature, Category: category}
	}
	bug := models.WorkItem{ID: "BUG-001", Kind: models.KindBug, Category: "core"}

	tests := []struct {
		name       string
		candidates []models.WorkItem
		max        int
		want       []string
	}{
		{"no candidates", nil, 3, nil},
		{"bug leads alone", []models.WorkItem{bug, feat("FEAT-001", "core")}, 3, []string{"BUG-001"}},
		{"same category rides along", []models.WorkItem{feat("FEAT-001", "core"), feat("FEAT-002", "core"), feat("FEAT-003", "ui")}, 3, []string{"FEAT-001", "FEAT-002"}},
		{"cap respected", []models.WorkItem{feat("FEAT-001", "core"), feat("FEAT-002", "core"), feat("FEAT-003", "core")}, 2, []string{"FEAT-001", "FEAT-002"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlanBatch(tt.candidates, tt.max); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("PlanBatch = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelectBatchGroupsByCategory(t *testing.T) {
	db := setupTestDB(t)
	seedItems(t, db,
		ItemSpec{Kind: models.KindFeature, Name: "a", Category: "auth"},
		ItemSpec{Kind: models.KindFeature, Name: "b", Category: "notes"},
		ItemSpec{Kind: models.KindFeature, Name: "c", Category: "auth"},
		ItemSpec{Kind: models.KindFeature, Name: "d", Category: "auth"},
	)

	checkout, err := db.SelectBatch(3, "feature/FEAT-001")
	if err != nil {
		t.Fatalf("SelectBatch failed: %v", err)
	}

	want := []string{"FEAT-001", "FEAT-003", "FEAT-004"}
	if len(checkout.ItemIDs) != len(want) {
		t.Fatalf("batch = %v, want %v", checkout.ItemIDs, want)
	}
	for i, id := range checkout.ItemIDs {
		if id != want[i] {
			t.Errorf("batch[%d] = %s, want %s", i, id, want[i])
		}
	}
}

func TestSelectBatchBugsGoAlone(t *testing.T) {
	db := setupTestDB(t)
	seedItems(t, db,
		ItemSpec{Kind: models.KindBug, Name: "bug one"},
		ItemSpec{Kind: models.KindBug, Name: "bug two"},
	)

	checkout, err := db.SelectBatch(3, "bugfix/BUG-001")
	if err != nil {
		t.Fatalf("SelectBatch failed: %v", err)
	}
	if len(checkout.ItemIDs) != 1 || checkout.ItemIDs[0] != "BUG-001" {
		t.Errorf("bug batch = %v, want [BUG-001]", checkout.ItemIDs)
	}
}

func TestCheckoutItemsValidation(t *testing.T) {
	db := setupTestDB(t)
	seedItems(t, db,
		ItemSpec{Kind: models.KindFeature, Name: "a"},
		ItemSpec{Kind: models.KindFeature, Name: "b"},
		ItemSpec{Kind: models.KindBug, Name: "c"},
	)
	if err := db.MarkPassing("FEAT-002"); err != nil {
		t.Fatalf("MarkPassing failed: %v", err)
	}

	tests := []struct {
		name    string
		ids     []string
		wantErr error
	}{
		{"mixed kinds", []string{"FEAT-001", "BUG-001"}, ErrKindMismatch},
		{"already passing", []string{"FEAT-002"}, ErrAlreadyPassing},
		{"unknown item", []string{"FEAT-099"}, ErrNotFound},
		{"empty batch", nil, ErrBatchSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := db.CheckoutItems(tt.ids, "feature/x", 3); !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckoutItems(%v) error = %v, want %v", tt.ids, err, tt.wantErr)
			}
		})
	}

	// A held item cannot be checked out twice.
	if _, err := db.CheckoutItems([]string{"FEAT-001"}, "feature/FEAT-001", 3); err != nil {
		t.Fatalf("CheckoutItems failed: %v", err)
	}
	if _, err := db.CheckoutItems([]string{"FEAT-001"}, "feature/again", 3); !errors.Is(err, ErrCheckedOut) {
		t.Errorf("expected ErrCheckedOut, got %v", err)
	}
}

func TestSelectBatchSizeValidation(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.SelectBatch(0, "x"); !errors.Is(err, ErrBatchSize) {
		t.Errorf("expected ErrBatchSize, got %v", err)
	}
}

func TestMarkPassing(t *testing.T) {
	db := setupTestDB(t)
	seedItems(t, db, ItemSpec{Kind: models.KindFeature, Name: "a"})

	if err := db.MarkPassing("FEAT-001"); err != nil {
		t.Fatalf("MarkPassing failed: %v", err)
	}

	item, err := db.GetItem("FEAT-001")
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if !item.Passes || item.PassedAt == nil {
		t.Errorf("item not marked passing: %+v", item)
	}
	if len(item.History) != 1 {
		t.Errorf("history = %v, want one entry", item.History)
	}

	// Passing twice is a rule violation, not a no-op.
	if err := db.MarkPassing("FEAT-001"); !errors.Is(err, ErrAlreadyPassing) {
		t.Errorf("expected ErrAlreadyPassing, got %v", err)
	}
}

func TestMarkFailing(t *testing.T) {
	db := setupTestDB(t)
	seedItems(t, db, ItemSpec{Kind: models.KindFeature, Name: "a"})

	// Cannot fail an item that never passed.
	if err := db.MarkFailing("FEAT-001", "regressed"); !errors.Is(err, ErrNotPassing) {
		t.Errorf("expected ErrNotPassing, got %v", err)
	}

	if err := db.MarkPassing("FEAT-001"); err != nil {
		t.Fatalf("MarkPassing failed: %v", err)
	}

	if err := db.MarkFailing("FEAT-001", ""); !errors.Is(err, ErrEmptyReason) {
		t.Errorf("expected ErrEmptyReason, got %v", err)
	}

	if err := db.MarkFailing("FEAT-001", "search returns stale results"); err != nil {
		t.Fatalf("MarkFailing failed: %v", err)
	}

	item, err := db.GetItem("FEAT-001")
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if item.Passes || item.FailedAt == nil {
		t.Errorf("item still passing after failure: %+v", item)
	}
	if len(item.History) != 2 {
		t.Errorf("history = %v, want pass and fail entries", item.History)
	}
}

func TestStats(t *testing.T) {
	db := setupTestDB(t)
	seedItems(t, db,
		ItemSpec{Kind: models.KindFeature, Name: "a"},
		ItemSpec{Kind: models.KindFeature, Name: "b"},
		ItemSpec{Kind: models.KindBug, Name: "c"},
	)
	if err := db.MarkPassing("FEAT-001"); err != nil {
		t.Fatalf("MarkPassing failed: %v", err)
	}

	stats, err := db.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 3 || stats.Passing != 1 || stats.Pending != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ByKind[models.KindFeature] != 2 || stats.ByKind[models.KindBug] != 1 {
		t.Errorf("by kind = %v", stats.ByKind)
	}
}

func ids(items []models.WorkItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}
