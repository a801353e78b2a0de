package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"), DefaultRankWeights())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRecord(userID string) Record {
	return Record{
		UserID:     userID,
		Type:       TypePreference,
		Content:    "favorite color: blue",
		Importance: 4,
		Tags:       []string{"preference"},
	}
}

func TestCreateValidatesInvariants(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*Record)
	}{
		{"importance too low", func(r *Record) { r.Importance = 0 }},
		{"importance too high", func(r *Record) { r.Importance = 6 }},
		{"no tags", func(r *Record) { r.Tags = nil }},
		{"unknown tag", func(r *Record) { r.Tags = []string{"sandwich"} }},
		{"unknown type", func(r *Record) { r.Type = "vibe" }},
		{"empty user", func(r *Record) { r.UserID = "" }},
		{"empty content", func(r *Record) { r.Content = "" }},
	}
	for _, tc := range cases {
		rec := testRecord("user-1")
		tc.mutate(&rec)
		if _, err := store.Create(ctx, rec); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", tc.name, err)
		}
	}
}

func TestCreateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path, DefaultRankWeights())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	created, err := store.Create(ctx, testRecord("user-1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSQLiteStore(path, DefaultRankWeights())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Content != created.Content || got.Importance != created.Importance {
		t.Fatalf("record changed across reopen: %+v vs %+v", got, created)
	}
}

func TestTouchUpdatesAccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, testRecord("user-1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Touch(ctx, created.ID); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccessCount != 1 {
		t.Fatalf("access count = %d, want 1", got.AccessCount)
	}
	if got.LastAccessedAt.Before(created.LastAccessedAt) {
		t.Fatalf("last accessed went backwards")
	}

	if err := store.Touch(ctx, "mem-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Touch missing: expected ErrNotFound, got %v", err)
	}
}

func TestQueryExcludesSoftDeleted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	kept, err := store.Create(ctx, testRecord("user-1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	hidden := testRecord("user-1")
	hidden.Content = "old preference"
	hiddenRec, err := store.Create(ctx, hidden)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.SoftDelete(ctx, hiddenRec.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	got, err := store.Query(ctx, "user-1", QueryFilter{Tags: []string{"preference"}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].ID != kept.ID {
		t.Fatalf("expected only the live record, got %d records", len(got))
	}

	all, err := store.Query(ctx, "user-1", QueryFilter{Tags: []string{"preference"}, IncludeSoftDeleted: true})
	if err != nil {
		t.Fatalf("Query include soft-deleted: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records with soft-deleted included, got %d", len(all))
	}
}

func TestQueryTextFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("user-1")
	if _, err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	other := testRecord("user-1")
	other.Content = "meeting every monday"
	other.Type = TypeTemporal
	other.Tags = []string{"temporal"}
	if _, err := store.Create(ctx, other); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Query(ctx, "user-1", QueryFilter{Text: "Favorite Color"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].Content != "favorite color: blue" {
		t.Fatalf("text filter returned %d records", len(got))
	}
}

func TestQueryIsolatedPerUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, testRecord("user-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(ctx, testRecord("user-2")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Query(ctx, "user-1", QueryFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "user-1" {
		t.Fatalf("query crossed user boundary: %+v", got)
	}
}

func TestEraseRemovesEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Create(ctx, testRecord("user-1")); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	soft := testRecord("user-1")
	softRec, err := store.Create(ctx, soft)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.SoftDelete(ctx, softRec.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	n, err := store.Erase(ctx, "user-1")
	if err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if n != 4 {
		t.Fatalf("erased %d records, want 4 (soft-deleted included)", n)
	}

	got, err := store.Query(ctx, "user-1", QueryFilter{IncludeSoftDeleted: true})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("records survived erase: %d", len(got))
	}
}

func TestQueryDeterministicOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		rec := testRecord("user-1")
		rec.CreatedAt = now
		rec.LastAccessedAt = now
		if _, err := store.Create(ctx, rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	first, err := store.Query(ctx, "user-1", QueryFilter{Tags: []string{"preference"}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := store.Query(ctx, "user-1", QueryFilter{Tags: []string{"preference"}})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(again) != len(first) {
			t.Fatalf("result length changed between identical queries")
		}
		for j := range again {
			if again[j].ID != first[j].ID {
				t.Fatalf("ordering changed between identical queries at %d", j)
			}
		}
	}
}
