package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charlievoice/charlie/pkg/memory"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *memory.SQLiteStore) {
	t.Helper()
	store, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"), memory.DefaultRankWeights())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	mgr := NewManager(store, cfg)
	t.Cleanup(func() {
		mgr.Close()
		_ = store.Close()
	})
	return mgr, store
}

func TestWindowNeverExceedsCapacity(t *testing.T) {
	mgr, _ := newTestManager(t, Config{WindowCapacity: 10})
	ctx := context.Background()

	for i := 0; i < 37; i++ {
		mgr.AppendTurn(ctx, "user-1", RoleUser, fmt.Sprintf("turn number %d", i))
		if n := len(mgr.Window("user-1")); n > 10 {
			t.Fatalf("window grew to %d after %d appends", n, i+1)
		}
	}
	window := mgr.Window("user-1")
	if len(window) != 10 {
		t.Fatalf("window = %d turns, want 10", len(window))
	}
	if window[len(window)-1].Text != "turn number 36" {
		t.Fatalf("newest turn missing, last = %q", window[len(window)-1].Text)
	}
}

func TestEagerPromotionAndRetrieval(t *testing.T) {
	mgr, store := newTestManager(t, Config{})
	ctx := context.Background()

	// Seed an unrelated memory so ranking has something to beat.
	if _, err := store.Create(ctx, memory.Record{
		UserID:     "user-1",
		Type:       memory.TypeTemporal,
		Content:    "dentist appointment on friday",
		Importance: 2,
		Tags:       []string{"temporal"},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	mgr.AppendTurn(ctx, "user-1", RoleUser, "remember my favorite color is blue")

	got, err := mgr.RetrieveRelevant(ctx, "user-1", "what's my favorite color", 5)
	if err != nil {
		t.Fatalf("RetrieveRelevant: %v", err)
	}
	if len(got) == 0 {
		t.Fatalf("no memories retrieved")
	}
	first := got[0]
	if first.Type != memory.TypePreference {
		t.Fatalf("top record type = %s, want preference", first.Type)
	}
	if !strings.Contains(first.Content, "favorite color: blue") {
		t.Fatalf("top record content = %q", first.Content)
	}
	if first.Importance < 3 {
		t.Fatalf("importance = %d, want >= 3", first.Importance)
	}
}

func TestPromotionHappensOncePerFact(t *testing.T) {
	mgr, store := newTestManager(t, Config{})
	ctx := context.Background()

	mgr.AppendTurn(ctx, "user-1", RoleUser, "remember my favorite color is blue")
	mgr.AppendTurn(ctx, "user-1", RoleUser, "remember my favorite color is blue")

	got, err := store.Query(ctx, "user-1", memory.QueryFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
}

func TestRepetitionAccumulatesTowardPromotion(t *testing.T) {
	mgr, store := newTestManager(t, Config{PromoteThreshold: 3})
	ctx := context.Background()

	// A single weak cue stays below threshold; repetition adds up.
	mgr.AppendTurn(ctx, "user-1", RoleUser, "i need to renew my passport")
	got, _ := store.Query(ctx, "user-1", memory.QueryFilter{})
	if len(got) != 0 {
		t.Fatalf("promoted after one mention")
	}

	mgr.AppendTurn(ctx, "user-1", RoleUser, "i need to renew my passport")
	mgr.AppendTurn(ctx, "user-1", RoleUser, "i need to renew my passport")

	got, err := store.Query(ctx, "user-1", memory.QueryFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records after repetition, want 1", len(got))
	}
}

func TestSessionExpiryClearsWindowOnly(t *testing.T) {
	mgr, store := newTestManager(t, Config{Timeout: 300 * time.Second, SweepInterval: time.Hour})
	ctx := context.Background()

	mgr.AppendTurn(ctx, "user-1", RoleUser, "remember my favorite color is blue")
	if len(mgr.Window("user-1")) != 1 {
		t.Fatalf("window should hold the turn")
	}

	base := time.Now()
	mgr.now = func() time.Time { return base.Add(301 * time.Second) }

	if w := mgr.Window("user-1"); w != nil {
		t.Fatalf("expired window still visible: %d turns", len(w))
	}
	mgr.AppendTurn(ctx, "user-1", RoleUser, "hello again")
	if n := len(mgr.Window("user-1")); n != 1 {
		t.Fatalf("fresh session window = %d turns, want 1", n)
	}

	// Long-term memory survives expiry.
	got, err := store.Query(ctx, "user-1", memory.QueryFilter{Tags: []string{"preference"}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("long-term memory lost on expiry")
	}
}

func TestSweepDropsIdleSessions(t *testing.T) {
	mgr, _ := newTestManager(t, Config{Timeout: 300 * time.Second, SweepInterval: time.Hour})
	ctx := context.Background()

	mgr.AppendTurn(ctx, "user-1", RoleUser, "hello")
	base := time.Now()
	mgr.now = func() time.Time { return base.Add(301 * time.Second) }
	mgr.sweepExpired()

	mgr.mu.Lock()
	_, ok := mgr.sessions["user-1"]
	mgr.mu.Unlock()
	if ok {
		t.Fatalf("idle session survived sweep")
	}
}

type failingStore struct{}

func (failingStore) Create(context.Context, memory.Record) (memory.Record, error) {
	return memory.Record{}, errors.New("store unreachable")
}

func (failingStore) Query(context.Context, string, memory.QueryFilter) ([]memory.Record, error) {
	return nil, errors.New("store unreachable")
}

func TestStorageFailureDoesNotBreakConversation(t *testing.T) {
	mgr := NewManager(failingStore{}, Config{})
	defer mgr.Close()
	ctx := context.Background()

	mgr.AppendTurn(ctx, "user-1", RoleUser, "remember my favorite color is blue")
	if n := len(mgr.Window("user-1")); n != 1 {
		t.Fatalf("turn lost on storage failure: window = %d", n)
	}
}
