package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tokligence/quotabar/internal/usage"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleAggregate() usage.Aggregate {
	now := time.Now().UTC().Truncate(time.Second)
	reset := now.Add(2 * time.Hour)
	return usage.Aggregate{
		usage.SourceClaude: {
			Source: usage.SourceClaude,
			Windows: map[string]usage.Window{
				usage.WindowSession: {Used: 40, Total: 100, ResetsAt: &reset},
				usage.WindowWeekly:  {Used: 61, Total: 100},
			},
			FetchedAt: now,
		},
		usage.SourceOpenAI: {
			Source:    usage.SourceOpenAI,
			Windows:   map[string]usage.Window{usage.WindowSession: {Used: 85, Total: 100}},
			FetchedAt: now,
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	want := sampleAggregate()
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !want.Equal(got) {
		t.Fatalf("round trip mismatch:\nwant %#v\ngot  %#v", want, got)
	}
}

func TestLoadEmpty(t *testing.T) {
	store := newStore(t)
	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty aggregate, got %v", got)
	}
}

func TestSaveReplacesWholesale(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, sampleAggregate()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Second save drops openai; it must not linger from the first save.
	smaller := sampleAggregate()
	delete(smaller, usage.SourceOpenAI)
	if err := store.Save(ctx, smaller); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := got[usage.SourceOpenAI]; ok {
		t.Fatalf("stale openai entry survived replace")
	}
	if _, ok := got[usage.SourceClaude]; !ok {
		t.Fatalf("claude entry missing")
	}
}

func TestLoadSkipsCorruptAndUnknownRows(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, sampleAggregate()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Simulate a newer build's row and a corrupt payload.
	for _, row := range [][2]string{
		{"gemini", `{"windows":{"session":{"used":1,"total":2}}}`},
		{"claude", `{{{not json`},
	} {
		if _, err := store.db.Exec(
			`INSERT OR REPLACE INTO aggregate_snapshots(source, payload) VALUES(?, ?)`,
			row[0], row[1],
		); err != nil {
			t.Fatalf("inject row: %v", err)
		}
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := got[usage.Source("gemini")]; ok {
		t.Fatalf("unknown source row surfaced")
	}
	if _, ok := got[usage.SourceClaude]; ok {
		t.Fatalf("corrupt claude row surfaced")
	}
	if _, ok := got[usage.SourceOpenAI]; !ok {
		t.Fatalf("healthy openai row dropped")
	}
}

func TestSaveEmptyAggregate(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, sampleAggregate()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(ctx, usage.Aggregate{}); err != nil {
		t.Fatalf("Save empty: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected cleared cache, got %v", got)
	}
}
