package pubstore

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tokligence/quotabar/internal/testutil"
	"github.com/tokligence/quotabar/internal/usage"
)

func sampleAggregate() usage.Aggregate {
	now := time.Now().UTC().Truncate(time.Second)
	return usage.Aggregate{
		usage.SourceOpenAI: {
			Source:    usage.SourceOpenAI,
			Windows:   map[string]usage.Window{usage.WindowSession: {Used: 85, Total: 100}},
			FetchedAt: now,
		},
		usage.SourceClaudeCode: {
			Source:    usage.SourceClaudeCode,
			Windows:   map[string]usage.Window{usage.WindowSession: {Used: 400, Total: 1000}},
			FetchedAt: now,
		},
	}
}

func TestPublishReadRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "quotabar")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	want := sampleAggregate()
	if err := store.Publish(want); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got, err := store.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !want.Equal(got) {
		t.Fatalf("round trip mismatch:\nwant %#v\ngot  %#v", want, got)
	}
	if got[usage.SourceOpenAI].Windows[usage.WindowSession].Percentage() != 85 {
		t.Fatalf("openai session percentage lost in transit")
	}
}

func TestReadMissingDocument(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "quotabar")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	got, err := store.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty aggregate, got %v", got)
	}
}

func TestReadCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "quotabar")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "quotabar.json"), []byte("{{{torn"), 0o644); err != nil {
		t.Fatalf("write corrupt doc: %v", err)
	}
	got, err := store.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("corrupt document should read as empty, got %v", got)
	}
}

func TestReadSkipsUnknownSources(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "quotabar")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := store.Publish(sampleAggregate()); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// Splice in an entry from a hypothetical newer writer.
	path := filepath.Join(dir, "quotabar.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read doc: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("parse doc: %v", err)
	}
	var sources map[string]json.RawMessage
	if err := json.Unmarshal(doc["sources"], &sources); err != nil {
		t.Fatalf("parse sources: %v", err)
	}
	sources["gemini"] = json.RawMessage(`{"windows":{"session":{"used":5,"total":10}},"fetched_at":"2026-01-01T00:00:00Z"}`)
	sources["claudecode"] = json.RawMessage(`"not an object"`)
	doc["sources"], _ = json.Marshal(sources)
	patched, _ := json.Marshal(doc)
	if err := os.WriteFile(path, patched, 0o644); err != nil {
		t.Fatalf("write patched doc: %v", err)
	}

	got, err := store.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, ok := got[usage.Source("gemini")]; ok {
		t.Fatalf("unknown source surfaced")
	}
	if _, ok := got[usage.SourceClaudeCode]; ok {
		t.Fatalf("malformed entry surfaced")
	}
	if _, ok := got[usage.SourceOpenAI]; !ok {
		t.Fatalf("healthy entry dropped alongside bad ones")
	}
}

func TestNamespaceMismatchReadsEmpty(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewFileStore(dir, "quotabar")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := writer.Publish(sampleAggregate()); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	reader, err := NewFileStore(dir, "quotabar-widget")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	got, err := reader.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("namespace mismatch should read empty, got %v", got)
	}
}

func TestReset(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "quotabar")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := store.Publish(sampleAggregate()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := store.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	got, err := store.Read()
	if err != nil {
		t.Fatalf("Read after reset: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("reset did not clear document")
	}
	// Resetting an already-empty store is fine.
	if err := store.Reset(); err != nil {
		t.Fatalf("second Reset: %v", err)
	}
}

func TestNotifier(t *testing.T) {
	var hits atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/refresh", func(w http.ResponseWriter, r *http.Request) {
		var payload notifyPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload.InstallID != "test-install" {
			t.Errorf("install id = %q", payload.InstallID)
		}
		hits.Add(1)
	})
	srv := testutil.NewLoopbackServer(t, mux)

	n := NewNotifier(srv.URL+"/refresh", "test-install", nil)
	n.Notify(context.Background())
	if hits.Load() != 1 {
		t.Fatalf("listener hit %d times", hits.Load())
	}

	// No listener: must not error or panic.
	NewNotifier("http://127.0.0.1:1/refresh", "test-install", nil).Notify(context.Background())
	// Disabled: no endpoint configured.
	NewNotifier("", "test-install", nil).Notify(context.Background())
}

func TestInstallIDPersists(t *testing.T) {
	dir := t.TempDir()
	first, err := InstallID(dir)
	if err != nil {
		t.Fatalf("InstallID: %v", err)
	}
	second, err := InstallID(dir)
	if err != nil {
		t.Fatalf("InstallID: %v", err)
	}
	if first != second {
		t.Fatalf("install id not stable: %q vs %q", first, second)
	}

	// Corrupt contents are replaced, not fatal.
	if err := os.WriteFile(filepath.Join(dir, "install_id"), []byte("not-a-uuid"), 0o600); err != nil {
		t.Fatalf("corrupt id: %v", err)
	}
	third, err := InstallID(dir)
	if err != nil {
		t.Fatalf("InstallID after corruption: %v", err)
	}
	if third == "not-a-uuid" || third == "" {
		t.Fatalf("corrupt id survived: %q", third)
	}
}
