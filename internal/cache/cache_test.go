package cache

import (
	"testing"
	"time"

	"github.com/tokligence/quotabar/internal/usage"
)

func TestSnapshotCodecRoundTrip(t *testing.T) {
	reset := time.Now().UTC().Truncate(time.Second)
	snap := usage.Snapshot{
		Source: usage.SourceClaude,
		Windows: map[string]usage.Window{
			usage.WindowSession: {Used: 42, Total: 100, ResetsAt: &reset},
		},
		FetchedAt: reset.Add(-time.Minute),
	}

	raw, err := EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	got, ok := DecodeSnapshot("claude", raw)
	if !ok {
		t.Fatalf("DecodeSnapshot rejected valid payload")
	}
	if got.Source != usage.SourceClaude || got.Windows[usage.WindowSession].Used != 42 {
		t.Fatalf("decoded snapshot = %#v", got)
	}
	if !got.FetchedAt.Equal(snap.FetchedAt) {
		t.Fatalf("fetched_at = %v, want %v", got.FetchedAt, snap.FetchedAt)
	}
}

func TestDecodeSnapshotRejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
		raw  string
	}{
		{name: "unknown source", src: "gemini", raw: `{"windows":{"session":{"used":1,"total":2}}}`},
		{name: "not json", src: "claude", raw: `{{{`},
		{name: "missing windows", src: "claude", raw: `{"fetched_at":"2026-01-01T00:00:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := DecodeSnapshot(tt.src, []byte(tt.raw)); ok {
				t.Fatalf("DecodeSnapshot accepted %s", tt.name)
			}
		})
	}
}
