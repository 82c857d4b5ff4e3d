package usage

import (
	"testing"
	"time"
)

func TestWindowPercentage(t *testing.T) {
	tests := []struct {
		name    string
		window  Window
		wantPct float64
		wantRem float64
	}{
		{name: "normal", window: Window{Used: 85, Total: 100}, wantPct: 85, wantRem: 15},
		{name: "over limit clamps", window: Window{Used: 120, Total: 100}, wantPct: 100, wantRem: 0},
		{name: "zero total", window: Window{Used: 50, Total: 0}, wantPct: 0, wantRem: 0},
		{name: "negative total", window: Window{Used: 10, Total: -5}, wantPct: 0, wantRem: 0},
		{name: "negative used clamps low", window: Window{Used: -10, Total: 100}, wantPct: 0, wantRem: 100},
		{name: "unused", window: Window{Used: 0, Total: 200}, wantPct: 0, wantRem: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.window.Percentage(); got != tt.wantPct {
				t.Errorf("Percentage() = %v, want %v", got, tt.wantPct)
			}
			if got := tt.window.Remaining(); got != tt.wantRem {
				t.Errorf("Remaining() = %v, want %v", got, tt.wantRem)
			}
		})
	}
}

func TestParseSource(t *testing.T) {
	for _, src := range AllSources() {
		got, err := ParseSource(string(src))
		if err != nil {
			t.Fatalf("ParseSource(%q): %v", src, err)
		}
		if got != src {
			t.Fatalf("ParseSource(%q) = %q", src, got)
		}
	}

	if _, err := ParseSource("cursor"); err == nil {
		t.Fatalf("expected error for unknown source")
	}
	if _, err := ParseSource(""); err == nil {
		t.Fatalf("expected error for empty source")
	}
}

func TestAggregateClone(t *testing.T) {
	reset := time.Now().Add(time.Hour)
	agg := Aggregate{
		SourceClaude: {
			Source:    SourceClaude,
			Windows:   map[string]Window{WindowSession: {Used: 40, Total: 100, ResetsAt: &reset}},
			FetchedAt: time.Now(),
		},
	}

	clone := agg.Clone()
	if !agg.Equal(clone) {
		t.Fatalf("clone not equal to original")
	}

	// Mutating the clone must not leak back into the original.
	clone[SourceClaude].Windows[WindowSession] = Window{Used: 99, Total: 100}
	if agg[SourceClaude].Windows[WindowSession].Used != 40 {
		t.Fatalf("clone shares window map with original")
	}
}

func TestAggregateEqual(t *testing.T) {
	now := time.Now()
	a := Aggregate{
		SourceOpenAI: {Source: SourceOpenAI, Windows: map[string]Window{WindowSession: {Used: 1, Total: 2}}, FetchedAt: now},
	}
	b := a.Clone()
	if !a.Equal(b) {
		t.Fatalf("expected equal aggregates")
	}

	b[SourceOpenAI].Windows[WindowSession] = Window{Used: 2, Total: 2}
	if a.Equal(b) {
		t.Fatalf("expected inequality after mutation")
	}

	if a.Equal(Aggregate{}) {
		t.Fatalf("expected inequality with empty aggregate")
	}
}
