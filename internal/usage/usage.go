package usage

import (
	"fmt"
	"time"
)

// Source identifies one tracked upstream quota provider. Values are stable
// identifiers: they appear in the cache, in the shared publication document
// and in the HTTP API, and must never be renamed once shipped.
type Source string

const (
	SourceClaude     Source = "claude"
	SourceOpenAI     Source = "openai"
	SourceClaudeCode Source = "claudecode"
)

// AllSources returns every known source in a stable order.
func AllSources() []Source {
	return []Source{SourceClaude, SourceOpenAI, SourceClaudeCode}
}

// ParseSource validates a raw source identifier.
func ParseSource(raw string) (Source, error) {
	switch Source(raw) {
	case SourceClaude, SourceOpenAI, SourceClaudeCode:
		return Source(raw), nil
	default:
		return "", fmt.Errorf("unknown source %q", raw)
	}
}

// DisplayName returns the human-facing name for a source.
func (s Source) DisplayName() string {
	switch s {
	case SourceClaude:
		return "Claude"
	case SourceOpenAI:
		return "OpenAI"
	case SourceClaudeCode:
		return "Claude Code"
	default:
		return string(s)
	}
}

// Canonical window names. The set of windows is source-specific; these are
// the names shared across sources so consumers can line them up.
const (
	WindowSession   = "session"
	WindowWeekly    = "weekly"
	WindowSecondary = "secondary"
)

// Window is one bounded quota window: how much of the allowance has been
// consumed and when the window resets. Immutable once constructed.
type Window struct {
	Used     float64    `json:"used"`
	Total    float64    `json:"total"`
	ResetsAt *time.Time `json:"resets_at,omitempty"`
}

// Percentage returns used/total as a percentage clamped to [0, 100].
// A window with no allowance (total <= 0) reads as 0.
func (w Window) Percentage() float64 {
	if w.Total <= 0 {
		return 0
	}
	pct := w.Used / w.Total * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Remaining returns the unconsumed allowance, clamped to [0, total].
func (w Window) Remaining() float64 {
	if w.Total <= 0 {
		return 0
	}
	rem := w.Total - w.Used
	if rem < 0 {
		return 0
	}
	return rem
}

// Snapshot is the unit of data produced by one source client: the named
// quota windows for one source at one point in time. Immutable.
type Snapshot struct {
	Source    Source            `json:"source"`
	Windows   map[string]Window `json:"windows"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// Window returns the named window and whether it is present.
func (s Snapshot) Window(name string) (Window, bool) {
	w, ok := s.Windows[name]
	return w, ok
}

// Aggregate maps each source to its latest known-good snapshot. A source
// appears only once it has produced a result; sources that never fetched
// successfully are absent, not zero-valued.
type Aggregate map[Source]Snapshot

// Clone returns a deep copy so callers can hand the aggregate out without
// exposing the orchestrator's internal map.
func (a Aggregate) Clone() Aggregate {
	out := make(Aggregate, len(a))
	for src, snap := range a {
		windows := make(map[string]Window, len(snap.Windows))
		for name, w := range snap.Windows {
			windows[name] = w
		}
		out[src] = Snapshot{Source: snap.Source, Windows: windows, FetchedAt: snap.FetchedAt}
	}
	return out
}

// Equal reports whether two aggregates contain the same snapshots.
func (a Aggregate) Equal(other Aggregate) bool {
	if len(a) != len(other) {
		return false
	}
	for src, snap := range a {
		osnap, ok := other[src]
		if !ok {
			return false
		}
		if !snap.FetchedAt.Equal(osnap.FetchedAt) || len(snap.Windows) != len(osnap.Windows) {
			return false
		}
		for name, w := range snap.Windows {
			ow, ok := osnap.Windows[name]
			if !ok || w.Used != ow.Used || w.Total != ow.Total {
				return false
			}
			switch {
			case w.ResetsAt == nil && ow.ResetsAt == nil:
			case w.ResetsAt != nil && ow.ResetsAt != nil && w.ResetsAt.Equal(*ow.ResetsAt):
			default:
				return false
			}
		}
	}
	return true
}
