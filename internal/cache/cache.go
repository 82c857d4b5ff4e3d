// Package cache persists the last known-good aggregate snapshot so it
// survives daemon restarts.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tokligence/quotabar/internal/usage"
)

// Store defines persistence behaviour for the aggregate snapshot. The
// orchestrator is the single writer; Save replaces the whole aggregate.
type Store interface {
	Load(ctx context.Context) (usage.Aggregate, error)
	Save(ctx context.Context, agg usage.Aggregate) error
	Close() error
}

// payload is the persisted per-source row body, shared by both backends.
type payload struct {
	Windows   map[string]usage.Window `json:"windows"`
	FetchedAt time.Time               `json:"fetched_at"`
}

// EncodeSnapshot serializes one snapshot's row payload.
func EncodeSnapshot(snap usage.Snapshot) ([]byte, error) {
	return json.Marshal(payload{Windows: snap.Windows, FetchedAt: snap.FetchedAt})
}

// DecodeSnapshot parses a row payload for the named source. A decode error
// means the row is unusable, not that the load should fail; callers skip
// such rows.
func DecodeSnapshot(src string, raw []byte) (usage.Snapshot, bool) {
	parsed, err := usage.ParseSource(src)
	if err != nil {
		// Row written by a newer build; drop silently.
		return usage.Snapshot{}, false
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil || p.Windows == nil {
		return usage.Snapshot{}, false
	}
	return usage.Snapshot{Source: parsed, Windows: p.Windows, FetchedAt: p.FetchedAt}, true
}
