// Package pubstore publishes the aggregate snapshot to a location another
// process (the widget) reads on its own schedule. The daemon writes and
// never reads back; the in-process aggregate is the source of truth.
package pubstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tokligence/quotabar/internal/usage"
)

// DocumentVersion is bumped when the published shape changes incompatibly.
const DocumentVersion = 1

// document is the wire form shared between writer and reader processes.
// Unknown source keys are skipped on read so writer/reader version skew
// degrades per entry, never whole-document.
type document struct {
	Version     int                        `json:"version"`
	GeneratedAt time.Time                  `json:"generated_at"`
	Sources     map[string]json.RawMessage `json:"sources"`
}

type sourceEntry struct {
	Windows   map[string]usage.Window `json:"windows"`
	FetchedAt time.Time               `json:"fetched_at"`
}

// FileStore writes the publication document to <dir>/<namespace>.json.
// Writer and reader must agree on both dir and namespace: a mismatch reads
// as "no data", which is the primary cross-process failure mode.
type FileStore struct {
	dir       string
	namespace string
}

// NewFileStore creates a publication store rooted at dir.
func NewFileStore(dir, namespace string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("pubstore: directory required")
	}
	if namespace == "" {
		namespace = "quotabar"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create publication dir: %w", err)
	}
	return &FileStore{dir: dir, namespace: namespace}, nil
}

func (s *FileStore) path() string {
	return filepath.Join(s.dir, s.namespace+".json")
}

// Publish replaces the published document as a single atomic unit: the new
// document is written to a temp file and renamed over the old one, so a
// concurrent reader sees either the previous or the new document, never a
// torn write.
func (s *FileStore) Publish(agg usage.Aggregate) error {
	doc := document{
		Version:     DocumentVersion,
		GeneratedAt: time.Now().UTC(),
		Sources:     make(map[string]json.RawMessage, len(agg)),
	}
	for src, snap := range agg {
		raw, err := json.Marshal(sourceEntry{Windows: snap.Windows, FetchedAt: snap.FetchedAt})
		if err != nil {
			return fmt.Errorf("encode %s entry: %w", src, err)
		}
		doc.Sources[string(src)] = raw
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+s.namespace+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp document: %w", err)
	}
	if err := os.Rename(tmpPath, s.path()); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace document: %w", err)
	}
	return nil
}

// Read returns the last published aggregate. Missing or corrupt documents
// read as empty; entries for sources this build does not know, or whose
// payload fails to decode, are skipped rather than failing the whole read.
func (s *FileStore) Read() (usage.Aggregate, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return usage.Aggregate{}, nil
		}
		return nil, fmt.Errorf("read document: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return usage.Aggregate{}, nil
	}

	agg := make(usage.Aggregate, len(doc.Sources))
	for src, raw := range doc.Sources {
		parsed, err := usage.ParseSource(src)
		if err != nil {
			continue
		}
		var entry sourceEntry
		if err := json.Unmarshal(raw, &entry); err != nil || entry.Windows == nil {
			continue
		}
		agg[parsed] = usage.Snapshot{Source: parsed, Windows: entry.Windows, FetchedAt: entry.FetchedAt}
	}
	return agg, nil
}

// Reset deletes the published document. Only an explicit user action calls
// this; routine refreshes always overwrite instead.
func (s *FileStore) Reset() error {
	if err := os.Remove(s.path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove document: %w", err)
	}
	return nil
}
