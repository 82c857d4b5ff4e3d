package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultMaxBytes caps a single log file before same-day rollover.
const DefaultMaxBytes = int64(100 * 1024 * 1024)

// Rotator is an io.WriteCloser that rotates its backing file on UTC day
// boundaries and when a write would push the current file past maxBytes.
//
// Given base logs/quotabard.log, files are named logs/quotabard-2026-08-31.log,
// then logs/quotabard-2026-08-31-2.log on same-day rollover. The base path is
// maintained as a symlink to the active file so tail -F keeps working.
type Rotator struct {
	base     string
	maxBytes int64

	mu    sync.Mutex
	day   string
	seq   int
	file  *os.File
	wrote int64
}

// Open creates a Rotator for the given base path. Path "-" discards output.
func Open(base string, maxBytes int64) (io.WriteCloser, error) {
	if strings.TrimSpace(base) == "-" {
		return discardCloser{}, nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	r := &Rotator{base: base, maxBytes: maxBytes}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.roll(0); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.roll(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := r.file.Write(p)
	r.wrote += int64(n)
	return n, err
}

func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// roll opens a fresh file when the day changed or incoming bytes would
// exceed the size cap. Caller holds mu.
func (r *Rotator) roll(incoming int64) error {
	today := time.Now().UTC().Format("2006-01-02")
	switch {
	case r.file == nil || r.day != today:
		r.day = today
		r.seq = 1
	case r.wrote+incoming > r.maxBytes:
		r.seq++
	default:
		return nil
	}
	return r.open()
}

func (r *Rotator) open() error {
	if r.file != nil {
		_ = r.file.Close()
	}
	dir, name := filepath.Split(r.base)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".log"
	}
	target := fmt.Sprintf("%s-%s%s", stem, r.day, ext)
	if r.seq > 1 {
		target = fmt.Sprintf("%s-%s-%d%s", stem, r.day, r.seq, ext)
	}
	path := filepath.Join(dir, target)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	r.file = f
	r.wrote = size
	r.relink(path)
	return nil
}

// relink points the base path at the active file. Symlink preferred, hard
// link as fallback, plain pointer file as last resort.
func (r *Rotator) relink(target string) {
	base := strings.TrimSpace(r.base)
	if base == "" {
		return
	}
	if info, err := os.Lstat(base); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			if dest, err := os.Readlink(base); err == nil && dest == target {
				return
			}
		}
		_ = os.Remove(base)
	}
	if err := os.Symlink(target, base); err == nil {
		return
	}
	if err := os.Link(target, base); err == nil {
		return
	}
	if f, err := os.OpenFile(base, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644); err == nil {
		defer f.Close()
		_, _ = fmt.Fprintf(f, "current log file: %s\n", target)
	}
}

type discardCloser struct{}

func (discardCloser) Write(p []byte) (int, error) { return len(p), nil }
func (discardCloser) Close() error                { return nil }
