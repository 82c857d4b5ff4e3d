package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatorWritesDatedFile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "quotabard.log")
	w, err := Open(base, DefaultMaxBytes)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	day := time.Now().UTC().Format("2006-01-02")
	dated := filepath.Join(dir, "quotabard-"+day+".log")
	data, err := os.ReadFile(dated)
	if err != nil {
		t.Fatalf("read dated file: %v", err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("unexpected content %q", data)
	}
	// Base path should resolve to the dated file.
	linked, err := os.ReadFile(base)
	if err != nil {
		t.Fatalf("read base: %v", err)
	}
	if !strings.Contains(string(linked), "hello") {
		t.Fatalf("base does not point at active file: %q", linked)
	}
}

func TestRotatorSizeRollover(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "quotabard.log")
	w, err := Open(base, 10)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("123456789\n")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := w.Write([]byte("overflow\n")); err != nil {
		t.Fatalf("second write: %v", err)
	}

	day := time.Now().UTC().Format("2006-01-02")
	second := filepath.Join(dir, "quotabard-"+day+"-2.log")
	data, err := os.ReadFile(second)
	if err != nil {
		t.Fatalf("expected rollover file: %v", err)
	}
	if string(data) != "overflow\n" {
		t.Fatalf("unexpected rollover content %q", data)
	}
}

func TestRotatorDiscard(t *testing.T) {
	w, err := Open("-", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if n, err := w.Write([]byte("dropped")); err != nil || n != 7 {
		t.Fatalf("discard write: n=%d err=%v", n, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
