package logging

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRotatingWriter_AppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stop_streams.log")
	if err := os.WriteFile(path, []byte("previous run\n"), 0644); err != nil {
		t.Fatal(err)
	}

	rw, err := NewRotatingWriter(path, DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()

	if rw.Size() != int64(len("previous run\n")) {
		t.Errorf("Size() = %d, want existing size", rw.Size())
	}
	if rw.Path() != path {
		t.Errorf("Path() = %q, want %q", rw.Path(), path)
	}
	if _, err := rw.Write([]byte("this run\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	rw.Close()

	data, _ := os.ReadFile(path)
	if string(data) != "previous run\nthis run\n" {
		t.Errorf("content = %q", data)
	}
}

func TestRotatingWriter_Rotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer rw.Close()

	chunk := []byte(strings.Repeat("x", 600*1024))
	for i := 0; i < 4; i++ {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	for _, p := range []string{path, path + ".1", path + ".2"} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s to exist: %v", p, err)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Errorf("expected only 2 backups, found %s.3", path)
	}
	if rw.Size() != int64(len(chunk)) {
		t.Errorf("active file size = %d, want %d", rw.Size(), len(chunk))
	}
}

func TestRotatingWriter_NoBackupsTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 0})
	if err != nil {
		t.Fatal(err)
	}
	defer rw.Close()

	chunk := []byte(strings.Repeat("y", 700*1024))
	rw.Write(chunk)
	rw.Write(chunk)

	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("no backup should be kept when MaxBackups is 0")
	}
	if rw.Size() != int64(len(chunk)) {
		t.Errorf("Size() = %d, want %d", rw.Size(), len(chunk))
	}
}

func TestRotatingWriter_Compress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 1, Compress: true})
	if err != nil {
		t.Fatal(err)
	}
	defer rw.Close()

	first := []byte(strings.Repeat("a", 900*1024))
	rw.Write(first)
	rw.Write([]byte(strings.Repeat("b", 300*1024)))

	f, err := os.Open(path + ".1.gz")
	if err != nil {
		t.Fatalf("expected compressed backup: %v", err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != len(first) {
		t.Errorf("decompressed size = %d, want %d", len(data), len(first))
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("uncompressed backup should be removed")
	}
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	rw, err := NewRotatingWriter(path, RotationConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := rw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := rw.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := rw.Write([]byte("late")); err == nil {
		t.Error("expected error writing to closed writer")
	}
}
