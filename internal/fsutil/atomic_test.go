package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAtomicWriteJSON_RoundTripAndNoTempLeft(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "nested", "rec.json")

	if err := AtomicWriteJSON(p, map[string]int{"pid": 42}); err != nil {
		t.Fatalf("AtomicWriteJSON: %v", err)
	}
	var got map[string]int
	if err := ReadJSON(p, &got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got["pid"] != 42 {
		t.Fatalf("unexpected content %v", got)
	}

	entries, err := os.ReadDir(filepath.Dir(p))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
	st, _ := os.Stat(p)
	if st.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected perm %v", st.Mode().Perm())
	}
}

func TestAtomicWriteFile_Overwrites(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x")
	if err := AtomicWriteFile(p, []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := AtomicWriteFile(p, []byte("two"), 0o644); err != nil {
		t.Fatal(err)
	}
	b, _ := os.ReadFile(p)
	if string(b) != "two" {
		t.Fatalf("got %q", b)
	}
}

func TestReadJSON_Missing(t *testing.T) {
	var v any
	err := ReadJSON(filepath.Join(t.TempDir(), "nope.json"), &v)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}
