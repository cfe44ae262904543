package fileutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestWritePrivate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.bin")
	data := []byte("cache payload")

	if err := WritePrivate(path, data); err != nil {
		t.Fatalf("WritePrivate: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
	assertOwnerOnly(t, path)
}

func TestWritePrivate_Overwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.bin")

	if err := WritePrivate(path, []byte("first")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WritePrivate(path, []byte("second")); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("got %q, want %q", got, "second")
	}
	assertOwnerOnly(t, path)
}

func TestWritePrivate_EmptyData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")

	if err := WritePrivate(path, []byte{}); err != nil {
		t.Fatalf("WritePrivate: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected empty file, got size %d", info.Size())
	}
	assertOwnerOnly(t, path)
}

func TestMkdirPrivate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache")

	if err := MkdirPrivate(path); err != nil {
		t.Fatalf("MkdirPrivate: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("expected directory")
	}
	assertOwnerOnly(t, path)
}

func TestMkdirPrivate_AlreadyExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "existing")

	if err := MkdirPrivate(path); err != nil {
		t.Fatalf("first MkdirPrivate: %v", err)
	}
	if err := MkdirPrivate(path); err != nil {
		t.Fatalf("second MkdirPrivate: %v", err)
	}
	assertOwnerOnly(t, path)
}

// assertOwnerOnly checks that the file or directory is restricted to the
// current user. On Unix this means no group/other mode bits; on Windows the
// restriction lives in the DACL, which os.Stat cannot observe, so the check
// is skipped there.
func assertOwnerOnly(t *testing.T, path string) {
	t.Helper()

	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat %s: %v", path, err)
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		t.Errorf("%s has group/other permissions: %04o", path, mode)
	}
}
