package fsutil

import (
	"path/filepath"
	"testing"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fs := OSFileSystem{}

	if !fs.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}

	if fs.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestOSFileSystem_ReadFile(t *testing.T) {
	fs := OSFileSystem{}

	data, err := fs.ReadFile("filesystem.go")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if len(data) == 0 {
		t.Error("expected non-empty file content")
	}
}

func TestOSFileSystem_MkdirAll(t *testing.T) {
	fs := OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "a", "b")

	if err := fs.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	info, err := fs.Stat(dir)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected a directory")
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	testData := []byte("hello, world")
	if err := mfs.WriteFile("/test.txt", testData, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := mfs.ReadFile("/test.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if string(data) != string(testData) {
		t.Errorf("expected %q, got %q", testData, data)
	}
}

func TestMemoryFileSystem_ReadMissing(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if _, err := mfs.ReadFile("/missing.txt"); err == nil {
		t.Error("expected error reading missing file")
	}
}

func TestMemoryFileSystem_MkdirAllCreatesParents(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.MkdirAll("/captures/Stop", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	if !mfs.Exists("/captures/Stop") {
		t.Error("expected /captures/Stop to exist")
	}
	if !mfs.Exists("/captures") {
		t.Error("expected parent /captures to exist")
	}

	info, err := mfs.Stat("/captures/Stop")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected a directory")
	}
}

func TestMemoryFileSystem_Stat(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.WriteFile("/labels.txt", []byte("0 Stop\n"), 0644)

	info, err := mfs.Stat("/labels.txt")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 7 {
		t.Errorf("expected size 7, got %d", info.Size())
	}
	if info.IsDir() {
		t.Error("expected a regular file")
	}
}
