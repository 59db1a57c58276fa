package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
)

func listFiles(t *testing.T, fsys FileSystem, root string) []string {
	t.Helper()
	var files []string
	err := fsys.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WalkDir failed: %v", err)
	}
	return files
}

func TestWriteAtomic_Success(t *testing.T) {
	mfs := NewMemoryFileSystem()

	err := WriteAtomic(mfs, "/out/tiff/a.tiff", func(w io.Writer) error {
		_, err := io.WriteString(w, "pixels")
		return err
	})
	if err != nil {
		t.Fatalf("WriteAtomic failed: %v", err)
	}

	data, err := mfs.ReadFile("/out/tiff/a.tiff")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "pixels" {
		t.Errorf("got %q, want %q", data, "pixels")
	}

	files := listFiles(t, mfs, "/out")
	if len(files) != 1 {
		t.Errorf("expected only the final file, got %v", files)
	}
}

func TestWriteAtomic_FailureLeavesNothing(t *testing.T) {
	mfs := NewMemoryFileSystem()
	boom := errors.New("encoder exploded")

	err := WriteAtomic(mfs, "/out/a.tiff", func(w io.Writer) error {
		io.WriteString(w, "partial")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected encoder error, got %v", err)
	}

	if mfs.Exists("/out/a.tiff") {
		t.Error("failed write left a final file behind")
	}
	if files := listFiles(t, mfs, "/out"); len(files) != 0 {
		t.Errorf("failed write left temp files behind: %v", files)
	}
}

func TestWriteAtomic_KeepsPreviousOnFailure(t *testing.T) {
	dir := t.TempDir()
	osfs := OSFileSystem{}
	target := filepath.Join(dir, "a.tiff")

	if err := osfs.WriteFile(target, []byte("old"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	err := WriteAtomic(osfs, target, func(w io.Writer) error {
		return errors.New("nope")
	})
	if err == nil {
		t.Fatal("expected error")
	}

	data, err := osfs.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "old" {
		t.Errorf("previous contents clobbered: %q", data)
	}
	for _, f := range listFiles(t, osfs, dir) {
		if strings.HasSuffix(f, ".tmp") {
			t.Errorf("temp file left behind: %s", f)
		}
	}
}
