package fsutil

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"
)

// WriteAtomic writes path through a temporary sibling file that is renamed
// into place only after write and close both succeed. On any failure the
// temporary file is removed and path is left untouched.
func WriteAtomic(fsys FileSystem, path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))
	f, err := fsys.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		f.Close()
		fsys.Remove(tmp)
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		fsys.Remove(tmp)
		return fmt.Errorf("failed to flush %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		fsys.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}

	if err := fsys.Rename(tmp, path); err != nil {
		fsys.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
