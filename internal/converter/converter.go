// Package converter drives the external DM4 to q2bz conversion tool.
package converter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/dm4tiff/internal/execx"
	"github.com/banshee-data/dm4tiff/internal/fsutil"
	"github.com/google/uuid"
)

// DefaultBinary is the QuocMesh conversion tool.
const DefaultBinary = "convertDM3ToQuoc"

// ErrNoOutput is returned when the tool exits cleanly without producing the
// expected container.
var ErrNoOutput = errors.New("converter produced no output")

// Converter runs Binary on a .dm4 file. The tool writes <base>.q2bz into its
// working directory; Convert moves that file next to the source.
type Converter struct {
	Binary  string
	WorkDir string // empty runs the tool in the source file's directory; otherwise in a fresh subdirectory of it
	FS      fsutil.FileSystem
	Builder execx.CommandBuilder
	Logger  execx.Logger
}

// New returns a Converter using the real filesystem and process runner.
func New(binary, workDir string) *Converter {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Converter{
		Binary:  binary,
		WorkDir: workDir,
		FS:      fsutil.OSFileSystem{},
		Builder: execx.NewRealCommandBuilder(),
		Logger:  execx.NopLogger{},
	}
}

// SetLogger sets the debug logger.
func (c *Converter) SetLogger(logger execx.Logger) {
	if logger != nil {
		c.Logger = logger
	}
}

// Q2BZPath returns where the converted container for dm4Path lives.
func Q2BZPath(dm4Path string) string {
	return strings.TrimSuffix(dm4Path, filepath.Ext(dm4Path)) + ".q2bz"
}

// Convert runs the tool on dm4Path and returns the absolute path of the
// container. The tool is always given an absolute source path, since it runs
// in a different directory from the caller.
func (c *Converter) Convert(ctx context.Context, dm4Path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := filepath.Abs(dm4Path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dm4Path, err)
	}
	target := Q2BZPath(src)

	workDir := filepath.Dir(src)
	if c.WorkDir != "" {
		// One scratch directory per call: sources sharing a base name would
		// otherwise write the same <workdir>/<base>.q2bz.
		workDir = filepath.Join(c.WorkDir, "convert-"+uuid.NewString())
		if err := c.FS.MkdirAll(workDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create scratch dir: %w", err)
		}
		defer func() {
			if err := c.FS.Remove(workDir); err != nil {
				c.Logger.Debugf("failed to remove scratch dir %s: %v", workDir, err)
			}
		}()
	}
	produced := filepath.Join(workDir, filepath.Base(target))

	cmd := c.Builder.BuildCommand(ctx, c.Binary, src)
	cmd.SetDir(workDir)
	c.Logger.Debugf("Executing: %s (dir=%s)", execx.Quote(c.Binary, src), workDir)

	output, err := cmd.Run()
	if err != nil {
		c.Logger.Debugf("Command failed: %v, output: %s", err, output)
		return "", fmt.Errorf("%s %s: %w: %s", c.Binary, src, err, strings.TrimSpace(string(output)))
	}

	if !c.FS.Exists(produced) {
		return "", fmt.Errorf("%s: %w (expected %s)", src, ErrNoOutput, produced)
	}
	if filepath.Clean(produced) != filepath.Clean(target) {
		if err := c.FS.Rename(produced, target); err != nil {
			return "", fmt.Errorf("failed to move %s to %s: %w", produced, target, err)
		}
	}
	return target, nil
}
