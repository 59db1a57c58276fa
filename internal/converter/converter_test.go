package converter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/banshee-data/dm4tiff/internal/execx"
	"github.com/banshee-data/dm4tiff/internal/fsutil"
	"github.com/google/go-cmp/cmp"
)

// fakeTool makes the mock executor write <base>.q2bz into its working dir,
// the way the real tool does. The file holds the source path it was made
// from, and every working directory is recorded in dirs.
type fakeTool struct {
	fs *fsutil.MemoryFileSystem

	mu   sync.Mutex
	dirs []string

	// afterWrite, when set, runs once the output exists.
	afterWrite func()
}

func (f *fakeTool) factory(name string, args []string) *execx.MockCommandExecutor {
	exec := &execx.MockCommandExecutor{}
	exec.OnRun = func(dir string) ([]byte, error) {
		f.mu.Lock()
		f.dirs = append(f.dirs, dir)
		f.mu.Unlock()

		out := filepath.Join(dir, filepath.Base(Q2BZPath(args[0])))
		if err := f.fs.WriteFile(out, []byte(args[0]), 0644); err != nil {
			return nil, err
		}
		if f.afterWrite != nil {
			f.afterWrite()
		}
		return nil, nil
	}
	return exec
}

func newTestConverter(mfs *fsutil.MemoryFileSystem, workDir string) (*Converter, *execx.MockCommandBuilder, *fakeTool) {
	builder := execx.NewMockCommandBuilder()
	tool := &fakeTool{fs: mfs}
	builder.ExecutorFactory = tool.factory
	c := &Converter{
		Binary:  DefaultBinary,
		WorkDir: workDir,
		FS:      mfs,
		Builder: builder,
		Logger:  execx.NopLogger{},
	}
	return c, builder, tool
}

func readString(t *testing.T, mfs *fsutil.MemoryFileSystem, path string) string {
	t.Helper()
	data, err := mfs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s): %v", path, err)
	}
	return string(data)
}

func TestQ2BZPath(t *testing.T) {
	tests := map[string]string{
		"/data/Hour_00/a.dm4": "/data/Hour_00/a.q2bz",
		"b.dm4":               "b.q2bz",
	}
	for in, want := range tests {
		if got := Q2BZPath(in); got != want {
			t.Errorf("Q2BZPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConvert_InSourceDir(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	c, builder, tool := newTestConverter(mfs, "")

	got, err := c.Convert(context.Background(), "/data/run/a.dm4")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got != "/data/run/a.q2bz" {
		t.Errorf("Convert = %q, want /data/run/a.q2bz", got)
	}
	if !mfs.Exists("/data/run/a.q2bz") {
		t.Error("container was not left next to the source")
	}

	last := builder.LastCommand()
	if last == nil {
		t.Fatal("no command built")
	}
	if last.Name != DefaultBinary {
		t.Errorf("command = %q, want %q", last.Name, DefaultBinary)
	}
	if diff := cmp.Diff([]string{"/data/run/a.dm4"}, last.Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/data/run"}, tool.dirs); diff != "" {
		t.Errorf("working dirs mismatch (-want +got):\n%s", diff)
	}
}

func TestConvert_RelativeSource(t *testing.T) {
	t.Chdir(t.TempDir())
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}

	mfs := fsutil.NewMemoryFileSystem()
	c, builder, tool := newTestConverter(mfs, "")

	got, err := c.Convert(context.Background(), filepath.Join("data", "sub", "a.dm4"))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}

	wantSrc := filepath.Join(cwd, "data", "sub", "a.dm4")
	if diff := cmp.Diff([]string{wantSrc}, builder.LastCommand().Args); diff != "" {
		t.Errorf("tool must get an absolute source (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{filepath.Dir(wantSrc)}, tool.dirs); diff != "" {
		t.Errorf("working dirs mismatch (-want +got):\n%s", diff)
	}
	if want := filepath.Join(cwd, "data", "sub", "a.q2bz"); got != want {
		t.Errorf("Convert = %q, want %q", got, want)
	}
}

func TestConvert_MovesFromWorkDir(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	c, _, tool := newTestConverter(mfs, "/scratch")

	got, err := c.Convert(context.Background(), "/data/run/a.dm4")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got != "/data/run/a.q2bz" {
		t.Errorf("Convert = %q, want /data/run/a.q2bz", got)
	}
	if !mfs.Exists("/data/run/a.q2bz") {
		t.Error("container was not moved next to the source")
	}

	if len(tool.dirs) != 1 {
		t.Fatalf("tool ran %d times, want 1", len(tool.dirs))
	}
	dir := tool.dirs[0]
	if filepath.Dir(dir) != "/scratch" {
		t.Errorf("tool ran in %s, want a subdirectory of /scratch", dir)
	}
	if mfs.Exists(dir) {
		t.Errorf("scratch dir %s was not removed", dir)
	}
}

func TestConvert_WorkDirSameBaseNameConcurrently(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	c, _, tool := newTestConverter(mfs, "/scratch")

	sources := []string{"/data/a/x.dm4", "/data/b/x.dm4"}

	// Both tools have written their output before either conversion moves it.
	var written sync.WaitGroup
	written.Add(len(sources))
	tool.afterWrite = func() {
		written.Done()
		written.Wait()
	}

	var wg sync.WaitGroup
	errs := make([]error, len(sources))
	for i, src := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Convert(context.Background(), src)
		}()
	}
	wg.Wait()

	for i, src := range sources {
		if errs[i] != nil {
			t.Errorf("Convert(%s): %v", src, errs[i])
			continue
		}
		if got := readString(t, mfs, Q2BZPath(src)); got != src {
			t.Errorf("%s holds output converted from %s", Q2BZPath(src), got)
		}
	}
	if len(tool.dirs) == 2 && tool.dirs[0] == tool.dirs[1] {
		t.Errorf("both conversions ran in %s", tool.dirs[0])
	}
}

func TestConvert_ToolFails(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	c, builder, _ := newTestConverter(mfs, "")
	builder.ExecutorFactory = func(string, []string) *execx.MockCommandExecutor {
		return &execx.MockCommandExecutor{Output: []byte("cannot read header\n"), Err: errors.New("exit status 1")}
	}

	_, err := c.Convert(context.Background(), "/data/a.dm4")
	if err == nil || !strings.Contains(err.Error(), "cannot read header") {
		t.Errorf("Convert error = %v, want tool output in message", err)
	}
}

func TestConvert_NoOutput(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	c, builder, _ := newTestConverter(mfs, "")
	builder.ExecutorFactory = nil

	_, err := c.Convert(context.Background(), "/data/a.dm4")
	if !errors.Is(err, ErrNoOutput) {
		t.Errorf("Convert error = %v, want ErrNoOutput", err)
	}
}

func TestConvert_Cancelled(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	c, builder, _ := newTestConverter(mfs, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Convert(ctx, "/data/a.dm4")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Convert error = %v, want context.Canceled", err)
	}
	if n := len(builder.Built()); n != 0 {
		t.Errorf("%d commands built after cancellation", n)
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New("", "")
	if c.Binary != DefaultBinary {
		t.Errorf("Binary = %q, want %q", c.Binary, DefaultBinary)
	}
	c.SetLogger(nil)
	if c.Logger == nil {
		t.Error("SetLogger(nil) cleared the logger")
	}
}
