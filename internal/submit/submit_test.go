package submit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/dm4tiff/internal/bincrop"
	"github.com/banshee-data/dm4tiff/internal/execx"
	"github.com/banshee-data/dm4tiff/internal/imaging"
	"github.com/google/go-cmp/cmp"
)

var params = imaging.Params{Rect: bincrop.Rect{X1: 100, Y1: 200, X2: 3940, Y2: 3912}, Bin: 4}

func newTestSubmitter(dryRun bool) (*Submitter, *execx.MockCommandBuilder) {
	builder := execx.NewMockCommandBuilder()
	s := New("", "", dryRun)
	s.Builder = builder
	return s, builder
}

func TestSubmit_BuildsQsubCommand(t *testing.T) {
	s, builder := newTestSubmitter(false)
	builder.ExecutorFactory = func(string, []string) *execx.MockCommandExecutor {
		return &execx.MockCommandExecutor{Output: []byte("4711.headnode\n")}
	}

	id, err := s.Submit(context.Background(), "/data/Hour_00/a.dm4", params)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "4711.headnode" {
		t.Errorf("job id = %q, want 4711.headnode", id)
	}

	last := builder.LastCommand()
	if last == nil {
		t.Fatal("no command built")
	}
	if last.Name != "qsub" {
		t.Errorf("command = %q, want qsub", last.Name)
	}
	want := []string{"submit.sh", "/data/Hour_00/a.dm4", "100", "200", "3940", "3912", "4"}
	if diff := cmp.Diff(want, last.Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmit_RelativePathIsMadeAbsolute(t *testing.T) {
	t.Chdir(t.TempDir())
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	s, builder := newTestSubmitter(false)
	builder.ExecutorFactory = func(string, []string) *execx.MockCommandExecutor {
		return &execx.MockCommandExecutor{Output: []byte("12.headnode\n")}
	}

	if _, err := s.Submit(context.Background(), filepath.Join("session", "a.dm4"), params); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got, want := builder.LastCommand().Args[1], filepath.Join(cwd, "session", "a.dm4"); got != want {
		t.Errorf("job path = %q, want %q", got, want)
	}
}

func TestSubmit_DryRun(t *testing.T) {
	s, builder := newTestSubmitter(true)

	id, err := s.Submit(context.Background(), "/data/a.dm4", params)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if want := "[DRY-RUN] qsub submit.sh /data/a.dm4 100 200 3940 3912 4"; id != want {
		t.Errorf("dry run = %q, want %q", id, want)
	}
	if n := len(builder.Built()); n != 0 {
		t.Errorf("dry run built %d commands", n)
	}
}

func TestSubmit_Failure(t *testing.T) {
	s, builder := newTestSubmitter(false)
	builder.ExecutorFactory = func(string, []string) *execx.MockCommandExecutor {
		return &execx.MockCommandExecutor{Output: []byte("qsub: queue full"), Err: errors.New("exit status 2")}
	}

	_, err := s.Submit(context.Background(), "/data/a.dm4", params)
	if err == nil || !strings.Contains(err.Error(), "queue full") {
		t.Errorf("Submit error = %v, want scheduler output in message", err)
	}
}

func TestSubmit_InvalidParams(t *testing.T) {
	s, builder := newTestSubmitter(false)

	_, err := s.Submit(context.Background(), "/data/a.dm4", imaging.Params{Rect: params.Rect, Bin: 0})
	if !errors.Is(err, imaging.ErrInvalidParameter) {
		t.Errorf("Submit error = %v, want ErrInvalidParameter", err)
	}
	if n := len(builder.Built()); n != 0 {
		t.Errorf("invalid params built %d commands", n)
	}
}

func TestParseJobID(t *testing.T) {
	tests := []struct {
		output string
		want   string
	}{
		{"4711.headnode\n", "4711.headnode"},
		{`Your job 998 ("submit.sh") has been submitted`, "998"},
		{"Submitted batch job 31337", "31337"},
		{"queued", "queued"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ParseJobID(tt.output); got != tt.want {
			t.Errorf("ParseJobID(%q) = %q, want %q", tt.output, got, tt.want)
		}
	}
}
