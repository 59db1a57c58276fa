package execx

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRealCommandBuilder_BuildCommand(t *testing.T) {
	builder := NewRealCommandBuilder()

	cmd := builder.BuildCommand(context.Background(), "echo", "arg1", "arg2")
	output, err := cmd.Run()
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if got := strings.TrimSpace(string(output)); got != "arg1 arg2" {
		t.Errorf("Expected 'arg1 arg2', got: %s", got)
	}
}

func TestRealCommandExecutor_SetDir(t *testing.T) {
	dir := t.TempDir()
	cmd := NewRealCommandBuilder().BuildCommand(context.Background(), "pwd")
	cmd.SetDir(dir)

	output, err := cmd.Run()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(string(output)), strings.TrimPrefix(dir, "/private")) {
		t.Errorf("pwd = %q, want %q", output, dir)
	}
}

func TestRealCommandExecutor_Run_Error(t *testing.T) {
	cmd := NewRealCommandBuilder().BuildCommand(context.Background(), "sh", "-c", "exit 1")
	if _, err := cmd.Run(); err == nil {
		t.Error("Expected error for failing command")
	}
}

func TestRealCommandExecutor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	cmd := NewRealCommandBuilder().BuildCommand(ctx, "sleep", "5")
	start := time.Now()
	if _, err := cmd.Run(); err == nil {
		t.Error("Expected error for cancelled command")
	}
	if time.Since(start) > 3*time.Second {
		t.Error("cancelled command was not killed")
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"qsub", []string{"submit.sh", "/data/a.dm4", "0"}, "qsub submit.sh /data/a.dm4 0"},
		{"convertDM3ToQuoc", []string{"Hour 00/a.dm4"}, "convertDM3ToQuoc 'Hour 00/a.dm4'"},
		{"echo", []string{""}, "echo ''"},
		{"echo", []string{"it's"}, `echo 'it'\''s'`},
	}
	for _, tt := range tests {
		if got := Quote(tt.name, tt.args...); got != tt.want {
			t.Errorf("Quote(%q, %q) = %q, want %q", tt.name, tt.args, got, tt.want)
		}
	}
}

func TestMockCommandBuilder(t *testing.T) {
	builder := NewMockCommandBuilder()
	builder.ExecutorFactory = func(name string, args []string) *MockCommandExecutor {
		if name == "fail" {
			return &MockCommandExecutor{Err: errors.New("boom")}
		}
		return &MockCommandExecutor{Output: []byte("ok")}
	}

	out, err := builder.BuildCommand(context.Background(), "tool", "a", "b").Run()
	if err != nil || string(out) != "ok" {
		t.Errorf("Run() = %q, %v", out, err)
	}
	if _, err := builder.BuildCommand(context.Background(), "fail").Run(); err == nil {
		t.Error("Expected error from factory executor")
	}

	built := builder.Built()
	if len(built) != 2 {
		t.Fatalf("Expected 2 commands, got %d", len(built))
	}
	if built[0].Name != "tool" || strings.Join(built[0].Args, " ") != "a b" {
		t.Errorf("Unexpected first command: %+v", built[0])
	}
	if last := builder.LastCommand(); last == nil || last.Name != "fail" {
		t.Errorf("LastCommand() = %+v", last)
	}
}

func TestMockCommandExecutor_OnRun(t *testing.T) {
	mock := &MockCommandExecutor{
		OnRun: func(dir string) ([]byte, error) {
			return []byte("ran in " + dir), nil
		},
	}
	mock.SetDir("/work")

	out, err := mock.Run()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if string(out) != "ran in /work" {
		t.Errorf("Run() = %q", out)
	}
	if !mock.RunCalled {
		t.Error("Expected RunCalled to be true")
	}
}
