// Package execx abstracts running external programs so that the converter and
// job submission can be tested without the real tools installed.
package execx

import (
	"context"
	"os/exec"
	"strings"
	"sync"
)

// Logger defines the interface for debug logging.
type Logger interface {
	Debugf(format string, args ...interface{})
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debugf(format string, args ...interface{}) {}

// CommandExecutor runs a single prepared command.
type CommandExecutor interface {
	// Run executes the command and returns the combined output (stdout+stderr).
	Run() ([]byte, error)

	// SetDir sets the working directory for the command.
	SetDir(dir string)
}

// CommandBuilder prepares commands bound to a context.
type CommandBuilder interface {
	BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor
}

// RealCommandExecutor wraps exec.Cmd to implement CommandExecutor.
type RealCommandExecutor struct {
	cmd *exec.Cmd
}

// Run executes the command and returns combined output.
func (r *RealCommandExecutor) Run() ([]byte, error) {
	return r.cmd.CombinedOutput()
}

// SetDir sets the working directory.
func (r *RealCommandExecutor) SetDir(dir string) {
	r.cmd.Dir = dir
}

// RealCommandBuilder implements CommandBuilder using exec.CommandContext.
type RealCommandBuilder struct{}

// NewRealCommandBuilder creates a new RealCommandBuilder.
func NewRealCommandBuilder() *RealCommandBuilder {
	return &RealCommandBuilder{}
}

// BuildCommand creates a CommandExecutor for the given command and arguments.
// Cancelling ctx kills the process.
func (b *RealCommandBuilder) BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor {
	return &RealCommandExecutor{cmd: exec.CommandContext(ctx, name, args...)}
}

// Quote renders a command line for logs and dry runs.
func Quote(name string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	for _, a := range append([]string{name}, args...) {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// MockCommandExecutor implements CommandExecutor for testing.
type MockCommandExecutor struct {
	// Output is the output to return from Run.
	Output []byte
	// Err is the error to return from Run.
	Err error
	// OnRun, when set, is called instead of returning Output and Err. It
	// lets tests emulate the files an external tool would write.
	OnRun func(dir string) ([]byte, error)
	// Dir holds the working directory that was set.
	Dir string
	// RunCalled indicates whether Run was called.
	RunCalled bool
}

// Run returns the configured output and error.
func (m *MockCommandExecutor) Run() ([]byte, error) {
	m.RunCalled = true
	if m.OnRun != nil {
		return m.OnRun(m.Dir)
	}
	return m.Output, m.Err
}

// SetDir records the working directory.
func (m *MockCommandExecutor) SetDir(dir string) {
	m.Dir = dir
}

// MockBuiltCommand records details of a built command.
type MockBuiltCommand struct {
	Name string
	Args []string
}

// MockCommandBuilder implements CommandBuilder for testing. It is safe for
// concurrent use.
type MockCommandBuilder struct {
	mu sync.Mutex
	// Commands records all commands that were built.
	Commands []MockBuiltCommand
	// ExecutorFactory allows creating executors dynamically based on command.
	ExecutorFactory func(name string, args []string) *MockCommandExecutor
}

// NewMockCommandBuilder creates a new MockCommandBuilder.
func NewMockCommandBuilder() *MockCommandBuilder {
	return &MockCommandBuilder{}
}

// BuildCommand creates a MockCommandExecutor and records the command details.
func (b *MockCommandBuilder) BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor {
	b.mu.Lock()
	b.Commands = append(b.Commands, MockBuiltCommand{Name: name, Args: args})
	factory := b.ExecutorFactory
	b.mu.Unlock()

	if factory != nil {
		return factory(name, args)
	}
	return &MockCommandExecutor{}
}

// Built returns a copy of the recorded commands.
func (b *MockCommandBuilder) Built() []MockBuiltCommand {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]MockBuiltCommand(nil), b.Commands...)
}

// LastCommand returns the most recently built command, or nil if none.
func (b *MockCommandBuilder) LastCommand() *MockBuiltCommand {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Commands) == 0 {
		return nil
	}
	c := b.Commands[len(b.Commands)-1]
	return &c
}
