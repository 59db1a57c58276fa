// Package submit hands per-file conversion jobs to a batch scheduler.
package submit

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/banshee-data/dm4tiff/internal/execx"
	"github.com/banshee-data/dm4tiff/internal/imaging"
)

// Defaults match a PBS/Torque style cluster.
const (
	DefaultCommand = "qsub"
	DefaultScript  = "submit.sh"
)

// Submitter runs `<Command> <Script> <file> x1 y1 x2 y2 bin` once per file.
type Submitter struct {
	Command string
	Script  string
	DryRun  bool
	Builder execx.CommandBuilder
	Logger  execx.Logger
}

// New returns a Submitter using the real process runner.
func New(command, script string, dryRun bool) *Submitter {
	if command == "" {
		command = DefaultCommand
	}
	if script == "" {
		script = DefaultScript
	}
	return &Submitter{
		Command: command,
		Script:  script,
		DryRun:  dryRun,
		Builder: execx.NewRealCommandBuilder(),
		Logger:  execx.NopLogger{},
	}
}

// SetLogger sets the debug logger.
func (s *Submitter) SetLogger(logger execx.Logger) {
	if logger != nil {
		s.Logger = logger
	}
}

// Args returns the scheduler arguments for one file.
func (s *Submitter) Args(path string, p imaging.Params) []string {
	return []string{
		s.Script,
		path,
		strconv.Itoa(p.Rect.X1),
		strconv.Itoa(p.Rect.Y1),
		strconv.Itoa(p.Rect.X2),
		strconv.Itoa(p.Rect.Y2),
		strconv.Itoa(p.Bin),
	}
}

// jobIDPattern matches the leading job identifier qsub prints, such as
// "12345.headnode" or "Your job 12345 (...) has been submitted".
var jobIDPattern = regexp.MustCompile(`\b(\d+(?:\.[\w.-]+)?)\b`)

// Submit queues one job for path and returns the scheduler's job id. In dry-run
// mode nothing is executed and the id is the command line that would have run.
// The job receives an absolute path: scheduled jobs start in the user's home
// directory, not the submitting one.
func (s *Submitter) Submit(ctx context.Context, path string, p imaging.Params) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	args := s.Args(abs, p)
	line := execx.Quote(s.Command, args...)
	if s.DryRun {
		return "[DRY-RUN] " + line, nil
	}

	s.Logger.Debugf("Executing: %s", line)
	output, err := s.Builder.BuildCommand(ctx, s.Command, args...).Run()
	if err != nil {
		s.Logger.Debugf("Command failed: %v, output: %s", err, output)
		return "", fmt.Errorf("%s: %w: %s", line, err, strings.TrimSpace(string(output)))
	}
	return ParseJobID(string(output)), nil
}

// ParseJobID extracts the job id from scheduler output, falling back to the
// trimmed output when no id is recognised.
func ParseJobID(output string) string {
	out := strings.TrimSpace(output)
	if m := jobIDPattern.FindStringSubmatch(out); m != nil {
		return m[1]
	}
	return out
}
