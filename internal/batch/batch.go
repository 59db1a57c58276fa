// Package batch walks a directory tree of .dm4 acquisitions and turns each
// into a cropped and binned TIFF, or submits one scheduler job per file.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/dm4tiff/internal/converter"
	"github.com/banshee-data/dm4tiff/internal/fsutil"
	"github.com/banshee-data/dm4tiff/internal/imaging"
	"github.com/banshee-data/dm4tiff/internal/ledger"
	"github.com/banshee-data/dm4tiff/internal/monitoring"
	"github.com/banshee-data/dm4tiff/internal/preview"
	"github.com/banshee-data/dm4tiff/internal/q2bz"
	"github.com/banshee-data/dm4tiff/internal/security"
	"github.com/banshee-data/dm4tiff/internal/tiffout"
	"github.com/banshee-data/dm4tiff/internal/timeutil"
	"golang.org/x/sync/errgroup"
)

// SourceExt is the extension of the microscope files picked up by Discover.
const SourceExt = ".dm4"

// ErrOutputCollision marks a source whose TIFF name is already taken by
// another source of the same run.
var ErrOutputCollision = errors.New("output name collides with another source")

// Mode selects what happens to each discovered file.
type Mode string

const (
	ModeProcess Mode = "batch"
	ModeSubmit  Mode = "submit"
)

// Converter produces a .q2bz container from a .dm4 file.
type Converter interface {
	Convert(ctx context.Context, dm4Path string) (string, error)
}

// Submitter queues a job for one file.
type Submitter interface {
	Submit(ctx context.Context, path string, p imaging.Params) (string, error)
}

// Recorder is the subset of the ledger used by a run.
type Recorder interface {
	StartRun(ctx context.Context, root, mode, params string) (string, error)
	FinishRun(ctx context.Context, runID string, total, failed int) error
	Record(ctx context.Context, r ledger.Result) error
}

// Options configure a run.
type Options struct {
	Root             string
	Params           imaging.Params
	OutputDir        string
	Format           tiffout.Format
	Decode           q2bz.Options
	Workers          int
	Preview          bool
	KeepIntermediate bool
	FixDirectories   bool
	Mode             Mode
}

// FileError is a failure confined to one source file.
type FileError struct {
	Path string
	Kind imaging.Kind
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Outcome is the result for one source file.
type Outcome struct {
	Source    string
	Output    string
	Status    ledger.Status
	Converted bool
	JobID     string
	Header    q2bz.Header
	Stats     imaging.Stats
	Duration  time.Duration
	Err       *FileError
}

// Summary totals a run.
type Summary struct {
	RunID     string
	Renamed   []string
	Outcomes  []Outcome
	Total     int
	Converted int
	Written   int
	Skipped   int
	Submitted int
	Failed    int
}

// Failures returns the per-file errors of the run.
func (s *Summary) Failures() []*FileError {
	var out []*FileError
	for _, o := range s.Outcomes {
		if o.Err != nil {
			out = append(out, o.Err)
		}
	}
	return out
}

// Processor runs batches. Ledger may be nil.
type Processor struct {
	FS        fsutil.FileSystem
	Converter Converter
	Submitter Submitter
	Ledger    Recorder
	Clock     timeutil.Clock
}

// OutputPath is where the TIFF for src is written.
func OutputPath(outDir, src string) string {
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	return filepath.Join(outDir, base+".tiff")
}

// PreviewPath is where the quick-look PNG for src is written.
func PreviewPath(outDir, src string) string {
	return strings.TrimSuffix(OutputPath(outDir, src), ".tiff") + ".png"
}

// Run processes every .dm4 file under opts.Root. Individual file failures are
// recorded in the summary and do not stop the run; the returned error is
// reserved for setup failures and cancellation.
func (p *Processor) Run(ctx context.Context, opts Options) (*Summary, error) {
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	if opts.Mode == "" {
		opts.Mode = ModeProcess
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	summary := &Summary{}
	if opts.FixDirectories {
		renamed, err := RemoveDirectorySpaces(p.FS, opts.Root)
		if err != nil {
			return nil, err
		}
		summary.Renamed = renamed
	}

	files, err := Discover(p.FS, opts.Root)
	if err != nil {
		return nil, err
	}
	summary.Total = len(files)
	monitoring.Logf("Found %d %s files under %s", len(files), SourceExt, opts.Root)
	collisions := findCollisions(files, opts.OutputDir)

	if p.Ledger != nil {
		id, err := p.Ledger.StartRun(ctx, opts.Root, string(opts.Mode), opts.Params.String())
		if err != nil {
			return nil, err
		}
		summary.RunID = id
	}

	outcomes := make([]Outcome, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	var mu sync.Mutex
	for i, path := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var o Outcome
			if err, ok := collisions[i]; ok {
				o = fail(Outcome{Source: path}, err)
			} else if opts.Mode == ModeSubmit {
				o = p.SubmitFile(gctx, path, opts)
			} else {
				o = p.ProcessFile(gctx, path, opts)
			}
			// A cancelled run leaves files unprocessed rather than failed.
			if o.Err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			outcomes[i] = o
			p.record(gctx, summary.RunID, o)

			mu.Lock()
			defer mu.Unlock()
			summary.add(o)
			return nil
		})
	}
	runErr := g.Wait()
	if runErr == nil {
		runErr = ctx.Err()
	}

	for _, o := range outcomes {
		if o.Source != "" {
			summary.Outcomes = append(summary.Outcomes, o)
		}
	}

	if p.Ledger != nil {
		// Finish even when cancelled, so the ledger shows how far the run got.
		if err := p.Ledger.FinishRun(context.WithoutCancel(ctx), summary.RunID, len(summary.Outcomes), summary.Failed); err != nil {
			monitoring.Logf("failed to finish ledger run %s: %v", summary.RunID, err)
		}
	}
	return summary, runErr
}

// findCollisions maps the index of every source whose output path was already
// claimed by an earlier source to the error reported for it. Outputs are flat
// under outDir, so a/x.dm4 and b/x.dm4 both map to <outDir>/x.tiff.
func findCollisions(files []string, outDir string) map[int]error {
	claimed := make(map[string]string, len(files))
	collisions := make(map[int]error)
	for i, path := range files {
		name := security.SanitizeFilename(filepath.Base(path))
		out := OutputPath(outDir, filepath.Join(filepath.Dir(path), name))
		if first, ok := claimed[out]; ok {
			collisions[i] = fmt.Errorf("%w: %s and %s both map to %s", ErrOutputCollision, first, path, out)
			continue
		}
		claimed[out] = path
	}
	return collisions
}

func (p *Processor) clock() timeutil.Clock {
	if p.Clock == nil {
		return timeutil.RealClock{}
	}
	return p.Clock
}

func (s *Summary) add(o Outcome) {
	if o.Converted {
		s.Converted++
	}
	switch o.Status {
	case ledger.StatusOK:
		s.Written++
	case ledger.StatusSkipped:
		s.Skipped++
	case ledger.StatusSubmitted:
		s.Submitted++
	case ledger.StatusFailed:
		s.Failed++
	}
}

func (p *Processor) record(ctx context.Context, runID string, o Outcome) {
	if p.Ledger == nil {
		return
	}
	r := ledger.Result{
		RunID:    runID,
		Source:   o.Source,
		Output:   o.Output,
		Status:   o.Status,
		Width:    o.Header.Width,
		Height:   o.Header.Height,
		OutRows:  o.Stats.Rows,
		OutCols:  o.Stats.Cols,
		Min:      o.Stats.Min,
		Max:      o.Stats.Max,
		Mean:     o.Stats.Mean,
		Std:      o.Stats.Std,
		Duration: o.Duration,
		JobID:    o.JobID,
	}
	if o.Err != nil {
		r.ErrorKind = string(o.Err.Kind)
		r.Error = o.Err.Err.Error()
	}
	if err := p.Ledger.Record(ctx, r); err != nil {
		monitoring.Logf("failed to record %s in ledger: %v", o.Source, err)
	}
}

func fail(o Outcome, err error) Outcome {
	o.Status = ledger.StatusFailed
	o.Err = &FileError{Path: o.Source, Kind: imaging.KindOf(err), Err: err}
	monitoring.Logf("FAILED %s [%s]: %v", o.Source, o.Err.Kind, err)
	return o
}

// prepare renames a source whose file name contains spaces and works out its
// output path. ok is false when the TIFF already exists.
func (p *Processor) prepare(path string, opts Options) (Outcome, bool, error) {
	o := Outcome{Source: path}

	if name := filepath.Base(path); strings.Contains(name, " ") {
		renamed := filepath.Join(filepath.Dir(path), security.SanitizeFilename(name))
		if p.FS.Exists(renamed) {
			return o, false, fmt.Errorf("cannot rename %s: %s already exists", path, renamed)
		}
		if err := p.FS.Rename(path, renamed); err != nil {
			return o, false, fmt.Errorf("failed to rename %s: %w", path, err)
		}
		monitoring.Logf("Renamed file %s to %s", path, renamed)
		o.Source = renamed
	}

	base := filepath.Base(o.Source)
	if err := security.ValidateBaseName(base); err != nil {
		return o, false, err
	}
	o.Output = OutputPath(opts.OutputDir, o.Source)
	if !security.WithinDirectory(o.Output, opts.OutputDir) {
		return o, false, fmt.Errorf("output %s escapes %s", o.Output, opts.OutputDir)
	}

	if p.FS.Exists(o.Output) {
		monitoring.Logf("%s already exists!", o.Output)
		o.Status = ledger.StatusSkipped
		return o, false, nil
	}
	return o, true, nil
}

// ProcessFile converts, decodes, transforms and writes one file.
func (p *Processor) ProcessFile(ctx context.Context, path string, opts Options) Outcome {
	start := p.clock().Now()
	o := p.processFile(ctx, path, opts)
	o.Duration = p.clock().Since(start)
	return o
}

func (p *Processor) processFile(ctx context.Context, path string, opts Options) Outcome {
	o, ok, err := p.prepare(path, opts)
	if err != nil {
		return fail(o, err)
	}
	if !ok {
		return o
	}

	container := converter.Q2BZPath(o.Source)
	if p.FS.Exists(container) {
		monitoring.Logf("%s already exists!", container)
	} else {
		if p.Converter == nil {
			return fail(o, fmt.Errorf("%s is missing and no converter is configured", container))
		}
		monitoring.Logf("Converting %s to .q2bz...", o.Source)
		if container, err = p.Converter.Convert(ctx, o.Source); err != nil {
			return fail(o, err)
		}
		o.Converted = true
	}

	monitoring.Logf("Cropping, binning, and saving %s as .tiff...", container)
	res, err := imaging.DecodeAndTransform(p.FS, container, opts.Params, opts.Decode)
	if err != nil {
		return fail(o, err)
	}
	o.Header = res.Header
	o.Stats = imaging.Summarize(res.Binned)

	if err := tiffout.WriteFile(p.FS, o.Output, res.Binned, opts.Format); err != nil {
		return fail(o, fmt.Errorf("write %s: %w", o.Output, err))
	}

	if opts.Preview {
		png := PreviewPath(opts.OutputDir, o.Source)
		if err := preview.WriteFile(p.FS, png, res.Binned, filepath.Base(o.Output)); err != nil {
			// The TIFF is the product; a missing preview is only logged.
			monitoring.Logf("failed to write preview %s: %v", png, err)
		}
	}

	if !opts.KeepIntermediate {
		if err := p.FS.Remove(container); err != nil {
			monitoring.Logf("failed to remove %s: %v", container, err)
		}
	}

	o.Status = ledger.StatusOK
	monitoring.Debugf("%s -> %s %dx%d mean=%.4g", o.Source, o.Output, o.Stats.Cols, o.Stats.Rows, o.Stats.Mean)
	return o
}

// SubmitFile queues a scheduler job for one file instead of processing it.
func (p *Processor) SubmitFile(ctx context.Context, path string, opts Options) Outcome {
	start := p.clock().Now()
	o := p.submitFile(ctx, path, opts)
	o.Duration = p.clock().Since(start)
	return o
}

func (p *Processor) submitFile(ctx context.Context, path string, opts Options) Outcome {
	o, ok, err := p.prepare(path, opts)
	if err != nil {
		return fail(o, err)
	}
	if !ok {
		return o
	}

	if p.Submitter == nil {
		return fail(o, errors.New("no submitter configured"))
	}
	id, err := p.Submitter.Submit(ctx, o.Source, opts.Params)
	if err != nil {
		return fail(o, err)
	}
	o.JobID = id
	o.Status = ledger.StatusSubmitted
	monitoring.Logf("Submitted %s as %s", o.Source, id)
	return o
}

// Discover returns every file under root with the .dm4 extension, in lexical
// order.
func Discover(fsys fsutil.FileSystem, root string) ([]string, error) {
	var files []string
	err := fsys.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), SourceExt) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", root, err)
	}
	return files, nil
}

// RemoveDirectorySpaces renames every directory below root whose name
// contains a space, replacing spaces with underscores. Renaming a directory
// invalidates the walk, so the tree is rescanned after each rename until a
// full pass finds nothing. root itself is never renamed.
func RemoveDirectorySpaces(fsys fsutil.FileSystem, root string) ([]string, error) {
	root = filepath.Clean(root)
	if strings.Contains(filepath.Base(root), " ") {
		monitoring.Logf("warning: root %s contains spaces and is left as is", root)
	}

	var renamed []string
	for {
		var from string
		err := fsys.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() && path != root && strings.Contains(d.Name(), " ") {
				from = path
				return fs.SkipAll
			}
			return nil
		})
		if err != nil {
			return renamed, fmt.Errorf("scan %s: %w", root, err)
		}
		if from == "" {
			return renamed, nil
		}

		to := filepath.Join(filepath.Dir(from), security.SanitizeFilename(filepath.Base(from)))
		if fsys.Exists(to) {
			return renamed, fmt.Errorf("cannot rename directory %s: %s already exists", from, to)
		}
		if err := fsys.Rename(from, to); err != nil {
			return renamed, fmt.Errorf("rename directory %s: %w", from, err)
		}
		monitoring.Logf("Renamed directory %s to %s", from, to)
		renamed = append(renamed, to)
	}
}
