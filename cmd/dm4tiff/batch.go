package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/banshee-data/dm4tiff/internal/batch"
	"github.com/banshee-data/dm4tiff/internal/config"
	"github.com/banshee-data/dm4tiff/internal/fsutil"
	"github.com/banshee-data/dm4tiff/internal/ledger"
)

// errFilesFailed is returned when a run completed but some files failed.
var errFilesFailed = errors.New("some files failed")

// runBatch handles both "batch" and "submit": the two differ only in what is
// done per file.
func runBatch(ctx context.Context, args []string, stdout, stderr io.Writer, submitMode bool) error {
	name := "batch"
	if submitMode {
		name = "submit"
	}
	fs := newFlagSet(name, stderr)
	paramsPath := fs.String("params", config.DefaultParametersPath, "Parameters file (x1, y1, x2, y2, bin, one per line)")
	set := runFlagsBatch
	if submitMode {
		set = runFlagsSubmit
	}
	rf := addRunFlags(fs, set)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: dm4tiff %s [flags] <root>\n\nFlags:\n", name)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return usageErrorf("%s takes exactly one root directory", name)
	}

	cfg, err := rf.config(fs)
	if err != nil {
		return err
	}
	params, err := config.LoadParameters(fsutil.OSFileSystem{}, *paramsPath)
	if err != nil {
		return err
	}

	p, closeLedger, err := newProcessor(cfg)
	if err != nil {
		return err
	}
	defer closeLedger()

	opts := options(cfg)
	opts.Root = fs.Arg(0)
	opts.Params = params
	if submitMode {
		opts.Mode = batch.ModeSubmit
	}

	summary, runErr := p.Run(ctx, opts)
	if summary != nil {
		printSummary(stdout, summary)
	}
	if runErr != nil {
		return runErr
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%w: %d of %d", errFilesFailed, summary.Failed, summary.Total)
	}
	return nil
}

func printSummary(w io.Writer, s *batch.Summary) {
	for _, path := range s.Renamed {
		fmt.Fprintf(w, "renamed   %s\n", path)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, o := range s.Outcomes {
		detail := o.Output
		switch {
		case o.Err != nil:
			detail = fmt.Sprintf("[%s] %v", o.Err.Kind, o.Err.Err)
		case o.Status == ledger.StatusSubmitted:
			detail = o.JobID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", o.Status, o.Source, detail)
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%d files: %d written, %d skipped, %d submitted, %d failed (%d converted)\n",
		s.Total, s.Written, s.Skipped, s.Submitted, s.Failed, s.Converted)
	if s.RunID != "" {
		fmt.Fprintf(w, "run %s\n", s.RunID)
	}
}

// runConvert processes a single .dm4 file with parameters from the command
// line instead of a parameters file.
func runConvert(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("convert", stderr)
	rf := addRunFlags(fs, runFlagsConvert)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: dm4tiff convert [flags] <file.dm4> x1 y1 x2 y2 bin\n\nFlags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 6 {
		fs.Usage()
		return usageErrorf("convert takes a file and five parameters")
	}

	cfg, err := rf.config(fs)
	if err != nil {
		return err
	}
	params, err := config.ParsePositional(fs.Args()[1:])
	if err != nil {
		return usageErrorf("%v", err)
	}
	// Single conversions are not recorded.
	noLedger := ""
	cfg.LedgerPath = &noLedger

	p, closeLedger, err := newProcessor(cfg)
	if err != nil {
		return err
	}
	defer closeLedger()

	opts := options(cfg)
	opts.Params = params

	o := p.ProcessFile(ctx, fs.Arg(0), opts)
	if o.Err != nil {
		return o.Err
	}
	fmt.Fprintf(stdout, "%s\t%s\n", o.Status, o.Output)
	return nil
}
