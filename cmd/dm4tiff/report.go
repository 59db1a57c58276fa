package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/dm4tiff/internal/config"
	"github.com/banshee-data/dm4tiff/internal/fsutil"
	"github.com/banshee-data/dm4tiff/internal/ledger"
	"github.com/banshee-data/dm4tiff/internal/report"
	"github.com/banshee-data/dm4tiff/internal/timeutil"
)

// openLedger opens an existing ledger. Reading commands never create one.
func openLedger(path string) (*ledger.Ledger, error) {
	if !(fsutil.OSFileSystem{}).Exists(path) {
		return nil, fmt.Errorf("ledger %s does not exist", path)
	}
	return ledger.Open(path, timeutil.RealClock{})
}

// runReport renders the charts page for one run of the ledger.
func runReport(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("report", stderr)
	ledgerPath := fs.String("ledger", config.DefaultLedgerPath, "SQLite run ledger")
	runID := fs.String("run", "latest", "Run id to report on")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: dm4tiff report [flags] <out.html>\n\nFlags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return usageErrorf("report takes exactly one output path")
	}

	l, err := openLedger(*ledgerPath)
	if err != nil {
		return err
	}
	defer l.Close()

	id := *runID
	if id == "latest" {
		if id, err = l.LatestRunID(ctx); err != nil {
			return err
		}
	}
	run, err := l.Run(ctx, id)
	if err != nil {
		return err
	}
	results, err := l.Results(ctx, id)
	if err != nil {
		return err
	}

	out := fs.Arg(0)
	if err := report.WriteFile(fsutil.OSFileSystem{}, out, run, results); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s for run %s (%d files)\n", out, run.ID, len(results))
	return nil
}

// runRuns lists the runs in the ledger, newest first.
func runRuns(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("runs", stderr)
	ledgerPath := fs.String("ledger", config.DefaultLedgerPath, "SQLite run ledger")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return usageErrorf("runs takes no arguments")
	}

	l, err := openLedger(*ledgerPath)
	if err != nil {
		return err
	}
	defer l.Close()

	runs, err := l.Runs(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tMODE\tSTARTED\tFILES\tFAILED\tROOT")
	for _, r := range runs {
		files := "-"
		if !r.FinishedAt.IsZero() {
			files = fmt.Sprint(r.Total)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.Mode, r.StartedAt.Format(time.RFC3339), files, r.Failed, r.Root)
	}
	return tw.Flush()
}
