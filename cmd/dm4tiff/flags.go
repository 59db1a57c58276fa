package main

import (
	"flag"

	"github.com/banshee-data/dm4tiff/internal/batch"
	"github.com/banshee-data/dm4tiff/internal/config"
	"github.com/banshee-data/dm4tiff/internal/converter"
	"github.com/banshee-data/dm4tiff/internal/fsutil"
	"github.com/banshee-data/dm4tiff/internal/ledger"
	"github.com/banshee-data/dm4tiff/internal/monitoring"
	"github.com/banshee-data/dm4tiff/internal/submit"
	"github.com/banshee-data/dm4tiff/internal/tiffout"
	"github.com/banshee-data/dm4tiff/internal/timeutil"
)

// runFlags binds the RunConfig options onto a flag set. Only flags given on
// the command line end up set in the config, so defaults stay in one place.
type runFlags struct {
	converter        string
	workDir          string
	outDir           string
	workers          int
	byteOrder        string
	format           string
	ledger           string
	preview          bool
	keepIntermediate bool
	submitCommand    string
	submitScript     string
	dryRun           bool
	noFixDirs        bool
}

// flagSet selects which optional groups of run flags a subcommand accepts.
type flagSet int

const (
	runFlagsConvert flagSet = iota
	runFlagsBatch
	runFlagsSubmit
)

func addRunFlags(fs *flag.FlagSet, set flagSet) *runFlags {
	f := &runFlags{}
	fs.StringVar(&f.converter, "converter", converter.DefaultBinary, "DM4 to q2bz converter executable")
	fs.StringVar(&f.workDir, "workdir", "", "Directory the converter runs in (default: next to each source)")
	fs.StringVar(&f.outDir, "out", config.DefaultOutputDir, "Output directory for TIFF files")
	fs.IntVar(&f.workers, "workers", config.DefaultWorkers, "Files processed concurrently")
	fs.StringVar(&f.byteOrder, "byte-order", config.DefaultByteOrder, "Sample byte order of q2bz payloads (little or big)")
	fs.StringVar(&f.format, "format", string(tiffout.Float32), "TIFF sample format (float32 or gray16)")
	fs.BoolVar(&f.preview, "preview", false, "Also write a PNG heatmap next to each TIFF")
	fs.BoolVar(&f.keepIntermediate, "keep-intermediate", true, "Keep the .q2bz produced by the converter")
	if set == runFlagsConvert {
		return f
	}
	fs.StringVar(&f.ledger, "ledger", config.DefaultLedgerPath, "SQLite run ledger (empty to disable)")
	fs.BoolVar(&f.noFixDirs, "no-fix-dirs", false, "Do not rename directories containing spaces")
	if set == runFlagsSubmit {
		fs.StringVar(&f.submitCommand, "qsub", submit.DefaultCommand, "Scheduler submit command")
		fs.StringVar(&f.submitScript, "script", submit.DefaultScript, "Job script passed to the submit command")
		fs.BoolVar(&f.dryRun, "dry-run", false, "Print submit commands instead of running them")
	}
	return f
}

// config returns a RunConfig holding only the flags that were set on fs.
func (f *runFlags) config(fs *flag.FlagSet) (*config.RunConfig, error) {
	cfg := &config.RunConfig{}
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "converter":
			cfg.ConverterBinary = &f.converter
		case "workdir":
			cfg.ConverterWorkDir = &f.workDir
		case "out":
			cfg.OutputDir = &f.outDir
		case "workers":
			cfg.Workers = &f.workers
		case "byte-order":
			cfg.ByteOrder = &f.byteOrder
		case "format":
			cfg.TIFFFormat = &f.format
		case "ledger":
			cfg.LedgerPath = &f.ledger
		case "preview":
			cfg.Preview = &f.preview
		case "keep-intermediate":
			cfg.KeepIntermediate = &f.keepIntermediate
		case "qsub":
			cfg.SubmitCommand = &f.submitCommand
		case "script":
			cfg.SubmitScript = &f.submitScript
		case "dry-run":
			cfg.DryRun = &f.dryRun
		case "no-fix-dirs":
			cfg.SkipDirectoryFix = &f.noFixDirs
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, usageErrorf("%v", err)
	}
	return cfg, nil
}

// newProcessor wires the converter, submitter and ledger described by cfg.
// The returned close func must always be called.
func newProcessor(cfg *config.RunConfig) (*batch.Processor, func(), error) {
	conv := converter.New(cfg.GetConverterBinary(), cfg.GetConverterWorkDir())
	conv.SetLogger(monitoring.DebugLogger{})

	sub := submit.New(cfg.GetSubmitCommand(), cfg.GetSubmitScript(), cfg.GetDryRun())
	sub.SetLogger(monitoring.DebugLogger{})

	p := &batch.Processor{
		FS:        fsutil.OSFileSystem{},
		Converter: conv,
		Submitter: sub,
		Clock:     timeutil.RealClock{},
	}

	closeFn := func() {}
	if path := cfg.GetLedgerPath(); path != "" {
		l, err := ledger.Open(path, timeutil.RealClock{})
		if err != nil {
			return nil, nil, err
		}
		p.Ledger = l
		closeFn = func() {
			if err := l.Close(); err != nil {
				monitoring.Logf("failed to close ledger: %v", err)
			}
		}
	}
	return p, closeFn, nil
}

// options turns cfg into per-run batch options.
func options(cfg *config.RunConfig) batch.Options {
	return batch.Options{
		OutputDir:        cfg.GetOutputDir(),
		Format:           cfg.GetTIFFFormat(),
		Decode:           cfg.GetDecodeOptions(),
		Workers:          cfg.GetWorkers(),
		Preview:          cfg.GetPreview(),
		KeepIntermediate: cfg.GetKeepIntermediate(),
		FixDirectories:   !cfg.GetSkipDirectoryFix(),
	}
}
