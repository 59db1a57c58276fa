// Command dm4tiff turns electron microscope .dm4 acquisitions into cropped and
// binned TIFF images, either locally or by submitting one cluster job per file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/dm4tiff/internal/monitoring"
	"github.com/banshee-data/dm4tiff/internal/version"
)

// errUsage marks errors caused by bad invocation; they exit with status 2.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches to a subcommand and maps its error onto an exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("dm4tiff", flag.ContinueOnError)
	global.SetOutput(stderr)
	quiet := global.Bool("quiet", false, "Suppress progress logging")
	verbose := global.Bool("v", false, "Enable debug logging")
	global.Usage = func() { printUsage(stderr) }
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	log.SetOutput(stderr)
	switch {
	case *quiet:
		monitoring.SetLogger(nil)
	default:
		monitoring.SetLogger(log.New(stderr, "", log.LstdFlags).Printf)
	}
	monitoring.SetVerbose(*verbose)

	if global.NArg() < 1 {
		printUsage(stderr)
		return 2
	}

	command := global.Arg(0)
	rest := global.Args()[1:]

	var err error
	switch command {
	case "convert":
		err = runConvert(ctx, rest, stdout, stderr)
	case "batch":
		err = runBatch(ctx, rest, stdout, stderr, false)
	case "submit":
		err = runBatch(ctx, rest, stdout, stderr, true)
	case "bincrop":
		err = runBinCrop(rest, stdout, stderr)
	case "inspect":
		err = runInspect(rest, stdout, stderr)
	case "synth":
		err = runSynth(rest, stdout, stderr)
	case "report":
		err = runReport(ctx, rest, stdout, stderr)
	case "runs":
		err = runRuns(ctx, rest, stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "dm4tiff version %s\n", version.String())
	case "help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		printUsage(stderr)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `dm4tiff - crop and bin .dm4 micrographs into TIFF images

Usage: dm4tiff [-quiet] [-v] <command> [options] [arguments]

Commands:
  convert    Convert one .dm4 file:       convert [flags] <file.dm4> x1 y1 x2 y2 bin
  batch      Convert every .dm4 file:     batch [flags] <root>
  submit     Queue one job per .dm4 file: submit [flags] <root>
  bincrop    Crop and bin a container:    bincrop [flags] <file.q2bz> x1 y1 x2 y2 bin <out.tiff>
  inspect    Show a container's header:   inspect [flags] <file.q2bz>
  synth      Write a ramp test container: synth [flags] <out.q2bz> width height
  report     Render an HTML run report:   report [flags] <out.html>
  runs       List runs in the ledger:     runs [flags]
  version    Show dm4tiff version
  help       Show this help message

batch and submit read x1, y1, x2, y2 and bin from the first token of each of
the five lines of parameters.txt (see -params). Directories below <root> whose
names contain spaces are renamed with underscores first, as are files.

Output:
  TIFFs are written to <out>/<name>.tiff (default ./tiff). Files whose TIFF
  already exists are skipped, so an interrupted batch can simply be rerun.

Examples:
  dm4tiff batch /data/session1
  dm4tiff batch -workers 4 -format gray16 -preview /data/session1
  dm4tiff submit -dry-run /data/session1
  dm4tiff bincrop frame.q2bz 100 100 3940 3940 4 frame.tiff
  dm4tiff report -run latest run.html

Run 'dm4tiff <command> -h' for the flags of a command.
`)
}

// newFlagSet returns a flag set that reports errors instead of exiting.
func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func usageErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}
