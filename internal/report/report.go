// Package report renders an HTML summary of a ledger run.
package report

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/banshee-data/dm4tiff/internal/fsutil"
	"github.com/banshee-data/dm4tiff/internal/ledger"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// Render writes a page with the status breakdown, per-file output mean and
// per-file processing time of run.
func Render(w io.Writer, run ledger.Run, results []ledger.Result) error {
	subtitle := fmt.Sprintf("run=%s root=%s %s", run.ID, run.Root, run.Params)
	if !run.StartedAt.IsZero() {
		subtitle += " started=" + run.StartedAt.UTC().Format(time.RFC3339)
	}

	page := components.NewPage()
	page.PageTitle = "dm4tiff run " + run.ID
	page.AddCharts(
		statusPie(results, subtitle),
		meanBar(results),
		durationBar(results),
	)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// WriteFile renders the report to path atomically.
func WriteFile(fsys fsutil.FileSystem, path string, run ledger.Run, results []ledger.Result) error {
	return fsutil.WriteAtomic(fsys, path, func(w io.Writer) error {
		return Render(w, run, results)
	})
}

func statusPie(results []ledger.Result, subtitle string) *charts.Pie {
	counts := make(map[ledger.Status]int)
	for _, r := range results {
		counts[r.Status]++
	}
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)

	data := make([]opts.PieData, 0, len(statuses))
	for _, s := range statuses {
		data = append(data, opts.PieData{Name: s, Value: counts[ledger.Status(s)]})
	}

	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Files (%d)", len(results)), Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	pie.AddSeries("status", data,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Formatter: "{b}: {c}"}),
	)
	return pie
}

func meanBar(results []ledger.Result) *charts.Bar {
	var (
		names []string
		data  []opts.BarData
	)
	for _, r := range results {
		if r.Status != ledger.StatusOK {
			continue
		}
		names = append(names, filepath.Base(r.Source))
		data = append(data, opts.BarData{Value: r.Mean})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Mean binned intensity"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "file"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "mean"}),
	)
	bar.SetXAxis(names).AddSeries("mean", data)
	return bar
}

func durationBar(results []ledger.Result) *charts.Bar {
	names := make([]string, 0, len(results))
	data := make([]opts.BarData, 0, len(results))
	for _, r := range results {
		names = append(names, filepath.Base(r.Source))
		data = append(data, opts.BarData{Value: r.Duration.Seconds()})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Processing time"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "file"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "seconds"}),
	)
	bar.SetXAxis(names).AddSeries("duration", data,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)
	return bar
}
