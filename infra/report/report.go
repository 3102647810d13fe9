// Package report renders per-algorithm prediction performance as an HTML
// chart.
package report

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/kilianp07/fleetcast/core/model"
)

// PerformanceChart builds a bar chart with average, minimum and maximum
// accuracy per algorithm. Algorithms without validated predictions are
// plotted at zero.
func PerformanceChart(title string, stats []model.PerformanceStat) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Algorithm"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Accuracy (%)", Min: 0, Max: 100}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	xAxis := make([]string, 0, len(stats))
	avg := make([]opts.BarData, 0, len(stats))
	lo := make([]opts.BarData, 0, len(stats))
	hi := make([]opts.BarData, 0, len(stats))
	for _, s := range stats {
		xAxis = append(xAxis, fmt.Sprintf("%s (%d)", s.Algorithm, s.Count))
		avg = append(avg, opts.BarData{Value: round2(s.AvgAccuracy)})
		lo = append(lo, opts.BarData{Value: round2(s.MinAccuracy)})
		hi = append(hi, opts.BarData{Value: round2(s.MaxAccuracy)})
	}
	bar.SetXAxis(xAxis).
		AddSeries("Average", avg).
		AddSeries("Min", lo).
		AddSeries("Max", hi)
	return bar
}

// RenderPerformance writes the chart page to w.
func RenderPerformance(w io.Writer, title string, stats []model.PerformanceStat) error {
	if err := PerformanceChart(title, stats).Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
