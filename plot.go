package main

import (
	"slices"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// plotLatencies renders one group of bars per operation and one bar per
// engine into a PNG (or any format gonum/plot infers from path).
func plotLatencies(results []BenchResult, path string) error {
	var ops, engines []string
	for _, r := range results {
		if !slices.Contains(ops, r.Operation) {
			ops = append(ops, r.Operation)
		}
		if !slices.Contains(engines, r.Name) {
			engines = append(engines, r.Name)
		}
	}
	if len(ops) == 0 {
		return errors.New("plot: no results")
	}

	p := plot.New()
	p.Title.Text = "Latency per operation"
	p.Y.Label.Text = "ns/op"
	p.Legend.Top = true

	width := vg.Points(14)
	for i, engine := range engines {
		values := make(plotter.Values, len(ops))
		for _, r := range results {
			if r.Name == engine {
				values[slices.Index(ops, r.Operation)] = float64(r.LatencyNs)
			}
		}
		bars, err := plotter.NewBarChart(values, width)
		if err != nil {
			return errors.Wrapf(err, "plot: bars for %s", engine)
		}
		bars.LineStyle.Width = 0
		bars.Color = plotutil.Color(i)
		bars.Offset = width * vg.Length(2*i-len(engines)+1) / 2
		p.Add(bars)
		p.Legend.Add(engine, bars)
	}
	p.NominalX(ops...)

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return errors.Wrap(err, "plot: save")
	}
	return nil
}
