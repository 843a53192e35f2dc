package stats

import (
	"fmt"
	"image/color"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"evopattern/internal/model"
)

const (
	patternPlotWidth  = 10 * vg.Inch
	patternPlotHeight = 4 * vg.Inch
)

var (
	seriesLineColor = color.NRGBA{R: 31, G: 119, B: 180, A: 255}
	patternSpanFill = color.NRGBA{R: 255, G: 127, B: 14, A: 80}
)

// PlotDetectedPatterns draws series as a line and shades every pattern window
// over the full value range. The image format follows the extension of
// outPath.
func PlotDetectedPatterns(series []float64, patterns []model.Window, title, outPath string) error {
	if len(series) == 0 {
		return fmt.Errorf("plot %s: series is empty", outPath)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Index"
	p.Y.Label.Text = "Value"

	lo, hi := floats.Min(series), floats.Max(series)
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}

	for _, w := range patterns {
		if !w.Valid(len(series)) {
			continue
		}
		span, err := plotter.NewPolygon(plotter.XYs{
			{X: float64(w.Start), Y: lo},
			{X: float64(w.End), Y: lo},
			{X: float64(w.End), Y: hi},
			{X: float64(w.Start), Y: hi},
		})
		if err != nil {
			return err
		}
		span.Color = patternSpanFill
		span.LineStyle.Width = 0
		p.Add(span)
	}

	pts := make(plotter.XYs, len(series))
	for i, v := range series {
		pts[i].X = float64(i)
		pts[i].Y = v
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = seriesLineColor
	p.Add(line)
	p.Legend.Add("series", line)
	p.Legend.Top = true

	return p.Save(patternPlotWidth, patternPlotHeight, outPath)
}
