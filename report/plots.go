// Package report renders the exploratory charts of a training run.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// File names written by Render.
const (
	AgeHistogramFile       = "age_distribution.png"
	CorrelationHeatmapFile = "correlation_heatmap.png"
)

const kdePoints = 200

// AgeHistogram plots the distribution of ages with a Gaussian kernel density
// estimate scaled to the bar counts. NaN ages are skipped.
func AgeHistogram(ages []float64, bins int) (*plot.Plot, error) {
	values := make(plotter.Values, 0, len(ages))
	for _, a := range ages {
		if !math.IsNaN(a) {
			values = append(values, a)
		}
	}
	if len(values) < 2 {
		return nil, errors.New("age histogram needs at least two values")
	}
	if bins <= 0 {
		bins = 30
	}

	p := plot.New()
	p.Title.Text = "Age Distribution"
	p.X.Label.Text = "Age"
	p.Y.Label.Text = "Frequency"

	hist, err := plotter.NewHist(values, bins)
	if err != nil {
		return nil, err
	}
	hist.FillColor = color.RGBA{R: 76, G: 114, B: 176, A: 200}
	p.Add(hist)

	if kde := densityLine(values, hist.Width); kde != nil {
		line, err := plotter.NewLine(kde)
		if err != nil {
			return nil, err
		}
		line.Color = color.RGBA{R: 31, G: 58, B: 104, A: 255}
		line.Width = vg.Points(2)
		p.Add(line)
	}
	return p, nil
}

// densityLine evaluates a Gaussian KDE with Scott's bandwidth and scales it
// by n*binWidth so it overlays a count histogram. It returns nil when the
// values have no spread.
func densityLine(values []float64, binWidth float64) plotter.XYs {
	std := stat.StdDev(values, nil)
	n := float64(len(values))
	bw := std * math.Pow(n, -1.0/5)
	if bw <= 0 || math.IsNaN(bw) {
		return nil
	}
	lo, hi := floats.Min(values)-3*bw, floats.Max(values)+3*bw
	xs := make([]float64, kdePoints)
	floats.Span(xs, lo, hi)

	kernel := distuv.Normal{Mu: 0, Sigma: bw}
	pts := make(plotter.XYs, kdePoints)
	for i, x := range xs {
		var density float64
		for _, v := range values {
			density += kernel.Prob(x - v)
		}
		// The pdf is density/n; counts per bin are pdf*n*binWidth.
		pts[i].X = x
		pts[i].Y = density * binWidth
	}
	return pts
}

// correlationGrid adapts a square correlation matrix to plotter.GridXYZ.
// Row 0 is drawn at the top.
type correlationGrid struct {
	m [][]float64
}

func (g correlationGrid) Dims() (c, r int)   { return len(g.m), len(g.m) }
func (g correlationGrid) Z(c, r int) float64 { return g.m[len(g.m)-1-r][c] }
func (g correlationGrid) X(c int) float64    { return float64(c) }
func (g correlationGrid) Y(r int) float64    { return float64(r) }

// CorrelationHeatmap draws the matrix on a diverging blue-red scale fixed
// to [-1, 1], annotating every cell with its value to two decimals.
func CorrelationHeatmap(names []string, matrix [][]float64) (*plot.Plot, error) {
	n := len(names)
	if n == 0 || len(matrix) != n {
		return nil, fmt.Errorf("correlation heatmap: %d names for %d rows", n, len(matrix))
	}
	for i, row := range matrix {
		if len(row) != n {
			return nil, fmt.Errorf("correlation heatmap: row %d has %d columns, want %d", i, len(row), n)
		}
	}

	cmap := moreland.SmoothBlueRed()
	cmap.SetMin(-1)
	cmap.SetMax(1)

	grid := correlationGrid{m: matrix}
	hm := plotter.NewHeatMap(grid, cmap.Palette(255))
	hm.Min, hm.Max = -1, 1
	hm.NaN = color.Gray{Y: 220}

	p := plot.New()
	p.Title.Text = "Correlation Heatmap"
	p.Add(hm)

	var labels plotter.XYLabels
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			z := grid.Z(c, r)
			text := "nan"
			if !math.IsNaN(z) {
				text = fmt.Sprintf("%.2f", z)
			}
			labels.XYs = append(labels.XYs, plotter.XY{X: float64(c), Y: float64(r)})
			labels.Labels = append(labels.Labels, text)
		}
	}
	annotations, err := plotter.NewLabels(labels)
	if err != nil {
		return nil, err
	}
	for i := range annotations.TextStyle {
		annotations.TextStyle[i].Font.Size = vg.Points(6)
		annotations.TextStyle[i].XAlign = -0.5
		annotations.TextStyle[i].YAlign = -0.5
	}
	p.Add(annotations)

	xTicks := make([]plot.Tick, n)
	yTicks := make([]plot.Tick, n)
	for i, name := range names {
		xTicks[i] = plot.Tick{Value: float64(i), Label: name}
		yTicks[i] = plot.Tick{Value: float64(n - 1 - i), Label: name}
	}
	p.X.Tick.Marker = plot.ConstantTicks(xTicks)
	p.Y.Tick.Marker = plot.ConstantTicks(yTicks)
	p.X.Tick.Label.Rotation = math.Pi / 2
	p.X.Tick.Label.XAlign = -1
	p.X.Tick.Label.YAlign = -0.5
	p.X.Min, p.X.Max = -0.5, float64(n)-0.5
	p.Y.Min, p.Y.Max = -0.5, float64(n)-0.5
	return p, nil
}

// Render writes both charts into dir and returns their paths.
func Render(dir string, ages []float64, names []string, matrix [][]float64) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	hist, err := AgeHistogram(ages, 30)
	if err != nil {
		return nil, err
	}
	histPath := filepath.Join(dir, AgeHistogramFile)
	if err := hist.Save(10*vg.Inch, 6*vg.Inch, histPath); err != nil {
		return nil, fmt.Errorf("save %s: %w", histPath, err)
	}

	heat, err := CorrelationHeatmap(names, matrix)
	if err != nil {
		return nil, err
	}
	heatPath := filepath.Join(dir, CorrelationHeatmapFile)
	if err := heat.Save(12*vg.Inch, 8*vg.Inch, heatPath); err != nil {
		return nil, fmt.Errorf("save %s: %w", heatPath, err)
	}
	return []string{histPath, heatPath}, nil
}
