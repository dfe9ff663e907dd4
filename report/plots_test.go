package report

import (
	"bytes"
	"math"
	"os"
	"testing"
)

func TestAgeHistogram(t *testing.T) {
	ages := []float64{3, 18, 25, 25, 40, math.NaN(), 61, 67, 80, 82}
	p, err := AgeHistogram(ages, 5)
	if err != nil {
		t.Fatalf("histogram: %v", err)
	}
	if p.Title.Text != "Age Distribution" || p.X.Label.Text != "Age" || p.Y.Label.Text != "Frequency" {
		t.Errorf("unexpected labels: %q %q %q", p.Title.Text, p.X.Label.Text, p.Y.Label.Text)
	}

	if _, err := AgeHistogram([]float64{math.NaN(), 4}, 5); err == nil {
		t.Error("expected an error for a single usable age")
	}
}

func TestDensityLineScalesToCounts(t *testing.T) {
	values := []float64{10, 20, 20, 30, 30, 30, 40, 40, 50}
	binWidth := 5.0
	pts := densityLine(values, binWidth)
	if len(pts) != kdePoints {
		t.Fatalf("got %d points", len(pts))
	}
	// The area under the curve approximates n*binWidth.
	var area float64
	for i := 1; i < len(pts); i++ {
		area += (pts[i].X - pts[i-1].X) * (pts[i].Y + pts[i-1].Y) / 2
	}
	want := float64(len(values)) * binWidth
	if math.Abs(area-want)/want > 0.02 {
		t.Errorf("area = %f, want about %f", area, want)
	}

	if densityLine([]float64{7, 7, 7}, 1) != nil {
		t.Error("constant values should give no density line")
	}
}

func TestCorrelationHeatmapValidation(t *testing.T) {
	if _, err := CorrelationHeatmap([]string{"a", "b"}, [][]float64{{1, 0}}); err == nil {
		t.Error("expected an error for a short matrix")
	}
	if _, err := CorrelationHeatmap([]string{"a", "b"}, [][]float64{{1, 0}, {0}}); err == nil {
		t.Error("expected an error for a ragged matrix")
	}
}

func TestCorrelationGridOrientation(t *testing.T) {
	g := correlationGrid{m: [][]float64{
		{1, 0.5},
		{0.5, -1},
	}}
	c, r := g.Dims()
	if c != 2 || r != 2 {
		t.Fatalf("dims = %d,%d", c, r)
	}
	// Grid row 1 is the top of the plot and holds matrix row 0.
	if g.Z(0, 1) != 1 || g.Z(1, 0) != -1 {
		t.Errorf("unexpected orientation: top-left %v bottom-right %v", g.Z(0, 1), g.Z(1, 0))
	}
}

func TestRender(t *testing.T) {
	dir := t.TempDir()
	ages := []float64{5, 12, 30, 33, 47, 52, 58, 64, 71, 79, 83}
	names := []string{"age", "bmi", "stroke"}
	matrix := [][]float64{
		{1, 0.3, 0.25},
		{0.3, 1, math.NaN()},
		{0.25, math.NaN(), 1},
	}
	paths, err := Render(dir, ages, names, matrix)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("got %d paths", len(paths))
	}
	pngMagic := []byte("\x89PNG")
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if !bytes.HasPrefix(data, pngMagic) {
			t.Errorf("%s is not a PNG", path)
		}
	}
}
