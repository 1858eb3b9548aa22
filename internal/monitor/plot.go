package monitor

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/meshlayers/internal/meshmap"
	"github.com/banshee-data/meshlayers/internal/monitoring"
)

// WriteHistogramPNG saves a histogram of a layer's costs to path, with the
// lethal threshold drawn as a vertical line.
func WriteHistogramPNG(path string, mm *meshmap.MeshMap, name string) error {
	info, err := mm.LayerInfo(name)
	if err != nil {
		return fmt.Errorf("layer %q: %w", name, err)
	}
	costs, err := mm.LayerCosts(name)
	if err != nil {
		return fmt.Errorf("layer %q: %w", name, err)
	}
	x := finiteValues(costs)
	if len(x) == 0 {
		return fmt.Errorf("layer %q has no values to plot", name)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Layer %s - %d vertices, %d lethal", name, info.Vertices, info.Lethals)
	p.X.Label.Text = "Cost"
	p.Y.Label.Text = "Vertices"

	hist, err := plotter.NewHist(plotter.Values(x), defaultHistogramBins)
	if err != nil {
		return fmt.Errorf("failed to build histogram: %w", err)
	}
	p.Add(hist)

	maxCount := 0.0
	for _, b := range hist.Bins {
		maxCount = max(maxCount, b.Weight)
	}
	threshold, err := plotter.NewLine(plotter.XYs{
		{X: info.Threshold, Y: 0},
		{X: info.Threshold, Y: maxCount},
	})
	if err != nil {
		return fmt.Errorf("failed to build threshold line: %w", err)
	}
	threshold.Width = vg.Points(1)
	threshold.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(threshold)
	p.Legend.Add(fmt.Sprintf("threshold %g", info.Threshold), threshold)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create plot directory: %w", err)
	}
	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	monitoring.Logf("[Plot] Wrote histogram of layer %q to %s", name, path)
	return nil
}
